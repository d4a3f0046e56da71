package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-intel/internal/config"
	"github.com/sells-group/contact-intel/internal/discovery"
	"github.com/sells-group/contact-intel/internal/learning"
	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/monitoring"
	"github.com/sells-group/contact-intel/internal/pattern"
	"github.com/sells-group/contact-intel/internal/scheduler"
	"github.com/sells-group/contact-intel/internal/validation"
)

func newTestEnv(t *testing.T) *intelEnv {
	t.Helper()

	// The metrics handler reads the global config.
	cfg = &config.Config{}
	cfg.Monitoring.LookbackWindowHours = 24

	store, err := pattern.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	require.NoError(t, store.Migrate(context.Background()))

	engine, err := discovery.NewEngine(store, nil, discovery.Config{})
	require.NoError(t, err)
	validator := validation.NewValidator(store)
	manager := learning.NewManager(store, nil, learning.Config{})

	return &intelEnv{
		Store:     store,
		Engine:    engine,
		Validator: validator,
		Manager:   manager,
		Scheduler: scheduler.New(store, engine, validator, manager, config.SchedulerConfig{}, model.ValidationConfig{}.WithDefaults()),
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *intelEnv) {
	t.Helper()
	env := newTestEnv(t)
	ts := httptest.NewServer(newMux(env, monitoring.NewCollector(env.Store)))
	t.Cleanup(ts.Close)
	return ts, env
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServe_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServe_HealthMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap monitoring.MetricsSnapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestServe_SessionLifecycle(t *testing.T) {
	ts, env := newTestServer(t)
	ctx := context.Background()

	resp := postJSON(t, ts.URL+"/sessions", map[string]string{
		"session_id": "sess-1", "user_id": "user-1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// Voice feedback extracts patterns into the working set.
	resp = postJSON(t, ts.URL+"/sessions/sess-1/feedback", map[string]any{
		"feedback_type": "contextual_action",
		"payload":       model.VoicePayload{Transcript: "great fit, perfect industry, excellent experience"},
		"features":      model.ProfileFeatures{Industry: "Fintech", YearsInIndustry: 12},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var fbBody struct {
		FeedbackID        string `json:"feedback_id"`
		PatternsExtracted int    `json:"patterns_extracted"`
	}
	decodeBody(t, resp, &fbBody)
	assert.NotEmpty(t, fbBody.FeedbackID)
	assert.Positive(t, fbBody.PatternsExtracted)

	// Apply patterns to a new baseline.
	resp = postJSON(t, ts.URL+"/sessions/sess-1/apply", model.Analysis{
		ProfileURL:      "https://example.com/in/p2",
		ConfidenceScore: 0.55,
		RelevanceScore:  0.55,
		Features:        model.ProfileFeatures{Industry: "Fintech", YearsInIndustry: 11},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var enhanced model.EnhancedAnalysis
	decodeBody(t, resp, &enhanced)
	assert.InDelta(t, 0.55, enhanced.BaselineConfidence, 1e-9)
	assert.NotEmpty(t, enhanced.Applications)

	resp, err := http.Get(ts.URL + "/sessions/sess-1/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var metrics learning.SessionMetrics
	decodeBody(t, resp, &metrics)
	assert.Equal(t, "user-1", metrics.UserID)
	assert.Positive(t, metrics.PatternsExtracted)

	// Finalizing needs the session row to exist.
	require.NoError(t, env.Store.SaveSession(ctx, &model.ResearchSession{
		ID: "sess-1", UserID: "user-1", ProfileURL: "https://example.com/in/p1",
	}))
	resp = postJSON(t, ts.URL+"/sessions/sess-1/finalize", map[string]any{
		"outcome": "contacted", "confidence": 0.8, "relevance": 0.7, "reasoning": "strong match",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// The session arena entry is released on finalize.
	resp, err = http.Get(ts.URL + "/sessions/sess-1/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	// The contacted outcome was booked against the applied patterns.
	patterns, err := env.Store.ListPatterns(ctx, pattern.PatternFilter{UserID: "user-1"})
	require.NoError(t, err)
	var booked int
	for _, p := range patterns {
		booked += p.UsageCount
	}
	assert.Positive(t, booked)
}

func TestServe_Feedback_CarriesProfileURL(t *testing.T) {
	ts, env := newTestServer(t)
	ctx := context.Background()

	resp := postJSON(t, ts.URL+"/sessions", map[string]string{
		"session_id": "sess-1", "user_id": "user-1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp = postJSON(t, ts.URL+"/sessions/sess-1/feedback", map[string]any{
		"feedback_type": "contextual_action",
		"profile_url":   "https://example.com/in/p1",
		"payload":       model.VoicePayload{Transcript: "great fit"},
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	pending, err := env.Store.ListUnprocessedFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://example.com/in/p1", pending[0].ProfileURL)
}

func TestServe_CreateSession_MissingFields(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions", map[string]string{"session_id": "sess-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_Feedback_UnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions/nope/feedback", map[string]any{
		"feedback_type": "contextual_action",
		"payload":       model.VoicePayload{Transcript: "great"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_Feedback_InvalidType(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions/sess-1/feedback", map[string]any{
		"feedback_type": "telepathy",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_Apply_UnknownSessionReturnsBaseline(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions/nope/apply", model.Analysis{
		ConfidenceScore: 0.4, RelevanceScore: 0.3,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var enhanced model.EnhancedAnalysis
	decodeBody(t, resp, &enhanced)
	assert.InDelta(t, 0.4, enhanced.ConfidenceScore, 1e-9)
	assert.Empty(t, enhanced.Applications)
}

func TestServe_Finalize_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/sessions/sess-1/finalize", map[string]any{
		"outcome": "ghosted",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	resp = postJSON(t, ts.URL+"/sessions/missing/finalize", map[string]any{
		"outcome": "contacted",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_ListPatterns(t *testing.T) {
	ts, env := newTestServer(t)
	ctx := context.Background()

	_, _, err := env.Store.SavePattern(ctx, &model.DiscoveredPattern{
		PatternType: model.PatternIndustrySignal,
		Trigger: model.TriggerCondition{
			Kind: model.TriggerCategoryMembership, Field: "industry",
			Values: []string{"fintech"}, Weight: 0.8,
		},
		ExpectedOutcome: model.OutcomeContacted,
		ConfidenceScore: 0.8,
		UserID:          "user-1",
		DiscoveryMethod: "correlation_analysis",
	})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/patterns?user_id=user-1&status=discovered")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count    int                       `json:"count"`
		Patterns []model.DiscoveredPattern `json:"patterns"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, model.PatternIndustrySignal, body.Patterns[0].PatternType)

	resp, err = http.Get(ts.URL + "/patterns?min_confidence=bogus")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_GetExperiment_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/experiments/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck
}

func TestServe_DeleteUserData(t *testing.T) {
	ts, env := newTestServer(t)
	ctx := context.Background()

	_, _, err := env.Store.SavePattern(ctx, &model.DiscoveredPattern{
		PatternType: model.PatternUserPreference,
		Trigger: model.TriggerCondition{
			Kind: model.TriggerCategoryMembership, Field: "role",
			Values: []string{"cto"}, Weight: 0.8,
		},
		ExpectedOutcome: model.OutcomeContacted,
		ConfidenceScore: 0.8,
		UserID:          "user-1",
		DiscoveryMethod: "voice_feedback",
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/users/user-1", ts.URL), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close() //nolint:errcheck

	patterns, err := env.Store.ListPatterns(ctx, pattern.PatternFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, patterns)
}
