package pattern

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-intel/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteStore_SavePattern_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPattern()
	p.ID = ""
	p.Industries = []string{"FinTech"}
	p.Roles = []string{"CTO"}

	stored, merged, err := store.SavePattern(ctx, p)
	require.NoError(t, err)
	assert.False(t, merged)
	require.NotEmpty(t, stored.ID)

	got, err := store.GetPattern(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatternSuccessIndicator, got.PatternType)
	assert.Equal(t, model.OutcomeContacted, got.ExpectedOutcome)
	assert.Equal(t, stored.Trigger, got.Trigger)
	assert.Equal(t, []string{"sess-1", "sess-2"}, got.SupportingSessions)
	// Scope values are normalized on write.
	assert.Equal(t, []string{"fintech"}, got.Industries)
	assert.Equal(t, []string{"cto"}, got.Roles)
}

func TestSQLiteStore_SavePattern_MergesStructuralDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testPattern()
	first.ID = ""
	stored, merged, err := store.SavePattern(ctx, first)
	require.NoError(t, err)
	require.False(t, merged)

	second := testPattern()
	second.ID = ""
	second.SupportingSessions = []string{"sess-2", "sess-3"}

	again, merged, err := store.SavePattern(ctx, second)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, stored.ID, again.ID)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2", "sess-3"}, again.SupportingSessions)
	assert.InDelta(t, 0.61, again.ConfidenceScore, 1e-9)

	// Still exactly one row for this structural identity.
	all, err := store.ListPatterns(ctx, PatternFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_SavePattern_UserScopeSeparatesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	global := testPattern()
	global.ID = ""
	_, merged, err := store.SavePattern(ctx, global)
	require.NoError(t, err)
	require.False(t, merged)

	scoped := testPattern()
	scoped.ID = ""
	scoped.UserID = "user-1"

	_, merged, err = store.SavePattern(ctx, scoped)
	require.NoError(t, err)
	assert.False(t, merged, "same structure in a different user scope must not merge")

	all, err := store.ListPatterns(ctx, PatternFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_TransitionStatus_EnforcesStateMachine(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPattern()
	p.ID = ""
	stored, _, err := store.SavePattern(ctx, p)
	require.NoError(t, err)

	// discovered -> validated skips testing and must fail.
	err = store.TransitionStatus(ctx, stored.ID, model.StatusValidated)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, store.TransitionStatus(ctx, stored.ID, model.StatusTesting))
	require.NoError(t, store.TransitionStatus(ctx, stored.ID, model.StatusValidated))
	require.NoError(t, store.TransitionStatus(ctx, stored.ID, model.StatusArchived))

	// Archived is terminal.
	err = store.TransitionStatus(ctx, stored.ID, model.StatusTesting)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSQLiteStore_FindApplicable_ScopeAndOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	global := testPattern()
	global.ID = ""
	global.ConfidenceScore = 0.5
	_, _, err := store.SavePattern(ctx, global)
	require.NoError(t, err)

	scoped := testPattern()
	scoped.ID = ""
	scoped.UserID = "user-1"
	scoped.Industries = []string{"fintech"}
	scoped.ConfidenceScore = 0.9
	_, _, err = store.SavePattern(ctx, scoped)
	require.NoError(t, err)

	other := testPattern()
	other.ID = ""
	other.UserID = "user-2"
	_, _, err = store.SavePattern(ctx, other)
	require.NoError(t, err)

	archived := testPattern()
	archived.ID = ""
	archived.Trigger.Threshold = 20 // different structure so it does not merge
	stored, _, err := store.SavePattern(ctx, archived)
	require.NoError(t, err)
	require.NoError(t, store.TransitionStatus(ctx, stored.ID, model.StatusArchived))

	got, err := store.FindApplicable(ctx, "user-1", []string{"FinTech"}, []string{"cto"})
	require.NoError(t, err)
	require.Len(t, got, 2, "user-2 scoped and archived patterns must be excluded")
	assert.InDelta(t, 0.9, got[0].ConfidenceScore, 1e-9, "highest confidence first")

	// Wrong industry excludes the scoped pattern but keeps the global one.
	got, err = store.FindApplicable(ctx, "user-1", []string{"healthcare"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.5, got[0].ConfidenceScore, 1e-9)
}

func TestSQLiteStore_RecordApplication_UpdatesAccuracy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPattern()
	p.ID = ""
	stored, _, err := store.SavePattern(ctx, p)
	require.NoError(t, err)

	require.NoError(t, store.RecordApplication(ctx, stored.ID, false))

	got, err := store.GetPattern(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ContradictingSessions)
	assert.InDelta(t, 0.58, got.ConfidenceScore, 1e-9)
	assert.InDelta(t, 2.0/3.0, got.AccuracyRate, 1e-9)
}

func TestSQLiteStore_ProfileLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	profile, err := store.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, profile.LearningConfidence, 1e-9)

	profile.ReinforceLearning(0.05)
	profile.IndustryFocus = append(profile.IndustryFocus, "fintech")
	require.NoError(t, store.UpdateProfile(ctx, profile))

	got, err := store.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, got.LearningConfidence, 1e-9)
	assert.Equal(t, []string{"fintech"}, got.IndustryFocus)
}

func TestSQLiteStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &model.ResearchSession{
		UserID:     "user-1",
		ProfileURL: "https://example.com/in/jane",
		Features: model.ProfileFeatures{
			Industry:        "fintech",
			YearsInIndustry: 12,
		},
		Telemetry: model.SessionTelemetry{TimeOnPageSecs: 95},
	}
	require.NoError(t, store.SaveSession(ctx, sess))
	require.NotEmpty(t, sess.ID)

	require.NoError(t, store.FinalizeSession(ctx, sess.ID, model.OutcomeContacted, 0.8, 0.9, "strong fit"))

	sessions, err := store.ListSessions(ctx, SessionFilter{UserID: "user-1", FinalizedOnly: true})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.OutcomeContacted, sessions[0].Outcome)
	assert.True(t, sessions[0].Finalized())
	assert.Equal(t, 12.0, sessions[0].Features.YearsInIndustry)

	err = store.FinalizeSession(ctx, "missing", model.OutcomeSkipped, 0, 0, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_BulkUpsertSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	batch := []model.ResearchSession{
		{ID: "s-1", UserID: "user-1", ProfileURL: "u1", StartedAt: now},
		{ID: "s-2", UserID: "user-1", ProfileURL: "u2", StartedAt: now},
	}
	n, err := store.BulkUpsertSessions(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-upserting the same ids must not duplicate.
	batch[0].Reasoning = "updated"
	n, err = store.BulkUpsertSessions(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sessions, err := store.ListSessions(ctx, SessionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	users, err := store.ListActiveUsers(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)
}

func TestSQLiteStore_FeedbackConsumedExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fb := &model.FeedbackInteraction{
		SessionID:    "s-1",
		UserID:       "user-1",
		FeedbackType: model.FeedbackExplicitRating,
		Payload:      json.RawMessage(`{"rating":4.5}`),
	}
	require.NoError(t, store.InsertFeedback(ctx, fb))

	pending, err := store.ListUnprocessedFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fb.ID, pending[0].ID)

	require.NoError(t, store.MarkFeedbackProcessed(ctx, fb.ID, json.RawMessage(`{"applied":true}`)))

	pending, err = store.ListUnprocessedFeedback(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Second consumption attempt fails.
	err = store.MarkFeedbackProcessed(ctx, fb.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ExperimentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exp := &model.ValidationExperiment{
		PatternID:      "pat-1",
		ControlGroup:   []string{"u1", "u2"},
		TreatmentGroup: []string{"u3", "u4"},
		Config:         model.ValidationConfig{}.WithDefaults(),
	}
	require.NoError(t, store.CreateExperiment(ctx, exp))

	running, err := store.ListRunningExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)

	now := time.Now().UTC()
	pval := 0.01
	exp.Status = model.ExperimentConcluded
	exp.FinalDecision = model.DecisionValidated
	exp.PValue = &pval
	exp.ConcludedAt = &now
	require.NoError(t, store.UpdateExperiment(ctx, exp))

	got, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExperimentConcluded, got.Status)
	assert.Equal(t, model.DecisionValidated, got.FinalDecision)
	require.NotNil(t, got.PValue)
	assert.InDelta(t, 0.01, *got.PValue, 1e-12)

	running, err = store.ListRunningExperiments(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSQLiteStore_DeleteUserData_PurgesEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)

	scoped := testPattern()
	scoped.ID = ""
	scoped.UserID = "user-1"
	_, _, err = store.SavePattern(ctx, scoped)
	require.NoError(t, err)

	global := testPattern()
	global.ID = ""
	_, _, err = store.SavePattern(ctx, global)
	require.NoError(t, err)

	require.NoError(t, store.SaveSession(ctx, &model.ResearchSession{ID: "s-1", UserID: "user-1", ProfileURL: "u"}))
	require.NoError(t, store.InsertFeedback(ctx, &model.FeedbackInteraction{
		SessionID: "s-1", UserID: "user-1", FeedbackType: model.FeedbackExplicitRating,
	}))

	require.NoError(t, store.DeleteUserData(ctx, "user-1"))

	patterns, err := store.ListPatterns(ctx, PatternFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, patterns)

	// Global patterns survive the purge.
	patterns, err = store.ListPatterns(ctx, PatternFilter{})
	require.NoError(t, err)
	assert.Len(t, patterns, 1)

	sessions, err := store.ListSessions(ctx, SessionFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, sessions)

	pending, err := store.ListUnprocessedFeedback(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
