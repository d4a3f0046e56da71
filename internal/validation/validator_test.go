package validation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

func newTestStore(t *testing.T) pattern.Store {
	t.Helper()
	store, err := pattern.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedFinalized(t *testing.T, store pattern.Store, userID string, n int, outcome model.SessionOutcome) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		sess := &model.ResearchSession{
			ID:         fmt.Sprintf("%s-%s-%d", userID, outcome, i),
			UserID:     userID,
			ProfileURL: "https://example.com/in/p",
			Telemetry:  model.SessionTelemetry{TimeOnPageSecs: 60},
			StartedAt:  time.Now().UTC().Add(-time.Hour),
		}
		require.NoError(t, store.SaveSession(ctx, sess))
		require.NoError(t, store.FinalizeSession(ctx, sess.ID, outcome, 0.7, 0.7, ""))
	}
}

func seedDiscoveredPattern(t *testing.T, store pattern.Store) *model.DiscoveredPattern {
	t.Helper()
	p := &model.DiscoveredPattern{
		PatternType: model.PatternSuccessIndicator,
		Trigger: model.TriggerCondition{
			Kind:      model.TriggerNumericThreshold,
			Field:     "years_in_industry",
			Op:        model.OpGTE,
			Threshold: 10,
			Weight:    0.8,
		},
		ExpectedOutcome:    model.OutcomeContacted,
		ConfidenceScore:    0.7,
		SupportingSessions: []string{"s1", "s2", "s3", "s4"},
		ValidationStatus:   model.StatusDiscovered,
		DiscoveryMethod:    "threshold_correlation",
	}
	stored, _, err := store.SavePattern(context.Background(), p)
	require.NoError(t, err)
	return stored
}

func seedPopulation(t *testing.T, store pattern.Store, users int) {
	t.Helper()
	for i := 0; i < users; i++ {
		seedFinalized(t, store, fmt.Sprintf("user-%d", i), 2, model.OutcomeSavedForLater)
	}
}

func TestStartValidation_SplitsAndTransitions(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{MinUsersPerGroup: 5})
	require.NoError(t, err)

	assert.Len(t, exp.ControlGroup, 5)
	assert.Len(t, exp.TreatmentGroup, 5)
	assert.Equal(t, model.ExperimentRunning, exp.Status)
	assert.Equal(t, 10, exp.BaselineMetrics.SampleSize)

	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTesting, got.ValidationStatus)

	// No user sits in both groups.
	seen := map[string]bool{}
	for _, u := range append(exp.ControlGroup, exp.TreatmentGroup...) {
		assert.False(t, seen[u], "user %s assigned twice", u)
		seen[u] = true
	}
}

func TestStartValidation_DeterministicSplit(t *testing.T) {
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6"}
	c1, t1 := splitGroups("pat-1", users)
	c2, t2 := splitGroups("pat-1", users)
	assert.Equal(t, c1, c2)
	assert.Equal(t, t1, t2)

	// A different pattern id produces its own (still deterministic) split.
	c3, _ := splitGroups("pat-2", users)
	assert.Len(t, c3, 3)
}

func TestStartValidation_InsufficientPopulation(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 4)

	_, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{MinUsersPerGroup: 5})
	require.ErrorIs(t, err, ErrInsufficientPopulation)

	// Deferred, not failed: the pattern stays discovered.
	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDiscovered, got.ValidationStatus)
}

func TestStartValidation_RequiresDiscoveredStatus(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)
	require.NoError(t, store.TransitionStatus(context.Background(), p.ID, model.StatusArchived))

	_, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{})
	assert.Error(t, err)
}

func TestConcludeExperiment_EarlyStoppingValidates(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{
		MinUsersPerGroup: 5,
		EarlyStopping:    true,
	})
	require.NoError(t, err)

	// Treatment users convert heavily, control users do not.
	for _, u := range exp.TreatmentGroup {
		seedFinalized(t, store, u, 10, model.OutcomeContacted)
	}
	for _, u := range exp.ControlGroup {
		seedFinalized(t, store, u, 10, model.OutcomeSkipped)
	}

	concluded, err := v.ConcludeExperiment(context.Background(), exp.ID, "strong lift")
	require.NoError(t, err)

	assert.Equal(t, model.ExperimentConcluded, concluded.Status)
	assert.Equal(t, model.DecisionValidated, concluded.FinalDecision)
	require.NotNil(t, concluded.PValue)
	assert.Less(t, *concluded.PValue, 0.05)
	require.NotNil(t, concluded.ObservedEffect)
	assert.Positive(t, *concluded.ObservedEffect)

	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, got.ValidationStatus)
}

func TestConcludeExperiment_BeforeDurationNoDecision(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{
		MinUsersPerGroup: 5,
		DurationDays:     14,
		EarlyStopping:    false,
	})
	require.NoError(t, err)

	for _, u := range exp.TreatmentGroup {
		seedFinalized(t, store, u, 10, model.OutcomeContacted)
	}

	state, err := v.ConcludeExperiment(context.Background(), exp.ID, "")
	require.NoError(t, err)

	assert.Equal(t, model.ExperimentRunning, state.Status)
	assert.Empty(t, state.FinalDecision)
	assert.Positive(t, state.DaysRemaining(time.Now().UTC()))

	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTesting, got.ValidationStatus)
}

func TestConcludeExperiment_NoEffectRejectsAfterDuration(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{
		MinUsersPerGroup: 5,
		DurationDays:     14,
	})
	require.NoError(t, err)

	// Identical behavior in both groups: nothing to detect.
	for _, u := range append(exp.ControlGroup, exp.TreatmentGroup...) {
		seedFinalized(t, store, u, 5, model.OutcomeContacted)
	}

	// Jump past the configured duration.
	v.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 15) }

	concluded, err := v.ConcludeExperiment(context.Background(), exp.ID, "duration elapsed")
	require.NoError(t, err)

	assert.Equal(t, model.ExperimentConcluded, concluded.Status)
	assert.Equal(t, model.DecisionRejected, concluded.FinalDecision)

	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeprecated, got.ValidationStatus)
}

func TestConcludeExperiment_Idempotent(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{
		MinUsersPerGroup: 5,
		EarlyStopping:    true,
	})
	require.NoError(t, err)

	for _, u := range exp.TreatmentGroup {
		seedFinalized(t, store, u, 10, model.OutcomeContacted)
	}
	for _, u := range exp.ControlGroup {
		seedFinalized(t, store, u, 10, model.OutcomeSkipped)
	}

	first, err := v.ConcludeExperiment(context.Background(), exp.ID, "first")
	require.NoError(t, err)
	require.Equal(t, model.ExperimentConcluded, first.Status)

	second, err := v.ConcludeExperiment(context.Background(), exp.ID, "second call must be a no-op")
	require.NoError(t, err)

	assert.Equal(t, first.FinalDecision, second.FinalDecision)
	assert.Equal(t, first.ConclusionNote, second.ConclusionNote)
	assert.Equal(t, *first.PValue, *second.PValue)

	// The pattern was transitioned exactly once and stays validated.
	got, err := store.GetPattern(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusValidated, got.ValidationStatus)
}

func TestUpdateExperimentMetrics_Idempotent(t *testing.T) {
	store := newTestStore(t)
	v := NewValidator(store)
	p := seedDiscoveredPattern(t, store)
	seedPopulation(t, store, 10)

	exp, err := v.StartValidation(context.Background(), p.ID, model.ValidationConfig{MinUsersPerGroup: 5})
	require.NoError(t, err)

	first, err := v.UpdateExperimentMetrics(context.Background(), exp.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ControlMetrics)
	require.NotNil(t, first.TreatmentMetrics)

	second, err := v.UpdateExperimentMetrics(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ControlMetrics, second.ControlMetrics)
	assert.Equal(t, first.TreatmentMetrics, second.TreatmentMetrics)
}
