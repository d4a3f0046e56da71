// Package monitoring gathers health metrics for the pattern learning system
// and raises webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Pattern lifecycle census.
	PatternsTotal      int `json:"patterns_total"`
	PatternsDiscovered int `json:"patterns_discovered"`
	PatternsTesting    int `json:"patterns_testing"`
	PatternsValidated  int `json:"patterns_validated"`
	PatternsDeprecated int `json:"patterns_deprecated"`
	PatternsArchived   int `json:"patterns_archived"`

	// Discovery throughput (within lookback window).
	NewPatterns         int     `json:"new_patterns"`
	DiscoveryRatePerDay float64 `json:"discovery_rate_per_day"`

	// Validation health. Success rate is validated / (validated + deprecated)
	// over all patterns that reached a verdict.
	ExperimentsRunning    int     `json:"experiments_running"`
	ValidationConcluded   int     `json:"validation_concluded"`
	ValidationSuccessRate float64 `json:"validation_success_rate"`

	// Session activity (within lookback window).
	SessionsTotal     int     `json:"sessions_total"`
	SessionsFinalized int     `json:"sessions_finalized"`
	ContactRate       float64 `json:"contact_rate"`

	// Learning health.
	FeedbackBacklog       int     `json:"feedback_backlog"`
	ActiveUsers           int     `json:"active_users"`
	AvgLearningConfidence float64 `json:"avg_learning_confidence"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the pattern store.
type Collector struct {
	store pattern.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st pattern.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	patterns, err := c.store.ListPatterns(ctx, pattern.PatternFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list patterns")
	}

	snap.PatternsTotal = len(patterns)
	for _, p := range patterns {
		switch p.ValidationStatus {
		case model.StatusDiscovered:
			snap.PatternsDiscovered++
		case model.StatusTesting:
			snap.PatternsTesting++
		case model.StatusValidated:
			snap.PatternsValidated++
		case model.StatusDeprecated:
			snap.PatternsDeprecated++
		case model.StatusArchived:
			snap.PatternsArchived++
		}
		if !p.CreatedAt.Before(cutoff) {
			snap.NewPatterns++
		}
	}
	if lookbackHours > 0 {
		snap.DiscoveryRatePerDay = float64(snap.NewPatterns) / (float64(lookbackHours) / 24)
	}

	snap.ValidationConcluded = snap.PatternsValidated + snap.PatternsDeprecated
	if snap.ValidationConcluded > 0 {
		snap.ValidationSuccessRate = float64(snap.PatternsValidated) / float64(snap.ValidationConcluded)
	}

	running, err := c.store.ListRunningExperiments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list experiments")
	}
	snap.ExperimentsRunning = len(running)

	sessions, err := c.store.ListSessions(ctx, pattern.SessionFilter{Since: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}
	snap.SessionsTotal = len(sessions)
	var contacted int
	for i := range sessions {
		if !sessions[i].Finalized() {
			continue
		}
		snap.SessionsFinalized++
		if sessions[i].Outcome == model.OutcomeContacted {
			contacted++
		}
	}
	if snap.SessionsFinalized > 0 {
		snap.ContactRate = float64(contacted) / float64(snap.SessionsFinalized)
	}

	backlog, err := c.store.ListUnprocessedFeedback(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list unprocessed feedback")
	}
	snap.FeedbackBacklog = len(backlog)

	users, err := c.store.ListActiveUsers(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list active users")
	}
	snap.ActiveUsers = len(users)

	var confidenceSum float64
	var profiled int
	for _, userID := range users {
		profile, err := c.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			// One missing profile should not sink the whole snapshot.
			zap.L().Warn("monitoring: profile read failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		confidenceSum += profile.LearningConfidence
		profiled++
	}
	if profiled > 0 {
		snap.AvgLearningConfidence = confidenceSum / float64(profiled)
	}

	return snap, nil
}
