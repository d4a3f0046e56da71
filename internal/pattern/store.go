// Package pattern implements the durable pattern store: discovered patterns
// and their lifecycle, user intelligence profiles, research session evidence,
// feedback interactions, and validation experiments.
package pattern

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-intel/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("pattern: not found")

// ErrIllegalTransition is returned when a status change violates the
// pattern lifecycle state machine.
var ErrIllegalTransition = eris.New("pattern: illegal status transition")

// PatternFilter specifies criteria for listing patterns.
type PatternFilter struct {
	UserID        string                 `json:"user_id,omitempty"`
	Status        model.ValidationStatus `json:"status,omitempty"`
	PatternType   model.PatternType      `json:"pattern_type,omitempty"`
	MinConfidence float64                `json:"min_confidence,omitempty"`
	Limit         int                    `json:"limit,omitempty"`
	Offset        int                    `json:"offset,omitempty"`
}

// SessionFilter specifies criteria for listing research sessions.
type SessionFilter struct {
	UserID        string    `json:"user_id,omitempty"`
	Since         time.Time `json:"since,omitempty"`
	FinalizedOnly bool      `json:"finalized_only,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// Store defines persistence for the pattern discovery, validation, and
// learning subsystem.
type Store interface {
	// Patterns. SavePattern applies the dedup/merge rule: a pattern with the
	// same structural identity (trigger + type + outcome) in the same user
	// scope is merged, never duplicated. The returned pattern is the stored
	// row; merged reports whether an existing row absorbed the save.
	SavePattern(ctx context.Context, p *model.DiscoveredPattern) (stored *model.DiscoveredPattern, merged bool, err error)
	GetPattern(ctx context.Context, id string) (*model.DiscoveredPattern, error)
	FindApplicable(ctx context.Context, userID string, industries, roles []string) ([]model.DiscoveredPattern, error)
	ListPatterns(ctx context.Context, filter PatternFilter) ([]model.DiscoveredPattern, error)
	TransitionStatus(ctx context.Context, id string, next model.ValidationStatus) error
	RecordApplication(ctx context.Context, id string, corroborating bool) error

	// User intelligence profiles.
	GetOrCreateProfile(ctx context.Context, userID string) (*model.UserIntelligenceProfile, error)
	UpdateProfile(ctx context.Context, p *model.UserIntelligenceProfile) error
	DeleteUserData(ctx context.Context, userID string) error

	// Research sessions.
	SaveSession(ctx context.Context, s *model.ResearchSession) error
	FinalizeSession(ctx context.Context, id string, outcome model.SessionOutcome, confidence, relevance float64, reasoning string) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error)
	BulkUpsertSessions(ctx context.Context, sessions []model.ResearchSession) (int64, error)
	ListActiveUsers(ctx context.Context, since time.Time) ([]string, error)

	// Feedback interactions.
	InsertFeedback(ctx context.Context, fb *model.FeedbackInteraction) error
	ListUnprocessedFeedback(ctx context.Context, limit int) ([]model.FeedbackInteraction, error)
	MarkFeedbackProcessed(ctx context.Context, id string, results json.RawMessage) error

	// Validation experiments.
	CreateExperiment(ctx context.Context, e *model.ValidationExperiment) error
	GetExperiment(ctx context.Context, id string) (*model.ValidationExperiment, error)
	UpdateExperiment(ctx context.Context, e *model.ValidationExperiment) error
	ListRunningExperiments(ctx context.Context) ([]model.ValidationExperiment, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// mergeInto folds an incoming save into an existing stored pattern:
// supporting session ids are unioned, usage increments, and confidence is
// nudged toward agreement. Shared by both drivers so merge semantics cannot
// drift between them.
func mergeInto(existing, incoming *model.DiscoveredPattern, now time.Time) {
	seen := make(map[string]bool, len(existing.SupportingSessions))
	for _, id := range existing.SupportingSessions {
		seen[id] = true
	}
	for _, id := range incoming.SupportingSessions {
		if !seen[id] {
			existing.SupportingSessions = append(existing.SupportingSessions, id)
			seen[id] = true
		}
	}
	existing.Corroborate()
	existing.UpdatedAt = now
}
