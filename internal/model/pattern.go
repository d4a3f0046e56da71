// Package model defines the domain types for the contact intelligence core:
// patterns, research sessions, feedback, user profiles, and experiments.
package model

import (
	"fmt"
	"strings"
	"time"
)

// PatternType classifies what kind of signal a discovered pattern encodes.
type PatternType string

const (
	PatternUserPreference   PatternType = "user_preference"
	PatternIndustrySignal   PatternType = "industry_signal"
	PatternTiming           PatternType = "timing_pattern"
	PatternSuccessIndicator PatternType = "success_indicator"
	PatternEngagementSignal PatternType = "engagement_signal"
	PatternQualityIndicator PatternType = "quality_indicator"
	PatternContext          PatternType = "context_pattern"
)

// ValidPatternType reports whether t is a known pattern type.
func ValidPatternType(t string) bool {
	switch PatternType(t) {
	case PatternUserPreference, PatternIndustrySignal, PatternTiming,
		PatternSuccessIndicator, PatternEngagementSignal,
		PatternQualityIndicator, PatternContext:
		return true
	}
	return false
}

// ValidationStatus is the lifecycle state of a discovered pattern.
type ValidationStatus string

const (
	StatusDiscovered ValidationStatus = "discovered"
	StatusTesting    ValidationStatus = "testing"
	StatusValidated  ValidationStatus = "validated"
	StatusDeprecated ValidationStatus = "deprecated"
	StatusArchived   ValidationStatus = "archived"
)

// CanTransitionTo reports whether the lifecycle state machine permits moving
// from s to next. Archival is allowed from any state and is terminal;
// validated is reachable only from testing.
func (s ValidationStatus) CanTransitionTo(next ValidationStatus) bool {
	if s == StatusArchived {
		return false
	}
	if next == StatusArchived {
		return true
	}
	switch s {
	case StatusDiscovered:
		return next == StatusTesting
	case StatusTesting:
		return next == StatusValidated || next == StatusDeprecated
	default:
		return false
	}
}

// SessionOutcome is the finalized result of one research session.
type SessionOutcome string

const (
	OutcomeContacted            SessionOutcome = "contacted"
	OutcomeSkipped              SessionOutcome = "skipped"
	OutcomeSavedForLater        SessionOutcome = "saved_for_later"
	OutcomeNeedsMoreInfo        SessionOutcome = "needs_more_info"
	OutcomeFlaggedInappropriate SessionOutcome = "flagged_inappropriate"
)

// ValidOutcome reports whether o is a known session outcome.
func ValidOutcome(o string) bool {
	switch SessionOutcome(o) {
	case OutcomeContacted, OutcomeSkipped, OutcomeSavedForLater,
		OutcomeNeedsMoreInfo, OutcomeFlaggedInappropriate:
		return true
	}
	return false
}

// Confidence nudge sizes for pattern application bookkeeping. Corroboration
// moves confidence up less than contradiction moves it down, so a pattern
// that stops working decays faster than it built up.
const (
	corroborateNudge = 0.01
	contradictNudge  = 0.02
)

// DiscoveredPattern is a candidate or validated trigger → outcome rule.
type DiscoveredPattern struct {
	ID                    string           `json:"id" db:"id"`
	PatternType           PatternType      `json:"pattern_type" db:"pattern_type"`
	Trigger               TriggerCondition `json:"trigger_conditions" db:"trigger_conditions"`
	ExpectedOutcome       SessionOutcome   `json:"expected_outcome" db:"expected_outcome"`
	ConfidenceScore       float64          `json:"confidence_score" db:"confidence_score"`
	SupportingSessions    []string         `json:"supporting_sessions" db:"supporting_sessions"`
	ContradictingSessions int              `json:"contradicting_sessions" db:"contradicting_sessions"`
	AccuracyRate          float64          `json:"accuracy_rate" db:"accuracy_rate"`
	UsageCount            int              `json:"usage_count" db:"usage_count"`

	// Scope. Empty UserID and empty Industries/Roles means global.
	UserID     string   `json:"user_id,omitempty" db:"user_id"`
	Industries []string `json:"industries,omitempty" db:"industries"`
	Roles      []string `json:"roles,omitempty" db:"roles"`

	ValidationStatus ValidationStatus `json:"validation_status" db:"validation_status"`
	DiscoveryMethod  string           `json:"discovery_method" db:"discovery_method"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// DedupKey is the structural identity used by the store's merge rule: two
// patterns with the same type, expected outcome, and trigger structure are
// the same pattern.
func (p *DiscoveredPattern) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", p.PatternType, p.ExpectedOutcome, p.Trigger.Key())
}

// AppliesTo reports whether the pattern's scope covers the given user,
// industry, and role. Unscoped dimensions always apply.
func (p *DiscoveredPattern) AppliesTo(userID, industry, role string) bool {
	if p.UserID != "" && p.UserID != userID {
		return false
	}
	if len(p.Industries) > 0 && !containsFold(p.Industries, industry) {
		return false
	}
	if len(p.Roles) > 0 && !containsFold(p.Roles, role) {
		return false
	}
	return true
}

// Corroborate records a successful application: confidence rises (capped at
// 1.0) and accuracy bookkeeping updates.
func (p *DiscoveredPattern) Corroborate() {
	p.UsageCount++
	p.ConfidenceScore = clamp01(p.ConfidenceScore + corroborateNudge)
	p.recomputeAccuracy()
}

// Contradict records a failed application: confidence falls (floored at 0.0).
func (p *DiscoveredPattern) Contradict() {
	p.UsageCount++
	p.ContradictingSessions++
	p.ConfidenceScore = clamp01(p.ConfidenceScore - contradictNudge)
	p.recomputeAccuracy()
}

func (p *DiscoveredPattern) recomputeAccuracy() {
	total := len(p.SupportingSessions) + p.ContradictingSessions
	if total == 0 {
		p.AccuracyRate = 0
		return
	}
	p.AccuracyRate = float64(len(p.SupportingSessions)) / float64(total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
