package model

import (
	"encoding/json"
	"time"
)

// SessionTelemetry captures behavioral signals collected while a user views
// a candidate profile.
type SessionTelemetry struct {
	TimeOnPageSecs      int      `json:"time_on_page_secs"`
	SectionsExpanded    []string `json:"sections_expanded,omitempty"`
	ScrollDepthPct      float64  `json:"scroll_depth_pct"`
	SearchQueries       []string `json:"search_queries,omitempty"`
	ExternalLinksOpened int      `json:"external_links_opened"`
}

// ResearchSession is one (session, profile-under-research) pair: the unit of
// evidence pattern discovery mines. It is created when a profile view begins
// and finalized when the user records an outcome.
type ResearchSession struct {
	ID              string           `json:"id" db:"id"`
	UserID          string           `json:"user_id" db:"user_id"`
	ProfileURL      string           `json:"profile_url" db:"profile_url"`
	Features        ProfileFeatures  `json:"features" db:"features"`
	Telemetry       SessionTelemetry `json:"telemetry" db:"telemetry"`
	Outcome         SessionOutcome   `json:"outcome,omitempty" db:"outcome"`
	ConfidenceLevel float64          `json:"confidence_level" db:"confidence_level"`
	RelevanceRating float64          `json:"relevance_rating" db:"relevance_rating"`
	Reasoning       string           `json:"reasoning,omitempty" db:"reasoning"`
	StartedAt       time.Time        `json:"started_at" db:"started_at"`
	FinalizedAt     *time.Time       `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Finalized reports whether an outcome has been recorded.
func (s *ResearchSession) Finalized() bool {
	return s.FinalizedAt != nil && s.Outcome != ""
}

// FeedbackType classifies a feedback interaction.
type FeedbackType string

const (
	FeedbackExplicitRating    FeedbackType = "explicit_rating"
	FeedbackImplicitBehavior  FeedbackType = "implicit_behavior"
	FeedbackContextualAction  FeedbackType = "contextual_action"
	FeedbackOutcomeReport     FeedbackType = "outcome_report"
	FeedbackPatternCorrection FeedbackType = "pattern_correction"
	FeedbackPreferenceUpdate  FeedbackType = "preference_update"
)

// ValidFeedbackType reports whether t is a known feedback type.
func ValidFeedbackType(t string) bool {
	switch FeedbackType(t) {
	case FeedbackExplicitRating, FeedbackImplicitBehavior, FeedbackContextualAction,
		FeedbackOutcomeReport, FeedbackPatternCorrection, FeedbackPreferenceUpdate:
		return true
	}
	return false
}

// FeedbackInteraction is a single feedback event. The payload is opaque to
// the store; consumers parse it according to the feedback type. Each
// interaction is consumed exactly once by the batch processor.
type FeedbackInteraction struct {
	ID                string          `json:"id" db:"id"`
	SessionID         string          `json:"session_id" db:"session_id"`
	UserID            string          `json:"user_id" db:"user_id"`
	ProfileURL        string          `json:"profile_url,omitempty" db:"profile_url"`
	FeedbackType      FeedbackType    `json:"feedback_type" db:"feedback_type"`
	Payload           json.RawMessage `json:"payload,omitempty" db:"payload"`
	LearningValue     float64         `json:"learning_value" db:"learning_value"`
	Processed         bool            `json:"processed" db:"processed"`
	ProcessingResults json.RawMessage `json:"processing_results,omitempty" db:"processing_results"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// VoicePayload is the payload shape for transcribed voice feedback.
type VoicePayload struct {
	Transcript string  `json:"transcript"`
	Rating     float64 `json:"rating,omitempty"`
}

// RatingPayload is the payload shape for explicit form ratings.
type RatingPayload struct {
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment,omitempty"`
}

// Voice parses the payload as a voice transcript. Returns false when the
// payload is absent or not voice-shaped.
func (f *FeedbackInteraction) Voice() (VoicePayload, bool) {
	var vp VoicePayload
	if len(f.Payload) == 0 {
		return vp, false
	}
	if err := json.Unmarshal(f.Payload, &vp); err != nil || vp.Transcript == "" {
		return vp, false
	}
	return vp, true
}
