package model

import "time"

// UserIntelligenceProfile summarizes everything the system has learned about
// one user's outreach preferences. Created lazily on the user's first
// session; mutated by the session learning manager and batch reprocessing.
type UserIntelligenceProfile struct {
	UserID string `json:"user_id" db:"user_id"`

	// Learned preference lists.
	IndustryFocus        []string `json:"industry_focus,omitempty" db:"industry_focus"`
	RolePreferences      []string `json:"role_preferences,omitempty" db:"role_preferences"`
	SeniorityPreferences []string `json:"seniority_preferences,omitempty" db:"seniority_preferences"`
	CompanySizeBucket    string   `json:"company_size_bucket,omitempty" db:"company_size_bucket"`
	LocationPreferences  []string `json:"location_preferences,omitempty" db:"location_preferences"`

	// Nested pattern maps keyed by signal name then bucket.
	EngagementPatterns map[string]map[string]float64 `json:"engagement_patterns,omitempty" db:"engagement_patterns"`
	SuccessPatterns    map[string]map[string]float64 `json:"success_patterns,omitempty" db:"success_patterns"`
	SearchPatterns     map[string]map[string]float64 `json:"search_patterns,omitempty" db:"search_patterns"`
	TimingPatterns     map[string]map[string]float64 `json:"timing_patterns,omitempty" db:"timing_patterns"`

	// LearningConfidence is how much the system trusts its personalization
	// for this user. Invariant: moves up only on corroborating evidence,
	// down only on contradicting evidence, always within [0, 1].
	LearningConfidence float64 `json:"learning_confidence" db:"learning_confidence"`

	TotalResearchSessions int `json:"total_research_sessions" db:"total_research_sessions"`
	SuccessfulContacts    int `json:"successful_contacts" db:"successful_contacts"`
	FeedbackInteractions  int `json:"feedback_interactions" db:"feedback_interactions"`

	// PatternVersion is bumped on every structural update.
	PatternVersion int `json:"pattern_version" db:"pattern_version"`

	LastPatternUpdate     *time.Time `json:"last_pattern_update,omitempty" db:"last_pattern_update"`
	LastSuccessfulContact *time.Time `json:"last_successful_contact,omitempty" db:"last_successful_contact"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// NewUserIntelligenceProfile returns a fresh profile for a first session.
func NewUserIntelligenceProfile(userID string) *UserIntelligenceProfile {
	now := time.Now().UTC()
	return &UserIntelligenceProfile{
		UserID:             userID,
		EngagementPatterns: map[string]map[string]float64{},
		SuccessPatterns:    map[string]map[string]float64{},
		SearchPatterns:     map[string]map[string]float64{},
		TimingPatterns:     map[string]map[string]float64{},
		LearningConfidence: 0.1,
		PatternVersion:     1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ReinforceLearning raises learning confidence on corroborating evidence.
// Negative deltas are ignored so the invariant cannot be violated by a caller.
func (p *UserIntelligenceProfile) ReinforceLearning(delta float64) {
	if delta <= 0 {
		return
	}
	p.LearningConfidence = clamp01(p.LearningConfidence + delta)
}

// WeakenLearning lowers learning confidence on contradicting evidence.
func (p *UserIntelligenceProfile) WeakenLearning(delta float64) {
	if delta <= 0 {
		return
	}
	p.LearningConfidence = clamp01(p.LearningConfidence - delta)
}

// BumpPatternVersion marks a structural update.
func (p *UserIntelligenceProfile) BumpPatternVersion() {
	p.PatternVersion++
	now := time.Now().UTC()
	p.LastPatternUpdate = &now
	p.UpdatedAt = now
}

// RecordOutcome updates counters from a finalized session outcome.
func (p *UserIntelligenceProfile) RecordOutcome(outcome SessionOutcome, at time.Time) {
	p.TotalResearchSessions++
	if outcome == OutcomeContacted {
		p.SuccessfulContacts++
		t := at
		p.LastSuccessfulContact = &t
	}
	p.UpdatedAt = at
}
