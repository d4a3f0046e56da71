package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserIntelligenceProfile_LearningConfidenceInvariant(t *testing.T) {
	p := NewUserIntelligenceProfile("u1")
	require.Equal(t, 0.1, p.LearningConfidence)

	// Only corroborating evidence raises confidence.
	p.ReinforceLearning(0.3)
	assert.InDelta(t, 0.4, p.LearningConfidence, 1e-9)
	p.ReinforceLearning(-1) // ignored
	assert.InDelta(t, 0.4, p.LearningConfidence, 1e-9)

	// Only contradicting evidence lowers it.
	p.WeakenLearning(0.15)
	assert.InDelta(t, 0.25, p.LearningConfidence, 1e-9)
	p.WeakenLearning(-1) // ignored
	assert.InDelta(t, 0.25, p.LearningConfidence, 1e-9)

	// Clamped to [0, 1].
	p.ReinforceLearning(5)
	assert.Equal(t, 1.0, p.LearningConfidence)
	p.WeakenLearning(5)
	assert.Equal(t, 0.0, p.LearningConfidence)
}

func TestUserIntelligenceProfile_BumpPatternVersion(t *testing.T) {
	p := NewUserIntelligenceProfile("u1")
	require.Equal(t, 1, p.PatternVersion)
	require.Nil(t, p.LastPatternUpdate)

	p.BumpPatternVersion()
	assert.Equal(t, 2, p.PatternVersion)
	assert.NotNil(t, p.LastPatternUpdate)
}

func TestUserIntelligenceProfile_RecordOutcome(t *testing.T) {
	p := NewUserIntelligenceProfile("u1")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p.RecordOutcome(OutcomeSkipped, at)
	assert.Equal(t, 1, p.TotalResearchSessions)
	assert.Equal(t, 0, p.SuccessfulContacts)
	assert.Nil(t, p.LastSuccessfulContact)

	p.RecordOutcome(OutcomeContacted, at)
	assert.Equal(t, 2, p.TotalResearchSessions)
	assert.Equal(t, 1, p.SuccessfulContacts)
	require.NotNil(t, p.LastSuccessfulContact)
	assert.Equal(t, at, *p.LastSuccessfulContact)
}
