package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationConfig_WithDefaults(t *testing.T) {
	cfg := ValidationConfig{}.WithDefaults()
	assert.Equal(t, 5, cfg.MinUsersPerGroup)
	assert.Equal(t, 14, cfg.DurationDays)
	assert.Equal(t, 0.05, cfg.SignificanceThreshold)
	assert.Equal(t, 0.05, cfg.MinEffectSize)
	assert.Equal(t, 0.8, cfg.DesiredPower)

	// Explicit values survive.
	custom := ValidationConfig{MinUsersPerGroup: 20, DurationDays: 7, EarlyStopping: true}.WithDefaults()
	assert.Equal(t, 20, custom.MinUsersPerGroup)
	assert.Equal(t, 7, custom.DurationDays)
	assert.True(t, custom.EarlyStopping)
}

func TestValidationExperiment_DaysRemaining(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := &ValidationExperiment{
		StartedAt: start,
		Config:    ValidationConfig{DurationDays: 14}.WithDefaults(),
	}

	assert.Equal(t, 14, exp.DaysRemaining(start))
	assert.Equal(t, 7, exp.DaysRemaining(start.AddDate(0, 0, 7)))
	assert.Equal(t, 0, exp.DaysRemaining(start.AddDate(0, 0, 14)))
	assert.Equal(t, 0, exp.DaysRemaining(start.AddDate(0, 0, 30)))

	assert.False(t, exp.DurationElapsed(start.AddDate(0, 0, 13)))
	assert.True(t, exp.DurationElapsed(start.AddDate(0, 0, 14)))
}
