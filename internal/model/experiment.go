package model

import (
	"math"
	"time"
)

// ExperimentStatus is the lifecycle state of a validation experiment.
type ExperimentStatus string

const (
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentConcluded ExperimentStatus = "concluded"
	ExperimentCancelled ExperimentStatus = "cancelled"
)

// FinalDecision is the terminal verdict of a concluded experiment.
type FinalDecision string

const (
	DecisionValidated FinalDecision = "validated"
	DecisionRejected  FinalDecision = "rejected"
)

// ValidationConfig tunes one controlled experiment.
type ValidationConfig struct {
	MinUsersPerGroup      int     `json:"min_users_per_group" yaml:"min_users_per_group" mapstructure:"min_users_per_group"`
	DurationDays          int     `json:"duration_days" yaml:"duration_days" mapstructure:"duration_days"`
	SignificanceThreshold float64 `json:"significance_threshold" yaml:"significance_threshold" mapstructure:"significance_threshold"`
	MinEffectSize         float64 `json:"min_effect_size" yaml:"min_effect_size" mapstructure:"min_effect_size"`
	DesiredPower          float64 `json:"desired_power" yaml:"desired_power" mapstructure:"desired_power"`
	EarlyStopping         bool    `json:"early_stopping" yaml:"early_stopping" mapstructure:"early_stopping"`
}

// WithDefaults fills zero values with the standard experiment parameters.
func (c ValidationConfig) WithDefaults() ValidationConfig {
	if c.MinUsersPerGroup <= 0 {
		c.MinUsersPerGroup = 5
	}
	if c.DurationDays <= 0 {
		c.DurationDays = 14
	}
	if c.SignificanceThreshold <= 0 {
		c.SignificanceThreshold = 0.05
	}
	if c.MinEffectSize <= 0 {
		c.MinEffectSize = 0.05
	}
	if c.DesiredPower <= 0 {
		c.DesiredPower = 0.8
	}
	return c
}

// ValidationMetrics is a point-in-time snapshot of outcome metrics for one
// experiment group.
type ValidationMetrics struct {
	ContactRate            float64 `json:"contact_rate"`
	AvgSessionDurationSecs float64 `json:"avg_session_duration_secs"`
	SatisfactionScore      float64 `json:"satisfaction_score"`
	EfficiencyScore        float64 `json:"efficiency_score"`
	RetentionRate          float64 `json:"retention_rate"`
	SampleSize             int     `json:"sample_size"`
}

// ValidationExperiment is a controlled A/B test for one candidate pattern.
type ValidationExperiment struct {
	ID             string           `json:"id" db:"id"`
	PatternID      string           `json:"pattern_id" db:"pattern_id"`
	ControlGroup   []string         `json:"control_group" db:"control_group"`
	TreatmentGroup []string         `json:"treatment_group" db:"treatment_group"`
	Config         ValidationConfig `json:"config" db:"config"`

	BaselineMetrics  ValidationMetrics  `json:"baseline_metrics" db:"baseline_metrics"`
	ControlMetrics   *ValidationMetrics `json:"control_metrics,omitempty" db:"control_metrics"`
	TreatmentMetrics *ValidationMetrics `json:"treatment_metrics,omitempty" db:"treatment_metrics"`

	Status          ExperimentStatus `json:"status" db:"status"`
	FinalDecision   FinalDecision    `json:"final_decision,omitempty" db:"final_decision"`
	ConclusionNote  string           `json:"conclusion_note,omitempty" db:"conclusion_note"`
	PValue          *float64         `json:"p_value,omitempty" db:"p_value"`
	ObservedEffect  *float64         `json:"observed_effect,omitempty" db:"observed_effect"`
	StartedAt       time.Time        `json:"started_at" db:"started_at"`
	ConcludedAt     *time.Time       `json:"concluded_at,omitempty" db:"concluded_at"`
}

// DaysRemaining returns how many whole days are left before the experiment
// reaches its configured duration. Never negative.
func (e *ValidationExperiment) DaysRemaining(now time.Time) int {
	end := e.StartedAt.AddDate(0, 0, e.Config.DurationDays)
	if !now.Before(end) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// DurationElapsed reports whether the full configured duration has run.
func (e *ValidationExperiment) DurationElapsed(now time.Time) bool {
	return e.DaysRemaining(now) == 0
}
