package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseFeatures() ProfileFeatures {
	return ProfileFeatures{
		Industry:        "Healthcare",
		Role:            "VP Engineering",
		Seniority:       "executive",
		CompanySize:     "201-500",
		Location:        "Austin, TX",
		YearsExperience: 12,
		YearsInIndustry: 10,
		QualityScores:   map[string]float64{"quality.completeness": 0.8},
		RedFlagCount:    2,
		Keywords:        []string{"ml", "platform"},
	}
}

func TestTriggerCondition_Matches(t *testing.T) {
	tests := []struct {
		name    string
		trigger TriggerCondition
		want    bool
	}{
		{
			name:    "numeric gte hit",
			trigger: TriggerCondition{Kind: TriggerNumericThreshold, Field: "years_in_industry", Op: OpGTE, Threshold: 10},
			want:    true,
		},
		{
			name:    "numeric gte miss",
			trigger: TriggerCondition{Kind: TriggerNumericThreshold, Field: "years_in_industry", Op: OpGTE, Threshold: 10.5},
			want:    false,
		},
		{
			name:    "numeric lt on quality sub-score",
			trigger: TriggerCondition{Kind: TriggerNumericThreshold, Field: "quality.completeness", Op: OpLT, Threshold: 0.9},
			want:    true,
		},
		{
			name:    "unknown numeric field never matches",
			trigger: TriggerCondition{Kind: TriggerNumericThreshold, Field: "bogus", Op: OpGTE, Threshold: 0},
			want:    false,
		},
		{
			name:    "category membership case-insensitive",
			trigger: TriggerCondition{Kind: TriggerCategoryMembership, Field: "industry", Values: []string{"healthcare", "biotech"}},
			want:    true,
		},
		{
			name:    "category membership miss",
			trigger: TriggerCondition{Kind: TriggerCategoryMembership, Field: "industry", Values: []string{"fintech"}},
			want:    false,
		},
		{
			name:    "count threshold lte hit",
			trigger: TriggerCondition{Kind: TriggerCountThreshold, Field: "red_flag_count", Op: OpLTE, Threshold: 2},
			want:    true,
		},
		{
			name:    "count threshold gt miss",
			trigger: TriggerCondition{Kind: TriggerCountThreshold, Field: "red_flag_count", Op: OpGT, Threshold: 2},
			want:    false,
		},
		{
			name:    "unknown kind never matches",
			trigger: TriggerCondition{Kind: "mystery", Field: "industry"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.trigger.Matches(baseFeatures()))
		})
	}
}

func TestTriggerCondition_Validate(t *testing.T) {
	valid := TriggerCondition{Kind: TriggerNumericThreshold, Field: "years_experience", Op: OpGTE, Threshold: 5}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		trigger TriggerCondition
	}{
		{"missing field", TriggerCondition{Kind: TriggerNumericThreshold, Op: OpGTE}},
		{"bad op", TriggerCondition{Kind: TriggerNumericThreshold, Field: "x", Op: "eq"}},
		{"category without values", TriggerCondition{Kind: TriggerCategoryMembership, Field: "industry"}},
		{"unknown kind", TriggerCondition{Kind: "mystery", Field: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.trigger.Validate())
		})
	}
}

func TestTriggerCondition_Key(t *testing.T) {
	a := TriggerCondition{Kind: TriggerCategoryMembership, Field: "industry", Values: []string{"Biotech", "healthcare"}, Weight: 0.5}
	b := TriggerCondition{Kind: TriggerCategoryMembership, Field: "industry", Values: []string{"Healthcare", "biotech"}, Weight: 0.9}

	// Value order and weight do not change structural identity.
	assert.Equal(t, a.Key(), b.Key())

	c := TriggerCondition{Kind: TriggerNumericThreshold, Field: "years_experience", Op: OpGTE, Threshold: 10}
	d := TriggerCondition{Kind: TriggerNumericThreshold, Field: "years_experience", Op: OpGTE, Threshold: 12}
	assert.NotEqual(t, c.Key(), d.Key())
}
