package model

// ProfileFeatures holds the structured features the analysis service derives
// from a candidate profile. Triggers evaluate against these.
type ProfileFeatures struct {
	Industry        string             `json:"industry,omitempty"`
	Role            string             `json:"role,omitempty"`
	Seniority       string             `json:"seniority,omitempty"`
	CompanySize     string             `json:"company_size,omitempty"`
	Location        string             `json:"location,omitempty"`
	YearsExperience float64            `json:"years_experience,omitempty"`
	YearsInIndustry float64            `json:"years_in_industry,omitempty"`
	QualityScores   map[string]float64 `json:"quality_scores,omitempty"`
	RedFlagCount    int                `json:"red_flag_count,omitempty"`
	Keywords        []string           `json:"keywords,omitempty"`
}

// NumericField resolves a named numeric feature. Content-quality sub-scores
// are addressable by their map key (e.g. "quality.completeness").
func (f ProfileFeatures) NumericField(name string) (float64, bool) {
	switch name {
	case "years_experience":
		return f.YearsExperience, true
	case "years_in_industry":
		return f.YearsInIndustry, true
	}
	if score, ok := f.QualityScores[name]; ok {
		return score, true
	}
	return 0, false
}

// CategoryField resolves a named categorical feature.
func (f ProfileFeatures) CategoryField(name string) (string, bool) {
	switch name {
	case "industry":
		return f.Industry, true
	case "role":
		return f.Role, true
	case "seniority":
		return f.Seniority, true
	case "company_size":
		return f.CompanySize, true
	case "location":
		return f.Location, true
	}
	return "", false
}

// CountField resolves a named count feature.
func (f ProfileFeatures) CountField(name string) (int, bool) {
	switch name {
	case "red_flag_count":
		return f.RedFlagCount, true
	case "keyword_count":
		return len(f.Keywords), true
	}
	return 0, false
}

// Analysis is the baseline scoring result for one profile, supplied by the
// profile analysis service.
type Analysis struct {
	ProfileURL      string          `json:"profile_url"`
	ConfidenceScore float64         `json:"confidence_score"`
	RelevanceScore  float64         `json:"relevance_score"`
	Features        ProfileFeatures `json:"features"`
}

// AdjustTarget names the score a pattern application adjusts.
type AdjustTarget string

const (
	AdjustConfidence AdjustTarget = "confidence"
	AdjustRelevance  AdjustTarget = "relevance"
)

// PatternApplication records one pattern's contribution to an enhanced
// analysis, for transparency to the caller.
type PatternApplication struct {
	PatternID         string       `json:"pattern_id"`
	PatternType       PatternType  `json:"pattern_type"`
	Field             string       `json:"field"`
	Target            AdjustTarget `json:"target"`
	Adjustment        float64      `json:"adjustment"`
	PatternConfidence float64      `json:"pattern_confidence"`
}

// LearningImpact summarizes how much learned patterns moved an analysis.
type LearningImpact struct {
	ConfidenceImprovement float64 `json:"confidence_improvement"`
	LearningStrength      float64 `json:"learning_strength"`
	PatternsApplied       int     `json:"patterns_applied"`
}

// EnhancedAnalysis is a baseline analysis plus the adjustments learned
// patterns contributed. When no patterns apply (or learning is degraded),
// the scores equal the baseline and Applications is empty.
type EnhancedAnalysis struct {
	Analysis
	BaselineConfidence float64              `json:"baseline_confidence"`
	BaselineRelevance  float64              `json:"baseline_relevance"`
	Applications       []PatternApplication `json:"applications,omitempty"`
	Impact             LearningImpact       `json:"learning_impact"`
}
