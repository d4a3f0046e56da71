package learning

import (
	"math"
	"strings"

	"github.com/sells-group/contact-intel/internal/model"
)

// Cue is one signal lifted from a feedback transcript: a sentiment about one
// aspect of the researched profile. Strength counts the corroborating
// keywords behind the cue.
type Cue struct {
	Sentiment string `json:"sentiment"` // positive | negative
	Aspect    string `json:"aspect"`    // experience | industry | role | quality | red_flags | general
	Strength  int    `json:"strength"`
}

const (
	sentimentPositive = "positive"
	sentimentNegative = "negative"

	aspectExperience = "experience"
	aspectIndustry   = "industry"
	aspectRole       = "role"
	aspectQuality    = "quality"
	aspectRedFlags   = "red_flags"
	aspectGeneral    = "general"
)

var praiseKeywords = []string{
	"great", "perfect", "excellent", "exactly", "ideal", "love", "strong",
	"impressive", "good fit", "spot on", "promising",
}

var negativeKeywords = []string{
	"wrong", "bad", "irrelevant", "not a fit", "poor", "weak", "off base",
	"useless", "too junior", "not interested", "waste",
}

var aspectKeywords = map[string][]string{
	aspectExperience: {"experience", "experienced", "veteran", "years", "senior", "seasoned", "junior"},
	aspectIndustry:   {"industry", "sector", "space", "field", "market"},
	aspectRole:       {"role", "title", "position", "job"},
	aspectQuality:    {"profile", "complete", "detailed", "thorough", "sparse", "thin", "outdated"},
	aspectRedFlags:   {"red flag", "spam", "fake", "suspicious", "inappropriate"},
}

// extractCues applies the rule table to a transcript. It is the fallback
// when no interpreter is configured or the interpreter fails.
func extractCues(transcript string) []Cue {
	text := strings.ToLower(transcript)

	praise := countMatches(text, praiseKeywords)
	negative := countMatches(text, negativeKeywords)
	if praise == 0 && negative == 0 {
		return nil
	}

	sentiment := sentimentPositive
	strength := praise
	if negative > praise {
		sentiment = sentimentNegative
		strength = negative
	}

	var cues []Cue
	for aspect, keywords := range aspectKeywords {
		if n := countMatches(text, keywords); n > 0 {
			cues = append(cues, Cue{Sentiment: sentiment, Aspect: aspect, Strength: strength + n - 1})
		}
	}
	if len(cues) == 0 {
		cues = append(cues, Cue{Sentiment: sentiment, Aspect: aspectGeneral, Strength: strength})
	}
	return cues
}

func countMatches(text string, keywords []string) int {
	var n int
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// cueConfidence maps corroborating-keyword strength into [0.7, 0.9] in
// exact 0.05 steps. Rounding keeps a strength-3 cue at precisely 0.80 so
// it is not dropped by the persist-threshold comparison.
func cueConfidence(strength int) float64 {
	conf := math.Round(100*(0.7+0.05*float64(strength-1))) / 100
	if conf > 0.9 {
		conf = 0.9
	}
	if conf < 0.7 {
		conf = 0.7
	}
	return conf
}

// candidatesFromCues turns cues into candidate patterns by pairing each cue
// with the profile evidence that supports it. Cues without matching evidence
// produce nothing.
func candidatesFromCues(cues []Cue, sessionID, userID string, features model.ProfileFeatures) []*model.DiscoveredPattern {
	var out []*model.DiscoveredPattern
	for _, cue := range cues {
		trigger, ok := triggerForCue(cue, features)
		if !ok {
			continue
		}

		outcome := model.OutcomeContacted
		if cue.Sentiment == sentimentNegative {
			outcome = model.OutcomeSkipped
		}

		conf := cueConfidence(cue.Strength)
		trigger.Weight = conf
		out = append(out, &model.DiscoveredPattern{
			PatternType:        patternTypeForAspect(cue.Aspect, outcome),
			Trigger:            trigger,
			ExpectedOutcome:    outcome,
			ConfidenceScore:    conf,
			SupportingSessions: []string{sessionID},
			UserID:             userID,
			ValidationStatus:   model.StatusDiscovered,
			DiscoveryMethod:    "voice_feedback",
		})
	}
	return out
}

func triggerForCue(cue Cue, f model.ProfileFeatures) (model.TriggerCondition, bool) {
	switch cue.Aspect {
	case aspectExperience:
		if f.YearsInIndustry <= 0 {
			return model.TriggerCondition{}, false
		}
		return model.TriggerCondition{
			Kind:      model.TriggerNumericThreshold,
			Field:     "years_in_industry",
			Op:        model.OpGTE,
			Threshold: experienceThreshold(f.YearsInIndustry),
		}, true
	case aspectIndustry:
		if f.Industry == "" {
			return model.TriggerCondition{}, false
		}
		return model.TriggerCondition{
			Kind:   model.TriggerCategoryMembership,
			Field:  "industry",
			Values: []string{strings.ToLower(f.Industry)},
		}, true
	case aspectRole:
		if f.Role == "" {
			return model.TriggerCondition{}, false
		}
		return model.TriggerCondition{
			Kind:   model.TriggerCategoryMembership,
			Field:  "role",
			Values: []string{strings.ToLower(f.Role)},
		}, true
	case aspectQuality:
		if _, ok := f.QualityScores["completeness"]; !ok {
			return model.TriggerCondition{}, false
		}
		return model.TriggerCondition{
			Kind:      model.TriggerNumericThreshold,
			Field:     "completeness",
			Op:        model.OpGTE,
			Threshold: 0.7,
		}, true
	case aspectRedFlags:
		return model.TriggerCondition{
			Kind:      model.TriggerCountThreshold,
			Field:     "red_flag_count",
			Op:        model.OpGTE,
			Threshold: 1,
		}, true
	default:
		return model.TriggerCondition{}, false
	}
}

// experienceThreshold snaps observed experience onto the catalog's candidate
// thresholds so voice-derived patterns merge with mined ones.
func experienceThreshold(years float64) float64 {
	switch {
	case years >= 10:
		return 10
	case years >= 5:
		return 5
	default:
		return 3
	}
}

func patternTypeForAspect(aspect string, outcome model.SessionOutcome) model.PatternType {
	switch aspect {
	case aspectIndustry:
		return model.PatternIndustrySignal
	case aspectQuality, aspectRedFlags:
		return model.PatternQualityIndicator
	case aspectExperience:
		if outcome == model.OutcomeContacted {
			return model.PatternSuccessIndicator
		}
		return model.PatternUserPreference
	default:
		return model.PatternUserPreference
	}
}
