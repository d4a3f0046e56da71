// Package discovery mines finalized research sessions for candidate
// behavioral patterns: threshold correlations on numeric and count features,
// and categorical lift over a user's baseline outcome rate. Candidates enter
// the store in the discovered state; promotion is the validation system's job.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

// Config tunes the discovery engine's evidence thresholds.
type Config struct {
	// MinSupportingSessions is the minimum number of sessions that must agree
	// on one outcome before a candidate is emitted. Default: 4.
	MinSupportingSessions int `yaml:"min_supporting_sessions" mapstructure:"min_supporting_sessions"`

	// MinConfidence is the minimum support/(support+contradict) ratio.
	// Default: 0.5.
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`

	// BaselineLift is the factor by which a categorical outcome rate must
	// exceed the user's baseline rate. Default: 1.2.
	BaselineLift float64 `yaml:"baseline_lift" mapstructure:"baseline_lift"`

	// LookbackDays is the default session window. Default: 30.
	LookbackDays int `yaml:"lookback_days" mapstructure:"lookback_days"`

	// MaxConcurrency bounds the per-user fan-out. Default: 4.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// CatalogPath optionally overrides the embedded field catalog.
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// WithDefaults fills zero values with the standard thresholds.
func (c Config) WithDefaults() Config {
	if c.MinSupportingSessions <= 0 {
		c.MinSupportingSessions = 4
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.BaselineLift <= 0 {
		c.BaselineLift = 1.2
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	return c
}

// Options selects the scope of one discovery run.
type Options struct {
	// LookbackDays overrides the configured session window when positive.
	LookbackDays int
	// UserID restricts the run to one user when set.
	UserID string
}

// Result summarizes one discovery run. A per-user mining failure increments
// UnitsFailed and never aborts the batch.
type Result struct {
	Emitted        int       `json:"emitted"`
	Merged         int       `json:"merged"`
	UnitsProcessed int       `json:"units_processed"`
	UnitsFailed    int       `json:"units_failed"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// Engine mines sessions for patterns and persists candidates.
type Engine struct {
	store   pattern.Store
	catalog *Catalog
	cfg     Config
	log     *zap.Logger
}

// NewEngine creates a discovery engine. A nil catalog uses the embedded
// default.
func NewEngine(store pattern.Store, catalog *Catalog, cfg Config) (*Engine, error) {
	if catalog == nil {
		var err error
		catalog, err = LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		cfg:     cfg.WithDefaults(),
		log:     zap.L().With(zap.String("component", "discovery")),
	}, nil
}

// DiscoverPatterns runs one mining pass over finalized sessions in the
// lookback window, fanned out per user with bounded concurrency.
func (e *Engine) DiscoverPatterns(ctx context.Context, opts Options) (*Result, error) {
	lookback := e.cfg.LookbackDays
	if opts.LookbackDays > 0 {
		lookback = opts.LookbackDays
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -lookback)

	sessions, err := e.store.ListSessions(ctx, pattern.SessionFilter{
		UserID:        opts.UserID,
		Since:         since,
		FinalizedOnly: true,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{WindowStart: since, WindowEnd: now}
	byUser := groupByUser(sessions)
	if len(byUser) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for userID, userSessions := range byUser {
		g.Go(func() error {
			candidates := e.mineUser(userID, userSessions)

			var emitted, merged int
			var unitErr error
			for _, cand := range candidates {
				if _, wasMerge, err := e.store.SavePattern(gctx, cand); err != nil {
					unitErr = err
					break
				} else if wasMerge {
					merged++
				} else {
					emitted++
				}
			}

			mu.Lock()
			defer mu.Unlock()
			result.UnitsProcessed++
			result.Emitted += emitted
			result.Merged += merged
			if unitErr != nil {
				result.UnitsFailed++
				e.log.Warn("user mining pass failed",
					zap.String("user_id", userID),
					zap.Int("sessions", len(userSessions)),
					zap.Error(unitErr),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Info("discovery run complete",
		zap.Int("users", result.UnitsProcessed),
		zap.Int("emitted", result.Emitted),
		zap.Int("merged", result.Merged),
		zap.Int("failed", result.UnitsFailed),
	)
	return result, nil
}

// mineUser runs every catalog miner over one user's sessions.
func (e *Engine) mineUser(userID string, sessions []model.ResearchSession) []*model.DiscoveredPattern {
	var out []*model.DiscoveredPattern
	out = append(out, e.mineNumeric(userID, sessions)...)
	out = append(out, e.mineCounts(userID, sessions)...)
	out = append(out, e.mineCategorical(userID, sessions)...)
	return out
}

func (e *Engine) mineNumeric(userID string, sessions []model.ResearchSession) []*model.DiscoveredPattern {
	var out []*model.DiscoveredPattern
	for _, spec := range e.catalog.NumericFields {
		for _, threshold := range spec.Thresholds {
			trigger := model.TriggerCondition{
				Kind:      model.TriggerNumericThreshold,
				Field:     spec.Field,
				Op:        model.CompareOp(spec.Op),
				Threshold: threshold,
			}
			if cand := e.correlate(userID, sessions, trigger, "threshold_correlation"); cand != nil {
				out = append(out, cand)
			}
		}
	}
	return out
}

func (e *Engine) mineCounts(userID string, sessions []model.ResearchSession) []*model.DiscoveredPattern {
	var out []*model.DiscoveredPattern
	for _, spec := range e.catalog.CountFields {
		for _, threshold := range spec.Thresholds {
			trigger := model.TriggerCondition{
				Kind:      model.TriggerCountThreshold,
				Field:     spec.Field,
				Op:        model.CompareOp(spec.Op),
				Threshold: float64(threshold),
			}
			if cand := e.correlate(userID, sessions, trigger, "count_correlation"); cand != nil {
				out = append(out, cand)
			}
		}
	}
	return out
}

// correlate buckets the sessions the trigger matches by outcome and emits a
// candidate when the dominant outcome has enough agreeing evidence.
func (e *Engine) correlate(userID string, sessions []model.ResearchSession, trigger model.TriggerCondition, method string) *model.DiscoveredPattern {
	byOutcome := map[model.SessionOutcome][]string{}
	var matched int
	for _, s := range sessions {
		if !trigger.Matches(s.Features) {
			continue
		}
		matched++
		byOutcome[s.Outcome] = append(byOutcome[s.Outcome], s.ID)
	}

	outcome, supporting := dominantOutcome(byOutcome)
	support := len(supporting)
	if support < e.cfg.MinSupportingSessions {
		return nil
	}
	confidence := float64(support) / float64(matched)
	if confidence < e.cfg.MinConfidence {
		return nil
	}

	trigger.Weight = confidence
	return &model.DiscoveredPattern{
		PatternType:           patternTypeFor(trigger.Field, outcome),
		Trigger:               trigger,
		ExpectedOutcome:       outcome,
		ConfidenceScore:       confidence,
		SupportingSessions:    supporting,
		ContradictingSessions: matched - support,
		UserID:                userID,
		ValidationStatus:      model.StatusDiscovered,
		DiscoveryMethod:       method,
	}
}

// mineCategorical emits category patterns whose outcome rate lifts above the
// user's baseline rate for that outcome.
func (e *Engine) mineCategorical(userID string, sessions []model.ResearchSession) []*model.DiscoveredPattern {
	total := len(sessions)
	if total == 0 {
		return nil
	}

	baseline := map[model.SessionOutcome]float64{}
	for _, s := range sessions {
		baseline[s.Outcome]++
	}
	for o := range baseline {
		baseline[o] /= float64(total)
	}

	var out []*model.DiscoveredPattern
	for _, field := range e.catalog.CategoricalFields {
		byValue := map[string]map[model.SessionOutcome][]string{}
		for _, s := range sessions {
			v, ok := s.Features.CategoryField(field)
			if !ok || v == "" {
				continue
			}
			v = strings.ToLower(v)
			if byValue[v] == nil {
				byValue[v] = map[model.SessionOutcome][]string{}
			}
			byValue[v][s.Outcome] = append(byValue[v][s.Outcome], s.ID)
		}

		for value, byOutcome := range byValue {
			outcome, supporting := dominantOutcome(byOutcome)
			support := len(supporting)
			if support < e.cfg.MinSupportingSessions {
				continue
			}
			var valueTotal int
			for _, ids := range byOutcome {
				valueTotal += len(ids)
			}
			rate := float64(support) / float64(valueTotal)
			if rate < e.cfg.MinConfidence {
				continue
			}
			base := baseline[outcome]
			if base <= 0 || rate < base*e.cfg.BaselineLift {
				continue
			}

			out = append(out, &model.DiscoveredPattern{
				PatternType: patternTypeFor(field, outcome),
				Trigger: model.TriggerCondition{
					Kind:   model.TriggerCategoryMembership,
					Field:  field,
					Values: []string{value},
					Weight: rate,
				},
				ExpectedOutcome:       outcome,
				ConfidenceScore:       rate,
				SupportingSessions:    supporting,
				ContradictingSessions: valueTotal - support,
				UserID:                userID,
				ValidationStatus:      model.StatusDiscovered,
				DiscoveryMethod:       "categorical_lift",
			})
		}
	}
	return out
}

// dominantOutcome returns the outcome with the most supporting sessions.
// Ties break deterministically by outcome name.
func dominantOutcome(byOutcome map[model.SessionOutcome][]string) (model.SessionOutcome, []string) {
	outcomes := make([]model.SessionOutcome, 0, len(byOutcome))
	for o := range byOutcome {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	var best model.SessionOutcome
	var bestIDs []string
	for _, o := range outcomes {
		if len(byOutcome[o]) > len(bestIDs) {
			best = o
			bestIDs = byOutcome[o]
		}
	}
	return best, bestIDs
}

func patternTypeFor(field string, outcome model.SessionOutcome) model.PatternType {
	if field == "industry" {
		return model.PatternIndustrySignal
	}
	switch outcome {
	case model.OutcomeContacted:
		return model.PatternSuccessIndicator
	case model.OutcomeSkipped, model.OutcomeFlaggedInappropriate:
		return model.PatternQualityIndicator
	default:
		return model.PatternUserPreference
	}
}

func groupByUser(sessions []model.ResearchSession) map[string][]model.ResearchSession {
	byUser := map[string][]model.ResearchSession{}
	for _, s := range sessions {
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}
	return byUser
}
