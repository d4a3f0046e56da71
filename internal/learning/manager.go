// Package learning is the real-time side of the system: it keeps a working
// set of patterns per active research session, extracts candidate patterns
// from user feedback as it arrives, and applies learned patterns to new
// profile analyses. Learning is an enhancement: any failure degrades to the
// baseline analysis instead of surfacing an error to the caller.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

// ErrUnknownSession is returned for operations on a session that was never
// initialized (or was already closed).
var ErrUnknownSession = eris.New("learning: unknown session")

// Config tunes the session learning manager.
type Config struct {
	// PersistThreshold is the confidence at which extracted patterns are
	// persisted immediately. Default: 0.8.
	PersistThreshold float64 `yaml:"persist_threshold" mapstructure:"persist_threshold"`

	// WorkingSetFloor is the minimum confidence for non-validated stored
	// patterns to be loaded into a session's working set. Default: 0.7.
	WorkingSetFloor float64 `yaml:"working_set_floor" mapstructure:"working_set_floor"`

	// AdjustmentScale converts a pattern's confidence into a score
	// adjustment magnitude. Default: 0.05.
	AdjustmentScale float64 `yaml:"adjustment_scale" mapstructure:"adjustment_scale"`

	// BatchSize bounds one feedback batch pass. Default: 200.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// WithDefaults fills zero values with the standard tuning.
func (c Config) WithDefaults() Config {
	if c.PersistThreshold <= 0 {
		c.PersistThreshold = 0.8
	}
	if c.WorkingSetFloor <= 0 {
		c.WorkingSetFloor = 0.7
	}
	if c.AdjustmentScale <= 0 {
		c.AdjustmentScale = 0.05
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// SessionMetrics is a read-only snapshot of one session's learning activity.
type SessionMetrics struct {
	SessionID             string    `json:"session_id"`
	UserID                string    `json:"user_id"`
	WorkingSetSize        int       `json:"working_set_size"`
	PatternsExtracted     int       `json:"patterns_extracted"`
	PatternsApplied       int       `json:"patterns_applied"`
	CumulativeImprovement float64   `json:"cumulative_improvement"`
	StartedAt             time.Time `json:"started_at"`
}

// BatchResult summarizes one feedback batch pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// sessionState is one session's working set. The arena mutex guards the map
// only; per-session state is single-caller by contract.
type sessionState struct {
	sessionID string
	userID    string
	working   []*model.DiscoveredPattern

	// appliedOutcomes tracks which stored patterns influenced this session's
	// analyses, keyed by pattern id, so the session's final outcome can be
	// booked against each as a hit or miss.
	appliedOutcomes map[string]model.SessionOutcome

	extracted             int
	applied               int
	cumulativeImprovement float64
	startedAt             time.Time
}

// Manager owns the session arena and the learning operations.
type Manager struct {
	store  pattern.Store
	interp *Interpreter
	cfg    Config
	log    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewManager creates a session learning manager. The interpreter is
// optional; pass nil to rely on the rule table alone.
func NewManager(store pattern.Store, interp *Interpreter, cfg Config) *Manager {
	return &Manager{
		store:    store,
		interp:   interp,
		cfg:      cfg.WithDefaults(),
		log:      zap.L().With(zap.String("component", "learning")),
		sessions: make(map[string]*sessionState),
	}
}

// InitializeSession creates the session's working set, preloading the user's
// validated and high-confidence stored patterns. Calling it again for a live
// session is a no-op.
func (m *Manager) InitializeSession(ctx context.Context, sessionID, userID string) error {
	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	state := &sessionState{
		sessionID: sessionID,
		userID:    userID,
		startedAt: time.Now().UTC(),
	}

	stored, err := m.store.FindApplicable(ctx, userID, nil, nil)
	if err != nil {
		// Degraded start: the session still works, patterns arrive via
		// feedback extraction only.
		m.log.Warn("working set preload failed",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	} else {
		for i := range stored {
			p := stored[i]
			if p.ValidationStatus == model.StatusValidated || p.ConfidenceScore >= m.cfg.WorkingSetFloor {
				state.working = append(state.working, &p)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return nil
	}
	m.sessions[sessionID] = state
	return nil
}

// ProcessVoiceFeedback records the feedback interaction and synchronously
// extracts candidate patterns from its transcript. Extracted patterns join
// the session's working set; those at or above the persist threshold are
// stored immediately. Returns the extracted patterns.
func (m *Manager) ProcessVoiceFeedback(ctx context.Context, sessionID string, fb *model.FeedbackInteraction, features model.ProfileFeatures) ([]*model.DiscoveredPattern, error) {
	state, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	fb.SessionID = sessionID
	fb.UserID = state.userID
	if err := m.store.InsertFeedback(ctx, fb); err != nil {
		return nil, err
	}

	voice, ok := fb.Voice()
	if !ok {
		return nil, nil
	}

	cues := m.interpretCues(ctx, voice.Transcript)
	candidates := candidatesFromCues(cues, sessionID, state.userID, features)
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, cand := range candidates {
		state.working = append(state.working, cand)
		state.extracted++

		if cand.ConfidenceScore >= m.cfg.PersistThreshold {
			stored, merged, err := m.store.SavePattern(ctx, cand)
			if err != nil {
				m.log.Warn("immediate pattern persist failed",
					zap.String("session_id", sessionID),
					zap.String("dedup_key", cand.DedupKey()),
					zap.Error(err),
				)
				continue
			}
			*cand = *stored
			if merged {
				m.log.Debug("extracted pattern merged into stored pattern",
					zap.String("pattern_id", stored.ID))
			}
		}
	}

	m.log.Info("voice feedback processed",
		zap.String("session_id", sessionID),
		zap.Int("cues", len(cues)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// interpretCues prefers the Claude interpreter and falls back to the rule
// table on any error.
func (m *Manager) interpretCues(ctx context.Context, transcript string) []Cue {
	if m.interp != nil {
		cues, err := m.interp.Interpret(ctx, transcript)
		if err == nil {
			return cues
		}
		m.log.Warn("interpreter failed, using rule table", zap.Error(err))
	}
	return extractCues(transcript)
}

// ApplyPatternsToProfile scores a new profile with every applicable pattern:
// the session working set plus the user's stored patterns. Each match
// contributes a signed, confidence-weighted adjustment; conflicting
// adjustments sum. Any failure returns the baseline unchanged — learning
// never blocks an analysis.
func (m *Manager) ApplyPatternsToProfile(ctx context.Context, sessionID string, baseline model.Analysis) model.EnhancedAnalysis {
	enhanced := model.EnhancedAnalysis{
		Analysis:           baseline,
		BaselineConfidence: baseline.ConfidenceScore,
		BaselineRelevance:  baseline.RelevanceScore,
	}

	state, err := m.session(sessionID)
	if err != nil {
		m.log.Warn("apply on unknown session, returning baseline",
			zap.String("session_id", sessionID))
		return enhanced
	}

	stored, err := m.store.FindApplicable(ctx, state.userID,
		scopeList(baseline.Features.Industry), scopeList(baseline.Features.Role))
	if err != nil {
		m.log.Warn("pattern lookup failed, returning baseline",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return enhanced
	}

	candidates := mergeWorkingSet(state.working, stored)

	confidence := baseline.ConfidenceScore
	relevance := baseline.RelevanceScore
	var strengthSum float64

	for _, p := range candidates {
		if !p.Trigger.Matches(baseline.Features) {
			continue
		}
		direction := outcomeDirection(p.ExpectedOutcome)
		if direction == 0 {
			continue
		}

		adjustment := direction * m.cfg.AdjustmentScale * p.ConfidenceScore
		target := adjustTarget(p.PatternType)
		switch target {
		case model.AdjustRelevance:
			relevance += adjustment
		default:
			confidence += adjustment
		}

		enhanced.Applications = append(enhanced.Applications, model.PatternApplication{
			PatternID:         p.ID,
			PatternType:       p.PatternType,
			Field:             p.Trigger.Field,
			Target:            target,
			Adjustment:        adjustment,
			PatternConfidence: p.ConfidenceScore,
		})
		strengthSum += p.ConfidenceScore

		// Unpersisted working-set candidates have no id to book against yet.
		if p.ID != "" {
			if state.appliedOutcomes == nil {
				state.appliedOutcomes = make(map[string]model.SessionOutcome)
			}
			state.appliedOutcomes[p.ID] = p.ExpectedOutcome
		}
	}

	enhanced.ConfidenceScore = clamp01(confidence)
	enhanced.RelevanceScore = clamp01(relevance)
	enhanced.Impact = model.LearningImpact{
		ConfidenceImprovement: enhanced.ConfidenceScore - baseline.ConfidenceScore,
		PatternsApplied:       len(enhanced.Applications),
	}
	if n := len(enhanced.Applications); n > 0 {
		enhanced.Impact.LearningStrength = strengthSum / float64(n)
	}

	state.applied += len(enhanced.Applications)
	state.cumulativeImprovement += enhanced.Impact.ConfidenceImprovement
	return enhanced
}

// SaveSessionPatterns flushes working-set patterns at or above the persist
// threshold through the store's dedup rule. Returns how many were written.
func (m *Manager) SaveSessionPatterns(ctx context.Context, sessionID string) (int, error) {
	state, err := m.session(sessionID)
	if err != nil {
		return 0, err
	}

	var saved int
	for _, p := range state.working {
		if p.ConfidenceScore < m.cfg.PersistThreshold {
			continue
		}
		stored, _, err := m.store.SavePattern(ctx, p)
		if err != nil {
			return saved, err
		}
		*p = *stored
		saved++
	}
	return saved, nil
}

// ReconcileOutcome books the session's final outcome against every stored
// pattern that influenced its analyses: a pattern whose expected outcome
// matches the real one is corroborated, any other is contradicted. A failing
// record is logged and skipped so finalization never blocks on bookkeeping.
func (m *Manager) ReconcileOutcome(ctx context.Context, sessionID string, outcome model.SessionOutcome) error {
	state, err := m.session(sessionID)
	if err != nil {
		return err
	}
	for id, expected := range state.appliedOutcomes {
		if err := m.store.RecordApplication(ctx, id, outcome == expected); err != nil {
			m.log.Warn("pattern application record failed",
				zap.String("session_id", sessionID),
				zap.String("pattern_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}

// CloseSession flushes the working set and releases the session's arena
// entry. Closing an unknown session is a no-op.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	if _, err := m.session(sessionID); err != nil {
		return nil
	}
	_, err := m.SaveSessionPatterns(ctx, sessionID)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return err
}

// GetSessionMetrics returns a read-only snapshot of one session.
func (m *Manager) GetSessionMetrics(sessionID string) (SessionMetrics, bool) {
	state, err := m.session(sessionID)
	if err != nil {
		return SessionMetrics{}, false
	}
	return SessionMetrics{
		SessionID:             state.sessionID,
		UserID:                state.userID,
		WorkingSetSize:        len(state.working),
		PatternsExtracted:     state.extracted,
		PatternsApplied:       state.applied,
		CumulativeImprovement: state.cumulativeImprovement,
		StartedAt:             state.startedAt,
	}, true
}

// ProcessFeedbackBatch consumes unprocessed feedback interactions exactly
// once, updating each user's profile counters and learning confidence. A
// failing interaction is logged and skipped; it stays unprocessed for the
// next pass.
func (m *Manager) ProcessFeedbackBatch(ctx context.Context) (BatchResult, error) {
	pending, err := m.store.ListUnprocessedFeedback(ctx, m.cfg.BatchSize)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, fb := range pending {
		if err := m.processFeedback(ctx, fb); err != nil {
			res.Failed++
			m.log.Warn("feedback processing failed",
				zap.String("feedback_id", fb.ID),
				zap.String("type", string(fb.FeedbackType)),
				zap.Error(err),
			)
			continue
		}
		res.Processed++
	}

	if res.Processed > 0 || res.Failed > 0 {
		m.log.Info("feedback batch complete",
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (m *Manager) processFeedback(ctx context.Context, fb model.FeedbackInteraction) error {
	profile, err := m.store.GetOrCreateProfile(ctx, fb.UserID)
	if err != nil {
		return err
	}

	positive := feedbackDirection(fb)
	delta := fb.LearningValue
	if delta <= 0 {
		delta = 0.02
	}

	profile.FeedbackInteractions++
	if positive {
		profile.ReinforceLearning(delta)
	} else {
		profile.WeakenLearning(delta)
	}
	profile.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateProfile(ctx, profile); err != nil {
		return err
	}

	results, err := json.Marshal(map[string]any{
		"direction": map[bool]string{true: "reinforce", false: "weaken"}[positive],
		"delta":     delta,
	})
	if err != nil {
		return eris.Wrap(err, "learning: marshal feedback results")
	}
	return m.store.MarkFeedbackProcessed(ctx, fb.ID, results)
}

// feedbackDirection classifies an interaction as corroborating or
// contradicting the system's learned behavior.
func feedbackDirection(fb model.FeedbackInteraction) bool {
	switch fb.FeedbackType {
	case model.FeedbackExplicitRating:
		var rp model.RatingPayload
		if len(fb.Payload) > 0 && json.Unmarshal(fb.Payload, &rp) == nil {
			return rp.Rating >= 3.5
		}
		return false
	case model.FeedbackPatternCorrection:
		return false
	default:
		if voice, ok := fb.Voice(); ok {
			cues := extractCues(voice.Transcript)
			for _, c := range cues {
				if c.Sentiment == sentimentNegative {
					return false
				}
			}
			return len(cues) > 0 || voice.Rating >= 3.5
		}
		return fb.LearningValue > 0
	}
}

func (m *Manager) session(sessionID string) (*sessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[sessionID]
	if !ok {
		return nil, eris.Wrap(ErrUnknownSession, sessionID)
	}
	return state, nil
}

// mergeWorkingSet combines working-set and stored patterns, deduplicating on
// structural identity. Working-set entries win so freshly extracted evidence
// is not shadowed by an older stored copy.
func mergeWorkingSet(working []*model.DiscoveredPattern, stored []model.DiscoveredPattern) []*model.DiscoveredPattern {
	out := make([]*model.DiscoveredPattern, 0, len(working)+len(stored))
	seen := make(map[string]bool, len(working))
	for _, p := range working {
		key := fmt.Sprintf("%s|%s", p.UserID, p.DedupKey())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	for i := range stored {
		p := stored[i]
		key := fmt.Sprintf("%s|%s", p.UserID, p.DedupKey())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &p)
	}
	return out
}

func outcomeDirection(outcome model.SessionOutcome) float64 {
	switch outcome {
	case model.OutcomeContacted, model.OutcomeSavedForLater:
		return 1
	case model.OutcomeSkipped, model.OutcomeFlaggedInappropriate:
		return -1
	default:
		return 0
	}
}

func adjustTarget(t model.PatternType) model.AdjustTarget {
	switch t {
	case model.PatternIndustrySignal, model.PatternUserPreference, model.PatternContext:
		return model.AdjustRelevance
	default:
		return model.AdjustConfidence
	}
}

func scopeList(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
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
