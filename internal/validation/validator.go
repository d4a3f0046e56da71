// Package validation promotes discovered patterns through controlled
// experiments. A pattern reaches the validated state only by passing a
// statistically significant A/B comparison; there is no direct promotion.
package validation

import (
	"context"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

// ErrInsufficientPopulation is returned when too few eligible users exist to
// fill both experiment groups. Callers treat it as a deferral, not a failure.
var ErrInsufficientPopulation = eris.New("validation: insufficient eligible population")

// Validator orchestrates validation experiments for candidate patterns.
type Validator struct {
	store pattern.Store
	log   *zap.Logger

	// eligibilityWindow bounds which users count as active for group
	// assignment and metric computation.
	eligibilityWindow time.Duration

	now func() time.Time
}

// NewValidator creates a validator backed by the pattern store.
func NewValidator(store pattern.Store) *Validator {
	return &Validator{
		store:             store,
		log:               zap.L().With(zap.String("component", "validation")),
		eligibilityWindow: 30 * 24 * time.Hour,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// StartValidation moves a discovered pattern into testing under a new
// experiment. Eligible users are split deterministically into control and
// treatment; when either group falls short of MinUsersPerGroup the pattern
// stays discovered and ErrInsufficientPopulation is returned.
func (v *Validator) StartValidation(ctx context.Context, patternID string, cfg model.ValidationConfig) (*model.ValidationExperiment, error) {
	cfg = cfg.WithDefaults()

	p, err := v.store.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}
	if p.ValidationStatus != model.StatusDiscovered {
		return nil, eris.Errorf("validation: pattern %s is %s, expected discovered", patternID, p.ValidationStatus)
	}

	now := v.now()
	users, err := v.store.ListActiveUsers(ctx, now.Add(-v.eligibilityWindow))
	if err != nil {
		return nil, err
	}

	control, treatment := splitGroups(patternID, users)
	if len(control) < cfg.MinUsersPerGroup || len(treatment) < cfg.MinUsersPerGroup {
		return nil, eris.Wrapf(ErrInsufficientPopulation,
			"pattern %s: control=%d treatment=%d need=%d",
			patternID, len(control), len(treatment), cfg.MinUsersPerGroup)
	}

	baseline, err := v.groupMetrics(ctx, control, now)
	if err != nil {
		return nil, err
	}

	if err := v.store.TransitionStatus(ctx, patternID, model.StatusTesting); err != nil {
		return nil, err
	}

	exp := &model.ValidationExperiment{
		PatternID:       patternID,
		ControlGroup:    control,
		TreatmentGroup:  treatment,
		Config:          cfg,
		BaselineMetrics: baseline,
		Status:          model.ExperimentRunning,
		StartedAt:       now,
	}
	if err := v.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	v.log.Info("validation started",
		zap.String("pattern_id", patternID),
		zap.String("experiment_id", exp.ID),
		zap.Int("control", len(control)),
		zap.Int("treatment", len(treatment)),
	)
	return exp, nil
}

// UpdateExperimentMetrics recomputes both groups' metrics from current
// session data. Safe to call repeatedly; concluded experiments are returned
// unchanged.
func (v *Validator) UpdateExperimentMetrics(ctx context.Context, experimentID string) (*model.ValidationExperiment, error) {
	exp, err := v.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentRunning {
		return exp, nil
	}

	now := v.now()
	control, err := v.groupMetrics(ctx, exp.ControlGroup, now)
	if err != nil {
		return nil, err
	}
	treatment, err := v.groupMetrics(ctx, exp.TreatmentGroup, now)
	if err != nil {
		return nil, err
	}

	exp.ControlMetrics = &control
	exp.TreatmentMetrics = &treatment
	if err := v.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// ConcludeExperiment evaluates the experiment and, when the evidence gate is
// met, writes the final decision and moves the pattern to validated or
// deprecated. Before the configured duration has elapsed (and absent an
// early-stopping significant result) it returns the current state with no
// decision. Concluding an already concluded experiment returns the recorded
// decision without further mutation.
func (v *Validator) ConcludeExperiment(ctx context.Context, experimentID, reason string) (*model.ValidationExperiment, error) {
	exp, err := v.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.ExperimentRunning {
		return exp, nil
	}

	exp, err = v.UpdateExperimentMetrics(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	control := exp.ControlMetrics
	treatment := exp.TreatmentMetrics
	pval := twoProportionZTest(
		treatment.ContactRate, treatment.SampleSize,
		control.ContactRate, control.SampleSize,
	)
	effect := treatment.ContactRate - control.ContactRate

	significant := pval < exp.Config.SignificanceThreshold && effect >= exp.Config.MinEffectSize

	now := v.now()
	if !exp.DurationElapsed(now) && !(exp.Config.EarlyStopping && significant) {
		v.log.Debug("experiment still collecting",
			zap.String("experiment_id", experimentID),
			zap.Int("days_remaining", exp.DaysRemaining(now)),
			zap.Float64("p_value", pval),
		)
		return exp, nil
	}

	decision := model.DecisionRejected
	nextStatus := model.StatusDeprecated
	if significant {
		decision = model.DecisionValidated
		nextStatus = model.StatusValidated
	}

	if err := v.store.TransitionStatus(ctx, exp.PatternID, nextStatus); err != nil {
		return nil, err
	}

	exp.Status = model.ExperimentConcluded
	exp.FinalDecision = decision
	exp.ConclusionNote = reason
	exp.PValue = &pval
	exp.ObservedEffect = &effect
	exp.ConcludedAt = &now
	if err := v.store.UpdateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	v.log.Info("experiment concluded",
		zap.String("experiment_id", experimentID),
		zap.String("pattern_id", exp.PatternID),
		zap.String("decision", string(decision)),
		zap.Float64("p_value", pval),
		zap.Float64("effect", effect),
	)
	return exp, nil
}

// groupMetrics aggregates outcome metrics over a user group's finalized
// sessions in the eligibility window.
func (v *Validator) groupMetrics(ctx context.Context, users []string, now time.Time) (model.ValidationMetrics, error) {
	since := now.Add(-v.eligibilityWindow)
	inGroup := make(map[string]bool, len(users))
	for _, u := range users {
		inGroup[u] = true
	}

	sessions, err := v.store.ListSessions(ctx, pattern.SessionFilter{
		Since:         since,
		FinalizedOnly: true,
	})
	if err != nil {
		return model.ValidationMetrics{}, err
	}

	var (
		total, contacted  int
		durationSum       float64
		satisfactionSum   float64
		sessionsPerUser   = map[string]int{}
	)
	for _, s := range sessions {
		if !inGroup[s.UserID] {
			continue
		}
		total++
		sessionsPerUser[s.UserID]++
		durationSum += float64(s.Telemetry.TimeOnPageSecs)
		satisfactionSum += s.RelevanceRating
		if s.Outcome == model.OutcomeContacted {
			contacted++
		}
	}

	m := model.ValidationMetrics{SampleSize: total}
	if total == 0 {
		return m, nil
	}
	m.ContactRate = float64(contacted) / float64(total)
	m.AvgSessionDurationSecs = durationSum / float64(total)
	m.SatisfactionScore = satisfactionSum / float64(total)
	if m.AvgSessionDurationSecs > 0 {
		// Contacts per minute of research time.
		m.EfficiencyScore = m.ContactRate / (m.AvgSessionDurationSecs / 60)
	}
	var returning int
	for _, n := range sessionsPerUser {
		if n >= 2 {
			returning++
		}
	}
	m.RetentionRate = float64(returning) / float64(len(sessionsPerUser))
	return m, nil
}

// splitGroups assigns users to control and treatment deterministically: the
// order depends only on (patternID, userID), so repeated StartValidation
// attempts produce the same split.
func splitGroups(patternID string, users []string) (control, treatment []string) {
	type ranked struct {
		user string
		key  uint64
	}
	rankedUsers := make([]ranked, 0, len(users))
	for _, u := range users {
		h := fnv.New64a()
		h.Write([]byte(patternID))
		h.Write([]byte{0})
		h.Write([]byte(u))
		rankedUsers = append(rankedUsers, ranked{user: u, key: h.Sum64()})
	}
	sort.Slice(rankedUsers, func(i, j int) bool { return rankedUsers[i].key < rankedUsers[j].key })

	for i, r := range rankedUsers {
		if i%2 == 0 {
			control = append(control, r.user)
		} else {
			treatment = append(treatment, r.user)
		}
	}
	return control, treatment
}
