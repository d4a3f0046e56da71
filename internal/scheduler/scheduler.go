// Package scheduler drives the background jobs that keep the pattern
// lifecycle moving: periodic discovery runs, experiment maintenance, and
// feedback batch processing.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/config"
	"github.com/sells-group/contact-intel/internal/discovery"
	"github.com/sells-group/contact-intel/internal/learning"
	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
	"github.com/sells-group/contact-intel/internal/resilience"
	"github.com/sells-group/contact-intel/internal/validation"
)

// Scheduler owns the periodic job loops.
type Scheduler struct {
	store     pattern.Store
	engine    *discovery.Engine
	validator *validation.Validator
	manager   *learning.Manager
	cfg       config.SchedulerConfig
	valCfg    model.ValidationConfig
	retry     resilience.RetryConfig
	log       *zap.Logger
}

// New creates a scheduler over the assembled subsystems. Discovery runs
// retry transient store failures with the standard backoff.
func New(store pattern.Store, engine *discovery.Engine, validator *validation.Validator, manager *learning.Manager, cfg config.SchedulerConfig, valCfg model.ValidationConfig) *Scheduler {
	retry := resilience.StoreRetryConfig()
	retry.OnRetry = resilience.RetryLogger("scheduler", "discovery")
	return &Scheduler{
		store:     store,
		engine:    engine,
		validator: validator,
		manager:   manager,
		cfg:       cfg,
		valCfg:    valCfg,
		retry:     retry,
		log:       zap.L().With(zap.String("component", "scheduler")),
	}
}

// Run starts the job loops. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	discoveryEvery := time.Duration(s.cfg.DiscoveryIntervalHours) * time.Hour
	if discoveryEvery <= 0 {
		discoveryEvery = 24 * time.Hour
	}
	validationEvery := time.Duration(s.cfg.ValidationIntervalHours) * time.Hour
	if validationEvery <= 0 {
		validationEvery = 6 * time.Hour
	}
	feedbackEvery := time.Duration(s.cfg.FeedbackIntervalSecs) * time.Second
	if feedbackEvery <= 0 {
		feedbackEvery = time.Minute
	}

	s.log.Info("starting scheduler",
		zap.Duration("discovery_interval", discoveryEvery),
		zap.Duration("validation_interval", validationEvery),
		zap.Duration("feedback_interval", feedbackEvery),
	)

	discoveryTicker := time.NewTicker(discoveryEvery)
	defer discoveryTicker.Stop()
	validationTicker := time.NewTicker(validationEvery)
	defer validationTicker.Stop()
	feedbackTicker := time.NewTicker(feedbackEvery)
	defer feedbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-discoveryTicker.C:
			s.RunDiscovery(ctx, 0)
		case <-validationTicker.C:
			s.RunValidationSweep(ctx)
		case <-feedbackTicker.C:
			s.RunFeedbackBatch(ctx)
		}
	}
}

// RunDiscovery mines recent sessions for new patterns and enrolls eligible
// candidates into validation. A non-positive lookback uses the engine's
// configured window.
func (s *Scheduler) RunDiscovery(ctx context.Context, lookbackDays int) {
	var result *discovery.Result
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		result, err = s.engine.DiscoverPatterns(ctx, discovery.Options{LookbackDays: lookbackDays})
		return err
	})
	if err != nil {
		s.log.Error("discovery run failed", zap.Error(err))
		return
	}

	s.log.Info("discovery run complete",
		zap.Int("emitted", result.Emitted),
		zap.Int("merged", result.Merged),
		zap.Int("units_processed", result.UnitsProcessed),
		zap.Int("units_failed", result.UnitsFailed),
	)

	s.enrollCandidates(ctx)
}

// enrollCandidates starts validation for discovered patterns that have
// accumulated enough confidence. Insufficient population is a deferral:
// the pattern stays discovered and is retried on the next sweep.
func (s *Scheduler) enrollCandidates(ctx context.Context) {
	candidates, err := s.store.ListPatterns(ctx, pattern.PatternFilter{
		Status:        model.StatusDiscovered,
		MinConfidence: 0.6,
		Limit:         50,
	})
	if err != nil {
		s.log.Error("candidate listing failed", zap.Error(err))
		return
	}

	var started int
	for i := range candidates {
		if _, err := s.validator.StartValidation(ctx, candidates[i].ID, s.valCfg); err != nil {
			if errors.Is(err, validation.ErrInsufficientPopulation) {
				s.log.Debug("validation deferred",
					zap.String("pattern_id", candidates[i].ID),
					zap.Error(err),
				)
				continue
			}
			s.log.Warn("validation start failed",
				zap.String("pattern_id", candidates[i].ID),
				zap.Error(err),
			)
			continue
		}
		started++
	}
	if started > 0 {
		s.log.Info("validation experiments started", zap.Int("count", started))
	}
}

// RunValidationSweep refreshes metrics for every running experiment and
// concludes the ones that have earned a verdict. A failing experiment is
// logged and skipped, never aborting the sweep.
func (s *Scheduler) RunValidationSweep(ctx context.Context) {
	running, err := s.store.ListRunningExperiments(ctx)
	if err != nil {
		s.log.Error("experiment listing failed", zap.Error(err))
		return
	}

	var concluded int
	for i := range running {
		id := running[i].ID
		if _, err := s.validator.UpdateExperimentMetrics(ctx, id); err != nil {
			s.log.Warn("experiment metrics refresh failed",
				zap.String("experiment_id", id), zap.Error(err))
			continue
		}
		exp, err := s.validator.ConcludeExperiment(ctx, id, "scheduled sweep")
		if err != nil {
			s.log.Warn("experiment conclusion failed",
				zap.String("experiment_id", id), zap.Error(err))
			continue
		}
		if exp.Status == model.ExperimentConcluded {
			concluded++
			s.log.Info("experiment concluded",
				zap.String("experiment_id", id),
				zap.String("pattern_id", exp.PatternID),
				zap.String("decision", string(exp.FinalDecision)),
			)
		}
	}

	s.log.Info("validation sweep complete",
		zap.Int("running", len(running)),
		zap.Int("concluded", concluded),
	)
}

// RunFeedbackBatch consumes pending feedback interactions.
func (s *Scheduler) RunFeedbackBatch(ctx context.Context) {
	res, err := s.manager.ProcessFeedbackBatch(ctx)
	if err != nil {
		s.log.Error("feedback batch failed", zap.Error(err))
		return
	}
	if res.Processed > 0 || res.Failed > 0 {
		s.log.Info("feedback batch processed",
			zap.Int("processed", res.Processed),
			zap.Int("failed", res.Failed),
		)
	}
}

// EmergencyPass runs an immediate discovery over a shortened window plus a
// feedback batch, outside the regular cadence. Used when operators need
// fresh patterns now (e.g. after a large session import).
func (s *Scheduler) EmergencyPass(ctx context.Context) {
	lookback := s.cfg.EmergencyLookbackDays
	if lookback <= 0 {
		lookback = 2
	}
	s.log.Warn("emergency pass requested", zap.Int("lookback_days", lookback))

	s.RunFeedbackBatch(ctx)
	s.RunDiscovery(ctx, lookback)
	s.RunValidationSweep(ctx)
}
