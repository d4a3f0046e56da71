package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/discovery"
	"github.com/sells-group/contact-intel/internal/learning"
	"github.com/sells-group/contact-intel/internal/pattern"
	"github.com/sells-group/contact-intel/internal/resilience"
	"github.com/sells-group/contact-intel/internal/scheduler"
	"github.com/sells-group/contact-intel/internal/validation"
	anthropicpkg "github.com/sells-group/contact-intel/pkg/anthropic"
)

// intelEnv holds the assembled subsystems needed by the serve/discover/
// validate commands.
type intelEnv struct {
	Store     pattern.Store
	Engine    *discovery.Engine
	Validator *validation.Validator
	Manager   *learning.Manager
	Scheduler *scheduler.Scheduler
}

// Close releases resources held by the environment.
func (e *intelEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (pattern.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return pattern.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return pattern.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store and builds every subsystem. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*intelEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	engine, err := discovery.NewEngine(st, nil, cfg.Discovery)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	// Feedback interpretation is optional: without an API key the rule table
	// handles cue extraction.
	var interp *learning.Interpreter
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.WithRateLimit(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			float64(cfg.Anthropic.RequestsPerMinute),
		)
		interp = learning.NewInterpreter(client, cfg.Anthropic.Model, resilience.FromCircuitConfig(
			cfg.Anthropic.CircuitFailureThreshold,
			cfg.Anthropic.CircuitResetSecs,
		))
		zap.L().Info("feedback interpreter enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("CONTACT_INTEL_ANTHROPIC_KEY not set, using rule-table cue extraction")
	}

	validator := validation.NewValidator(st)
	manager := learning.NewManager(st, interp, cfg.Learning)
	sched := scheduler.New(st, engine, validator, manager, cfg.Scheduler, cfg.Validation)

	return &intelEnv{
		Store:     st,
		Engine:    engine,
		Validator: validator,
		Manager:   manager,
		Scheduler: sched,
	}, nil
}
