package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/config"
)

// emergencyCooldown limits how often degraded health can trigger the
// emergency hook.
const emergencyCooldown = time.Hour

// Checker periodically collects a snapshot, evaluates alert thresholds, and
// delivers whatever fires. A high-severity alert additionally invokes the
// onDegraded hook (the scheduler's emergency pass), rate-limited by
// emergencyCooldown.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	onDegraded    func(ctx context.Context)
	lastEmergency time.Time
}

// NewChecker creates a background alert checker. onDegraded may be nil.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, onDegraded func(ctx context.Context)) *Checker {
	return &Checker{
		collector:  collector,
		alerter:    alerter,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "monitoring.checker")),
		onDegraded: onDegraded,
	}
}

// Run blocks until ctx is cancelled, checking once per configured interval.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	c.log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)

	c.maybeEscalate(ctx, alerts)
}

// maybeEscalate runs the degraded-health hook when a high-severity alert
// fires, at most once per cooldown window.
func (c *Checker) maybeEscalate(ctx context.Context, alerts []Alert) {
	if c.onDegraded == nil {
		return
	}
	high := false
	for _, a := range alerts {
		if a.Severity == "high" {
			high = true
			break
		}
	}
	if !high || time.Since(c.lastEmergency) < emergencyCooldown {
		return
	}
	c.lastEmergency = time.Now()
	c.log.Warn("monitoring: high-severity alert, running emergency pass")
	c.onDegraded(ctx)
}
