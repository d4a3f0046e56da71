package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/contact-intel/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(newTestStore(t))
	alerter := NewAlerter(testMonitoringConfig())
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick once then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Good — Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_EscalatesOnHighSeverityOnce(t *testing.T) {
	collector := NewCollector(newTestStore(t))
	alerter := NewAlerter(testMonitoringConfig())

	fired := 0
	checker := NewChecker(collector, alerter, config.MonitoringConfig{}, func(context.Context) {
		fired++
	})

	ctx := context.Background()
	high := []Alert{{Type: AlertFeedbackBacklog, Severity: "high"}}

	checker.maybeEscalate(ctx, high)
	assert.Equal(t, 1, fired)

	// Cooldown suppresses the second escalation.
	checker.maybeEscalate(ctx, high)
	assert.Equal(t, 1, fired)
}

func TestChecker_MediumSeverityDoesNotEscalate(t *testing.T) {
	collector := NewCollector(newTestStore(t))
	alerter := NewAlerter(testMonitoringConfig())

	fired := 0
	checker := NewChecker(collector, alerter, config.MonitoringConfig{}, func(context.Context) {
		fired++
	})

	checker.maybeEscalate(context.Background(), []Alert{
		{Type: AlertValidationSuccessRate, Severity: "medium"},
	})
	assert.Equal(t, 0, fired)
}

func TestChecker_DefaultInterval(t *testing.T) {
	collector := NewCollector(newTestStore(t))
	alerter := NewAlerter(config.MonitoringConfig{})

	// Zero interval should default to 5 minutes.
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs: 0,
	}, nil)
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
