package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFeedbackBacklog       AlertType = "feedback_backlog"
	AlertValidationSuccessRate AlertType = "validation_success_rate"
	AlertLearningConfidence    AlertType = "learning_confidence"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check feedback backlog.
	if a.cfg.FeedbackBacklogThreshold > 0 && snap.FeedbackBacklog > a.cfg.FeedbackBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFeedbackBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"Feedback backlog %d exceeds threshold %d - batch processing is falling behind",
				snap.FeedbackBacklog, a.cfg.FeedbackBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.FeedbackBacklog,
				"threshold": a.cfg.FeedbackBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	// Check validation success rate. At least 5 verdicts before alerting so a
	// single rejection cannot fire it.
	if snap.ValidationConcluded >= 5 && snap.ValidationSuccessRate < a.cfg.MinValidationSuccessRate {
		alerts = append(alerts, Alert{
			Type:     AlertValidationSuccessRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Validation success rate %.1f%% below threshold %.1f%% (%d patterns validated of %d concluded)",
				snap.ValidationSuccessRate*100, a.cfg.MinValidationSuccessRate*100,
				snap.PatternsValidated, snap.ValidationConcluded,
			),
			Details: map[string]any{
				"success_rate": snap.ValidationSuccessRate,
				"threshold":    a.cfg.MinValidationSuccessRate,
				"validated":    snap.PatternsValidated,
				"concluded":    snap.ValidationConcluded,
			},
			Timestamp: now,
		})
	}

	// Check average learning confidence across active users.
	if snap.ActiveUsers >= 5 && snap.AvgLearningConfidence < a.cfg.MinLearningConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLearningConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average learning confidence %.2f below threshold %.2f across %d active users in last %dh",
				snap.AvgLearningConfidence, a.cfg.MinLearningConfidence,
				snap.ActiveUsers, snap.LookbackHours,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgLearningConfidence,
				"threshold":      a.cfg.MinLearningConfidence,
				"active_users":   snap.ActiveUsers,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
