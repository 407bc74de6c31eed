// Package monitoring delivers operational alerts for the recording scheduler
// and the ingestion executor.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertFallbackRate        AlertType = "fallback_rate"
	AlertCleanupFailure      AlertType = "cleanup_failure"
)

// Alert is a single alert to be delivered.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter logs alerts and, when a webhook URL is configured, delivers them
// over HTTP. Delivery failures are logged and swallowed: alerting must never
// take the scheduler down.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates an Alerter. An empty webhook URL means log-only.
func NewAlerter(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Critical emits a critical alert.
func (a *Alerter) Critical(ctx context.Context, t AlertType, message string, details map[string]any) {
	a.send(ctx, Alert{
		Type:      t,
		Severity:  "critical",
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// Warning emits a warning alert.
func (a *Alerter) Warning(ctx context.Context, t AlertType, message string, details map[string]any) {
	a.send(ctx, Alert{
		Type:      t,
		Severity:  "warning",
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Alerter) send(ctx context.Context, alert Alert) {
	log := zap.L().With(
		zap.String("alert_type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	if alert.Severity == "critical" {
		log.Error(alert.Message, zap.Any("details", alert.Details))
	} else {
		log.Warn(alert.Message, zap.Any("details", alert.Details))
	}

	if a.webhookURL == "" {
		return
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		log.Error("monitoring: failed to deliver alert", zap.Error(err))
		return
	}
	log.Info("monitoring: alert delivered")
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
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
