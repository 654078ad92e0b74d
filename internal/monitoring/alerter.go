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

	"github.com/lumenlead/prospector/internal/config"
	"github.com/lumenlead/prospector/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "job_failure_rate"
	AlertBacklog     AlertType = "job_backlog"
)

// minFinishedForRate is the smallest finished-job sample the failure-rate
// check will alert on, so one early failure does not page anyone.
const minFinishedForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Family    string         `json:"family,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots against configured thresholds and delivers
// alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
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

	for _, family := range model.JobFamilies {
		fs := snap.Families[family]

		finished := fs.Completed + fs.Failed
		if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedForRate &&
			fs.FailureRate() > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Severity: "high",
				Family:   string(family),
				Message: fmt.Sprintf(
					"%s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
					family, fs.FailureRate()*100, a.cfg.FailureRateThreshold*100,
					fs.Failed, finished,
				),
				Details: map[string]any{
					"failure_rate": fs.FailureRate(),
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       fs.Failed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}

		if a.cfg.BacklogThreshold > 0 && fs.Backlog() > a.cfg.BacklogThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertBacklog,
				Severity: "warning",
				Family:   string(family),
				Message: fmt.Sprintf(
					"%s backlog of %d jobs exceeds threshold %d",
					family, fs.Backlog(), a.cfg.BacklogThreshold,
				),
				Details: map[string]any{
					"waiting": fs.Waiting,
					"delayed": fs.Delayed,
					"active":  fs.Active,
				},
				Timestamp: now,
			})
		}
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL. Returns the
// number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("family", alert.Family),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

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
