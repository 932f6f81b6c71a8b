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

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate    AlertType = "job_failure_rate"
	AlertEntityFailureRate AlertType = "entity_failure_rate"
	AlertStalledJobs       AlertType = "stalled_jobs"
	AlertCostOverrun       AlertType = "cost_overrun"
)

// minSample is how many finished jobs or entities a rate needs before it
// can alert.
const minSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and posts them to a webhook.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	retrier *resilience.Retrier
}

// AlerterOption configures an Alerter.
type AlerterOption func(*Alerter)

// WithWebhookRetrier replaces the retry policy for webhook delivery.
func WithWebhookRetrier(r *resilience.Retrier) AlerterOption {
	return func(a *Alerter) { a.retrier = r }
}

// NewAlerter creates an Alerter for the given thresholds.
func NewAlerter(cfg config.MonitoringConfig, opts ...AlerterOption) *Alerter {
	a := &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retrier: resilience.NewRetrier(resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
		}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// rule is one threshold check. It returns ok=false when the snapshot is
// healthy for that rule.
type rule struct {
	typ      AlertType
	severity string
	check    func(cfg config.MonitoringConfig, s *MetricsSnapshot) (msg string, details map[string]any, ok bool)
}

var rules = []rule{
	{typ: AlertJobFailureRate, severity: "high", check: func(cfg config.MonitoringConfig, s *MetricsSnapshot) (string, map[string]any, bool) {
		finished := s.JobsComplete + s.JobsFailed
		if finished < minSample || s.JobFailRate <= cfg.FailureRateThreshold {
			return "", nil, false
		}
		return fmt.Sprintf("Job failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				s.JobFailRate*100, cfg.FailureRateThreshold*100, s.JobsFailed, finished, s.LookbackHours),
			map[string]any{"failure_rate": s.JobFailRate, "threshold": cfg.FailureRateThreshold, "failed": s.JobsFailed, "finished": finished},
			true
	}},
	{typ: AlertEntityFailureRate, severity: "medium", check: func(cfg config.MonitoringConfig, s *MetricsSnapshot) (string, map[string]any, bool) {
		attempted := s.EntitiesDone + s.EntitiesFailed
		if attempted < minSample || s.EntityFailRate <= cfg.FailureRateThreshold {
			return "", nil, false
		}
		return fmt.Sprintf("Entity failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				s.EntityFailRate*100, cfg.FailureRateThreshold*100, s.EntitiesFailed, attempted, s.LookbackHours),
			map[string]any{"failure_rate": s.EntityFailRate, "threshold": cfg.FailureRateThreshold, "failed": s.EntitiesFailed, "attempted": attempted},
			true
	}},
	{typ: AlertStalledJobs, severity: "high", check: func(cfg config.MonitoringConfig, s *MetricsSnapshot) (string, map[string]any, bool) {
		if s.JobsStalled == 0 {
			return "", nil, false
		}
		return fmt.Sprintf("%d running job(s) have made no progress in %d minutes", s.JobsStalled, cfg.StallMinutes),
			map[string]any{"stalled": s.JobsStalled, "running": s.JobsRunning},
			true
	}},
	{typ: AlertCostOverrun, severity: "high", check: func(cfg config.MonitoringConfig, s *MetricsSnapshot) (string, map[string]any, bool) {
		if cfg.CostThresholdCents <= 0 || s.CostCents <= cfg.CostThresholdCents {
			return "", nil, false
		}
		return fmt.Sprintf("Provider spend %d¢ exceeds threshold %d¢ in last %dh", s.CostCents, cfg.CostThresholdCents, s.LookbackHours),
			map[string]any{"cost_cents": s.CostCents, "threshold_cents": cfg.CostThresholdCents, "jobs_total": s.JobsTotal},
			true
	}},
}

// Evaluate returns the alerts the snapshot raises, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	for _, r := range rules {
		msg, details, ok := r.check(a.cfg, snap)
		if !ok {
			continue
		}
		alerts = append(alerts, Alert{Type: r.typ, Severity: r.severity, Message: msg, Details: details, Timestamp: now})
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered. Without a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		attempts, err := a.retrier.Do(ctx, "webhook", func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("monitoring: failed to send alert", zap.Int("attempts", attempts), zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent")
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
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
		return resilience.NewProviderError("webhook", "send", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return resilience.HTTPError("webhook", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
