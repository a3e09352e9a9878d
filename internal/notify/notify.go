package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Alert severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Alert is an operator-facing notification about a signal lifecycle event.
type Alert struct {
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Symbol      string `json:"symbol,omitempty"`
	DecisionID  string `json:"decision_id,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Notifier delivers alerts. Delivery is best effort.
type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// Config holds webhook notifier settings.
type Config struct {
	URL           string  `yaml:"url"`
	TimeoutMs     int64   `yaml:"timeout_ms"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// DefaultConfig returns production notifier settings.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:     5_000,
		RatePerSecond: 1.0,
		Burst:         5,
	}
}

// WebhookNotifier POSTs alerts as JSON to a configured endpoint, rate
// limited so a cancellation storm cannot flood the channel. Alerts over
// the limit are dropped, not queued.
type WebhookNotifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg Config) *WebhookNotifier {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = DefaultConfig().TimeoutMs
	}
	return &WebhookNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// SendAlert posts the alert. Rate-limited alerts return nil after a log
// line so callers never retry them.
func (n *WebhookNotifier) SendAlert(ctx context.Context, alert Alert) error {
	if !n.limiter.Allow() {
		log.Debug().Str("title", alert.Title).Msg("alert rate limited, dropping")
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
