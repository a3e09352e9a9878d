package execution

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client cancels working orders at the execution venue.
type Client interface {
	Cancel(ctx context.Context, orderRef string) error
}

// Config holds execution client settings.
type Config struct {
	BaseURL         string `yaml:"base_url"`
	TimeoutMs       int64  `yaml:"timeout_ms"`
	BreakerMaxFails uint32 `yaml:"breaker_max_fails"`
	BreakerOpenMs   int64  `yaml:"breaker_open_ms"`
}

// DefaultConfig returns production execution settings.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:       3_000,
		BreakerMaxFails: 5,
		BreakerOpenMs:   30_000,
	}
}

// HTTPClient cancels orders over the venue's REST API. Calls run through a
// circuit breaker so a dead venue fails fast instead of tying up cancel
// goroutines on timeouts.
type HTTPClient struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient creates a breaker-wrapped execution client.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = DefaultConfig().TimeoutMs
	}
	if cfg.BreakerMaxFails == 0 {
		cfg.BreakerMaxFails = DefaultConfig().BreakerMaxFails
	}
	if cfg.BreakerOpenMs <= 0 {
		cfg.BreakerOpenMs = DefaultConfig().BreakerOpenMs
	}

	settings := gobreaker.Settings{
		Name:    "execution-cancel",
		Timeout: time.Duration(cfg.BreakerOpenMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
		},
	}
	return &HTTPClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Cancel issues a DELETE for the order. Returns gobreaker.ErrOpenState
// without touching the network while the breaker is open.
func (c *HTTPClient) Cancel(ctx context.Context, orderRef string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/orders/%s", c.cfg.BaseURL, orderRef)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build cancel request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cancel %s: %w", orderRef, err)
		}
		defer resp.Body.Close()

		// 404 means the order is already gone, which is the outcome we want.
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("cancel %s: venue returned %d", orderRef, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
