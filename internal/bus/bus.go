package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tapewatch/internal/validator"
)

// SignalChannel is the pub/sub channel downstream consumers subscribe to.
const SignalChannel = "tapewatch:signals"

// Event kinds published on the bus.
const (
	EventAccepted  = "signal.accepted"
	EventCancelled = "signal.cancelled"
)

// Event is the wire format for bus messages.
type Event struct {
	Kind        string            `json:"kind"`
	Symbol      string            `json:"symbol"`
	DecisionID  string            `json:"decision_id"`
	TimestampMs int64             `json:"timestamp_ms"`
	Signal      *validator.Signal `json:"signal,omitempty"`
}

// Publisher fans signal lifecycle events to downstream consumers over
// redis pub/sub. Publishing is best effort with a short timeout; the
// pipeline never blocks on the bus.
type Publisher struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewPublisher wraps a redis client for publishing.
func NewPublisher(client redis.UniversalClient, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Publisher{client: client, timeout: timeout}
}

// PublishAccepted announces a freshly accepted signal.
func (p *Publisher) PublishAccepted(ctx context.Context, sig *validator.Signal, nowMs int64) error {
	return p.publish(ctx, Event{
		Kind:        EventAccepted,
		Symbol:      sig.Symbol,
		DecisionID:  sig.ID,
		TimestampMs: nowMs,
		Signal:      sig,
	})
}

// PublishCancelled announces a monitor withdrawal.
func (p *Publisher) PublishCancelled(ctx context.Context, symbol, decisionID string, nowMs int64) error {
	return p.publish(ctx, Event{
		Kind:        EventCancelled,
		Symbol:      symbol,
		DecisionID:  decisionID,
		TimestampMs: nowMs,
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal bus event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, SignalChannel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("bus publish failed")
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}
