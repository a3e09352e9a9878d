package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tapewatch/internal/validator"
)

func TestPublishAccepted(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewPublisher(client, time.Second)

	sig := &validator.Signal{
		ID:         "dec-1",
		Symbol:     "BTC-USD",
		Direction:  validator.Long,
		Confidence: 72.5,
		SnapshotMs: 1700000000000,
	}
	want, err := json.Marshal(Event{
		Kind:        EventAccepted,
		Symbol:      "BTC-USD",
		DecisionID:  "dec-1",
		TimestampMs: 1700000000123,
		Signal:      sig,
	})
	require.NoError(t, err)

	mock.ExpectPublish(SignalChannel, want).SetVal(1)
	require.NoError(t, pub.PublishAccepted(context.Background(), sig, 1700000000123))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishCancelled(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewPublisher(client, time.Second)

	want, err := json.Marshal(Event{
		Kind:        EventCancelled,
		Symbol:      "ETH-USD",
		DecisionID:  "dec-2",
		TimestampMs: 1700000000456,
	})
	require.NoError(t, err)

	mock.ExpectPublish(SignalChannel, want).SetVal(2)
	require.NoError(t, pub.PublishCancelled(context.Background(), "ETH-USD", "dec-2", 1700000000456))
	assert.NoError(t, mock.ExpectationsWereMet())
}
