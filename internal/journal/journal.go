package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/validator"
)

// Entry kinds journaled for audit.
const (
	KindAccepted  = "accepted"
	KindRejected  = "rejected"
	KindCancelled = "cancelled"
)

// Entry is one audit record: the decision trace plus the full feature
// snapshot it was made from.
type Entry struct {
	DecisionID  string                    `json:"decision_id"`
	Symbol      string                    `json:"symbol"`
	Kind        string                    `json:"kind"`
	TimestampMs int64                     `json:"timestamp_ms"`
	Decision    *validator.Decision       `json:"decision,omitempty"`
	Snapshot    *features.MetricSnapshot  `json:"snapshot,omitempty"`
}

// Repo persists entries. Implementations may be slow; the queue isolates
// them from the hot path.
type Repo interface {
	Insert(ctx context.Context, entry Entry) error
}

// Queue is a bounded, non-blocking handoff between the pipeline and the
// repo. Enqueue never blocks: when the buffer is full the entry is dropped
// and counted, because a slow journal must not stall book updates.
type Queue struct {
	ch      chan Entry
	repo    Repo
	timeout time.Duration
	dropped atomic.Int64
	onDrop  func()
}

// NewQueue creates a queue draining into repo. onDrop may be nil; when set
// it is invoked once per dropped entry (metrics hook).
func NewQueue(repo Repo, size int, timeout time.Duration, onDrop func()) *Queue {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Queue{
		ch:      make(chan Entry, size),
		repo:    repo,
		timeout: timeout,
		onDrop:  onDrop,
	}
}

// Enqueue offers an entry without blocking. Returns false when the buffer
// is full.
func (q *Queue) Enqueue(entry Entry) bool {
	select {
	case q.ch <- entry:
		return true
	default:
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// Dropped reports how many entries were lost to a full buffer.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Run drains the queue until ctx is cancelled. Insert failures are logged
// and the entry abandoned; the journal is an audit aid, not a gate.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-q.ch:
			if q.repo == nil {
				continue
			}
			insertCtx, cancel := context.WithTimeout(context.Background(), q.timeout)
			if err := q.repo.Insert(insertCtx, entry); err != nil {
				log.Error().Err(err).Str("decision_id", entry.DecisionID).Msg("journal insert failed")
			}
			cancel()
		}
	}
}
