package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRepo struct {
	mu      sync.Mutex
	entries []Entry
	done    chan struct{}
	want    int
}

func (r *captureRepo) Insert(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) == r.want {
		close(r.done)
	}
	return nil
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	q := NewQueue(nil, 2, time.Second, nil)

	assert.True(t, q.Enqueue(Entry{DecisionID: "a"}))
	assert.True(t, q.Enqueue(Entry{DecisionID: "b"}))

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(Entry{DecisionID: "c"}) }()

	select {
	case accepted := <-done:
		assert.False(t, accepted, "full queue must refuse, not block")
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, int64(1), q.Dropped())
}

func TestDropHookFires(t *testing.T) {
	drops := 0
	q := NewQueue(nil, 1, time.Second, func() { drops++ })

	q.Enqueue(Entry{DecisionID: "a"})
	q.Enqueue(Entry{DecisionID: "b"})
	q.Enqueue(Entry{DecisionID: "c"})
	assert.Equal(t, 2, drops)
}

func TestQueueDrainsToRepo(t *testing.T) {
	repo := &captureRepo{done: make(chan struct{}), want: 3}
	q := NewQueue(repo, 8, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.True(t, q.Enqueue(Entry{DecisionID: "a", Kind: KindAccepted}))
	require.True(t, q.Enqueue(Entry{DecisionID: "b", Kind: KindRejected}))
	require.True(t, q.Enqueue(Entry{DecisionID: "c", Kind: KindCancelled}))

	select {
	case <-repo.done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.entries, 3)
	assert.Equal(t, "a", repo.entries[0].DecisionID)
}
