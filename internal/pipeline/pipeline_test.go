package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tapewatch/internal/book"
	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/journal"
	"github.com/sawpanic/tapewatch/internal/monitor"
	"github.com/sawpanic/tapewatch/internal/scarcity"
	"github.com/sawpanic/tapewatch/internal/telemetry"
	"github.com/sawpanic/tapewatch/internal/validator"
)

type memRepo struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *memRepo) Insert(_ context.Context, entry journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memRepo) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Kind)
	}
	return out
}

// testPipeline wires real components around an adjustable clock and drives
// workers synchronously through handle.
func testPipeline(t *testing.T, clock *int64) (*Pipeline, *telemetry.Metrics, *scarcity.Controller) {
	t.Helper()

	metrics := telemetry.NewMetrics()
	engine := features.NewEngine(features.DefaultConfig())
	ctrl := scarcity.New(scarcity.DefaultConfig(), nil)

	p := New(Config{Symbols: []string{"BTC-USD"}}, Deps{
		BookConfig: book.DefaultConfig(),
		Engine:     engine,
		Validator:  validator.New(validator.DefaultConfig(), engine),
		Scarcity:   ctrl,
		MonitorCfg: monitor.DefaultConfig(),
		Metrics:    metrics,
		NowMs:      func() int64 { return *clock },
	})
	return p, metrics, ctrl
}

func (p *Pipeline) applyDepth(t *testing.T, in DepthInput) {
	t.Helper()
	w := p.workers[in.Symbol]
	require.NotNil(t, w)
	p.handle(w, event{depth: &in})
}

func (p *Pipeline) applyTrade(t *testing.T, in TradeInput) {
	t.Helper()
	w := p.workers[in.Symbol]
	require.NotNil(t, w)
	p.handle(w, event{trade: &in})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSubmitRoutesOnlyTrackedSymbols(t *testing.T) {
	clock := int64(1000)
	p, _, _ := testPipeline(t, &clock)

	assert.True(t, p.SubmitDepth(DepthInput{Symbol: "BTC-USD", Price: dec("100"), Size: dec("1"), TimestampMs: 1000}))
	assert.False(t, p.SubmitDepth(DepthInput{Symbol: "DOGE-USD", Price: dec("1"), Size: dec("1"), TimestampMs: 1000}))
	assert.False(t, p.SubmitTrade(TradeInput{Symbol: "DOGE-USD"}))
}

func TestEndToEndAcceptanceThenCooldown(t *testing.T) {
	const T = int64(1_000_000)
	clock := T - 5000
	p, metrics, ctrl := testPipeline(t, &clock)

	repo := &memRepo{}
	q := journal.NewQueue(repo, 64, 0, nil)
	p.deps.Journal = q
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	bid := func(op book.Op, size string, tsMs int64) DepthInput {
		return DepthInput{Symbol: "BTC-USD", Side: book.Bid, Op: op,
			Price: dec("100"), Size: dec(size), Rank: 0, TimestampMs: tsMs}
	}
	trade := func(tsMs int64) TradeInput {
		return TradeInput{Symbol: "BTC-USD", EventMs: tsMs, ReceiptMs: tsMs,
			Price: dec("100"), Size: dec("1")}
	}

	// One persistent bid wall, a warming tape, then an accelerating burst.
	// Size-only refreshes keep depth fresh without resetting the wall clock.
	steps := []func(){
		func() { clock = T - 5000; p.applyDepth(t, bid(book.Insert, "10", clock)) },
		func() { clock = T - 4000; p.applyTrade(t, trade(clock)) },
		func() { clock = T - 1600; p.applyDepth(t, bid(book.Update, "11", clock)) },
		func() { clock = T - 1500; p.applyTrade(t, trade(clock)) },
		func() { clock = T - 400; p.applyDepth(t, bid(book.Update, "12", clock)) },
		func() { clock = T - 200; p.applyTrade(t, trade(clock)) },
		func() { clock = T - 100; p.applyTrade(t, trade(clock)) },
	}
	for _, step := range steps {
		step()
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("accepted")))
	assert.Equal(t, 1, p.Monitor().TrackedCount())

	state := ctrl.Snapshot()
	assert.Equal(t, 1, state.GlobalCount)
	assert.Equal(t, 1, state.Symbols["BTC-USD"].Count)

	// A fresh candidate right after acceptance hits the symbol cooldown.
	clock = T - 50
	p.applyTrade(t, trade(clock))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Decisions.WithLabelValues("accepted")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.Decisions.WithLabelValues("rejected")), 1.0)
}

func TestWithdrawalHookArmsCancellationCooldown(t *testing.T) {
	clock := int64(500_000)
	p, metrics, ctrl := testPipeline(t, &clock)

	p.onWithdrawn("ETH-USD", "dec-9", clock)

	assert.Equal(t, clock, ctrl.Snapshot().LastCancelMs)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Cancellations.WithLabelValues("ETH-USD")))

	res := ctrl.StageCandidate("dec-10", "SOL-USD", 70, clock+1000)
	assert.False(t, res.Accepted)
	assert.Equal(t, scarcity.ReasonCancelledCooldown, res.Reason)
}

func TestJournalReceivesLifecycleEntries(t *testing.T) {
	clock := int64(900_000)
	p, _, _ := testPipeline(t, &clock)

	repo := &memRepo{}
	p.deps.Journal = journal.NewQueue(repo, 64, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.deps.Journal.Run(ctx)

	p.onWithdrawn("BTC-USD", "dec-1", clock)

	assert.Eventually(t, func() bool {
		for _, k := range repo.kinds() {
			if k == journal.KindCancelled {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
