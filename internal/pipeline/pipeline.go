package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tapewatch/internal/book"
	"github.com/sawpanic/tapewatch/internal/bus"
	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/journal"
	"github.com/sawpanic/tapewatch/internal/monitor"
	"github.com/sawpanic/tapewatch/internal/notify"
	"github.com/sawpanic/tapewatch/internal/scarcity"
	"github.com/sawpanic/tapewatch/internal/telemetry"
	"github.com/sawpanic/tapewatch/internal/validator"
)

// Config holds pipeline-level settings.
type Config struct {
	Symbols         []string `yaml:"symbols"`
	WorkerQueueSize int      `yaml:"worker_queue_size"`
}

// DefaultConfig returns production pipeline settings.
func DefaultConfig() Config {
	return Config{WorkerQueueSize: 512}
}

// Deps are the collaborators the pipeline composes. Journal, Publisher,
// Notifier, and Metrics are optional; a nil entry disables that concern.
type Deps struct {
	BookConfig book.Config
	Engine     *features.Engine
	Validator  *validator.Validator
	Scarcity   *scarcity.Controller
	MonitorCfg monitor.Config
	Exec       monitor.CancelClient
	Journal    *journal.Queue
	Publisher  *bus.Publisher
	Notifier   notify.Notifier
	Metrics    *telemetry.Metrics
	NowMs      func() int64
}

// event is the per-symbol worker input. Exactly one field is set.
type event struct {
	depth *DepthInput
	trade *TradeInput
}

// DepthInput is one depth mutation routed to a symbol worker.
type DepthInput struct {
	Symbol      string
	Side        book.Side
	Op          book.Op
	Price       decimal.Decimal
	Size        decimal.Decimal
	Rank        int
	TimestampMs int64
}

// TradeInput is one print routed to a symbol worker.
type TradeInput struct {
	Symbol    string
	EventMs   int64
	ReceiptMs int64
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// Pipeline routes feed events to per-symbol workers. Each worker owns its
// symbol's order book outright, so book code needs no locking; everything
// shared across symbols (validator state, admission counters, monitoring)
// is guarded by its own component.
type Pipeline struct {
	cfg     Config
	deps    Deps
	monitor *monitor.Monitor

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	symbol string
	book   *book.OrderBook
	events chan event
}

// New wires a pipeline. The monitor is constructed here so its withdrawal
// hook can reach the admission controller, journal, bus, and notifier.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.WorkerQueueSize <= 0 {
		cfg.WorkerQueueSize = DefaultConfig().WorkerQueueSize
	}
	if deps.NowMs == nil {
		deps.NowMs = func() int64 { return time.Now().UnixMilli() }
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		workers: make(map[string]*worker),
	}
	p.monitor = monitor.New(deps.MonitorCfg, deps.Exec, p.onWithdrawn)

	for _, symbol := range cfg.Symbols {
		p.workers[symbol] = &worker{
			symbol: symbol,
			book:   book.New(symbol, deps.BookConfig),
			events: make(chan event, cfg.WorkerQueueSize),
		}
	}
	return p
}

// Monitor exposes the post-signal monitor for health introspection.
func (p *Pipeline) Monitor() *monitor.Monitor { return p.monitor }

// Run starts one goroutine per symbol and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	p.mu.Lock()
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			p.runWorker(ctx, w)
		}(w)
	}
	p.mu.Unlock()
	wg.Wait()
}

// SubmitDepth routes a depth mutation to its symbol worker. Events for
// unknown symbols or full worker queues are dropped with a log line.
func (p *Pipeline) SubmitDepth(in DepthInput) bool {
	return p.submit(in.Symbol, event{depth: &in})
}

// SubmitTrade routes a print to its symbol worker.
func (p *Pipeline) SubmitTrade(in TradeInput) bool {
	return p.submit(in.Symbol, event{trade: &in})
}

func (p *Pipeline) submit(symbol string, ev event) bool {
	p.mu.Lock()
	w, ok := p.workers[symbol]
	p.mu.Unlock()
	if !ok {
		log.Debug().Str("symbol", symbol).Msg("event for untracked symbol dropped")
		return false
	}
	select {
	case w.events <- ev:
		return true
	default:
		log.Warn().Str("symbol", symbol).Msg("worker queue full, dropping event")
		return false
	}
}

func (p *Pipeline) runWorker(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			p.handle(w, ev)
		}
	}
}

func (p *Pipeline) handle(w *worker, ev event) {
	start := time.Now()
	nowMs := p.deps.NowMs()

	switch {
	case ev.depth != nil:
		w.book.ApplyDepthUpdate(ev.depth.Side, ev.depth.Op, ev.depth.Price, ev.depth.Size, ev.depth.Rank, ev.depth.TimestampMs)
		p.countFeedEvent("depth")
	case ev.trade != nil:
		w.book.RecordTrade(ev.trade.EventMs, ev.trade.ReceiptMs, ev.trade.Price, ev.trade.Size)
		p.countFeedEvent("trade")
	default:
		return
	}

	snap := p.deps.Engine.UpdateMetrics(w.book, nowMs)
	if p.deps.Metrics != nil {
		p.deps.Metrics.SnapshotsComputed.WithLabelValues(strconv.FormatBool(snap.Valid)).Inc()
	}

	p.monitor.ProcessSnapshot(snap, nowMs)

	dec := p.deps.Validator.EvaluateDecision(w.book, nowMs)
	p.finishDecision(snap, dec, nowMs)

	if p.deps.Metrics != nil {
		p.deps.Metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	}
}

// finishDecision runs admission control on accepted decisions and fans the
// outcome to the journal, bus, notifier, and monitor. All downstream I/O is
// fire-and-forget so the worker returns to its queue immediately.
func (p *Pipeline) finishDecision(snap *features.MetricSnapshot, dec validator.Decision, nowMs int64) {
	switch {
	case !dec.HasCandidate:
		p.countDecision("no_candidate")
		return
	case !dec.Accepted:
		p.countDecision("rejected")
		p.journalEntry(journal.KindRejected, dec.Symbol, "", &dec, snap, nowMs)
		return
	}

	sig := dec.Signal
	staged := p.deps.Scarcity.StageCandidate(sig.ID, sig.Symbol, sig.Confidence, nowMs)
	if p.deps.Metrics != nil {
		result := "staged"
		if !staged.Accepted {
			result = staged.Reason
		}
		p.deps.Metrics.StagingOutcomes.WithLabelValues(result).Inc()
	}
	if !staged.Accepted {
		p.countDecision("rejected")
		dec.Accepted = false
		dec.Reason = staged.Reason
		p.journalEntry(journal.KindRejected, dec.Symbol, sig.ID, &dec, snap, nowMs)
		return
	}

	p.countDecision("accepted")
	p.deps.Validator.RecordAcceptedSignal(sig.Symbol, nowMs)

	refRate := snap.SideTradeRate3s(sig.Direction == validator.Long)
	p.monitor.TrackAcceptedSignal(sig.Symbol, sig.Direction, sig.ID, snap.Spread, refRate, nowMs, nil)

	p.journalEntry(journal.KindAccepted, sig.Symbol, sig.ID, &dec, snap, nowMs)

	if p.deps.Publisher != nil {
		go func() {
			if err := p.deps.Publisher.PublishAccepted(context.Background(), sig, nowMs); err != nil {
				log.Warn().Err(err).Str("decision_id", sig.ID).Msg("accepted publish failed")
			}
		}()
	}
	p.alert(notify.Alert{
		Severity:    notify.SeverityInfo,
		Title:       "signal accepted",
		Body:        "confidence " + strconv.FormatFloat(sig.Confidence, 'f', 1, 64),
		Symbol:      sig.Symbol,
		DecisionID:  sig.ID,
		TimestampMs: nowMs,
	})
}

// onWithdrawn is the monitor's withdrawal hook. It arms the cancellation
// cooldown synchronously, then journals, publishes, and alerts.
func (p *Pipeline) onWithdrawn(symbol, decisionID string, nowMs int64) {
	p.deps.Scarcity.RecordCancelledAcceptance(symbol, nowMs)
	if p.deps.Metrics != nil {
		p.deps.Metrics.Cancellations.WithLabelValues(symbol).Inc()
	}

	p.journalEntry(journal.KindCancelled, symbol, decisionID, nil, nil, nowMs)

	if p.deps.Publisher != nil {
		go func() {
			if err := p.deps.Publisher.PublishCancelled(context.Background(), symbol, decisionID, nowMs); err != nil {
				log.Warn().Err(err).Str("decision_id", decisionID).Msg("cancelled publish failed")
			}
		}()
	}
	p.alert(notify.Alert{
		Severity:    notify.SeverityWarning,
		Title:       "signal withdrawn",
		Body:        "sustained degradation after acceptance",
		Symbol:      symbol,
		DecisionID:  decisionID,
		TimestampMs: nowMs,
	})
}

func (p *Pipeline) journalEntry(kind, symbol, decisionID string, dec *validator.Decision,
	snap *features.MetricSnapshot, nowMs int64) {

	if p.deps.Journal == nil {
		return
	}
	id := decisionID
	if dec != nil && dec.Signal != nil {
		id = dec.Signal.ID
	}
	p.deps.Journal.Enqueue(journal.Entry{
		DecisionID:  id,
		Symbol:      symbol,
		Kind:        kind,
		TimestampMs: nowMs,
		Decision:    dec,
		Snapshot:    snap,
	})
}

func (p *Pipeline) alert(alert notify.Alert) {
	if p.deps.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.deps.Notifier.SendAlert(ctx, alert); err != nil {
			log.Warn().Err(err).Str("title", alert.Title).Msg("alert delivery failed")
		}
	}()
}

func (p *Pipeline) countFeedEvent(kind string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.FeedEvents.WithLabelValues(kind).Inc()
	}
}

func (p *Pipeline) countDecision(outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.Decisions.WithLabelValues(outcome).Inc()
	}
}
