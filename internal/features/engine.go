package features

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/tapewatch/internal/book"
)

// Config holds the feature derivation tunables.
type Config struct {
	TopLevels        int     `yaml:"top_levels"`         // levels aggregated for imbalance/depth
	WarmupMs         int64   `yaml:"warmup_ms"`          // tape history required before trusting rates
	TapeStaleMs      int64   `yaml:"tape_stale_ms"`      // max silence before the tape is stale
	SpoofRatioScale  float64 `yaml:"spoof_ratio_scale"`  // cancel/add ratio mapping to full spoof weight
	SpoofPersistMs   int64   `yaml:"spoof_persist_ms"`   // wall age at which persistence stops looking spoofy
	AbsorptionSpanMs int64   `yaml:"absorption_span_ms"` // volume lookback for absorption
	VWAPReclaimBonus float64 `yaml:"vwap_reclaim_bonus"` // confidence points granted on a reclaim
}

// DefaultConfig returns production feature settings.
func DefaultConfig() Config {
	return Config{
		TopLevels:        4,
		WarmupMs:         3000,
		TapeStaleMs:      3000,
		SpoofRatioScale:  4.0,
		SpoofPersistMs:   1500,
		AbsorptionSpanMs: 3000,
		VWAPReclaimBonus: 10.0,
	}
}

// Engine derives MetricSnapshots from order books. Derivation is pure: the
// book is read, never mutated. The latest snapshot per symbol is cached with
// atomic replace-on-write so concurrent readers never see a partial update.
type Engine struct {
	cfg   Config
	cache sync.Map // symbol -> *MetricSnapshot
}

// NewEngine creates a feature engine.
func NewEngine(cfg Config) *Engine {
	if cfg.TopLevels <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// LatestSnapshot returns the most recent snapshot for symbol, if any.
func (e *Engine) LatestSnapshot(symbol string) (*MetricSnapshot, bool) {
	v, ok := e.cache.Load(symbol)
	if !ok {
		return nil, false
	}
	return v.(*MetricSnapshot), true
}

// UpdateMetrics computes a snapshot of b at nowMs and caches it.
func (e *Engine) UpdateMetrics(b *book.OrderBook, nowMs int64) *MetricSnapshot {
	if b == nil {
		return &MetricSnapshot{
			TimestampMs: nowMs,
			Reason:      &InvalidReason{Kind: ReasonNoBook, Detail: "no book context for symbol"},
		}
	}

	snap := &MetricSnapshot{
		Symbol:      b.Symbol,
		TimestampMs: nowMs,
		TopLevels:   e.cfg.TopLevels,
	}

	e.fillDepth(snap, b, nowMs)
	e.fillTape(snap, b, nowMs)
	e.fillFlow(snap, b, nowMs)
	e.fillAbsorption(snap, b)
	snap.SpoofScore = e.spoofScore(snap)
	e.fillValidity(snap, b, nowMs)

	e.cache.Store(b.Symbol, snap)
	return snap
}

func (e *Engine) fillDepth(snap *MetricSnapshot, b *book.OrderBook, nowMs int64) {
	snap.BidTopSize = b.TopDepth(book.Bid, e.cfg.TopLevels)
	snap.AskTopSize = b.TopDepth(book.Ask, e.cfg.TopLevels)

	bidF := snap.BidTopSize.InexactFloat64()
	askF := snap.AskTopSize.InexactFloat64()
	if total := bidF + askF; total > 0 {
		snap.QueueImbalance = (bidF - askF) / total
	}
	if askF > 0 {
		snap.TopSizeRatio = bidF / askF
	}

	if best := b.BestLevel(book.Bid); best != nil {
		snap.HasBestBid = true
		snap.BestBidPrice = best.Price
		snap.BestBidSize = best.Size
	}
	if best := b.BestLevel(book.Ask); best != nil {
		snap.HasBestAsk = true
		snap.BestAskPrice = best.Price
		snap.BestAskSize = best.Size
	}
	if snap.HasBestBid && snap.HasBestAsk {
		snap.Spread = snap.BestAskPrice.Sub(snap.BestBidPrice)
		snap.MidPrice = snap.BestBidPrice.Add(snap.BestAskPrice).Div(decimal.NewFromInt(2))
	}

	if age, known := b.WallAge(book.Bid, nowMs); known {
		snap.BidWallAge = KnownAge(age)
	}
	if age, known := b.WallAge(book.Ask, nowMs); known {
		snap.AskWallAge = KnownAge(age)
	}
	snap.DepthAgeMs = nowMs - b.LastDepthMs()
}

func (e *Engine) fillTape(snap *MetricSnapshot, b *book.OrderBook, nowMs int64) {
	tape3 := b.Tape(nowMs, 3000)
	snap.TradeCount3s = tape3.Total
	snap.BuyCount3s = tape3.BuySide
	snap.SellCount3s = tape3.SellSide
	snap.TapeVolume3s = tape3.Volume

	// Velocity is the trailing-second rate; acceleration is its first
	// difference against the second before that.
	cur := float64(b.Tape(nowMs, 1000).Total)
	prev := float64(b.Tape(nowMs-1000, 1000).Total)
	snap.TapeVelocity = cur
	snap.TapeAcceleration = cur - prev

	if last, ok := b.LastTradePrice(); ok {
		snap.LastPrice = last
		snap.HasLast = true
	}
	if vwap, ok := b.VWAP(); ok {
		snap.VWAP = vwap
		snap.HasVWAP = true
	}
	if b.LastTradeMs() > 0 {
		age := nowMs - b.LastTradeMs()
		if age < 0 {
			age = 0
		}
		snap.TapeAge = KnownAge(age)
	}

	// A reclaim is the last print back above VWAP after the window traded
	// below it: price re-accepted value from underneath.
	if snap.HasLast && snap.HasVWAP && !tape3.MinPrice.IsZero() {
		if snap.LastPrice.GreaterThan(snap.VWAP) && tape3.MinPrice.LessThan(snap.VWAP) {
			snap.VWAPReclaim = true
			snap.VWAPBonus = e.cfg.VWAPReclaimBonus
		}
	}
}

func (e *Engine) fillFlow(snap *MetricSnapshot, b *book.OrderBook, nowMs int64) {
	snap.BidFlow1s = flowWindow(b.Flow(book.Bid, nowMs, 1000))
	snap.AskFlow1s = flowWindow(b.Flow(book.Ask, nowMs, 1000))
	snap.BidFlow3s = flowWindow(b.Flow(book.Bid, nowMs, 3000))
	snap.AskFlow3s = flowWindow(b.Flow(book.Ask, nowMs, 3000))
}

// fillAbsorption measures how fast resting liquidity is eating opposing flow:
// traded volume against the wall divided by how long that wall has persisted,
// capped to the lookback span so old walls are not diluted to zero.
func (e *Engine) fillAbsorption(snap *MetricSnapshot, b *book.OrderBook) {
	span := float64(e.cfg.AbsorptionSpanMs) / 1000.0
	tape := b.Tape(snap.TimestampMs, e.cfg.AbsorptionSpanMs)

	if snap.BidWallAge.Known && snap.BidWallAge.Millis > 0 {
		sec := snap.BidWallAge.Seconds()
		if sec > span {
			sec = span
		}
		snap.BidAbsorption = tape.SellVol.InexactFloat64() / sec
	}
	if snap.AskWallAge.Known && snap.AskWallAge.Millis > 0 {
		sec := snap.AskWallAge.Seconds()
		if sec > span {
			sec = span
		}
		snap.AskAbsorption = tape.BuyVolume.InexactFloat64() / sec
	}
}

// spoofScore combines the 1s cancel/add ratio with short wall persistence
// into a bounded [0,1] likelihood that displayed size is not genuine.
func (e *Engine) spoofScore(snap *MetricSnapshot) float64 {
	bid := e.sideSpoof(snap.BidFlow1s.Ratio, snap.BidWallAge)
	ask := e.sideSpoof(snap.AskFlow1s.Ratio, snap.AskWallAge)
	if ask > bid {
		return ask
	}
	return bid
}

func (e *Engine) sideSpoof(cancelAddRatio float64, wallAge AgeMs) float64 {
	ratioTerm := clamp01(cancelAddRatio / e.cfg.SpoofRatioScale)

	persistTerm := 1.0 // no wall at all reads as maximally transient
	if wallAge.Known {
		persistTerm = 1.0 - clamp01(float64(wallAge.Millis)/float64(e.cfg.SpoofPersistMs))
	}

	return clamp01(0.6*ratioTerm + 0.4*persistTerm)
}

// fillValidity surfaces upstream staleness so no consumer silently reasons
// over stale state. Depth staleness outranks tape conditions.
func (e *Engine) fillValidity(snap *MetricSnapshot, b *book.OrderBook, nowMs int64) {
	if ok, reason := b.Valid(nowMs); !ok {
		snap.Reason = &InvalidReason{Kind: ReasonDepthStale, Detail: reason.String()}
		return
	}
	if b.FirstTradeMs() == 0 || nowMs-b.FirstTradeMs() < e.cfg.WarmupMs {
		snap.Reason = &InvalidReason{Kind: ReasonTapeWarmup, Detail: "tape has not accumulated a full warmup window"}
		return
	}
	if age := nowMs - b.LastTradeMs(); age > e.cfg.TapeStaleMs {
		snap.Reason = &InvalidReason{Kind: ReasonTapeStale, Detail: "no prints inside the tape staleness window"}
		return
	}
	snap.Valid = true
}

func flowWindow(f book.FlowStats) FlowWindow {
	return FlowWindow{
		Adds:       f.Adds,
		Cancels:    f.Cancels,
		AddSize:    f.AddSize,
		CancelSize: f.CancelSize,
		Ratio:      f.CancelAddRatio(),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
