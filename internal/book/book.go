package book

import (
	"github.com/shopspring/decimal"
)

// timeSource tags staleness reasons with where "now" came from.
const timeSource = "feed-clock"

// Config holds the per-book tunables. All values are runtime configuration.
type Config struct {
	MaxDepth             int   `yaml:"max_depth"`              // ladder rows kept per side
	StalenessThresholdMs int64 `yaml:"staleness_threshold_ms"` // strict: age > threshold is stale
	TradeWindowMs        int64 `yaml:"trade_window_ms"`        // rolling tape retention
	FlowWindowMs         int64 `yaml:"flow_window_ms"`         // add/cancel event retention
}

// DefaultConfig returns production book settings.
func DefaultConfig() Config {
	return Config{
		MaxDepth:             10,
		StalenessThresholdMs: 2000,
		TradeWindowMs:        5000,
		FlowWindowMs:         3000,
	}
}

// wallClock tracks when a side's best price last changed. Known is false when
// the side has no levels, which reads as an unknown wall age rather than a
// sentinel value.
type wallClock struct {
	sinceMs int64
	known   bool
}

type flowEvent struct {
	tsMs int64
	add  bool
	size decimal.Decimal
}

// OrderBook is the per-symbol depth and tape state. It is exclusively owned
// by one update path; no internal locking. Cross-symbol parallelism is
// handled by routing all events for a symbol through a single worker.
type OrderBook struct {
	Symbol string

	cfg  Config
	bids []*PriceLevel // rank order, best (highest price) first
	asks []*PriceLevel // rank order, best (lowest price) first

	bidWall wallClock
	askWall wallClock

	lastDepthMs  int64
	lastTradeMs  int64
	firstTradeMs int64

	trades  []Trade
	bidFlow []flowEvent
	askFlow []flowEvent

	cumPV  decimal.Decimal // cumulative price*size
	cumVol decimal.Decimal // cumulative size
}

// New creates an empty book for symbol. Books are created on the first depth
// event for a symbol and live for the life of the subscription.
func New(symbol string, cfg Config) *OrderBook {
	if cfg.MaxDepth <= 0 {
		cfg = DefaultConfig()
	}
	return &OrderBook{
		Symbol: symbol,
		cfg:    cfg,
		cumPV:  decimal.Zero,
		cumVol: decimal.Zero,
	}
}

// ApplyDepthUpdate mutates the ladder for one feed event. Malformed input
// that can occur live (delete of an absent rank, update past the ladder end)
// is normalized or ignored, never surfaced as an error.
func (b *OrderBook) ApplyDepthUpdate(side Side, op Op, price, size decimal.Decimal, rank int, tsMs int64) {
	levels := b.sideLevels(side)
	prevBest, hadBest := bestPrice(levels)

	switch op {
	case Insert:
		if rank < 0 {
			rank = 0
		}
		if rank > len(levels) {
			rank = len(levels)
		}
		lvl := &PriceLevel{Side: side, Price: price, Size: size, Rank: rank, UpdatedMs: tsMs}
		levels = append(levels, nil)
		copy(levels[rank+1:], levels[rank:])
		levels[rank] = lvl
		if len(levels) > b.cfg.MaxDepth {
			// The evicted row fell off our tracked window; the order still
			// rests at the venue, so truncation is not counted as a cancel.
			levels = levels[:b.cfg.MaxDepth]
		}
		b.recordFlow(side, flowEvent{tsMs: tsMs, add: true, size: size})

	case Update:
		if rank < 0 {
			return
		}
		if rank >= len(levels) {
			// Feeds occasionally send an update for a row we never saw.
			// Treat it as an insert at the tail.
			b.ApplyDepthUpdate(side, Insert, price, size, len(levels), tsMs)
			return
		}
		lvl := levels[rank]
		delta := size.Sub(lvl.Size)
		if delta.IsPositive() {
			b.recordFlow(side, flowEvent{tsMs: tsMs, add: true, size: delta})
		} else if delta.IsNegative() {
			b.recordFlow(side, flowEvent{tsMs: tsMs, add: false, size: delta.Neg()})
		}
		if !price.IsZero() {
			lvl.Price = price
		}
		lvl.Size = size
		lvl.UpdatedMs = tsMs

	case Delete:
		// Deletes may carry a zero price/size payload; the rank alone
		// identifies the row to clear.
		if rank < 0 || rank >= len(levels) {
			return
		}
		removed := levels[rank]
		b.recordFlow(side, flowEvent{tsMs: tsMs, add: false, size: removed.Size})
		levels = append(levels[:rank], levels[rank+1:]...)
	}

	for i, lvl := range levels {
		lvl.Rank = i
	}
	b.setSideLevels(side, levels)
	b.lastDepthMs = tsMs

	b.rollWallClock(side, prevBest, hadBest, tsMs)
	b.pruneFlow(side, tsMs)
}

// rollWallClock resets the side's wall age only when the best price changed.
// Size-only churn at the best level keeps the clock running.
func (b *OrderBook) rollWallClock(side Side, prevBest decimal.Decimal, hadBest bool, tsMs int64) {
	wall := b.sideWall(side)
	newBest, hasBest := bestPrice(b.sideLevels(side))

	switch {
	case !hasBest:
		wall.known = false
	case !hadBest || !wall.known || !newBest.Equal(prevBest):
		wall.sinceMs = tsMs
		wall.known = true
	}
}

// RecordTrade appends a print to the rolling tape and feeds the VWAP
// accumulators. The aggressor side is classified against the current book.
func (b *OrderBook) RecordTrade(eventTimeMs, receiptTimeMs int64, price, size decimal.Decimal) {
	t := Trade{
		Price:     price,
		Size:      size,
		EventMs:   eventTimeMs,
		ReceiptMs: receiptTimeMs,
	}
	t.Aggressor, t.AggressorKnown = b.classifyAggressor(price)

	b.trades = append(b.trades, t)
	b.pruneTrades(eventTimeMs)

	if eventTimeMs > b.lastTradeMs {
		b.lastTradeMs = eventTimeMs
	}
	if b.firstTradeMs == 0 {
		b.firstTradeMs = eventTimeMs
	}

	b.cumPV = b.cumPV.Add(price.Mul(size))
	b.cumVol = b.cumVol.Add(size)
}

// classifyAggressor tags a print as buyer- or seller-initiated by comparing
// the fill price against the prevailing quotes.
func (b *OrderBook) classifyAggressor(price decimal.Decimal) (Side, bool) {
	bb, bbOK := bestPrice(b.bids)
	ba, baOK := bestPrice(b.asks)
	switch {
	case baOK && price.GreaterThanOrEqual(ba):
		return Ask, true // lifted the offer: aggressive buy
	case bbOK && price.LessThanOrEqual(bb):
		return Bid, true // hit the bid: aggressive sell
	case bbOK && baOK:
		mid := bb.Add(ba).Div(decimal.NewFromInt(2))
		if price.GreaterThanOrEqual(mid) {
			return Ask, true
		}
		return Bid, true
	default:
		return Bid, false
	}
}

// Valid reports whether the depth is fresh enough to reason over at nowMs.
// The threshold is strict: age == threshold is still valid. A negative age
// (clock skew, future-stamped update) is valid, never stale.
func (b *OrderBook) Valid(nowMs int64) (bool, *StalenessReason) {
	if b.lastDepthMs == 0 {
		return false, &StalenessReason{
			NowMs:       nowMs,
			LastDepthMs: 0,
			AgeMs:       -1,
			ThresholdMs: b.cfg.StalenessThresholdMs,
			Source:      "no-depth",
		}
	}
	age := nowMs - b.lastDepthMs
	if age > b.cfg.StalenessThresholdMs {
		return false, &StalenessReason{
			NowMs:       nowMs,
			LastDepthMs: b.lastDepthMs,
			AgeMs:       age,
			ThresholdMs: b.cfg.StalenessThresholdMs,
			Source:      timeSource,
		}
	}
	return true, nil
}

// WallAge returns the milliseconds since the side's best price last changed.
// known is false when the side has no resting levels (for example right
// after the best level was deleted and nothing replaced it).
func (b *OrderBook) WallAge(side Side, nowMs int64) (ageMs int64, known bool) {
	wall := b.sideWall(side)
	if !wall.known {
		return 0, false
	}
	age := nowMs - wall.sinceMs
	if age < 0 {
		age = 0
	}
	return age, true
}

// BestLevel returns the top of one side, or nil when the side is empty.
func (b *OrderBook) BestLevel(side Side) *PriceLevel {
	levels := b.sideLevels(side)
	if len(levels) == 0 {
		return nil
	}
	return levels[0]
}

// Levels returns the side's ladder in rank order. Callers must not mutate.
func (b *OrderBook) Levels(side Side) []*PriceLevel {
	return b.sideLevels(side)
}

// TopDepth sums the sizes of the side's best n levels.
func (b *OrderBook) TopDepth(side Side, n int) decimal.Decimal {
	total := decimal.Zero
	levels := b.sideLevels(side)
	if n > len(levels) {
		n = len(levels)
	}
	for i := 0; i < n; i++ {
		total = total.Add(levels[i].Size)
	}
	return total
}

// VWAP returns cumulative price*size over cumulative size at full decimal
// precision. ok is false before the first trade.
func (b *OrderBook) VWAP() (decimal.Decimal, bool) {
	if b.cumVol.IsZero() {
		return decimal.Zero, false
	}
	return b.cumPV.Div(b.cumVol), true
}

// Tape aggregates the trade prints whose event time falls inside
// [nowMs-windowMs, nowMs].
func (b *OrderBook) Tape(nowMs, windowMs int64) TapeStats {
	stats := TapeStats{
		Volume:    decimal.Zero,
		BuyVolume: decimal.Zero,
		SellVol:   decimal.Zero,
	}
	cutoff := nowMs - windowMs
	for i := range b.trades {
		t := &b.trades[i]
		if t.EventMs < cutoff || t.EventMs > nowMs {
			continue
		}
		stats.Total++
		stats.Volume = stats.Volume.Add(t.Size)
		if t.AggressorKnown {
			if t.Aggressor == Ask {
				stats.BuySide++
				stats.BuyVolume = stats.BuyVolume.Add(t.Size)
			} else {
				stats.SellSide++
				stats.SellVol = stats.SellVol.Add(t.Size)
			}
		}
		if stats.MinPrice.IsZero() || t.Price.LessThan(stats.MinPrice) {
			stats.MinPrice = t.Price
		}
		if t.Price.GreaterThan(stats.MaxPrice) {
			stats.MaxPrice = t.Price
		}
	}
	return stats
}

// Flow aggregates add/cancel events for a side inside the window.
func (b *OrderBook) Flow(side Side, nowMs, windowMs int64) FlowStats {
	stats := FlowStats{AddSize: decimal.Zero, CancelSize: decimal.Zero}
	cutoff := nowMs - windowMs
	for _, ev := range b.sideFlow(side) {
		if ev.tsMs < cutoff || ev.tsMs > nowMs {
			continue
		}
		if ev.add {
			stats.Adds++
			stats.AddSize = stats.AddSize.Add(ev.size)
		} else {
			stats.Cancels++
			stats.CancelSize = stats.CancelSize.Add(ev.size)
		}
	}
	return stats
}

// LastDepthMs is the timestamp of the most recent depth mutation.
func (b *OrderBook) LastDepthMs() int64 { return b.lastDepthMs }

// LastTradeMs is the event time of the most recent print, 0 before warmup.
func (b *OrderBook) LastTradeMs() int64 { return b.lastTradeMs }

// FirstTradeMs is the event time of the earliest print seen, 0 before warmup.
func (b *OrderBook) FirstTradeMs() int64 { return b.firstTradeMs }

// LastTradePrice returns the most recent print price, ok=false before warmup.
func (b *OrderBook) LastTradePrice() (decimal.Decimal, bool) {
	if len(b.trades) == 0 {
		return decimal.Zero, false
	}
	return b.trades[len(b.trades)-1].Price, true
}

func (b *OrderBook) pruneTrades(nowMs int64) {
	cutoff := nowMs - b.cfg.TradeWindowMs
	i := 0
	for ; i < len(b.trades); i++ {
		if b.trades[i].EventMs >= cutoff {
			break
		}
	}
	if i > 0 {
		b.trades = append(b.trades[:0], b.trades[i:]...)
	}
}

func (b *OrderBook) recordFlow(side Side, ev flowEvent) {
	if side == Bid {
		b.bidFlow = append(b.bidFlow, ev)
	} else {
		b.askFlow = append(b.askFlow, ev)
	}
}

func (b *OrderBook) pruneFlow(side Side, nowMs int64) {
	cutoff := nowMs - b.cfg.FlowWindowMs
	flow := b.sideFlow(side)
	i := 0
	for ; i < len(flow); i++ {
		if flow[i].tsMs >= cutoff {
			break
		}
	}
	if i > 0 {
		flow = append(flow[:0], flow[i:]...)
		if side == Bid {
			b.bidFlow = flow
		} else {
			b.askFlow = flow
		}
	}
}

func (b *OrderBook) sideLevels(side Side) []*PriceLevel {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) setSideLevels(side Side, levels []*PriceLevel) {
	if side == Bid {
		b.bids = levels
	} else {
		b.asks = levels
	}
}

func (b *OrderBook) sideFlow(side Side) []flowEvent {
	if side == Bid {
		return b.bidFlow
	}
	return b.askFlow
}

func (b *OrderBook) sideWall(side Side) *wallClock {
	if side == Bid {
		return &b.bidWall
	}
	return &b.askWall
}

func bestPrice(levels []*PriceLevel) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	return levels[0].Price, true
}
