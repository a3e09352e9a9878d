package features

import (
	"math"

	"github.com/shopspring/decimal"
)

// ReasonKind classifies why a snapshot is not safe to trade on. These are
// expected, frequent data-quality conditions, not failures.
type ReasonKind string

const (
	ReasonNoBook     ReasonKind = "NoBook"
	ReasonDepthStale ReasonKind = "DepthStale"
	ReasonTapeStale  ReasonKind = "TapeStale"
	ReasonTapeWarmup ReasonKind = "TapeWarmup"
)

// InvalidReason is the structured, machine-parseable reason attached to an
// invalid snapshot.
type InvalidReason struct {
	Kind   ReasonKind `json:"kind"`
	Detail string     `json:"detail"`
}

// AgeMs is an explicit optional age. Known is false when the underlying
// clock has nothing to measure (no resting level, no trade yet); OrMax maps
// that to the maximum representable age at reporting boundaries.
type AgeMs struct {
	Millis int64 `json:"millis"`
	Known  bool  `json:"known"`
}

// KnownAge wraps a measured age.
func KnownAge(ms int64) AgeMs { return AgeMs{Millis: ms, Known: true} }

// UnknownAge is the absent value.
func UnknownAge() AgeMs { return AgeMs{} }

// OrMax reports the age, or the maximum representable age when unknown.
func (a AgeMs) OrMax() int64 {
	if !a.Known {
		return math.MaxInt64
	}
	return a.Millis
}

// Seconds converts a known age to seconds; 0 when unknown.
func (a AgeMs) Seconds() float64 {
	if !a.Known {
		return 0
	}
	return float64(a.Millis) / 1000.0
}

// FlowWindow is cancel/add activity for one side over one lookback window.
type FlowWindow struct {
	Adds       int             `json:"adds"`
	Cancels    int             `json:"cancels"`
	AddSize    decimal.Decimal `json:"add_size"`
	CancelSize decimal.Decimal `json:"cancel_size"`
	Ratio      float64         `json:"ratio"` // count-based cancel/add contrast
}

// MetricSnapshot is the immutable per-(symbol, update) feature set. It is a
// pure function of the book at the instant of computation and is never
// mutated after creation.
type MetricSnapshot struct {
	Symbol      string `json:"symbol"`
	TimestampMs int64  `json:"timestamp_ms"`

	Valid  bool           `json:"valid"`
	Reason *InvalidReason `json:"reason,omitempty"`

	// Queue and depth
	QueueImbalance float64         `json:"queue_imbalance"` // positive favors bids
	TopLevels      int             `json:"top_levels"`
	BidTopSize     decimal.Decimal `json:"bid_top_size"`
	AskTopSize     decimal.Decimal `json:"ask_top_size"`
	TopSizeRatio   float64         `json:"top_size_ratio"` // bid/ask aggregate contrast

	// Best of book
	HasBestBid   bool            `json:"has_best_bid"`
	HasBestAsk   bool            `json:"has_best_ask"`
	BestBidPrice decimal.Decimal `json:"best_bid_price"`
	BestBidSize  decimal.Decimal `json:"best_bid_size"`
	BestAskPrice decimal.Decimal `json:"best_ask_price"`
	BestAskSize  decimal.Decimal `json:"best_ask_size"`
	Spread       decimal.Decimal `json:"spread"`
	MidPrice     decimal.Decimal `json:"mid_price"`

	// Wall persistence
	BidWallAge AgeMs `json:"bid_wall_age"`
	AskWallAge AgeMs `json:"ask_wall_age"`

	// Absorption and spoofing
	BidAbsorption float64 `json:"bid_absorption"` // volume/sec eaten at the bid wall
	AskAbsorption float64 `json:"ask_absorption"`
	SpoofScore    float64 `json:"spoof_score"` // bounded [0,1]

	// Tape
	TapeAcceleration float64         `json:"tape_acceleration"` // trades/s per s
	TapeVelocity     float64         `json:"tape_velocity"`     // trades/s over the last second
	TapeVolume3s     decimal.Decimal `json:"tape_volume_3s"`
	TradeCount3s     int             `json:"trade_count_3s"`
	BuyCount3s       int             `json:"buy_count_3s"`
	SellCount3s      int             `json:"sell_count_3s"`

	// Prices
	LastPrice decimal.Decimal `json:"last_price"`
	HasLast   bool            `json:"has_last"`
	VWAP      decimal.Decimal `json:"vwap"`
	HasVWAP   bool            `json:"has_vwap"`

	// Staleness
	DepthAgeMs int64 `json:"depth_age_ms"`
	TapeAge    AgeMs `json:"tape_age"`

	// Cancel/add windows, per side
	BidFlow1s FlowWindow `json:"bid_flow_1s"`
	AskFlow1s FlowWindow `json:"ask_flow_1s"`
	BidFlow3s FlowWindow `json:"bid_flow_3s"`
	AskFlow3s FlowWindow `json:"ask_flow_3s"`

	// VWAP reclaim
	VWAPReclaim bool    `json:"vwap_reclaim"`
	VWAPBonus   float64 `json:"vwap_bonus"`
}

// SideWallAge returns the wall age supporting a buy (bid wall) or sell
// (ask wall) candidate.
func (s *MetricSnapshot) SideWallAge(isBuy bool) AgeMs {
	if isBuy {
		return s.BidWallAge
	}
	return s.AskWallAge
}

// SideTradeRate3s is the trades-per-second rate on the side whose aggression
// supports the signal direction over the trailing 3 seconds.
func (s *MetricSnapshot) SideTradeRate3s(isBuy bool) float64 {
	if isBuy {
		return float64(s.BuyCount3s) / 3.0
	}
	return float64(s.SellCount3s) / 3.0
}
