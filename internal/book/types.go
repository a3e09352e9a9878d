package book

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side identifies which half of the book a level or flow event belongs to.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Op is a depth update operation as delivered by the feed.
type Op int

const (
	Insert Op = iota
	Update
	Delete
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	default:
		return "delete"
	}
}

// PriceLevel is one row of the depth ladder. Ranks are contiguous from 0
// (best) within a side; best = highest bid / lowest ask.
type PriceLevel struct {
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Rank      int             `json:"rank"`
	UpdatedMs int64           `json:"updated_ms"`
}

// Trade is a single tape print kept in the rolling trade window.
// Aggressor is classified against the book state at receipt time.
type Trade struct {
	Price          decimal.Decimal `json:"price"`
	Size           decimal.Decimal `json:"size"`
	EventMs        int64           `json:"event_ms"`
	ReceiptMs      int64           `json:"receipt_ms"`
	Aggressor      Side            `json:"aggressor"`
	AggressorKnown bool            `json:"aggressor_known"`
}

// FlowStats aggregates add/cancel activity on one side over a lookback window.
type FlowStats struct {
	Adds       int             `json:"adds"`
	Cancels    int             `json:"cancels"`
	AddSize    decimal.Decimal `json:"add_size"`
	CancelSize decimal.Decimal `json:"cancel_size"`
}

// CancelAddRatio is the count-based cancel/add contrast for the window.
// With no adds it reports the raw cancel count so pure pulling still scores.
func (f FlowStats) CancelAddRatio() float64 {
	if f.Adds == 0 {
		return float64(f.Cancels)
	}
	return float64(f.Cancels) / float64(f.Adds)
}

// TapeStats aggregates the trade window split by aggressor side.
type TapeStats struct {
	Total     int             `json:"total"`
	BuySide   int             `json:"buy_side"`
	SellSide  int             `json:"sell_side"`
	Volume    decimal.Decimal `json:"volume"`
	BuyVolume decimal.Decimal `json:"buy_volume"`
	SellVol   decimal.Decimal `json:"sell_volume"`
	MinPrice  decimal.Decimal `json:"min_price"`
	MaxPrice  decimal.Decimal `json:"max_price"`
}

// StalenessReason explains why a book failed its freshness check. It carries
// every input to the decision so a rejection can be diagnosed from logs alone.
type StalenessReason struct {
	NowMs       int64  `json:"now_ms"`
	LastDepthMs int64  `json:"last_depth_ms"`
	AgeMs       int64  `json:"age_ms"`
	ThresholdMs int64  `json:"threshold_ms"`
	Source      string `json:"source"`
}

func (r *StalenessReason) String() string {
	return fmt.Sprintf("depth stale: now=%d last=%d age=%dms threshold=%dms source=%s",
		r.NowMs, r.LastDepthMs, r.AgeMs, r.ThresholdMs, r.Source)
}
