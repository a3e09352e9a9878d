package feed

import (
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tapewatch/internal/book"
)

// DepthEvent is one order-book row change for a symbol.
type DepthEvent struct {
	Symbol      string
	Side        book.Side
	Op          book.Op
	Price       decimal.Decimal
	Size        decimal.Decimal
	Rank        int
	TimestampMs int64
}

// TradeEvent is one tape print. EventMs is the venue's event time; ReceiptMs
// is stamped locally when the frame is read, so skew between the two is
// observable downstream.
type TradeEvent struct {
	Symbol    string
	EventMs   int64
	ReceiptMs int64
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// ConnState tracks the feed connection lifecycle.
type ConnState int

const (
	Connected ConnState = iota
	Disconnected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "reconnecting"
	}
}

// ConnEvent reports a connectivity transition.
type ConnEvent struct {
	State       ConnState
	Detail      string
	TimestampMs int64
}
