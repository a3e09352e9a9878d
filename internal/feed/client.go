package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tapewatch/internal/book"
)

// Config holds feed connection settings.
type Config struct {
	URL                string `yaml:"url"`
	HandshakeTimeoutMs int64  `yaml:"handshake_timeout_ms"`
	InitialBackoffMs   int64  `yaml:"initial_backoff_ms"`
	MaxBackoffMs       int64  `yaml:"max_backoff_ms"`
	PingIntervalMs     int64  `yaml:"ping_interval_ms"`
	ReadTimeoutMs      int64  `yaml:"read_timeout_ms"`
}

// DefaultConfig returns production feed settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeoutMs: 10_000,
		InitialBackoffMs:   500,
		MaxBackoffMs:       30_000,
		PingIntervalMs:     15_000,
		ReadTimeoutMs:      45_000,
	}
}

// Client consumes a depth/trade stream over WebSocket and fans events into
// typed channels. It owns reconnection: exponential backoff with a cap,
// then a full resubscription sweep on every new connection.
type Client struct {
	cfg     Config
	symbols []string

	depth  chan DepthEvent
	trades chan TradeEvent
	conn   chan ConnEvent

	nowMs func() int64
}

// NewClient creates a feed client for the given symbols.
func NewClient(cfg Config, symbols []string) *Client {
	if cfg.MaxBackoffMs <= 0 {
		cfg = DefaultConfig()
	}
	return &Client{
		cfg:     cfg,
		symbols: symbols,
		depth:   make(chan DepthEvent, 1024),
		trades:  make(chan TradeEvent, 1024),
		conn:    make(chan ConnEvent, 16),
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Depth delivers decoded depth events.
func (c *Client) Depth() <-chan DepthEvent { return c.depth }

// Trades delivers decoded trade events.
func (c *Client) Trades() <-chan TradeEvent { return c.trades }

// Conn delivers connectivity transitions.
func (c *Client) Conn() <-chan ConnEvent { return c.conn }

// Run connects and pumps events until ctx is cancelled. Infrastructure
// faults are retried here with bounded backoff; consumers only ever see
// a symbol go quiet, which downstream treats as staleness.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Duration(c.cfg.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(c.cfg.MaxBackoffMs) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.emitConn(Disconnected, fmt.Sprintf("session ended: %v", err))
		log.Warn().Err(err).Dur("backoff", backoff).Msg("feed disconnected, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		c.emitConn(Reconnecting, "")
	}
}

// session runs one connection lifetime: dial, subscribe, read until error.
func (c *Client) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(c.cfg.HandshakeTimeoutMs) * time.Millisecond,
	}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer ws.Close()

	if err := c.subscribe(ws); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.emitConn(Connected, "")
	log.Info().Str("url", c.cfg.URL).Int("symbols", len(c.symbols)).Msg("feed connected and subscribed")

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(ctx, ws, done)

	readTimeout := time.Duration(c.cfg.ReadTimeoutMs) * time.Millisecond
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if readTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(data)
	}
}

// subscribe requests depth and trade channels for every symbol. The sweep
// runs on each (re)connection so a reconnect restores full coverage.
func (c *Client) subscribe(ws *websocket.Conn) error {
	req := subscribeRequest{
		Op:       "subscribe",
		Channels: []string{"depth", "trades"},
		Symbols:  c.symbols,
	}
	return ws.WriteJSON(req)
}

func (c *Client) pingLoop(ctx context.Context, ws *websocket.Conn, done <-chan struct{}) {
	interval := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// handleFrame decodes one wire frame and forwards it. Unknown or malformed
// frames are dropped with a log line; the feed must keep flowing.
func (c *Client) handleFrame(data []byte) {
	depth, trade, err := ParseFrame(data, c.nowMs())
	if err != nil {
		log.Debug().Err(err).Msg("dropping malformed feed frame")
		return
	}
	if depth != nil {
		select {
		case c.depth <- *depth:
		default:
			log.Warn().Str("symbol", depth.Symbol).Msg("depth channel full, dropping event")
		}
	}
	if trade != nil {
		select {
		case c.trades <- *trade:
		default:
			log.Warn().Str("symbol", trade.Symbol).Msg("trade channel full, dropping event")
		}
	}
}

func (c *Client) emitConn(state ConnState, detail string) {
	ev := ConnEvent{State: state, Detail: detail, TimestampMs: c.nowMs()}
	select {
	case c.conn <- ev:
	default:
	}
}

type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
	Symbols  []string `json:"symbols"`
}

type wireFrame struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Op        string          `json:"op"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Rank      int             `json:"rank"`
	EventMs   int64           `json:"event_ms"`
	TimeMs    int64           `json:"ts_ms"`
}

// ParseFrame decodes a single feed frame into at most one depth or trade
// event. Heartbeats and subscription acks decode to (nil, nil, nil).
func ParseFrame(data []byte, receiptMs int64) (*DepthEvent, *TradeEvent, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, nil, fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case "depth":
		side, err := parseSide(frame.Side)
		if err != nil {
			return nil, nil, err
		}
		op, err := parseOp(frame.Op)
		if err != nil {
			return nil, nil, err
		}
		return &DepthEvent{
			Symbol:      frame.Symbol,
			Side:        side,
			Op:          op,
			Price:       frame.Price,
			Size:        frame.Size,
			Rank:        frame.Rank,
			TimestampMs: frame.TimeMs,
		}, nil, nil

	case "trade":
		return nil, &TradeEvent{
			Symbol:    frame.Symbol,
			EventMs:   frame.EventMs,
			ReceiptMs: receiptMs,
			Price:     frame.Price,
			Size:      frame.Size,
		}, nil

	case "heartbeat", "subscribed":
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "bid", "buy":
		return book.Bid, nil
	case "ask", "sell":
		return book.Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseOp(s string) (book.Op, error) {
	switch s {
	case "insert":
		return book.Insert, nil
	case "update":
		return book.Update, nil
	case "delete":
		return book.Delete, nil
	default:
		return 0, fmt.Errorf("unknown op %q", s)
	}
}
