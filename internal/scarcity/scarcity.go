package scarcity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Rejection reason codes, reported in evaluation order.
const (
	ReasonSymbolCooldown    = "SymbolCooldown"
	ReasonSymbolLimit       = "SymbolLimit"
	ReasonGlobalCooldown    = "GlobalCooldown"
	ReasonGlobalLimit       = "GlobalLimit"
	ReasonCancelledCooldown = "CancelledCooldown"
)

// Config holds admission-control thresholds. The cancelled cooldown is
// deliberately shorter than the ordinary global cooldown: a cancellation
// marks a recent regime change worth a brief universal pause, not a full
// global lockout.
type Config struct {
	SymbolCooldownMinutes    int `yaml:"symbol_cooldown_minutes"`
	GlobalCooldownMinutes    int `yaml:"global_cooldown_minutes"`
	CancelledCooldownMinutes int `yaml:"cancelled_cooldown_minutes"`
	MaxPerSymbolPerDay       int `yaml:"max_per_symbol_per_day"`
	MaxGlobalPerDay          int `yaml:"max_global_per_day"`
	StoreTimeoutMs           int `yaml:"store_timeout_ms"`
}

// DefaultConfig returns production admission settings.
func DefaultConfig() Config {
	return Config{
		SymbolCooldownMinutes:    15,
		GlobalCooldownMinutes:    10,
		CancelledCooldownMinutes: 3,
		MaxPerSymbolPerDay:       3,
		MaxGlobalPerDay:          12,
		StoreTimeoutMs:           250,
	}
}

// SymbolState is the per-symbol slice of the day's admission counters.
type SymbolState struct {
	LastAcceptMs int64 `json:"last_accept_ms"`
	Count        int   `json:"count"`
}

// DayState is everything the controller needs to restore a trading day.
type DayState struct {
	GlobalCount  int                    `json:"global_count"`
	GlobalLastMs int64                  `json:"global_last_ms"`
	LastCancelMs int64                  `json:"last_cancel_ms"`
	Symbols      map[string]SymbolState `json:"symbols"`
}

// Store persists day state across restarts. Best-effort: load/save failures
// are logged, never allowed to block admission decisions. Saves run on a
// background goroutine, so a slow store cannot delay staging.
type Store interface {
	Load(ctx context.Context, day string) (*DayState, error)
	Save(ctx context.Context, day string, state *DayState) error
}

// saveRequest carries one day-state snapshot to the background saver.
type saveRequest struct {
	day   string
	state DayState
}

// StageResult is the admission verdict for one candidate.
type StageResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Controller rate-limits signal emission globally and per symbol. Counters
// are scoped to the UTC trading day and reset at the boundary. Writers
// replace per-symbol entries wholesale so a racing reader never observes a
// half-updated entry.
type Controller struct {
	cfg   Config
	store Store // optional

	saves     chan saveRequest
	quit      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	day          string
	symbols      map[string]SymbolState
	globalCount  int
	globalLastMs int64
	lastCancelMs int64
}

// New creates a controller. store may be nil for purely in-memory operation;
// when set, the current day's counters are restored from it.
func New(cfg Config, store Store) *Controller {
	c := &Controller{
		cfg:     cfg,
		store:   store,
		symbols: make(map[string]SymbolState),
	}
	if store != nil {
		day := dayKey(time.Now().UnixMilli())
		ctx, cancel := c.storeCtx()
		defer cancel()
		if state, err := store.Load(ctx, day); err != nil {
			log.Warn().Err(err).Str("day", day).Msg("scarcity state load failed, starting fresh")
		} else if state != nil {
			c.day = day
			c.globalCount = state.GlobalCount
			c.globalLastMs = state.GlobalLastMs
			c.lastCancelMs = state.LastCancelMs
			for sym, st := range state.Symbols {
				c.symbols[sym] = st
			}
			log.Info().Str("day", day).Int("global_count", c.globalCount).Msg("scarcity state restored")
		}

		c.saves = make(chan saveRequest, 1)
		c.quit = make(chan struct{})
		go c.saver()
	}
	return c
}

// Close stops the background saver. Safe to call more than once; a
// store-less controller has nothing to stop.
func (c *Controller) Close() {
	if c.quit == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.quit) })
}

// StageCandidate admits or rejects an already-validated candidate. Checks
// run in a fixed order: symbol cooldown, symbol daily limit, global
// cooldown, global daily limit, then the cancellation cooldown.
func (c *Controller) StageCandidate(id, symbol string, score float64, nowMs int64) StageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(nowMs)

	sym := c.symbols[symbol]

	if sym.LastAcceptMs > 0 && nowMs-sym.LastAcceptMs < c.symbolCooldownMs() {
		return c.reject(id, symbol, ReasonSymbolCooldown)
	}
	if sym.Count >= c.cfg.MaxPerSymbolPerDay {
		return c.reject(id, symbol, ReasonSymbolLimit)
	}
	if c.globalLastMs > 0 && nowMs-c.globalLastMs < c.globalCooldownMs() {
		return c.reject(id, symbol, ReasonGlobalCooldown)
	}
	if c.globalCount >= c.cfg.MaxGlobalPerDay {
		return c.reject(id, symbol, ReasonGlobalLimit)
	}
	if c.lastCancelMs > 0 && nowMs-c.lastCancelMs < c.cancelledCooldownMs() {
		return c.reject(id, symbol, ReasonCancelledCooldown)
	}

	// Replace the entry wholesale rather than mutating it in place.
	c.symbols[symbol] = SymbolState{LastAcceptMs: nowMs, Count: sym.Count + 1}
	c.globalCount++
	c.globalLastMs = nowMs
	c.persist()

	log.Info().Str("id", id).Str("symbol", symbol).Float64("score", score).
		Int("global_count", c.globalCount).Msg("candidate staged")
	return StageResult{Accepted: true}
}

// RecordCancelledAcceptance starts the global cancellation cooldown. It
// blocks staging of every symbol's candidates, not just the cancelled one:
// a withdrawal signals conditions just changed for the whole tape.
func (c *Controller) RecordCancelledAcceptance(symbol string, nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollDay(nowMs)
	c.lastCancelMs = nowMs
	c.persist()
	log.Info().Str("symbol", symbol).Int64("now_ms", nowMs).Msg("cancellation cooldown armed")
}

// Snapshot returns a copy of the current day state, for persistence and ops
// introspection.
func (c *Controller) Snapshot() DayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() DayState {
	state := DayState{
		GlobalCount:  c.globalCount,
		GlobalLastMs: c.globalLastMs,
		LastCancelMs: c.lastCancelMs,
		Symbols:      make(map[string]SymbolState, len(c.symbols)),
	}
	for sym, st := range c.symbols {
		state.Symbols[sym] = st
	}
	return state
}

func (c *Controller) reject(id, symbol, reason string) StageResult {
	log.Debug().Str("id", id).Str("symbol", symbol).Str("reason", reason).Msg("candidate rejected by admission control")
	return StageResult{Reason: reason}
}

// rollDay resets daily counters when nowMs crosses a UTC day boundary.
// Cooldown timestamps carry over; their windows are minutes, not days.
func (c *Controller) rollDay(nowMs int64) {
	day := dayKey(nowMs)
	if day == c.day {
		return
	}
	c.day = day
	c.globalCount = 0
	c.symbols = make(map[string]SymbolState)
}

// persist hands the current state to the saver without blocking. Called
// with c.mu held; when a save is already pending the stale request is
// replaced, so the saver only ever writes the newest state.
func (c *Controller) persist() {
	if c.saves == nil {
		return
	}
	req := saveRequest{day: c.day, state: c.snapshotLocked()}
	for {
		select {
		case c.saves <- req:
			return
		default:
		}
		select {
		case <-c.saves:
		default:
		}
	}
}

func (c *Controller) saver() {
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.saves:
			ctx, cancel := c.storeCtx()
			if err := c.store.Save(ctx, req.day, &req.state); err != nil {
				log.Warn().Err(err).Str("day", req.day).Msg("scarcity state save failed")
			}
			cancel()
		}
	}
}

func (c *Controller) storeCtx() (context.Context, context.CancelFunc) {
	timeout := time.Duration(c.cfg.StoreTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (c *Controller) symbolCooldownMs() int64 {
	return int64(c.cfg.SymbolCooldownMinutes) * 60_000
}

func (c *Controller) globalCooldownMs() int64 {
	return int64(c.cfg.GlobalCooldownMinutes) * 60_000
}

func (c *Controller) cancelledCooldownMs() int64 {
	return int64(c.cfg.CancelledCooldownMinutes) * 60_000
}

func dayKey(nowMs int64) string {
	return time.UnixMilli(nowMs).UTC().Format("2006-01-02")
}
