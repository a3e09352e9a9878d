package monitor

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tapewatch/internal/features"
	"github.com/sawpanic/tapewatch/internal/validator"
)

// CancelClient issues order cancellations downstream. The call may be slow
// or fail; the monitor never waits on it.
type CancelClient interface {
	Cancel(ctx context.Context, orderRef string) error
}

// CancelHook observes a withdrawal decision the moment it is made, before
// any downstream call completes. The pipeline uses it to arm the
// cancellation cooldown, journal, and alert.
type CancelHook func(symbol, decisionID string, nowMs int64)

// Config holds the post-signal degradation thresholds.
type Config struct {
	SpreadBlowoutMult        float64 `yaml:"spread_blowout_mult"`        // live spread vs reference
	TapeSlowdownRatio        float64 `yaml:"tape_slowdown_ratio"`        // live signal-side rate vs reference
	MaxConsecutiveViolations int     `yaml:"max_consecutive_violations"` // debounce before withdrawing
	MaxAgeMs                 int64   `yaml:"max_age_ms"`                 // observation window per signal
}

// DefaultConfig returns production monitor settings.
func DefaultConfig() Config {
	return Config{
		SpreadBlowoutMult:        2.5,
		TapeSlowdownRatio:        0.4,
		MaxConsecutiveViolations: 3,
		MaxAgeMs:                 120_000,
	}
}

// TrackedSignal is one accepted signal under observation.
type TrackedSignal struct {
	DecisionID  string
	Symbol      string
	Direction   validator.Direction
	RefSpread   decimal.Decimal
	RefTapeRate float64 // signal-side trades/sec at acceptance
	OrderRefs   []string
	StartMs     int64
	violations  int
}

// Monitor re-evaluates live conditions for accepted signals and withdraws
// them when degradation is sustained. A single healthy update resets the
// violation run; this debounce exists so one noisy tick cannot cancel a
// signal.
type Monitor struct {
	cfg    Config
	exec   CancelClient
	onStop CancelHook

	mu      sync.Mutex
	tracked map[string][]*TrackedSignal // keyed by symbol
}

// New creates a monitor. exec may be nil when no execution collaborator is
// wired (signals are then withdrawn bookkeeping-only).
func New(cfg Config, exec CancelClient, onStop CancelHook) *Monitor {
	if cfg.MaxConsecutiveViolations <= 0 {
		cfg = DefaultConfig()
	}
	return &Monitor{
		cfg:     cfg,
		exec:    exec,
		onStop:  onStop,
		tracked: make(map[string][]*TrackedSignal),
	}
}

// TrackAcceptedSignal registers a signal for continued observation.
func (m *Monitor) TrackAcceptedSignal(symbol string, direction validator.Direction, decisionID string,
	referenceSpread decimal.Decimal, referenceTapeRate float64, nowMs int64, orderRefs []string) {

	sig := &TrackedSignal{
		DecisionID:  decisionID,
		Symbol:      symbol,
		Direction:   direction,
		RefSpread:   referenceSpread,
		RefTapeRate: referenceTapeRate,
		OrderRefs:   orderRefs,
		StartMs:     nowMs,
	}

	m.mu.Lock()
	m.tracked[symbol] = append(m.tracked[symbol], sig)
	m.mu.Unlock()

	log.Info().Str("symbol", symbol).Str("decision_id", decisionID).
		Str("direction", string(direction)).Msg("tracking accepted signal")
}

// TrackedCount reports how many signals are currently under observation.
func (m *Monitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sigs := range m.tracked {
		n += len(sigs)
	}
	return n
}

// ProcessSnapshot checks every tracked signal for snap's symbol against the
// live conditions. Signals past their max age are evicted without a cancel.
func (m *Monitor) ProcessSnapshot(snap *features.MetricSnapshot, nowMs int64) {
	if snap == nil {
		return
	}

	m.mu.Lock()
	sigs := m.tracked[snap.Symbol]
	var keep []*TrackedSignal
	var cancelled []*TrackedSignal

	for _, sig := range sigs {
		if nowMs-sig.StartMs > m.cfg.MaxAgeMs {
			log.Debug().Str("decision_id", sig.DecisionID).Msg("signal aged out of monitoring")
			continue
		}

		if m.degraded(sig, snap) {
			sig.violations++
		} else {
			sig.violations = 0
		}

		if sig.violations >= m.cfg.MaxConsecutiveViolations {
			cancelled = append(cancelled, sig)
			continue
		}
		keep = append(keep, sig)
	}

	if len(keep) == 0 {
		delete(m.tracked, snap.Symbol)
	} else {
		m.tracked[snap.Symbol] = keep
	}
	m.mu.Unlock()

	// Tracking already stopped; downstream calls are fire-and-forget.
	for _, sig := range cancelled {
		m.withdraw(sig, nowMs)
	}
}

// degraded reports whether this update violates either post-signal
// condition: spread blown out past the reference, or the signal-side tape
// slowed below its reference rate.
func (m *Monitor) degraded(sig *TrackedSignal, snap *features.MetricSnapshot) bool {
	if sig.RefSpread.IsPositive() && snap.HasBestBid && snap.HasBestAsk {
		limit := sig.RefSpread.Mul(decimal.NewFromFloat(m.cfg.SpreadBlowoutMult))
		if snap.Spread.GreaterThan(limit) {
			return true
		}
	}

	if sig.RefTapeRate > 0 {
		live := snap.SideTradeRate3s(sig.Direction == validator.Long)
		if live < sig.RefTapeRate*m.cfg.TapeSlowdownRatio {
			return true
		}
	}

	return false
}

func (m *Monitor) withdraw(sig *TrackedSignal, nowMs int64) {
	log.Warn().Str("symbol", sig.Symbol).Str("decision_id", sig.DecisionID).
		Int("violations", sig.violations).Msg("withdrawing signal after sustained degradation")

	if m.onStop != nil {
		m.onStop(sig.Symbol, sig.DecisionID, nowMs)
	}
	if m.exec == nil {
		return
	}
	for _, ref := range sig.OrderRefs {
		go func(ref string) {
			if err := m.exec.Cancel(context.Background(), ref); err != nil {
				log.Error().Err(err).Str("order_ref", ref).Msg("downstream cancel failed")
			}
		}(ref)
	}
}
