package validator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sawpanic/tapewatch/internal/book"
	"github.com/sawpanic/tapewatch/internal/features"
)

// Direction is the side a signal wants to trade.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Rejection reason codes. Gate names double as reason codes so a rejected
// decision pinpoints the first violated gate.
const (
	ReasonNoPattern      = "NoQualifyingPattern"
	ReasonCooldownActive = "CooldownActive"

	GateSpoof           = "MaxSpoofScore"
	GateTapeAccel       = "MinTapeAcceleration"
	GateWallPersistence = "MinWallPersistence"
)

// Config holds the hard-gate and candidate thresholds. All runtime
// configuration, never compiled constants.
type Config struct {
	MaxSpoofScore       float64 `yaml:"max_spoof_score"`
	MinTapeAcceleration float64 `yaml:"min_tape_acceleration"`
	MinWallPersistMs    int64   `yaml:"min_wall_persist_ms"`
	ImbalanceTrigger    float64 `yaml:"imbalance_trigger"`    // |imbalance| needed for a candidate
	MinAbsorption       float64 `yaml:"min_absorption"`       // supporting-side absorption floor
	AbsorptionScale     float64 `yaml:"absorption_scale"`     // absorption mapping to full confidence weight
	AccelScale          float64 `yaml:"accel_scale"`          // acceleration mapping to full confidence weight
	CooldownBypassScore float64 `yaml:"cooldown_bypass_score"`
	SymbolCooldownMs    int64   `yaml:"symbol_cooldown_ms"`
}

// DefaultConfig returns production validator settings.
func DefaultConfig() Config {
	return Config{
		MaxSpoofScore:       0.65,
		MinTapeAcceleration: 0.5,
		MinWallPersistMs:    1200,
		ImbalanceTrigger:    0.35,
		MinAbsorption:       0.0,
		AbsorptionScale:     20.0,
		AccelScale:          4.0,
		CooldownBypassScore: 85.0,
		SymbolCooldownMs:    15 * 60 * 1000,
	}
}

// Signal is an emitted trading candidate.
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // bounded [0,100]
	SnapshotMs int64     `json:"snapshot_ms"`
}

// GateResult reports the hard-gate sweep: the first failing gate in priority
// order, or passed with none.
type GateResult struct {
	Passed     bool   `json:"passed"`
	FailedGate string `json:"failed_gate,omitempty"`
}

// Decision is the validator output for one (symbol, update).
type Decision struct {
	Symbol       string      `json:"symbol"`
	TimestampMs  int64       `json:"timestamp_ms"`
	HasCandidate bool        `json:"has_candidate"`
	Accepted     bool        `json:"accepted"`
	Reason       string      `json:"reason,omitempty"`
	Signal       *Signal     `json:"signal,omitempty"`
	Gates        *GateResult `json:"gates,omitempty"`
}

// Validator turns snapshots into decisions. Stateless apart from the
// per-symbol last-accept time used by the cooldown-bypass rule; that map is
// guarded since acceptances land from per-symbol workers.
type Validator struct {
	cfg    Config
	engine *features.Engine

	mu         sync.Mutex
	lastAccept map[string]int64
}

// New creates a validator reading snapshots from engine.
func New(cfg Config, engine *features.Engine) *Validator {
	return &Validator{
		cfg:        cfg,
		engine:     engine,
		lastAccept: make(map[string]int64),
	}
}

// CheckHardGates evaluates the hard gates in fixed priority order:
// spoof score, tape acceleration, then wall persistence on the side
// supporting the signal. The first violated gate is reported.
func (v *Validator) CheckHardGates(snap *features.MetricSnapshot, isBuy bool) GateResult {
	if snap.SpoofScore > v.cfg.MaxSpoofScore {
		return GateResult{FailedGate: GateSpoof}
	}
	if snap.TapeAcceleration < v.cfg.MinTapeAcceleration {
		return GateResult{FailedGate: GateTapeAccel}
	}
	// An unknown wall age reports as the maximum representable age, which
	// trivially satisfies persistence; candidate detection already requires
	// a live best level, so that path only matters for direct gate calls.
	if snap.SideWallAge(isBuy).OrMax() < v.cfg.MinWallPersistMs {
		return GateResult{FailedGate: GateWallPersistence}
	}
	return GateResult{Passed: true}
}

// RecordAcceptedSignal stores the per-symbol last-accept time consumed by
// the cooldown-bypass rule.
func (v *Validator) RecordAcceptedSignal(symbol string, timestampMs int64) {
	v.mu.Lock()
	v.lastAccept[symbol] = timestampMs
	v.mu.Unlock()
}

// EvaluateDecision builds a candidate from the latest snapshot for b's
// symbol and gates it. A candidate inside the symbol cooldown window is
// still accepted when its confidence clears the bypass score; otherwise it
// is rejected with CooldownActive. Data-quality conditions surface as the
// snapshot's structured reason, never as errors.
func (v *Validator) EvaluateDecision(b *book.OrderBook, nowMs int64) Decision {
	dec := Decision{TimestampMs: nowMs}
	if b != nil {
		dec.Symbol = b.Symbol
	}

	snap, ok := v.latest(b)
	if !ok {
		dec.Reason = string(features.ReasonNoBook)
		return dec
	}
	dec.Symbol = snap.Symbol
	if !snap.Valid {
		dec.Reason = string(snap.Reason.Kind)
		return dec
	}

	dir, found := v.detectPattern(snap)
	if !found {
		dec.Reason = ReasonNoPattern
		return dec
	}
	dec.HasCandidate = true

	gates := v.CheckHardGates(snap, dir == Long)
	dec.Gates = &gates
	if !gates.Passed {
		dec.Reason = gates.FailedGate
		return dec
	}

	confidence := v.confidence(snap, dir)
	sig := &Signal{
		ID:         uuid.NewString(),
		Symbol:     snap.Symbol,
		Direction:  dir,
		Confidence: confidence,
		SnapshotMs: snap.TimestampMs,
	}
	dec.Signal = sig

	if v.insideCooldown(snap.Symbol, nowMs) && confidence < v.cfg.CooldownBypassScore {
		dec.Reason = ReasonCooldownActive
		return dec
	}

	dec.Accepted = true
	return dec
}

func (v *Validator) latest(b *book.OrderBook) (*features.MetricSnapshot, bool) {
	if b == nil {
		return nil, false
	}
	return v.engine.LatestSnapshot(b.Symbol)
}

// detectPattern looks for a directional microstructure setup: queue
// imbalance beyond the trigger with absorption on the supporting side.
func (v *Validator) detectPattern(snap *features.MetricSnapshot) (Direction, bool) {
	switch {
	case snap.QueueImbalance >= v.cfg.ImbalanceTrigger && snap.BidAbsorption >= v.cfg.MinAbsorption:
		return Long, true
	case snap.QueueImbalance <= -v.cfg.ImbalanceTrigger && snap.AskAbsorption >= v.cfg.MinAbsorption:
		return Short, true
	default:
		return "", false
	}
}

// confidence scores a candidate into [0,100] from imbalance strength,
// supporting-side absorption, tape acceleration, and the VWAP reclaim bonus
// (long side only; a reclaim argues against shorts).
func (v *Validator) confidence(snap *features.MetricSnapshot, dir Direction) float64 {
	imb := snap.QueueImbalance
	absorption := snap.BidAbsorption
	if dir == Short {
		imb = -imb
		absorption = snap.AskAbsorption
	}

	score := 45.0 * clamp01(imb)
	score += 25.0 * clamp01(absorption/v.cfg.AbsorptionScale)
	score += 20.0 * clamp01(snap.TapeAcceleration/v.cfg.AccelScale)
	if dir == Long && snap.VWAPReclaim {
		score += snap.VWAPBonus
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func (v *Validator) insideCooldown(symbol string, nowMs int64) bool {
	v.mu.Lock()
	last, ok := v.lastAccept[symbol]
	v.mu.Unlock()
	return ok && nowMs-last < v.cfg.SymbolCooldownMs
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
