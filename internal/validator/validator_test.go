package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tapewatch/internal/book"
	"github.com/sawpanic/tapewatch/internal/features"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// harness builds a warmed, valid book/snapshot pair and hands the snapshot
// back for shaping before the validator first reads it.
type harness struct {
	engine    *features.Engine
	validator *Validator
	book      *book.OrderBook
	snap      *features.MetricSnapshot
	nowMs     int64
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	engine := features.NewEngine(features.DefaultConfig())
	b := book.New("BTC-USD", book.DefaultConfig())

	b.ApplyDepthUpdate(book.Bid, book.Insert, dec("99.90"), dec("9"), 0, 1000)
	b.ApplyDepthUpdate(book.Ask, book.Insert, dec("100.10"), dec("3"), 0, 1000)
	b.RecordTrade(1100, 1100, dec("100.00"), dec("1"))
	b.RecordTrade(5200, 5200, dec("100.05"), dec("1"))
	b.ApplyDepthUpdate(book.Bid, book.Update, dec("99.90"), dec("9"), 0, 5300)

	nowMs := int64(5400)
	snap := engine.UpdateMetrics(b, nowMs)
	require.True(t, snap.Valid, "harness snapshot must start valid")

	return &harness{
		engine:    engine,
		validator: New(cfg, engine),
		book:      b,
		snap:      snap,
		nowMs:     nowMs,
	}
}

// shape mutates the cached snapshot before its first consumer reads it.
func (h *harness) shape(fn func(s *features.MetricSnapshot)) { fn(h.snap) }

func passingShape(cfg Config) func(s *features.MetricSnapshot) {
	return func(s *features.MetricSnapshot) {
		s.SpoofScore = cfg.MaxSpoofScore / 2
		s.TapeAcceleration = cfg.MinTapeAcceleration + 1
		s.BidWallAge = features.KnownAge(cfg.MinWallPersistMs + 500)
		s.AskWallAge = features.KnownAge(cfg.MinWallPersistMs + 500)
		s.QueueImbalance = 0.6
		s.BidAbsorption = 5
	}
}

func TestHardGatesFailOnFirstViolation(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		name       string
		shape      func(s *features.MetricSnapshot)
		wantPassed bool
		wantGate   string
	}{
		{
			name: "all gates violated reports spoof first",
			shape: func(s *features.MetricSnapshot) {
				s.SpoofScore = cfg.MaxSpoofScore + 0.2
				s.TapeAcceleration = cfg.MinTapeAcceleration - 1
				s.BidWallAge = features.KnownAge(cfg.MinWallPersistMs - 1000)
			},
			wantGate: GateSpoof,
		},
		{
			name: "spoof clean but tape and wall violated reports tape",
			shape: func(s *features.MetricSnapshot) {
				s.SpoofScore = 0
				s.TapeAcceleration = cfg.MinTapeAcceleration - 1
				s.BidWallAge = features.KnownAge(cfg.MinWallPersistMs - 1000)
			},
			wantGate: GateTapeAccel,
		},
		{
			name: "only wall persistence violated",
			shape: func(s *features.MetricSnapshot) {
				s.SpoofScore = 0
				s.TapeAcceleration = cfg.MinTapeAcceleration + 1
				s.BidWallAge = features.KnownAge(cfg.MinWallPersistMs - 1)
			},
			wantGate: GateWallPersistence,
		},
		{
			name:       "all gates hold",
			shape:      passingShape(cfg),
			wantPassed: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, cfg)
			h.shape(tc.shape)

			result := h.validator.CheckHardGates(h.snap, true)
			assert.Equal(t, tc.wantPassed, result.Passed)
			assert.Equal(t, tc.wantGate, result.FailedGate)
		})
	}
}

func TestWallGateUsesSupportingSide(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(func(s *features.MetricSnapshot) {
		s.SpoofScore = 0
		s.TapeAcceleration = cfg.MinTapeAcceleration + 1
		s.BidWallAge = features.KnownAge(cfg.MinWallPersistMs + 100)
		s.AskWallAge = features.KnownAge(cfg.MinWallPersistMs - 100)
	})

	assert.True(t, h.validator.CheckHardGates(h.snap, true).Passed, "buy leans on the bid wall")
	sell := h.validator.CheckHardGates(h.snap, false)
	assert.False(t, sell.Passed)
	assert.Equal(t, GateWallPersistence, sell.FailedGate)
}

func TestDecisionPassesThroughInvalidSnapshotReason(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(func(s *features.MetricSnapshot) {
		s.Valid = false
		s.Reason = &features.InvalidReason{Kind: features.ReasonDepthStale, Detail: "test"}
	})

	dec := h.validator.EvaluateDecision(h.book, h.nowMs)
	assert.False(t, dec.HasCandidate)
	assert.False(t, dec.Accepted)
	assert.Equal(t, string(features.ReasonDepthStale), dec.Reason)
}

func TestDecisionNoQualifyingPattern(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(func(s *features.MetricSnapshot) {
		s.QueueImbalance = 0.0
	})

	dec := h.validator.EvaluateDecision(h.book, h.nowMs)
	assert.False(t, dec.HasCandidate)
	assert.Equal(t, ReasonNoPattern, dec.Reason)
}

func TestDecisionAcceptedLong(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(passingShape(cfg))

	dec := h.validator.EvaluateDecision(h.book, h.nowMs)
	require.True(t, dec.HasCandidate)
	require.True(t, dec.Accepted)
	require.NotNil(t, dec.Signal)
	assert.Equal(t, Long, dec.Signal.Direction)
	assert.Equal(t, "BTC-USD", dec.Signal.Symbol)
	assert.NotEmpty(t, dec.Signal.ID)
	assert.Greater(t, dec.Signal.Confidence, 0.0)
	assert.LessOrEqual(t, dec.Signal.Confidence, 100.0)
}

func TestDecisionShortOnAskImbalance(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(func(s *features.MetricSnapshot) {
		passingShape(cfg)(s)
		s.QueueImbalance = -0.6
		s.AskAbsorption = 5
	})

	dec := h.validator.EvaluateDecision(h.book, h.nowMs)
	require.True(t, dec.Accepted)
	assert.Equal(t, Short, dec.Signal.Direction)
}

func TestCooldownBypass(t *testing.T) {
	cfg := DefaultConfig()

	strong := func(s *features.MetricSnapshot) {
		passingShape(cfg)(s)
		// 45 + 25 + 20 = 90, above the 85 bypass bar.
		s.QueueImbalance = 1.0
		s.BidAbsorption = cfg.AbsorptionScale
		s.TapeAcceleration = cfg.AccelScale
		s.VWAPReclaim = false
	}
	weak := func(s *features.MetricSnapshot) {
		passingShape(cfg)(s)
		// 45*0.4 = 18 from imbalance, acceleration just over the gate.
		s.QueueImbalance = 0.4
		s.BidAbsorption = 0.1
		s.TapeAcceleration = cfg.MinTapeAcceleration + 0.1
		s.VWAPReclaim = false
	}

	cases := []struct {
		name         string
		shape        func(s *features.MetricSnapshot)
		wantAccepted bool
		wantReason   string
	}{
		{"strong candidate bypasses cooldown", strong, true, ""},
		{"weak candidate rejected at identical timing", weak, false, ReasonCooldownActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, cfg)
			h.shape(tc.shape)

			// An accept one minute ago puts nowMs well inside the window.
			h.validator.RecordAcceptedSignal("BTC-USD", h.nowMs-60_000)

			dec := h.validator.EvaluateDecision(h.book, h.nowMs)
			require.True(t, dec.HasCandidate)
			assert.Equal(t, tc.wantAccepted, dec.Accepted)
			assert.Equal(t, tc.wantReason, dec.Reason)
		})
	}
}

func TestCooldownExpires(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg)
	h.shape(func(s *features.MetricSnapshot) {
		passingShape(cfg)(s)
		s.QueueImbalance = 0.4 // weak: would not bypass
	})

	h.validator.RecordAcceptedSignal("BTC-USD", h.nowMs-cfg.SymbolCooldownMs)

	dec := h.validator.EvaluateDecision(h.book, h.nowMs)
	assert.True(t, dec.Accepted, "cooldown elapsed exactly, candidate clears")
}

func TestNilBookDecision(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	dec := h.validator.EvaluateDecision(nil, 1000)
	assert.False(t, dec.HasCandidate)
	assert.Equal(t, string(features.ReasonNoBook), dec.Reason)
}
