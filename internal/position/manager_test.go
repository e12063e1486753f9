package position

import (
	"context"
	"testing"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/abdoelhodaky/tradefabric/internal/risk"
	"github.com/abdoelhodaky/tradefabric/internal/verify"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	events []domain.EventKind
	last   map[domain.EventKind]interface{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{last: make(map[domain.EventKind]interface{})}
}

func (e *recordingEmitter) Publish(_ context.Context, kind domain.EventKind, payload interface{}) error {
	e.events = append(e.events, kind)
	e.last[kind] = payload
	return nil
}

type noopVerifier struct{}

func (noopVerifier) Submit(_ context.Context, _ verify.SubmitRequest, _ verify.Callback) error {
	return nil
}

// failingVerifier invokes its callback on its own goroutine with a
// terminal failure outcome, simulating a broker rejection (spec §7
// BrokerPermanent) on every submitted order. Dispatch is asynchronous,
// never inline on Submit's caller, matching the real verify.Loop's
// contract that its callback never runs on the slot-locked goroutine
// that called Submit (see DESIGN.md's async-dispatch-only note).
type failingVerifier struct{}

func (failingVerifier) Submit(_ context.Context, _ verify.SubmitRequest, cb verify.Callback) error {
	go cb(verify.Outcome{Kind: verify.OutcomeFailure, Reason: "broker_rejected"})
	return nil
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxDrawdownPct: 0.15, MaxDailyLossPct: 0.03, MaxPositions: 5,
		MaxCorrelation: 0.70, MaxSectorConcentration: 0.40, MaxLeverage: 2.0,
	}
}

func newTestManager(t *testing.T, cfg Config, emitter ports.EventPublisher) (*Manager, *clock.Service) {
	return newTestManagerWithVerifier(t, cfg, emitter, noopVerifier{})
}

func newTestManagerWithVerifier(t *testing.T, cfg Config, emitter ports.EventPublisher, verifier verify.Verifier) (*Manager, *clock.Service) {
	svc, err := clock.New(nil, clock.Config{PoolSize: 8}, nil)
	require.NoError(t, err)
	gate, err := risk.New(nil, testLimits(), 1000000, nil, nil)
	require.NoError(t, err)
	m := New(nil, cfg, svc, gate, verifier, emitter, nil)
	return m, svc
}

func defaultCfg() Config {
	return Config{
		TrailPct: 0.01, TradeNotional: 100000,
		EntryTimeout: 30 * time.Minute, MaxHold: 6 * time.Hour,
		EntryRule: EntryRuleImmediate, SizingMode: SizingNotional,
		MaxAccountPct: 0.10, Target2Mode: Target2DefaultPct, Target2Pct: 0.03, Target2RiskMultiple: 2.5,
		ValidationLimits: domain.ValidationLimits{MaxStopPct: 0.02, MinMovePct: 0.02, MinRR: 1.5},
	}
}

// Scenario 1 shape (spec §8): immediate LONG entry, T1 half-position
// partial with trailing moved to breakeven, trailing stop eventually
// exits the remainder. Fixture prices are clean round numbers rather
// than the spec narrative's exact figures (see DESIGN.md: the
// narrative's worked PnL/size numbers are not reproducible from a
// single consistent formula).
func TestImmediateEntryT1PartialThenTrailingExit(t *testing.T) {
	emitter := newRecordingEmitter()
	m, svc := newTestManager(t, defaultCfg(), emitter)
	defer svc.Shutdown()

	// Timer deadlines are measured against wall time, so the signal time
	// must be current or the entry-timeout/max-hold timers fire at once.
	signalTime := time.Now()
	// Explicit Target2: the default (100*1.03 = 103) would equal Target1,
	// so any post-T1 tick at or above 103 would exit at TARGET2.
	sig := domain.Signal{ScripCode: "X", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103, Target2: 115}
	tradeID, err := m.CreateTrade(sig, signalTime)
	require.NoError(t, err)

	m.OnPrice("X", 100.2, signalTime.Add(time.Second)) // immediate entry (>= 100*1.001)
	trade := m.Snapshot()[0]
	require.Equal(t, domain.StatusActive, trade.Status)
	require.Equal(t, 100.2, trade.EntryPrice)
	require.Equal(t, int64(1000), trade.PositionSize) // 100000/100 signal-price reference

	m.OnPrice("X", 103, signalTime.Add(2*time.Second)) // T1 hit
	trade = m.Snapshot()[0]
	require.Equal(t, domain.StatusPartialExit, trade.Status)
	require.True(t, trade.Target1Hit)
	require.Equal(t, int64(500), trade.PositionSize)
	require.Equal(t, trade.EntryPrice, trade.TrailingStop)

	m.OnPrice("X", 110, signalTime.Add(3*time.Second)) // high watermark, trail tightens to 108.9
	m.OnPrice("X", 108.95, signalTime.Add(4*time.Second)) // above trail, no exit
	trade = m.Snapshot()[0]
	require.Equal(t, domain.StatusPartialExit, trade.Status)

	m.OnPrice("X", 108.0, signalTime.Add(5*time.Second)) // below 110*0.99=108.9, trail hit
	snap := m.Snapshot()
	require.Empty(t, snap, "trade should be terminal and excluded from snapshot")

	require.Contains(t, emitter.events, domain.EventTradeEntry)
	require.Contains(t, emitter.events, domain.EventTradeExitPartial)
	require.Contains(t, emitter.events, domain.EventTradeExit)
	require.Contains(t, emitter.events, domain.EventPortfolioUpdate)
	// TradeExit must precede PortfolioUpdate (spec §8).
	var exitIdx, updateIdx int
	for i, k := range emitter.events {
		if k == domain.EventTradeExit {
			exitIdx = i
		}
		if k == domain.EventPortfolioUpdate {
			updateIdx = i
		}
	}
	require.Less(t, exitIdx, updateIdx)
}

// Scenario 2 shape (spec §8): delayed LONG entry via pivot breakout,
// then a stop-loss exit.
func TestDelayedPivotBreakoutThenStop(t *testing.T) {
	emitter := newRecordingEmitter()
	m, svc := newTestManager(t, defaultCfg(), emitter)
	defer svc.Shutdown()

	signalTime := time.Now() // timer deadlines are measured against wall time
	// pivot_proximity = |200-199.8|/200 = 0.001 <= 0.002 -> delayed, delay_pivot=stop_loss=199.8.
	sig := domain.Signal{ScripCode: "Y", Side: domain.SideLong, SignalPrice: 200, StopLoss: 199.8, Target1: 210}
	_, err := m.CreateTrade(sig, signalTime)
	require.NoError(t, err)

	trade := m.Snapshot()[0]
	require.True(t, trade.EntryDelayed)
	require.Equal(t, domain.DelayReasonPivotTooClose, trade.DelayReason)
	require.Equal(t, 199.8, trade.DelayPivot)

	m.OnPrice("Y", 199.85, signalTime.Add(time.Second)) // below breakout threshold (199.8*1.001=199.9998), no entry
	trade = m.Snapshot()[0]
	require.Equal(t, domain.StatusWaitingForEntry, trade.Status)

	m.OnPrice("Y", 200.10, signalTime.Add(2*time.Second)) // above threshold, entry
	trade = m.Snapshot()[0]
	require.Equal(t, domain.StatusActive, trade.Status)
	require.Equal(t, 200.10, trade.EntryPrice)
	require.Equal(t, int64(500), trade.PositionSize) // 100000/199.8 delay-pivot reference

	m.OnPrice("Y", 199.50, signalTime.Add(3*time.Second)) // stop hit (< 199.8)
	require.Empty(t, m.Snapshot())
}

// Scenario 3 (spec §8): entry timeout with no broker order ever placed.
func TestEntryTimeoutClosesWithoutEntry(t *testing.T) {
	emitter := newRecordingEmitter()
	cfg := defaultCfg()
	cfg.EntryTimeout = 20 * time.Millisecond
	m, svc := newTestManager(t, cfg, emitter)
	defer svc.Shutdown()

	signalTime := time.Now()
	sig := domain.Signal{ScripCode: "Z", Side: domain.SideLong, SignalPrice: 200, StopLoss: 199, Target1: 205}
	_, err := m.CreateTrade(sig, signalTime)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)

	require.NotContains(t, emitter.events, domain.EventTradeEntry)
}

// Invariant (spec §3 #1): at most one non-terminal trade per scrip_code.
func TestAlreadyActiveRejectsSecondCreate(t *testing.T) {
	m, svc := newTestManager(t, defaultCfg(), nil)
	defer svc.Shutdown()

	now := time.Now()
	sig := domain.Signal{ScripCode: "DUP", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103}
	_, err := m.CreateTrade(sig, now)
	require.NoError(t, err)

	_, err = m.CreateTrade(sig, now)
	require.ErrorIs(t, err, domain.ErrAlreadyActive)
}

// Invariant (spec §3 #3): stop_loss/trailing only ever tightens.
func TestTrailingStopNeverLoosens(t *testing.T) {
	m, svc := newTestManager(t, defaultCfg(), nil)
	defer svc.Shutdown()

	now := time.Now()
	// Explicit Target2 above every tick below; the default (103) would
	// close the trade on the first post-T1 tick.
	sig := domain.Signal{ScripCode: "T", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103, Target2: 130}
	_, err := m.CreateTrade(sig, now)
	require.NoError(t, err)
	m.OnPrice("T", 100.2, now)
	m.OnPrice("T", 103, now) // T1, trailing -> breakeven (100.2)

	m.OnPrice("T", 120, now) // trailing tightens to 120*0.99=118.8
	first := m.Snapshot()[0].TrailingStop

	m.OnPrice("T", 119, now) // lower high above the trail must not loosen the stop
	second := m.Snapshot()[0].TrailingStop

	require.GreaterOrEqual(t, second, first)
}

func TestEmergencyExitClosesAtLastSeenPrice(t *testing.T) {
	m, svc := newTestManager(t, defaultCfg(), nil)
	defer svc.Shutdown()

	now := time.Now()
	sig := domain.Signal{ScripCode: "E", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103}
	_, err := m.CreateTrade(sig, now)
	require.NoError(t, err)
	m.OnPrice("E", 100.2, now)
	m.OnPrice("E", 101, now)

	ok := m.EmergencyExit("E", "OPERATOR_HALT")
	require.True(t, ok)
	require.Empty(t, m.Snapshot())

	require.False(t, m.EmergencyExit("E", "OPERATOR_HALT"), "already terminal, second call is a no-op")
}

// Spec §7 BrokerPermanent: a broker rejection force-closes an already-
// active trade with CLOSED_LOSS/BROKER_REJECTED even though
// handleOrderOutcome zeroes position_size/realized_pl first, which
// would read as CLOSED_PROFIT under a pure P&L-sign classification.
func TestBrokerRejectionClosesAsLossRegardlessOfPnLSign(t *testing.T) {
	emitter := newRecordingEmitter()
	m, svc := newTestManagerWithVerifier(t, defaultCfg(), emitter, failingVerifier{})
	defer svc.Shutdown()

	now := time.Now()
	sig := domain.Signal{ScripCode: "BR", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103}
	_, err := m.CreateTrade(sig, now)
	require.NoError(t, err)

	m.OnPrice("BR", 100.2, now) // entry, which submits and the verifier asynchronously rejects it

	require.Eventually(t, func() bool {
		return len(m.Snapshot()) == 0
	}, time.Second, 5*time.Millisecond)

	require.Contains(t, emitter.events, domain.EventTradeExit)
	exit, ok := emitter.last[domain.EventTradeExit].(domain.TradeExitEvent)
	require.True(t, ok)
	require.Equal(t, domain.ExitReasonBrokerReject, exit.ExitReason)
	require.Equal(t, domain.StatusClosedLoss, exit.Status)
	require.Zero(t, exit.RealizedPL)
}

// Spec §7 InternalInvariantBreach: a negative position size after a
// partial exit force-closes the trade with INTERNAL_INVARIANT and
// latches the Risk Gate's emergency stop.
func TestNegativePositionAfterPartialLatchesEmergencyStop(t *testing.T) {
	emitter := newRecordingEmitter()
	m, svc := newTestManager(t, defaultCfg(), emitter)
	defer svc.Shutdown()

	now := time.Now()
	sig := domain.Signal{ScripCode: "INV", Side: domain.SideLong, SignalPrice: 100, StopLoss: 99, Target1: 103}
	_, err := m.CreateTrade(sig, now)
	require.NoError(t, err)
	m.OnPrice("INV", 100.2, now)

	// Force the invariant breach directly: corrupt PositionSize to -1
	// (integer-dividing by 2 still leaves it negative) and drive
	// applyTarget1Partial the way a real T1 hit would.
	slot := m.slotFor("INV")
	slot.mu.Lock()
	slot.trade.PositionSize = -1
	corrupted := slot.trade
	m.applyTarget1Partial(slot, corrupted, corrupted.Target1, now)
	slot.mu.Unlock()

	require.Empty(t, m.Snapshot())
	require.True(t, m.gate.Snapshot().EmergencyStop)
	exit, ok := emitter.last[domain.EventTradeExit].(domain.TradeExitEvent)
	require.True(t, ok)
	require.Equal(t, domain.ExitReasonInternal, exit.ExitReason)
	require.Equal(t, domain.StatusClosedLoss, exit.Status)
}
