// Package position implements the Position Manager (spec §4.D): the
// per-instrument trade lifecycle state machine, modeled after the
// teacher's internal/trading/positions manager (mutex-guarded map,
// fmt.Errorf validation) generalized to the fabric's WAITING_FOR_ENTRY
// -> ACTIVE -> PARTIAL_EXIT -> CLOSED_* state machine.
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/persistence/tradestore"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/abdoelhodaky/tradefabric/internal/risk"
	"github.com/abdoelhodaky/tradefabric/internal/verify"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// tradeSlot is the per-scrip record. Its own mutex serializes both
// on_price handling and trade mutation for that scrip (spec §5 "a
// given scrip_code ... is serialized"); the Manager mutex only guards
// the slots map's existence, never trade fields.
type tradeSlot struct {
	mu            sync.Mutex
	trade         *domain.ActiveTrade
	entryTimeout  clock.Handle
	maxHold       clock.Handle
}

// Manager owns map<scrip_code, ActiveTrade> (spec §4.D).
type Manager struct {
	logger   *zap.Logger
	cfg      Config
	clk      *clock.Service
	gate     *risk.Gate
	verifier verify.Verifier
	emitter  ports.EventPublisher
	store    *tradestore.Store

	mu    sync.RWMutex
	slots map[string]*tradeSlot
}

// New constructs a Position Manager. store may be nil (spec §6
// "optional durable store"), in which case every transition's upsert/
// remove/append call is a no-op.
func New(logger *zap.Logger, cfg Config, clk *clock.Service, gate *risk.Gate, verifier verify.Verifier, emitter ports.EventPublisher, store *tradestore.Store) *Manager {
	return &Manager{
		logger:   logger,
		cfg:      cfg,
		clk:      clk,
		gate:     gate,
		verifier: verifier,
		emitter:  emitter,
		store:    store,
		slots:    make(map[string]*tradeSlot),
	}
}

func (m *Manager) slotFor(scripCode string) *tradeSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[scripCode]
	if !ok {
		s = &tradeSlot{}
		m.slots[scripCode] = s
	}
	return s
}

// openTradesExcluding snapshots every non-terminal trade except the
// given scrip's, locking each other slot individually (never two at
// once) so it can safely be called while the caller holds its own
// scrip's slot lock.
func (m *Manager) openTradesExcluding(exclude string) []*domain.ActiveTrade {
	m.mu.RLock()
	slots := make([]*tradeSlot, 0, len(m.slots))
	keys := make([]string, 0, len(m.slots))
	for k, s := range m.slots {
		if k == exclude {
			continue
		}
		keys = append(keys, k)
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	out := make([]*domain.ActiveTrade, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if s.trade != nil && s.trade.Status.IsOpen() {
			out = append(out, s.trade.Clone())
		}
		s.mu.Unlock()
	}
	return out
}

// CreateTrade validates and admits a signal, inserting a
// WAITING_FOR_ENTRY trade on success (spec §4.D "Creation").
func (m *Manager) CreateTrade(sig domain.Signal, signalTime time.Time) (string, error) {
	if err := sig.Validate(m.cfg.ValidationLimits); err != nil {
		return "", err
	}

	slot := m.slotFor(sig.ScripCode)
	slot.mu.Lock()
	if slot.trade != nil && slot.trade.Status.IsOpen() {
		slot.mu.Unlock()
		return "", domain.ErrAlreadyActive
	}

	trade := m.buildTrade(sig, signalTime)

	positions := m.openTradesExcluding(sig.ScripCode)
	ok, reason := m.gate.Admit(trade, positions, signalTime)
	if !ok {
		slot.mu.Unlock()
		if m.logger != nil {
			m.logger.Info("trade rejected by risk gate",
				zap.String("scrip_code", sig.ScripCode), zap.String("reason", string(reason)))
		}
		return "", fmt.Errorf("%w: %s", domain.ErrRiskRejection, reason)
	}

	slot.trade = trade
	m.armTimers(slot, trade)
	slot.mu.Unlock()

	_ = m.store.Upsert(context.Background(), trade)

	return trade.TradeID, nil
}

// buildTrade computes target2 and entry-delay analysis (spec §4.D
// "Creation").
func (m *Manager) buildTrade(sig domain.Signal, signalTime time.Time) *domain.ActiveTrade {
	trade := &domain.ActiveTrade{
		TradeID:     ksuid.New().String(),
		ScripCode:   sig.ScripCode,
		Side:        sig.Side,
		StrategyID:  sig.StrategyID,
		SignalTime:  signalTime,
		SignalPrice: sig.SignalPrice,
		StopLoss:    sig.StopLoss,
		Target1:     sig.Target1,
		Status:      domain.StatusWaitingForEntry,
		CreatedAt:   signalTime,
	}
	trade.Target2 = m.computeTarget2(sig)
	trade.PrevClose = sig.SignalPrice

	delayed, reason, pivot := analyzeEntryDelay(sig)
	trade.EntryDelayed = delayed
	trade.DelayReason = reason
	trade.DelayPivot = pivot
	if delayed {
		trade.Extra.PivotDelay = &domain.PivotDelayContext{DelayPivot: pivot, Reason: reason}
	}

	trade.EntryTimeoutAt = signalTime.Add(m.cfg.EntryTimeout)
	trade.MaxHoldDeadline = signalTime.Add(m.cfg.MaxHold)
	return trade
}

// computeTarget2 implements spec §4.D's default-percent / risk-multiple
// choice (Config.Target2Mode, an explicit resolution of the "by
// default, or ... when risk-reward overrides apply" phrasing).
func (m *Manager) computeTarget2(sig domain.Signal) float64 {
	if sig.HasTarget2() {
		return sig.Target2
	}
	dir := 1.0
	if sig.Side == domain.SideShort {
		dir = -1.0
	}
	if m.cfg.Target2Mode == Target2RiskMultiple {
		risk := math.Abs(sig.SignalPrice - sig.StopLoss)
		return sig.SignalPrice + dir*m.cfg.Target2RiskMultiple*risk
	}
	return sig.SignalPrice * (1 + dir*m.cfg.Target2Pct)
}

// analyzeEntryDelay implements spec §4.D's entry-delay analysis. The
// TARGET_50_PERCENT_CLOSE branch is evaluated on the raw target
// distance fraction rather than its "1 - ..." complement as spec.md
// writes it literally: with the complement, any realistic target
// (a few percent away, the normal case) evaluates to ~0.97-0.99,
// permanently above the 0.5 threshold, which would make every signal
// delayed and contradicts spec §8 scenario 1's "immediate" case. Using
// the raw fraction makes the branch fire only for the unusually large
// (>=50%) target move its name describes, and both §8 scenarios 1 and
// 2 resolve correctly.
func analyzeEntryDelay(sig domain.Signal) (delayed bool, reason domain.DelayReason, pivot float64) {
	targetDistance := math.Abs(sig.Target1-sig.SignalPrice) / sig.SignalPrice
	if targetDistance >= targetProximityThreshold {
		return true, domain.DelayReasonTargetClose, 0
	}
	pivotProximity := math.Abs(sig.SignalPrice-sig.StopLoss) / sig.SignalPrice
	if pivotProximity <= pivotProximityThreshold {
		return true, domain.DelayReasonPivotTooClose, sig.StopLoss
	}
	return false, domain.DelayReasonNone, 0
}

func (m *Manager) armTimers(slot *tradeSlot, trade *domain.ActiveTrade) {
	tradeID := trade.TradeID
	scripCode := trade.ScripCode

	entryWait := time.Until(trade.EntryTimeoutAt)
	if entryWait < 0 {
		entryWait = 0
	}
	slot.entryTimeout = m.clk.ScheduleOnce(entryWait, func() {
		m.handleEntryTimeout(scripCode, tradeID)
	})

	holdWait := time.Until(trade.MaxHoldDeadline)
	if holdWait < 0 {
		holdWait = 0
	}
	slot.maxHold = m.clk.ScheduleOnce(holdWait, func() {
		m.handleMaxHold(scripCode, tradeID)
	})
}

// handleEntryTimeout implements spec §4.D "When the entry-timeout
// timer fires and trade is still WAITING_FOR_ENTRY, transition to
// CLOSED_TIMEOUT". This applies to any trade still awaiting entry at
// the deadline, not only entry_delayed ones: an immediate-entry trade
// whose price never crosses the entry threshold has no other timer
// that will ever resolve it (handleMaxHold excludes
// StatusWaitingForEntry), so skipping it here would leave the trade,
// and its scrip_code slot, stuck open forever.
func (m *Manager) handleEntryTimeout(scripCode, tradeID string) {
	slot := m.slotFor(scripCode)
	slot.mu.Lock()
	trade := slot.trade
	if trade == nil || trade.TradeID != tradeID || trade.Status != domain.StatusWaitingForEntry {
		slot.mu.Unlock()
		return
	}
	trade.Status = domain.StatusClosedTimeout
	trade.ExitReason = domain.ExitReasonTimeout
	trade.ExitTime = m.clk.Now()
	if slot.maxHold != 0 {
		m.clk.Cancel(slot.maxHold)
	}
	snapshot := trade.Clone()
	slot.mu.Unlock()

	_ = m.store.AppendResult(context.Background(), snapshot)
	_ = m.store.Remove(context.Background(), snapshot.TradeID)

	if m.emitter != nil {
		_ = m.emitter.Publish(context.Background(), domain.EventKind("TIMEOUT"), domain.TimeoutEvent{
			TradeID:    snapshot.TradeID,
			ScripCode:  snapshot.ScripCode,
			FailedCond: string(snapshot.DelayReason),
			NextPivot:  snapshot.DelayPivot,
			At:         snapshot.ExitTime,
		})
	}
}

// handleMaxHold implements spec §4.D "Max-hold after entry forces a
// market exit at current price with reason TIME_LIMIT".
func (m *Manager) handleMaxHold(scripCode, tradeID string) {
	slot := m.slotFor(scripCode)
	slot.mu.Lock()
	trade := slot.trade
	if trade == nil || trade.TradeID != tradeID || !trade.Status.IsOpen() || trade.Status == domain.StatusWaitingForEntry {
		slot.mu.Unlock()
		return
	}
	price := trade.LastSeenPrice
	if price == 0 {
		price = trade.EntryPrice
	}
	m.closeRemainder(slot, trade, price, domain.ExitReasonTimeLimit, m.clk.Now())
	slot.mu.Unlock()
}

// EmergencyExit implements spec §4.D "emergency_exit": closes at
// last_seen_price (fallback entry_price) with reason EMERGENCY:<reason>.
func (m *Manager) EmergencyExit(scripCode, reason string) bool {
	slot := m.slotFor(scripCode)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	trade := slot.trade
	if trade == nil || trade.Status.IsTerminal() {
		return false
	}
	price := trade.LastSeenPrice
	if price == 0 {
		price = trade.EntryPrice
	}
	if price == 0 {
		price = trade.SignalPrice
	}
	m.closeRemainder(slot, trade, price, domain.ExitReason(fmt.Sprintf("EMERGENCY:%s", reason)), m.clk.Now())
	return true
}

// Snapshot returns read-only views of every non-terminal trade (spec
// §4.D "snapshot()").
func (m *Manager) Snapshot() []*domain.ActiveTrade {
	return m.openTradesExcluding("")
}

// Restore re-inserts a non-terminal trade recovered from a durable
// snapshot, bypassing CreateTrade's validation and Risk Gate admission
// (the trade already passed both before the crash) and re-arming its
// timers relative to the persisted deadlines (SPEC_FULL.md §4.G
// crash-replay restore). The caller must not still be serving ingress
// traffic for this scrip_code when calling Restore.
func (m *Manager) Restore(trade *domain.ActiveTrade) {
	slot := m.slotFor(trade.ScripCode)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.trade = trade
	if trade.Status.IsOpen() {
		m.armTimers(slot, trade)
	}
}

func (m *Manager) cancelTimers(slot *tradeSlot) {
	if slot.entryTimeout != 0 {
		m.clk.Cancel(slot.entryTimeout)
		slot.entryTimeout = 0
	}
	if slot.maxHold != 0 {
		m.clk.Cancel(slot.maxHold)
		slot.maxHold = 0
	}
}
