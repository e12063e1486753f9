package position

import (
	"context"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"go.uber.org/zap"
)

// evaluateExits implements spec §4.D "On price (ACTIVE / PARTIAL_EXIT)".
// Must be called with slot.mu held.
func (m *Manager) evaluateExits(slot *tradeSlot, trade *domain.ActiveTrade, q Quote, tickTime time.Time) {
	trade.LastSeenPrice = q.Price
	long := trade.Side == domain.SideLong

	trade.HighSinceEntry = maxf(trade.HighSinceEntry, q.High)
	trade.LowSinceEntry = minf(trade.LowSinceEntry, q.Low)

	stopHit := stopLossHit(long, q, trade.StopLoss)

	if !trade.Target1Hit {
		t1Hit := targetHit(long, q, trade.Target1)
		if stopHit && t1Hit {
			if stopResolvesFirst(long, q.Open, trade.EntryPrice) {
				m.closeRemainder(slot, trade, trade.StopLoss, domain.ExitReasonStopLoss, tickTime)
			} else {
				m.applyTarget1Partial(slot, trade, trade.Target1, tickTime)
			}
			return
		}
		if stopHit {
			m.closeRemainder(slot, trade, trade.StopLoss, domain.ExitReasonStopLoss, tickTime)
			return
		}
		if t1Hit {
			m.applyTarget1Partial(slot, trade, trade.Target1, tickTime)
		}
		return
	}

	// Post-T1: stop still dominates, then trailing, then target2, then
	// the optional 1%-drop mode (spec §4.D priorities 1, 3, 4, 5; §9(c)
	// resolves trailing-before-drop).
	if stopHit {
		m.closeRemainder(slot, trade, trade.StopLoss, domain.ExitReasonStopLoss, tickTime)
		return
	}

	trailHit, trailPrice := trailingHit(long, q, trade, m.cfg.TrailPct)
	if trailHit {
		m.closeRemainder(slot, trade, trailPrice, domain.ExitReasonTrailing, tickTime)
		return
	}
	// Trailing stop only ever tightens toward price (spec §3 invariant 3).
	updateTrailingStop(long, trade, m.cfg.TrailPct)

	if targetHit(long, q, trade.Target2) {
		m.closeRemainder(slot, trade, trade.Target2, domain.ExitReasonTarget2, tickTime)
		return
	}

	if m.cfg.PrevCloseDropEnabled && long && q.Price <= trade.PrevClose*(1-m.cfg.PrevCloseDropPct) {
		m.closeRemainder(slot, trade, q.Price, domain.ExitReasonPrevClose, tickTime)
		return
	}
	if m.cfg.PrevCloseDropEnabled && !long && q.Price >= trade.PrevClose*(1+m.cfg.PrevCloseDropPct) {
		m.closeRemainder(slot, trade, q.Price, domain.ExitReasonPrevClose, tickTime)
		return
	}
}

func stopLossHit(long bool, q Quote, stop float64) bool {
	if long {
		return q.Low <= stop
	}
	return q.High >= stop
}

func targetHit(long bool, q Quote, level float64) bool {
	if long {
		return q.High >= level
	}
	return q.Low <= level
}

// stopResolvesFirst implements spec §4.D's open-direction heuristic
// for the boundary case where stop and target are both reachable
// within one quote's OHLC range.
func stopResolvesFirst(long bool, open, entry float64) bool {
	if long {
		return open < entry
	}
	return open > entry
}

// trailingHit implements spec §4.D priority 3: LONG trail =
// high_since_entry * (1 - TRAIL_PCT); SHORT mirrored off the low.
func trailingHit(long bool, q Quote, trade *domain.ActiveTrade, trailPct float64) (bool, float64) {
	if long {
		candidate := trade.HighSinceEntry * (1 - trailPct)
		trail := trade.TrailingStop
		if candidate > trail {
			trail = candidate
		}
		return q.Low <= trail, trail
	}
	candidate := trade.LowSinceEntry * (1 + trailPct)
	trail := trade.TrailingStop
	if trail == 0 || candidate < trail {
		trail = candidate
	}
	return q.High >= trail, trail
}

// updateTrailingStop advances the stored trailing stop monotonically
// in the favorable direction only (spec §3 invariant 3), independent
// of whether this tick actually hit it.
func updateTrailingStop(long bool, trade *domain.ActiveTrade, trailPct float64) {
	_, trail := trailingHit(long, scalarQuote(trade.LastSeenPrice), trade, trailPct)
	if long {
		if trail > trade.TrailingStop {
			trade.TrailingStop = trail
		}
		return
	}
	if trade.TrailingStop == 0 || trail < trade.TrailingStop {
		trade.TrailingStop = trail
	}
}

// applyTarget1Partial implements spec §4.D priority 2: half position
// realized, trailing stop moved to breakeven, transition to
// PARTIAL_EXIT.
func (m *Manager) applyTarget1Partial(slot *tradeSlot, trade *domain.ActiveTrade, exitPrice float64, tickTime time.Time) {
	dir := 1.0
	if trade.Side == domain.SideShort {
		dir = -1.0
	}
	closedQty := trade.PositionSize / 2
	pnl := (exitPrice - trade.EntryPrice) * dir * float64(closedQty)

	trade.RealizedPL += pnl
	trade.PositionSize -= closedQty
	trade.Target1Hit = true
	trade.TrailingStop = trade.EntryPrice
	trade.Status = domain.StatusPartialExit

	if m.checkPositionInvariant(slot, trade, tickTime) {
		return
	}

	m.gate.UpdateValue(m.gate.Snapshot().CurrentValue+pnl, pnl, tickTime)
	m.submitBrokerOrder(trade, domain.IntentExit, closedQty)

	if m.emitter != nil {
		snapshot := trade.Clone()
		_ = m.emitter.Publish(context.Background(), domain.EventTradeExitPartial, domain.TradeExitPartialEvent{
			TradeID:     snapshot.TradeID,
			ScripCode:   snapshot.ScripCode,
			ExitPrice:   exitPrice,
			QtyClosed:   closedQty,
			RealizedPL:  pnl,
			NewStopLoss: snapshot.TrailingStop,
			ExitTime:    tickTime,
		})
	}
}

// checkPositionInvariant implements spec §7's InternalInvariantBreach
// ("e.g., negative position after partial exit; logged, trade
// force-closed with reason INTERNAL_INVARIANT, emergency-stop
// latched"). Must be called with slot.mu held, immediately after a
// PositionSize update; reports whether it force-closed the trade, in
// which case the caller must not touch trade/slot further.
func (m *Manager) checkPositionInvariant(slot *tradeSlot, trade *domain.ActiveTrade, tickTime time.Time) bool {
	if trade.PositionSize >= 0 {
		return false
	}
	if m.logger != nil {
		m.logger.Error("internal invariant breach: negative position size",
			zap.String("trade_id", trade.TradeID), zap.Int64("position_size", trade.PositionSize))
	}
	m.gate.LatchEmergency("INTERNAL_INVARIANT: negative position size after partial exit", tickTime)
	trade.PositionSize = 0
	trade.RealizedPL = 0
	m.closeRemainder(slot, trade, trade.LastSeenPrice, domain.ExitReasonInternal, tickTime)
	return true
}

// closeRemainder implements every terminal exit path: stop, trailing,
// target2, prev-close-drop, time-limit, broker-rejected, emergency,
// internal-invariant. Emits exactly one TradeExit then one
// PortfolioUpdate (spec §3 "every terminal transition emits exactly
// one trade-close event and one portfolio-update event, in that order").
func (m *Manager) closeRemainder(slot *tradeSlot, trade *domain.ActiveTrade, exitPrice float64, reason domain.ExitReason, tickTime time.Time) {
	dir := 1.0
	if trade.Side == domain.SideShort {
		dir = -1.0
	}
	remaining := trade.PositionSize
	pnl := (exitPrice - trade.EntryPrice) * dir * float64(remaining)
	trade.RealizedPL += pnl
	trade.PositionSize = 0
	trade.ExitPrice = exitPrice
	trade.ExitTime = tickTime
	trade.ExitReason = reason
	trade.Status = classifyTerminalStatus(reason, trade.RealizedPL)

	m.cancelTimers(slot)
	newValue := m.gate.Snapshot().CurrentValue + pnl
	m.gate.UpdateValue(newValue, pnl, tickTime)
	if remaining != 0 {
		m.submitBrokerOrder(trade, domain.IntentExit, remaining)
	}

	_ = m.store.AppendResult(context.Background(), trade)
	_ = m.store.Remove(context.Background(), trade.TradeID)

	if m.emitter == nil {
		return
	}
	snapshot := trade.Clone()
	_ = m.emitter.Publish(context.Background(), domain.EventTradeExit, domain.TradeExitEvent{
		TradeID:      snapshot.TradeID,
		ScripCode:    snapshot.ScripCode,
		Side:         snapshot.Side,
		Status:       snapshot.Status,
		ExitReason:   snapshot.ExitReason,
		EntryPrice:   snapshot.EntryPrice,
		ExitPrice:    snapshot.ExitPrice,
		PositionSize: snapshot.PositionSize,
		RealizedPL:   snapshot.RealizedPL,
		SignalTime:   snapshot.SignalTime,
		EntryTime:    snapshot.EntryTime,
		ExitTime:     snapshot.ExitTime,
		Duration:     snapshot.ExitTime.Sub(snapshot.EntryTime),
	})
	snap := m.gate.Snapshot()
	roi := 0.0
	if snap.StartValue > 0 {
		roi = (snap.CurrentValue - snap.StartValue) / snap.StartValue
	}
	_ = m.emitter.Publish(context.Background(), domain.EventPortfolioUpdate, domain.PortfolioUpdateEvent{
		CurrentValue: snap.CurrentValue,
		TotalPnL:     snap.CurrentValue - snap.StartValue,
		ROIPct:       roi,
		EmittedAt:    tickTime,
	})
}

// classifyTerminalStatus assigns CLOSED_PROFIT/CLOSED_LOSS by realized
// P&L sign, except for two reasons spec §7 pins to CLOSED_LOSS
// regardless of sign: BROKER_REJECTED and INTERNAL_INVARIANT both
// force position_size/realized_pl to zero ahead of closeRemainder, so
// the sign-based fallback would read a zero P&L as CLOSED_PROFIT.
// ENTRY_TIMEOUT is handled before any entry by handleEntryTimeout and
// never reaches here.
func classifyTerminalStatus(reason domain.ExitReason, realizedPL float64) domain.TradeStatus {
	switch reason {
	case domain.ExitReasonBrokerReject, domain.ExitReasonInternal:
		return domain.StatusClosedLoss
	}
	if realizedPL < 0 {
		return domain.StatusClosedLoss
	}
	return domain.StatusClosedProfit
}

func maxf(a, b float64) float64 {
	if a == 0 || b > a {
		return b
	}
	return a
}

func minf(a, b float64) float64 {
	if a == 0 || b < a {
		return b
	}
	return a
}
