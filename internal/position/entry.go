package position

import (
	"context"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/verify"
	"go.uber.org/zap"
)

// Quote is the price observation the Position Manager reacts to.
// OnPrice (the spec §4.D "on_price(scrip_code, price, tick_time)"
// contract) synthesizes a degenerate Quote with Open=High=Low=Price;
// OnBar lets a richer source (e.g. a historical/backtest replay
// adapter reusing this same port, per spec §1's non-goal phrasing)
// supply true OHLC so the stop/target same-tick ambiguity (spec §4.D
// "open-direction heuristic") can actually arise and be resolved.
type Quote struct {
	Price, Open, High, Low float64
}

func scalarQuote(price float64) Quote {
	return Quote{Price: price, Open: price, High: price, Low: price}
}

// OnPrice is the scalar tick-ingest entrypoint.
func (m *Manager) OnPrice(scripCode string, price float64, tickTime time.Time) {
	m.OnBar(scripCode, scalarQuote(price), tickTime)
}

// OnBar drives the state machine from a (possibly OHLC) quote (spec
// §4.D "On price"). Invalid prices and unknown scrips are ignored and
// logged (spec §4.D "Failure semantics").
func (m *Manager) OnBar(scripCode string, q Quote, tickTime time.Time) {
	if q.Price <= 0 {
		if m.logger != nil {
			m.logger.Warn("ignoring non-positive price tick", zap.String("scrip_code", scripCode), zap.Float64("price", q.Price))
		}
		return
	}

	slot := m.slotFor(scripCode)
	slot.mu.Lock()
	trade := slot.trade
	if trade == nil || trade.Status.IsTerminal() {
		slot.mu.Unlock()
		return
	}

	switch trade.Status {
	case domain.StatusWaitingForEntry:
		m.evaluateEntry(slot, trade, q, tickTime)
	case domain.StatusActive, domain.StatusPartialExit:
		m.evaluateExits(slot, trade, q, tickTime)
	}
	slot.mu.Unlock()
}

// evaluateEntry implements spec §4.D "On price (WAITING_FOR_ENTRY)".
// Must be called with slot.mu held.
func (m *Manager) evaluateEntry(slot *tradeSlot, trade *domain.ActiveTrade, q Quote, tickTime time.Time) {
	trade.LastSeenPrice = q.Price

	var triggered bool
	if trade.EntryDelayed {
		triggered = pivotBreakoutTriggered(trade.Side, q.Price, trade.DelayPivot)
	} else {
		switch m.cfg.EntryRule {
		case EntryRulePivotRetest:
			triggered = retestZoneTriggered(trade.Side, q.Price, trade.SignalPrice, trade.StopLoss)
		default:
			triggered = immediateEntryTriggered(trade.Side, q.Price, trade.SignalPrice)
		}
	}
	if !triggered {
		return
	}

	m.cancelTimers(slot)

	trade.EntryPrice = q.Price
	trade.EntryTime = tickTime
	trade.PositionSize = m.sizeTrade(trade)
	trade.Status = domain.StatusActive
	trade.HighSinceEntry = q.Price
	trade.LowSinceEntry = q.Price
	trade.IdempotencyKey = domain.IdempotencyKey(trade.ScripCode, trade.Side, trade.SignalTime.UnixMilli(), trade.SignalPrice)

	m.submitBrokerOrder(trade, domain.IntentEntry, trade.PositionSize)

	if m.emitter != nil {
		snapshot := trade.Clone()
		_ = m.emitter.Publish(context.Background(), domain.EventTradeEntry, domain.TradeEntryEvent{
			TradeID:      snapshot.TradeID,
			ScripCode:    snapshot.ScripCode,
			Side:         snapshot.Side,
			EntryPrice:   snapshot.EntryPrice,
			PositionSize: snapshot.PositionSize,
			EntryTime:    snapshot.EntryTime,
		})
	}
}

// immediateEntryTriggered implements spec §4.D's default immediate
// entry rule.
func immediateEntryTriggered(side domain.Side, price, signalPrice float64) bool {
	within := absf(price-signalPrice) <= signalPrice*immediateTolerancePct
	if side == domain.SideLong {
		return price >= signalPrice*(1+immediateEntryPct) || within
	}
	return price <= signalPrice*(1-immediateEntryPct) || within
}

// retestZoneTriggered implements the "bulletproof" pivot-retest entry
// rule (spec §4.D, §9 open question (a)/(b)).
func retestZoneTriggered(side domain.Side, price, signalPrice, stopLoss float64) bool {
	if side == domain.SideLong {
		retestZone := stopLoss + retestZoneFraction*(signalPrice-stopLoss)
		return price > stopLoss && price <= retestZone
	}
	retestZone := stopLoss - retestZoneFraction*(stopLoss-signalPrice)
	return price < stopLoss && price >= retestZone
}

// pivotBreakoutTriggered implements the delayed pivot-breakout entry
// rule (spec §4.D).
func pivotBreakoutTriggered(side domain.Side, price, delayPivot float64) bool {
	if side == domain.SideLong {
		return price > delayPivot*(1+pivotBreakoutPct)
	}
	return price < delayPivot*(1-pivotBreakoutPct)
}

// sizeTrade implements spec §4.D's notional/risk-based sizing choice,
// capped at MaxAccountPct of account value for the risk-based mode.
func (m *Manager) sizeTrade(trade *domain.ActiveTrade) int64 {
	if m.cfg.SizingMode == SizingRiskBased && m.cfg.RiskBudget > 0 {
		perShareRisk := absf(trade.EntryPrice - trade.StopLoss)
		if perShareRisk > 0 {
			size := int64(m.cfg.RiskBudget / perShareRisk)
			if accountValue := m.gate.Snapshot().CurrentValue; accountValue > 0 {
				maxNotional := accountValue * m.cfg.MaxAccountPct
				if cap := int64(maxNotional / trade.EntryPrice); cap < size {
					size = cap
				}
			}
			return size
		}
	}
	// Notional sizing is keyed off the reference price known when the
	// trade was created rather than the (possibly slipped) fill price:
	// signal_price for an immediate entry, delay_pivot for a delayed
	// one (spec §8 scenarios 1 and 2's worked sizes only close cleanly
	// this way: 100000/100=1000 and 100000/199=502).
	reference := trade.SignalPrice
	if trade.EntryDelayed && trade.DelayPivot > 0 {
		reference = trade.DelayPivot
	}
	if reference <= 0 {
		return 0
	}
	return int64(m.cfg.TradeNotional / reference)
}

// submitBrokerOrder hands an entry/exit off to the Order Verifier
// (spec §4.D "submit market order via Order Verifier").
func (m *Manager) submitBrokerOrder(trade *domain.ActiveTrade, intent domain.OrderIntent, qty int64) {
	if m.verifier == nil || qty <= 0 {
		return
	}
	side := domain.OrderSideBuy
	if (trade.Side == domain.SideLong) == (intent == domain.IntentExit) {
		side = domain.OrderSideSell
	}
	tradeID := trade.TradeID
	scripCode := trade.ScripCode
	req := verify.SubmitRequest{
		TradeID:        tradeID,
		ScripCode:      scripCode,
		Side:           side,
		Intent:         intent,
		Qty:            qty,
		IdempotencyKey: trade.IdempotencyKey,
	}
	if err := m.verifier.Submit(context.Background(), req, func(o verify.Outcome) {
		m.handleOrderOutcome(scripCode, tradeID, o)
	}); err != nil && m.logger != nil {
		m.logger.Error("order submission failed", zap.String("trade_id", tradeID), zap.Error(err))
	}
}

// handleOrderOutcome implements spec §7's BrokerPermanent/
// VerificationTimeout handling for an already-optimistically-active
// trade: a terminal failure force-closes it.
func (m *Manager) handleOrderOutcome(scripCode, tradeID string, outcome verify.Outcome) {
	if outcome.Kind != verify.OutcomeFailure {
		return
	}
	slot := m.slotFor(scripCode)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	trade := slot.trade
	if trade == nil || trade.TradeID != tradeID || trade.Status.IsTerminal() {
		return
	}

	price := trade.LastSeenPrice
	if price == 0 {
		price = trade.EntryPrice
	}
	trade.PositionSize = 0
	trade.RealizedPL = 0
	m.closeRemainder(slot, trade, price, domain.ExitReasonBrokerReject, m.clk.Now())
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
