package domain

import "time"

// EventKind discriminates the outbound event stream (spec §4.F, §6).
type EventKind string

const (
	EventTradeEntry        EventKind = "TRADE_ENTRY"
	EventTradeExitPartial  EventKind = "TRADE_EXIT_PARTIAL"
	EventTradeExit         EventKind = "TRADE_EXIT"
	EventPortfolioUpdate   EventKind = "PORTFOLIO_UPDATE"
	EventTradeResult       EventKind = "TRADE_RESULT"
)

// TradeEntryEvent is emitted when a trade transitions to ACTIVE.
type TradeEntryEvent struct {
	TradeID      string
	ScripCode    string
	Side         Side
	EntryPrice   float64
	PositionSize int64
	EntryTime    time.Time
}

// TradeExitPartialEvent is emitted on a T1 partial exit. Spec §4.F:
// partial exits do not emit a PortfolioUpdate.
type TradeExitPartialEvent struct {
	TradeID      string
	ScripCode    string
	ExitPrice    float64
	QtyClosed    int64
	RealizedPL   float64
	NewStopLoss  float64
	ExitTime     time.Time
}

// TradeExitEvent is the full terminal trade result (spec §4.F).
type TradeExitEvent struct {
	TradeID      string
	ScripCode    string
	Side         Side
	Status       TradeStatus
	ExitReason   ExitReason
	EntryPrice   float64
	ExitPrice    float64
	PositionSize int64
	RealizedPL   float64
	SignalTime   time.Time
	EntryTime    time.Time
	ExitTime     time.Time
	Duration     time.Duration
}

// PortfolioUpdateEvent follows a TradeExitEvent, never a partial (spec §4.F).
type PortfolioUpdateEvent struct {
	CurrentValue float64
	TotalPnL     float64
	ROIPct       float64
	EmittedAt    time.Time
}

// SupersededEvent / TimeoutEvent are terminal FAILED-result notifications
// that never went through a broker order.
type SupersededEvent struct {
	ScripCode  string
	StrategyID string
	Reason     string // SUPERSEDED_BY_<winner>
	At         time.Time
}

type TimeoutEvent struct {
	TradeID     string
	ScripCode   string
	FailedCond  string
	NextPivot   float64
	At          time.Time
}

// TradeResultEvent is the terminal notification for a signal that
// never reached a broker order at all — risk-rejected at admission or
// superseded in arbitration (spec §8 "For every signal emitted by
// upstream, the core emits exactly one terminal outcome (FILLED,
// FAILED, SUPERSEDED, TIMEOUT)"). Carried under EventTradeResult.
type TradeResultEvent struct {
	ScripCode  string
	StrategyID string
	Outcome    string // FAILED, SUPERSEDED
	Reason     string
	At         time.Time
}

// EventEnvelope wraps a payload with the fields required for
// idempotent redelivery handling (spec §7: "trade_id plus an event
// monotonic counter").
type EventEnvelope struct {
	Kind      EventKind
	TradeID   string
	Seq       uint64
	Payload   interface{}
}
