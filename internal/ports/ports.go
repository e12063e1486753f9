// Package ports declares the behaviour-level interfaces the core
// consumes from external collaborators (spec §6). Out of scope per
// spec §1: the concrete message-bus consumers/producers, broker HTTP
// client, historical-data client, chat notifier, cached pivot-level
// lookup, trade-result persistence, configuration loading, and trading
// calendar are all "specified only by the interfaces the core
// consumes" — this file is that specification. internal/calendar and
// internal/persistence provide the two concrete adapters SPEC_FULL.md
// adds so the repo has at least one real implementation of each.
package ports

import (
	"context"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
)

// PriceTick is delivered by the Price Bus (spec §6). Deliveries can be
// reordered across scrips but must be monotone-in-time per scrip.
type PriceTick struct {
	ScripCode string
	Price     float64
	Timestamp time.Time
}

// BrokerPort is the out-of-process broker backend (spec §6).
type BrokerPort interface {
	PlaceMarketOrder(ctx context.Context, scripCode, exchange, exchangeType string, side domain.OrderSide, qty int64) (domain.BrokerOrderAck, error)
	FetchOrderBook(ctx context.Context) ([]domain.BrokerBookEntry, error)
}

// EventPublisher is the Event Bus (out) port (spec §6). Concrete
// transports (gochannel, NATS) live in internal/events.
type EventPublisher interface {
	Publish(ctx context.Context, kind domain.EventKind, payload interface{}) error
}

// ChatPort is the best-effort notification sink (spec §6, §4.F).
type ChatPort interface {
	Send(ctx context.Context, channel, text string) error
}

// SectorMapPort resolves a scrip to its sector, defaulting to "OTHER".
type SectorMapPort interface {
	SectorOf(scripCode string) string
}

// TradingHoursPort reports whether an exchange is open at a given IST time.
type TradingHoursPort interface {
	IsTradeable(exchange string, istTime time.Time) bool
}

// PivotLevels is the optional telemetry data returned by PivotPort.
type PivotLevels struct {
	Pivot float64
	R1, R2, R3, R4 float64
	S1, S2, S3, S4 float64
}

// PivotPort is consulted only for telemetry messages (spec §6), never
// for trading decisions.
type PivotPort interface {
	DailyPivots(ctx context.Context, scripCode string, date time.Time) (PivotLevels, error)
}
