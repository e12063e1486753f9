// Package verify implements the Order Verification Loop (spec §4.E):
// tracks broker order IDs through status polling with exponential
// backoff and a bounded timeout, invoking a caller callback exactly
// once per tracked order.
package verify

import (
	"context"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
)

// OutcomeKind is the terminal result handed back to the Position
// Manager's callback.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomePartial OutcomeKind = "PARTIAL"
	OutcomeFailure OutcomeKind = "FAILURE"
)

// Outcome is passed to a Callback exactly once per tracked order
// (spec §9 "callback is always invoked exactly once per tracked order").
type Outcome struct {
	Kind         OutcomeKind
	OrderID      string
	FilledQty    int64
	RemainingQty int64
	AvgPrice     float64
	Reason       string
}

// Callback receives the terminal outcome for one submitted order.
type Callback func(Outcome)

// SubmitRequest is everything the verifier needs to place and then
// track a broker order.
type SubmitRequest struct {
	TradeID        string
	ScripCode      string
	Exchange       string
	ExchangeType   string
	Side           domain.OrderSide
	Intent         domain.OrderIntent
	Qty            int64
	IdempotencyKey string
}

// Verifier is the interface the Position Manager consumes; the
// concrete implementation is *Loop (loop.go).
type Verifier interface {
	Submit(ctx context.Context, req SubmitRequest, cb Callback) error
}
