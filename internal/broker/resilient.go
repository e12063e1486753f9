// Package broker implements the resilience wrapper SPEC_FULL.md §4.E
// adds around the Broker Port: a gobreaker.CircuitBreaker per endpoint
// class (order placement vs. book polling), modeled after the
// teacher's CircuitBreakerFactory (internal/architecture/fx/resilience),
// plus golang.org/x/time/rate throttling in front of each breaker.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resilient wraps a ports.BrokerPort with per-endpoint-class circuit
// breaking and rate limiting. It implements ports.BrokerPort itself,
// so it is a drop-in for whatever concrete broker HTTP client a
// deployment wires in.
type Resilient struct {
	inner  ports.BrokerPort
	logger *zap.Logger

	placementLimiter *rate.Limiter
	bookPollLimiter  *rate.Limiter

	placementBreaker *gobreaker.CircuitBreaker
	bookPollBreaker  *gobreaker.CircuitBreaker
}

// New wraps inner with the given resilience Config.
func New(inner ports.BrokerPort, cfg Config, logger *zap.Logger) *Resilient {
	tripOn := func(counts gobreaker.Counts) bool {
		if counts.Requests < cfg.BreakerMinRequests {
			return false
		}
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return failureRatio >= cfg.BreakerFailureRatio
	}
	onStateChange := func(name string, from, to gobreaker.State) {
		if logger != nil {
			logger.Warn("broker circuit breaker state change",
				zap.String("endpoint_class", name), zap.String("from", from.String()), zap.String("to", to.String()))
		}
	}

	return &Resilient{
		inner:  inner,
		logger: logger,

		placementLimiter: rate.NewLimiter(rate.Limit(cfg.PlacementRatePerSec), cfg.PlacementBurst),
		bookPollLimiter:  rate.NewLimiter(rate.Limit(cfg.BookPollRatePerSec), cfg.BookPollBurst),

		placementBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "order_placement", MaxRequests: cfg.BreakerMaxRequests,
			Interval: cfg.BreakerInterval, Timeout: cfg.BreakerTimeout,
			ReadyToTrip: tripOn, OnStateChange: onStateChange,
		}),
		bookPollBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "book_polling", MaxRequests: cfg.BreakerMaxRequests,
			Interval: cfg.BreakerInterval, Timeout: cfg.BreakerTimeout,
			ReadyToTrip: tripOn, OnStateChange: onStateChange,
		}),
	}
}

// PlaceMarketOrder implements ports.BrokerPort.
func (r *Resilient) PlaceMarketOrder(ctx context.Context, scripCode, exchange, exchangeType string, side domain.OrderSide, qty int64) (domain.BrokerOrderAck, error) {
	if err := r.placementLimiter.Wait(ctx); err != nil {
		return domain.BrokerOrderAck{}, fmt.Errorf("%w: rate limit wait: %v", domain.ErrBrokerTransient, err)
	}
	result, err := r.placementBreaker.Execute(func() (interface{}, error) {
		return r.inner.PlaceMarketOrder(ctx, scripCode, exchange, exchangeType, side, qty)
	})
	if err != nil {
		return domain.BrokerOrderAck{}, classify(err)
	}
	return result.(domain.BrokerOrderAck), nil
}

// FetchOrderBook implements ports.BrokerPort.
func (r *Resilient) FetchOrderBook(ctx context.Context) ([]domain.BrokerBookEntry, error) {
	if err := r.bookPollLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrBrokerTransient, err)
	}
	result, err := r.bookPollBreaker.Execute(func() (interface{}, error) {
		return r.inner.FetchOrderBook(ctx)
	})
	if err != nil {
		return nil, classify(err)
	}
	return result.([]domain.BrokerBookEntry), nil
}

// classify maps a breaker/inner-call error onto the domain's closed
// BrokerTransient/BrokerPermanent taxonomy (spec §7): an open breaker
// or an already-Temporary inner error is transient (the Order
// Verifier's retry loop should keep trying); anything else is treated
// as permanent so a single malformed request doesn't retry forever.
func classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.TransientError{Err: err}
	}
	if domain.IsTemporary(err) {
		return &domain.TransientError{Err: err}
	}
	return fmt.Errorf("%w: %v", domain.ErrBrokerPermanent, err)
}
