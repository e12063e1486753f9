package verify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/obsmetrics"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	cache "github.com/patrickmn/go-cache"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// pendingOrder is the Order Verifier's own record of a tracked broker
// submission (spec §3 OrderTicket, §4.E PendingOrder).
type pendingOrder struct {
	mu sync.Mutex

	req SubmitRequest
	cb  Callback

	orderID              string
	retriesUsed          int
	verificationAttempts int
	createdAt            time.Time

	pollHandle    clock.Handle
	timeoutHandle clock.Handle
	done          bool
}

// idempotencyRecord is the key-map value (spec §4.E "Idempotency"): a
// reservation while the order is in flight, populated with Outcome
// once terminal.
type idempotencyRecord struct {
	Outcome *Outcome
}

// Loop is the concrete Order Verification Loop: *Loop implements
// Verifier. Modeled after the teacher's OrderService (mutex-guarded
// map + go-cache) generalized from a matching-engine order book to
// broker-order polling.
type Loop struct {
	logger  *zap.Logger
	cfg     Config
	clk     *clock.Service
	broker  ports.BrokerPort
	metrics *obsmetrics.Metrics

	idempotency *cache.Cache

	mu      sync.RWMutex
	pending map[string]*pendingOrder

	livenessHandle clock.Handle
}

// New constructs an Order Verification Loop and starts its liveness
// ticker (spec §4.E "Global ticker: every 10 s, force a poll across
// all outstanding records"). metrics may be nil.
func New(logger *zap.Logger, cfg Config, clk *clock.Service, broker ports.BrokerPort, metrics *obsmetrics.Metrics) *Loop {
	l := &Loop{
		logger:      logger,
		cfg:         cfg,
		clk:         clk,
		broker:      broker,
		metrics:     metrics,
		idempotency: cache.New(cfg.IdempotencyTTL, cfg.IdempotencyTTL/2),
		pending:     make(map[string]*pendingOrder),
	}
	l.livenessHandle = clk.SchedulePeriodic(cfg.LivenessInterval, cfg.LivenessInterval, l.forcePollAll)
	return l
}

// Submit implements Verifier. It never calls cb synchronously: the
// Position Manager invokes Submit while holding the scrip's trade-slot
// mutex (spec §4.D), so a synchronous callback here would deadlock the
// instant it tried to re-acquire that same lock from handleOrderOutcome.
// Everything — the first placement attempt included — runs on the
// Clock Service's pool instead (spec §5 "Order Verifier runs entirely
// on the timer pool").
func (l *Loop) Submit(ctx context.Context, req SubmitRequest, cb Callback) error {
	if req.Qty <= 0 {
		return fmt.Errorf("verify: non-positive qty for trade %s", req.TradeID)
	}

	if req.IdempotencyKey != "" {
		if cached, ok := l.idempotency.Get(req.IdempotencyKey); ok {
			if rec, ok := cached.(*idempotencyRecord); ok && rec.Outcome != nil {
				outcome := *rec.Outcome
				l.clk.ScheduleOnce(0, func() { cb(outcome) })
				return nil
			}
			// Reserved but not yet terminal: a duplicate in-flight
			// submission. Do not re-submit to the broker; the original
			// attempt's callback will resolve it.
			return nil
		}
		l.idempotency.Set(req.IdempotencyKey, &idempotencyRecord{}, cache.DefaultExpiration)
	}

	trackingID := ksuid.New().String()
	p := &pendingOrder{req: req, cb: cb, createdAt: l.clk.Now()}
	l.mu.Lock()
	l.pending[trackingID] = p
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.VerifierOutstanding.Inc()
	}

	l.clk.ScheduleOnce(0, func() { l.placeOrder(trackingID) })
	return nil
}

func (l *Loop) get(trackingID string) *pendingOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pending[trackingID]
}

// placeOrder calls the Broker Port and, on success, arms polling and
// the hard timeout; on a transient failure it retries with the same
// exponential backoff schedule as a REJECTED book status (spec §4.E
// treats "order not placeable" and "order rejected after placement" as
// the same retry budget).
func (l *Loop) placeOrder(trackingID string) {
	p := l.get(trackingID)
	if p == nil {
		return
	}
	p.mu.Lock()
	req := p.req
	p.mu.Unlock()

	ack, err := l.broker.PlaceMarketOrder(context.Background(), req.ScripCode, req.Exchange, req.ExchangeType, req.Side, req.Qty)
	if err != nil {
		if !domain.IsTemporary(err) {
			l.finalize(trackingID, Outcome{Kind: OutcomeFailure, Reason: err.Error()})
			return
		}
		l.retryOrFail(trackingID, err.Error())
		return
	}

	p.mu.Lock()
	p.orderID = ack.OrderID
	p.mu.Unlock()
	l.armPolling(trackingID)
}

func (l *Loop) armPolling(trackingID string) {
	p := l.get(trackingID)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.pollHandle = l.clk.ScheduleOnce(l.cfg.FirstPollDelay, func() { l.poll(trackingID) })
	p.timeoutHandle = l.clk.ScheduleOnce(l.cfg.VerificationTimeout, func() { l.handleHardTimeout(trackingID) })
	p.mu.Unlock()
}

// poll fetches the broker order book and matches the tracked order_id
// (spec §4.E).
func (l *Loop) poll(trackingID string) {
	p := l.get(trackingID)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.verificationAttempts++
	orderID := p.orderID
	p.mu.Unlock()
	if orderID == "" {
		return
	}

	book, err := l.broker.FetchOrderBook(context.Background())
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("order book fetch failed, rescheduling poll", zap.String("order_id", orderID), zap.Error(err))
		}
		l.reschedulePoll(trackingID)
		return
	}

	for i := range book {
		if book[i].OrderID == orderID {
			l.handleStatus(trackingID, book[i])
			return
		}
	}
	// Order not found in book -> treat as pending (spec §4.E).
	l.reschedulePoll(trackingID)
}

func (l *Loop) handleStatus(trackingID string, entry domain.BrokerBookEntry) {
	switch entry.Status {
	case "COMPLETE", "FULLY_EXECUTED":
		l.finalize(trackingID, Outcome{
			Kind: OutcomeSuccess, OrderID: entry.OrderID,
			FilledQty: entry.Qty, AvgPrice: entry.AvgPrice,
		})
	case "PARTIAL":
		l.finalize(trackingID, Outcome{
			Kind: OutcomePartial, OrderID: entry.OrderID,
			FilledQty: entry.Qty, RemainingQty: entry.PendingQty, AvgPrice: entry.AvgPrice,
		})
	case "REJECTED", "CANCELLED", "FAILED":
		l.retryOrFail(trackingID, entry.Message)
	default: // PENDING, OPEN, or an unrecognized broker status
		l.reschedulePoll(trackingID)
	}
}

// retryOrFail implements the REJECTED/CANCELLED/FAILED branch (spec
// §4.E): exponential backoff re-submission while retries_used (counted
// after incrementing) stays below max_retries, then a terminal failure. Shared between a placement-call error and a
// post-placement rejection, since both draw from the same retry budget.
func (l *Loop) retryOrFail(trackingID string, reason string) {
	p := l.get(trackingID)
	if p == nil {
		return
	}
	p.mu.Lock()
	p.retriesUsed++
	retries := p.retriesUsed
	p.mu.Unlock()

	if retries < l.cfg.MaxRetries {
		if l.metrics != nil {
			l.metrics.VerifierRetries.Inc()
		}
		delay := l.cfg.RetryBase * time.Duration(int64(1)<<uint(retries))
		p.mu.Lock()
		p.pollHandle = l.clk.ScheduleOnce(delay, func() { l.placeOrder(trackingID) })
		p.mu.Unlock()
		return
	}
	l.finalize(trackingID, Outcome{Kind: OutcomeFailure, Reason: reason})
}

// reschedulePoll implements the PENDING/OPEN branch (spec §4.E): linear
// backoff capped at max_attempts. The cap only bounds the backoff
// multiplier, not the number of polls — the hard timeout armed in
// armPolling is what ultimately bails this order out if the broker
// never resolves it.
func (l *Loop) reschedulePoll(trackingID string) {
	p := l.get(trackingID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	attempts := p.verificationAttempts
	if attempts > l.cfg.MaxPollAttempts {
		attempts = l.cfg.MaxPollAttempts
	}
	delay := l.cfg.PollBackoffBase * time.Duration(attempts)
	if delay <= 0 {
		delay = l.cfg.PollBackoffBase
	}
	p.pollHandle = l.clk.ScheduleOnce(delay, func() { l.poll(trackingID) })
}

func (l *Loop) handleHardTimeout(trackingID string) {
	if l.get(trackingID) == nil {
		return
	}
	if l.metrics != nil {
		l.metrics.VerifierTimeouts.Inc()
	}
	l.finalize(trackingID, Outcome{Kind: OutcomeFailure, Reason: "verification_timeout"})
}

// forcePollAll is the liveness ticker's callback (spec §4.E "serving as
// a liveness fallback").
func (l *Loop) forcePollAll() {
	l.mu.RLock()
	ids := make([]string, 0, len(l.pending))
	for id, p := range l.pending {
		p.mu.Lock()
		if p.orderID != "" {
			ids = append(ids, id)
		}
		p.mu.Unlock()
	}
	l.mu.RUnlock()
	for _, id := range ids {
		l.poll(id)
	}
}

// finalize invokes the callback exactly once (spec §9 "callback is
// always invoked exactly once per tracked order"), cancels any armed
// timers, records the outcome in the idempotency map, and drops the
// record.
func (l *Loop) finalize(trackingID string, outcome Outcome) {
	l.mu.Lock()
	p, ok := l.pending[trackingID]
	if ok {
		delete(l.pending, trackingID)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	if l.metrics != nil {
		l.metrics.VerifierOutstanding.Dec()
	}

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	if p.pollHandle != 0 {
		l.clk.Cancel(p.pollHandle)
	}
	if p.timeoutHandle != 0 {
		l.clk.Cancel(p.timeoutHandle)
	}
	cb := p.cb
	key := p.req.IdempotencyKey
	p.mu.Unlock()

	if key != "" {
		l.idempotency.Set(key, &idempotencyRecord{Outcome: &outcome}, cache.DefaultExpiration)
	}
	if cb != nil {
		cb(outcome)
	}
}

// OutstandingCount reports the number of in-flight tracked orders
// (surfaced over the diagnostics HTTP API, SPEC_FULL.md §6).
func (l *Loop) OutstandingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Shutdown cancels the liveness ticker and every outstanding order's
// timers (spec §4.E "Graceful shutdown cancels outstanding timers,
// waiting up to 5 s for in-flight callbacks"). Like clock.Service's own
// Shutdown, this guarantees no further asynchronous firings; it does
// not force in-flight pool callbacks to complete synchronously.
func (l *Loop) Shutdown() {
	l.clk.Cancel(l.livenessHandle)

	l.mu.Lock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		p := l.get(id)
		if p == nil {
			continue
		}
		p.mu.Lock()
		if p.pollHandle != 0 {
			l.clk.Cancel(p.pollHandle)
		}
		if p.timeoutHandle != 0 {
			l.clk.Cancel(p.timeoutHandle)
		}
		p.mu.Unlock()
	}
	time.Sleep(l.cfg.ShutdownDrain)
}
