// Package coordinator implements the Coordinator (spec §4.G): it owns
// the SignalIn/PriceTick ingress queues, applies the Trading-Hours
// Port before handing a signal to the Arbiter, and wires the
// Arbiter's winner/superseded callbacks into the Position Manager and
// Event Emitter. Modeled after the teacher's own top-level wiring
// style (internal/trading/positions manager plus an fx-constructed
// worker), generalized from one engine to gluing A-F together.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/arbiter"
	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/obsmetrics"
	"github.com/abdoelhodaky/tradefabric/internal/persistence/tradestore"
	"github.com/abdoelhodaky/tradefabric/internal/position"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"go.uber.org/zap"
)

// Coordinator is the Coordinator (spec §4.G). It does not implement
// any core algorithm itself; it is the glue between ingress and A-F.
type Coordinator struct {
	logger  *zap.Logger
	cfg     Config
	clk     *clock.Service
	arb     *arbiter.Arbiter
	posMgr  *position.Manager
	trading ports.TradingHoursPort
	emitter ports.EventPublisher
	trades  *tradestore.Store
	metrics *obsmetrics.Metrics

	signalCh chan domain.Signal
	priceCh  chan ports.PriceTick

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New constructs a Coordinator. The Arbiter passed in must already be
// wired (via arbiter.New's onWinner/onSuperseded callbacks) to this
// Coordinator's HandleWinner/HandleSuperseded methods — see NewWired
// for the common case of constructing both together.
func New(
	logger *zap.Logger,
	cfg Config,
	clk *clock.Service,
	arb *arbiter.Arbiter,
	posMgr *position.Manager,
	trading ports.TradingHoursPort,
	emitter ports.EventPublisher,
	trades *tradestore.Store,
	metrics *obsmetrics.Metrics,
) *Coordinator {
	return &Coordinator{
		logger:   logger,
		cfg:      cfg,
		clk:      clk,
		arb:      arb,
		posMgr:   posMgr,
		trading:  trading,
		emitter:  emitter,
		trades:   trades,
		metrics:  metrics,
		signalCh: make(chan domain.Signal, cfg.SignalQueueDepth),
		priceCh:  make(chan ports.PriceTick, cfg.PriceQueueDepth),
		stopCh:   make(chan struct{}),
	}
}

// NewWired constructs an Arbiter and a Coordinator together, closing
// the winner/superseded callbacks over the Coordinator instance (spec
// §9's "Cyclic/shared graph" note: modeled as autonomous actors wired
// through closures, no back-references between the structs themselves).
func NewWired(
	logger *zap.Logger,
	cfg Config,
	arbCfg arbiter.Config,
	clk *clock.Service,
	posMgr *position.Manager,
	trading ports.TradingHoursPort,
	emitter ports.EventPublisher,
	trades *tradestore.Store,
	metrics *obsmetrics.Metrics,
) *Coordinator {
	c := &Coordinator{
		logger:   logger,
		cfg:      cfg,
		clk:      clk,
		posMgr:   posMgr,
		trading:  trading,
		emitter:  emitter,
		trades:   trades,
		metrics:  metrics,
		signalCh: make(chan domain.Signal, cfg.SignalQueueDepth),
		priceCh:  make(chan ports.PriceTick, cfg.PriceQueueDepth),
		stopCh:   make(chan struct{}),
	}
	c.arb = arbiter.New(clk, arbCfg, logger, c.handleWinner, c.handleSuperseded, metrics)
	return c
}

// Arbiter exposes the wired Arbiter for read-only diagnostics.
func (c *Coordinator) Arbiter() *arbiter.Arbiter { return c.arb }

// exchangeFor resolves the optional "EXCHANGE:SCRIP" tag (spec §3
// "Instrument ... with optional exchange tag"), falling back to the
// Coordinator's configured default exchange.
func exchangeFor(scripCode string, defaultExchange string) (exchange, scrip string) {
	if i := strings.IndexByte(scripCode, ':'); i > 0 {
		return scripCode[:i], scripCode[i+1:]
	}
	return defaultExchange, scripCode
}

// Start launches the two single-producer ingress workers (spec §5
// "two single-producer queues ... each drained by one Coordinator
// worker; ordering within a queue is preserved").
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.runSignalWorker(ctx)
	go c.runPriceWorker(ctx)
}

// Stop closes the ingress queues and waits for both workers to drain
// in-flight work (spec §5 "Shutdown signal cancels the timer pool,
// flushes arbiter state, lets in-flight ticks drain, then closes
// ingress queues"). Flushing the Arbiter is the caller's
// responsibility (arb.Flush()) since it may need to run before or
// after this depending on deployment shutdown ordering.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) runSignalWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case sig := <-c.signalCh:
			c.dispatchSignal(sig)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) runPriceWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case tick := <-c.priceCh:
			c.posMgr.OnPrice(tick.ScripCode, tick.Price, tick.Timestamp)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) dispatchSignal(sig domain.Signal) {
	exchange, _ := exchangeFor(sig.ScripCode, c.cfg.DefaultExchange)
	now := c.clk.Now()
	if c.trading != nil && !c.trading.IsTradeable(exchange, now) {
		if c.logger != nil {
			c.logger.Info("signal dropped outside trading hours",
				zap.String("scrip_code", sig.ScripCode), zap.String("exchange", exchange))
		}
		c.publishResult(sig, "FAILED", "OUTSIDE_TRADING_HOURS")
		return
	}
	c.arb.Submit(sig)
}

// SubmitSignal enqueues a signal with a bounded wait (spec §5
// "block-with-bounded-wait for SignalIn"): a full queue blocks the
// caller up to cfg.SignalEnqueueWait before returning an error, rather
// than dropping it silently the way PriceTick does.
func (c *Coordinator) SubmitSignal(ctx context.Context, sig domain.Signal) error {
	timer := time.NewTimer(c.cfg.SignalEnqueueWait)
	defer timer.Stop()
	select {
	case c.signalCh <- sig:
		return nil
	case <-timer.C:
		return fmt.Errorf("coordinator: signal queue full after %s wait", c.cfg.SignalEnqueueWait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitPriceTick enqueues a tick, dropping it immediately if the
// queue is full (spec §5 "drop-newest for PriceTick (with a
// dropped-tick counter)"). Never blocks the price ingress path.
func (c *Coordinator) SubmitPriceTick(tick ports.PriceTick) {
	select {
	case c.priceCh <- tick:
	default:
		if c.metrics != nil {
			c.metrics.TicksDropped.Inc()
		}
		if c.logger != nil {
			c.logger.Warn("price tick dropped: queue full", zap.String("scrip_code", tick.ScripCode))
		}
	}
}

// handleWinner is the Arbiter's onWinner callback (spec §4.C ->
// §4.D handoff). Runs on the Arbiter's timer-pool goroutine, so
// CreateTrade's brief Risk Gate mutex hold is the only blocking this
// does (spec §5 "signal admission may block briefly on the Risk
// Gate's mutex").
func (c *Coordinator) handleWinner(sig domain.Signal) {
	_, err := c.posMgr.CreateTrade(sig, c.clk.Now())
	if err == nil {
		return
	}
	reason := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrRiskRejection):
		reason = "RISK_REJECTED"
	case errors.Is(err, domain.ErrValidationFailure):
		reason = "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrAlreadyActive):
		reason = "ALREADY_ACTIVE"
	}
	if c.logger != nil {
		c.logger.Info("winning signal did not produce a trade",
			zap.String("scrip_code", sig.ScripCode), zap.String("reason", reason), zap.Error(err))
	}
	c.publishResult(sig, "FAILED", reason)
}

// handleSuperseded is the Arbiter's onSuperseded callback (spec §4.C
// "terminal FAILED trade result with reason=SUPERSEDED_BY_<winner>").
func (c *Coordinator) handleSuperseded(ev domain.SupersededEvent) {
	if c.emitter == nil {
		return
	}
	_ = c.emitter.Publish(context.Background(), domain.EventTradeResult, domain.TradeResultEvent{
		ScripCode:  ev.ScripCode,
		StrategyID: ev.StrategyID,
		Outcome:    "SUPERSEDED",
		Reason:     ev.Reason,
		At:         ev.At,
	})
}

func (c *Coordinator) publishResult(sig domain.Signal, outcome, reason string) {
	if c.emitter == nil {
		return
	}
	_ = c.emitter.Publish(context.Background(), domain.EventTradeResult, domain.TradeResultEvent{
		ScripCode:  sig.ScripCode,
		StrategyID: sig.StrategyID,
		Outcome:    outcome,
		Reason:     reason,
		At:         c.clk.Now(),
	})
}

// Restore implements the supplemented crash-replay operation
// (SPEC_FULL.md §4.G): reload the tradestore.ActiveTrades snapshot and
// re-insert every non-terminal trade into the Position Manager,
// bypassing CreateTrade's admission checks since the trade already
// passed them once before the crash. Must run before Start opens the
// ingress queues.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	if c.trades == nil {
		return 0, nil
	}
	snapshot, err := c.trades.LoadActiveTrades(ctx)
	if err != nil {
		return 0, fmt.Errorf("coordinator: restore: %w", err)
	}
	restored := 0
	for _, trade := range snapshot {
		if trade.Status.IsTerminal() {
			continue
		}
		c.posMgr.Restore(trade)
		restored++
	}
	if c.logger != nil {
		c.logger.Info("restored active trades from durable snapshot", zap.Int("count", restored))
	}
	return restored, nil
}
