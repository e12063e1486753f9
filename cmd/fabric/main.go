// Command fabric is the fabric's runnable process: it wires the Clock
// & Timer Service, Risk Gate, Position Manager, Order Verifier,
// broker resilience wrapper, Event Emitter, Signal Arbiter, and
// Coordinator together via fx, the way the teacher's cmd/marketdata
// and cmd/gateway entrypoints wire their own components (fx.Supply
// the logger, fx.Provide each constructor, fx.Invoke the lifecycle
// hooks that start/stop background work).
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/api"
	"github.com/abdoelhodaky/tradefabric/internal/arbiter"
	"github.com/abdoelhodaky/tradefabric/internal/broker"
	"github.com/abdoelhodaky/tradefabric/internal/calendar"
	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/config"
	"github.com/abdoelhodaky/tradefabric/internal/coordinator"
	"github.com/abdoelhodaky/tradefabric/internal/events"
	"github.com/abdoelhodaky/tradefabric/internal/marketdata"
	"github.com/abdoelhodaky/tradefabric/internal/obsmetrics"
	"github.com/abdoelhodaky/tradefabric/internal/persistence/portfoliostore"
	"github.com/abdoelhodaky/tradefabric/internal/persistence/tradestore"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"github.com/abdoelhodaky/tradefabric/internal/position"
	"github.com/abdoelhodaky/tradefabric/internal/risk"
	"github.com/abdoelhodaky/tradefabric/internal/verify"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		fx.Provide(
			newLogger,
			loadConfig,
			newMetrics,
			newSQLXDB,
			newGormDB,
			tradestore.New,
			portfoliostore.New,
			newClock,
			newSectorMap,
			newRiskGate,
			newEventPublisher,
			newEmitter,
			newBrokerPort,
			newVerifyLoop,
			newPositionManager,
			calendar.NewISTCalendar,
			newTradingHours,
			newCoordinator,
			newAPIServer,
			newMarketDataFeed,
		),
		fx.Invoke(
			runMigrations,
			restoreActiveTrades,
			startCoordinator,
			startAPIServer,
			startMarketDataFeed,
		),
	)
	app.Run()
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func loadConfig() (*config.Config, error) {
	return config.Load("")
}

func newMetrics() *obsmetrics.Metrics {
	return obsmetrics.New(prometheus.NewRegistry())
}

// newSQLXDB opens the active_trades/trade_results connection. Returns
// a nil *sqlx.DB (not an error) when no DSN is configured, so every
// downstream persistence call degrades to the nil-receiver no-op.
func newSQLXDB(cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	return sqlx.Connect("postgres", cfg.Database.DSN)
}

// newGormDB opens the daily-snapshot/emergency-stop-audit connection,
// sharing the same DSN as tradestore but a distinct ORM stack (spec
// §6's two persistence concerns are deliberately kept on separate
// libraries).
func newGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	return gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
}

func runMigrations(lc fx.Lifecycle, logger *zap.Logger, trades *tradestore.Store, portfolio *portfoliostore.Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := trades.Migrate(ctx); err != nil {
				return fmt.Errorf("tradestore migrate: %w", err)
			}
			if err := portfolio.Migrate(ctx); err != nil {
				return fmt.Errorf("portfoliostore migrate: %w", err)
			}
			return nil
		},
	})
}

func newClock(logger *zap.Logger) (*clock.Service, error) {
	return clock.New(nil, clock.Config{PoolSize: 64}, logger)
}

func newSectorMap() ports.SectorMapPort {
	return ports.NewStaticSectorMap(nil)
}

func newRiskGate(logger *zap.Logger, cfg *config.Config, sectorMap ports.SectorMapPort, metrics *obsmetrics.Metrics) (*risk.Gate, error) {
	return risk.New(logger, risk.LimitsFromConfig(cfg), cfg.Position.TradeNotional*float64(cfg.Risk.MaxPositions), sectorMap, metrics)
}

func newEventPublisher(logger *zap.Logger) (message.Publisher, error) {
	return events.NewGoChannelPublisher(logger)
}

func newEmitter(logger *zap.Logger, publisher message.Publisher) ports.EventPublisher {
	return events.New(logger, publisher, ports.NoopChat{}, "")
}

func newBrokerPort(logger *zap.Logger, cfg *config.Config) ports.BrokerPort {
	return broker.New(broker.NewLoggingBroker(logger), broker.DefaultConfig(), logger)
}

func newVerifyLoop(logger *zap.Logger, cfg *config.Config, clk *clock.Service, brokerPort ports.BrokerPort, metrics *obsmetrics.Metrics) *verify.Loop {
	return verify.New(logger, verify.FromAppConfig(cfg), clk, brokerPort, metrics)
}

func newPositionManager(logger *zap.Logger, cfg *config.Config, clk *clock.Service, gate *risk.Gate, verifier *verify.Loop, emitter ports.EventPublisher, trades *tradestore.Store) *position.Manager {
	return position.New(logger, position.FromAppConfig(cfg), clk, gate, verifier, emitter, trades)
}

// newTradingHours bridges the concrete calendar into the interface
// the Coordinator consumes, the same narrowing fx needs wherever a
// port is satisfied by a concrete adapter type.
func newTradingHours(cal *calendar.ISTCalendar) ports.TradingHoursPort {
	return cal
}

func newCoordinator(logger *zap.Logger, cfg *config.Config, clk *clock.Service, posMgr *position.Manager, trading ports.TradingHoursPort, emitter ports.EventPublisher, trades *tradestore.Store, metrics *obsmetrics.Metrics) *coordinator.Coordinator {
	ccfg := coordinator.DefaultConfig()
	arbCfg := arbiter.Config{
		Layer1Buffer: time.Duration(cfg.Arbiter.Layer1BufferSec) * time.Second,
		Layer2Batch:  time.Duration(cfg.Arbiter.Layer2BatchSec) * time.Second,
	}
	return coordinator.NewWired(logger, ccfg, arbCfg, clk, posMgr, trading, emitter, trades, metrics)
}

func newAPIServer(logger *zap.Logger, cfg *config.Config, gate *risk.Gate, verifier *verify.Loop, posMgr *position.Manager, c *coordinator.Coordinator) *api.Server {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return api.New(logger, addr, gate, verifier, c.Arbiter(), posMgr)
}

// newMarketDataFeed builds the Price Bus's default live-feed adapter.
// Returns nil when no feed URL is configured, so a deployment that
// drives ticks some other way (direct OnPrice calls, a test harness)
// never dials anything.
func newMarketDataFeed(logger *zap.Logger, cfg *config.Config, c *coordinator.Coordinator) *marketdata.WebSocketFeed {
	if cfg.MarketData.FeedURL == "" {
		return nil
	}
	return marketdata.NewWebSocketFeed(cfg.MarketData.FeedURL, cfg.MarketDataReconnectDelay(), logger, c)
}

func startMarketDataFeed(lc fx.Lifecycle, logger *zap.Logger, feed *marketdata.WebSocketFeed) {
	if feed == nil {
		return
	}
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			logger.Info("starting market data feed")
			go feed.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func restoreActiveTrades(lc fx.Lifecycle, logger *zap.Logger, c *coordinator.Coordinator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := c.Restore(ctx)
			if err != nil {
				return err
			}
			logger.Info("crash-replay restore complete", zap.Int("trades_restored", n))
			return nil
		},
	})
}

func startCoordinator(lc fx.Lifecycle, logger *zap.Logger, c *coordinator.Coordinator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting coordinator")
			c.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping coordinator")
			c.Stop()
			return nil
		},
	})
}

func startAPIServer(lc fx.Lifecycle, logger *zap.Logger, s *api.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting diagnostics API")
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
