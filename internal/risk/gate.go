// Package risk implements the Portfolio Risk Gate (spec §4.B): the
// synchronous admission decision plus the latched emergency-stop
// circuit breaker, modeled after the teacher's risk_manager.go /
// circuit_breaker.go mutex-guarded-map style.
package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/config"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/obsmetrics"
	"github.com/abdoelhodaky/tradefabric/internal/ports"
	"go.uber.org/zap"
)

// Limits mirrors the admissible risk configuration from spec §6.
type Limits struct {
	MaxDrawdownPct         float64
	MaxDailyLossPct        float64
	MaxPositions           int
	MaxCorrelation         float64
	MaxSectorConcentration float64
	MaxLeverage            float64
}

// LimitsFromConfig builds Limits from the loaded Config, collapsing
// MaxPositions to 1 when single_trade_mode is on (spec §4.B point 4).
func LimitsFromConfig(cfg *config.Config) Limits {
	l := Limits{
		MaxDrawdownPct:         cfg.Risk.MaxDrawdownPct,
		MaxDailyLossPct:        cfg.Risk.MaxDailyLossPct,
		MaxPositions:           cfg.Risk.MaxPositions,
		MaxCorrelation:         cfg.Risk.MaxCorrelation,
		MaxSectorConcentration: cfg.Risk.MaxSectorConcentration,
		MaxLeverage:            cfg.Risk.MaxLeverage,
	}
	if cfg.Position.SingleTradeMode {
		l.MaxPositions = 1
	}
	return l
}

func (l Limits) validate() error {
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct out of range: %v", l.MaxDrawdownPct)
	}
	if l.MaxDailyLossPct <= 0 || l.MaxDailyLossPct >= 1 {
		return fmt.Errorf("max_daily_loss_pct out of range: %v", l.MaxDailyLossPct)
	}
	if l.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be >= 1: %v", l.MaxPositions)
	}
	if l.MaxCorrelation <= 0 || l.MaxCorrelation > 1 {
		return fmt.Errorf("max_correlation out of range: %v", l.MaxCorrelation)
	}
	if l.MaxSectorConcentration <= 0 || l.MaxSectorConcentration > 1 {
		return fmt.Errorf("max_sector_concentration out of range: %v", l.MaxSectorConcentration)
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive: %v", l.MaxLeverage)
	}
	return nil
}

// RejectReason enumerates why admit() returned false.
type RejectReason string

const (
	RejectNone               RejectReason = ""
	RejectEmergencyStop      RejectReason = "EMERGENCY_STOP"
	RejectDrawdownBreached   RejectReason = "MAX_DRAWDOWN_BREACHED"
	RejectDailyLoss          RejectReason = "DAILY_LOSS_LIMIT"
	RejectMaxPositions       RejectReason = "MAX_POSITIONS"
	RejectCorrelation        RejectReason = "CORRELATION_LIMIT"
	RejectSectorConcentration RejectReason = "SECTOR_CONCENTRATION"
	RejectLeverage           RejectReason = "LEVERAGE_LIMIT"
)

// Diagnostics is the read-only view exposed to operators (spec §4.B
// diagnostics(), wired to internal/api and internal/obsmetrics).
type Diagnostics struct {
	CurrentValue    float64
	PeakValue       float64
	Drawdown        float64
	DailyPnL        float64
	DailyLossPct    float64
	OpenPositions   int
	EmergencyStop   bool
	EmergencyReason string
	EmergencyTime   time.Time
	LastRejection   RejectReason
}

// Gate is the Portfolio Risk Gate (spec §4.B). All state transitions
// happen under a single mutex so admit() and update_value() cannot
// race (spec: "single critical section to avoid TOCTOU").
type Gate struct {
	logger    *zap.Logger
	sectorMap ports.SectorMapPort
	limits    Limits
	metrics   *obsmetrics.Metrics

	mu            sync.Mutex
	state         domain.PortfolioState
	lastRejection RejectReason
}

// New constructs a Gate. Construction fails if limits are out of
// their admissible range (spec §4.B). metrics may be nil, in which
// case Admit/UpdateValue skip instrumentation entirely.
func New(logger *zap.Logger, limits Limits, startValue float64, sectorMap ports.SectorMapPort, metrics *obsmetrics.Metrics) (*Gate, error) {
	if err := limits.validate(); err != nil {
		return nil, fmt.Errorf("invalid risk limits: %w", err)
	}
	if sectorMap == nil {
		sectorMap = ports.NewStaticSectorMap(nil)
	}
	return &Gate{
		logger:    logger,
		sectorMap: sectorMap,
		limits:    limits,
		metrics:   metrics,
		state: domain.PortfolioState{
			StartValue:   startValue,
			CurrentValue: startValue,
			PeakValue:    startValue,
			Daily:        make(map[string]*domain.DailyStats),
		},
	}, nil
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

func (g *Gate) dailyLocked(now time.Time) *domain.DailyStats {
	key := dateKey(now)
	d, ok := g.state.Daily[key]
	if !ok {
		d = &domain.DailyStats{Date: key}
		g.state.Daily[key] = d
	}
	return d
}

// correlation is the simplified proxy from spec §4.B point 5.
func correlation(a, b *domain.ActiveTrade, sectorOf func(string) string) float64 {
	if a.ScripCode == b.ScripCode {
		return 1.0
	}
	if sectorOf(a.ScripCode) == sectorOf(b.ScripCode) {
		return 0.7
	}
	return 0.3
}

// Admit is the synchronous "can this trade be taken" decision (spec
// §4.B). Checks run in order and short-circuit on the first failure.
func (g *Gate) Admit(proposed *domain.ActiveTrade, currentPositions []*domain.ActiveTrade, now time.Time) (bool, RejectReason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	reject := func(r RejectReason) (bool, RejectReason) {
		g.lastRejection = r
		if g.metrics != nil {
			g.metrics.RiskRejects.WithLabelValues(string(r)).Inc()
		}
		return false, r
	}

	// 1. Emergency-stop latch clear.
	if g.state.EmergencyStop {
		return reject(RejectEmergencyStop)
	}

	// 2. Drawdown.
	drawdown := 0.0
	if g.state.PeakValue > 0 {
		drawdown = (g.state.PeakValue - g.state.CurrentValue) / g.state.PeakValue
	}
	if drawdown >= g.limits.MaxDrawdownPct {
		g.latchEmergency("MAX_DRAWDOWN_BREACHED", now)
		return reject(RejectDrawdownBreached)
	}

	// 3. Daily loss.
	daily := g.dailyLocked(now)
	dailyLossPct := 0.0
	if g.state.StartValue > 0 && daily.PnL < 0 {
		dailyLossPct = -daily.PnL / g.state.StartValue
	}
	if dailyLossPct >= g.limits.MaxDailyLossPct {
		return reject(RejectDailyLoss)
	}

	// 4. Position count.
	if len(currentPositions) >= g.limits.MaxPositions {
		return reject(RejectMaxPositions)
	}

	// 5. Correlation.
	for _, pos := range currentPositions {
		if correlation(proposed, pos, g.sectorMap.SectorOf) > g.limits.MaxCorrelation {
			return reject(RejectCorrelation)
		}
	}

	// 6. Sector concentration, including the proposed trade.
	if g.state.CurrentValue > 0 {
		sector := g.sectorMap.SectorOf(proposed.ScripCode)
		sectorValue := proposed.EntryPriceOrSignal() * float64(proposed.PositionSizeOrNotional(g.defaultNotional()))
		for _, pos := range currentPositions {
			if g.sectorMap.SectorOf(pos.ScripCode) == sector {
				sectorValue += pos.EntryPrice * float64(pos.PositionSize)
			}
		}
		if sectorValue/g.state.CurrentValue > g.limits.MaxSectorConcentration {
			return reject(RejectSectorConcentration)
		}
	}

	// 7. Leverage.
	if g.state.CurrentValue > 0 {
		exposure := proposed.EntryPriceOrSignal() * float64(proposed.PositionSizeOrNotional(g.defaultNotional()))
		for _, pos := range currentPositions {
			exposure += pos.EntryPrice * float64(pos.PositionSize)
		}
		if exposure/g.state.CurrentValue > g.limits.MaxLeverage {
			return reject(RejectLeverage)
		}
	}

	g.lastRejection = RejectNone
	if g.metrics != nil {
		g.metrics.RiskAdmits.WithLabelValues(proposed.ScripCode).Inc()
	}
	return true, RejectNone
}

// defaultNotional is used only to estimate exposure for a
// WAITING_FOR_ENTRY proposal that has no entry price yet.
func (g *Gate) defaultNotional() float64 { return 100000 }

// UpdateValue records a new portfolio value/realized-PnL observation
// (spec §4.B update_value). Must be called under the same gate mutex
// as Admit to avoid TOCTOU, which is why it is a Gate method rather
// than a free function over PortfolioState.
func (g *Gate) UpdateValue(newValue, pnl float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.CurrentValue = newValue
	if newValue > g.state.PeakValue {
		g.state.PeakValue = newValue
	}
	daily := g.dailyLocked(now)
	daily.PnL += pnl
	if pnl != 0 {
		daily.TradeCount++
	}
	g.trimDailyLocked(now)

	if g.metrics != nil {
		drawdown := 0.0
		if g.state.PeakValue > 0 {
			drawdown = (g.state.PeakValue - g.state.CurrentValue) / g.state.PeakValue
		}
		g.metrics.CurrentDrawdown.Set(drawdown)
		dailyLossPct := 0.0
		if g.state.StartValue > 0 && daily.PnL < 0 {
			dailyLossPct = -daily.PnL / g.state.StartValue
		}
		g.metrics.DailyLossPct.Set(dailyLossPct)
	}
}

// trimDailyLocked drops daily buckets older than 90 days (spec §4.B
// "Daily-performance map is trimmed to the last 90 days by a
// scheduled task"); Coordinator schedules a periodic call into
// UpdateValue's caller, but trimming piggybacks on every update too so
// a quiet system still prunes its own history.
func (g *Gate) trimDailyLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -90)
	for k := range g.state.Daily {
		t, err := time.Parse("2006-01-02", k)
		if err == nil && t.Before(cutoff) {
			delete(g.state.Daily, k)
		}
	}
}

// TrimDaily is exported so the Clock & Timer Service can schedule it
// periodically without reaching into Gate internals.
func (g *Gate) TrimDaily(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trimDailyLocked(now)
}

func (g *Gate) latchEmergency(reason string, now time.Time) {
	if g.state.EmergencyStop {
		return
	}
	g.state.EmergencyStop = true
	g.state.EmergencyTime = now
	g.state.EmergencyReason = reason
	if g.metrics != nil {
		g.metrics.EmergencyStops.Inc()
	}
	if g.logger != nil {
		g.logger.Error("emergency stop latched",
			zap.String("reason", reason),
			zap.Float64("current_value", g.state.CurrentValue),
			zap.Float64("peak_value", g.state.PeakValue))
	}
}

// LatchEmergency force-latches the breaker for a caller-observed
// internal invariant breach (spec §7 InternalInvariantBreach).
func (g *Gate) LatchEmergency(reason string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latchEmergency(reason, now)
}

// ResetEmergency clears the latch. Requires an explicit operator
// identifier and is always logged (spec §4.B).
func (g *Gate) ResetEmergency(operatorID string) error {
	if operatorID == "" {
		return fmt.Errorf("reset_emergency requires an operator id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logger != nil {
		g.logger.Warn("emergency stop reset",
			zap.String("operator_id", operatorID),
			zap.String("previous_reason", g.state.EmergencyReason))
	}
	g.state.EmergencyStop = false
	g.state.EmergencyReason = ""
	g.state.EmergencyTime = time.Time{}
	return nil
}

// Diagnostics returns a read-only snapshot (spec §4.B diagnostics()).
func (g *Gate) Diagnostics(openPositions int) Diagnostics {
	g.mu.Lock()
	defer g.mu.Unlock()

	drawdown := 0.0
	if g.state.PeakValue > 0 {
		drawdown = (g.state.PeakValue - g.state.CurrentValue) / g.state.PeakValue
	}
	daily := g.state.Daily[dateKey(time.Now())]
	dailyPnL, dailyLossPct := 0.0, 0.0
	if daily != nil {
		dailyPnL = daily.PnL
		if g.state.StartValue > 0 && daily.PnL < 0 {
			dailyLossPct = -daily.PnL / g.state.StartValue
		}
	}
	return Diagnostics{
		CurrentValue:    g.state.CurrentValue,
		PeakValue:       g.state.PeakValue,
		Drawdown:        drawdown,
		DailyPnL:        dailyPnL,
		DailyLossPct:    dailyLossPct,
		OpenPositions:   openPositions,
		EmergencyStop:   g.state.EmergencyStop,
		EmergencyReason: g.state.EmergencyReason,
		EmergencyTime:   g.state.EmergencyTime,
		LastRejection:   g.lastRejection,
	}
}

// Snapshot is a convenience export for metrics (internal/obsmetrics).
func (g *Gate) Snapshot() domain.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	drawdown := 0.0
	if g.state.PeakValue > 0 {
		drawdown = (g.state.PeakValue - g.state.CurrentValue) / g.state.PeakValue
	}
	daily := g.state.Daily[dateKey(time.Now())]
	pnl, count := 0.0, 0
	if daily != nil {
		pnl, count = daily.PnL, daily.TradeCount
	}
	return domain.Snapshot{
		StartValue:      g.state.StartValue,
		CurrentValue:    g.state.CurrentValue,
		PeakValue:       g.state.PeakValue,
		Drawdown:        drawdown,
		EmergencyStop:   g.state.EmergencyStop,
		EmergencyReason: g.state.EmergencyReason,
		DailyPnL:        pnl,
		DailyTradeCount: count,
	}
}

// sortedDates is a small helper kept for diagnostics endpoints that
// want deterministic ordering over the daily map.
func (g *Gate) sortedDates() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	dates := make([]string, 0, len(g.state.Daily))
	for k := range g.state.Daily {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	return dates
}
