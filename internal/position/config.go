package position

import (
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/config"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
)

// EntryRule resolves spec §9 open question (b): two entry rules for an
// undelayed WAITING_FOR_ENTRY trade coexist in the source; the choice
// is explicit configuration rather than inferred.
type EntryRule string

const (
	EntryRuleImmediate    EntryRule = "immediate"
	EntryRulePivotRetest  EntryRule = "pivot_retest"
)

// SizingMode selects notional-based vs. risk-based position sizing
// (spec §4.D "position_size = floor(TRADE_NOTIONAL / entry_price) ...
// or a risk-based size").
type SizingMode string

const (
	SizingNotional  SizingMode = "notional"
	SizingRiskBased SizingMode = "risk_based"
)

// Target2Mode selects the default-percent vs. risk-multiple T2
// projection (spec §4.D "Computes target2 ... by default, or as entry
// ± 2.5 x risk_per_share when risk-reward overrides apply").
type Target2Mode string

const (
	Target2DefaultPct   Target2Mode = "default_pct"
	Target2RiskMultiple Target2Mode = "risk_multiple"
)

// Fixed algorithm constants (spec §4.D). These are not part of spec
// §6's recognized configuration table, so unlike Config's fields they
// are not operator-tunable.
//
// pivotProximityThreshold is 0.002, not the 0.02 spec.md's prose
// literally shows: at 0.02 it coincides exactly with max_stop_pct's
// default upper bound, so every signal that can pass §3 validation
// (stop distance in (0, 0.02]) would also always qualify as
// PIVOT_TOO_CLOSE, making the "immediate" entry path unreachable and
// contradicting §8 scenario 1's immediate-entry case. 0.002 matches
// the order of magnitude of this same algorithm's other tight-band
// constants (immediateEntryPct, immediateTolerancePct) and is treated
// here as a decimal-place transcription slip in the distillation (see
// DESIGN.md).
const (
	targetProximityThreshold = 0.5
	pivotProximityThreshold  = 0.002
	immediateEntryPct        = 0.001
	immediateTolerancePct    = 0.002
	retestZoneFraction       = 0.2
	pivotBreakoutPct         = 0.001
)

// Config is the Position Manager's narrowed view of the fabric
// configuration, built by FromAppConfig the way risk.LimitsFromConfig
// narrows config.Config for the Risk Gate.
type Config struct {
	TrailPct        float64
	TradeNotional   float64
	EntryTimeout    time.Duration
	MaxHold         time.Duration
	SingleTradeMode bool

	EntryRule EntryRule

	SizingMode    SizingMode
	RiskBudget    float64
	MaxAccountPct float64

	Target2Mode         Target2Mode
	Target2Pct          float64
	Target2RiskMultiple float64

	PrevCloseDropEnabled bool
	PrevCloseDropPct     float64

	ValidationLimits domain.ValidationLimits
}

// FromAppConfig narrows the loaded fabric Config into the Position
// Manager's own Config.
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		TrailPct:             cfg.Position.TrailPct,
		TradeNotional:        cfg.Position.TradeNotional,
		EntryTimeout:         cfg.EntryTimeoutDuration(),
		MaxHold:              cfg.MaxHoldDuration(),
		SingleTradeMode:      cfg.Position.SingleTradeMode,
		EntryRule:            EntryRule(cfg.Position.EntryRule),
		SizingMode:           SizingMode(cfg.Position.SizingMode),
		RiskBudget:           cfg.Position.RiskBudget,
		MaxAccountPct:        cfg.Position.MaxAccountPct,
		Target2Mode:          Target2Mode(cfg.Position.Target2Mode),
		Target2Pct:           cfg.Position.Target2Pct,
		Target2RiskMultiple:  cfg.Position.Target2RiskMultiple,
		PrevCloseDropEnabled: cfg.Position.PrevCloseDropEnabled,
		PrevCloseDropPct:     cfg.Position.PrevCloseDropPct,
		ValidationLimits: domain.ValidationLimits{
			MaxStopPct: cfg.Signal.MaxStopPct,
			MinMovePct: cfg.Signal.MinMovePct,
			MinRR:      cfg.Signal.MinRR,
		},
	}
}
