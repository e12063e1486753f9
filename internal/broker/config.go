package broker

import "time"

// Config controls the resilience wrapper's circuit breakers and call
// throttling (SPEC_FULL.md §4.E resilience note). Neither is part of
// spec.md §6's named configuration table since the Broker Port itself
// is out of core scope; these are operability defaults for the one
// concrete resilience layer SPEC_FULL.md adds around it.
type Config struct {
	// PlacementRatePerSec / PlacementBurst throttle order placement
	// calls; BookPollRatePerSec / BookPollBurst throttle book polling,
	// which the Order Verifier's liveness ticker can otherwise hammer.
	PlacementRatePerSec float64
	PlacementBurst      int
	BookPollRatePerSec  float64
	BookPollBurst       int

	// BreakerMaxRequests/Interval/Timeout/FailureRatio/MinRequests
	// parametrize both endpoint-class breakers identically; a real
	// deployment could split them if placement and polling warrant
	// different trip thresholds.
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerFailureRatio float64
	BreakerMinRequests  uint32
}

// DefaultConfig is a reasonable starting point for a single-broker
// deployment: a handful of placements per second, polling allowed to
// run faster since it's read-only.
func DefaultConfig() Config {
	return Config{
		PlacementRatePerSec: 5,
		PlacementBurst:      5,
		BookPollRatePerSec:  10,
		BookPollBurst:       10,
		BreakerMaxRequests:  5,
		BreakerInterval:     30 * time.Second,
		BreakerTimeout:      60 * time.Second,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  10,
	}
}
