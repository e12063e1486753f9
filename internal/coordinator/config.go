package coordinator

import "time"

// Config controls the Coordinator's ingress queue sizing and the
// SignalIn block-with-bounded-wait policy (spec §5 "Queue overflow
// policy: drop-newest for PriceTick ... block-with-bounded-wait for
// SignalIn"). Neither queue depth nor the bounded wait is part of
// spec §6's named configuration table, so defaults live here.
type Config struct {
	SignalQueueDepth    int
	PriceQueueDepth     int
	SignalEnqueueWait   time.Duration
	DefaultExchange     string
	DefaultExchangeType string
}

// DefaultConfig is a reasonable starting point for a single-process
// deployment trading NSE equities.
func DefaultConfig() Config {
	return Config{
		SignalQueueDepth:    256,
		PriceQueueDepth:     1024,
		SignalEnqueueWait:   2 * time.Second,
		DefaultExchange:     "NSE",
		DefaultExchangeType: "EQ",
	}
}
