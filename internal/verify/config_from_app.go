package verify

import (
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/config"
)

// FromAppConfig narrows the loaded fabric Config into the Order
// Verifier's own Config, the way position.FromAppConfig and
// risk.LimitsFromConfig narrow it for their packages. Fields spec §6
// never named as configurable (first-poll delay, poll backoff base,
// liveness interval, idempotency TTL) keep DefaultConfig's values.
func FromAppConfig(cfg *config.Config) Config {
	d := DefaultConfig()
	d.VerificationTimeout = time.Duration(cfg.Verification.TimeoutMS) * time.Millisecond
	d.RetryBase = time.Duration(cfg.Verification.RetryDelayMS) * time.Millisecond
	d.MaxRetries = cfg.Verification.MaxRetryAttempts
	return d
}
