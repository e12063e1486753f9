package verify

import "time"

// Config controls the Order Verification Loop's timing (spec §4.E).
// Only VerificationTimeout, RetryBase and MaxRetries come from the
// loaded configuration (see FromAppConfig); every other field keeps
// DefaultConfig's value, which is why the defaults live here rather
// than in internal/config.
type Config struct {
	FirstPollDelay    time.Duration
	VerificationTimeout time.Duration
	MaxRetries        int
	RetryBase         time.Duration
	PollBackoffBase   time.Duration
	MaxPollAttempts   int
	LivenessInterval  time.Duration
	ShutdownDrain     time.Duration
	IdempotencyTTL    time.Duration
}

// DefaultConfig matches spec §4.E's stated defaults.
func DefaultConfig() Config {
	return Config{
		FirstPollDelay:      5 * time.Second,
		VerificationTimeout: 30 * time.Second,
		MaxRetries:          3,
		RetryBase:           2 * time.Second,
		PollBackoffBase:     2 * time.Second,
		MaxPollAttempts:     10,
		LivenessInterval:    10 * time.Second,
		ShutdownDrain:       5 * time.Second,
		IdempotencyTTL:      24 * time.Hour,
	}
}
