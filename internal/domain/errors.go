package domain

import "errors"

// Error taxonomy (spec §7). This is a closed set: every business
// failure surfaced by the core maps to exactly one of these sentinels,
// wrapped with %w so callers can errors.Is against them while still
// reading a human-readable message.
var (
	ErrValidationFailure    = errors.New("validation_failure")
	ErrRiskRejection        = errors.New("risk_rejection")
	ErrSuperseded           = errors.New("superseded")
	ErrBrokerTransient      = errors.New("broker_transient")
	ErrBrokerPermanent      = errors.New("broker_permanent")
	ErrVerificationTimeout  = errors.New("verification_timeout")
	ErrEmergencyLatched     = errors.New("emergency_latched")
	ErrInternalInvariant    = errors.New("internal_invariant_breach")
	ErrAlreadyActive        = errors.New("already_active")
)

// Temporary is implemented by errors that the Order Verifier's
// exponential-backoff retry should treat as BrokerTransient rather
// than fatal.
type Temporary interface {
	Temporary() bool
}

// TransientError wraps an underlying I/O failure as BrokerTransient.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "broker_transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Temporary() bool { return true }

// IsTemporary reports whether err should be retried by the verifier.
func IsTemporary(err error) bool {
	var t Temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
