package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// idempotencyNamespace is a fixed namespace UUID so the same
// (scrip_code, side, signal_time_millis, signal_price) tuple always
// hashes to the same key across process restarts (spec §4.D "using a
// name-based UUID").
var idempotencyNamespace = uuid.MustParse("6f1b3c2a-8e4d-4a2f-9c1e-2d7b5a9f3c10")

// IdempotencyKey derives the entry-order idempotency key from the
// tuple spec §4.D names, via uuid.NewSHA1 (a name-based/v5-style UUID).
func IdempotencyKey(scripCode string, side Side, signalTimeMillis int64, signalPrice float64) string {
	name := fmt.Sprintf("%s|%s|%d|%.4f", scripCode, side, signalTimeMillis, signalPrice)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
