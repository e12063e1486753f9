package portfoliostore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// A nil *Store must behave as a pure no-op, mirroring tradestore's
// contract so the Risk Gate's periodic snapshot call never needs a
// conditional around it.
func TestNilStoreIsANoop(t *testing.T) {
	var s *Store
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.RecordSnapshot(ctx, DailySnapshot{Date: "2026-01-05"}))
	require.NoError(t, s.RecordEmergencyEvent(ctx, "LATCH", "MAX_DRAWDOWN_BREACHED", ""))

	snaps, err := s.RecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, snaps)
}
