package tradestore

import (
	"context"
	"testing"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/stretchr/testify/require"
)

// A nil *Store must behave as a pure no-op so callers never need a
// conditional before reaching into persistence (spec §6 "optional").
func TestNilStoreIsANoop(t *testing.T) {
	var s *Store
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Upsert(ctx, &domain.ActiveTrade{TradeID: "T1"}))
	require.NoError(t, s.Remove(ctx, "T1"))
	require.NoError(t, s.AppendResult(ctx, &domain.ActiveTrade{TradeID: "T1"}))

	trades, err := s.LoadActiveTrades(ctx)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestToRowPreservesZeroEntryTimeAsNil(t *testing.T) {
	trade := &domain.ActiveTrade{
		TradeID:    "T2",
		ScripCode:  "RELIANCE",
		Status:     domain.StatusWaitingForEntry,
		SignalTime: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}
	row := toRow(trade)
	require.Nil(t, row.EntryTime)
	require.Equal(t, "T2", row.TradeID)
}

func TestToRowCarriesEntryTimeOnceFilled(t *testing.T) {
	entryTime := time.Date(2026, 1, 5, 10, 5, 0, 0, time.UTC)
	trade := &domain.ActiveTrade{TradeID: "T3", EntryTime: entryTime}
	row := toRow(trade)
	require.NotNil(t, row.EntryTime)
	require.Equal(t, entryTime, *row.EntryTime)
}
