// Package tradestore is the optional durable store for ActiveTrade
// state (spec §6 "optional durable store"), modeled after the
// teacher's internal/db/repositories (sqlx.DB, NamedExecContext for
// writes, GetContext/SelectContext for reads). Two collections back
// the crash-replay round-trip property (spec §8): active_trades holds
// every non-terminal trade, trade_results is an append-only log of
// terminal outcomes.
package tradestore

import (
	"context"
	"fmt"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Store wraps a *sqlx.DB. A nil *Store is valid and every method is a
// no-op against it, matching spec §6's "optional" framing — the
// Position Manager and Coordinator never need a nil check of their
// own before calling in.
type Store struct {
	db *sqlx.DB
}

// New wraps db. Passing a nil db yields a Store whose methods are all
// no-ops, so callers can wire persistence optionally without an extra
// branch at every call site.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// activeTradeRow mirrors the active_trades table (one row per
// non-terminal trade, keyed by trade_id).
type activeTradeRow struct {
	TradeID         string    `db:"trade_id"`
	ScripCode       string    `db:"scrip_code"`
	Side            string    `db:"side"`
	StrategyID      string    `db:"strategy_id"`
	Status          string    `db:"status"`
	SignalTime      time.Time `db:"signal_time"`
	SignalPrice     float64   `db:"signal_price"`
	StopLoss        float64   `db:"stop_loss"`
	Target1         float64   `db:"target1"`
	Target2         float64   `db:"target2"`
	EntryPrice      float64   `db:"entry_price"`
	EntryTime       *time.Time `db:"entry_time"`
	PositionSize    int64     `db:"position_size"`
	TrailingStop    float64   `db:"trailing_stop"`
	Target1Hit      bool      `db:"target1_hit"`
	EntryDelayed    bool      `db:"entry_delayed"`
	DelayPivot      float64   `db:"delay_pivot"`
	DelayReason     string    `db:"delay_reason"`
	MaxHoldDeadline time.Time `db:"max_hold_deadline"`
	EntryTimeoutAt  time.Time `db:"entry_timeout_at"`
	IdempotencyKey  string    `db:"idempotency_key"`
	UpdatedAt       time.Time `db:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS active_trades (
	trade_id          TEXT PRIMARY KEY,
	scrip_code        TEXT NOT NULL,
	side              TEXT NOT NULL,
	strategy_id       TEXT NOT NULL,
	status            TEXT NOT NULL,
	signal_time       TIMESTAMPTZ NOT NULL,
	signal_price      DOUBLE PRECISION NOT NULL,
	stop_loss         DOUBLE PRECISION NOT NULL,
	target1           DOUBLE PRECISION NOT NULL,
	target2           DOUBLE PRECISION NOT NULL,
	entry_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
	entry_time        TIMESTAMPTZ,
	position_size     BIGINT NOT NULL DEFAULT 0,
	trailing_stop     DOUBLE PRECISION NOT NULL DEFAULT 0,
	target1_hit       BOOLEAN NOT NULL DEFAULT false,
	entry_delayed     BOOLEAN NOT NULL DEFAULT false,
	delay_pivot       DOUBLE PRECISION NOT NULL DEFAULT 0,
	delay_reason      TEXT NOT NULL DEFAULT '',
	max_hold_deadline TIMESTAMPTZ NOT NULL,
	entry_timeout_at  TIMESTAMPTZ NOT NULL,
	idempotency_key   TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_results (
	id            BIGSERIAL PRIMARY KEY,
	trade_id      TEXT NOT NULL,
	scrip_code    TEXT NOT NULL,
	side          TEXT NOT NULL,
	status        TEXT NOT NULL,
	exit_reason   TEXT NOT NULL,
	entry_price   DOUBLE PRECISION NOT NULL,
	exit_price    DOUBLE PRECISION NOT NULL,
	position_size BIGINT NOT NULL,
	realized_pl   DOUBLE PRECISION NOT NULL,
	signal_time   TIMESTAMPTZ NOT NULL,
	entry_time    TIMESTAMPTZ,
	exit_time     TIMESTAMPTZ NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL
);
`

// Migrate creates both tables if they do not already exist. Plain
// CREATE TABLE IF NOT EXISTS rather than a migration framework, the
// same level of ceremony the teacher's own internal/db/migrations
// package uses for additive schema changes.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("tradestore: migrate: %w", err)
	}
	return nil
}

func toRow(t *domain.ActiveTrade) activeTradeRow {
	row := activeTradeRow{
		TradeID:         t.TradeID,
		ScripCode:       t.ScripCode,
		Side:            string(t.Side),
		StrategyID:      t.StrategyID,
		Status:          string(t.Status),
		SignalTime:      t.SignalTime,
		SignalPrice:     t.SignalPrice,
		StopLoss:        t.StopLoss,
		Target1:         t.Target1,
		Target2:         t.Target2,
		EntryPrice:      t.EntryPrice,
		PositionSize:    t.PositionSize,
		TrailingStop:    t.TrailingStop,
		Target1Hit:      t.Target1Hit,
		EntryDelayed:    t.EntryDelayed,
		DelayPivot:      t.DelayPivot,
		DelayReason:     string(t.DelayReason),
		MaxHoldDeadline: t.MaxHoldDeadline,
		EntryTimeoutAt:  t.EntryTimeoutAt,
		IdempotencyKey:  t.IdempotencyKey,
		UpdatedAt:       time.Now(),
	}
	if !t.EntryTime.IsZero() {
		et := t.EntryTime
		row.EntryTime = &et
	}
	return row
}

// Upsert writes trade's current state (spec SPEC_FULL.md §4.D
// persistence note: "every state transition additionally upserts the
// trade's row").
func (s *Store) Upsert(ctx context.Context, t *domain.ActiveTrade) error {
	if s == nil || s.db == nil {
		return nil
	}
	row := toRow(t)
	query := `
		INSERT INTO active_trades (
			trade_id, scrip_code, side, strategy_id, status, signal_time, signal_price,
			stop_loss, target1, target2, entry_price, entry_time, position_size,
			trailing_stop, target1_hit, entry_delayed, delay_pivot, delay_reason,
			max_hold_deadline, entry_timeout_at, idempotency_key, updated_at
		) VALUES (
			:trade_id, :scrip_code, :side, :strategy_id, :status, :signal_time, :signal_price,
			:stop_loss, :target1, :target2, :entry_price, :entry_time, :position_size,
			:trailing_stop, :target1_hit, :entry_delayed, :delay_pivot, :delay_reason,
			:max_hold_deadline, :entry_timeout_at, :idempotency_key, :updated_at
		)
		ON CONFLICT (trade_id) DO UPDATE SET
			status = EXCLUDED.status, entry_price = EXCLUDED.entry_price,
			entry_time = EXCLUDED.entry_time, position_size = EXCLUDED.position_size,
			trailing_stop = EXCLUDED.trailing_stop, target1_hit = EXCLUDED.target1_hit,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("tradestore: upsert %s: %w", t.TradeID, err)
	}
	return nil
}

// Remove deletes a trade's active_trades row once it reaches a
// terminal status (it has already been or is about to be appended to
// trade_results).
func (s *Store) Remove(ctx context.Context, tradeID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_trades WHERE trade_id = $1`, tradeID); err != nil {
		return fmt.Errorf("tradestore: remove %s: %w", tradeID, err)
	}
	return nil
}

// AppendResult records a terminal trade outcome (spec §4.D persistence
// note: "every terminal transition additionally appends to
// tradestore.TradeResults").
func (s *Store) AppendResult(ctx context.Context, t *domain.ActiveTrade) error {
	if s == nil || s.db == nil {
		return nil
	}
	query := `
		INSERT INTO trade_results (
			trade_id, scrip_code, side, status, exit_reason, entry_price, exit_price,
			position_size, realized_pl, signal_time, entry_time, exit_time, recorded_at
		) VALUES (
			:trade_id, :scrip_code, :side, :status, :exit_reason, :entry_price, :exit_price,
			:position_size, :realized_pl, :signal_time, :entry_time, :exit_time, :recorded_at
		)
	`
	params := map[string]interface{}{
		"trade_id": t.TradeID, "scrip_code": t.ScripCode, "side": string(t.Side),
		"status": string(t.Status), "exit_reason": string(t.ExitReason),
		"entry_price": t.EntryPrice, "exit_price": t.ExitPrice, "position_size": t.PositionSize,
		"realized_pl": t.RealizedPL, "signal_time": t.SignalTime,
		"entry_time": nullableTime(t.EntryTime), "exit_time": t.ExitTime, "recorded_at": time.Now(),
	}
	if _, err := s.db.NamedExecContext(ctx, query, params); err != nil {
		return fmt.Errorf("tradestore: append result %s: %w", t.TradeID, err)
	}
	return nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// LoadActiveTrades reads the full active_trades snapshot, for
// Coordinator.Restore's crash-replay (SPEC_FULL.md §4.G).
func (s *Store) LoadActiveTrades(ctx context.Context) ([]*domain.ActiveTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []activeTradeRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM active_trades`); err != nil {
		return nil, fmt.Errorf("tradestore: load active trades: %w", err)
	}
	trades := make([]*domain.ActiveTrade, 0, len(rows))
	for _, r := range rows {
		t := &domain.ActiveTrade{
			TradeID:         r.TradeID,
			ScripCode:       r.ScripCode,
			Side:            domain.Side(r.Side),
			StrategyID:      r.StrategyID,
			Status:          domain.TradeStatus(r.Status),
			SignalTime:      r.SignalTime,
			SignalPrice:     r.SignalPrice,
			StopLoss:        r.StopLoss,
			Target1:         r.Target1,
			Target2:         r.Target2,
			EntryPrice:      r.EntryPrice,
			PositionSize:    r.PositionSize,
			TrailingStop:    r.TrailingStop,
			Target1Hit:      r.Target1Hit,
			EntryDelayed:    r.EntryDelayed,
			DelayPivot:      r.DelayPivot,
			DelayReason:     domain.DelayReason(r.DelayReason),
			MaxHoldDeadline: r.MaxHoldDeadline,
			EntryTimeoutAt:  r.EntryTimeoutAt,
			IdempotencyKey:  r.IdempotencyKey,
		}
		if r.EntryTime != nil {
			t.EntryTime = *r.EntryTime
		}
		trades = append(trades, t)
	}
	return trades, nil
}
