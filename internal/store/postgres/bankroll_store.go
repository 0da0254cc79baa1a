package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// BankrollStore implements domain.BankrollStore using PostgreSQL. The ledger
// state lives in a single bankroll_state row; the trade history is an
// append-only trades table.
type BankrollStore struct {
	pool *pgxpool.Pool
}

// NewBankrollStore creates a new BankrollStore backed by the given pool.
func NewBankrollStore(pool *pgxpool.Pool) *BankrollStore {
	return &BankrollStore{pool: pool}
}

// Save upserts the current bankroll snapshot and appends any trades not yet
// persisted. Trade rows already present are left untouched.
func (s *BankrollStore) Save(ctx context.Context, state domain.BankrollState) error {
	perfJSON, err := json.Marshal(state.Performance)
	if err != nil {
		return fmt.Errorf("postgres: marshal performance: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bankroll save: %w", err)
	}

	const upsert = `
		INSERT INTO bankroll_state (id, bankroll, performance, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET bankroll = EXCLUDED.bankroll,
		    performance = EXCLUDED.performance,
		    updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, state.Bankroll, perfJSON, state.UpdatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres: upsert bankroll state: %w", err)
	}

	const insertTrade = `
		INSERT INTO trades (id, ts, bet_size, outcome, profit, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	for _, t := range state.Trades {
		metricsJSON, err := json.Marshal(t.Metrics)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: marshal trade %s metrics: %w", t.ID, err)
		}
		if _, err := tx.Exec(ctx, insertTrade,
			t.ID, t.Timestamp, t.BetSize, string(t.Outcome), t.Profit, metricsJSON,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bankroll save: %w", err)
	}
	return nil
}

// Load reads the full ledger state. Returns domain.ErrNotFound when no state
// has ever been saved.
func (s *BankrollStore) Load(ctx context.Context) (domain.BankrollState, error) {
	var (
		state    domain.BankrollState
		perfJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT bankroll, performance, updated_at FROM bankroll_state WHERE id = 1`,
	).Scan(&state.Bankroll, &perfJSON, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BankrollState{}, fmt.Errorf("postgres: bankroll state: %w", domain.ErrNotFound)
		}
		return domain.BankrollState{}, fmt.Errorf("postgres: load bankroll state: %w", err)
	}
	if err := json.Unmarshal(perfJSON, &state.Performance); err != nil {
		return domain.BankrollState{}, fmt.Errorf("postgres: unmarshal performance: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, bet_size, outcome, profit, metrics FROM trades ORDER BY ts ASC`,
	)
	if err != nil {
		return domain.BankrollState{}, fmt.Errorf("postgres: load trades: %w", err)
	}
	defer rows.Close()

	state.Trades, err = collectTrades(rows)
	if err != nil {
		return domain.BankrollState{}, err
	}
	return state, nil
}

// ListTradesBefore returns settled trades older than the cutoff, oldest first.
func (s *BankrollStore) ListTradesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, bet_size, outcome, profit, metrics FROM trades WHERE ts < $1 ORDER BY ts ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t           domain.TradeRecord
			outcome     string
			metricsJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.BetSize, &outcome, &t.Profit, &metricsJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Outcome = domain.TradeOutcome(outcome)
		if err := json.Unmarshal(metricsJSON, &t.Metrics); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal trade %s metrics: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return trades, nil
}
