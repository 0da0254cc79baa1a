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

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, market_id, detected_at, profit_margin, total_stake,
	expected_profit, legs, exposure, confidence, time_sensitivity, status`

// Insert stores a newly detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	legsJSON, err := json.Marshal(opp.Legs)
	if err != nil {
		return fmt.Errorf("postgres: marshal legs: %w", err)
	}

	const query = `
		INSERT INTO arb_opportunities (
			id, market_id, detected_at, profit_margin, total_stake,
			expected_profit, legs, exposure, confidence, time_sensitivity, status
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.MarketID, opp.DetectedAt, opp.ProfitMargin, opp.TotalStake,
		opp.ExpectedProfit, legsJSON,
		opp.Risk.Exposure, opp.Risk.Confidence, opp.Risk.TimeSensitivity,
		string(opp.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of an existing opportunity.
func (s *OpportunityStore) UpdateStatus(ctx context.Context, id string, status domain.OpportunityStatus) error {
	const query = `
		UPDATE arb_opportunities
		SET status = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update opportunity %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update opportunity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single opportunity by its identifier.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM arb_opportunities WHERE id = $1`

	opp, err := scanOpportunity(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbitrageOpportunity{}, fmt.Errorf("postgres: opportunity %s: %w", id, domain.ErrNotFound)
		}
		return domain.ArbitrageOpportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// ListRecent returns the most recently detected opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + oppSelectCols + `
		FROM arb_opportunities ORDER BY detected_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

// ListBefore returns all opportunities detected before the cutoff, oldest
// first. Used by the archiver to page out cold history.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppSelectCols + `
		FROM arb_opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectOpportunities(rows)
}

func collectOpportunities(rows pgx.Rows) ([]domain.ArbitrageOpportunity, error) {
	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return opps, nil
}

func scanOpportunity(row pgx.Row) (domain.ArbitrageOpportunity, error) {
	var (
		opp      domain.ArbitrageOpportunity
		legsJSON []byte
		status   string
	)
	err := row.Scan(
		&opp.ID, &opp.MarketID, &opp.DetectedAt, &opp.ProfitMargin, &opp.TotalStake,
		&opp.ExpectedProfit, &legsJSON,
		&opp.Risk.Exposure, &opp.Risk.Confidence, &opp.Risk.TimeSensitivity,
		&status,
	)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}
	if err := json.Unmarshal(legsJSON, &opp.Legs); err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("unmarshal legs: %w", err)
	}
	opp.Status = domain.OpportunityStatus(status)
	return opp, nil
}
