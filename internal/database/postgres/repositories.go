package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FeeRepository handles fee archive operations
type FeeRepository struct {
	db *sql.DB
}

// NewFeeRepository creates a new fee repository
func NewFeeRepository(db *sql.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// CreateFee archives a fee record
func (r *FeeRepository) CreateFee(ctx context.Context, rec *FeeRecord) error {
	query := `
		INSERT INTO fee_records (wallet, kind, recorded_at, balance, fee, income)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		rec.Wallet, rec.Kind, rec.RecordedAt, rec.Balance, rec.Fee, rec.Income,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create fee record: %w", err)
	}
	return nil
}

// GetRecentFees retrieves the latest fee records of a wallet
func (r *FeeRepository) GetRecentFees(ctx context.Context, wallet string, limit int) ([]*FeeRecord, error) {
	query := `
		SELECT id, wallet, kind, recorded_at, balance, fee, income
		FROM fee_records
		WHERE wallet = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee records: %w", err)
	}
	defer rows.Close()

	var records []*FeeRecord
	for rows.Next() {
		rec := &FeeRecord{}
		if err := rows.Scan(&rec.ID, &rec.Wallet, &rec.Kind, &rec.RecordedAt,
			&rec.Balance, &rec.Fee, &rec.Income); err != nil {
			return nil, fmt.Errorf("failed to scan fee record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fee records: %w", err)
	}
	return records, nil
}

// GetTotals sums the fees and income of a wallet since a point in time
func (r *FeeRepository) GetTotals(ctx context.Context, wallet string, since time.Time) (FeeTotals, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(fee), 0), COALESCE(SUM(income), 0)
		FROM fee_records
		WHERE wallet = $1 AND kind <> 'seed_issue' AND recorded_at >= $2`

	var totals FeeTotals
	err := r.db.QueryRowContext(ctx, query, wallet, since).Scan(&totals.Count, &totals.Fee, &totals.Income)
	if err != nil {
		return FeeTotals{}, fmt.Errorf("failed to sum fee records: %w", err)
	}
	return totals, nil
}

// SubmissionRepository handles mint submission archive operations
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// CreateSubmission archives a settled submission
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, sub *MintSubmission) error {
	query := `
		INSERT INTO mint_submissions (wallet, seed, difficulty, tx_hash, status, fails, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		sub.Wallet, sub.Seed, sub.Difficulty, sub.TxHash, sub.Status, sub.Fails, sub.CreatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// CountByStatus counts a wallet's submissions per status
func (r *SubmissionRepository) CountByStatus(ctx context.Context, wallet string) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*)
		FROM mint_submissions
		WHERE wallet = $1
		GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan submission count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission counts: %w", err)
	}
	return counts, nil
}
