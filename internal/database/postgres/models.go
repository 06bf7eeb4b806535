package postgres

import (
	"time"
)

// FeeRecord is one archived fee payment
type FeeRecord struct {
	ID         int64     `db:"id"`
	Wallet     string    `db:"wallet"`
	Kind       string    `db:"kind"`
	RecordedAt time.Time `db:"recorded_at"`
	Balance    int64     `db:"balance"`
	Fee        int64     `db:"fee"`
	Income     int64     `db:"income"`
}

// Net is the income left after the fee, negative for a loss
func (r *FeeRecord) Net() int64 {
	return r.Income - r.Fee
}

// FeeTotals sums the fees of a period
type FeeTotals struct {
	Count  int64 `db:"count"`
	Fee    int64 `db:"fee"`
	Income int64 `db:"income"`
}

// Net is the income left after fees over the period
func (t FeeTotals) Net() int64 {
	return t.Income - t.Fee
}

// Submission statuses
const (
	StatusSent    = "sent"
	StatusDropped = "dropped"
)

// MintSubmission is one archived proof submission
type MintSubmission struct {
	ID         int64     `db:"id"`
	Wallet     string    `db:"wallet"`
	Seed       string    `db:"seed"`
	Difficulty int       `db:"difficulty"`
	TxHash     *string   `db:"tx_hash"`
	Status     string    `db:"status"`
	Fails      int       `db:"fails"`
	CreatedAt  time.Time `db:"created_at"`
}
