// Package validation checks solved proofs before they are queued or
// recovered, so a malformed record never costs a mint transaction fee.
package validation

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
)

// ProofValidator handles validation of solved proofs
type ProofValidator struct {
	minDifficulty uint
	maxDifficulty uint
	maxTimeSkew   time.Duration
	claimed       func(proof []byte) (uint, bool)
	now           func() time.Time
}

// NewProofValidator creates a validator accepting difficulties in
// [minDiff, maxDiff] and creation times at most maxTimeSkew ahead.
func NewProofValidator(minDiff, maxDiff uint, maxTimeSkew time.Duration) *ProofValidator {
	return &ProofValidator{
		minDifficulty: minDiff,
		maxDifficulty: maxDiff,
		maxTimeSkew:   maxTimeSkew,
		now:           time.Now,
	}
}

// WithClaimedDifficulty makes the validator compare the difficulty a proof
// encodes, as read by fn, with the difficulty it is submitted at.
func (v *ProofValidator) WithClaimedDifficulty(fn func(proof []byte) (uint, bool)) *ProofValidator {
	v.claimed = fn
	return v
}

// Validate performs every check on c and returns the first failure.
func (v *ProofValidator) Validate(c *Candidate) error {
	if err := v.validateBasicFields(c); err != nil {
		return fmt.Errorf("basic validation failed: %w", err)
	}

	if err := v.validateSeed(c); err != nil {
		return fmt.Errorf("seed validation failed: %w", err)
	}

	if err := v.validateTime(c); err != nil {
		return fmt.Errorf("time validation failed: %w", err)
	}

	if err := v.validateDifficulty(c); err != nil {
		return fmt.Errorf("difficulty validation failed: %w", err)
	}

	if err := v.validateProof(c); err != nil {
		return fmt.Errorf("proof validation failed: %w", err)
	}

	return nil
}

func (v *ProofValidator) validateBasicFields(c *Candidate) error {
	if c.Seed.TxHash == (chainhash.Hash{}) {
		return fmt.Errorf("seed id is required")
	}
	if c.Coin.TxHash == (chainhash.Hash{}) {
		return fmt.Errorf("seed coin is required")
	}
	if len(c.Proof) == 0 {
		return fmt.Errorf("proof is required")
	}
	if c.Created.IsZero() {
		return fmt.Errorf("creation time is required")
	}
	return nil
}

// validateSeed checks that the seed and the coin backing it agree. Split
// seeds differ from their coin only in the index.
func (v *ProofValidator) validateSeed(c *Candidate) error {
	if c.Seed.TxHash != c.Coin.TxHash {
		return fmt.Errorf("seed %s is not backed by coin %s", c.Seed, c.Coin)
	}
	if want := chain.CustomDenom(c.Coin.TxHash); c.Data.CoinData.Denom != want {
		return fmt.Errorf("seed coin denomination %q, want %q", c.Data.CoinData.Denom, want)
	}
	if c.Data.CoinData.Value == 0 {
		return fmt.Errorf("seed coin is empty")
	}
	return nil
}

func (v *ProofValidator) validateTime(c *Candidate) error {
	if c.Created.After(v.now().Add(v.maxTimeSkew)) {
		return fmt.Errorf("proof created in the future: %s", c.Created.Format(time.RFC3339))
	}
	if c.SolvedAt < c.Data.Height {
		return fmt.Errorf("solved at height %d before the seed confirmed at %d", c.SolvedAt, c.Data.Height)
	}
	return nil
}

func (v *ProofValidator) validateDifficulty(c *Candidate) error {
	if c.Difficulty < v.minDifficulty {
		return fmt.Errorf("difficulty too low: %d < %d", c.Difficulty, v.minDifficulty)
	}

	if c.Difficulty > v.maxDifficulty {
		return fmt.Errorf("difficulty too high: %d > %d", c.Difficulty, v.maxDifficulty)
	}

	return nil
}

func (v *ProofValidator) validateProof(c *Candidate) error {
	if v.claimed == nil {
		return nil
	}
	d, ok := v.claimed(c.Proof)
	if !ok {
		return fmt.Errorf("malformed proof of %d bytes", len(c.Proof))
	}
	if d != c.Difficulty {
		return fmt.Errorf("proof solved at difficulty %d, submitted at %d", d, c.Difficulty)
	}
	return nil
}
