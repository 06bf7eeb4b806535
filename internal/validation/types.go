package validation

import (
	"time"

	"github.com/bardlex/gomint/internal/chain"
)

// Candidate is a solved proof about to be spent in a mint transaction.
type Candidate struct {
	// Seed identifies the proof input; Coin is the output backing it.
	Seed       chain.CoinID
	Coin       chain.CoinID
	Data       chain.CoinDataHeight
	Difficulty uint
	Proof      []byte
	// SolvedAt is the tip height when the proof was finished.
	SolvedAt chain.Height
	Created  time.Time
}
