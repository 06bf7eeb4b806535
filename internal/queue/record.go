package queue

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/mint"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/internal/validation"
)

// Record is one proof waiting for submission together with its retry state.
type Record struct {
	Seed       seed.Seed
	Coin       chain.CoinDataHeight
	Difficulty uint
	Proof      []byte
	// SolvedAt is the tip height when the batch finished.
	SolvedAt chain.Height

	Fails   int
	Created time.Time
	Sent    bool
	Failed  bool
	Errors  []string
	// TxHash is the broadcast mint transaction, set once Sent.
	TxHash chainhash.Hash
}

// NewRecord wraps a fresh proof.
func NewRecord(p mint.Proof, solvedAt chain.Height, now time.Time) *Record {
	return &Record{
		Seed:       p.Seed,
		Coin:       p.Coin,
		Difficulty: p.Difficulty,
		Proof:      p.Proof,
		SolvedAt:   solvedAt,
		Created:    now,
	}
}

// Key is the storage key of the record.
func (r *Record) Key() []byte {
	return r.Seed.ID.Bytes()
}

// Candidate is the record as seen by a Validator.
func (r *Record) Candidate() *validation.Candidate {
	return &validation.Candidate{
		Seed:       r.Seed.ID,
		Coin:       r.Seed.Coin,
		Data:       r.Coin,
		Difficulty: r.Difficulty,
		Proof:      r.Proof,
		SolvedAt:   r.SolvedAt,
		Created:    r.Created,
	}
}

// Field numbers of the stored form. Never reuse a number.
const (
	fieldSeedID     protowire.Number = 1
	fieldSeedCoin   protowire.Number = 2
	fieldSeedHeight protowire.Number = 3
	fieldCovhash    protowire.Number = 4
	fieldValue      protowire.Number = 5
	fieldDenom      protowire.Number = 6
	fieldAdditional protowire.Number = 7
	fieldCoinHeight protowire.Number = 8
	fieldDifficulty protowire.Number = 9
	fieldProof      protowire.Number = 10
	fieldSolvedAt   protowire.Number = 11
	fieldFails      protowire.Number = 12
	fieldCreated    protowire.Number = 13
	fieldSent       protowire.Number = 14
	fieldFailed     protowire.Number = 15
	fieldErrors     protowire.Number = 16
	fieldTxHash     protowire.Number = 17
)

// MarshalBinary encodes the record in protobuf wire format.
func (r *Record) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendBytes(b, fieldSeedID, r.Seed.ID.Bytes())
	b = appendBytes(b, fieldSeedCoin, r.Seed.Coin.Bytes())
	b = appendVarint(b, fieldSeedHeight, uint64(r.Seed.Height))
	b = appendBytes(b, fieldCovhash, []byte(r.Coin.CoinData.Covhash))
	b = appendVarint(b, fieldValue, uint64(r.Coin.CoinData.Value))
	b = appendBytes(b, fieldDenom, []byte(r.Coin.CoinData.Denom))
	b = appendBytes(b, fieldAdditional, r.Coin.CoinData.AdditionalData)
	b = appendVarint(b, fieldCoinHeight, uint64(r.Coin.Height))
	b = appendVarint(b, fieldDifficulty, uint64(r.Difficulty))
	b = appendBytes(b, fieldProof, r.Proof)
	b = appendVarint(b, fieldSolvedAt, uint64(r.SolvedAt))
	b = appendVarint(b, fieldFails, uint64(r.Fails))
	b = appendVarint(b, fieldCreated, uint64(r.Created.UnixNano()))
	b = appendVarint(b, fieldSent, protowire.EncodeBool(r.Sent))
	b = appendVarint(b, fieldFailed, protowire.EncodeBool(r.Failed))
	for _, e := range r.Errors {
		b = appendBytes(b, fieldErrors, []byte(e))
	}
	if r.TxHash != (chainhash.Hash{}) {
		b = appendBytes(b, fieldTxHash, r.TxHash[:])
	}
	return b, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// UnmarshalBinary decodes a record written by MarshalBinary. Unknown fields
// are skipped.
func (r *Record) UnmarshalBinary(b []byte) error {
	*r = Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("queue record: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("queue record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			r.setVarint(num, v)
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("queue record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := r.setBytes(num, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("queue record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (r *Record) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSeedHeight:
		r.Seed.Height = chain.Height(v)
	case fieldValue:
		r.Coin.CoinData.Value = chain.CoinValue(v)
	case fieldCoinHeight:
		r.Coin.Height = chain.Height(v)
	case fieldDifficulty:
		r.Difficulty = uint(v)
	case fieldSolvedAt:
		r.SolvedAt = chain.Height(v)
	case fieldFails:
		r.Fails = int(v)
	case fieldCreated:
		r.Created = time.Unix(0, int64(v))
	case fieldSent:
		r.Sent = protowire.DecodeBool(v)
	case fieldFailed:
		r.Failed = protowire.DecodeBool(v)
	}
}

func (r *Record) setBytes(num protowire.Number, v []byte) error {
	var err error
	switch num {
	case fieldSeedID:
		r.Seed.ID, err = chain.CoinIDFromBytes(v)
	case fieldSeedCoin:
		r.Seed.Coin, err = chain.CoinIDFromBytes(v)
	case fieldCovhash:
		r.Coin.CoinData.Covhash = chain.Address(v)
	case fieldDenom:
		r.Coin.CoinData.Denom = chain.Denom(v)
	case fieldAdditional:
		r.Coin.CoinData.AdditionalData = append([]byte(nil), v...)
	case fieldProof:
		r.Proof = append([]byte(nil), v...)
	case fieldErrors:
		r.Errors = append(r.Errors, string(v))
	case fieldTxHash:
		var h *chainhash.Hash
		if h, err = chainhash.NewHash(v); err == nil {
			r.TxHash = *h
		}
	}
	if err != nil {
		return fmt.Errorf("queue record field %d: %w", num, err)
	}
	return nil
}
