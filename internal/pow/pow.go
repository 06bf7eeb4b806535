// Package pow defines the proof-of-work primitive used by the minter and a
// sequential hash-chain generator.
package pow

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Generator computes a proof that 2^difficulty sequential work was done on
// challenge. progress receives the completed fraction in [0, 1] and is called
// from the generating goroutine.
type Generator interface {
	Generate(challenge []byte, difficulty uint, progress func(float64)) []byte
}

// ProgressStride is the number of hashes between progress callbacks.
const ProgressStride = 1 << 10

// MaxDifficulty keeps 2^difficulty inside a float64 mantissa.
const MaxDifficulty = 52

// ProofSize is the length of a HashChain proof.
const ProofSize = 8 + blake2b.Size256

// HashChain iterates blake2b-256 keyed by the challenge 2^difficulty times.
// The proof is the difficulty followed by the final digest.
type HashChain struct{}

// Generate implements Generator.
func (HashChain) Generate(challenge []byte, difficulty uint, progress func(float64)) []byte {
	key := challenge
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		panic(err)
	}

	total := uint64(1) << difficulty
	digest := make([]byte, 0, blake2b.Size256)
	digest = append(digest, challenge...)
	for i := uint64(1); i <= total; i++ {
		h.Reset()
		h.Write(digest)
		digest = h.Sum(digest[:0])
		if progress != nil && i%ProgressStride == 0 {
			progress(float64(i) / float64(total))
		}
	}
	if progress != nil {
		progress(1)
	}

	proof := make([]byte, 8, 8+len(digest))
	binary.BigEndian.PutUint64(proof, uint64(difficulty))
	return append(proof, digest...)
}

// ProofDifficulty returns the difficulty a HashChain proof claims. It
// reports false when proof is not a HashChain proof.
func ProofDifficulty(proof []byte) (uint, bool) {
	if len(proof) != ProofSize {
		return 0, false
	}
	d := binary.BigEndian.Uint64(proof[:8])
	if d > MaxDifficulty {
		return 0, false
	}
	return uint(d), true
}

var _ Generator = HashChain{}
