package mock

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/bardlex/gomint/internal/pow"
)

// PoW is an instant proof generator. Its proofs are a digest of the
// challenge and difficulty, so equal inputs give equal proofs.
type PoW struct {
	mu    sync.Mutex
	calls []uint

	// OnGenerate, if set, runs at the start of every call.
	OnGenerate func(difficulty uint)
}

// Generate implements pow.Generator.
func (p *PoW) Generate(challenge []byte, difficulty uint, progress func(float64)) []byte {
	p.mu.Lock()
	p.calls = append(p.calls, difficulty)
	hook := p.OnGenerate
	p.mu.Unlock()
	if hook != nil {
		hook(difficulty)
	}

	if progress != nil {
		progress(0.5)
		progress(1)
	}

	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(difficulty))
	sum := sha256.Sum256(append(append([]byte(nil), challenge...), d[:]...))
	return sum[:]
}

// Calls returns the difficulty of every Generate call so far.
func (p *PoW) Calls() []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint(nil), p.calls...)
}

var _ pow.Generator = (*PoW)(nil)
