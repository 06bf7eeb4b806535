package pow

import (
	"bytes"
	"encoding/binary"
	"runtime"
	"testing"
)

func TestHashChainDeterministic(t *testing.T) {
	g := HashChain{}
	a := g.Generate([]byte("challenge"), 8, nil)
	b := g.Generate([]byte("challenge"), 8, nil)
	if !bytes.Equal(a, b) {
		t.Error("same challenge produced different proofs")
	}
	if c := g.Generate([]byte("other"), 8, nil); bytes.Equal(a, c) {
		t.Error("different challenges produced the same proof")
	}
	if d := binary.BigEndian.Uint64(a[:8]); d != 8 {
		t.Errorf("embedded difficulty = %d, want 8", d)
	}
	if len(a) != 8+32 {
		t.Errorf("proof length = %d, want 40", len(a))
	}
}

func TestHashChainProgress(t *testing.T) {
	var seen []float64
	HashChain{}.Generate(make([]byte, 64), 12, func(p float64) { seen = append(seen, p) })

	// 4096 hashes with a stride of 1024, plus the final report
	if len(seen) != 5 {
		t.Fatalf("progress called %d times, want 5", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("progress went backwards: %v", seen)
		}
	}
	if seen[len(seen)-1] != 1 {
		t.Errorf("final progress = %v, want 1", seen[len(seen)-1])
	}
}

func TestLowerThreadPriority(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		// the thread is discarded when the goroutine exits locked
		done <- LowerThreadPriority()
	}()
	if err := <-done; err != nil {
		t.Errorf("LowerThreadPriority() error = %v", err)
	}
}

func TestProofDifficulty(t *testing.T) {
	proof := HashChain{}.Generate([]byte("challenge"), 6, nil)
	if d, ok := ProofDifficulty(proof); !ok || d != 6 {
		t.Errorf("ProofDifficulty() = %d, %v, want 6, true", d, ok)
	}
	if _, ok := ProofDifficulty(proof[:ProofSize-1]); ok {
		t.Error("ProofDifficulty() accepted a truncated proof")
	}
	forged := bytes.Clone(proof)
	binary.BigEndian.PutUint64(forged, MaxDifficulty+1)
	if _, ok := ProofDifficulty(forged); ok {
		t.Error("ProofDifficulty() accepted an impossible difficulty")
	}
}
