package chain

import (
	"math"
	"math/big"
)

// BlocksPerDay is the number of blocks in one day.
const BlocksPerDay = 86400 / BlockInterval

// Economics supplies the mint reward formulas of the network.
type Economics interface {
	// Reward returns micro-DOSC earned by 2^difficulty hashes done at speed
	// (hashes per block) when the network's fastest speed is networkSpeed.
	Reward(speed, networkSpeed uint64, difficulty uint) uint64
	// DoscToErg converts micro-DOSC to micro-ERG at the given height.
	DoscToErg(height Height, dosc uint64) uint64
}

// Melmint is the default reward schedule. One DOSC is a day of work by the
// fastest processor; slower processors earn quadratically less per hash.
type Melmint struct {
	// ErgInflation is the per-block growth of ERG per DOSC.
	ErgInflation float64
}

// DefaultEconomics returns the reward schedule used on both networks.
func DefaultEconomics() Melmint {
	return Melmint{ErgInflation: 1.5e-9}
}

// Reward implements Economics.
func (m Melmint) Reward(speed, networkSpeed uint64, difficulty uint) uint64 {
	if networkSpeed == 0 {
		networkSpeed = 1
	}
	// work * speed * micro / (day * fastest^2)
	work := new(big.Int).Lsh(big.NewInt(1), difficulty)
	num := new(big.Int).Mul(work, new(big.Int).SetUint64(speed))
	num.Mul(num, big.NewInt(MicroUnit))

	f := new(big.Int).SetUint64(networkSpeed)
	den := new(big.Int).Mul(f, f)
	den.Mul(den, big.NewInt(BlocksPerDay))

	out := num.Quo(num, den)
	if !out.IsUint64() {
		return math.MaxUint64
	}
	return out.Uint64()
}

// DoscToErg implements Economics.
func (m Melmint) DoscToErg(height Height, dosc uint64) uint64 {
	factor := math.Pow(1+m.ErgInflation, float64(height))
	ergs := new(big.Float).Mul(new(big.Float).SetUint64(dosc), big.NewFloat(factor))
	out, _ := ergs.Uint64()
	return out
}
