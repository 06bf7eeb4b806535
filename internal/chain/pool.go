package chain

import (
	"fmt"
	"math/big"
)

// PoolKey names a swap pool by its two denominations.
type PoolKey struct {
	Left  Denom `json:"left"`
	Right Denom `json:"right"`
}

// MelAnd returns the key of the pool pairing MEL with d.
func MelAnd(d Denom) PoolKey {
	return PoolKey{Left: DenomMel, Right: d}
}

// String renders the key as "left/right".
func (k PoolKey) String() string {
	return fmt.Sprintf("%s/%s", k.Left, k.Right)
}

// Bytes is the key as carried in swap transaction data.
func (k PoolKey) Bytes() []byte {
	return []byte(k.String())
}

// swap fee in parts per thousand
const poolFeeMillis = 5

// PoolState is the reserve of a constant-product pool.
type PoolState struct {
	Lefts  uint64 `json:"lefts"`
	Rights uint64 `json:"rights"`
}

// SwapMany quotes a swap: paying lefts yields rightsOut and paying rights
// yields leftsOut. The receiver is updated as if the swap had executed.
func (p *PoolState) SwapMany(lefts, rights uint64) (leftsOut, rightsOut uint64) {
	if p.Lefts == 0 || p.Rights == 0 {
		return 0, 0
	}
	k := new(big.Int).Mul(new(big.Int).SetUint64(p.Lefts), new(big.Int).SetUint64(p.Rights))

	newLefts := new(big.Int).SetUint64(p.Lefts + lefts)
	newRights := new(big.Int).SetUint64(p.Rights + rights)

	if lefts > 0 {
		target := ceilDiv(k, newLefts)
		if out := new(big.Int).Sub(newRights, target); out.Sign() > 0 {
			rightsOut = withFee(out)
		}
	}
	if rights > 0 {
		target := ceilDiv(k, newRights)
		if out := new(big.Int).Sub(newLefts, target); out.Sign() > 0 {
			leftsOut = withFee(out)
		}
	}

	p.Lefts = p.Lefts + lefts - leftsOut
	p.Rights = p.Rights + rights - rightsOut
	return leftsOut, rightsOut
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func withFee(out *big.Int) uint64 {
	v := new(big.Int).Mul(out, big.NewInt(1000-poolFeeMillis))
	v.Quo(v, big.NewInt(1000))
	return v.Uint64()
}
