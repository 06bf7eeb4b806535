package chain

import (
	"context"
	stderrors "errors"
)

// ErrCoinNotFound is returned when a coin is spent or was never created.
var ErrCoinNotFound = stderrors.New("coin not found")

// ErrPoolNotFound is returned when no pool exists for a key.
var ErrPoolNotFound = stderrors.New("pool not found")

// Snapshot is an immutable view of chain state at its header's height.
type Snapshot interface {
	Header() Header
	Coin(ctx context.Context, id CoinID) (CoinDataHeight, error)
	// Older returns the header at an earlier height.
	Older(ctx context.Context, height Height) (Header, error)
	Pool(ctx context.Context, key PoolKey) (PoolState, error)
}

// Client hands out snapshots of the latest chain state.
type Client interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ErgToMel quotes the MEL obtained by swapping ergs through the ERG pool.
func ErgToMel(ctx context.Context, snap Snapshot, ergs CoinValue) (CoinValue, error) {
	pool, err := snap.Pool(ctx, MelAnd(DenomErg))
	if err != nil {
		return 0, err
	}
	mels, _ := pool.SwapMany(0, uint64(ergs))
	return CoinValue(mels), nil
}
