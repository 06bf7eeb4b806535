// Package mock provides in-memory stand-ins for the wallet daemon, the chain
// node and the proof-of-work primitive, sharing one simulated ledger of coins.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/wallet"
)

// Owner is the address of the simulated mint wallet.
const Owner chain.Address = "mint-wallet"

// Network simulates a chain with one wallet on it. Every sent transaction is
// confirmed in its own block.
type Network struct {
	mu sync.Mutex

	height    chain.Height
	doscSpeed uint64
	pools     map[chain.PoolKey]chain.PoolState
	coins     map[chain.CoinID]chain.CoinDataHeight
	balances  map[chain.Denom]chain.CoinValue
	confirmed map[chainhash.Hash]chain.Height
	redeemed  map[chain.CoinID]chain.CoinValue
	txCount   uint64

	locked     bool
	password   *string
	walletName string
	created    bool

	// Fee is charged in MEL for every transaction.
	Fee chain.CoinValue

	// Injected failures. Each is consulted on every call.
	SummaryErr  func() error
	PrepareErr  func(req wallet.PrepareRequest) error
	SendErr     func(tx *wallet.Transaction) error
	SnapshotErr func() error
	CoinErr     func(id chain.CoinID) error

	Prepared []wallet.PrepareRequest
	Sent     []wallet.Transaction
	Unlocks  []*string
}

// NewNetwork creates a network at height 1000 whose wallet holds mel MEL
// micro-units and an ERG/MEL pool at parity.
func NewNetwork(mel chain.CoinValue) *Network {
	return &Network{
		height:    1000,
		doscSpeed: 30_000,
		pools: map[chain.PoolKey]chain.PoolState{
			chain.MelAnd(chain.DenomErg): {Lefts: 1_000_000_000, Rights: 1_000_000_000},
		},
		coins:      map[chain.CoinID]chain.CoinDataHeight{},
		balances:   map[chain.Denom]chain.CoinValue{chain.DenomMel: mel},
		confirmed:  map[chainhash.Hash]chain.Height{},
		redeemed:   map[chain.CoinID]chain.CoinValue{},
		walletName: "mint",
		created:    true,
		Fee:        1000,
	}
}

// Height returns the current tip height.
func (n *Network) Height() chain.Height {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Advance mines blocks empty blocks.
func (n *Network) Advance(blocks chain.Height) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.height += blocks
}

// SetDoscSpeed sets the network's fastest speed per block.
func (n *Network) SetDoscSpeed(speed uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.doscSpeed = speed
}

// Lock locks the wallet; only the given password (nil for none) unlocks it.
func (n *Network) Lock(password *string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locked = true
	n.password = password
}

// Balance returns the wallet balance in one denomination.
func (n *Network) Balance(d chain.Denom) chain.CoinValue {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.balances[d]
}

// Credit adds value to the wallet balance.
func (n *Network) Credit(d chain.Denom, v chain.CoinValue) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[d] += v
}

// AddCoin places an unspent coin owned by the wallet at height h.
func (n *Network) AddCoin(id chain.CoinID, data chain.CoinData, h chain.Height) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.coins[id] = chain.CoinDataHeight{CoinData: data, Height: h}
}

// Spend removes a coin, as if spent elsewhere.
func (n *Network) Spend(id chain.CoinID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.coins, id)
}

// Unspent reports whether id is unspent.
func (n *Network) Unspent(id chain.CoinID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.coins[id]
	return ok
}

// HeaderHash is the simulated hash of the block at h.
func HeaderHash(h chain.Height) chainhash.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	return sha256.Sum256(buf[:])
}

func (n *Network) nextTxHash() chainhash.Hash {
	n.txCount++
	var buf [16]byte
	copy(buf[:], "tx")
	binary.BigEndian.PutUint64(buf[8:], n.txCount)
	return sha256.Sum256(buf[:])
}

// ---- wallet.Daemon ----

// Wallet implements wallet.Daemon.
func (n *Network) Wallet(_ context.Context, name string) (wallet.Client, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.created || name != n.walletName {
		return nil, false, nil
	}
	return &Wallet{net: n}, true, nil
}

// CreateWallet implements wallet.Daemon.
func (n *Network) CreateWallet(_ context.Context, name string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.walletName = name
	n.created = true
	return nil
}

// RemoveWallet forgets the wallet so that Open has to create it.
func (n *Network) RemoveWallet() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = false
}

// Client returns the wallet as a wallet.Client.
func (n *Network) Client() *Wallet {
	return &Wallet{net: n}
}

// Wallet is the simulated mint wallet.
type Wallet struct {
	net *Network
}

// Name implements wallet.Client.
func (w *Wallet) Name() string { return w.net.walletName }

// Summary implements wallet.Client.
func (w *Wallet) Summary(context.Context) (wallet.Summary, error) {
	n := w.net
	if n.SummaryErr != nil {
		if err := n.SummaryErr(); err != nil {
			return wallet.Summary{}, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	balances := make(map[chain.Denom]chain.CoinValue, len(n.balances))
	for d, v := range n.balances {
		balances[d] = v
	}
	return wallet.Summary{
		Locked:          n.locked,
		Network:         chain.Testnet,
		Address:         Owner,
		TotalMicromel:   n.balances[chain.DenomMel],
		DetailedBalance: balances,
	}, nil
}

// Unlock implements wallet.Client.
func (w *Wallet) Unlock(_ context.Context, password *string) error {
	n := w.net
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Unlocks = append(n.Unlocks, password)
	match := (password == nil && n.password == nil) ||
		(password != nil && n.password != nil && *password == *n.password)
	if !match {
		return errors.New("wrong password")
	}
	n.locked = false
	return nil
}

// Coins implements wallet.Client.
func (w *Wallet) Coins(context.Context) (map[chain.CoinID]chain.CoinData, error) {
	n := w.net
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[chain.CoinID]chain.CoinData, len(n.coins))
	for id, cdh := range n.coins {
		out[id] = cdh.CoinData
	}
	return out, nil
}

// PrepareTx implements wallet.Client.
func (w *Wallet) PrepareTx(_ context.Context, req wallet.PrepareRequest) (*wallet.Transaction, error) {
	n := w.net
	if n.PrepareErr != nil {
		if err := n.PrepareErr(req); err != nil {
			return nil, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.locked {
		return nil, errors.New("wallet is locked")
	}
	for _, in := range req.Inputs {
		if _, ok := n.coins[in]; !ok {
			return nil, fmt.Errorf("input %s is spent", in)
		}
	}
	n.Prepared = append(n.Prepared, req)
	return &wallet.Transaction{
		Kind:    req.Kind,
		Inputs:  append([]chain.CoinID(nil), req.Inputs...),
		Outputs: append([]chain.CoinData(nil), req.Outputs...),
		Fee:     n.Fee,
		Raw:     []byte(`{}`),
	}, nil
}

// SendTx implements wallet.Client. The transaction confirms in a new block.
func (w *Wallet) SendTx(_ context.Context, tx *wallet.Transaction) (chainhash.Hash, error) {
	n := w.net
	if n.SendErr != nil {
		if err := n.SendErr(tx); err != nil {
			return chainhash.Hash{}, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, in := range tx.Inputs {
		if _, ok := n.coins[in]; !ok {
			return chainhash.Hash{}, fmt.Errorf("input %s is spent", in)
		}
	}
	if n.balances[chain.DenomMel] < tx.Fee {
		return chainhash.Hash{}, errors.New("insufficient MEL for fee")
	}

	hash := n.nextTxHash()
	n.height++
	for _, in := range tx.Inputs {
		n.spendInput(tx.Kind, in)
	}
	n.balances[chain.DenomMel] -= tx.Fee

	for i, out := range tx.Outputs {
		n.applyOutput(tx.Kind, hash, uint8(i), out)
	}
	n.confirmed[hash] = n.height
	n.Sent = append(n.Sent, *tx)
	return hash, nil
}

// spendInput removes a spent coin. A bulk seed coin backs one mint per unit
// of value and only disappears once every unit has been redeemed.
func (n *Network) spendInput(kind wallet.TxKind, id chain.CoinID) {
	cdh := n.coins[id]
	if kind == wallet.TxDoscMint && cdh.CoinData.Value > 1 {
		n.redeemed[id]++
		if n.redeemed[id] < cdh.CoinData.Value {
			return
		}
		delete(n.redeemed, id)
	}
	delete(n.coins, id)
}

func (n *Network) applyOutput(kind wallet.TxKind, hash chainhash.Hash, idx uint8, out chain.CoinData) {
	switch {
	case kind == wallet.TxSwap && out.Denom == chain.DenomErg:
		pool := n.pools[chain.MelAnd(chain.DenomErg)]
		mels, _ := pool.SwapMany(0, uint64(out.Value))
		n.pools[chain.MelAnd(chain.DenomErg)] = pool
		n.balances[chain.DenomErg] -= min(out.Value, n.balances[chain.DenomErg])
		n.balances[chain.DenomMel] += chain.CoinValue(mels)
	case out.Covhash != Owner:
		if out.Denom == chain.DenomMel {
			n.balances[chain.DenomMel] -= min(out.Value, n.balances[chain.DenomMel])
		}
	case out.Denom == chain.DenomNewCoin || out.Denom.IsCustom():
		data := out
		if data.Denom == chain.DenomNewCoin {
			data.Denom = chain.CustomDenom(hash)
		}
		n.coins[chain.CoinID{TxHash: hash, Index: idx}] = chain.CoinDataHeight{CoinData: data, Height: n.height}
	default:
		n.balances[out.Denom] += out.Value
	}
}

// WaitTx implements wallet.Client.
func (w *Wallet) WaitTx(ctx context.Context, hash chainhash.Hash) (chain.Height, error) {
	n := w.net
	n.mu.Lock()
	h, ok := n.confirmed[hash]
	n.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown transaction %s", chain.HashHex(hash))
	}
	return h, ctx.Err()
}

// ---- chain.Client ----

// Snapshot implements chain.Client.
func (n *Network) Snapshot(context.Context) (chain.Snapshot, error) {
	if n.SnapshotErr != nil {
		if err := n.SnapshotErr(); err != nil {
			return nil, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return &snapshot{net: n, header: chain.Header{
		Height:    n.height,
		Hash:      HeaderHash(n.height),
		DoscSpeed: n.doscSpeed,
	}}, nil
}

type snapshot struct {
	net    *Network
	header chain.Header
}

func (s *snapshot) Header() chain.Header { return s.header }

func (s *snapshot) Coin(_ context.Context, id chain.CoinID) (chain.CoinDataHeight, error) {
	if s.net.CoinErr != nil {
		if err := s.net.CoinErr(id); err != nil {
			return chain.CoinDataHeight{}, err
		}
	}
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	cdh, ok := s.net.coins[id]
	if !ok || cdh.Height > s.header.Height {
		return chain.CoinDataHeight{}, chain.ErrCoinNotFound
	}
	return cdh, nil
}

func (s *snapshot) Older(_ context.Context, h chain.Height) (chain.Header, error) {
	if h > s.header.Height {
		return chain.Header{}, fmt.Errorf("height %d above snapshot %d", h, s.header.Height)
	}
	return chain.Header{Height: h, Hash: HeaderHash(h), DoscSpeed: s.header.DoscSpeed}, nil
}

func (s *snapshot) Pool(_ context.Context, key chain.PoolKey) (chain.PoolState, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	p, ok := s.net.pools[key]
	if !ok {
		return chain.PoolState{}, chain.ErrPoolNotFound
	}
	return p, nil
}

var (
	_ wallet.Daemon = (*Network)(nil)
	_ wallet.Client = (*Wallet)(nil)
	_ chain.Client  = (*Network)(nil)
)
