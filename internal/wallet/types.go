// Package wallet wraps the wallet daemon that holds the mint wallet's keys:
// it defines the daemon contract, a REST adapter for it, and the Facade the
// worker uses to unlock, query balances and build, send and confirm
// transactions.
package wallet

import (
	"context"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
)

// TxKind is the kind of a transaction.
type TxKind string

const (
	TxNormal   TxKind = "normal"
	TxDoscMint TxKind = "doscmint"
	TxSwap     TxKind = "swap"
)

// Summary describes the state of a wallet.
type Summary struct {
	Locked          bool                             `json:"locked"`
	Network         chain.NetID                      `json:"network"`
	Address         chain.Address                    `json:"address"`
	TotalMicromel   chain.CoinValue                  `json:"total_micromel"`
	DetailedBalance map[chain.Denom]chain.CoinValue `json:"detailed_balance"`
}

// Balance returns the balance held in denomination d.
func (s Summary) Balance(d chain.Denom) chain.CoinValue {
	return s.DetailedBalance[d]
}

// PrepareRequest asks the daemon to build and sign a transaction, funding it
// and paying the fee from the wallet's coins.
type PrepareRequest struct {
	Kind      TxKind           `json:"kind"`
	Inputs    []chain.CoinID   `json:"inputs"`
	Outputs   []chain.CoinData `json:"outputs"`
	Covenants [][]byte         `json:"covenants"`
	Data      []byte           `json:"data"`
	// NoBalance lists denominations allowed to appear out of nothing.
	NoBalance []chain.Denom `json:"nobalance"`
}

// Transaction is a signed, fee-quoted transaction as returned by the daemon.
// Raw is the daemon's own encoding, sent back verbatim.
type Transaction struct {
	Kind    TxKind           `json:"kind"`
	Inputs  []chain.CoinID   `json:"inputs"`
	Outputs []chain.CoinData `json:"outputs"`
	Fee     chain.CoinValue  `json:"fee"`
	Raw     json.RawMessage  `json:"-"`
}

// Client is one wallet held by the daemon.
type Client interface {
	Name() string
	Summary(ctx context.Context) (Summary, error)
	// Unlock unlocks the wallet; a nil password means "no password".
	Unlock(ctx context.Context, password *string) error
	Coins(ctx context.Context) (map[chain.CoinID]chain.CoinData, error)
	PrepareTx(ctx context.Context, req PrepareRequest) (*Transaction, error)
	SendTx(ctx context.Context, tx *Transaction) (chainhash.Hash, error)
	// WaitTx blocks until the transaction is confirmed and returns its height.
	WaitTx(ctx context.Context, hash chainhash.Hash) (chain.Height, error)
}

// Daemon manages wallets.
type Daemon interface {
	// Wallet returns the named wallet, or found=false if it does not exist.
	Wallet(ctx context.Context, name string) (c Client, found bool, err error)
	CreateWallet(ctx context.Context, name string, testnet bool) error
}
