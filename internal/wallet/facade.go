package wallet

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// MinReserve is the MEL balance the mint wallet needs before it can pay
// seed and mint fees.
const MinReserve chain.CoinValue = chain.MicroUnit / 20

// Facade is the worker's view of the mint wallet.
type Facade struct {
	client        Client
	logger        *log.Logger
	refuseHighFee bool
}

// NewFacade wraps client. With refuseHighFee set, transactions whose fee is
// not covered by their income are refused instead of only logged.
func NewFacade(client Client, logger *log.Logger, refuseHighFee bool) *Facade {
	return &Facade{
		client:        client,
		logger:        logger.WithComponent("wallet").WithFields("wallet", client.Name()),
		refuseHighFee: refuseHighFee,
	}
}

// Client returns the wrapped wallet.
func (f *Facade) Client() Client {
	return f.client
}

// Summary returns the wallet summary.
func (f *Facade) Summary(ctx context.Context) (Summary, error) {
	return f.client.Summary(ctx)
}

// Address returns the wallet's address.
func (f *Facade) Address(ctx context.Context) (chain.Address, error) {
	s, err := f.client.Summary(ctx)
	if err != nil {
		return "", err
	}
	return s.Address, nil
}

// Balance returns the balance held in one denomination.
func (f *Facade) Balance(ctx context.Context, denom chain.Denom) (chain.CoinValue, error) {
	s, err := f.client.Summary(ctx)
	if err != nil {
		return 0, err
	}
	return s.Balance(denom), nil
}

// Unlock unlocks the wallet if it is locked, first without a password and
// then with the empty password.
func (f *Facade) Unlock(ctx context.Context) error {
	s, err := f.client.Summary(ctx)
	if err != nil {
		return err
	}
	if !s.Locked {
		return nil
	}
	if err := f.client.Unlock(ctx, nil); err == nil {
		return nil
	}
	empty := ""
	if err := f.client.Unlock(ctx, &empty); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "unlock", "wallet stays locked")
	}
	return nil
}

// Coins lists the wallet's unspent coins.
func (f *Facade) Coins(ctx context.Context) (map[chain.CoinID]chain.CoinData, error) {
	return f.client.Coins(ctx)
}

// Prepare builds and signs a transaction without sending it.
func (f *Facade) Prepare(ctx context.Context, req PrepareRequest) (*Transaction, error) {
	if err := f.Unlock(ctx); err != nil {
		return nil, err
	}
	return f.client.PrepareTx(ctx, req)
}

// Send broadcasts a prepared transaction.
func (f *Facade) Send(ctx context.Context, tx *Transaction) (chainhash.Hash, error) {
	return f.client.SendTx(ctx, tx)
}

// Wait blocks until the transaction confirms.
func (f *Facade) Wait(ctx context.Context, hash chainhash.Hash) (chain.Height, error) {
	return f.client.WaitTx(ctx, hash)
}

// GuardFee applies the high-fee policy to a transaction whose income, in
// MEL, is expected to be income.
func (f *Facade) GuardFee(kind string, fee, income chain.CoinValue) error {
	if fee < income {
		return nil
	}
	if f.refuseHighFee {
		return errors.New(errors.ErrorTypeValidation, kind, "fee is not covered by income").
			WithContext("fee", fee.String()).
			WithContext("income", income.String())
	}
	f.logger.Warn("fee is greater than or equal to income, check the difficulty or the network",
		"kind", kind,
		"fee", fee.String(),
		"income", income.String(),
	)
	return nil
}

// Transfer sends amount MEL to address and waits for confirmation.
func (f *Facade) Transfer(ctx context.Context, to chain.Address, amount chain.CoinValue) (chainhash.Hash, error) {
	tx, err := f.Prepare(ctx, PrepareRequest{
		Kind: TxNormal,
		Outputs: []chain.CoinData{{
			Covhash: to,
			Value:   amount,
			Denom:   chain.DenomMel,
		}},
	})
	if err != nil {
		return chainhash.Hash{}, err
	}
	hash, err := f.Send(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	f.logger.Info("transfer sent", "to", to, "amount", amount.String(), "tx", chain.HashHex(hash))
	if _, err := f.Wait(ctx, hash); err != nil {
		return hash, err
	}
	return hash, nil
}

// WaitForReserve blocks until the wallet holds at least min MEL, checking
// every poll interval.
func (f *Facade) WaitForReserve(ctx context.Context, min chain.CoinValue, poll time.Duration) error {
	for {
		s, err := f.client.Summary(ctx)
		if err != nil {
			return err
		}
		if s.Balance(chain.DenomMel) >= min {
			return nil
		}
		f.logger.Warn("mint wallet balance is below the reserve, send MEL to continue",
			"balance", s.Balance(chain.DenomMel).String(),
			"required", min.String(),
			"address", s.Address,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Open returns the named wallet, creating it if the daemon does not have it.
func Open(ctx context.Context, daemon Daemon, name string, testnet bool, logger *log.Logger) (Client, error) {
	client, found, err := daemon.Wallet(ctx, name)
	if err != nil {
		return nil, err
	}
	if found {
		return client, nil
	}

	logger.Info("creating mint wallet", "wallet", name, "testnet", testnet)
	if err := daemon.CreateWallet(ctx, name, testnet); err != nil {
		return nil, err
	}
	client, found, err = daemon.Wallet(ctx, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New(errors.ErrorTypeWallet, "open", "created wallet is missing").
			WithContext("wallet", name)
	}
	return client, nil
}
