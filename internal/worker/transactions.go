package worker

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomint/internal/chain"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/queue"
	"github.com/bardlex/gomint/internal/seed"
	"github.com/bardlex/gomint/internal/wallet"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// mintConfirmMargin is added to the age of a seed when the reward speed of
// its proof is estimated; a mint lands a few dozen blocks after it is built.
const mintConfirmMargin = 40

// payoutThreshold is the MEL balance above which half is paid out.
const payoutThreshold chain.CoinValue = chain.MicroUnit

// transactor builds, guards, records and sends the worker's transactions.
type transactor struct {
	wallet *wallet.Facade
	chain  chain.Client
	econ   chain.Economics
	fees   seed.FeeRecorder
	logger *log.Logger
}

// rewardErgs is the ERG reward claimed by a proof of difficulty done on a
// seed created at coinHeight, quoted at header.
func (t *transactor) rewardErgs(header chain.Header, coinHeight chain.Height, difficulty uint) chain.CoinValue {
	age := uint64(1)
	if end := header.Height + mintConfirmMargin; end > coinHeight {
		age = uint64(end - coinHeight)
	}
	speed := (uint64(1) << difficulty) / age
	dosc := t.econ.Reward(speed*100, header.DoscSpeed, difficulty)
	return chain.CoinValue(t.econ.DoscToErg(header.Height, dosc))
}

// SubmitMint implements queue.Submitter.
func (t *transactor) SubmitMint(ctx context.Context, rec *queue.Record) (chainhash.Hash, error) {
	snap, err := t.chain.Snapshot(ctx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	ergs := t.rewardErgs(snap.Header(), rec.Coin.Height, rec.Difficulty)

	summary, err := t.wallet.Summary(ctx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	tx, err := t.wallet.Prepare(ctx, wallet.PrepareRequest{
		Kind:   wallet.TxDoscMint,
		Inputs: []chain.CoinID{rec.Seed.Coin},
		Outputs: []chain.CoinData{{
			Covhash: summary.Address,
			Value:   ergs,
			Denom:   chain.DenomErg,
		}},
		Data:      chain.MintData(rec.Difficulty, rec.Proof),
		NoBalance: []chain.Denom{chain.DenomErg},
	})
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, errors.ErrorTypeWallet, "prepare_mint",
			"failed to prepare mint transaction").WithContext("seed", rec.Seed.ID.String())
	}

	mels, err := chain.ErgToMel(ctx, snap, ergs)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if err := t.wallet.GuardFee("mint", tx.Fee, mels); err != nil {
		return chainhash.Hash{}, err
	}
	balance, err := t.wallet.Balance(ctx, chain.DenomMel)
	if err != nil {
		return chainhash.Hash{}, err
	}
	t.fees.Record(ledger.Mint, balance, tx.Fee, mels)

	hash, err := t.wallet.Send(ctx, tx)
	if err != nil {
		return chainhash.Hash{}, errors.Wrap(err, errors.ErrorTypeWallet, "send_mint",
			"failed to send mint transaction").WithContext("seed", rec.Seed.ID.String())
	}
	t.logger.Debug("mint transaction sent",
		"seed", rec.Seed.ID.String(),
		"tx", chain.HashHex(hash),
		"reward_erg", ergs.String(),
		"fee", tx.Fee.String(),
	)
	return hash, nil
}

// Wait implements queue.Waiter.
func (t *transactor) Wait(ctx context.Context, hash chainhash.Hash) (chain.Height, error) {
	return t.wallet.Wait(ctx, hash)
}

// convert swaps the whole ERG balance to MEL and waits for the swap. It
// returns the ERG converted, zero when the high-fee policy refuses the swap.
func (t *transactor) convert(ctx context.Context) (chain.CoinValue, error) {
	summary, err := t.wallet.Summary(ctx)
	if err != nil {
		return 0, err
	}
	ergs := summary.Balance(chain.DenomErg)
	if ergs == 0 {
		return 0, nil
	}

	tx, err := t.wallet.Prepare(ctx, wallet.PrepareRequest{
		Kind: wallet.TxSwap,
		Outputs: []chain.CoinData{{
			Covhash: summary.Address,
			Value:   ergs,
			Denom:   chain.DenomErg,
		}},
		Data: chain.MelAnd(chain.DenomErg).Bytes(),
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWallet, "prepare_swap", "failed to prepare ERG swap")
	}

	snap, err := t.chain.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	mels, err := chain.ErgToMel(ctx, snap, ergs)
	if err != nil {
		return 0, err
	}
	if err := t.wallet.GuardFee("convert", tx.Fee, mels); err != nil {
		// a refused swap leaves the ERG for a later iteration
		t.logger.WithError(err).Warn("skipping ERG conversion", "erg", ergs.String(), "mel", mels.String())
		return 0, nil
	}
	t.fees.Record(ledger.Convert, summary.Balance(chain.DenomMel), tx.Fee, mels)

	hash, err := t.wallet.Send(ctx, tx)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWallet, "send_swap", "failed to send ERG swap")
	}
	t.logger.Info("converting ERG to MEL", "erg", ergs.String(), "mel", mels.String(), "tx", chain.HashHex(hash))
	if _, err := t.wallet.Wait(ctx, hash); err != nil {
		return 0, err
	}
	return ergs, nil
}

// payout transfers half of the MEL balance to the payout address once it
// exceeds one MEL. It returns the amount sent.
func (t *transactor) payout(ctx context.Context, to chain.Address) (chain.CoinValue, error) {
	summary, err := t.wallet.Summary(ctx)
	if err != nil {
		return 0, err
	}
	mels := summary.TotalMicromel
	if mels <= payoutThreshold {
		return 0, nil
	}
	amount := mels / 2
	t.logger.Info("profits exceed 1 MEL, transferring half to the payout address",
		"balance", mels.String(),
		"amount", amount.String(),
		"payout", to,
	)
	if _, err := t.wallet.Transfer(ctx, to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

var (
	_ queue.Submitter = (*transactor)(nil)
	_ queue.Waiter    = (*transactor)(nil)
)
