package wallet

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/ledger"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

// SelectInputs picks spendable UTXOs of one token until amount is
// covered. Authority outputs, locked outputs and outputs already carrying
// a selected-as-input mark are skipped; every accepted UTXO is marked
// selected. The marks are advisory and expire on their own, so a build
// that is abandoned without ReleaseInputs heals after the TTL.
func (w *Wallet) SelectInputs(ctx context.Context, token string, amount txcodec.Amount) ([]*storage.UTXO, txcodec.Amount, error) {
	if amount == 0 {
		return nil, 0, errors.New("selection amount must be positive")
	}
	bestHeight, err := w.store.BestHeight(ctx)
	if err != nil {
		return nil, 0, err
	}
	now := w.now()
	rewardLock := w.rewardLock()

	var picked []*storage.UTXO
	var total txcodec.Amount
	err = w.store.ForEachUTXO(ctx, func(u *storage.UTXO) (bool, error) {
		if u.Token != token || u.IsAuthority() {
			return false, nil
		}
		if ledger.UtxoLocked(u, now, bestHeight, rewardLock) {
			return false, nil
		}
		selected, err := w.store.IsUtxoSelected(ctx, u.ID())
		if err != nil {
			return false, err
		}
		if selected {
			return false, nil
		}
		if err := w.store.SetUtxoSelected(ctx, u.ID(), true); err != nil {
			return false, err
		}
		picked = append(picked, u)
		total += u.Value
		return total >= amount, nil
	})
	if err != nil {
		w.releaseUtxos(ctx, picked)
		return nil, 0, err
	}
	if total < amount {
		w.releaseUtxos(ctx, picked)
		return nil, 0, errors.WithStack(&InsufficientFundsError{
			Token:     token,
			Requested: amount,
			Available: total,
			Decimals:  w.decimalPlaces(),
		})
	}
	return picked, total, nil
}

// releaseUtxos clears selected-as-input marks, best effort.
func (w *Wallet) releaseUtxos(ctx context.Context, utxos []*storage.UTXO) {
	for _, u := range utxos {
		if err := w.store.SetUtxoSelected(ctx, u.ID(), false); err != nil {
			w.log.Warn("error releasing utxo mark", zap.String("utxo", u.ID()), zap.Error(err))
		}
	}
}
