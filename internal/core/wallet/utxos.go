package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"

	"github.com/darwayne/utxo-ledger/internal/core/ledger"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

// UtxoFilter narrows a GetUtxos query. Token defaults to the native
// token; zero amount bounds are ignored; MaxUtxos of zero means no cap.
type UtxoFilter struct {
	Token             string
	MaxUtxos          int
	AmountBiggerThan  txcodec.Amount
	AmountSmallerThan txcodec.Amount
	// OnlyAvailable drops locked and already-selected outputs from the
	// listing.
	OnlyAvailable bool
}

// UtxoInfo is one listed output.
type UtxoInfo struct {
	TxID    string         `json:"tx_id"`
	Index   uint8          `json:"index"`
	Address string         `json:"address"`
	Amount  txcodec.Amount `json:"amount"`
	Locked  bool           `json:"locked"`
}

// UtxoDetails is the filtered listing plus availability totals.
type UtxoDetails struct {
	TotalAmountAvailable txcodec.Amount `json:"total_amount_available"`
	TotalUtxosAvailable  int            `json:"total_utxos_available"`
	TotalAmountLocked    txcodec.Amount `json:"total_amount_locked"`
	TotalUtxosLocked     int            `json:"total_utxos_locked"`
	Utxos                []*UtxoInfo    `json:"utxos"`
}

// GetUtxos lists the wallet's monetary outputs for one token. Locked
// outputs count toward the locked totals; outputs carrying a
// selected-as-input mark count as locked too, since a concurrent build
// claimed them.
func (w *Wallet) GetUtxos(ctx context.Context, filter UtxoFilter) (*UtxoDetails, error) {
	token := filter.Token
	if token == "" {
		token = txcodec.NativeTokenID
	}
	bestHeight, err := w.store.BestHeight(ctx)
	if err != nil {
		return nil, err
	}
	now := w.now()
	rewardLock := w.rewardLock()

	details := &UtxoDetails{}
	err = w.store.ForEachUTXO(ctx, func(u *storage.UTXO) (bool, error) {
		if u.Token != token || u.IsAuthority() {
			return false, nil
		}
		if filter.AmountBiggerThan > 0 && u.Value <= filter.AmountBiggerThan {
			return false, nil
		}
		if filter.AmountSmallerThan > 0 && u.Value >= filter.AmountSmallerThan {
			return false, nil
		}
		locked := ledger.UtxoLocked(u, now, bestHeight, rewardLock)
		if !locked {
			selected, err := w.store.IsUtxoSelected(ctx, u.ID())
			if err != nil {
				return false, err
			}
			locked = selected
		}
		if locked {
			details.TotalAmountLocked += u.Value
			details.TotalUtxosLocked++
			if filter.OnlyAvailable {
				return false, nil
			}
		} else {
			details.TotalAmountAvailable += u.Value
			details.TotalUtxosAvailable++
		}
		if filter.MaxUtxos > 0 && len(details.Utxos) >= filter.MaxUtxos {
			return false, nil
		}
		details.Utxos = append(details.Utxos, &UtxoInfo{
			TxID:    u.TxID,
			Index:   u.Index,
			Address: u.Address,
			Amount:  u.Value,
			Locked:  locked,
		})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// ConsolidateResult summarizes a consolidation send.
type ConsolidateResult struct {
	TxID        string         `json:"tx_id"`
	TotalAmount txcodec.Amount `json:"total_amount"`
	NumUtxos    int            `json:"num_utxos"`
}

// ConsolidateUtxos spends every output of one token, timelocked ones
// included, into a single output at destAddr, going through the usual
// build, sign, mine and broadcast path. Outputs claimed by a concurrent
// build are left alone.
func (w *Wallet) ConsolidateUtxos(ctx context.Context, destAddr, token string) (*ConsolidateResult, error) {
	if token == "" {
		token = txcodec.NativeTokenID
	}
	if _, err := txscript.DecodeAddress(destAddr); err != nil {
		return nil, err
	}
	listing, err := w.GetUtxos(ctx, UtxoFilter{Token: token})
	if err != nil {
		return nil, err
	}
	var utxos []*UtxoInfo
	for _, u := range listing.Utxos {
		selected, err := w.store.IsUtxoSelected(ctx, storage.UtxoID(u.TxID, u.Index))
		if err != nil {
			return nil, err
		}
		if selected {
			continue
		}
		utxos = append(utxos, u)
	}
	if len(utxos) == 0 {
		return nil, errors.Errorf("no utxos to consolidate for token %s", token)
	}

	params, err := w.Params()
	if err != nil {
		return nil, err
	}
	if params.MaxInputs > 0 && len(utxos) > params.MaxInputs {
		utxos = utxos[:params.MaxInputs]
	}

	tx := &txcodec.Transaction{Version: txcodec.TxVersion}
	var tokenData uint8
	if token != txcodec.NativeTokenID {
		uid, err := chainhash.NewHashFromStr(token)
		if err != nil {
			return nil, errors.Wrapf(err, "bad token uid %s", token)
		}
		tx.Tokens = append(tx.Tokens, *uid)
		tokenData = 1
	}

	built := &BuiltTx{Tx: tx}
	var total txcodec.Amount
	for _, u := range utxos {
		if err := w.store.SetUtxoSelected(ctx, storage.UtxoID(u.TxID, u.Index), true); err != nil {
			w.ReleaseInputs(ctx, built)
			return nil, err
		}
		built.inputUtxos = append(built.inputUtxos, &storage.UTXO{TxID: u.TxID, Index: u.Index})
		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			w.ReleaseInputs(ctx, built)
			return nil, errors.Wrapf(err, "bad utxo txid %s", u.TxID)
		}
		tx.Inputs = append(tx.Inputs, &txcodec.Input{TxID: *txid, Index: u.Index})
		built.inputAddrs = append(built.inputAddrs, u.Address)
		total += u.Amount
	}
	script, err := txscript.PayToAddress(destAddr, 0)
	if err != nil {
		w.ReleaseInputs(ctx, built)
		return nil, err
	}
	tx.Outputs = []*txcodec.Output{{Value: total, TokenData: tokenData, Script: script}}

	if err := w.SignTransaction(ctx, built); err != nil {
		w.ReleaseInputs(ctx, built)
		return nil, err
	}
	send := w.NewSend(built)
	if err := send.Run(ctx); err != nil {
		return nil, err
	}
	return &ConsolidateResult{
		TxID:        send.TxID(),
		TotalAmount: total,
		NumUtxos:    len(built.inputUtxos),
	}, nil
}
