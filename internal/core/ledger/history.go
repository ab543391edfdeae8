package ledger

import (
	"context"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProcessHistory clears all derived metadata and replays the stored
// transaction history in insertion order, then advances wallet data and
// backfills configs for newly-seen tokens. Replaying an identical history
// yields identical state.
func ProcessHistory(ctx context.Context, st storage.Store, opts Options) error {
	log := opts.logger()
	if err := st.ClearMetadata(ctx); err != nil {
		return err
	}
	bestHeight, err := st.BestHeight(ctx)
	if err != nil {
		return err
	}

	// Recompute the spent set from live transactions so stale SpentBy
	// marks (a voided spend, say) do not survive the replay.
	spent := make(map[string]string)
	err = st.ForEachTx(ctx, func(tx *storage.HistoryTx) error {
		if tx.IsVoided {
			return nil
		}
		for _, in := range tx.Inputs {
			spent[storage.UtxoID(in.TxID, in.Index)] = tx.TxID
		}
		return nil
	})
	if err != nil {
		return err
	}

	total := newReport()
	var count int
	err = st.ForEachTx(ctx, func(tx *storage.HistoryTx) error {
		batch := newMetaBatch(st)
		report := newReport()
		if err := applyTx(ctx, st, batch, tx, opts, bestHeight, spent, report); err != nil {
			return errors.Wrapf(err, "error applying tx %s", tx.TxID)
		}
		if err := batch.flush(ctx); err != nil {
			return errors.Wrapf(err, "error flushing tx %s", tx.TxID)
		}
		total.merge(report)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug("history replayed",
		zap.Int("transactions", count),
		zap.Int64("max_address_index", total.MaxAddressIndex),
		zap.Int("tokens", len(total.Tokens)))

	if err := AdvanceWalletData(ctx, st, total.MaxAddressIndex); err != nil {
		return err
	}
	return backfillTokenConfigs(ctx, st, total.Tokens, opts)
}

// ProcessSingleTx stores and applies one transaction incrementally. It is
// idempotent: re-delivering an identical transaction is a no-op. The end
// state converges with a full ProcessHistory replay.
func ProcessSingleTx(ctx context.Context, st storage.Store, tx *storage.HistoryTx, opts Options) error {
	_, err := st.GetTx(ctx, tx.TxID)
	if err != nil && !storage.IsNotFound(err) {
		return err
	}
	known := err == nil

	changed, err := st.AddTx(ctx, tx)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if known || tx.IsVoided {
		// A changed record of an already-applied transaction (updated
		// metadata, or a voided delivery) cannot be applied on top of the
		// incremental state; only a replay reconciles it.
		return ProcessHistory(ctx, st, opts)
	}

	report, err := ProcessNewTx(ctx, st, tx, opts)
	if err != nil {
		return err
	}
	if err := markSpentOutputs(ctx, st, tx); err != nil {
		return err
	}
	if err := AdvanceWalletData(ctx, st, report.MaxAddressIndex); err != nil {
		return err
	}
	return backfillTokenConfigs(ctx, st, report.Tokens, opts)
}

// ProcessMetadataChanged handles a metadata update for an already-known
// transaction (voided flag flips, height changes on reorg). The stored
// record is upserted and the whole history replayed.
func ProcessMetadataChanged(ctx context.Context, st storage.Store, tx *storage.HistoryTx, opts Options) error {
	changed, err := st.AddTx(ctx, tx)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return ProcessHistory(ctx, st, opts)
}

// ProcessUtxoUnlock re-evaluates a previously-locked output. Still locked
// is a no-op; otherwise its contribution moves from the locked bucket to
// the unlocked bucket on both the address and the token, and the entry
// leaves the locked index.
func ProcessUtxoUnlock(ctx context.Context, st storage.Store, u *storage.UTXO, opts Options) error {
	bestHeight, err := st.BestHeight(ctx)
	if err != nil {
		return err
	}
	if isLocked(u.Timelock, u.Height, opts.now(), bestHeight, opts.RewardLock) {
		return nil
	}

	batch := newMetaBatch(st)
	addrBal, err := batch.addressBalance(ctx, u.Address, u.Token)
	if err != nil {
		return err
	}
	tokBal, err := batch.tokenBalance(ctx, u.Token)
	if err != nil {
		return err
	}
	for _, b := range []*storage.TokenBalance{addrBal, tokBal} {
		if u.IsAuthority() {
			if u.Authorities&txcodec.AuthorityMint != 0 && b.MintLocked > 0 {
				b.MintLocked--
				b.MintUnlocked++
			}
			if u.Authorities&txcodec.AuthorityMelt != 0 && b.MeltLocked > 0 {
				b.MeltLocked--
				b.MeltUnlocked++
			}
			continue
		}
		if b.Locked >= u.Value {
			b.Locked -= u.Value
		} else {
			b.Locked = 0
		}
		b.Unlocked += u.Value
	}
	if err := batch.flush(ctx); err != nil {
		return err
	}
	return st.UnlockUTXO(ctx, u.TxID, u.Index)
}

// ProcessLockedUtxos runs an unlock pass over the whole locked index.
func ProcessLockedUtxos(ctx context.Context, st storage.Store, opts Options) error {
	var pending []*storage.UTXO
	err := st.ForEachLockedUTXO(ctx, func(u *storage.UTXO) error {
		pending = append(pending, u)
		return nil
	})
	if err != nil {
		return err
	}
	for _, u := range pending {
		if err := ProcessUtxoUnlock(ctx, st, u, opts); err != nil {
			return err
		}
	}
	return nil
}

// markSpentOutputs records the spend back-reference on the funding
// transactions so a later full replay sees the same spent set.
func markSpentOutputs(ctx context.Context, st storage.Store, tx *storage.HistoryTx) error {
	for _, in := range tx.Inputs {
		ref, err := st.GetTx(ctx, in.TxID)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if int(in.Index) >= len(ref.Outputs) {
			return errors.Errorf("tx %s input references output %d of %s which has %d outputs",
				tx.TxID, in.Index, in.TxID, len(ref.Outputs))
		}
		out := ref.Outputs[in.Index]
		if out.SpentBy == tx.TxID {
			continue
		}
		out.SpentBy = tx.TxID
		if _, err := st.AddTx(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// AdvanceWalletData moves the used/current pointers forward when a higher
// derivation index was touched. Pointers never move backwards.
func AdvanceWalletData(ctx context.Context, st storage.Store, maxIndex int64) error {
	if maxIndex < 0 {
		return nil
	}
	data, err := st.GetWalletData(ctx)
	if err != nil {
		return err
	}
	if maxIndex <= data.LastUsedAddressIndex {
		return nil
	}
	data.LastUsedAddressIndex = maxIndex
	if data.CurrentAddressIndex <= maxIndex {
		data.CurrentAddressIndex = maxIndex + 1
	}
	return st.SaveWalletData(ctx, data)
}

// backfillTokenConfigs resolves and saves configs for tokens seen for the
// first time. Without a provider the backfill is skipped.
func backfillTokenConfigs(ctx context.Context, st storage.Store, tokens map[string]struct{}, opts Options) error {
	if opts.Tokens == nil {
		return nil
	}
	log := opts.logger()
	for uid := range tokens {
		if uid == txcodec.NativeTokenID {
			continue
		}
		_, err := st.GetTokenConfig(ctx, uid)
		if err == nil {
			continue
		}
		if !storage.IsNotFound(err) {
			return err
		}
		cfg, err := opts.Tokens.GetTokenInfo(ctx, uid)
		if err != nil {
			return errors.Wrapf(err, "error fetching token info for %s", uid)
		}
		cfg.UID = uid
		if err := st.SaveTokenConfig(ctx, cfg); err != nil {
			return err
		}
		log.Debug("token config saved", zap.String("uid", uid), zap.String("symbol", cfg.Symbol))
	}
	return nil
}
