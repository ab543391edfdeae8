// Package ledger folds transaction history into per-address and per-token
// wallet state: balances, authority counters and the unspent/locked UTXO
// indexes. Applying a transaction is idempotent, and incremental
// application converges to the same state as a full history replay.
package ledger

import (
	"context"
	"time"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"go.uber.org/zap"
)

// TokenInfoProvider fetches the registered name/symbol of a token uid. The
// full node client implements it.
type TokenInfoProvider interface {
	GetTokenInfo(ctx context.Context, uid string) (*storage.TokenConfig, error)
}

// Options parameterize lock evaluation and token backfill. The zero value
// is usable: Now defaults to the wall clock and no token backfill happens.
type Options struct {
	// RewardLock is the confirmation depth a block reward needs before its
	// outputs unlock.
	RewardLock uint32
	// Now overrides the timestamp used for timelock evaluation.
	Now uint32
	// Tokens, when set, resolves configs for newly-seen tokens during a
	// history replay.
	Tokens TokenInfoProvider
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

func (o Options) now() uint32 {
	if o.Now != 0 {
		return o.Now
	}
	return uint32(time.Now().Unix())
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Report summarizes one transaction's wallet-relevant effects.
type Report struct {
	// MaxAddressIndex is the highest owned derivation index touched, -1
	// when the transaction touched no owned address.
	MaxAddressIndex int64
	// Tokens are the uids seen on owned outputs/inputs.
	Tokens map[string]struct{}
}

func newReport() *Report {
	return &Report{MaxAddressIndex: -1, Tokens: make(map[string]struct{})}
}

func (r *Report) merge(other *Report) {
	if other.MaxAddressIndex > r.MaxAddressIndex {
		r.MaxAddressIndex = other.MaxAddressIndex
	}
	for token := range other.Tokens {
		r.Tokens[token] = struct{}{}
	}
}

// UtxoLocked evaluates a stored UTXO's lock state at the given time and
// chain height.
func UtxoLocked(u *storage.UTXO, now, bestHeight, rewardLock uint32) bool {
	return isLocked(u.Timelock, u.Height, now, bestHeight, rewardLock)
}

// isLocked evaluates an output's lock state: a timelock still in the
// future, or a block reward without enough confirmations.
func isLocked(timelock, txHeight, now, bestHeight, rewardLock uint32) bool {
	if timelock > now {
		return true
	}
	if txHeight > 0 && bestHeight-txHeight < rewardLock {
		return true
	}
	return false
}

// ProcessNewTx applies a single transaction's effects to the wallet state.
// Voided transactions are ignored entirely. The report tells the caller
// which derivation indexes and tokens were touched for wallet-data
// bookkeeping.
func ProcessNewTx(ctx context.Context, st storage.Store, tx *storage.HistoryTx, opts Options) (*Report, error) {
	report := newReport()
	if tx.IsVoided {
		return report, nil
	}
	bestHeight, err := st.BestHeight(ctx)
	if err != nil {
		return nil, err
	}
	batch := newMetaBatch(st)
	if err := applyTx(ctx, st, batch, tx, opts, bestHeight, nil, report); err != nil {
		return nil, err
	}
	if err := batch.flush(ctx); err != nil {
		return nil, err
	}
	return report, nil
}

// applyTx is the per-transaction fold shared by ProcessNewTx and
// ProcessHistory. Metadata mutations go through the batch; UTXO index
// mutations hit the store directly. When spent is non-nil it overrides the
// per-output SpentBy marks; a replay recomputes it from the live history
// so a voided spend releases its inputs.
func applyTx(ctx context.Context, st storage.Store, batch *metaBatch, tx *storage.HistoryTx, opts Options, bestHeight uint32, spent map[string]string, report *Report) error {
	if tx.IsVoided {
		return nil
	}
	now := opts.now()
	touchedAddrs := make(map[string]struct{})
	touchedTokens := make(map[string]struct{})

	for idx, out := range tx.Outputs {
		addr := out.Decoded.Address
		if addr == "" || out.Decoded.Type == string(txscriptDataType) {
			continue
		}
		info, err := st.GetAddress(ctx, addr)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if int64(info.Index) > report.MaxAddressIndex {
			report.MaxAddressIndex = int64(info.Index)
		}
		token, err := tx.TokenForData(out.TokenData)
		if err != nil {
			return err
		}
		report.Tokens[token] = struct{}{}
		touchedAddrs[addr] = struct{}{}
		touchedTokens[token] = struct{}{}

		locked := isLocked(out.Decoded.Timelock, tx.Height, now, bestHeight, opts.RewardLock)
		addrBal, err := batch.addressBalance(ctx, addr, token)
		if err != nil {
			return err
		}
		tokBal, err := batch.tokenBalance(ctx, token)
		if err != nil {
			return err
		}
		creditOutput(addrBal, out, locked)
		creditOutput(tokBal, out, locked)

		utxoID := storage.UtxoID(tx.TxID, uint8(idx))
		spentBy := out.SpentBy
		if spent != nil {
			spentBy = spent[utxoID]
		}
		if spentBy == "" {
			u := &storage.UTXO{
				TxID:     tx.TxID,
				Index:    uint8(idx),
				Token:    token,
				Address:  addr,
				Value:    out.Value,
				Timelock: out.Decoded.Timelock,
				Height:   tx.Height,
			}
			if out.IsAuthority() {
				u.Authorities = uint64(out.Value)
				u.Value = 0
			}
			if err := st.SaveUTXO(ctx, u); err != nil {
				return err
			}
			if locked {
				if err := st.SaveLockedUTXO(ctx, u); err != nil {
					return err
				}
			}
		} else if err := st.SetUtxoSelected(ctx, utxoID, false); err != nil {
			return err
		}
	}

	for _, in := range tx.Inputs {
		addr := in.Decoded.Address
		if addr == "" {
			continue
		}
		info, err := st.GetAddress(ctx, addr)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if int64(info.Index) > report.MaxAddressIndex {
			report.MaxAddressIndex = int64(info.Index)
		}
		token, err := tx.TokenForData(in.TokenData)
		if err != nil {
			return err
		}
		report.Tokens[token] = struct{}{}
		touchedAddrs[addr] = struct{}{}
		touchedTokens[token] = struct{}{}

		addrBal, err := batch.addressBalance(ctx, addr, token)
		if err != nil {
			return err
		}
		tokBal, err := batch.tokenBalance(ctx, token)
		if err != nil {
			return err
		}
		debitInput(addrBal, in)
		debitInput(tokBal, in)

		// The spent output may still sit in the unspent index when the
		// stored copy of the funding tx predates the spend.
		if err := st.DeleteUTXO(ctx, in.TxID, in.Index); err != nil {
			return err
		}
	}

	for addr := range touchedAddrs {
		if err := batch.bumpAddressTxCount(ctx, addr); err != nil {
			return err
		}
	}
	for token := range touchedTokens {
		if err := batch.bumpTokenTxCount(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// creditOutput adds an output's contribution to a balance bucket.
// Authority outputs bump a counter; monetary outputs add value.
func creditOutput(b *storage.TokenBalance, out *storage.TxOutput, locked bool) {
	if out.IsAuthority() {
		if out.CanMint() {
			if locked {
				b.MintLocked++
			} else {
				b.MintUnlocked++
			}
		}
		if out.CanMelt() {
			if locked {
				b.MeltLocked++
			} else {
				b.MeltUnlocked++
			}
		}
		return
	}
	if locked {
		b.Locked += out.Value
	} else {
		b.Unlocked += out.Value
	}
}

// debitInput reverses an output-side credit. Inputs are always treated as
// unlocked: they had to be spendable to be used. Subtraction floors at the
// locked bucket so state never wraps on out-of-order application.
func debitInput(b *storage.TokenBalance, in *storage.TxInput) {
	if in.IsAuthority() {
		if uint64(in.Value)&txcodec.AuthorityMint != 0 {
			decrementAuthority(&b.MintUnlocked, &b.MintLocked)
		}
		if uint64(in.Value)&txcodec.AuthorityMelt != 0 {
			decrementAuthority(&b.MeltUnlocked, &b.MeltLocked)
		}
		return
	}
	if b.Unlocked >= in.Value {
		b.Unlocked -= in.Value
		return
	}
	rem := in.Value - b.Unlocked
	b.Unlocked = 0
	if b.Locked >= rem {
		b.Locked -= rem
	} else {
		b.Locked = 0
	}
}

func decrementAuthority(unlocked, locked *uint32) {
	if *unlocked > 0 {
		*unlocked--
		return
	}
	if *locked > 0 {
		*locked--
	}
}

// txscriptDataType mirrors the node's decoded type for data outputs.
const txscriptDataType = "data"
