// Package keychain derives the wallet's addresses and signing keys from a
// BIP32 root. A chain built from an xpub is watch-only: it can derive
// addresses but not signing keys.
package keychain

import (
	"context"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/sync/errgroup"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

// Purpose/coin constants of the derivation path m/44'/280'/account'.
const (
	purposeIndex = 44
	coinIndex    = 280
)

// ErrWatchOnly is returned when a signing key is requested from an
// xpub-only chain.
var ErrWatchOnly = errors.New("keychain is watch-only")

// KeyChain holds the account-level extended key and derives the external
// address chain account/0/index.
type KeyChain struct {
	account   *hdkeychain.ExtendedKey
	external  *hdkeychain.ExtendedKey
	watchOnly bool
}

// NewFromMnemonic builds a signing chain from BIP39 words, deriving the
// account key m/44'/280'/0'.
func NewFromMnemonic(words, passphrase string) (*KeyChain, error) {
	if !bip39.IsMnemonicValid(words) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(words, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.Wrap(err, "error building master key")
	}
	account := master
	for _, idx := range []uint32{purposeIndex, coinIndex, 0} {
		account, err = account.Derive(hdkeychain.HardenedKeyStart + idx)
		if err != nil {
			return nil, errors.Wrap(err, "error deriving account key")
		}
	}
	return newChain(account, false)
}

// NewFromXPub builds a watch-only chain from an account-level xpub.
func NewFromXPub(xpub string) (*KeyChain, error) {
	account, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing xpub")
	}
	return newChain(account, !account.IsPrivate())
}

func newChain(account *hdkeychain.ExtendedKey, watchOnly bool) (*KeyChain, error) {
	external, err := account.Derive(0)
	if err != nil {
		return nil, errors.Wrap(err, "error deriving external chain")
	}
	return &KeyChain{account: account, external: external, watchOnly: watchOnly}, nil
}

// WatchOnly reports whether signing keys are unavailable.
func (k *KeyChain) WatchOnly() bool { return k.watchOnly }

// XPub exports the account-level public key string.
func (k *KeyChain) XPub() (string, error) {
	pub, err := k.account.Neuter()
	if err != nil {
		return "", errors.Wrap(err, "error neutering account key")
	}
	return pub.String(), nil
}

// AddressAt derives the base58 address at one external index.
func (k *KeyChain) AddressAt(index uint32) (string, error) {
	child, err := k.external.Derive(index)
	if err != nil {
		return "", errors.Wrapf(err, "error deriving index %d", index)
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", errors.Wrapf(err, "error deriving pubkey %d", index)
	}
	return txscript.AddressFromPubKey(pub.SerializeCompressed()), nil
}

// PrivateKeyAt returns the signing key for one external index.
func (k *KeyChain) PrivateKeyAt(index uint32) (*btcec.PrivateKey, error) {
	if k.watchOnly {
		return nil, errors.WithStack(ErrWatchOnly)
	}
	child, err := k.external.Derive(index)
	if err != nil {
		return nil, errors.Wrapf(err, "error deriving index %d", index)
	}
	key, err := child.ECPrivKey()
	if err != nil {
		return nil, errors.Wrapf(err, "error deriving private key %d", index)
	}
	return key, nil
}

// DeriveRange derives count addresses starting at start, fanning the work
// across cores. Results come back ordered by index.
func (k *KeyChain) DeriveRange(ctx context.Context, start uint32, count int) ([]*storage.AddressInfo, error) {
	if count <= 0 {
		return nil, nil
	}
	results := make([]*storage.AddressInfo, count)
	workers := runtime.GOMAXPROCS(0)
	if workers > count {
		workers = count
	}
	group, ctx := errgroup.WithContext(ctx)
	chunk := (count + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > count {
			hi = count
		}
		if lo >= hi {
			break
		}
		group.Go(func() error {
			for i := lo; i < hi; i++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				index := start + uint32(i)
				addr, err := k.AddressAt(index)
				if err != nil {
					return err
				}
				results[i] = &storage.AddressInfo{Address: addr, Index: index}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
