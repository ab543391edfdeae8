package storage

import (
	"context"

	"github.com/darwayne/errutil"
)

// Store is the ledger store contract the engine reads and writes through.
// Implementations serialize their own mutations; the engine assumes only
// that one call's effects are applied as one unit, never cross-call
// transactions.
//
// The selected-as-input marks are advisory and time-boxed: implementations
// expire them after a fixed TTL. They discourage concurrent builds from
// picking the same UTXO but are not a mutex — two wallets sharing a seed,
// or two builds racing inside the TTL window, can still double-select.
type Store interface {
	// Address CRUD by index and base58 form.
	SaveAddress(ctx context.Context, info *AddressInfo) error
	GetAddress(ctx context.Context, base58 string) (*AddressInfo, error)
	GetAddressAtIndex(ctx context.Context, index uint32) (*AddressInfo, error)
	AddressCount(ctx context.Context) (int, error)

	// Derived metadata.
	GetAddressMetadata(ctx context.Context, base58 string) (*AddressMetadata, error)
	SaveAddressMetadata(ctx context.Context, base58 string, meta *AddressMetadata) error
	GetTokenMetadata(ctx context.Context, token string) (*TokenMetadata, error)
	SaveTokenMetadata(ctx context.Context, token string, meta *TokenMetadata) error
	ForEachTokenMetadata(ctx context.Context, fn func(token string, meta *TokenMetadata) error) error
	// ClearMetadata drops all derived state (metadata and both UTXO
	// indexes) ahead of a full history replay.
	ClearMetadata(ctx context.Context) error

	// Token registry.
	GetTokenConfig(ctx context.Context, uid string) (*TokenConfig, error)
	SaveTokenConfig(ctx context.Context, cfg *TokenConfig) error

	// Unspent and locked output indexes. A UTXO lives in the unspent index
	// until observed spent; locked entries additionally wait for an unlock
	// pass.
	SaveUTXO(ctx context.Context, u *UTXO) error
	DeleteUTXO(ctx context.Context, txID string, index uint8) error
	ForEachUTXO(ctx context.Context, fn func(*UTXO) (bool, error)) error
	SaveLockedUTXO(ctx context.Context, u *UTXO) error
	UnlockUTXO(ctx context.Context, txID string, index uint8) error
	ForEachLockedUTXO(ctx context.Context, fn func(*UTXO) error) error

	// Transient selected-as-input marks (see contract note above).
	IsUtxoSelected(ctx context.Context, utxoID string) (bool, error)
	SetUtxoSelected(ctx context.Context, utxoID string, selected bool) error

	// Transaction history in insertion order. AddTx is an idempotent
	// upsert; it reports whether the stored record changed.
	AddTx(ctx context.Context, tx *HistoryTx) (bool, error)
	GetTx(ctx context.Context, txID string) (*HistoryTx, error)
	ForEachTx(ctx context.Context, fn func(*HistoryTx) error) error
	TxCount(ctx context.Context) (int, error)

	// Wallet bookkeeping.
	GetWalletData(ctx context.Context) (*WalletData, error)
	SaveWalletData(ctx context.Context, data *WalletData) error

	// Best-chain height, used for reward lock evaluation.
	BestHeight(ctx context.Context) (uint32, error)
	SetBestHeight(ctx context.Context, height uint32) error
}

// IsNotFound reports whether an error is a store miss.
func IsNotFound(err error) bool { return errutil.IsNotFound(err) }

// errNotFound builds the store-miss error every backend returns.
func errNotFound(what string) error { return errutil.NewNotFound(what + " not found") }
