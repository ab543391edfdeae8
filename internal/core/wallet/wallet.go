// Package wallet is the spending facade: it selects inputs, builds and
// signs transactions, and walks them through mining and broadcast.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/internal/core/keychain"
	"github.com/darwayne/utxo-ledger/internal/core/ledger"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

// Client is the slice of the full-node API the wallet spends through.
type Client interface {
	GetParams(ctx context.Context) (*txcodec.Params, error)
	PushTx(ctx context.Context, txHex string) error
	SubmitJob(ctx context.Context, txHex string) (*fullnode.MiningJob, error)
	GetJobStatus(ctx context.Context, jobID string) (*fullnode.MiningJob, error)
}

// Opts wires a Wallet from explicit collaborators.
type Opts struct {
	Store storage.Store
	Cli   Client
	Keys  *keychain.KeyChain
	// Now overrides the timestamp used for lock evaluation and building.
	Now func() uint32
	// JobPollInterval paces mining job polling. Defaults to 1s.
	JobPollInterval time.Duration
	Logger          *zap.Logger
}

// Wallet coordinates the store, key chain and full node for spending.
type Wallet struct {
	store storage.Store
	cli   Client
	keys  *keychain.KeyChain
	now   func() uint32
	poll  time.Duration
	log   *zap.Logger

	mu     sync.RWMutex
	params *txcodec.Params
}

// New builds a wallet. Store, Cli and Keys are required.
func New(opts Opts) (*Wallet, error) {
	if opts.Store == nil || opts.Cli == nil || opts.Keys == nil {
		return nil, errors.New("store, client and keys required")
	}
	now := opts.Now
	if now == nil {
		now = func() uint32 { return uint32(time.Now().Unix()) }
	}
	poll := opts.JobPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Wallet{
		store: opts.Store,
		cli:   opts.Cli,
		keys:  opts.Keys,
		now:   now,
		poll:  poll,
		log:   log,
	}, nil
}

// LoadParams performs the version handshake and caches the network
// operating constants. Call once before building transactions.
func (w *Wallet) LoadParams(ctx context.Context) error {
	params, err := w.cli.GetParams(ctx)
	if err != nil {
		return errors.Wrap(err, "error loading network parameters")
	}
	w.mu.Lock()
	w.params = params
	w.mu.Unlock()
	w.log.Debug("network parameters loaded",
		zap.Int("max_inputs", params.MaxInputs),
		zap.Int("max_outputs", params.MaxOutputs))
	return nil
}

// Params returns the cached network parameters.
func (w *Wallet) Params() (*txcodec.Params, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.params == nil {
		return nil, errors.WithStack(ErrParamsNotLoaded)
	}
	p := *w.params
	return &p, nil
}

// decimalPlaces is the display precision from the loaded parameters, zero
// before LoadParams.
func (w *Wallet) decimalPlaces() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.params == nil {
		return 0
	}
	return w.params.DecimalPlaces
}

// rewardLock is the confirmation depth from the loaded parameters, zero
// before LoadParams.
func (w *Wallet) rewardLock() uint32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.params == nil {
		return 0
	}
	return w.params.RewardSpendMinBlocks
}

// GetCurrentAddress returns the wallet's current receive address,
// deriving and persisting it if needed. With markAsUsed the current
// pointer rotates to the next index, so repeated calls hand out fresh
// addresses.
func (w *Wallet) GetCurrentAddress(ctx context.Context, markAsUsed bool) (*storage.AddressInfo, error) {
	data, err := w.store.GetWalletData(ctx)
	if err != nil {
		return nil, err
	}
	index := data.CurrentAddressIndex
	if index < 0 {
		index = 0
	}

	info, err := w.store.GetAddressAtIndex(ctx, uint32(index))
	if storage.IsNotFound(err) {
		addr, derr := w.keys.AddressAt(uint32(index))
		if derr != nil {
			return nil, derr
		}
		info = &storage.AddressInfo{Address: addr, Index: uint32(index)}
		if err := w.store.SaveAddress(ctx, info); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if markAsUsed {
		if err := ledger.AdvanceWalletData(ctx, w.store, index); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// RegisterToken records a token's name and symbol after validating them.
// Re-registering with identical data is a no-op; conflicting data is
// rejected.
func (w *Wallet) RegisterToken(ctx context.Context, cfg *storage.TokenConfig) error {
	info := txcodec.TokenInfo{Name: cfg.Name, Symbol: cfg.Symbol}
	if err := info.Validate(); err != nil {
		return err
	}
	existing, err := w.store.GetTokenConfig(ctx, cfg.UID)
	if err == nil {
		if existing.Name != cfg.Name || existing.Symbol != cfg.Symbol {
			return errors.Wrapf(txcodec.ErrTokenValidation,
				"token %s already registered as %s/%s", cfg.UID, existing.Name, existing.Symbol)
		}
		return nil
	}
	if !storage.IsNotFound(err) {
		return err
	}
	return w.store.SaveTokenConfig(ctx, cfg)
}
