// Package sync drives the address-discovery and history-download loop
// against a full node, guided by a scanning policy.
package sync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/internal/core/keychain"
	"github.com/darwayne/utxo-ledger/internal/core/ledger"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
)

// Client is the slice of the full-node API the engine needs.
type Client interface {
	GetAddressHistory(ctx context.Context, addresses []string, firstHash, firstAddress string) (*fullnode.HistoryPage, error)
	SubscribeAddresses(ctx context.Context, addresses []string) error
	GetCurrentHeight(ctx context.Context) (uint32, error)
}

// Opts configures an Engine run.
type Opts struct {
	// MaxAddressesPerRequest caps how many addresses one history request
	// carries. Defaults to 20.
	MaxAddressesPerRequest int
	// RetryAttempts bounds retries of a timed-out history request before
	// giving up. Defaults to 5.
	RetryAttempts int
	// RetryDelay is the fixed pause between retries. Defaults to 1s.
	RetryDelay time.Duration
	// ProcessHistoryOnFinish replays the ledger after a sync that found
	// transactions.
	ProcessHistoryOnFinish bool
	// LedgerOpts feeds the replay when ProcessHistoryOnFinish is set.
	LedgerOpts ledger.Options
	Logger     *zap.Logger
}

func (o Opts) maxAddresses() int {
	if o.MaxAddressesPerRequest <= 0 {
		return 20
	}
	return o.MaxAddressesPerRequest
}

func (o Opts) retryAttempts() int {
	if o.RetryAttempts <= 0 {
		return 5
	}
	return o.RetryAttempts
}

func (o Opts) retryDelay() time.Duration {
	if o.RetryDelay <= 0 {
		return time.Second
	}
	return o.RetryDelay
}

func (o Opts) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Engine loads addresses per the policy, downloads their history and
// stores every transaction as it arrives.
type Engine struct {
	store  storage.Store
	cli    Client
	keys   *keychain.KeyChain
	policy Policy
	opts   Opts
	log    *zap.Logger
}

// NewEngine wires an engine from explicit collaborators.
func NewEngine(store storage.Store, cli Client, keys *keychain.KeyChain, policy Policy, opts Opts) *Engine {
	return &Engine{
		store:  store,
		cli:    cli,
		keys:   keys,
		policy: policy,
		opts:   opts,
		log:    opts.logger(),
	}
}

// Sync runs discovery rounds until the policy is satisfied. Each round
// derives the policy's next range, persists and subscribes the new
// addresses, then downloads their full history. Address use discovered
// mid-round can extend the scan, so the policy is re-consulted after
// every round.
func (e *Engine) Sync(ctx context.Context) error {
	start := time.Now()

	height, err := e.cli.GetCurrentHeight(ctx)
	if err != nil {
		return errors.Wrap(err, "error fetching best height")
	}
	if err := e.store.SetBestHeight(ctx, height); err != nil {
		return err
	}

	var txFound bool
	var rounds int
	for {
		data, err := e.store.GetWalletData(ctx)
		if err != nil {
			return err
		}
		if data.ScanPolicy == "" {
			data.ScanPolicy = e.policy.Name()
		}
		first, count, ok := e.policy.NextRange(data)
		if !ok {
			break
		}
		rounds++

		addrs, err := e.loadAddresses(ctx, first, count)
		if err != nil {
			return err
		}
		data.LastLoadedAddressIndex = int64(first) + int64(count) - 1
		if err := e.store.SaveWalletData(ctx, data); err != nil {
			return err
		}

		if err := e.cli.SubscribeAddresses(ctx, addrs); err != nil {
			return errors.Wrap(err, "error subscribing addresses")
		}

		found, maxIndex, err := e.fetchHistory(ctx, addrs)
		if err != nil {
			return err
		}
		txFound = txFound || found
		// Usage discovered in this round extends the gap window for the
		// next policy consultation.
		if err := ledger.AdvanceWalletData(ctx, e.store, maxIndex); err != nil {
			return err
		}
	}

	e.log.Info("sync finished",
		zap.Int("rounds", rounds),
		zap.Bool("tx_found", txFound),
		zap.Duration("elapsed", time.Since(start)))

	if e.opts.ProcessHistoryOnFinish && txFound {
		return ledger.ProcessHistory(ctx, e.store, e.opts.LedgerOpts)
	}
	return nil
}

// loadAddresses derives and persists count addresses starting at first,
// reusing any already stored.
func (e *Engine) loadAddresses(ctx context.Context, first uint32, count int) ([]string, error) {
	addrs := make([]string, 0, count)
	missingFrom := -1
	for i := 0; i < count; i++ {
		info, err := e.store.GetAddressAtIndex(ctx, first+uint32(i))
		if err != nil {
			if storage.IsNotFound(err) {
				missingFrom = i
				break
			}
			return nil, err
		}
		addrs = append(addrs, info.Address)
	}
	if missingFrom < 0 {
		return addrs, nil
	}

	derived, err := e.keys.DeriveRange(ctx, first+uint32(missingFrom), count-missingFrom)
	if err != nil {
		return nil, errors.Wrap(err, "error deriving addresses")
	}
	for _, info := range derived {
		if err := e.store.SaveAddress(ctx, info); err != nil {
			return nil, err
		}
		addrs = append(addrs, info.Address)
	}
	e.log.Debug("addresses loaded",
		zap.Uint32("first", first),
		zap.Int("count", count),
		zap.Int("derived", len(derived)))
	return addrs, nil
}

// fetchHistory downloads the full paginated history of a set of
// addresses, storing each transaction as it arrives. Returns whether any
// transaction was seen and the highest owned address index touched
// (-1 when none).
func (e *Engine) fetchHistory(ctx context.Context, addrs []string) (bool, int64, error) {
	var found bool
	maxIndex := int64(-1)
	limit := e.opts.maxAddresses()
	for lo := 0; lo < len(addrs); lo += limit {
		hi := lo + limit
		if hi > len(addrs) {
			hi = len(addrs)
		}
		chunk := addrs[lo:hi]

		var firstHash, firstAddress string
		for {
			page, err := e.getHistoryPage(ctx, chunk, firstHash, firstAddress)
			if err != nil {
				return found, maxIndex, err
			}
			for _, tx := range page.History {
				select {
				case <-ctx.Done():
					return found, maxIndex, ctx.Err()
				default:
				}
				if _, err := e.store.AddTx(ctx, tx); err != nil {
					return found, maxIndex, errors.Wrapf(err, "error storing tx %s", tx.TxID)
				}
				found = true
				idx, err := e.maxOwnedIndex(ctx, tx)
				if err != nil {
					return found, maxIndex, err
				}
				if idx > maxIndex {
					maxIndex = idx
				}
			}
			if !page.HasMore {
				break
			}
			firstHash, firstAddress = page.FirstHash, page.FirstAddress
		}
	}
	return found, maxIndex, nil
}

// maxOwnedIndex scans a transaction's outputs for the highest derivation
// index belonging to this wallet.
func (e *Engine) maxOwnedIndex(ctx context.Context, tx *storage.HistoryTx) (int64, error) {
	max := int64(-1)
	for _, out := range tx.Outputs {
		if out.Decoded.Address == "" {
			continue
		}
		info, err := e.store.GetAddress(ctx, out.Decoded.Address)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return max, err
		}
		if int64(info.Index) > max {
			max = int64(info.Index)
		}
	}
	return max, nil
}

// getHistoryPage fetches one page, retrying a bounded number of times on
// network timeouts only.
func (e *Engine) getHistoryPage(ctx context.Context, addrs []string, firstHash, firstAddress string) (*fullnode.HistoryPage, error) {
	attempts := e.opts.retryAttempts()
	for attempt := 1; ; attempt++ {
		page, err := e.cli.GetAddressHistory(ctx, addrs, firstHash, firstAddress)
		if err == nil {
			return page, nil
		}
		if !fullnode.IsTimeout(err) || attempt >= attempts {
			return nil, err
		}
		e.log.Warn("history request timed out, retrying",
			zap.Int("attempt", attempt),
			zap.Int("addresses", len(addrs)),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.opts.retryDelay()):
		}
	}
}
