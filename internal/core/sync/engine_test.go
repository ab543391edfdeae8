package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/internal/core/keychain"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// fakeNode serves canned history pages keyed by address.
type fakeNode struct {
	height     uint32
	history    map[string][]*storage.HistoryTx
	subscribed []string
	requests   int
	// timeoutsLeft makes the next N history calls fail with a timeout.
	timeoutsLeft int
	// pageSize forces pagination when > 0.
	pageSize int
}

func (f *fakeNode) GetAddressHistory(_ context.Context, addresses []string, firstHash, _ string) (*fullnode.HistoryPage, error) {
	f.requests++
	if f.timeoutsLeft > 0 {
		f.timeoutsLeft--
		return nil, context.DeadlineExceeded
	}
	var txs []*storage.HistoryTx
	for _, addr := range addresses {
		txs = append(txs, f.history[addr]...)
	}

	start := 0
	if firstHash != "" {
		for i, tx := range txs {
			if tx.TxID == firstHash {
				start = i
				break
			}
		}
	}
	end := len(txs)
	hasMore := false
	if f.pageSize > 0 && start+f.pageSize < len(txs) {
		end = start + f.pageSize
		hasMore = true
	}
	page := &fullnode.HistoryPage{Success: true, History: txs[start:end], HasMore: hasMore}
	if hasMore {
		page.FirstHash = txs[end].TxID
	}
	return page, nil
}

func (f *fakeNode) SubscribeAddresses(_ context.Context, addresses []string) error {
	f.subscribed = append(f.subscribed, addresses...)
	return nil
}

func (f *fakeNode) GetCurrentHeight(context.Context) (uint32, error) {
	return f.height, nil
}

func testKeys(t *testing.T) *keychain.KeyChain {
	t.Helper()
	keys, err := keychain.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return keys
}

func historyFor(addr string, ids ...string) []*storage.HistoryTx {
	var txs []*storage.HistoryTx
	for _, id := range ids {
		txs = append(txs, &storage.HistoryTx{
			TxID:      id,
			Version:   txcodec.TxVersion,
			Timestamp: 1700000000,
			Outputs: []*storage.TxOutput{
				{Value: 10, Decoded: storage.DecodedScript{Type: "p2pkh", Address: addr}},
			},
		})
	}
	return txs
}

func TestSyncGapLimitExtendsOnUse(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: 3})

	addr0, err := keys.AddressAt(0)
	require.NoError(t, err)

	node := &fakeNode{height: 77, history: map[string][]*storage.HistoryTx{
		addr0: historyFor(addr0, "tx-1"),
	}}
	engine := NewEngine(st, node, keys, GapLimit{Gap: 3}, Opts{})
	require.NoError(t, engine.Sync(ctx))

	// Index 0 was used, so the window extends to keep 3 unused addresses
	// loaded: indexes 0..3.
	count, err := st.AddressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, count)

	data, err := st.GetWalletData(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), data.LastLoadedAddressIndex)
	require.Equal(t, int64(0), data.LastUsedAddressIndex)
	require.Equal(t, int64(1), data.CurrentAddressIndex)

	txCount, err := st.TxCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, txCount)

	height, err := st.BestHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(77), height)
	require.Len(t, node.subscribed, 4)
}

func TestSyncNoHistoryStopsAtGap(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: 5})

	node := &fakeNode{history: map[string][]*storage.HistoryTx{}}
	engine := NewEngine(st, node, keys, GapLimit{Gap: 5}, Opts{})
	require.NoError(t, engine.Sync(ctx))

	count, err := st.AddressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, count)

	data, err := st.GetWalletData(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), data.LastLoadedAddressIndex)
	require.Equal(t, int64(-1), data.LastUsedAddressIndex)
}

func TestSyncIndexLimitNeverExtends(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{})

	addr2, err := keys.AddressAt(2)
	require.NoError(t, err)
	node := &fakeNode{history: map[string][]*storage.HistoryTx{
		addr2: historyFor(addr2, "tx-1"),
	}}
	engine := NewEngine(st, node, keys, IndexLimit{Start: 2, End: 4}, Opts{})
	require.NoError(t, engine.Sync(ctx))

	// Usage inside the range must not grow it.
	count, err := st.AddressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	_, err = st.GetAddressAtIndex(ctx, 5)
	require.True(t, storage.IsNotFound(err))
}

func TestSyncPaginates(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: 2})

	addr0, err := keys.AddressAt(0)
	require.NoError(t, err)
	node := &fakeNode{
		history:  map[string][]*storage.HistoryTx{addr0: historyFor(addr0, "tx-1", "tx-2", "tx-3")},
		pageSize: 1,
	}
	engine := NewEngine(st, node, keys, GapLimit{Gap: 2}, Opts{})
	require.NoError(t, engine.Sync(ctx))

	txCount, err := st.TxCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, txCount)
}

func TestSyncRetriesTimeouts(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: 2})

	node := &fakeNode{history: map[string][]*storage.HistoryTx{}, timeoutsLeft: 2}
	engine := NewEngine(st, node, keys, GapLimit{Gap: 2}, Opts{
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, engine.Sync(ctx))
	require.Greater(t, node.requests, 2)
}

func TestSyncGivesUpAfterRetryBudget(t *testing.T) {
	ctx := context.Background()
	keys := testKeys(t)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{GapLimit: 2})

	node := &fakeNode{history: map[string][]*storage.HistoryTx{}, timeoutsLeft: 100}
	engine := NewEngine(st, node, keys, GapLimit{Gap: 2}, Opts{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
	err := engine.Sync(ctx)
	require.Error(t, err)
	require.Equal(t, 3, node.requests)
}

func TestPolicyFromWalletData(t *testing.T) {
	p, err := PolicyFromWalletData(&storage.WalletData{ScanPolicy: storage.PolicyGapLimit, GapLimit: 7})
	require.NoError(t, err)
	require.Equal(t, GapLimit{Gap: 7}, p)

	p, err = PolicyFromWalletData(&storage.WalletData{ScanPolicy: storage.PolicyIndexLimit, IndexStart: 2, IndexEnd: 9})
	require.NoError(t, err)
	require.Equal(t, IndexLimit{Start: 2, End: 9}, p)

	_, err = PolicyFromWalletData(&storage.WalletData{ScanPolicy: "bogus"})
	require.Error(t, err)
}

func TestGapLimitRanges(t *testing.T) {
	g := GapLimit{Gap: 20}

	data := storage.NewWalletData(20)
	start, count, ok := g.NextRange(data)
	require.True(t, ok)
	require.Equal(t, uint32(0), start)
	require.Equal(t, 20, count)

	data.LastLoadedAddressIndex = 19
	_, _, ok = g.NextRange(data)
	require.False(t, ok)

	// Using index 10 slides the window.
	data.LastUsedAddressIndex = 10
	start, count, ok = g.NextRange(data)
	require.True(t, ok)
	require.Equal(t, uint32(20), start)
	require.Equal(t, 11, count)
}
