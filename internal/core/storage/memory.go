package storage

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSelectedTTL is how long a selected-as-input mark survives before
// the race-safety net clears it.
const DefaultSelectedTTL = time.Minute

// maxSelectedMarks bounds the mark cache; a wallet never has this many
// in-flight inputs.
const maxSelectedMarks = 4096

// MemoryStoreOpts configures a MemoryStore. Zero values pick defaults.
type MemoryStoreOpts struct {
	// SelectedTTL overrides the selected-as-input expiry.
	SelectedTTL time.Duration
	// GapLimit seeds the initial wallet data.
	GapLimit uint32
}

// MemoryStore keeps the whole ledger in process memory. All methods are
// safe for concurrent use; a single RWMutex serializes mutations.
type MemoryStore struct {
	mu sync.RWMutex

	addresses      map[string]*AddressInfo
	addressByIndex map[uint32]string
	addressMeta    map[string]*AddressMetadata
	tokenMeta      map[string]*TokenMetadata
	tokenConfig    map[string]*TokenConfig
	utxos          map[string]*UTXO
	lockedUtxos    map[string]*UTXO
	history        map[string]*HistoryTx
	historyOrder   []string
	walletData     *WalletData
	bestHeight     uint32

	selected *expirable.LRU[string, struct{}]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty in-memory ledger store.
func NewMemoryStore(opts MemoryStoreOpts) *MemoryStore {
	ttl := opts.SelectedTTL
	if ttl <= 0 {
		ttl = DefaultSelectedTTL
	}
	gap := opts.GapLimit
	if gap == 0 {
		gap = 20
	}
	return &MemoryStore{
		addresses:      make(map[string]*AddressInfo),
		addressByIndex: make(map[uint32]string),
		addressMeta:    make(map[string]*AddressMetadata),
		tokenMeta:      make(map[string]*TokenMetadata),
		tokenConfig:    make(map[string]*TokenConfig),
		utxos:          make(map[string]*UTXO),
		lockedUtxos:    make(map[string]*UTXO),
		history:        make(map[string]*HistoryTx),
		walletData:     NewWalletData(gap),
		selected:       expirable.NewLRU[string, struct{}](maxSelectedMarks, nil, ttl),
	}
}

func (s *MemoryStore) SaveAddress(_ context.Context, info *AddressInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *info
	s.addresses[cp.Address] = &cp
	s.addressByIndex[cp.Index] = cp.Address
	return nil
}

func (s *MemoryStore) GetAddress(_ context.Context, base58 string) (*AddressInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.addresses[base58]
	if !ok {
		return nil, errNotFound("address")
	}
	cp := *info
	return &cp, nil
}

func (s *MemoryStore) GetAddressAtIndex(_ context.Context, index uint32) (*AddressInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base58, ok := s.addressByIndex[index]
	if !ok {
		return nil, errNotFound("address index")
	}
	cp := *s.addresses[base58]
	return &cp, nil
}

func (s *MemoryStore) AddressCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addresses), nil
}

func (s *MemoryStore) GetAddressMetadata(_ context.Context, base58 string) (*AddressMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.addressMeta[base58]
	if !ok {
		return nil, errNotFound("address metadata")
	}
	return cloneAddressMetadata(meta), nil
}

func (s *MemoryStore) SaveAddressMetadata(_ context.Context, base58 string, meta *AddressMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressMeta[base58] = cloneAddressMetadata(meta)
	return nil
}

func (s *MemoryStore) GetTokenMetadata(_ context.Context, token string) (*TokenMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.tokenMeta[token]
	if !ok {
		return nil, errNotFound("token metadata")
	}
	cp := *meta
	return &cp, nil
}

func (s *MemoryStore) SaveTokenMetadata(_ context.Context, token string, meta *TokenMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.tokenMeta[token] = &cp
	return nil
}

func (s *MemoryStore) ForEachTokenMetadata(_ context.Context, fn func(string, *TokenMetadata) error) error {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.tokenMeta))
	for token := range s.tokenMeta {
		tokens = append(tokens, token)
	}
	metas := make([]*TokenMetadata, 0, len(tokens))
	for _, token := range tokens {
		cp := *s.tokenMeta[token]
		metas = append(metas, &cp)
	}
	s.mu.RUnlock()

	for i, token := range tokens {
		if err := fn(token, metas[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ClearMetadata(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressMeta = make(map[string]*AddressMetadata)
	s.tokenMeta = make(map[string]*TokenMetadata)
	s.utxos = make(map[string]*UTXO)
	s.lockedUtxos = make(map[string]*UTXO)
	return nil
}

func (s *MemoryStore) GetTokenConfig(_ context.Context, uid string) (*TokenConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.tokenConfig[uid]
	if !ok {
		return nil, errNotFound("token config")
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) SaveTokenConfig(_ context.Context, cfg *TokenConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.tokenConfig[cp.UID] = &cp
	return nil
}

func (s *MemoryStore) SaveUTXO(_ context.Context, u *UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.utxos[cp.ID()] = &cp
	return nil
}

func (s *MemoryStore) DeleteUTXO(_ context.Context, txID string, index uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := UtxoID(txID, index)
	delete(s.utxos, id)
	delete(s.lockedUtxos, id)
	s.selected.Remove(id)
	return nil
}

func (s *MemoryStore) ForEachUTXO(_ context.Context, fn func(*UTXO) (bool, error)) error {
	s.mu.RLock()
	list := make([]*UTXO, 0, len(s.utxos))
	for _, u := range s.utxos {
		cp := *u
		list = append(list, &cp)
	}
	s.mu.RUnlock()

	for _, u := range list {
		stop, err := fn(u)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) SaveLockedUTXO(_ context.Context, u *UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.lockedUtxos[cp.ID()] = &cp
	return nil
}

func (s *MemoryStore) UnlockUTXO(_ context.Context, txID string, index uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockedUtxos, UtxoID(txID, index))
	return nil
}

func (s *MemoryStore) ForEachLockedUTXO(_ context.Context, fn func(*UTXO) error) error {
	s.mu.RLock()
	list := make([]*UTXO, 0, len(s.lockedUtxos))
	for _, u := range s.lockedUtxos {
		cp := *u
		list = append(list, &cp)
	}
	s.mu.RUnlock()

	for _, u := range list {
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) IsUtxoSelected(_ context.Context, utxoID string) (bool, error) {
	return s.selected.Contains(utxoID), nil
}

func (s *MemoryStore) SetUtxoSelected(_ context.Context, utxoID string, selected bool) error {
	if selected {
		s.selected.Add(utxoID, struct{}{})
	} else {
		s.selected.Remove(utxoID)
	}
	return nil
}

func (s *MemoryStore) AddTx(_ context.Context, tx *HistoryTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.history[tx.TxID]
	if ok && reflect.DeepEqual(existing, tx) {
		return false, nil
	}
	cp := cloneHistoryTx(tx)
	if !ok {
		s.historyOrder = append(s.historyOrder, tx.TxID)
	}
	s.history[tx.TxID] = cp
	return true, nil
}

func (s *MemoryStore) GetTx(_ context.Context, txID string) (*HistoryTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.history[txID]
	if !ok {
		return nil, errNotFound("transaction")
	}
	return cloneHistoryTx(tx), nil
}

func (s *MemoryStore) ForEachTx(_ context.Context, fn func(*HistoryTx) error) error {
	s.mu.RLock()
	list := make([]*HistoryTx, 0, len(s.historyOrder))
	for _, id := range s.historyOrder {
		list = append(list, cloneHistoryTx(s.history[id]))
	}
	s.mu.RUnlock()

	for _, tx := range list {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) TxCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history), nil
}

func (s *MemoryStore) GetWalletData(_ context.Context) (*WalletData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.walletData
	return &cp, nil
}

func (s *MemoryStore) SaveWalletData(_ context.Context, data *WalletData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *data
	s.walletData = &cp
	return nil
}

func (s *MemoryStore) BestHeight(_ context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bestHeight, nil
}

func (s *MemoryStore) SetBestHeight(_ context.Context, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bestHeight = height
	return nil
}

func cloneAddressMetadata(meta *AddressMetadata) *AddressMetadata {
	cp := &AddressMetadata{NumTransactions: meta.NumTransactions}
	if meta.Balances != nil {
		cp.Balances = make(map[string]*TokenBalance, len(meta.Balances))
		for token, b := range meta.Balances {
			bcp := *b
			cp.Balances[token] = &bcp
		}
	}
	return cp
}

// cloneHistoryTx deep-copies a record. Nil slices stay nil so a stored
// clone compares equal to an identical redelivery.
func cloneHistoryTx(tx *HistoryTx) *HistoryTx {
	cp := *tx
	if tx.Inputs != nil {
		cp.Inputs = make([]*TxInput, len(tx.Inputs))
		for i, in := range tx.Inputs {
			icp := *in
			cp.Inputs[i] = &icp
		}
	}
	if tx.Outputs != nil {
		cp.Outputs = make([]*TxOutput, len(tx.Outputs))
		for i, out := range tx.Outputs {
			ocp := *out
			cp.Outputs[i] = &ocp
		}
	}
	cp.Parents = append([]string(nil), tx.Parents...)
	cp.Tokens = append([]string(nil), tx.Tokens...)
	return &cp
}
