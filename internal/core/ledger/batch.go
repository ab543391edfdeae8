package ledger

import (
	"context"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
)

// metaBatch caches address and token metadata during a fold so one
// transaction's effects land in the store as a single flush.
type metaBatch struct {
	st        storage.Store
	addrMeta  map[string]*storage.AddressMetadata
	tokenMeta map[string]*storage.TokenMetadata
}

func newMetaBatch(st storage.Store) *metaBatch {
	return &metaBatch{
		st:        st,
		addrMeta:  make(map[string]*storage.AddressMetadata),
		tokenMeta: make(map[string]*storage.TokenMetadata),
	}
}

func (b *metaBatch) address(ctx context.Context, addr string) (*storage.AddressMetadata, error) {
	if meta, ok := b.addrMeta[addr]; ok {
		return meta, nil
	}
	meta, err := b.st.GetAddressMetadata(ctx, addr)
	if storage.IsNotFound(err) {
		meta = &storage.AddressMetadata{}
	} else if err != nil {
		return nil, err
	}
	b.addrMeta[addr] = meta
	return meta, nil
}

func (b *metaBatch) token(ctx context.Context, token string) (*storage.TokenMetadata, error) {
	if meta, ok := b.tokenMeta[token]; ok {
		return meta, nil
	}
	meta, err := b.st.GetTokenMetadata(ctx, token)
	if storage.IsNotFound(err) {
		meta = &storage.TokenMetadata{}
	} else if err != nil {
		return nil, err
	}
	b.tokenMeta[token] = meta
	return meta, nil
}

func (b *metaBatch) addressBalance(ctx context.Context, addr, token string) (*storage.TokenBalance, error) {
	meta, err := b.address(ctx, addr)
	if err != nil {
		return nil, err
	}
	return meta.Balance(token), nil
}

func (b *metaBatch) tokenBalance(ctx context.Context, token string) (*storage.TokenBalance, error) {
	meta, err := b.token(ctx, token)
	if err != nil {
		return nil, err
	}
	return &meta.Balance, nil
}

func (b *metaBatch) bumpAddressTxCount(ctx context.Context, addr string) error {
	meta, err := b.address(ctx, addr)
	if err != nil {
		return err
	}
	meta.NumTransactions++
	return nil
}

func (b *metaBatch) bumpTokenTxCount(ctx context.Context, token string) error {
	meta, err := b.token(ctx, token)
	if err != nil {
		return err
	}
	meta.NumTransactions++
	return nil
}

func (b *metaBatch) flush(ctx context.Context) error {
	for addr, meta := range b.addrMeta {
		if err := b.st.SaveAddressMetadata(ctx, addr, meta); err != nil {
			return err
		}
	}
	for token, meta := range b.tokenMeta {
		if err := b.st.SaveTokenMetadata(ctx, token, meta); err != nil {
			return err
		}
	}
	return nil
}
