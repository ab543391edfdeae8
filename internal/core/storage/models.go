package storage

import (
	"fmt"

	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/pkg/errors"
)

// DecodedScript is the node's decoded view of an output script.
type DecodedScript struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	Timelock uint32 `json:"timelock"`
}

// TxOutput is an output as delivered by the address-history API.
type TxOutput struct {
	Value     txcodec.Amount `json:"value"`
	TokenData uint8          `json:"token_data"`
	Script    []byte         `json:"script"`
	Decoded   DecodedScript  `json:"decoded"`
	// SpentBy is the id of the spending transaction, empty while unspent.
	SpentBy string `json:"spent_by"`
}

// TxInput is a resolved input: the node echoes the value, token data and
// decoded script of the output being spent.
type TxInput struct {
	TxID      string         `json:"tx_id"`
	Index     uint8          `json:"index"`
	Value     txcodec.Amount `json:"value"`
	TokenData uint8          `json:"token_data"`
	Script    []byte         `json:"script"`
	Decoded   DecodedScript  `json:"decoded"`
}

// HistoryTx is a wallet-relevant transaction in the form stored and
// iterated by the ledger engine.
type HistoryTx struct {
	TxID      string      `json:"tx_id"`
	Version   uint16      `json:"version"`
	Weight    float64     `json:"weight"`
	Timestamp uint32      `json:"timestamp"`
	IsVoided  bool        `json:"is_voided"`
	Inputs    []*TxInput  `json:"inputs"`
	Outputs   []*TxOutput `json:"outputs"`
	Parents   []string    `json:"parents"`
	Tokens    []string    `json:"tokens"`
	// Height is set when the transaction is a block reward; reward outputs
	// stay locked until the chain grows past the reward lock.
	Height uint32 `json:"height"`
}

// IsAuthority reports whether the output grants authorities.
func (o *TxOutput) IsAuthority() bool { return o.TokenData&txcodec.TokenAuthorityMask != 0 }

// CanMint reports mint permission on an authority output.
func (o *TxOutput) CanMint() bool {
	return o.IsAuthority() && uint64(o.Value)&txcodec.AuthorityMint != 0
}

// CanMelt reports melt permission on an authority output.
func (o *TxOutput) CanMelt() bool {
	return o.IsAuthority() && uint64(o.Value)&txcodec.AuthorityMelt != 0
}

// IsAuthority reports whether the spent output granted authorities.
func (i *TxInput) IsAuthority() bool { return i.TokenData&txcodec.TokenAuthorityMask != 0 }

// TokenForData resolves a token-data byte against the transaction's token
// uid list.
func (tx *HistoryTx) TokenForData(tokenData uint8) (string, error) {
	idx := int(tokenData & txcodec.TokenIndexMask)
	if idx == 0 {
		return txcodec.NativeTokenID, nil
	}
	if idx-1 >= len(tx.Tokens) {
		return "", errors.Errorf("tx %s: token index %d out of range (%d tokens)", tx.TxID, idx, len(tx.Tokens))
	}
	return tx.Tokens[idx-1], nil
}

// AddressInfo binds a base58 address to its BIP32 derivation index.
type AddressInfo struct {
	Address string `json:"address"`
	Index   uint32 `json:"index"`
}

// UTXO is a spendable (or still locked) output owned by the wallet.
type UTXO struct {
	TxID    string         `json:"tx_id"`
	Index   uint8          `json:"index"`
	Token   string         `json:"token"`
	Address string         `json:"address"`
	Value   txcodec.Amount `json:"value"`
	// Authorities carries the mint/melt bits for authority outputs; zero
	// for monetary outputs.
	Authorities uint64 `json:"authorities"`
	Timelock    uint32 `json:"timelock"`
	Height      uint32 `json:"height"`
}

// ID is the store key, txid:index.
func (u *UTXO) ID() string { return UtxoID(u.TxID, u.Index) }

// UtxoID builds the store key for an output reference.
func UtxoID(txID string, index uint8) string { return fmt.Sprintf("%s:%d", txID, index) }

// IsAuthority reports whether the UTXO is an authority output.
func (u *UTXO) IsAuthority() bool { return u.Authorities != 0 }

// TokenBalance tracks one token's funds and authorities for an address or
// for the whole wallet. Authority counters count outputs, not value.
type TokenBalance struct {
	Unlocked txcodec.Amount `json:"unlocked"`
	Locked   txcodec.Amount `json:"locked"`

	MintUnlocked uint32 `json:"mint_unlocked"`
	MintLocked   uint32 `json:"mint_locked"`
	MeltUnlocked uint32 `json:"melt_unlocked"`
	MeltLocked   uint32 `json:"melt_locked"`
}

// Total is unlocked plus locked funds.
func (b *TokenBalance) Total() txcodec.Amount { return b.Unlocked + b.Locked }

// AddressMetadata is derived state for one address: how many transactions
// touched it and its balance per token.
type AddressMetadata struct {
	NumTransactions int                      `json:"num_transactions"`
	Balances        map[string]*TokenBalance `json:"balances"`
}

// Balance returns the balance bucket for a token, creating it on first use.
func (m *AddressMetadata) Balance(token string) *TokenBalance {
	if m.Balances == nil {
		m.Balances = make(map[string]*TokenBalance)
	}
	b, ok := m.Balances[token]
	if !ok {
		b = &TokenBalance{}
		m.Balances[token] = b
	}
	return b
}

// TokenMetadata is derived wallet-wide state for one token.
type TokenMetadata struct {
	NumTransactions int          `json:"num_transactions"`
	Balance         TokenBalance `json:"balance"`
}

// TokenConfig is the registered name/symbol of a token.
type TokenConfig struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Scanning policy names persisted in WalletData.
const (
	PolicyGapLimit   = "gap-limit"
	PolicyIndexLimit = "index-limit"
)

// WalletData is the wallet's address bookkeeping plus the active scanning
// policy and its parameters. Index fields are -1 before first use.
type WalletData struct {
	LastLoadedAddressIndex int64 `json:"last_loaded_address_index"`
	LastUsedAddressIndex   int64 `json:"last_used_address_index"`
	CurrentAddressIndex    int64 `json:"current_address_index"`

	ScanPolicy string `json:"scan_policy"`
	GapLimit   uint32 `json:"gap_limit"`
	IndexStart uint32 `json:"index_start"`
	IndexEnd   uint32 `json:"index_end"`
}

// NewWalletData returns wallet data with nothing loaded and the gap-limit
// policy active.
func NewWalletData(gapLimit uint32) *WalletData {
	return &WalletData{
		LastLoadedAddressIndex: -1,
		LastUsedAddressIndex:   -1,
		CurrentAddressIndex:    0,
		ScanPolicy:             PolicyGapLimit,
		GapLimit:               gapLimit,
	}
}
