package txcodec

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// Transaction is the in-memory form of a network transaction. Build it with
// the funds fields (tokens, inputs, outputs), sign, then fill the graph
// fields (weight, timestamp, parents, nonce) before broadcasting.
type Transaction struct {
	Version uint16
	// Tokens lists the uids of every non-native token referenced by the
	// outputs. Token index i in a token-data byte refers to Tokens[i-1];
	// index 0 is always the native token.
	Tokens  []chainhash.Hash
	Inputs  []*Input
	Outputs []*Output
	// TokenInfo is only present on create-token transactions.
	TokenInfo *TokenInfo
	// Headers are optional typed extension blocks appended after the graph
	// fields.
	Headers []Header

	Weight    float64
	Timestamp uint32
	Nonce     uint32
	Parents   []chainhash.Hash
}

// Input spends output Index of the transaction identified by TxID. Data is
// the unlocking script; it stays empty until the input is signed.
type Input struct {
	TxID  chainhash.Hash
	Index uint8
	Data  []byte
}

// Output locks Value under Script. TokenData encodes the token index and
// the authority flag.
type Output struct {
	Value     Amount
	TokenData uint8
	Script    []byte
}

// TokenInfo describes the token being created by a create-token
// transaction.
type TokenInfo struct {
	Name   string
	Symbol string
}

// IsAuthority reports whether the output grants authorities instead of
// carrying a monetary amount.
func (o *Output) IsAuthority() bool {
	return o.TokenData&TokenAuthorityMask != 0
}

// CanMint reports whether an authority output grants mint permission.
func (o *Output) CanMint() bool {
	return o.IsAuthority() && uint64(o.Value)&AuthorityMint != 0
}

// CanMelt reports whether an authority output grants melt permission.
func (o *Output) CanMelt() bool {
	return o.IsAuthority() && uint64(o.Value)&AuthorityMelt != 0
}

// TokenIndex returns the index into the token uid array; 0 means the native
// token.
func (o *Output) TokenIndex() int {
	return int(o.TokenData & TokenIndexMask)
}

// TokenUID resolves the output's token against the transaction's uid array.
// The native token resolves to the zero hash.
func (tx *Transaction) TokenUID(o *Output) (chainhash.Hash, error) {
	idx := o.TokenIndex()
	if idx == 0 {
		return chainhash.Hash{}, nil
	}
	if idx-1 >= len(tx.Tokens) {
		return chainhash.Hash{}, errors.Errorf("token index %d out of range (%d tokens)", idx, len(tx.Tokens))
	}
	return tx.Tokens[idx-1], nil
}

// OutputsSum is the total monetary value of non-authority outputs.
func (tx *Transaction) OutputsSum() Amount {
	var sum Amount
	for _, o := range tx.Outputs {
		if o.IsAuthority() {
			continue
		}
		sum += o.Value
	}
	return sum
}

// Validate checks the structural limits that can be verified without
// network parameters.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) > 0xff || len(tx.Outputs) > 0xff {
		return errors.New("input and output counts must fit in one byte")
	}
	if len(tx.Parents) > MaxParents {
		return errors.WithStack(ErrTooManyParents)
	}
	for i, o := range tx.Outputs {
		if o.IsAuthority() {
			if uint64(o.Value)&^AuthorityAll != 0 {
				return errors.Wrapf(ErrInvalidOutputValue, "output %d: unknown authority bits %#x", i, o.Value)
			}
			continue
		}
		if o.Value == 0 || uint64(o.Value) > MaxOutputValue {
			return errors.Wrapf(ErrInvalidOutputValue, "output %d: value %d", i, o.Value)
		}
	}
	if tx.Version == CreateTokenTxVersion {
		if tx.TokenInfo == nil {
			return errors.New("create-token transaction missing token info")
		}
		if err := tx.TokenInfo.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks name and symbol bounds.
func (i *TokenInfo) Validate() error {
	if i.Name == "" || len(i.Name) > MaxTokenNameLen {
		return errors.Wrapf(ErrTokenValidation, "token name length %d", len(i.Name))
	}
	if i.Symbol == "" || len(i.Symbol) > MaxTokenSymbolLen {
		return errors.Wrapf(ErrTokenValidation, "token symbol length %d", len(i.Symbol))
	}
	return nil
}
