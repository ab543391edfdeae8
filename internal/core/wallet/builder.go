package wallet

import (
	"context"
	"math/rand"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

// SendOutput is one requested output. Token defaults to the native token.
// When Data is set the output carries bytes instead of value and every
// other field except Value is ignored.
type SendOutput struct {
	Address  string
	Value    txcodec.Amount
	Token    string
	Timelock uint32
	Data     []byte
}

// SendRequest describes a spend. ChangeAddress defaults to the wallet's
// current address.
type SendRequest struct {
	Outputs       []*SendOutput
	ChangeAddress string
}

// BuiltTx is a fully constructed transaction plus the bookkeeping needed
// to sign it and to release its inputs on abort. It is built in one shot
// and not mutated afterwards except for filling input data and graph
// fields.
type BuiltTx struct {
	Tx *txcodec.Transaction
	// inputAddrs is the owner address of each input, index-aligned.
	inputAddrs []string
	// inputUtxos backs ReleaseInputs.
	inputUtxos []*storage.UTXO
}

// BuildTransaction selects inputs and constructs an unsigned transaction
// for the request. Inputs come out marked selected; call ReleaseInputs if
// the transaction will not be sent.
func (w *Wallet) BuildTransaction(ctx context.Context, req *SendRequest) (*BuiltTx, error) {
	params, err := w.Params()
	if err != nil {
		return nil, err
	}
	if len(req.Outputs) == 0 {
		return nil, errors.New("at least one output required")
	}

	// Total per token, preserving first-appearance order for the uid
	// array.
	perToken := make(map[string]txcodec.Amount)
	var tokenOrder []string
	for _, out := range req.Outputs {
		if out.Data != nil {
			// A data output burns one base unit of the native token.
			perToken[txcodec.NativeTokenID]++
			continue
		}
		token := out.Token
		if token == "" {
			token = txcodec.NativeTokenID
		}
		if _, seen := perToken[token]; !seen && token != txcodec.NativeTokenID {
			tokenOrder = append(tokenOrder, token)
		}
		perToken[token] += out.Value
	}

	tx := &txcodec.Transaction{Version: txcodec.TxVersion}
	tokenIndex := make(map[string]uint8)
	tokenIndex[txcodec.NativeTokenID] = 0
	for i, token := range tokenOrder {
		uid, err := chainhash.NewHashFromStr(token)
		if err != nil {
			return nil, errors.Wrapf(err, "bad token uid %s", token)
		}
		tx.Tokens = append(tx.Tokens, *uid)
		tokenIndex[token] = uint8(i + 1)
	}

	built := &BuiltTx{Tx: tx}
	fail := func(err error) (*BuiltTx, error) {
		w.releaseUtxos(ctx, built.inputUtxos)
		return nil, err
	}

	changeAddr := req.ChangeAddress
	if changeAddr == "" {
		info, err := w.GetCurrentAddress(ctx, true)
		if err != nil {
			return fail(err)
		}
		changeAddr = info.Address
	}

	var changeOutputs []*txcodec.Output
	for token, amount := range perToken {
		utxos, total, err := w.SelectInputs(ctx, token, amount)
		if err != nil {
			return fail(err)
		}
		built.inputUtxos = append(built.inputUtxos, utxos...)
		for _, u := range utxos {
			txid, err := chainhash.NewHashFromStr(u.TxID)
			if err != nil {
				return fail(errors.Wrapf(err, "bad utxo txid %s", u.TxID))
			}
			tx.Inputs = append(tx.Inputs, &txcodec.Input{TxID: *txid, Index: u.Index})
			built.inputAddrs = append(built.inputAddrs, u.Address)
		}
		if change := total - amount; change > 0 {
			script, err := txscript.PayToAddress(changeAddr, 0)
			if err != nil {
				return fail(err)
			}
			changeOutputs = append(changeOutputs, &txcodec.Output{
				Value:     change,
				TokenData: tokenIndex[token],
				Script:    script,
			})
		}
	}

	for _, out := range req.Outputs {
		if out.Data != nil {
			script, err := txscript.DataScript(out.Data)
			if err != nil {
				return fail(err)
			}
			tx.Outputs = append(tx.Outputs, &txcodec.Output{Value: 1, Script: script})
			continue
		}
		token := out.Token
		if token == "" {
			token = txcodec.NativeTokenID
		}
		script, err := txscript.PayToAddress(out.Address, out.Timelock)
		if err != nil {
			return fail(err)
		}
		tx.Outputs = append(tx.Outputs, &txcodec.Output{
			Value:     out.Value,
			TokenData: tokenIndex[token],
			Script:    script,
		})
	}
	tx.Outputs = append(tx.Outputs, changeOutputs...)
	// Change position leaks nothing when outputs are shuffled.
	rand.Shuffle(len(tx.Outputs), func(i, j int) {
		tx.Outputs[i], tx.Outputs[j] = tx.Outputs[j], tx.Outputs[i]
	})

	if params.MaxInputs > 0 && len(tx.Inputs) > params.MaxInputs {
		return fail(errors.Wrapf(txcodec.ErrTooManyInputs,
			"transaction needs %d inputs, network allows %d", len(tx.Inputs), params.MaxInputs))
	}
	if params.MaxOutputs > 0 && len(tx.Outputs) > params.MaxOutputs {
		return fail(errors.Wrapf(txcodec.ErrTooManyOutputs,
			"transaction has %d outputs, network allows %d", len(tx.Outputs), params.MaxOutputs))
	}
	if err := tx.Validate(); err != nil {
		return fail(err)
	}
	return built, nil
}

// SignTransaction fills every input's unlocking data. The wallet must
// hold signing keys.
func (w *Wallet) SignTransaction(ctx context.Context, built *BuiltTx) error {
	hash, err := built.Tx.SignHash()
	if err != nil {
		return err
	}
	for i, addr := range built.inputAddrs {
		info, err := w.store.GetAddress(ctx, addr)
		if err != nil {
			return errors.Wrapf(err, "error resolving input address %s", addr)
		}
		key, err := w.keys.PrivateKeyAt(info.Index)
		if err != nil {
			return err
		}
		sig := ecdsa.Sign(key, hash[:]).Serialize()
		data, err := txscript.UnlockP2PKH(sig, key.PubKey().SerializeCompressed())
		if err != nil {
			return err
		}
		built.Tx.Inputs[i].Data = data
	}
	return nil
}

// ReleaseInputs clears the selected-as-input marks of an abandoned build.
func (w *Wallet) ReleaseInputs(ctx context.Context, built *BuiltTx) {
	w.releaseUtxos(ctx, built.inputUtxos)
}
