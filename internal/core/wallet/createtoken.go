package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"

	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

// tokenDepositDivisor sets the native-token deposit a token creation
// requires: one base unit per hundred units minted, rounded up.
const tokenDepositDivisor = 100

// CreateTokenRequest describes a new token. Amount is the initial mint,
// credited to Address. CreateMint/CreateMelt control whether authority
// outputs for further supply changes are kept.
type CreateTokenRequest struct {
	Name       string
	Symbol     string
	Amount     txcodec.Amount
	Address    string
	CreateMint bool
	CreateMelt bool
}

// depositFor is the native amount locked by minting amount tokens.
func depositFor(amount txcodec.Amount) txcodec.Amount {
	return (amount + tokenDepositDivisor - 1) / tokenDepositDivisor
}

// BuildCreateToken constructs an unsigned create-token transaction. The
// created token's uid is the transaction's own id, known once mined.
func (w *Wallet) BuildCreateToken(ctx context.Context, req *CreateTokenRequest) (*BuiltTx, error) {
	if _, err := w.Params(); err != nil {
		return nil, err
	}
	info := &txcodec.TokenInfo{Name: req.Name, Symbol: req.Symbol}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, errors.New("token amount must be positive")
	}

	deposit := depositFor(req.Amount)
	utxos, total, err := w.SelectInputs(ctx, txcodec.NativeTokenID, deposit)
	if err != nil {
		return nil, err
	}

	tx := &txcodec.Transaction{Version: txcodec.CreateTokenTxVersion, TokenInfo: info}
	built := &BuiltTx{Tx: tx, inputUtxos: utxos}
	fail := func(err error) (*BuiltTx, error) {
		w.releaseUtxos(ctx, utxos)
		return nil, err
	}

	for _, u := range utxos {
		txid, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return fail(errors.Wrapf(err, "bad utxo txid %s", u.TxID))
		}
		tx.Inputs = append(tx.Inputs, &txcodec.Input{TxID: *txid, Index: u.Index})
		built.inputAddrs = append(built.inputAddrs, u.Address)
	}

	script, err := txscript.PayToAddress(req.Address, 0)
	if err != nil {
		return fail(err)
	}
	// Minted supply; token index 1 refers to the token being created.
	tx.Outputs = append(tx.Outputs, &txcodec.Output{
		Value:     req.Amount,
		TokenData: 1,
		Script:    script,
	})
	if req.CreateMint {
		tx.Outputs = append(tx.Outputs, &txcodec.Output{
			Value:     txcodec.AuthorityMint,
			TokenData: 1 | txcodec.TokenAuthorityMask,
			Script:    script,
		})
	}
	if req.CreateMelt {
		tx.Outputs = append(tx.Outputs, &txcodec.Output{
			Value:     txcodec.AuthorityMelt,
			TokenData: 1 | txcodec.TokenAuthorityMask,
			Script:    script,
		})
	}
	if change := total - deposit; change > 0 {
		cur, err := w.GetCurrentAddress(ctx, true)
		if err != nil {
			return fail(err)
		}
		changeScript, err := txscript.PayToAddress(cur.Address, 0)
		if err != nil {
			return fail(err)
		}
		tx.Outputs = append(tx.Outputs, &txcodec.Output{Value: change, Script: changeScript})
	}

	if err := tx.Validate(); err != nil {
		return fail(err)
	}
	return built, nil
}
