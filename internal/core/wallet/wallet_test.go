package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/internal/core/keychain"
	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	customToken  = "00000000000000000000000000000000000000000000000000000000000000aa"

	testNow      = uint32(1000)
	testTimelock = uint32(2000)
)

func fakeTxID(n int) string {
	return fmt.Sprintf("%064x", n)
}

// fakeNode implements the wallet's full-node surface in memory.
type fakeNode struct {
	params  *txcodec.Params
	pushed  []string
	jobTx   string
	polls   int
	failJob bool
}

func (f *fakeNode) GetParams(context.Context) (*txcodec.Params, error) {
	return f.params, nil
}

func (f *fakeNode) PushTx(_ context.Context, txHex string) error {
	f.pushed = append(f.pushed, txHex)
	return nil
}

func (f *fakeNode) SubmitJob(_ context.Context, txHex string) (*fullnode.MiningJob, error) {
	f.jobTx = txHex
	return &fullnode.MiningJob{JobID: "job-1", Status: fullnode.JobStatusPending}, nil
}

func (f *fakeNode) GetJobStatus(_ context.Context, jobID string) (*fullnode.MiningJob, error) {
	f.polls++
	if f.failJob {
		return &fullnode.MiningJob{JobID: jobID, Status: fullnode.JobStatusFailed, Message: "pow timeout"}, nil
	}
	if f.polls < 2 {
		return &fullnode.MiningJob{JobID: jobID, Status: fullnode.JobStatusMining}, nil
	}
	return &fullnode.MiningJob{
		JobID:     jobID,
		Status:    fullnode.JobStatusDone,
		Nonce:     424242,
		Timestamp: testNow + 1,
		Parents:   []string{fakeTxID(0xf1), fakeTxID(0xf2)},
	}, nil
}

func testParams() *txcodec.Params {
	return &txcodec.Params{
		MinTxWeight:          14,
		TxWeightCoefficient:  1.6,
		MinTxWeightK:         100,
		MaxInputs:            255,
		MaxOutputs:           255,
		DecimalPlaces:        2,
		RewardSpendMinBlocks: 10,
	}
}

func testWallet(t *testing.T) (*Wallet, storage.Store, *fakeNode) {
	t.Helper()
	keys, err := keychain.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	st := storage.NewMemoryStore(storage.MemoryStoreOpts{})
	node := &fakeNode{params: testParams()}

	w, err := New(Opts{
		Store: st,
		Cli:   node,
		Keys:  keys,
		Now:   func() uint32 { return testNow },
	})
	require.NoError(t, err)
	require.NoError(t, w.LoadParams(context.Background()))

	ctx := context.Background()
	infos, err := keys.DeriveRange(ctx, 0, 5)
	require.NoError(t, err)
	for _, info := range infos {
		require.NoError(t, st.SaveAddress(ctx, info))
	}
	return w, st, node
}

func ownedAddr(t *testing.T, st storage.Store, index uint32) string {
	t.Helper()
	info, err := st.GetAddressAtIndex(context.Background(), index)
	require.NoError(t, err)
	return info.Address
}

func foreignAddr() string {
	hash := make([]byte, txscript.Hash160Size)
	for i := range hash {
		hash[i] = 0xee
	}
	return txscript.AddressFromHash(hash)
}

// saveFixtureUtxos loads the wallet with three native outputs of 1 (one
// timelocked) and one custom token output of 1.
func saveFixtureUtxos(t *testing.T, st storage.Store, addr string) {
	t.Helper()
	ctx := context.Background()
	for i, u := range []*storage.UTXO{
		{Token: txcodec.NativeTokenID, Value: 1},
		{Token: txcodec.NativeTokenID, Value: 1, Timelock: testTimelock},
		{Token: txcodec.NativeTokenID, Value: 1},
		{Token: customToken, Value: 1},
	} {
		u.TxID = fakeTxID(i + 1)
		u.Address = addr
		require.NoError(t, st.SaveUTXO(ctx, u))
		if u.Timelock > 0 {
			require.NoError(t, st.SaveLockedUTXO(ctx, u))
		}
	}
}

func TestGetUtxosFixture(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	details, err := w.GetUtxos(ctx, UtxoFilter{})
	require.NoError(t, err)
	require.Len(t, details.Utxos, 3)
	require.Equal(t, txcodec.Amount(2), details.TotalAmountAvailable)
	require.Equal(t, 2, details.TotalUtxosAvailable)
	require.Equal(t, txcodec.Amount(1), details.TotalAmountLocked)
	require.Equal(t, 1, details.TotalUtxosLocked)

	details, err = w.GetUtxos(ctx, UtxoFilter{Token: customToken})
	require.NoError(t, err)
	require.Len(t, details.Utxos, 1)
	require.Equal(t, txcodec.Amount(1), details.TotalAmountAvailable)
	require.Zero(t, details.TotalUtxosLocked)
}

func TestGetUtxosCountsSelectedAsLocked(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	require.NoError(t, st.SetUtxoSelected(ctx, storage.UtxoID(fakeTxID(1), 0), true))

	details, err := w.GetUtxos(ctx, UtxoFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, details.TotalUtxosAvailable)
	require.Equal(t, 2, details.TotalUtxosLocked)

	details, err = w.GetUtxos(ctx, UtxoFilter{OnlyAvailable: true})
	require.NoError(t, err)
	require.Len(t, details.Utxos, 1)
}

func TestSelectInputs(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	utxos, total, err := w.SelectInputs(ctx, txcodec.NativeTokenID, 2)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Equal(t, txcodec.Amount(2), total)
	for _, u := range utxos {
		require.NotEqual(t, testTimelock, u.Timelock)
		selected, err := st.IsUtxoSelected(ctx, u.ID())
		require.NoError(t, err)
		require.True(t, selected)
	}

	// Everything spendable is now claimed.
	_, _, err = w.SelectInputs(ctx, txcodec.NativeTokenID, 1)
	require.True(t, IsInsufficientFunds(err))
}

func TestSelectInputsInsufficient(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	_, _, err := w.SelectInputs(ctx, txcodec.NativeTokenID, 10)
	require.True(t, IsInsufficientFunds(err))
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, txcodec.Amount(10), insufficient.Requested)
	require.Equal(t, txcodec.Amount(2), insufficient.Available)
	require.Equal(t,
		"insufficient funds for token 00: requested 0.10, available 0.02",
		insufficient.Error())

	// A failed selection releases its marks.
	var marked int
	require.NoError(t, st.ForEachUTXO(ctx, func(u *storage.UTXO) (bool, error) {
		selected, err := st.IsUtxoSelected(ctx, u.ID())
		require.NoError(t, err)
		if selected {
			marked++
		}
		return false, nil
	}))
	require.Zero(t, marked)
}

func TestBuildAndSignTransaction(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	addr := ownedAddr(t, st, 0)
	require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
		TxID: fakeTxID(9), Token: txcodec.NativeTokenID, Address: addr, Value: 100,
	}))

	built, err := w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{{Address: foreignAddr(), Value: 30}},
	})
	require.NoError(t, err)
	tx := built.Tx
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, txcodec.Amount(100), tx.OutputsSum())

	// The change output pays the wallet's own chain.
	var changeSeen bool
	for _, out := range tx.Outputs {
		parsed, err := txscript.Parse(out.Script)
		require.NoError(t, err)
		if out.Value == 70 {
			changeSeen = true
			_, err := st.GetAddress(ctx, parsed.Address)
			require.NoError(t, err)
		}
	}
	require.True(t, changeSeen)

	require.NoError(t, w.SignTransaction(ctx, built))
	hash, err := tx.SignHash()
	require.NoError(t, err)
	data := tx.Inputs[0].Data
	require.NotEmpty(t, data)

	sigLen := int(data[0])
	der := data[1 : 1+sigLen]
	sig, err := ecdsa.ParseDERSignature(der)
	require.NoError(t, err)
	key, err := w.keys.PrivateKeyAt(0)
	require.NoError(t, err)
	require.True(t, sig.Verify(hash[:], key.PubKey()))
}

func TestBuildTransactionMultiToken(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	addr := ownedAddr(t, st, 0)
	require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
		TxID: fakeTxID(9), Token: txcodec.NativeTokenID, Address: addr, Value: 50,
	}))
	require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
		TxID: fakeTxID(10), Token: customToken, Address: addr, Value: 20,
	}))

	built, err := w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{
			{Address: foreignAddr(), Value: 50},
			{Address: foreignAddr(), Value: 5, Token: customToken},
		},
	})
	require.NoError(t, err)
	tx := built.Tx
	require.Len(t, tx.Tokens, 1)
	require.Equal(t, customToken, tx.Tokens[0].String())
	require.Len(t, tx.Inputs, 2)

	// 50 native + 5 custom + 15 custom change.
	var customTotal txcodec.Amount
	for _, out := range tx.Outputs {
		if out.TokenData == 1 {
			customTotal += out.Value
		}
	}
	require.Equal(t, txcodec.Amount(20), customTotal)
}

func TestBuildTransactionRequiresParams(t *testing.T) {
	keys, err := keychain.NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	w, err := New(Opts{
		Store: storage.NewMemoryStore(storage.MemoryStoreOpts{}),
		Cli:   &fakeNode{params: testParams()},
		Keys:  keys,
	})
	require.NoError(t, err)

	_, err = w.BuildTransaction(context.Background(), &SendRequest{
		Outputs: []*SendOutput{{Address: foreignAddr(), Value: 1}},
	})
	require.ErrorIs(t, err, ErrParamsNotLoaded)
}

func TestSendStateMachine(t *testing.T) {
	ctx := context.Background()
	w, st, node := testWallet(t)
	addr := ownedAddr(t, st, 0)
	require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
		TxID: fakeTxID(9), Token: txcodec.NativeTokenID, Address: addr, Value: 100,
	}))

	built, err := w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{{Address: foreignAddr(), Value: 100}},
	})
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(ctx, built))

	send := w.NewSend(built)
	require.Equal(t, StateCreated, send.State())

	require.NoError(t, send.Step(ctx))
	require.Equal(t, StateJobSubmitted, send.State())
	require.NotEmpty(t, node.jobTx)
	require.Greater(t, built.Tx.Weight, 0.0)

	require.NoError(t, send.Step(ctx))
	require.Equal(t, StateJobDone, send.State())
	require.Equal(t, uint32(424242), built.Tx.Nonce)
	require.Len(t, built.Tx.Parents, 2)

	require.NoError(t, send.Step(ctx))
	require.Equal(t, StateSent, send.State())
	require.NotEmpty(t, send.TxID())
	require.Len(t, node.pushed, 1)

	// The broadcast bytes round-trip to the mined transaction.
	raw, err := hex.DecodeString(node.pushed[0])
	require.NoError(t, err)
	decoded, err := txcodec.Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, built.Tx, decoded)
}

func TestSendFailureReleasesInputs(t *testing.T) {
	ctx := context.Background()
	w, st, node := testWallet(t)
	node.failJob = true
	addr := ownedAddr(t, st, 0)
	utxo := &storage.UTXO{TxID: fakeTxID(9), Token: txcodec.NativeTokenID, Address: addr, Value: 100}
	require.NoError(t, st.SaveUTXO(ctx, utxo))

	built, err := w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{{Address: foreignAddr(), Value: 100}},
	})
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(ctx, built))

	selected, err := st.IsUtxoSelected(ctx, utxo.ID())
	require.NoError(t, err)
	require.True(t, selected)

	send := w.NewSend(built)
	require.Error(t, send.Run(ctx))
	require.Equal(t, StateFailed, send.State())
	require.Error(t, send.Err())

	selected, err = st.IsUtxoSelected(ctx, utxo.ID())
	require.NoError(t, err)
	require.False(t, selected)
}

func TestConsolidateUtxos(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	// Two unlocked native outputs plus a timelocked one; consolidation
	// sweeps all three.
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	result, err := w.ConsolidateUtxos(ctx, ownedAddr(t, st, 1), txcodec.NativeTokenID)
	require.NoError(t, err)
	require.Equal(t, txcodec.Amount(3), result.TotalAmount)
	require.Equal(t, 3, result.NumUtxos)
	require.NotEmpty(t, result.TxID)

	_, err = w.ConsolidateUtxos(ctx, "bogus-address", txcodec.NativeTokenID)
	require.ErrorIs(t, err, txscript.ErrInvalidAddress)
}

func TestConsolidateUtxosSkipsSelected(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	saveFixtureUtxos(t, st, ownedAddr(t, st, 0))

	require.NoError(t, st.SetUtxoSelected(ctx, storage.UtxoID(fakeTxID(1), 0), true))

	result, err := w.ConsolidateUtxos(ctx, ownedAddr(t, st, 1), txcodec.NativeTokenID)
	require.NoError(t, err)
	require.Equal(t, txcodec.Amount(2), result.TotalAmount)
	require.Equal(t, 2, result.NumUtxos)
}

func TestBuildTransactionCountLimits(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	addr := ownedAddr(t, st, 0)
	for i := 1; i <= 2; i++ {
		require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
			TxID: fakeTxID(i), Token: txcodec.NativeTokenID, Address: addr, Value: 1,
		}))
	}

	w.params.MaxInputs = 1
	_, err := w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{{Address: foreignAddr(), Value: 2}},
	})
	require.ErrorIs(t, err, txcodec.ErrTooManyInputs)

	w.params.MaxInputs = 255
	w.params.MaxOutputs = 1
	_, err = w.BuildTransaction(ctx, &SendRequest{
		Outputs: []*SendOutput{
			{Address: foreignAddr(), Value: 1},
			{Address: foreignAddr(), Value: 1},
		},
	})
	require.ErrorIs(t, err, txcodec.ErrTooManyOutputs)
}

func TestGetCurrentAddressRotation(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)

	first, err := w.GetCurrentAddress(ctx, false)
	require.NoError(t, err)
	again, err := w.GetCurrentAddress(ctx, false)
	require.NoError(t, err)
	require.Equal(t, first.Address, again.Address)

	used, err := w.GetCurrentAddress(ctx, true)
	require.NoError(t, err)
	require.Equal(t, first.Address, used.Address)

	next, err := w.GetCurrentAddress(ctx, false)
	require.NoError(t, err)
	require.Equal(t, first.Index+1, next.Index)
	require.NotEqual(t, first.Address, next.Address)

	data, err := st.GetWalletData(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(first.Index), data.LastUsedAddressIndex)
}

func TestRegisterToken(t *testing.T) {
	ctx := context.Background()
	w, _, _ := testWallet(t)

	cfg := &storage.TokenConfig{UID: customToken, Name: "Test Coin", Symbol: "TST"}
	require.NoError(t, w.RegisterToken(ctx, cfg))
	// Identical re-registration is fine.
	require.NoError(t, w.RegisterToken(ctx, cfg))

	conflict := &storage.TokenConfig{UID: customToken, Name: "Other Coin", Symbol: "OTH"}
	err := w.RegisterToken(ctx, conflict)
	require.ErrorIs(t, err, txcodec.ErrTokenValidation)

	bad := &storage.TokenConfig{UID: "bb", Name: "x", Symbol: strings.Repeat("s", 6)}
	err = w.RegisterToken(ctx, bad)
	require.ErrorIs(t, err, txcodec.ErrTokenValidation)
}

func TestBuildCreateToken(t *testing.T) {
	ctx := context.Background()
	w, st, _ := testWallet(t)
	addr := ownedAddr(t, st, 0)
	require.NoError(t, st.SaveUTXO(ctx, &storage.UTXO{
		TxID: fakeTxID(9), Token: txcodec.NativeTokenID, Address: addr, Value: 10,
	}))

	built, err := w.BuildCreateToken(ctx, &CreateTokenRequest{
		Name:       "Test Coin",
		Symbol:     "TST",
		Amount:     500,
		Address:    addr,
		CreateMint: true,
		CreateMelt: true,
	})
	require.NoError(t, err)
	tx := built.Tx
	require.Equal(t, uint16(txcodec.CreateTokenTxVersion), tx.Version)
	require.NotNil(t, tx.TokenInfo)

	// 500 units need a deposit of 5, leaving 5 change.
	var minted, change txcodec.Amount
	var mint, melt bool
	for _, out := range tx.Outputs {
		switch {
		case out.IsAuthority():
			mint = mint || out.CanMint()
			melt = melt || out.CanMelt()
		case out.TokenData == 1:
			minted += out.Value
		default:
			change += out.Value
		}
	}
	require.Equal(t, txcodec.Amount(500), minted)
	require.Equal(t, txcodec.Amount(5), change)
	require.True(t, mint)
	require.True(t, melt)

	require.NoError(t, w.SignTransaction(ctx, built))
	raw, err := tx.Serialize()
	require.NoError(t, err)
	decoded, err := txcodec.Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, tx.TokenInfo, decoded.TokenInfo)
}
