package txcodec

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		MinTxWeight:         14,
		TxWeightCoefficient: 1.6,
		MinTxWeightK:        100,
		MaxInputs:           255,
		MaxOutputs:          255,
		DecimalPlaces:       2,
	}
}

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func sampleTx() *Transaction {
	return &Transaction{
		Version: TxVersion,
		Tokens:  []chainhash.Hash{hashFromByte(0xaa)},
		Inputs: []*Input{
			{TxID: hashFromByte(0x01), Index: 0, Data: []byte{0x47, 0x30, 0x44}},
			{TxID: hashFromByte(0x02), Index: 3},
		},
		Outputs: []*Output{
			{Value: 1250, TokenData: 0, Script: []byte{0x76, 0xa9}},
			{Value: 7, TokenData: 1, Script: []byte{0x51}},
			{Value: AuthorityMint | AuthorityMelt, TokenData: 1 | TokenAuthorityMask, Script: []byte{0x52}},
		},
		Weight:    17.32,
		Timestamp: 1700000000,
		Nonce:     42,
		Parents:   []chainhash.Hash{hashFromByte(0x10), hashFromByte(0x11)},
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tx := sampleTx()
	raw, err := tx.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, tx, got)
}

func TestSerializeRoundTripWithHeaders(t *testing.T) {
	tx := sampleTx()
	tx.Headers = []Header{
		&NanoInvokeHeader{ContractID: hashFromByte(0xcc), Method: "swap", Args: []byte{1, 2, 3}},
		&FeeHeader{Entries: []FeeEntry{{TokenIndex: 0, Amount: 5}}},
	}
	raw, err := tx.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, tx, got)
}

func TestSerializeValueBoundary(t *testing.T) {
	for _, value := range []Amount{1, MaxOutputValue32, MaxOutputValue32 + 1, MaxOutputValue} {
		tx := &Transaction{
			Version: TxVersion,
			Outputs: []*Output{{Value: value, Script: []byte{0x51}}},
		}
		raw, err := tx.Serialize()
		require.NoError(t, err)
		got, err := Deserialize(raw)
		require.NoError(t, err)
		require.Equal(t, value, got.Outputs[0].Value)
	}
}

func TestSerializeValueWidth(t *testing.T) {
	short := &Transaction{Version: TxVersion, Outputs: []*Output{{Value: MaxOutputValue32, Script: []byte{0x51}}}}
	long := &Transaction{Version: TxVersion, Outputs: []*Output{{Value: MaxOutputValue32 + 1, Script: []byte{0x51}}}}

	rawShort, err := short.Serialize()
	require.NoError(t, err)
	rawLong, err := long.Serialize()
	require.NoError(t, err)
	require.Equal(t, len(rawShort)+4, len(rawLong))
}

func TestSerializeRejectsBadValues(t *testing.T) {
	zero := &Transaction{Version: TxVersion, Outputs: []*Output{{Value: 0, Script: []byte{0x51}}}}
	_, err := zero.Serialize()
	require.ErrorIs(t, err, ErrInvalidOutputValue)

	badAuth := &Transaction{Version: TxVersion, Outputs: []*Output{
		{Value: 8, TokenData: TokenAuthorityMask, Script: []byte{0x51}},
	}}
	_, err = badAuth.Serialize()
	require.ErrorIs(t, err, ErrInvalidOutputValue)
}

func TestSignDataExcludesInputData(t *testing.T) {
	tx := sampleTx()
	unsigned, err := tx.SignData()
	require.NoError(t, err)

	stripped := sampleTx()
	for _, in := range stripped.Inputs {
		in.Data = nil
	}
	strippedData, err := stripped.SignData()
	require.NoError(t, err)
	require.Equal(t, strippedData, unsigned)

	// Graph fields are chosen after signing and must not affect the hash.
	h1, err := tx.SignHash()
	require.NoError(t, err)
	tx.Nonce++
	tx.Timestamp++
	tx.Weight *= 2
	h2, err := tx.SignHash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	// Output changes do.
	tx.Outputs[0].Value++
	h3, err := tx.SignHash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestCreateTokenRoundTrip(t *testing.T) {
	tx := &Transaction{
		Version:   CreateTokenTxVersion,
		TokenInfo: &TokenInfo{Name: "Test Coin", Symbol: "TST"},
		Inputs:    []*Input{{TxID: hashFromByte(0x03), Index: 1}},
		Outputs: []*Output{
			{Value: 1000, TokenData: 1, Script: []byte{0x51}},
			{Value: AuthorityMint, TokenData: 1 | TokenAuthorityMask, Script: []byte{0x52}},
		},
		Timestamp: 1700000000,
	}
	raw, err := tx.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, tx, got)
}

func TestCreateTokenChecksum(t *testing.T) {
	tx := &Transaction{
		Version:   CreateTokenTxVersion,
		TokenInfo: &TokenInfo{Name: "Test Coin", Symbol: "TST"},
		Outputs:   []*Output{{Value: 1, TokenData: 1, Script: []byte{0x51}}},
	}
	raw, err := tx.Serialize()
	require.NoError(t, err)

	// Corrupt one checksum byte; it sits right before the graph fields.
	infoEnd := len(raw) - (8 + 4 + 1 + 4)
	raw[infoEnd-1] ^= 0xff
	_, err = Deserialize(raw)
	require.ErrorIs(t, err, ErrMalformedTx)
}

func TestDeserializeTruncated(t *testing.T) {
	raw, err := sampleTx().Serialize()
	require.NoError(t, err)
	for i := 1; i < len(raw); i++ {
		_, err := Deserialize(raw[:i])
		require.Error(t, err, "truncated at %d", i)
	}
}

func TestDeserializeUnknownHeader(t *testing.T) {
	raw, err := sampleTx().Serialize()
	require.NoError(t, err)
	raw = append(raw, 0x7f)
	_, err = Deserialize(raw)
	require.ErrorIs(t, err, ErrUnknownHeader)
}

func TestCalculateWeight(t *testing.T) {
	p := testParams()
	tx := sampleTx()
	weight, err := CalculateWeight(p, tx)
	require.NoError(t, err)
	require.Greater(t, weight, p.MinTxWeight)

	// A high minimum floors the result.
	floored := p
	floored.MinTxWeight = 25
	weight, err = CalculateWeight(floored, tx)
	require.NoError(t, err)
	require.InDelta(t, floored.MinTxWeight, weight, 1e-3)

	_, err = CalculateWeight(Params{}, tx)
	require.Error(t, err)
}

func TestTxIDIsStable(t *testing.T) {
	tx := sampleTx()
	id1, err := tx.TxID()
	require.NoError(t, err)
	id2, err := tx.TxID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	tx.Nonce++
	id3, err := tx.TxID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}
