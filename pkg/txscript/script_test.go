package txscript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testAddress(t *testing.T) string {
	t.Helper()
	hash := make([]byte, Hash160Size)
	for i := range hash {
		hash[i] = byte(i + 1)
	}
	return AddressFromHash(hash)
}

func TestPayToAddressRoundTrip(t *testing.T) {
	addr := testAddress(t)

	script, err := PayToAddress(addr, 0)
	require.NoError(t, err)
	parsed, err := Parse(script)
	require.NoError(t, err)
	require.Equal(t, ScriptP2PKH, parsed.Type)
	require.Equal(t, addr, parsed.Address)
	require.Zero(t, parsed.Timelock)
}

func TestPayToAddressWithTimelock(t *testing.T) {
	addr := testAddress(t)
	const timelock = uint32(1800000000)

	script, err := PayToAddress(addr, timelock)
	require.NoError(t, err)
	plain, err := PayToAddress(addr, 0)
	require.NoError(t, err)
	require.Equal(t, len(plain)+6, len(script))

	parsed, err := Parse(script)
	require.NoError(t, err)
	require.Equal(t, ScriptP2PKH, parsed.Type)
	require.Equal(t, addr, parsed.Address)
	require.Equal(t, timelock, parsed.Timelock)
}

func TestDataScript(t *testing.T) {
	payload := []byte("hello")
	script, err := DataScript(payload)
	require.NoError(t, err)

	parsed, err := Parse(script)
	require.NoError(t, err)
	require.Equal(t, ScriptData, parsed.Type)
	require.Equal(t, payload, parsed.Data)
	require.Empty(t, parsed.Address)

	_, err = DataScript(nil)
	require.ErrorIs(t, err, ErrMalformedScript)
}

func TestUnlockP2PKH(t *testing.T) {
	sig := []byte{0x30, 0x44, 0x02, 0x20}
	pub := []byte{0x02, 0xaa, 0xbb}
	data, err := UnlockP2PKH(sig, pub)
	require.NoError(t, err)
	require.Equal(t, byte(len(sig)), data[0])
	require.Equal(t, sig, data[1:1+len(sig)])
	require.Equal(t, byte(len(pub)), data[1+len(sig)])
	require.Equal(t, pub, data[2+len(sig):])

	_, err = UnlockP2PKH(nil, pub)
	require.ErrorIs(t, err, ErrMalformedScript)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrMalformedScript)
	_, err = Parse([]byte{0x00, 0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformedScript)
}

func TestDecodeAddress(t *testing.T) {
	addr := testAddress(t)
	hash, err := DecodeAddress(addr)
	require.NoError(t, err)
	require.Len(t, hash, Hash160Size)
	require.Equal(t, addr, AddressFromHash(hash))

	_, err = DecodeAddress("not-base58!!")
	require.ErrorIs(t, err, ErrInvalidAddress)

	// Wrong version byte fails even with a valid checksum.
	_, err = DecodeAddress("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	require.ErrorIs(t, err, ErrInvalidAddress)
}
