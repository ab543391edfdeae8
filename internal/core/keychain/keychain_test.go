package keychain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darwayne/utxo-ledger/pkg/txscript"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewFromMnemonic(t *testing.T) {
	keys, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	require.False(t, keys.WatchOnly())

	_, err = NewFromMnemonic("not a valid mnemonic", "")
	require.Error(t, err)
}

func TestDerivationIsDeterministic(t *testing.T) {
	a, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	b, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	for _, index := range []uint32{0, 1, 19, 1000} {
		addrA, err := a.AddressAt(index)
		require.NoError(t, err)
		addrB, err := b.AddressAt(index)
		require.NoError(t, err)
		require.Equal(t, addrA, addrB)
		// Derived addresses decode under the network version byte.
		_, err = txscript.DecodeAddress(addrA)
		require.NoError(t, err)
	}

	// A different passphrase derives a different wallet.
	c, err := NewFromMnemonic(testMnemonic, "trezor")
	require.NoError(t, err)
	addrA, err := a.AddressAt(0)
	require.NoError(t, err)
	addrC, err := c.AddressAt(0)
	require.NoError(t, err)
	require.NotEqual(t, addrA, addrC)
}

func TestXPubRoundTrip(t *testing.T) {
	signing, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	xpub, err := signing.XPub()
	require.NoError(t, err)

	watch, err := NewFromXPub(xpub)
	require.NoError(t, err)
	require.True(t, watch.WatchOnly())

	for _, index := range []uint32{0, 7, 42} {
		want, err := signing.AddressAt(index)
		require.NoError(t, err)
		got, err := watch.AddressAt(index)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err = watch.PrivateKeyAt(0)
	require.ErrorIs(t, err, ErrWatchOnly)
}

func TestPrivateKeyMatchesAddress(t *testing.T) {
	keys, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	for _, index := range []uint32{0, 3} {
		key, err := keys.PrivateKeyAt(index)
		require.NoError(t, err)
		addr, err := keys.AddressAt(index)
		require.NoError(t, err)
		require.Equal(t, addr, txscript.AddressFromPubKey(key.PubKey().SerializeCompressed()))
	}
}

func TestDeriveRange(t *testing.T) {
	keys, err := NewFromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	infos, err := keys.DeriveRange(context.Background(), 5, 40)
	require.NoError(t, err)
	require.Len(t, infos, 40)
	for i, info := range infos {
		require.Equal(t, uint32(5+i), info.Index)
		want, err := keys.AddressAt(info.Index)
		require.NoError(t, err)
		require.Equal(t, want, info.Address)
	}

	infos, err = keys.DeriveRange(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Empty(t, infos)
}
