package txscript

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/pkg/errors"
)

// AddressVersion is the base58check version byte of P2PKH addresses on this
// network.
const AddressVersion byte = 0x28

// Hash160Size is the byte length of an address payload.
const Hash160Size = 20

// ErrInvalidAddress covers bad base58, bad checksum and wrong version byte.
var ErrInvalidAddress = errors.New("invalid address")

// AddressFromPubKey derives the base58 address for a compressed public key.
func AddressFromPubKey(compressed []byte) string {
	return AddressFromHash(btcutil.Hash160(compressed))
}

// AddressFromHash encodes a hash160 payload as a base58check address.
func AddressFromHash(hash []byte) string {
	return base58.CheckEncode(hash, AddressVersion)
}

// DecodeAddress validates an address and returns its hash160 payload.
func DecodeAddress(addr string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: %v", addr, err)
	}
	if version != AddressVersion {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: version byte %#x", addr, version)
	}
	if len(payload) != Hash160Size {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: payload length %d", addr, len(payload))
	}
	return payload, nil
}
