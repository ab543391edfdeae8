package txscript

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Script opcodes used by this network.
const (
	OpGreaterThanTimestamp = 0x6f
	OpDup                  = 0x76
	OpEqualVerify          = 0x88
	OpHash160              = 0xa9
	OpCheckSig             = 0xac
)

// ErrMalformedScript is returned when a script cannot be parsed.
var ErrMalformedScript = errors.New("malformed script")

// ScriptType classifies a parsed output script.
type ScriptType string

const (
	// ScriptP2PKH locks an output to an address, optionally behind a
	// timelock.
	ScriptP2PKH ScriptType = "p2pkh"
	// ScriptData carries arbitrary bytes and no spendable value owner.
	ScriptData ScriptType = "data"
)

// ParsedScript is the decoded form of an output script.
type ParsedScript struct {
	Type     ScriptType
	Address  string
	Timelock uint32
	Data     []byte
}

// PayToAddress builds the spending script for an address. A non-zero
// timelock prefixes the script with the earliest spend timestamp.
func PayToAddress(addr string, timelock uint32) ([]byte, error) {
	hash, err := DecodeAddress(addr)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if timelock > 0 {
		var ts [4]byte
		binary.BigEndian.PutUint32(ts[:], timelock)
		buf.WriteByte(4)
		buf.Write(ts[:])
		buf.WriteByte(OpGreaterThanTimestamp)
	}
	buf.WriteByte(OpDup)
	buf.WriteByte(OpHash160)
	buf.WriteByte(Hash160Size)
	buf.Write(hash)
	buf.WriteByte(OpEqualVerify)
	buf.WriteByte(OpCheckSig)
	return buf.Bytes(), nil
}

// DataScript builds a data-carrying output script. Data outputs hold no
// spendable value for any address.
func DataScript(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > 0xff {
		return nil, errors.Wrapf(ErrMalformedScript, "data length %d", len(data))
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len(data)))
	buf.Write(data)
	buf.WriteByte(OpCheckSig)
	return buf.Bytes(), nil
}

// UnlockP2PKH builds the input data that satisfies a P2PKH script:
// length-prefixed signature followed by the length-prefixed public key.
func UnlockP2PKH(sig, pubKey []byte) ([]byte, error) {
	if len(sig) == 0 || len(sig) > 0xff || len(pubKey) == 0 || len(pubKey) > 0xff {
		return nil, errors.Wrap(ErrMalformedScript, "bad signature or public key length")
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len(sig)))
	buf.Write(sig)
	buf.WriteByte(byte(len(pubKey)))
	buf.Write(pubKey)
	return buf.Bytes(), nil
}

// Parse decodes an output script into its type, address and timelock.
func Parse(script []byte) (*ParsedScript, error) {
	if len(script) == 0 {
		return nil, errors.Wrap(ErrMalformedScript, "empty script")
	}

	rest := script
	var timelock uint32
	if rest[0] == 4 && len(rest) >= 6 && rest[5] == OpGreaterThanTimestamp {
		timelock = binary.BigEndian.Uint32(rest[1:5])
		rest = rest[6:]
	}

	if len(rest) == 3+Hash160Size+2 && rest[0] == OpDup && rest[1] == OpHash160 && rest[2] == Hash160Size &&
		rest[3+Hash160Size] == OpEqualVerify && rest[3+Hash160Size+1] == OpCheckSig {
		hash := rest[3 : 3+Hash160Size]
		return &ParsedScript{
			Type:     ScriptP2PKH,
			Address:  AddressFromHash(hash),
			Timelock: timelock,
		}, nil
	}

	if timelock == 0 && len(script) >= 2 && int(script[0]) == len(script)-2 && script[len(script)-1] == OpCheckSig {
		return &ParsedScript{
			Type: ScriptData,
			Data: append([]byte(nil), script[1:len(script)-1]...),
		}, nil
	}

	return nil, errors.Wrapf(ErrMalformedScript, "unrecognized script of %d bytes", len(script))
}
