package txcodec

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// Serialize produces the broadcast encoding: the exact byte layout the
// network verifies, including unlocking data, graph fields and headers.
func (tx *Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.writeFundsFields(&buf, false); err != nil {
		return nil, err
	}
	if err := tx.writeGraphFields(&buf); err != nil {
		return nil, err
	}
	for _, h := range tx.Headers {
		buf.WriteByte(h.HeaderID())
		if err := h.serialize(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// SignData produces the sign-hash encoding: the funds fields with every
// input's unlocking data fixed to length zero and omitted. Graph fields are
// chosen after signing and are not covered.
func (tx *Transaction) SignData() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.writeFundsFields(&buf, true); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SignHash is the digest inputs commit to: double-SHA256 of the sign-hash
// encoding, byte-reversed.
func (tx *Transaction) SignHash() ([HashSize]byte, error) {
	var out [HashSize]byte
	data, err := tx.SignData()
	if err != nil {
		return out, err
	}
	digest := chainhash.DoubleHashB(data)
	for i, b := range digest {
		out[HashSize-1-i] = b
	}
	return out, nil
}

// TxID computes the transaction id over the broadcast encoding. The raw
// digest is kept in chainhash order; String() renders the reversed hex the
// network APIs use.
func (tx *Transaction) TxID() (chainhash.Hash, error) {
	data, err := tx.Serialize()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(data), nil
}

func (tx *Transaction) writeFundsFields(buf *bytes.Buffer, forSigning bool) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	var scratch [8]byte
	binary.BigEndian.PutUint16(scratch[:2], tx.Version)
	buf.Write(scratch[:2])

	if tx.Version != CreateTokenTxVersion {
		if len(tx.Tokens) > 0xff {
			return errors.New("token count must fit in one byte")
		}
		buf.WriteByte(byte(len(tx.Tokens)))
	}
	buf.WriteByte(byte(len(tx.Inputs)))
	buf.WriteByte(byte(len(tx.Outputs)))

	if tx.Version != CreateTokenTxVersion {
		for _, uid := range tx.Tokens {
			buf.Write(uid[:])
		}
	}

	for _, in := range tx.Inputs {
		buf.Write(in.TxID[:])
		buf.WriteByte(in.Index)
		if forSigning {
			binary.BigEndian.PutUint16(scratch[:2], 0)
			buf.Write(scratch[:2])
			continue
		}
		if len(in.Data) > 0xffff {
			return errors.New("input data too long")
		}
		binary.BigEndian.PutUint16(scratch[:2], uint16(len(in.Data)))
		buf.Write(scratch[:2])
		buf.Write(in.Data)
	}

	for _, out := range tx.Outputs {
		if err := writeOutputValue(buf, out.Value, out.IsAuthority()); err != nil {
			return err
		}
		buf.WriteByte(out.TokenData)
		if len(out.Script) > 0xffff {
			return errors.New("output script too long")
		}
		binary.BigEndian.PutUint16(scratch[:2], uint16(len(out.Script)))
		buf.Write(scratch[:2])
		buf.Write(out.Script)
	}

	if tx.Version == CreateTokenTxVersion {
		writeTokenInfo(buf, tx.TokenInfo)
	}
	return nil
}

func (tx *Transaction) writeGraphFields(buf *bytes.Buffer) error {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], math.Float64bits(tx.Weight))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], tx.Timestamp)
	buf.Write(scratch[:4])
	if len(tx.Parents) > MaxParents {
		return errors.WithStack(ErrTooManyParents)
	}
	buf.WriteByte(byte(len(tx.Parents)))
	for _, p := range tx.Parents {
		buf.Write(p[:])
	}
	binary.BigEndian.PutUint32(scratch[:4], tx.Nonce)
	buf.Write(scratch[:4])
	return nil
}

// writeOutputValue emits the 4-byte signed form for values up to the 32-bit
// threshold and the 8-byte signed encoding of the negated value above it.
// The sign bit of the first byte disambiguates the width on decode.
// Authority bitmasks always fit the short form.
func writeOutputValue(buf *bytes.Buffer, v Amount, authority bool) error {
	var scratch [8]byte
	if authority {
		binary.BigEndian.PutUint32(scratch[:4], uint32(v))
		buf.Write(scratch[:4])
		return nil
	}
	if v == 0 || uint64(v) > MaxOutputValue {
		return errors.Wrapf(ErrInvalidOutputValue, "value %d", v)
	}
	if uint64(v) > MaxOutputValue32 {
		binary.BigEndian.PutUint64(scratch[:], uint64(-int64(v)))
		buf.Write(scratch[:])
		return nil
	}
	binary.BigEndian.PutUint32(scratch[:4], uint32(v))
	buf.Write(scratch[:4])
	return nil
}

// writeTokenInfo emits the token creation block: version, length-prefixed
// name and symbol, and a 4-byte double-SHA256 checksum over those fields.
func writeTokenInfo(buf *bytes.Buffer, info *TokenInfo) {
	var block bytes.Buffer
	block.WriteByte(TokenInfoVersion)
	block.WriteByte(byte(len(info.Name)))
	block.WriteString(info.Name)
	block.WriteByte(byte(len(info.Symbol)))
	block.WriteString(info.Symbol)
	digest := chainhash.DoubleHashB(block.Bytes())
	block.Write(digest[:4])
	buf.Write(block.Bytes())
}
