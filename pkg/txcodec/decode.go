package txcodec

import (
	"encoding/binary"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.b) - c.pos }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, errors.Wrapf(ErrMalformedTx, "need %d bytes at offset %d, have %d", n, c.pos, c.remaining())
	}
	out := c.b[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) hash() (chainhash.Hash, error) {
	var h chainhash.Hash
	b, err := c.take(HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Deserialize parses a broadcast encoding back into a Transaction. Every
// length field is bounds-checked; trailing garbage after the last header is
// an error.
func Deserialize(data []byte) (*Transaction, error) {
	c := &cursor{b: data}
	tx := &Transaction{}

	version, err := c.u16()
	if err != nil {
		return nil, err
	}
	tx.Version = version

	var tokenCount int
	if version != CreateTokenTxVersion {
		n, err := c.u8()
		if err != nil {
			return nil, err
		}
		tokenCount = int(n)
	}
	inputCount, err := c.u8()
	if err != nil {
		return nil, err
	}
	outputCount, err := c.u8()
	if err != nil {
		return nil, err
	}

	for i := 0; i < tokenCount; i++ {
		uid, err := c.hash()
		if err != nil {
			return nil, err
		}
		tx.Tokens = append(tx.Tokens, uid)
	}

	for i := 0; i < int(inputCount); i++ {
		in := &Input{}
		if in.TxID, err = c.hash(); err != nil {
			return nil, err
		}
		if in.Index, err = c.u8(); err != nil {
			return nil, err
		}
		dataLen, err := c.u16()
		if err != nil {
			return nil, err
		}
		if dataLen > 0 {
			raw, err := c.take(int(dataLen))
			if err != nil {
				return nil, err
			}
			in.Data = append([]byte(nil), raw...)
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	for i := 0; i < int(outputCount); i++ {
		out := &Output{}
		if out.Value, out.TokenData, err = readOutputValue(c); err != nil {
			return nil, err
		}
		scriptLen, err := c.u16()
		if err != nil {
			return nil, err
		}
		raw, err := c.take(int(scriptLen))
		if err != nil {
			return nil, err
		}
		out.Script = append([]byte(nil), raw...)
		tx.Outputs = append(tx.Outputs, out)
	}

	if version == CreateTokenTxVersion {
		if tx.TokenInfo, err = readTokenInfo(c); err != nil {
			return nil, err
		}
	}

	weightBits, err := c.take(8)
	if err != nil {
		return nil, err
	}
	tx.Weight = math.Float64frombits(binary.BigEndian.Uint64(weightBits))
	if tx.Timestamp, err = c.u32(); err != nil {
		return nil, err
	}
	parentCount, err := c.u8()
	if err != nil {
		return nil, err
	}
	if int(parentCount) > MaxParents {
		return nil, errors.Wrapf(ErrMalformedTx, "parent count %d", parentCount)
	}
	for i := 0; i < int(parentCount); i++ {
		p, err := c.hash()
		if err != nil {
			return nil, err
		}
		tx.Parents = append(tx.Parents, p)
	}
	if tx.Nonce, err = c.u32(); err != nil {
		return nil, err
	}

	for c.remaining() > 0 {
		id, err := c.u8()
		if err != nil {
			return nil, err
		}
		h, err := parseHeader(id, c)
		if err != nil {
			return nil, err
		}
		tx.Headers = append(tx.Headers, h)
	}

	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// readValue reads a wire value. The high bit of the first byte selects the
// 8-byte negated form.
func readValue(c *cursor) (uint64, error) {
	if c.remaining() < 1 {
		return 0, errors.Wrap(ErrMalformedTx, "missing value")
	}
	if c.b[c.pos]&0x80 != 0 {
		raw, err := c.take(8)
		if err != nil {
			return 0, err
		}
		neg := int64(binary.BigEndian.Uint64(raw))
		if neg >= 0 {
			return 0, errors.Wrap(ErrInvalidOutputValue, "long-form value not negative")
		}
		return uint64(-neg), nil
	}
	raw, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return uint64(binary.BigEndian.Uint32(raw)), nil
}

func readOutputValue(c *cursor) (Amount, uint8, error) {
	value, err := readValue(c)
	if err != nil {
		return 0, 0, err
	}
	tokenData, err := c.u8()
	if err != nil {
		return 0, 0, err
	}
	if tokenData&TokenAuthorityMask == 0 && (value == 0 || value > MaxOutputValue) {
		return 0, 0, errors.Wrapf(ErrInvalidOutputValue, "value %d", value)
	}
	return Amount(value), tokenData, nil
}

func readTokenInfo(c *cursor) (*TokenInfo, error) {
	start := c.pos
	ver, err := c.u8()
	if err != nil {
		return nil, err
	}
	if ver != TokenInfoVersion {
		return nil, errors.Wrapf(ErrMalformedTx, "token info version %d", ver)
	}
	nameLen, err := c.u8()
	if err != nil {
		return nil, err
	}
	name, err := c.take(int(nameLen))
	if err != nil {
		return nil, err
	}
	symbolLen, err := c.u8()
	if err != nil {
		return nil, err
	}
	symbol, err := c.take(int(symbolLen))
	if err != nil {
		return nil, err
	}
	digest := chainhash.DoubleHashB(c.b[start:c.pos])
	checksum, err := c.take(4)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 4; i++ {
		if checksum[i] != digest[i] {
			return nil, errors.Wrap(ErrMalformedTx, "token info checksum mismatch")
		}
	}
	return &TokenInfo{Name: string(name), Symbol: string(symbol)}, nil
}
