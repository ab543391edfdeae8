package txcodec

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
)

// Header ids. Each header block on the wire is the id byte followed by a
// self-describing payload.
const (
	HeaderIDNanoInvoke uint8 = 0x10
	HeaderIDFee        uint8 = 0x11
)

// Header is a typed extension block appended after the graph fields.
type Header interface {
	HeaderID() uint8
	serialize(buf *bytes.Buffer) error
}

// NanoInvokeHeader invokes a method on a nano contract.
type NanoInvokeHeader struct {
	ContractID chainhash.Hash
	Method     string
	Args       []byte
}

func (h *NanoInvokeHeader) HeaderID() uint8 { return HeaderIDNanoInvoke }

func (h *NanoInvokeHeader) serialize(buf *bytes.Buffer) error {
	if len(h.Method) > 0xff {
		return errors.New("nano method name too long")
	}
	if len(h.Args) > 0xffff {
		return errors.New("nano args too long")
	}
	buf.Write(h.ContractID[:])
	buf.WriteByte(byte(len(h.Method)))
	buf.WriteString(h.Method)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(h.Args)))
	buf.Write(l[:])
	buf.Write(h.Args)
	return nil
}

// FeeHeader declares explicit fee amounts per token index.
type FeeHeader struct {
	Entries []FeeEntry
}

// FeeEntry charges Amount of the token at TokenIndex (0 = native).
type FeeEntry struct {
	TokenIndex uint8
	Amount     Amount
}

func (h *FeeHeader) HeaderID() uint8 { return HeaderIDFee }

func (h *FeeHeader) serialize(buf *bytes.Buffer) error {
	if len(h.Entries) > 0xff {
		return errors.New("too many fee entries")
	}
	buf.WriteByte(byte(len(h.Entries)))
	for _, e := range h.Entries {
		buf.WriteByte(e.TokenIndex)
		if err := writeOutputValue(buf, e.Amount, false); err != nil {
			return err
		}
	}
	return nil
}

func parseHeader(id uint8, c *cursor) (Header, error) {
	switch id {
	case HeaderIDNanoInvoke:
		h := &NanoInvokeHeader{}
		var err error
		if h.ContractID, err = c.hash(); err != nil {
			return nil, err
		}
		methodLen, err := c.u8()
		if err != nil {
			return nil, err
		}
		method, err := c.take(int(methodLen))
		if err != nil {
			return nil, err
		}
		h.Method = string(method)
		argsLen, err := c.u16()
		if err != nil {
			return nil, err
		}
		args, err := c.take(int(argsLen))
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			h.Args = append([]byte(nil), args...)
		}
		return h, nil
	case HeaderIDFee:
		h := &FeeHeader{}
		count, err := c.u8()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(count); i++ {
			idx, err := c.u8()
			if err != nil {
				return nil, err
			}
			amount, err := readValue(c)
			if err != nil {
				return nil, err
			}
			h.Entries = append(h.Entries, FeeEntry{TokenIndex: idx, Amount: Amount(amount)})
		}
		return h, nil
	default:
		return nil, errors.Wrapf(ErrUnknownHeader, "id %#x", id)
	}
}
