package txcodec

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is a token quantity in the smallest indivisible unit. Monetary
// arithmetic is integer only; floats never touch balances.
type Amount uint64

// Format renders the amount with the network's decimal places, e.g.
// Amount(1025).Format(2) == "10.25".
func (a Amount) Format(decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -decimals)
	return d.StringFixed(decimals)
}
