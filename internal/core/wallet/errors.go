package wallet

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

// ErrParamsNotLoaded is returned by operations that need network
// parameters before LoadParams has run.
var ErrParamsNotLoaded = errors.New("network parameters not loaded")

// InsufficientFundsError reports a selection that could not cover the
// requested amount. Available counts every spendable UTXO of the token,
// excluding locked outputs and outputs already selected elsewhere.
type InsufficientFundsError struct {
	Token     string
	Requested txcodec.Amount
	Available txcodec.Amount
	// Decimals renders the amounts in the network's decimal notation.
	Decimals int32
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for token %s: requested %s, available %s",
		e.Token, e.Requested.Format(e.Decimals), e.Available.Format(e.Decimals))
}

// IsInsufficientFunds reports whether err is a failed selection.
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}
