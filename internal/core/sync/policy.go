package sync

import (
	"github.com/pkg/errors"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
)

// Policy decides which derivation indexes still need loading. NextRange
// returns the next contiguous range to derive and scan; ok is false once
// the policy is satisfied.
type Policy interface {
	Name() string
	NextRange(data *storage.WalletData) (start uint32, count int, ok bool)
}

// GapLimit keeps Gap consecutive unused addresses loaded beyond the last
// used one. Every use of a high address extends the scan window.
type GapLimit struct {
	Gap uint32
}

func (g GapLimit) Name() string { return storage.PolicyGapLimit }

func (g GapLimit) NextRange(data *storage.WalletData) (uint32, int, bool) {
	gap := int64(g.Gap)
	want := data.LastUsedAddressIndex + gap
	if data.LastLoadedAddressIndex >= want {
		return 0, 0, false
	}
	start := data.LastLoadedAddressIndex + 1
	return uint32(start), int(want - start + 1), true
}

// IndexLimit loads exactly the closed range [Start, End] and never
// extends it, regardless of address use.
type IndexLimit struct {
	Start uint32
	End   uint32
}

func (l IndexLimit) Name() string { return storage.PolicyIndexLimit }

func (l IndexLimit) NextRange(data *storage.WalletData) (uint32, int, bool) {
	if l.End < l.Start {
		return 0, 0, false
	}
	start := int64(l.Start)
	if data.LastLoadedAddressIndex+1 > start {
		start = data.LastLoadedAddressIndex + 1
	}
	if start > int64(l.End) {
		return 0, 0, false
	}
	return uint32(start), int(int64(l.End) - start + 1), true
}

// PolicyFromWalletData rebuilds the configured policy from persisted
// wallet data, so a reopened wallet scans the same way it did before.
func PolicyFromWalletData(data *storage.WalletData) (Policy, error) {
	switch data.ScanPolicy {
	case storage.PolicyGapLimit, "":
		gap := data.GapLimit
		if gap == 0 {
			gap = 20
		}
		return GapLimit{Gap: gap}, nil
	case storage.PolicyIndexLimit:
		return IndexLimit{Start: data.IndexStart, End: data.IndexEnd}, nil
	default:
		return nil, errors.Errorf("unknown scan policy %q", data.ScanPolicy)
	}
}
