package txcodec

import (
	"math"

	"github.com/pkg/errors"
)

// weightEpsilon nudges the result above the node's own calculation so
// floating point rounding never rejects the transaction.
const weightEpsilon = 1e-6

// CalculateWeight derives the proof-of-work difficulty for a transaction
// from its encoded size and transferred amount:
//
//	max(minWeight, coefficient*log2(size) + 4/(1 + minWeightK/amount) + 4) + eps
//
// When the parents are not chosen yet, size is adjusted as if the maximum
// parent count were present.
func CalculateWeight(p Params, tx *Transaction) (float64, error) {
	if p.MinTxWeight <= 0 || p.TxWeightCoefficient <= 0 || p.MinTxWeightK <= 0 {
		return 0, errors.New("weight constants not set")
	}
	data, err := tx.Serialize()
	if err != nil {
		return 0, err
	}
	size := float64(len(data))
	if missing := MaxParents - len(tx.Parents); missing > 0 {
		size += float64(missing * HashSize)
	}

	sum := tx.OutputsSum()
	if sum == 0 {
		sum = 1
	}
	amount := float64(sum) / math.Pow10(int(p.DecimalPlaces))

	weight := p.TxWeightCoefficient*math.Log2(size) + 4/(1+p.MinTxWeightK/amount) + 4
	if weight < p.MinTxWeight {
		weight = p.MinTxWeight
	}
	return weight + weightEpsilon, nil
}
