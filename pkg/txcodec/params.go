package txcodec

// Params holds the operating constants a full node reports during the
// version handshake. Weight calculation and pre-sign validation are
// undefined without them, so engine entry points take Params explicitly
// instead of reading shared globals.
type Params struct {
	MinTxWeight          float64 `json:"min_tx_weight"`
	TxWeightCoefficient  float64 `json:"min_tx_weight_coefficient"`
	MinTxWeightK         float64 `json:"min_tx_weight_k"`
	MaxInputs            int     `json:"max_number_inputs"`
	MaxOutputs           int     `json:"max_number_outputs"`
	DecimalPlaces        int32   `json:"decimal_places"`
	RewardSpendMinBlocks uint32  `json:"reward_spend_min_blocks"`
	NativeTokenName      string  `json:"native_token_name"`
	NativeTokenSymbol    string  `json:"native_token_symbol"`
}
