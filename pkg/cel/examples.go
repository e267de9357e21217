package cel

// FilterExpressionExamples lists payload filters accepted by filter.expression.
var FilterExpressionExamples = map[string]string{
	"min_amount":      `has(payload.transaction) && payload.transaction.amount.amount > 1000000`,
	"denom":           `has(payload.transaction) && payload.transaction.amount.unit == "uatom"`,
	"sender":          `has(payload.transaction) && payload.transaction.senderAddress == "cosmos1sender"`,
	"receiver_prefix": `has(payload.transaction) && payload.transaction.receiverAddress.startsWith("osmo1")`,
	"has_fee":         `has(payload.feeAmount)`,
	"with_tips":       `size(payload.tipReceiver) > 0`,
	"chain":           `chain in ["cosmos_hub", "osmosis"]`,
	"tx_hash":         `has(payload.txHash) && payload.txHash != ""`,
	"combined":        `chain == "injective" && has(payload.transaction) && payload.transaction.amount.amount >= 1000`,
}
