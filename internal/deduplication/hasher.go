package deduplication

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

// Hash identifies a transfer by chain, tx hash and the transfer itself. A
// payload without a tx hash falls back to its block height.
func Hash(chainID string, payload models.QueuePayload) string {
	var builder strings.Builder
	builder.WriteString(chainID)
	builder.WriteByte('|')
	if payload.TxHash != nil {
		builder.WriteString(*payload.TxHash)
	} else {
		builder.WriteString("height:")
		builder.WriteString(payload.BlockHeight)
	}
	builder.WriteByte('|')
	if tx := payload.Transaction; tx != nil {
		builder.WriteString(tx.SenderAddress)
		builder.WriteByte('|')
		builder.WriteString(tx.ReceiverAddress)
		builder.WriteByte('|')
		builder.WriteString(tx.Amount.String())
	}

	sum := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}
