package models

import (
	"math/big"
	"time"
)

type CryptoAmount struct {
	Amount *big.Int `json:"amount"`
	Unit   string   `json:"unit"`
}

func NewCryptoAmount(amount int64, unit string) CryptoAmount {
	return CryptoAmount{Amount: big.NewInt(amount), Unit: unit}
}

func (a CryptoAmount) Equal(other CryptoAmount) bool {
	if a.Unit != other.Unit {
		return false
	}
	return bigEqual(a.Amount, other.Amount)
}

func (a CryptoAmount) String() string {
	if a.Amount == nil {
		return a.Unit
	}
	return a.Amount.String() + a.Unit
}

type TransferOperation struct {
	Amount          CryptoAmount `json:"amount"`
	SenderAddress   string       `json:"senderAddress"`
	ReceiverAddress string       `json:"receiverAddress"`
}

func (t TransferOperation) Equal(other TransferOperation) bool {
	return t.SenderAddress == other.SenderAddress &&
		t.ReceiverAddress == other.ReceiverAddress &&
		t.Amount.Equal(other.Amount)
}

type TipReceiverItem struct {
	Address string       `json:"address"`
	Amount  CryptoAmount `json:"amount"`
}

// QueuePayload is the normalized unit forwarded to the broker.
type QueuePayload struct {
	Date        time.Time          `json:"date"`
	BlockHeight string             `json:"blockHeight"`
	TxHash      *string            `json:"txHash,omitempty"`
	TipReceiver []TipReceiverItem  `json:"tipReceiver"`
	FeeAmount   *big.Int           `json:"feeAmount,omitempty"`
	Transaction *TransferOperation `json:"transaction,omitempty"`
}

// NoOpPayload is the sentinel meaning "nothing worth queuing".
func NoOpPayload() QueuePayload {
	return QueuePayload{}
}

func (p QueuePayload) IsNoOp() bool {
	return p.Equal(NoOpPayload())
}

// Equal compares payloads by value. A nil and an empty tip list are equal.
func (p QueuePayload) Equal(other QueuePayload) bool {
	if !p.Date.Equal(other.Date) || p.BlockHeight != other.BlockHeight {
		return false
	}
	if (p.TxHash == nil) != (other.TxHash == nil) {
		return false
	}
	if p.TxHash != nil && *p.TxHash != *other.TxHash {
		return false
	}
	if !bigEqual(p.FeeAmount, other.FeeAmount) {
		return false
	}
	if (p.Transaction == nil) != (other.Transaction == nil) {
		return false
	}
	if p.Transaction != nil && !p.Transaction.Equal(*other.Transaction) {
		return false
	}
	if len(p.TipReceiver) != len(other.TipReceiver) {
		return false
	}
	for i := range p.TipReceiver {
		if p.TipReceiver[i].Address != other.TipReceiver[i].Address ||
			!p.TipReceiver[i].Amount.Equal(other.TipReceiver[i].Amount) {
			return false
		}
	}
	return true
}

// Map renders the payload as generic JSON-like values for expression filters.
func (p QueuePayload) Map() map[string]interface{} {
	m := map[string]interface{}{
		"date":        p.Date,
		"blockHeight": p.BlockHeight,
	}
	if p.TxHash != nil {
		m["txHash"] = *p.TxHash
	}
	if p.FeeAmount != nil {
		m["feeAmount"] = bigToValue(p.FeeAmount)
	}
	tips := make([]interface{}, 0, len(p.TipReceiver))
	for _, tip := range p.TipReceiver {
		tips = append(tips, map[string]interface{}{
			"address": tip.Address,
			"amount":  amountMap(tip.Amount),
		})
	}
	m["tipReceiver"] = tips
	if p.Transaction != nil {
		m["transaction"] = map[string]interface{}{
			"amount":          amountMap(p.Transaction.Amount),
			"senderAddress":   p.Transaction.SenderAddress,
			"receiverAddress": p.Transaction.ReceiverAddress,
		}
	}
	return m
}

func amountMap(a CryptoAmount) map[string]interface{} {
	return map[string]interface{}{
		"amount": bigToValue(a.Amount),
		"unit":   a.Unit,
	}
}

// bigToValue keeps amounts that fit in int64 numeric and falls back to the
// decimal string otherwise.
func bigToValue(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	if v.IsInt64() {
		return v.Int64()
	}
	return v.String()
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}
