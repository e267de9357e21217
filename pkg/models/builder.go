package models

import (
	"math/big"
	"time"
)

type PayloadBuilder struct {
	payload *QueuePayload
}

func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{
		payload: &QueuePayload{
			TipReceiver: make([]TipReceiverItem, 0),
		},
	}
}

func (b *PayloadBuilder) WithDate(date time.Time) *PayloadBuilder {
	b.payload.Date = date
	return b
}

func (b *PayloadBuilder) WithBlockHeight(height string) *PayloadBuilder {
	b.payload.BlockHeight = height
	return b
}

func (b *PayloadBuilder) WithTxHash(hash string) *PayloadBuilder {
	if hash == "" {
		b.payload.TxHash = nil
		return b
	}
	b.payload.TxHash = &hash
	return b
}

func (b *PayloadBuilder) WithTip(tip TipReceiverItem) *PayloadBuilder {
	b.payload.TipReceiver = append(b.payload.TipReceiver, tip)
	return b
}

func (b *PayloadBuilder) WithFee(fee *big.Int) *PayloadBuilder {
	b.payload.FeeAmount = fee
	return b
}

func (b *PayloadBuilder) WithTransaction(op TransferOperation) *PayloadBuilder {
	b.payload.Transaction = &op
	return b
}

func (b *PayloadBuilder) Build() QueuePayload {
	return *b.payload
}
