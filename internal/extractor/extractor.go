// Package extractor turns CometBFT transaction notifications into normalized
// queue payloads.
package extractor

import (
	"math/big"
	"time"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

const (
	eventTransfer  = "transfer"
	eventFeePay    = "fee_pay"
	eventTipPay    = "tip_pay"
	eventCoinSpent = "coin_spent"
	eventTx        = "tx"

	attrRecipient = "recipient"
	attrSender    = "sender"
	attrAmount    = "amount"
	attrFee       = "fee"
	attrTip       = "tip"
	attrTipPayee  = "tip_payee"
	attrSpender   = "spender"

	tagTxHash        = "tx.hash"
	tagTxFee         = "tx.fee"
	tagMessageAction = "message.action"
)

// Variant is the closed set of attribute encodings a node may use.
type Variant int

const (
	PlainAttributes Variant = iota
	Base64Attributes
)

var variants = map[chain.Encoding]Variant{
	chain.EncodingPlain:  PlainAttributes,
	chain.EncodingBase64: Base64Attributes,
}

func (v Variant) String() string {
	if v == Base64Attributes {
		return "base64"
	}
	return "plain"
}

func (v Variant) decode(s string) string {
	if v == Base64Attributes {
		return DecodeBase64(s)
	}
	return s
}

func (v Variant) keyMatches(raw, want string) bool {
	if raw == want {
		return true
	}
	return v == Base64Attributes && DecodeBase64(raw) == want
}

type Extractor struct {
	chain   chain.Chain
	variant Variant
	logger  logger.Logger
	now     func() time.Time
}

// ForChain builds the extractor variant declared by the chain's registry row.
func ForChain(c chain.Chain, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Extractor{
		chain:   c,
		variant: variants[c.Encoding],
		logger:  log.With("chain", c.ID, "variant", variants[c.Encoding].String()),
		now:     time.Now,
	}
}

func (e *Extractor) Variant() Variant {
	return e.variant
}

func (e *Extractor) Chain() chain.Chain {
	return e.chain
}

// HandleResponse is the total form of Extract: any error is logged and the
// no-op payload returned.
func (e *Extractor) HandleResponse(env *models.ChainEventEnvelope) models.QueuePayload {
	payload, err := e.Extract(env)
	if err != nil {
		e.logger.Errorw("Failed to extract payload", "error", err)
		return models.NoOpPayload()
	}
	return payload
}

// Extract normalizes one envelope. It returns the no-op payload for anything
// that is not a relevant bank transfer and an error only for malformed
// amounts.
func (e *Extractor) Extract(env *models.ChainEventEnvelope) (models.QueuePayload, error) {
	txResult := env.TxResult()
	if txResult == nil {
		return models.NoOpPayload(), nil
	}

	if !e.actionAccepted(env) {
		return models.NoOpPayload(), nil
	}

	events := txResult.Result.Events

	transfer, err := e.firstTransfer(events)
	if err != nil {
		return models.NoOpPayload(), err
	}
	if transfer == nil {
		return models.NoOpPayload(), nil
	}

	tips, err := e.tipReceivers(events)
	if err != nil {
		return models.NoOpPayload(), err
	}

	fee, err := e.resolveFee(env, events, *transfer)
	if err != nil {
		return models.NoOpPayload(), err
	}

	builder := models.NewPayloadBuilder().
		WithDate(e.now()).
		WithBlockHeight(txResult.Height).
		WithTransaction(*transfer).
		WithFee(fee)

	if hashes := env.Tag(tagTxHash); len(hashes) > 0 {
		builder.WithTxHash(hashes[0])
	}
	for _, tip := range tips {
		builder.WithTip(tip)
	}

	return builder.Build(), nil
}

func (e *Extractor) actionAccepted(env *models.ChainEventEnvelope) bool {
	if len(e.chain.AcceptedActions) == 0 {
		return true
	}
	for _, action := range env.Tag(tagMessageAction) {
		for _, accepted := range e.chain.AcceptedActions {
			if action == accepted {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) findValue(attributes []models.EventAttribute, key string) (string, bool) {
	for _, attr := range attributes {
		if e.variant.keyMatches(attr.Key, key) {
			return e.variant.decode(attr.Value), true
		}
	}
	return "", false
}

// firstTransfer returns the first transfer event carrying recipient, sender
// and an amount in the chain denomination. Later transfers are ignored.
func (e *Extractor) firstTransfer(events []models.TransactionEvent) (*models.TransferOperation, error) {
	for _, event := range events {
		if event.Type != eventTransfer {
			continue
		}

		recipient, okRecipient := e.findValue(event.Attributes, attrRecipient)
		sender, okSender := e.findValue(event.Attributes, attrSender)
		coins, okAmount := e.findValue(event.Attributes, attrAmount)
		if !okRecipient || !okSender || !okAmount {
			continue
		}

		amount, found, err := parseDenomAmount(coins, e.chain.Denom)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		return &models.TransferOperation{
			Amount:          amount,
			SenderAddress:   sender,
			ReceiverAddress: recipient,
		}, nil
	}
	return nil, nil
}

func (e *Extractor) tipReceivers(events []models.TransactionEvent) ([]models.TipReceiverItem, error) {
	tips := make([]models.TipReceiverItem, 0)
	for _, event := range events {
		if event.Type != eventTipPay {
			continue
		}

		tip, okTip := e.findValue(event.Attributes, attrTip)
		payee, okPayee := e.findValue(event.Attributes, attrTipPayee)
		if !okTip || !okPayee {
			continue
		}

		entry, ok := SelectDenom(tip, e.chain.Denom)
		if !ok {
			entry = FirstCoin(tip)
		}
		amount, err := ParseAmount(entry)
		if err != nil {
			return nil, err
		}
		tips = append(tips, models.TipReceiverItem{Address: payee, Amount: amount})
	}
	return tips, nil
}

// resolveFee prefers explicit fee reporting (fee_pay event, tx event fee
// attribute, tx.fee tag) and only then infers the fee from a coin_spent debit
// of the sender whose amount differs from the transferred principal.
func (e *Extractor) resolveFee(env *models.ChainEventEnvelope, events []models.TransactionEvent, transfer models.TransferOperation) (*big.Int, error) {
	for _, eventType := range []string{eventFeePay, eventTx} {
		for _, event := range events {
			if event.Type != eventType {
				continue
			}
			coins, ok := e.findValue(event.Attributes, attrFee)
			if !ok || coins == "" {
				continue
			}
			amount, found, err := parseDenomAmount(coins, e.chain.Denom)
			if err != nil {
				return nil, err
			}
			if found {
				return amount.Amount, nil
			}
		}
	}

	for _, coins := range env.Tag(tagTxFee) {
		amount, found, err := parseDenomAmount(coins, e.chain.Denom)
		if err != nil {
			return nil, err
		}
		if found {
			return amount.Amount, nil
		}
	}

	for _, event := range events {
		if event.Type != eventCoinSpent {
			continue
		}
		spender, okSpender := e.findValue(event.Attributes, attrSpender)
		coins, okAmount := e.findValue(event.Attributes, attrAmount)
		if !okSpender || !okAmount || spender != transfer.SenderAddress {
			continue
		}
		amount, found, err := parseDenomAmount(coins, e.chain.Denom)
		if err != nil {
			return nil, err
		}
		if found && !amount.Equal(transfer.Amount) {
			return amount.Amount, nil
		}
	}

	return nil, nil
}
