package models

import (
	"encoding/json"
	"strconv"
)

// ChainEventEnvelope is one push frame from a CometBFT websocket subscription.
type ChainEventEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  *EnvelopeResult `json:"result,omitempty"`
}

type EnvelopeResult struct {
	Query  string              `json:"query,omitempty"`
	Data   *EnvelopeData       `json:"data,omitempty"`
	Events map[string][]string `json:"events,omitempty"`
}

type EnvelopeData struct {
	Type  string        `json:"type"`
	Value EnvelopeValue `json:"value"`
}

type EnvelopeValue struct {
	TxResult *TxResult `json:"TxResult,omitempty"`
}

type TxResult struct {
	Height string          `json:"height"`
	Index  int             `json:"index"`
	Tx     string          `json:"tx,omitempty"`
	Result ExecutionResult `json:"result"`
}

type ExecutionResult struct {
	Code   int                `json:"code,omitempty"`
	Log    string             `json:"log,omitempty"`
	Events []TransactionEvent `json:"events"`
}

type TransactionEvent struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

type EventAttribute struct {
	Key   string   `json:"key"`
	Value string   `json:"value"`
	Index FlexBool `json:"index"`
}

// TxResult returns the nested transaction result, or nil when the envelope is
// not a transaction notification (subscription ack, error frame).
func (e *ChainEventEnvelope) TxResult() *TxResult {
	if e == nil || e.Result == nil || e.Result.Data == nil {
		return nil
	}
	return e.Result.Data.Value.TxResult
}

// Tag returns the values indexed under a dotted tag name such as "tx.hash".
func (e *ChainEventEnvelope) Tag(name string) []string {
	if e == nil || e.Result == nil {
		return nil
	}
	return e.Result.Events[name]
}

// FlexBool accepts both JSON booleans and the quoted "true"/"false" some
// older Tendermint nodes emit.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = false
		return nil
	}
	var raw bool
	if err := json.Unmarshal(data, &raw); err == nil {
		*b = FlexBool(raw)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = FlexBool(parsed)
	return nil
}
