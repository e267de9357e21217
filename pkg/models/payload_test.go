package models

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() QueuePayload {
	return NewPayloadBuilder().
		WithDate(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)).
		WithBlockHeight("123").
		WithTxHash("ABC").
		WithFee(big.NewInt(2500)).
		WithTransaction(TransferOperation{
			Amount:          NewCryptoAmount(100, "uatom"),
			SenderAddress:   "cosmos1from",
			ReceiverAddress: "cosmos1to",
		}).
		Build()
}

func TestNoOpPayload(t *testing.T) {
	assert.True(t, NoOpPayload().IsNoOp())
	assert.True(t, NoOpPayload().Equal(QueuePayload{TipReceiver: []TipReceiverItem{}}))
	assert.False(t, samplePayload().IsNoOp())
}

func TestPayloadEqual(t *testing.T) {
	a := samplePayload()
	b := samplePayload()
	assert.True(t, a.Equal(b))

	b.FeeAmount = big.NewInt(2501)
	assert.False(t, a.Equal(b))

	c := samplePayload()
	c.TxHash = nil
	assert.False(t, a.Equal(c))

	d := samplePayload()
	d.Transaction.Amount = NewCryptoAmount(100, "uosmo")
	assert.False(t, a.Equal(d))

	e := samplePayload()
	e.TipReceiver = append(e.TipReceiver, TipReceiverItem{Address: "x", Amount: NewCryptoAmount(1, "uatom")})
	assert.False(t, a.Equal(e))
}

func TestPayloadJSON(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["date"])
	assert.Equal(t, "123", decoded["blockHeight"])
	assert.Equal(t, "ABC", decoded["txHash"])
	assert.Equal(t, float64(2500), decoded["feeAmount"])
	assert.Equal(t, []interface{}{}, decoded["tipReceiver"])

	tx := decoded["transaction"].(map[string]interface{})
	assert.Equal(t, "cosmos1from", tx["senderAddress"])
	assert.Equal(t, "cosmos1to", tx["receiverAddress"])
	assert.Equal(t, map[string]interface{}{"amount": float64(100), "unit": "uatom"}, tx["amount"])
}

func TestPayloadJSONOmitsAbsentFields(t *testing.T) {
	payload := NewPayloadBuilder().WithBlockHeight("9").WithTxHash("").Build()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.NotContains(t, decoded, "txHash")
	assert.NotContains(t, decoded, "feeAmount")
	assert.NotContains(t, decoded, "transaction")
	assert.Contains(t, decoded, "tipReceiver")
}

func TestLargeAmountsSurviveRoundTrip(t *testing.T) {
	amount, ok := new(big.Int).SetString("123456789012345678901234", 10)
	require.True(t, ok)

	op := TransferOperation{Amount: CryptoAmount{Amount: amount, Unit: "inj"}, SenderAddress: "a", ReceiverAddress: "b"}
	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"amount":123456789012345678901234`)

	var back TransferOperation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, op.Equal(back))
}

func TestPayloadMap(t *testing.T) {
	m := samplePayload().Map()

	assert.Equal(t, "ABC", m["txHash"])
	assert.Equal(t, int64(2500), m["feeAmount"])
	tx := m["transaction"].(map[string]interface{})
	amount := tx["amount"].(map[string]interface{})
	assert.Equal(t, int64(100), amount["amount"])
	assert.Equal(t, "uatom", amount["unit"])

	huge, _ := new(big.Int).SetString("99999999999999999999", 10)
	p := samplePayload()
	p.FeeAmount = huge
	assert.Equal(t, "99999999999999999999", p.Map()["feeAmount"])
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		input string
		want  FlexBool
	}{
		{`{"key":"k","value":"v","index":true}`, true},
		{`{"key":"k","value":"v","index":"true"}`, true},
		{`{"key":"k","value":"v","index":"false"}`, false},
		{`{"key":"k","value":"v","index":null}`, false},
		{`{"key":"k","value":"v"}`, false},
	}
	for _, tt := range tests {
		var attr EventAttribute
		require.NoError(t, json.Unmarshal([]byte(tt.input), &attr), tt.input)
		assert.Equal(t, tt.want, attr.Index, tt.input)
	}
}

func TestEnvelopeAccessorsNilSafe(t *testing.T) {
	var env *ChainEventEnvelope
	assert.Nil(t, env.TxResult())
	assert.Nil(t, env.Tag("tx.hash"))

	env = &ChainEventEnvelope{Result: &EnvelopeResult{Events: map[string][]string{"tx.hash": {"X"}}}}
	assert.Nil(t, env.TxResult())
	assert.Equal(t, []string{"X"}, env.Tag("tx.hash"))
}
