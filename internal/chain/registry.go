// Package chain holds the table of supported Cosmos-family chains. Adding a
// chain means adding a row here; nothing else branches on the identifier.
package chain

import (
	"sort"
	"time"

	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
)

// Encoding describes how a node encodes event attribute keys and values.
type Encoding int

const (
	EncodingPlain Encoding = iota
	EncodingBase64
)

func (e Encoding) String() string {
	switch e {
	case EncodingBase64:
		return "base64"
	default:
		return "plain"
	}
}

const BankSendAction = "/cosmos.bank.v1beta1.MsgSend"

type Chain struct {
	ID         string
	Endpoint   string
	Denom      string
	RoutingKey string
	Queue      string
	Encoding   Encoding
	// AcceptedActions lists the message.action tag values worth forwarding.
	// Empty disables the filter.
	AcceptedActions []string
	StallThreshold  time.Duration
}

var registry = map[string]Chain{
	"cosmos_hub": {
		ID:              "cosmos_hub",
		Endpoint:        "wss://cosmos-rpc.publicnode.com:443/websocket",
		Denom:           "uatom",
		RoutingKey:      "cosmos_hub",
		Queue:           "cosmos_hub_transfers",
		Encoding:        EncodingPlain,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  2 * time.Minute,
	},
	"injective": {
		ID:              "injective",
		Endpoint:        "wss://injective-rpc.publicnode.com:443/websocket",
		Denom:           "inj",
		RoutingKey:      "injective",
		Queue:           "injective_transfers",
		Encoding:        EncodingBase64,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  time.Minute,
	},
	"celestia": {
		ID:              "celestia",
		Endpoint:        "wss://celestia-rpc.publicnode.com:443/websocket",
		Denom:           "utia",
		RoutingKey:      "celestia",
		Queue:           "celestia_transfers",
		Encoding:        EncodingPlain,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  5 * time.Minute,
	},
	"axelar": {
		ID:              "axelar",
		Endpoint:        "wss://axelar-rpc.publicnode.com:443/websocket",
		Denom:           "uaxl",
		RoutingKey:      "axelar",
		Queue:           "axelar_transfers",
		Encoding:        EncodingBase64,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  3 * time.Minute,
	},
	"akash": {
		ID:              "akash",
		Endpoint:        "wss://akash-rpc.publicnode.com:443/websocket",
		Denom:           "uakt",
		RoutingKey:      "akash",
		Queue:           "akash_transfers",
		Encoding:        EncodingBase64,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  3 * time.Minute,
	},
	"osmosis": {
		ID:              "osmosis",
		Endpoint:        "wss://osmosis-rpc.publicnode.com:443/websocket",
		Denom:           "uosmo",
		RoutingKey:      "osmosis",
		Queue:           "osmosis_transfers",
		Encoding:        EncodingPlain,
		AcceptedActions: []string{BankSendAction},
		StallThreshold:  time.Minute,
	},
}

// Lookup resolves a chain identifier. Unknown identifiers are fatal at startup.
func Lookup(id string) (Chain, error) {
	c, ok := registry[id]
	if !ok {
		return Chain{}, apperrors.ErrUnknownChain.WithDetail("chain", id).AsFatal()
	}
	c.AcceptedActions = append([]string(nil), c.AcceptedActions...)
	return c, nil
}

func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
