package broker

import (
	"context"
	"encoding/json"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

// Gateway forwards normalized payloads of one chain to a broker.
type Gateway interface {
	Setup(ctx context.Context) error
	// Publish reports whether the payload was handed to the broker.
	Publish(ctx context.Context, payload models.QueuePayload) (bool, error)
	Shutdown(ctx context.Context) error
	Name() string
	Healthy() error
}

type Consumer interface {
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, payload models.QueuePayload) error

// Route addresses a chain's payloads inside a broker.
type Route struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

func RouteFor(exchange string, c chain.Chain) Route {
	return Route{
		Exchange:   exchange,
		RoutingKey: c.RoutingKey,
		Queue:      c.Queue,
	}
}

// Subject is the NATS subject for the route.
func (r Route) Subject() string {
	return r.Exchange + "." + r.RoutingKey
}

func encodePayload(payload models.QueuePayload) ([]byte, error) {
	if payload.TipReceiver == nil {
		payload.TipReceiver = []models.TipReceiverItem{}
	}
	return json.Marshal(payload)
}

func decodePayload(body []byte) (models.QueuePayload, error) {
	var payload models.QueuePayload
	err := json.Unmarshal(body, &payload)
	return payload, err
}
