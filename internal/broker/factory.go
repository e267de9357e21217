package broker

import (
	"fmt"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
)

func NewGateway(cfg config.BrokerConfig, c chain.Chain, log logger.Logger) (Gateway, error) {
	route := RouteFor(cfg.Exchange, c)
	log = log.With("chain", c.ID)

	switch cfg.Type {
	case "rabbitmq", "":
		return NewRabbitMQGateway(cfg, route, log), nil
	case "kafka":
		return NewKafkaGateway(cfg, route, log), nil
	case "nats":
		return NewNATSGateway(cfg, route, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, c chain.Chain, log logger.Logger) (Consumer, error) {
	route := RouteFor(cfg.Exchange, c)
	log = log.With("chain", c.ID)

	switch cfg.Type {
	case "rabbitmq", "":
		return NewRabbitMQConsumer(cfg, route, log), nil
	case "kafka":
		return NewKafkaConsumer(cfg, route, log), nil
	case "nats":
		return NewNATSConsumer(cfg, route, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
