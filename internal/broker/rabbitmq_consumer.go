package broker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/logging"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

// RabbitMQConsumer drains the chain queue with manual acks.
type RabbitMQConsumer struct {
	url    string
	route  Route
	logger logger.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	wg      sync.WaitGroup
}

func NewRabbitMQConsumer(cfg config.BrokerConfig, route Route, log logger.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		url:    cfg.RabbitMQ.AMQPURL(),
		route:  route,
		logger: log.With("broker", "rabbitmq", "queue", route.Queue),
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	if c.route.Queue == "" {
		return fmt.Errorf("no queue configured for routing key %s", c.route.RoutingKey)
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "rabbitmq")
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	if err := declareTopology(ch, c.route); err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "rabbitmq")
	}
	if err := ch.Qos(constants.AMQPPrefetchCount, 0, false); err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "rabbitmq")
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.route.Queue, constants.ServiceName+"-tail", false, false, false, false, nil)
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "rabbitmq")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx, deliveries, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *RabbitMQConsumer) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler HandlerFunc) {
	consumeCtx := logging.WithChain(ctx, c.route.RoutingKey)
	c.logger.InfowCtx(consumeCtx, "Started consuming")

	for {
		select {
		case <-ctx.Done():
			c.logger.InfowCtx(consumeCtx, "Stopped consuming", "reason", "context canceled")
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.WarnwCtx(consumeCtx, "Delivery channel closed")
				return
			}
			c.handle(consumeCtx, d, handler)
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery, handler HandlerFunc) {
	msgCtx, span := tracing.StartSpanFromAMQPDelivery(ctx, "amqp.consume", d.Headers)
	defer span.End()

	payload, err := decodePayload(d.Body)
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal payload",
			"error", err,
			"message_id", d.MessageId,
		)
		_ = d.Nack(false, false)
		return
	}

	metrics.IncMessageConsumed("rabbitmq", c.route.Queue)
	ok := apperrors.Guard(func() {
		err = handler(msgCtx, payload)
	}, func(panicErr error) {
		c.logger.ErrorwCtx(msgCtx, "Panic recovered during message handling", "error", panicErr)
	})
	if !ok || err != nil {
		c.logger.ErrorwCtx(msgCtx, "Handler failed, requeueing",
			"error", err,
			"message_id", d.MessageId,
		)
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to ack message", "error", err)
	}
}

func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	ch, conn := c.channel, c.conn
	c.channel, c.conn = nil, nil
	c.mu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	if conn != nil {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
