package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/logging"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/retry"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway publishes to the topic named by the exchange, keyed by the
// chain routing key.
type KafkaGateway struct {
	cfg    config.KafkaConfig
	route  Route
	policy retry.Policy
	logger logger.Logger

	mu     sync.RWMutex
	writer messageWriter
}

func NewKafkaGateway(cfg config.BrokerConfig, route Route, log logger.Logger) *KafkaGateway {
	return &KafkaGateway{
		cfg:    cfg.Kafka,
		route:  route,
		policy: retry.PolicyFromConfig(cfg.Retry),
		logger: log.With("broker", "kafka", "topic", route.Exchange, "key", route.RoutingKey),
	}
}

func (g *KafkaGateway) Name() string {
	return "kafka"
}

func (g *KafkaGateway) Setup(ctx context.Context) error {
	if len(g.cfg.Brokers) == 0 {
		return apperrors.ErrBrokerConnection.WithDetail("message", "no kafka brokers configured")
	}

	err := retry.RetryWithCallback(ctx, g.policy, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, constants.KafkaDialTimeout)
		defer cancel()
		conn, err := kafka.DialContext(dialCtx, "tcp", g.cfg.Brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("kafka_setup")
		g.logger.WarnwCtx(ctx, "Kafka setup failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}

	g.mu.Lock()
	g.writer = &kafka.Writer{
		Addr:                   kafka.TCP(g.cfg.Brokers...),
		Topic:                  g.route.Exchange,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	g.mu.Unlock()

	g.logger.InfowCtx(ctx, "Kafka gateway ready", "brokers", g.cfg.Brokers)
	return nil
}

func (g *KafkaGateway) Publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	g.mu.RLock()
	w := g.writer
	g.mu.RUnlock()

	if w == nil {
		g.logger.WarnwCtx(ctx, "Kafka writer not ready, payload not published",
			"block_height", payload.BlockHeight,
		)
		return false, nil
	}

	body, err := encodePayload(payload)
	if err != nil {
		return false, err
	}

	headers := []kafka.Header{
		{Key: "message_id", Value: []byte(uuid.NewString())},
		{Key: "content_type", Value: []byte(constants.ContentTypeJSON)},
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(g.route.RoutingKey),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return false, apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}
	return true, nil
}

func (g *KafkaGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	w := g.writer
	g.writer = nil
	g.mu.Unlock()

	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		g.logger.WarnwCtx(ctx, "Failed to close kafka writer", "error", err)
	}
	return nil
}

func (g *KafkaGateway) Healthy() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.writer == nil {
		return apperrors.ErrBrokerConnection.WithDetail("broker", g.Name())
	}
	return nil
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads the chain's messages from the exchange topic. Messages
// keyed for other chains are committed and skipped.
type KafkaConsumer struct {
	cfg    config.KafkaConfig
	route  Route
	logger logger.Logger

	wg     sync.WaitGroup
	reader messageReader
}

func NewKafkaConsumer(cfg config.BrokerConfig, route Route, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:    cfg.Kafka,
		route:  route,
		logger: log.With("broker", "kafka", "topic", route.Exchange),
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	if c.reader == nil {
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			GroupID:  c.cfg.GroupID,
			Topic:    c.route.Exchange,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, handler HandlerFunc) {
	consumeCtx := logging.WithChain(ctx, c.route.RoutingKey)
	c.logger.InfowCtx(consumeCtx, "Started consuming")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming", "reason", "context canceled")
				return
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if string(m.Key) != c.route.RoutingKey {
			_ = c.reader.CommitMessages(ctx, m)
			continue
		}

		c.handle(ctx, m, handler)
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()
	msgCtx = logging.WithChain(msgCtx, c.route.RoutingKey)

	payload, err := decodePayload(m.Value)
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal payload", "error", err, "offset", m.Offset)
		_ = c.reader.CommitMessages(ctx, m)
		return
	}

	metrics.IncMessageConsumed("kafka", c.route.Exchange)
	ok := apperrors.Guard(func() {
		err = handler(msgCtx, payload)
	}, func(panicErr error) {
		c.logger.ErrorwCtx(msgCtx, "Panic recovered during message handling", "error", panicErr)
	})
	if ok && err != nil {
		c.logger.ErrorwCtx(msgCtx, "Handler failed, committing to avoid blocking",
			"error", err,
			"offset", m.Offset,
		)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message", "error", err)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.wg.Wait()
	return err
}
