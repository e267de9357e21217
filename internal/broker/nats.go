package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

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

func connectNATS(cfg config.NATSConfig, log logger.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(constants.ServiceName),
		nats.ReconnectWait(constants.NATSReconnectWait),
		nats.MaxReconnects(constants.NATSMaxReconnects),
		nats.Timeout(constants.NATSConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Infow("NATS connection closed")
		}),
	}
	return nats.Connect(cfg.URL, opts...)
}

// ensureStream creates or updates the stream capturing every subject under
// the exchange. Safe to call once per chain.
func ensureStream(ctx context.Context, js jetstream.JetStream, name string, route Route) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Subjects:    []string{route.Exchange + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      constants.NATSMaxAge,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Replicas:    1,
		Description: "Normalized cosmos transfer payloads",
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return stream, nil
}

// NATSGateway publishes to JetStream on the subject <exchange>.<routing key>.
type NATSGateway struct {
	cfg    config.NATSConfig
	route  Route
	policy retry.Policy
	logger logger.Logger

	mu sync.RWMutex
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSGateway(cfg config.BrokerConfig, route Route, log logger.Logger) *NATSGateway {
	return &NATSGateway{
		cfg:    cfg.NATS,
		route:  route,
		policy: retry.PolicyFromConfig(cfg.Retry),
		logger: log.With("broker", "nats", "subject", route.Subject()),
	}
}

func (g *NATSGateway) Name() string {
	return "nats"
}

func (g *NATSGateway) Setup(ctx context.Context) error {
	err := retry.RetryWithCallback(ctx, g.policy, func() error {
		nc, err := connectNATS(g.cfg, g.logger)
		if err != nil {
			return err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return err
		}
		if _, err := ensureStream(ctx, js, g.cfg.Stream, g.route); err != nil {
			nc.Close()
			return err
		}

		g.mu.Lock()
		g.nc, g.js = nc, js
		g.mu.Unlock()
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("nats_setup")
		g.logger.WarnwCtx(ctx, "NATS setup failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}

	g.logger.InfowCtx(ctx, "NATS gateway ready", "stream", g.cfg.Stream)
	return nil
}

func (g *NATSGateway) Publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	g.mu.RLock()
	nc, js := g.nc, g.js
	g.mu.RUnlock()

	if js == nil || !nc.IsConnected() {
		g.logger.WarnwCtx(ctx, "NATS not connected, payload not published",
			"block_height", payload.BlockHeight,
		)
		return false, nil
	}

	body, err := encodePayload(payload)
	if err != nil {
		return false, err
	}

	msg := &nats.Msg{
		Subject: g.route.Subject(),
		Data:    body,
		Header:  nats.Header{},
	}
	msg.Header.Set("Content-Type", constants.ContentTypeJSON)
	tracing.InjectHeader(ctx, http.Header(msg.Header))

	if _, err := js.PublishMsg(ctx, msg, jetstream.WithMsgID(uuid.NewString())); err != nil {
		return false, apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}
	return true, nil
}

func (g *NATSGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	nc := g.nc
	g.nc, g.js = nil, nil
	g.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		g.logger.WarnwCtx(ctx, "Failed to drain NATS connection", "error", err)
		nc.Close()
	}
	return nil
}

func (g *NATSGateway) Healthy() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.nc == nil || !g.nc.IsConnected() {
		return apperrors.ErrBrokerConnection.WithDetail("broker", g.Name())
	}
	return nil
}

// NATSConsumer reads the chain subject through a durable pull consumer.
type NATSConsumer struct {
	cfg    config.NATSConfig
	route  Route
	logger logger.Logger

	mu sync.Mutex
	nc *nats.Conn
	cc jetstream.ConsumeContext
}

func NewNATSConsumer(cfg config.BrokerConfig, route Route, log logger.Logger) *NATSConsumer {
	return &NATSConsumer{
		cfg:    cfg.NATS,
		route:  route,
		logger: log.With("broker", "nats", "subject", route.Subject()),
	}
}

func (c *NATSConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	nc, err := connectNATS(c.cfg, c.logger)
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "nats")
	}
	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()

	js, err := jetstream.New(nc)
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "nats")
	}
	stream, err := ensureStream(ctx, js, c.cfg.Stream, c.route)
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "nats")
	}

	name := constants.ServiceName + "-tail-" + c.route.RoutingKey
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		FilterSubject: c.route.Subject(),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "nats")
	}

	consumeCtx := logging.WithChain(ctx, c.route.RoutingKey)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handle(consumeCtx, msg, handler)
	})
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", "nats")
	}
	c.mu.Lock()
	c.cc = cc
	c.mu.Unlock()

	c.logger.InfowCtx(consumeCtx, "Started consuming", "consumer", name)
	<-ctx.Done()
	return ctx.Err()
}

func (c *NATSConsumer) handle(ctx context.Context, msg jetstream.Msg, handler HandlerFunc) {
	msgCtx := tracing.ExtractHeader(ctx, http.Header(msg.Headers()))

	payload, err := decodePayload(msg.Data())
	if err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal payload", "error", err)
		_ = msg.Term()
		return
	}

	metrics.IncMessageConsumed("nats", c.route.Subject())
	ok := apperrors.Guard(func() {
		err = handler(msgCtx, payload)
	}, func(panicErr error) {
		c.logger.ErrorwCtx(msgCtx, "Panic recovered during message handling", "error", panicErr)
	})
	if !ok || err != nil {
		c.logger.ErrorwCtx(msgCtx, "Handler failed, redelivering", "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to ack message", "error", err)
	}
}

func (c *NATSConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cc != nil {
		c.cc.Stop()
		c.cc = nil
	}
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
	return nil
}
