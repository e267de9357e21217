package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/retry"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

var errGatewayStopped = errors.New("rabbitmq gateway shut down")

type amqpDialFunc func(url string) (amqpConnection, error)

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

// RabbitMQGateway owns one connection and channel per chain. When the broker
// drops either of them the gateway redials in the background; payloads
// published in the meantime are logged and dropped.
type RabbitMQGateway struct {
	url    string
	route  Route
	policy retry.Policy
	dial   amqpDialFunc
	logger logger.Logger

	mu          sync.RWMutex
	conn        amqpConnection
	channel     amqpChannel
	established bool
	stopped     bool

	reconnecting atomic.Bool
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewRabbitMQGateway(cfg config.BrokerConfig, route Route, log logger.Logger) *RabbitMQGateway {
	return &RabbitMQGateway{
		url:    cfg.RabbitMQ.AMQPURL(),
		route:  route,
		policy: retry.PolicyFromConfig(cfg.Retry),
		dial:   dialAMQP,
		logger: log.With("broker", "rabbitmq", "exchange", route.Exchange, "routing_key", route.RoutingKey),
		stop:   make(chan struct{}),
	}
}

func (g *RabbitMQGateway) Name() string {
	return "rabbitmq"
}

func (g *RabbitMQGateway) Setup(ctx context.Context) error {
	err := retry.RetryWithCallback(ctx, g.policy, g.connect, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("rabbitmq_setup")
		g.logger.WarnwCtx(ctx, "RabbitMQ setup failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}

	g.logger.InfowCtx(ctx, "RabbitMQ gateway ready", "queue", g.route.Queue)
	return nil
}

func (g *RabbitMQGateway) connect() error {
	conn, err := g.dial(g.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := declareTopology(ch, g.route); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return retry.NewFatalError(errGatewayStopped)
	}
	g.conn = conn
	g.channel = ch
	g.established = true
	g.wg.Add(1)
	g.mu.Unlock()

	go g.watch(ch, connClosed, chClosed)
	return nil
}

// watch waits for the broker to close the connection or channel opened with
// ch and then reconnects, unless ch has been replaced in the meantime.
func (g *RabbitMQGateway) watch(ch amqpChannel, connClosed, chClosed <-chan *amqp.Error) {
	defer g.wg.Done()

	var reason *amqp.Error
	select {
	case <-g.stop:
		return
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	g.mu.RLock()
	current := !g.stopped && g.channel == ch
	g.mu.RUnlock()
	if !current {
		return
	}
	if reason != nil {
		g.logger.Warnw("RabbitMQ connection lost", "code", reason.Code, "reason", reason.Reason)
	} else {
		g.logger.Warnw("RabbitMQ connection lost")
	}
	g.reconnect(ch)
}

// startReconnect launches a background reconnect replacing dead unless the
// gateway never connected, is shutting down, or is already reconnecting.
func (g *RabbitMQGateway) startReconnect(dead amqpChannel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || !g.established || g.reconnecting.Load() {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.reconnect(dead)
	}()
}

// reconnect discards the connection owning dead and redials under the retry
// policy. It does nothing when dead is no longer the current channel. When
// the policy is exhausted the next publish starts over.
func (g *RabbitMQGateway) reconnect(dead amqpChannel) {
	if !g.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer g.reconnecting.Store(false)

	g.mu.Lock()
	if g.stopped || g.channel != dead {
		g.mu.Unlock()
		return
	}
	ch, conn := g.channel, g.conn
	g.channel, g.conn = nil, nil
	g.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := retry.RetryWithCallback(ctx, g.policy, g.connect, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("rabbitmq_reconnect")
		g.logger.WarnwCtx(ctx, "RabbitMQ reconnect failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	switch {
	case err == nil:
		g.logger.Infow("RabbitMQ gateway reconnected")
	case errors.Is(err, errGatewayStopped), errors.Is(err, context.Canceled):
	default:
		g.logger.Errorw("RabbitMQ reconnect gave up, next publish retries", "error", err)
	}
}

func declareTopology(ch amqpChannel, route Route) error {
	if err := ch.ExchangeDeclare(route.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}
	if route.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(route.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(route.Queue, route.RoutingKey, route.Exchange, false, nil)
}

func (g *RabbitMQGateway) Publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	g.mu.RLock()
	ch := g.channel
	g.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		g.logger.WarnwCtx(ctx, "No open channel, payload not published",
			"block_height", payload.BlockHeight,
		)
		g.startReconnect(ch)
		return false, nil
	}

	body, err := encodePayload(payload)
	if err != nil {
		return false, err
	}

	msg := amqp.Publishing{
		ContentType:  constants.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        constants.ServiceName,
		Headers:      tracing.InjectAMQP(ctx, amqp.Table{}),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, g.route.Exchange, g.route.RoutingKey, false, false, msg); err != nil {
		return false, apperrors.ErrBrokerConnection.WithCause(err).WithDetail("broker", g.Name())
	}
	return true, nil
}

// Shutdown stops reconnecting, then closes the channel before the
// connection. Repeated calls are no-ops.
func (g *RabbitMQGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.stopped = true
	ch, conn := g.channel, g.conn
	g.channel, g.conn = nil, nil
	g.mu.Unlock()
	g.stopOnce.Do(func() { close(g.stop) })

	if ch != nil {
		if err := ch.Close(); err != nil {
			g.logger.WarnwCtx(ctx, "Failed to close channel", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			g.logger.WarnwCtx(ctx, "Failed to close connection", "error", err)
		}
	}
	g.wg.Wait()
	return nil
}

func (g *RabbitMQGateway) Healthy() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.conn == nil || g.conn.IsClosed() || g.channel == nil || g.channel.IsClosed() {
		return apperrors.ErrBrokerConnection.WithDetail("broker", g.Name())
	}
	return nil
}
