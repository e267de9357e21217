package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/mitul-open-wallet/cosmos-stream/internal/alert"
	"github.com/mitul-open-wallet/cosmos-stream/internal/broker"
	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/circuitbreaker"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/logging"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/tracing"
)

// Source is the connection side of a pipeline; *stream.Manager satisfies it.
type Source interface {
	Chain() chain.Chain
	Bootstrap(ctx context.Context) error
	RestartIfRequired(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Payloads() <-chan models.QueuePayload
	Done() <-chan struct{}
	Status() stream.Status
	LastMessageAt() time.Time
	Healthy() error
}

type Matcher interface {
	Match(ctx context.Context, chain string, payload models.QueuePayload) (bool, error)
}

// Deduplicator claims a payload before it is published and releases the
// claim when publishing fails.
type Deduplicator interface {
	Claim(ctx context.Context, chainID string, payload models.QueuePayload) (bool, error)
	Release(ctx context.Context, chainID string, payload models.QueuePayload)
}

type Notifier interface {
	Notify(alert alert.Alert)
}

type PipelineOption func(*Pipeline)

func WithFilter(filter Matcher) PipelineOption {
	return func(p *Pipeline) {
		p.filter = filter
	}
}

func WithBreaker(breaker *circuitbreaker.Wrapper) PipelineOption {
	return func(p *Pipeline) {
		p.breaker = breaker
	}
}

func WithDeduplicator(dedup Deduplicator) PipelineOption {
	return func(p *Pipeline) {
		p.dedup = dedup
	}
}

func WithNotifier(notifier Notifier) PipelineOption {
	return func(p *Pipeline) {
		p.notifier = notifier
	}
}

// WithPublishedHook is called after every payload the broker accepted.
func WithPublishedHook(hook func(chainID string, at time.Time)) PipelineOption {
	return func(p *Pipeline) {
		p.onPublished = hook
	}
}

// Pipeline couples one chain's connection manager with its broker gateway.
type Pipeline struct {
	source             Source
	gateway            broker.Gateway
	supervisorInterval time.Duration
	logger             logger.Logger

	filter      Matcher
	dedup       Deduplicator
	breaker     *circuitbreaker.Wrapper
	notifier    Notifier
	onPublished func(chainID string, at time.Time)

	mu          sync.Mutex
	running     atomic.Bool
	stopped     bool
	cancel      context.CancelFunc
	forwardDone chan struct{}
	wg          sync.WaitGroup
}

func NewPipeline(source Source, gateway broker.Gateway, supervisorInterval time.Duration, log logger.Logger, opts ...PipelineOption) *Pipeline {
	if supervisorInterval <= 0 {
		supervisorInterval = 5 * time.Minute
	}
	p := &Pipeline{
		source:             source,
		gateway:            gateway,
		supervisorInterval: supervisorInterval,
		logger:             log.With("chain", source.Chain().ID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) ChainID() string {
	return p.source.Chain().ID
}

func (p *Pipeline) Source() Source {
	return p.source
}

func (p *Pipeline) Gateway() broker.Gateway {
	return p.gateway
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Start sets up the broker before opening the chain socket, then runs the
// forward loop and the watchdog. Starting a running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return nil
	}
	if p.stopped {
		return errors.New("pipeline stopped")
	}

	ctx = logging.WithChain(ctx, p.ChainID())

	if err := p.gateway.Setup(ctx); err != nil {
		p.logger.ErrorwCtx(ctx, "Broker setup failed", "broker", p.gateway.Name(), "error", err)
		p.notifyBootstrapFailure(err)
		return err
	}

	if err := p.source.Bootstrap(ctx); err != nil {
		p.logger.ErrorwCtx(ctx, "Stream bootstrap failed", "endpoint", p.source.Chain().Endpoint, "error", err)
		_ = p.gateway.Shutdown(ctx)
		p.notifyBootstrapFailure(err)
		return err
	}

	runCtx, cancel := context.WithCancel(logging.WithChain(context.Background(), p.ChainID()))
	forwardDone := make(chan struct{})
	p.cancel = cancel
	p.forwardDone = forwardDone
	p.running.Store(true)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		defer close(forwardDone)
		p.forward(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.watchdog(runCtx)
	}()

	p.logger.InfowCtx(ctx, "Pipeline started", "broker", p.gateway.Name())
	return nil
}

// Stop shuts the manager and the gateway down concurrently and returns the
// first error. The gateway closes once the forward loop has drained the
// payloads buffered before the socket closed.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	if !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	cancel, forwardDone := p.cancel, p.forwardDone
	p.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		return p.source.Shutdown(ctx)
	})
	g.Go(func() error {
		select {
		case <-forwardDone:
		case <-ctx.Done():
		}
		return p.gateway.Shutdown(ctx)
	})
	err := g.Wait()

	cancel()
	p.wg.Wait()

	if err != nil {
		p.logger.WarnwCtx(ctx, "Pipeline stopped with error", "error", err)
	} else {
		p.logger.InfowCtx(ctx, "Pipeline stopped")
	}
	return err
}

func (p *Pipeline) notifyBootstrapFailure(err error) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(alert.Alert{
		Type:    alert.AlertTypeBootstrapFailed,
		Chain:   p.ChainID(),
		Title:   "Pipeline bootstrap failed",
		Message: err.Error(),
		Fields: map[string]string{
			"broker":   p.gateway.Name(),
			"endpoint": p.source.Chain().Endpoint,
		},
	})
}

func (p *Pipeline) forward(ctx context.Context) {
	payloads := p.source.Payloads()
	for {
		select {
		case payload := <-payloads:
			p.handle(ctx, payload)
		case <-p.source.Done():
			p.drain(ctx, payloads)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) drain(ctx context.Context, payloads <-chan models.QueuePayload) {
	for {
		select {
		case payload := <-payloads:
			p.handle(ctx, payload)
		default:
			return
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, payload models.QueuePayload) {
	if payload.IsNoOp() {
		return
	}
	chainID := p.ChainID()
	if payload.TxHash != nil {
		ctx = logging.WithTxHash(ctx, *payload.TxHash)
	}

	if p.filter != nil {
		matched, err := p.filter.Match(ctx, chainID, payload)
		if err != nil {
			p.logger.WarnwCtx(ctx, "Filter evaluation failed, forwarding payload", "error", err)
		} else if !matched {
			metrics.IncPayloadFiltered(chainID)
			return
		}
	}

	if p.dedup != nil {
		unique, err := p.dedup.Claim(ctx, chainID, payload)
		if err != nil {
			metrics.IncPayloadPublished(chainID, p.gateway.Name(), "dedup_error")
			p.logger.WarnwCtx(ctx, "Duplicate check failed, payload dropped", "error", err)
			return
		}
		if !unique {
			p.logger.DebugwCtx(ctx, "Duplicate payload skipped", "block_height", payload.BlockHeight)
			return
		}
	}

	ctx, span := tracing.StartPublishSpan(ctx, chainID, p.gateway.Name(), payload.BlockHeight)
	defer span.End()

	start := time.Now()
	published, err := p.publish(ctx, payload)
	metrics.ObservePublishDuration(chainID, p.gateway.Name(), time.Since(start))

	if (err != nil || !published) && p.dedup != nil {
		p.dedup.Release(ctx, chainID, payload)
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.IncPayloadPublished(chainID, p.gateway.Name(), "rejected")
		p.logger.WarnwCtx(ctx, "Circuit open, payload dropped", "block_height", payload.BlockHeight)
	case err != nil:
		span.RecordError(err)
		metrics.IncPayloadPublished(chainID, p.gateway.Name(), "error")
		p.logger.ErrorwCtx(ctx, "Failed to publish payload", "block_height", payload.BlockHeight, "error", err)
	case !published:
		metrics.IncPayloadPublished(chainID, p.gateway.Name(), "dropped")
	default:
		metrics.IncPayloadPublished(chainID, p.gateway.Name(), "ok")
		p.logger.DebugwCtx(ctx, "Payload published", "block_height", payload.BlockHeight)
		if p.onPublished != nil {
			p.onPublished(chainID, time.Now())
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	if p.breaker == nil {
		return p.gateway.Publish(ctx, payload)
	}

	return p.breaker.Publish(ctx, func(ctx context.Context) (bool, error) {
		return p.gateway.Publish(ctx, payload)
	})
}

// watchdog periodically asks the manager to recover from states it does not
// leave on its own.
func (p *Pipeline) watchdog(ctx context.Context) {
	ticker := time.NewTicker(p.supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.source.Done():
			return
		case <-ticker.C:
			status := p.source.Status()
			if err := p.source.RestartIfRequired(ctx); err != nil {
				p.logger.WarnwCtx(ctx, "Supervisor restart failed", "status", status.String(), "error", err)
			}
		}
	}
}
