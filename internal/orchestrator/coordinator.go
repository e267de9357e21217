package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
)

// Coordinator owns every pipeline of the process and turns the first
// termination signal into a single Stop across all of them.
type Coordinator struct {
	pipelines []*Pipeline
	timeout   time.Duration
	logger    logger.Logger

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func NewCoordinator(timeout time.Duration, log logger.Logger, pipelines ...*Pipeline) *Coordinator {
	return &Coordinator{
		pipelines: pipelines,
		timeout:   timeout,
		logger:    log.With("component", "coordinator"),
		done:      make(chan struct{}),
	}
}

func (c *Coordinator) Pipelines() []*Pipeline {
	return c.pipelines
}

// Done is closed once Stop has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// StartAll starts every pipeline that is not running yet and returns the
// chain ids started by this call. One failing chain does not prevent the
// others from starting; the first error is returned.
func (c *Coordinator) StartAll(ctx context.Context) ([]string, error) {
	var (
		mu      sync.Mutex
		started []string
	)

	var g errgroup.Group
	for _, p := range c.pipelines {
		if p.Running() {
			continue
		}
		g.Go(func() error {
			if err := p.Start(ctx); err != nil {
				return err
			}
			mu.Lock()
			started = append(started, p.ChainID())
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return started, err
}

// Stop stops all pipelines concurrently. Only the first call does any work;
// later calls wait for it and return the same error.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		defer close(c.done)

		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		var g errgroup.Group
		for _, p := range c.pipelines {
			g.Go(func() error {
				return p.Stop(ctx)
			})
		}
		c.stopErr = g.Wait()
	})
	<-c.done
	return c.stopErr
}

// Listen stops every pipeline on the first signal received; repeated
// signals are logged and ignored. It returns once the stop has finished or
// ctx is cancelled.
func (c *Coordinator) Listen(ctx context.Context, signals <-chan os.Signal) error {
	select {
	case sig := <-signals:
		c.logger.InfowCtx(ctx, "Termination signal received, stopping pipelines", "signal", sig.String())
	case <-ctx.Done():
		c.logger.InfowCtx(ctx, "Context cancelled, stopping pipelines")
	case <-c.done:
		return c.stopErr
	}

	go func() {
		for {
			select {
			case sig := <-signals:
				c.logger.WarnwCtx(ctx, "Shutdown already in progress, ignoring signal", "signal", sig.String())
			case <-c.done:
				return
			}
		}
	}()

	return c.Stop(context.WithoutCancel(ctx))
}
