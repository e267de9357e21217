package orchestrator

import (
	"context"
	"errors"
	"os"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
)

func newTestCoordinator(ids ...string) (*Coordinator, map[string]*fakeSource, *callLog) {
	log := &callLog{}
	sources := make(map[string]*fakeSource, len(ids))
	pipelines := make([]*Pipeline, 0, len(ids))
	for _, id := range ids {
		source := newFakeSource(id, log)
		sources[id] = source
		pipelines = append(pipelines, NewPipeline(source, &fakeGateway{log: log}, time.Hour, logger.NopLogger()))
	}
	return NewCoordinator(time.Second, logger.NopLogger(), pipelines...), sources, log
}

func TestCoordinator_StartAll(t *testing.T) {
	c, _, _ := newTestCoordinator("cosmos_hub", "osmosis")

	started, err := c.StartAll(context.Background())
	require.NoError(t, err)
	sort.Strings(started)
	assert.Equal(t, []string{"cosmos_hub", "osmosis"}, started)

	started, err = c.StartAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, started, "running pipelines are not started twice")

	require.NoError(t, c.Stop(context.Background()))
}

func TestCoordinator_StartAllContinuesPastFailure(t *testing.T) {
	c, sources, _ := newTestCoordinator("cosmos_hub", "osmosis")
	sources["osmosis"].bootstrapErr = errors.New("dial failed")

	started, err := c.StartAll(context.Background())
	assert.EqualError(t, err, "dial failed")
	assert.Equal(t, []string{"cosmos_hub"}, started)

	require.NoError(t, c.Stop(context.Background()))
}

func TestCoordinator_StopOnce(t *testing.T) {
	c, sources, log := newTestCoordinator("cosmos_hub", "osmosis")
	_, err := c.StartAll(context.Background())
	require.NoError(t, err)
	sources["cosmos_hub"].shutdownErr = errors.New("close timed out")

	assert.EqualError(t, c.Stop(context.Background()), "close timed out")
	shutdowns := countPrefix(log.snapshot(), "source-shutdown:")

	assert.EqualError(t, c.Stop(context.Background()), "close timed out")
	assert.Equal(t, shutdowns, countPrefix(log.snapshot(), "source-shutdown:"))
	assert.Equal(t, 2, shutdowns)

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestCoordinator_ListenStopsOnFirstSignal(t *testing.T) {
	c, _, log := newTestCoordinator("cosmos_hub", "osmosis")
	_, err := c.StartAll(context.Background())
	require.NoError(t, err)

	signals := make(chan os.Signal, 4)
	result := make(chan error, 1)
	go func() {
		result <- c.Listen(context.Background(), signals)
	}()

	signals <- syscall.SIGTERM
	signals <- syscall.SIGINT

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not return")
	}
	assert.Equal(t, 2, countPrefix(log.snapshot(), "source-shutdown:"))
	for _, p := range c.Pipelines() {
		assert.False(t, p.Running())
	}
}

func TestCoordinator_ListenOnContextCancel(t *testing.T) {
	c, _, _ := newTestCoordinator("cosmos_hub")
	_, err := c.StartAll(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, c.Listen(ctx, make(chan os.Signal)))
	assert.False(t, c.Pipelines()[0].Running())
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, call := range calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
