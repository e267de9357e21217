package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitul-open-wallet/cosmos-stream/internal/alert"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/circuitbreaker"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

func newTestPipeline(id string, opts ...PipelineOption) (*Pipeline, *fakeSource, *fakeGateway, *callLog) {
	log := &callLog{}
	source := newFakeSource(id, log)
	gateway := &fakeGateway{log: log}
	return NewPipeline(source, gateway, time.Hour, logger.NopLogger(), opts...), source, gateway, log
}

func TestPipeline_StartSetsUpBrokerBeforeStream(t *testing.T) {
	p, _, _, log := newTestPipeline("cosmos_hub")

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	assert.Equal(t, []string{"setup", "bootstrap:cosmos_hub"}, log.snapshot())
	assert.True(t, p.Running())

	require.NoError(t, p.Start(context.Background()))
	assert.Len(t, log.snapshot(), 2, "second start is a no-op")
}

func TestPipeline_StartFailures(t *testing.T) {
	tests := []struct {
		name         string
		setupErr     error
		bootstrapErr error
		wantCalls    []string
	}{
		{
			name:      "broker setup fails",
			setupErr:  errors.New("connection refused"),
			wantCalls: []string{"setup"},
		},
		{
			name:         "stream bootstrap fails",
			bootstrapErr: errors.New("handshake failed"),
			wantCalls:    []string{"setup", "bootstrap:osmosis", "gateway-shutdown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			p, source, gateway, log := newTestPipeline("osmosis", WithNotifier(notifier))
			gateway.setupErr = tt.setupErr
			source.bootstrapErr = tt.bootstrapErr

			assert.Error(t, p.Start(context.Background()))
			assert.False(t, p.Running())
			assert.Equal(t, tt.wantCalls, log.snapshot())

			alerts := notifier.snapshot()
			require.Len(t, alerts, 1)
			assert.Equal(t, alert.AlertTypeBootstrapFailed, alerts[0].Type)
			assert.Equal(t, "osmosis", alerts[0].Chain)
			assert.Equal(t, "fake", alerts[0].Fields["broker"])
		})
	}
}

func TestPipeline_ForwardsPayloads(t *testing.T) {
	var (
		mu        sync.Mutex
		published []string
	)
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithPublishedHook(func(chainID string, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, chainID)
	}))
	require.NoError(t, p.Start(context.Background()))

	source.payloads <- models.NoOpPayload()
	source.payloads <- payloadAt("100")
	source.payloads <- payloadAt("101")

	assert.Eventually(t, func() bool { return gateway.publishedCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, "100", gateway.published[0].BlockHeight)
	assert.Equal(t, "101", gateway.published[1].BlockHeight)
	mu.Lock()
	assert.Equal(t, []string{"cosmos_hub", "cosmos_hub"}, published)
	mu.Unlock()
}

func TestPipeline_Filter(t *testing.T) {
	tests := []struct {
		name    string
		matcher fakeMatcher
		want    int
	}{
		{name: "matches", matcher: fakeMatcher{minHeight: 3}, want: 2},
		{name: "rejects short heights", matcher: fakeMatcher{minHeight: 4}, want: 1},
		{name: "evaluation error forwards", matcher: fakeMatcher{err: errors.New("no such key")}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, source, gateway, _ := newTestPipeline("cosmos_hub", WithFilter(tt.matcher))
			require.NoError(t, p.Start(context.Background()))

			source.payloads <- payloadAt("100")
			source.payloads <- payloadAt("1000")

			require.NoError(t, p.Stop(context.Background()))
			assert.Equal(t, tt.want, gateway.publishedCount())
		})
	}
}

func TestPipeline_DroppedPayloadSkipsHook(t *testing.T) {
	called := false
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithPublishedHook(func(string, time.Time) {
		called = true
	}))
	gateway.dropped = true
	require.NoError(t, p.Start(context.Background()))

	source.payloads <- payloadAt("100")
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 1, gateway.attemptCount())
	assert.False(t, called)
}

func TestPipeline_BreakerStopsPublishing(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("publish:test")
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 2
	}
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithBreaker(circuitbreaker.NewWrapper(cfg)))
	gateway.publishErr = errPublish
	require.NoError(t, p.Start(context.Background()))

	for _, height := range []string{"100", "101", "102", "103"} {
		source.payloads <- payloadAt(height)
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 2, gateway.attemptCount(), "open breaker rejects without calling the broker")
}

func TestPipeline_StopDrainsBeforeGatewayShutdown(t *testing.T) {
	p, source, gateway, log := newTestPipeline("cosmos_hub")
	require.NoError(t, p.Start(context.Background()))

	for _, height := range []string{"100", "101", "102"} {
		source.payloads <- payloadAt(height)
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 3, gateway.publishedCount())
	calls := log.snapshot()
	assert.Equal(t, "gateway-shutdown", calls[len(calls)-1])
	assert.False(t, p.Running())

	assert.Error(t, p.Start(context.Background()), "a stopped pipeline cannot restart")
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPipeline_StopReturnsSourceError(t *testing.T) {
	p, source, _, _ := newTestPipeline("cosmos_hub")
	source.shutdownErr = errors.New("close handshake timed out")
	require.NoError(t, p.Start(context.Background()))

	assert.EqualError(t, p.Stop(context.Background()), "close handshake timed out")
}

func TestPipeline_WatchdogRestarts(t *testing.T) {
	log := &callLog{}
	source := newFakeSource("cosmos_hub", log)
	p := NewPipeline(source, &fakeGateway{log: log}, 5*time.Millisecond, logger.NopLogger())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	assert.Eventually(t, func() bool { return source.restarts.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestNewPipeline_DefaultSupervisorInterval(t *testing.T) {
	log := &callLog{}
	p := NewPipeline(newFakeSource("cosmos_hub", log), &fakeGateway{log: log}, 0, logger.NopLogger())
	assert.Equal(t, 5*time.Minute, p.supervisorInterval)
	assert.Equal(t, "cosmos_hub", p.ChainID())
}

func TestPipeline_Deduplication(t *testing.T) {
	dedup := newFakeDedup()
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithDeduplicator(dedup))
	require.NoError(t, p.Start(context.Background()))

	source.payloads <- payloadAt("100")
	source.payloads <- payloadAt("100")
	source.payloads <- payloadAt("101")
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 2, gateway.publishedCount())
	assert.Empty(t, dedup.released)
}

func TestPipeline_DeduplicationReleasesOnFailure(t *testing.T) {
	dedup := newFakeDedup()
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithDeduplicator(dedup))
	gateway.publishErr = errPublish
	require.NoError(t, p.Start(context.Background()))

	source.payloads <- payloadAt("100")
	source.payloads <- payloadAt("100")
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 2, gateway.attemptCount(), "released payloads are retried on redelivery")
	assert.Equal(t, []string{"cosmos_hub:100", "cosmos_hub:100"}, dedup.released)
}

func TestPipeline_DeduplicationError(t *testing.T) {
	dedup := newFakeDedup()
	dedup.err = errors.New("redis down")
	p, source, gateway, _ := newTestPipeline("cosmos_hub", WithDeduplicator(dedup))
	require.NoError(t, p.Start(context.Background()))

	source.payloads <- payloadAt("100")
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 0, gateway.attemptCount())
}
