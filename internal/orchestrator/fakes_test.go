package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitul-open-wallet/cosmos-stream/internal/alert"
	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeSource struct {
	chain        chain.Chain
	log          *callLog
	bootstrapErr error
	shutdownErr  error

	payloads chan models.QueuePayload
	done     chan struct{}
	doneOnce sync.Once
	restarts atomic.Int32
}

func newFakeSource(id string, log *callLog) *fakeSource {
	return &fakeSource{
		chain:    chain.Chain{ID: id, Endpoint: "wss://" + id + ".example/websocket", RoutingKey: id},
		log:      log,
		payloads: make(chan models.QueuePayload, 16),
		done:     make(chan struct{}),
	}
}

func (s *fakeSource) Chain() chain.Chain { return s.chain }

func (s *fakeSource) Bootstrap(ctx context.Context) error {
	s.log.add("bootstrap:" + s.chain.ID)
	return s.bootstrapErr
}

func (s *fakeSource) RestartIfRequired(ctx context.Context) error {
	s.restarts.Add(1)
	return nil
}

func (s *fakeSource) Shutdown(ctx context.Context) error {
	s.log.add("source-shutdown:" + s.chain.ID)
	s.doneOnce.Do(func() { close(s.done) })
	return s.shutdownErr
}

func (s *fakeSource) Payloads() <-chan models.QueuePayload { return s.payloads }
func (s *fakeSource) Done() <-chan struct{}                { return s.done }
func (s *fakeSource) Status() stream.Status                { return stream.Connected }
func (s *fakeSource) LastMessageAt() time.Time             { return time.Time{} }
func (s *fakeSource) Healthy() error                       { return nil }

type fakeGateway struct {
	log        *callLog
	setupErr   error
	publishErr error
	dropped    bool

	mu        sync.Mutex
	published []models.QueuePayload
	attempts  int
}

func (g *fakeGateway) Setup(ctx context.Context) error {
	g.log.add("setup")
	return g.setupErr
}

func (g *fakeGateway) Publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.publishErr != nil {
		return false, g.publishErr
	}
	if g.dropped {
		return false, nil
	}
	g.published = append(g.published, payload)
	return true, nil
}

func (g *fakeGateway) Shutdown(ctx context.Context) error {
	g.log.add("gateway-shutdown")
	return nil
}

func (g *fakeGateway) Name() string   { return "fake" }
func (g *fakeGateway) Healthy() error { return nil }

func (g *fakeGateway) publishedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.published)
}

func (g *fakeGateway) attemptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *fakeNotifier) Notify(a alert.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *fakeNotifier) snapshot() []alert.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Alert(nil), n.alerts...)
}

type fakeMatcher struct {
	minHeight int
	err       error
}

func (m fakeMatcher) Match(ctx context.Context, chain string, payload models.QueuePayload) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return len(payload.BlockHeight) >= m.minHeight, nil
}

var errPublish = errors.New("broker unavailable")

func payloadAt(height string) models.QueuePayload {
	return models.NewPayloadBuilder().
		WithDate(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)).
		WithBlockHeight(height).
		WithTxHash("HASH" + height).
		WithFee(big.NewInt(10)).
		WithTransaction(models.TransferOperation{
			Amount:          models.NewCryptoAmount(1, "uatom"),
			SenderAddress:   "cosmos1a",
			ReceiverAddress: "cosmos1b",
		}).
		Build()
}

type fakeDedup struct {
	mu       sync.Mutex
	seen     map[string]bool
	released []string
	err      error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]bool)}
}

func (d *fakeDedup) Claim(ctx context.Context, chainID string, payload models.QueuePayload) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	k := chainID + ":" + payload.BlockHeight
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *fakeDedup) Release(ctx context.Context, chainID string, payload models.QueuePayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := chainID + ":" + payload.BlockHeight
	delete(d.seen, k)
	d.released = append(d.released, k)
}
