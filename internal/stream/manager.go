// Package stream owns the websocket connection to a chain node: it connects,
// subscribes to transaction events, watches for stalls, reconnects with
// backoff and emits normalized payloads on a bounded channel.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/metrics"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/retry"
)

var subscribeFrame = []byte(`{"jsonrpc":"2.0","method":"subscribe","id":"txs","params":{"query":"tm.event='Tx'"}}`)

// Close codes after which the node expects the client to come back.
var restartCloseCodes = map[int]bool{
	websocket.CloseTryAgainLater:   true,
	websocket.CloseAbnormalClosure: true,
	websocket.CloseServiceRestart:  true,
	websocket.CloseGoingAway:       true,
}

type PayloadExtractor interface {
	Extract(env *models.ChainEventEnvelope) (models.QueuePayload, error)
}

type Manager struct {
	chain     chain.Chain
	opts      Options
	dialer    Dialer
	extractor PayloadExtractor
	logger    logger.Logger
	now       func() time.Time

	mu             sync.Mutex
	writeMu        sync.Mutex
	status         Status
	conn           Conn
	generation     uint64
	attempts       int
	reconnectTimer *time.Timer
	livenessStop   chan struct{}
	readerDone     chan struct{}
	lastMessage    time.Time

	shuttingDown  atomic.Bool
	stopping      chan struct{}
	done          chan struct{}
	terminateOnce sync.Once

	payloads chan models.QueuePayload

	statusHooks []func(StatusChange)
	onGiveUp    func(chainID string, attempts int)
	exit        func(code int)
}

type ManagerOption func(*Manager)

// WithStatusHook registers a callback for every status transition. Hooks run
// with the manager lock held and must not block or call back into the
// manager.
func WithStatusHook(hook func(StatusChange)) ManagerOption {
	return func(m *Manager) {
		m.statusHooks = append(m.statusHooks, hook)
	}
}

// WithGiveUpHook is invoked in its own goroutine once reconnecting is
// abandoned.
func WithGiveUpHook(hook func(chainID string, attempts int)) ManagerOption {
	return func(m *Manager) {
		m.onGiveUp = hook
	}
}

// WithExitHook sets the process exit used by HandleTermination.
func WithExitHook(exit func(code int)) ManagerOption {
	return func(m *Manager) {
		m.exit = exit
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(c chain.Chain, opts Options, dialer Dialer, extractor PayloadExtractor, log logger.Logger, options ...ManagerOption) *Manager {
	if log == nil {
		log = logger.NopLogger()
	}
	if dialer == nil {
		dialer = NewWebsocketDialer(opts.DialTimeout)
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}

	m := &Manager{
		chain:     c,
		opts:      opts,
		dialer:    dialer,
		extractor: extractor,
		logger:    log.With("chain", c.ID),
		now:       time.Now,
		status:    NotInitialized,
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		payloads:  make(chan models.QueuePayload, opts.BufferSize),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *Manager) Chain() chain.Chain {
	return m.chain
}

func (m *Manager) Payloads() <-chan models.QueuePayload {
	return m.payloads
}

// Done is closed once Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) ShutdownInProgress() bool {
	return m.shuttingDown.Load()
}

func (m *Manager) LastMessageAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessage
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Healthy reports an error unless the socket is connected.
func (m *Manager) Healthy() error {
	if status := m.Status(); status != Connected {
		return apperrors.ErrConnection.WithDetail("chain", m.chain.ID).WithDetail("status", status.String())
	}
	return nil
}

// Bootstrap opens the first connection. A failed first dial is returned to
// the caller and is not retried.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m.shuttingDown.Load() {
		return apperrors.ErrConnection.WithDetail("chain", m.chain.ID).WithDetail("message", "manager is shut down")
	}

	m.mu.Lock()
	if m.status != NotInitialized && m.status != Closed {
		m.mu.Unlock()
		return nil
	}
	m.setStatusLocked(Connecting)
	gen := m.generation
	m.mu.Unlock()

	m.logger.InfowCtx(ctx, "Connecting to chain node", "endpoint", m.chain.Endpoint)

	conn, err := m.dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.setStatusLocked(Closed)
		return apperrors.ErrConnection.WithCause(err).WithDetail("chain", m.chain.ID).WithDetail("endpoint", m.chain.Endpoint)
	}
	if m.shuttingDown.Load() || gen != m.generation {
		conn.Close()
		return apperrors.ErrConnection.WithDetail("chain", m.chain.ID).WithDetail("message", "shutdown during bootstrap")
	}

	m.openLocked(conn)
	return nil
}

// RestartIfRequired reconnects synchronously when the connection is down and
// nobody else is already handling it.
func (m *Manager) RestartIfRequired(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown.Load() || !m.status.restartable() {
		m.mu.Unlock()
		return nil
	}

	m.logger.InfowCtx(ctx, "Restarting connection", "status", m.status.String())
	m.teardownLocked()
	m.setStatusLocked(Connecting)
	gen := m.generation
	m.mu.Unlock()

	metrics.IncReconnectAttempt(m.chain.ID, "restart")
	conn, err := m.dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown.Load() || gen != m.generation {
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.logger.WarnwCtx(ctx, "Restart failed", "error", err)
		m.setStatusLocked(NeedsRestart)
		m.scheduleReconnectLocked()
		return apperrors.ErrConnection.WithCause(err).WithDetail("chain", m.chain.ID)
	}

	m.openLocked(conn)
	return nil
}

// Shutdown stops reconnecting, closes the socket and waits for the close
// handshake. Only the first call does any work.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopping)

	m.mu.Lock()
	m.cancelTimerLocked()
	m.stopLivenessLocked()
	conn := m.conn
	readerDone := m.readerDone
	m.setStatusLocked(Closing)
	m.mu.Unlock()

	m.logger.InfowCtx(ctx, "Shutting down stream")

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		if werr := conn.WriteControl(websocket.CloseMessage, msg, m.now().Add(time.Second)); werr != nil {
			m.logger.DebugwCtx(ctx, "Failed to send close frame", "error", werr)
		}

		timer := time.NewTimer(m.opts.ShutdownTimeout)
		select {
		case <-readerDone:
		case <-timer.C:
			err = apperrors.ErrShutdownTimeout.WithDetail("chain", m.chain.ID)
		case <-ctx.Done():
			err = apperrors.ErrShutdownTimeout.WithCause(ctx.Err()).WithDetail("chain", m.chain.ID)
		}
		timer.Stop()

		if err != nil {
			m.logger.WarnwCtx(ctx, "Close acknowledgment not received", "error", err)
		}
		conn.Close()
	}

	m.mu.Lock()
	m.generation++
	m.conn = nil
	m.setStatusLocked(Closed)
	m.mu.Unlock()

	close(m.done)
	m.logger.InfowCtx(ctx, "Stream shut down")
	return err
}

// HandleTermination shuts down once however many signals arrive, then calls
// the exit hook. It serves a manager driven on its own; when managers run
// inside pipelines, orchestrator.Coordinator.Listen owns signal handling and
// stops them through Pipeline.Stop instead.
func (m *Manager) HandleTermination(ctx context.Context) {
	m.terminateOnce.Do(func() {
		code := 0
		if err := m.Shutdown(ctx); err != nil {
			m.logger.ErrorwCtx(ctx, "Shutdown finished with error", "error", err)
			code = 1
		}
		if m.exit != nil {
			m.exit(code)
		}
	})
}

func (m *Manager) dial(ctx context.Context) (Conn, error) {
	if m.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.DialTimeout)
		defer cancel()
	}
	return m.dialer.Dial(ctx, m.chain.Endpoint)
}

func (m *Manager) setStatusLocked(status Status) {
	if m.status == status {
		return
	}
	change := StatusChange{Chain: m.chain.ID, From: m.status, To: status, At: m.now()}
	m.status = status
	metrics.SetConnectionStatus(m.chain.ID, int(status))
	for _, hook := range m.statusHooks {
		hook(change)
	}
}

func (m *Manager) openLocked(conn Conn) {
	m.generation++
	gen := m.generation

	m.conn = conn
	m.attempts = 0
	m.lastMessage = m.now()
	m.setStatusLocked(Connected)

	if err := m.write(conn, subscribeFrame); err != nil {
		m.logger.Errorw("Failed to send subscription", "error", err)
		m.setStatusLocked(SystemError)
	} else {
		m.logger.Infow("Subscribed to transaction events", "endpoint", m.chain.Endpoint)
	}

	readerDone := make(chan struct{})
	livenessStop := make(chan struct{})
	m.readerDone = readerDone
	m.livenessStop = livenessStop

	go m.readLoop(gen, conn, readerDone)
	go m.livenessLoop(gen, conn, livenessStop)
}

// teardownLocked makes the current connection stale and closes it. Its
// reader and liveness goroutines notice the generation change and exit
// without touching manager state.
func (m *Manager) teardownLocked() {
	m.generation++
	m.cancelTimerLocked()
	m.stopLivenessLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) cancelTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) stopLivenessLocked() {
	if m.livenessStop != nil {
		close(m.livenessStop)
		m.livenessStop = nil
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && !m.shuttingDown.Load()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.giveUpLocked()
		return
	}
	delay := retry.ReconnectDelay(m.attempts, m.opts.InitialReconnectDelay, m.opts.MaxReconnectDelay)
	m.attempts++
	m.logger.Warnw("Scheduling reconnect", "attempt", m.attempts, "max_attempts", m.opts.MaxReconnectAttempts, "delay", delay)
	m.scheduleLocked(delay, "backoff")
}

func (m *Manager) scheduleLocked(delay time.Duration, kind string) {
	m.cancelTimerLocked()
	gen := m.generation
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.reconnect(gen, kind)
	})
}

func (m *Manager) giveUpLocked() {
	m.cancelTimerLocked()
	m.setStatusLocked(GivenUp)
	m.logger.Errorw("Giving up on chain node after repeated reconnect failures",
		"attempts", m.attempts,
		"endpoint", m.chain.Endpoint,
	)
	metrics.IncGivenUp(m.chain.ID)
	if m.onGiveUp != nil {
		go m.onGiveUp(m.chain.ID, m.attempts)
	}
}

func (m *Manager) reconnect(gen uint64, kind string) {
	m.mu.Lock()
	if m.shuttingDown.Load() || gen != m.generation {
		m.mu.Unlock()
		return
	}
	switch m.status {
	case Connected, Connecting, GivenUp:
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.teardownLocked()
	m.setStatusLocked(Connecting)
	gen = m.generation
	m.mu.Unlock()

	metrics.IncReconnectAttempt(m.chain.ID, kind)
	conn, err := m.dial(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown.Load() || gen != m.generation {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warnw("Reconnect failed", "error", err, "attempt", m.attempts)
		m.setStatusLocked(NeedsRestart)
		m.scheduleReconnectLocked()
		return
	}

	m.logger.Infow("Reconnected to chain node", "kind", kind)
	m.openLocked(conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		if !m.isCurrent(gen) {
			continue
		}
		m.handleFrame(conn, messageType, data)
	}
}

func (m *Manager) handleReadError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	m.stopLivenessLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.shuttingDown.Load() {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		m.setStatusLocked(Closed)
		if restartCloseCodes[closeErr.Code] {
			m.logger.Warnw("Connection closed by node, restarting", "code", closeErr.Code, "reason", closeErr.Text, "delay", m.opts.RestartDelay)
			m.setStatusLocked(NeedsRestart)
			m.scheduleLocked(m.opts.RestartDelay, "restart")
			return
		}
		m.logger.Warnw("Connection closed by node", "code", closeErr.Code, "reason", closeErr.Text)
		return
	}

	m.logger.Errorw("Connection error", "error", err)
	m.setStatusLocked(NeedsRestart)
	m.scheduleReconnectLocked()
}

func (m *Manager) handleFrame(conn Conn, messageType int, data []byte) {
	m.mu.Lock()
	m.lastMessage = m.now()
	m.mu.Unlock()
	metrics.IncFramesReceived(m.chain.ID)

	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return
	}

	var env models.ChainEventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.IncMalformedFrame(m.chain.ID)
		m.logger.Warnw("Dropping malformed frame", "error", err, "size", len(data))
		return
	}

	var (
		payload    models.QueuePayload
		extractErr error
	)
	ok := apperrors.Guard(func() {
		payload, extractErr = m.extractor.Extract(&env)
	}, func(err error) {
		metrics.IncExtractionPanic(m.chain.ID)
		m.logger.Errorw("Recovered panic while processing frame", "error", err)
	})
	if !ok {
		return
	}

	if extractErr != nil {
		metrics.IncPayloadExtracted(m.chain.ID, "error")
		m.logger.Errorw("Failed to extract payload", "error", extractErr)
		payload = models.NoOpPayload()
	}

	if payload.IsNoOp() {
		metrics.IncPayloadExtracted(m.chain.ID, "noop")
		if m.opts.EchoNoOp {
			m.echoNoOp(conn)
		}
		return
	}

	metrics.IncPayloadExtracted(m.chain.ID, "payload")
	select {
	case m.payloads <- payload:
	case <-m.stopping:
	}
}

func (m *Manager) echoNoOp(conn Conn) {
	frame, err := json.Marshal(models.NoOpPayload())
	if err != nil {
		return
	}
	if err := m.write(conn, frame); err != nil {
		m.logger.Debugw("Failed to send diagnostic frame", "error", err)
	}
}

func (m *Manager) write(conn Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) livenessLoop(gen uint64, conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if !m.isCurrent(gen) {
			return
		}

		if m.opts.StallThreshold > 0 {
			if silence := m.now().Sub(m.LastMessageAt()); silence > m.opts.StallThreshold {
				m.handleStall(gen, silence)
				return
			}
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, m.now().Add(m.opts.PingInterval)); err != nil {
			m.logger.Debugw("Ping failed", "error", err)
		}
	}
}

func (m *Manager) handleStall(gen uint64, silence time.Duration) {
	m.mu.Lock()
	if gen != m.generation || m.shuttingDown.Load() {
		m.mu.Unlock()
		return
	}
	m.logger.Warnw("No frames received within stall threshold, forcing reconnect",
		"silence", silence,
		"threshold", m.opts.StallThreshold,
	)
	metrics.IncStallDetected(m.chain.ID)
	m.teardownLocked()
	m.setStatusLocked(NeedsRestart)
	m.mu.Unlock()

	if err := m.RestartIfRequired(context.Background()); err != nil {
		m.logger.Warnw("Restart after stall failed", "error", err)
	}
}
