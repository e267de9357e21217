package stream

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

type inbound struct {
	messageType int
	data        []byte
	err         error
}

type fakeConn struct {
	frames    chan inbound
	closed    chan struct{}
	closeOnce sync.Once
	ackClose  bool

	mu         sync.Mutex
	written    [][]byte
	controls   []int
	closeCalls atomic.Int32
}

func newFakeConn(ackClose bool) *fakeConn {
	return &fakeConn{
		frames:   make(chan inbound, 16),
		closed:   make(chan struct{}),
		ackClose: ackClose,
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, messageType)
	c.mu.Unlock()

	if messageType == websocket.CloseMessage && c.ackClose {
		c.frames <- inbound{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(data string) {
	c.frames <- inbound{messageType: websocket.TextMessage, data: []byte(data)}
}

func (c *fakeConn) fail(err error) {
	c.frames <- inbound{err: err}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *fakeConn) controlCount(messageType int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.controls {
		if t == messageType {
			n++
		}
	}
	return n
}

var errDialRefused = errors.New("dial tcp: connection refused")

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failNext int
	failAll  bool
	noAck    bool
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failAll {
		return nil, errDialRefused
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, errDialRefused
	}
	conn := newFakeConn(!d.noAck)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) setFailAll(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = v
}

type funcExtractor func(env *models.ChainEventEnvelope) (models.QueuePayload, error)

func (f funcExtractor) Extract(env *models.ChainEventEnvelope) (models.QueuePayload, error) {
	return f(env)
}

type statusRecorder struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (r *statusRecorder) hook(change StatusChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *statusRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}
