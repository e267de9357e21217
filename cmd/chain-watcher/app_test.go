package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitul-open-wallet/cosmos-stream/internal/broker"
	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

type stubGateway struct{ ready bool }

func (g *stubGateway) Setup(ctx context.Context) error { g.ready = true; return nil }
func (g *stubGateway) Publish(ctx context.Context, payload models.QueuePayload) (bool, error) {
	return true, nil
}
func (g *stubGateway) Shutdown(ctx context.Context) error { g.ready = false; return nil }
func (g *stubGateway) Name() string                       { return "stub" }
func (g *stubGateway) Healthy() error {
	if !g.ready {
		return errors.New("not connected")
	}
	return nil
}

type refusingDialer struct{}

func (refusingDialer) Dial(ctx context.Context, url string) (stream.Conn, error) {
	return nil, errors.New("connection refused")
}

func newChainServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(endpoint string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 0},
		Chains: config.ChainsConfig{
			IDs:       []string{"cosmos_hub"},
			Endpoints: map[string]string{"cosmos_hub": endpoint},
		},
		Broker: config.BrokerConfig{Type: "rabbitmq", Exchange: "cosmos_transfers"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, dialer stream.Dialer) *App {
	t.Helper()
	app := NewApp(cfg, logger.NopLogger())
	app.deps.Dialer = dialer
	app.deps.NewGateway = func(config.BrokerConfig, chain.Chain, logger.Logger) (broker.Gateway, error) {
		return &stubGateway{}, nil
	}
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func get(t *testing.T, app *App, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestCheck(t *testing.T) {
	app := newTestApp(t, testConfig("ws://127.0.0.1:1/websocket"), refusingDialer{})

	code, body := get(t, app, "/check")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hello", body["message"])
}

func TestStatusBeforeBootstrap(t *testing.T) {
	app := newTestApp(t, testConfig("ws://127.0.0.1:1/websocket"), refusingDialer{})

	code, body := get(t, app, "/status")
	assert.Equal(t, http.StatusOK, code)

	chains := body["chains"].(map[string]interface{})
	hub := chains["cosmos_hub"].(map[string]interface{})
	assert.Equal(t, "NOT_INITIALIZED", hub["status"])
	assert.Equal(t, false, hub["running"])
	assert.NotContains(t, hub, "lastMessageAt")

	code, body = get(t, app, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestBootstrapFailure(t *testing.T) {
	app := newTestApp(t, testConfig("ws://127.0.0.1:1/websocket"), refusingDialer{})

	code, body := get(t, app, "/bootstrap")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, []interface{}{}, body["started"])
	assert.Equal(t, "CONNECTION_ERROR", body["error_code"])
	assert.Equal(t, "cosmos_hub", body["details"].(map[string]interface{})["chain"])
}

func TestBootstrapStartsPipelines(t *testing.T) {
	app := newTestApp(t, testConfig(newChainServer(t)), nil)

	code, body := get(t, app, "/bootstrap")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"cosmos_hub"}, body["started"])

	code, body = get(t, app, "/status")
	assert.Equal(t, http.StatusOK, code)
	hub := body["chains"].(map[string]interface{})["cosmos_hub"].(map[string]interface{})
	assert.Equal(t, "CONNECTED", hub["status"])
	assert.Equal(t, true, hub["running"])

	code, body = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = get(t, app, "/bootstrap")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, body["started"], "running pipelines are left alone")
}

func TestBootstrapRateLimited(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/websocket")
	cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	app := newTestApp(t, cfg, refusingDialer{})

	code, _ := get(t, app, "/bootstrap")
	assert.Equal(t, http.StatusBadGateway, code)

	code, body := get(t, app, "/bootstrap")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body["error_code"])

	code, _ = get(t, app, "/check")
	assert.Equal(t, http.StatusOK, code, "only bootstrap is limited")
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, testConfig("ws://127.0.0.1:1/websocket"), refusingDialer{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestInitializeRejectsUnknownChain(t *testing.T) {
	cfg := testConfig("")
	cfg.Chains.IDs = []string{"dogecoin"}

	app := NewApp(cfg, logger.NopLogger())
	assert.Error(t, app.Initialize(context.Background()))
}

type stubConsumer struct {
	payloads []models.QueuePayload
	closed   bool
}

func (c *stubConsumer) Consume(ctx context.Context, handler broker.HandlerFunc) error {
	for _, p := range c.payloads {
		if err := handler(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (c *stubConsumer) Close() error {
	c.closed = true
	return nil
}

func TestRunTail(t *testing.T) {
	consumer := &stubConsumer{payloads: []models.QueuePayload{
		{BlockHeight: "100", TipReceiver: []models.TipReceiverItem{}},
		{BlockHeight: "101", TipReceiver: []models.TipReceiverItem{}},
	}}
	var gotChain string
	newConsumer = func(cfg config.BrokerConfig, c chain.Chain, log logger.Logger) (broker.Consumer, error) {
		gotChain = c.ID
		return consumer, nil
	}
	defer func() { newConsumer = broker.NewConsumer }()

	cfg := testConfig("")
	cfg.Chains.IDs = []string{"cosmos_hub", "osmosis"}

	var out bytes.Buffer
	require.NoError(t, runTail(context.Background(), cfg, "osmosis", &out, logger.NopLogger()))

	assert.Equal(t, "osmosis", gotChain)
	assert.True(t, consumer.closed)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"blockHeight":"100"`)
}

func TestSelectChain(t *testing.T) {
	cfg := testConfig("")
	cfg.Chains.IDs = []string{"cosmos_hub", "osmosis"}

	c, err := selectChain(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "cosmos_hub", c.ID)

	_, err = selectChain(cfg, "akash")
	assert.Error(t, err)
}
