package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{RPS: 5, Burst: 10, CleanupInterval: 30, MaxAge: 60})
	assert.Equal(t, 5.0, cfg.RPS)
	assert.Equal(t, 10, cfg.Burst)
	assert.Equal(t, 30*time.Second, cfg.CleanupInterval)
	assert.Equal(t, time.Minute, cfg.MaxAge)

	assert.Equal(t, DefaultConfig(), FromConfig(config.RateLimitConfig{}))
}

func TestStore_AllowBurst(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(RateLimitConfig{RPS: 1, Burst: 2, MaxAge: time.Minute})
	store.now = func() time.Time { return now }

	ok, remaining := store.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, _ = store.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, remaining = store.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _ = store.Allow("10.0.0.2")
	assert.True(t, ok, "limits are per client")

	now = now.Add(time.Second)
	ok, _ = store.Allow("10.0.0.1")
	assert.True(t, ok, "token refilled")
}

func TestStore_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	store.now = func() time.Time { return now }

	store.Allow("a")
	now = now.Add(30 * time.Second)
	store.Allow("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMiddleware(t *testing.T) {
	store := NewStore(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	router := gin.New()
	router.GET("/bootstrap", Middleware(store), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"started": true})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bootstrap", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bootstrap", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}
