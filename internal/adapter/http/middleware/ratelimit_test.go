package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ledger-mirror/internal/adapter/http/middleware"
	redisStore "ledger-mirror/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func setupRateLimitRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := redisStore.NewRateLimitStore(client, "ledger-mirror:test:")

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	r := gin.New()
	r.POST("/submit", middleware.RateLimiter(store, "submit", rule, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
	})
	return r, mr
}

func submit(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, "/submit", nil)
	req.RemoteAddr = remoteAddr
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	router, _ := setupRateLimitRouter(t)

	for i := 0; i < 3; i++ {
		w := submit(router, "10.0.0.1:5000")
		assert.Equal(t, http.StatusAccepted, w.Code, "request %d should succeed", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	router, _ := setupRateLimitRouter(t)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusAccepted, submit(router, "10.0.0.1:5000").Code)
	}

	w := submit(router, "10.0.0.1:5000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_001")
}

func TestRateLimiter_KeyedByClientIP(t *testing.T) {
	router, _ := setupRateLimitRouter(t)

	for i := 0; i < 3; i++ {
		submit(router, "10.0.0.1:5000")
	}
	assert.Equal(t, http.StatusTooManyRequests, submit(router, "10.0.0.1:5001").Code)
	assert.Equal(t, http.StatusAccepted, submit(router, "10.0.0.2:5000").Code)
}

func TestRateLimiter_DegradedWhenStoreDown(t *testing.T) {
	router, mr := setupRateLimitRouter(t)
	mr.Close()

	w := submit(router, "10.0.0.1:5000")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	assert.Equal(t, int64(10), rules["submit"].Limit)
	assert.Equal(t, int64(300), rules["read"].Limit)
	assert.Equal(t, int64(10), rules["connect"].Limit)
	assert.Equal(t, int64(30), rules["events"].Limit)
	for group, rule := range rules {
		assert.Equal(t, time.Minute, rule.Window, group)
	}
}
