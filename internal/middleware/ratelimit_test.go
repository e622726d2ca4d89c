package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/campusreg/enroll-api/pkg/config"
)

func serveRateLimited(t *testing.T, cfg config.RateLimitConfig, client *redis.Client) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	router := gin.New()
	router.Use(RateLimit(client, cfg, nil))
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false, Limit: 5, Window: time.Minute}
	recorder := serveRateLimited(t, cfg, nil)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRateLimitZeroWindowPassesThrough(t *testing.T) {
	// A misconfigured zero window must disable the limiter rather than
	// divide by zero when computing the window index.
	cfg := config.RateLimitConfig{Enabled: true, Limit: 5, Window: 0}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	recorder := serveRateLimited(t, cfg, client)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRateLimitZeroLimitPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Limit: 0, Window: time.Minute}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	recorder := serveRateLimited(t, cfg, client)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}
