package middleware

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/logger"
	"github.com/danribes/mystic-ecom-sub013/metrics"
	"github.com/danribes/mystic-ecom-sub013/ratelimit"
	"github.com/danribes/mystic-ecom-sub013/store"
	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

func newTestMiddleware(t *testing.T, profile types.RateLimitProfile) *RateLimitMiddleware {
	t.Helper()

	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	nop := logger.NewZapWrapper(zap.NewNop())
	limiter, err := ratelimit.NewLimiter(
		nop,
		&types.RateLimitConfig{Enabled: true, Profiles: []types.RateLimitProfile{profile}},
		memStore,
		metrics.NewMemoryMetrics(),
	)
	require.NoError(t, err)
	require.NoError(t, limiter.Start())
	t.Cleanup(func() { _ = limiter.Stop() })

	middleware, err := NewRateLimitMiddleware(nop, limiter, profile.Name)
	require.NoError(t, err)

	return middleware
}

func loginProfile(maxRequests int) types.RateLimitProfile {
	return types.RateLimitProfile{
		Name:        "auth",
		KeyPrefix:   "rl:auth",
		MaxRequests: maxRequests,
		Window:      types.Duration(15 * time.Minute),
		Strategy:    types.IdentifyByIP,
	}
}

func newRequestCtx(remoteAddr string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI("/api/login")
	req.Header.SetMethod(fasthttp.MethodPost)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(remoteAddr), Port: 51034}, nil)
	return ctx
}

func TestWrapPassesThroughUnderLimit(t *testing.T) {
	middleware := newTestMiddleware(t, loginProfile(5))

	handled := 0
	handler := middleware.Wrap(func(ctx *fasthttp.RequestCtx) {
		handled++
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := newRequestCtx("198.51.100.4")
	handler(ctx)

	assert.Equal(t, 1, handled)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "5", string(ctx.Response.Header.Peek("X-RateLimit-Limit")))
	assert.Equal(t, "4", string(ctx.Response.Header.Peek("X-RateLimit-Remaining")))
	assert.NotEmpty(t, ctx.Response.Header.Peek("X-RateLimit-Reset"))
}

func TestWrapRejectsOverLimit(t *testing.T) {
	middleware := newTestMiddleware(t, loginProfile(2))

	handled := 0
	handler := middleware.Wrap(func(ctx *fasthttp.RequestCtx) {
		handled++
	})

	for i := 0; i < 2; i++ {
		handler(newRequestCtx("198.51.100.4"))
	}
	require.Equal(t, 2, handled)

	ctx := newRequestCtx("198.51.100.4")
	handler(ctx)

	assert.Equal(t, 2, handled, "the wrapped handler must not run for a rejected request")
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.Peek("Content-Type")))
	assert.Equal(t, "0", string(ctx.Response.Header.Peek("X-RateLimit-Remaining")))
	assert.NotEmpty(t, ctx.Response.Header.Peek("Retry-After"))

	var body rateLimitBody
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	assert.Equal(t, 2, body.Limit)
	assert.Zero(t, body.Remaining)
	assert.GreaterOrEqual(t, body.RetryAfter, int64(1))
	assert.Greater(t, body.ResetAt, time.Now().Unix())
}

func TestWrapIsolatesClientsByIP(t *testing.T) {
	middleware := newTestMiddleware(t, loginProfile(1))

	handled := 0
	handler := middleware.Wrap(func(ctx *fasthttp.RequestCtx) {
		handled++
	})

	handler(newRequestCtx("198.51.100.4"))

	blocked := newRequestCtx("198.51.100.4")
	handler(blocked)
	assert.Equal(t, fasthttp.StatusTooManyRequests, blocked.Response.StatusCode())

	other := newRequestCtx("203.0.113.9")
	handler(other)
	assert.Equal(t, 2, handled)
	assert.NotEqual(t, fasthttp.StatusTooManyRequests, other.Response.StatusCode())
}

func TestNewRateLimitMiddlewareUnknownProfile(t *testing.T) {
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	nop := logger.NewZapWrapper(zap.NewNop())
	limiter, err := ratelimit.NewLimiter(
		nop,
		&types.RateLimitConfig{Enabled: true, Profiles: []types.RateLimitProfile{loginProfile(5)}},
		memStore,
		metrics.NewMemoryMetrics(),
	)
	require.NoError(t, err)

	_, err = NewRateLimitMiddleware(nop, limiter, "checkout")
	assert.ErrorIs(t, err, types.ErrProfileUnknown)
}

func TestExtractClientPrefersForwardedFor(t *testing.T) {
	ctx := newRequestCtx("10.0.0.1")
	ctx.Request.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	ctx.Request.Header.Set("X-Real-IP", "203.0.113.99")

	client := ExtractClient(ctx)
	assert.Equal(t, "203.0.113.50", client.IP)
}

func TestExtractClientFallsBackToRealIP(t *testing.T) {
	ctx := newRequestCtx("10.0.0.1")
	ctx.Request.Header.Set("X-Real-IP", "203.0.113.99")

	client := ExtractClient(ctx)
	assert.Equal(t, "203.0.113.99", client.IP)
}

func TestExtractClientFallsBackToRemoteAddr(t *testing.T) {
	client := ExtractClient(newRequestCtx("192.0.2.33"))
	assert.Equal(t, "192.0.2.33", client.IP)
}

func TestExtractClientReadsUserValue(t *testing.T) {
	ctx := newRequestCtx("192.0.2.33")
	ctx.SetUserValue(UserIDKey, "user_789")

	client := ExtractClient(ctx)
	assert.Equal(t, "user_789", client.UserID)
}
