package middleware

import (
	"bytes"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/ratelimit"
	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

var (
	realIPHeader    = []byte("X-Real-IP")
	forwardedHeader = []byte("X-Forwarded-For")
	commaBytes      = []byte(",")
)

// UserIDKey is the request-context key the authentication layer stores the
// authenticated user id under.
const UserIDKey = "user_id"

type rateLimitBody struct {
	Error      string `json:"error"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetAt    int64  `json:"reset_at"`
	RetryAfter int64  `json:"retry_after"`
}

// RateLimitMiddleware gates fasthttp handlers through one named limiter
// profile. Rejections carry machine-readable limit metadata so well-behaved
// clients can self-schedule retries.
type RateLimitMiddleware struct {
	logger  types.Logger
	limiter types.RateLimiter
	profile string
}

func NewRateLimitMiddleware(logger types.Logger, limiter types.RateLimiter, profileName string) (*RateLimitMiddleware, error) {
	if _, ok := limiter.Profile(profileName); !ok {
		return nil, types.Errorf(types.ErrProfileUnknown, "profile: %s", profileName)
	}

	return &RateLimitMiddleware{
		logger:  logger,
		limiter: limiter,
		profile: profileName,
	}, nil
}

func (m *RateLimitMiddleware) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		client := ExtractClient(ctx)
		profile, _ := m.limiter.Profile(m.profile)
		identifier := ratelimit.Identify(profile, client)

		verdict, err := m.limiter.Check(ctx, m.profile, identifier)
		if err != nil {
			// Only a programmer error (unknown profile) reaches here; store
			// outages are already absorbed by the limiter's outage policy.
			m.logger.Error("Rate limit check failed", zap.Error(err))
			next(ctx)
			return
		}

		setRateLimitHeaders(ctx, verdict)

		if !verdict.Allowed {
			m.reject(ctx, verdict)
			return
		}

		next(ctx)
	}
}

func (m *RateLimitMiddleware) reject(ctx *fasthttp.RequestCtx, verdict types.RateLimitVerdict) {
	retryAfter := int64(verdict.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.Response.Header.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

	body, err := utils.Marshal(rateLimitBody{
		Error:      "rate limit exceeded",
		Limit:      verdict.Limit,
		Remaining:  0,
		ResetAt:    verdict.ResetAt.Unix(),
		RetryAfter: retryAfter,
	})
	if err != nil {
		m.logger.Error("Failed to marshal rate limit response", zap.Error(err))
		return
	}

	ctx.SetBody(body)
}

func setRateLimitHeaders(ctx *fasthttp.RequestCtx, verdict types.RateLimitVerdict) {
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(verdict.ResetAt.Unix(), 10))
}

// ExtractClient pulls the transport identity facts out of a request:
// forwarded headers first (the app sits behind a proxy), then the peer
// address, plus the authenticated user id when the auth layer set one.
func ExtractClient(ctx *fasthttp.RequestCtx) ratelimit.Client {
	client := ratelimit.Client{
		IP: utils.BytesToString(extractRealIP(ctx)),
	}

	if userID, ok := ctx.UserValue(UserIDKey).(string); ok {
		client.UserID = userID
	}

	return client
}

func extractRealIP(ctx *fasthttp.RequestCtx) []byte {
	if forwarded := ctx.Request.Header.PeekBytes(forwardedHeader); len(forwarded) > 0 {
		if comma := bytes.Index(forwarded, commaBytes); comma > 0 {
			return bytes.TrimSpace(forwarded[:comma])
		}
		return bytes.TrimSpace(forwarded)
	}

	if realIP := ctx.Request.Header.PeekBytes(realIPHeader); len(realIP) > 0 {
		return realIP
	}

	remote := ctx.RemoteIP()
	if remote == nil {
		return nil
	}
	return []byte(remote.String())
}
