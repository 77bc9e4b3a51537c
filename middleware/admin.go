package middleware

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

// AdminHandlers exposes the administrative surface as direct pass-throughs:
// reset a client's rate-limit state, invalidate one cache namespace, flush
// every cache entry, read aggregate stats. No additional logic lives here;
// route protection is the embedding server's job.
type AdminHandlers struct {
	logger  types.Logger
	limiter types.RateLimiter
	cache   types.ResponseCache
	metrics types.MetricsManager
}

func NewAdminHandlers(logger types.Logger, limiter types.RateLimiter, cache types.ResponseCache, metrics types.MetricsManager) *AdminHandlers {
	return &AdminHandlers{
		logger:  logger,
		limiter: limiter,
		cache:   cache,
		metrics: metrics,
	}
}

// ResetRateLimit handles ?profile=<name>&identifier=<id>.
func (h *AdminHandlers) ResetRateLimit(ctx *fasthttp.RequestCtx) {
	profile := string(ctx.QueryArgs().Peek("profile"))
	identifier := string(ctx.QueryArgs().Peek("identifier"))

	if err := h.limiter.Reset(ctx, profile, identifier); err != nil {
		h.respondError(ctx, err)
		return
	}

	h.respondJSON(ctx, map[string]string{"status": "reset"})
}

// InvalidateNamespace handles ?namespace=<ns>.
func (h *AdminHandlers) InvalidateNamespace(ctx *fasthttp.RequestCtx) {
	namespace := string(ctx.QueryArgs().Peek("namespace"))

	deleted, err := h.cache.InvalidateNamespace(ctx, namespace)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	h.respondJSON(ctx, map[string]interface{}{"keys_deleted": deleted})
}

func (h *AdminHandlers) FlushCache(ctx *fasthttp.RequestCtx) {
	actor := string(ctx.Request.Header.Peek("X-Admin-User"))
	if actor == "" {
		actor = "unknown"
	}

	if err := h.cache.FlushAll(ctx, actor); err != nil {
		h.respondError(ctx, err)
		return
	}

	h.respondJSON(ctx, map[string]bool{"flushed": true})
}

func (h *AdminHandlers) CacheStats(ctx *fasthttp.RequestCtx) {
	stats, err := h.cache.Stats(ctx)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	h.respondJSON(ctx, stats)
}

func (h *AdminHandlers) RateLimitStatus(ctx *fasthttp.RequestCtx) {
	profile := string(ctx.QueryArgs().Peek("profile"))
	identifier := string(ctx.QueryArgs().Peek("identifier"))

	verdict, err := h.limiter.Status(ctx, profile, identifier)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	h.respondJSON(ctx, verdict)
}

func (h *AdminHandlers) Metrics(ctx *fasthttp.RequestCtx) {
	body, err := h.metrics.GetMetrics()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetBody(body)
}

func (h *AdminHandlers) respondJSON(ctx *fasthttp.RequestCtx, value interface{}) {
	body, err := utils.Marshal(value)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetBody(body)
}

func (h *AdminHandlers) respondError(ctx *fasthttp.RequestCtx, err error) {
	h.logger.Error("Admin request failed", zap.Error(err))

	status := fasthttp.StatusInternalServerError
	if types.IsError(err, types.ErrProfileUnknown) || types.IsError(err, types.ErrNamespaceEmpty) {
		status = fasthttp.StatusBadRequest
	}

	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")

	body, marshalErr := utils.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	ctx.SetBody(body)
}
