package edge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/galerly/transform/internal/config"
	"github.com/galerly/transform/internal/metrics"
	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

// ActionType is the terminal state of one routing decision.
type ActionType string

const (
	// ActionPassthrough forwards the request to the original object
	// unmodified.
	ActionPassthrough ActionType = "passthrough"

	// ActionRewrite points the request at a cached rendition key.
	ActionRewrite ActionType = "rewrite"

	// ActionRespond terminates with a generated response.
	ActionRespond ActionType = "respond"
)

// RouteResult describes what the edge should do with the request.
type RouteResult struct {
	Action ActionType

	// RewriteKey is the rendition object key when Action is ActionRewrite.
	RewriteKey string

	// Response fields when Action is ActionRespond.
	Status      int
	ContentType string
	Body        []byte
}

// Router makes the per-request cache-first routing decision. It holds no
// cross-request state: every invocation is an independent decision over
// the request plus a read-only view of the rendition namespace. It never
// writes to storage; its only side effect is triggering transform
// invocations.
type Router struct {
	renditions   types.ObjectStore
	invoker      types.Invoker
	mode         string
	syncWait     time.Duration
	maxInline    int64
	originDomain string
	collector    *metrics.Collector
	logger       *slog.Logger
}

// New creates an edge router. The collector may be nil.
func New(renditions types.ObjectStore, invoker types.Invoker, cfg config.EdgeConfig, collector *metrics.Collector) *Router {
	return &Router{
		renditions:   renditions,
		invoker:      invoker,
		mode:         cfg.InvocationMode,
		syncWait:     cfg.SyncTimeout,
		maxInline:    cfg.MaxInlineBytes,
		originDomain: cfg.RenditionsOrigin,
		collector:    collector,
		logger:       slog.Default().With("component", "edge-router"),
	}
}

// Route decides how to serve one request.
//
// Requests without any recognized transform parameter pass straight
// through: no cache lookup, no invocation. Requests with parameters are
// validated, mapped to their deterministic cache key, and served from the
// rendition namespace when present. On a miss the transform is invoked
// per the configured discipline; a failed or unreachable transform always
// degrades to serving the original, never a hard error.
func (r *Router) Route(ctx context.Context, uri, query string) *RouteResult {
	key := strings.TrimPrefix(uri, "/")

	req, present, err := parseParams(query)
	if err != nil {
		r.collector.ObserveRoute(metrics.OutcomeRejected)
		return r.reject(err)
	}
	if !present {
		r.collector.ObserveRoute(metrics.OutcomePassthrough)
		return &RouteResult{Action: ActionPassthrough}
	}

	req.SourceKey = key
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		r.collector.ObserveRoute(metrics.OutcomeRejected)
		return r.reject(err)
	}

	cacheKey := req.CacheKey()

	exists, err := r.renditions.Exists(ctx, cacheKey)
	if err != nil {
		// A failing existence check is treated as a miss; degrading to
		// recompute beats failing the request.
		r.logger.Warn("rendition existence check failed", "key", cacheKey, "error", err)
		exists = false
	}
	if exists {
		r.collector.ObserveRoute(metrics.OutcomeCacheHit)
		return &RouteResult{Action: ActionRewrite, RewriteKey: cacheKey}
	}

	r.collector.ObserveRoute(metrics.OutcomeCacheMiss)
	return r.invokeAndFallback(ctx, req, cacheKey)
}

// invokeAndFallback dispatches the transform for a cache miss.
//
// Async mode fires the invocation and immediately serves the original;
// the next request for the same cache key finds the rendition. Sync mode
// waits up to the configured budget and serves the transformed bytes,
// falling back to the original on any failure.
func (r *Router) invokeAndFallback(ctx context.Context, req types.TransformRequest, cacheKey string) *RouteResult {
	payload, err := json.Marshal(req)
	if err != nil {
		r.logger.Error("failed to marshal transform request", "error", err)
		return &RouteResult{Action: ActionPassthrough}
	}

	if r.mode == config.ModeAsync {
		if err := r.invoker.InvokeAsync(ctx, payload); err != nil {
			// Fire-and-forget: the trigger failing only costs this
			// viewer the rendition, not the image.
			r.logger.Warn("async transform dispatch failed", "key", cacheKey, "error", err)
			r.collector.ObserveInvocation(config.ModeAsync, "error")
		} else {
			r.collector.ObserveInvocation(config.ModeAsync, "ok")
		}
		return &RouteResult{Action: ActionPassthrough}
	}

	syncCtx, cancel := context.WithTimeout(ctx, r.syncWait)
	defer cancel()

	raw, err := r.invoker.Invoke(syncCtx, payload)
	if err != nil {
		r.logger.Warn("sync transform failed, serving original", "key", cacheKey, "error", err)
		r.collector.ObserveInvocation(config.ModeSync, "error")
		return &RouteResult{Action: ActionPassthrough}
	}

	var resp types.InvocationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		r.logger.Warn("unparseable transform response, serving original", "key", cacheKey, "error", err)
		r.collector.ObserveInvocation(config.ModeSync, "error")
		return &RouteResult{Action: ActionPassthrough}
	}

	// A response carrying neither bytes nor a structured error is a
	// malformed invocation result, never a valid transform outcome.
	if resp.ErrorKind == "" && len(resp.Body) == 0 {
		r.logger.Warn("empty transform response, serving original", "key", cacheKey)
		r.collector.ObserveInvocation(config.ModeSync, "error")
		return &RouteResult{Action: ActionPassthrough}
	}

	if resp.ErrorKind != "" {
		r.collector.ObserveInvocation(config.ModeSync, "error")
		// The source truly being absent is the one engine failure worth
		// surfacing: there is no original to fall back to either.
		if resp.ErrorKind == "NotFound" {
			return &RouteResult{
				Action:      ActionRespond,
				Status:      404,
				ContentType: "application/json",
				Body:        raw,
			}
		}
		r.logger.Warn("transform returned error, serving original",
			"key", cacheKey, "kind", resp.ErrorKind, "message", resp.Message)
		return &RouteResult{Action: ActionPassthrough}
	}

	r.collector.ObserveInvocation(config.ModeSync, "ok")

	// Edge-generated responses are size-capped; larger results are served
	// by rewriting to the rendition the engine just wrote. If the write
	// failed the rendition is not there to rewrite to, so the original
	// serves instead.
	if int64(len(resp.Body)) > r.maxInline {
		if !resp.Cached {
			r.logger.Warn("oversized result not cached, serving original", "key", cacheKey)
			return &RouteResult{Action: ActionPassthrough}
		}
		return &RouteResult{Action: ActionRewrite, RewriteKey: cacheKey}
	}

	return &RouteResult{
		Action:      ActionRespond,
		Status:      200,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	}
}

func (r *Router) reject(err error) *RouteResult {
	status := 400
	var te *errors.TransformError
	if errors.As(err, &te) {
		status = te.HTTPStatus
	}
	body := []byte(`{"error_kind":"ValidationError","message":"invalid request"}`)
	if te != nil {
		body = te.WireJSON()
	}
	return &RouteResult{
		Action:      ActionRespond,
		Status:      status,
		ContentType: "application/json",
		Body:        body,
	}
}
