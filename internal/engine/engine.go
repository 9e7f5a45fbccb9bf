package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/galerly/transform/internal/metrics"
	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/retry"
	"github.com/galerly/transform/pkg/types"
)

// Config represents transform engine configuration
type Config struct {
	// MaxDimension rejects resize targets beyond this bound.
	MaxDimension int

	// WriteRetries bounds attempts for the best-effort rendition write.
	WriteRetries int
}

// Engine performs the fetch → decode → flatten → resize → encode → store
// pipeline. It is stateless across requests; one instance serves any
// number of concurrent invocations.
type Engine struct {
	originals  types.ObjectStore
	renditions types.ObjectStore
	registry   *DecoderRegistry
	retryer    *retry.Retryer
	collector  *metrics.Collector
	logger     *slog.Logger
	maxDim     int
}

// Result is the outcome of a successful transform. Cached reports whether
// the rendition write landed; the bytes are valid either way.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	CacheKey    string
	Cached      bool
}

// New creates a transform engine over the two storage namespaces. The
// collector may be nil.
func New(originals, renditions types.ObjectStore, cfg *Config, collector *metrics.Collector) *Engine {
	if cfg == nil {
		cfg = &Config{MaxDimension: 10000, WriteRetries: 3}
	}

	retryCfg := retry.DefaultConfig()
	if cfg.WriteRetries > 0 {
		retryCfg.MaxAttempts = cfg.WriteRetries
	}

	return &Engine{
		originals:  originals,
		renditions: renditions,
		registry:   NewDecoderRegistry(),
		retryer:    retry.New(retryCfg),
		collector:  collector,
		logger:     slog.Default().With("component", "transform-engine"),
		maxDim:     cfg.MaxDimension,
	}
}

// Transform fetches the original identified by req.SourceKey, applies the
// requested transformation, writes the rendition at the request's cache
// key, and returns the encoded bytes with their content type.
//
// The rendition write is an optimization, not a correctness requirement:
// if it fails after retries the computed bytes are still returned and the
// failure is only logged. Decode failures are terminal and never cached.
func (e *Engine) Transform(ctx context.Context, req types.TransformRequest) (*Result, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, e.fail(err)
	}
	if req.Width > e.maxDim || req.Height > e.maxDim {
		return nil, e.fail(errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("requested dimensions exceed maximum of %d", e.maxDim)))
	}

	start := time.Now()

	fetchStart := time.Now()
	data, err := e.originals.Get(ctx, req.SourceKey)
	e.collector.ObserveStage(metrics.StageFetch, time.Since(fetchStart))
	if err != nil {
		return nil, e.fail(err)
	}
	e.collector.AddSourceBytes(len(data))

	decodeStart := time.Now()
	img, container, err := e.registry.Decode(data)
	e.collector.ObserveStage(metrics.StageDecode, time.Since(decodeStart))
	if err != nil {
		return nil, e.fail(err)
	}

	if ctxErr := e.checkContext(ctx); ctxErr != nil {
		return nil, e.fail(ctxErr)
	}

	resizeStart := time.Now()
	if !req.Format.SupportsAlpha() && !isOpaque(img) {
		img = flattenOnWhite(img)
	}
	img = applyResize(img, &req)
	e.collector.ObserveStage(metrics.StageResize, time.Since(resizeStart))

	encodeStart := time.Now()
	encoded, contentType, err := encodeImage(img, req.Format, req.Quality)
	e.collector.ObserveStage(metrics.StageEncode, time.Since(encodeStart))
	if err != nil {
		return nil, e.fail(err)
	}

	key := req.CacheKey()
	writeStart := time.Now()
	writeErr := e.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return e.renditions.Put(ctx, key, encoded, contentType)
	})
	e.collector.ObserveStage(metrics.StageWrite, time.Since(writeStart))
	if writeErr != nil {
		e.logger.Warn("rendition write failed, returning bytes uncached",
			"key", key, "error", writeErr)
		e.collector.ObserveWriteFailure()
	}

	bounds := img.Bounds()
	e.collector.ObserveTransform("ok")
	e.collector.AddRenditionBytes(len(encoded))
	e.logger.Info("transform complete",
		"source", req.SourceKey,
		"rendition", key,
		"container", container,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
		"size", len(encoded),
		"duration", time.Since(start))

	return &Result{
		Data:        encoded,
		ContentType: contentType,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		CacheKey:    key,
		Cached:      writeErr == nil,
	}, nil
}

func (e *Engine) checkContext(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.Wrap(errors.ErrCodeOperationTimeout,
			"transform exceeded its wall-clock budget", ctx.Err())
	case context.Canceled:
		return errors.Wrap(errors.ErrCodeOperationCanceled,
			"transform canceled", ctx.Err())
	default:
		return nil
	}
}

func (e *Engine) fail(err error) error {
	e.collector.ObserveTransform("error")
	e.collector.ObserveError(errors.KindOf(err))
	return err
}
