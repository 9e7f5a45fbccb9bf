// Command transform-lambda is the AWS Lambda entrypoint for the transform
// engine. It receives one TransformRequest per invocation and returns the
// wire-shape response; engine failures travel inside the payload so the
// caller can distinguish them from invocation failures.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/galerly/transform/internal/config"
	"github.com/galerly/transform/internal/engine"
	s3backend "github.com/galerly/transform/internal/storage/s3"
	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

type handler struct {
	engine  *engine.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// handle runs one transform. Engine failures are translated to the wire
// shape with a nil Go error: the invoker sees a clean invocation and the
// router decides on fallback from the error kind.
func (h *handler) handle(ctx context.Context, req types.TransformRequest) (types.InvocationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.engine.Transform(ctx, req)
	if err != nil {
		h.logger.Warn("transform failed",
			"source", req.SourceKey, "kind", errors.KindOf(err), "error", err)
		return types.InvocationResponse{
			ErrorKind: errors.KindOf(err),
			Message:   err.Error(),
		}, nil
	}

	return types.InvocationResponse{
		ContentType: result.ContentType,
		Body:        result.Data,
		Cached:      result.Cached,
	}, nil
}

func main() {
	cfg := config.NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Global.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	storageCfg := &s3backend.Config{
		Region:         cfg.Storage.Region,
		Endpoint:       cfg.Storage.Endpoint,
		ForcePathStyle: cfg.Storage.ForcePathStyle,
		MaxRetries:     cfg.Storage.MaxRetries,
		RequestTimeout: cfg.Storage.RequestTimeout,
	}

	originals, err := s3backend.NewBackend(ctx, cfg.Storage.OriginalsBucket, storageCfg)
	if err != nil {
		logger.Error("failed to create originals backend", "error", err)
		os.Exit(1)
	}
	renditions, err := s3backend.NewBackend(ctx, cfg.Storage.RenditionsBucket, storageCfg)
	if err != nil {
		logger.Error("failed to create renditions backend", "error", err)
		os.Exit(1)
	}

	eng := engine.New(originals, renditions, &engine.Config{
		MaxDimension: cfg.Transform.MaxDimension,
		WriteRetries: cfg.Transform.WriteRetries,
	}, nil)

	h := &handler{
		engine:  eng,
		timeout: cfg.Transform.Timeout,
		logger:  logger.With("component", "transform-lambda"),
	}

	lambda.Start(h.handle)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
