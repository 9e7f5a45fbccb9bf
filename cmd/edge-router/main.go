// Command edge-router is the Lambda@Edge entrypoint for the cache-first
// routing decision. It runs on CloudFront origin-request events, rewriting
// cache hits to rendition keys and degrading to the original on any
// transform failure.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/galerly/transform/internal/config"
	"github.com/galerly/transform/internal/edge"
	"github.com/galerly/transform/internal/invoke"
	s3backend "github.com/galerly/transform/internal/storage/s3"
)

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
	cfg.DeriveRenditionsOrigin()

	logger := newLogger(cfg.Global.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()

	renditions, err := s3backend.NewBackend(ctx, cfg.Storage.RenditionsBucket, &s3backend.Config{
		Region:         cfg.Storage.Region,
		Endpoint:       cfg.Storage.Endpoint,
		ForcePathStyle: cfg.Storage.ForcePathStyle,
		MaxRetries:     cfg.Storage.MaxRetries,
		RequestTimeout: cfg.Storage.RequestTimeout,
	})
	if err != nil {
		logger.Error("failed to create renditions backend", "error", err)
		os.Exit(1)
	}

	invoker, err := invoke.New(ctx, cfg.Edge.FunctionName, &invoke.Config{
		Region:  cfg.Storage.Region,
		Timeout: cfg.Edge.SyncTimeout,
	})
	if err != nil {
		logger.Error("failed to create transform invoker", "error", err)
		os.Exit(1)
	}

	router := edge.New(renditions, invoker, cfg.Edge, nil)

	lambda.Start(router.HandleEvent)
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
