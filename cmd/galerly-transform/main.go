// Command galerly-transform is the operational CLI for the transform
// engine: run a single transform from the terminal, or backfill renditions
// for a list of source keys ahead of traffic.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/galerly/transform/internal/config"
	"github.com/galerly/transform/internal/engine"
	"github.com/galerly/transform/internal/metrics"
	s3backend "github.com/galerly/transform/internal/storage/s3"
	"github.com/galerly/transform/pkg/types"
)

var (
	configFile string

	flagFormat  string
	flagWidth   int
	flagHeight  int
	flagFit     string
	flagQuality int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "galerly-transform",
		Short: "Image transform engine for the Galerly rendition pipeline",
		Long: `galerly-transform runs the fetch, decode, resize, encode, store
pipeline against the configured object storage, either for a single source
key or as a bulk backfill over a key list.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")

	rootCmd.AddCommand(newTransformCmd())
	rootCmd.AddCommand(newBackfillCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newTransformCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "transform <source-key>",
		Short: "Transform a single original and write its rendition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, collector, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer collector.Stop()

			req := types.TransformRequest{SourceKey: args[0]}
			if err := applyFlags(&req); err != nil {
				return err
			}

			start := time.Now()
			result, err := eng.Transform(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("transform failed: %w", err)
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, result.Data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
			}

			fmt.Printf("rendition: %s\n", result.CacheKey)
			fmt.Printf("dimensions: %dx%d\n", result.Width, result.Height)
			fmt.Printf("size: %d bytes (%s) in %s\n",
				len(result.Data), result.ContentType, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	addTransformFlags(cmd)
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "also write the rendition to a local file")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var (
		keysFile    string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Pre-generate renditions for a list of source keys",
		Long: `backfill reads newline-separated source keys and runs the transform
for each with the given parameters, bounding concurrency. Failed keys are
logged and skipped; the command fails only if every key fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysFile == "" {
				return fmt.Errorf("--keys-file is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, collector, err := setup(ctx)
			if err != nil {
				return err
			}
			defer collector.Stop()
			if err := collector.Start(ctx); err != nil {
				return err
			}

			keys, err := readKeys(keysFile)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("no source keys in %s", keysFile)
			}

			var base types.TransformRequest
			if err := applyFlags(&base); err != nil {
				return err
			}

			logger := slog.Default().With("component", "backfill")
			start := time.Now()

			var failed int64
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(concurrency)
			results := make(chan error, len(keys))

			for _, key := range keys {
				req := base
				req.SourceKey = key
				g.Go(func() error {
					if _, err := eng.Transform(gctx, req); err != nil {
						logger.Warn("backfill key failed", "key", req.SourceKey, "error", err)
						results <- err
					}
					// Per-key failures do not stop the run.
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}
			close(results)
			for range results {
				failed++
			}

			logger.Info("backfill complete",
				"keys", len(keys),
				"failed", failed,
				"duration", time.Since(start).Round(time.Millisecond))

			if failed == int64(len(keys)) {
				return fmt.Errorf("all %d keys failed", len(keys))
			}
			return nil
		},
	}

	addTransformFlags(cmd)
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "file with one source key per line")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "maximum transforms in flight")
	return cmd
}

func addTransformFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagFormat, "format", "", "target format: jpeg, png, webp")
	cmd.Flags().IntVar(&flagWidth, "width", 0, "target width in pixels")
	cmd.Flags().IntVar(&flagHeight, "height", 0, "target height in pixels")
	cmd.Flags().StringVar(&flagFit, "fit", "", "fit mode: inside, cover, fill")
	cmd.Flags().IntVar(&flagQuality, "quality", 0, "quality 1-100 for lossy formats")
}

func applyFlags(req *types.TransformRequest) error {
	if flagFormat != "" {
		f, err := types.ParseFormat(flagFormat)
		if err != nil {
			return err
		}
		req.Format = f
	}
	if flagFit != "" {
		f, err := types.ParseFitMode(flagFit)
		if err != nil {
			return err
		}
		req.Fit = f
	}
	req.Width = flagWidth
	req.Height = flagHeight
	req.Quality = flagQuality
	return nil
}

func setup(ctx context.Context) (*engine.Engine, *metrics.Collector, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	slog.SetDefault(newLogger(cfg.Global.LogLevel))

	storageCfg := &s3backend.Config{
		Region:         cfg.Storage.Region,
		Endpoint:       cfg.Storage.Endpoint,
		ForcePathStyle: cfg.Storage.ForcePathStyle,
		MaxRetries:     cfg.Storage.MaxRetries,
		RequestTimeout: cfg.Storage.RequestTimeout,
	}

	originals, err := s3backend.NewBackend(ctx, cfg.Storage.OriginalsBucket, storageCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create originals backend: %w", err)
	}
	renditions, err := s3backend.NewBackend(ctx, cfg.Storage.RenditionsBucket, storageCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create renditions backend: %w", err)
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.MetricsEnabled,
		Port:      cfg.Monitoring.MetricsPort,
		Path:      "/metrics",
		Namespace: cfg.Monitoring.Namespace,
	})
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(originals, renditions, &engine.Config{
		MaxDimension: cfg.Transform.MaxDimension,
		WriteRetries: cfg.Transform.WriteRetries,
	}, collector)

	return eng, collector, nil
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keys file: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys file: %w", err)
	}
	return keys, nil
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
