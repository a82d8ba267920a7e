package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/blobs"
	"k8s.io/examples/AI/modelpack/pkg/config"
	"k8s.io/examples/AI/modelpack/pkg/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	configPath := ""
	flag.StringVar(&configPath, "config", configPath, "path to a YAML config file")

	cfg := config.Default()
	listen := flag.String("listen", "", "listen address (overrides config)")
	modelLocation := flag.String("model", os.Getenv("MODEL"), "model package location: gs://bucket/key, http(s)://host/path or a local path")
	accelerator := flag.String("accelerator", "", "accelerator for all operators (overrides config)")
	cacheDir := flag.String("cache-dir", os.Getenv("CACHE_DIR"), "directory for downloaded model packages")
	tracing := flag.String("tracing", "", "span exporter: none or stdout (overrides config)")

	klog.InitFlags(nil)
	flag.Parse()

	if configPath != "" {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	for dst, v := range map[*string]string{
		&cfg.Listen:              *listen,
		&cfg.Model:               *modelLocation,
		&cfg.Devices.Accelerator: *accelerator,
		&cfg.CacheDir:            *cacheDir,
		&cfg.Tracing:             *tracing,
	} {
		if v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error(err, "shutting down tracing")
		}
	}()

	loader := &blobs.Loader{
		CacheDir:      cfg.CacheDir,
		MaxAttempts:   cfg.DownloadAttempts,
		RetryInterval: cfg.DownloadRetryInterval,
	}
	data, err := loader.Fetch(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	m, err := model.FromBytes(data, model.WithDeviceMap(cfg.Devices))
	if err != nil {
		return fmt.Errorf("parsing model package: %w", err)
	}
	manifest := m.Manifest()
	log.Info("loaded model package", "name", manifest.Name, "version", manifest.Version, "variant", manifest.Variant, "inputs", len(manifest.Inputs), "outputs", len(manifest.Outputs))

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: newMux(m),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.Warmup(ctx); err != nil {
			return fmt.Errorf("warming up model: %w", err)
		}
		log.Info("model is ready")
		return nil
	})
	g.Go(func() error {
		log.Info("serving", "listen", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving on %q: %w", cfg.Listen, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// setupTracing installs the global tracer provider and returns its shutdown func.
func setupTracing(exporter string) (func(context.Context) error, error) {
	switch exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}
