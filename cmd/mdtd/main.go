// Command mdtd serves markdown change-request tools over the Model Context
// Protocol, on a stdio pipe, an HTTP listener, or both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdtools/mdtd/pkg/config"
	"github.com/mdtools/mdtd/pkg/dispatch"
	"github.com/mdtools/mdtd/pkg/logging"
	"github.com/mdtools/mdtd/pkg/observability"
	"github.com/mdtools/mdtd/pkg/ratelimit"
	"github.com/mdtools/mdtd/pkg/session"
	"github.com/mdtools/mdtd/pkg/tools"
	"github.com/mdtools/mdtd/pkg/transport"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mdtd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    = flag.String("config", "", "path to config file (default: mdtd.yaml in . or ~/.mdtd)")
		transportFlag = flag.String("transport", "", "transport to serve: stdio, http or both (overrides config)")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("mdtd", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *transportFlag != "" {
		cfg.Transport = *transportFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := buildLogger(cfg)
	logger.Info("starting mdtd",
		logging.String("version", version),
		logging.String("transport", cfg.Transport))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := session.NewRegistry(session.Config{
		Timeout:       cfg.SessionTimeout,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	registry.Start()
	defer registry.Shutdown()

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(observability.MetricsConfig{
			ServiceName:    "mdtd",
			ServiceVersion: version,
			SessionCount:   registry.Count,
		})
	}

	var tracing *observability.TracingProvider
	if cfg.TracingEnabled {
		tracing, err = observability.NewTracingProvider(ctx, observability.TracingConfig{
			ServiceName:    "mdtd",
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
			SampleRate:     cfg.TraceSampleRate,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(shCtx); err != nil {
				logger.Warn("tracing shutdown", logging.ErrorField(err))
			}
		}()
	}

	store := tools.NewStore()
	tools.SeedDemo(store)

	var limiter ratelimit.Checker = ratelimit.Unlimited{}
	if cfg.RateLimitMaxRequests > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	}

	catalog := tools.Catalog()
	dispatcher := dispatch.New(dispatch.Config{
		ServerName:           "mdtd",
		ServerVersion:        version,
		Catalog:              catalog,
		Executor:             store,
		Limiter:              limiter,
		MaxRequestsPerWindow: cfg.RateLimitMaxRequests,
		Logger:               logger,
	})

	errCh := make(chan error, 2)

	var stdio *transport.StdioTransport
	if cfg.Transport == config.TransportStdio || cfg.Transport == config.TransportBoth {
		stdio = transport.NewStdio(transport.StdioConfig{
			Dispatcher:   dispatcher,
			Logger:       logger,
			Metrics:      metrics,
			MaxBodyBytes: int(cfg.MaxBodyBytes),
		})
		go func() { errCh <- stdio.Serve(ctx) }()
	}

	var httpT *transport.HTTPTransport
	if cfg.Transport == config.TransportHTTP || cfg.Transport == config.TransportBoth {
		httpT = transport.NewHTTP(transport.HTTPConfig{
			Dispatcher:     dispatcher,
			Registry:       registry,
			Logger:         logger,
			Metrics:        metrics,
			Addr:           cfg.ListenAddr(),
			AuthToken:      cfg.AuthToken,
			AllowedOrigins: cfg.AllowedOrigins,
			MaxBodyBytes:   cfg.MaxBodyBytes,
			ToolCount:      len(catalog),
			ServerVersion:  version,
			Debug:          cfg.Debug,
		})
		go func() { errCh <- httpT.Serve() }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("transport failed", logging.ErrorField(err))
			return err
		}
	}

	if httpT != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpT.Shutdown(shCtx); err != nil {
			logger.Warn("http shutdown", logging.ErrorField(err))
		}
	}
	if stdio != nil {
		stdio.Stop()
	}

	logger.Info("mdtd stopped")
	return nil
}

func buildLogger(cfg *config.Config) logging.Logger {
	var formatter logging.Formatter
	if cfg.LogFormat == "json" {
		formatter = logging.NewJSONFormatter()
	} else {
		formatter = logging.NewTextFormatter()
	}
	logger := logging.New(os.Stderr, formatter)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	return logger
}
