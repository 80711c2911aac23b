// Command ingestd serves the archive upload endpoint.
//
// Authentication is delegated to a fronting proxy that sets the actor
// identity header on every request it has authenticated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmgilman/go/ingest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/ingestd/config.yaml", "path to the YAML configuration file")
	actorHeader := flag.String("actor-header", "X-Authenticated-User", "request header carrying the authenticated actor")
	flag.Parse()

	cfg, err := ingest.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := ingest.NewLogger(cfg.Log, os.Stdout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := ingest.NewPromMetrics("ingestd", reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	engine, err := ingest.New(cfg,
		ingest.WithLogger(logger),
		ingest.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/upload", ingest.NewHandler(engine, headerResolver(*actorHeader), logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingestd listening", "addr", cfg.Listen, "root", engine.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("ingestd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// headerResolver trusts the named header as the authenticated identity.
func headerResolver(header string) ingest.ActorResolver {
	return func(r *http.Request) ingest.ActorContext {
		id := strings.TrimSpace(r.Header.Get(header))
		return ingest.ActorContext{Identity: id, Authenticated: id != ""}
	}
}
