package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azmonbridge/azmonbridge/exporter/internal/api"
	"github.com/azmonbridge/azmonbridge/exporter/internal/collector"
	"github.com/azmonbridge/azmonbridge/exporter/internal/config"
	"github.com/azmonbridge/azmonbridge/exporter/internal/store"
	"github.com/azmonbridge/azmonbridge/pkg/logging"
	"github.com/azmonbridge/azmonbridge/pkg/status"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: defaults plus environment)")
	verbose := flag.Bool("verbose", false, "force debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Exporter.Log.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Exporter.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close() //nolint:errcheck

	e := cfg.Exporter
	slog.Info("nginx-exporter starting",
		"status_url", e.StatusURL,
		"json_url", e.JSONURL,
		"scrape_interval", e.ScrapeInterval,
		"port", e.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New()
	col := collector.New(status.NewFetcher(e.StatusURL, e.JSONURL, e.Timeout), st, e.ScrapeInterval)
	go col.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", e.Port),
		Handler:           api.New(st, col),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", e.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("nginx-exporter shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx) //nolint:errcheck
}
