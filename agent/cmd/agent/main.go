package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/azmonbridge/azmonbridge/agent/internal/compute"
	"github.com/azmonbridge/azmonbridge/agent/internal/config"
	"github.com/azmonbridge/azmonbridge/agent/internal/credential"
	"github.com/azmonbridge/azmonbridge/agent/internal/imds"
	"github.com/azmonbridge/azmonbridge/agent/internal/monitor"
	"github.com/azmonbridge/azmonbridge/agent/internal/notify"
	"github.com/azmonbridge/azmonbridge/agent/internal/scraper"
	"github.com/azmonbridge/azmonbridge/agent/internal/shipper"
	"github.com/azmonbridge/azmonbridge/pkg/logging"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitUnhealthy = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single collection cycle and exit")
	healthCheck := flag.Bool("health-check", false, "verify source, identity, credential and ingestion reachability without sending data")
	configCheck := flag.Bool("config-check", false, "print the resolved configuration and missing settings, then exit")
	customMetric := flag.String("custom-metric", "", "send a single NAME=VALUE gauge and exit")
	namespace := flag.String("namespace", "", "metric namespace override")
	verbose := flag.Bool("verbose", false, "force debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *verbose {
		cfg.Agent.Log.Level = "debug"
	}
	if *namespace != "" {
		cfg.Agent.Delivery.Namespace = *namespace
	}

	if *configCheck {
		printConfig(cfg)
		if len(cfg.Missing()) > 0 {
			return exitConfig
		}
		return exitOK
	}

	logger, err := logging.Setup(cfg.Agent.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer logger.Close() //nolint:errcheck

	a := cfg.Agent
	slog.Info("nginx-azmon-agent starting",
		"config", *configPath,
		"source", a.Source.URL,
		"source_type", a.Source.Type,
		"interval", a.Interval,
		"namespace", a.Delivery.Namespace,
	)

	orch, err := build(cfg)
	if err != nil {
		slog.Error("failed to build agent", "err", err)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *customMetric != "":
		name, value, err := parseCustomMetric(*customMetric)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
		if err := orch.SendValue(ctx, name, value); err != nil {
			slog.Error("custom metric not sent", "err", err)
			return exitFailure
		}
		return exitOK

	case *healthCheck:
		rep := orch.HealthCheck(ctx)
		fmt.Print(rep.String())
		if c, failed := rep.Failed(); failed {
			slog.Error("health check failed", "stage", c.Stage, "kind", c.Kind, "detail", c.Detail)
			return exitUnhealthy
		}
		return exitOK

	case *once:
		if err := orch.RunOnce(ctx); err != nil {
			var ce *monitor.CycleError
			if errors.As(err, &ce) {
				slog.Error("cycle failed", "stage", ce.Stage, "kind", ce.Kind, "err", ce.Err)
			}
			return exitFailure
		}
		return exitOK
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level := updated.Agent.Log.Level
			if *verbose {
				level = "debug"
			}
			if err := logger.SetLevel(level); err != nil {
				slog.Warn("config hot-reload: bad log level", "err", err)
				return
			}
			slog.Info("config hot-reloaded", "log_level", level)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	var srv *http.Server
	if addr := a.Monitor.HealthListen; addr != "" {
		srv = &http.Server{Addr: addr, Handler: orch.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			slog.Info("health listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health listener stopped", "err", err)
			}
		}()
	}

	_ = orch.Run(ctx)

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}
	slog.Info("nginx-azmon-agent shutting down")
	return exitOK
}

// build wires the components from cfg.
func build(cfg *config.Config) (*monitor.Orchestrator, error) {
	a := cfg.Agent

	scr, err := scraper.New(a.Source)
	if err != nil {
		return nil, err
	}

	var client *imds.Client
	if a.Azure.IMDSEndpoint != "" {
		client = imds.NewClient(a.Azure.IMDSEndpoint, a.Azure.IMDSTimeout)
	}
	resolver := imds.NewResolver(client, imds.Static{
		SubscriptionID: clean(a.Azure.SubscriptionID),
		ResourceGroup:  clean(a.Azure.ResourceGroup),
		ResourceName:   clean(a.Azure.ResourceName),
		ScaleSetName:   clean(a.Azure.ScaleSetName),
		InstanceID:     clean(a.Azure.InstanceID),
		Location:       a.Azure.Region,
	}, a.Azure.IMDSAttempts)

	creds := credential.FromConfig(a.Credentials, client)
	if len(creds.Strategies()) == 0 {
		return nil, errors.New("no credential strategy configured: enable managed identity or set tenant_id, client_id and the client secret")
	}
	slog.Info("credential strategies", "order", creds.Strategies())

	sender := shipper.New(shipper.Options{
		Namespace:      a.Delivery.Namespace,
		IngestionBase:  a.Azure.IngestionBase,
		Timeout:        a.Delivery.Timeout,
		MaxAttempts:    a.Delivery.MaxAttempts,
		InitialBackoff: a.Delivery.InitialBackoff,
		MaxBackoff:     a.Delivery.MaxBackoff,
		MaxRetryAfter:  a.Delivery.MaxRetryAfter,
	})

	deps := monitor.Deps{
		Scraper:       scr,
		Engine:        compute.NewEngine(a.Delivery.Metrics...),
		Resolver:      resolver,
		Credentials:   creds,
		Sender:        sender,
		IngestionBase: a.Azure.IngestionBase,
	}
	if n := notify.New(a.Alerts.Webhooks); n.Enabled() {
		deps.Notifier = n
	}
	return monitor.New(deps, monitor.Options{
		Interval:       a.Interval,
		UnhealthyAfter: a.Monitor.UnhealthyAfter,
		ReresolveAfter: a.Monitor.ReresolveAfter,
	}), nil
}

func clean(v string) string {
	if config.IsPlaceholder(v) {
		return ""
	}
	return v
}

func parseCustomMetric(s string) (string, float64, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", 0, fmt.Errorf("-custom-metric: want NAME=VALUE, got %q", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, fmt.Errorf("-custom-metric: value: %w", err)
	}
	return name, v, nil
}

func printConfig(cfg *config.Config) {
	a := cfg.Agent
	show := func(v string) string {
		if config.IsPlaceholder(v) {
			return "<unset>"
		}
		return v
	}
	secret := "<unset>"
	if !config.IsPlaceholder(a.Credentials.ClientSecret()) {
		secret = "<set>"
	}

	fmt.Println("source:")
	fmt.Printf("  type:            %s\n", a.Source.Type)
	fmt.Printf("  url:             %s\n", a.Source.URL)
	fmt.Printf("  interval:        %s\n", a.Interval)
	fmt.Println("azure:")
	fmt.Printf("  subscription_id: %s\n", show(a.Azure.SubscriptionID))
	fmt.Printf("  resource_group:  %s\n", show(a.Azure.ResourceGroup))
	fmt.Printf("  resource_name:   %s\n", show(a.Azure.ResourceName))
	fmt.Printf("  scale_set_name:  %s\n", show(a.Azure.ScaleSetName))
	fmt.Printf("  region:          %s\n", a.Azure.Region)
	fmt.Printf("  imds_endpoint:   %s\n", a.Azure.IMDSEndpoint)
	fmt.Println("credentials:")
	fmt.Printf("  managed_identity: %t\n", a.Credentials.UseManagedIdentity)
	fmt.Printf("  tenant_id:        %s\n", show(a.Credentials.TenantID))
	fmt.Printf("  client_id:        %s\n", show(a.Credentials.ClientID))
	fmt.Printf("  client_secret:    %s\n", secret)
	fmt.Println("delivery:")
	fmt.Printf("  namespace:       %s\n", a.Delivery.Namespace)
	fmt.Printf("  max_attempts:    %d\n", a.Delivery.MaxAttempts)

	if missing := cfg.Missing(); len(missing) > 0 {
		fmt.Println("missing (the metadata service may still supply identity at runtime):")
		for _, m := range missing {
			fmt.Printf("  - %s\n", m)
		}
	}
}
