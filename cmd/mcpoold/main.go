// mcpoold is a session pool manager daemon for protocol gateways.
//
// It maintains bounded per-target session pools, multiplexing client
// requests onto pooled backend sessions, and exposes an admin HTTP API
// for configuration, stats, and pool control operations.
//
// Usage:
//
//	mcpoold [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.mcpoold/config.toml")
//	-listen string
//	    Admin API listen address (overrides config)
//	-data-dir string
//	    Data directory (overrides config)
//	-version
//	    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-mcpgw/mcpool/lib/config"
	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/registry"
	"github.com/go-mcpgw/mcpool/lib/resilience"
	"github.com/go-mcpgw/mcpool/lib/web"
	"github.com/go-mcpgw/mcpool/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".mcpoold", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	listen := flag.String("listen", "", "Admin API listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mcpoold - Session pool manager daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  mcpoold [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("mcpoold version %s\n", version.Full())
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Web.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "creating data dir: %v\n", err)
		return 1
	}

	metrics.RecordStartTime()

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	reg, err := registry.New(registry.Config{
		Factory:       newLoopbackFactory(),
		Store:         config.NewFileStore(cfg.DataPath("pools")),
		Defaults:      cfg.Pools.Defaults,
		EmitInterval:  cfg.Pools.EmitInterval,
		BreakerConfig: &breakerCfg,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating registry: %v\n", err)
		return 1
	}

	var srv *web.Server
	if cfg.Web.Enabled {
		srv = web.New(web.Config{
			ListenAddr: cfg.Web.Listen,
			RateLimit:  web.DefaultRateLimitConfig(),
		}, reg)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "starting admin server: %v\n", err)
			reg.Close()
			return 1
		}
		fmt.Printf("mcpoold %s listening on %s\n", version.Version, cfg.Web.Listen)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("received %s, shutting down\n", sig)

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "stopping admin server: %v\n", err)
		}
	}
	if err := reg.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing registry: %v\n", err)
		return 1
	}
	return 0
}
