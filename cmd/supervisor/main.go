// Command homegate-supervisor starts and monitors the proxy and CoAP
// server children (spec §4.7), exposing the local UP/DOWN/STAT control
// socket (spec §6).
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

	"github.com/nerrad567/homegate-core/internal/infrastructure/config"
	"github.com/nerrad567/homegate-core/internal/infrastructure/logging"
	"github.com/nerrad567/homegate-core/internal/supervisor"
)

var version = "dev"

const sentinelExitCode = 4

func main() {
	configDir := flag.String("config-dir", ".", "directory containing serverconf.json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "homegate-supervisor: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	cfg, err := config.Load(filepath.Join(configDir, "serverconf.json"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)

	sup := supervisor.New(supervisor.Config{
		SocketPath: cfg.Supervisor.SocketPath,
		Proxy: supervisor.ChildConfig{
			Name:            "proxy",
			Binary:          cfg.Supervisor.ProxyBinary,
			Args:            []string{"-config-dir", configDir},
			GracefulTimeout: 10 * time.Second,
		},
		CoAP: supervisor.ChildConfig{
			Name:            "coapserver",
			Binary:          cfg.Supervisor.CoAPBinary,
			Args:            []string{"-config-dir", configDir},
			GracefulTimeout: 10 * time.Second,
		},
		SentinelExitCode: sentinelExitCode,
	})
	sup.SetLogger(logger)

	logger.Info("supervisor starting", "socket", cfg.Supervisor.SocketPath)
	return sup.Run(ctx)
}
