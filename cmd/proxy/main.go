// Command homegate-proxy runs the HTTP Proxy (spec §4.5): the
// client-facing REST surface that translates each request into a single
// CoAP round trip against the CoAP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nerrad567/homegate-core/internal/infrastructure/config"
	"github.com/nerrad567/homegate-core/internal/infrastructure/logging"
	"github.com/nerrad567/homegate-core/internal/proxy"
)

var version = "dev"

func main() {
	configDir := flag.String("config-dir", ".", "directory containing serverconf.json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "homegate-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	cfg, err := config.Load(filepath.Join(configDir, "serverconf.json"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)

	coapAddr := net.JoinHostPort(cfg.Server.CoAPAddress, fmt.Sprintf("%d", cfg.Server.CoAPPort))
	addr := net.JoinHostPort(cfg.Server.ProxyAddress, fmt.Sprintf("%d", cfg.Server.ProxyPort))

	server := proxy.New(addr, coapAddr, logger)
	server.SetEndpointTimeout(cfg.Timeouts.EndpointDefaultTimeout)
	if err := server.Start(cfg.Timeouts.EndpointDefaultTimeout, cfg.Timeouts.EndpointDefaultTimeout); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}

	logger.Info("proxy starting", "address", addr, "coap_address", coapAddr)

	<-ctx.Done()
	return server.Close()
}
