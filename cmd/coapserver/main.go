// Command homegate-coapserver runs the CoAP server (spec §4.4): the
// device-facing endpoint serving /devices, /configs, and /info over
// CoAP, backed by the device registry and type catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"

	"github.com/nerrad567/homegate-core/internal/catalog"
	"github.com/nerrad567/homegate-core/internal/cloudsync"
	"github.com/nerrad567/homegate-core/internal/coapserver"
	"github.com/nerrad567/homegate-core/internal/infrastructure/config"
	"github.com/nerrad567/homegate-core/internal/infrastructure/logging"
	"github.com/nerrad567/homegate-core/internal/registry"
)

const shadowPollInterval = 5 * time.Second

var version = "dev"

func main() {
	configDir := flag.String("config-dir", ".", "directory containing serverconf.json and the catalog JSON files")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "homegate-coapserver: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string) error {
	cfg, err := config.Load(filepath.Join(configDir, "serverconf.json"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)

	cat := catalog.New(catalog.Paths{
		ValueTypes:    filepath.Join(configDir, "value_types.json"),
		PropertyTypes: filepath.Join(configDir, "property_types.json"),
		DeviceTypes:   filepath.Join(configDir, "device_types.json"),
		Services:      filepath.Join(configDir, "services.json"),
	}, logger)
	if err := cat.Load(); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	reg := registry.New(cat, logger)

	cloudSync := cloudsync.New(reg, logger)
	cloudSync.SetWorkingOffline(cfg.Cloud.WorkingOffline)
	if cfg.Cloud.BaseURL != "" {
		cloudSync.AddSink("proprietary", cloudsync.NewProprietaryClient(cfg.Cloud.BaseURL, cfg.Server.Email, cfg.Server.Password, logger))
	}

	var awsShadow *cloudsync.AWSShadowClient
	if cfg.AWS.Enabled && !cfg.Cloud.WorkingOffline {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		awsShadow = cloudsync.NewAWSShadowClient(iot.NewFromConfig(awsCfg), iotdataplane.NewFromConfig(awsCfg), logger)
		cloudSync.AddSink("aws-iot", awsShadow)
	}
	reg.SetObserver(cloudSync)

	isLocalOrigin := func(addr string) bool {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(cfg.Server.ProxyAddress, host)
	}

	dispatcher := coapserver.NewDispatcher(reg, cat, coapserver.ServerInfo{
		ID:   cfg.Server.ID,
		Name: cfg.Server.Name,
	}, isLocalOrigin, logger)
	dispatcher.SetCloudNotifier(cloudSync)

	go reg.MonitorLoop(ctx, coapserver.LivenessProber{}, time.Second)

	addr := net.JoinHostPort(cfg.Server.CoAPAddress, fmt.Sprintf("%d", cfg.Server.CoAPPort))

	if awsShadow != nil {
		localAddr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", cfg.Server.CoAPPort))
		poller := cloudsync.NewPoller(reg, awsShadow, coapserver.HelperClient{ServerAddr: localAddr}, logger)
		go poller.Run(ctx, shadowPollInterval, cloudSync)
	}

	server := coapserver.NewServer(addr, dispatcher, logger)

	logger.Info("coap server starting", "address", addr)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
