package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for Home Gate Core, loaded from
// serverconf.json and layered with environment variable overrides.
type Config struct {
	Server     ServerConfig
	Timeouts   TimeoutConfig
	Cloud      CloudConfig
	AWS        AWSConfig
	Logging    LoggingConfig
	Supervisor SupervisorConfig
	Debug      bool
	Quiet      bool
}

// ServerConfig mirrors serverconf.json exactly (spec §6).
type ServerConfig struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CoAPAddress  string `json:"coap_address"`
	CoAPPort     int    `json:"coap_port"`
	ProxyAddress string `json:"proxy_address"`
	ProxyPort    int    `json:"proxy_port"`
	Multicast    bool   `json:"multicast"`
	Timeout      int    `json:"timeout"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

// TimeoutConfig holds the timeout knobs from spec §5/§6.
type TimeoutConfig struct {
	// CommTimeout is set from COMM_TIMEOUT (seconds). Default 5s. No
	// outbound CoAP call reads it.
	CommTimeout time.Duration
	// DeviceMonitoringTimeout is set from serverconf.json's timeout or
	// DEVICES_MONITORING_TIMEOUT (seconds). Default 60s. It is not applied
	// to devices: each device's own timeout_seconds governs its liveness
	// check.
	DeviceMonitoringTimeout time.Duration
	// EndpointDefaultTimeout bounds every proxy-to-CoAP round trip and is
	// also the proxy's HTTP read/write timeout. Default 5s, matching
	// CommTimeout.
	EndpointDefaultTimeout time.Duration
}

// CloudConfig holds the proprietary-cloud sink settings.
type CloudConfig struct {
	BaseURL        string
	WorkingOffline bool
}

// AWSConfig holds the AWS IoT device-shadow sink settings.
type AWSConfig struct {
	Enabled         bool
	AccessKeyID     string
	SecretAccessKey string
}

// LoggingConfig contains logging settings, carried as ambient
// infrastructure regardless of spec.md's feature Non-goals.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// SupervisorConfig holds the control-socket path (spec §6) and the
// binaries the supervisor spawns as its two children (spec §4.7).
type SupervisorConfig struct {
	SocketPath  string
	ProxyBinary string
	CoAPBinary  string
}

// Load reads serverconf.json and applies environment variable overrides
// per spec.md §6's "Environment / settings" list.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. serverconf.json values (override defaults)
//  3. Environment variables (override file values)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if cfg.Server.Timeout > 0 {
		cfg.Timeouts.DeviceMonitoringTimeout = time.Duration(cfg.Server.Timeout) * time.Second
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ID:           "home-server-001",
			Name:         "Home Server",
			CoAPAddress:  "0.0.0.0",
			CoAPPort:     5683,
			ProxyAddress: "0.0.0.0",
			ProxyPort:    8080,
			Timeout:      60,
		},
		Timeouts: TimeoutConfig{
			CommTimeout:             5 * time.Second,
			DeviceMonitoringTimeout: 60 * time.Second,
			EndpointDefaultTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Supervisor: SupervisorConfig{
			SocketPath:  "/var/run/homegate.sock",
			ProxyBinary: "/usr/local/bin/homegate-proxy",
			CoAPBinary:  "/usr/local/bin/homegate-coapserver",
		},
	}
}

// applyEnvOverrides applies the environment variables documented in
// spec.md §6 over the file-loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = parseBool(v, cfg.Debug)
	}
	if v := os.Getenv("QUIET"); v != "" {
		cfg.Quiet = parseBool(v, cfg.Quiet)
	}
	if v := os.Getenv("PROXY_ADDR"); v != "" {
		cfg.Server.ProxyAddress = v
	}
	if v := os.Getenv("PROXY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.ProxyPort = p
		}
	}
	if v := os.Getenv("COAP_ADDR"); v != "" {
		cfg.Server.CoAPAddress = v
	}
	if v := os.Getenv("COAP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.CoAPPort = p
		}
	}
	if v := os.Getenv("COAP_MULTICAST"); v != "" {
		cfg.Server.Multicast = parseBool(v, cfg.Server.Multicast)
	}
	if v := os.Getenv("COMM_TIMEOUT"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Timeouts.CommTimeout = time.Duration(d) * time.Second
		}
	}
	if v := os.Getenv("DEVICES_MONITORING_TIMEOUT"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Timeouts.DeviceMonitoringTimeout = time.Duration(d) * time.Second
		}
	}
	if v := os.Getenv("ENDPOINT_DEFAULT_TIMEOUT"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			cfg.Timeouts.EndpointDefaultTimeout = time.Duration(d) * time.Second
		}
	}
	if v := os.Getenv("CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("ALLOW_WORKING_OFFLINE"); v != "" {
		cfg.Cloud.WorkingOffline = parseBool(v, cfg.Cloud.WorkingOffline)
	}
	if v := os.Getenv("AWS_INTEGRATION"); v != "" {
		cfg.AWS.Enabled = parseBool(v, cfg.AWS.Enabled)
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("SUPERVISOR_SOCKET"); v != "" {
		cfg.Supervisor.SocketPath = v
	}
	if v := os.Getenv("SUPERVISOR_PROXY_BINARY"); v != "" {
		cfg.Supervisor.ProxyBinary = v
	}
	if v := os.Getenv("SUPERVISOR_COAP_BINARY"); v != "" {
		cfg.Supervisor.CoAPBinary = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.ID == "" {
		errs = append(errs, "server.id is required")
	}
	if c.Server.CoAPPort < 1 || c.Server.CoAPPort > 65535 {
		errs = append(errs, "server.coap_port must be between 1 and 65535")
	}
	if c.Server.ProxyPort < 1 || c.Server.ProxyPort > 65535 {
		errs = append(errs, "server.proxy_port must be between 1 and 65535")
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, "server.timeout must not be negative")
	}
	if !c.Cloud.WorkingOffline && c.AWS.Enabled && (c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "") {
		errs = append(errs, "aws.access_key_id and aws.secret_access_key are required when AWS_INTEGRATION is enabled and not working offline")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
