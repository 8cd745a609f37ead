// Package config manages gofpm daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gofpm configuration.
type Config struct {
	FPM     FPMConfig     `koanf:"fpm"`
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Kernel  KernelConfig  `koanf:"kernel"`
}

// FPMConfig holds the FPM peer connection configuration.
type FPMConfig struct {
	// Address is the FPM peer IP address (v4 or v6). An empty address
	// leaves the plugin disabled until configured at runtime.
	Address string `koanf:"address"`

	// Port is the FPM peer TCP port (defaults to 2620 when zero).
	Port uint16 `koanf:"port"`

	// UseNextHopGroups selects whether nexthop-group objects are
	// streamed; with it off, routes carry their nexthops inline.
	UseNextHopGroups bool `koanf:"use_next_hop_groups"`

	// V6ReplaceSemantics marks IPv6 route installs as atomic replaces.
	V6ReplaceSemantics bool `koanf:"v6_replace_semantics"`
}

// AdminConfig holds the HTTP admin API configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., "127.0.0.1:9620").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// KernelConfig controls the kernel mirror that feeds the engine tables
// from the host's links, addresses and routes.
type KernelConfig struct {
	// Enabled turns the mirror on. It requires Linux and rtnetlink
	// access; with it off, the engine starts with empty tables.
	Enabled bool `koanf:"enabled"`
}

// PeerAddr parses the configured FPM address, applying the default port.
func (fc FPMConfig) PeerAddr() (netip.AddrPort, error) {
	if fc.Address == "" {
		return netip.AddrPort{}, nil
	}
	addr, err := netip.ParseAddr(fc.Address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse fpm address %q: %w", fc.Address, err)
	}
	port := fc.Port
	if port == 0 {
		port = defaultFPMPort
	}
	return netip.AddrPortFrom(addr, port), nil
}

// defaultFPMPort is the conventional FPM TCP port.
const defaultFPMPort = 2620

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The FPM address defaults to empty (disabled); nexthop groups default to
// on, matching what peers expect from a modern dataplane.
func DefaultConfig() *Config {
	return &Config{
		FPM: FPMConfig{
			Port:             defaultFPMPort,
			UseNextHopGroups: true,
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:9620",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gofpm configuration.
// Variables are named GOFPM_<section>_<key>, e.g., GOFPM_FPM_ADDRESS.
const envPrefix = "GOFPM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOFPM_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer.
//
// Environment variable mapping:
//
//	GOFPM_FPM_ADDRESS  -> fpm.address
//	GOFPM_FPM_PORT     -> fpm.port
//	GOFPM_ADMIN_ADDR   -> admin.addr
//	GOFPM_METRICS_ADDR -> metrics.addr
//	GOFPM_LOG_LEVEL    -> log.level
//	GOFPM_LOG_FORMAT   -> log.format
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Load environment variable overrides on top of YAML.
	// GOFPM_FPM_ADDRESS -> fpm.address (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOFPM_FPM_ADDRESS -> fpm.address.
// Strips the GOFPM_ prefix, lowercases, and replaces _ with .
// (only the first underscore separates the section).
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 2 {
		return parts[0] + "." + strings.ReplaceAll(parts[1], "__", ".")
	}
	return parts[0]
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"fpm.address":              defaults.FPM.Address,
		"fpm.port":                 defaults.FPM.Port,
		"fpm.use_next_hop_groups":  defaults.FPM.UseNextHopGroups,
		"fpm.v6_replace_semantics": defaults.FPM.V6ReplaceSemantics,
		"admin.addr":               defaults.Admin.Addr,
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"kernel.enabled":           defaults.Kernel.Enabled,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidFPMAddress indicates the FPM address is not a valid IP.
	ErrInvalidFPMAddress = errors.New("fpm.address is not a valid IP address")

	// ErrInvalidLogFormat indicates the log format is unrecognized.
	ErrInvalidLogFormat = errors.New(`log.format must be "json" or "text"`)
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if cfg.FPM.Address != "" {
		if _, err := netip.ParseAddr(cfg.FPM.Address); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidFPMAddress, cfg.FPM.Address)
		}
	}

	switch cfg.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Log.Format)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
