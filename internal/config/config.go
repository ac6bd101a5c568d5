package config

import (
	"fmt"
	"strings"
	"time"

	"lodestar/internal/flow"
	pkgconfig "lodestar/pkg/config"
)

// Defaults for the coordinator's tunables.
const (
	DefaultDiagnosticInterval = 60 * time.Second
	DefaultBalanceInterval    = 30 * time.Second
	DefaultBalanceThreshold   = 80.0
	DefaultShutdownTimeout    = 5 * time.Second
)

// Config holds the coordinator configuration. Immutable after Load.
type Config struct {
	DiagnosticInterval time.Duration
	BalanceInterval    time.Duration
	BalanceThreshold   float64
	ShutdownTimeout    time.Duration

	// Realms maps realm name to backend URI (scheme selects the backend).
	Realms map[string]string

	// Channels maps channel kind to its options.
	Channels map[string]flow.Options

	// RealmOrder and ChannelOrder fix the iteration order for startup;
	// teardown runs in exact reverse.
	RealmOrder   []string
	ChannelOrder []string
}

// Default returns the built-in configuration: one memory realm, rest and
// websocket channels on their default ports.
func Default() Config {
	return Config{
		DiagnosticInterval: DefaultDiagnosticInterval,
		BalanceInterval:    DefaultBalanceInterval,
		BalanceThreshold:   DefaultBalanceThreshold,
		ShutdownTimeout:    DefaultShutdownTimeout,
		Realms:             map[string]string{"primary": "memory://"},
		RealmOrder:         []string{"primary"},
		Channels: map[string]flow.Options{
			"rest":      {Host: "0.0.0.0", Port: 5000},
			"websocket": {Host: "0.0.0.0", Port: 5001},
		},
		ChannelOrder: []string{"rest", "websocket"},
	}
}

// Load builds the configuration from environment variables, falling back
// to Default for anything unset.
//
//	DIAGNOSTIC_INTERVAL_SECONDS  diagnostic cycle period (default 60)
//	BALANCE_INTERVAL_SECONDS     balance cycle period (default 30)
//	BALANCE_THRESHOLD            score below which auto-balance fires (default 80)
//	SHUTDOWN_TIMEOUT_SECONDS     scheduler join bound on stop (default 5)
//	REALMS                       comma-separated name=backendURI pairs
//	REST_ENABLED / REST_HOST / REST_PORT
//	WS_ENABLED / WS_HOST / WS_PORT
func Load() (Config, error) {
	cfg := Config{
		DiagnosticInterval: pkgconfig.GetEnvSeconds("DIAGNOSTIC_INTERVAL_SECONDS", DefaultDiagnosticInterval),
		BalanceInterval:    pkgconfig.GetEnvSeconds("BALANCE_INTERVAL_SECONDS", DefaultBalanceInterval),
		BalanceThreshold:   pkgconfig.GetEnvFloat("BALANCE_THRESHOLD", DefaultBalanceThreshold),
		ShutdownTimeout:    pkgconfig.GetEnvSeconds("SHUTDOWN_TIMEOUT_SECONDS", DefaultShutdownTimeout),
		Realms:             make(map[string]string),
		Channels:           make(map[string]flow.Options),
	}

	realmSpec := pkgconfig.GetEnv("REALMS", "primary=memory://")
	for _, pair := range strings.Split(realmSpec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, uri, found := strings.Cut(pair, "=")
		if !found || name == "" || uri == "" {
			return Config{}, fmt.Errorf("malformed realm spec %q (want name=backendURI)", pair)
		}
		if _, dup := cfg.Realms[name]; dup {
			return Config{}, fmt.Errorf("duplicate realm name %q in REALMS", name)
		}
		cfg.Realms[name] = uri
		cfg.RealmOrder = append(cfg.RealmOrder, name)
	}

	if pkgconfig.GetEnvBool("REST_ENABLED", true) {
		cfg.Channels["rest"] = flow.Options{
			Host: pkgconfig.GetEnv("REST_HOST", "0.0.0.0"),
			Port: pkgconfig.GetEnvInt("REST_PORT", 5000),
		}
		cfg.ChannelOrder = append(cfg.ChannelOrder, "rest")
	}
	if pkgconfig.GetEnvBool("WS_ENABLED", true) {
		cfg.Channels["websocket"] = flow.Options{
			Host: pkgconfig.GetEnv("WS_HOST", "0.0.0.0"),
			Port: pkgconfig.GetEnvInt("WS_PORT", 5001),
		}
		cfg.ChannelOrder = append(cfg.ChannelOrder, "websocket")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DiagnosticInterval <= 0 {
		return fmt.Errorf("diagnostic interval must be positive, got %v", c.DiagnosticInterval)
	}
	if c.BalanceInterval <= 0 {
		return fmt.Errorf("balance interval must be positive, got %v", c.BalanceInterval)
	}
	if c.BalanceThreshold < 0 || c.BalanceThreshold > 100 {
		return fmt.Errorf("balance threshold must be in [0,100], got %v", c.BalanceThreshold)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	for name, uri := range c.Realms {
		if !strings.Contains(uri, "://") {
			return fmt.Errorf("realm %q has malformed backend URI %q", name, uri)
		}
	}
	return nil
}
