// Package config provides configuration management for statusd.
// It supports loading configuration from environment variables, a JSON
// config file, and defaults, mirroring spec §6.5's variable/flag table.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for statusd.
type Config struct {
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	HTTPS     HTTPSConfig     `mapstructure:"https"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TelemetryConfig controls the C3 telemetry reader.
type TelemetryConfig struct {
	Dir     string `mapstructure:"dir"`
	StaleMS int64  `mapstructure:"staleMs"`
}

// BridgeConfig controls the C7/§6.2 file bridge.
type BridgeConfig struct {
	Dir                string `mapstructure:"dir"`
	RegistryStaleMS    int64  `mapstructure:"registryStaleMs"`
	AckTimeoutMS       int64  `mapstructure:"ackTimeoutMs"`
	SendRetries        int    `mapstructure:"sendRetries"`
	SendRetryBackoffMS int64  `mapstructure:"sendRetryBackoffMs"`
}

// HTTPConfig controls the plain-HTTP listener of the C10 gateway.
type HTTPConfig struct {
	Host                string   `mapstructure:"host"`
	Port                int      `mapstructure:"port"`
	Token               string   `mapstructure:"token"`
	AllowCIDRs          []string `mapstructure:"allowCidrs"`
	AllowLoopbackUnauth bool     `mapstructure:"allowLoopbackUnauth"`
	SendRatePer10s      int      `mapstructure:"sendRatePer10s"`
}

// HTTPSConfig controls the optional TLS listener of the C10 gateway.
type HTTPSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	CertPath string `mapstructure:"certPath"`
	KeyPath  string `mapstructure:"keyPath"`
}

// LoggingConfig holds logging configuration (ambient, not spec-domain).
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// SocketPath returns the UNIX socket path (§6.1): <runtime>/statusd.sock.
func SocketPath() string {
	return filepath.Join(runtimeDir(), "statusd.sock")
}

// ConfigFilePath returns where the JSON config file is looked up, honoring
// $PI_STATUSD_CONFIG as an override.
func ConfigFilePath() string {
	if p := os.Getenv("PI_STATUSD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(runtimeDir(), "statusd.json")
}

func runtimeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".pi", "agent")
}

func defaultTelemetryDir() string {
	return filepath.Join(runtimeDir(), "telemetry", "instances")
}

func defaultBridgeDir() string {
	return filepath.Join(runtimeDir(), "statusbridge")
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PI_STATUSD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telemetry.dir", defaultTelemetryDir())
	v.SetDefault("telemetry.staleMs", 10_000)

	v.SetDefault("bridge.dir", defaultBridgeDir())
	v.SetDefault("bridge.registryStaleMs", 10_000)
	v.SetDefault("bridge.ackTimeoutMs", 1200)
	v.SetDefault("bridge.sendRetries", 3)
	v.SetDefault("bridge.sendRetryBackoffMs", 450)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8787)
	v.SetDefault("http.token", "")
	v.SetDefault("http.allowCidrs", []string{})
	v.SetDefault("http.allowLoopbackUnauth", true)
	v.SetDefault("http.sendRatePer10s", 12)

	v.SetDefault("https.enabled", false)
	v.SetDefault("https.host", "0.0.0.0")
	v.SetDefault("https.port", 8788)
	v.SetDefault("https.certPath", "")
	v.SetDefault("https.keyPath", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, the JSON config
// file, and defaults, in that precedence order (env wins).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Explicit bindings: the spec's environment variables (§6.5) don't
	// follow a single PREFIX_SECTION_KEY convention, so each is bound by
	// hand rather than relying on viper's automatic env translation.
	_ = v.BindEnv("telemetry.dir", "PI_TELEMETRY_DIR")
	_ = v.BindEnv("telemetry.staleMs", "PI_TELEMETRY_STALE_MS")
	_ = v.BindEnv("bridge.dir", "PI_BRIDGE_DIR")
	_ = v.BindEnv("bridge.registryStaleMs", "PI_BRIDGE_REGISTRY_STALE_MS")
	_ = v.BindEnv("bridge.ackTimeoutMs", "PI_BRIDGE_ACK_TIMEOUT_MS")
	_ = v.BindEnv("bridge.sendRetries", "PI_BRIDGE_SEND_RETRIES")
	_ = v.BindEnv("bridge.sendRetryBackoffMs", "PI_BRIDGE_SEND_RETRY_BACKOFF_MS")
	_ = v.BindEnv("http.host", "PI_STATUSD_HTTP_HOST")
	_ = v.BindEnv("http.port", "PI_STATUSD_HTTP_PORT")
	_ = v.BindEnv("http.token", "PI_STATUSD_HTTP_TOKEN")

	v.SetConfigFile(ConfigFilePath())
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// PI_STATUSD_HTTP_ALLOW_CIDRS is a comma-separated list, not a single
	// scalar, so it is handled outside viper's env binding.
	if raw := strings.TrimSpace(os.Getenv("PI_STATUSD_HTTP_ALLOW_CIDRS")); raw != "" {
		var cidrs []string
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cidrs = append(cidrs, c)
			}
		}
		v.Set("http.allowCidrs", cidrs)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	clamp(&cfg)
	return &cfg, nil
}

// clamp applies the clamping rules spec §6.5/§8 attach to each tunable.
func clamp(cfg *Config) {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		cfg.HTTP.Port = 8787
	}
	if cfg.HTTPS.Port <= 0 || cfg.HTTPS.Port > 65535 {
		cfg.HTTPS.Port = 8788
	}
	if cfg.HTTP.SendRatePer10s < 1 {
		cfg.HTTP.SendRatePer10s = 1
	} else if cfg.HTTP.SendRatePer10s > 200 {
		cfg.HTTP.SendRatePer10s = 200
	}
	if cfg.Bridge.SendRetries < 1 {
		cfg.Bridge.SendRetries = 1
	} else if cfg.Bridge.SendRetries > 8 {
		cfg.Bridge.SendRetries = 8
	}
	if cfg.Bridge.SendRetryBackoffMS < 100 {
		cfg.Bridge.SendRetryBackoffMS = 100
	} else if cfg.Bridge.SendRetryBackoffMS > 3000 {
		cfg.Bridge.SendRetryBackoffMS = 3000
	}
	if cfg.Bridge.RegistryStaleMS < 1000 {
		cfg.Bridge.RegistryStaleMS = 1000
	}
	if cfg.Telemetry.Dir == "" {
		cfg.Telemetry.Dir = defaultTelemetryDir()
	}
	if cfg.Bridge.Dir == "" {
		cfg.Bridge.Dir = defaultBridgeDir()
	}
}
