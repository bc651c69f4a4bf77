// Package config loads the layered arcgate configuration: built-in defaults,
// then config/default.toml and config/local.toml, then environment overrides
// with the ARC_AUTH prefix and "__" as the section separator
// (e.g. ARC_AUTH__SERVER__GATEWAY_PORT=9090).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the environment variable prefix for overrides.
	EnvPrefix = "ARC_AUTH"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultGatewayPort is the public edge proxy listener port.
	DefaultGatewayPort = 8080

	// DefaultAPIPort is the loopback auth API port.
	DefaultAPIPort = 3001
)

// Config is the root configuration for arcgate.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

// ServerConfig contains listener ports. AdminPort 0 disables the admin API.
type ServerConfig struct {
	GatewayPort int `mapstructure:"gateway_port"`
	APIPort     int `mapstructure:"api_port"`
	AdminPort   int `mapstructure:"admin_port"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver         string               `mapstructure:"driver"`
	URL            string               `mapstructure:"url"`
	MaxConnections int                  `mapstructure:"max_connections"`
	SQLite         SQLiteDatabaseConfig `mapstructure:"sqlite"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JWTConfig contains token lifetimes. The signing secret itself lives in the
// database (system_config row) and is never read from file or environment.
type JWTConfig struct {
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	AutoRefreshThreshold time.Duration `mapstructure:"auto_refresh_threshold"`
	RotateRefresh        bool          `mapstructure:"rotate_refresh"`
}

// RoutingConfig holds static proxy routes. Static routes take priority over
// dynamic (database) routes at equal prefix length.
type RoutingConfig struct {
	Routes          []RouteConfig `mapstructure:"routes"`
	DefaultUpstream string        `mapstructure:"default_upstream"`
}

// RouteConfig defines a single static proxy route.
type RouteConfig struct {
	Path        string `mapstructure:"path"`
	Upstream    string `mapstructure:"upstream"`
	Auth        bool   `mapstructure:"auth"`
	StripPrefix string `mapstructure:"strip_prefix"`
}

// CaptchaConfig toggles the captcha requirement on registration.
type CaptchaConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// GatewayConfig contains edge proxy tuning knobs.
type GatewayConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// Load reads the layered configuration from configDir and the environment.
// Missing files are not an error; environment overrides always apply.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setDefaults(v)

	for _, name := range []string{"default", "local"} {
		v.SetConfigFile(filepath.Join(configDir, name+".toml"))

		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading %s.toml: %w", name, err)
			}
		}
	}

	// The extra "_" makes the effective prefix ARC_AUTH__, matching the
	// "__"-separated section path in the variable name.
	v.SetEnvPrefix(EnvPrefix + "_")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("server.gateway_port", DefaultGatewayPort)
	v.SetDefault("server.api_port", DefaultAPIPort)
	v.SetDefault("server.admin_port", 0)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("jwt.access_token_ttl", "24h")
	v.SetDefault("jwt.refresh_token_ttl", "168h")
	v.SetDefault("jwt.auto_refresh_threshold", "1h")
	v.SetDefault("jwt.rotate_refresh", true)
	v.SetDefault("captcha.enabled", false)
	v.SetDefault("gateway.request_timeout", "2m")
	v.SetDefault("gateway.stream_timeout", "1h")
	v.SetDefault("gateway.trusted_proxies", []string{
		"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.GatewayPort <= 0 || c.Server.GatewayPort > 65535 {
		return fmt.Errorf("server.gateway_port %d out of range", c.Server.GatewayPort)
	}

	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port %d out of range", c.Server.APIPort)
	}

	if c.Server.APIPort == c.Server.GatewayPort {
		return fmt.Errorf("server.api_port must differ from server.gateway_port")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("jwt.access_token_ttl must be positive")
	}

	if c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL {
		return fmt.Errorf("jwt.refresh_token_ttl must exceed jwt.access_token_ttl")
	}

	if c.JWT.AutoRefreshThreshold < 0 ||
		c.JWT.AutoRefreshThreshold >= c.JWT.AccessTokenTTL {
		return fmt.Errorf("jwt.auto_refresh_threshold must be in [0, access_token_ttl)")
	}

	seen := make(map[string]struct{}, len(c.Routing.Routes))

	for i, route := range c.Routing.Routes {
		if route.Path == "" || !strings.HasPrefix(route.Path, "/") {
			return fmt.Errorf("routing.routes[%d]: path must start with /", i)
		}

		if route.Upstream == "" {
			return fmt.Errorf("routing.routes[%d]: upstream is required", i)
		}

		if _, exists := seen[route.Path]; exists {
			return fmt.Errorf("routing.routes[%d]: duplicate path %q", i, route.Path)
		}

		seen[route.Path] = struct{}{}
	}

	return nil
}
