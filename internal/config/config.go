// Package config loads runtime configuration from the environment and the
// optional per-model endpoint overrides file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Ajax     AjaxConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// ServerConfig controls the HTTP listener and its middleware.
type ServerConfig struct {
	Addr            string        `env:"AJAX_HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"AJAX_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"AJAX_HTTP_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"AJAX_HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	CORSOrigins     string        `env:"AJAX_CORS_ORIGINS"`
	RateLimitRPS    int           `env:"AJAX_RATE_LIMIT_RPS,default=0"`
	RateLimitBurst  int           `env:"AJAX_RATE_LIMIT_BURST,default=20"`
}

// AjaxConfig mirrors the knobs endpoints read at request time.
type AjaxConfig struct {
	URLPrefix      string `env:"AJAX_URL_PREFIX,default=/ajax"`
	Debug          bool   `env:"AJAX_DEBUG,default=false"`
	Authentication string `env:"AJAX_AUTHENTICATION,default=session"`
	MaxPerPage     int    `env:"AJAX_MAX_PER_PAGE,default=100"`
	PKAttrName     string `env:"AJAX_PK_ATTR_NAME,default=pk"`
	EndpointsFile  string `env:"AJAX_ENDPOINTS_FILE"`
}

// DatabaseConfig selects the store backend. Driver "memory" needs no DSN.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=memory"`
	DSN             string `env:"DATABASE_DSN"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME,default=300"`
	Migrate         bool   `env:"DATABASE_MIGRATE,default=true"`
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret string        `env:"AJAX_JWT_SECRET"`
	TokenTTL  time.Duration `env:"AJAX_JWT_TTL,default=24h"`
}

// LoggingConfig feeds pkg/logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalises values and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "memory":
		c.Database.Driver = "memory"
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Ajax.MaxPerPage <= 0 {
		c.Ajax.MaxPerPage = 100
	}
	if strings.TrimSpace(c.Ajax.PKAttrName) == "" {
		c.Ajax.PKAttrName = "pk"
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(c.Ajax.URLPrefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	c.Ajax.URLPrefix = prefix
	return nil
}

// Origins splits the comma separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(s.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
