package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Inference Inference `mapstructure:"inference"`
	Log       Log       `mapstructure:"log"`
}

type Server struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
	StaticDir         string        `mapstructure:"static_dir"`
	// TrustedProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustedProxy bool `mapstructure:"trusted_proxy"`
}

type Database struct {
	Driver         string        `mapstructure:"driver"` // postgres, sqlite or memory
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	Path           string        `mapstructure:"path"`
	MaxConns       int           `mapstructure:"max_conns"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type Auth struct {
	Secret     string        `mapstructure:"secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	LoginRate  float64       `mapstructure:"login_rate"` // attempts per second per client
	LoginBurst int           `mapstructure:"login_burst"`
}

type Inference struct {
	BaseURL       string        `mapstructure:"base_url"`
	DefaultModel  string        `mapstructure:"default_model"`
	TitleModel    string        `mapstructure:"title_model"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// envBindings keeps the variable names the deployment already uses.
var envBindings = map[string]string{
	"server.addr":             "LISTEN_ADDR",
	"server.cookie_secure":    "COOKIE_SECURE",
	"server.static_dir":       "STATIC_DIR",
	"server.trusted_proxy":    "TRUSTED_PROXY",
	"database.driver":         "DB_DRIVER",
	"database.host":           "POSTGRES_HOST",
	"database.port":           "POSTGRES_PORT",
	"database.name":           "POSTGRES_DB",
	"database.user":           "POSTGRES_USER",
	"database.password":       "POSTGRES_PASSWORD",
	"database.sslmode":        "POSTGRES_SSLMODE",
	"database.path":           "SQLITE_PATH",
	"auth.secret":             "JWT_SECRET",
	"inference.base_url":      "API_URL",
	"inference.default_model": "DEFAULT_MODEL",
	"inference.title_model":   "TITLE_MODEL",
	"log.level":               "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.trusted_proxy", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.path", "ollama-chat.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.idle_timeout", 30*time.Second)
	v.SetDefault("database.acquire_timeout", 2*time.Second)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.login_rate", 1.0)
	v.SetDefault("auth.login_burst", 10)

	v.SetDefault("inference.base_url", "http://127.0.0.1:11434")
	v.SetDefault("inference.default_model", "phi3:mini")
	v.SetDefault("inference.title_model", "")
	v.SetDefault("inference.header_timeout", 2*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads an optional .env file, an optional YAML file at path and the
// environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Inference.BaseURL = strings.TrimRight(cfg.Inference.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	switch c.Database.Driver {
	case "postgres":
		d := c.Database
		if d.Host == "" || d.Name == "" || d.User == "" || d.Password == "" {
			return errors.New("missing database configuration")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("SQLITE_PATH must be set for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.MaxConns <= 0 {
		return errors.New("database.max_conns must be positive")
	}
	if c.Inference.BaseURL == "" {
		return errors.New("API_URL must be set")
	}
	return nil
}
