package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Server   Server
	JWT      JWT
	Storage  Storage
	Redis    Redis
	NATS     NATS
	Logger   Logger
	Security Security
}

type Server struct {
	Port           string
	NodeName       string
	AllowedOrigins []string
	HandshakeRPS   int
	HandshakeBurst int
}

type JWT struct {
	Secret   string
	TokenTTL time.Duration
}

type Storage struct {
	DBPath string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type NATS struct {
	URL string
}

type Logger struct {
	Level       string
	Development bool
}

type Security struct {
	ServiceKeyHash string
}

var ErrMissingSecret = errors.New("APP_SECRET must be set")

func defaults(v *viper.Viper) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "node-1"
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("NODE_NAME", hostname)
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("HANDSHAKE_RPS", 5)
	v.SetDefault("HANDSHAKE_BURST", 10)
	v.SetDefault("APP_SECRET", "")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("DB_PATH", "realtime.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "rt")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("SERVICE_KEY_HASH", "")
}

// Load reads the process environment, after merging an optional .env file
// from the working directory.
func Load() (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	return Parse(v)
}

func Parse(v *viper.Viper) (*Config, error) {
	c := &Config{
		Server: Server{
			Port:           v.GetString("PORT"),
			NodeName:       v.GetString("NODE_NAME"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
			HandshakeRPS:   v.GetInt("HANDSHAKE_RPS"),
			HandshakeBurst: v.GetInt("HANDSHAKE_BURST"),
		},
		JWT: JWT{
			Secret:   v.GetString("APP_SECRET"),
			TokenTTL: v.GetDuration("TOKEN_TTL"),
		},
		Storage: Storage{
			DBPath: v.GetString("DB_PATH"),
		},
		Redis: Redis{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Prefix:   v.GetString("REDIS_PREFIX"),
		},
		NATS: NATS{
			URL: v.GetString("NATS_URL"),
		},
		Logger: Logger{
			Level:       v.GetString("LOG_LEVEL"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
		Security: Security{
			ServiceKeyHash: v.GetString("SERVICE_KEY_HASH"),
		},
	}

	if c.JWT.Secret == "" {
		return nil, ErrMissingSecret
	}
	if c.JWT.TokenTTL <= 0 {
		return nil, errors.Errorf("TOKEN_TTL must be positive, got %s", c.JWT.TokenTTL)
	}
	if c.Server.HandshakeRPS <= 0 || c.Server.HandshakeBurst <= 0 {
		return nil, errors.New("HANDSHAKE_RPS and HANDSHAKE_BURST must be positive")
	}

	return c, nil
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Server.Port, ":")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
