package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendLocal    = "local"
)

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	StoreBackend        string   `mapstructure:"STORE_BACKEND"`
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32    `mapstructure:"DB_MIN_CONNS"`
	LocalStorePath      string   `mapstructure:"LOCAL_STORE_PATH"`
	RedisURL            string   `mapstructure:"REDIS_URL"`
	KafkaBrokers        []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopicStock     string   `mapstructure:"KAFKA_TOPIC_STOCK"`
	ClinicTimezone      string   `mapstructure:"CLINIC_TIMEZONE"`
	AuthIssuer          string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant       string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	NumberingMaxRetries int      `mapstructure:"NUMBERING_MAX_RETRIES"`
	ExpiryWindowDays    int      `mapstructure:"EXPIRY_WINDOW_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"LOCAL_STORE_PATH", "REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC_STOCK", "CLINIC_TIMEZONE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "DEFAULT_TENANT", "CORS_ORIGINS",
	"NUMBERING_MAX_RETRIES", "EXPIRY_WINDOW_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("LOCAL_STORE_PATH", "clinic.db")
	v.SetDefault("KAFKA_TOPIC_STOCK", "clinic.stock")
	v.SetDefault("CLINIC_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("NUMBERING_MAX_RETRIES", 5)
	v.SetDefault("EXPIRY_WINDOW_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)

	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// splitList accepts either a decoded list or a comma separated string.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if len(decoded) > 0 {
		return decoded
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. Day and year numbering scopes and
// report day bounds are computed in this zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is required so requests are authenticated.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	case BackendLocal:
		if c.LocalStorePath == "" {
			return fmt.Errorf("LOCAL_STORE_PATH is required when STORE_BACKEND is %q", BackendLocal)
		}
	case BackendMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND %q loses all data on restart and is not allowed in production", BackendMemory)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q", BackendPostgres, BackendMemory, BackendLocal, c.StoreBackend)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.NumberingMaxRetries <= 0 {
		return fmt.Errorf("NUMBERING_MAX_RETRIES must be positive, got %d", c.NumberingMaxRetries)
	}
	if c.ExpiryWindowDays <= 0 {
		return fmt.Errorf("EXPIRY_WINDOW_DAYS must be positive, got %d", c.ExpiryWindowDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
