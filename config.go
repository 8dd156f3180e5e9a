package cashflow

import (
	"time"

	"github.com/spf13/viper"
)

// Config is process-level configuration, loaded once at startup by
// cmd/server. Per-tenant configuration (base currency, distinguished
// accounts, ...) lives on the Company row (company.go), not here.
type Config struct {
	DBPath string `mapstructure:"db_path"`

	RedisAddr string `mapstructure:"redis_addr"`

	HTTPAddr string `mapstructure:"http_addr"`

	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	IdempotencyWindow  time.Duration `mapstructure:"idempotency_window"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogJSON   bool   `mapstructure:"log_json"`
	EventSource string `mapstructure:"event_source"`
}

// LoadConfig reads configuration from environment variables prefixed
// CASHFLOW_ (e.g. CASHFLOW_DB_PATH), following evalgo-org-eve's
// cli/root.go viper-env-binding pattern, with defaults suitable for local
// development.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CASHFLOW")
	v.AutomaticEnv()

	v.SetDefault("db_path", "cashflow.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("lock_ttl", 30*time.Second)
	v.SetDefault("idempotency_window", 20*time.Second)
	v.SetDefault("transaction_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("event_source", "cashflow-api")

	cfg := Config{
		DBPath:             v.GetString("db_path"),
		RedisAddr:          v.GetString("redis_addr"),
		HTTPAddr:           v.GetString("http_addr"),
		LockTTL:            v.GetDuration("lock_ttl"),
		IdempotencyWindow:  v.GetDuration("idempotency_window"),
		TransactionTimeout: v.GetDuration("transaction_timeout"),
		LogLevel:           v.GetString("log_level"),
		LogJSON:            v.GetBool("log_json"),
		EventSource:        v.GetString("event_source"),
	}
	return cfg, nil
}
