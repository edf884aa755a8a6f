package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Entitlement EntitlementConfig
	Idempotency IdempotencyConfig
	Scheduler   SchedulerConfig
}

type ServerConfig struct {
	Addr string
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EntitlementConfig tunes the stale-while-revalidate window of the
// entitlement cache. Entries older than SoftTTL but younger than HardTTL
// may be served stale while a background refresh runs; nothing older
// than HardTTL is ever served.
type EntitlementConfig struct {
	SoftTTL time.Duration
	HardTTL time.Duration
}

// IdempotencyConfig tunes usage-report deduplication. TTL must exceed
// realistic client retry windows but stay bounded so stale entries do
// not mask legitimate re-reports.
type IdempotencyConfig struct {
	TTL time.Duration
}

type SchedulerConfig struct {
	TrialInterval   time.Duration
	BillingInterval time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:meterwise.db?cache=shared")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("entitlement.cache.soft.ttl", 5*time.Second)
	v.SetDefault("entitlement.cache.hard.ttl", 30*time.Second)
	v.SetDefault("idempotency.ttl", 2*time.Minute)
	v.SetDefault("scheduler.trial.interval", 3*time.Hour)
	v.SetDefault("scheduler.billing.interval", time.Hour)

	cfg := Config{
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
			DSN:    v.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Entitlement: EntitlementConfig{
			SoftTTL: v.GetDuration("entitlement.cache.soft.ttl"),
			HardTTL: v.GetDuration("entitlement.cache.hard.ttl"),
		},
		Idempotency: IdempotencyConfig{
			TTL: v.GetDuration("idempotency.ttl"),
		},
		Scheduler: SchedulerConfig{
			TrialInterval:   v.GetDuration("scheduler.trial.interval"),
			BillingInterval: v.GetDuration("scheduler.billing.interval"),
		},
	}

	if cfg.Entitlement.HardTTL < cfg.Entitlement.SoftTTL {
		cfg.Entitlement.HardTTL = cfg.Entitlement.SoftTTL
	}

	return cfg, nil
}
