package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies PARIMUTUEL_*
// environment overrides. An empty path skips the file. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PARIMUTUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMUTUEL_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "PARIMUTUEL_SERVER_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Database.DSN, "PARIMUTUEL_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setInt(&cfg.Database.MaxConns, "PARIMUTUEL_DATABASE_MAX_CONNS")
	setInt(&cfg.Database.MinConns, "PARIMUTUEL_DATABASE_MIN_CONNS")

	setBool(&cfg.Redis.Enabled, "PARIMUTUEL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PARIMUTUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMUTUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMUTUEL_REDIS_DB")
	setStr(&cfg.Redis.Channel, "PARIMUTUEL_REDIS_CHANNEL")

	setBool(&cfg.Kafka.Enabled, "PARIMUTUEL_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "PARIMUTUEL_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "PARIMUTUEL_KAFKA_TOPIC")

	setStr(&cfg.Auth.JWTSecret, "PARIMUTUEL_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "PARIMUTUEL_AUTH_TOKEN_TTL")
	setStr(&cfg.Auth.OwnerPassword, "PARIMUTUEL_AUTH_OWNER_PASSWORD")

	setStr(&cfg.Exchange.Owner, "PARIMUTUEL_EXCHANGE_OWNER")
	setStr(&cfg.Exchange.Treasury, "PARIMUTUEL_EXCHANGE_TREASURY")
	setInt64(&cfg.Exchange.FeePercent, "PARIMUTUEL_EXCHANGE_FEE_PERCENT")
	setInt64(&cfg.Exchange.InitialBalance, "PARIMUTUEL_EXCHANGE_INITIAL_BALANCE")

	setStr(&cfg.LogLevel, "PARIMUTUEL_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
