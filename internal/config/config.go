package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DSN           string
	MigrationsDir string
	HTTPPort      string
	KafkaBrokers  string
	KafkaGroupID  string
	DevMode       bool

	NotifierInterval time.Duration
	PollInterval     time.Duration
}

func Load() *Config {
	return &Config{
		DSN:           getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=orderdesk sslmode=disable"),
		MigrationsDir: getEnv("APP_MIGRATIONS_DIR", "migrations"),
		HTTPPort:      getEnv("APP_PORT", "8080"),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", ""),
		KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "orderdesk-monitor"),
		DevMode:       getEnvBool("APP_DEV_MODE", false),

		NotifierInterval: getEnvDuration("APP_NOTIFIER_INTERVAL", 5*time.Second),
		PollInterval:     getEnvDuration("APP_POLL_INTERVAL", 5*time.Second),
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
