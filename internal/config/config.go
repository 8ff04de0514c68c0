// Package config loads server settings from the environment.
package config

import (
	"os"
	"time"
)

type Config struct {
	Port          string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	ReapInterval  time.Duration
	IdleGrace     time.Duration
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("CODEDUET_DB_PATH", "./data/codeduet.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"), // empty disables the bridge
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ReapInterval:  getDuration("REAP_INTERVAL", time.Minute),
		IdleGrace:     getDuration("SESSION_IDLE_GRACE", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
