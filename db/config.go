package db

import (
	"time"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Config struct {
	DSN         string
	Pool        PoolConfig
	AutoMigrate bool
}

func DefaultConfig() Config {
	return Config{
		DSN: "",
		Pool: PoolConfig{
			MaxOpenConns:    100,
			MaxIdleConns:    20,
			ConnMaxLifetime: 30 * time.Minute,
		},
		AutoMigrate: true,
	}
}
