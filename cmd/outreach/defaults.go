package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Database
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 20)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.auto_migrate", true)

	// Redis (cycle leases)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Gateway
	viper.SetDefault("gateway.base_url", "http://127.0.0.1:8484")
	viper.SetDefault("gateway.request_timeout", 30*time.Second)

	// Global
	viper.SetDefault("file_state_dir", "~/.outreach")
	viper.SetDefault("sessions.dir_name", "sessions")

	// LLM defaults (shared by every worker's dialogue engine).
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.request_timeout", 90*time.Second)

	// Worker pacing
	viper.SetDefault("worker.claim_interval", 8*time.Second)
	viper.SetDefault("worker.claim_interval_max", 15*time.Second)
	viper.SetDefault("worker.follow_up_delay", 10*time.Minute)
	viper.SetDefault("worker.error_backoff", 30*time.Second)
	viper.SetDefault("worker.batch_wait", 3*time.Second)
	viper.SetDefault("worker.batch_max_wait", 15*time.Second)

	// Manager cycles
	viper.SetDefault("manager.distribute_interval", 30*time.Second)
	viper.SetDefault("manager.health_interval", time.Minute)
	viper.SetDefault("manager.reclaim_interval", time.Hour)
	viper.SetDefault("manager.stale_after", 6*time.Hour)
	viper.SetDefault("manager.shutdown_timeout", 30*time.Second)
	viper.SetDefault("manager.lock_ttl", time.Minute)
}
