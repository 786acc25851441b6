package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/knapabuse2-cmd/outreach/db"
	"github.com/knapabuse2-cmd/outreach/internal/store"
)

func openStoreFromViper() (*store.Store, error) {
	dsn := strings.TrimSpace(viper.GetString("database.dsn"))
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	gdb, err := db.Open(dbConfigFromViper(dsn))
	if err != nil {
		return nil, err
	}
	return store.New(store.Options{DB: gdb})
}

func dbConfigFromViper(dsn string) db.Config {
	cfg := db.DefaultConfig()
	cfg.DSN = dsn
	if v := viper.GetInt("database.max_open_conns"); v > 0 {
		cfg.Pool.MaxOpenConns = v
	}
	if v := viper.GetInt("database.max_idle_conns"); v > 0 {
		cfg.Pool.MaxIdleConns = v
	}
	if v := viper.GetDuration("database.conn_max_lifetime"); v > 0 {
		cfg.Pool.ConnMaxLifetime = v
	}
	cfg.AutoMigrate = viper.GetBool("database.auto_migrate")
	return cfg
}
