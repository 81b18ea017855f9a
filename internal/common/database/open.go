package database

import (
	"context"
	"fmt"

	"aptitude-client/internal/common/config"
)

// Open returns the KV backend selected by cfg.Driver and verifies it is reachable.
func Open(ctx context.Context, cfg config.StoreConfig) (KV, error) {
	var (
		kv  KV
		err error
	)

	switch cfg.Driver {
	case config.DriverMemory:
		kv = NewMemoryKV()
	case config.DriverSQLite, "":
		kv, err = NewSQLite(ctx, cfg.SQLite)
	case config.DriverRedis:
		kv, err = NewRedis(cfg.Redis)
	case config.DriverPostgres:
		kv, err = NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := kv.Ping(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("%s store unreachable: %w", cfg.Driver, err)
	}
	return kv, nil
}
