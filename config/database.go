package config

import (
	"context"

	"stock-simulator/internal/store"
	"stock-simulator/internal/store/mongostore"
	"stock-simulator/internal/store/sqlstore"
)

// OpenStore connects the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	if cfg.Driver == "mongo" {
		return mongostore.Open(ctx, cfg.DSN, cfg.Database)
	}
	return sqlstore.Open(cfg.Driver, cfg.DSN)
}
