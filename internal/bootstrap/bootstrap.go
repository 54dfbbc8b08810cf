// Package bootstrap opens the backends named by the configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/fairtable/internal/config"
	"github.com/jason-s-yu/fairtable/internal/store"
	"github.com/jason-s-yu/fairtable/internal/store/postgres"
	"github.com/jason-s-yu/fairtable/internal/store/sqlite"
	"github.com/sirupsen/logrus"
)

// OpenStore connects and migrates the configured store. The returned func
// releases it.
func OpenStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool)
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("store: connected to postgres")
		return st, pool.Close, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("store: opened sqlite")
		return st, func() {
			if err := st.Close(); err != nil {
				log.WithError(err).Warn("store: close sqlite")
			}
		}, nil

	case config.DriverMemory:
		log.Warn("store: using in-memory store, nothing survives a restart")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
