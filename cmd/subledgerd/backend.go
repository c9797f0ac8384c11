package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/subledger/config"
	"github.com/PaulFidika/subledger/entitlements"
	memorystore "github.com/PaulFidika/subledger/storage/memory"
	pgstore "github.com/PaulFidika/subledger/storage/postgres"
	redisstore "github.com/PaulFidika/subledger/storage/redis"
	sqlitestore "github.com/PaulFidika/subledger/storage/sqlite"
)

// infra is the storage the daemon runs on. pool and rdb are nil when not configured.
type infra struct {
	backend entitlements.Backend
	pool    *pgxpool.Pool
	rdb     redis.UniversalClient
	ownsRDB bool
}

func (i *infra) Close() error {
	var errs []error
	if i.backend != nil {
		errs = append(errs, i.backend.Close())
	}
	if i.ownsRDB && i.rdb != nil {
		errs = append(errs, i.rdb.Close())
	}
	return errors.Join(errs...)
}

func openInfra(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*infra, error) {
	in := &infra{}
	if cfg.RedisURL != "" && cfg.Driver != config.DriverRedis {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		in.rdb, in.ownsRDB = rdb, true
	}

	switch cfg.Driver {
	case config.DriverMemory:
		in.backend = memorystore.New()
	case config.DriverSQLite:
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			_ = in.Close()
			return nil, err
		}
		in.backend = st
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			_ = in.Close()
			return nil, err
		}
		in.backend, in.pool = st, st.Pool()
	case config.DriverRedis:
		st, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, err
		}
		in.backend, in.rdb = st, st.Client()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	log.WithField("driver", cfg.Driver).Info("storage opened")
	return in, nil
}
