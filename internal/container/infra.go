package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/store"
	"go.uber.org/zap"
)

// LoggerPackage provides the zap logger.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "json" {
			return zap.NewProduction()
		}

		return zap.NewDevelopment()
	})
}

// RedisClient owns the Redis connection so the injector closes it on shutdown.
type RedisClient struct {
	*redis.Client
}

func (c *RedisClient) Shutdown() error {
	return c.Close()
}

// RedisPackage provides the Redis client.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisClient{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}

// PostgresPool owns the connection pool so the injector closes it on shutdown.
type PostgresPool struct {
	*pgxpool.Pool
}

func (p *PostgresPool) Shutdown() error {
	p.Close()

	return nil
}

// PostgresPackage provides the connection pool. It fails when no database URL is configured.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*PostgresPool, error) {
		opts := do.MustInvoke[*Options](i)
		if opts.DatabaseURL == "" {
			return nil, errors.New("postgres: no database url configured")
		}

		pool, err := pgxpool.New(context.Background(), opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		return &PostgresPool{Pool: pool}, nil
	})
}

// RepositoryPackage provides the repository and the cached link source the gateway reads.
// Without a database URL the repository is in memory.
func RepositoryPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (store.Repository, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.DatabaseURL == "" {
			logger.Warn("no database url, using in-memory storage")

			return store.NewMemoryStore(), nil
		}

		pool, err := do.Invoke[*PostgresPool](i)
		if err != nil {
			return nil, err
		}

		return store.NewPostgresStore(pool.Pool), nil
	})

	do.Provide(i, func(i *do.Injector) (store.LinkSource, error) {
		opts := do.MustInvoke[*Options](i)
		repo := do.MustInvoke[store.Repository](i)

		if opts.withoutRedis() {
			return repo, nil
		}

		client := do.MustInvoke[*RedisClient](i)

		return store.NewRedisCacheRepository(repo, client.Client, opts.cacheTTL()), nil
	})
}
