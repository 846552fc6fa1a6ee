package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mediafi/ipledger/internal/cache/redis"
	"github.com/mediafi/ipledger/internal/config"
	"github.com/mediafi/ipledger/internal/domain"
	"github.com/mediafi/ipledger/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Journal and snapshot stores
	Journal       domain.EventStore
	Tokens        domain.TokenStore
	Orders        domain.OrderStore
	Trades        domain.TradeStore
	Distributions domain.DistributionStore

	// Caches
	Prices domain.PriceCache
	Bus    domain.EventBus
}

// needsPostgres returns true for modes that read or write the event journal.
func needsPostgres(mode string) bool {
	switch mode {
	case "node", "audit":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that touch the cache or event bus.
func needsRedis(mode string) bool {
	switch mode {
	case "node", "tail":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations the configured
// mode needs and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewEventStore(pool)
		deps.Tokens = postgres.NewTokenStore(pool)
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Distributions = postgres.NewDistributionStore(pool)
	}

	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
	}

	return deps, cleanup, nil
}
