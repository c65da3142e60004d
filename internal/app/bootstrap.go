package app

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/medtrack/medtrack-backend/pkg/config"
	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/migrate"
	"github.com/medtrack/medtrack-backend/pkg/redis"
)

// Bootstrap loads the environment, opens Postgres and Redis and assembles the runtime for service.
// The returned App owns both clients; Close releases them.
func Bootstrap(ctx context.Context, service string) (*App, error) {
	logg := logger.New(logger.Options{ServiceName: service})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return nil, err
	}

	logg = logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to database", err)
		return nil, err
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return nil, multierr.Append(err, dbClient.Close())
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to redis", err)
		return nil, multierr.Append(err, dbClient.Close())
	}

	a, err := Assemble(Components{
		Service: service,
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
	})
	if err != nil {
		logg.Error(ctx, "failed to assemble runtime", err)
		return nil, multierr.Combine(fmt.Errorf("assemble %s: %w", service, err), redisClient.Close(), dbClient.Close())
	}
	a.RedisClient = redisClient
	a.OnClose(redisClient.Close)
	a.OnClose(dbClient.Close)
	return a, nil
}
