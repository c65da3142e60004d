package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/medtrack/medtrack-backend/internal/app"
	"github.com/medtrack/medtrack-backend/internal/maintenance"
	"github.com/medtrack/medtrack-backend/internal/notifications"
	"github.com/medtrack/medtrack-backend/pkg/auth"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/serviceclient"
)

const serviceName = "comm-consumer"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := app.Bootstrap(ctx, serviceName)
	if err != nil {
		return 1
	}
	logg := runtime.Logger
	cfg := runtime.Config
	defer func() {
		if err := runtime.Close(); err != nil {
			logg.Error(context.Background(), "error closing runtime", err)
		}
	}()

	clientOpts := []serviceclient.Option{serviceclient.WithTimeout(cfg.Services.RequestTimeout)}
	if cfg.ServiceAuth.Secret != "" {
		clientOpts = append(clientOpts, serviceclient.WithTokenSource(auth.NewTokenSource(cfg.ServiceAuth, serviceName)))
	} else {
		logg.Warn(ctx, "service jwt secret not set; profile lookups are unauthenticated")
	}
	profileClient, err := serviceclient.NewProfileClient(cfg.Services.ProfileBaseURL, clientOpts...)
	if err != nil {
		logg.Error(ctx, "failed to create profile client", err)
		return 1
	}

	pusher, err := notifications.NewRedisPusher(runtime.RedisClient)
	if err != nil {
		logg.Error(ctx, "failed to create push publisher", err)
		return 1
	}

	service, err := notifications.NewService(notifications.NewRepository(runtime.DB.DB()), profileClient, pusher, logg)
	if err != nil {
		logg.Error(ctx, "failed to create notification service", err)
		return 1
	}
	router, err := events.NewRouter(logg)
	if err != nil {
		logg.Error(ctx, "failed to create event router", err)
		return 1
	}
	if err := service.Register(router); err != nil {
		logg.Error(ctx, "failed to register notification handlers", err)
		return 1
	}

	retention, err := runtime.DeadLetterRetentionJob()
	if err != nil {
		logg.Error(ctx, "failed to create retention job", err)
		return 1
	}
	retry, err := maintenance.NewNotificationRetryJob(maintenance.NotificationRetryJobParams{
		Logger:      logg,
		Retrier:     service,
		RetryAfter:  cfg.Maintenance.NotificationRetryAfter,
		MaxAttempts: cfg.Maintenance.NotificationMaxAttempts,
		BatchSize:   cfg.Maintenance.NotificationBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create notification retry job", err)
		return 1
	}

	logg.Info(ctx, "starting comm consumer")
	if err := runtime.Run(ctx, app.Consumer{
		Queue:    notifications.Queue,
		Bindings: notifications.Bindings,
		Handler:  router,
		Jobs:     []maintenance.Job{retention, retry},
	}); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "comm consumer stopped unexpectedly", err)
		return 1
	}

	logg.Info(ctx, "comm consumer shutting down gracefully")
	return 0
}
