package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/medtrack/medtrack-backend/internal/app"
	"github.com/medtrack/medtrack-backend/internal/maintenance"
	"github.com/medtrack/medtrack-backend/internal/profiles"
	"github.com/medtrack/medtrack-backend/pkg/events"
)

const serviceName = "profile-consumer"

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
	defer func() {
		if err := runtime.Close(); err != nil {
			logg.Error(context.Background(), "error closing runtime", err)
		}
	}()

	service, err := profiles.NewService(profiles.NewRepository(runtime.DB.DB()), runtime.Publisher, logg)
	if err != nil {
		logg.Error(ctx, "failed to create profile service", err)
		return 1
	}
	router, err := events.NewRouter(logg)
	if err != nil {
		logg.Error(ctx, "failed to create event router", err)
		return 1
	}
	if err := service.Register(router); err != nil {
		logg.Error(ctx, "failed to register profile handlers", err)
		return 1
	}

	retention, err := runtime.DeadLetterRetentionJob()
	if err != nil {
		logg.Error(ctx, "failed to create retention job", err)
		return 1
	}

	logg.Info(ctx, "starting profile consumer")
	if err := runtime.Run(ctx, app.Consumer{
		Queue:    profiles.Queue,
		Bindings: profiles.Bindings,
		Handler:  router,
		Jobs:     []maintenance.Job{retention},
	}); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "profile consumer stopped unexpectedly", err)
		return 1
	}

	logg.Info(ctx, "profile consumer shutting down gracefully")
	return 0
}
