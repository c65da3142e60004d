// Package app assembles the shared runtime of a consumer process: broker roles, storage, metrics and the
// ops HTTP server, and runs them together until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/medtrack/medtrack-backend/api/controllers"
	"github.com/medtrack/medtrack-backend/api/routes"
	"github.com/medtrack/medtrack-backend/internal/maintenance"
	"github.com/medtrack/medtrack-backend/pkg/broker"
	"github.com/medtrack/medtrack-backend/pkg/config"
	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/events/deadletter"
	"github.com/medtrack/medtrack-backend/pkg/events/idempotency"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/metrics"
	"github.com/medtrack/medtrack-backend/pkg/redis"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// RedisStore is the slice of the Redis client the runtime needs.
type RedisStore interface {
	redis.IdempotencyStore
	Ping(ctx context.Context) error
}

type Components struct {
	Service       string
	Config        *config.Config
	Logger        *logger.Logger
	DB            *db.Client
	Redis         RedisStore
	BrokerOptions []broker.Option
}

// App owns one publisher connection and one consumer connection, so a slow consumer never blocks
// publishing and a publish failure never tears down consumption.
type App struct {
	Service     string
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.Client
	Redis       RedisStore
	RedisClient *redis.Client
	Registry    *prometheus.Registry
	Jobs        *metrics.JobMetrics
	Publisher   *broker.Publisher
	Subscriber  *broker.Subscriber
	DeadLetters *deadletter.Repository
	Idempotency *idempotency.Manager

	publisherConn *broker.ConnectionManager
	consumerConn  *broker.ConnectionManager
	closers       []func() error
}

// Assemble wires the runtime from already-opened storage clients. Nothing dials the broker until Run.
func Assemble(c Components) (*App, error) {
	if c.Service == "" {
		return nil, errors.New("service name required")
	}
	if c.Config == nil || c.Logger == nil || c.DB == nil || c.Redis == nil {
		return nil, errors.New("config, logger, db and redis are required")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	eventMetrics := metrics.NewEventMetrics(registry)

	opts := append([]broker.Option{broker.WithAppName(c.Service)}, c.BrokerOptions...)
	publisherConn, err := broker.NewConnectionManager(c.Config.Broker, broker.RolePublisher, c.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("publisher connection: %w", err)
	}
	consumerConn, err := broker.NewConnectionManager(c.Config.Broker, broker.RoleConsumer, c.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("consumer connection: %w", err)
	}

	publisher, err := broker.NewPublisher(publisherConn, c.Service, c.Logger, eventMetrics)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}

	idem, err := idempotency.NewManager(c.Redis, c.Config.Eventing.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency: %w", err)
	}
	deadLetters := deadletter.NewRepository(c.DB.DB())

	subscriber, err := broker.NewSubscriber(consumerConn, c.Logger,
		broker.WithIdempotency(idem),
		broker.WithDeadLetterRecorder(deadLetters),
		broker.WithMetrics(eventMetrics),
		broker.WithConsumerTag(c.Service),
	)
	if err != nil {
		return nil, fmt.Errorf("subscriber: %w", err)
	}

	return &App{
		Service:       c.Service,
		Config:        c.Config,
		Logger:        c.Logger,
		DB:            c.DB,
		Redis:         c.Redis,
		Registry:      registry,
		Jobs:          metrics.NewJobMetrics(registry),
		Publisher:     publisher,
		Subscriber:    subscriber,
		DeadLetters:   deadLetters,
		Idempotency:   idem,
		publisherConn: publisherConn,
		consumerConn:  consumerConn,
		closers:       []func() error{publisher.Close, publisherConn.Close, consumerConn.Close},
	}, nil
}

// OnClose registers fn to run on Close after the broker connections are gone.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything the app owns and reports every failure.
func (a *App) Close() error {
	var err error
	for _, closeFn := range a.closers {
		err = multierr.Append(err, closeFn())
	}
	a.closers = nil
	return err
}

// DeadLetterRetentionJob prunes this service's dead-letter table on the maintenance schedule.
func (a *App) DeadLetterRetentionJob() (maintenance.Job, error) {
	return maintenance.NewDeadLetterRetentionJob(maintenance.DeadLetterRetentionJobParams{
		Logger:     a.Logger,
		Repository: a.DeadLetters,
		Retention:  a.Config.Maintenance.DeadLetterRetentionDays,
	})
}

// Consumer describes the queue a process owns and how its messages are handled.
type Consumer struct {
	Queue    string
	Bindings []string
	Handler  events.Handler
	Jobs     []maintenance.Job
}

// Run declares the queue, then consumes, serves the ops HTTP surface and runs maintenance jobs until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context, consumer Consumer) error {
	ctx = a.Logger.WithFields(ctx, map[string]any{"queue": consumer.Queue, "env": a.Config.App.Env})

	if err := a.Subscriber.DeclareQueue(ctx, consumer.Queue, consumer.Bindings); err != nil {
		return fmt.Errorf("declare %s: %w", consumer.Queue, err)
	}

	jobs, err := a.maintenanceService(consumer.Jobs)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: ":" + a.Config.App.Port,
		Handler: routes.NewRouter(routes.Options{
			Service: a.Service,
			Checks: []controllers.Check{
				{Name: "broker", Pinger: a.consumerConn},
				{Name: "db", Pinger: a.DB},
				{Name: "redis", Pinger: a.Redis},
			},
			Gatherer:    a.Registry,
			DeadLetters: a.DeadLetters,
		}, a.Logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Subscriber.Consume(gctx, consumer.Queue, consumer.Handler)
	})
	g.Go(func() error {
		a.Logger.Info(a.Logger.WithField(gctx, "addr", server.Addr), "ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if jobs != nil {
		g.Go(func() error {
			if err := jobs.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.Logger.Info(ctx, "consumer running")
	err = g.Wait()
	if err != nil {
		a.Logger.Error(ctx, "consumer stopped with error", err)
		return err
	}
	a.Logger.Info(ctx, "consumer stopped")
	return nil
}

func (a *App) maintenanceService(jobs []maintenance.Job) (*maintenance.Service, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	registry, err := maintenance.NewRegistry(jobs...)
	if err != nil {
		return nil, err
	}
	lock, err := a.maintenanceLock()
	if err != nil {
		return nil, err
	}
	return maintenance.NewService(maintenance.ServiceParams{
		Logger:   a.Logger,
		Registry: registry,
		Lock:     lock,
		Metrics:  a.Jobs,
		Interval: a.Config.Maintenance.Interval,
	})
}

type lockingStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

func (a *App) maintenanceLock() (maintenance.Lock, error) {
	store, ok := a.Redis.(lockingStore)
	if !ok {
		return nil, errors.New("redis store cannot hold maintenance locks")
	}
	return maintenance.NewRedisLock(store, store.LockKey(a.Service), a.Config.Maintenance.LockTTL)
}
