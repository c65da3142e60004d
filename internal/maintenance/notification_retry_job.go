package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/medtrack/medtrack-backend/pkg/logger"
)

const (
	defaultRetryAfter  = 2 * time.Minute
	defaultMaxAttempts = 5
	defaultBatchSize   = 50
)

type NotificationRetryJobParams struct {
	Logger      *logger.Logger
	Retrier     notificationRetrier
	RetryAfter  time.Duration
	MaxAttempts int
	BatchSize   int
}

type notificationRetrier interface {
	RetryStuck(ctx context.Context, before time.Time, maxAttempts, limit int) (int, error)
}

// NewNotificationRetryJob re-attempts notifications left pending or failed for longer than RetryAfter.
func NewNotificationRetryJob(params NotificationRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Retrier == nil {
		return nil, fmt.Errorf("notification retrier required")
	}
	job := &notificationRetryJob{
		logg:        params.Logger,
		retrier:     params.Retrier,
		retryAfter:  params.RetryAfter,
		maxAttempts: params.MaxAttempts,
		batchSize:   params.BatchSize,
		now:         time.Now,
	}
	if job.retryAfter <= 0 {
		job.retryAfter = defaultRetryAfter
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultMaxAttempts
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultBatchSize
	}
	return job, nil
}

type notificationRetryJob struct {
	logg        *logger.Logger
	retrier     notificationRetrier
	retryAfter  time.Duration
	maxAttempts int
	batchSize   int
	now         func() time.Time
}

func (j *notificationRetryJob) Name() string { return "notification-retry" }

func (j *notificationRetryJob) Run(ctx context.Context) error {
	before := j.now().UTC().Add(-j.retryAfter)
	delivered, err := j.retrier.RetryStuck(ctx, before, j.maxAttempts, j.batchSize)
	if delivered > 0 {
		j.logg.Info(j.logg.WithField(ctx, "delivered", delivered), "stuck notifications delivered")
	}
	if err != nil {
		return fmt.Errorf("notification retry: %w", err)
	}
	return nil
}
