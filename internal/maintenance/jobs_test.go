package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medtrack/medtrack-backend/pkg/logger"
)

type fakePruner struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeRetrier struct {
	before      time.Time
	maxAttempts int
	limit       int
	delivered   int
	err         error
}

func (f *fakeRetrier) RetryStuck(_ context.Context, before time.Time, maxAttempts, limit int) (int, error) {
	f.before = before
	f.maxAttempts = maxAttempts
	f.limit = limit
	return f.delivered, f.err
}

func TestDeadLetterRetentionJobUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{deleted: 3}
	job, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{Logger: logger.Nop(), Repository: pruner, Retention: 7})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	job.(*deadLetterRetentionJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-7 * 24 * time.Hour); !pruner.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, pruner.cutoff)
	}
}

func TestDeadLetterRetentionJobDefaultsAndErrors(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db down")}
	job, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{Logger: logger.Nop(), Repository: pruner})
	if err != nil {
		t.Fatalf("NewDeadLetterRetentionJob: %v", err)
	}
	if job.(*deadLetterRetentionJob).retention != defaultDeadLetterRetentionDays {
		t.Fatalf("expected default retention")
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected repository error to surface")
	}
	if _, err := NewDeadLetterRetentionJob(DeadLetterRetentionJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected missing repository error")
	}
}

func TestNotificationRetryJobPassesPolicy(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	retrier := &fakeRetrier{delivered: 2}
	job, err := NewNotificationRetryJob(NotificationRetryJobParams{
		Logger:      logger.Nop(),
		Retrier:     retrier,
		RetryAfter:  10 * time.Minute,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewNotificationRetryJob: %v", err)
	}
	job.(*notificationRetryJob).now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-10 * time.Minute); !retrier.before.Equal(want) {
		t.Fatalf("expected before %s, got %s", want, retrier.before)
	}
	if retrier.maxAttempts != 3 || retrier.limit != defaultBatchSize {
		t.Fatalf("unexpected policy attempts=%d limit=%d", retrier.maxAttempts, retrier.limit)
	}
}

func TestNotificationRetryJobSurfacesErrors(t *testing.T) {
	job, err := NewNotificationRetryJob(NotificationRetryJobParams{
		Logger:  logger.Nop(),
		Retrier: &fakeRetrier{delivered: 1, err: errors.New("push failed")},
	})
	if err != nil {
		t.Fatalf("NewNotificationRetryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected retry error")
	}
}
