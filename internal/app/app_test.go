package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-backend/internal/maintenance"
	"github.com/medtrack/medtrack-backend/pkg/broker"
	"github.com/medtrack/medtrack-backend/pkg/broker/brokertest"
	"github.com/medtrack/medtrack-backend/pkg/config"
	"github.com/medtrack/medtrack-backend/pkg/db/dbtest"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/events/deadletter"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

const testQueue = "comm.events"

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return "mt:" + scope + ":" + id }
func (m *memoryStore) LockKey(name string) string             { return "mt:lock:" + name }
func (m *memoryStore) Ping(context.Context) error              { return nil }

type countingJob struct {
	runs atomic.Int32
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:         config.AppConfig{Env: "test", Port: "0"},
		Broker:      brokertest.Config(),
		Eventing:    config.EventingConfig{IdempotencyTTL: time.Hour},
		Maintenance: config.MaintenanceConfig{Interval: time.Hour, LockTTL: time.Minute, DeadLetterRetentionDays: 30},
	}
}

func newTestApp(t *testing.T, b *brokertest.Broker) *App {
	t.Helper()
	a, err := Assemble(Components{
		Service: "comm-consumer",
		Config:  testConfig(),
		Logger:  logger.Nop(),
		DB:      dbtest.Open(t, &models.DeadLetter{}),
		Redis:   newMemoryStore(),
		BrokerOptions: []broker.Option{
			broker.WithDialer(b.Dial),
			broker.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func runInBackground(t *testing.T, a *App, consumer Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, consumer) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRunConsumesOnceAndStopsOnCancel(t *testing.T) {
	b := brokertest.New()
	a := newTestApp(t, b)

	var handled atomic.Int32
	job := &countingJob{}
	cancel, done := runInBackground(t, a, Consumer{
		Queue:    testQueue,
		Bindings: []string{"student.*"},
		Handler: events.HandlerFunc(func(context.Context, events.Envelope) error {
			handled.Add(1)
			return nil
		}),
		Jobs: []maintenance.Job{job},
	})

	require.True(t, b.WaitFor(2*time.Second, func() bool { return b.HasQueue(testQueue) }))
	require.NoError(t, a.Publisher.Publish(context.Background(), enums.EventStudentCreated, map[string]any{"student_id": "s-1"}))
	require.True(t, b.WaitFor(2*time.Second, func() bool { return handled.Load() == 1 }))

	original := b.PublishedTo(string(enums.EventStudentCreated))
	require.Len(t, original, 1)
	require.NoError(t, b.Publish(original[0].Exchange, original[0].RoutingKey, original[0].Msg))
	require.True(t, b.WaitFor(2*time.Second, func() bool { return b.Depth(testQueue) == 0 }))
	assert.Equal(t, int32(1), handled.Load(), "redelivered event must not run the handler again")
	require.True(t, b.WaitFor(2*time.Second, func() bool { return job.runs.Load() >= 1 }))

	cancel()
	waitStopped(t, done)
}

func TestRunRecordsPermanentFailures(t *testing.T) {
	b := brokertest.New()
	a := newTestApp(t, b)

	cancel, done := runInBackground(t, a, Consumer{
		Queue:    testQueue,
		Bindings: []string{"student.*"},
		Handler: events.HandlerFunc(func(context.Context, events.Envelope) error {
			return events.NewNonRetryableError(errors.New("student payload rejected"))
		}),
	})

	require.True(t, b.WaitFor(2*time.Second, func() bool { return b.HasQueue(testQueue) }))
	require.NoError(t, a.Publisher.Publish(context.Background(), enums.EventStudentCreated, map[string]any{"student_id": "s-2"}))
	require.True(t, b.WaitFor(2*time.Second, func() bool { return b.Depth(broker.DeadLetterQueue(testQueue)) == 1 }))

	cancel()
	waitStopped(t, done)

	rows, err := a.DeadLetters.List(context.Background(), deadletter.ListFilter{Queue: testQueue})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.DeadLetterReasonNonRetryable, rows[0].Reason)
	assert.Equal(t, string(enums.EventStudentCreated), rows[0].EventType)
}

func TestRunRejectsInvalidBindings(t *testing.T) {
	b := brokertest.New()
	a := newTestApp(t, b)

	err := a.Run(context.Background(), Consumer{
		Queue:    testQueue,
		Bindings: []string{"student*"},
		Handler:  events.HandlerFunc(func(context.Context, events.Envelope) error { return nil }),
	})
	require.Error(t, err)
}

func TestAssembleValidatesComponents(t *testing.T) {
	_, err := Assemble(Components{Config: testConfig(), Logger: logger.Nop()})
	require.Error(t, err)

	_, err = Assemble(Components{Service: "eval-consumer", Config: testConfig(), Logger: logger.Nop()})
	require.Error(t, err)
}

func TestCloseCombinesErrors(t *testing.T) {
	b := brokertest.New()
	a := newTestApp(t, b)

	var calls int
	a.OnClose(func() error { calls++; return errors.New("redis close") })
	a.OnClose(func() error { calls++; return errors.New("db close") })

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis close")
	assert.Contains(t, err.Error(), "db close")
	assert.Equal(t, 2, calls)
	assert.NoError(t, a.Close())
}

func TestDeadLetterRetentionJobPrunesOldRows(t *testing.T) {
	b := brokertest.New()
	a := newTestApp(t, b)
	ctx := context.Background()

	require.NoError(t, a.DeadLetters.Record(ctx, models.DeadLetter{
		Queue:    testQueue,
		EventID:  "evt-old",
		Body:     []byte(`{}`),
		Reason:   enums.DeadLetterReasonPoison,
		FailedAt: time.Now().UTC().AddDate(0, 0, -90),
	}))
	require.NoError(t, a.DeadLetters.Record(ctx, models.DeadLetter{
		Queue:   testQueue,
		EventID: "evt-new",
		Body:    []byte(`{}`),
		Reason:  enums.DeadLetterReasonPoison,
	}))

	job, err := a.DeadLetterRetentionJob()
	require.NoError(t, err)
	assert.Equal(t, "dead-letter-retention", job.Name())
	require.NoError(t, job.Run(ctx))

	rows, err := a.DeadLetters.List(ctx, deadletter.ListFilter{Queue: testQueue})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "evt-new", rows[0].EventID)
}
