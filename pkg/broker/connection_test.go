package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtrack/medtrack-backend/pkg/broker"
	"github.com/medtrack/medtrack-backend/pkg/broker/brokertest"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

func TestEnsureConnectedDeclaresTopicExchange(t *testing.T) {
	b := brokertest.New()
	manager := b.Manager(t, brokertest.Config(), broker.RoleConsumer)

	conn, err := manager.EnsureConnected(context.Background())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, broker.ExchangeKindTopic, b.ExchangeKind("events.topic"))

	again, err := manager.EnsureConnected(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, b.Dials())
}

func TestEnsureConnectedRetriesWithFixedDelay(t *testing.T) {
	b := brokertest.New()
	b.FailDials(2, errors.New("connection refused"))

	var waits []time.Duration
	cfg := brokertest.Config()
	cfg.ReconnectDelay = 2 * time.Second
	manager, err := broker.NewConnectionManager(cfg, broker.RolePublisher, logger.Nop(),
		broker.WithDialer(b.Dial),
		broker.WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	_, err = manager.EnsureConnected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, b.Dials())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waits)
}

func TestEnsureConnectedGivesUpAfterAttempts(t *testing.T) {
	b := brokertest.New()
	b.FailDials(10, errors.New("connection refused"))
	manager := b.Manager(t, brokertest.Config(), broker.RolePublisher)

	_, err := manager.EnsureConnected(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
	assert.Equal(t, 3, b.Dials())
}

func TestEnsureConnectedStopsOnCancelledContext(t *testing.T) {
	b := brokertest.New()
	b.FailDials(10, nil)

	cfg := brokertest.Config()
	manager, err := broker.NewConnectionManager(cfg, broker.RoleConsumer, logger.Nop(), broker.WithDialer(b.Dial))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = manager.EnsureConnected(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Dials())
}

func TestEnsureConnectedReconnectsAfterDrop(t *testing.T) {
	b := brokertest.New()
	manager := b.Manager(t, brokertest.Config(), broker.RoleConsumer)

	first, err := manager.EnsureConnected(context.Background())
	require.NoError(t, err)

	b.DropConnections()
	assert.True(t, first.IsClosed())

	second, err := manager.EnsureConnected(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, b.Dials())
	require.NoError(t, manager.Ping(context.Background()))
}

func TestNewConnectionManagerValidation(t *testing.T) {
	cfg := brokertest.Config()

	_, err := broker.NewConnectionManager(cfg, "", logger.Nop())
	assert.Error(t, err)

	cfg.URL = ""
	_, err = broker.NewConnectionManager(cfg, broker.RoleConsumer, logger.Nop())
	assert.Error(t, err)
}
