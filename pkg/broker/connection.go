// Package broker carries events over an AMQP topic exchange: connection management,
// publishing and the per-service consumer loop.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"github.com/medtrack/medtrack-backend/pkg/config"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Connection roles; each process role owns its own manager and connection.
const (
	RolePublisher = "publisher"
	RoleConsumer  = "consumer"
)

// ConnectionManager owns one lazily (re)established broker connection and
// declares the shared topic exchange on every fresh connection.
type ConnectionManager struct {
	cfg     config.BrokerConfig
	role    string
	appName string
	logg    *logger.Logger
	dial    Dialer
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	conn Connection
}

// Option customises a ConnectionManager.
type Option func(*ConnectionManager)

// WithDialer replaces the AMQP dialer, typically with an in-memory broker.
func WithDialer(dial Dialer) Option {
	return func(m *ConnectionManager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithSleep replaces the wait between connection attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *ConnectionManager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithAppName labels the connection in the broker management UI.
func WithAppName(name string) Option {
	return func(m *ConnectionManager) {
		m.appName = name
	}
}

func NewConnectionManager(cfg config.BrokerConfig, role string, logg *logger.Logger, opts ...Option) (*ConnectionManager, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("broker exchange is required")
	}
	if role == "" {
		return nil, errors.New("connection role is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}
	m := &ConnectionManager{
		cfg:   cfg,
		role:  role,
		logg:  logg,
		dial:  DialAMQP,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the broker settings the manager was built with.
func (m *ConnectionManager) Config() config.BrokerConfig {
	return m.cfg
}

// Exchange is the topic exchange every publish and binding targets.
func (m *ConnectionManager) Exchange() string {
	return m.cfg.Exchange
}

// Role reports whether this manager serves publishing or consuming.
func (m *ConnectionManager) Role() string {
	return m.role
}

// EnsureConnected returns the live connection, dialing with a fixed delay between
// attempts when there is none. After ConnectAttempts failures it returns a dependency error.
func (m *ConnectionManager) EnsureConnected(ctx context.Context) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}
	m.conn = nil

	ctx = m.logg.WithFields(ctx, map[string]any{
		"role":     m.role,
		"broker":   redactURL(m.cfg.URL),
		"exchange": m.cfg.Exchange,
	})

	var lastErr error
	for attempt := 1; attempt <= m.cfg.ConnectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := m.connect()
		if err == nil {
			m.conn = conn
			m.logg.Info(ctx, "broker connection established")
			return conn, nil
		}
		lastErr = err
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "broker connection attempt failed")

		if attempt < m.cfg.ConnectAttempts {
			if err := m.sleep(ctx, m.cfg.ReconnectDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr,
		fmt.Sprintf("broker unreachable after %d attempts", m.cfg.ConnectAttempts))
}

func (m *ConnectionManager) connect() (Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(m.connectionName())

	conn, err := m.dial(m.cfg.URL, amqp.Config{
		Heartbeat:  m.cfg.Heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	if err := ch.ExchangeDeclare(m.cfg.Exchange, ExchangeKindTopic); err != nil {
		return nil, multierr.Combine(fmt.Errorf("declare exchange %s: %w", m.cfg.Exchange, err), ch.Close(), conn.Close())
	}
	if err := ch.Close(); err != nil {
		return nil, multierr.Append(fmt.Errorf("close setup channel: %w", err), conn.Close())
	}
	return conn, nil
}

// Channel opens a new channel on the live connection, reconnecting first when needed.
func (m *ConnectionManager) Channel(ctx context.Context) (Channel, error) {
	conn, err := m.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	// The connection may have died between the check and the open.
	m.invalidate(conn)
	conn, err = m.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}
	ch, err = conn.Channel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open broker channel")
	}
	return ch, nil
}

// Ping fails when no healthy connection can be obtained.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	_, err := m.EnsureConnected(ctx)
	return err
}

func (m *ConnectionManager) invalidate(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		_ = conn.Close()
		m.conn = nil
	}
}

// Close shuts the connection down; channels opened from it close with it.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	var err error
	if !m.conn.IsClosed() {
		err = multierr.Append(err, m.conn.Close())
	}
	m.conn = nil
	return err
}

func (m *ConnectionManager) connectionName() string {
	if m.appName == "" {
		return m.role
	}
	return m.appName + "/" + m.role
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
