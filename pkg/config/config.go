package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Broker       BrokerConfig
	Eventing     EventingConfig
	Services     ServicesConfig
	ServiceAuth  ServiceAuthConfig
	Maintenance  MaintenanceConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Broker.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDTRACK_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDTRACK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MEDTRACK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDTRACK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MEDTRACK_DB_DSN"`
	Driver string `envconfig:"MEDTRACK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDTRACK_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDTRACK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDTRACK_DB_USER"`
	LegacyPassword string `envconfig:"MEDTRACK_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDTRACK_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDTRACK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDTRACK_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"MEDTRACK_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"MEDTRACK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDTRACK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDTRACK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDTRACK_REDIS_ADDR"`
	Password     string        `envconfig:"MEDTRACK_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDTRACK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDTRACK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDTRACK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDTRACK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDTRACK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDTRACK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// BrokerConfig describes the AMQP connection and the consumer retry policy shared by every service.
type BrokerConfig struct {
	URL             string        `envconfig:"MEDTRACK_BROKER_URL" required:"true"`
	Exchange        string        `envconfig:"MEDTRACK_BROKER_EXCHANGE" default:"events.topic"`
	ConnectAttempts int           `envconfig:"MEDTRACK_BROKER_CONNECT_ATTEMPTS" default:"3"`
	ReconnectDelay  time.Duration `envconfig:"MEDTRACK_BROKER_RECONNECT_DELAY" default:"2s"`
	Heartbeat       time.Duration `envconfig:"MEDTRACK_BROKER_HEARTBEAT" default:"10s"`
	Prefetch        int           `envconfig:"MEDTRACK_BROKER_PREFETCH" default:"1"`
	MaxRedeliveries int           `envconfig:"MEDTRACK_BROKER_MAX_REDELIVERIES" default:"5"`
	HandlerTimeout  time.Duration `envconfig:"MEDTRACK_BROKER_HANDLER_TIMEOUT" default:"0s"`
}

func (b BrokerConfig) validate() error {
	if strings.TrimSpace(b.Exchange) == "" {
		return fmt.Errorf("%s must not be empty", EnvBrokerExchange)
	}
	if b.ConnectAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvBrokerConnectAttempts)
	}
	if b.Prefetch <= 0 {
		return fmt.Errorf("%s must be positive", EnvBrokerPrefetch)
	}
	if b.MaxRedeliveries < 0 {
		return fmt.Errorf("%s must not be negative", EnvBrokerMaxRedeliveries)
	}
	return nil
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"MEDTRACK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// ServicesConfig lists the sibling services reachable for best-effort lookups.
type ServicesConfig struct {
	ProfileBaseURL string        `envconfig:"MEDTRACK_PROFILE_SERVICE_URL" default:"http://profile-service:8000"`
	RequestTimeout time.Duration `envconfig:"MEDTRACK_SERVICE_REQUEST_TIMEOUT" default:"5s"`
}

type ServiceAuthConfig struct {
	Secret     string        `envconfig:"MEDTRACK_SERVICE_JWT_SECRET"`
	Issuer     string        `envconfig:"MEDTRACK_SERVICE_JWT_ISSUER" default:"medtrack"`
	TokenTTL   time.Duration `envconfig:"MEDTRACK_SERVICE_JWT_TTL" default:"5m"`
	TokenScope string        `envconfig:"MEDTRACK_SERVICE_JWT_SCOPE" default:"internal"`
}

// MaintenanceConfig drives the periodic jobs a consumer process runs beside its queue.
type MaintenanceConfig struct {
	Interval                time.Duration `envconfig:"MEDTRACK_MAINTENANCE_INTERVAL" default:"5m"`
	LockTTL                 time.Duration `envconfig:"MEDTRACK_MAINTENANCE_LOCK_TTL" default:"4m"`
	DeadLetterRetentionDays int           `envconfig:"MEDTRACK_DEAD_LETTER_RETENTION_DAYS" default:"30"`
	NotificationRetryAfter  time.Duration `envconfig:"MEDTRACK_NOTIFICATION_RETRY_AFTER" default:"2m"`
	NotificationMaxAttempts int           `envconfig:"MEDTRACK_NOTIFICATION_MAX_ATTEMPTS" default:"5"`
	NotificationBatchSize   int           `envconfig:"MEDTRACK_NOTIFICATION_BATCH_SIZE" default:"50"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDTRACK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDTRACK_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file::memory:?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
