package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "MEDTRACK"

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "MEDTRACK_APP_ENV"
	EnvPort     = "MEDTRACK_APP_PORT"
	EnvLogLevel = "MEDTRACK_LOG_LEVEL"

	EnvDBDSN  = "MEDTRACK_DB_DSN"
	EnvDBHost = "MEDTRACK_DB_HOST"
	EnvDBUser = "MEDTRACK_DB_USER"
	EnvDBName = "MEDTRACK_DB_NAME"

	EnvRedisURL = "MEDTRACK_REDIS_URL"

	EnvBrokerURL             = "MEDTRACK_BROKER_URL"
	EnvBrokerExchange        = "MEDTRACK_BROKER_EXCHANGE"
	EnvBrokerConnectAttempts = "MEDTRACK_BROKER_CONNECT_ATTEMPTS"
	EnvBrokerReconnectDelay  = "MEDTRACK_BROKER_RECONNECT_DELAY"
	EnvBrokerPrefetch        = "MEDTRACK_BROKER_PREFETCH"
	EnvBrokerMaxRedeliveries = "MEDTRACK_BROKER_MAX_REDELIVERIES"

	EnvProfileServiceURL = "MEDTRACK_PROFILE_SERVICE_URL"
	EnvServiceJWTSecret  = "MEDTRACK_SERVICE_JWT_SECRET"

	EnvUseSQLite = "MEDTRACK_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
