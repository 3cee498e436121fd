package config

const EnvPrefix = "STOCKHOLD"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	CreateModeTransaction = "transaction"
	CreateModeSaga        = "saga"
)

const (
	EmailTransportLog    = "log"
	EmailTransportPubSub = "pubsub"
)

const (
	EnvAppEnv    = "STOCKHOLD_APP_ENV"
	EnvPort      = "STOCKHOLD_APP_PORT"
	EnvDBDSN     = "STOCKHOLD_DB_DSN"
	EnvDBHost    = "STOCKHOLD_DB_HOST"
	EnvDBUser    = "STOCKHOLD_DB_USER"
	EnvDBName    = "STOCKHOLD_DB_NAME"
	EnvUseSQLite = "STOCKHOLD_USE_SQLITE"
	EnvRedisURL  = "STOCKHOLD_REDIS_URL"
	EnvJWTSecret = "STOCKHOLD_JWT_SECRET"
	EnvJWTIssuer = "STOCKHOLD_JWT_ISSUER"

	EnvHoldDuration = "STOCKHOLD_RESERVATION_HOLD_DURATION"
	EnvCreateMode   = "STOCKHOLD_RESERVATION_CREATE_MODE"

	EnvSweeperInterval   = "STOCKHOLD_SWEEPER_EXPIRY_INTERVAL"
	EnvSweeperNoticeHour = "STOCKHOLD_SWEEPER_NOTICE_HOUR"
	EnvSweeperTimezone   = "STOCKHOLD_SWEEPER_TIMEZONE"

	EnvNotificationsMaxRetries = "STOCKHOLD_NOTIFICATIONS_MAX_RETRIES"
)

// legacyDBEnvVars lists the required split vars in host, user, name order.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
