package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Email         EmailConfig
	Reservations  ReservationsConfig
	Sweeper       SweeperConfig
	Notifications NotificationsConfig
	HTTP          HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// Report every invalid section at once rather than one per restart.
	if err := multierr.Combine(
		cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite),
		cfg.Reservations.validate(),
		cfg.Sweeper.validate(),
		cfg.Notifications.validate(),
	); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKHOLD_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKHOLD_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKHOLD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKHOLD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOCKHOLD_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOCKHOLD_DB_DSN"`
	Driver string `envconfig:"STOCKHOLD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOCKHOLD_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKHOLD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKHOLD_DB_USER"`
	LegacyPassword string `envconfig:"STOCKHOLD_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKHOLD_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKHOLD_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"STOCKHOLD_SQLITE_PATH" default:"stockhold.db"`

	MaxOpenConns    int           `envconfig:"STOCKHOLD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKHOLD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKHOLD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKHOLD_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STOCKHOLD_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKHOLD_REDIS_URL"`
	Address      string        `envconfig:"STOCKHOLD_REDIS_ADDR"`
	Password     string        `envconfig:"STOCKHOLD_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKHOLD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKHOLD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKHOLD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKHOLD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKHOLD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKHOLD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// JWTConfig holds the verification settings for tokens minted by the identity service.
type JWTConfig struct {
	Secret   string        `envconfig:"STOCKHOLD_JWT_SECRET" required:"true"`
	Issuer   string        `envconfig:"STOCKHOLD_JWT_ISSUER" required:"true"`
	Audience string        `envconfig:"STOCKHOLD_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"STOCKHOLD_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOCKHOLD_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOCKHOLD_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOCKHOLD_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	EmailTopic string `envconfig:"STOCKHOLD_PUBSUB_EMAIL_TOPIC" default:"stockhold-email-requests"`
}

type EmailConfig struct {
	Transport   string `envconfig:"STOCKHOLD_EMAIL_TRANSPORT" default:"log"`
	FromAddress string `envconfig:"STOCKHOLD_EMAIL_FROM" default:"no-reply@stockhold.local"`
}

type ReservationsConfig struct {
	HoldDuration time.Duration `envconfig:"STOCKHOLD_RESERVATION_HOLD_DURATION" default:"24h"`
	CreateMode   string        `envconfig:"STOCKHOLD_RESERVATION_CREATE_MODE" default:"transaction"`
}

func (r ReservationsConfig) validate() error {
	if r.HoldDuration <= 0 {
		return fmt.Errorf("%s must be positive", EnvHoldDuration)
	}
	switch strings.ToLower(strings.TrimSpace(r.CreateMode)) {
	case CreateModeTransaction, CreateModeSaga:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvCreateMode, CreateModeTransaction, CreateModeSaga, r.CreateMode)
	}
}

type SweeperConfig struct {
	ExpiryInterval        time.Duration `envconfig:"STOCKHOLD_SWEEPER_EXPIRY_INTERVAL" default:"5m"`
	ExpiredNoticeLookback time.Duration `envconfig:"STOCKHOLD_SWEEPER_EXPIRED_LOOKBACK" default:"1h"`
	NoticeHour            int           `envconfig:"STOCKHOLD_SWEEPER_NOTICE_HOUR" default:"9"`
	Timezone              string        `envconfig:"STOCKHOLD_SWEEPER_TIMEZONE" default:"Local"`
	LockTTL               time.Duration `envconfig:"STOCKHOLD_SWEEPER_LOCK_TTL" default:"10m"`
}

// Location resolves the configured timezone used for calendar-day windows.
func (s SweeperConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func (s SweeperConfig) validate() error {
	if s.ExpiryInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvSweeperInterval)
	}
	if s.NoticeHour < 0 || s.NoticeHour > 23 {
		return fmt.Errorf("%s must be between 0 and 23, got %d", EnvSweeperNoticeHour, s.NoticeHour)
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("%s: %w", EnvSweeperTimezone, err)
	}
	return nil
}

type HTTPConfig struct {
	CORSOrigins         []string      `envconfig:"STOCKHOLD_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout     time.Duration `envconfig:"STOCKHOLD_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	RateLimitWindow     time.Duration `envconfig:"STOCKHOLD_RATE_LIMIT_WINDOW" default:"1m"`
	ReservationUserRate int           `envconfig:"STOCKHOLD_RATE_LIMIT_RESERVATIONS_USER" default:"10"`
	ReservationIPRate   int           `envconfig:"STOCKHOLD_RATE_LIMIT_RESERVATIONS_IP" default:"30"`
}

type NotificationsConfig struct {
	MaxRetries     int           `envconfig:"STOCKHOLD_NOTIFICATIONS_MAX_RETRIES" default:"3"`
	BatchSize      int           `envconfig:"STOCKHOLD_NOTIFICATIONS_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"STOCKHOLD_NOTIFICATIONS_POLL_MS" default:"5000"`
	RetryDelay     time.Duration `envconfig:"STOCKHOLD_NOTIFICATIONS_RETRY_DELAY" default:"1m"`
	RetentionDays  int           `envconfig:"STOCKHOLD_NOTIFICATIONS_RETENTION_DAYS" default:"30"`
}

func (n NotificationsConfig) validate() error {
	var err error
	if n.MaxRetries < 1 {
		err = multierr.Append(err, errors.New("STOCKHOLD_NOTIFICATIONS_MAX_RETRIES must be at least 1"))
	}
	if n.BatchSize < 1 {
		err = multierr.Append(err, errors.New("STOCKHOLD_NOTIFICATIONS_BATCH_SIZE must be at least 1"))
	}
	if n.RetentionDays < 1 {
		err = multierr.Append(err, errors.New("STOCKHOLD_NOTIFICATIONS_RETENTION_DAYS must be at least 1"))
	}
	return err
}

// ensureDSN fills DSN from the split STOCKHOLD_DB_* vars when no DSN was
// given. SQLite mode needs neither.
func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}
	if missing := db.missingLegacyVars(); len(missing) > 0 {
		return fmt.Errorf("%s is unset and the split connection vars are incomplete (missing %s)",
			EnvDBDSN, strings.Join(missing, ", "))
	}
	db.DSN = db.legacyURL().String()
	return nil
}

func (db *DBConfig) missingLegacyVars() []string {
	var missing []string
	for i, v := range []string{db.LegacyHost, db.LegacyUser, db.LegacyName} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, legacyDBEnvVars[i])
		}
	}
	return missing
}

func (db *DBConfig) legacyURL() *url.URL {
	dsn := &url.URL{
		Scheme: "postgres",
		User:   url.User(db.LegacyUser),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   "/" + strings.TrimPrefix(db.LegacyName, "/"),
	}
	if db.LegacyPassword != "" {
		dsn.User = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	return dsn
}
