package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ESCROW"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv         = "ESCROW_APP_ENV"
	EnvPort           = "ESCROW_APP_PORT"
	EnvDBDSN          = "ESCROW_DB_DSN"
	EnvDBHost         = "ESCROW_DB_HOST"
	EnvDBUser         = "ESCROW_DB_USER"
	EnvDBName         = "ESCROW_DB_NAME"
	EnvRedisURL       = "ESCROW_REDIS_URL"
	EnvJWTSecret      = "ESCROW_JWT_SECRET"
	EnvJWTIssuer      = "ESCROW_JWT_ISSUER"
	EnvJWTExpMins     = "ESCROW_JWT_EXPIRATION_MINUTES"
	EnvGatewayBaseURL = "ESCROW_GATEWAY_BASE_URL"
	EnvGatewayAppID   = "ESCROW_GATEWAY_APP_ID"
	EnvGatewaySecret  = "ESCROW_GATEWAY_SECRET_KEY"
	EnvWebhookSecret  = "ESCROW_GATEWAY_WEBHOOK_SECRET"
	EnvCronSecret     = "ESCROW_CRON_SHARED_SECRET"
	EnvPubSubJobTopic = "ESCROW_PUBSUB_JOB_EVENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	Escrow       EscrowConfig
	OTPRateLimit OTPRateLimitConfig
	Eventing     EventingConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ESCROW_DB_USER"`
	LegacyPassword string `envconfig:"ESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ESCROW_JWT_EXPIRATION_MINUTES" required:"true"`
}

// GatewayConfig holds credentials for the payment gateway REST API.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"ESCROW_GATEWAY_BASE_URL" required:"true"`
	AppID         string        `envconfig:"ESCROW_GATEWAY_APP_ID" required:"true"`
	SecretKey     string        `envconfig:"ESCROW_GATEWAY_SECRET_KEY" required:"true"`
	WebhookSecret string        `envconfig:"ESCROW_GATEWAY_WEBHOOK_SECRET" required:"true"`
	Timeout       time.Duration `envconfig:"ESCROW_GATEWAY_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"ESCROW_GATEWAY_MAX_RETRIES" default:"3"`
}

// EscrowConfig centralizes settlement policy. Values are tunable per
// deployment without code changes.
type EscrowConfig struct {
	JobGiverFeePercent     string `envconfig:"ESCROW_FEE_JOB_GIVER_PERCENT" default:"2.5"`
	CommissionPercent      string `envconfig:"ESCROW_FEE_COMMISSION_PERCENT" default:"10"`
	CancellationFeePercent string `envconfig:"ESCROW_FEE_CANCELLATION_PERCENT" default:"2.5"`

	AutoSettleGraceDays     int `envconfig:"ESCROW_AUTO_SETTLE_GRACE_DAYS" default:"5"`
	AcceptanceDeadlineHours int `envconfig:"ESCROW_ACCEPTANCE_DEADLINE_HOURS" default:"24"`
	FundingDeadlineHours    int `envconfig:"ESCROW_FUNDING_DEADLINE_HOURS" default:"48"`
}

func (e EscrowConfig) AcceptanceDeadline() time.Duration {
	return time.Duration(e.AcceptanceDeadlineHours) * time.Hour
}

func (e EscrowConfig) FundingDeadline() time.Duration {
	return time.Duration(e.FundingDeadlineHours) * time.Hour
}

type OTPRateLimitConfig struct {
	VerifyWindow   time.Duration `envconfig:"ESCROW_OTP_RATE_LIMIT_WINDOW" default:"5m"`
	VerifyAttempts int           `envconfig:"ESCROW_OTP_RATE_LIMIT_ATTEMPTS" default:"5"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"ESCROW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookReplayTTL     time.Duration `envconfig:"ESCROW_WEBHOOK_REPLAY_TTL" default:"72h"`
}

type PubSubConfig struct {
	ProjectID             string `envconfig:"ESCROW_PUBSUB_PROJECT_ID"`
	JobEventsTopic        string `envconfig:"ESCROW_PUBSUB_JOB_EVENTS_TOPIC" default:"escrow-job-events"`
	JobEventsSubscription string `envconfig:"ESCROW_PUBSUB_JOB_EVENTS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	SharedSecret       string        `envconfig:"ESCROW_CRON_SHARED_SECRET"`
	AutoSettleInterval time.Duration `envconfig:"ESCROW_CRON_AUTO_SETTLE_INTERVAL" default:"1h"`
	OfferSweepInterval time.Duration `envconfig:"ESCROW_CRON_OFFER_SWEEP_INTERVAL" default:"10m"`
	LockTTL            time.Duration `envconfig:"ESCROW_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
