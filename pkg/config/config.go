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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Credits      CreditsConfig
	Retry        RetryConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Credits.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CREDITLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CREDITLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITLEDGER_DB_DSN"`
	Driver string `envconfig:"CREDITLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"CREDITLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is sqlite (local dev and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CREDITLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CREDITLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CREDITLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CREDITLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CREDITLEDGER_AUTO_MIGRATE" default:"false"`
	AutoReload  bool `envconfig:"CREDITLEDGER_FEATURE_AUTO_RELOAD" default:"true"`
}

// CreditsConfig holds the business knobs of the ledger.
type CreditsConfig struct {
	TrialGrant            int           `envconfig:"CREDITLEDGER_CREDITS_TRIAL_GRANT" default:"3"`
	TokenPriceCents       int64         `envconfig:"CREDITLEDGER_CREDITS_TOKEN_PRICE_CENTS" default:"10"`
	Currency              string        `envconfig:"CREDITLEDGER_CREDITS_CURRENCY" default:"usd"`
	MinTopUp              int64         `envconfig:"CREDITLEDGER_CREDITS_MIN_TOP_UP" default:"10"`
	MaxPurchase           int64         `envconfig:"CREDITLEDGER_CREDITS_MAX_PURCHASE" default:"10000"`
	AutoReloadThrottle    time.Duration `envconfig:"CREDITLEDGER_CREDITS_AUTO_RELOAD_THROTTLE" default:"60s"`
	AutoReloadMaxFailures int           `envconfig:"CREDITLEDGER_CREDITS_AUTO_RELOAD_MAX_FAILURES" default:"3"`
	SubscriptionGrace     time.Duration `envconfig:"CREDITLEDGER_CREDITS_SUBSCRIPTION_GRACE" default:"72h"`
}

func (c CreditsConfig) validate() error {
	switch {
	case c.TrialGrant < 0:
		return fmt.Errorf("%s must be >= 0", EnvTrialGrant)
	case c.TokenPriceCents <= 0:
		return fmt.Errorf("%s must be > 0", EnvTokenPriceCents)
	case c.MinTopUp < 1:
		return fmt.Errorf("%s must be >= 1", EnvMinTopUp)
	case c.AutoReloadMaxFailures < 1:
		return fmt.Errorf("%s must be >= 1", EnvAutoReloadMaxFailures)
	}
	return nil
}

// RetryConfig describes the shared retry policy used for gateway calls and contended spends.
type RetryConfig struct {
	MaxAttempts     int           `envconfig:"CREDITLEDGER_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `envconfig:"CREDITLEDGER_RETRY_INITIAL_INTERVAL" default:"100ms"`
	MaxInterval     time.Duration `envconfig:"CREDITLEDGER_RETRY_MAX_INTERVAL" default:"5s"`
	Multiplier      float64       `envconfig:"CREDITLEDGER_RETRY_MULTIPLIER" default:"2"`
}

type StripeConfig struct {
	APIKey string `envconfig:"CREDITLEDGER_STRIPE_API_KEY"`
	Secret string `envconfig:"CREDITLEDGER_STRIPE_SECRET"`
	Env    string `envconfig:"CREDITLEDGER_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CREDITLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CREDITLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CREDITLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"CREDITLEDGER_PUBSUB_LEDGER_TOPIC" default:"credit-ledger-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CREDITLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CREDITLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CREDITLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"CREDITLEDGER_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimit       int64         `envconfig:"CREDITLEDGER_HTTP_RATE_LIMIT" default:"120"`
	RateLimitWindow time.Duration `envconfig:"CREDITLEDGER_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	SpendRateLimit  int64         `envconfig:"CREDITLEDGER_HTTP_SPEND_RATE_LIMIT" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CREDITLEDGER_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"CREDITLEDGER_CRON_LOCK_TTL" default:"4m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DriverSQLite)
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
