package config

const EnvPrefix = "CREDITLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv = "CREDITLEDGER_APP_ENV"
	EnvPort   = "CREDITLEDGER_APP_PORT"

	EnvDBDSN    = "CREDITLEDGER_DB_DSN"
	EnvDBDriver = "CREDITLEDGER_DB_DRIVER"
	EnvDBHost   = "CREDITLEDGER_DB_HOST"
	EnvDBUser   = "CREDITLEDGER_DB_USER"
	EnvDBName   = "CREDITLEDGER_DB_NAME"

	EnvRedisURL  = "CREDITLEDGER_REDIS_URL"
	EnvJWTSecret = "CREDITLEDGER_JWT_SECRET"
	EnvJWTIssuer = "CREDITLEDGER_JWT_ISSUER"

	EnvTrialGrant            = "CREDITLEDGER_CREDITS_TRIAL_GRANT"
	EnvTokenPriceCents       = "CREDITLEDGER_CREDITS_TOKEN_PRICE_CENTS"
	EnvMinTopUp              = "CREDITLEDGER_CREDITS_MIN_TOP_UP"
	EnvAutoReloadThrottle    = "CREDITLEDGER_CREDITS_AUTO_RELOAD_THROTTLE"
	EnvAutoReloadMaxFailures = "CREDITLEDGER_CREDITS_AUTO_RELOAD_MAX_FAILURES"

	EnvRetryMaxAttempts = "CREDITLEDGER_RETRY_MAX_ATTEMPTS"
	EnvPubSubLedger     = "CREDITLEDGER_PUBSUB_LEDGER_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
