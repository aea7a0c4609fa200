package config

// EnvPrefix scopes envconfig lookups; every field also carries its full name.
const EnvPrefix = "LOYALTY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "LOYALTY_APP_ENV"
	EnvPort     = "LOYALTY_APP_PORT"
	EnvLogLevel = "LOYALTY_LOG_LEVEL"

	EnvDBDSN      = "LOYALTY_DB_DSN"
	EnvDBHost     = "LOYALTY_DB_HOST"
	EnvDBUser     = "LOYALTY_DB_USER"
	EnvDBPassword = "LOYALTY_DB_PASSWORD"
	EnvDBName     = "LOYALTY_DB_NAME"

	EnvRedisURL = "LOYALTY_REDIS_URL"

	EnvGCPProjectID          = "LOYALTY_GCP_PROJECT_ID"
	EnvPubSubLoyaltyTopic    = "LOYALTY_PUBSUB_LOYALTY_TOPIC"
	EnvPubSubOrdersSub       = "LOYALTY_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvTierThresholds        = "LOYALTY_TIER_THRESHOLDS"
	EnvTxTimeout             = "LOYALTY_TX_TIMEOUT"
	EnvEarnExpiryDays        = "LOYALTY_EARN_EXPIRY_DAYS"
	EnvSweepConcurrency      = "LOYALTY_SWEEP_CONCURRENCY"
	EnvPointsPerCurrencyUnit = "LOYALTY_POINTS_PER_CURRENCY_UNIT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
