package config

const (
	EnvPrefix = "EVPOOL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "EVPOOL_APP_ENV"
	EnvPort     = "EVPOOL_APP_PORT"
	EnvLogLevel = "EVPOOL_LOG_LEVEL"

	EnvDBDSN  = "EVPOOL_DB_DSN"
	EnvDBHost = "EVPOOL_DB_HOST"
	EnvDBPort = "EVPOOL_DB_PORT"
	EnvDBUser = "EVPOOL_DB_USER"
	EnvDBPass = "EVPOOL_DB_PASSWORD"
	EnvDBName = "EVPOOL_DB_NAME"

	EnvRedisURL  = "EVPOOL_REDIS_URL"
	EnvUseSQLite = "EVPOOL_USE_SQLITE"

	EnvLedgerCommissionRate = "EVPOOL_LEDGER_COMMISSION_RATE"
	EnvLedgerMinIncomeCents = "EVPOOL_LEDGER_MIN_INCOME_CENTS"
	EnvLedgerCompanyUserID  = "EVPOOL_LEDGER_COMPANY_USER_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
