package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Outbox       OutboxConfig
	Notify       NotifyConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite && cfg.App.IsProd() {
		return nil, fmt.Errorf("%s is not allowed when %s=%s", EnvUseSQLite, EnvAppEnv, AppEnvProd)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EVPOOL_APP_ENV" required:"true"`
	Port         string `envconfig:"EVPOOL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"EVPOOL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVPOOL_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow list for the operator UI.
	CORSOrigins []string `envconfig:"EVPOOL_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"EVPOOL_DB_DSN"`
	SQLitePath string `envconfig:"EVPOOL_DB_SQLITE_PATH" default:"evpool.db"`

	LegacyHost     string `envconfig:"EVPOOL_DB_HOST"`
	LegacyPort     int    `envconfig:"EVPOOL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVPOOL_DB_USER"`
	LegacyPassword string `envconfig:"EVPOOL_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVPOOL_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVPOOL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVPOOL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVPOOL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVPOOL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVPOOL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVPOOL_REDIS_URL"`
	Address      string        `envconfig:"EVPOOL_REDIS_ADDR"`
	Password     string        `envconfig:"EVPOOL_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVPOOL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVPOOL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVPOOL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVPOOL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVPOOL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVPOOL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// RateLimitConfig caps mutating requests per actor, or per client IP for
// anonymous calls, within WriteLimitWindow. A zero limit disables it.
type RateLimitConfig struct {
	WriteLimit       int           `envconfig:"EVPOOL_RATE_LIMIT_WRITES" default:"120"`
	WriteLimitWindow time.Duration `envconfig:"EVPOOL_RATE_LIMIT_WINDOW" default:"1m"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"EVPOOL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"EVPOOL_AUTO_MIGRATE" default:"false"`
}

// LedgerConfig holds the money rules of the pool.
type LedgerConfig struct {
	// CommissionRate is the company share of a sale profit; investors split the rest.
	CommissionRate decimal.Decimal `envconfig:"EVPOOL_LEDGER_COMMISSION_RATE" default:"0.5"`
	// MinIncomeCents suppresses dust income payments below this amount.
	MinIncomeCents int64 `envconfig:"EVPOOL_LEDGER_MIN_INCOME_CENTS" default:"1"`
	// CompanyUserID pins the company account; when empty the user with
	// role company is used (oldest first).
	CompanyUserID string `envconfig:"EVPOOL_LEDGER_COMPANY_USER_ID"`
}

// CompanyUser parses CompanyUserID, returning uuid.Nil when unset.
func (l LedgerConfig) CompanyUser() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(l.CompanyUserID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (l LedgerConfig) validate() error {
	if l.CommissionRate.IsNegative() || l.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0, 1], got %s", EnvLedgerCommissionRate, l.CommissionRate)
	}
	if l.MinIncomeCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvLedgerMinIncomeCents)
	}
	if strings.TrimSpace(l.CompanyUserID) != "" && l.CompanyUser() == uuid.Nil {
		return fmt.Errorf("%s is not a valid uuid", EnvLedgerCompanyUserID)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EVPOOL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EVPOOL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EVPOOL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// NotifyConfig names the Redis channels domain events are published to.
type NotifyConfig struct {
	LedgerChannel  string `envconfig:"EVPOOL_NOTIFY_LEDGER_CHANNEL" default:"evpool.ledger"`
	VehicleChannel string `envconfig:"EVPOOL_NOTIFY_VEHICLE_CHANNEL" default:"evpool.vehicles"`
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
