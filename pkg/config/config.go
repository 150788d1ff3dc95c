package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Settlement   SettlementConfig
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
	Env          string `envconfig:"VITAWELL_APP_ENV" required:"true"`
	Port         string `envconfig:"VITAWELL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"VITAWELL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VITAWELL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VITAWELL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"VITAWELL_DB_DSN"`

	Host     string `envconfig:"VITAWELL_DB_HOST"`
	Port     int    `envconfig:"VITAWELL_DB_PORT" default:"5432"`
	User     string `envconfig:"VITAWELL_DB_USER"`
	Password string `envconfig:"VITAWELL_DB_PASSWORD"`
	Name     string `envconfig:"VITAWELL_DB_NAME"`
	SSLMode  string `envconfig:"VITAWELL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VITAWELL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VITAWELL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VITAWELL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VITAWELL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	if db.Host == "" {
		missing = append(missing, "VITAWELL_DB_HOST")
	}
	if db.User == "" {
		missing = append(missing, "VITAWELL_DB_USER")
	}
	if db.Name == "" {
		missing = append(missing, "VITAWELL_DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("database config incomplete: set VITAWELL_DB_DSN or %s", strings.Join(missing, ", "))
	}

	db.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(db.User),
		url.QueryEscape(db.Password),
		db.Host,
		db.Port,
		db.Name,
		db.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"VITAWELL_REDIS_URL"`
	Address      string        `envconfig:"VITAWELL_REDIS_ADDR"`
	Password     string        `envconfig:"VITAWELL_REDIS_PASSWORD"`
	DB           int           `envconfig:"VITAWELL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VITAWELL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VITAWELL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VITAWELL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VITAWELL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VITAWELL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PubSubConfig struct {
	ProjectID   string `envconfig:"VITAWELL_GCP_PROJECT_ID"`
	DomainTopic string `envconfig:"VITAWELL_PUBSUB_DOMAIN_TOPIC" default:"vitawell-domain-events"`
}

type OutboxConfig struct {
	BatchSize    int           `envconfig:"VITAWELL_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"VITAWELL_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"VITAWELL_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"VITAWELL_CRON_INTERVAL" default:"24h"`
}

// SettlementConfig is the read-only distribution snapshot consumed by the
// settlement orchestrator. Percentages are decimal strings ("5" means 5%).
type SettlementConfig struct {
	CashbackPercent       string `envconfig:"VITAWELL_SETTLEMENT_CASHBACK_PERCENT" default:"5"`
	NetworkFundPercent    string `envconfig:"VITAWELL_SETTLEMENT_NETWORK_FUND_PERCENT" default:"2"`
	ReferralLevelPercents string `envconfig:"VITAWELL_SETTLEMENT_REFERRAL_PERCENTS" default:"3,2,1"`
	PointRate             string `envconfig:"VITAWELL_SETTLEMENT_POINT_RATE" default:"0.5"`
	RoundingMode          string `envconfig:"VITAWELL_SETTLEMENT_ROUNDING_MODE" default:"half_up"`
	Version               string `envconfig:"VITAWELL_SETTLEMENT_CONFIG_VERSION" default:"v1"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VITAWELL_AUTO_MIGRATE" default:"false"`
}
