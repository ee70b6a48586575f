package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration shared by the Lambdas.
type Config struct {
	App       AppConfig
	Log       LogConfig
	Shopee    ShopeeConfig
	Sync      SyncConfig
	Retry     RetryConfig
	Lease     LeaseConfig
	Store     StoreConfig
	DynamoDB  DynamoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Security  SecurityConfig
	Alerts    AlertsConfig
	ETL       ETLConfig
	Athena    AthenaConfig
	Metrics   MetricsConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// ShopeeConfig holds the partner credentials. PartnerKeyParam names an SSM
// SecureString that replaces PartnerKey when set.
type ShopeeConfig struct {
	PartnerID       int64
	PartnerKey      string
	PartnerKeyParam string
	BaseURL         string
	Timeout         time.Duration
}

// SyncConfig holds the pacing knobs of one sync run.
type SyncConfig struct {
	Lookback        time.Duration
	SliceSpan       time.Duration
	PageSize        int
	DetailBatchSize int
	RequestDelay    time.Duration
	RefreshMargin   time.Duration
	Timezone        string
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// LeaseConfig selects the per-(user, platform) lock backend: dynamodb, redis or memory.
type LeaseConfig struct {
	Backend string
	TTL     time.Duration
}

// StoreConfig selects the persistence driver for integrations and daily metrics.
type StoreConfig struct {
	Driver string // dynamodb, postgres
}

type DynamoDBConfig struct {
	IntegrationsTable string
	DailyMetricsTable string
	LocksTable        string
	UsersTable        string
}

type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the lib/pq style connection string used by gorm's postgres driver.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SecurityConfig holds the credential encryption key (base64, 32 bytes) or the
// SSM parameter holding it.
type SecurityConfig struct {
	TokenKeyB64   string
	TokenKeyParam string
}

type AlertsConfig struct {
	Enabled bool
}

type ETLConfig struct {
	Bucket   string
	Prefix   string
	DaysBack int
}

// AthenaConfig names the analytics table. Partitions selects how new export
// partitions become visible: "glue" registers them in the catalog, "msck" runs
// MSCK REPAIR TABLE through Athena.
type AthenaConfig struct {
	Database   string
	Table      string
	Workgroup  string
	Output     string
	Partitions string
}

// MetricsConfig enables run metrics. Metrics are pushed to PushgatewayURL at the
// end of each invocation when it is set.
type MetricsConfig struct {
	Namespace      string
	PushgatewayURL string
	Job            string
}

type SchedulerConfig struct {
	Concurrency int
	Timeout     time.Duration
}

// envBindings keeps the Lambda environment variable names working alongside
// the MARKETSYNC_ prefixed keys.
var envBindings = map[string]string{
	"app.env":                      "STAGE",
	"shopee.partner_id":            "SHOPEE_PARTNER_ID",
	"shopee.partner_key":           "SHOPEE_PARTNER_KEY",
	"shopee.partner_key_param":     "SHOPEE_PARTNER_KEY_PARAM",
	"dynamodb.integrations_table":  "INTEGRATIONS_TABLE",
	"dynamodb.daily_metrics_table": "DAILY_METRICS_TABLE",
	"dynamodb.locks_table":         "SYNC_LOCKS_TABLE",
	"dynamodb.users_table":         "USERS_TABLE",
	"security.token_key_b64":       "TOKEN_ENC_KEY_B64",
	"security.token_key_param":     "TOKEN_ENC_KEY_PARAM",
	"etl.bucket":                   "ANALYTICS_BUCKET",
	"etl.prefix":                   "DAILY_METRICS_PREFIX",
	"etl.days_back":                "ETL_DAYS_BACK",
	"athena.database":              "ATHENA_DATABASE",
	"athena.table":                 "ATHENA_TABLE",
	"athena.workgroup":             "ATHENA_WORKGROUP",
	"athena.output":                "ATHENA_OUTPUT",
	"athena.partitions":            "ATHENA_PARTITIONS",
}

// Load loads configuration from an optional .env file, an optional config.toml
// and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with MARKETSYNC_ prefix (e.g., MARKETSYNC_SYNC_LOOKBACK)
// 2. Lambda environment names (e.g., INTEGRATIONS_TABLE)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	// Local runs only; Lambda has no .env file.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/var/task")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, "MARKETSYNC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Shopee: ShopeeConfig{
			PartnerID:       v.GetInt64("shopee.partner_id"),
			PartnerKey:      v.GetString("shopee.partner_key"),
			PartnerKeyParam: v.GetString("shopee.partner_key_param"),
			BaseURL:         v.GetString("shopee.base_url"),
			Timeout:         v.GetDuration("shopee.timeout"),
		},
		Sync: SyncConfig{
			Lookback:        v.GetDuration("sync.lookback"),
			SliceSpan:       v.GetDuration("sync.slice_span"),
			PageSize:        v.GetInt("sync.page_size"),
			DetailBatchSize: v.GetInt("sync.detail_batch_size"),
			RequestDelay:    v.GetDuration("sync.request_delay"),
			RefreshMargin:   v.GetDuration("sync.refresh_margin"),
			Timezone:        v.GetString("sync.timezone"),
		},
		Retry: RetryConfig{
			MaxAttempts:     v.GetInt("retry.max_attempts"),
			InitialInterval: v.GetDuration("retry.initial_interval"),
			MaxInterval:     v.GetDuration("retry.max_interval"),
			Multiplier:      v.GetFloat64("retry.multiplier"),
			Jitter:          v.GetFloat64("retry.jitter"),
		},
		Lease: LeaseConfig{
			Backend: v.GetString("lease.backend"),
			TTL:     v.GetDuration("lease.ttl"),
		},
		Store: StoreConfig{
			Driver: v.GetString("store.driver"),
		},
		DynamoDB: DynamoDBConfig{
			IntegrationsTable: v.GetString("dynamodb.integrations_table"),
			DailyMetricsTable: v.GetString("dynamodb.daily_metrics_table"),
			LocksTable:        v.GetString("dynamodb.locks_table"),
			UsersTable:        v.GetString("dynamodb.users_table"),
		},
		Postgres: PostgresConfig{
			Host:            v.GetString("postgres.host"),
			Port:            v.GetInt("postgres.port"),
			User:            v.GetString("postgres.user"),
			Password:        v.GetString("postgres.password"),
			DBName:          v.GetString("postgres.dbname"),
			SSLMode:         v.GetString("postgres.sslmode"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Security: SecurityConfig{
			TokenKeyB64:   v.GetString("security.token_key_b64"),
			TokenKeyParam: v.GetString("security.token_key_param"),
		},
		Alerts: AlertsConfig{
			Enabled: v.GetBool("alerts.enabled"),
		},
		ETL: ETLConfig{
			Bucket:   v.GetString("etl.bucket"),
			Prefix:   v.GetString("etl.prefix"),
			DaysBack: v.GetInt("etl.days_back"),
		},
		Athena: AthenaConfig{
			Database:   v.GetString("athena.database"),
			Table:      v.GetString("athena.table"),
			Workgroup:  v.GetString("athena.workgroup"),
			Output:     v.GetString("athena.output"),
			Partitions: v.GetString("athena.partitions"),
		},
		Metrics: MetricsConfig{
			Namespace:      v.GetString("metrics.namespace"),
			PushgatewayURL: v.GetString("metrics.pushgateway_url"),
			Job:            v.GetString("metrics.job"),
		},
		Scheduler: SchedulerConfig{
			Concurrency: v.GetInt("scheduler.concurrency"),
			Timeout:     v.GetDuration("scheduler.timeout"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "marketsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Shopee.BaseURL == "" {
		cfg.Shopee.BaseURL = "https://partner.shopeemobileapi.com"
	}
	if cfg.Shopee.Timeout == 0 {
		cfg.Shopee.Timeout = 30 * time.Second
	}
	if cfg.Sync.Lookback == 0 {
		cfg.Sync.Lookback = 90 * 24 * time.Hour
	}
	if cfg.Sync.SliceSpan == 0 {
		cfg.Sync.SliceSpan = 15 * 24 * time.Hour
	}
	if cfg.Sync.PageSize == 0 {
		cfg.Sync.PageSize = 100
	}
	if cfg.Sync.DetailBatchSize == 0 {
		cfg.Sync.DetailBatchSize = 50
	}
	if cfg.Sync.RequestDelay == 0 {
		cfg.Sync.RequestDelay = 150 * time.Millisecond
	}
	if cfg.Sync.RefreshMargin == 0 {
		cfg.Sync.RefreshMargin = 600 * time.Second
	}
	if cfg.Sync.Timezone == "" {
		cfg.Sync.Timezone = "UTC"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 5 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = 0.2
	}
	if cfg.Lease.Backend == "" {
		cfg.Lease.Backend = "dynamodb"
	}
	if cfg.Lease.TTL == 0 {
		cfg.Lease.TTL = 15 * time.Minute
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "dynamodb"
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = "postgres"
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = "marketsync"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "require"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 4
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 2
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.ETL.Prefix == "" {
		cfg.ETL.Prefix = "daily_metrics/"
	}
	if cfg.ETL.DaysBack == 0 {
		cfg.ETL.DaysBack = 1
	}
	if cfg.Athena.Workgroup == "" {
		cfg.Athena.Workgroup = "primary"
	}
	if cfg.Athena.Partitions == "" {
		cfg.Athena.Partitions = "glue"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "marketsync"
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = "marketsync_sync"
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 4
	}
	if cfg.Scheduler.Timeout == 0 {
		cfg.Scheduler.Timeout = 14 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "dynamodb", "postgres":
	default:
		return fmt.Errorf("invalid store.driver %q (want dynamodb or postgres)", c.Store.Driver)
	}
	switch c.Lease.Backend {
	case "dynamodb", "redis", "memory":
	default:
		return fmt.Errorf("invalid lease.backend %q (want dynamodb, redis or memory)", c.Lease.Backend)
	}
	switch c.Athena.Partitions {
	case "glue", "msck":
	default:
		return fmt.Errorf("invalid athena.partitions %q (want glue or msck)", c.Athena.Partitions)
	}
	if c.Sync.SliceSpan <= 0 || c.Sync.Lookback <= 0 {
		return errors.New("sync.lookback and sync.slice_span must be positive")
	}
	if c.Sync.SliceSpan > 15*24*time.Hour {
		return errors.New("sync.slice_span cannot exceed 15 days")
	}
	if c.Sync.DetailBatchSize > 50 {
		return errors.New("sync.detail_batch_size cannot exceed 50")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be within [0, 1]")
	}
	if c.Scheduler.Concurrency < 1 {
		return errors.New("scheduler.concurrency must be at least 1")
	}
	return nil
}

// IsProduction reports whether the stage is prod/production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "prod" || c.App.Env == "production"
}
