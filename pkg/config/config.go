package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Sendgrid SendgridConfig
	CORS     CORSConfig
	Queue    QueueConfig
	Links    LinkQueueConfig
	Features FeatureFlagsConfig
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
	Env          string `envconfig:"QREA_APP_ENV" required:"true"`
	Port         string `envconfig:"QREA_APP_PORT" required:"true"`
	MetricsPort  string `envconfig:"QREA_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"QREA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"QREA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"QREA_DB_DSN"`
	Driver string `envconfig:"QREA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"QREA_DB_HOST"`
	LegacyPort     int    `envconfig:"QREA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"QREA_DB_USER"`
	LegacyPassword string `envconfig:"QREA_DB_PASSWORD"`
	LegacyName     string `envconfig:"QREA_DB_NAME"`
	LegacySSLMode  string `envconfig:"QREA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"QREA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"QREA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"QREA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"QREA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"QREA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"QREA_REDIS_ADDR"`
	Password     string        `envconfig:"QREA_REDIS_PASSWORD"`
	DB           int           `envconfig:"QREA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"QREA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"QREA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"QREA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"QREA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"QREA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"QREA_STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"QREA_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"QREA_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"QREA_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"QREA_SENDGRID_FROM_EMAIL"`
	FromName    string `envconfig:"QREA_SENDGRID_FROM_NAME" default:"Qrea"`
}

type CORSConfig struct {
	FrontendOrigin string `envconfig:"QREA_FRONTEND_URL" default:"http://localhost:5173"`
}

// QueueConfig tunes the stripe event job queue and its worker pool.
type QueueConfig struct {
	Concurrency        int           `envconfig:"QREA_QUEUE_CONCURRENCY" default:"5"`
	MaxAttempts        int           `envconfig:"QREA_QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase        time.Duration `envconfig:"QREA_QUEUE_BACKOFF_BASE" default:"2s"`
	PollInterval       time.Duration `envconfig:"QREA_QUEUE_POLL_INTERVAL" default:"250ms"`
	CompletedRetention int           `envconfig:"QREA_QUEUE_COMPLETED_RETENTION" default:"100"`
	FailedRetention    int           `envconfig:"QREA_QUEUE_FAILED_RETENTION" default:"50"`
}

// LinkQueueConfig tunes the deferred subscription link retry table.
type LinkQueueConfig struct {
	MaxAttempts   int           `envconfig:"QREA_LINKS_MAX_ATTEMPTS" default:"7"`
	DrainInterval time.Duration `envconfig:"QREA_LINKS_DRAIN_INTERVAL" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"QREA_AUTO_MIGRATE" default:"false"`
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
