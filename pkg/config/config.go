package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Pricing   PricingConfig
	Evidence  EvidenceConfig
	RateLimit RateLimitConfig
	GCP       GCPConfig
	GCS       GCSConfig
	PubSub    PubSubConfig
	BigQuery  BigQueryConfig
	Stripe    StripeConfig
	Outbox    OutboxConfig
	Cron      CronConfig
	Features  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"MEALRUN_APP_ENV" required:"true"`
	Port          string `envconfig:"MEALRUN_APP_PORT" required:"true"`
	PublicBaseURL string `envconfig:"MEALRUN_APP_PUBLIC_BASE_URL" default:"http://localhost:3000"`
	LogLevel      string `envconfig:"MEALRUN_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"MEALRUN_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"MEALRUN_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEALRUN_SERVICE_KIND" default:"api"`
	// MetricsAddr is where worker processes serve /metrics; empty disables it.
	MetricsAddr string `envconfig:"MEALRUN_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEALRUN_DB_DSN"`
	Driver string `envconfig:"MEALRUN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEALRUN_DB_HOST"`
	LegacyPort     int    `envconfig:"MEALRUN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEALRUN_DB_USER"`
	LegacyPassword string `envconfig:"MEALRUN_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEALRUN_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEALRUN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEALRUN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEALRUN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEALRUN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEALRUN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"MEALRUN_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEALRUN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEALRUN_REDIS_ADDR"`
	Password     string        `envconfig:"MEALRUN_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEALRUN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEALRUN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEALRUN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEALRUN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEALRUN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEALRUN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"MEALRUN_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"MEALRUN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"MEALRUN_JWT_EXPIRATION_MINUTES" required:"true"`
	Leeway            time.Duration `envconfig:"MEALRUN_JWT_LEEWAY" default:"30s"`
}

// AdminConfig carries the operator allow-list consulted by the admin predicate.
type AdminConfig struct {
	Emails []string `envconfig:"MEALRUN_ADMIN_EMAILS"`
}

// PricingConfig holds the flat per-delivery economics. The meal price must equal
// the fulfiller share plus the platform fee.
type PricingConfig struct {
	MealPriceCents       int64         `envconfig:"MEALRUN_PRICING_MEAL_PRICE_CENTS" default:"600"`
	FulfillerAmountCents int64         `envconfig:"MEALRUN_PRICING_FULFILLER_AMOUNT_CENTS" default:"500"`
	PlatformFeeCents     int64         `envconfig:"MEALRUN_PRICING_PLATFORM_FEE_CENTS" default:"100"`
	Currency             string        `envconfig:"MEALRUN_PRICING_CURRENCY" default:"usd"`
	ReservationWindow    time.Duration `envconfig:"MEALRUN_RESERVATION_WINDOW" default:"5m"`
	MinTransferCents     int64         `envconfig:"MEALRUN_PAYOUT_MIN_TRANSFER_CENTS" default:"100"`
}

func (p PricingConfig) validate() error {
	if p.MealPriceCents <= 0 || p.FulfillerAmountCents <= 0 || p.PlatformFeeCents < 0 {
		return fmt.Errorf("pricing amounts must be positive")
	}
	if p.FulfillerAmountCents+p.PlatformFeeCents != p.MealPriceCents {
		return fmt.Errorf("meal price %d must equal fulfiller amount %d plus platform fee %d",
			p.MealPriceCents, p.FulfillerAmountCents, p.PlatformFeeCents)
	}
	if p.ReservationWindow <= 0 {
		return fmt.Errorf("reservation window must be positive")
	}
	return nil
}

type EvidenceConfig struct {
	MaxUploadBytes int64 `envconfig:"MEALRUN_EVIDENCE_MAX_UPLOAD_BYTES" default:"5242880"`
}

type RateLimitConfig struct {
	Window        time.Duration `envconfig:"MEALRUN_RATE_LIMIT_WINDOW" default:"1m"`
	ReserveLimit  int           `envconfig:"MEALRUN_RATE_LIMIT_RESERVE" default:"20"`
	UploadLimit   int           `envconfig:"MEALRUN_RATE_LIMIT_UPLOAD" default:"10"`
	TransferLimit int           `envconfig:"MEALRUN_RATE_LIMIT_TRANSFER" default:"5"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEALRUN_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MEALRUN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEALRUN_GOOGLE_APPLICATION_CREDENTIALS"`
}

// GCSConfig enables bucket storage for evidence images. An empty bucket keeps
// image bytes in Postgres.
type GCSConfig struct {
	BucketName   string `envconfig:"MEALRUN_GCS_BUCKET_NAME"`
	ObjectPrefix string `envconfig:"MEALRUN_GCS_OBJECT_PREFIX" default:"evidence"`
}

func (g GCSConfig) Enabled() bool {
	return strings.TrimSpace(g.BucketName) != ""
}

type PubSubConfig struct {
	LifecycleTopic        string `envconfig:"MEALRUN_PUBSUB_LIFECYCLE_TOPIC" default:"mealrun-lifecycle-events"`
	PayoutsTopic          string `envconfig:"MEALRUN_PUBSUB_PAYOUTS_TOPIC" default:"mealrun-payout-events"`
	AnalyticsSubscription string `envconfig:"MEALRUN_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"mealrun-lifecycle-analytics"`
}

type BigQueryConfig struct {
	Dataset          string        `envconfig:"MEALRUN_BIGQUERY_DATASET" default:"mealrun_analytics"`
	LifecycleTable   string        `envconfig:"MEALRUN_BIGQUERY_LIFECYCLE_TABLE" default:"lifecycle_events"`
	AutoCreateTables bool          `envconfig:"MEALRUN_BIGQUERY_AUTO_CREATE_TABLES" default:"false"`
	DedupeTTL        time.Duration `envconfig:"MEALRUN_ANALYTICS_DEDUPE_TTL" default:"72h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEALRUN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEALRUN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEALRUN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"MEALRUN_CRON_INTERVAL" default:"1m"`
	PaymentSyncBatch int           `envconfig:"MEALRUN_CRON_PAYMENT_SYNC_BATCH" default:"100"`
	PaymentSyncAge   time.Duration `envconfig:"MEALRUN_CRON_PAYMENT_SYNC_MIN_AGE" default:"2m"`
	OutboxRetention  time.Duration `envconfig:"MEALRUN_CRON_OUTBOX_RETENTION" default:"336h"`
	OutboxPurgeBatch int           `envconfig:"MEALRUN_CRON_OUTBOX_PURGE_BATCH" default:"500"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MEALRUN_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey            string        `envconfig:"MEALRUN_STRIPE_API_KEY"`
	Secret            string        `envconfig:"MEALRUN_STRIPE_SECRET"`
	Env               string        `envconfig:"MEALRUN_STRIPE_ENV" default:"test"`
	MaxNetworkRetries int64         `envconfig:"MEALRUN_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
	ConnectCountry    string        `envconfig:"MEALRUN_STRIPE_CONNECT_COUNTRY" default:"US"`
	WebhookEventTTL   time.Duration `envconfig:"MEALRUN_STRIPE_WEBHOOK_EVENT_TTL" default:"72h"`
	OnboardingReturn  string        `envconfig:"MEALRUN_STRIPE_ONBOARDING_RETURN_PATH" default:"/fulfiller/earnings?onboarding=complete"`
	OnboardingRefresh string        `envconfig:"MEALRUN_STRIPE_ONBOARDING_REFRESH_PATH" default:"/fulfiller/earnings?onboarding=refresh"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
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
