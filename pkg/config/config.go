package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "oakmart"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "OAKMART_DB_DSN"
	EnvDBHost = "OAKMART_DB_HOST"
	EnvDBUser = "OAKMART_DB_USER"
	EnvDBName = "OAKMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Payhub       PayhubConfig
	Tax          TaxConfig
	Shipping     ShippingConfig
	Returns      ReturnsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"OAKMART_APP_ENV" required:"true"`
	Port         string `envconfig:"OAKMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"OAKMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"OAKMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"OAKMART_DB_DSN"`
	Driver string `envconfig:"OAKMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"OAKMART_DB_HOST"`
	LegacyPort     int    `envconfig:"OAKMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"OAKMART_DB_USER"`
	LegacyPassword string `envconfig:"OAKMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"OAKMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"OAKMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OAKMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OAKMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OAKMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OAKMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OAKMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OAKMART_REDIS_ADDR"`
	Password     string        `envconfig:"OAKMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"OAKMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OAKMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OAKMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OAKMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OAKMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OAKMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"OAKMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"OAKMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"OAKMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"OAKMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"OAKMART_AUTO_MIGRATE" default:"false"`
}

type PaymentsConfig struct {
	DefaultProvider       string        `envconfig:"OAKMART_PAYMENTS_DEFAULT_PROVIDER" default:"stripe"`
	CaptureTimeout        time.Duration `envconfig:"OAKMART_PAYMENTS_CAPTURE_TIMEOUT" default:"15s"`
	RefundTimeout         time.Duration `envconfig:"OAKMART_PAYMENTS_REFUND_TIMEOUT" default:"15s"`
	WebhookIdempotencyTTL time.Duration `envconfig:"OAKMART_PAYMENTS_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"OAKMART_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"OAKMART_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"OAKMART_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayhubConfig struct {
	BaseURL       string        `envconfig:"OAKMART_PAYHUB_BASE_URL"`
	APIKey        string        `envconfig:"OAKMART_PAYHUB_API_KEY"`
	WebhookSecret string        `envconfig:"OAKMART_PAYHUB_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"OAKMART_PAYHUB_TIMEOUT" default:"15s"`
}

type TaxConfig struct {
	RatePercent float64 `envconfig:"OAKMART_TAX_RATE_PERCENT" default:"18"`
}

type ShippingConfig struct {
	QuoteTimeout        time.Duration `envconfig:"OAKMART_SHIPPING_QUOTE_TIMEOUT" default:"10s"`
	FleetShipBaseURL    string        `envconfig:"OAKMART_SHIPPING_FLEETSHIP_BASE_URL"`
	FleetShipAPIKey     string        `envconfig:"OAKMART_SHIPPING_FLEETSHIP_API_KEY"`
	ParcelOneBaseURL    string        `envconfig:"OAKMART_SHIPPING_PARCELONE_BASE_URL"`
	ParcelOneAPIKey     string        `envconfig:"OAKMART_SHIPPING_PARCELONE_API_KEY"`
	BaseLeadTimeDays    int           `envconfig:"OAKMART_SHIPPING_BASE_LEAD_TIME_DAYS" default:"5"`
	ExpressLeadTimeDays int           `envconfig:"OAKMART_SHIPPING_EXPRESS_LEAD_TIME_DAYS" default:"2"`
	RemoteSurchargeDays int           `envconfig:"OAKMART_SHIPPING_REMOTE_SURCHARGE_DAYS" default:"3"`
	RemoteRegions       string        `envconfig:"OAKMART_SHIPPING_REMOTE_REGIONS" default:""`
}

// RemoteRegionSet splits the configured comma-separated remote regions.
func (s ShippingConfig) RemoteRegionSet() map[string]struct{} {
	set := map[string]struct{}{}
	for _, region := range strings.Split(s.RemoteRegions, ",") {
		region = strings.ToLower(strings.TrimSpace(region))
		if region != "" {
			set[region] = struct{}{}
		}
	}
	return set
}

type ReturnsConfig struct {
	WindowDays int `envconfig:"OAKMART_RETURNS_WINDOW_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"OAKMART_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"OAKMART_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"OAKMART_PUBSUB_NOTIFICATION_TOPIC" default:"oakmart-order-events"`
	NotificationSubscription string `envconfig:"OAKMART_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"oakmart-order-events-worker"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"OAKMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"OAKMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"OAKMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
