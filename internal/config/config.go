// Package config defines the process configuration for the Roadmap API, the
// email worker and the ops tool. Configuration is loaded once at startup and
// is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"strings"
	"time"

	"roadmap/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"roadmap-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Billing   BillingConfig
	Identity  IdentityConfig
	LLM       LLMConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// FrontendURL is the web app origin used for checkout redirects and email
	// links (no trailing slash).
	FrontendURL      string        `envconfig:"FRONTEND_URL" default:"http://localhost:3000" validate:"required,url"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	AIRequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"90s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

// StoreConfig selects the document store and holds its connection settings.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres mongo"`

	// Postgres (resolved from SSM or Env)
	DatabaseURL       SecretString  `envconfig:"DATABASE_URL"`
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`

	// MongoDB
	MongoURI      SecretString `envconfig:"MONGODB_URI"`
	MongoDatabase string       `envconfig:"MONGODB_DATABASE" default:"roadmap"`
}

// RedisConfig holds the cache connection and key lifetimes.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	// EventDedupTTL bounds how long a processed webhook event id is remembered.
	EventDedupTTL time.Duration `envconfig:"WEBHOOK_DEDUP_TTL" default:"72h"`
	// CustomerIDTTL is 0 for no expiry.
	CustomerIDTTL time.Duration `envconfig:"CUSTOMER_ID_CACHE_TTL" default:"0s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region               string `envconfig:"AWS_REGION" default:"eu-west-2"`
	NotificationQueueURL string `envconfig:"NOTIFICATION_QUEUE_URL"`
	MetricNamespace      string `envconfig:"METRIC_NAMESPACE" default:"Roadmap"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe credentials and checkout settings.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	ProPriceID          string       `envconfig:"STRIPE_PRO_PRICE_ID"`
	TrialDays           int          `envconfig:"STRIPE_TRIAL_DAYS" default:"7" validate:"min=1,max=730"`
	APIBaseURL          string       `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`
}

// IdentityConfig holds Clerk credentials for session tokens, the backend
// API and webhook signatures.
type IdentityConfig struct {
	ClerkSecretKey      SecretString  `envconfig:"CLERK_SECRET_KEY" validate:"required"`
	ClerkPublishableKey string        `envconfig:"CLERK_PUBLISHABLE_KEY"`
	ClerkWebhookSecret  SecretString  `envconfig:"CLERK_WEBHOOK_SECRET" validate:"required"`
	JWKSURL             string        `envconfig:"CLERK_JWKS_URL" validate:"required,url"`
	Issuer              string        `envconfig:"CLERK_ISSUER" validate:"required,url"`
	APIBaseURL          string        `envconfig:"CLERK_API_BASE_URL" default:"https://api.clerk.com" validate:"url"`
	ClockSkew           time.Duration `envconfig:"CLERK_CLOCK_SKEW" default:"30s"`
}

// LLMConfig holds the content generation provider settings.
type LLMConfig struct {
	OpenAIAPIKey  SecretString `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string       `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string       `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com" validate:"url"`
	GeminiAPIKey  SecretString `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string       `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL string       `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com" validate:"url"`
}

// Email providers.
const (
	EmailProviderSendGrid = "sendgrid"
	EmailProviderPostmark = "postmark"
	EmailProviderSES      = "ses"
)

// Notification delivery modes.
const (
	NotifyModeDirect = "direct"
	NotifyModeQueue  = "queue"
)

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	Enabled              bool         `envconfig:"EMAIL_ENABLED" default:"true"`
	Provider             string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid postmark ses"`
	NotifyMode           string       `envconfig:"NOTIFY_MODE" default:"direct" validate:"oneof=direct queue"`
	SendGridAPIKey       SecretString `envconfig:"SENDGRID_API_KEY"`
	PostmarkServerToken  SecretString `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken SecretString `envconfig:"POSTMARK_ACCOUNT_TOKEN"`
	FromAddress          string       `envconfig:"EMAIL_FROM_ADDRESS" default:"hello@roadmap.it.com" validate:"email"`
	FromName             string       `envconfig:"EMAIL_FROM_NAME" default:"Roadmap"`
}

// RateLimitConfig holds the fixed-window limiter settings.
type RateLimitConfig struct {
	Enabled       bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	GeneralLimit  int           `envconfig:"RATE_LIMIT_GENERAL_LIMIT" default:"100" validate:"min=1"`
	GeneralWindow time.Duration `envconfig:"RATE_LIMIT_GENERAL_WINDOW" default:"60s"`
	GeneralBlock  time.Duration `envconfig:"RATE_LIMIT_GENERAL_BLOCK" default:"300s"`
	AILimit       int           `envconfig:"RATE_LIMIT_AI_LIMIT" default:"20" validate:"min=1"`
	AIWindow      time.Duration `envconfig:"RATE_LIMIT_AI_WINDOW" default:"60s"`
	AIBlock       time.Duration `envconfig:"RATE_LIMIT_AI_BLOCK" default:"600s"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// AdminAPIKeyHash is a bcrypt hash. Empty disables the admin routes.
	AdminAPIKeyHash    SecretString `envconfig:"ADMIN_API_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"https://roadmap.it.com,http://localhost:3000"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// checkDependencies enforces the rules that span several fields: the
// selected store, email provider and notify mode each need their own
// credentials. It returns the names of the missing variables.
func (c *Config) checkDependencies() []string {
	var missing []string

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if !c.Store.DatabaseURL.IsSet() {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreDriverMongo:
		if !c.Store.MongoURI.IsSet() {
			missing = append(missing, "MONGODB_URI")
		}
	}

	if c.Email.Enabled {
		switch c.Email.Provider {
		case EmailProviderSendGrid:
			if !c.Email.SendGridAPIKey.IsSet() {
				missing = append(missing, "SENDGRID_API_KEY")
			}
		case EmailProviderPostmark:
			if !c.Email.PostmarkServerToken.IsSet() {
				missing = append(missing, "POSTMARK_SERVER_TOKEN")
			}
		}
		if c.Email.NotifyMode == NotifyModeQueue && c.AWS.NotificationQueueURL == "" {
			missing = append(missing, "NOTIFICATION_QUEUE_URL")
		}
	}

	return missing
}

// TrimmedOrigins returns the CORS origins without surrounding whitespace or
// empty entries.
func (s SecurityConfig) TrimmedOrigins() []string {
	out := make([]string, 0, len(s.CorsAllowedOrigins))
	for _, o := range s.CorsAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
