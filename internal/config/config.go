// Package config defines the global configuration for the LogoForge service.
// Configuration is loaded once at process startup and is immutable thereafter,
// following 12-Factor principles: values come from the OS environment, with an
// optional .env file for local development. Any missing required value or
// invalid format aborts startup (fail fast).
package config

import (
	"time"

	"logoforge/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	Quota         QuotaConfig
	Generation    GenerationConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public app URL used for Stripe redirect targets (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
	// RequestTimeout is the soft deadline applied to every request context.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// QuotaConfig holds the per-tier generation limits and the ledger backend
// selection for anonymous traffic.
type QuotaConfig struct {
	// AnonymousDailyLimit is the free generations per day for unauthenticated
	// callers, keyed by client IP.
	AnonymousDailyLimit int `envconfig:"QUOTA_ANON_DAILY" default:"3"`
	// FreeLifetimeLimit is the lifetime allowance for authenticated accounts
	// without the premium entitlement.
	FreeLifetimeLimit int `envconfig:"QUOTA_FREE_LIFETIME" default:"10"`
	// AnonymousLedger selects the backend for the anonymous ledger:
	// "memory" for single-instance deployments, "redis" for replicated ones.
	AnonymousLedger string `envconfig:"QUOTA_ANON_LEDGER" default:"memory" validate:"oneof=memory redis"`
	RedisURL        SecretString `envconfig:"REDIS_URL"`
	// TrustProxyHeader enables client-IP extraction from X-Forwarded-For.
	// Only set behind a trusted load balancer.
	TrustProxyHeader bool `envconfig:"QUOTA_TRUST_PROXY" default:"false"`
}

// GenerationConfig holds the image-generation provider settings.
type GenerationConfig struct {
	APIKey  SecretString `envconfig:"GENERATION_API_KEY" validate:"required"`
	BaseURL string       `envconfig:"GENERATION_BASE_URL" validate:"required,url"`
	Model   string       `envconfig:"GENERATION_MODEL" default:"image-alpha-1"`
	// PerPromptTimeout bounds each upstream call; a timeout degrades that
	// prompt to a placeholder rather than failing the batch.
	PerPromptTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"45s"`
	// PlaceholderURL is returned for prompts whose upstream call failed.
	PlaceholderURL string `envconfig:"GENERATION_PLACEHOLDER_URL" default:"https://static.logoforge.app/placeholder.png"`
	// MaxPrompts is the per-request batch bound.
	MaxPrompts int `envconfig:"GENERATION_MAX_PROMPTS" default:"5"`
}

// BillingConfig holds Stripe payment integration credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// UpgradePriceID is the Stripe Price for the one-time unlimited upgrade.
	UpgradePriceID string `envconfig:"STRIPE_UPGRADE_PRICE_ID" validate:"required"`
}

// AuthConfig holds the external identity-provider settings. Tokens are
// verified by introspection; no local credentials exist.
type AuthConfig struct {
	IntrospectionURL string       `envconfig:"AUTH_INTROSPECTION_URL" validate:"required,url"`
	ClientSecret     SecretString `envconfig:"AUTH_CLIENT_SECRET" validate:"required"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LogoForge"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}
