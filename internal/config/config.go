package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL   string  `env:"DATABASE_URL,required" validate:"required"`
	PublicBaseURL string  `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080" validate:"required,url"`
	ShopName      string  `env:"SHOP_NAME" envDefault:"ShopAway" validate:"required"`
	SentryDSN     string  `env:"SENTRY_DSN"`
	Environment   string  `env:"ENVIRONMENT" envDefault:"development"`
	TraceSampling float64 `env:"SENTRY_TRACES_SAMPLE_RATE" envDefault:"0.2" validate:"gte=0,lte=1"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`

	AdminJWTSecret  string        `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`
	DuplicateWindow time.Duration `env:"DUPLICATE_WINDOW" envDefault:"24h" validate:"gt=0"`

	Courier CourierConfig `envPrefix:"COURIER_"`
	Payment PaymentConfig

	EmailProvider string `env:"EMAIL_PROVIDER" validate:"omitempty,oneof=resend postmark mailgun"`
	EmailAPIKey   string `env:"EMAIL_API_KEY" validate:"required_with=EmailProvider"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"omitempty,email"`
	EmailDomain   string `env:"EMAIL_DOMAIN" validate:"required_if=EmailProvider mailgun"`

	InvoiceDir       string `env:"INVOICE_DIR" envDefault:"media/invoices" validate:"required"`
	InvoiceURLPrefix string `env:"INVOICE_URL_PREFIX" envDefault:"/media/" validate:"required"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5" validate:"gte=0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10" validate:"gte=0"`
	// TrustedProxies lists the reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For entries are believed. Empty means the peer address is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,cidr|ip"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	LogFile   string     `env:"LOG_FILE"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

type CourierConfig struct {
	BaseURL         string        `env:"BASE_URL" envDefault:"https://portal.packzy.com/api/v1" validate:"required,url"`
	APIKey          string        `env:"API_KEY"`
	SecretKey       string        `env:"SECRET_KEY"`
	UseMock         bool          `env:"USE_MOCK" envDefault:"true"`
	CreateOrderPath string        `env:"CREATE_ORDER_PATH" envDefault:"/create_order" validate:"required,startswith=/"`
	StatusPath      string        `env:"STATUS_BY_CID_PATH" envDefault:"/status_by_cid/{consignment_id}" validate:"required,startswith=/"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"20s" validate:"gt=0"`
	Retries         int           `env:"RETRIES" envDefault:"2" validate:"gte=0,lte=10"`
	RetryDelay      time.Duration `env:"RETRY_DELAY" envDefault:"1s" validate:"gte=0"`
	ClaimTTL        time.Duration `env:"CLAIM_TTL" envDefault:"2m" validate:"gt=0"`

	// IdempotencyHeader, when set, carries an order-derived key on create requests.
	IdempotencyHeader string `env:"IDEMPOTENCY_HEADER"`

	DefaultCity          string  `env:"DEFAULT_CITY" envDefault:"Dhaka"`
	DefaultArea          string  `env:"DEFAULT_AREA" envDefault:"Dhaka"`
	DefaultDeliveryType  string  `env:"DEFAULT_DELIVERY" envDefault:"standard"`
	DefaultWeight        float64 `env:"DEFAULT_WEIGHT" envDefault:"1.0" validate:"gte=0"`
	DefaultPaymentMethod string  `env:"DEFAULT_PAYMENT_METHOD" envDefault:"COD"`

	WebhookSecret string `env:"WEBHOOK_SECRET"`
	WebhookHeader string `env:"WEBHOOK_HEADER" envDefault:"X-Pathao-Token" validate:"required"`
}

type PaymentConfig struct {
	Provider string        `env:"PAYMENT_PROVIDER" envDefault:"sslcommerz" validate:"oneof=sslcommerz stripe"`
	Currency string        `env:"PAYMENT_CURRENCY" envDefault:"BDT" validate:"required,len=3"`
	Timeout  time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"30s" validate:"gt=0"`

	SSLCommerzBaseURL       string `env:"SSLCOMMERZ_BASE_URL" envDefault:"https://sandbox.sslcommerz.com" validate:"required,url"`
	SSLCommerzStoreID       string `env:"SSLCOMMERZ_STORE_ID"`
	SSLCommerzStorePassword string `env:"SSLCOMMERZ_STORE_PASSWORD"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if !c.Courier.UseMock && (strings.TrimSpace(c.Courier.APIKey) == "" || strings.TrimSpace(c.Courier.SecretKey) == "") {
		return fmt.Errorf("COURIER_API_KEY and COURIER_SECRET_KEY are required when COURIER_USE_MOCK is disabled")
	}
	if !strings.Contains(c.Courier.StatusPath, "{consignment_id}") {
		return fmt.Errorf("COURIER_STATUS_BY_CID_PATH must contain {consignment_id}")
	}

	if strings.TrimSpace(c.EmailProvider) != "" && strings.TrimSpace(c.EmailFrom) == "" {
		return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is set")
	}

	switch c.Payment.Provider {
	case "sslcommerz":
		hasStoreID := strings.TrimSpace(c.Payment.SSLCommerzStoreID) != ""
		hasStorePassword := strings.TrimSpace(c.Payment.SSLCommerzStorePassword) != ""
		if hasStoreID != hasStorePassword {
			return fmt.Errorf("SSLCOMMERZ_STORE_ID and SSLCOMMERZ_STORE_PASSWORD must be set together")
		}
	case "stripe":
		if strings.TrimSpace(c.Payment.StripeSecretKey) == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER is stripe")
		}
	}

	parsed, err := url.Parse(strings.TrimSpace(c.PublicBaseURL))
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be a valid absolute URL")
	}
	if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("PUBLIC_BASE_URL must use https outside local development")
	}

	return nil
}

// PublicURL joins path onto the public base URL.
func (c *Config) PublicURL(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
