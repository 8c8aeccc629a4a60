package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/shopaway/shopaway/internal/cache"
	"github.com/shopaway/shopaway/internal/config"
	"github.com/shopaway/shopaway/internal/courier"
	"github.com/shopaway/shopaway/internal/db"
	"github.com/shopaway/shopaway/internal/email"
	"github.com/shopaway/shopaway/internal/handlers"
	"github.com/shopaway/shopaway/internal/invoice"
	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/observability"
	"github.com/shopaway/shopaway/internal/orderlink"
	"github.com/shopaway/shopaway/internal/payment"
	"github.com/shopaway/shopaway/internal/services"
	"github.com/shopaway/shopaway/internal/session"
)

const emailHTTPTimeout = 10 * time.Second

type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	DB             *pgxpool.Pool
	CacheProvider  cache.Provider
	SessionManager *session.Manager
	Handlers       *handlers.Handlers

	logFile io.Closer
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logFile, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, logFile: logFile}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		a.Close()
		return nil, err
	}

	a.DB, err = db.Connect(startupCtx, cfg.DatabaseURL, logger.With("component", "db"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.CacheProvider, err = cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	sessionStore, err := session.NewStore(startupCtx, session.Config{
		Provider:              cfg.SessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.SessionManager = session.NewManager(sessionStore, handlers.SecureCookiesFromConfig(cfg))

	orderStore := db.NewOrderStore(a.DB)
	productStore := db.NewProductStore(a.DB)
	courierLogStore := db.NewCourierLogStore(a.DB)

	orderLinks, err := orderlink.NewSigner(cfg.AdminJWTSecret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize order links: %w", err)
	}

	emailSender, err := newEmailSender(startupCtx, cfg, orderLinks, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	gateway, err := newPaymentGateway(cfg, orderLinks, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	courierClient := courier.NewClient(courier.Config{
		BaseURL:           cfg.Courier.BaseURL,
		APIKey:            cfg.Courier.APIKey,
		SecretKey:         cfg.Courier.SecretKey,
		CreateOrderPath:   cfg.Courier.CreateOrderPath,
		StatusPath:        cfg.Courier.StatusPath,
		ConnectTimeout:    cfg.Courier.ConnectTimeout,
		ReadTimeout:       cfg.Courier.ReadTimeout,
		Retries:           cfg.Courier.Retries,
		RetryDelay:        cfg.Courier.RetryDelay,
		UseMock:           cfg.Courier.UseMock,
		IdempotencyHeader: cfg.Courier.IdempotencyHeader,
	}, logger.With("component", "courier_client"))

	orderService := services.NewOrderService(
		orderStore,
		productStore,
		cfg.DuplicateWindow,
		emailSender,
		logger.With("component", "order_service"),
	)
	fulfillmentService := services.NewFulfillmentService(
		orderStore,
		courierLogStore,
		courierClient,
		invoice.NewGenerator(cfg.InvoiceDir, cfg.InvoiceURLPrefix),
		emailSender,
		services.CourierDefaults{
			City:          cfg.Courier.DefaultCity,
			Area:          cfg.Courier.DefaultArea,
			DeliveryType:  cfg.Courier.DefaultDeliveryType,
			Weight:        cfg.Courier.DefaultWeight,
			PaymentMethod: cfg.Courier.DefaultPaymentMethod,
		},
		cfg.Courier.ClaimTTL,
		logger.With("component", "fulfillment_service"),
	)
	paymentService, err := services.NewPaymentService(orderStore, gateway, logger.With("component", "payment_service"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize payment service: %w", err)
	}
	webhookService := services.NewWebhookService(orderStore, courierLogStore, cfg.Courier.WebhookSecret, logger.With("component", "webhook_service"))

	var stripeRouter *handlers.StripeEventRouter
	if cfg.Payment.Provider == "stripe" {
		stripeRouter = handlers.NewStripeEventRouter(paymentService, logger.With("component", "stripe_router"))
	}

	var limiter *handlers.IPRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter, err = handlers.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
	}

	adminAuth, err := services.NewAdminAuth(cfg.AdminJWTSecret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize admin auth: %w", err)
	}

	a.Handlers, err = handlers.New(handlers.Dependencies{
		Config:          cfg,
		DB:              a.DB,
		Products:        productStore,
		Orders:          orderService,
		Payments:        paymentService,
		Fulfillment:     fulfillmentService,
		CourierWebhooks: webhookService,
		StripeRouter:    stripeRouter,
		CacheProvider:   a.CacheProvider,
		SessionManager:  a.SessionManager,
		AdminAuth:       adminAuth,
		RateLimiter:     limiter,
		OrderLinks:      orderLinks,
		Logger:          logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info("application initialized",
		"payment_provider", cfg.Payment.Provider,
		"courier_mock", cfg.Courier.UseMock,
		"email_provider", orDisabled(cfg.EmailProvider),
		"cache_provider", cfg.CacheProvider,
	)
	return a, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.SessionManager != nil {
		closeSessionManager(a.Logger, a.SessionManager)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// NewLogger builds the process logger. Console output is tinted text or JSON;
// when LOG_FILE is set every record is also appended there as JSON.
func NewLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		console = slog.NewJSONHandler(os.Stdout, opts)
	default:
		console = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel, TimeFormat: time.Kitchen})
	}

	path := strings.TrimSpace(cfg.LogFile)
	if path == "" {
		return slog.New(console), nil, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(logging.MultiHandler(console, slog.NewJSONHandler(file, opts))), file, nil
}

func newEmailSender(ctx context.Context, cfg *config.Config, links *orderlink.Signer, logger *slog.Logger) (services.OrderEmailSender, error) {
	provider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.EmailDomain,
	}, observability.NewHTTPClient(emailHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	if provider == nil {
		return nil, nil
	}
	// A bad key only disables notifications; orders must still go through.
	if err := provider.ValidateAPIKey(ctx); err != nil {
		logger.Warn("email provider rejected API key", "provider", cfg.EmailProvider, "error", err)
	}

	sender, err := services.NewProviderOrderEmailSender(provider, cfg.ShopName, func(orderID int64) string {
		return cfg.PublicURL(links.Path(orderID, ""))
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func newPaymentGateway(cfg *config.Config, links *orderlink.Signer, logger *slog.Logger) (payment.Gateway, error) {
	switch cfg.Payment.Provider {
	case "stripe":
		return payment.NewStripe(payment.StripeConfig{
			SecretKey:       cfg.Payment.StripeSecretKey,
			Currency:        cfg.Payment.Currency,
			CallbackBaseURL: cfg.PublicBaseURL,
			Links:           links,
		}, logger.With("component", "stripe_gateway")), nil
	case "sslcommerz", "":
		return payment.NewSSLCommerz(payment.SSLCommerzConfig{
			BaseURL:         cfg.Payment.SSLCommerzBaseURL,
			StoreID:         cfg.Payment.SSLCommerzStoreID,
			StorePassword:   cfg.Payment.SSLCommerzStorePassword,
			Currency:        cfg.Payment.Currency,
			CallbackBaseURL: cfg.PublicBaseURL,
			StoreName:       cfg.ShopName,
			Timeout:         cfg.Payment.Timeout,
			Links:           links,
		}, logger.With("component", "sslcommerz_gateway"), nil), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.Payment.Provider)
	}
}

func orDisabled(value string) string {
	if strings.TrimSpace(value) == "" {
		return "disabled"
	}
	return value
}

func closeSessionManager(logger *slog.Logger, manager *session.Manager) {
	if manager == nil {
		return
	}
	if err := manager.Close(); err != nil && logger != nil {
		logger.Warn("failed to close session manager", "error", err)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
