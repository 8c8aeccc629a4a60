package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shopaway/shopaway/internal/cache"
	"github.com/shopaway/shopaway/internal/config"
	"github.com/shopaway/shopaway/internal/logging"
	"github.com/shopaway/shopaway/internal/models"
	"github.com/shopaway/shopaway/internal/orderlink"
	"github.com/shopaway/shopaway/internal/payment"
	"github.com/shopaway/shopaway/internal/services"
	"github.com/shopaway/shopaway/internal/session"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxFormBodyBytes    = 64 << 10
)

type healthChecker interface {
	Ping(ctx context.Context) error
}

type productCatalog interface {
	GetBySKU(ctx context.Context, sku string) (*models.Product, error)
	GetBySKUs(ctx context.Context, skus []string) (map[string]*models.Product, error)
	List(ctx context.Context) ([]*models.Product, error)
}

type orderService interface {
	CreateOrder(ctx context.Context, buyer services.BuyerInfo, cart []services.CartLine, method models.PaymentMethod) (*models.Order, []models.OrderItem, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
}

type paymentService interface {
	StartPayment(ctx context.Context, orderID int64) (*models.Order, payment.Outcome, error)
	CompletePayment(ctx context.Context, orderID int64, params url.Values) (payment.Outcome, error)
	FailPayment(ctx context.Context, orderID int64, params url.Values) error
	CancelPayment(ctx context.Context, orderID int64, params url.Values) error
}

type fulfillmentService interface {
	DispatchToCourier(ctx context.Context, orderID int64, opts services.DispatchOptions) (*services.DispatchResult, error)
	RefreshCourierStatus(ctx context.Context, orderID int64) (*services.RefreshResult, error)
	GenerateInvoice(ctx context.Context, orderID int64) (string, error)
	ToggleFraud(ctx context.Context, orderID int64, reason string) (bool, error)
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	DispatchMany(ctx context.Context, orderIDs []int64, opts services.DispatchOptions) []services.BulkResult
	RefreshMany(ctx context.Context, orderIDs []int64) []services.BulkResult
	GetOrderDetail(ctx context.Context, orderID int64) (*services.OrderDetail, error)
	ListRecentOrders(ctx context.Context, limit int) ([]*models.Order, error)
}

type courierWebhookService interface {
	HandleWebhook(ctx context.Context, token string, payload []byte) (services.WebhookResult, error)
}

type adminTokenVerifier interface {
	VerifyToken(raw string) (*services.AdminClaims, error)
}

// Handlers provides the HTTP surface of the shop: cart, checkout, payment
// callbacks, courier and Stripe webhooks, and the admin order actions.
type Handlers struct {
	config          *config.Config
	db              healthChecker
	products        productCatalog
	orders          orderService
	payments        paymentService
	fulfillment     fulfillmentService
	courierWebhooks courierWebhookService
	stripeRouter    *StripeEventRouter
	cacheProvider   cache.Provider
	sessionManager  *session.Manager
	adminAuth       adminTokenVerifier
	limiter         *IPRateLimiter
	orderLinks      *orderlink.Signer
	trustedProxies  []netip.Prefix
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	DB              healthChecker
	Products        productCatalog
	Orders          orderService
	Payments        paymentService
	Fulfillment     fulfillmentService
	CourierWebhooks courierWebhookService
	StripeRouter    *StripeEventRouter
	CacheProvider   cache.Provider
	SessionManager  *session.Manager
	AdminAuth       adminTokenVerifier
	RateLimiter     *IPRateLimiter
	OrderLinks      *orderlink.Signer
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.Products == nil {
		return nil, fmt.Errorf("handlers dependencies: products is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: orders is required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("handlers dependencies: payments is required")
	}
	if deps.Fulfillment == nil {
		return nil, fmt.Errorf("handlers dependencies: fulfillment is required")
	}
	if deps.CourierWebhooks == nil {
		return nil, fmt.Errorf("handlers dependencies: courierWebhooks is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.SessionManager == nil {
		return nil, fmt.Errorf("handlers dependencies: sessionManager is required")
	}
	if deps.AdminAuth == nil {
		return nil, fmt.Errorf("handlers dependencies: adminAuth is required")
	}
	if deps.OrderLinks == nil {
		return nil, fmt.Errorf("handlers dependencies: orderLinks is required")
	}

	trustedProxies, err := parseTrustedProxies(deps.Config.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("handlers dependencies: %w", err)
	}

	return &Handlers{
		config:          deps.Config,
		db:              deps.DB,
		products:        deps.Products,
		orders:          deps.Orders,
		payments:        deps.Payments,
		fulfillment:     deps.Fulfillment,
		courierWebhooks: deps.CourierWebhooks,
		stripeRouter:    deps.StripeRouter,
		cacheProvider:   deps.CacheProvider,
		sessionManager:  deps.SessionManager,
		adminAuth:       deps.AdminAuth,
		limiter:         deps.RateLimiter,
		orderLinks:      deps.OrderLinks,
		trustedProxies:  trustedProxies,
		logger:          logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	// Test database connection
	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// SessionMiddleware adds session data to the request context
func (h *Handlers) SessionMiddleware(next http.Handler) http.Handler {
	return h.sessionManager.Middleware(next)
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeDetail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	h.writeJSON(w, r, status, map[string]string{"detail": detail})
}

func orderIDFromRequest(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", raw)
	}
	return id, nil
}

func SecureCookiesFromConfig(cfg *config.Config) bool {
	if cfg == nil {
		return false
	}

	baseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if baseURL != "" {
		if parsed, err := url.Parse(baseURL); err == nil {
			return strings.EqualFold(parsed.Scheme, "https")
		}
	}

	return cfg.Port == "443" || cfg.Port == "8443"
}
