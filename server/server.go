package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopaway/shopaway/internal/config"
	"github.com/shopaway/shopaway/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Courier dispatch may retry a slow gateway before answering.
		WriteTimeout:   90 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("metrics")

	mediaPrefix := "/" + strings.Trim(s.cfg.InvoiceURLPrefix, "/") + "/invoices/"
	r.PathPrefix(mediaPrefix).
		Handler(http.StripPrefix(mediaPrefix, http.FileServer(http.Dir(s.cfg.InvoiceDir)))).
		Methods("GET").
		Name("media.invoices")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found"}`))
	})

	// Webhooks are authenticated and retried by the sender, so throttling them
	// only turns one delivery into many.
	webhooks := r.PathPrefix("/webhooks").Subrouter()
	webhooks.HandleFunc("/pathao", h.CourierWebhook).Methods("POST").Name("webhooks.courier")
	webhooks.HandleFunc("/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	// Storefront routes share the cart session.
	shop := r.NewRoute().Subrouter()
	shop.Use(h.SessionMiddleware)
	shop.HandleFunc("/products", h.Products).Methods("GET").Name("products")
	shop.HandleFunc("/cart", h.Cart).Methods("GET").Name("cart")
	shop.Handle("/cart/add", h.RateLimit(http.HandlerFunc(h.CartAdd))).Methods("POST").Name("cart.add")
	shop.Handle("/cart/remove", h.RateLimit(http.HandlerFunc(h.CartRemove))).Methods("POST").Name("cart.remove")
	shop.Handle("/orders", h.RateLimit(http.HandlerFunc(h.CreateOrder))).Methods("POST").Name("orders.create")
	shop.HandleFunc("/orders/{id:[0-9]+}", h.GetOrder).Methods("GET").Name("orders.detail")

	// Gateways post back cross-site, so these stay outside the same-origin check.
	shop.HandleFunc("/orders/{id:[0-9]+}/payment", h.StartPayment).Methods("GET", "POST").Name("payment.start")
	shop.HandleFunc("/orders/{id:[0-9]+}/payment/success", h.PaymentSuccess).Methods("GET", "POST").Name("payment.success")
	shop.HandleFunc("/orders/{id:[0-9]+}/payment/fail", h.PaymentFail).Methods("GET", "POST").Name("payment.fail")
	shop.HandleFunc("/orders/{id:[0-9]+}/payment/cancel", h.PaymentCancel).Methods("GET", "POST").Name("payment.cancel")

	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(h.SessionMiddleware)
	adminRouter.Use(h.RequireAdmin)
	adminRouter.Use(h.RequireSameOrigin)
	adminRouter.HandleFunc("/orders", h.AdminListOrders).Methods("GET").Name("admin.orders")
	adminRouter.HandleFunc("/orders/bulk/send", h.AdminBulkSendCourier).Methods("POST").Name("admin.orders.bulk.send")
	adminRouter.HandleFunc("/orders/bulk/refresh", h.AdminBulkRefreshStatus).Methods("POST").Name("admin.orders.bulk.refresh")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}", h.AdminOrderDetail).Methods("GET").Name("admin.orders.detail")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/send", h.AdminSendCourier).Methods("POST").Name("admin.orders.send")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/force-send", h.AdminForceSend).Methods("POST").Name("admin.orders.force_send")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/refresh", h.AdminRefreshStatus).Methods("POST").Name("admin.orders.refresh")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/fraud", h.AdminToggleFraud).Methods("POST").Name("admin.orders.fraud")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/invoice", h.AdminGenerateInvoice).Methods("POST").Name("admin.orders.invoice")
	adminRouter.HandleFunc("/orders/{id:[0-9]+}/status", h.AdminUpdateStatus).Methods("POST").Name("admin.orders.status")

	return r
}
