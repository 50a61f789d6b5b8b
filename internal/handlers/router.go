package handlers

import (
	"net/http"
	"strings"

	"brokerage/internal/config"
	"brokerage/internal/middleware"
	"brokerage/internal/validator"
	"brokerage/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handler struct {
	cfg        config.Config
	orders     OrderService
	customers  CustomerService
	audit      AuditLog
	reconciler Reconciler
	hub        *websocket.Hub
	validate   *validator.Validator
	logger     *zap.SugaredLogger
}

func New(cfg config.Config, orders OrderService, customers CustomerService, audit AuditLog, reconciler Reconciler, hub *websocket.Hub, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		cfg:        cfg,
		orders:     orders,
		customers:  customers,
		audit:      audit,
		reconciler: reconciler,
		hub:        hub,
		validate:   validator.New(),
		logger:     logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	authenticated := middleware.Auth(h.cfg.JWTSecret)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authenticated).Get("/me", h.Me)
	})
	router.With(authenticated).Get("/assets", h.ListAssets)
	router.Route("/orders", func(r chi.Router) {
		r.Use(authenticated)
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Delete("/{id}", h.CancelOrder)
	})
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authenticated)
		r.Use(middleware.RequireAdmin(h.customers))
		r.Post("/orders", h.AdminCreateOrder)
		r.Get("/orders", h.AdminListOrders)
		r.Get("/orders/all", h.AdminListAllOrders)
		r.Post("/orders/match", h.AdminMatchOrder)
		r.Delete("/orders/{id}", h.AdminCancelOrder)
		r.Get("/customers", h.AdminListCustomers)
		r.Get("/customers/{id}/orders", h.AdminCustomerOrders)
		r.Get("/customers/{id}/assets", h.AdminCustomerAssets)
		r.Post("/customers/{id}/deposits", h.AdminDeposit)
		r.Get("/audit", h.ListAuditLogs)
		r.Get("/reconcile", h.Reconcile)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
