package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"brokerage/internal/auth"
	"brokerage/internal/store"
	"brokerage/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type adminOrderRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	orderRequest
}

func (h *Handler) AdminCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req adminOrderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	orderReq, err := req.toService()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	order, err := h.orders.CreateOrderForCustomer(r.Context(), actor, req.CustomerID, orderReq)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := orderFilterFromQuery(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) AdminListAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAllOrders(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

type matchRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

func (h *Handler) AdminMatchOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req matchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	order, err := h.orders.MatchOrder(r.Context(), actor, req.OrderID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) AdminCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrderAsAdmin(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *Handler) AdminListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageFromQuery(r, 50)
	customers, err := h.customers.List(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(customers))
}

func (h *Handler) AdminCustomerOrders(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	orders, err := h.orders.GetCustomerOrders(r.Context(), chi.URLParam(r, "id"), start, end)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) AdminCustomerAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.orders.GetCustomerAssets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(assets))
}

type depositRequest struct {
	AssetName string      `json:"asset_name" validate:"assetname"`
	Amount    json.Number `json:"amount" validate:"required,amount"`
}

func (h *Handler) AdminDeposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	value, err := parsePositiveDecimal("amount", req.Amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	asset, err := h.orders.Deposit(r.Context(), actor, chi.URLParam(r, "id"), req.AssetName, value)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		rows []store.AuditEntry
		err  error
	)
	if entityType, entityID := query.Get("entity_type"), query.Get("entity_id"); entityType != "" && entityID != "" {
		rows, err = h.audit.ListByEntity(r.Context(), entityType, entityID)
	} else {
		limit, offset := pageFromQuery(r, 50)
		rows, err = h.audit.List(r.Context(), limit, offset)
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(rows))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
