package handlers

import (
	"encoding/json"
	"net/http"

	"brokerage/internal/models"
	"brokerage/internal/services"

	"github.com/go-chi/chi/v5"
)

type orderRequest struct {
	AssetName string      `json:"asset_name" validate:"assetname"`
	Side      string      `json:"order_side" validate:"required,oneof=BUY SELL"`
	Size      json.Number `json:"size" validate:"required,amount"`
	Price     json.Number `json:"price" validate:"required,amount"`
}

func (req orderRequest) toService() (services.OrderRequest, error) {
	size, err := parseDecimal("size", req.Size)
	if err != nil {
		return services.OrderRequest{}, err
	}
	price, err := parseDecimal("price", req.Price)
	if err != nil {
		return services.OrderRequest{}, err
	}
	return services.OrderRequest{
		AssetName: req.AssetName,
		Side:      models.OrderSide(req.Side),
		Size:      size,
		Price:     price,
	}, nil
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	assets, err := h.orders.GetCustomerAssets(r.Context(), actor.CustomerID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(assets))
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	orderReq, err := req.toService()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), actor, orderReq)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter, err := orderFilterFromQuery(r)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	filter.CustomerID = actor.CustomerID
	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func orderFilterFromQuery(r *http.Request) (services.OrderFilter, error) {
	start, end, err := parseDateRange(r)
	if err != nil {
		return services.OrderFilter{}, err
	}
	query := r.URL.Query()
	return services.OrderFilter{
		CustomerID: query.Get("customer_id"),
		Start:      start,
		End:        end,
		Status:     models.OrderStatus(query.Get("status")),
		AssetName:  query.Get("asset_name"),
	}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
