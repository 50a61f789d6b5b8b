package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"brokerage/internal/auth"
	"brokerage/internal/middleware"
	"brokerage/internal/models"
	"brokerage/internal/services"

	"github.com/shopspring/decimal"
)

type registerRequest struct {
	Username       string      `json:"username" validate:"required,username"`
	Email          string      `json:"email" validate:"required,email"`
	FullName       string      `json:"full_name" validate:"max=255"`
	Password       string      `json:"password" validate:"required,min=6,max=72"`
	InitialDeposit json.Number `json:"initial_deposit" validate:"omitempty,amount"`
}

type authResponse struct {
	Token    string          `json:"token"`
	Customer models.Customer `json:"customer"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	deposit := decimal.Zero
	if req.InitialDeposit != "" {
		parsed, err := parseDecimal("initial_deposit", req.InitialDeposit)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		deposit = parsed
	}
	customer, err := h.customers.Register(r.Context(), services.RegisterRequest{
		Username:       req.Username,
		Email:          req.Email,
		FullName:       req.FullName,
		Password:       req.Password,
		InitialDeposit: deposit,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusCreated, customer)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	customer, err := h.customers.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, customer)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, customer models.Customer) {
	token, err := auth.GenerateToken(h.cfg.JWTSecret, customer.ID, h.cfg.TokenTTL)
	if err != nil {
		h.logger.Errorw("failed to generate token", "customer_id", customer.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to generate token")
		return
	}
	respondJSON(w, status, authResponse{Token: token, Customer: customer})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	customer, err := h.customers.GetByID(r.Context(), customerID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

// actor resolves the authenticated caller, answering 401 itself when there
// is none.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	customerID, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return services.Actor{}, false
	}
	actor, err := h.customers.ActorFor(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "unauthorized", "unknown customer")
			return services.Actor{}, false
		}
		h.respondServiceError(w, r, err)
		return services.Actor{}, false
	}
	return actor, true
}
