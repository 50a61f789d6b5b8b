package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"brokerage/internal/amount"
	"brokerage/internal/services"
	"brokerage/internal/validator"

	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}

// respondServiceError maps an error kind onto its HTTP status. Errors without
// a kind are logged and reported as a bare 500.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validator.ErrInvalidRequest), errors.Is(err, services.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrInvalidState):
		respondError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, services.ErrPolicyViolation):
		respondError(w, http.StatusUnprocessableEntity, "policy_violation", err.Error())
	case errors.Is(err, services.ErrInsufficientBalance):
		respondError(w, http.StatusBadRequest, "insufficient_balance", err.Error())
	case errors.Is(err, services.ErrConflict):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	default:
		h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// decodeAndValidate reads a JSON body into dst and checks its struct tags.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondServiceError(w, r, err)
		return false
	}
	return true
}

func parseDecimal(field string, raw json.Number) (decimal.Decimal, error) {
	value, err := amount.Parse(string(raw))
	if err != nil {
		return decimal.Zero, invalidField(field, err)
	}
	return value, nil
}

func parsePositiveDecimal(field string, raw json.Number) (decimal.Decimal, error) {
	value, err := amount.ParsePositive(string(raw))
	if err != nil {
		return decimal.Zero, invalidField(field, err)
	}
	return value, nil
}

// parseDateRange reads optional RFC 3339 start_date and end_date parameters.
func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	query := r.URL.Query()
	var bounds [2]*time.Time
	for i, name := range []string{"start_date", "end_date"} {
		raw := query.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, invalidField(name, errors.New("must be an RFC 3339 timestamp"))
		}
		bounds[i] = &parsed
	}
	return bounds[0], bounds[1], nil
}

func invalidField(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", services.ErrInvalidArgument, field, err)
}

// pageFromQuery reads limit and 1-based page parameters.
func pageFromQuery(r *http.Request, defaultLimit int) (int, int) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), defaultLimit)
	page := parseInt(query.Get("page"), 1)
	return limit, (page - 1) * limit
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
