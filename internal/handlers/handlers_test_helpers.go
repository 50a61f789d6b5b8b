package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brokerage/internal/auth"
	"brokerage/internal/config"
	"brokerage/internal/jobs"
	"brokerage/internal/middleware"
	"brokerage/internal/models"
	"brokerage/internal/services"
	"brokerage/internal/store"
	"brokerage/internal/websocket"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubOrderService struct {
	createFn         func(ctx context.Context, actor services.Actor, req services.OrderRequest) (models.Order, error)
	createForFn      func(ctx context.Context, actor services.Actor, customerID string, req services.OrderRequest) (models.Order, error)
	cancelFn         func(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	cancelAsAdminFn  func(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	matchFn          func(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	listFn           func(ctx context.Context, filter services.OrderFilter) ([]models.Order, error)
	listAllFn        func(ctx context.Context) ([]models.Order, error)
	customerOrdersFn func(ctx context.Context, customerID string, start, end *time.Time) ([]models.Order, error)
	customerAssetsFn func(ctx context.Context, customerID string) ([]models.Asset, error)
	depositFn        func(ctx context.Context, actor services.Actor, customerID, assetName string, amount decimal.Decimal) (models.Asset, error)
}

func (s stubOrderService) CreateOrder(ctx context.Context, actor services.Actor, req services.OrderRequest) (models.Order, error) {
	if s.createFn == nil {
		return models.Order{}, nil
	}
	return s.createFn(ctx, actor, req)
}

func (s stubOrderService) CreateOrderForCustomer(ctx context.Context, actor services.Actor, customerID string, req services.OrderRequest) (models.Order, error) {
	if s.createForFn == nil {
		return models.Order{}, nil
	}
	return s.createForFn(ctx, actor, customerID, req)
}

func (s stubOrderService) CancelOrder(ctx context.Context, actor services.Actor, orderID string) (models.Order, error) {
	if s.cancelFn == nil {
		return models.Order{}, nil
	}
	return s.cancelFn(ctx, actor, orderID)
}

func (s stubOrderService) CancelOrderAsAdmin(ctx context.Context, actor services.Actor, orderID string) (models.Order, error) {
	if s.cancelAsAdminFn == nil {
		return models.Order{}, nil
	}
	return s.cancelAsAdminFn(ctx, actor, orderID)
}

func (s stubOrderService) MatchOrder(ctx context.Context, actor services.Actor, orderID string) (models.Order, error) {
	if s.matchFn == nil {
		return models.Order{}, nil
	}
	return s.matchFn(ctx, actor, orderID)
}

func (s stubOrderService) ListOrders(ctx context.Context, filter services.OrderFilter) ([]models.Order, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s stubOrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx)
}

func (s stubOrderService) GetCustomerOrders(ctx context.Context, customerID string, start, end *time.Time) ([]models.Order, error) {
	if s.customerOrdersFn == nil {
		return nil, nil
	}
	return s.customerOrdersFn(ctx, customerID, start, end)
}

func (s stubOrderService) GetCustomerAssets(ctx context.Context, customerID string) ([]models.Asset, error) {
	if s.customerAssetsFn == nil {
		return nil, nil
	}
	return s.customerAssetsFn(ctx, customerID)
}

func (s stubOrderService) Deposit(ctx context.Context, actor services.Actor, customerID, assetName string, amount decimal.Decimal) (models.Asset, error) {
	if s.depositFn == nil {
		return models.Asset{}, nil
	}
	return s.depositFn(ctx, actor, customerID, assetName, amount)
}

type stubCustomerService struct {
	registerFn     func(ctx context.Context, req services.RegisterRequest) (models.Customer, error)
	authenticateFn func(ctx context.Context, username, password string) (models.Customer, error)
	getByIDFn      func(ctx context.Context, customerID string) (models.Customer, error)
	listFn         func(ctx context.Context, limit, offset int) ([]models.Customer, error)
	admins         map[string]bool
}

func (s stubCustomerService) Register(ctx context.Context, req services.RegisterRequest) (models.Customer, error) {
	if s.registerFn == nil {
		return models.Customer{}, nil
	}
	return s.registerFn(ctx, req)
}

func (s stubCustomerService) Authenticate(ctx context.Context, username, password string) (models.Customer, error) {
	if s.authenticateFn == nil {
		return models.Customer{}, services.ErrInvalidCredentials
	}
	return s.authenticateFn(ctx, username, password)
}

func (s stubCustomerService) GetByID(ctx context.Context, customerID string) (models.Customer, error) {
	if s.getByIDFn == nil {
		return models.Customer{ID: customerID, Username: customerID, Active: true}, nil
	}
	return s.getByIDFn(ctx, customerID)
}

func (s stubCustomerService) IsAdmin(_ context.Context, customerID string) (bool, error) {
	return s.admins[customerID], nil
}

func (s stubCustomerService) ActorFor(ctx context.Context, customerID string) (services.Actor, error) {
	customer, err := s.GetByID(ctx, customerID)
	if err != nil {
		return services.Actor{}, err
	}
	return services.Actor{CustomerID: customer.ID, Username: customer.Username, IsAdmin: s.admins[customerID]}, nil
}

func (s stubCustomerService) List(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

type stubAuditLog struct {
	listFn         func(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
	listByEntityFn func(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error)
}

func (s stubAuditLog) List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

func (s stubAuditLog) ListByEntity(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error) {
	if s.listByEntityFn == nil {
		return nil, nil
	}
	return s.listByEntityFn(ctx, entityType, entityID)
}

type stubReconciler struct {
	report jobs.Report
	err    error
}

func (s stubReconciler) Run(context.Context) (jobs.Report, error) {
	return s.report, s.err
}

func newTestHandler(orders OrderService, customers CustomerService, audit AuditLog, reconciler Reconciler) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		ReferenceAsset: "TRY",
	}
	return New(cfg, orders, customers, audit, reconciler, websocket.NewHub(), zap.NewNop().Sugar())
}

func serveWithAuth(t *testing.T, handler http.HandlerFunc, customerID string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken("secret", customerID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

// doRequest sends a request through the full router. An empty customerID
// sends no Authorization header.
func doRequest(t *testing.T, h *Handler, method, path string, body any, customerID string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			payload.WriteString(raw)
		} else if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		token, err := auth.GenerateToken("secret", customerID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}
