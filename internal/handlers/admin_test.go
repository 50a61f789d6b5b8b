package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brokerage/internal/jobs"
	"brokerage/internal/models"
	"brokerage/internal/services"
	"brokerage/internal/store"

	"github.com/shopspring/decimal"
)

func adminCustomers() stubCustomerService {
	return stubCustomerService{admins: map[string]bool{"admin-1": true}}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	handler := newTestHandler(stubOrderService{
		listAllFn: func(context.Context) ([]models.Order, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodGet, "/admin/orders/all", nil, "cust-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	rr = doRequest(t, handler, http.MethodGet, "/admin/orders/all", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminCreateOrderForCustomer(t *testing.T) {
	var gotCustomer string
	var gotActor services.Actor
	handler := newTestHandler(stubOrderService{
		createForFn: func(_ context.Context, actor services.Actor, customerID string, req services.OrderRequest) (models.Order, error) {
			gotActor, gotCustomer = actor, customerID
			return models.Order{ID: "order-1", CustomerID: customerID, AssetName: req.AssetName, Side: req.Side, Status: models.StatusPending}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodPost, "/admin/orders", map[string]string{
		"customer_id": "cust-7",
		"asset_name":  "AAPL",
		"order_side":  "SELL",
		"size":        "3",
		"price":       "99.5",
	}, "admin-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCustomer != "cust-7" || !gotActor.IsAdmin || gotActor.CustomerID != "admin-1" {
		t.Fatalf("unexpected call customer=%q actor=%+v", gotCustomer, gotActor)
	}

	rr = doRequest(t, handler, http.MethodPost, "/admin/orders", map[string]string{
		"asset_name": "AAPL", "order_side": "SELL", "size": "3", "price": "99.5",
	}, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customer_id, got %d", rr.Code)
	}
}

func TestAdminMatchOrder(t *testing.T) {
	var gotID string
	handler := newTestHandler(stubOrderService{
		matchFn: func(_ context.Context, _ services.Actor, orderID string) (models.Order, error) {
			gotID = orderID
			if orderID == "done" {
				return models.Order{}, fmt.Errorf("%w: cannot match order with status MATCHED", services.ErrInvalidState)
			}
			return models.Order{ID: orderID, Status: models.StatusMatched}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodPost, "/admin/orders/match", map[string]string{"order_id": "order-1"}, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotID != "order-1" {
		t.Fatalf("expected order-1, got %q", gotID)
	}
	rr = doRequest(t, handler, http.MethodPost, "/admin/orders/match", map[string]string{"order_id": "done"}, "admin-1")
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Code != "invalid_state" {
		t.Fatalf("expected 400 invalid_state, got %d", rr.Code)
	}
	rr = doRequest(t, handler, http.MethodPost, "/admin/orders/match", map[string]string{}, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without order_id, got %d", rr.Code)
	}
}

func TestAdminCancelOrder(t *testing.T) {
	var gotID string
	handler := newTestHandler(stubOrderService{
		cancelAsAdminFn: func(_ context.Context, _ services.Actor, orderID string) (models.Order, error) {
			gotID = orderID
			return models.Order{ID: orderID, Status: models.StatusCanceled}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodDelete, "/admin/orders/order-3", nil, "admin-1")
	if rr.Code != http.StatusOK || gotID != "order-3" {
		t.Fatalf("expected cancel of order-3, got %d %q", rr.Code, gotID)
	}
}

func TestAdminListOrdersFilters(t *testing.T) {
	var got services.OrderFilter
	handler := newTestHandler(stubOrderService{
		listFn: func(_ context.Context, filter services.OrderFilter) ([]models.Order, error) {
			got = filter
			return []models.Order{{ID: "order-1"}}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodGet, "/admin/orders?customer_id=cust-2&asset_name=AAPL&status=MATCHED", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.CustomerID != "cust-2" || got.AssetName != "AAPL" || got.Status != models.StatusMatched || got.Start != nil {
		t.Fatalf("unexpected filter %+v", got)
	}
}

func TestAdminCustomerOrdersAndAssets(t *testing.T) {
	var gotStart, gotEnd *time.Time
	handler := newTestHandler(stubOrderService{
		customerOrdersFn: func(_ context.Context, customerID string, start, end *time.Time) ([]models.Order, error) {
			gotStart, gotEnd = start, end
			return []models.Order{{ID: "order-1", CustomerID: customerID}}, nil
		},
		customerAssetsFn: func(_ context.Context, customerID string) ([]models.Asset, error) {
			return []models.Asset{{CustomerID: customerID, AssetName: "TRY"}}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodGet, "/admin/customers/cust-2/orders?start_date=2024-01-01T00:00:00Z&end_date=2024-01-31T23:59:59Z", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotStart == nil || gotEnd == nil {
		t.Fatal("expected both bounds to be passed")
	}
	rr = doRequest(t, handler, http.MethodGet, "/admin/customers/cust-2/assets", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdminDeposit(t *testing.T) {
	var gotCustomer, gotAsset string
	var gotAmount decimal.Decimal
	handler := newTestHandler(stubOrderService{
		depositFn: func(_ context.Context, _ services.Actor, customerID, assetName string, amount decimal.Decimal) (models.Asset, error) {
			gotCustomer, gotAsset, gotAmount = customerID, assetName, amount
			return models.Asset{CustomerID: customerID, AssetName: assetName, Size: amount, UsableSize: amount}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodPost, "/admin/customers/cust-2/deposits", `{"asset_name":"TRY","amount":"2500.75"}`, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCustomer != "cust-2" || gotAsset != "TRY" || gotAmount.String() != "2500.75" {
		t.Fatalf("unexpected deposit %s %s %s", gotCustomer, gotAsset, gotAmount)
	}
	rr = doRequest(t, handler, http.MethodPost, "/admin/customers/cust-2/deposits", `{"asset_name":"TRY","amount":"abc"}`, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListAuditLogs(t *testing.T) {
	var gotLimit, gotOffset int
	var gotEntity string
	handler := newTestHandler(stubOrderService{}, adminCustomers(), stubAuditLog{
		listFn: func(_ context.Context, limit, offset int) ([]store.AuditEntry, error) {
			gotLimit, gotOffset = limit, offset
			return []store.AuditEntry{{ID: "a1", Action: "order.created"}}, nil
		},
		listByEntityFn: func(_ context.Context, entityType, entityID string) ([]store.AuditEntry, error) {
			gotEntity = entityType + "/" + entityID
			return nil, nil
		},
	}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodGet, "/admin/audit?limit=10&page=3", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 10 || gotOffset != 20 {
		t.Fatalf("expected limit 10 offset 20, got %d %d", gotLimit, gotOffset)
	}
	rr = doRequest(t, handler, http.MethodGet, "/admin/audit?entity_type=order&entity_id=order-1", nil, "admin-1")
	if rr.Code != http.StatusOK || gotEntity != "order/order-1" {
		t.Fatalf("expected entity lookup, got %d %q", rr.Code, gotEntity)
	}
}

func TestReconcile(t *testing.T) {
	report := jobs.Report{Assets: 2, Mismatches: []store.AssetReconciliation{{AssetName: "AAPL"}}}
	handler := newTestHandler(stubOrderService{}, adminCustomers(), stubAuditLog{}, stubReconciler{report: report})

	rr := doRequest(t, handler, http.MethodGet, "/admin/reconcile", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body jobs.Report
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Assets != 2 || len(body.Mismatches) != 1 {
		t.Fatalf("unexpected report %+v", body)
	}
}

func TestWSBalancesMissingToken(t *testing.T) {
	handler := newTestHandler(stubOrderService{}, stubCustomerService{}, stubAuditLog{}, stubReconciler{})
	req := httptest.NewRequest(http.MethodGet, "/ws/balances", nil)
	rr := httptest.NewRecorder()
	handler.WSBalances(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/ws/balances?token=bogus", nil)
	rr = httptest.NewRecorder()
	handler.WSBalances(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminListCustomers(t *testing.T) {
	var gotLimit, gotOffset int
	handler := newTestHandler(stubOrderService{}, stubCustomerService{
		admins: map[string]bool{"admin-1": true},
		listFn: func(_ context.Context, limit, offset int) ([]models.Customer, error) {
			gotLimit, gotOffset = limit, offset
			return []models.Customer{{ID: "cust-1", Username: "alice", PasswordHash: "hash"}}, nil
		},
	}, stubAuditLog{}, stubReconciler{})

	rr := doRequest(t, handler, http.MethodGet, "/admin/customers?limit=5&page=2", nil, "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 5 || gotOffset != 5 {
		t.Fatalf("expected limit 5 offset 5, got %d %d", gotLimit, gotOffset)
	}
	if strings.Contains(rr.Body.String(), "hash") {
		t.Fatalf("password hash leaked: %s", rr.Body.String())
	}
	rr = doRequest(t, handler, http.MethodGet, "/admin/customers", nil, "cust-1")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminDepositRejectsNonPositiveAmount(t *testing.T) {
	handler := newTestHandler(stubOrderService{
		depositFn: func(context.Context, services.Actor, string, string, decimal.Decimal) (models.Asset, error) {
			t.Fatal("service should not be called")
			return models.Asset{}, nil
		},
	}, adminCustomers(), stubAuditLog{}, stubReconciler{})

	for _, body := range []string{`{"asset_name":"TRY","amount":"0"}`, `{"asset_name":"TRY","amount":"-5"}`} {
		rr := doRequest(t, handler, http.MethodPost, "/admin/customers/cust-2/deposits", body, "admin-1")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
		if !strings.Contains(decodeError(t, rr).Message, "amount must be positive") {
			t.Fatalf("%s: unexpected message", body)
		}
	}
}
