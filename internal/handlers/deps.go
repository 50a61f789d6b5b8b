package handlers

import (
	"context"
	"time"

	"brokerage/internal/jobs"
	"brokerage/internal/models"
	"brokerage/internal/services"
	"brokerage/internal/store"

	"github.com/shopspring/decimal"
)

type OrderService interface {
	CreateOrder(ctx context.Context, actor services.Actor, req services.OrderRequest) (models.Order, error)
	CreateOrderForCustomer(ctx context.Context, actor services.Actor, customerID string, req services.OrderRequest) (models.Order, error)
	CancelOrder(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	CancelOrderAsAdmin(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	MatchOrder(ctx context.Context, actor services.Actor, orderID string) (models.Order, error)
	ListOrders(ctx context.Context, filter services.OrderFilter) ([]models.Order, error)
	ListAllOrders(ctx context.Context) ([]models.Order, error)
	GetCustomerOrders(ctx context.Context, customerID string, start, end *time.Time) ([]models.Order, error)
	GetCustomerAssets(ctx context.Context, customerID string) ([]models.Asset, error)
	Deposit(ctx context.Context, actor services.Actor, customerID, assetName string, amount decimal.Decimal) (models.Asset, error)
}

type CustomerService interface {
	Register(ctx context.Context, req services.RegisterRequest) (models.Customer, error)
	Authenticate(ctx context.Context, username, password string) (models.Customer, error)
	GetByID(ctx context.Context, customerID string) (models.Customer, error)
	IsAdmin(ctx context.Context, customerID string) (bool, error)
	ActorFor(ctx context.Context, customerID string) (services.Actor, error)
	List(ctx context.Context, limit, offset int) ([]models.Customer, error)
}

type AuditLog interface {
	List(ctx context.Context, limit, offset int) ([]store.AuditEntry, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]store.AuditEntry, error)
}

type Reconciler interface {
	Run(ctx context.Context) (jobs.Report, error)
}
