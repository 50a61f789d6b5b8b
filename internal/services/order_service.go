package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brokerage/internal/amount"
	"brokerage/internal/db"
	"brokerage/internal/events"
	"brokerage/internal/models"
	"brokerage/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderStore interface {
	Create(ctx context.Context, tx store.Execer, order models.Order) error
	GetByID(ctx context.Context, q store.Getter, orderID string) (models.Order, error)
	GetByIDAndCustomer(ctx context.Context, q store.Getter, orderID, customerID string) (models.Order, error)
	UpdateStatus(ctx context.Context, tx store.Execer, orderID string, version int64, status models.OrderStatus) (int64, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	ListByCustomerAndDateRange(ctx context.Context, customerID string, start, end time.Time) ([]models.Order, error)
	ListByDateRange(ctx context.Context, start, end time.Time) ([]models.Order, error)
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
}

type CustomerLookup interface {
	GetByID(ctx context.Context, customerID string) (models.Customer, error)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	CustomerID string
	Username   string
	IsAdmin    bool
}

// OrderFilter narrows ListOrders. Start and End must be given together.
type OrderFilter struct {
	CustomerID string
	Start      *time.Time
	End        *time.Time
	Status     models.OrderStatus
	AssetName  string
}

const publishTimeout = 5 * time.Second

type OrderService struct {
	txRunner  db.TxRunner
	ledger    *AssetLedger
	orders    OrderStore
	customers CustomerLookup
	audit     AuditStore
	events    events.Publisher
	policy    OrderPolicy
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewOrderService(txRunner db.TxRunner, ledger *AssetLedger, orders OrderStore, customers CustomerLookup, audit AuditStore, publisher events.Publisher, policy OrderPolicy, logger *zap.SugaredLogger) *OrderService {
	return &OrderService{
		txRunner:  txRunner,
		ledger:    ledger,
		orders:    orders,
		customers: customers,
		audit:     audit,
		events:    publisher,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *OrderService) ReferenceAsset() string {
	return s.policy.ReferenceAsset
}

// CreateOrder places a PENDING order for the acting customer.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req OrderRequest) (models.Order, error) {
	if err := s.policy.Validate(req); err != nil {
		return models.Order{}, err
	}
	return s.placeOrder(ctx, actor.CustomerID, actor.CustomerID, req)
}

// CreateOrderForCustomer places a PENDING order on behalf of customerID. The
// request is validated before the customer is looked up.
func (s *OrderService) CreateOrderForCustomer(ctx context.Context, actor Actor, customerID string, req OrderRequest) (models.Order, error) {
	if err := s.policy.Validate(req); err != nil {
		return models.Order{}, err
	}
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return models.Order{}, err
	}
	return s.placeOrder(ctx, actor.CustomerID, customerID, req)
}

// placeOrder expects req to have passed the policy already.
func (s *OrderService) placeOrder(ctx context.Context, actorID, customerID string, req OrderRequest) (models.Order, error) {
	order := models.Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		AssetName:  req.AssetName,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		Status:     models.StatusPending,
		CreateDate: s.now().UTC(),
	}
	reservedName := order.ReservedAsset(s.policy.ReferenceAsset)
	required := order.ReservedAmount()

	var touched []models.Asset
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		touched = nil
		asset, err := s.ledger.AcquireExclusive(ctx, tx, customerID, reservedName)
		if errors.Is(err, ErrNotFound) {
			return insufficientBalance(reservedName, required, decimal.Zero)
		}
		if err != nil {
			return err
		}
		if asset.UsableSize.LessThan(required) {
			return insufficientBalance(reservedName, required, asset.UsableSize)
		}
		blocked, err := s.ledger.Block(ctx, tx, asset, required)
		if err != nil {
			return err
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return Classify(err)
		}
		touched = append(touched, blocked)
		return s.audit.Log(ctx, tx, actorID, events.OrderCreated, "order", order.ID, orderAuditData(order))
	})
	if err != nil {
		return models.Order{}, Classify(err)
	}
	s.logger.Infow("order created", "order_id", order.ID, "customer_id", customerID, "asset_name", order.AssetName, "side", order.Side, "size", order.Size.String(), "price", order.Price.String())
	s.afterCommit(ctx, events.OrderCreated, actorID, order, touched)
	return order, nil
}

// CancelOrder cancels a PENDING order. Non-admin actors only see their own
// orders; anyone else's order is reported as not found.
func (s *OrderService) CancelOrder(ctx context.Context, actor Actor, orderID string) (models.Order, error) {
	scope := actor.CustomerID
	if actor.IsAdmin {
		scope = ""
	}
	return s.cancel(ctx, actor.CustomerID, orderID, scope)
}

// CancelOrderAsAdmin cancels any customer's PENDING order.
func (s *OrderService) CancelOrderAsAdmin(ctx context.Context, actor Actor, orderID string) (models.Order, error) {
	return s.cancel(ctx, actor.CustomerID, orderID, "")
}

func (s *OrderService) cancel(ctx context.Context, actorID, orderID, scope string) (models.Order, error) {
	var order models.Order
	var touched []models.Asset
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		touched = nil
		loaded, err := s.loadOrder(ctx, tx, orderID, scope)
		if err != nil {
			return err
		}
		if loaded.Status != models.StatusPending {
			return fmt.Errorf("%w: cannot cancel order with status %s", ErrInvalidState, loaded.Status)
		}
		asset, err := s.ledger.AcquireExclusive(ctx, tx, loaded.CustomerID, loaded.ReservedAsset(s.policy.ReferenceAsset))
		if err != nil {
			return err
		}
		released, err := s.ledger.Unblock(ctx, tx, asset, loaded.ReservedAmount())
		if err != nil {
			return err
		}
		if err := s.transition(ctx, tx, &loaded, models.StatusCanceled); err != nil {
			return err
		}
		order = loaded
		touched = append(touched, released)
		return s.audit.Log(ctx, tx, actorID, events.OrderCanceled, "order", order.ID, orderAuditData(order))
	})
	if err != nil {
		return models.Order{}, Classify(err)
	}
	s.logger.Infow("order canceled", "order_id", order.ID, "customer_id", order.CustomerID, "actor_id", actorID)
	s.afterCommit(ctx, events.OrderCanceled, actorID, order, touched)
	return order, nil
}

// MatchOrder settles a PENDING order at its own price and size. The reserved
// amount leaves the debit asset and the counter amount is credited to the
// other asset of the same customer.
func (s *OrderService) MatchOrder(ctx context.Context, actor Actor, orderID string) (models.Order, error) {
	var order models.Order
	var touched []models.Asset
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		touched = nil
		loaded, err := s.loadOrder(ctx, tx, orderID, "")
		if err != nil {
			return err
		}
		if loaded.Status != models.StatusPending {
			return fmt.Errorf("%w: cannot match order with status %s", ErrInvalidState, loaded.Status)
		}
		debitName, creditName, creditAmount := loaded.SettlementLegs(s.policy.ReferenceAsset)
		debit, credit, err := s.ledger.AcquireSettlementPair(ctx, tx, loaded.CustomerID, debitName, creditName)
		if err != nil {
			return err
		}
		reserved := loaded.ReservedAmount()
		if debit, err = s.ledger.Unblock(ctx, tx, debit, reserved); err != nil {
			return err
		}
		if debit, err = s.ledger.Withdraw(ctx, tx, debit, reserved); err != nil {
			return err
		}
		if credit, err = s.ledger.Credit(ctx, tx, credit, creditAmount); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, &loaded, models.StatusMatched); err != nil {
			return err
		}
		order = loaded
		touched = append(touched, debit, credit)
		return s.audit.Log(ctx, tx, actor.CustomerID, events.OrderMatched, "order", order.ID, orderAuditData(order))
	})
	if err != nil {
		return models.Order{}, Classify(err)
	}
	s.logger.Infow("order matched", "order_id", order.ID, "customer_id", order.CustomerID, "actor_id", actor.CustomerID)
	s.afterCommit(ctx, events.OrderMatched, actor.CustomerID, order, touched)
	return order, nil
}

func (s *OrderService) loadOrder(ctx context.Context, tx *sqlx.Tx, orderID, scope string) (models.Order, error) {
	var (
		order models.Order
		err   error
	)
	if scope == "" {
		order, err = s.orders.GetByID(ctx, tx, orderID)
	} else {
		order, err = s.orders.GetByIDAndCustomer(ctx, tx, orderID, scope)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, orderNotFound(orderID)
		}
		return models.Order{}, Classify(err)
	}
	return order, nil
}

// transition writes the new status only if nobody changed the order since it
// was read; otherwise the whole unit of work fails with ErrConflict.
func (s *OrderService) transition(ctx context.Context, tx *sqlx.Tx, order *models.Order, next models.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidState, order.ID, order.Status, next)
	}
	rows, err := s.orders.UpdateStatus(ctx, tx, order.ID, order.Version, next)
	if err != nil {
		return Classify(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: order %s was modified concurrently", ErrConflict, order.ID)
	}
	order.Status = next
	order.Version++
	return nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	if (filter.Start == nil) != (filter.End == nil) {
		return nil, fmt.Errorf("%w: start and end date must be given together", ErrInvalidArgument)
	}
	if filter.Start != nil && filter.Start.After(*filter.End) {
		return nil, fmt.Errorf("%w: start date is after end date", ErrInvalidArgument)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidArgument, filter.Status)
	}
	var (
		orders []models.Order
		err    error
	)
	switch {
	case filter.CustomerID != "" && filter.Start != nil:
		orders, err = s.orders.ListByCustomerAndDateRange(ctx, filter.CustomerID, *filter.Start, *filter.End)
	case filter.CustomerID != "":
		orders, err = s.orders.ListByCustomer(ctx, filter.CustomerID)
	case filter.Start != nil:
		orders, err = s.orders.ListByDateRange(ctx, *filter.Start, *filter.End)
	case filter.Status != "":
		orders, err = s.orders.ListByStatus(ctx, filter.Status)
	default:
		orders, err = s.orders.ListAll(ctx)
	}
	if err != nil {
		return nil, Classify(err)
	}
	filtered := orders[:0]
	for _, order := range orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.AssetName != "" && order.AssetName != filter.AssetName {
			continue
		}
		filtered = append(filtered, order)
	}
	return filtered, nil
}

func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	return s.ListOrders(ctx, OrderFilter{})
}

// GetCustomerOrders lists a customer's orders, restricted to a creation date
// range when both bounds are given.
func (s *OrderService) GetCustomerOrders(ctx context.Context, customerID string, start, end *time.Time) ([]models.Order, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	if start == nil || end == nil {
		start, end = nil, nil
	}
	return s.ListOrders(ctx, OrderFilter{CustomerID: customerID, Start: start, End: end})
}

func (s *OrderService) GetCustomerAssets(ctx context.Context, customerID string) ([]models.Asset, error) {
	return s.ledger.GetCustomerAssets(ctx, customerID)
}

// Deposit credits amount of assetName to an existing customer.
func (s *OrderService) Deposit(ctx context.Context, actor Actor, customerID, assetName string, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: deposit amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	if err := validateAssetName(assetName); err != nil {
		return models.Asset{}, err
	}
	if err := s.ensureCustomer(ctx, customerID); err != nil {
		return models.Asset{}, err
	}
	return s.ledger.DepositFunds(ctx, actor.CustomerID, customerID, assetName, amount)
}

func (s *OrderService) ensureCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
		}
		return Classify(err)
	}
	return nil
}

// afterCommit fans a committed change out to balance subscribers and the
// event stream. Failures here are logged and never undo the change.
func (s *OrderService) afterCommit(ctx context.Context, eventType, actorID string, order models.Order, touched []models.Asset) {
	s.ledger.Broadcast(touched...)
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := s.events.PublishOrder(publishCtx, events.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		ActorID:    actorID,
		AssetName:  order.AssetName,
		Side:       string(order.Side),
		Size:       amount.Format(order.Size),
		Price:      amount.Format(order.Price),
		Status:     string(order.Status),
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warnw("failed to publish order event", "order_id", order.ID, "type", eventType, "error", err)
	}
}

func orderAuditData(order models.Order) string {
	data, _ := json.Marshal(map[string]string{
		"customer_id": order.CustomerID,
		"asset_name":  order.AssetName,
		"order_side":  string(order.Side),
		"size":        amount.Format(order.Size),
		"price":       amount.Format(order.Price),
		"status":      string(order.Status),
	})
	return string(data)
}
