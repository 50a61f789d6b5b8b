package store

import (
	"context"
	"time"

	"brokerage/internal/models"
)

type OrderStore struct {
	db DB
}

func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id, customer_id, asset_name, order_side, size, price, status, create_date, version`

func (s *OrderStore) Create(ctx context.Context, tx Execer, order models.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, asset_name, order_side, size, price, status, create_date, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.CustomerID, order.AssetName, string(order.Side), order.Size, order.Price, string(order.Status), order.CreateDate, order.Version)
	return err
}

func (s *OrderStore) GetByID(ctx context.Context, q Getter, orderID string) (models.Order, error) {
	var row models.Order
	err := q.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return models.Order{}, err
	}
	return row, nil
}

func (s *OrderStore) GetByIDAndCustomer(ctx context.Context, q Getter, orderID, customerID string) (models.Order, error) {
	var row models.Order
	err := q.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND customer_id = $2`, orderID, customerID)
	if err != nil {
		return models.Order{}, err
	}
	return row, nil
}

// UpdateStatus moves a PENDING order to status when its version still equals
// version. It returns the number of rows changed; zero means another unit of
// work got there first.
func (s *OrderStore) UpdateStatus(ctx context.Context, tx Execer, orderID string, version int64, status models.OrderStatus) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND status = 'PENDING'
	`, string(status), orderID, version)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *OrderStore) ListByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY create_date DESC`, customerID)
}

func (s *OrderStore) ListByCustomerAndDateRange(ctx context.Context, customerID string, start, end time.Time) ([]models.Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1 AND create_date BETWEEN $2 AND $3
		ORDER BY create_date DESC
	`, customerID, start, end)
}

func (s *OrderStore) ListByDateRange(ctx context.Context, start, end time.Time) ([]models.Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE create_date BETWEEN $1 AND $2
		ORDER BY create_date DESC
	`, start, end)
}

func (s *OrderStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY create_date DESC`, string(status))
}

func (s *OrderStore) ListAll(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY create_date DESC`)
}

func (s *OrderStore) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows := []models.Order{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
