package store

import (
	"context"
	"database/sql"

	"brokerage/internal/models"
)

type CustomerStore struct {
	db DB
}

func NewCustomerStore(db DB) *CustomerStore {
	return &CustomerStore{db: db}
}

const customerColumns = `id, username, email, full_name, password_hash, active, created_at`

func (s *CustomerStore) Create(ctx context.Context, tx Execer, customer models.Customer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO customers (id, username, email, full_name, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, customer.ID, customer.Username, customer.Email, customer.FullName, customer.PasswordHash, customer.Active)
	return err
}

func (s *CustomerStore) GrantRole(ctx context.Context, tx Execer, customerID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO customer_roles (customer_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, customerID, role)
	return err
}

func (s *CustomerStore) GetByUsername(ctx context.Context, username string) (models.Customer, error) {
	var row models.Customer
	if err := s.db.GetContext(ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE username = $1`, username); err != nil {
		return models.Customer{}, err
	}
	return s.withRoles(ctx, row)
}

func (s *CustomerStore) GetByID(ctx context.Context, customerID string) (models.Customer, error) {
	var row models.Customer
	if err := s.db.GetContext(ctx, &row, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID); err != nil {
		return models.Customer{}, err
	}
	return s.withRoles(ctx, row)
}

func (s *CustomerStore) Roles(ctx context.Context, customerID string) ([]string, error) {
	roles := []string{}
	err := s.db.SelectContext(ctx, &roles, `
		SELECT role
		FROM customer_roles
		WHERE customer_id = $1
		ORDER BY role
	`, customerID)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *CustomerStore) IsAdmin(ctx context.Context, customerID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1)
		FROM customer_roles r
		JOIN customers c ON c.id = r.customer_id
		WHERE r.customer_id = $1 AND r.role = 'ADMIN' AND c.active
	`, customerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return count > 0, nil
}

func (s *CustomerStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM customer_roles WHERE role = 'ADMIN'`)
	return count > 0, err
}

func (s *CustomerStore) List(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	rows := []models.Customer{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *CustomerStore) withRoles(ctx context.Context, customer models.Customer) (models.Customer, error) {
	roles, err := s.Roles(ctx, customer.ID)
	if err != nil {
		return models.Customer{}, err
	}
	customer.Roles = roles
	return customer, nil
}
