package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"brokerage/internal/auth"
	"brokerage/internal/db"
	"brokerage/internal/models"
	"brokerage/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CustomerStore interface {
	Create(ctx context.Context, tx store.Execer, customer models.Customer) error
	GrantRole(ctx context.Context, tx store.Execer, customerID, role string) error
	GetByUsername(ctx context.Context, username string) (models.Customer, error)
	GetByID(ctx context.Context, customerID string) (models.Customer, error)
	IsAdmin(ctx context.Context, customerID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.Customer, error)
}

type RegisterRequest struct {
	Username       string
	Email          string
	FullName       string
	Password       string
	InitialDeposit decimal.Decimal
	Admin          bool
}

type CustomerService struct {
	txRunner  db.TxRunner
	customers CustomerStore
	ledger    *AssetLedger
	audit     AuditStore
	reference string
	logger    *zap.SugaredLogger
}

func NewCustomerService(txRunner db.TxRunner, customers CustomerStore, ledger *AssetLedger, audit AuditStore, referenceAsset string, logger *zap.SugaredLogger) *CustomerService {
	return &CustomerService{
		txRunner:  txRunner,
		customers: customers,
		ledger:    ledger,
		audit:     audit,
		reference: referenceAsset,
		logger:    logger,
	}
}

// Register creates an active customer. A positive InitialDeposit is credited
// to the reference asset in the same unit of work.
func (s *CustomerService) Register(ctx context.Context, req RegisterRequest) (models.Customer, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		return models.Customer{}, fmt.Errorf("%w: username and password are required", ErrInvalidArgument)
	}
	if req.InitialDeposit.IsNegative() {
		return models.Customer{}, fmt.Errorf("%w: initial deposit cannot be negative", ErrInvalidArgument)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.Customer{}, err
	}
	customer := models.Customer{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
		Roles:        []string{models.RoleCustomer},
	}
	if req.Admin {
		customer.Roles = append(customer.Roles, models.RoleAdmin)
	}

	var funded []models.Asset
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		funded = nil
		if err := s.customers.Create(ctx, tx, customer); err != nil {
			return err
		}
		for _, role := range customer.Roles {
			if err := s.customers.GrantRole(ctx, tx, customer.ID, role); err != nil {
				return err
			}
		}
		if req.InitialDeposit.IsPositive() {
			asset, err := s.ledger.Deposit(ctx, tx, customer.ID, s.reference, req.InitialDeposit)
			if err != nil {
				return err
			}
			funded = append(funded, asset)
		}
		data, _ := json.Marshal(map[string]any{
			"username": customer.Username,
			"roles":    customer.Roles,
		})
		return s.audit.Log(ctx, tx, customer.ID, "customer.registered", "customer", customer.ID, string(data))
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.Customer{}, fmt.Errorf("%w: username or email already taken", ErrPolicyViolation)
		}
		return models.Customer{}, Classify(err)
	}
	s.logger.Infow("customer registered", "customer_id", customer.ID, "username", customer.Username, "admin", req.Admin)
	s.ledger.Broadcast(funded...)
	return customer, nil
}

// Authenticate checks the credentials and returns the customer they belong
// to. Unknown users, wrong passwords and inactive accounts all fail with
// ErrInvalidCredentials.
func (s *CustomerService) Authenticate(ctx context.Context, username, password string) (models.Customer, error) {
	customer, err := s.customers.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Customer{}, ErrInvalidCredentials
		}
		return models.Customer{}, Classify(err)
	}
	if !auth.CheckPassword(customer.PasswordHash, password) || !customer.Active {
		s.logger.Infow("login rejected", "username", customer.Username)
		return models.Customer{}, ErrInvalidCredentials
	}
	return customer, nil
}

func (s *CustomerService) GetByID(ctx context.Context, customerID string) (models.Customer, error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Customer{}, fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
		}
		return models.Customer{}, Classify(err)
	}
	return customer, nil
}

func (s *CustomerService) GetByUsername(ctx context.Context, username string) (models.Customer, error) {
	customer, err := s.customers.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Customer{}, fmt.Errorf("%w: customer %s", ErrNotFound, username)
		}
		return models.Customer{}, Classify(err)
	}
	return customer, nil
}

func (s *CustomerService) IsAdmin(ctx context.Context, customerID string) (bool, error) {
	return s.customers.IsAdmin(ctx, customerID)
}

func (s *CustomerService) List(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.customers.List(ctx, limit, offset)
}

// ActorFor resolves the caller of a request.
func (s *CustomerService) ActorFor(ctx context.Context, customerID string) (Actor, error) {
	customer, err := s.GetByID(ctx, customerID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{
		CustomerID: customer.ID,
		Username:   customer.Username,
		IsAdmin:    customer.Active && customer.HasRole(models.RoleAdmin),
	}, nil
}
