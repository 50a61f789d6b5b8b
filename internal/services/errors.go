package services

import (
	"database/sql"
	"errors"
	"fmt"

	"brokerage/internal/db"

	"github.com/shopspring/decimal"
)

// Error kinds. Concrete errors wrap exactly one of these with the offending
// values; match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidState        = errors.New("invalid state")
	ErrPolicyViolation     = errors.New("policy violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

var kinds = []error{
	ErrNotFound,
	ErrInvalidArgument,
	ErrInvalidState,
	ErrPolicyViolation,
	ErrInsufficientBalance,
	ErrConflict,
	ErrInvalidCredentials,
}

// Kind returns the error kind err belongs to, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Classify maps storage failures onto error kinds: lock timeouts,
// serialization failures and deadlocks become ErrConflict, a missing row
// becomes ErrNotFound. Errors that already carry a kind pass through.
func Classify(err error) error {
	if err == nil || Kind(err) != nil {
		return err
	}
	if db.IsConflict(err) {
		return fmt.Errorf("%w: concurrent update, retry the request: %v", ErrConflict, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func insufficientBalance(assetName string, required, available decimal.Decimal) error {
	return fmt.Errorf("%w: insufficient %s balance, required %s, available %s", ErrInsufficientBalance, assetName, required.String(), available.String())
}

func orderNotFound(orderID string) error {
	return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
}
