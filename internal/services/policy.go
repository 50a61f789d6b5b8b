package services

import (
	"fmt"
	"strings"

	"brokerage/internal/amount"
	"brokerage/internal/models"

	"github.com/shopspring/decimal"
)

const maxAssetNameLength = 64

type OrderRequest struct {
	AssetName string
	Side      models.OrderSide
	Size      decimal.Decimal
	Price     decimal.Decimal
}

// OrderPolicy holds the rules an order must satisfy before any balance is
// touched.
type OrderPolicy struct {
	ReferenceAsset string
	MinSize        decimal.Decimal
	MinPrice       decimal.Decimal
}

func DefaultOrderPolicy() OrderPolicy {
	return OrderPolicy{
		ReferenceAsset: "TRY",
		MinSize:        decimal.New(1, -amount.Scale),
		MinPrice:       decimal.New(1, -amount.Scale),
	}
}

func (p OrderPolicy) Validate(req OrderRequest) error {
	if !req.Side.Valid() {
		return fmt.Errorf("%w: order side must be BUY or SELL, got %q", ErrInvalidArgument, req.Side)
	}
	if err := validateAssetName(req.AssetName); err != nil {
		return err
	}
	if !req.Size.IsPositive() {
		return fmt.Errorf("%w: size must be greater than zero, got %s", ErrInvalidArgument, req.Size)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero, got %s", ErrInvalidArgument, req.Price)
	}
	if req.Size.LessThan(p.MinSize) {
		return fmt.Errorf("%w: size must be at least %s", ErrInvalidArgument, p.MinSize)
	}
	if req.Price.LessThan(p.MinPrice) {
		return fmt.Errorf("%w: price must be at least %s", ErrInvalidArgument, p.MinPrice)
	}
	if !amount.Fits(req.Size) || !amount.Fits(req.Price) {
		return fmt.Errorf("%w: size and price allow at most %d decimal places", ErrInvalidArgument, amount.Scale)
	}
	if req.AssetName == p.ReferenceAsset {
		if req.Side == models.SideBuy {
			return fmt.Errorf("%w: cannot buy %s with %s", ErrPolicyViolation, req.AssetName, p.ReferenceAsset)
		}
		return fmt.Errorf("%w: cannot sell %s for %s", ErrPolicyViolation, req.AssetName, p.ReferenceAsset)
	}
	return nil
}

// Asset names are case sensitive and never normalized.
func validateAssetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: asset name is required", ErrInvalidArgument)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: asset name %q has surrounding whitespace", ErrInvalidArgument, name)
	}
	if len(name) > maxAssetNameLength {
		return fmt.Errorf("%w: asset name longer than %d characters", ErrInvalidArgument, maxAssetNameLength)
	}
	return nil
}
