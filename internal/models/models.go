package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

type Customer struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Roles        []string  `db:"-" json:"roles"`
}

func (c Customer) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Asset is one named balance of a customer. UsableSize is the part of Size
// not reserved by pending orders; 0 <= UsableSize <= Size always holds.
type Asset struct {
	ID         string          `db:"id" json:"id"`
	CustomerID string          `db:"customer_id" json:"customer_id"`
	AssetName  string          `db:"asset_name" json:"asset_name"`
	Size       decimal.Decimal `db:"size" json:"size"`
	UsableSize decimal.Decimal `db:"usable_size" json:"usable_size"`
	Version    int64           `db:"version" json:"version"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Blocked is the amount currently reserved by pending orders.
func (a Asset) Blocked() decimal.Decimal {
	return a.Size.Sub(a.UsableSize)
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusMatched  OrderStatus = "MATCHED"
	StatusCanceled OrderStatus = "CANCELED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusMatched, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. MATCHED and CANCELED
// are terminal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == StatusPending && (next == StatusMatched || next == StatusCanceled)
}

type Order struct {
	ID         string          `db:"id" json:"id"`
	CustomerID string          `db:"customer_id" json:"customer_id"`
	AssetName  string          `db:"asset_name" json:"asset_name"`
	Side       OrderSide       `db:"order_side" json:"order_side"`
	Size       decimal.Decimal `db:"size" json:"size"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Status     OrderStatus     `db:"status" json:"status"`
	CreateDate time.Time       `db:"create_date" json:"create_date"`
	Version    int64           `db:"version" json:"version"`
}

// Notional is price multiplied by size.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// ReservedAsset is the asset whose usable balance the order blocks: the
// reference asset for a BUY, the traded asset for a SELL.
func (o Order) ReservedAsset(reference string) string {
	if o.Side == SideBuy {
		return reference
	}
	return o.AssetName
}

// ReservedAmount is how much of ReservedAsset the order blocks.
func (o Order) ReservedAmount() decimal.Decimal {
	if o.Side == SideBuy {
		return o.Notional()
	}
	return o.Size
}

// SettlementLegs returns the asset debited and the asset credited when the
// order is matched, along with the credited amount.
func (o Order) SettlementLegs(reference string) (debit string, credit string, creditAmount decimal.Decimal) {
	if o.Side == SideBuy {
		return reference, o.AssetName, o.Size
	}
	return o.AssetName, reference, o.Notional()
}
