package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"brokerage/internal/amount"
	"brokerage/internal/db"
	"brokerage/internal/models"
	"brokerage/internal/store"
	"brokerage/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AssetStore interface {
	Ensure(ctx context.Context, tx store.Execer, id, customerID, assetName string) (int64, error)
	GetByCustomerAndName(ctx context.Context, q store.Getter, customerID, assetName string) (models.Asset, error)
	GetForUpdate(ctx context.Context, tx store.Getter, customerID, assetName string) (models.Asset, error)
	UpdateBalances(ctx context.Context, tx store.Execer, assetID string, size, usableSize decimal.Decimal) (int64, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.Asset, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type BalanceHub interface {
	BroadcastBalance(customerID string, update websocket.BalanceUpdate)
}

// AssetLedger keeps per customer, per asset balances. The tx-scoped methods
// run inside the caller's unit of work; every mutating one expects the row
// to be locked through AcquireExclusive or AcquireSettlementPair in that same
// unit of work.
type AssetLedger struct {
	txRunner db.TxRunner
	assets   AssetStore
	audit    AuditStore
	hub      BalanceHub
	logger   *zap.SugaredLogger
}

func NewAssetLedger(txRunner db.TxRunner, assets AssetStore, audit AuditStore, hub BalanceHub, logger *zap.SugaredLogger) *AssetLedger {
	return &AssetLedger{
		txRunner: txRunner,
		assets:   assets,
		audit:    audit,
		hub:      hub,
		logger:   logger,
	}
}

// FindOrCreate returns the (customerID, assetName) row, inserting an empty
// one first when it does not exist. It takes no lock.
func (l *AssetLedger) FindOrCreate(ctx context.Context, tx *sqlx.Tx, customerID, assetName string) (models.Asset, error) {
	if _, err := l.assets.Ensure(ctx, tx, uuid.NewString(), customerID, assetName); err != nil {
		return models.Asset{}, Classify(err)
	}
	asset, err := l.assets.GetByCustomerAndName(ctx, tx, customerID, assetName)
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	return asset, nil
}

// AcquireExclusive locks the row until tx ends and returns its current
// state. A missing row is ErrNotFound.
func (l *AssetLedger) AcquireExclusive(ctx context.Context, tx *sqlx.Tx, customerID, assetName string) (models.Asset, error) {
	asset, err := l.assets.GetForUpdate(ctx, tx, customerID, assetName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Asset{}, fmt.Errorf("%w: asset %s of customer %s", ErrNotFound, assetName, customerID)
		}
		return models.Asset{}, Classify(err)
	}
	return asset, nil
}

// AcquireSettlementPair locks the debit and credit rows of one customer,
// creating the credit row when needed. Rows are always locked in lexical
// asset name order so that two units of work touching the same pair cannot
// deadlock.
func (l *AssetLedger) AcquireSettlementPair(ctx context.Context, tx *sqlx.Tx, customerID, debitName, creditName string) (models.Asset, models.Asset, error) {
	if debitName == creditName {
		return models.Asset{}, models.Asset{}, fmt.Errorf("%w: settlement needs two distinct assets, got %s twice", ErrInvalidArgument, debitName)
	}
	if _, err := l.FindOrCreate(ctx, tx, customerID, creditName); err != nil {
		return models.Asset{}, models.Asset{}, err
	}
	first, second := orderedNames(debitName, creditName)
	firstAsset, err := l.AcquireExclusive(ctx, tx, customerID, first)
	if err != nil {
		return models.Asset{}, models.Asset{}, err
	}
	secondAsset, err := l.AcquireExclusive(ctx, tx, customerID, second)
	if err != nil {
		return models.Asset{}, models.Asset{}, err
	}
	if first == debitName {
		return firstAsset, secondAsset, nil
	}
	return secondAsset, firstAsset, nil
}

// Deposit credits amount to the row, creating it first when needed.
func (l *AssetLedger) Deposit(ctx context.Context, tx *sqlx.Tx, customerID, assetName string, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: deposit amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	if err := validateAssetName(assetName); err != nil {
		return models.Asset{}, err
	}
	if _, err := l.FindOrCreate(ctx, tx, customerID, assetName); err != nil {
		return models.Asset{}, err
	}
	asset, err := l.AcquireExclusive(ctx, tx, customerID, assetName)
	if err != nil {
		return models.Asset{}, err
	}
	return l.Credit(ctx, tx, asset, amount)
}

// Credit increases size and usable size by amount.
func (l *AssetLedger) Credit(ctx context.Context, tx *sqlx.Tx, asset models.Asset, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: credit amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	return l.write(ctx, tx, asset, asset.Size.Add(amount), asset.UsableSize.Add(amount))
}

// Withdraw decreases size and usable size by amount. Callers check the usable
// balance under the row lock first; the check here is a second guard only.
func (l *AssetLedger) Withdraw(ctx context.Context, tx *sqlx.Tx, asset models.Asset, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: withdraw amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	if asset.UsableSize.LessThan(amount) {
		return models.Asset{}, insufficientBalance(asset.AssetName, amount, asset.UsableSize)
	}
	return l.write(ctx, tx, asset, asset.Size.Sub(amount), asset.UsableSize.Sub(amount))
}

// Block moves amount from usable to reserved; size is unchanged. As with
// Withdraw, the usable check repeats the caller's check made under the lock.
func (l *AssetLedger) Block(ctx context.Context, tx *sqlx.Tx, asset models.Asset, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: block amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	if asset.UsableSize.LessThan(amount) {
		return models.Asset{}, insufficientBalance(asset.AssetName, amount, asset.UsableSize)
	}
	return l.write(ctx, tx, asset, asset.Size, asset.UsableSize.Sub(amount))
}

// Unblock returns a reserved amount to usable; size is unchanged.
func (l *AssetLedger) Unblock(ctx context.Context, tx *sqlx.Tx, asset models.Asset, amount decimal.Decimal) (models.Asset, error) {
	if !amount.IsPositive() {
		return models.Asset{}, fmt.Errorf("%w: unblock amount must be greater than zero, got %s", ErrInvalidArgument, amount)
	}
	if asset.Blocked().LessThan(amount) {
		return models.Asset{}, fmt.Errorf("%w: cannot release %s %s, only %s is reserved", ErrInvalidState, amount, asset.AssetName, asset.Blocked())
	}
	return l.write(ctx, tx, asset, asset.Size, asset.UsableSize.Add(amount))
}

func (l *AssetLedger) write(ctx context.Context, tx *sqlx.Tx, asset models.Asset, size, usable decimal.Decimal) (models.Asset, error) {
	rows, err := l.assets.UpdateBalances(ctx, tx, asset.ID, size, usable)
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	if rows == 0 {
		return models.Asset{}, fmt.Errorf("%w: asset %s of customer %s", ErrNotFound, asset.AssetName, asset.CustomerID)
	}
	asset.Size = size
	asset.UsableSize = usable
	asset.Version++
	return asset, nil
}

// DepositFunds credits amount in its own unit of work.
func (l *AssetLedger) DepositFunds(ctx context.Context, actorID, customerID, assetName string, amount decimal.Decimal) (models.Asset, error) {
	var updated models.Asset
	err := l.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		asset, err := l.Deposit(ctx, tx, customerID, assetName, amount)
		if err != nil {
			return err
		}
		updated = asset
		data, _ := json.Marshal(map[string]string{
			"customer_id": customerID,
			"asset_name":  assetName,
			"amount":      amount.String(),
		})
		return l.audit.Log(ctx, tx, actorID, "asset.deposit", "asset", asset.ID, string(data))
	})
	if err != nil {
		return models.Asset{}, Classify(err)
	}
	l.logger.Infow("deposit", "customer_id", customerID, "asset_name", assetName, "amount", amount.String())
	l.Broadcast(updated)
	return updated, nil
}

func (l *AssetLedger) GetCustomerAssets(ctx context.Context, customerID string) ([]models.Asset, error) {
	assets, err := l.assets.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, Classify(err)
	}
	return assets, nil
}

// Broadcast pushes committed asset states to their owners.
func (l *AssetLedger) Broadcast(assets ...models.Asset) {
	for _, asset := range assets {
		l.hub.BroadcastBalance(asset.CustomerID, websocket.BalanceUpdate{
			AssetName:  asset.AssetName,
			Size:       amount.Format(asset.Size),
			UsableSize: amount.Format(asset.UsableSize),
		})
	}
}

func orderedNames(first, second string) (string, string) {
	if first <= second {
		return first, second
	}
	return second, first
}
