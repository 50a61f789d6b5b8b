package store

import (
	"context"

	"brokerage/internal/models"

	"github.com/shopspring/decimal"
)

type AssetStore struct {
	db DB
}

// AssetReconciliation compares the amount blocked on an asset row with the
// reservations of the customer's pending orders against that asset.
type AssetReconciliation struct {
	AssetID    string          `db:"id"`
	CustomerID string          `db:"customer_id"`
	AssetName  string          `db:"asset_name"`
	Size       decimal.Decimal `db:"size"`
	UsableSize decimal.Decimal `db:"usable_size"`
	Blocked    decimal.Decimal `db:"blocked"`
	Reserved   decimal.Decimal `db:"reserved"`
	Difference decimal.Decimal `db:"difference"`
}

func (r AssetReconciliation) Balanced() bool {
	return r.Difference.IsZero() && !r.UsableSize.IsNegative() && r.UsableSize.LessThanOrEqual(r.Size)
}

func NewAssetStore(db DB) *AssetStore {
	return &AssetStore{db: db}
}

// Ensure inserts an empty row for (customerID, assetName) unless one exists.
// It returns the number of rows inserted.
func (s *AssetStore) Ensure(ctx context.Context, tx Execer, id, customerID, assetName string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO assets (id, customer_id, asset_name, size, usable_size)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (customer_id, asset_name) DO NOTHING
	`, id, customerID, assetName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *AssetStore) GetByCustomerAndName(ctx context.Context, q Getter, customerID, assetName string) (models.Asset, error) {
	var row models.Asset
	err := q.GetContext(ctx, &row, `
		SELECT id, customer_id, asset_name, size, usable_size, version, updated_at
		FROM assets
		WHERE customer_id = $1 AND asset_name = $2
	`, customerID, assetName)
	if err != nil {
		return models.Asset{}, err
	}
	return row, nil
}

func (s *AssetStore) GetForUpdate(ctx context.Context, tx Getter, customerID, assetName string) (models.Asset, error) {
	var row models.Asset
	err := tx.GetContext(ctx, &row, `
		SELECT id, customer_id, asset_name, size, usable_size, version, updated_at
		FROM assets
		WHERE customer_id = $1 AND asset_name = $2
		FOR UPDATE
	`, customerID, assetName)
	if err != nil {
		return models.Asset{}, err
	}
	return row, nil
}

func (s *AssetStore) UpdateBalances(ctx context.Context, tx Execer, assetID string, size, usableSize decimal.Decimal) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE assets
		SET size = $1, usable_size = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
	`, size, usableSize, assetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *AssetStore) ListByCustomer(ctx context.Context, customerID string) ([]models.Asset, error) {
	rows := []models.Asset{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, customer_id, asset_name, size, usable_size, version, updated_at
		FROM assets
		WHERE customer_id = $1
		ORDER BY asset_name
	`, customerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Reconcile reports, for every asset row, the blocked amount next to the sum
// of pending reservations. BUY orders reserve price*size of referenceAsset,
// SELL orders reserve size of the traded asset.
func (s *AssetStore) Reconcile(ctx context.Context, referenceAsset string) ([]AssetReconciliation, error) {
	rows := []AssetReconciliation{}
	err := s.db.SelectContext(ctx, &rows, `
		WITH reserved AS (
			SELECT customer_id,
			       CASE WHEN order_side = 'BUY' THEN $1::varchar ELSE asset_name END AS asset_name,
			       SUM(CASE WHEN order_side = 'BUY' THEN price * size ELSE size END) AS amount
			FROM orders
			WHERE status = 'PENDING'
			GROUP BY 1, 2
		)
		SELECT a.id,
		       a.customer_id,
		       a.asset_name,
		       a.size,
		       a.usable_size,
		       (a.size - a.usable_size) AS blocked,
		       COALESCE(r.amount, 0) AS reserved,
		       (a.size - a.usable_size - COALESCE(r.amount, 0)) AS difference
		FROM assets a
		LEFT JOIN reserved r ON r.customer_id = a.customer_id AND r.asset_name = a.asset_name
		ORDER BY a.customer_id, a.asset_name
	`, referenceAsset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
