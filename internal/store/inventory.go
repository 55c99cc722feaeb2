package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// GetSKU reads the current stock, sales and price of a SKU
func (q *Queries) GetSKU(ctx context.Context, skuID int64) (*models.SKU, error) {
	var sku models.SKU
	err := sqlx.GetContext(ctx, q.db, &sku,
		"SELECT id, goods_id, name, price, stock, sales, updated_at FROM skus WHERE id = $1", skuID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sku %d: %w", skuID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sku, nil
}

// UpdateSKUStockIfUnchanged writes new stock and sales only if the stored
// stock still equals observedStock. The observed value is the concurrency
// token; false means a competing writer got there first.
func (q *Queries) UpdateSKUStockIfUnchanged(ctx context.Context, skuID int64, observedStock, newStock, newSales int) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE skus SET stock = $1, sales = $2, updated_at = NOW() WHERE id = $3 AND stock = $4",
		newStock, newSales, skuID, observedStock)
	if err != nil {
		return false, fmt.Errorf("failed to update sku stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// AddGoodsSales bumps the rolled-up sales counter of a goods aggregate
func (q *Queries) AddGoodsSales(ctx context.Context, goodsID int64, delta int) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE goods SET sales = sales + $1, updated_at = NOW() WHERE id = $2", delta, goodsID)
	if err != nil {
		return fmt.Errorf("failed to update goods sales: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("goods %d: %w", goodsID, ErrNotFound)
	}
	return nil
}

// GetGoods retrieves a goods aggregate
func (q *Queries) GetGoods(ctx context.Context, goodsID int64) (*models.Goods, error) {
	var goods models.Goods
	err := sqlx.GetContext(ctx, q.db, &goods, "SELECT id, name, sales FROM goods WHERE id = $1", goodsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goods %d: %w", goodsID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &goods, nil
}

// CreateGoods inserts a goods aggregate
func (s *Store) CreateGoods(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "INSERT INTO goods (name) VALUES ($1) RETURNING id", name)
	return id, err
}

// CreateSKU inserts a SKU under a goods aggregate
func (s *Store) CreateSKU(ctx context.Context, goodsID int64, name string, price decimal.Decimal, stock int) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO skus (goods_id, name, price, stock) VALUES ($1, $2, $3, $4) RETURNING id",
		goodsID, name, price, stock)
	return id, err
}
