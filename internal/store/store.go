package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Querier is the set of statements available to settlement and payment
// reconciliation. It is satisfied both by the pool-bound queries of a Store
// and by the transaction-bound queries handed to InSavepoint callbacks.
type Querier interface {
	Savepoint(ctx context.Context, name string, fn func(q Querier) error) error

	CreateOrder(ctx context.Context, order *models.Order) error
	UpdateOrderTotals(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	TransitionOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error)
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error

	GetSKU(ctx context.Context, skuID int64) (*models.SKU, error)
	UpdateSKUStockIfUnchanged(ctx context.Context, skuID int64, observedStock, newStock, newSales int) (bool, error)
	AddGoodsSales(ctx context.Context, goodsID int64, delta int) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
}

// Queries runs statements against either the pool or an open transaction
type Queries struct {
	db   sqlx.ExtContext
	inTx bool
}

type Store struct {
	*Queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an already opened connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{
		Queries: &Queries{db: db},
		db:      db,
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// EnsureSchema creates the tables the service needs if they are missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InSavepoint opens a transaction, sets a named savepoint and runs fn inside it.
// If fn fails, work is rolled back to the savepoint and the transaction is
// abandoned; otherwise the savepoint is released and the transaction committed.
func (s *Store) InSavepoint(ctx context.Context, name string, fn func(q Querier) error) (txErr error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rbErr))
			}
		}
	}()

	q := &Queries{db: tx, inTx: true}
	if err := q.Savepoint(ctx, name, fn); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Savepoint nests a named savepoint inside the current transaction. A failing
// fn only discards the work done since the savepoint, so callers can swallow
// the error and keep using the transaction.
func (q *Queries) Savepoint(ctx context.Context, name string, fn func(q Querier) error) error {
	if !q.inTx {
		return fmt.Errorf("savepoint %s: not inside a transaction", name)
	}

	ident := pq.QuoteIdentifier(name)

	if _, err := q.db.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	if err := fn(q); err != nil {
		if _, rbErr := q.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back to savepoint %s: %w", name, rbErr))
		}
		return err
	}

	if _, err := q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

// AddressBelongsToUser reports whether a live address is owned by the user
func (s *Store) AddressBelongsToUser(ctx context.Context, userID, addressID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2 AND NOT is_deleted)",
		addressID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check address: %w", err)
	}
	return exists, nil
}

// CreateAddress inserts an address for a user
func (s *Store) CreateAddress(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO addresses (user_id) VALUES ($1) RETURNING id", userID)
	return id, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
