package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeDB is an in-memory store. Every statement is atomic under mu and every
// write inside a transaction records an undo step, so savepoint rollback
// behaves like the real thing for the single-statement guarantees we rely on.
type fakeDB struct {
	mu sync.Mutex

	goods     map[int64]*models.Goods
	skus      map[int64]*models.SKU
	addresses map[int64]int64
	orders    map[string]*models.Order
	lines     map[string][]models.OrderLine
	payments  map[string]*models.Payment

	nextID int64
	locks  map[string]*sync.Mutex

	// beforeCAS runs before each conditional stock update, outside the lock
	beforeCAS       func(skuID int64)
	goodsSalesErr   error
	createLineErr   error
	createOrderHook func()
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		goods:     make(map[int64]*models.Goods),
		skus:      make(map[int64]*models.SKU),
		addresses: make(map[int64]int64),
		orders:    make(map[string]*models.Order),
		lines:     make(map[string][]models.OrderLine),
		payments:  make(map[string]*models.Payment),
	}
}

func (db *fakeDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *fakeDB) addSKU(price string, stock int) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	goodsID := db.id()
	db.goods[goodsID] = &models.Goods{ID: goodsID, Name: fmt.Sprintf("goods-%d", goodsID)}

	skuID := db.id()
	db.skus[skuID] = &models.SKU{
		ID:      skuID,
		GoodsID: goodsID,
		Name:    fmt.Sprintf("sku-%d", skuID),
		Price:   decimal.RequireFromString(price),
		Stock:   stock,
	}
	return skuID
}

func (db *fakeDB) addAddress(userID int64) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.id()
	db.addresses[id] = userID
	return id
}

func (db *fakeDB) addOrder(order models.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.orders[order.OrderID] = &order
}

// adjustStock simulates a competing committed writer
func (db *fakeDB) adjustStock(skuID int64, delta int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.skus[skuID].Stock += delta
}

func (db *fakeDB) sku(skuID int64) models.SKU {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.skus[skuID]
}

func (db *fakeDB) goodsOf(skuID int64) models.Goods {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.goods[db.skus[skuID].GoodsID]
}

func (db *fakeDB) orderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.orders)
}

func (db *fakeDB) lineCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, l := range db.lines {
		n += len(l)
	}
	return n
}

func (db *fakeDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

// rowLock returns the lock that stands in for a row lock taken by UPDATE
func (db *fakeDB) rowLock(key string) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.locks == nil {
		db.locks = make(map[string]*sync.Mutex)
	}
	m, ok := db.locks[key]
	if !ok {
		m = &sync.Mutex{}
		db.locks[key] = m
	}
	return m
}

func (db *fakeDB) InSavepoint(ctx context.Context, name string, fn func(q store.Querier) error) error {
	tx := &fakeTx{db: db, held: make(map[string]*sync.Mutex)}
	defer tx.releaseLocks()
	return tx.Savepoint(ctx, name, fn)
}

func (db *fakeDB) GetOrderByID(_ context.Context, orderID string) (*models.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (db *fakeDB) GetOrderLines(_ context.Context, orderID string) ([]models.OrderLine, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.OrderLine(nil), db.lines[orderID]...), nil
}

func (db *fakeDB) AddressBelongsToUser(_ context.Context, userID, addressID int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	owner, ok := db.addresses[addressID]
	return ok && owner == userID, nil
}

type fakeTx struct {
	db   *fakeDB
	undo []func()
	held map[string]*sync.Mutex
}

// lockRow blocks until no other open transaction holds the row
func (tx *fakeTx) lockRow(key string) {
	if _, ok := tx.held[key]; ok {
		return
	}
	m := tx.db.rowLock(key)
	m.Lock()
	tx.held[key] = m
}

func (tx *fakeTx) releaseLocks() {
	for key, m := range tx.held {
		m.Unlock()
		delete(tx.held, key)
	}
}

func (tx *fakeTx) record(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *fakeTx) Savepoint(_ context.Context, _ string, fn func(q store.Querier) error) error {
	mark := len(tx.undo)
	if err := fn(tx); err != nil {
		tx.db.mu.Lock()
		for i := len(tx.undo) - 1; i >= mark; i-- {
			tx.undo[i]()
		}
		tx.db.mu.Unlock()
		tx.undo = tx.undo[:mark]
		return err
	}
	return nil
}

func (tx *fakeTx) CreateOrder(_ context.Context, order *models.Order) error {
	if tx.db.createOrderHook != nil {
		tx.db.createOrderHook()
	}

	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.orders[order.OrderID]; ok {
		return fmt.Errorf("order %s: %w", order.OrderID, store.ErrConflict)
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	cp := *order
	db.orders[order.OrderID] = &cp
	tx.record(func() { delete(db.orders, order.OrderID) })
	return nil
}

func (tx *fakeTx) UpdateOrderTotals(_ context.Context, order *models.Order) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	o, ok := db.orders[order.OrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.OrderID, store.ErrNotFound)
	}
	prevCount, prevAmount := o.TotalCount, o.TotalAmount
	o.TotalCount, o.TotalAmount = order.TotalCount, order.TotalAmount
	tx.record(func() { o.TotalCount, o.TotalAmount = prevCount, prevAmount })
	return nil
}

func (tx *fakeTx) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	return tx.db.GetOrderByID(ctx, orderID)
}

func (tx *fakeTx) TransitionOrderStatus(_ context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	tx.lockRow("order:" + orderID)

	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	o, ok := db.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	tx.record(func() { o.Status = from })
	return true, nil
}

func (tx *fakeTx) CreateOrderLine(_ context.Context, line *models.OrderLine) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.createLineErr != nil {
		return db.createLineErr
	}
	line.ID = db.id()
	line.CreatedAt = time.Now()
	db.lines[line.OrderID] = append(db.lines[line.OrderID], *line)

	id, orderID := line.ID, line.OrderID
	tx.record(func() {
		kept := db.lines[orderID][:0]
		for _, l := range db.lines[orderID] {
			if l.ID != id {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(db.lines, orderID)
			return
		}
		db.lines[orderID] = kept
	})
	return nil
}

func (tx *fakeTx) GetSKU(ctx context.Context, skuID int64) (*models.SKU, error) {
	return tx.db.GetSKU(ctx, skuID)
}

func (db *fakeDB) GetSKU(_ context.Context, skuID int64) (*models.SKU, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.skus[skuID]
	if !ok {
		return nil, fmt.Errorf("sku %d: %w", skuID, store.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (tx *fakeTx) UpdateSKUStockIfUnchanged(_ context.Context, skuID int64, observedStock, newStock, newSales int) (bool, error) {
	if tx.db.beforeCAS != nil {
		tx.db.beforeCAS(skuID)
	}
	tx.lockRow(fmt.Sprintf("sku:%d", skuID))

	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.skus[skuID]
	if !ok || s.Stock != observedStock {
		return false, nil
	}

	stockDelta := newStock - s.Stock
	salesDelta := newSales - s.Sales
	s.Stock, s.Sales = newStock, newSales
	tx.record(func() {
		s.Stock -= stockDelta
		s.Sales -= salesDelta
	})
	return true, nil
}

func (tx *fakeTx) AddGoodsSales(_ context.Context, goodsID int64, delta int) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.goodsSalesErr != nil {
		return db.goodsSalesErr
	}
	g, ok := db.goods[goodsID]
	if !ok {
		return fmt.Errorf("goods %d: %w", goodsID, store.ErrNotFound)
	}
	g.Sales += delta
	tx.record(func() { g.Sales -= delta })
	return nil
}

func (tx *fakeTx) CreatePayment(_ context.Context, payment *models.Payment) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.payments[payment.OrderID]; ok {
		return fmt.Errorf("payment for order %s: %w", payment.OrderID, store.ErrConflict)
	}
	payment.ID = db.id()
	payment.CreatedAt = time.Now()
	cp := *payment
	db.payments[payment.OrderID] = &cp
	orderID := payment.OrderID
	tx.record(func() { delete(db.payments, orderID) })
	return nil
}

func (tx *fakeTx) GetPaymentByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()

	p, ok := db.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

type fakeCart struct {
	mu         sync.Mutex
	quantities map[int64]map[int64]int
	selected   map[int64]map[int64]bool
	clearErr   error
	clearCalls int
}

func newFakeCart() *fakeCart {
	return &fakeCart{
		quantities: make(map[int64]map[int64]int),
		selected:   make(map[int64]map[int64]bool),
	}
}

func (c *fakeCart) add(userID, skuID int64, count int, selected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quantities[userID] == nil {
		c.quantities[userID] = make(map[int64]int)
		c.selected[userID] = make(map[int64]bool)
	}
	c.quantities[userID][skuID] += count
	if selected {
		c.selected[userID][skuID] = true
	}
}

func (c *fakeCart) selectOnly(userID, skuID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected[userID] == nil {
		c.selected[userID] = make(map[int64]bool)
	}
	c.selected[userID][skuID] = true
}

func (c *fakeCart) snapshot(userID int64) (map[int64]int, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := make(map[int64]int)
	for k, v := range c.quantities[userID] {
		q[k] = v
	}
	var sel []int64
	for k := range c.selected[userID] {
		sel = append(sel, k)
	}
	return q, sel
}

func (c *fakeCart) GetCartQuantities(_ context.Context, userID int64) (map[int64]int, error) {
	q, _ := c.snapshot(userID)
	return q, nil
}

func (c *fakeCart) GetSelectedItems(_ context.Context, userID int64) ([]int64, error) {
	_, sel := c.snapshot(userID)
	return sel, nil
}

func (c *fakeCart) ClearSelected(_ context.Context, userID int64, skuIDs []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCalls++
	if c.clearErr != nil {
		return c.clearErr
	}
	for _, id := range skuIDs {
		delete(c.quantities[userID], id)
		delete(c.selected[userID], id)
	}
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	settled []*models.OrderSettledEvent
	paid    []*models.OrderPaidEvent
	cleanup []*models.CartCleanupPendingEvent
	err     error
}

func (p *fakePublisher) PublishOrderSettled(_ context.Context, e *models.OrderSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = append(p.settled, e)
	return p.err
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return p.err
}

func (p *fakePublisher) PublishCartCleanupPending(_ context.Context, e *models.CartCleanupPendingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanup = append(p.cleanup, e)
	return p.err
}

var errBoom = errors.New("boom")
