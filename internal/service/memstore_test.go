package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pizzaflow/internal/models"
)

type memTxKey struct{}

type memState struct {
	orders       map[int64]models.Order
	items        []models.OrderItem
	stock        map[int64]models.StockItem
	reservations []models.Reservation
	payments     map[int64]models.Payment
	kitchen      map[int64]models.KitchenOrder
	outbox       []models.OutboxEvent
	released     map[int64]bool
	nextID       int64
}

func (s *memState) clone() memState {
	c := memState{
		orders:       make(map[int64]models.Order, len(s.orders)),
		items:        append([]models.OrderItem(nil), s.items...),
		stock:        make(map[int64]models.StockItem, len(s.stock)),
		reservations: append([]models.Reservation(nil), s.reservations...),
		payments:     make(map[int64]models.Payment, len(s.payments)),
		kitchen:      make(map[int64]models.KitchenOrder, len(s.kitchen)),
		outbox:       append([]models.OutboxEvent(nil), s.outbox...),
		released:     make(map[int64]bool, len(s.released)),
		nextID:       s.nextID,
	}
	for k, v := range s.released {
		c.released[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.kitchen {
		c.kitchen[k] = v
	}
	return c
}

// memStore is an in-memory stand-in for store.Store. Transactions are serialized and roll back
// to a snapshot on error, which is enough to observe atomicity.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	memState

	// stockConflicts makes the next n stock updates fail as if another writer won the race.
	stockConflicts int
}

func newMemStore() *memStore {
	return &memStore{memState: memState{
		orders:   map[int64]models.Order{},
		stock:    map[int64]models.StockItem{},
		payments: map[int64]models.Payment{},
		kitchen:  map[int64]models.KitchenOrder{},
		released: map[int64]bool{},
	}}
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.memState.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.memState = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// outbox

func (m *memStore) AppendOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	if ctx.Value(memTxKey{}) == nil {
		return models.ErrNoTransaction
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.id()
	event.Status = models.OutboxStatusPending
	event.CreatedAt = time.Now()
	m.outbox = append(m.outbox, *event)
	return nil
}

func (m *memStore) outboxEvents(eventType string) []models.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxEvent
	for _, e := range m.outbox {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// orders

func (m *memStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == order.IdempotencyKey {
			return fmt.Errorf("duplicate key: %w", models.ErrConcurrencyConflict)
		}
	}
	order.ID = m.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = *order
	return nil
}

func (m *memStore) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id()
	m.items = append(m.items, *item)
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, orderID int64, from, to models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return models.ErrConcurrencyConflict
	}
	o.Status = to
	m.orders[orderID] = o
	return nil
}

func (m *memStore) GetOrdersByCustomerID(_ context.Context, customerID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (m *memStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []models.OrderItem{}
	for _, it := range m.items {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	return items, nil
}

// stock

func (m *memStore) CreateStockItem(_ context.Context, item *models.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stock {
		if s.ProductID == item.ProductID {
			return models.ErrConcurrencyConflict
		}
	}
	item.ID = m.id()
	item.Version = 0
	m.stock[item.ID] = *item
	return nil
}

func (m *memStore) GetStockItemByProductID(_ context.Context, productID string) (*models.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stock {
		if s.ProductID == productID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("stock item %s: %w", productID, models.ErrNotFound)
}

func (m *memStore) GetStockItemByID(_ context.Context, id int64) (*models.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[id]
	if !ok {
		return nil, fmt.Errorf("stock item %d: %w", id, models.ErrNotFound)
	}
	return &s, nil
}

func (m *memStore) ListStockItems(_ context.Context) ([]models.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := []models.StockItem{}
	for _, s := range m.stock {
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (m *memStore) UpdateStockItem(_ context.Context, item *models.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stockConflicts > 0 {
		m.stockConflicts--
		return models.ErrConcurrencyConflict
	}
	stored, ok := m.stock[item.ID]
	if !ok || stored.Version != item.Version {
		return models.ErrConcurrencyConflict
	}
	if item.ReservedQuantity < 0 || item.ReservedQuantity > item.Quantity {
		return fmt.Errorf("check constraint violated for %s", item.ProductID)
	}
	item.Version++
	m.stock[item.ID] = *item
	return nil
}

func (m *memStore) stockItem(productID string) models.StockItem {
	s, err := m.GetStockItemByProductID(context.Background(), productID)
	if err != nil {
		panic(err)
	}
	return *s
}

func (m *memStore) GetReservation(_ context.Context, orderID, stockItemID int64) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.OrderID == orderID && r.StockItemID == stockItemID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reservations {
		if existing.OrderID == r.OrderID && existing.StockItemID == r.StockItemID {
			return models.ErrConcurrencyConflict
		}
	}
	r.ID = m.id()
	m.reservations = append(m.reservations, *r)
	return nil
}

func (m *memStore) ListReservationsByOrder(_ context.Context, orderID int64, status models.ReservationStatus) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Reservation{}
	for _, r := range m.reservations {
		if r.OrderID == orderID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *memStore) UpdateReservationStatus(_ context.Context, id int64, from, to models.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.reservations {
		if r.ID == id {
			if r.Status != from {
				return models.ErrConcurrencyConflict
			}
			m.reservations[i].Status = to
			return nil
		}
	}
	return models.ErrConcurrencyConflict
}

// LockOrderInventory needs no lock here: transactions are already serialized.
func (m *memStore) LockOrderInventory(ctx context.Context, _ int64) error {
	if ctx.Value(memTxKey{}) == nil {
		return models.ErrNoTransaction
	}
	return nil
}

func (m *memStore) MarkOrderReleased(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[orderID] = true
	return nil
}

func (m *memStore) IsOrderReleased(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released[orderID], nil
}

// payments

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.OrderID]; ok {
		return models.ErrConcurrencyConflict
	}
	p.ID = m.id()
	p.CreatedAt = time.Now()
	m.payments[p.OrderID] = *p
	return nil
}

func (m *memStore) GetPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	return &p, nil
}

// kitchen

func (m *memStore) CreateKitchenOrder(_ context.Context, ko *models.KitchenOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kitchen[ko.OrderID]; ok {
		return models.ErrConcurrencyConflict
	}
	ko.ID = m.id()
	ko.CreatedAt = time.Now()
	m.kitchen[ko.OrderID] = *ko
	return nil
}

func (m *memStore) GetKitchenOrderByOrderID(_ context.Context, orderID int64) (*models.KitchenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ko, ok := m.kitchen[orderID]
	if !ok {
		return nil, nil
	}
	return &ko, nil
}

func (m *memStore) ListActiveKitchenOrders(_ context.Context) ([]models.KitchenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.KitchenOrder{}
	for _, ko := range m.kitchen {
		if ko.Status != models.KitchenStatusCompleted && ko.Status != models.KitchenStatusCancelled {
			out = append(out, ko)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateKitchenOrderStatus(_ context.Context, orderID int64, status models.KitchenStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ko, ok := m.kitchen[orderID]; ok {
		ko.Status = status
		m.kitchen[orderID] = ko
	}
	return nil
}
