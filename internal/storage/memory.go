package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

// MemoryStore holds all data in memory. For tests and local runs.
type MemoryStore struct {
	sessions map[string]*models.Session
	orders   map[string]*models.Order
	products []models.Product
	failed   []models.FailedDelivery

	// Mutexes for thread safety
	sessionMu sync.RWMutex
	orderMu   sync.Mutex
	failedMu  sync.Mutex

	productCounter uint
	failedCounter  uint

	ttl time.Duration
	now func() time.Time
}

// NewMemoryStore creates an in-memory store whose sessions live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		orders:   make(map[string]*models.Order),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces time.Now, for expiry tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	m.now = now
}

var _ Store = (*MemoryStore)(nil)

// Session operations
func (m *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.sessionMu.RLock()
	session, exists := m.sessions[userID]
	expired := exists && session.ExpiredAt(m.now(), m.ttl)
	if exists && !expired {
		cp := session.Clone()
		m.sessionMu.RUnlock()
		return cp, nil
	}
	m.sessionMu.RUnlock()

	if expired {
		m.sessionMu.Lock()
		// re-check: a concurrent Save may have refreshed it
		if s, ok := m.sessions[userID]; ok && s.ExpiredAt(m.now(), m.ttl) {
			delete(m.sessions, userID)
		}
		m.sessionMu.Unlock()
	}

	return models.NewSession(userID), nil
}

func (m *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session.LastActivity = m.now()
	m.sessions[session.UserID] = session.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	now := m.now()
	var purged int64
	for id, s := range m.sessions {
		if s.ExpiredAt(now, m.ttl) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int64, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	now := m.now()
	var n int64
	for _, s := range m.sessions {
		if !s.ExpiredAt(now, m.ttl) {
			n++
		}
	}
	return n, nil
}

// Ledger operations
func (m *MemoryStore) Append(ctx context.Context, order *models.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("append order: missing order id")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	if _, exists := m.orders[order.OrderID]; exists {
		return nil
	}

	// check every line before taking anything out of stock
	idx := make(map[string]int, len(m.products))
	for i, p := range m.products {
		idx[p.Name] = i
	}
	need := make(map[string]int)
	for _, it := range order.Items {
		need[it.Name] += it.Quantity
	}
	for name, qty := range need {
		i, ok := idx[name]
		if !ok {
			continue
		}
		if m.products[i].Stock < qty {
			return &StockError{Product: name, Requested: qty, Available: m.products[i].Stock}
		}
	}
	for name, qty := range need {
		if i, ok := idx[name]; ok {
			m.products[i].Stock -= qty
			m.products[i].UpdatedAt = time.Now()
		}
	}

	m.orders[order.OrderID] = order.Clone()
	return nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (m *MemoryStore) OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	var orders []*models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// Catalog operations
func (m *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.Available {
			products = append(products, p)
		}
	}
	return products, nil
}

func (m *MemoryStore) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	if len(m.products) > 0 {
		return 0, nil
	}
	now := time.Now()
	for _, p := range products {
		m.productCounter++
		p.ID = m.productCounter
		p.CreatedAt = now
		p.UpdatedAt = now
		m.products = append(m.products, p)
	}
	return len(products), nil
}

// Dead letters
func (m *MemoryStore) RecordFailedDelivery(ctx context.Context, failed *models.FailedDelivery) error {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()

	m.failedCounter++
	failed.ID = m.failedCounter
	m.failed = append(m.failed, *failed)
	return nil
}

func (m *MemoryStore) FailedDeliveries(ctx context.Context, limit int) ([]models.FailedDelivery, error) {
	m.failedMu.Lock()
	defer m.failedMu.Unlock()

	out := make([]models.FailedDelivery, 0, len(m.failed))
	for i := len(m.failed) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.failed[i])
	}
	return out, nil
}
