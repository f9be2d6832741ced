package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps any failure talking to the backing database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInsufficientStock is matched by *StockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockError names the dish that cannot be fulfilled.
type StockError struct {
	Product   string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Product, e.Requested, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// SessionStore keeps one session per WhatsApp user and forgets it TTL after its last save.
// An expired session reads exactly like one that never existed.
type SessionStore interface {
	// GetOrCreate returns a copy of the live session or a fresh IDLE one.
	// It does not touch LastActivity.
	GetOrCreate(ctx context.Context, userID string) (*models.Session, error)
	// Save upserts the session and restarts its TTL.
	Save(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, userID string) error
	// PurgeExpired removes expired sessions and reports how many went.
	PurgeExpired(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int64, error)
}

// OrderLedger is the append-only record of confirmed orders.
type OrderLedger interface {
	// Append stores a confirmed order and takes its items out of stock.
	// Appending an OrderID that is already present is a no-op.
	Append(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error)
}

// Catalog serves the menu.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	// SeedProducts inserts products only when the catalogue is empty.
	SeedProducts(ctx context.Context, products []models.Product) (int, error)
}

// DeadLetters records outbound messages that could not be delivered.
type DeadLetters interface {
	RecordFailedDelivery(ctx context.Context, failed *models.FailedDelivery) error
	FailedDeliveries(ctx context.Context, limit int) ([]models.FailedDelivery, error)
}

// Store is everything the bot persists.
type Store interface {
	SessionStore
	OrderLedger
	Catalog
	DeadLetters
}
