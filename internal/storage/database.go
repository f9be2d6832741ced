package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

// orderRecord is the ledger row of a confirmed order.
type orderRecord struct {
	OrderID     string             `gorm:"primaryKey"`
	UserID      string             `gorm:"index;not null"`
	Items       []models.OrderItem `gorm:"serializer:json"`
	Address     string
	Status      models.OrderStatus `gorm:"not null"`
	TotalAmount float64            `gorm:"not null"`
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

func (orderRecord) TableName() string { return "orders" }

func (r *orderRecord) toOrder() *models.Order {
	return &models.Order{
		OrderID:     r.OrderID,
		UserID:      r.UserID,
		Items:       r.Items,
		Address:     r.Address,
		Status:      r.Status,
		TotalAmount: r.TotalAmount,
		CreatedAt:   r.CreatedAt,
		ConfirmedAt: r.ConfirmedAt,
	}
}

// DatabaseStore implements Store with GORM (PostgreSQL in production).
type DatabaseStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewDatabaseStore wraps an open connection. Call Migrate before use.
func NewDatabaseStore(db *gorm.DB, ttl time.Duration) *DatabaseStore {
	return &DatabaseStore{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock, for expiry tests.
func (d *DatabaseStore) SetClock(now func() time.Time) {
	d.now = now
}

var _ Store = (*DatabaseStore)(nil)

// Migrate creates or updates every table the bot uses.
func (d *DatabaseStore) Migrate() error {
	return d.db.AutoMigrate(
		&models.Session{},
		&orderRecord{},
		&models.Product{},
		&models.FailedDelivery{},
	)
}

// Ping checks the connection, for health checks.
func (d *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (d *DatabaseStore) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func (d *DatabaseStore) cutoff() time.Time {
	return d.now().Add(-d.ttl)
}

// Session operations
func (d *DatabaseStore) GetOrCreate(ctx context.Context, userID string) (*models.Session, error) {
	var session models.Session
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND last_activity > ?", userID, d.cutoff()).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewSession(userID), nil
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return &session, nil
}

func (d *DatabaseStore) Save(ctx context.Context, session *models.Session) error {
	session.LastActivity = d.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.LastActivity
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(session).Error
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (d *DatabaseStore) Delete(ctx context.Context, userID string) error {
	if err := d.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID).Error; err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (d *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("last_activity <= ?", d.cutoff()).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, unavailable("purge sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (d *DatabaseStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("last_activity > ?", d.cutoff()).
		Count(&n).Error
	if err != nil {
		return 0, unavailable("count sessions", err)
	}
	return n, nil
}

// Ledger operations
func (d *DatabaseStore) Append(ctx context.Context, order *models.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("append order: missing order id")
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&orderRecord{}).Where("order_id = ?", order.OrderID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		need := make(map[string]int)
		var names []string
		for _, it := range order.Items {
			if _, seen := need[it.Name]; !seen {
				names = append(names, it.Name)
			}
			need[it.Name] += it.Quantity
		}
		for _, name := range names {
			qty := need[name]
			res := tx.Model(&models.Product{}).
				Where("name = ? AND stock >= ?", name, qty).
				UpdateColumn("stock", gorm.Expr("stock - ?", qty))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				continue
			}
			var p models.Product
			err := tx.Where("name = ?", name).First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			return &StockError{Product: name, Requested: qty, Available: p.Stock}
		}

		rec := orderRecord{
			OrderID:     order.OrderID,
			UserID:      order.UserID,
			Items:       order.Items,
			Address:     order.Address,
			Status:      order.Status,
			TotalAmount: order.TotalAmount,
			CreatedAt:   order.CreatedAt,
			ConfirmedAt: order.ConfirmedAt,
		}
		return tx.Create(&rec).Error
	})

	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr
	}
	if err != nil {
		return unavailable("append order", err)
	}
	return nil
}

func (d *DatabaseStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var rec orderRecord
	err := d.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get order", err)
	}
	return rec.toOrder(), nil
}

func (d *DatabaseStore) OrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	var recs []orderRecord
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, unavailable("list orders", err)
	}
	orders := make([]*models.Order, 0, len(recs))
	for i := range recs {
		orders = append(orders, recs[i].toOrder())
	}
	return orders, nil
}

// Catalog operations
func (d *DatabaseStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := d.db.WithContext(ctx).
		Where("available = ?", true).
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, unavailable("list products", err)
	}
	return products, nil
}

func (d *DatabaseStore) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.Product{}).Count(&count).Error; err != nil {
		return 0, unavailable("count products", err)
	}
	if count > 0 || len(products) == 0 {
		return 0, nil
	}
	if err := d.db.WithContext(ctx).Create(&products).Error; err != nil {
		return 0, unavailable("seed products", err)
	}
	return len(products), nil
}

// Dead letters
func (d *DatabaseStore) RecordFailedDelivery(ctx context.Context, failed *models.FailedDelivery) error {
	if err := d.db.WithContext(ctx).Create(failed).Error; err != nil {
		return unavailable("record failed delivery", err)
	}
	return nil
}

func (d *DatabaseStore) FailedDeliveries(ctx context.Context, limit int) ([]models.FailedDelivery, error) {
	var out []models.FailedDelivery
	q := d.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, unavailable("list failed deliveries", err)
	}
	return out, nil
}
