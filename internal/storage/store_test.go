package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

const testTTL = 3 * time.Hour

// fakeClock is a settable clock shared by both store implementations.
type fakeClock struct {
	ns atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.ns.Store(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.ns.Load()).UTC() }
func (c *fakeClock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

type storeFactory func(t *testing.T, clock *fakeClock) Store

func confirmedOrder(id, user string, items ...models.OrderItem) *models.Order {
	o := models.NewOrder(user)
	_ = o.AddItems(items...)
	_ = o.SetAddress("12 Allen Avenue, Ikeja")
	o.OrderID = id
	_ = o.Advance(models.OrderStatusConfirmed)
	return o
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("new user gets idle session", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		session, err := s.GetOrCreate(ctx, "2348000000001")
		require.NoError(t, err)
		assert.Equal(t, models.ModeIdle, session.Mode)
		assert.Nil(t, session.OrderDraft)
		assert.True(t, session.LastActivity.IsZero(), "GetOrCreate must not stamp activity")

		n, err := s.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "unsaved sessions are not persisted")
	})

	t.Run("save round trip keeps draft", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		session, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		session.Mode = models.ModeOrdering
		session.OrderDraft = models.NewOrder("u1")
		require.NoError(t, session.OrderDraft.AddItems(models.OrderItem{Name: "Cheeseburger", Quantity: 2, UnitPrice: 8.5}))
		session.History = []models.ChatTurn{{Role: "user", Content: "hello"}}
		require.NoError(t, s.Save(ctx, session))
		assert.Equal(t, clock.Now(), session.LastActivity.UTC())

		got, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeOrdering, got.Mode)
		require.NotNil(t, got.OrderDraft)
		assert.Equal(t, 17.0, got.OrderDraft.TotalAmount)
		require.Len(t, got.OrderDraft.Items, 1)
		assert.Equal(t, "Cheeseburger", got.OrderDraft.Items[0].Name)
		require.Len(t, got.History, 1)

		// mutations of the returned copy must not leak into the store
		got.OrderDraft.Items[0].Quantity = 99
		again, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, again.OrderDraft.Items[0].Quantity)
	})

	t.Run("expired session reads as new", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		session, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		session.Mode = models.ModeNutritionChat
		require.NoError(t, s.Save(ctx, session))

		clock.Advance(testTTL - time.Minute)
		got, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeNutritionChat, got.Mode)

		clock.Advance(2 * time.Minute)
		got, err = s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeIdle, got.Mode)
	})

	t.Run("save restarts ttl", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		session, _ := s.GetOrCreate(ctx, "u1")
		session.Mode = models.ModeOrdering
		require.NoError(t, s.Save(ctx, session))

		clock.Advance(testTTL - time.Minute)
		session, _ = s.GetOrCreate(ctx, "u1")
		require.NoError(t, s.Save(ctx, session))

		clock.Advance(testTTL - time.Minute)
		got, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeOrdering, got.Mode)
	})

	t.Run("purge expired", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		s := newStore(t, clock)

		for _, id := range []string{"old1", "old2"} {
			session, _ := s.GetOrCreate(ctx, id)
			require.NoError(t, s.Save(ctx, session))
		}
		clock.Advance(2 * time.Hour)
		fresh, _ := s.GetOrCreate(ctx, "fresh")
		require.NoError(t, s.Save(ctx, fresh))
		clock.Advance(90 * time.Minute)

		purged, err := s.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), purged)

		n, err := s.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		session, _ := s.GetOrCreate(ctx, "u1")
		session.Mode = models.ModeOrdering
		require.NoError(t, s.Save(ctx, session))
		require.NoError(t, s.Delete(ctx, "u1"))

		got, err := s.GetOrCreate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.ModeIdle, got.Mode)
	})

	t.Run("ledger append is idempotent and takes stock", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())
		_, err := s.SeedProducts(ctx, models.DefaultMenu())
		require.NoError(t, err)

		order := confirmedOrder("ord-1", "u1", models.OrderItem{Name: "Cheeseburger", Quantity: 2, UnitPrice: 8.5})
		require.NoError(t, s.Append(ctx, order))
		require.NoError(t, s.Append(ctx, order))

		got, err := s.GetOrder(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusConfirmed, got.Status)
		assert.Equal(t, 17.0, got.TotalAmount)

		orders, err := s.OrdersByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, orders, 1)

		products, err := s.ListProducts(ctx)
		require.NoError(t, err)
		for _, p := range products {
			if p.Name == "Cheeseburger" {
				assert.Equal(t, 38, p.Stock, "stock taken once despite the retried append")
			}
		}

		_, err = s.GetOrder(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())
		_, err := s.SeedProducts(ctx, []models.Product{{Name: "Cheeseburger", Price: 8.5, Stock: 1, Available: true}})
		require.NoError(t, err)

		err = s.Append(ctx, confirmedOrder("ord-1", "u1", models.OrderItem{Name: "Cheeseburger", Quantity: 2, UnitPrice: 8.5}))
		require.ErrorIs(t, err, ErrInsufficientStock)
		var stockErr *StockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, "Cheeseburger", stockErr.Product)
		assert.Equal(t, 1, stockErr.Available)

		_, err = s.GetOrder(ctx, "ord-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("last unit goes to exactly one order", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())
		_, err := s.SeedProducts(ctx, []models.Product{{Name: "Cheeseburger", Price: 10, Stock: 1, Available: true}})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, user := range []string{"A", "B"} {
			wg.Add(1)
			go func(i int, user string) {
				defer wg.Done()
				errs[i] = s.Append(ctx, confirmedOrder("ord-"+user, user, models.OrderItem{Name: "Cheeseburger", Quantity: 1, UnitPrice: 10}))
			}(i, user)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("seed only when empty", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		n, err := s.SeedProducts(ctx, models.DefaultMenu())
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		n, err = s.SeedProducts(ctx, models.DefaultMenu())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		products, err := s.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, products, 10)
		assert.Equal(t, "Margherita Pizza", products[0].Name)
	})

	t.Run("dead letters newest first", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, newFakeClock())

		for i := 1; i <= 3; i++ {
			require.NoError(t, s.RecordFailedDelivery(ctx, &models.FailedDelivery{
				RecipientID: "u1",
				Body:        "hello",
				Sequence:    uint64(i),
				Attempts:    3,
				LastError:   "twilio 503",
				EnqueuedAt:  time.Now(),
				FailedAt:    time.Now(),
			}))
		}

		failed, err := s.FailedDeliveries(ctx, 2)
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, uint64(3), failed[0].Sequence)
		assert.Equal(t, uint64(2), failed[1].Sequence)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		s := NewMemoryStore(testTTL)
		s.SetClock(clock.Now)
		return s
	})
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryStore(testTTL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetOrCreate(ctx, "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.Save(ctx, models.NewSession("u1")), ErrStoreUnavailable)
}
