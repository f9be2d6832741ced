package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

func TestSessionSweeperPurgesExpired(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(time.Hour)

	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	require.NoError(t, store.Save(ctx, models.NewSession("+15550001")))
	require.NoError(t, store.Save(ctx, models.NewSession("+15550002")))

	sweeper := NewSessionSweeper(store, time.Minute)
	assert.Equal(t, int64(0), sweeper.Sweep(ctx))

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	require.NoError(t, store.Save(ctx, models.NewSession("+15550003")))

	assert.Equal(t, int64(2), sweeper.Sweep(ctx))
	active, err := store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

type countingStore struct {
	*storage.MemoryStore
	purges atomic.Int32
}

func (c *countingStore) PurgeExpired(ctx context.Context) (int64, error) {
	c.purges.Add(1)
	return c.MemoryStore.PurgeExpired(ctx)
}

func TestSessionSweeperRunsOnTicker(t *testing.T) {
	store := &countingStore{MemoryStore: storage.NewMemoryStore(time.Hour)}

	sweeper := NewSessionSweeper(store, 5*time.Millisecond)
	sweeper.Start(context.Background())
	sweeper.Start(context.Background())

	assert.Eventually(t, func() bool {
		return store.purges.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	after := store.purges.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, store.purges.Load(), "no sweeps after Stop")
}
