package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// SessionSweeper deletes expired sessions in the background. Expired sessions
// are already invisible to readers; sweeping only reclaims their storage.
type SessionSweeper struct {
	store    storage.SessionStore
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSessionSweeper creates a sweeper that runs every interval.
func NewSessionSweeper(store storage.SessionStore, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SessionSweeper{
		store:    store,
		interval: interval,
	}
}

// Start begins sweeping until ctx is done or Stop is called.
func (s *SessionSweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		logger.Log.Info("Session sweeper already running")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	logger.Log.Infof("🧹 Session sweeper started (every %v)", s.interval)
	go s.loop(ctx, s.done)
}

// Stop halts the sweeper and waits for a sweep in progress.
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	logger.Log.Info("Session sweeper stopped")
}

func (s *SessionSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge and reports how many sessions it removed.
func (s *SessionSweeper) Sweep(ctx context.Context) int64 {
	n, err := s.store.PurgeExpired(ctx)
	if err != nil {
		logger.Log.Errorf("Error purging expired sessions: %v", err)
		return 0
	}
	if n > 0 {
		logger.Log.Infof("🧹 Purged %d expired session(s)", n)
	}
	return n
}
