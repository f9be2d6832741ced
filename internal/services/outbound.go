package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// Sender delivers one message to the messaging provider. Implementations
// must return once ctx is done and should wrap failures in ErrRetryableSend
// or ErrPermanentSend. Unclassified errors are retried.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
}

// FailureSink receives every message the queue gave up on.
type FailureSink interface {
	DeliveryFailed(msg models.OutboundMessage, err error)
}

// QueueOptions tunes retries and concurrency of the OutboundQueue.
type QueueOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SendTimeout    time.Duration
	MaxConcurrency int64
}

// DefaultQueueOptions mirrors the config defaults.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		SendTimeout:    10 * time.Second,
		MaxConcurrency: 64,
	}
}

func (o QueueOptions) withDefaults() QueueOptions {
	d := DefaultQueueOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = d.SendTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	return o
}

// QueueStats is a snapshot of the queue counters.
type QueueStats struct {
	Enqueued    uint64 `json:"enqueued"`
	Sent        uint64 `json:"sent"`
	Failed      uint64 `json:"failed"`
	Retries     uint64 `json:"retries"`
	Pending     int    `json:"pending"`
	ActiveLanes int    `json:"active_lanes"`
}

// lane holds the undelivered messages of one recipient. At most one
// goroutine drains a lane, which keeps that recipient's messages in order.
type lane struct {
	pending []models.OutboundMessage
}

// OutboundQueue delivers replies asynchronously.
//
// Messages to the same recipient go out strictly in sequence order: message
// N+1 is not attempted before N was sent or given up on. Different
// recipients are served concurrently, up to MaxConcurrency sends at a time.
type OutboundQueue struct {
	sender Sender
	sink   FailureSink
	opts   QueueOptions
	sem    *semaphore.Weighted

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup

	// canceled when Close runs out of time; aborts in-flight sends
	ctx    context.Context
	cancel context.CancelFunc

	seq      atomic.Uint64
	enqueued atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	retries  atomic.Uint64
}

// NewOutboundQueue creates a running queue. sink may be nil.
func NewOutboundQueue(sender Sender, sink FailureSink, opts QueueOptions) *OutboundQueue {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &OutboundQueue{
		sender: sender,
		sink:   sink,
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrency),
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue schedules body for recipientID and returns without waiting for
// delivery. The sequence number comes from a single counter shared by all
// recipients, so it is strictly increasing per recipient too.
func (q *OutboundQueue) Enqueue(recipientID, body string) (models.OutboundMessage, error) {
	msgs, err := q.EnqueueBatch([]Reply{{To: recipientID, Body: body}})
	if err != nil {
		return models.OutboundMessage{}, err
	}
	return msgs[0], nil
}

// EnqueueBatch queues all replies under one lock, in order: either every
// reply is accepted or, once the queue is closed, none is.
func (q *OutboundQueue) EnqueueBatch(replies []Reply) ([]models.OutboundMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("%w: outbound queue closed", ErrTransientSend)
	}
	out := make([]models.OutboundMessage, 0, len(replies))
	for _, r := range replies {
		out = append(out, q.push(r.To, r.Body))
	}
	return out, nil
}

// Accepting reports whether the queue still takes new messages.
func (q *OutboundQueue) Accepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed
}

// push appends to the recipient's lane, starting a drainer for a new lane.
// q.mu must be held.
func (q *OutboundQueue) push(recipientID, body string) models.OutboundMessage {
	msg := models.OutboundMessage{
		RecipientID: recipientID,
		Body:        body,
		Sequence:    q.seq.Add(1),
		EnqueuedAt:  time.Now(),
		Status:      models.DeliveryPending,
	}
	q.enqueued.Add(1)

	l, ok := q.lanes[recipientID]
	if ok {
		l.pending = append(l.pending, msg)
		return msg
	}

	l = &lane{pending: []models.OutboundMessage{msg}}
	q.lanes[recipientID] = l
	q.wg.Add(1)
	go q.drain(recipientID, l)
	return msg
}

// drain delivers a lane until it is empty, then removes it.
func (q *OutboundQueue) drain(recipientID string, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			delete(q.lanes, recipientID)
			q.mu.Unlock()
			return
		}
		msg := l.pending[0]
		l.pending[0] = models.OutboundMessage{}
		l.pending = l.pending[1:]
		q.mu.Unlock()

		q.deliver(msg)
	}
}

func (q *OutboundQueue) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialBackoff
	b.MaxInterval = q.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.opts.MaxAttempts-1)), q.ctx)
}

// deliver runs the retry loop for one message. It returns only after the
// message was sent or handed to the failure sink.
func (q *OutboundQueue) deliver(msg models.OutboundMessage) {
	log := logger.WithUser(msg.RecipientID).WithField("seq", msg.Sequence)

	attempt := func() error {
		msg.Attempts++
		msg.Status = models.DeliverySending

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: queue stopped: %v", ErrPermanentSend, err))
		}
		defer q.sem.Release(1)

		ctx, cancel := context.WithTimeout(q.ctx, q.opts.SendTimeout)
		defer cancel()

		err := q.sender.Send(ctx, msg.RecipientID, msg.Body)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanentSend) {
			return backoff.Permanent(err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: send timed out after %s: %v", ErrRetryableSend, q.opts.SendTimeout, err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		q.retries.Add(1)
		log.WithFields(logrus.Fields{
			"attempt":  msg.Attempts,
			"retry_in": wait.String(),
		}).Warnf("⚠️ attempt %d failed: %v", msg.Attempts, err)
	}

	err := backoff.RetryNotify(attempt, q.newBackOff(), notify)
	if err == nil {
		msg.Status = models.DeliverySent
		q.sent.Add(1)
		return
	}

	msg.Status = models.DeliveryFailed
	msg.LastError = err.Error()
	q.failed.Add(1)
	log.WithField("attempts", msg.Attempts).Errorf("❌ giving up on message: %v", err)
	if q.sink != nil {
		if !errors.Is(err, ErrPermanentSend) {
			err = fmt.Errorf("%w: retries exhausted: %v", ErrPermanentSend, err)
		}
		q.sink.DeliveryFailed(msg, err)
	}
}

// Close stops accepting messages and waits for the lanes to drain. If ctx
// ends first, in-flight sends are aborted, the remaining messages go to the
// failure sink and ctx.Err() is returned.
func (q *OutboundQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (q *OutboundQueue) Stats() QueueStats {
	q.mu.Lock()
	pending := 0
	for _, l := range q.lanes {
		pending += len(l.pending)
	}
	active := len(q.lanes)
	q.mu.Unlock()

	return QueueStats{
		Enqueued:    q.enqueued.Load(),
		Sent:        q.sent.Load(),
		Failed:      q.failed.Load(),
		Retries:     q.retries.Load(),
		Pending:     pending,
		ActiveLanes: active,
	}
}

// DeadLetterSink logs failed messages and keeps them in the dead-letter table.
type DeadLetterSink struct {
	store   storage.DeadLetters
	timeout time.Duration
}

// NewDeadLetterSink creates a sink. store may be nil to only log.
func NewDeadLetterSink(store storage.DeadLetters) *DeadLetterSink {
	return &DeadLetterSink{store: store, timeout: 5 * time.Second}
}

func (s *DeadLetterSink) DeliveryFailed(msg models.OutboundMessage, err error) {
	log := logger.WithUser(msg.RecipientID).WithFields(logrus.Fields{
		"seq":      msg.Sequence,
		"attempts": msg.Attempts,
	})
	log.Errorf("📭 message delivery failed: %v", err)

	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	record := &models.FailedDelivery{
		RecipientID: msg.RecipientID,
		Body:        msg.Body,
		Sequence:    msg.Sequence,
		Attempts:    msg.Attempts,
		LastError:   err.Error(),
		EnqueuedAt:  msg.EnqueuedAt,
		FailedAt:    time.Now(),
	}
	if recErr := s.store.RecordFailedDelivery(ctx, record); recErr != nil {
		log.Errorf("failed to record dead letter: %v", recErr)
	}
}
