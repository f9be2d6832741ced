package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

const testETA = "Order {order_id} ({total}) to {address} arrives in 30 minutes."

// flakyLedger fails the next `failures` appends before delegating.
type flakyLedger struct {
	storage.OrderLedger
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (l *flakyLedger) Append(ctx context.Context, order *models.Order) error {
	l.mu.Lock()
	l.calls++
	if l.failures > 0 {
		l.failures--
		err := l.err
		l.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("%w: connection reset", storage.ErrStoreUnavailable)
		}
		return err
	}
	l.mu.Unlock()
	return l.OrderLedger.Append(ctx, order)
}

type brokenCatalog struct{}

func (brokenCatalog) ListProducts(context.Context) ([]models.Product, error) {
	return nil, storage.ErrStoreUnavailable
}

func (brokenCatalog) SeedProducts(context.Context, []models.Product) (int, error) {
	return 0, storage.ErrStoreUnavailable
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []*models.Order
	err    error
}

func (p *recordingPublisher) PublishOrderConfirmed(ctx context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order.Clone())
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newTestStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(3 * time.Hour)
	_, err := store.SeedProducts(context.Background(), models.DefaultMenu())
	require.NoError(t, err)
	return store
}

func newTestFlow(t *testing.T, ledger storage.OrderLedger, opts ...FlowOption) (*OrderFlow, *storage.MemoryStore) {
	t.Helper()
	store := newTestStore(t)
	if ledger == nil {
		ledger = store
	}
	return NewOrderFlow(store, ledger, NewMessages("$", testETA), opts...), store
}

func bodies(rs []Reply) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Body)
	}
	return out
}

func step(t *testing.T, f *OrderFlow, s *models.Session, text string) []Reply {
	t.Helper()
	out, err := f.Handle(context.Background(), s, text)
	require.NoError(t, err)
	return out
}

func TestOrderFlowHappyPath(t *testing.T) {
	ctx := context.Background()
	flow, store := newTestFlow(t, nil)
	s := models.NewSession("u1")

	out, err := flow.Begin(ctx, s, "2 burgers")
	require.NoError(t, err)
	assert.Equal(t, models.ModeOrdering, s.Mode)
	require.Len(t, out, 1)
	require.Len(t, s.OrderDraft.Items, 1)
	assert.Equal(t, models.OrderItem{Name: "Cheeseburger", Quantity: 2, UnitPrice: 8.5}, s.OrderDraft.Items[0])
	assert.Equal(t, 17.0, s.OrderDraft.TotalAmount)

	out = step(t, flow, s, "done")
	assert.Equal(t, models.OrderStatusAwaitingAddress, s.OrderDraft.Status)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body, "Total: $17.00")

	out = step(t, flow, s, "123 Main St")
	assert.Equal(t, models.OrderStatusAwaitingConfirmation, s.OrderDraft.Status)
	assert.Equal(t, "123 Main St", s.OrderDraft.Address)
	assert.Contains(t, out[0].Body, "123 Main St")

	out = step(t, flow, s, "yes")
	assert.Equal(t, models.OrderStatusConfirmed, s.OrderDraft.Status)
	require.NotEmpty(t, s.OrderDraft.OrderID)
	require.NotNil(t, s.OrderDraft.ConfirmedAt)

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Body, "order has been placed")
	assert.Contains(t, out[0].Body, "$17.00")
	assert.Equal(t, "Order "+s.OrderDraft.OrderID+" ($17.00) to 123 Main St arrives in 30 minutes.", out[1].Body)

	saved, err := store.GetOrder(ctx, s.OrderDraft.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 17.0, saved.TotalAmount)
}

func TestOrderFlowDoneWithoutItems(t *testing.T) {
	flow, _ := newTestFlow(t, nil)
	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "")
	require.NoError(t, err)

	out := step(t, flow, s, "done")
	assert.Equal(t, []string{msgEmptyOrder}, bodies(out))
	assert.Equal(t, models.OrderStatusCollectingItems, s.OrderDraft.Status)
}

func TestOrderFlowCollectsAcrossMessages(t *testing.T) {
	flow, _ := newTestFlow(t, nil)
	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "")
	require.NoError(t, err)

	step(t, flow, s, "1x2 3")
	step(t, flow, s, "burger x1, a greek salad")
	out := step(t, flow, s, "unicorn steak and a smoothie")

	assert.Equal(t, []models.OrderItem{
		{Name: "Margherita Pizza", Quantity: 2, UnitPrice: 12.99},
		{Name: "Cheeseburger", Quantity: 2, UnitPrice: 8.5},
		{Name: "Greek Salad", Quantity: 1, UnitPrice: 8.25},
		{Name: "Fruit Smoothie", Quantity: 1, UnitPrice: 6.5},
	}, s.OrderDraft.Items)
	assert.InDelta(t, 2*12.99+2*8.5+8.25+6.5, s.OrderDraft.TotalAmount, 1e-9)
	assert.Contains(t, out[0].Body, "Not on the menu: unicorn steak")

	out = step(t, flow, s, "what?")
	assert.Equal(t, []string{msgNotUnderstood}, bodies(out))
}

func TestOrderFlowRespectsStock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(time.Hour)
	_, err := store.SeedProducts(ctx, []models.Product{{Name: "Cheeseburger", Price: 8.5, Stock: 3, Available: true}})
	require.NoError(t, err)
	flow := NewOrderFlow(store, store, NewMessages("$", testETA))

	s := models.NewSession("u1")
	_, err = flow.Begin(ctx, s, "2 burgers")
	require.NoError(t, err)

	out := step(t, flow, s, "2 burgers")
	assert.Equal(t, 2, s.OrderDraft.ItemCount(), "only what is left may be added")
	assert.Contains(t, out[0].Body, "Only 1 unit(s) of Cheeseburger in stock")
}

func TestOrderFlowNegativeConfirmationReentersAddress(t *testing.T) {
	flow, _ := newTestFlow(t, nil)
	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "2 burgers")
	require.NoError(t, err)
	step(t, flow, s, "done")
	step(t, flow, s, "123 Main St")

	out := step(t, flow, s, "no")
	assert.Equal(t, []string{msgAddressRetry}, bodies(out))
	assert.Equal(t, models.OrderStatusAwaitingAddress, s.OrderDraft.Status)

	step(t, flow, s, "9 Broad Street")
	assert.Equal(t, "9 Broad Street", s.OrderDraft.Address)

	out = step(t, flow, s, "maybe")
	assert.Equal(t, []string{msgConfirmRetry}, bodies(out))
	assert.Equal(t, models.OrderStatusAwaitingConfirmation, s.OrderDraft.Status)

	step(t, flow, s, "yes please")
	assert.Equal(t, models.OrderStatusConfirmed, s.OrderDraft.Status)
}

func TestOrderFlowCancelFromEveryOpenState(t *testing.T) {
	setups := map[string][]string{
		"collecting":   {},
		"address":      {"done"},
		"confirmation": {"done", "123 Main St"},
	}
	for name, pre := range setups {
		t.Run(name, func(t *testing.T) {
			flow, store := newTestFlow(t, nil)
			s := models.NewSession("u1")
			_, err := flow.Begin(context.Background(), s, "2 burgers")
			require.NoError(t, err)
			for _, text := range pre {
				step(t, flow, s, text)
			}

			out := step(t, flow, s, "cancel")
			assert.Equal(t, []string{msgCancelled}, bodies(out))
			assert.Equal(t, models.OrderStatusCancelled, s.OrderDraft.Status)

			orders, err := store.OrdersByUser(context.Background(), "u1")
			require.NoError(t, err)
			assert.Empty(t, orders)
		})
	}
}

func TestOrderFlowTerminalOrderStartsNewOne(t *testing.T) {
	flow, _ := newTestFlow(t, nil)
	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "2 burgers")
	require.NoError(t, err)
	step(t, flow, s, "done")
	step(t, flow, s, "123 Main St")
	step(t, flow, s, "yes")
	old := s.OrderDraft

	step(t, flow, s, "1 pizza")
	require.NotSame(t, old, s.OrderDraft)
	assert.Equal(t, models.OrderStatusCollectingItems, s.OrderDraft.Status)
	assert.Empty(t, s.OrderDraft.OrderID)
	assert.Equal(t, "Margherita Pizza", s.OrderDraft.Items[0].Name)

	// the confirmed order value is untouched
	assert.Equal(t, models.OrderStatusConfirmed, old.Status)
	assert.Equal(t, "Cheeseburger", old.Items[0].Name)
}

func TestOrderFlowLedgerFailsOnceThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	ledger := &flakyLedger{OrderLedger: store, failures: 1}
	flow := NewOrderFlow(store, ledger, NewMessages("$", testETA))

	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "2 burgers")
	require.NoError(t, err)
	step(t, flow, s, "done")
	step(t, flow, s, "123 Main St")

	first := step(t, flow, s, "yes")
	assert.Equal(t, []string{msgLedgerRetry}, bodies(first))
	assert.Equal(t, models.OrderStatusAwaitingConfirmation, s.OrderDraft.Status)
	orderID := s.OrderDraft.OrderID
	require.NotEmpty(t, orderID)

	second := step(t, flow, s, "yes")
	require.Len(t, second, 2)
	assert.Equal(t, models.OrderStatusConfirmed, s.OrderDraft.Status)
	assert.Equal(t, orderID, s.OrderDraft.OrderID, "retry reuses the order id")

	orders, err := store.OrdersByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, orderID, orders[0].OrderID)
	assert.Equal(t, 2, ledger.calls)
}

func TestOrderFlowStockGoneAtConfirmation(t *testing.T) {
	store := newTestStore(t)
	ledger := &flakyLedger{
		OrderLedger: store,
		failures:    1,
		err:         &storage.StockError{Product: "Cheeseburger", Requested: 2, Available: 1},
	}
	flow := NewOrderFlow(store, ledger, NewMessages("$", testETA))

	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "2 burgers")
	require.NoError(t, err)
	step(t, flow, s, "done")
	step(t, flow, s, "123 Main St")

	out := step(t, flow, s, "yes")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body, "Only 1 unit(s) of Cheeseburger")
	assert.Equal(t, models.OrderStatusAwaitingConfirmation, s.OrderDraft.Status)
}

func TestOrderFlowDeliveryCopyAndEvent(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	flow, _ := newTestFlow(t, nil, WithDeliveryPhone("+2348099999999"), WithPublisher(pub))

	s := models.NewSession("u1")
	_, err := flow.Begin(context.Background(), s, "2 burgers")
	require.NoError(t, err)
	step(t, flow, s, "done")
	step(t, flow, s, "123 Main St")
	out := step(t, flow, s, "yes")

	require.Len(t, out, 3)
	assert.Empty(t, out[0].To)
	assert.Empty(t, out[1].To)
	assert.Equal(t, "+2348099999999", out[2].To)
	assert.Contains(t, out[2].Body, "Address: 123 Main St")
	assert.Contains(t, out[2].Body, "2 x Cheeseburger")

	// a failed publish does not undo the confirmation
	assert.Equal(t, models.OrderStatusConfirmed, s.OrderDraft.Status)
	require.Len(t, pub.orders, 1)
	assert.Equal(t, s.OrderDraft.OrderID, pub.orders[0].OrderID)
}

func TestOrderFlowCatalogUnavailable(t *testing.T) {
	flow := NewOrderFlow(brokenCatalog{}, storage.NewMemoryStore(time.Hour), NewMessages("$", testETA))
	s := models.NewSession("u1")

	_, err := flow.Begin(context.Background(), s, "2 burgers")
	assert.ErrorIs(t, err, ErrTransientStore)
}

func TestDraftOrderIDIsStable(t *testing.T) {
	o := models.NewOrder("u1")
	assert.Equal(t, DraftOrderID(o), DraftOrderID(o.Clone()))

	other := models.NewOrder("u2")
	other.CreatedAt = o.CreatedAt
	assert.NotEqual(t, DraftOrderID(o), DraftOrderID(other))
}
