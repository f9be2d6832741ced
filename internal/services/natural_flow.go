package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Ananth-NQI/foodbot-backend/internal/events"
	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// Reply is one outbound message produced by a turn. An empty To means the
// user who sent the inbound message.
type Reply struct {
	To   string
	Body string
}

func replies(bodies ...string) []Reply {
	out := make([]Reply, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, Reply{Body: b})
	}
	return out
}

// OrderFlow walks a session's order draft through
// COLLECTING_ITEMS -> AWAITING_ADDRESS -> AWAITING_CONFIRMATION -> CONFIRMED.
// "cancel" ends any open order as CANCELLED.
type OrderFlow struct {
	catalog       storage.Catalog
	ledger        storage.OrderLedger
	msgs          *Messages
	publisher     events.Publisher
	deliveryPhone string
	newOrderID    func(*models.Order) string
}

// FlowOption customises an OrderFlow.
type FlowOption func(*OrderFlow)

// WithDeliveryPhone sends a copy of each confirmed order to phone.
func WithDeliveryPhone(phone string) FlowOption {
	return func(f *OrderFlow) { f.deliveryPhone = phone }
}

// WithPublisher announces confirmed orders.
func WithPublisher(p events.Publisher) FlowOption {
	return func(f *OrderFlow) { f.publisher = p }
}

// WithOrderIDs replaces the order ID generator.
func WithOrderIDs(gen func(*models.Order) string) FlowOption {
	return func(f *OrderFlow) { f.newOrderID = gen }
}

var orderNamespace = uuid.MustParse("6f1c2b0e-8f4a-4c1e-9d53-2a7b9e4f0c11")

// DraftOrderID derives the order ID from the user and the draft's creation
// time. A turn that is retried after its session save failed computes the
// same ID again, so the ledger still sees a single order.
func DraftOrderID(order *models.Order) string {
	key := order.UserID + "|" + order.CreatedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(orderNamespace, []byte(key)).String()
}

// NewOrderFlow creates the order state machine.
func NewOrderFlow(catalog storage.Catalog, ledger storage.OrderLedger, msgs *Messages, opts ...FlowOption) *OrderFlow {
	f := &OrderFlow{
		catalog:    catalog,
		ledger:     ledger,
		msgs:       msgs,
		publisher:  events.NoopPublisher{},
		newOrderID: DraftOrderID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *OrderFlow) menu(ctx context.Context) ([]models.Product, error) {
	products, err := f.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load menu: %v", ErrTransientStore, err)
	}
	return products, nil
}

// Begin puts the session into ORDERING with a fresh draft. A non-empty
// first message is read as items ("2 burgers"); otherwise the menu is sent.
func (f *OrderFlow) Begin(ctx context.Context, s *models.Session, first string) ([]Reply, error) {
	products, err := f.menu(ctx)
	if err != nil {
		return nil, err
	}

	s.Mode = models.ModeOrdering
	s.OrderDraft = models.NewOrder(s.UserID)

	if first != "" {
		if parsed := ParseItems(first, products); len(parsed.Items) > 0 {
			return f.addItems(s.OrderDraft, parsed, products), nil
		}
	}
	return replies(f.msgs.Menu(products)), nil
}

// Handle processes one message of an open order. The session must be in
// ORDERING mode. A draft that already reached a terminal state is replaced
// by a new order.
func (f *OrderFlow) Handle(ctx context.Context, s *models.Session, text string) ([]Reply, error) {
	order := s.OrderDraft
	if order == nil || order.Status.IsTerminal() {
		s.Reset()
		return f.Begin(ctx, s, text)
	}

	text = strings.TrimSpace(text)
	if IsCancel(text) {
		_ = order.Advance(models.OrderStatusCancelled)
		logger.WithUser(s.UserID).Info("🛑 order cancelled")
		return replies(msgCancelled), nil
	}

	switch order.Status {
	case models.OrderStatusCollectingItems:
		return f.collect(ctx, order, text)
	case models.OrderStatusAwaitingAddress:
		return f.address(order, text), nil
	case models.OrderStatusAwaitingConfirmation:
		return f.confirm(ctx, order, text), nil
	}

	// unknown status in stored data: start over
	s.Reset()
	return f.Begin(ctx, s, "")
}

func (f *OrderFlow) collect(ctx context.Context, order *models.Order, text string) ([]Reply, error) {
	if IsDone(text) {
		if len(order.Items) == 0 {
			return replies(msgEmptyOrder), nil
		}
		_ = order.Advance(models.OrderStatusAwaitingAddress)
		return replies(f.msgs.Summary(order)), nil
	}

	products, err := f.menu(ctx)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(text, "menu") {
		return replies(f.msgs.Menu(products)), nil
	}

	parsed := ParseItems(text, products)
	if len(parsed.Items) == 0 && len(parsed.Ambiguous) == 0 {
		return replies(msgNotUnderstood), nil
	}
	return f.addItems(order, parsed, products), nil
}

// addItems adds the parsed lines that are in stock, counting what the cart
// already holds, and reports the rest.
func (f *OrderFlow) addItems(order *models.Order, parsed ParsedItems, products []models.Product) []Reply {
	stock := make(map[string]int, len(products))
	for _, p := range products {
		stock[p.Name] = p.Stock
	}
	inCart := make(map[string]int)
	for _, it := range order.Items {
		inCart[it.Name] += it.Quantity
	}

	var accepted []models.OrderItem
	var short []string
	for _, it := range parsed.Items {
		left := stock[it.Name] - inCart[it.Name]
		if it.Quantity > left {
			short = append(short, f.msgs.StockShort(it.Name, max(left, 0)))
			continue
		}
		inCart[it.Name] += it.Quantity
		accepted = append(accepted, it)
	}
	_ = order.AddItems(accepted...)

	return replies(f.msgs.ItemsUpdated(order, parsed, short))
}

func (f *OrderFlow) address(order *models.Order, text string) []Reply {
	if text == "" {
		return replies(msgEmptyAddress)
	}
	_ = order.SetAddress(text)
	_ = order.Advance(models.OrderStatusAwaitingConfirmation)
	return replies(f.msgs.ConfirmPrompt(order))
}

func (f *OrderFlow) confirm(ctx context.Context, order *models.Order, text string) []Reply {
	switch {
	case IsAffirmative(text):
		return f.place(ctx, order)
	case IsNegative(text):
		_ = order.Advance(models.OrderStatusAwaitingAddress)
		return replies(msgAddressRetry)
	default:
		return replies(msgConfirmRetry)
	}
}

// place writes the order to the ledger. The order ID is fixed before the
// first attempt so a retried "yes" appends the same order again, which the
// ledger ignores. The draft only becomes CONFIRMED once the append succeeded.
func (f *OrderFlow) place(ctx context.Context, order *models.Order) []Reply {
	if order.OrderID == "" {
		order.OrderID = f.newOrderID(order)
	}
	log := logger.WithUser(order.UserID).WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"total":    order.TotalAmount,
	})

	confirmed := order.Clone()
	_ = confirmed.Advance(models.OrderStatusConfirmed)

	if err := f.ledger.Append(ctx, confirmed); err != nil {
		var stockErr *storage.StockError
		if errors.As(err, &stockErr) {
			log.Warnf("⚠️ stock ran out at confirmation: %v", err)
			return replies(f.msgs.OutOfStockAtConfirm(stockErr))
		}
		log.Errorf("❌ %v: %v", ErrLedgerWrite, err)
		return replies(msgLedgerRetry)
	}

	*order = *confirmed
	log.Info("✅ order confirmed")

	out := replies(f.msgs.OrderPlaced(order), f.msgs.ETA(order))
	if f.deliveryPhone != "" {
		out = append(out, Reply{To: f.deliveryPhone, Body: f.msgs.DeliveryCopy(order)})
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.publisher.PublishOrderConfirmed(pubCtx, order); err != nil {
		log.Warnf("⚠️ order event not published: %v", err)
	}
	return out
}
