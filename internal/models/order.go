package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOrderClosed is returned when mutating a confirmed or cancelled order.
	ErrOrderClosed = errors.New("order is closed")
	// ErrInvalidTransition is returned for a move the order flow does not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// OrderStatus tracks where an order is in the conversation.
type OrderStatus string

const (
	OrderStatusCollectingItems      OrderStatus = "COLLECTING_ITEMS"
	OrderStatusAwaitingAddress      OrderStatus = "AWAITING_ADDRESS"
	OrderStatusAwaitingConfirmation OrderStatus = "AWAITING_CONFIRMATION"
	OrderStatusConfirmed            OrderStatus = "CONFIRMED"
	OrderStatusCancelled            OrderStatus = "CANCELLED"
)

var statusRank = map[OrderStatus]int{
	OrderStatusCollectingItems:      1,
	OrderStatusAwaitingAddress:      2,
	OrderStatusAwaitingConfirmation: 3,
	OrderStatusConfirmed:            4,
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCancelled
}

// CanMoveTo reports whether next is reachable from s. Statuses only move
// forward, with two exceptions: cancelling, and going back from
// AWAITING_CONFIRMATION to AWAITING_ADDRESS when the user rejects the address.
func (s OrderStatus) CanMoveTo(next OrderStatus) bool {
	switch {
	case s.IsTerminal():
		return false
	case next == OrderStatusCancelled:
		return true
	case s == OrderStatusAwaitingConfirmation && next == OrderStatusAwaitingAddress:
		return true
	}
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to > from
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// LineTotal is quantity times unit price.
func (i OrderItem) LineTotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Order is a food order being built in a chat, or a confirmed one in the ledger.
type Order struct {
	OrderID     string      `json:"order_id,omitempty"`
	UserID      string      `json:"user_id"`
	Items       []OrderItem `json:"items"`
	Address     string      `json:"address,omitempty"`
	Status      OrderStatus `json:"status"`
	TotalAmount float64     `json:"total_amount"`
	CreatedAt   time.Time   `json:"created_at"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`
}

// NewOrder starts an empty order in COLLECTING_ITEMS.
func NewOrder(userID string) *Order {
	return &Order{
		UserID:    userID,
		Status:    OrderStatusCollectingItems,
		CreatedAt: time.Now(),
	}
}

// AddItems appends items, merging quantities for a dish already in the order.
func (o *Order) AddItems(items ...OrderItem) error {
	if o.Status.IsTerminal() {
		return ErrOrderClosed
	}
	for _, it := range items {
		merged := false
		for i := range o.Items {
			if o.Items[i].Name == it.Name && o.Items[i].UnitPrice == it.UnitPrice {
				o.Items[i].Quantity += it.Quantity
				merged = true
				break
			}
		}
		if !merged {
			o.Items = append(o.Items, it)
		}
	}
	o.recalculate()
	return nil
}

// SetItems replaces the item list.
func (o *Order) SetItems(items []OrderItem) error {
	if o.Status.IsTerminal() {
		return ErrOrderClosed
	}
	o.Items = append([]OrderItem(nil), items...)
	o.recalculate()
	return nil
}

// SetAddress records the delivery address.
func (o *Order) SetAddress(address string) error {
	if o.Status.IsTerminal() {
		return ErrOrderClosed
	}
	o.Address = address
	return nil
}

// Advance moves the order to next. Terminal orders never move again.
func (o *Order) Advance(next OrderStatus) error {
	if o.Status.IsTerminal() {
		return ErrOrderClosed
	}
	if !o.Status.CanMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	if next == OrderStatusConfirmed {
		now := time.Now()
		o.ConfirmedAt = &now
	}
	return nil
}

// ItemCount is the number of units across all lines.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Clone returns a deep copy so sessions never share an order across goroutines.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.ConfirmedAt != nil {
		t := *o.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	return &cp
}

func (o *Order) recalculate() {
	total := 0.0
	for _, it := range o.Items {
		total += it.LineTotal()
	}
	o.TotalAmount = total
}
