package models

import "time"

// DeliveryStatus tracks one outbound WhatsApp message.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySending DeliveryStatus = "SENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// OutboundMessage is a reply waiting in, or leaving, the delivery queue.
// Sequence only grows for a given recipient.
type OutboundMessage struct {
	RecipientID string         `json:"recipient_id"`
	Body        string         `json:"body"`
	Sequence    uint64         `json:"sequence"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	Attempts    int            `json:"attempts"`
	Status      DeliveryStatus `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
}

// FailedDelivery is the dead-letter record of a message that exhausted its retries.
type FailedDelivery struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RecipientID string    `json:"recipient_id" gorm:"index;not null"`
	Body        string    `json:"body"`
	Sequence    uint64    `json:"sequence"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	FailedAt    time.Time `json:"failed_at"`
}
