package models

import (
	"time"
)

// SessionMode is what the user is currently doing with the bot.
type SessionMode string

const (
	ModeIdle          SessionMode = "IDLE"
	ModeOrdering      SessionMode = "ORDERING"
	ModeNutritionChat SessionMode = "NUTRITION_CHAT"
)

// ChatTurn is one message of a nutritionist conversation.
type ChatTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Session stores the conversation state of one WhatsApp user.
// It expires LastActivity + TTL after the last saved turn.
type Session struct {
	UserID       string      `json:"user_id" gorm:"primaryKey"`
	Mode         SessionMode `json:"mode" gorm:"not null;default:'IDLE'"`
	OrderDraft   *Order      `json:"order_draft,omitempty" gorm:"serializer:json"`
	History      []ChatTurn  `json:"history,omitempty" gorm:"serializer:json"`
	LastActivity time.Time   `json:"last_activity" gorm:"index;not null"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TableName keeps the table name stable.
func (Session) TableName() string { return "whatsapp_sessions" }

// NewSession creates an IDLE session that has not been saved yet.
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		Mode:      ModeIdle,
		CreatedAt: now,
	}
}

// ExpiredAt reports whether the session is unreadable at now for the given ttl.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.LastActivity.IsZero() {
		return false
	}
	return !now.Before(s.LastActivity.Add(ttl))
}

// Reset drops any draft and chat history and returns to IDLE.
func (s *Session) Reset() {
	s.Mode = ModeIdle
	s.OrderDraft = nil
	s.History = nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.OrderDraft = s.OrderDraft.Clone()
	cp.History = append([]ChatTurn(nil), s.History...)
	return &cp
}
