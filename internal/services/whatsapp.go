package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// Enqueuer hands replies to the outbound queue.
type Enqueuer interface {
	Accepting() bool
	EnqueueBatch(replies []Reply) ([]models.OutboundMessage, error)
}

type intent int

const (
	intentUnknown intent = iota
	intentOrder
	intentNutrition
)

var (
	orderKeywords     = map[string]bool{"order": true, "food": true, "menu": true, "hungry": true, "eat": true, "buy": true}
	nutritionKeywords = map[string]bool{"nutrition": true, "nutritionist": true, "diet": true, "advice": true, "healthy": true, "calories": true}
	byeWords          = map[string]bool{"bye": true, "exit": true, "quit": true, "cancel": true, "stop": true}
)

// detectIntent classifies the first message of an idle session.
func detectIntent(text string) intent {
	t := normalize(text)
	switch t {
	case "1", "1️⃣":
		return intentOrder
	case "2", "2️⃣":
		return intentNutrition
	}
	for _, w := range strings.Fields(t) {
		w = strings.Trim(w, ",.!?")
		if nutritionKeywords[w] {
			return intentNutrition
		}
		if orderKeywords[w] {
			return intentOrder
		}
	}
	return intentUnknown
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// ConversationRouter runs one inbound WhatsApp message as an atomic turn:
// lock the user, load the session, route by mode, save, enqueue replies.
type ConversationRouter struct {
	sessions     storage.SessionStore
	catalog      storage.Catalog
	flow         *OrderFlow
	nutritionist Nutritionist
	queue        Enqueuer
	locks        *KeyedMutex
}

// NewConversationRouter wires the router.
func NewConversationRouter(sessions storage.SessionStore, catalog storage.Catalog, flow *OrderFlow, nutritionist Nutritionist, queue Enqueuer) *ConversationRouter {
	return &ConversationRouter{
		sessions:     sessions,
		catalog:      catalog,
		flow:         flow,
		nutritionist: nutritionist,
		queue:        queue,
		locks:        NewKeyedMutex(),
	}
}

// HandleInbound processes one message from userID.
//
// Turns of the same user run one at a time, first come first served at the
// lock. The session is saved before any reply is queued, so a turn that fails
// with ErrTransientStore or ErrTransientSend has changed and sent nothing and
// can be retried as a whole. Once the session is saved the turn counts as done,
// even if the queue closes before its replies are handed over. The turn
// ignores cancellation of ctx: once started it runs to completion.
func (r *ConversationRouter) HandleInbound(ctx context.Context, userID, text string) error {
	userID = strings.TrimPrefix(strings.TrimSpace(userID), "whatsapp:")
	if userID == "" {
		return fmt.Errorf("%w: missing sender", ErrValidation)
	}
	ctx = context.WithoutCancel(ctx)
	text = strings.TrimSpace(text)

	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)

	log := logger.WithUser(userID)

	if !r.queue.Accepting() {
		return fmt.Errorf("%w: outbound queue closed", ErrTransientSend)
	}

	session, err := r.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		log.Errorf("❌ load session: %v", err)
		return fmt.Errorf("%w: load session: %v", ErrTransientStore, err)
	}
	log.WithFields(logrus.Fields{
		"mode": session.Mode,
		"text": text,
	}).Info("📱 WhatsApp message")

	out, err := r.route(ctx, session, text)
	if err != nil {
		log.Errorf("❌ turn failed: %v", err)
		return err
	}

	if session.Mode != models.ModeOrdering {
		session.OrderDraft = nil
	}
	if err := r.sessions.Save(ctx, session); err != nil {
		log.Errorf("❌ save session: %v", err)
		return fmt.Errorf("%w: save session: %v", ErrTransientStore, err)
	}

	for i := range out {
		if out[i].To == "" {
			out[i].To = userID
		}
	}
	if _, err := r.queue.EnqueueBatch(out); err != nil {
		// the turn is saved; a retry would apply it twice
		log.WithField("replies", len(out)).Errorf("❌ replies dropped after save: %v", err)
	}
	return nil
}

func (r *ConversationRouter) route(ctx context.Context, s *models.Session, text string) ([]Reply, error) {
	switch s.Mode {
	case models.ModeOrdering:
		if s.OrderDraft == nil || s.OrderDraft.Status.IsTerminal() {
			// the last order is over; this message starts the next one
			s.Reset()
			if detectIntent(text) == intentNutrition {
				return r.startNutrition(s), nil
			}
			return r.flow.Begin(ctx, s, orderText(text))
		}
		return r.flow.Handle(ctx, s, text)
	case models.ModeNutritionChat:
		return r.chat(ctx, s, text), nil
	default:
		return r.idle(ctx, s, text)
	}
}

// orderText drops the bare "1" menu choice so it is not read as dish #1.
func orderText(text string) string {
	if detectIntent(text) == intentOrder && !hasLetter(text) {
		return ""
	}
	return text
}

func (r *ConversationRouter) idle(ctx context.Context, s *models.Session, text string) ([]Reply, error) {
	switch detectIntent(text) {
	case intentOrder:
		return r.flow.Begin(ctx, s, orderText(text))
	case intentNutrition:
		return r.startNutrition(s), nil
	}

	// "2 burgers" as a first message goes straight into an order
	if hasLetter(text) {
		products, err := r.catalog.ListProducts(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: load menu: %v", ErrTransientStore, err)
		}
		if parsed := ParseItems(text, products); len(parsed.Items) > 0 {
			return r.flow.Begin(ctx, s, text)
		}
	}
	return replies(msgWelcome), nil
}

func (r *ConversationRouter) startNutrition(s *models.Session) []Reply {
	s.Mode = models.ModeNutritionChat
	s.OrderDraft = nil
	s.History = nil
	return replies(msgNutritionIntro)
}

func (r *ConversationRouter) chat(ctx context.Context, s *models.Session, text string) []Reply {
	if byeWords[normalize(text)] {
		s.Reset()
		return replies(msgNutritionBye)
	}

	answer, err := r.nutritionist.Respond(ctx, s.UserID, text, s.History)
	if err != nil {
		logger.WithUser(s.UserID).Warnf("⚠️ nutritionist unavailable: %v", err)
		return replies(msgNutritionError)
	}
	s.History = appendHistory(s.History,
		models.ChatTurn{Role: "user", Content: text},
		models.ChatTurn{Role: "assistant", Content: answer},
	)
	return replies(answer)
}
