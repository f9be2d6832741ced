package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/Ananth-NQI/foodbot-backend/internal/config"
	"github.com/Ananth-NQI/foodbot-backend/internal/logger"
	"github.com/Ananth-NQI/foodbot-backend/internal/models"
	"github.com/Ananth-NQI/foodbot-backend/internal/storage"
)

// Fixed replies.
const (
	msgWelcome = "👋 Welcome to FoodBot! Please choose a service:\n" +
		"1️⃣ Place a food order\n" +
		"2️⃣ Chat with our AI Nutritionist\n\n" +
		"Reply with 1 or 2."
	msgEmptyOrder     = "🛒 Your cart is empty. Add at least one item before checking out, e.g. \"2 burgers\"."
	msgAddressPrompt  = "📍 Please send your delivery address."
	msgAddressRetry   = "📍 Okay, please re-enter your delivery address."
	msgEmptyAddress   = "📍 The address can't be empty. Please send your delivery address."
	msgConfirmRetry   = "Please reply *yes* to place the order or *no* to change the address. Send *cancel* to cancel."
	msgLedgerRetry    = "⚠️ We couldn't place your order right now. Please reply *yes* again in a moment to retry."
	msgCancelled      = "❌ Your order has been cancelled. Send any message to start again."
	msgNotUnderstood  = "🤔 Sorry, I couldn't find any menu items in that. Try \"2 burgers\" or menu numbers like \"1x2 3\". Send *menu* to see the menu or *done* when finished."
	msgMenuEmpty      = "😔 No food items are available right now. Please try again later."
	msgNutritionIntro = "🥗 Great! Tell me about your dietary goals or preferences. Send *bye* to end the chat."
	msgNutritionBye   = "👋 Thanks for chatting! Send any message to see the main menu again."
	msgNutritionError = "Sorry, I'm having trouble fetching advice right now. Please try again in a moment."
)

// Messages renders user facing replies.
type Messages struct {
	currency string
	eta      *fasttemplate.Template
}

// NewMessages prepares the reply renderer. An ETA template that does not
// parse falls back to the default.
func NewMessages(currency, etaTemplate string) *Messages {
	if etaTemplate == "" {
		etaTemplate = config.DefaultETAMessage
	}
	tpl, err := fasttemplate.NewTemplate(etaTemplate, "{", "}")
	if err != nil {
		logger.Log.Warnf("⚠️ invalid ORDER_ETA_MESSAGE, using default: %v", err)
		tpl = fasttemplate.New(config.DefaultETAMessage, "{", "}")
	}
	return &Messages{currency: currency, eta: tpl}
}

func (m *Messages) money(v float64) string {
	return fmt.Sprintf("%s%.2f", m.currency, v)
}

// Menu lists the dishes with the numbers used by "1x2 3" style orders.
func (m *Messages) Menu(products []models.Product) string {
	if len(products) == 0 {
		return msgMenuEmpty
	}
	var b strings.Builder
	b.WriteString("📋 *Here is our menu:*\n")
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s - %s", i+1, p.Name, m.money(p.Price))
		if p.Stock <= 0 {
			b.WriteString(" (sold out)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nType your order, e.g. \"2 burgers and a salad\" or menu numbers like \"1x2 3\". Send *done* when finished.")
	return b.String()
}

func (m *Messages) lines(b *strings.Builder, order *models.Order) {
	for _, it := range order.Items {
		fmt.Fprintf(b, "- %dx %s @ %s\n", it.Quantity, it.Name, m.money(it.UnitPrice))
	}
}

// ItemsUpdated acknowledges a message that added items and lists any
// references that could not be used.
func (m *Messages) ItemsUpdated(order *models.Order, parsed ParsedItems, short []string) string {
	var b strings.Builder
	if len(order.Items) > 0 {
		b.WriteString("🛒 *Your cart:*\n")
		m.lines(&b, order)
		fmt.Fprintf(&b, "Subtotal: %s\n", m.money(order.TotalAmount))
	}
	if len(parsed.Unknown) > 0 {
		fmt.Fprintf(&b, "\n❓ Not on the menu: %s\n", strings.Join(parsed.Unknown, ", "))
	}
	if len(parsed.Ambiguous) > 0 {
		refs := make([]string, 0, len(parsed.Ambiguous))
		for ref := range parsed.Ambiguous {
			refs = append(refs, ref)
		}
		sort.Strings(refs)
		for _, ref := range refs {
			fmt.Fprintf(&b, "\n🤔 Which \"%s\" did you mean: %s?\n", ref, strings.Join(parsed.Ambiguous[ref], ", "))
		}
	}
	for _, s := range short {
		fmt.Fprintf(&b, "\n❗ %s\n", s)
	}
	b.WriteString("\nAdd more items or send *done* to check out.")
	return strings.TrimLeft(b.String(), "\n")
}

// StockShort explains that the cart asks for more than is left.
func (m *Messages) StockShort(name string, available int) string {
	if available <= 0 {
		return fmt.Sprintf("%s is sold out.", name)
	}
	return fmt.Sprintf("Requested quantity not available. Only %d unit(s) of %s in stock.", available, name)
}

// Summary closes item collection and asks for the address.
func (m *Messages) Summary(order *models.Order) string {
	var b strings.Builder
	b.WriteString("✅ *Got your order:*\n")
	m.lines(&b, order)
	fmt.Fprintf(&b, "Total: %s\n\n", m.money(order.TotalAmount))
	b.WriteString(msgAddressPrompt)
	return b.String()
}

// ConfirmPrompt asks the user to confirm the finished order.
func (m *Messages) ConfirmPrompt(order *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📍 Deliver to: %s\n", order.Address)
	fmt.Fprintf(&b, "💰 Total: %s\n\n", m.money(order.TotalAmount))
	b.WriteString("Is this correct? Reply *yes* to place the order or *no* to change the address.")
	return b.String()
}

// OrderPlaced is the first of the two confirmation messages.
func (m *Messages) OrderPlaced(order *models.Order) string {
	return fmt.Sprintf("✅ Your order has been placed! Order ID: %s\nTotal: %s", order.OrderID, m.money(order.TotalAmount))
}

// ETA renders the configured ETA template. Unknown placeholders are kept.
func (m *Messages) ETA(order *models.Order) string {
	return m.eta.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		switch tag {
		case "order_id":
			return w.Write([]byte(order.OrderID))
		case "total":
			return w.Write([]byte(m.money(order.TotalAmount)))
		case "address":
			return w.Write([]byte(order.Address))
		default:
			return w.Write([]byte("{" + tag + "}"))
		}
	})
}

// OutOfStockAtConfirm is sent when stock ran out between checkout and "yes".
func (m *Messages) OutOfStockAtConfirm(err *storage.StockError) string {
	return fmt.Sprintf("❗ %s\nReply *yes* to try again or *cancel* to cancel the order.", m.StockShort(err.Product, err.Available))
}

// DeliveryCopy is the order notice for the delivery team.
func (m *Messages) DeliveryCopy(order *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🆕 New order %s from %s:\n", order.OrderID, order.UserID)
	for _, it := range order.Items {
		fmt.Fprintf(&b, "%d x %s (@ %s)\n", it.Quantity, it.Name, m.money(it.UnitPrice))
	}
	fmt.Fprintf(&b, "Total: %s\n", m.money(order.TotalAmount))
	fmt.Fprintf(&b, "Address: %s", order.Address)
	return b.String()
}
