package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Ananth-NQI/foodbot-backend/internal/models"
)

// maxLineQuantity caps a single line so "9999 pizzas" is rejected instead of
// being priced.
const maxLineQuantity = 50

// minPartialMatch keeps short words like "hi" from matching inside dish names.
const minPartialMatch = 3

var (
	// "1x2 3" - menu numbers with optional quantities
	menuNumbersRe = regexp.MustCompile(`^\d+(\s*x\s*\d+)?(\s+\d+(\s*x\s*\d+)?)*$`)
	menuNumberRe  = regexp.MustCompile(`(\d+)(?:\s*x\s*(\d+))?`)

	// "2 burgers", "2x burger", "2 x burger"
	qtyFirstRe = regexp.MustCompile(`^(\d+)\s*x?\s*([a-z].*)$`)
	// "burger x2", "burger 2", "burger x 2"
	qtyLastRe = regexp.MustCompile(`^(.+?)\s*(?:x\s*)?(\d+)$`)

	splitRe    = regexp.MustCompile(`\s*(?:,|;|\n|\band\b|&|\+)\s*`)
	fillerRe   = regexp.MustCompile(`^(?:i\s+want|i'?d\s+like|i\s+would\s+like|can\s+i\s+(?:get|have)|give\s+me|get\s+me|please|add|order)\s+`)
	trailingRe = regexp.MustCompile(`\s+(?:please|pls|thanks)$`)
	articleRe  = regexp.MustCompile(`^(?:a|an|some)\s+`)
)

var numberWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
}

// ParsedItems is the result of reading an order message against the menu.
type ParsedItems struct {
	Items     []models.OrderItem
	Unknown   []string            // references that matched nothing
	Ambiguous map[string][]string // reference -> candidate dish names
}

// ParseItems extracts item references from free text. It understands
// "2 burgers", "burger x2", comma or "and" separated lists and menu numbers
// such as "1x2 3" (two of dish 1, one of dish 3).
func ParseItems(text string, menu []models.Product) ParsedItems {
	var out ParsedItems
	text = normalize(text)
	if text == "" {
		return out
	}

	if menuNumbersRe.MatchString(text) {
		for _, m := range menuNumberRe.FindAllStringSubmatch(text, -1) {
			idx, _ := strconv.Atoi(m[1])
			qty := 1
			if m[2] != "" {
				qty, _ = strconv.Atoi(m[2])
			}
			if idx < 1 || idx > len(menu) || qty < 1 || qty > maxLineQuantity {
				out.Unknown = append(out.Unknown, "#"+m[0])
				continue
			}
			p := menu[idx-1]
			out.Items = append(out.Items, models.OrderItem{Name: p.Name, Quantity: qty, UnitPrice: p.Price})
		}
		return out
	}

	for _, chunk := range splitRe.Split(text, -1) {
		chunk = fillerRe.ReplaceAllString(chunk, "")
		chunk = strings.TrimSpace(trailingRe.ReplaceAllString(chunk, ""))
		if chunk == "" {
			continue
		}
		name, qty := splitQuantity(chunk)
		if qty < 1 || qty > maxLineQuantity {
			out.Unknown = append(out.Unknown, chunk)
			continue
		}

		matches := matchProducts(name, menu)
		switch len(matches) {
		case 0:
			out.Unknown = append(out.Unknown, name)
		case 1:
			out.Items = append(out.Items, models.OrderItem{
				Name:      matches[0].Name,
				Quantity:  qty,
				UnitPrice: matches[0].Price,
			})
		default:
			if out.Ambiguous == nil {
				out.Ambiguous = make(map[string][]string)
			}
			for _, p := range matches {
				out.Ambiguous[name] = append(out.Ambiguous[name], p.Name)
			}
		}
	}
	return out
}

func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Trim(text, ".!?")
	fields := strings.Fields(text)
	for i, f := range fields {
		if d, ok := numberWords[f]; ok {
			fields[i] = d
		}
	}
	return strings.Join(fields, " ")
}

// splitQuantity separates "2 burgers" / "burger x2" into name and quantity.
// A bare name counts as one.
func splitQuantity(chunk string) (string, int) {
	if m := qtyFirstRe.FindStringSubmatch(chunk); m != nil {
		qty, _ := strconv.Atoi(m[1])
		return strings.TrimSpace(m[2]), qty
	}
	if m := qtyLastRe.FindStringSubmatch(chunk); m != nil {
		qty, _ := strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), qty
	}
	return strings.TrimSpace(articleRe.ReplaceAllString(chunk, "")), 1
}

// forms returns the phrase and its singular guesses, changing only the last
// word: "burgers" -> "burger", "sandwiches" -> "sandwich", "berries" -> "berry".
func forms(phrase string) []string {
	out := []string{phrase}
	head, last := "", phrase
	if i := strings.LastIndex(phrase, " "); i >= 0 {
		head, last = phrase[:i+1], phrase[i+1:]
	}
	if strings.HasSuffix(last, "ss") || len(last) < 3 {
		return out
	}
	if strings.HasSuffix(last, "ies") {
		out = append(out, head+last[:len(last)-3]+"y")
	}
	if strings.HasSuffix(last, "es") {
		out = append(out, head+last[:len(last)-2])
	}
	if strings.HasSuffix(last, "s") {
		out = append(out, head+last[:len(last)-1])
	}
	return out
}

// matchProducts resolves a dish reference. Exact (case-insensitive) and
// singular/plural matches win outright; otherwise every dish whose name
// contains the reference is a candidate.
func matchProducts(ref string, menu []models.Product) []models.Product {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	refForms := forms(ref)

	for _, p := range menu {
		for _, n := range forms(strings.ToLower(p.Name)) {
			for _, r := range refForms {
				if n == r {
					return []models.Product{p}
				}
			}
		}
	}

	var found []models.Product
	for _, p := range menu {
		name := strings.ToLower(p.Name)
		for _, r := range refForms {
			if len(r) >= minPartialMatch && strings.Contains(name, r) {
				found = append(found, p)
				break
			}
		}
	}
	return found
}

var (
	doneWords   = map[string]bool{"done": true, "checkout": true, "check out": true, "finish": true, "finished": true, "that's all": true, "thats all": true, "that is all": true, "nothing else": true}
	cancelWords = map[string]bool{"cancel": true, "cancel order": true, "stop": true}
	yesWords    = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "sure": true, "ok": true, "okay": true, "confirm": true, "correct": true}
	noWords     = map[string]bool{"no": true, "n": true, "nope": true, "nah": true, "wrong": true, "change": true, "change address": true}
)

func signal(text string, words map[string]bool) bool {
	return words[normalize(text)]
}

// IsDone reports whether the user finished adding items.
func IsDone(text string) bool { return signal(text, doneWords) }

// IsCancel reports an explicit cancellation.
func IsCancel(text string) bool { return signal(text, cancelWords) }

// IsAffirmative accepts "yes", "y", "ok" and friends. Longer replies that
// start with "yes" count too.
func IsAffirmative(text string) bool {
	t := normalize(text)
	if yesWords[t] {
		return true
	}
	first, _, _ := strings.Cut(t, " ")
	return strings.Trim(first, ",") == "yes"
}

// IsNegative is the counterpart of IsAffirmative.
func IsNegative(text string) bool {
	t := normalize(text)
	if noWords[t] {
		return true
	}
	first, _, _ := strings.Cut(t, " ")
	return strings.Trim(first, ",") == "no"
}
