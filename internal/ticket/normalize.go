package ticket

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts are tried in order when reading a date from the model.
// Day-first layouts win over month-first ones: the receipts are Spanish.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
}

var paymentSynonyms = map[string]PaymentMethod{
	"efectivo":      PaymentCash,
	"tarjeta":       PaymentCard,
	"credito":       PaymentCard,
	"debito":        PaymentCard,
	"credit":        PaymentCard,
	"debit":         PaymentCard,
	"transferencia": PaymentTransfer,
}

type valueKind int

const (
	kindMissing valueKind = iota
	kindString
	kindNumber
	kindOther
)

// rawValue is a decoded JSON value classified once, before any coercion
type rawValue struct {
	kind valueKind
	str  string
	num  float64
}

func classify(v any) rawValue {
	switch t := v.(type) {
	case nil:
		return rawValue{kind: kindMissing}
	case string:
		return rawValue{kind: kindString, str: t}
	case float64:
		return rawValue{kind: kindNumber, num: t}
	case float32:
		return rawValue{kind: kindNumber, num: float64(t)}
	case int:
		return rawValue{kind: kindNumber, num: float64(t)}
	case int64:
		return rawValue{kind: kindNumber, num: float64(t)}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return rawValue{kind: kindOther}
		}
		return rawValue{kind: kindNumber, num: f}
	}
	return rawValue{kind: kindOther}
}

// Normalize coerces a loosely typed extraction result into a canonical
// Record. It never fails: every field falls back to a documented default.
func Normalize(raw any, now time.Time) Record {
	fields, _ := raw.(map[string]any)

	r := Record{
		CommerceName:  text(fields["commerceName"], DefaultCommerceName),
		Date:          date(fields["date"], now),
		TotalAmount:   amount(fields["totalAmount"]),
		IVAAmount:     amount(fields["ivaAmount"]),
		PaymentMethod: paymentMethod(fields["paymentMethod"]),
		Category:      category(fields["category"]),
		Notes:         notes(fields["notes"]),
		Items:         items(fields["items"]),
	}

	if len(r.Items) == 0 {
		rest := r.TotalAmount.Sub(r.IVAAmount)
		if rest.IsNegative() {
			rest = Money{}
		}
		r.Items = []LineItem{{
			Name:      GeneralItemName,
			Quantity:  1,
			UnitPrice: rest,
			Subtotal:  rest,
		}}
	}
	return r
}

func text(v any, fallback string) string {
	rv := classify(v)
	if rv.kind != kindString {
		return fallback
	}
	s := strings.TrimSpace(rv.str)
	if s == "" {
		return fallback
	}
	return s
}

// notes keeps an explicitly empty string so canonical records survive a second pass
func notes(v any) string {
	rv := classify(v)
	if rv.kind != kindString {
		return DefaultNotes
	}
	return strings.TrimSpace(rv.str)
}

func date(v any, now time.Time) string {
	rv := classify(v)
	if rv.kind == kindString {
		s := strings.TrimSpace(rv.str)
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, s); err == nil {
				return d.Format(DateLayout)
			}
		}
	}
	return now.Format(DateLayout)
}

func number(v any) (float64, bool) {
	rv := classify(v)
	var f float64
	switch rv.kind {
	case kindNumber:
		f = rv.num
	case kindString:
		parsed, err := parseNumber(rv.str)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseNumber reads amounts as printed on receipts: "45.00", " 45 ", "€12,50", "1.234,56"
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "$€£ ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	return strconv.ParseFloat(s, 64)
}

func amount(v any) Money {
	f, ok := number(v)
	if !ok || f < 0 {
		return Money{}
	}
	return NewMoney(f)
}

func quantity(v any) float64 {
	f, ok := number(v)
	if !ok || f == 0 {
		return 1
	}
	return f
}

// Fold lower-cases and strips accents so "Alimentación" matches "alimentacion"
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// ParsePaymentMethod resolves a code, a Spanish label or a synonym such as "tarjeta"
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	key := Fold(s)
	if pm := PaymentMethod(key); pm.Valid() {
		return pm, true
	}
	pm, ok := paymentSynonyms[key]
	return pm, ok
}

// ParseCategory resolves a code or a Spanish label such as "Alimentación"
func ParseCategory(s string) (Category, bool) {
	c := Category(Fold(s))
	return c, c.Valid()
}

func paymentMethod(v any) PaymentMethod {
	rv := classify(v)
	if rv.kind != kindString {
		return PaymentCash
	}
	if pm, ok := ParsePaymentMethod(rv.str); ok {
		return pm
	}
	return PaymentCash
}

func category(v any) Category {
	rv := classify(v)
	if rv.kind != kindString {
		return CategoryOther
	}
	if c, ok := ParseCategory(rv.str); ok {
		return c
	}
	return CategoryOther
}

// NormalizeManual normalizes a hand-entered record. Unlike model output,
// unknown payment methods or categories are rejected and missing notes
// stay empty.
func NormalizeManual(raw map[string]any, now time.Time) (Record, error) {
	if v, ok := raw["paymentMethod"]; ok && v != nil {
		s, _ := v.(string)
		if _, valid := ParsePaymentMethod(s); !valid {
			return Record{}, fmt.Errorf("%w: unknown paymentMethod %v", ErrInvalidField, v)
		}
	}
	if v, ok := raw["category"]; ok && v != nil {
		s, _ := v.(string)
		if _, valid := ParseCategory(s); !valid {
			return Record{}, fmt.Errorf("%w: unknown category %v", ErrInvalidField, v)
		}
	}

	fields := maps.Clone(raw)
	if fields == nil {
		fields = map[string]any{}
	}
	if fields["notes"] == nil {
		fields["notes"] = ""
	}
	return Normalize(fields, now), nil
}

func items(v any) []LineItem {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]LineItem, 0, len(list))
	for i, entry := range list {
		var fields map[string]any
		switch t := entry.(type) {
		case map[string]any:
			fields = t
		case string:
			fields = map[string]any{"name": t}
		}

		item := NewLineItem(
			text(fields["name"], fmt.Sprintf("Item %d", i+1)),
			quantity(fields["quantity"]),
			amount(fields["unitPrice"]),
		)
		if item.Name == "" || item.Quantity <= 0 {
			continue
		}
		out = append(out, item)
	}
	return out
}
