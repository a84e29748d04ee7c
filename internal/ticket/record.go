package ticket

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// DateLayout is the canonical calendar date format of a ticket
	DateLayout = "2006-01-02"

	DefaultCommerceName = "Comercio no identificado"
	DefaultNotes        = "Procesado automáticamente con IA"
	GeneralItemName     = "Compra general"
)

// ErrInvalidField is returned when an edit cannot be represented in a canonical record
var ErrInvalidField = errors.New("invalid field")

// PaymentMethod is how a ticket was paid
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

// PaymentMethods lists every accepted payment method
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentTransfer}

func (p PaymentMethod) Valid() bool {
	return slices.Contains(PaymentMethods, p)
}

// Label returns the Spanish display name
func (p PaymentMethod) Label() string {
	switch p {
	case PaymentCash:
		return "Efectivo"
	case PaymentCard:
		return "Tarjeta"
	case PaymentTransfer:
		return "Transferencia"
	}
	return string(p)
}

// Category is the spending category of a ticket
type Category string

const (
	CategoryFood          Category = "alimentacion"
	CategoryTransport     Category = "transporte"
	CategoryHealth        Category = "salud"
	CategoryHome          Category = "hogar"
	CategoryEntertainment Category = "entretenimiento"
	CategoryOther         Category = "otros"
)

// Categories lists every accepted category
var Categories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryHealth,
	CategoryHome,
	CategoryEntertainment,
	CategoryOther,
}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Label returns the Spanish display name
func (c Category) Label() string {
	switch c {
	case CategoryFood:
		return "Alimentación"
	case CategoryTransport:
		return "Transporte"
	case CategoryHealth:
		return "Salud"
	case CategoryHome:
		return "Hogar"
	case CategoryEntertainment:
		return "Entretenimiento"
	case CategoryOther:
		return "Otros"
	}
	return string(c)
}

// LineItem is a single purchased product or service.
// Subtotal is derived from Quantity and UnitPrice and is recomputed on every change.
type LineItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice Money   `json:"unitPrice"`
	Subtotal  Money   `json:"subtotal"`
}

// NewLineItem creates an item with its subtotal already computed
func NewLineItem(name string, quantity float64, unitPrice Money) LineItem {
	item := LineItem{Name: name, Quantity: quantity, UnitPrice: unitPrice}
	item.recompute()
	return item
}

func (i *LineItem) SetQuantity(q float64) {
	i.Quantity = q
	i.recompute()
}

func (i *LineItem) SetUnitPrice(p Money) {
	i.UnitPrice = p
	i.recompute()
}

func (i *LineItem) recompute() {
	i.Subtotal = i.UnitPrice.Times(i.Quantity)
}

// Record is the canonical ticket produced by extraction and confirmed by a human
type Record struct {
	CommerceName  string        `json:"commerceName"`
	Date          string        `json:"date"`
	TotalAmount   Money         `json:"totalAmount"`
	IVAAmount     Money         `json:"ivaAmount"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Category      Category      `json:"category"`
	Notes         string        `json:"notes"`
	Items         []LineItem    `json:"items"`
}

// Clone returns a copy that shares no item storage with r
func (r Record) Clone() Record {
	r.Items = slices.Clone(r.Items)
	return r
}

// ItemsSubtotal is the sum of every item subtotal
func (r Record) ItemsSubtotal() Money {
	var sum Money
	for _, item := range r.Items {
		sum = sum.Add(item.Subtotal)
	}
	return sum
}

// RunningTotal is the sum of item subtotals plus IVA. It is displayed while
// editing and only replaces TotalAmount through RecomputeTotal.
func (r Record) RunningTotal() Money {
	return r.ItemsSubtotal().Add(r.IVAAmount)
}

func (r *Record) RecomputeTotal() {
	r.TotalAmount = r.RunningTotal()
}

// AddItem appends a blank item named after its position
func (r *Record) AddItem() {
	r.Items = append(r.Items, NewLineItem(fmt.Sprintf("Item %d", len(r.Items)+1), 1, Money{}))
}

func (r *Record) RemoveItem(index int) error {
	if index < 0 || index >= len(r.Items) {
		return fmt.Errorf("%w: item index %d out of range", ErrInvalidField, index)
	}
	r.Items = slices.Delete(r.Items, index, index+1)
	return nil
}
