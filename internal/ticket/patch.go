package ticket

import (
	"fmt"
	"strings"
	"time"
)

// Patch is a partial update of a record. Nil fields are left untouched.
type Patch struct {
	CommerceName  *string        `json:"commerceName,omitempty"`
	Date          *string        `json:"date,omitempty"`
	TotalAmount   *Money         `json:"totalAmount,omitempty"`
	IVAAmount     *Money         `json:"ivaAmount,omitempty"`
	PaymentMethod *PaymentMethod `json:"paymentMethod,omitempty"`
	Category      *Category      `json:"category,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	Items         *[]LineItem    `json:"items,omitempty"`
}

// ItemPatch is a partial update of one line item
type ItemPatch struct {
	Name      *string  `json:"name,omitempty"`
	Quantity  *float64 `json:"quantity,omitempty"`
	UnitPrice *Money   `json:"unitPrice,omitempty"`
}

// Apply applies p to r. Either every field is applied or none is.
func (r *Record) Apply(p Patch) error {
	next := r.Clone()

	if p.CommerceName != nil {
		name := strings.TrimSpace(*p.CommerceName)
		if name == "" {
			return fmt.Errorf("%w: commerceName must not be empty", ErrInvalidField)
		}
		next.CommerceName = name
	}
	if p.Date != nil {
		d, err := time.Parse(DateLayout, strings.TrimSpace(*p.Date))
		if err != nil {
			return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidField, *p.Date)
		}
		next.Date = d.Format(DateLayout)
	}
	if p.TotalAmount != nil {
		if p.TotalAmount.IsNegative() {
			return fmt.Errorf("%w: totalAmount must not be negative", ErrInvalidField)
		}
		next.TotalAmount = MoneyFromDecimal(p.TotalAmount.Decimal)
	}
	if p.IVAAmount != nil {
		if p.IVAAmount.IsNegative() {
			return fmt.Errorf("%w: ivaAmount must not be negative", ErrInvalidField)
		}
		next.IVAAmount = MoneyFromDecimal(p.IVAAmount.Decimal)
	}
	if p.PaymentMethod != nil {
		if !p.PaymentMethod.Valid() {
			return fmt.Errorf("%w: unknown payment method %q", ErrInvalidField, *p.PaymentMethod)
		}
		next.PaymentMethod = *p.PaymentMethod
	}
	if p.Category != nil {
		if !p.Category.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidField, *p.Category)
		}
		next.Category = *p.Category
	}
	if p.Notes != nil {
		next.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.Items != nil {
		items := make([]LineItem, 0, len(*p.Items))
		for i, item := range *p.Items {
			if item.Quantity <= 0 {
				return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidField, i)
			}
			if item.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: item %d unit price must not be negative", ErrInvalidField, i)
			}
			items = append(items, NewLineItem(strings.TrimSpace(item.Name), item.Quantity, item.UnitPrice))
		}
		next.Items = items
	}

	*r = next
	return nil
}

// ApplyItem applies p to the item at index, recomputing its subtotal
func (r *Record) ApplyItem(index int, p ItemPatch) error {
	if index < 0 || index >= len(r.Items) {
		return fmt.Errorf("%w: item index %d out of range", ErrInvalidField, index)
	}
	if p.Quantity != nil && *p.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidField)
	}
	if p.UnitPrice != nil && p.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidField)
	}

	item := &r.Items[index]
	if p.Name != nil {
		item.Name = strings.TrimSpace(*p.Name)
	}
	if p.Quantity != nil {
		item.SetQuantity(*p.Quantity)
	}
	if p.UnitPrice != nil {
		item.SetUnitPrice(MoneyFromDecimal(p.UnitPrice.Decimal))
	}
	return nil
}
