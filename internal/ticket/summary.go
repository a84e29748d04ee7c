package ticket

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the spend of one category
type CategoryTotal struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Count      int      `json:"count"`
	Total      Money    `json:"total"`
	Percentage float64  `json:"percentage"`
}

// PaymentTotal is the spend paid with one payment method
type PaymentTotal struct {
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Label         string        `json:"label"`
	Count         int           `json:"count"`
	Total         Money         `json:"total"`
}

// Summary aggregates spending statistics over a set of records
type Summary struct {
	TicketCount            int             `json:"ticketCount"`
	TotalExpenses          Money           `json:"totalExpenses"`
	TicketsThisMonth       int             `json:"ticketsThisMonth"`
	TotalExpensesThisMonth Money           `json:"totalExpensesThisMonth"`
	AvgTicketAmount        Money           `json:"avgTicketAmount"`
	WeeklyGrowth           float64         `json:"weeklyGrowth"`
	TopCategory            Category        `json:"topCategory,omitempty"`
	ByCategory             []CategoryTotal `json:"byCategory"`
	ByPaymentMethod        []PaymentTotal  `json:"byPaymentMethod"`
}

// Summarize computes the dashboard statistics relative to now.
// Weekly growth compares the last seven days with the seven before them.
func Summarize(records []Record, now time.Time) Summary {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := today.AddDate(0, 0, -6)
	prevWeekStart := today.AddDate(0, 0, -13)

	s := Summary{
		ByCategory:      []CategoryTotal{},
		ByPaymentMethod: []PaymentTotal{},
	}
	byCategory := map[Category]*CategoryTotal{}
	byPayment := map[PaymentMethod]*PaymentTotal{}
	var thisWeek, lastWeek Money

	for _, r := range records {
		s.TicketCount++
		s.TotalExpenses = s.TotalExpenses.Add(r.TotalAmount)

		ct, ok := byCategory[r.Category]
		if !ok {
			ct = &CategoryTotal{Category: r.Category, Label: r.Category.Label()}
			byCategory[r.Category] = ct
		}
		ct.Count++
		ct.Total = ct.Total.Add(r.TotalAmount)

		pt, ok := byPayment[r.PaymentMethod]
		if !ok {
			pt = &PaymentTotal{PaymentMethod: r.PaymentMethod, Label: r.PaymentMethod.Label()}
			byPayment[r.PaymentMethod] = pt
		}
		pt.Count++
		pt.Total = pt.Total.Add(r.TotalAmount)

		d, err := time.Parse(DateLayout, r.Date)
		if err != nil {
			continue
		}
		if d.Year() == now.Year() && d.Month() == now.Month() {
			s.TicketsThisMonth++
			s.TotalExpensesThisMonth = s.TotalExpensesThisMonth.Add(r.TotalAmount)
		}
		switch {
		case d.After(today):
		case !d.Before(weekStart):
			thisWeek = thisWeek.Add(r.TotalAmount)
		case !d.Before(prevWeekStart):
			lastWeek = lastWeek.Add(r.TotalAmount)
		}
	}

	if s.TicketsThisMonth > 0 {
		s.AvgTicketAmount = MoneyFromDecimal(
			s.TotalExpensesThisMonth.Div(decimal.NewFromInt(int64(s.TicketsThisMonth))),
		)
	}
	if !lastWeek.IsZero() {
		growth := thisWeek.Sub(lastWeek).Div(lastWeek.Decimal).Mul(decimal.NewFromInt(100))
		s.WeeklyGrowth = growth.Round(1).InexactFloat64()
	}

	for _, ct := range byCategory {
		if !s.TotalExpenses.IsZero() {
			pct := ct.Total.Div(s.TotalExpenses.Decimal).Mul(decimal.NewFromInt(100))
			ct.Percentage = pct.Round(1).InexactFloat64()
		}
		s.ByCategory = append(s.ByCategory, *ct)
	}
	sort.Slice(s.ByCategory, func(i, j int) bool {
		a, b := s.ByCategory[i], s.ByCategory[j]
		if c := a.Total.Cmp(b.Total.Decimal); c != 0 {
			return c > 0
		}
		return a.Category < b.Category
	})
	if len(s.ByCategory) > 0 {
		s.TopCategory = s.ByCategory[0].Category
	}

	for _, pt := range byPayment {
		s.ByPaymentMethod = append(s.ByPaymentMethod, *pt)
	}
	sort.Slice(s.ByPaymentMethod, func(i, j int) bool {
		return s.ByPaymentMethod[i].PaymentMethod < s.ByPaymentMethod[j].PaymentMethod
	})

	return s
}
