package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/cashtos/internal/ticket"
)

// Ticket is a stored record as it appears in reports
type Ticket struct {
	ID string
	ticket.Record
	CreatedAt time.Time
}

var ticketHeaders = []string{
	"ID",
	"Fecha",
	"Comercio",
	"Categoría",
	"Método de pago",
	"Total",
	"IVA",
	"Artículos",
	"Notas",
}

func ticketRow(t Ticket) []string {
	return []string{
		t.ID,
		t.Date,
		t.CommerceName,
		t.Category.Label(),
		t.PaymentMethod.Label(),
		t.TotalAmount.String(),
		t.IVAAmount.String(),
		strconv.Itoa(len(t.Items)),
		t.Notes,
	}
}

// CSV writes one row per ticket
func CSV(w io.Writer, tickets []Ticket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ticketHeaders); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, t := range tickets {
		if err := cw.Write(ticketRow(t)); err != nil {
			return fmt.Errorf("writing csv row %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// Sheet names of the workbook
const (
	SheetTickets = "Tickets"
	SheetItems   = "Items"
	SheetSummary = "Resumen"
)

// XLSX writes a workbook with the tickets, their line items and the summary
func XLSX(w io.Writer, tickets []Ticket, summary ticket.Summary) error {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	// the default sheet becomes Tickets
	if err := f.SetSheetName(f.GetSheetName(0), SheetTickets); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for _, name := range []string{SheetItems, SheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	if err := writeTickets(f, tickets); err != nil {
		return err
	}
	if err := writeItems(f, tickets); err != nil {
		return err
	}
	if err := writeSummary(f, summary); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("xlsx export written", "tickets", len(tickets), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func writeTickets(f *excelize.File, tickets []Ticket) error {
	header := make([]any, len(ticketHeaders))
	for i, h := range ticketHeaders {
		header[i] = h
	}
	if err := writeRow(f, SheetTickets, 1, header...); err != nil {
		return err
	}

	for i, t := range tickets {
		err := writeRow(f, SheetTickets, i+2,
			t.ID,
			t.Date,
			t.CommerceName,
			t.Category.Label(),
			t.PaymentMethod.Label(),
			t.TotalAmount.InexactFloat64(),
			t.IVAAmount.InexactFloat64(),
			len(t.Items),
			t.Notes,
		)
		if err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SheetTickets, "A", "A", 38)
	_ = f.SetColWidth(SheetTickets, "B", "B", 12)
	_ = f.SetColWidth(SheetTickets, "C", "C", 30)
	_ = f.SetColWidth(SheetTickets, "D", "E", 16)
	_ = f.SetColWidth(SheetTickets, "I", "I", 48)
	return nil
}

func writeItems(f *excelize.File, tickets []Ticket) error {
	if err := writeRow(f, SheetItems, 1, "Ticket", "Comercio", "Artículo", "Cantidad", "Precio unitario", "Subtotal"); err != nil {
		return err
	}

	row := 2
	for _, t := range tickets {
		for _, item := range t.Items {
			err := writeRow(f, SheetItems, row,
				t.ID,
				t.CommerceName,
				item.Name,
				item.Quantity,
				item.UnitPrice.InexactFloat64(),
				item.Subtotal.InexactFloat64(),
			)
			if err != nil {
				return err
			}
			row++
		}
	}

	_ = f.SetColWidth(SheetItems, "A", "A", 38)
	_ = f.SetColWidth(SheetItems, "B", "C", 30)
	return nil
}

func writeSummary(f *excelize.File, s ticket.Summary) error {
	rows := [][]any{
		{"Tickets", s.TicketCount},
		{"Gasto total", s.TotalExpenses.InexactFloat64()},
		{"Tickets este mes", s.TicketsThisMonth},
		{"Gasto este mes", s.TotalExpensesThisMonth.InexactFloat64()},
		{"Ticket promedio", s.AvgTicketAmount.InexactFloat64()},
		{"Crecimiento semanal (%)", s.WeeklyGrowth},
		{"Categoría principal", s.TopCategory.Label()},
		{},
		{"Categoría", "Tickets", "Total", "Porcentaje"},
	}
	for _, c := range s.ByCategory {
		rows = append(rows, []any{c.Label, c.Count, c.Total.InexactFloat64(), c.Percentage})
	}
	rows = append(rows, []any{}, []any{"Método de pago", "Tickets", "Total"})
	for _, p := range s.ByPaymentMethod {
		rows = append(rows, []any{p.Label, p.Count, p.Total.InexactFloat64()})
	}

	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		if err := writeRow(f, SheetSummary, i+1, values...); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SheetSummary, "A", "A", 26)
	return nil
}
