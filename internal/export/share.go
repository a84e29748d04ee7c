package export

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zombor/cashtos/internal/ticket"
)

const whatsAppBase = "https://wa.me/"

// TicketMessage formats a ticket for sharing in a chat
func TicketMessage(r ticket.Record) string {
	var b strings.Builder
	b.WriteString("🧾 *Ticket Digitalizado - Cashtos*\n\n")
	fmt.Fprintf(&b, "🏪 Comercio: %s\n", r.CommerceName)
	fmt.Fprintf(&b, "📅 Fecha: %s\n", r.Date)
	fmt.Fprintf(&b, "💰 Total: $%s\n", r.TotalAmount)
	fmt.Fprintf(&b, "🏷️ Categoría: %s\n", r.Category.Label())
	b.WriteString("\nDigitalizado automáticamente con Cashtos")
	return b.String()
}

// ReportMessage formats a spending summary for sharing
func ReportMessage(period string, s ticket.Summary) string {
	top := "-"
	if s.TopCategory != "" {
		top = s.TopCategory.Label()
	}

	var b strings.Builder
	b.WriteString("📊 *Reporte de Gastos - Cashtos*\n\n")
	fmt.Fprintf(&b, "📅 Período: %s\n", period)
	fmt.Fprintf(&b, "💰 Total gastado: $%s\n", s.TotalExpenses)
	fmt.Fprintf(&b, "📈 Tickets procesados: %d\n", s.TicketCount)
	fmt.Fprintf(&b, "🏆 Categoría principal: %s\n", top)
	b.WriteString("\nGenerado con Cashtos - Tu asistente inteligente de gastos")
	return b.String()
}

// WhatsAppURL builds a click-to-chat link prefilled with text. An empty
// phone lets the user pick the recipient.
func WhatsAppURL(text, phone string) string {
	v := url.Values{}
	v.Set("text", text)
	if phone != "" {
		v.Set("phone", phone)
	}
	return whatsAppBase + "?" + v.Encode()
}
