package tickets

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/cashtos/internal/export"
	"github.com/zombor/cashtos/internal/ticket"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// ticketStatus maps service errors to a response status
func ticketStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoImage):
		return http.StatusNotFound
	case errors.Is(err, ticket.ErrInvalidField), errors.Is(err, ticket.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeTicketError(w http.ResponseWriter, err error) {
	code := ticketStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("Ticket request failed", "error", err)
		writeError(w, code, "Internal server error")
		return
	}
	writeError(w, code, err.Error())
}

// listFilter reads ?category=&payment=&from=&to=&q=
func listFilter(r *http.Request) ListFilter {
	q := r.URL.Query()
	return ListFilter{
		Category:      ticket.Category(q.Get("category")),
		PaymentMethod: ticket.PaymentMethod(q.Get("payment")),
		From:          q.Get("from"),
		To:            q.Get("to"),
		Search:        q.Get("q"),
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.List(listFilter(r))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleCreateTicket stores a manually entered record. Partial input gets
// the same defaults a scan would, except for the automatic-processing note.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := ticket.NormalizeManual(raw, time.Now())
	if err != nil {
		writeTicketError(w, err)
		return
	}

	t, err := s.service.Create(r.Context(), record)
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var p ticket.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := s.service.Update(r.PathValue("id"), p)
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.service.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTicketImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

type shareResponse struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// handleShareTicket returns the chat message and wa.me link for a ticket
func (s *Server) handleShareTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	text := export.TicketMessage(t.Record)
	writeJSON(w, http.StatusOK, shareResponse{Text: text, URL: export.WhatsAppURL(text, r.URL.Query().Get("phone"))})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Stats(listFilter(r))
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleShareStats shares the summary of the filtered period
func (s *Server) handleShareStats(w http.ResponseWriter, r *http.Request) {
	f := listFilter(r)
	summary, err := s.service.Stats(f)
	if err != nil {
		writeTicketError(w, err)
		return
	}

	period := "Todo el historial"
	switch {
	case f.From != "" && f.To != "":
		period = f.From + " a " + f.To
	case f.From != "":
		period = "Desde " + f.From
	case f.To != "":
		period = "Hasta " + f.To
	}

	text := export.ReportMessage(period, summary)
	writeJSON(w, http.StatusOK, shareResponse{Text: text, URL: export.WhatsAppURL(text, r.URL.Query().Get("phone"))})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	rows, _, err := s.service.Export(listFilter(r))
	if err != nil {
		writeTicketError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.CSV(&buf, rows); err != nil {
		slog.Error("Error exporting csv", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="tickets.csv"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	rows, summary, err := s.service.Export(listFilter(r))
	if err != nil {
		writeTicketError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.XLSX(&buf, rows, summary); err != nil {
		slog.Error("Error exporting xlsx", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="tickets.xlsx"`)
	w.Write(buf.Bytes())
}
