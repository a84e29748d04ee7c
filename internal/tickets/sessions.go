package tickets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/review"
	"github.com/zombor/cashtos/internal/ticket"
)

// sessionStatus maps review errors to a response status
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, review.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, review.ErrClosed):
		return http.StatusGone
	case errors.Is(err, capture.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, capture.ErrEmptyImage):
		return http.StatusBadRequest
	}
	return ticketStatus(err)
}

func writeSessionError(w http.ResponseWriter, err error) {
	code := sessionStatus(err)
	if code == http.StatusInternalServerError {
		slog.Error("Session request failed", "error", err)
		writeError(w, code, "Internal server error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*review.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item index")
		return 0, false
	}
	return index, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.sessions.Create().View())
}

// handleGetSession returns the session view. With ?wait=true it blocks
// until an in-flight extraction resolves or the request goes away.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		// extraction failures are reported through the view
		_ = sess.Wait(r.Context())
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Remove(r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleImportImage accepts a multipart "file" and starts extraction.
// The response is sent once scanning has started.
func (s *Server) handleImportImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, capture.MaxImageSize+(1<<20))
	if err := r.ParseMultipartForm(capture.MaxImageSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	img, err := capture.FromReader(f, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if err := sess.Import(r.Context(), img); err != nil {
		writeSessionError(w, err)
		return
	}

	slog.Info("Ticket image imported",
		"session", sess.ID(),
		"filename", img.Filename,
		"content_type", img.MIMEType,
		"file_size", len(img.Data),
	)
	writeJSON(w, http.StatusAccepted, sess.View())
}

func (s *Server) handleGetSessionImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	img, held := sess.Image()
	if !held {
		writeError(w, http.StatusNotFound, "No image held")
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", img.MIMEType)
	w.Write(img.Data)
}

// sessionAction adapts a bodyless session operation to a handler that
// answers with the resulting view
func (s *Server) sessionAction(op func(*review.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := op(sess); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.View())
	}
}

func (s *Server) handleEditSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var p ticket.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := sess.Edit(p); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}

	var p ticket.ItemPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := sess.EditItem(index, p); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveItem(index); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleSaveSession persists the edited record and returns the stored ticket
func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	id, err := sess.Save(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}

	t, err := s.service.Get(id)
	if err != nil {
		writeTicketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
