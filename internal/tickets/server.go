package tickets

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/zombor/cashtos/internal/review"
)

// Server handles HTTP requests for tickets and review sessions
type Server struct {
	service   *Service
	sessions  *review.Manager
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, sessions *review.Manager, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, sessions, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server on a caller supplied mux, so other
// handlers such as /metrics can share it
func NewServerWithMux(service *Service, sessions *review.Manager, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		sessions:  sessions,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Cashtos"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.requireAuth(s.handleStaticCSS))
	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	// review sessions
	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	s.mux.HandleFunc("POST /api/sessions/{id}/image", s.requireAuth(s.handleImportImage))
	s.mux.HandleFunc("GET /api/sessions/{id}/image", s.requireAuth(s.handleGetSessionImage))
	s.mux.HandleFunc("POST /api/sessions/{id}/accept", s.requireAuth(s.sessionAction((*review.Session).Accept)))
	s.mux.HandleFunc("POST /api/sessions/{id}/reject", s.requireAuth(s.sessionAction((*review.Session).Reject)))
	s.mux.HandleFunc("POST /api/sessions/{id}/cancel", s.requireAuth(s.sessionAction((*review.Session).Cancel)))
	s.mux.HandleFunc("POST /api/sessions/{id}/recompute", s.requireAuth(s.sessionAction((*review.Session).RecomputeTotal)))
	s.mux.HandleFunc("POST /api/sessions/{id}/save", s.requireAuth(s.handleSaveSession))
	s.mux.HandleFunc("PATCH /api/sessions/{id}/ticket", s.requireAuth(s.handleEditSession))
	s.mux.HandleFunc("POST /api/sessions/{id}/items", s.requireAuth(s.sessionAction((*review.Session).AddItem)))
	s.mux.HandleFunc("PATCH /api/sessions/{id}/items/{index}", s.requireAuth(s.handleEditItem))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/items/{index}", s.requireAuth(s.handleRemoveItem))

	// stored tickets
	s.mux.HandleFunc("GET /api/tickets/{id}/image", s.requireAuth(s.handleGetTicketImage))
	s.mux.HandleFunc("GET /api/tickets/{id}/share", s.requireAuth(s.handleShareTicket))
	s.mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	s.mux.HandleFunc("PATCH /api/tickets/{id}", s.requireAuth(s.handleUpdateTicket))
	s.mux.HandleFunc("DELETE /api/tickets/{id}", s.requireAuth(s.handleDeleteTicket))
	s.mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	s.mux.HandleFunc("POST /api/tickets", s.requireAuth(s.handleCreateTicket))

	s.mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))
	s.mux.HandleFunc("GET /api/stats/share", s.requireAuth(s.handleShareStats))
	s.mux.HandleFunc("GET /api/export/tickets.csv", s.requireAuth(s.handleExportCSV))
	s.mux.HandleFunc("GET /api/export/tickets.xlsx", s.requireAuth(s.handleExportXLSX))

	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
