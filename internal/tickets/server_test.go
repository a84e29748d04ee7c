package tickets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/review"
	"github.com/zombor/cashtos/internal/scanning"
	"github.com/zombor/cashtos/internal/ticket"
)

// stubExtractor blocks until release is closed, if set
type stubExtractor struct {
	record  ticket.Record
	err     error
	release chan struct{}
}

func (s *stubExtractor) ScanTicket(ctx context.Context, _ capture.Image) (ticket.Record, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ticket.Record{}, ctx.Err()
		}
	}
	if s.err != nil {
		return ticket.Record{}, s.err
	}
	return s.record.Clone(), nil
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n fake png body")

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *stubExtractor
		manager     *review.Manager
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &stubExtractor{record: sampleRecord()}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, &sequenceIDs{}, &mockClock{now: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)})
		manager = review.NewManager(extractor, service, review.WithProgress(50, 0))
		server = NewServerWithMux(service, manager, auth, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.Handler().ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
		manager.Close()
	})

	do := func(method, path string, body any) *http.Response {
		var r io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			r = bytes.NewReader(b)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, r)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	errorOf := func(resp *http.Response) string {
		var body map[string]string
		decode(resp, &body)
		return body["error"]
	}

	upload := func(path, filename string, data []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		if data != nil {
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	Describe("index", func() {
		It("serves the embedded UI", func() {
			resp := do("GET", "/", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Cashtos"))
		})

		It("serves the stylesheet and script", func() {
			Expect(do("GET", "/static/app.css", nil).Header.Get("Content-Type")).To(Equal("text/css"))
			Expect(do("GET", "/static/app.js", nil).Header.Get("Content-Type")).To(ContainSubstring("javascript"))
		})

		It("rejects other methods", func() {
			Expect(do("POST", "/", nil).StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("does not serve unknown paths", func() {
			Expect(do("GET", "/nope", nil).StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do("OPTIONS", "/api/tickets", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "ana", Password: "secreto"}
		})

		It("rejects requests without credentials", func() {
			resp := do("GET", "/api/tickets", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Cashtos"))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/tickets", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("ana:secreto")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects a wrong password", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/tickets", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("ana", "otro")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("tickets", func() {
		BeforeEach(func() {
			db.tickets["t1"] = &Ticket{ID: "t1", Record: sampleRecord(), ImageFile: "t1.png", ContentType: "image/png"}
			storage.files["t1.png"] = pngBytes
			older := sampleRecord()
			older.Date = "2024-03-01"
			older.Category = ticket.CategoryFood
			db.tickets["t0"] = &Ticket{ID: "t0", Record: older}
		})

		It("lists tickets newest first", func() {
			resp := do("GET", "/api/tickets", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var list []Ticket
			decode(resp, &list)
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("t1"))
		})

		It("filters by query parameters", func() {
			var list []Ticket
			decode(do("GET", "/api/tickets?category=alimentacion", nil), &list)
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal("t0"))
		})

		It("returns a ticket as flat JSON", func() {
			resp := do("GET", "/api/tickets/t1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("id", "t1"))
			Expect(body).To(HaveKeyWithValue("commerceName", "Farmacia del Sol"))
			Expect(body).To(HaveKeyWithValue("totalAmount", 12.0))
		})

		It("returns 404 for an unknown ticket", func() {
			resp := do("GET", "/api/tickets/missing", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(resp)).To(ContainSubstring("not found"))
		})

		It("creates a manual ticket from partial input", func() {
			resp := do("POST", "/api/tickets", map[string]any{
				"commerceName": "Bar Pepe",
				"date":         "19/03/2024",
				"totalAmount":  "7,20",
				"category":     "Alimentación",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var t Ticket
			decode(resp, &t)
			Expect(t.Source).To(Equal(SourceManual))
			Expect(t.Date).To(Equal("2024-03-19"))
			Expect(t.TotalAmount.String()).To(Equal("7.20"))
			Expect(t.Category).To(Equal(ticket.CategoryFood))
			Expect(t.Items).NotTo(BeEmpty())
			Expect(t.Notes).To(BeEmpty())
			Expect(db.tickets).To(HaveKey(t.ID))
		})

		It("rejects a manual ticket with an unknown payment method", func() {
			resp := do("POST", "/api/tickets", map[string]any{
				"commerceName":  "Bar Pepe",
				"totalAmount":   7.2,
				"paymentMethod": "bitcoin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(errorOf(resp)).To(ContainSubstring("bitcoin"))
			Expect(db.tickets).To(HaveLen(2))
		})

		It("rejects a malformed body", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/tickets", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("patches a ticket", func() {
			resp := do("PATCH", "/api/tickets/t1", map[string]any{"notes": "reembolsable", "totalAmount": 15})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.tickets["t1"].Notes).To(Equal("reembolsable"))
			Expect(db.tickets["t1"].TotalAmount.String()).To(Equal("15.00"))
		})

		It("rejects an invalid patch", func() {
			resp := do("PATCH", "/api/tickets/t1", map[string]any{"paymentMethod": "bitcoin"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(errorOf(resp)).To(ContainSubstring("bitcoin"))
		})

		It("deletes a ticket once", func() {
			Expect(do("DELETE", "/api/tickets/t1", nil).StatusCode).To(Equal(http.StatusNoContent))
			Expect(storage.files).NotTo(HaveKey("t1.png"))
			Expect(do("DELETE", "/api/tickets/t1", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the stored image", func() {
			resp := do("GET", "/api/tickets/t1/image", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal(pngBytes))
		})

		It("returns 404 for a ticket without an image", func() {
			Expect(do("GET", "/api/tickets/t0/image", nil).StatusCode).To(Equal(http.StatusNotFound))
		})

		It("builds a share link", func() {
			var share shareResponse
			decode(do("GET", "/api/tickets/t1/share", nil), &share)
			Expect(share.Text).To(ContainSubstring("Farmacia del Sol"))
			Expect(share.URL).To(HavePrefix("https://wa.me/?"))
		})

		It("summarizes the tickets", func() {
			var s ticket.Summary
			decode(do("GET", "/api/stats", nil), &s)
			Expect(s.TicketCount).To(Equal(2))
			Expect(s.TotalExpenses.String()).To(Equal("24.00"))
		})

		It("shares the summary of a period", func() {
			var share shareResponse
			decode(do("GET", "/api/stats/share?from=2024-03-10", nil), &share)
			Expect(share.Text).To(ContainSubstring("Desde 2024-03-10"))
			Expect(share.Text).To(ContainSubstring("Tickets procesados: 1"))
		})

		It("exports csv", func() {
			resp := do("GET", "/api/export/tickets.csv", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("tickets.csv"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[1]).To(HavePrefix("t1,"))
		})

		It("exports xlsx", func() {
			resp := do("GET", "/api/export/tickets.xlsx", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("review sessions", func() {
		// State arrives in its text form
		type wireView struct {
			ID            string         `json:"id"`
			State         string         `json:"state"`
			Record        *ticket.Record `json:"record"`
			RunningTotal  *ticket.Money  `json:"runningTotal"`
			Error         string         `json:"error"`
			ErrorKind     string         `json:"errorKind"`
			SavedTicketID string         `json:"savedTicketId"`
		}

		get := func(resp *http.Response) wireView {
			var v wireView
			decode(resp, &v)
			return v
		}

		create := func() string {
			resp := do("POST", "/api/sessions", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			v := get(resp)
			Expect(v.State).To(Equal("idle"))
			return v.ID
		}

		It("rejects unknown sessions", func() {
			resp := do("GET", "/api/sessions/missing", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(resp)).To(ContainSubstring("session not found"))
		})

		It("walks a ticket from import to save", func() {
			extractor.release = make(chan struct{})
			id := create()

			resp := upload("/api/sessions/"+id+"/image", "ticket.png", pngBytes)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Expect(get(resp).State).To(Equal("scanning"))

			img := do("GET", "/api/sessions/"+id+"/image", nil)
			Expect(img.Header.Get("Content-Type")).To(Equal("image/png"))

			close(extractor.release)
			v := get(do("GET", "/api/sessions/"+id+"?wait=true", nil))
			Expect(v.State).To(Equal("awaiting_confirmation"))
			Expect(v.Record.CommerceName).To(Equal("Farmacia del Sol"))
			Expect(v.RunningTotal.String()).To(Equal("12.00"))

			Expect(get(do("POST", "/api/sessions/"+id+"/accept", nil)).State).To(Equal("editing"))

			v = get(do("PATCH", "/api/sessions/"+id+"/items/0", map[string]any{"quantity": 3}))
			Expect(v.Record.Items[0].Subtotal.String()).To(Equal("10.50"))
			Expect(v.RunningTotal.String()).To(Equal("15.50"))

			v = get(do("POST", "/api/sessions/"+id+"/items", nil))
			Expect(v.Record.Items).To(HaveLen(3))
			v = get(do("PATCH", "/api/sessions/"+id+"/items/2", map[string]any{"name": "Crema", "unitPrice": 2.5}))
			Expect(v.RunningTotal.String()).To(Equal("18.00"))
			v = get(do("DELETE", "/api/sessions/"+id+"/items/1", nil))
			Expect(v.Record.Items).To(HaveLen(2))

			v = get(do("PATCH", "/api/sessions/"+id+"/ticket", map[string]any{"commerceName": "Farmacia Luna"}))
			Expect(v.Record.CommerceName).To(Equal("Farmacia Luna"))

			v = get(do("POST", "/api/sessions/"+id+"/recompute", nil))
			Expect(v.Record.TotalAmount.String()).To(Equal("14.00"))

			resp = do("POST", "/api/sessions/"+id+"/save", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var saved Ticket
			decode(resp, &saved)
			Expect(saved.CommerceName).To(Equal("Farmacia Luna"))
			Expect(saved.Source).To(Equal(SourceScan))
			Expect(storage.files).To(HaveKey(saved.ImageFile))

			v = get(do("GET", "/api/sessions/"+id, nil))
			Expect(v.State).To(Equal("idle"))
			Expect(v.SavedTicketID).To(Equal(saved.ID))
		})

		It("refuses operations that do not fit the state", func() {
			id := create()
			resp := do("POST", "/api/sessions/"+id+"/accept", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(do("POST", "/api/sessions/"+id+"/save", nil).StatusCode).To(Equal(http.StatusConflict))
		})

		It("rejects an upload without a file", func() {
			id := create()
			resp := upload("/api/sessions/"+id+"/image", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an empty file", func() {
			id := create()
			resp := upload("/api/sessions/"+id+"/image", "ticket.png", []byte{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a bad item index", func() {
			id := create()
			resp := do("DELETE", "/api/sessions/"+id+"/items/first", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid edit", func() {
			id := create()
			upload("/api/sessions/"+id+"/image", "ticket.png", pngBytes)
			do("GET", "/api/sessions/"+id+"?wait=true", nil)
			do("POST", "/api/sessions/"+id+"/accept", nil)

			resp := do("PATCH", "/api/sessions/"+id+"/ticket", map[string]any{"date": "ayer"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = &scanning.TransportError{Provider: "gemini", StatusCode: 500, Status: "Internal Server Error", Body: "boom"}
			})

			It("reports the failure kind and returns to idle", func() {
				id := create()
				upload("/api/sessions/"+id+"/image", "ticket.png", pngBytes)

				v := get(do("GET", "/api/sessions/"+id+"?wait=true", nil))
				Expect(v.State).To(Equal("idle"))
				Expect(v.ErrorKind).To(Equal(scanning.KindTransport))
				Expect(v.Error).To(ContainSubstring("500"))
				Expect(db.tickets).To(BeEmpty())
			})
		})

		When("the ticket cannot be stored", func() {
			BeforeEach(func() {
				storage.saveErr = errors.New("disk full at /var/lib/cashtos/tickets")
			})

			It("hides the internal error", func() {
				id := create()
				upload("/api/sessions/"+id+"/image", "ticket.png", pngBytes)
				do("GET", "/api/sessions/"+id+"?wait=true", nil)
				do("POST", "/api/sessions/"+id+"/accept", nil)

				resp := do("POST", "/api/sessions/"+id+"/save", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorOf(resp)).To(Equal("Internal server error"))
			})
		})

		It("abandons a session", func() {
			extractor.release = make(chan struct{})
			id := create()
			upload("/api/sessions/"+id+"/image", "ticket.png", pngBytes)

			Expect(do("DELETE", "/api/sessions/"+id, nil).StatusCode).To(Equal(http.StatusNoContent))
			Expect(do("GET", "/api/sessions/"+id, nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(db.tickets).To(BeEmpty())
		})
	})
})
