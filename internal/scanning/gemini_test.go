package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
}

var _ = Describe("Gemini", func() {
	var (
		server  *ghttp.Server
		apiKey  string
		scanner *Gemini
		img     capture.Image
		record  ticket.Record
		err     error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		apiKey = "test-key"
		img = capture.Image{Data: []byte("fake png bytes"), MIMEType: "image/png"}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		scanner = NewGemini(apiKey,
			WithGeminiBaseURL(server.URL()),
			WithGeminiModel("gemini-test"),
			WithGeminiTimeout(5*time.Second),
			WithGeminiClock(func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }),
		)
		record, err = scanner.ScanTicket(context.Background(), img)
	})

	When("the model answers with ticket data", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1beta/models/gemini-test:generateContent"),
				ghttp.VerifyHeaderKV("x-goog-api-key", "test-key"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var body map[string]any
					Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())

					cfg := body["generationConfig"].(map[string]any)
					Expect(cfg).To(HaveKeyWithValue("temperature", 0.1))
					Expect(cfg).To(HaveKeyWithValue("topK", 32.0))
					Expect(cfg).To(HaveKeyWithValue("topP", 1.0))
					Expect(cfg).To(HaveKeyWithValue("maxOutputTokens", 2048.0))

					parts := body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
					Expect(parts).To(HaveLen(2))
					Expect(parts[0].(map[string]any)["text"]).To(ContainSubstring("commerceName"))
					inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
					Expect(inline).To(HaveKeyWithValue("mime_type", "image/png"))
					Expect(inline).To(HaveKeyWithValue("data", img.Base64()))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, geminiReply(
					"```json\n{\"commerceName\": \"Supermercado Central\", \"totalAmount\": 85.3, \"ivaAmount\": 12.8, \"paymentMethod\": \"card\", \"category\": \"alimentacion\", \"items\": [{\"name\": \"Leche\", \"quantity\": 2, \"unitPrice\": 1.25}]}\n```",
				)),
			))
		})

		It("returns the normalized record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.CommerceName).To(Equal("Supermercado Central"))
			Expect(record.TotalAmount.String()).To(Equal("85.30"))
			Expect(record.IVAAmount.String()).To(Equal("12.80"))
			Expect(record.PaymentMethod).To(Equal(ticket.PaymentCard))
			Expect(record.Date).To(Equal("2024-06-01"))
			Expect(record.Items).To(HaveLen(1))
			Expect(record.Items[0].Subtotal.String()).To(Equal("2.50"))
		})

		It("makes exactly one request", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the text is split across parts", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
					map[string]any{"text": `{"commerceName": "Bar `},
					map[string]any{"text": `Pepe", "totalAmount": 4}`},
				}}}},
			}))
		})

		It("concatenates the parts", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.CommerceName).To(Equal("Bar Pepe"))
		})
	})

	When("the API key is missing", func() {
		BeforeEach(func() {
			apiKey = ""
		})

		It("returns a ConfigurationError without calling the API", func() {
			var ce *ConfigurationError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error": "boom"}`))
		})

		It("returns a TransportError carrying the status", func() {
			var te *TransportError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(te.Body).To(ContainSubstring("boom"))
		})
	})

	When("the API rejects the key", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, `{"error": {"message": "API key not valid"}}`))
		})

		It("returns a TransportError", func() {
			Expect(Kind(err)).To(Equal(KindTransport))
		})
	})

	When("the model answers without an object", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, geminiReply("Lo siento, la imagen está borrosa.")))
		})

		It("returns a ParseError", func() {
			var pe *ParseError
			Expect(errors.As(err, &pe)).To(BeTrue())
		})
	})

	When("the model returns no candidates", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"candidates": []any{}}))
		})

		It("returns a ParseError", func() {
			Expect(Kind(err)).To(Equal(KindParse))
		})
	})

	When("the image is empty", func() {
		BeforeEach(func() {
			img = capture.Image{}
		})

		It("fails before calling the API", func() {
			Expect(err).To(MatchError(capture.ErrEmptyImage))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})

var _ = Describe("Gemini cancellation", func() {
	It("returns a TransportError when the context is cancelled", func() {
		server := ghttp.NewServer()
		defer server.Close()
		server.AllowUnhandledRequests = true

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		g := NewGemini("key", WithGeminiBaseURL(server.URL()))
		_, err := g.ScanTicket(ctx, capture.Image{Data: []byte("x"), MIMEType: "image/png"})
		Expect(Kind(err)).To(Equal(KindTransport))
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})

var _ = Describe("New", func() {
	It("builds the SDK scanner by default", func() {
		s, err := New(context.Background(), Config{GeminiAPIKey: "k", Timeout: 5 * time.Second})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&GeminiSDK{}))
		Expect(s.(*GeminiSDK).timeout).To(Equal(5 * time.Second))
		Expect(s.Close()).To(Succeed())
	})

	It("builds the REST scanner on request", func() {
		s, err := New(context.Background(), Config{Provider: ProviderGeminiREST, GeminiAPIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&Gemini{}))
	})

	It("builds an Ollama scanner", func() {
		s, err := New(context.Background(), Config{Provider: ProviderOllama})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&Ollama{}))
	})

	It("reports a missing key for the default scanner", func() {
		_, err := New(context.Background(), Config{})
		Expect(Kind(err)).To(Equal(KindConfiguration))
	})

	It("rejects unknown providers", func() {
		_, err := New(context.Background(), Config{Provider: "tesseract"})
		Expect(Kind(err)).To(Equal(KindConfiguration))
	})
})
