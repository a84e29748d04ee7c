package scanning

import (
	"context"
	"errors"
	"net/http"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

var _ = Describe("Ollama", func() {
	var (
		scanner *Ollama
		record  ticket.Record
		err     error
	)

	BeforeEach(func() {
		scanner, err = NewOllama("http://ollama.lan:11434/", "llava-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		gock.Off()
	})

	JustBeforeEach(func() {
		record, err = scanner.ScanTicket(context.Background(), capture.Image{Data: []byte("png"), MIMEType: "image/png"})
	})

	When("the model answers", func() {
		BeforeEach(func() {
			gock.New("http://ollama.lan:11434").
				Post("/api/chat").
				MatchType("json").
				Reply(http.StatusOK).
				JSON(map[string]any{
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"commerceName": "Taxi Madrid", "totalAmount": 18, "category": "transporte", "paymentMethod": "efectivo"}`,
					},
					"done": true,
				})
		})

		It("returns the normalized record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.CommerceName).To(Equal("Taxi Madrid"))
			Expect(record.Category).To(Equal(ticket.CategoryTransport))
			Expect(record.PaymentMethod).To(Equal(ticket.PaymentCash))
			Expect(record.TotalAmount.String()).To(Equal("18.00"))
		})

		It("consumes the mock", func() {
			Expect(gock.IsDone()).To(BeTrue())
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			gock.New("http://ollama.lan:11434").
				Post("/api/chat").
				Reply(http.StatusBadGateway).
				BodyString("model not loaded")
		})

		It("returns a TransportError", func() {
			var te *TransportError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(te.Body).To(Equal("model not loaded"))
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			gock.New("http://ollama.lan:11434").
				Post("/api/chat").
				Reply(http.StatusOK).
				JSON(map[string]any{"message": map[string]any{"role": "assistant", "content": "no veo ningún ticket"}, "done": true})
		})

		It("returns a ParseError", func() {
			Expect(Kind(err)).To(Equal(KindParse))
		})
	})
})
