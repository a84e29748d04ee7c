package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"
)

// Gemini implements the Scanner interface against the Gemini REST API
type Gemini struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
}

type GeminiOption func(*Gemini)

func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
	}
}

func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *Gemini) {
		g.baseURL = strings.TrimRight(url, "/")
	}
}

func WithGeminiHTTPClient(client *http.Client) GeminiOption {
	return func(g *Gemini) {
		g.client = client
	}
}

func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) {
		g.timeout = d
	}
}

// WithGeminiClock sets the clock used to default missing dates (useful for testing)
func WithGeminiClock(now func() time.Time) GeminiOption {
	return func(g *Gemini) {
		g.now = now
	}
}

// NewGemini creates a Gemini scanner. A missing key is reported on the
// first scan so the rest of the application can still start.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:  apiKey,
		baseURL: DefaultGeminiBaseURL,
		model:   DefaultGeminiModel,
		timeout: 60 * time.Second,
		client:  http.DefaultClient,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// ScanTicket analyzes a ticket image and extracts its data
func (g *Gemini) ScanTicket(ctx context.Context, img capture.Image) (ticket.Record, error) {
	if g.apiKey == "" {
		return ticket.Record{}, &ConfigurationError{Provider: ProviderGeminiREST, Reason: "gemini api key is required"}
	}

	data, mimeType, err := prepareImage(img)
	if err != nil {
		return ticket.Record{}, err
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: ticketScanPrompt},
				{InlineData: &geminiInlineData{
					MIMEType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.1,
			TopK:            32,
			TopP:            1,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return ticket.Record{}, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ticket.Record{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return ticket.Record{}, &TransportError{Provider: ProviderGeminiREST, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ticket.Record{}, &TransportError{
			Provider:   ProviderGeminiREST,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(b)),
		}
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return ticket.Record{}, &TransportError{Provider: ProviderGeminiREST, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	var text strings.Builder
	if len(gr.Candidates) > 0 {
		for _, part := range gr.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	slog.Info("gemini responded", "model", g.model, "duration", time.Since(start), "chars", text.Len())
	return parseTicket(text.String(), g.now())
}

// Close is a no-op for the HTTP client
func (g *Gemini) Close() error {
	return nil
}
