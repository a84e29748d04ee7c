package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

// GeminiSDK implements the Scanner interface using the Google Gemini Go SDK
type GeminiSDK struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
	now     func() time.Time
}

// NewGeminiSDK creates a new GeminiSDK Scanner instance. Extra client
// options such as option.WithEndpoint are applied after the API key.
func NewGeminiSDK(ctx context.Context, apiKey string, modelName string, opts ...option.ClientOption) (*GeminiSDK, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: ProviderGemini, Reason: "gemini api key is required"}
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.1)
	model.SetTopK(32)
	model.SetTopP(1)
	model.SetMaxOutputTokens(2048)

	return &GeminiSDK{
		client:  client,
		model:   model,
		timeout: 60 * time.Second,
		now:     time.Now,
	}, nil
}

// ScanTicket analyzes a ticket image and extracts its data
func (g *GeminiSDK) ScanTicket(ctx context.Context, img capture.Image) (ticket.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, mimeType, err := prepareImage(img)
	if err != nil {
		return ticket.Record{}, err
	}

	// genai.ImageData takes the format suffix ("png"), not the MIME type
	parts := []genai.Part{
		genai.Text(ticketScanPrompt),
		genai.ImageData(strings.TrimPrefix(mimeType, "image/"), data),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return ticket.Record{}, sdkError(err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	return parseTicket(text.String(), g.now())
}

func sdkError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &TransportError{
			Provider:   ProviderGemini,
			StatusCode: gerr.Code,
			Status:     gerr.Message,
			Body:       gerr.Body,
			Err:        err,
		}
	}
	return &TransportError{Provider: ProviderGemini, Err: err}
}

// Close closes the Gemini client
func (g *GeminiSDK) Close() error {
	return g.client.Close()
}
