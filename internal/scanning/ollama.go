package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

// Ollama implements the Scanner interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	now     func() time.Time
}

// NewOllama creates a new Ollama Scanner instance.
// Vision models such as llava or qwen2-vl are needed to read ticket images.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		now: time.Now,
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanTicket analyzes a ticket image and extracts its data
func (o *Ollama) ScanTicket(ctx context.Context, img capture.Image) (ticket.Record, error) {
	data, _, err := prepareImage(img)
	if err != nil {
		return ticket.Record{}, err
	}

	jsonData, err := json.Marshal(ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.1,
			"top_k":       32,
			"top_p":       1,
			"num_predict": 2048,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: ollamaSystemPrompt},
			{
				Role:    "user",
				Content: ticketScanPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(data)},
			},
		},
	})
	if err != nil {
		return ticket.Record{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return ticket.Record{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return ticket.Record{}, &TransportError{Provider: ProviderOllama, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ticket.Record{}, &TransportError{
			Provider:   ProviderOllama,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return ticket.Record{}, &TransportError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return parseTicket(chatResp.Message.Content, o.now())
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
