package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/option"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/ticket"
)

// Scanner extracts a structured ticket from an image
type Scanner interface {
	// ScanTicket sends the image to the model and returns the normalized record
	ScanTicket(ctx context.Context, img capture.Image) (ticket.Record, error)
	// Close releases any client resources
	Close() error
}

// ConfigurationError is returned when a scanner cannot run, e.g. a missing credential
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

// TransportError is a network failure or a non-success response from the model API
type TransportError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d %s): %s", e.Provider, e.StatusCode, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the model response holds no JSON object
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no ticket data in model response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Error kinds reported to clients
const (
	KindConfiguration = "configuration"
	KindTransport     = "transport"
	KindParse         = "parse"
	KindOther         = "other"
)

// Kind classifies an extraction error for reporting
func Kind(err error) string {
	var (
		ce *ConfigurationError
		te *TransportError
		pe *ParseError
	)
	switch {
	case errors.As(err, &ce):
		return KindConfiguration
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &pe):
		return KindParse
	}
	return KindOther
}

// Providers
const (
	ProviderGemini     = "gemini"
	ProviderGeminiREST = "gemini-rest"
	ProviderOllama     = "ollama"
)

// Config selects and configures a scanner
type Config struct {
	Provider string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	OllamaURL   string
	OllamaModel string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// New builds the scanner named by cfg.Provider
func New(ctx context.Context, cfg Config) (Scanner, error) {
	switch cfg.Provider {
	case "", ProviderGemini:
		var opts []option.ClientOption
		if cfg.GeminiBaseURL != "" {
			opts = append(opts, option.WithEndpoint(cfg.GeminiBaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
		}
		g, err := NewGeminiSDK(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, opts...)
		if err != nil {
			return nil, err
		}
		if cfg.Timeout > 0 {
			g.timeout = cfg.Timeout
		}
		return g, nil
	case ProviderGeminiREST:
		opts := []GeminiOption{WithGeminiModel(cfg.GeminiModel)}
		if cfg.GeminiBaseURL != "" {
			opts = append(opts, WithGeminiBaseURL(cfg.GeminiBaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, WithGeminiHTTPClient(cfg.HTTPClient))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithGeminiTimeout(cfg.Timeout))
		}
		return NewGemini(cfg.GeminiAPIKey, opts...), nil
	case ProviderOllama:
		o, err := NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, &ConfigurationError{Provider: cfg.Provider, Reason: "unknown scanner provider"}
}
