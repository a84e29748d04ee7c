package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidRecord is returned by Validate for records that may not be persisted
var ErrInvalidRecord = errors.New("invalid ticket record")

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// RecordSchema returns the JSON Schema of a canonical record as a generic map
func RecordSchema() map[string]any {
	methods := make([]string, 0, len(PaymentMethods))
	for _, pm := range PaymentMethods {
		methods = append(methods, string(pm))
	}
	categories := make([]string, 0, len(Categories))
	for _, c := range Categories {
		categories = append(categories, string(c))
	}

	item := map[string]any{
		"type":     "object",
		"required": []string{"name", "quantity", "unitPrice", "subtotal"},
		"properties": map[string]any{
			"name":      map[string]any{"type": "string", "minLength": 1},
			"quantity":  map[string]any{"type": "number", "exclusiveMinimum": 0},
			"unitPrice": map[string]any{"type": "number", "minimum": 0},
			"subtotal":  map[string]any{"type": "number", "minimum": 0},
		},
	}

	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"required": []string{
			"commerceName", "date", "totalAmount", "ivaAmount",
			"paymentMethod", "category", "notes", "items",
		},
		"properties": map[string]any{
			"commerceName":  map[string]any{"type": "string", "minLength": 1},
			"date":          map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"totalAmount":   map[string]any{"type": "number", "minimum": 0},
			"ivaAmount":     map[string]any{"type": "number", "minimum": 0},
			"paymentMethod": map[string]any{"enum": methods},
			"category":      map[string]any{"enum": categories},
			"notes":         map[string]any{"type": "string"},
			"items":         map[string]any{"type": "array", "items": item},
		},
	}
}

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(RecordSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiledSchema, schemaErr = jsonschema.CompileString("ticket.json", string(b))
	})
	return compiledSchema, schemaErr
}

// Validate checks a record against the canonical schema before it is persisted
func Validate(r Record) error {
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: date %q is not a calendar date", ErrInvalidRecord, r.Date)
	}
	return nil
}
