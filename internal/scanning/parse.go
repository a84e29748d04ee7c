package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/cashtos/internal/ticket"
)

// extractObject decodes the span between the first "{" and the last "}" of
// the model text. Code fences and chatter around the object are ignored.
func extractObject(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return nil, &ParseError{Text: text, Err: errors.New("no JSON object found")}
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, &ParseError{Text: text, Err: errors.New("unterminated JSON object")}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, &ParseError{Text: text, Err: fmt.Errorf("unmarshaling json: %w", err)}
	}
	if obj == nil {
		return nil, &ParseError{Text: text, Err: errors.New("JSON value is not an object")}
	}
	return obj, nil
}

// parseTicket turns raw model text into a canonical record
func parseTicket(text string, now time.Time) (ticket.Record, error) {
	obj, err := extractObject(text)
	if err != nil {
		return ticket.Record{}, err
	}
	return ticket.Normalize(obj, now), nil
}
