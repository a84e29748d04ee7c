package tickets

import (
	"errors"
	"time"

	"github.com/zombor/cashtos/internal/export"
	"github.com/zombor/cashtos/internal/ticket"
)

// ErrNotFound is returned when no ticket has the requested id
var ErrNotFound = errors.New("ticket not found")

// Source records how a ticket entered the system
type Source string

const (
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
)

// Ticket is a confirmed record as stored
type Ticket struct {
	ID string `json:"id"`
	ticket.Record
	ImageFile   string    `json:"imageFile,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Source      Source    `json:"source"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (t *Ticket) reportRow() export.Ticket {
	return export.Ticket{ID: t.ID, Record: t.Record.Clone(), CreatedAt: t.CreatedAt}
}
