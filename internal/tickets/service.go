package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/export"
	"github.com/zombor/cashtos/internal/ticket"
)

// ErrNoImage is returned for tickets stored without a source image
var ErrNoImage = errors.New("ticket has no image")

// IDGenerator generates unique IDs for tickets
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles stored tickets and their images
type Service struct {
	db          DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid ids and the wall clock
func NewService(db DB, storage Storage) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: &uuidGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "ticket"
	}

	return base + ext
}

var imageExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/heic":      ".heic",
	"image/heif":      ".heif",
	"application/pdf": ".pdf",
}

func imageName(id string, img capture.Image) string {
	name := img.Filename
	if filepath.Ext(name) == "" {
		if ext, ok := imageExtensions[img.MIMEType]; ok {
			name += ext
		} else if exts, _ := mime.ExtensionsByType(img.MIMEType); len(exts) > 0 {
			name += exts[0]
		}
	}
	return fmt.Sprintf("%s_%s", id, sanitizeFilename(name))
}

// Persist stores a confirmed scan together with its source image
func (s *Service) Persist(ctx context.Context, record ticket.Record, img capture.Image) (string, error) {
	t, err := s.save(ctx, record, img, SourceScan)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// Create stores a manually entered ticket
func (s *Service) Create(ctx context.Context, record ticket.Record) (*Ticket, error) {
	return s.save(ctx, record, capture.Image{}, SourceManual)
}

func (s *Service) save(ctx context.Context, record ticket.Record, img capture.Image, source Source) (*Ticket, error) {
	if err := ticket.Validate(record); err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	t := &Ticket{
		ID:        s.idGenerator.Generate(),
		Record:    record.Clone(),
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(img.Data) > 0 {
		key, err := s.storage.Save(ctx, imageName(t.ID, img), img.Data, img.MIMEType)
		if err != nil {
			return nil, fmt.Errorf("saving image: %w", err)
		}
		t.ImageFile = key
		t.ContentType = img.MIMEType
	}

	if err := s.db.SaveTicket(t); err != nil {
		if t.ImageFile != "" {
			if derr := s.storage.Delete(ctx, t.ImageFile); derr != nil {
				slog.Warn("Failed to clean up image", "file", t.ImageFile, "error", derr)
			}
		}
		return nil, fmt.Errorf("saving ticket to database: %w", err)
	}

	slog.Info("Ticket saved",
		"id", t.ID,
		"source", t.Source,
		"commerce", t.CommerceName,
		"total", t.TotalAmount.String(),
	)
	return t, nil
}

// Get retrieves a ticket by ID
func (s *Service) Get(id string) (*Ticket, error) {
	t, err := s.db.GetTicket(id)
	if err != nil {
		return nil, fmt.Errorf("getting ticket: %w", err)
	}
	return t, nil
}

// ListFilter narrows List. Zero values match everything; From and To are
// inclusive YYYY-MM-DD bounds.
type ListFilter struct {
	Category      ticket.Category
	PaymentMethod ticket.PaymentMethod
	From          string
	To            string
	Search        string
}

func (f ListFilter) match(t *Ticket) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.PaymentMethod != "" && t.PaymentMethod != f.PaymentMethod {
		return false
	}
	if f.From != "" && t.Date < f.From {
		return false
	}
	if f.To != "" && t.Date > f.To {
		return false
	}
	if f.Search != "" {
		q := ticket.Fold(f.Search)
		if !strings.Contains(ticket.Fold(t.CommerceName), q) && !strings.Contains(ticket.Fold(t.Notes), q) {
			return false
		}
	}
	return true
}

// List returns the matching tickets, newest first
func (s *Service) List(filter ListFilter) ([]*Ticket, error) {
	all, err := s.db.ListTickets()
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}

	out := make([]*Ticket, 0, len(all))
	for _, t := range all {
		if filter.match(t) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b *Ticket) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Update applies a patch to a stored ticket. The result must still validate.
func (s *Service) Update(id string, p ticket.Patch) (*Ticket, error) {
	t, err := s.db.GetTicket(id)
	if err != nil {
		return nil, fmt.Errorf("getting ticket: %w", err)
	}

	if err := t.Apply(p); err != nil {
		return nil, err
	}
	if err := ticket.Validate(t.Record); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveTicket(t); err != nil {
		return nil, fmt.Errorf("saving ticket to database: %w", err)
	}
	return t, nil
}

// Delete removes a ticket and its image. It reports false when no such ticket exists.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	t, err := s.db.GetTicket(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting ticket for deletion: %w", err)
	}

	if t.ImageFile != "" {
		if err := s.storage.Delete(ctx, t.ImageFile); err != nil {
			slog.Warn("Failed to delete image", "file", t.ImageFile, "error", err)
		}
	}

	if err := s.db.DeleteTicket(id); err != nil {
		return false, fmt.Errorf("deleting ticket from database: %w", err)
	}
	return true, nil
}

// GetImage returns the stored source image of a ticket
func (s *Service) GetImage(ctx context.Context, id string) ([]byte, string, error) {
	t, err := s.db.GetTicket(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting ticket: %w", err)
	}
	if t.ImageFile == "" {
		return nil, "", ErrNoImage
	}

	data, err := s.storage.Get(ctx, t.ImageFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting ticket image: %w", err)
	}
	return data, t.ContentType, nil
}

// Stats summarizes the matching tickets relative to now
func (s *Service) Stats(filter ListFilter) (ticket.Summary, error) {
	list, err := s.List(filter)
	if err != nil {
		return ticket.Summary{}, err
	}
	records := make([]ticket.Record, len(list))
	for i, t := range list {
		records[i] = t.Record
	}
	return ticket.Summarize(records, s.timeSource.Now()), nil
}

// Export returns the matching tickets in report form along with their summary
func (s *Service) Export(filter ListFilter) ([]export.Ticket, ticket.Summary, error) {
	list, err := s.List(filter)
	if err != nil {
		return nil, ticket.Summary{}, err
	}
	rows := make([]export.Ticket, len(list))
	records := make([]ticket.Record, len(list))
	for i, t := range list {
		rows[i] = t.reportRow()
		records[i] = t.Record
	}
	return rows, ticket.Summarize(records, s.timeSource.Now()), nil
}
