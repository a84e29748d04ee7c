package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/scanning"
	"github.com/zombor/cashtos/internal/ticket"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("session closed")
)

// State is the stage of a review session
type State int

const (
	Idle State = iota
	Capturing
	Scanning
	AwaitingConfirmation
	Editing
	Saved
)

var stateNames = map[State]string{
	Idle:                 "idle",
	Capturing:            "capturing",
	Scanning:             "scanning",
	AwaitingConfirmation: "awaiting_confirmation",
	Editing:              "editing",
	Saved:                "saved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Extractor turns an image into a normalized record
type Extractor interface {
	ScanTicket(ctx context.Context, img capture.Image) (ticket.Record, error)
}

// Persister stores a confirmed record with its source image and returns its id
type Persister interface {
	Persist(ctx context.Context, record ticket.Record, img capture.Image) (string, error)
}

// Event describes one state transition
type Event struct {
	Session  string
	From     State
	To       State
	Err      error
	Duration time.Duration
	TicketID string
}

// Observer is notified of every transition, outside the session lock
type Observer func(Event)

type Option func(*Session)

// WithProgress sets how fast the cosmetic progress indicator advances
func WithProgress(step int, interval time.Duration) Option {
	return func(s *Session) {
		if step > 0 {
			s.step = step
		}
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observers = append(s.observers, o)
	}
}

// Session owns one in-progress ticket from capture to save
type Session struct {
	id        string
	extractor Extractor
	persister Persister
	observers []Observer
	step      int
	interval  time.Duration

	mu       sync.Mutex
	state    State
	closed   bool
	progress int
	record   ticket.Record
	image    *capture.Image
	live     *capture.Live
	torch    bool
	lastErr  error
	savedID  string

	// gen identifies the current scan; results of older scans are dropped
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	// acquiring is set while StartCapture opens the device unlocked
	acquiring bool
}

// NewSession creates an idle session
func NewSession(id string, extractor Extractor, persister Persister, opts ...Option) *Session {
	s := &Session{
		id:        id,
		extractor: extractor,
		persister: persister,
		step:      2,
		interval:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// do runs fn under the lock and notifies observers once the lock is released
func (s *Session) do(fn func() ([]Event, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	events, err := fn()
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
	return err
}

func (s *Session) emit(ev Event) {
	ev.Session = s.id
	for _, o := range s.observers {
		o(ev)
	}
}

func (s *Session) require(states ...State) error {
	for _, st := range states {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed while %s", ErrInvalidTransition, s.state)
}

func (s *Session) moveTo(to State, err error) Event {
	ev := Event{From: s.state, To: to, Err: err}
	s.state = to
	return ev
}

// reset discards everything held by the session and returns to Idle
func (s *Session) reset(err error) Event {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.live != nil {
		s.live.Release()
		s.live = nil
	}
	s.gen++
	s.torch = false
	s.progress = 0
	s.image = nil
	s.record = ticket.Record{}
	return s.moveTo(Idle, err)
}

// StartCapture acquires the camera. A DeviceAccessError leaves the session
// Idle so the caller can fall back to Import. The device is opened without
// holding the lock; a Cancel or Close meanwhile discards the camera.
func (s *Session) StartCapture(ctx context.Context, camera *capture.Camera) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.require(Idle); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.acquiring {
		s.mu.Unlock()
		return fmt.Errorf("%w: camera is already being opened", ErrInvalidTransition)
	}
	s.acquiring = true
	gen := s.gen
	s.mu.Unlock()

	live, err := camera.Acquire(ctx)

	s.mu.Lock()
	s.acquiring = false
	if s.closed || s.gen != gen || s.state != Idle {
		closed := s.closed
		s.mu.Unlock()
		if live != nil {
			live.Release()
		}
		if closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: capture abandoned while opening the camera", ErrInvalidTransition)
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	s.live = live
	s.lastErr = nil
	s.savedID = ""
	ev := s.moveTo(Capturing, nil)
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Preview returns the current camera frame
func (s *Session) Preview() (capture.Image, error) {
	var img capture.Image
	err := s.do(func() ([]Event, error) {
		if err := s.require(Capturing); err != nil {
			return nil, err
		}
		var err error
		img, err = s.live.Preview()
		return nil, err
	})
	return img, err
}

// ToggleTorch flips the torch and reports whether it is now on
func (s *Session) ToggleTorch() (bool, error) {
	var on bool
	err := s.do(func() ([]Event, error) {
		if err := s.require(Capturing); err != nil {
			return nil, err
		}
		s.torch = s.live.ToggleTorch()
		on = s.torch
		return nil, nil
	})
	return on, err
}

// Snapshot captures the current frame, releases the camera and starts extraction
func (s *Session) Snapshot(ctx context.Context) error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Capturing); err != nil {
			return nil, err
		}
		img, err := s.live.Snapshot()
		s.live = nil
		s.torch = false
		if err != nil {
			s.lastErr = err
			return []Event{s.reset(err)}, err
		}
		return []Event{s.beginScan(ctx, img)}, nil
	})
}

// CancelCapture releases the camera without capturing
func (s *Session) CancelCapture() error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Capturing); err != nil {
			return nil, err
		}
		return []Event{s.reset(nil)}, nil
	})
}

// Import starts extraction of an image read from a file
func (s *Session) Import(ctx context.Context, img capture.Image) error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Idle); err != nil {
			return nil, err
		}
		if s.acquiring {
			return nil, fmt.Errorf("%w: camera is being opened", ErrInvalidTransition)
		}
		if len(img.Data) == 0 {
			return nil, capture.ErrEmptyImage
		}
		s.savedID = ""
		return []Event{s.beginScan(ctx, img)}, nil
	})
}

// beginScan must be called with the lock held. The extraction outlives the
// caller's request context and is only cancelled through the session.
func (s *Session) beginScan(ctx context.Context, img capture.Image) Event {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	s.cancel = cancel
	s.done = make(chan struct{})
	s.image = &img
	s.progress = 0
	s.lastErr = nil

	go s.run(ctx, s.gen, img, s.done)
	return s.moveTo(Scanning, nil)
}

// run joins the progress indicator and the extraction call. The session
// leaves Scanning only after both have finished.
func (s *Session) run(ctx context.Context, gen uint64, img capture.Image, done chan struct{}) {
	defer close(done)

	var (
		g      errgroup.Group
		record ticket.Record
	)
	start := time.Now()
	g.Go(func() error {
		s.tick(ctx, gen)
		return nil
	})
	g.Go(func() error {
		var err error
		record, err = s.extractor.ScanTicket(ctx, img)
		return err
	})
	err := g.Wait()

	s.finish(gen, record, err, time.Since(start))
}

func (s *Session) tick(ctx context.Context, gen uint64) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.advance(gen) >= 100 {
				return
			}
		}
	}
}

func (s *Session) advance(gen uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != Scanning {
		return 100
	}
	s.progress = min(s.progress+s.step, 100)
	return s.progress
}

func (s *Session) finish(gen uint64, record ticket.Record, err error, took time.Duration) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.state != Scanning {
		s.mu.Unlock()
		slog.Info("dropping stale extraction result", "session", s.id)
		return
	}
	s.cancel()
	s.cancel = nil

	var ev Event
	if err != nil {
		s.lastErr = err
		ev = s.reset(err)
		slog.Error("extracting ticket", "session", s.id, "kind", scanning.Kind(err), "error", err)
	} else {
		s.record = record
		s.progress = 100
		ev = s.moveTo(AwaitingConfirmation, nil)
		slog.Info("ticket extracted", "session", s.id, "commerce", record.CommerceName, "total", record.TotalAmount.String())
	}
	ev.Duration = took
	s.mu.Unlock()

	s.emit(ev)
}

// Wait blocks until the in-flight extraction, if any, has resolved and
// returns its error
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Accept moves the extracted record into editing
func (s *Session) Accept() error {
	return s.do(func() ([]Event, error) {
		if err := s.require(AwaitingConfirmation); err != nil {
			return nil, err
		}
		return []Event{s.moveTo(Editing, nil)}, nil
	})
}

// Reject discards the extracted record and image
func (s *Session) Reject() error {
	return s.do(func() ([]Event, error) {
		if err := s.require(AwaitingConfirmation); err != nil {
			return nil, err
		}
		return []Event{s.reset(nil)}, nil
	})
}

// Edit applies a field-level patch to the record
func (s *Session) Edit(p ticket.Patch) error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		return nil, s.record.Apply(p)
	})
}

// EditItem patches one line item; its subtotal is recomputed immediately
func (s *Session) EditItem(index int, p ticket.ItemPatch) error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		return nil, s.record.ApplyItem(index, p)
	})
}

func (s *Session) AddItem() error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		s.record.AddItem()
		return nil, nil
	})
}

func (s *Session) RemoveItem(index int) error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		return nil, s.record.RemoveItem(index)
	})
}

// RecomputeTotal replaces the total with the running total
func (s *Session) RecomputeTotal() error {
	return s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		s.record.RecomputeTotal()
		return nil, nil
	})
}

// Save validates the record and hands it to the persister. On success the
// session passes through Saved and is Idle again.
func (s *Session) Save(ctx context.Context) (string, error) {
	var id string
	err := s.do(func() ([]Event, error) {
		if err := s.require(Editing); err != nil {
			return nil, err
		}
		if err := ticket.Validate(s.record); err != nil {
			return nil, err
		}

		var img capture.Image
		if s.image != nil {
			img = *s.image
		}
		var err error
		id, err = s.persister.Persist(ctx, s.record.Clone(), img)
		if err != nil {
			return nil, fmt.Errorf("persisting ticket: %w", err)
		}

		saved := s.moveTo(Saved, nil)
		saved.TicketID = id
		s.savedID = id
		s.lastErr = nil
		return []Event{saved, s.reset(nil)}, nil
	})
	return id, err
}

// Cancel abandons whatever the session holds and returns it to Idle
func (s *Session) Cancel() error {
	return s.do(func() ([]Event, error) {
		if s.state == Idle {
			// drops a camera that is still being opened
			s.gen++
			return nil, nil
		}
		return []Event{s.reset(nil)}, nil
	})
}

// Close cancels any in-flight extraction and releases the camera. The
// session cannot be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var events []Event
	if s.state != Idle {
		events = append(events, s.reset(nil))
	}
	s.closed = true
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
}

// Image returns the held source image
func (s *Session) Image() (capture.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.image == nil {
		return capture.Image{}, false
	}
	return *s.image, true
}
