package main

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/cashtos/internal/capture"
	"github.com/zombor/cashtos/internal/export"
	"github.com/zombor/cashtos/internal/review"
	"github.com/zombor/cashtos/internal/scanning"
	"github.com/zombor/cashtos/internal/ticket"
	"github.com/zombor/cashtos/internal/tickets"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const helpText = `Commands:
  field=value         edit a field (comercio, fecha, total, iva, pago, categoria, notas)
  item N field=value  edit item N (nombre, cantidad, precio)
  add                 add an item
  rm N                remove item N
  recompute           set the total to items + IVA
  save                store the ticket
  cancel              discard it`

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("cashtos-scan")
	var (
		imagePath   = fs.StringLong("image", "", "Ticket image or PDF to import instead of using the camera")
		device      = fs.IntLong("camera", 0, "Camera device index")
		dbPath      = fs.StringLong("db", "cashtos.db", "Database file path")
		storagePath = fs.StringLong("storage", "./tickets", "Image storage directory")
		scannerType = fs.StringLong("scanner", scanning.ProviderGemini, "Scanner type: 'gemini' (SDK), 'gemini-rest' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name")
		share       = fs.BoolLong("share", "Print a WhatsApp link for the saved ticket")
		logLevel    = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
		_           = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("CASHTOS")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	scanner, err := scanning.New(ctx, scanning.Config{
		Provider:     *scannerType,
		GeminiAPIKey: apiKey,
		GeminiModel:  *geminiModel,
		OllamaURL:    *ollamaURL,
		OllamaModel:  *ollamaModel,
	})
	if err != nil {
		fail("initializing scanner", err)
	}
	defer scanner.Close()

	db, err := tickets.NewBoltDB(*dbPath)
	if err != nil {
		fail("opening database", err)
	}
	defer db.Close()

	store, err := tickets.NewLocalStorage(*storagePath)
	if err != nil {
		fail("opening storage", err)
	}
	service := tickets.NewService(db, store)

	session := review.NewSession(uuid.NewString(), scanner, service)
	defer session.Close()

	in := bufio.NewScanner(os.Stdin)
	t := &terminal{in: in, out: os.Stdout, session: session}

	if *imagePath != "" {
		err = t.importFile(ctx, *imagePath)
	} else {
		err = t.capture(ctx, capture.NewCamera(*device))
	}
	if err != nil {
		fail("capturing ticket", err)
	}

	id, err := t.review(ctx)
	if err != nil {
		fail("reviewing ticket", err)
	}
	if id == "" {
		fmt.Fprintln(os.Stdout, "Ticket discarded.")
		return
	}

	fmt.Fprintf(os.Stdout, "Ticket saved: %s\n", id)
	if *share {
		saved, err := service.Get(id)
		if err != nil {
			fail("loading saved ticket", err)
		}
		fmt.Fprintln(os.Stdout, export.WhatsAppURL(export.TicketMessage(saved.Record), ""))
	}
}

func fail(what string, err error) {
	slog.Error("cashtos-scan failed", "step", what, "error", err)
	fmt.Fprintf(os.Stderr, "error %s: %v\n", what, err)

	var dae *capture.DeviceAccessError
	if errors.As(err, &dae) {
		fmt.Fprintln(os.Stderr, "hint: run again with --image path/to/ticket.jpg")
	}
	os.Exit(1)
}

// terminal drives one review session from a line-oriented console
type terminal struct {
	in      *bufio.Scanner
	out     io.Writer
	session *review.Session
}

func (t *terminal) prompt(msg string) (string, bool) {
	fmt.Fprint(t.out, msg)
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

func (t *terminal) importFile(ctx context.Context, path string) error {
	img, err := capture.ReadFile(path)
	if err != nil {
		return err
	}
	return t.session.Import(ctx, img)
}

// capture keeps the camera open until the user takes the picture or quits
func (t *terminal) capture(ctx context.Context, camera *capture.Camera) error {
	if err := t.session.StartCapture(ctx, camera); err != nil {
		return err
	}

	for {
		line, ok := t.prompt("Enter: take picture, t: toggle torch, q: quit > ")
		if !ok || line == "q" {
			if err := t.session.CancelCapture(); err != nil {
				return err
			}
			return errors.New("capture cancelled")
		}
		if line == "t" {
			on, err := t.session.ToggleTorch()
			if err != nil {
				return err
			}
			fmt.Fprintf(t.out, "torch on: %v\n", on)
			continue
		}
		return t.session.Snapshot(ctx)
	}
}

// waitForExtraction shows progress until the scan resolves
func (t *terminal) waitForExtraction(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- t.session.Wait(ctx) }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			fmt.Fprintln(t.out)
			return err
		case <-ticker.C:
			fmt.Fprintf(t.out, "\rAnalizando ticket... %3d%%", t.session.View().Progress)
		}
	}
}

// review shows the extracted record and returns the stored ticket id, or
// "" when the user discards it
func (t *terminal) review(ctx context.Context) (string, error) {
	if err := t.waitForExtraction(ctx); err != nil {
		return "", fmt.Errorf("%s error: %w", scanning.Kind(err), err)
	}

	t.print(t.session.View())
	answer, ok := t.prompt("Accept this ticket? [Y/n] ")
	if !ok || strings.EqualFold(answer, "n") {
		return "", t.session.Reject()
	}
	if err := t.session.Accept(); err != nil {
		return "", err
	}

	fmt.Fprintln(t.out, helpText)
	for {
		line, ok := t.prompt("> ")
		if !ok {
			return "", t.session.Cancel()
		}
		if line == "" {
			continue
		}

		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprintf(t.out, "%v (type help)\n", err)
			continue
		}

		switch cmd.name {
		case "help":
			fmt.Fprintln(t.out, helpText)
			continue
		case "cancel":
			return "", t.session.Cancel()
		case "save":
			id, err := t.session.Save(ctx)
			if err != nil {
				fmt.Fprintf(t.out, "cannot save: %v\n", err)
				continue
			}
			return id, nil
		case "edit":
			err = t.session.Edit(cmd.patch)
		case "item":
			err = t.session.EditItem(cmd.index, cmd.item)
		case "add":
			err = t.session.AddItem()
		case "rm":
			err = t.session.RemoveItem(cmd.index)
		case "recompute":
			err = t.session.RecomputeTotal()
		}
		if err != nil {
			fmt.Fprintf(t.out, "%v\n", err)
			continue
		}
		t.print(t.session.View())
	}
}

func (t *terminal) print(v review.View) {
	if v.Record == nil {
		return
	}
	r := v.Record

	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Comercio:\t%s\n", r.CommerceName)
	fmt.Fprintf(w, "Fecha:\t%s\n", r.Date)
	fmt.Fprintf(w, "Pago:\t%s\n", r.PaymentMethod.Label())
	fmt.Fprintf(w, "Categoría:\t%s\n", r.Category.Label())
	fmt.Fprintf(w, "Notas:\t%s\n", r.Notes)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "#\tArtículo\tCant.\tPrecio\tSubtotal")
	for i, item := range r.Items {
		fmt.Fprintf(w, "%d\t%s\t%g\t%s\t%s\n", i+1, item.Name, item.Quantity, item.UnitPrice, item.Subtotal)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "IVA:\t%s\n", r.IVAAmount)
	fmt.Fprintf(w, "Total:\t%s\n", r.TotalAmount)
	if v.RunningTotal != nil && !v.RunningTotal.Equal(r.TotalAmount) {
		fmt.Fprintf(w, "Calculado:\t%s\n", runningTotal(*v.RunningTotal))
	}
	w.Flush()
}

func runningTotal(m ticket.Money) string {
	return m.String() + " (use recompute to apply)"
}
