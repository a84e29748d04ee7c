package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/cashtos/internal/metrics"
	"github.com/zombor/cashtos/internal/review"
	"github.com/zombor/cashtos/internal/scanning"
	"github.com/zombor/cashtos/internal/tickets"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("cashtos")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "cashtos.db", "Database file path")
		storagePath = fs.StringLong("storage", "./tickets", "Image storage directory (when no GCS bucket is set)")
		gcsBucket   = fs.StringLong("gcs-bucket", "", "Store ticket images in this Google Cloud Storage bucket")
		gcsPrefix   = fs.StringLong("gcs-prefix", "tickets/", "Object name prefix inside the GCS bucket")
		scannerType = fs.StringLong("scanner", scanning.ProviderGemini, "Scanner type: 'gemini' (SDK), 'gemini-rest' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		geminiURL   = fs.StringLong("gemini-url", "", "Gemini API base URL override")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		scanTimeout = fs.DurationLong("scan-timeout", 60*time.Second, "Timeout of one extraction request")
		sessionTTL  = fs.DurationLong("session-ttl", 30*time.Minute, "Close review sessions unused for this long")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CASHTOS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := tickets.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" && *scannerType != scanning.ProviderOllama {
		// the server still starts; scans report a configuration error
		slog.Warn("Gemini API key is not set. Set --gemini-key flag or GEMINI_API_KEY environment variable")
	}

	slog.Info("Initializing scanner...", "type", *scannerType)
	scanner, err := scanning.New(ctx, scanning.Config{
		Provider:      *scannerType,
		GeminiAPIKey:  apiKey,
		GeminiModel:   *geminiModel,
		GeminiBaseURL: *geminiURL,
		OllamaURL:     *ollamaURL,
		OllamaModel:   *ollamaModel,
		Timeout:       *scanTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize scanner", "type", *scannerType, "error", err)
		os.Exit(1)
	}
	defer scanner.Close()

	var store tickets.Storage
	if *gcsBucket != "" {
		slog.Info("Initializing GCS storage...", "bucket", *gcsBucket, "prefix", *gcsPrefix)
		gcs, err := tickets.NewGCSStorage(ctx, *gcsBucket, *gcsPrefix)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		defer gcs.Close()
		store = gcs
	} else {
		slog.Info("Initializing storage...", "path", *storagePath)
		local, err := tickets.NewLocalStorage(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		store = local
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	service := tickets.NewService(db, store)
	sessions := review.NewManager(scanner, service, review.WithObserver(recorder.Observe))
	defer sessions.Close()
	go sessions.ExpireIdle(ctx, *sessionTTL)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	server := tickets.NewServerWithMux(service, sessions, tickets.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}, mux)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           metrics.Instrument(reg, server.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
