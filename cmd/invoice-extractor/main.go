package main

import (
	"context"
	_ "embed"
	"errors"
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

	"github.com/zombor/invoice-extractor/internal/confidence"
	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/server"
	"github.com/zombor/invoice-extractor/internal/textsource"
	"github.com/zombor/invoice-extractor/internal/validation"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-extractor")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "invoice-extractor.db", "Rule registry database file path")
		seedFile      = fs.StringLong("seed-file", "", "YAML rule set to seed an empty registry (default: built-in golden rules)")
		staleOK       = fs.BoolLong("stale-fallback", "Keep serving the last good rule snapshot when the registry cannot reload")
		workers       = fs.IntLong("workers", extraction.DefaultWorkers, "Concurrent category extractors per invoice")
		fieldTimeout  = fs.DurationLong("field-timeout", extraction.DefaultFieldTimeout, "Timeout for one category's extraction")
		runTimeout    = fs.DurationLong("run-timeout", invoice.DefaultTimeout, "Timeout for one invoice")
		currency      = fs.StringLong("default-currency", extraction.DefaultCurrency, "Currency assumed when none is printed")
		transcriber   = fs.StringLong("transcriber", "none", "Vision transcriber for scanned documents: 'none', 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		maxUploadMB   = fs.IntLong("max-upload-mb", server.DefaultMaxUploadBytes>>20, "Maximum document upload size in MB")
		testerRate    = fs.Float64Long("tester-rate", server.DefaultTesterRate, "Pattern tester requests per second")
		testerBurst   = fs.IntLong("tester-burst", server.DefaultTesterBurst, "Pattern tester burst size")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_             = fs.StringLong("config", "", "Config file (plain 'flag value' lines)")
		showVersion   = fs.BoolLong("version", "Show version information")
		shutdownGrace = 10 * time.Second
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_EXTRACTOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
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

	// Initialize rule registry
	slog.Info("Initializing rule registry...", "db", *dbPath)
	store, err := pattern.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to open rule database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []pattern.Option{}
	if *seedFile != "" {
		seed, err := pattern.LoadSeedFile(*seedFile)
		if err != nil {
			slog.Error("Failed to load seed file", "path", *seedFile, "error", err)
			os.Exit(1)
		}
		opts = append(opts, pattern.WithSeed(seed))
	}
	if *staleOK {
		opts = append(opts, pattern.WithStaleFallback())
	}
	registry := pattern.NewRegistry(store, opts...)
	if err := registry.Load(); err != nil {
		slog.Error("Failed to load rule registry", "error", err)
		os.Exit(1)
	}

	// Initialize text recovery
	vision, err := textsource.NewTranscriber(textsource.TranscriberConfig{
		Kind:        *transcriber,
		GeminiKey:   firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY")),
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
	})
	if err != nil {
		slog.Error("Failed to initialize transcriber", "error", err)
		os.Exit(1)
	}
	recoverer := textsource.NewRouter(vision)
	defer recoverer.Close()

	// Initialize extraction pipeline
	engine := extraction.NewEngine(
		extraction.WithWorkers(*workers),
		extraction.WithFieldTimeout(*fieldTimeout),
	)
	enhancer := extraction.NewEnhancer(engine)
	enhancer.DefaultCurrency = strings.ToUpper(strings.TrimSpace(*currency))
	service := invoice.NewServiceWithDeps(invoice.Deps{
		Rules:     registry,
		Extractor: engine,
		Enhancer:  enhancer,
		Validator: validation.NewValidator(),
		Scorer:    confidence.NewCalculator(),
		Metrics:   invoice.NewMetrics(),
		Timeout:   *runTimeout,
	})

	// Initialize server
	srv := server.NewServer(service, registry, recoverer, server.Config{
		BasicAuth: server.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: int64(*maxUploadMB) << 20,
		TesterRate:     *testerRate,
		TesterBurst:    *testerBurst,
	})

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
