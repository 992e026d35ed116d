package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/textsource"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// scanOutput pairs one file with its envelope
type scanOutput struct {
	File     string               `json:"file"`
	Document *textsource.Document `json:"document,omitempty"`
	Result   *invoice.Result      `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("invoice-scan")
	var (
		dbPath      = fs.StringLong("db", "invoice-extractor.db", "Rule registry database file path")
		seedFile    = fs.StringLong("seed-file", "", "YAML rule set to seed an empty registry (default: built-in golden rules)")
		subject     = fs.StringLong("subject", "", "Email subject the invoice arrived with")
		sender      = fs.StringLong("sender", "", "Sender email address the invoice arrived from")
		runTimeout  = fs.DurationLong("run-timeout", invoice.DefaultTimeout, "Timeout for one invoice")
		transcriber = fs.StringLong("transcriber", "none", "Vision transcriber for scanned documents: 'none', 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name")
		showText    = fs.BoolLong("show-text", "Include the recovered document text in the output")
		verbose     = fs.BoolLong("verbose", "Log pipeline progress to stderr")
		_           = fs.StringLong("config", "", "Config file (plain 'flag value' lines)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_SCAN"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	files := fs.GetArgs()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "usage: invoice-scan [flags] FILE...\n\n%s\n", ffhelp.Flags(fs))
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store, err := pattern.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to open rule database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var opts []pattern.Option
	if *seedFile != "" {
		seed, err := pattern.LoadSeedFile(*seedFile)
		if err != nil {
			slog.Error("Failed to load seed file", "path", *seedFile, "error", err)
			os.Exit(1)
		}
		opts = append(opts, pattern.WithSeed(seed))
	}
	registry := pattern.NewRegistry(store, opts...)
	if err := registry.Load(); err != nil {
		slog.Error("Failed to load rule registry", "error", err)
		os.Exit(1)
	}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	vision, err := textsource.NewTranscriber(textsource.TranscriberConfig{
		Kind:        *transcriber,
		GeminiKey:   apiKey,
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

	service := invoice.NewService(registry, extraction.NewEngine(), *runTimeout)

	failed := false
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, file := range files {
		out := scan(service, recoverer, file, invoice.Request{EmailSubject: *subject, SenderEmail: *sender})
		if out.Error != "" {
			failed = true
		}
		if !*showText {
			out.Document = nil
		}
		if err := enc.Encode(out); err != nil {
			slog.Error("Error encoding output", "error", err)
			os.Exit(1)
		}
	}

	if failed {
		os.Exit(2)
	}
}

// scan recovers one file's text and runs it through the pipeline
func scan(service *invoice.Service, recoverer textsource.Recoverer, file string, req invoice.Request) scanOutput {
	out := scanOutput{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		out.Error = fmt.Sprintf("reading file: %v", err)
		return out
	}

	doc, err := recoverer.RecoverText(data, textsource.ContentType("", filepath.Base(file)))
	if err != nil {
		out.Error = fmt.Sprintf("recovering text: %v", err)
		return out
	}
	out.Document = doc
	slog.Debug("Document text recovered", "file", file, "method", doc.Method, "pages", doc.Pages)

	req.RawText = doc.Text
	result, err := service.Extract(context.Background(), req)
	out.Result = result
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
