package textsource

import (
	"fmt"
	"log/slog"
	"strings"
)

// MinTextLayerChars is the shortest PDF text layer accepted before falling
// back to vision transcription
const MinTextLayerChars = 20

// Router picks a recovery method by content type. Plain text is read as-is,
// PDFs use their text layer when it has one, and everything else goes to the
// vision transcriber when one is configured.
type Router struct {
	vision Recoverer
}

// NewRouter creates a Router. vision may be nil, in which case scanned
// images are rejected.
func NewRouter(vision Recoverer) *Router {
	return &Router{vision: vision}
}

// RecoverText implements Recoverer
func (r *Router) RecoverText(data []byte, contentType string) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrNoText
	}
	contentType = ContentType(contentType, "")

	switch {
	case contentType == "text/plain":
		return plainText(data)

	case contentType == "application/pdf":
		text, pages, err := pdfText(data)
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(text)) >= MinTextLayerChars {
			return &Document{Text: text, Pages: pages, Method: MethodTextLayer}, nil
		}
		slog.Debug("PDF has no usable text layer", "pages", pages, "chars", len(strings.TrimSpace(text)))
		return r.transcribe(data, contentType)

	case IsImage(contentType):
		return r.transcribe(data, contentType)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
}

func (r *Router) transcribe(data []byte, contentType string) (*Document, error) {
	if r.vision == nil {
		return nil, fmt.Errorf("%w: %s needs a vision transcriber", ErrUnsupportedContentType, contentType)
	}
	doc, err := r.vision.RecoverText(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("transcribing document: %w", err)
	}
	return doc, nil
}

// Close closes the vision transcriber
func (r *Router) Close() error {
	if r.vision == nil {
		return nil
	}
	return r.vision.Close()
}

// TranscriberConfig selects and configures a vision transcriber
type TranscriberConfig struct {
	// Kind is "none", "gemini" or "ollama"
	Kind        string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
}

// NewTranscriber builds the configured vision transcriber. Kind "none"
// returns nil, nil.
func NewTranscriber(cfg TranscriberConfig) (Recoverer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return nil, nil
	case "gemini":
		slog.Info("Initializing Gemini transcriber...", "model", cfg.GeminiModel)
		return NewGemini(cfg.GeminiKey, cfg.GeminiModel)
	case "ollama":
		slog.Info("Initializing Ollama transcriber...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	}
	return nil, fmt.Errorf("invalid transcriber %q: want none, gemini or ollama", cfg.Kind)
}
