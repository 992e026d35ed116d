// Package textsource recovers plain text from invoice documents so it can be
// fed to the extraction pipeline.
package textsource

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Method names how a document's text was recovered
type Method string

const (
	MethodPlainText Method = "plain-text"
	MethodTextLayer Method = "pdf-text-layer"
	MethodGemini    Method = "gemini-vision"
	MethodOllama    Method = "ollama-vision"
)

var (
	// ErrUnsupportedContentType rejects documents no recoverer can read
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrNoText is returned when a document yields no readable text
	ErrNoText = errors.New("no text recovered from document")
)

// Document is the text recovered from one file
type Document struct {
	Text   string `json:"text"`
	Pages  int    `json:"pages"`
	Method Method `json:"method"`
}

// Recoverer turns document bytes into text
type Recoverer interface {
	// RecoverText reads data of the given MIME type
	RecoverText(data []byte, contentType string) (*Document, error)
	// Close releases any client resources
	Close() error
}

// ContentType normalizes a declared MIME type, falling back to the file
// extension when none was sent
func ContentType(declared, filename string) string {
	ct := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".text":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// IsImage reports whether contentType is a raster format handled by vision
// transcription
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// plainText recovers text/plain documents as-is
func plainText(data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("text document is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	return &Document{Text: text, Pages: 1, Method: MethodPlainText}, nil
}
