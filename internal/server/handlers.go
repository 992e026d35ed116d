package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/invoice-extractor/internal/extraction"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/textsource"
)

// maxJSONBytes bounds JSON request bodies
const maxJSONBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, errorResponse{Error: message})
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	var invalid *pattern.InvalidPatternError
	switch {
	case errors.Is(err, invoice.ErrEmptyDocument), errors.Is(err, textsource.ErrNoText):
		return http.StatusBadRequest
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, textsource.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, pattern.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, pattern.ErrRuleInUse):
		return http.StatusConflict
	case errors.Is(err, pattern.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, extraction.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeDomainError logs and writes err with its mapped status
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err, "status", code)
	} else {
		slog.Warn(msg, "error", err, "status", code)
	}
	writeError(w, err.Error(), code)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, "Request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return body, true
}

// handleHealth reports whether the registry can serve rules
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"registry_version": snap.Version,
		"active_rules":     snap.Len(),
	})
}

// handleExtract runs the pipeline over JSON-submitted text
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req invoice.Request
	if err := decodeValid(extractSchema, body, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.extract(w, r, req)
}

// handleExtractDocument recovers text from an uploaded file and runs the pipeline
func (s *Server) handleExtractDocument(w http.ResponseWriter, r *http.Request) {
	if s.recoverer == nil {
		writeError(w, "Document upload is not configured", http.StatusNotImplemented)
		return
	}

	tooLarge := fmt.Sprintf("File is too large. Maximum size is %d bytes.", s.maxUpload)
	if r.ContentLength > s.maxUpload {
		writeError(w, tooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		slog.Warn("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := textsource.ContentType(header.Header.Get("Content-Type"), header.Filename)
	doc, err := s.recoverer.RecoverText(data, contentType)
	if err != nil {
		writeDomainError(w, "Error recovering document text", err)
		return
	}
	slog.Info("Document text recovered",
		"filename", header.Filename,
		"content_type", contentType,
		"method", doc.Method,
		"pages", doc.Pages,
	)

	s.extract(w, r, invoice.Request{
		RawText:      doc.Text,
		EmailSubject: r.FormValue("email_subject"),
		SenderEmail:  r.FormValue("sender_email"),
	})
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request, req invoice.Request) {
	result, err := s.extractor.Extract(r.Context(), req)
	if err != nil {
		code := errorStatus(err)
		slog.Error("Extraction failed", "error", err, "status", code)
		if result != nil {
			// failed runs still return their envelope
			setCORSHeaders(w)
			writeJSON(w, code, result)
			return
		}
		writeError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListPatterns lists rules, optionally filtered by category and active flag
func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	var filter pattern.ListFilter
	if c := r.URL.Query().Get("category"); c != "" {
		category, ok := pattern.ParseCategory(c)
		if !ok {
			writeError(w, fmt.Sprintf("Unknown category %q", c), http.StatusBadRequest)
			return
		}
		filter.Category = category
	}
	if a := r.URL.Query().Get("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			writeError(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}

	rules, err := s.registry.List(filter)
	if err != nil {
		writeDomainError(w, "Error listing patterns", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, "Error getting pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// ruleRequest is the admin payload. Active defaults to true on create.
type ruleRequest struct {
	pattern.Rule
	// Active shadows Rule.Active so an omitted flag is distinguishable
	// from false; encoding/json fills the shallower field only.
	Active *bool `json:"active"`
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (pattern.Rule, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return pattern.Rule{}, false
	}
	var req ruleRequest
	if err := decodeValid(ruleSchema, body, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return pattern.Rule{}, false
	}
	rule := req.Rule
	rule.Active = req.Active == nil || *req.Active
	return rule, true
}

func (s *Server) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	created, err := s.registry.Create(rule)
	if err != nil {
		writeDomainError(w, "Error creating pattern", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdatePattern(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	updated, err := s.registry.Update(r.PathValue("id"), rule)
	if err != nil {
		writeDomainError(w, "Error updating pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePattern(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.PathValue("id")); err != nil {
		writeDomainError(w, "Error deleting pattern", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTogglePattern(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.ToggleActive(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, "Error toggling pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type patternTestRequest struct {
	Pattern string `json:"pattern"`
	Flags   string `json:"flags"`
	Sample  string `json:"sample"`
}

// handlePatternTest runs an ad-hoc pattern; compile problems come back in
// the result's diagnostic, not as an HTTP error
func (s *Server) handlePatternTest(w http.ResponseWriter, r *http.Request) {
	if !s.tester.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, "Too many pattern tests, slow down", http.StatusTooManyRequests)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req patternTestRequest
	if err := decodeValid(patternTestSchema, body, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Test(req.Pattern, req.Flags, req.Sample))
}

func (s *Server) handlePatternStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats()
	if err != nil {
		writeDomainError(w, "Error computing pattern stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
