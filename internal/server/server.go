package server

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/pattern"
	"github.com/zombor/invoice-extractor/internal/textsource"
)

// Extractor runs the extraction pipeline for one document
type Extractor interface {
	Extract(ctx context.Context, req invoice.Request) (*invoice.Result, error)
}

// Registry is the rule administration surface
type Registry interface {
	Snapshot() (*pattern.Snapshot, error)
	List(filter pattern.ListFilter) ([]*pattern.Rule, error)
	Get(id string) (*pattern.Rule, error)
	Create(rule pattern.Rule) (*pattern.Rule, error)
	Update(id string, rule pattern.Rule) (*pattern.Rule, error)
	Delete(id string) error
	ToggleActive(id string) (*pattern.Rule, error)
	Test(pattern, flags, sample string) pattern.TestResult
	Stats() (*pattern.Stats, error)
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Config tunes the HTTP surface
type Config struct {
	BasicAuth BasicAuth
	// MaxUploadBytes bounds multipart document uploads
	MaxUploadBytes int64
	// TesterRate and TesterBurst limit the pattern tester
	TesterRate  float64
	TesterBurst int
}

const (
	DefaultMaxUploadBytes = 50 << 20
	DefaultTesterRate     = 5
	DefaultTesterBurst    = 10
)

// Server handles HTTP requests for extraction and rule administration
type Server struct {
	extractor Extractor
	registry  Registry
	recoverer textsource.Recoverer
	basicAuth BasicAuth
	maxUpload int64
	tester    *rate.Limiter
	mux       *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(extractor Extractor, registry Registry, recoverer textsource.Recoverer, cfg Config) *Server {
	return NewServerWithMux(extractor, registry, recoverer, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(extractor Extractor, registry Registry, recoverer textsource.Recoverer, cfg Config, mux *http.ServeMux) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.TesterRate <= 0 {
		cfg.TesterRate = DefaultTesterRate
	}
	if cfg.TesterBurst <= 0 {
		cfg.TesterBurst = DefaultTesterBurst
	}

	s := &Server{
		extractor: extractor,
		registry:  registry,
		recoverer: recoverer,
		basicAuth: cfg.BasicAuth,
		maxUpload: cfg.MaxUploadBytes,
		tester:    rate.NewLimiter(rate.Limit(cfg.TesterRate), cfg.TesterBurst),
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Extractor"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Operational endpoints stay open for probes and scrapers
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Extraction
	s.mux.HandleFunc("POST /api/extract", s.requireAuth(s.handleExtract))
	s.mux.HandleFunc("POST /api/documents", s.requireAuth(s.handleExtractDocument))

	// Rule administration
	s.mux.HandleFunc("GET /api/patterns/stats", s.requireAuth(s.handlePatternStats))
	s.mux.HandleFunc("POST /api/patterns/test", s.requireAuth(s.handlePatternTest))
	s.mux.HandleFunc("POST /api/patterns/{id}/toggle", s.requireAuth(s.handleTogglePattern))
	s.mux.HandleFunc("GET /api/patterns/{id}", s.requireAuth(s.handleGetPattern))
	s.mux.HandleFunc("PUT /api/patterns/{id}", s.requireAuth(s.handleUpdatePattern))
	s.mux.HandleFunc("DELETE /api/patterns/{id}", s.requireAuth(s.handleDeletePattern))
	s.mux.HandleFunc("GET /api/patterns", s.requireAuth(s.handleListPatterns))
	s.mux.HandleFunc("POST /api/patterns", s.requireAuth(s.handleCreatePattern))
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
