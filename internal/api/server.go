// Package api is the HTTP surface over the store: synchronous ingestion,
// index rebuilds and the query operations, all JSON.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/planproof/planproof/internal/config"
	"github.com/planproof/planproof/internal/ingest"
	"github.com/planproof/planproof/internal/store"
	"github.com/planproof/planproof/internal/vision"
)

// IngestRunner runs one ingestion batch. Satisfied by *ingest.Ingestor.
type IngestRunner interface {
	Run(ctx context.Context, meta store.ProjectMeta, docs []ingest.Document) (*ingest.Summary, error)
}

// SourceScanner discovers documents under a source root. Satisfied by
// *source.Scanner.
type SourceScanner interface {
	Scan(root string) ([]ingest.Document, error)
}

// Server is the planproof HTTP API server.
type Server struct {
	router    chi.Router
	st        *store.Store
	scanner   SourceScanner
	newRunner func(force bool) IngestRunner
	vision    *vision.Client
	log       *slog.Logger
	cfg       config.Config
}

// NewServer creates and configures the HTTP server. vc may be nil when no
// vision credentials are configured; ingestion endpoints then refuse.
func NewServer(st *store.Store, scanner SourceScanner, newRunner func(force bool) IngestRunner, vc *vision.Client, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		st:        st,
		scanner:   scanner,
		newRunner: newRunner,
		vision:    vc,
		log:       log,
		cfg:       cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/index/rebuild", s.handleRebuildIndex)

		r.Get("/api/projects", s.handleListProjects)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/pages/{page}", s.handlePage)
		r.Get("/api/pages/{page}/xrefs", s.handleXrefs)
		r.Get("/api/gaps", s.handleGaps)
		r.Get("/api/index/summary", s.handleIndexSummary)
		r.Get("/api/report", s.handleReport)
		r.Get("/api/stats/vision", s.handleVisionStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
