package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planproof/planproof/internal/index"
	"github.com/planproof/planproof/internal/query"
	"github.com/planproof/planproof/internal/report"
	"github.com/planproof/planproof/internal/snapshot"
	"github.com/planproof/planproof/internal/source"
	"github.com/planproof/planproof/internal/store"
)

type ingestRequest struct {
	SourceRoot string `json:"source_root"`
	Name       string `json:"name,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// handleIngest runs a full synchronous ingestion: scan the source root,
// process every page, then rebuild the index. Large sets take a while; the
// client holds the connection.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.newRunner == nil || s.scanner == nil {
		jsonError(w, "ingestion is not configured on this server", http.StatusServiceUnavailable)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceRoot == "" {
		jsonError(w, "source_root is required", http.StatusBadRequest)
		return
	}

	docs, err := s.scanner.Scan(req.SourceRoot)
	if err != nil {
		jsonError(w, "scan source root: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(docs) == 0 {
		jsonError(w, "no documents found under source_root", http.StatusBadRequest)
		return
	}

	meta := source.ProjectMetaFor(req.Name, req.SourceRoot, docs)
	summary, err := s.newRunner(req.Force).Run(r.Context(), meta, docs)
	if err != nil {
		jsonError(w, "ingest: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ix, err := index.Build(s.st, meta.Slug, s.log)
	if err != nil {
		jsonError(w, "rebuild index: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := ix.Write(s.st, meta.Slug); err != nil {
		jsonError(w, "write index: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project": meta.Slug,
		"run":     summary.Snapshot(),
		"index":   ix.Summary,
	})
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		snap, err := s.loadSnapshot(r)
		if err != nil {
			s.snapshotError(w, err)
			return
		}
		project = snap.Meta.Slug
	}

	ix, err := index.Build(s.st, project, s.log)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "project not found", http.StatusNotFound)
			return
		}
		jsonError(w, "rebuild index: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := ix.Write(s.st, project); err != nil {
		jsonError(w, "write index: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":      project,
		"summary":      ix.Summary,
		"generated_at": ix.GeneratedAt,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.st.ListProjects()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"projects": []string{}})
			return
		}
		jsonError(w, "list projects: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	eng, err := s.loadEngine(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}

	hits, err := eng.Search(q)
	if errors.Is(err, query.ErrNoResults) {
		writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": []query.Hit{}, "no_results": true})
		return
	}
	if err != nil {
		jsonError(w, "search: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": hits})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	eng, err := s.loadEngine(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	page, err := eng.ResolvePage(chi.URLParam(r, "page"))
	if errors.Is(err, query.ErrPageNotFound) {
		jsonError(w, "page not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "resolve page: "+err.Error(), http.StatusInternalServerError)
		return
	}

	pointers := make([]*store.PointerRecord, 0, len(page.PointerOrder))
	for _, id := range page.PointerOrder {
		pointers = append(pointers, page.Pointers[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     page.Name,
		"record":   page.Record,
		"pointers": pointers,
	})
}

func (s *Server) handleXrefs(w http.ResponseWriter, r *http.Request) {
	eng, err := s.loadEngine(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	xrefs, err := eng.CrossReferences(chi.URLParam(r, "page"))
	if errors.Is(err, query.ErrPageNotFound) {
		jsonError(w, "page not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "cross references: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, xrefs)
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	eng, err := s.loadEngine(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Gaps())
}

func (s *Server) handleIndexSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loadSnapshot(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":      snap.Meta.Slug,
		"summary":      snap.Index.Summary,
		"generated_at": snap.Index.GeneratedAt,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.loadSnapshot(r)
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	html, err := report.HTML(snap, time.Now())
	if err != nil {
		jsonError(w, "render report: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleVisionStats(w http.ResponseWriter, r *http.Request) {
	if s.vision == nil {
		jsonError(w, "vision stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":  s.cfg.AnthropicModel,
		"stage1": s.vision.Stage1.Snapshot(),
		"stage2": s.vision.Stage2.Snapshot(),
	})
}

// loadSnapshot reads a fresh snapshot for the project named in the ?project
// parameter, or the default project when absent.
func (s *Server) loadSnapshot(r *http.Request) (*snapshot.Snapshot, error) {
	return snapshot.Load(s.st.Root(), r.URL.Query().Get("project"), s.log)
}

func (s *Server) loadEngine(r *http.Request) (*query.Engine, error) {
	snap, err := s.loadSnapshot(r)
	if err != nil {
		return nil, err
	}
	return query.New(snap), nil
}

func (s *Server) snapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "project not found", http.StatusNotFound)
		return
	}
	jsonError(w, "load project: "+err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
