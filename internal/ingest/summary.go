package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Summary tracks the running counts of one ingest run. All mutators are safe
// to call from concurrent page workers.
type Summary struct {
	mu sync.Mutex

	RunID   string `json:"run_id"`
	Project string `json:"project"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	PagesProcessed int `json:"pages_processed"`
	PagesSkipped   int `json:"pages_skipped"`
	PagesFailed    int `json:"pages_failed"`

	RegionsAnalyzed int `json:"regions_analyzed"`
	RegionsFailed   int `json:"regions_failed"`

	Documents []*DocSummary `json:"documents"`
	Errors    []string      `json:"errors"`

	byDoc map[string]*DocSummary
}

// DocSummary is the per-source-document slice of a run summary.
type DocSummary struct {
	Document       string `json:"document"`
	PagesProcessed int    `json:"pages_processed"`
	PagesSkipped   int    `json:"pages_skipped"`
	PagesFailed    int    `json:"pages_failed"`
}

// NewSummary starts a run summary with a fresh id, one DocSummary per source
// document in input order.
func NewSummary(project string, docs []Document) *Summary {
	s := &Summary{
		RunID:     uuid.NewString(),
		Project:   project,
		StartedAt: time.Now().UTC(),
		byDoc:     make(map[string]*DocSummary, len(docs)),
	}
	for _, d := range docs {
		ds := &DocSummary{Document: d.Name}
		s.Documents = append(s.Documents, ds)
		s.byDoc[d.Name] = ds
	}
	return s
}

func (s *Summary) pageProcessed(doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PagesProcessed++
	if ds := s.byDoc[doc]; ds != nil {
		ds.PagesProcessed++
	}
}

func (s *Summary) pageSkipped(doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PagesSkipped++
	if ds := s.byDoc[doc]; ds != nil {
		ds.PagesSkipped++
	}
}

func (s *Summary) pageFailed(doc, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PagesFailed++
	if ds := s.byDoc[doc]; ds != nil {
		ds.PagesFailed++
	}
	if errMsg != "" {
		s.Errors = append(s.Errors, errMsg)
	}
}

func (s *Summary) regionDone(failed bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.RegionsFailed++
		if errMsg != "" {
			s.Errors = append(s.Errors, errMsg)
		}
		return
	}
	s.RegionsAnalyzed++
}

func (s *Summary) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now().UTC()
}

// Snapshot returns a JSON-safe copy of the summary state.
func (s *Summary) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{
		RunID:           s.RunID,
		Project:         s.Project,
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		PagesProcessed:  s.PagesProcessed,
		PagesSkipped:    s.PagesSkipped,
		PagesFailed:     s.PagesFailed,
		RegionsAnalyzed: s.RegionsAnalyzed,
		RegionsFailed:   s.RegionsFailed,
		Errors:          append([]string{}, s.Errors...),
	}
	for _, ds := range s.Documents {
		copied := *ds
		out.Documents = append(out.Documents, &copied)
	}
	return out
}
