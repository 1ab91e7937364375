// Package source discovers drawing set PDFs under a directory and reads
// their page counts and text layers ahead of ingestion.
package source

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/planproof/planproof/internal/ingest"
	"github.com/planproof/planproof/internal/store"
)

// Scanner walks a source directory for PDF documents. Construction drawings
// are frequently vector-only, so an unreadable text layer is normal and never
// fails a scan; page counts are the one thing we insist on.
type Scanner struct {
	// FallbackPdfinfo consults the pdfinfo binary when the Go library cannot
	// open a document.
	FallbackPdfinfo bool

	log *slog.Logger
}

func NewScanner(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{FallbackPdfinfo: true, log: log}
}

// Scan finds every .pdf under root (recursively, sorted by path) and probes
// each for page count and per-page text hints. Unreadable documents are
// returned with PageCount 1 so ingestion can still attempt them.
func (s *Scanner) Scan(root string) ([]ingest.Document, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip dot-directories dropped by sync tools.
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	docs := make([]ingest.Document, 0, len(paths))
	for _, path := range paths {
		docs = append(docs, s.Probe(path))
	}
	return docs, nil
}

// Probe inspects one PDF. It never returns an error: a document that cannot
// be opened still yields a one-page Document and the failure is logged.
func (s *Scanner) Probe(path string) ingest.Document {
	doc := ingest.Document{
		Path:      path,
		Name:      filepath.Base(path),
		PageCount: 1,
	}

	pages, hints, err := probePDF(path)
	if err != nil {
		s.log.Warn("pdf unreadable, assuming single page", "path", path, "error", err)
		if s.FallbackPdfinfo {
			if n, ferr := pdfinfoPageCount(path); ferr == nil && n > 0 {
				doc.PageCount = n
			}
		}
		return doc
	}
	if pages > 0 {
		doc.PageCount = pages
	}
	doc.TextHints = hints
	return doc
}

func probePDF(path string) (int, []string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	hints := make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		hints[i-1] = strings.TrimSpace(text)
	}
	return numPages, hints, nil
}

func pdfinfoPageCount(path string) (int, error) {
	out, err := exec.Command("pdfinfo", path).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if rest, ok := strings.CutPrefix(line, "Pages:"); ok {
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(rest), "%d", &n); err != nil {
				return 0, fmt.Errorf("parse pdfinfo pages: %w", err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("pdfinfo: no Pages line")
}

// ProjectMetaFor derives project metadata from the scanned root and its
// documents.
func ProjectMetaFor(name, root string, docs []ingest.Document) store.ProjectMeta {
	if name == "" {
		name = filepath.Base(root)
	}
	seen := map[string]bool{}
	var disciplines []string
	for _, d := range docs {
		disc := store.InferDiscipline(d.Name)
		if disc == "" || seen[disc] {
			continue
		}
		seen[disc] = true
		disciplines = append(disciplines, disc)
	}
	sort.Strings(disciplines)
	return store.ProjectMeta{
		Name:        name,
		Slug:        store.Slugify(name),
		SourceRoot:  root,
		Disciplines: disciplines,
	}
}
