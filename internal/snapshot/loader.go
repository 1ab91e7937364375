// Package snapshot materializes one project's store contents into an
// immutable in-memory view for querying. A snapshot never observes store
// mutations made after it was loaded; callers reload to see new state.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/planproof/planproof/internal/index"
	"github.com/planproof/planproof/internal/store"
)

// Page is one loaded page with its stage-1 record and completed pointers.
type Page struct {
	Name     string
	Record   *store.Stage1Record
	Pointers map[string]*store.PointerRecord

	// PointerOrder lists region ids in load (lexicographic) order.
	PointerOrder []string
}

// Snapshot is the loaded, query-ready view of one project.
type Snapshot struct {
	Meta  store.ProjectMeta
	Index *index.Index

	pages  []*Page
	byName map[string]*Page
}

// Load materializes a project from root. If root itself is a valid project
// root (it carries the project marker) it is used directly; otherwise root is
// treated as a multi-project store and selector picks the project, defaulting
// to the first in lexicographic order. Returns store.ErrNotFound when nothing
// resolves. Corrupt per-unit records are logged and dropped, never fatal.
func Load(root, selector string, log *slog.Logger) (*Snapshot, error) {
	if log == nil {
		log = slog.Default()
	}

	st, project, err := resolveProject(root, selector)
	if err != nil {
		return nil, err
	}
	log = log.With("project", project)

	meta, err := st.ReadProjectMeta(project)
	if err != nil {
		return nil, fmt.Errorf("project metadata: %w", err)
	}

	ix, err := index.Load(st.IndexPath(project))
	if err != nil {
		log.Warn("index artifact unreadable, using empty index", "error", err)
		ix = index.Empty()
	}

	pageNames, err := st.ListPages(project)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	snap := &Snapshot{
		Meta:   meta,
		Index:  ix,
		byName: make(map[string]*Page, len(pageNames)),
	}

	for _, name := range pageNames {
		rec, err := st.ReadPageRecord(project, name)
		if err != nil {
			log.Warn("dropping unreadable page", "page", name, "error", err)
			continue
		}
		page := &Page{
			Name:     name,
			Record:   rec,
			Pointers: map[string]*store.PointerRecord{},
		}
		regionIDs, err := st.ListPointers(project, name)
		if err != nil {
			log.Warn("pointers unreadable", "page", name, "error", err)
			regionIDs = nil
		}
		for _, id := range regionIDs {
			ptr, err := st.ReadPointer(project, name, id)
			if err != nil {
				log.Warn("dropping unreadable pointer", "page", name, "region", id, "error", err)
				continue
			}
			page.Pointers[id] = ptr
			page.PointerOrder = append(page.PointerOrder, id)
		}
		snap.pages = append(snap.pages, page)
		snap.byName[name] = page
	}

	// The explicit project-level discipline list wins; otherwise derive the
	// set from the loaded pages.
	if len(snap.Meta.Disciplines) == 0 {
		snap.Meta.Disciplines = collectDisciplines(snap.pages)
	}

	log.Info("snapshot loaded", "pages", len(snap.pages))
	return snap, nil
}

func resolveProject(root, selector string) (*store.Store, string, error) {
	// Single-project root: the directory itself carries the marker. Reopen
	// the store one level up so the usual <store>/<project> paths apply.
	if _, err := os.Stat(filepath.Join(root, store.ProjectFile)); err == nil {
		return store.Open(filepath.Dir(root)), filepath.Base(root), nil
	}

	st := store.Open(root)
	projects, err := st.ListProjects()
	if err != nil {
		return nil, "", err
	}
	if selector != "" {
		for _, p := range projects {
			if p == selector {
				return st, p, nil
			}
		}
		return nil, "", fmt.Errorf("project %q: %w", selector, store.ErrNotFound)
	}
	if len(projects) == 0 {
		return nil, "", fmt.Errorf("no projects under %s: %w", root, store.ErrNotFound)
	}
	return st, projects[0], nil
}

func collectDisciplines(pages []*Page) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range pages {
		d := p.Record.Discipline
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Pages returns all pages in load order. Callers must not mutate the result.
func (s *Snapshot) Pages() []*Page {
	return s.pages
}

// Page looks a page up by exact name.
func (s *Snapshot) Page(name string) (*Page, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// PageNames returns every page name in load order.
func (s *Snapshot) PageNames() []string {
	names := make([]string, len(s.pages))
	for i, p := range s.pages {
		names[i] = p.Name
	}
	return names
}

// MissingPointerCount reports how many detected regions have no pointer.
func (s *Snapshot) MissingPointerCount() int {
	n := 0
	for _, p := range s.pages {
		for _, r := range p.Record.Regions {
			if _, ok := p.Pointers[r.ID]; !ok {
				n++
			}
		}
	}
	return n
}
