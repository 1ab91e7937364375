// Package index derives the inverted indices of a project from the document
// store. The index is a rebuildable artifact: never hand-edited, always
// reproducible from the store contents.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/planproof/planproof/internal/store"
)

// Provenance is one location a term was discovered at. Region is empty for
// terms found in a page-level record.
type Provenance struct {
	Page   string `json:"page"`
	Region string `json:"region,omitempty"`
}

// ModificationEntry is a deduplicated revision note with its provenance.
type ModificationEntry struct {
	Action string `json:"action"`
	Item   string `json:"item"`
	Note   string `json:"note,omitempty"`
	Page   string `json:"page"`
	Region string `json:"region,omitempty"`
}

// Summary holds the aggregate counts computed after a full scan.
type Summary struct {
	PageCount           int `json:"page_count"`
	PointerCount        int `json:"pointer_count"`
	UniqueMaterialCount int `json:"unique_material_count"`
	UniqueKeywordCount  int `json:"unique_keyword_count"`
	ModificationCount   int `json:"modification_count"`
	BrokenRefCount      int `json:"broken_ref_count"`
}

// Index is the derived search/navigation artifact for one project.
type Index struct {
	Materials     map[string][]Provenance `json:"materials"`
	Keywords      map[string][]Provenance `json:"keywords"`
	CrossRefs     map[string][]string     `json:"cross_refs"`
	BrokenRefs    []string                `json:"broken_refs"`
	Modifications []ModificationEntry     `json:"modifications"`
	Summary       Summary                 `json:"summary"`
	GeneratedAt   time.Time               `json:"generated_at"`
}

// Empty returns a usable zero index, the stand-in when no artifact exists yet.
func Empty() *Index {
	return &Index{
		Materials:  map[string][]Provenance{},
		Keywords:   map[string][]Provenance{},
		CrossRefs:  map[string][]string{},
		BrokenRefs: []string{},
	}
}

// Write persists the index artifact at the project root.
func (ix *Index) Write(st *store.Store, project string) error {
	return store.WriteJSONAtomic(st.IndexPath(project), ix)
}

// Load reads a project's index artifact. A missing artifact is not an error;
// it loads as an empty index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	ix := Empty()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", path, err, store.ErrCorruptRecord)
	}
	return ix, nil
}
