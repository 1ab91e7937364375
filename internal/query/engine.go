// Package query answers structured queries against a loaded snapshot: fuzzy
// page resolution, search, cross-reference traversal and gap detection. All
// operations are read-only and reproducible for a given snapshot.
package query

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/planproof/planproof/internal/index"
	"github.com/planproof/planproof/internal/snapshot"
)

// Query errors are typed misses, not failures: callers can tell "no such
// page" apart from "page found but empty".
var (
	ErrPageNotFound = errors.New("page not found")
	ErrNoResults    = errors.New("no results")
)

// Engine runs queries against one immutable snapshot.
type Engine struct {
	snap *snapshot.Snapshot
}

// New wraps a snapshot for querying.
func New(snap *snapshot.Snapshot) *Engine {
	return &Engine{snap: snap}
}

var separatorRuns = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeName lowercases and collapses every non-alphanumeric separator run
// to a single dash, so "a 101", "A_101" and "A-101" compare equal.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = separatorRuns.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ResolvePage finds a page by fuzzy name. Resolution order: exact name match;
// unique whole-segment prefix of the normalized query; first case-insensitive
// substring match in snapshot load order. Returns ErrPageNotFound when no
// stage matches.
func (e *Engine) ResolvePage(q string) (*snapshot.Page, error) {
	if page, ok := e.snap.Page(q); ok {
		return page, nil
	}

	norm := normalizeName(q)
	if norm != "" {
		var prefixed []*snapshot.Page
		for _, page := range e.snap.Pages() {
			if hasSegmentPrefix(normalizeName(page.Name), norm) {
				prefixed = append(prefixed, page)
			}
		}
		if len(prefixed) == 1 {
			return prefixed[0], nil
		}
	}

	lower := strings.ToLower(q)
	if strings.TrimSpace(lower) != "" {
		for _, page := range e.snap.Pages() {
			if strings.Contains(strings.ToLower(page.Name), lower) {
				return page, nil
			}
		}
	}

	return nil, ErrPageNotFound
}

// hasSegmentPrefix reports whether name starts with prefix as whole segments:
// "a-101-rev2" matches prefix "a-101" but "a-1015" does not.
func hasSegmentPrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	return len(name) == len(prefix) || name[len(prefix)] == '-'
}

// HitKind classifies where a search hit came from.
type HitKind string

const (
	HitMaterial HitKind = "material"
	HitKeyword  HitKind = "keyword"
	HitPage     HitKind = "page"
	HitPointer  HitKind = "pointer"
)

// Hit is one search result: the matched term or excerpt plus its location.
type Hit struct {
	Kind   HitKind `json:"kind"`
	Match  string  `json:"match"`
	Page   string  `json:"page"`
	Region string  `json:"region,omitempty"`
}

// Search scans index terms, page summaries and pointer content for a
// case-insensitive substring. Index term hits yield one hit per provenance
// location. Returns ErrNoResults when nothing matches, distinct from a
// successful empty-page lookup.
func (e *Engine) Search(q string) ([]Hit, error) {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil, ErrNoResults
	}

	var hits []Hit
	hits = append(hits, termHits(e.snap.Index.Materials, needle, HitMaterial)...)
	hits = append(hits, termHits(e.snap.Index.Keywords, needle, HitKeyword)...)

	for _, page := range e.snap.Pages() {
		if strings.Contains(strings.ToLower(page.Record.Summary), needle) {
			hits = append(hits, Hit{Kind: HitPage, Match: excerpt(page.Record.Summary, needle), Page: page.Name})
		}
		for _, regionID := range page.PointerOrder {
			ptr := page.Pointers[regionID]
			if strings.Contains(strings.ToLower(ptr.Content), needle) {
				hits = append(hits, Hit{Kind: HitPointer, Match: excerpt(ptr.Content, needle), Page: page.Name, Region: regionID})
			}
		}
	}

	if len(hits) == 0 {
		return nil, ErrNoResults
	}
	return hits, nil
}

// termHits collects hits for every indexed term containing the needle, one
// per provenance location. Terms are visited in sorted order so repeated
// searches return hits in a stable order.
func termHits(bucket map[string][]index.Provenance, needle string, kind HitKind) []Hit {
	terms := make([]string, 0, len(bucket))
	for term := range bucket {
		if strings.Contains(strings.ToLower(term), needle) {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)

	var hits []Hit
	for _, term := range terms {
		for _, prov := range bucket[term] {
			hits = append(hits, Hit{Kind: kind, Match: term, Page: prov.Page, Region: prov.Region})
		}
	}
	return hits
}

// excerpt returns a short window of text around the first match.
func excerpt(text, needle string) string {
	const window = 60
	idx := strings.Index(strings.ToLower(text), needle)
	if idx < 0 {
		idx = 0
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + window/2
	if end > len(text) {
		end = len(text)
	}
	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

// CrossRefs is the two-way reference view for one page.
type CrossRefs struct {
	// Outgoing is the page's own recorded forward tokens, normalized.
	Outgoing []string `json:"outgoing"`

	// Incoming is the index cross_refs map filtered to entries whose
	// referencing-page list contains this page.
	Incoming map[string][]string `json:"incoming"`
}

// CrossReferences resolves a page and returns its outgoing tokens and the
// matching index entries.
func (e *Engine) CrossReferences(pageQuery string) (*CrossRefs, error) {
	page, err := e.ResolvePage(pageQuery)
	if err != nil {
		return nil, err
	}

	out := &CrossRefs{Incoming: map[string][]string{}}
	seen := map[string]bool{}
	for _, raw := range page.Record.CrossReferences {
		token := index.NormalizeRefToken(raw)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		out.Outgoing = append(out.Outgoing, token)
	}

	for token, referrers := range e.snap.Index.CrossRefs {
		for _, name := range referrers {
			if name == page.Name {
				out.Incoming[token] = referrers
				break
			}
		}
	}
	return out, nil
}

// MissingPointer is a detected region whose stage-2 analysis never completed.
type MissingPointer struct {
	Page   string `json:"page"`
	Region string `json:"region"`
	Type   string `json:"type,omitempty"`
	Label  string `json:"label,omitempty"`
}

// GapReport is the operational completeness report for a snapshot.
type GapReport struct {
	MissingPointers []MissingPointer `json:"missing_pointers"`
	BrokenRefs      []string         `json:"broken_refs"`
}

// Gaps enumerates every region with no pointer, plus the broken references
// recorded in the index.
func (e *Engine) Gaps() GapReport {
	report := GapReport{
		MissingPointers: []MissingPointer{},
		BrokenRefs:      append([]string{}, e.snap.Index.BrokenRefs...),
	}
	for _, page := range e.snap.Pages() {
		for _, region := range page.Record.Regions {
			if _, ok := page.Pointers[region.ID]; ok {
				continue
			}
			report.MissingPointers = append(report.MissingPointers, MissingPointer{
				Page:   page.Name,
				Region: region.ID,
				Type:   region.Type,
				Label:  region.Label,
			})
		}
	}
	return report
}
