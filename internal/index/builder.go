package index

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/planproof/planproof/internal/store"
)

// sheetTokenRe recognises common sheet-identifier shapes: A-101, S 2.1, e301.
var sheetTokenRe = regexp.MustCompile(`^([A-Za-z]{1,3})\s*-?\s*(\d{1,4}(?:\.\d{1,2})?)$`)

// NormalizeRefToken canonicalises a cross-reference string. Strings shaped
// like sheet identifiers collapse to UPPER-<number> form; anything else falls
// back to the raw trimmed string.
func NormalizeRefToken(raw string) string {
	s := strings.TrimSpace(raw)
	if m := sheetTokenRe.FindStringSubmatch(s); m != nil {
		return strings.ToUpper(m[1]) + "-" + m[2]
	}
	return s
}

// Build scans a project's store contents and derives its inverted indices.
// It is a pure function of the store: re-running over an unchanged store
// reproduces identical contents apart from the generated_at stamp. Corrupt
// per-unit records are logged and skipped, never fatal.
func Build(st *store.Store, project string, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("project", project)

	if _, err := st.ReadProjectMeta(project); err != nil {
		return nil, fmt.Errorf("project %s: %w", project, err)
	}
	pages, err := st.ListPages(project)
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}

	ix := Empty()
	ix.Summary.PageCount = len(pages)
	pageNames := make(map[string]bool, len(pages))
	for _, p := range pages {
		pageNames[p] = true
	}
	seenMods := make(map[ModificationEntry]bool)

	for _, page := range pages {
		rec, err := st.ReadPageRecord(project, page)
		if err != nil {
			log.Warn("skipping unreadable page record", "page", page, "error", err)
			continue
		}

		pageProv := Provenance{Page: page}
		addTerms(ix.Materials, rec.IndexHints.Materials.Flatten(), pageProv)
		addTerms(ix.Keywords, rec.IndexHints.Keywords.Flatten(), pageProv)
		addRefs(ix.CrossRefs, rec.CrossReferences, page)

		pointers, err := st.ListPointers(project, page)
		if err != nil {
			log.Warn("skipping unreadable pointers dir", "page", page, "error", err)
			continue
		}
		for _, regionID := range pointers {
			ptr, err := st.ReadPointer(project, page, regionID)
			if err != nil {
				log.Warn("skipping unreadable pointer", "page", page, "region", regionID, "error", err)
				continue
			}
			ix.Summary.PointerCount++

			prov := Provenance{Page: page, Region: regionID}
			addTerms(ix.Materials, ptr.Materials.Flatten(), prov)
			addTerms(ix.Keywords, ptr.Keywords.Flatten(), prov)
			addTerms(ix.Keywords, ptr.Specifications.Flatten(), prov)
			addRefs(ix.CrossRefs, ptr.CrossReferences, page)

			for _, m := range ptr.Modifications {
				entry := ModificationEntry{
					Action: strings.TrimSpace(m.Action),
					Item:   strings.TrimSpace(m.Item),
					Note:   strings.TrimSpace(m.Note),
					Page:   page,
					Region: regionID,
				}
				if entry.Action == "" && entry.Item == "" && entry.Note == "" {
					continue
				}
				if seenMods[entry] {
					continue
				}
				seenMods[entry] = true
				ix.Modifications = append(ix.Modifications, entry)
			}
		}
	}

	// A token is broken when it names no known page.
	for token := range ix.CrossRefs {
		if !pageNames[token] {
			ix.BrokenRefs = append(ix.BrokenRefs, token)
		}
	}
	sort.Strings(ix.BrokenRefs)

	ix.Summary.UniqueMaterialCount = len(ix.Materials)
	ix.Summary.UniqueKeywordCount = len(ix.Keywords)
	ix.Summary.ModificationCount = len(ix.Modifications)
	ix.Summary.BrokenRefCount = len(ix.BrokenRefs)
	ix.GeneratedAt = time.Now().UTC()

	log.Info("index built",
		"pages", ix.Summary.PageCount,
		"pointers", ix.Summary.PointerCount,
		"materials", ix.Summary.UniqueMaterialCount,
		"keywords", ix.Summary.UniqueKeywordCount,
		"broken_refs", ix.Summary.BrokenRefCount,
	)
	return ix, nil
}

// addTerms appends a provenance record to each term's bucket, skipping exact
// duplicates. Buckets keep discovery order; they are never re-sorted, so the
// result does not depend on which worker wrote a record first.
func addTerms(bucket map[string][]Provenance, terms []string, prov Provenance) {
	for _, term := range terms {
		if containsProv(bucket[term], prov) {
			continue
		}
		bucket[term] = append(bucket[term], prov)
	}
}

func containsProv(list []Provenance, p Provenance) bool {
	for _, have := range list {
		if have == p {
			return true
		}
	}
	return false
}

// addRefs records page as a referencer of each normalized token,
// append-if-absent.
func addRefs(refs map[string][]string, raw []string, page string) {
	for _, r := range raw {
		token := NormalizeRefToken(r)
		if token == "" {
			continue
		}
		if containsString(refs[token], page) {
			continue
		}
		refs[token] = append(refs[token], page)
	}
}

func containsString(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
