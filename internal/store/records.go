package store

import "time"

// ProjectMeta is the project marker record at <project>/project.json.
// Its presence is what makes a directory a valid project root.
type ProjectMeta struct {
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	SourceRoot  string    `json:"source_root,omitempty"`
	PageCount   int       `json:"page_count"`
	Disciplines []string  `json:"disciplines,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stage1Record is the per-page detection record written after stage-1
// extraction. It is persisted verbatim from the vision service, with region
// boxes normalized and ids assigned.
type Stage1Record struct {
	PageType        string     `json:"page_type"`
	Discipline      string     `json:"discipline"`
	Summary         string     `json:"summary"`
	Regions         []Region   `json:"regions"`
	CrossReferences []string   `json:"cross_references,omitempty"`
	IndexHints      IndexHints `json:"index_hints,omitempty"`

	SourceDocument string `json:"source_document,omitempty"`
	PageNumber     int    `json:"page_number,omitempty"`

	// Set when stage-1 extraction failed and this is a degraded placeholder.
	Failed      bool   `json:"failed,omitempty"`
	FailureNote string `json:"failure_note,omitempty"`
}

// Region is a detected sub-area of a page. Its ID is a pure function of the
// normalized bounding box and doubles as the join key to its pointer.
type Region struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Label        string  `json:"label"`
	DetailNumber string  `json:"detail_number,omitempty"`
	Confidence   float64 `json:"confidence"`
	BBox         BBox    `json:"bbox"`
}

// IndexHints carries the term collections stage-1 suggests for indexing.
type IndexHints struct {
	Materials Tree `json:"materials,omitempty"`
	Keywords  Tree `json:"keywords,omitempty"`
}

// PointerRecord is the stage-2 deep-analysis record for exactly one region.
// One is always written once stage-2 has run, even on failure; a region is
// never left stuck between DETECTED and ANALYZED.
type PointerRecord struct {
	RegionID        string         `json:"region_id"`
	Content         string         `json:"content"`
	Materials       Tree           `json:"materials,omitempty"`
	Dimensions      Tree           `json:"dimensions,omitempty"`
	Specifications  Tree           `json:"specifications,omitempty"`
	Keywords        Tree           `json:"keywords,omitempty"`
	CrossReferences []string       `json:"cross_references,omitempty"`
	Modifications   []Modification `json:"modifications,omitempty"`

	Failed      bool   `json:"failed,omitempty"`
	FailureNote string `json:"failure_note,omitempty"`
}

// Modification is a revision-cloud style change note found during deep
// analysis.
type Modification struct {
	Action string `json:"action"`
	Item   string `json:"item"`
	Note   string `json:"note,omitempty"`
}

// DegradedStage1 builds the placeholder record persisted when stage-1
// extraction fails for a page. Processing continues with the next unit.
func DegradedStage1(doc string, pageNum int, reason string) *Stage1Record {
	return &Stage1Record{
		PageType:       "unknown",
		SourceDocument: doc,
		PageNumber:     pageNum,
		Failed:         true,
		FailureNote:    reason,
	}
}

// DegradedPointer builds the placeholder pointer persisted when stage-2
// analysis fails for a region.
func DegradedPointer(regionID, reason string) *PointerRecord {
	return &PointerRecord{
		RegionID:    regionID,
		Failed:      true,
		FailureNote: reason,
	}
}
