package ingest

import (
	"context"

	"github.com/planproof/planproof/internal/store"
)

// Document is one source document queued for ingestion. TextHints carries
// best-effort per-page extracted text (index 0 = page 1); drawings are often
// vector-only, so hints may be empty.
type Document struct {
	Path      string
	Name      string
	PageCount int
	TextHints []string
}

// PageContext is the contextual hint bundle passed to stage-1 extraction.
type PageContext struct {
	DocumentName string
	PageName     string
	PageNumber   int
	Discipline   string
	TextHint     string
}

// RegionContext is the contextual hint bundle passed to stage-2 analysis.
type RegionContext struct {
	Page       string
	PageType   string
	Discipline string
	Summary    string
	Region     store.Region
	KnownRefs  []string
}

// Extractor is the stage-1 collaborator: page image in, detection record out.
type Extractor interface {
	ExtractPage(ctx context.Context, pageImage []byte, pc PageContext) (*store.Stage1Record, error)
}

// Analyzer is the stage-2 collaborator: region crop in, pointer record out.
type Analyzer interface {
	AnalyzeRegion(ctx context.Context, cropImage []byte, rc RegionContext) (*store.PointerRecord, error)
}

// Rasterizer renders one page of a source document at the given resolution.
type Rasterizer interface {
	Rasterize(ctx context.Context, docPath string, pageNum, dpi int) ([]byte, error)
}

// Cropper cuts a padded region out of a page raster.
type Cropper interface {
	Crop(raster []byte, bbox store.BBox, pad int) ([]byte, error)
}
