// Package ingest drives the two-stage extraction pipeline that populates the
// document store: stage-1 page detection, then per-region deep analysis. Runs
// are resumable and tolerate per-unit collaborator failures; a single bad
// page or region never aborts the batch.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/planproof/planproof/internal/store"
)

// Options tunes one ingest run.
type Options struct {
	// Workers bounds concurrent page processing.
	Workers int

	// RegionWorkers bounds concurrent stage-2 calls within one page.
	RegionWorkers int

	// DPI is the raster resolution requested from the rasterizer.
	DPI int

	// CropPad expands each region box by this many normalized units before
	// cropping, so details keep surrounding context.
	CropPad int

	// StrictResume tightens the resume check to require a pointer for every
	// detected region. The default check treats a page with any completed
	// pointer as done.
	StrictResume bool

	// Force discards and redoes every page regardless of the resume check.
	Force bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.RegionWorkers <= 0 {
		o.RegionWorkers = 3
	}
	if o.DPI <= 0 {
		o.DPI = 150
	}
	if o.CropPad < 0 {
		o.CropPad = 0
	}
	return o
}

// Ingestor orchestrates the extraction pipeline against one document store.
type Ingestor struct {
	st   *store.Store
	ex   Extractor
	an   Analyzer
	ra   Rasterizer
	cr   Cropper
	log  *slog.Logger
	opts Options
}

// New assembles an ingestor from its collaborators.
func New(st *store.Store, ex Extractor, an Analyzer, ra Rasterizer, cr Cropper, log *slog.Logger, opts Options) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		st:   st,
		ex:   ex,
		an:   an,
		ra:   ra,
		cr:   cr,
		log:  log,
		opts: opts.withDefaults(),
	}
}

// pageUnit is one page of one source document with its canonical name
// assigned. Names are assigned serially before workers start so collision
// suffixes do not depend on scheduling.
type pageUnit struct {
	doc     Document
	pageNum int
	name    string
}

// Run ingests the given source documents into the project. The run is
// restart-safe: completed pages are skipped, partial pages are discarded and
// redone whole. Returns the run summary; the only fatal errors are an
// unwritable project root and context cancellation.
func (ing *Ingestor) Run(ctx context.Context, meta store.ProjectMeta, docs []Document) (*Summary, error) {
	if meta.Slug == "" {
		meta.Slug = store.Slugify(meta.Name)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	log := ing.log.With("project", meta.Slug)

	// The marker file goes in first so a killed run still leaves a loadable
	// (if incomplete) project behind.
	if err := ing.st.WriteProjectMeta(meta); err != nil {
		return nil, fmt.Errorf("write project marker: %w", err)
	}

	units := assignNames(docs)
	summary := NewSummary(meta.Slug, docs)
	log.Info("ingest run starting", "run_id", summary.RunID, "documents", len(docs), "pages", len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.opts.Workers)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ing.processPage(gctx, meta.Slug, unit, summary)
			return nil
		})
	}
	err := g.Wait()
	summary.finish()

	if finalizeErr := ing.finalizeMeta(meta); finalizeErr != nil {
		log.Error("finalize project metadata", "error", finalizeErr)
	}

	snap := summary.Snapshot()
	log.Info("ingest run finished",
		"run_id", snap.RunID,
		"processed", snap.PagesProcessed,
		"skipped", snap.PagesSkipped,
		"failed", snap.PagesFailed,
		"regions_analyzed", snap.RegionsAnalyzed,
		"regions_failed", snap.RegionsFailed,
	)
	if err != nil {
		return summary, fmt.Errorf("ingest interrupted: %w", err)
	}
	return summary, nil
}

func assignNames(docs []Document) []pageUnit {
	taken := map[string]bool{}
	var units []pageUnit
	for _, doc := range docs {
		pages := doc.PageCount
		if pages <= 0 {
			pages = 1
		}
		for n := 1; n <= pages; n++ {
			name := store.DedupePageName(store.PageName(doc.Name, n, pages), taken)
			units = append(units, pageUnit{doc: doc, pageNum: n, name: name})
		}
	}
	return units
}

// pageDone is the resume check: a page counts as complete when its stage-1
// record is on disk and at least one pointer finished. With StrictResume
// every detected region must have its pointer.
func (ing *Ingestor) pageDone(project string, unit pageUnit) bool {
	if !ing.st.HasPageRecord(project, unit.name) {
		return false
	}
	pointers, err := ing.st.ListPointers(project, unit.name)
	if err != nil || len(pointers) == 0 {
		return false
	}
	if !ing.opts.StrictResume {
		return true
	}
	rec, err := ing.st.ReadPageRecord(project, unit.name)
	if err != nil {
		return false
	}
	have := make(map[string]bool, len(pointers))
	for _, id := range pointers {
		have[id] = true
	}
	for _, r := range rec.Regions {
		if !have[r.ID] {
			return false
		}
	}
	return true
}

func (ing *Ingestor) processPage(ctx context.Context, project string, unit pageUnit, summary *Summary) {
	log := ing.log.With("project", project, "document", unit.doc.Name, "page", unit.name)

	if !ing.opts.Force && ing.pageDone(project, unit) {
		log.Debug("page already complete, skipping")
		summary.pageSkipped(unit.doc.Name)
		return
	}

	// Partial prior state is discarded; pages are rebuilt whole.
	if err := ing.st.ClearPage(project, unit.name); err != nil {
		log.Error("clear page", "error", err)
		summary.pageFailed(unit.doc.Name, fmt.Sprintf("%s: clear: %s", unit.name, err))
		return
	}

	pc := PageContext{
		DocumentName: unit.doc.Name,
		PageName:     unit.name,
		PageNumber:   unit.pageNum,
		Discipline:   store.InferDiscipline(unit.doc.Name),
		TextHint:     textHint(unit.doc, unit.pageNum),
	}

	raster, err := ing.ra.Rasterize(ctx, unit.doc.Path, unit.pageNum, ing.opts.DPI)
	if err != nil {
		log.Error("rasterize failed", "error", err)
		ing.persistDegradedPage(project, unit, fmt.Sprintf("rasterize: %s", err))
		summary.pageFailed(unit.doc.Name, fmt.Sprintf("%s: rasterize: %s", unit.name, err))
		return
	}

	rec, err := ing.extractWithRetry(ctx, raster, pc, log)
	if err != nil {
		log.Error("stage-1 extraction failed", "error", err)
		ing.persistDegradedPage(project, unit, fmt.Sprintf("extract: %s", err))
		summary.pageFailed(unit.doc.Name, fmt.Sprintf("%s: extract: %s", unit.name, err))
		return
	}

	// The record is persisted verbatim apart from identity fixups: boxes are
	// normalized, ids derived from them, and provenance fields filled in.
	rec.SourceDocument = unit.doc.Name
	rec.PageNumber = unit.pageNum
	if rec.Discipline == "" {
		rec.Discipline = pc.Discipline
	}
	for i := range rec.Regions {
		rec.Regions[i].BBox = rec.Regions[i].BBox.Normalize()
		rec.Regions[i].ID = rec.Regions[i].BBox.RegionID()
	}

	if err := ing.st.WritePageRecord(project, unit.name, rec); err != nil {
		log.Error("persist stage-1 record", "error", err)
		summary.pageFailed(unit.doc.Name, fmt.Sprintf("%s: persist: %s", unit.name, err))
		return
	}
	if err := ing.st.WritePageRaster(project, unit.name, raster); err != nil {
		log.Error("persist raster", "error", err)
	}

	ing.analyzeRegions(ctx, project, unit, rec, raster, summary, log)

	summary.pageProcessed(unit.doc.Name)
	log.Info("page ingested", "regions", len(rec.Regions))
}

// analyzeRegions runs stage-2 for every detected region with bounded
// concurrency. Each region ends in a written pointer, degraded when cropping
// or analysis failed; regions are never left stuck between stages.
func (ing *Ingestor) analyzeRegions(ctx context.Context, project string, unit pageUnit, rec *store.Stage1Record, raster []byte, summary *Summary, log *slog.Logger) {
	sem := make(chan struct{}, ing.opts.RegionWorkers)
	var wg sync.WaitGroup

	for _, region := range rec.Regions {
		sem <- struct{}{}
		wg.Add(1)
		go func(region store.Region) {
			defer func() { <-sem; wg.Done() }()

			rc := RegionContext{
				Page:       unit.name,
				PageType:   rec.PageType,
				Discipline: rec.Discipline,
				Summary:    rec.Summary,
				Region:     region,
				KnownRefs:  rec.CrossReferences,
			}

			crop, err := ing.cr.Crop(raster, region.BBox, ing.opts.CropPad)
			if err != nil {
				log.Error("crop failed", "region", region.ID, "error", err)
				ing.persistPointer(project, unit.name, store.DegradedPointer(region.ID, fmt.Sprintf("crop: %s", err)), log)
				summary.regionDone(true, fmt.Sprintf("%s/%s: crop: %s", unit.name, region.ID, err))
				return
			}

			ptr, err := ing.analyzeWithRetry(ctx, crop, rc, log)
			if err != nil {
				log.Error("stage-2 analysis failed", "region", region.ID, "error", err)
				ing.persistPointer(project, unit.name, store.DegradedPointer(region.ID, fmt.Sprintf("analyze: %s", err)), log)
				summary.regionDone(true, fmt.Sprintf("%s/%s: analyze: %s", unit.name, region.ID, err))
				return
			}
			ptr.RegionID = region.ID

			if err := ing.st.WriteCrop(project, unit.name, region.ID, crop); err != nil {
				log.Error("persist crop", "region", region.ID, "error", err)
			}
			ing.persistPointer(project, unit.name, ptr, log)
			summary.regionDone(false, "")
		}(region)
	}
	wg.Wait()
}

func (ing *Ingestor) extractWithRetry(ctx context.Context, pageImage []byte, pc PageContext, log *slog.Logger) (*store.Stage1Record, error) {
	var rec *store.Stage1Record
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		rec, lastErr = ing.ex.ExtractPage(ctx, pageImage, pc)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable extraction error", "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return rec, lastErr
}

func (ing *Ingestor) analyzeWithRetry(ctx context.Context, crop []byte, rc RegionContext, log *slog.Logger) (*store.PointerRecord, error) {
	var ptr *store.PointerRecord
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		ptr, lastErr = ing.an.AnalyzeRegion(ctx, crop, rc)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == MaxRetries-1 {
			break
		}
		log.Warn("retryable analysis error", "attempt", attempt, "region", rc.Region.ID, "error", lastErr)
		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ptr, lastErr
}

// persistDegradedPage writes the explicit empty stage-1 record that marks a
// failed page; the run moves on to the next unit.
func (ing *Ingestor) persistDegradedPage(project string, unit pageUnit, reason string) {
	rec := store.DegradedStage1(unit.doc.Name, unit.pageNum, reason)
	if err := ing.st.WritePageRecord(project, unit.name, rec); err != nil {
		ing.log.Error("persist degraded page record", "page", unit.name, "error", err)
	}
}

func (ing *Ingestor) persistPointer(project, page string, ptr *store.PointerRecord, log *slog.Logger) {
	if err := ing.st.WritePointer(project, page, ptr); err != nil {
		log.Error("persist pointer", "region", ptr.RegionID, "error", err)
	}
}

// finalizeMeta refreshes page count and the discipline union after a run.
func (ing *Ingestor) finalizeMeta(meta store.ProjectMeta) error {
	pages, err := ing.st.ListPages(meta.Slug)
	if err != nil {
		return err
	}
	meta.PageCount = len(pages)

	if len(meta.Disciplines) == 0 {
		seen := map[string]bool{}
		var disciplines []string
		for _, page := range pages {
			rec, err := ing.st.ReadPageRecord(meta.Slug, page)
			if err != nil || rec.Discipline == "" || seen[rec.Discipline] {
				continue
			}
			seen[rec.Discipline] = true
			disciplines = append(disciplines, rec.Discipline)
		}
		sort.Strings(disciplines)
		meta.Disciplines = disciplines
	}
	return ing.st.WriteProjectMeta(meta)
}

func textHint(doc Document, pageNum int) string {
	if pageNum-1 < len(doc.TextHints) {
		return doc.TextHints[pageNum-1]
	}
	return ""
}
