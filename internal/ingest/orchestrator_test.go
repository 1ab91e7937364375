package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planproof/planproof/internal/index"
	"github.com/planproof/planproof/internal/query"
	"github.com/planproof/planproof/internal/snapshot"
	"github.com/planproof/planproof/internal/store"
)

type stubRasterizer struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool // "doc.pdf:2" -> fail
}

func (r *stubRasterizer) Rasterize(_ context.Context, docPath string, pageNum, _ int) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	key := fmt.Sprintf("%s:%d", docPath, pageNum)
	if r.fail[key] {
		return nil, errors.New("pdftoppm exploded")
	}
	return []byte("raster:" + key), nil
}

type stubCropper struct {
	failRegions map[string]bool
}

func (c *stubCropper) Crop(raster []byte, bbox store.BBox, _ int) ([]byte, error) {
	if c.failRegions[bbox.RegionID()] {
		return nil, errors.New("crop out of bounds")
	}
	return append([]byte("crop:"), raster...), nil
}

type stubExtractor struct {
	mu      sync.Mutex
	calls   map[string]int // page name -> attempts
	records map[string]*store.Stage1Record
	flaky   map[string]int // page name -> retryable failures before success
	fail    map[string]bool
}

func (e *stubExtractor) ExtractPage(_ context.Context, _ []byte, pc PageContext) (*store.Stage1Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = map[string]int{}
	}
	e.calls[pc.PageName]++
	if e.fail[pc.PageName] {
		return nil, errors.New("model refused")
	}
	if e.flaky[pc.PageName] > 0 {
		e.flaky[pc.PageName]--
		return nil, &RetryableError{StatusCode: 529, Message: "overloaded"}
	}
	if rec, ok := e.records[pc.PageName]; ok {
		cp := *rec
		cp.Regions = append([]store.Region(nil), rec.Regions...)
		return &cp, nil
	}
	return &store.Stage1Record{PageType: "drawing", Summary: "plan sheet"}, nil
}

type stubAnalyzer struct {
	mu          sync.Mutex
	calls       int
	failRegions map[string]bool
	pointers    map[string]*store.PointerRecord // region id -> record
}

func (a *stubAnalyzer) AnalyzeRegion(_ context.Context, _ []byte, rc RegionContext) (*store.PointerRecord, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.failRegions[rc.Region.ID] {
		return nil, errors.New("model refused")
	}
	if ptr, ok := a.pointers[rc.Region.ID]; ok {
		cp := *ptr
		return &cp, nil
	}
	return &store.PointerRecord{Content: "detail of " + rc.Region.Label}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func twoRegionRecord() *store.Stage1Record {
	return &store.Stage1Record{
		PageType:   "drawing",
		Discipline: "structural",
		Summary:    "foundation plan",
		Regions: []store.Region{
			{Type: "detail", Label: "footing", BBox: store.BBox{X0: 0, Y0: 0, X1: 500, Y1: 500}},
			{Type: "schedule", Label: "rebar schedule", BBox: store.BBox{X0: 500, Y0: 500, X1: 1000, Y1: 1000}},
		},
	}
}

func newTestIngestor(t *testing.T, ex Extractor, an Analyzer, ra Rasterizer, cr Cropper, opts Options) (*Ingestor, *store.Store) {
	t.Helper()
	st := store.Open(t.TempDir())
	if ex == nil {
		ex = &stubExtractor{}
	}
	if an == nil {
		an = &stubAnalyzer{}
	}
	if ra == nil {
		ra = &stubRasterizer{}
	}
	if cr == nil {
		cr = &stubCropper{}
	}
	return New(st, ex, an, ra, cr, testLogger(), opts), st
}

func TestRun_PersistsPagesAndPointers(t *testing.T) {
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
	ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "Riverside Clinic"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesProcessed)
	assert.Equal(t, 2, sum.RegionsAnalyzed)
	assert.Zero(t, sum.RegionsFailed)

	rec, err := st.ReadPageRecord("riverside-clinic", "S-201")
	require.NoError(t, err)
	assert.Equal(t, "S-201.pdf", rec.SourceDocument)
	assert.Equal(t, 1, rec.PageNumber)

	// Region ids are derived from the normalized boxes, not whatever the
	// extractor put there.
	require.Len(t, rec.Regions, 2)
	for _, r := range rec.Regions {
		assert.Equal(t, r.BBox.RegionID(), r.ID)

		ptr, err := st.ReadPointer("riverside-clinic", "S-201", r.ID)
		require.NoError(t, err)
		assert.False(t, ptr.Failed)
		assert.Equal(t, r.ID, ptr.RegionID)
	}

	raster, err := st.ReadPageRaster("riverside-clinic", "S-201")
	require.NoError(t, err)
	assert.Contains(t, string(raster), "S-201.pdf:1")
}

func TestRun_MultiPageDocumentNaming(t *testing.T) {
	ing, st := newTestIngestor(t, nil, nil, nil, nil, Options{})

	_, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/arch.pdf", Name: "arch.pdf", PageCount: 3},
	})
	require.NoError(t, err)

	pages, err := st.ListPages("set")
	require.NoError(t, err)
	assert.Equal(t, []string{"arch_p1", "arch_p2", "arch_p3"}, pages)
}

func TestRun_FinalizesMetadata(t *testing.T) {
	ex := &stubExtractor{records: map[string]*store.Stage1Record{
		"A-101": {PageType: "drawing", Discipline: "architectural"},
		"S-201": {PageType: "drawing", Discipline: "structural"},
	}}
	ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{})

	_, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
		{Path: "/plans/A-101.pdf", Name: "A-101.pdf", PageCount: 1},
	})
	require.NoError(t, err)

	meta, err := st.ReadProjectMeta("set")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.PageCount)
	assert.Equal(t, []string{"architectural", "structural"}, meta.Disciplines)
}

func TestRun_SecondRunSkipsCompletedPages(t *testing.T) {
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
	ing, _ := newTestIngestor(t, ex, nil, nil, nil, Options{})
	docs := []Document{{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1}}
	meta := store.ProjectMeta{Name: "set"}

	_, err := ing.Run(context.Background(), meta, docs)
	require.NoError(t, err)
	require.Equal(t, 1, ex.calls["S-201"])

	sum, err := ing.Run(context.Background(), meta, docs)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.calls["S-201"], "completed page must not be re-extracted")
	assert.Equal(t, 1, sum.PagesSkipped)
	assert.Zero(t, sum.PagesProcessed)
}

func TestRun_RedoesPageWithNoPointers(t *testing.T) {
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
	ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{})
	docs := []Document{{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1}}

	// Simulate a run killed between stage-1 and stage-2: record on disk,
	// zero pointers.
	require.NoError(t, st.WriteProjectMeta(store.ProjectMeta{Name: "set", Slug: "set"}))
	require.NoError(t, st.WritePageRecord("set", "S-201", twoRegionRecord()))

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, docs)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesProcessed)
	assert.Equal(t, 1, ex.calls["S-201"])

	pointers, err := st.ListPointers("set", "S-201")
	require.NoError(t, err)
	assert.Len(t, pointers, 2)
}

func TestRun_StrictResumeRedoesPartialPage(t *testing.T) {
	rec := twoRegionRecord()
	for i := range rec.Regions {
		rec.Regions[i].BBox = rec.Regions[i].BBox.Normalize()
		rec.Regions[i].ID = rec.Regions[i].BBox.RegionID()
	}

	seed := func(t *testing.T, st *store.Store) {
		t.Helper()
		require.NoError(t, st.WriteProjectMeta(store.ProjectMeta{Name: "set", Slug: "set"}))
		require.NoError(t, st.WritePageRecord("set", "S-201", rec))
		// Only the first of two regions has its pointer.
		require.NoError(t, st.WritePointer("set", "S-201", &store.PointerRecord{RegionID: rec.Regions[0].ID}))
	}
	docs := []Document{{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1}}

	t.Run("loose resume treats it as done", func(t *testing.T) {
		ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
		ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{})
		seed(t, st)

		sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, docs)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.PagesSkipped)
		assert.Zero(t, ex.calls["S-201"])
	})

	t.Run("strict resume redoes it", func(t *testing.T) {
		ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
		ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{StrictResume: true})
		seed(t, st)

		sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, docs)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.PagesProcessed)
		assert.Equal(t, 1, ex.calls["S-201"])

		pointers, err := st.ListPointers("set", "S-201")
		require.NoError(t, err)
		assert.Len(t, pointers, 2)
	})
}

func TestRun_ForceRedoesCompletedPages(t *testing.T) {
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()}}
	ing, _ := newTestIngestor(t, ex, nil, nil, nil, Options{})
	docs := []Document{{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1}}
	meta := store.ProjectMeta{Name: "set"}

	_, err := ing.Run(context.Background(), meta, docs)
	require.NoError(t, err)

	ing.opts.Force = true
	sum, err := ing.Run(context.Background(), meta, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, ex.calls["S-201"])
	assert.Equal(t, 1, sum.PagesProcessed)
	assert.Zero(t, sum.PagesSkipped)
}

func TestRun_RasterFailureDegradesPage(t *testing.T) {
	ra := &stubRasterizer{fail: map[string]bool{"/plans/S-201.pdf:1": true}}
	ing, st := newTestIngestor(t, nil, nil, ra, nil, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
		{Path: "/plans/A-101.pdf", Name: "A-101.pdf", PageCount: 1},
	})
	require.NoError(t, err, "one bad page must not abort the run")
	assert.Equal(t, 1, sum.PagesFailed)
	assert.Equal(t, 1, sum.PagesProcessed)

	rec, err := st.ReadPageRecord("set", "S-201")
	require.NoError(t, err)
	assert.True(t, rec.Failed)
	assert.Contains(t, rec.FailureNote, "rasterize")
	assert.Empty(t, rec.Regions)
}

func TestRun_ExtractFailureDegradesPage(t *testing.T) {
	ex := &stubExtractor{fail: map[string]bool{"S-201": true}}
	ing, st := newTestIngestor(t, ex, nil, nil, nil, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesFailed)
	require.NotEmpty(t, sum.Errors)

	rec, err := st.ReadPageRecord("set", "S-201")
	require.NoError(t, err)
	assert.True(t, rec.Failed)
}

func TestRun_RetryableExtractErrorIsRetried(t *testing.T) {
	ex := &stubExtractor{
		records: map[string]*store.Stage1Record{"S-201": twoRegionRecord()},
		flaky:   map[string]int{"S-201": 1},
	}
	ing, _ := newTestIngestor(t, ex, nil, nil, nil, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ex.calls["S-201"])
	assert.Equal(t, 1, sum.PagesProcessed)
	assert.Zero(t, sum.PagesFailed)
}

func TestRun_AnalyzerFailureDegradesRegionOnly(t *testing.T) {
	rec := twoRegionRecord()
	badID := rec.Regions[0].BBox.Normalize().RegionID()
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": rec}}
	an := &stubAnalyzer{failRegions: map[string]bool{badID: true}}
	ing, st := newTestIngestor(t, ex, an, nil, nil, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PagesProcessed)
	assert.Equal(t, 1, sum.RegionsAnalyzed)
	assert.Equal(t, 1, sum.RegionsFailed)

	// The failed region still got a pointer, marked degraded.
	ptr, err := st.ReadPointer("set", "S-201", badID)
	require.NoError(t, err)
	assert.True(t, ptr.Failed)
	assert.Contains(t, ptr.FailureNote, "analyze")
}

func TestRun_CropFailureDegradesRegion(t *testing.T) {
	rec := twoRegionRecord()
	badID := rec.Regions[1].BBox.Normalize().RegionID()
	ex := &stubExtractor{records: map[string]*store.Stage1Record{"S-201": rec}}
	cr := &stubCropper{failRegions: map[string]bool{badID: true}}
	ing, st := newTestIngestor(t, ex, nil, nil, cr, Options{})

	sum, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RegionsFailed)

	ptr, err := st.ReadPointer("set", "S-201", badID)
	require.NoError(t, err)
	assert.True(t, ptr.Failed)
	assert.Contains(t, ptr.FailureNote, "crop")
}

func TestRun_CancelledContextAborts(t *testing.T) {
	ing, _ := newTestIngestor(t, nil, nil, nil, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ing.Run(ctx, store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// End to end: ingest a small set, build the index, load a snapshot and run a
// search through the query engine.
func TestIngestThenIndexThenQuery(t *testing.T) {
	rec := twoRegionRecord()
	rec.CrossReferences = []string{"A-101"}
	footingID := rec.Regions[0].BBox.Normalize().RegionID()
	scheduleID := rec.Regions[1].BBox.Normalize().RegionID()

	ex := &stubExtractor{records: map[string]*store.Stage1Record{
		"S-201": rec,
		"A-101": {PageType: "drawing", Discipline: "architectural", Summary: "floor plan"},
	}}
	an := &stubAnalyzer{pointers: map[string]*store.PointerRecord{
		footingID: {
			Content:   "continuous footing, steel reinforced",
			Materials: store.ListTree(store.StringTree("steel rebar"), store.StringTree("concrete")),
		},
		scheduleID: {
			Content:  "rebar schedule",
			Keywords: store.ListTree(store.StringTree("steel")),
		},
	}}
	ing, st := newTestIngestor(t, ex, an, nil, nil, Options{})

	_, err := ing.Run(context.Background(), store.ProjectMeta{Name: "set"}, []Document{
		{Path: "/plans/S-201.pdf", Name: "S-201.pdf", PageCount: 1},
		{Path: "/plans/A-101.pdf", Name: "A-101.pdf", PageCount: 1},
	})
	require.NoError(t, err)

	ix, err := index.Build(st, "set", testLogger())
	require.NoError(t, err)
	require.NoError(t, ix.Write(st, "set"))

	snap, err := snapshot.Load(st.Root(), "set", testLogger())
	require.NoError(t, err)
	eng := query.New(snap)

	hits, err := eng.Search("steel")
	require.NoError(t, err)
	var material, keyword int
	for _, h := range hits {
		switch h.Kind {
		case query.HitMaterial:
			material++
			assert.Equal(t, "S-201", h.Page)
		case query.HitKeyword:
			keyword++
		}
	}
	assert.Equal(t, 1, material)
	assert.Equal(t, 1, keyword)

	xrefs, err := eng.CrossReferences("S-201")
	require.NoError(t, err)
	assert.Equal(t, []string{"A-101"}, xrefs.Outgoing)

	gaps := eng.Gaps()
	assert.Empty(t, gaps.MissingPointers, "every region has its pointer")
	assert.Empty(t, gaps.BrokenRefs)

	// Delete one pointer and rebuild: that hit disappears and the region
	// shows up as a gap.
	require.NoError(t, os.RemoveAll(st.PointerDir("set", "S-201", footingID)))

	ix, err = index.Build(st, "set", testLogger())
	require.NoError(t, err)
	require.NoError(t, ix.Write(st, "set"))

	snap, err = snapshot.Load(st.Root(), "set", testLogger())
	require.NoError(t, err)
	eng = query.New(snap)

	gaps = eng.Gaps()
	require.Len(t, gaps.MissingPointers, 1)
	assert.Equal(t, "S-201", gaps.MissingPointers[0].Page)
	assert.Equal(t, footingID, gaps.MissingPointers[0].Region)

	hits, err = eng.Search("steel")
	require.NoError(t, err)
	material, keyword = 0, 0
	for _, h := range hits {
		switch h.Kind {
		case query.HitMaterial:
			material++
		case query.HitKeyword:
			keyword++
		}
	}
	assert.Zero(t, material, "the deleted pointer's material hit is gone")
	assert.Equal(t, 1, keyword)
}

func TestAssignNames_DeterministicAcrossDocs(t *testing.T) {
	units := assignNames([]Document{
		{Name: "A-101.pdf", PageCount: 1},
		{Name: "A-101.pdf", PageCount: 1},
		{Name: "details.pdf", PageCount: 2},
	})
	var names []string
	for _, u := range units {
		names = append(names, u.name)
	}
	assert.Equal(t, []string{"A-101", "A-101_2", "details_p1", "details_p2"}, names)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 45*time.Second)
	}
}
