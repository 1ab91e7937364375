package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return Open(t.TempDir())
}

func TestProjectMeta_RoundTrip(t *testing.T) {
	s := testStore(t)
	meta := ProjectMeta{
		Name:      "Riverside Medical Tower",
		Slug:      "riverside-medical-tower",
		PageCount: 42,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.WriteProjectMeta(meta); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	got, err := s.ReadProjectMeta(meta.Slug)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if got.Name != meta.Name || got.PageCount != 42 {
		t.Errorf("meta round trip mismatch: %+v", got)
	}
}

func TestReadProjectMeta_Missing(t *testing.T) {
	s := testStore(t)
	_, err := s.ReadProjectMeta("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPageRecord_RoundTrip(t *testing.T) {
	s := testStore(t)
	bbox := BBox{X0: 10, Y0: 20, X1: 200, Y1: 300}
	rec := &Stage1Record{
		PageType:   "floor plan",
		Discipline: "architectural",
		Summary:    "Second floor plan with three wall details",
		Regions: []Region{
			{ID: bbox.RegionID(), Type: "detail", Label: "Wall section", Confidence: 0.9, BBox: bbox},
		},
		CrossReferences: []string{"S2.1"},
	}
	if err := s.WritePageRecord("proj", "A-101", rec); err != nil {
		t.Fatalf("write page record: %v", err)
	}
	got, err := s.ReadPageRecord("proj", "A-101")
	if err != nil {
		t.Fatalf("read page record: %v", err)
	}
	if got.Summary != rec.Summary || len(got.Regions) != 1 {
		t.Errorf("page record mismatch: %+v", got)
	}
	if got.Regions[0].ID != bbox.RegionID() {
		t.Errorf("region id changed across round trip: %q", got.Regions[0].ID)
	}
}

func TestReadPageRecord_Corrupt(t *testing.T) {
	s := testStore(t)
	path := filepath.Join(s.PageDir("proj", "bad"), PageFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.ReadPageRecord("proj", "bad")
	if !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestPointer_RoundTripAndListing(t *testing.T) {
	s := testStore(t)
	rec := &PointerRecord{
		RegionID: "region_10_20_200_300",
		Content:  "Typical wall section, 2x6 studs at 16in o.c.",
	}
	if err := s.WritePointer("proj", "A-101", rec); err != nil {
		t.Fatalf("write pointer: %v", err)
	}
	got, err := s.ReadPointer("proj", "A-101", rec.RegionID)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if got.Content != rec.Content {
		t.Errorf("pointer mismatch: %+v", got)
	}
	ids, err := s.ListPointers("proj", "A-101")
	if err != nil {
		t.Fatalf("list pointers: %v", err)
	}
	if len(ids) != 1 || ids[0] != rec.RegionID {
		t.Errorf("expected [%s], got %v", rec.RegionID, ids)
	}
}

func TestListPages_SortedAndFiltered(t *testing.T) {
	s := testStore(t)
	for _, p := range []string{"E-301", "A-101", "S2.1"} {
		if err := s.WritePageRecord("proj", p, &Stage1Record{PageType: "plan"}); err != nil {
			t.Fatal(err)
		}
	}
	// A directory without a stage-1 record does not count as a page.
	if err := os.MkdirAll(s.PageDir("proj", "partial"), 0o755); err != nil {
		t.Fatal(err)
	}
	pages, err := s.ListPages("proj")
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	want := []string{"A-101", "E-301", "S2.1"}
	if len(pages) != len(want) {
		t.Fatalf("expected %v, got %v", want, pages)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Errorf("page order mismatch at %d: %v", i, pages)
		}
	}
}

func TestListPages_MissingProjectIsEmpty(t *testing.T) {
	s := testStore(t)
	pages, err := s.ListPages("ghost")
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("expected no pages, got %v", pages)
	}
}

func TestClearPage_RemovesEverything(t *testing.T) {
	s := testStore(t)
	if err := s.WritePageRecord("proj", "A-101", &Stage1Record{}); err != nil {
		t.Fatal(err)
	}
	if err := s.WritePointer("proj", "A-101", &PointerRecord{RegionID: "region_1_1_2_2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPage("proj", "A-101"); err != nil {
		t.Fatalf("clear page: %v", err)
	}
	if s.HasPageRecord("proj", "A-101") {
		t.Error("expected page record gone after clear")
	}
	ids, _ := s.ListPointers("proj", "A-101")
	if len(ids) != 0 {
		t.Errorf("expected no pointers after clear, got %v", ids)
	}
}

func TestWriteAtomic_NoTempLeftBehind(t *testing.T) {
	s := testStore(t)
	if err := s.WritePageRaster("proj", "A-101", []byte("png-bytes")); err != nil {
		t.Fatalf("write raster: %v", err)
	}
	entries, err := os.ReadDir(s.PageDir("proj", "A-101"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != RasterFile {
		t.Errorf("expected only %s, got %v", RasterFile, entries)
	}
}

func TestListProjects(t *testing.T) {
	s := testStore(t)
	for _, slug := range []string{"bravo", "alpha"} {
		if err := s.WriteProjectMeta(ProjectMeta{Name: slug, Slug: slug}); err != nil {
			t.Fatal(err)
		}
	}
	// A bare directory without a marker is not a project.
	if err := os.MkdirAll(filepath.Join(s.Root(), "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}
	projects, err := s.ListProjects()
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "bravo" {
		t.Errorf("expected [alpha bravo], got %v", projects)
	}
}
