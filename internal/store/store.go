package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// On-disk layout:
//
//	<root>/<project>/project.json
//	<root>/<project>/index.json
//	<root>/<project>/pages/<page>/page.json
//	<root>/<project>/pages/<page>/page.png
//	<root>/<project>/pages/<page>/pointers/<region_id>/pointer.json
//	<root>/<project>/pages/<page>/pointers/<region_id>/crop.png
const (
	ProjectFile = "project.json"
	IndexFile   = "index.json"
	PagesDir    = "pages"
	PageFile    = "page.json"
	RasterFile  = "page.png"
	PointersDir = "pointers"
	PointerFile = "pointer.json"
	CropFile    = "crop.png"
)

// Store is the hierarchical document store rooted at a local directory.
// Writes are atomic (temp file + rename) so a crashed run never leaves a
// partially written record visible; the resume check depends on this.
type Store struct {
	root string
}

// Open returns a store rooted at dir. The directory is created on first write.
func Open(root string) *Store {
	return &Store{root: root}
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// ProjectDir returns the directory for a project slug.
func (s *Store) ProjectDir(project string) string {
	return filepath.Join(s.root, project)
}

// PageDir returns the directory for one page of a project.
func (s *Store) PageDir(project, page string) string {
	return filepath.Join(s.root, project, PagesDir, page)
}

// PointerDir returns the directory for one region's pointer.
func (s *Store) PointerDir(project, page, regionID string) string {
	return filepath.Join(s.PageDir(project, page), PointersDir, regionID)
}

// IndexPath returns the path of a project's index artifact.
func (s *Store) IndexPath(project string) string {
	return filepath.Join(s.root, project, IndexFile)
}

// WriteProjectMeta persists the project marker record.
func (s *Store) WriteProjectMeta(meta ProjectMeta) error {
	return WriteJSONAtomic(filepath.Join(s.ProjectDir(meta.Slug), ProjectFile), meta)
}

// ReadProjectMeta loads a project's marker record. Returns ErrNotFound when
// the project directory or marker file does not exist.
func (s *Store) ReadProjectMeta(project string) (ProjectMeta, error) {
	var meta ProjectMeta
	err := readJSON(filepath.Join(s.ProjectDir(project), ProjectFile), &meta)
	if err != nil {
		return ProjectMeta{}, err
	}
	return meta, nil
}

// WritePageRecord persists a stage-1 record for a page.
func (s *Store) WritePageRecord(project, page string, rec *Stage1Record) error {
	return WriteJSONAtomic(filepath.Join(s.PageDir(project, page), PageFile), rec)
}

// ReadPageRecord loads a page's stage-1 record.
func (s *Store) ReadPageRecord(project, page string) (*Stage1Record, error) {
	var rec Stage1Record
	if err := readJSON(filepath.Join(s.PageDir(project, page), PageFile), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// HasPageRecord reports whether a page has a persisted stage-1 record.
func (s *Store) HasPageRecord(project, page string) bool {
	_, err := os.Stat(filepath.Join(s.PageDir(project, page), PageFile))
	return err == nil
}

// WritePageRaster persists the rendered page image.
func (s *Store) WritePageRaster(project, page string, raster []byte) error {
	return writeBytesAtomic(filepath.Join(s.PageDir(project, page), RasterFile), raster)
}

// ReadPageRaster loads the rendered page image.
func (s *Store) ReadPageRaster(project, page string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.PageDir(project, page), RasterFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("raster for %s/%s: %w", project, page, ErrNotFound)
	}
	return data, err
}

// WritePointer persists a stage-2 record for a region.
func (s *Store) WritePointer(project, page string, rec *PointerRecord) error {
	return WriteJSONAtomic(filepath.Join(s.PointerDir(project, page, rec.RegionID), PointerFile), rec)
}

// ReadPointer loads one region's stage-2 record.
func (s *Store) ReadPointer(project, page, regionID string) (*PointerRecord, error) {
	var rec PointerRecord
	if err := readJSON(filepath.Join(s.PointerDir(project, page, regionID), PointerFile), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// WriteCrop persists the cropped region image next to its pointer.
func (s *Store) WriteCrop(project, page, regionID string, crop []byte) error {
	return writeBytesAtomic(filepath.Join(s.PointerDir(project, page, regionID), CropFile), crop)
}

// ListProjects returns the slugs of all valid project roots under the store
// root, in lexicographic order.
func (s *Store) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store root %s: %w", s.root, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}
	var projects []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), ProjectFile)); err == nil {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// ListPages returns the names of all pages with a persisted stage-1 record,
// in lexicographic order. This is the canonical page load order.
func (s *Store) ListPages(project string) ([]string, error) {
	dir := filepath.Join(s.ProjectDir(project), PagesDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pages dir: %w", err)
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), PageFile)); err == nil {
			pages = append(pages, e.Name())
		}
	}
	sort.Strings(pages)
	return pages, nil
}

// ListPointers returns the region ids with a completed pointer record under a
// page, in lexicographic order.
func (s *Store) ListPointers(project, page string) ([]string, error) {
	dir := filepath.Join(s.PageDir(project, page), PointersDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pointers dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), PointerFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ClearPage discards all persisted state for a page. Used before redoing a
// partially ingested page and on forced re-ingest; a page is only ever
// re-created whole, never patched in place.
func (s *Store) ClearPage(project, page string) error {
	return os.RemoveAll(s.PageDir(project, page))
}

// WriteJSONAtomic marshals v and writes it with the temp-then-rename contract.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeBytesAtomic(path, data)
}

func writeBytesAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %s: %w", path, err, ErrCorruptRecord)
	}
	return nil
}
