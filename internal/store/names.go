package store

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var nameUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
var dashRuns = regexp.MustCompile(`-+`)

// SanitizeName converts a source-document name into a filesystem-safe stem:
// the extension is dropped and anything outside [A-Za-z0-9._-] collapses to a
// single dash. Case is preserved so sheet numbers stay readable.
func SanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = nameUnsafe.ReplaceAllString(name, "-")
	name = dashRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "unnamed"
	}
	return name
}

// Slugify produces a lowercase project slug from a display name.
func Slugify(s string) string {
	s = strings.ToLower(SanitizeName(s))
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "project"
	}
	if len(s) > 64 {
		s = strings.Trim(s[:64], "-")
	}
	return s
}

// PageName derives the canonical page name from the source document name and
// page index. Single-page documents keep the bare stem so sheet files like
// A-101.pdf produce pages whose names match their cross-reference tokens.
func PageName(docName string, pageNum, totalPages int) string {
	stem := SanitizeName(docName)
	if totalPages <= 1 {
		return stem
	}
	return stem + "_p" + strconv.Itoa(pageNum)
}

// DedupePageName resolves name collisions within one ingest run by appending
// a numeric suffix. Marks the chosen name as taken.
func DedupePageName(name string, taken map[string]bool) string {
	if !taken[name] {
		taken[name] = true
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if !taken[candidate] {
			taken[candidate] = true
			return candidate
		}
	}
}

// disciplinePrefixes maps conventional sheet-number prefixes to disciplines.
var disciplinePrefixes = map[string]string{
	"A":  "architectural",
	"S":  "structural",
	"M":  "mechanical",
	"E":  "electrical",
	"P":  "plumbing",
	"C":  "civil",
	"L":  "landscape",
	"G":  "general",
	"T":  "telecom",
	"FP": "fire protection",
	"FA": "fire alarm",
}

var sheetPrefixRe = regexp.MustCompile(`^([A-Za-z]{1,2})[-_. ]?\d`)

// InferDiscipline guesses a discipline from a sheet-style document name, e.g.
// S2.1 is structural and E-301 is electrical. Returns "" when the name does
// not look like a sheet number.
func InferDiscipline(docName string) string {
	stem := SanitizeName(docName)
	m := sheetPrefixRe.FindStringSubmatch(stem)
	if m == nil {
		return ""
	}
	return disciplinePrefixes[strings.ToUpper(m[1])]
}
