// Package report renders human-readable coverage reports for a loaded
// project: what was ingested, what failed, and where the drawing set itself
// has holes.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/planproof/planproof/internal/query"
	"github.com/planproof/planproof/internal/snapshot"
)

// Markdown renders the project coverage report as a Markdown document.
func Markdown(snap *snapshot.Snapshot, now time.Time) string {
	eng := query.New(snap)
	gaps := eng.Gaps()
	ix := snap.Index

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Coverage report: %s\n\n", snap.Meta.Name)
	fmt.Fprintf(&sb, "Generated %s\n\n", now.UTC().Format(time.RFC3339))

	sb.WriteString("## Project\n\n")
	fmt.Fprintf(&sb, "- Pages: %d\n", len(snap.PageNames()))
	if len(snap.Meta.Disciplines) > 0 {
		fmt.Fprintf(&sb, "- Disciplines: %s\n", strings.Join(snap.Meta.Disciplines, ", "))
	}
	if snap.Meta.SourceRoot != "" {
		fmt.Fprintf(&sb, "- Source: %s\n", snap.Meta.SourceRoot)
	}
	sb.WriteString("\n")

	sb.WriteString("## Index\n\n")
	fmt.Fprintf(&sb, "- Analyzed regions: %d\n", ix.Summary.PointerCount)
	fmt.Fprintf(&sb, "- Material terms: %d\n", ix.Summary.UniqueMaterialCount)
	fmt.Fprintf(&sb, "- Keyword terms: %d\n", ix.Summary.UniqueKeywordCount)
	fmt.Fprintf(&sb, "- Modifications: %d\n", ix.Summary.ModificationCount)
	sb.WriteString("\n")

	sb.WriteString("## Failed pages\n\n")
	failed := failedPages(snap)
	if len(failed) == 0 {
		sb.WriteString("None.\n\n")
	} else {
		sb.WriteString("| Page | Reason |\n|---|---|\n")
		for _, f := range failed {
			fmt.Fprintf(&sb, "| %s | %s |\n", f.page, f.reason)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Regions without analysis\n\n")
	if len(gaps.MissingPointers) == 0 {
		sb.WriteString("None.\n\n")
	} else {
		sb.WriteString("| Page | Region | Type | Label |\n|---|---|---|---|\n")
		for _, mp := range gaps.MissingPointers {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", mp.Page, mp.Region, mp.Type, mp.Label)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Broken cross-references\n\n")
	if len(gaps.BrokenRefs) == 0 {
		sb.WriteString("None.\n")
	} else {
		for _, ref := range gaps.BrokenRefs {
			fmt.Fprintf(&sb, "- %s is referenced but no such sheet exists\n", ref)
		}
	}

	return sb.String()
}

type failedPage struct {
	page   string
	reason string
}

func failedPages(snap *snapshot.Snapshot) []failedPage {
	var out []failedPage
	for _, p := range snap.Pages() {
		if p.Record.Failed {
			out = append(out, failedPage{page: p.Name, reason: p.Record.FailureNote})
		}
	}
	return out
}

// HTML renders the Markdown report to a standalone HTML page.
func HTML(snap *snapshot.Snapshot, now time.Time) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(snap, now)), &body); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&page, "<title>Coverage report: %s</title>\n", snap.Meta.Name)
	page.WriteString("<meta charset=\"utf-8\">\n")
	page.WriteString("<style>body{font-family:sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:0.3rem 0.6rem}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.String(), nil
}
