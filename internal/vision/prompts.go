package vision

import (
	"fmt"
	"strings"

	"github.com/planproof/planproof/internal/ingest"
)

// PageSystemPrompt frames stage-1: survey one full drawing sheet and report
// its regions with coarse bounding boxes on a 0-1000 grid.
const PageSystemPrompt = `You are analyzing one page of a construction drawing set. Identify the page type, its discipline, and every distinct region on it (details, schedules, plans, sections, elevations, legends, title blocks, general notes).

Respond with ONLY a JSON object, no other text:

{
  "page_type": "drawing" | "schedule" | "notes" | "cover" | "index" | "unknown",
  "discipline": "architectural" | "structural" | "mechanical" | "electrical" | "plumbing" | "civil" | "landscape" | "fire_protection" | "general" | "",
  "summary": "one or two sentences describing the sheet",
  "regions": [
    {
      "type": "detail" | "schedule" | "plan" | "section" | "elevation" | "legend" | "title_block" | "notes",
      "label": "short human label, e.g. the detail title",
      "detail_number": "callout number if visible, e.g. 3/A-501, else empty",
      "confidence": 0.0-1.0,
      "bbox": {"x0": 0, "y0": 0, "x1": 1000, "y1": 1000}
    }
  ],
  "cross_references": ["sheet numbers this page points at, e.g. A-101, S2.1"],
  "index_hints": {
    "materials": ["materials named on the sheet"],
    "keywords": ["search terms a builder would use to find this sheet"]
  }
}

Coordinates are on a 0-1000 grid over the page image: x grows right, y grows down. Boxes may be approximate but must contain the whole region. Report every region you can see, even low-confidence ones.`

// RegionSystemPrompt frames stage-2: read one cropped region exhaustively.
const RegionSystemPrompt = `You are reading one cropped region of a construction drawing at full resolution. Transcribe everything a contractor would need: dimensions, materials, specification references, notes, and revision-cloud changes.

Respond with ONLY a JSON object, no other text:

{
  "content": "full prose transcription of the region",
  "materials": ["every material called out"],
  "dimensions": {"named dimension": "value with units"},
  "specifications": ["spec section references, e.g. 03 30 00"],
  "keywords": ["search terms for this region"],
  "cross_references": ["sheet or detail callouts, e.g. 5/A-501"],
  "modifications": [
    {"action": "added" | "removed" | "changed", "item": "what changed", "note": "revision note if visible"}
  ]
}

The materials, dimensions, specifications and keywords fields may be strings, lists, or nested objects when the region's structure calls for it. Use empty values for anything not present; never invent content.`

// BuildPagePrompt assembles the stage-1 user turn from page context.
func BuildPagePrompt(pc ingest.PageContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %q, page %d", pc.DocumentName, pc.PageNumber)
	if pc.Discipline != "" {
		fmt.Fprintf(&sb, "\nLikely discipline from the file name: %s", pc.Discipline)
	}
	if hint := strings.TrimSpace(pc.TextHint); hint != "" {
		sb.WriteString("\n\nText layer extracted from this page (may be partial):\n---\n")
		sb.WriteString(truncate(hint, 4000))
		sb.WriteString("\n---")
	}
	return sb.String()
}

// BuildRegionPrompt assembles the stage-2 user turn from region context.
func BuildRegionPrompt(rc ingest.RegionContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sheet: %s (%s", rc.Page, rc.PageType)
	if rc.Discipline != "" {
		fmt.Fprintf(&sb, ", %s", rc.Discipline)
	}
	sb.WriteString(")")
	if rc.Summary != "" {
		fmt.Fprintf(&sb, "\nSheet summary: %s", rc.Summary)
	}
	fmt.Fprintf(&sb, "\nRegion: %s", rc.Region.Type)
	if rc.Region.Label != "" {
		fmt.Fprintf(&sb, " %q", rc.Region.Label)
	}
	if rc.Region.DetailNumber != "" {
		fmt.Fprintf(&sb, " (callout %s)", rc.Region.DetailNumber)
	}
	if len(rc.KnownRefs) > 0 {
		fmt.Fprintf(&sb, "\nSheets this page references: %s", strings.Join(rc.KnownRefs, ", "))
	}
	return sb.String()
}
