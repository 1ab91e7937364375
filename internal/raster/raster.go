// Package raster renders source document pages to PNG and cuts region crops
// out of them. Rendering shells out to pdftoppm, the same tool drawing
// viewers use, because pure-Go PDF rasterization is not practical for large
// vector sheets.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Pdftoppm renders one page of a PDF to PNG via the poppler pdftoppm binary.
type Pdftoppm struct {
	// Binary overrides the executable name, mainly for tests.
	Binary string
}

func (p *Pdftoppm) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "pdftoppm"
}

// Rasterize renders page pageNum (1-based) of the document at the given DPI
// and returns the PNG bytes.
func (p *Pdftoppm) Rasterize(ctx context.Context, docPath string, pageNum, dpi int) ([]byte, error) {
	if pageNum < 1 {
		return nil, fmt.Errorf("rasterize %s: page %d out of range", docPath, pageNum)
	}
	if dpi <= 0 {
		dpi = 150
	}

	// -singlefile with stdout output avoids temp file bookkeeping.
	cmd := exec.CommandContext(ctx, p.binary(),
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(pageNum),
		"-l", strconv.Itoa(pageNum),
		"-singlefile",
		docPath,
		"-",
	)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("pdftoppm %s page %d: %w: %s", docPath, pageNum, err, msg)
		}
		return nil, fmt.Errorf("pdftoppm %s page %d: %w", docPath, pageNum, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("pdftoppm %s page %d: empty output", docPath, pageNum)
	}
	return out.Bytes(), nil
}
