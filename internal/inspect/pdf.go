// Package inspect preflights PDF inputs before any provider work is paid
// for: a file that does not parse, or a split range past the last page,
// should fail the submission locally.
package inspect

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// PageCount parses data as a PDF and returns its page count. A parse
// failure means the input is not a usable PDF.
func PageCount(data []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err != nil {
		return 0, fmt.Errorf("not a readable PDF: %w", err)
	}
	return count, nil
}

// CheckRange verifies that a "from-to" page range expression fits within
// pageCount. Single pages ("3") and open ends ("3-") are accepted; anything
// unparseable is rejected.
func CheckRange(rangeExpr string, pageCount int) error {
	for _, part := range strings.Split(rangeExpr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, err := parseBounds(part)
		if err != nil {
			return err
		}
		if from < 1 || to > pageCount || from > to {
			return fmt.Errorf("page range %q outside document bounds 1-%d", part, pageCount)
		}
	}
	return nil
}

func parseBounds(part string) (int, int, error) {
	from, to, found := strings.Cut(part, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page range %q", part)
	}
	if !found || strings.TrimSpace(to) == "" {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page range %q", part)
	}
	return lo, hi, nil
}
