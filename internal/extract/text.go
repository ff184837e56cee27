package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"docchat/internal/domain"
)

const pageBreak = "\f"

// TextExtractor reads plain text documents. Pages are separated by form
// feeds, as written by common PDF-to-text converters.
type TextExtractor struct {
	maxPages int
	log      logrus.FieldLogger
}

func NewTextExtractor(maxPages int, log logrus.FieldLogger) *TextExtractor {
	return &TextExtractor{maxPages: maxPages, log: log}
}

// Extract returns the text of the document at path with empty pages
// dropped. Failures are *domain.IngestionError values wrapping one of the
// domain extraction sentinels where one applies.
func (x *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.IngestionError{Path: path, Err: err}
	}
	text, err := x.extract(data)
	if err != nil {
		return "", &domain.IngestionError{Path: path, Err: err}
	}
	return text, nil
}

func (x *TextExtractor) extract(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		if bytes.Contains(data, []byte("/Encrypt")) {
			return "", domain.ErrEncryptedDocument
		}
		return "", fmt.Errorf("%w: PDF, convert it to text first", domain.ErrUnsupportedFormat)
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: not UTF-8 text", domain.ErrUnsupportedFormat)
	}

	pages := strings.Split(string(data), pageBreak)
	// pdftotext ends every page with a form feed
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	if x.maxPages > 0 && len(pages) > x.maxPages {
		return "", fmt.Errorf("%w: %d pages, maximum %d allowed", domain.ErrTooManyPages, len(pages), x.maxPages)
	}

	var b strings.Builder
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		b.WriteString(page)
		b.WriteString("\n")
		if i > 0 && i%10 == 0 {
			x.log.WithFields(logrus.Fields{"page": i, "pages": len(pages)}).Debug("extracting pages")
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", domain.ErrNoExtractableText
	}
	return b.String(), nil
}
