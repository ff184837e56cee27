package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newExtractor(maxPages int) *TextExtractor {
	logger, _ := test.NewNullLogger()
	return NewTextExtractor(maxPages, logger)
}

func TestExtractSkipsEmptyPages(t *testing.T) {
	path := writeDoc(t, "Page one text.\f   \n\fPage three text.")
	text, err := newExtractor(100).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Page one text.\nPage three text.\n", text)
}

func TestExtractFailures(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		maxPages int
		want     error
	}{
		{"empty", "", 100, domain.ErrNoExtractableText},
		{"whitespace pages", " \n\f\t\f\n", 100, domain.ErrNoExtractableText},
		{"too many pages", strings.Repeat("text\f", 5), 3, domain.ErrTooManyPages},
		{"encrypted pdf", "%PDF-1.7\n1 0 obj << /Encrypt 2 0 R >>", 100, domain.ErrEncryptedDocument},
		{"plain pdf", "%PDF-1.4\n1 0 obj << /Type /Catalog >>", 100, domain.ErrUnsupportedFormat},
		{"binary", "abc\x00def", 100, domain.ErrUnsupportedFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeDoc(t, tc.content)
			_, err := newExtractor(tc.maxPages).Extract(context.Background(), path)
			assert.ErrorIs(t, err, tc.want)
			var ingErr *domain.IngestionError
			require.ErrorAs(t, err, &ingErr)
			assert.Equal(t, path, ingErr.Path)
		})
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := newExtractor(100).Extract(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	var ingErr *domain.IngestionError
	assert.ErrorAs(t, err, &ingErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractPageLimitIsInclusive(t *testing.T) {
	path := writeDoc(t, "one\ftwo\fthree")
	_, err := newExtractor(3).Extract(context.Background(), path)
	assert.NoError(t, err)
}

func TestExtractTrailingFormFeedIsNotAPage(t *testing.T) {
	text, err := newExtractor(3).Extract(context.Background(), writeDoc(t, "one\ftwo\fthree\f"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", text)

	_, err = newExtractor(3).Extract(context.Background(), writeDoc(t, "one\ftwo\fthree\ffour\f"))
	assert.ErrorIs(t, err, domain.ErrTooManyPages)
}
