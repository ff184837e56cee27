package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		set, err := Split(text, 100, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, set.Segments)
		assert.False(t, set.Truncated)
	}
}

func TestSplitShortTextIsSingleSegment(t *testing.T) {
	set, err := Split("Hello world.", 1000, 200, 30)
	require.NoError(t, err)
	require.Len(t, set.Segments, 1)
	assert.Equal(t, "Hello world.", set.Segments[0].Text)
	assert.False(t, set.Truncated)
}

func TestSplitRespectsSizeAndOverlap(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 80)
	const size, overlap = 200, 40

	set, err := Split(text, size, overlap, 1000)
	require.NoError(t, err)
	require.Greater(t, len(set.Segments), 1)
	assert.False(t, set.Truncated)

	for i, seg := range set.Segments {
		assert.Equal(t, i, seg.ID)
		assert.LessOrEqual(t, utf8.RuneCountInString(seg.Text), size)
		if i == 0 {
			continue
		}
		prev := []rune(set.Segments[i-1].Text)
		tail := string(prev[len(prev)-overlap:])
		assert.True(t, strings.HasPrefix(seg.Text, tail), "segment %d does not start with the previous tail", i)
	}
}

func TestSplitCoversWholeText(t *testing.T) {
	text := strings.Repeat("para one line\nsecond line here\n\n", 40)
	const overlap = 25

	set, err := Split(text, 120, overlap, 1000)
	require.NoError(t, err)

	var b strings.Builder
	for i, seg := range set.Segments {
		if i == 0 {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(string([]rune(seg.Text)[overlap:]))
	}
	assert.Equal(t, text, b.String())
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("a", 60)
	second := strings.Repeat("b", 60)
	text := first + "\n\n" + second

	set, err := Split(text, 100, 10, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(set.Segments), 2)
	assert.Equal(t, first+"\n\n", set.Segments[0].Text)
}

func TestSplitHardCutWithoutSeparators(t *testing.T) {
	text := strings.Repeat("x", 250)

	set, err := Split(text, 100, 20, 10)
	require.NoError(t, err)
	require.Len(t, set.Segments, 3)
	assert.Len(t, set.Segments[0].Text, 100)
	assert.Len(t, set.Segments[1].Text, 100)
	assert.Len(t, set.Segments[2].Text, 90)
}

func TestSplitTruncatesAtMaxChunks(t *testing.T) {
	text := strings.Repeat("word ", 2000)

	set, err := Split(text, 100, 20, 4)
	require.NoError(t, err)
	assert.Len(t, set.Segments, 4)
	assert.True(t, set.Truncated)
}

func TestSplitExactCapIsNotTruncated(t *testing.T) {
	text := strings.Repeat("y", 180)

	set, err := Split(text, 100, 20, 2)
	require.NoError(t, err)
	assert.Len(t, set.Segments, 2)
	assert.False(t, set.Truncated)
}

func TestSplitMultibyteRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ünïcode ", 30)

	set, err := Split(text, 50, 10, 100)
	require.NoError(t, err)
	for _, seg := range set.Segments {
		assert.True(t, utf8.ValidString(seg.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(seg.Text), 50)
	}
}

func TestSplitRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name                     string
		size, overlap, maxChunks int
	}{
		{"zero size", 0, 0, 1},
		{"overlap equals size", 10, 10, 1},
		{"negative overlap", 10, -1, 1},
		{"zero cap", 10, 2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split("some text", tc.size, tc.overlap, tc.maxChunks)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			_, err = NewRecursiveChunker(tc.size, tc.overlap, tc.maxChunks)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRecursiveChunkerChunk(t *testing.T) {
	c, err := NewRecursiveChunker(1000, 200, 30)
	require.NoError(t, err)

	set, err := c.Chunk(strings.Repeat("Sentence number one. ", 200))
	require.NoError(t, err)
	assert.NotEmpty(t, set.Segments)
	assert.LessOrEqual(t, len(set.Segments), 30)
}
