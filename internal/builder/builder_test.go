package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/embedding"
	"docchat/internal/index"
)

// stubEmbedder returns one-hot vectors keyed by text length and can be made
// to block until released or until its context ends.
type stubEmbedder struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (s *stubEmbedder) Name() string   { return "stub" }
func (s *stubEmbedder) Dimension() int { return 4 }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	v[len(text)%4] = 1
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func chunkSet(n int) domain.ChunkSet {
	set := domain.ChunkSet{}
	for i := 0; i < n; i++ {
		set.Segments = append(set.Segments, domain.Segment{ID: i, Text: strings.Repeat("x", i+1)})
	}
	return set
}

func bigHost(context.Context) (uint64, error) { return 64 << 30, nil }

func newTestBuilder(t *testing.T, cfg Config, e domain.Embedder, opts ...Option) (*Builder, string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "index.gob")
	opts = append([]Option{WithMemoryProbe(bigHost)}, opts...)
	return New(cfg, index.GobStore{}, path, embedding.Fixed(e), logger, opts...), path
}

func TestBuildCommitsAndPersists(t *testing.T) {
	e := &stubEmbedder{}
	b, path := newTestBuilder(t, Config{Timeout: time.Second, BatchSize: 2, Parallelism: 2}, e)

	var committed *index.Index
	res, err := b.Build(context.Background(), chunkSet(5), func(idx *index.Index) { committed = idx })
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.Same(t, committed, res.Index)
	assert.Equal(t, 5, res.Segments)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Truncated)

	loaded, ok, err := index.GobStore{}.Load(context.Background(), path, embedding.Fixed(e))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, loaded.Len())
}

func TestBuildTimeoutLeavesPreviousIndex(t *testing.T) {
	e := &stubEmbedder{}
	b, path := newTestBuilder(t, Config{Timeout: time.Second, BatchSize: 2}, e)
	_, err := b.Build(context.Background(), chunkSet(3), nil)
	require.NoError(t, err)

	slow := &stubEmbedder{gate: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	sb := New(Config{Timeout: 50 * time.Millisecond, BatchSize: 2}, index.GobStore{}, path, embedding.Fixed(slow), logger, WithMemoryProbe(bigHost))

	committed := false
	_, err = sb.Build(context.Background(), chunkSet(6), func(*index.Index) { committed = true })
	var bte *domain.BuildTimeoutError
	require.ErrorAs(t, err, &bte)
	assert.Equal(t, 50*time.Millisecond, bte.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, committed)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())

	prev, ok, err := index.GobStore{}.Load(context.Background(), path, embedding.Fixed(e))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, prev.Len())
	q, _ := e.Embed(context.Background(), "x")
	results, err := prev.Search(q, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestBuildTimeoutWithoutPreviousIndexLeavesNoFile(t *testing.T) {
	slow := &stubEmbedder{gate: make(chan struct{})}
	b, path := newTestBuilder(t, Config{Timeout: 30 * time.Millisecond}, slow)

	_, err := b.Build(context.Background(), chunkSet(2), nil)
	var bte *domain.BuildTimeoutError
	require.ErrorAs(t, err, &bte)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSecondBuildIsRejectedWhileRunning(t *testing.T) {
	slow := &stubEmbedder{gate: make(chan struct{})}
	b, _ := newTestBuilder(t, Config{Timeout: 5 * time.Second}, slow)

	task, err := b.Start(context.Background(), chunkSet(2), nil)
	require.NoError(t, err)

	_, err = b.Start(context.Background(), chunkSet(2), nil)
	assert.ErrorIs(t, err, domain.ErrBuildInProgress)

	close(slow.gate)
	res, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Segments)

	// the slot is free again
	task, err = b.Start(context.Background(), chunkSet(1), nil)
	require.NoError(t, err)
	_, err = task.Wait(context.Background())
	assert.NoError(t, err)
}

func TestTaskCancel(t *testing.T) {
	slow := &stubEmbedder{gate: make(chan struct{})}
	b, path := newTestBuilder(t, Config{Timeout: 5 * time.Second}, slow)

	task, err := b.Start(context.Background(), chunkSet(2), nil)
	require.NoError(t, err)
	task.Cancel()

	_, err = task.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTaskWaitHonoursCallerContext(t *testing.T) {
	slow := &stubEmbedder{gate: make(chan struct{})}
	b, _ := newTestBuilder(t, Config{Timeout: 5 * time.Second}, slow)

	task, err := b.Start(context.Background(), chunkSet(1), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(slow.gate)
	<-task.Done()
}

func TestBuildFailurePropagates(t *testing.T) {
	b, path := newTestBuilder(t, Config{Timeout: time.Second}, &stubEmbedder{})
	b.provider = failingProvider{err: errors.New("no model")}

	_, err := b.Build(context.Background(), chunkSet(2), nil)
	var embErr *domain.EmbeddingError
	assert.ErrorAs(t, err, &embErr)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

type failingProvider struct{ err error }

func (f failingProvider) Name() string { return "failing" }
func (f failingProvider) ForCorpus(context.Context, []string) (domain.Embedder, error) {
	return nil, &domain.EmbeddingError{Model: "failing", Err: f.err}
}
func (f failingProvider) Restore(string, int, []byte) (domain.Embedder, error) {
	return nil, domain.ErrModelMismatch
}

func TestRAMCapOnlyReduces(t *testing.T) {
	const gib = uint64(1 << 30)
	cases := []struct {
		name      string
		total     uint64
		probeErr  error
		maxChunks int
		input     int
		want      int
		dropped   int
	}{
		{"large host keeps cap", 16 * gib, nil, 30, 40, 30, 10},
		{"small host reduces", 4 * gib, nil, 30, 40, 10, 30},
		{"small host below cap untouched", 4 * gib, nil, 30, 6, 6, 0},
		{"low cap never raised", 4 * gib, nil, 5, 40, 5, 35},
		{"probe failure keeps cap", 0, errors.New("no /proc"), 30, 40, 30, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probe := func(context.Context) (uint64, error) { return tc.total, tc.probeErr }
			b, _ := newTestBuilder(t, Config{
				Timeout:            time.Second,
				MaxChunks:          tc.maxChunks,
				LowMemoryBytes:     8 * gib,
				LowMemoryMaxChunks: 10,
			}, &stubEmbedder{}, WithMemoryProbe(probe))

			res, err := b.Build(context.Background(), chunkSet(tc.input), nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Segments)
			assert.LessOrEqual(t, res.Segments, tc.input)
			assert.Equal(t, tc.dropped, res.Dropped)
			assert.Equal(t, tc.dropped > 0, res.Truncated)
		})
	}
}

func TestChunkCapLogsProbeFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	got := chunkCap(context.Background(), func(context.Context) (uint64, error) {
		return 0, errors.New("unavailable")
	}, logger, 30, 8<<30, 10)
	assert.Equal(t, 30, got)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestTruncatedChunkSetIsReported(t *testing.T) {
	b, _ := newTestBuilder(t, Config{Timeout: time.Second}, &stubEmbedder{})
	set := chunkSet(3)
	set.Truncated = true

	res, err := b.Build(context.Background(), set, nil)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, res.Index.Meta().Truncated)
}
