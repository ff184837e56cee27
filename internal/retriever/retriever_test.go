package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/embedding/tfidf"
	"docchat/internal/index"
)

var document = []string{
	"Quarterly revenue grew twelve percent thanks to cloud subscriptions.",
	"The board approved a new office in Lisbon for the engineering team.",
	"Cloud subscriptions now account for most recurring revenue.",
	"Employee headcount reached four hundred engineers and designers.",
}

func buildIndex(t *testing.T, texts ...string) *index.Index {
	t.Helper()
	e, err := tfidf.NewProvider().ForCorpus(context.Background(), texts)
	require.NoError(t, err)
	segs := make([]domain.Segment, len(texts))
	for i, s := range texts {
		segs[i] = domain.Segment{ID: i, Text: s}
	}
	idx, err := index.Build(context.Background(), segs, e, index.BuildOptions{})
	require.NoError(t, err)
	return idx
}

func newRetriever(idx *index.Index, timeout time.Duration) *Retriever {
	logger, _ := test.NewNullLogger()
	return New(func() *index.Index { return idx }, timeout, logger)
}

func TestRetrieveWithoutIndexIsEmpty(t *testing.T) {
	r := newRetriever(nil, time.Second)
	ctx, err := r.Retrieve(context.Background(), "anything", 3, 0.5)
	require.NoError(t, err)
	assert.Empty(t, ctx)
}

func TestRetrieveSingleSegmentHighOverlap(t *testing.T) {
	idx := buildIndex(t, "Solar panels convert sunlight into electricity for homes.")
	r := newRetriever(idx, time.Second)

	got, err := r.Retrieve(context.Background(), "How do solar panels convert sunlight into electricity?", 3, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Segment.ID)
	assert.GreaterOrEqual(t, got[0].Score, 0.5)
}

func TestRetrieveUnrelatedQuestionIsEmpty(t *testing.T) {
	r := newRetriever(buildIndex(t, document...), time.Second)

	got, err := r.Retrieve(context.Background(), "What is the capital of Mongolia?", 3, 0.5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRespectsK(t *testing.T) {
	r := newRetriever(buildIndex(t, document...), time.Second)

	got, err := r.Retrieve(context.Background(), "cloud subscriptions revenue", 1, -1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestThresholdMonotonicity(t *testing.T) {
	r := newRetriever(buildIndex(t, document...), time.Second)
	queries := []string{
		"cloud subscriptions revenue",
		"engineering office Lisbon",
		"headcount engineers",
		"unrelated weather forecast",
	}
	thresholds := []float64{-1, 0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1}

	for _, q := range queries {
		prev := -1
		for _, th := range thresholds {
			got, err := r.Retrieve(context.Background(), q, 4, th)
			require.NoError(t, err)
			if prev >= 0 {
				assert.LessOrEqual(t, len(got), prev, "query %q threshold %v", q, th)
			}
			for _, res := range got {
				assert.GreaterOrEqual(t, res.Score, th)
			}
			prev = len(got)
		}
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	r := newRetriever(buildIndex(t, document...), time.Second)
	first, err := r.Retrieve(context.Background(), "cloud revenue", 3, 0.2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), "cloud revenue", 3, 0.2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// fakeEmbedder lets tests control query embedding behaviour.
type fakeEmbedder struct {
	dim   int
	delay time.Duration
	err   error
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	v[len(strings.Fields(text))%f.dim] = 1
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fakeIndex(t *testing.T, e *fakeEmbedder) *index.Index {
	t.Helper()
	idx, err := index.Build(context.Background(), []domain.Segment{{Text: "one"}, {Text: "one two"}}, e, index.BuildOptions{})
	require.NoError(t, err)
	return idx
}

func TestRetrieveTimeoutIsEmpty(t *testing.T) {
	e := &fakeEmbedder{dim: 3}
	idx := fakeIndex(t, e)
	e.delay = time.Second

	r := newRetriever(idx, 20*time.Millisecond)
	got, err := r.Retrieve(context.Background(), "one", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveEmbedFailureDegrades(t *testing.T) {
	e := &fakeEmbedder{dim: 3}
	idx := fakeIndex(t, e)
	e.err = errors.New("embedding backend down")

	logger, hook := test.NewNullLogger()
	r := New(func() *index.Index { return idx }, time.Second, logger)
	got, err := r.Retrieve(context.Background(), "one", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "degraded")
}

func TestRetrieveModelMismatchIsFatal(t *testing.T) {
	e := &fakeEmbedder{dim: 3}
	idx := fakeIndex(t, e)
	e.dim = 5

	r := newRetriever(idx, time.Second)
	_, err := r.Retrieve(context.Background(), "one", 3, 0)
	assert.ErrorIs(t, err, domain.ErrModelMismatch)
}
