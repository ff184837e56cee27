package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
	"docchat/internal/embedding/tfidf"
	"docchat/internal/index"
	"docchat/internal/router"
	"docchat/internal/service"
)

func TestUserMessage(t *testing.T) {
	setup := setupErr("load config: %w", errors.New("chunker.size must be positive, got 0"))
	assert.Equal(t, "load config: chunker.size must be positive, got 0", userMessage(setup))

	wrapped := fmt.Errorf("ingest: %w", &domain.IngestionError{Path: "/tmp/secret.txt", Err: domain.ErrNoExtractableText})
	msg := userMessage(wrapped)
	assert.Equal(t, domain.UserMessage(domain.ErrNoExtractableText), msg)
	assert.NotContains(t, msg, "secret")
}

// constEmbedder maps every text to the same unit vector.
type constEmbedder struct{}

func (constEmbedder) Name() string   { return "const" }
func (constEmbedder) Dimension() int { return 2 }

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (e constEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, "")
	}
	return out, nil
}

type countingGenerator struct{ calls int }

func (g *countingGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return "answer", nil
}

func newTestApp(t *testing.T, path string) (*app, *countingGenerator) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	gen := &countingGenerator{}
	svc := service.NewRAGService(service.Deps{
		Provider:  tfidf.NewProvider(),
		Store:     index.GobStore{},
		Generator: gen,
		Log:       logger,
	}, service.Config{
		IndexPath: path,
		Router:    router.Config{TopK: 3, Threshold: 0.5},
	})
	return &app{log: logger, svc: svc}, gen
}

func TestAnswerRefusesIndexFromAnotherModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	idx, err := index.Build(context.Background(), []domain.Segment{{ID: 0, Text: "solar panels"}}, constEmbedder{}, index.BuildOptions{})
	require.NoError(t, err)
	require.NoError(t, index.GobStore{}.Persist(context.Background(), idx, path))

	a, gen := newTestApp(t, path)
	ex, err := a.answer(context.Background(), "How do solar panels work?")
	assert.ErrorIs(t, err, domain.ErrModelMismatch)
	assert.Equal(t, domain.UserMessage(domain.ErrModelMismatch), ex.Answer)
	assert.Zero(t, gen.calls)
	assert.Nil(t, a.svc.Current())
}

func TestAnswerWithCorruptIndexFallsBackToGeneral(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	require.NoError(t, os.WriteFile(path, []byte("not an index at all, just some bytes"), 0o644))

	a, gen := newTestApp(t, path)
	ex, err := a.answer(context.Background(), "How do solar panels work?")
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceGeneral, ex.Provenance)
	assert.Equal(t, 1, gen.calls)
}

func TestAnswerWithoutIndex(t *testing.T) {
	a, gen := newTestApp(t, filepath.Join(t.TempDir(), "index.gob"))
	ok, err := a.load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	ex, err := a.answer(context.Background(), "Anything?")
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceGeneral, ex.Provenance)
	assert.Equal(t, 1, gen.calls)
}
