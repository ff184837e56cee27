package embedding

import (
	"context"
	"fmt"

	"docchat/internal/domain"
)

// EmbedFunc embeds one micro-batch of texts.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Batched embeds texts in micro-batches of at most size, checking ctx between
// batches. The output is ordered like texts and every vector has dimension
// dim; a vector of another length is reported as a model mismatch.
func Batched(ctx context.Context, texts []string, size, dim int, fn EmbedFunc) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(texts))
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedded %d of %d texts", len(vecs), end-start)
		}
		for _, v := range vecs {
			if dim > 0 && len(v) != dim {
				return nil, fmt.Errorf("%w: got vector of length %d, want %d", domain.ErrModelMismatch, len(v), dim)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Fixed adapts a stateless embedder to the provider contract: every corpus
// gets the same embedder, and restoring checks model name and dimension.
func Fixed(e domain.Embedder) domain.EmbedderProvider {
	return fixed{e: e}
}

type fixed struct{ e domain.Embedder }

func (f fixed) Name() string { return f.e.Name() }

func (f fixed) ForCorpus(context.Context, []string) (domain.Embedder, error) { return f.e, nil }

func (f fixed) Restore(model string, dimension int, _ []byte) (domain.Embedder, error) {
	if model != f.e.Name() || dimension != f.e.Dimension() {
		return nil, fmt.Errorf("%w: index built with %s/%d, configured %s/%d",
			domain.ErrModelMismatch, model, dimension, f.e.Name(), f.e.Dimension())
	}
	return f.e, nil
}
