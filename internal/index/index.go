package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/domain"
)

// Meta describes how and when an index was built. It is persisted with the
// index so a later load can restore the same embedder.
type Meta struct {
	BuiltAt      time.Time
	SegmentCount int
	Model        string
	Dimension    int
	// ModelState holds the serialized state of corpus-fitted embedders.
	ModelState []byte
	// Truncated records that the source text was cut to fit the chunk cap.
	Truncated bool
}

// Index is an immutable set of embedded segments searched by cosine
// similarity. Scores range over [-1, 1] and higher is more similar.
type Index struct {
	segments []domain.Segment
	norms    []float64
	meta     Meta
	embedder domain.Embedder
}

// BuildOptions bound the memory and concurrency of Build.
type BuildOptions struct {
	// BatchSize is the number of segments embedded per call.
	BatchSize int
	// Parallelism is the number of batches embedded at once.
	Parallelism int
	Truncated   bool
}

// Build embeds every segment with e and returns the finished index. Either
// every segment is embedded or an error is returned and nothing is kept.
func Build(ctx context.Context, segments []domain.Segment, e domain.Embedder, opts BuildOptions) (*Index, error) {
	if len(segments) == 0 {
		return nil, &domain.IndexBuildError{Op: "build", Err: errors.New("no segments")}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	vectors := make([][]float32, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for start := 0; start < len(segments); start += opts.BatchSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+opts.BatchSize, len(segments))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = segments[start+i].Text
			}
			vecs, err := e.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedded %d of %d segments", len(vecs), len(texts))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &domain.IndexBuildError{Op: "embed", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.IndexBuildError{Op: "embed", Err: err}
	}

	stored := make([]domain.Segment, len(segments))
	for i, s := range segments {
		stored[i] = domain.Segment{ID: i, Text: s.Text, Vector: vectors[i]}
	}
	meta := Meta{
		BuiltAt:      time.Now().UTC(),
		SegmentCount: len(stored),
		Model:        e.Name(),
		Dimension:    e.Dimension(),
		Truncated:    opts.Truncated,
	}
	if snap, ok := e.(domain.StateSnapshotter); ok {
		state, err := snap.Snapshot()
		if err != nil {
			return nil, &domain.IndexBuildError{Op: "snapshot", Err: err}
		}
		meta.ModelState = state
	}
	idx, err := assemble(meta, stored, e)
	if err != nil {
		return nil, &domain.IndexBuildError{Op: "assemble", Err: err}
	}
	return idx, nil
}

// assemble validates stored vectors against meta and precomputes norms.
func assemble(meta Meta, segments []domain.Segment, e domain.Embedder) (*Index, error) {
	if meta.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", meta.Dimension)
	}
	if meta.SegmentCount != len(segments) {
		return nil, fmt.Errorf("segment count %d does not match metadata %d", len(segments), meta.SegmentCount)
	}
	norms := make([]float64, len(segments))
	for i, s := range segments {
		if len(s.Vector) != meta.Dimension {
			return nil, fmt.Errorf("segment %d has %d dimensions, want %d", s.ID, len(s.Vector), meta.Dimension)
		}
		norms[i] = magnitude(s.Vector)
	}
	return &Index{segments: segments, norms: norms, meta: meta, embedder: e}, nil
}

func (idx *Index) Meta() Meta { return idx.meta }

func (idx *Index) Len() int { return len(idx.segments) }

func (idx *Index) Dimension() int { return idx.meta.Dimension }

// Embedder returns the embedder the index was built with. Queries must be
// embedded with it.
func (idx *Index) Embedder() domain.Embedder { return idx.embedder }

// Segments returns a copy of the stored segments in build order.
func (idx *Index) Segments() []domain.Segment {
	out := make([]domain.Segment, len(idx.segments))
	for i, s := range idx.segments {
		out[i] = cloneSegment(s)
	}
	return out
}

func cloneSegment(s domain.Segment) domain.Segment {
	s.Vector = append([]float32(nil), s.Vector...)
	return s
}

// Search returns up to k segments ordered by descending cosine similarity to
// vec, ties broken by segment order. Zero-magnitude vectors never match.
func (idx *Index) Search(vec []float32, k int) ([]domain.SearchResult, error) {
	if len(vec) != idx.meta.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %d", domain.ErrModelMismatch, len(vec), idx.meta.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}
	qm := magnitude(vec)
	if qm == 0 {
		return nil, nil
	}

	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, 0, len(idx.segments))
	for i, s := range idx.segments {
		if idx.norms[i] == 0 {
			continue
		}
		score := dot(vec, s.Vector) / (qm * idx.norms[i])
		if math.IsNaN(score) {
			continue
		}
		scores = append(scores, scored{i: i, score: score})
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })
	if k > len(scores) {
		k = len(scores)
	}
	results := make([]domain.SearchResult, k)
	for n := 0; n < k; n++ {
		results[n] = domain.SearchResult{Segment: cloneSegment(idx.segments[scores[n].i]), Score: scores[n].score}
	}
	return results, nil
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
