package retriever

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"docchat/internal/domain"
	"docchat/internal/index"
)

// Source yields the index currently being served, or nil when there is none.
type Source func() *index.Index

// Retriever searches the current index and keeps only results whose cosine
// similarity is at least the threshold.
type Retriever struct {
	current       Source
	searchTimeout time.Duration
	log           logrus.FieldLogger
}

func New(current Source, searchTimeout time.Duration, log logrus.FieldLogger) *Retriever {
	return &Retriever{current: current, searchTimeout: searchTimeout, log: log}
}

// Retrieve returns at most k segments relevant to query, best first. An
// empty context means no grounding is available: no index is loaded, nothing
// passed the threshold, or the search failed or timed out. The only error
// returned is a model mismatch between the query embedder and the index.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, threshold float64) (domain.RetrievedContext, error) {
	idx := r.current()
	if idx == nil || k <= 0 {
		return nil, nil
	}
	if r.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
	}

	results, err := r.search(ctx, idx, query, k)
	if err != nil {
		if errors.Is(err, domain.ErrModelMismatch) {
			return nil, err
		}
		r.log.WithError(&domain.RetrievalError{Err: err}).Warn("retrieval degraded to no context")
		return nil, nil
	}

	var out domain.RetrievedContext
	for _, res := range results {
		if res.Score >= threshold {
			out = append(out, res)
		}
	}
	r.log.WithFields(logrus.Fields{
		"candidates": len(results),
		"kept":       len(out),
		"threshold":  threshold,
	}).Debug("retrieval finished")
	return out, nil
}

// search embeds the query and searches idx on a separate goroutine so a
// slow embedder cannot hold the caller past the search deadline.
func (r *Retriever) search(ctx context.Context, idx *index.Index, query string, k int) ([]domain.SearchResult, error) {
	type outcome struct {
		results []domain.SearchResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		vec, err := idx.Embedder().Embed(ctx, query)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		if len(vec) != idx.Dimension() {
			done <- outcome{err: domain.ErrModelMismatch}
			return
		}
		res, err := idx.Search(vec, k)
		done <- outcome{results: res, err: err}
	}()

	select {
	case o := <-done:
		return o.results, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
