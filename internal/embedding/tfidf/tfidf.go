package tfidf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"docchat/internal/domain"
)

const ModelName = "tfidf"

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// Embedder implements a simple TF-IDF vectorizer fitted to one corpus.
// It is immutable after Fit and safe for concurrent use.
type Embedder struct {
	vocabulary map[string]int
	terms      []string
	idf        []float64
}

// Fit builds the vocabulary and IDF values from the provided corpus.
func Fit(corpus []string) (*Embedder, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for TF-IDF fit")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no indexable terms in corpus", domain.ErrNoExtractableText)
	}
	sort.Strings(terms)

	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		// smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return newEmbedder(terms, idf), nil
}

func newEmbedder(terms []string, idf []float64) *Embedder {
	vocab := make(map[string]int, len(terms))
	for i, t := range terms {
		vocab[t] = i
	}
	return &Embedder{vocabulary: vocab, terms: terms, idf: idf}
}

func (e *Embedder) Name() string { return ModelName }

func (e *Embedder) Dimension() int { return len(e.terms) }

// Embed computes the L2-normalized TF-IDF vector of text. Text with no known
// terms yields the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	vec := make([]float32, len(e.terms))
	if total == 0 {
		return vec, nil
	}
	weights := make(map[int]float64, len(tf))
	norm := 0.0
	for idx, count := range tf {
		w := float64(count) / float64(total) * e.idf[idx]
		weights[idx] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	for idx, w := range weights {
		vec[idx] = float32(w / norm)
	}
	return vec, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type state struct {
	Terms []string  `json:"terms"`
	IDF   []float64 `json:"idf"`
}

// Snapshot serializes the fitted vocabulary so queries can be embedded
// against a loaded index.
func (e *Embedder) Snapshot() ([]byte, error) {
	return json.Marshal(state{Terms: e.terms, IDF: e.idf})
}

// Provider fits a new Embedder for every corpus.
type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Name() string { return ModelName }

func (p *Provider) ForCorpus(_ context.Context, corpus []string) (domain.Embedder, error) {
	e, err := Fit(corpus)
	if errors.Is(err, domain.ErrNoExtractableText) {
		return nil, &domain.IngestionError{Err: err}
	}
	if err != nil {
		return nil, &domain.EmbeddingError{Model: ModelName, Err: err}
	}
	return e, nil
}

func (p *Provider) Restore(model string, dimension int, raw []byte) (domain.Embedder, error) {
	if model != ModelName {
		return nil, fmt.Errorf("%w: index built with %s, configured %s", domain.ErrModelMismatch, model, ModelName)
	}
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode tfidf state: %w", err)
	}
	if len(s.Terms) != len(s.IDF) || len(s.Terms) != dimension {
		return nil, fmt.Errorf("%w: tfidf state has %d terms, index dimension %d", domain.ErrModelMismatch, len(s.Terms), dimension)
	}
	return newEmbedder(s.Terms, s.IDF), nil
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
