package domain

import "context"

// Segment is a bounded slice of document text stored and searched as a unit.
// Vector is nil until the segment has been embedded.
type Segment struct {
	ID     int
	Text   string
	Vector []float32
}

// ChunkSet is the ordered output of a Chunker.
type ChunkSet struct {
	Segments []Segment
	// Truncated reports that the natural split produced more segments than
	// the configured cap and the tail of the text was dropped.
	Truncated bool
}

// SearchResult represents a matching segment with its cosine similarity to
// the query. Higher scores are more similar.
type SearchResult struct {
	Segment Segment
	Score   float64
}

// RetrievedContext holds the results that passed the similarity threshold,
// best first. An empty context means no grounding is available.
type RetrievedContext []SearchResult

// Texts returns the segment texts in rank order.
func (c RetrievedContext) Texts() []string {
	out := make([]string, 0, len(c))
	for _, r := range c {
		out = append(out, r.Segment.Text)
	}
	return out
}

// Provenance tags an answer with the path that produced it.
type Provenance string

const (
	ProvenanceGrounded Provenance = "grounded"
	ProvenanceGeneral  Provenance = "general"
)

// QAExchange is one question/answer turn of a conversation.
type QAExchange struct {
	Question   string
	Answer     string
	Provenance Provenance
	Context    RetrievedContext
}

// Embedder converts free text into a fixed-length vector. Implementations
// are immutable once constructed so they can serve concurrent readers.
type Embedder interface {
	// Name identifies the model. Indexes record it and refuse to load under
	// a different one.
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order, at most one micro-batch at a time.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderProvider yields the Embedder used to build an index and restores
// it when the index is loaded again. Corpus-fitted models (TF-IDF) return a
// fresh Embedder per corpus; remote models return the same one every time.
type EmbedderProvider interface {
	Name() string
	ForCorpus(ctx context.Context, corpus []string) (Embedder, error)
	// Restore rebuilds the Embedder an index was built with. It fails with
	// ErrModelMismatch when the recorded model is not this provider's.
	Restore(model string, dimension int, state []byte) (Embedder, error)
}

// StateSnapshotter is implemented by embedders whose model state must be
// persisted next to the index to embed queries later.
type StateSnapshotter interface {
	Snapshot() ([]byte, error)
}

// Chunker splits document text into segments suitable for indexing.
type Chunker interface {
	Chunk(text string) (ChunkSet, error)
}

// Generator turns a prompt into a text completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Extractor returns the plain text of a source document.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
