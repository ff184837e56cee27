package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"docchat/internal/domain"
	"docchat/internal/embedding"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	// RequestsPerSecond paces calls to the API. Zero disables pacing.
	RequestsPerSecond float64
	BatchSize         int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	return &Client{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		limiter:   limiter,
	}, nil
}

// Name includes the model so an index built with one model is never
// queried with another.
func (c *Client) Name() string { return "openai:" + c.model }

func (c *Client) Dimension() int { return c.dimension }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in micro-batches, one request per batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := embedding.Batched(ctx, texts, c.batchSize, c.dimension, c.request)
	if err != nil {
		return nil, &domain.EmbeddingError{Model: c.Name(), Err: err}
	}
	return vecs, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	}
	// only the v3 models accept a requested output size
	if strings.HasPrefix(c.model, "text-embedding-3") {
		req.Dimensions = c.dimension
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = v
	}
	return out, nil
}
