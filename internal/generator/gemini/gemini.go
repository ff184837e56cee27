package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Config configures the Gemini generator.
type Config struct {
	APIKeyEnv   string
	Model       string
	Temperature float64
}

// Generator answers prompts with Gemini. Close releases the client.
type Generator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp)
}

func (g *Generator) Close() error { return g.client.Close() }

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return "", fmt.Errorf("empty candidate (finish reason %v)", c.FinishReason)
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("candidate has no text")
	}
	return b.String(), nil
}
