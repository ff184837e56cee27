package generator

import (
	"context"
	"fmt"

	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/generator/gemini"
	"docchat/internal/generator/openai"
)

// Generator is a domain.Generator holding a client that must be closed.
type Generator interface {
	domain.Generator
	Close() error
}

// New builds the generator selected by cfg.Type.
func New(ctx context.Context, cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Type {
	case "gemini", "":
		g, err := gemini.New(ctx, gemini.Config{
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		g, err := openai.New(openai.Config{
			BaseURL:     cfg.BaseURL,
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}
