package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ChunkerConfig configures how document text is split into segments.
type ChunkerConfig struct {
	Size      int `yaml:"size"`
	Overlap   int `yaml:"overlap"`
	MaxChunks int `yaml:"max_chunks"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Dimension         int     `yaml:"dimension"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	BatchSize   int                   `yaml:"batch_size"`
	Parallelism int                   `yaml:"parallelism"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// IndexConfig locates the persisted index.
type IndexConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// BuilderConfig bounds index builds.
type BuilderConfig struct {
	TimeoutSecs        int    `yaml:"timeout_secs"`
	MaxChunks          int    `yaml:"max_chunks"`
	LowMemoryBytes     uint64 `yaml:"low_memory_bytes"`
	LowMemoryMaxChunks int    `yaml:"low_memory_max_chunks"`
}

// RetrieverConfig controls which segments count as context.
type RetrieverConfig struct {
	TopK              int     `yaml:"top_k"`
	Threshold         float64 `yaml:"threshold"`
	SearchTimeoutSecs int     `yaml:"search_timeout_secs"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// ExtractConfig limits the documents accepted for ingestion.
type ExtractConfig struct {
	MaxPages int `yaml:"max_pages"`
}

// SummarizerConfig configures the document summary shown after ingestion.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Index      IndexConfig      `yaml:"index"`
	Builder    BuilderConfig    `yaml:"builder"`
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Extract    ExtractConfig    `yaml:"extract"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Log        LogConfig        `yaml:"log"`
}

func (c BuilderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c RetrieverConfig) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSecs) * time.Second
}

func (c GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment variables in the file are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of the defaults. Unknown keys are
// rejected.
func Parse(data []byte) (*AppConfig, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/docchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docchat", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Chunker:  ChunkerConfig{Size: 1000, Overlap: 200, MaxChunks: 30},
		Embedder: EmbedderConfig{Type: "tfidf", BatchSize: 16, Parallelism: 2},
		Index:    IndexConfig{Path: filepath.Join("docchat_index", "index.gob"), Format: "gob"},
		Builder: BuilderConfig{
			TimeoutSecs:        300,
			MaxChunks:          30,
			LowMemoryBytes:     8 << 30,
			LowMemoryMaxChunks: 10,
		},
		Retriever: RetrieverConfig{TopK: 3, Threshold: 0.7, SearchTimeoutSecs: 30},
		Generator: GeneratorConfig{
			Type:        "gemini",
			Model:       "gemini-1.5-flash",
			APIKeyEnv:   "GEMINI_API_KEY",
			Temperature: 0.3,
			TimeoutSecs: 60,
		},
		Extract:    ExtractConfig{MaxPages: 100},
		Summarizer: SummarizerConfig{MaxSentences: 3},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.Dimension == 0 {
			o.Dimension = 1536
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.RequestsPerSecond == 0 {
			o.RequestsPerSecond = 5
		}
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.APIKeyEnv == "" || cfg.Generator.APIKeyEnv == "GEMINI_API_KEY" {
			cfg.Generator.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Generator.Model == "" || cfg.Generator.Model == "gemini-1.5-flash" {
			cfg.Generator.Model = "gpt-4o-mini"
		}
	}
	if cfg.Index.Format == "sqlite" && cfg.Index.Path == filepath.Join("docchat_index", "index.gob") {
		cfg.Index.Path = filepath.Join("docchat_index", "index.db")
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch {
	case c.Chunker.Size <= 0:
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	case c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size:
		return fmt.Errorf("chunker.overlap must be in [0, size), got %d", c.Chunker.Overlap)
	case c.Chunker.MaxChunks <= 0:
		return fmt.Errorf("chunker.max_chunks must be positive, got %d", c.Chunker.MaxChunks)
	case c.Embedder.BatchSize <= 0:
		return fmt.Errorf("embedder.batch_size must be positive, got %d", c.Embedder.BatchSize)
	case c.Embedder.Parallelism <= 0:
		return fmt.Errorf("embedder.parallelism must be positive, got %d", c.Embedder.Parallelism)
	case c.Index.Path == "":
		return errors.New("index.path is required")
	case c.Builder.TimeoutSecs <= 0:
		return fmt.Errorf("builder.timeout_secs must be positive, got %d", c.Builder.TimeoutSecs)
	case c.Builder.MaxChunks < 0 || c.Builder.LowMemoryMaxChunks < 0:
		return errors.New("builder chunk caps must not be negative")
	case c.Retriever.TopK <= 0:
		return fmt.Errorf("retriever.top_k must be positive, got %d", c.Retriever.TopK)
	case c.Retriever.Threshold < -1 || c.Retriever.Threshold > 1:
		return fmt.Errorf("retriever.threshold must be in [-1, 1], got %v", c.Retriever.Threshold)
	case c.Retriever.SearchTimeoutSecs < 0 || c.Generator.TimeoutSecs < 0:
		return errors.New("timeouts must not be negative")
	case c.Extract.MaxPages <= 0:
		return fmt.Errorf("extract.max_pages must be positive, got %d", c.Extract.MaxPages)
	}
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("unknown embedder type %q", c.Embedder.Type)
	}
	switch c.Index.Format {
	case "gob", "sqlite":
	default:
		return fmt.Errorf("unknown index format %q", c.Index.Format)
	}
	switch c.Generator.Type {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown generator type %q", c.Generator.Type)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
