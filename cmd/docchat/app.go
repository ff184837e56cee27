package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"docchat/internal/builder"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/domain"
	"docchat/internal/embedding"
	"docchat/internal/embedding/openai"
	"docchat/internal/embedding/tfidf"
	"docchat/internal/extract"
	"docchat/internal/generator"
	"docchat/internal/index"
	"docchat/internal/logging"
	"docchat/internal/router"
	"docchat/internal/service"
	"docchat/internal/summarizer"
)

// setupError is a configuration or wiring failure. Its text is shown to the
// user as is.
type setupError struct{ err error }

func (e *setupError) Error() string { return e.err.Error() }

func (e *setupError) Unwrap() error { return e.err }

func setupErr(format string, args ...any) error {
	return &setupError{err: fmt.Errorf(format, args...)}
}

type appOptions struct {
	// generator is created only for commands that answer questions.
	generator bool
	// logFile overrides the configured log file when the config sets none.
	logFile string
}

type app struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	svc     *service.RAGService
	closers []io.Closer
}

func newApp(ctx context.Context, cmd *cli.Command, opts appOptions) (*app, error) {
	if err := godotenv.Load(cmd.String("env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, setupErr("load env file: %w", err)
	}

	var (
		cfg *config.AppConfig
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, setupErr("load config: %w", err)
	}

	logCfg := cfg.Log
	if logCfg.File == "" {
		logCfg.File = opts.logFile
	}
	logger, logCloser, err := logging.New(logCfg)
	if err != nil {
		return nil, setupErr("init logging: %w", err)
	}
	a := &app{cfg: cfg, log: logger, closers: []io.Closer{logCloser}}

	provider, err := a.embedderProvider()
	if err != nil {
		a.Close()
		return nil, setupErr("init embedder: %w", err)
	}
	store, err := index.NewStore(cfg.Index.Format)
	if err != nil {
		a.Close()
		return nil, setupErr("init index store: %w", err)
	}
	ch, err := chunker.NewRecursiveChunker(cfg.Chunker.Size, cfg.Chunker.Overlap, cfg.Chunker.MaxChunks)
	if err != nil {
		a.Close()
		return nil, setupErr("init chunker: %w", err)
	}

	var gen domain.Generator
	if opts.generator {
		g, err := generator.New(ctx, cfg.Generator)
		if err != nil {
			a.Close()
			return nil, setupErr("init generator: %w", err)
		}
		a.closers = append(a.closers, g)
		gen = g
	}

	a.svc = service.NewRAGService(service.Deps{
		Extractor:  extract.NewTextExtractor(cfg.Extract.MaxPages, logger),
		Chunker:    ch,
		Provider:   provider,
		Store:      store,
		Generator:  gen,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Log:        logger,
	}, service.Config{
		IndexPath: cfg.Index.Path,
		Builder: builder.Config{
			Timeout:            cfg.Builder.Timeout(),
			BatchSize:          cfg.Embedder.BatchSize,
			Parallelism:        cfg.Embedder.Parallelism,
			MaxChunks:          cfg.Builder.MaxChunks,
			LowMemoryBytes:     cfg.Builder.LowMemoryBytes,
			LowMemoryMaxChunks: cfg.Builder.LowMemoryMaxChunks,
		},
		Router: router.Config{
			TopK:            cfg.Retriever.TopK,
			Threshold:       cfg.Retriever.Threshold,
			GenerateTimeout: cfg.Generator.Timeout(),
		},
		SearchTimeout:    cfg.Retriever.SearchTimeout(),
		SummarySentences: cfg.Summarizer.MaxSentences,
	})
	return a, nil
}

func (a *app) embedderProvider() (domain.EmbedderProvider, error) {
	switch a.cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewProvider(), nil
	case "openai":
		o := a.cfg.Embedder.OpenAI
		if o == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Dimension:         o.Dimension,
			Timeout:           secs(o.TimeoutSecs),
			RequestsPerSecond: o.RequestsPerSecond,
			BatchSize:         a.cfg.Embedder.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return embedding.Fixed(client), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", a.cfg.Embedder.Type)
	}
}

// load serves the persisted index, if any. An index built with another
// embedding model is returned as an error. A corrupt index is logged and the
// session starts without one.
func (a *app) load(ctx context.Context) (bool, error) {
	ok, err := a.svc.Load(ctx)
	if errors.Is(err, domain.ErrModelMismatch) {
		return false, err
	}
	if err != nil {
		a.log.WithError(err).Warn("persisted index not loaded")
		fmt.Fprintln(os.Stderr, domain.UserMessage(err))
		return false, nil
	}
	return ok, nil
}

// answer loads the persisted index and answers question against it.
func (a *app) answer(ctx context.Context, question string) (domain.QAExchange, error) {
	if _, err := a.load(ctx); err != nil {
		return domain.QAExchange{Question: question, Answer: domain.UserMessage(err)}, err
	}
	return a.svc.Ask(ctx, question)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
