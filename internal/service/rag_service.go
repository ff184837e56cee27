package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"docchat/internal/builder"
	"docchat/internal/domain"
	"docchat/internal/index"
	"docchat/internal/retriever"
	"docchat/internal/router"
)

// Deps are the collaborators a Service is assembled from.
type Deps struct {
	Extractor  domain.Extractor
	Chunker    domain.Chunker
	Provider   domain.EmbedderProvider
	Store      index.Store
	Generator  domain.Generator
	Summarizer domain.Summarizer
	Log        logrus.FieldLogger
}

type Config struct {
	IndexPath        string
	Builder          builder.Config
	BuilderOptions   []builder.Option
	Router           router.Config
	SearchTimeout    time.Duration
	SummarySentences int
}

// IngestResult summarizes a committed ingestion.
type IngestResult struct {
	Path     string
	BuildID  string
	Segments int
	// Truncated reports that document text past the chunk caps was dropped.
	Truncated bool
	Dropped   int
	Summary   string
	Elapsed   time.Duration
}

// Status describes the persisted and served index.
type Status struct {
	Path      string
	Persisted bool
	Loaded    bool
	Meta      index.Meta
}

// RAGService owns the index being served for one session. It is replaced
// only after a new index has been persisted, and cleared explicitly.
type RAGService struct {
	deps      Deps
	cfg       Config
	builder   *builder.Builder
	router    *router.Router
	retriever *retriever.Retriever
	current   atomic.Pointer[index.Index]
}

func NewRAGService(deps Deps, cfg Config) *RAGService {
	s := &RAGService{deps: deps, cfg: cfg}
	s.builder = builder.New(cfg.Builder, deps.Store, cfg.IndexPath, deps.Provider, deps.Log, cfg.BuilderOptions...)
	s.retriever = retriever.New(s.Current, cfg.SearchTimeout, deps.Log)
	s.router = router.New(s.retriever, deps.Generator, cfg.Router, deps.Log)
	return s
}

// Current returns the index being served, or nil.
func (s *RAGService) Current() *index.Index { return s.current.Load() }

// Load serves the index persisted at the configured path. It reports false
// when there is none.
func (s *RAGService) Load(ctx context.Context) (bool, error) {
	idx, ok, err := s.deps.Store.Load(ctx, s.cfg.IndexPath, s.deps.Provider)
	if err != nil || !ok {
		return false, err
	}
	s.current.Store(idx)
	s.deps.Log.WithFields(logrus.Fields{
		"path":     s.cfg.IndexPath,
		"segments": idx.Len(),
		"model":    idx.Meta().Model,
	}).Info("index loaded")
	return true, nil
}

// Ingestion is an ingest whose index build runs in the background.
type Ingestion struct {
	Path string
	task *builder.Task
	text string
	svc  *RAGService
}

// Done is closed when the build has finished.
func (in *Ingestion) Done() <-chan struct{} { return in.task.Done() }

func (in *Ingestion) Cancel() { in.task.Cancel() }

// Wait blocks until the build finishes and returns the ingestion summary.
func (in *Ingestion) Wait(ctx context.Context) (*IngestResult, error) {
	res, err := in.task.Wait(ctx)
	if err != nil {
		return nil, err
	}
	var summary string
	if sum := in.svc.deps.Summarizer; sum != nil {
		if summary, err = sum.Summarize(in.text, in.svc.cfg.SummarySentences); err != nil {
			in.svc.deps.Log.WithError(err).Warn("summary failed")
		}
	}
	return &IngestResult{
		Path:      in.Path,
		BuildID:   res.ID,
		Segments:  res.Segments,
		Truncated: res.Truncated,
		Dropped:   res.Dropped,
		Summary:   summary,
		Elapsed:   res.Elapsed,
	}, nil
}

func (in *Ingestion) waitOrCancel(ctx context.Context) (*IngestResult, error) {
	res, err := in.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		in.Cancel()
		<-in.Done()
	}
	return res, err
}

// StartIngest extracts and chunks the document at path, then builds its
// index in the background. The current index keeps serving until the new
// one is committed. Extraction and chunking failures are returned
// directly and leave everything untouched.
func (s *RAGService) StartIngest(ctx context.Context, path string) (*Ingestion, error) {
	text, err := s.deps.Extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.startText(ctx, path, text)
}

// Ingest is StartIngest followed by Wait. Cancelling ctx cancels the build.
func (s *RAGService) Ingest(ctx context.Context, path string) (*IngestResult, error) {
	in, err := s.StartIngest(ctx, path)
	if err != nil {
		return nil, err
	}
	return in.waitOrCancel(ctx)
}

// IngestText indexes text that has already been extracted. source names it
// in errors and logs.
func (s *RAGService) IngestText(ctx context.Context, source, text string) (*IngestResult, error) {
	in, err := s.startText(ctx, source, text)
	if err != nil {
		return nil, err
	}
	return in.waitOrCancel(ctx)
}

func (s *RAGService) startText(ctx context.Context, source, text string) (*Ingestion, error) {
	set, err := s.deps.Chunker.Chunk(text)
	if err != nil {
		return nil, &domain.IngestionError{Path: source, Err: err}
	}
	if len(set.Segments) == 0 {
		return nil, &domain.IngestionError{Path: source, Err: domain.ErrNoExtractableText}
	}
	if set.Truncated {
		s.deps.Log.WithFields(logrus.Fields{
			"path":     source,
			"segments": len(set.Segments),
		}).Warn("document truncated to chunk cap")
	}

	task, err := s.builder.Start(context.WithoutCancel(ctx), set, func(idx *index.Index) {
		s.current.Store(idx)
	})
	if err != nil {
		return nil, err
	}
	return &Ingestion{Path: source, task: task, text: text, svc: s}, nil
}

// Ask answers question against the current index.
func (s *RAGService) Ask(ctx context.Context, question string) (domain.QAExchange, error) {
	return s.router.Answer(ctx, question)
}

// Status reports on the persisted index without loading it.
func (s *RAGService) Status(ctx context.Context) (Status, error) {
	st := Status{Path: s.cfg.IndexPath, Loaded: s.Current() != nil}
	meta, ok, err := s.deps.Store.Stat(ctx, s.cfg.IndexPath)
	if err != nil {
		return st, err
	}
	st.Persisted = ok
	st.Meta = meta
	return st, nil
}

// Clear stops serving the current index and deletes the persisted one.
func (s *RAGService) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.current.Store(nil)
	if err := index.Remove(s.cfg.IndexPath); err != nil {
		return fmt.Errorf("remove index: %w", err)
	}
	s.deps.Log.WithField("path", s.cfg.IndexPath).Info("index cleared")
	return nil
}
