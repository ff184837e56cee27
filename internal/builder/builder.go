package builder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"docchat/internal/domain"
	"docchat/internal/index"
)

// Config bounds a single index build.
type Config struct {
	Timeout     time.Duration
	BatchSize   int
	Parallelism int
	// MaxChunks caps the segments handed to the index. Zero means no cap
	// beyond what the chunker already applied.
	MaxChunks int
	// Hosts with at most LowMemoryBytes of RAM index at most
	// LowMemoryMaxChunks segments.
	LowMemoryBytes     uint64
	LowMemoryMaxChunks int
}

// Result describes a committed build.
type Result struct {
	ID       string
	Index    *index.Index
	Segments int
	// Dropped counts segments removed by the chunk cap.
	Dropped   int
	Truncated bool
	Elapsed   time.Duration
}

// Builder turns chunk sets into persisted indexes on a background worker.
// It has a single build slot: a request made while a build is running is
// rejected with domain.ErrBuildInProgress.
type Builder struct {
	cfg      Config
	store    index.Store
	path     string
	provider domain.EmbedderProvider
	probe    MemoryProbe
	log      logrus.FieldLogger
	slot     *semaphore.Weighted
}

type Option func(*Builder)

// WithMemoryProbe replaces the host RAM probe.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(b *Builder) { b.probe = p }
}

func New(cfg Config, store index.Store, path string, provider domain.EmbedderProvider, log logrus.FieldLogger, opts ...Option) *Builder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	b := &Builder{
		cfg:      cfg,
		store:    store,
		path:     path,
		provider: provider,
		probe:    HostMemory,
		log:      log,
		slot:     semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Task is a running build.
type Task struct {
	ID     string
	done   chan struct{}
	cancel context.CancelFunc
	result *Result
	err    error
}

// Done is closed when the build has committed or failed and all partial
// state is gone.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the build finishes or ctx is done. Abandoning the wait
// does not stop the build; use Cancel for that.
func (t *Task) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops the build. It is a no-op once the build has finished.
func (t *Task) Cancel() { t.cancel() }

// Start begins building an index from set on a background worker. onCommit
// is called with the new index once it has been persisted; until then the
// previous index stays on disk and in use.
func (b *Builder) Start(ctx context.Context, set domain.ChunkSet, onCommit func(*index.Index)) (*Task, error) {
	if !b.slot.TryAcquire(1) {
		return nil, domain.ErrBuildInProgress
	}
	wctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	task := &Task{ID: uuid.NewString(), done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(task.done)
		defer b.slot.Release(1)
		defer cancel()
		task.result, task.err = b.run(wctx, task.ID, set, onCommit)
	}()
	return task, nil
}

// Build runs a build and waits for it.
func (b *Builder) Build(ctx context.Context, set domain.ChunkSet, onCommit func(*index.Index)) (*Result, error) {
	task, err := b.Start(ctx, set, onCommit)
	if err != nil {
		return nil, err
	}
	<-task.Done()
	return task.result, task.err
}

func (b *Builder) run(ctx context.Context, id string, set domain.ChunkSet, onCommit func(*index.Index)) (*Result, error) {
	start := time.Now()
	log := b.log.WithFields(logrus.Fields{"build_id": id, "path": b.path})

	segments := set.Segments
	limit := chunkCap(ctx, b.probe, log, b.cfg.MaxChunks, b.cfg.LowMemoryBytes, b.cfg.LowMemoryMaxChunks)
	dropped := 0
	if limit > 0 && len(segments) > limit {
		dropped = len(segments) - limit
		segments = segments[:limit]
		log.WithFields(logrus.Fields{"kept": limit, "dropped": dropped}).Warn("segment count capped")
	}
	truncated := set.Truncated || dropped > 0
	log.WithField("segments", len(segments)).Info("index build started")

	idx, err := b.build(ctx, segments, truncated)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &domain.BuildTimeoutError{Timeout: b.cfg.Timeout, Segments: len(segments)}
		}
		log.WithError(err).WithField("elapsed", time.Since(start)).Error("index build failed")
		return nil, err
	}

	if onCommit != nil {
		onCommit(idx)
	}
	res := &Result{
		ID:        id,
		Index:     idx,
		Segments:  idx.Len(),
		Dropped:   dropped,
		Truncated: truncated,
		Elapsed:   time.Since(start),
	}
	log.WithFields(logrus.Fields{
		"segments": res.Segments,
		"model":    idx.Meta().Model,
		"elapsed":  res.Elapsed,
	}).Info("index build committed")
	return res, nil
}

func (b *Builder) build(ctx context.Context, segments []domain.Segment, truncated bool) (*index.Index, error) {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	e, err := b.provider.ForCorpus(ctx, texts)
	if err != nil {
		return nil, err
	}
	idx, err := index.Build(ctx, segments, e, index.BuildOptions{
		BatchSize:   b.cfg.BatchSize,
		Parallelism: b.cfg.Parallelism,
		Truncated:   truncated,
	})
	if err != nil {
		return nil, err
	}
	if err := b.store.Persist(ctx, idx, b.path); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.IndexBuildError{Op: "persist", Err: err}
	}
	return idx, nil
}
