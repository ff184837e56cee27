package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"docchat/internal/domain"
)

const (
	FormatGob    = "gob"
	FormatSQLite = "sqlite"
)

// Store persists an index at a path and loads it back.
type Store interface {
	// Persist atomically replaces whatever is at path with idx. A reader
	// never observes a partially written file.
	Persist(ctx context.Context, idx *Index, path string) error
	// Load returns false when nothing exists at path. The provider restores
	// the embedder recorded in the index and rejects incompatible ones.
	Load(ctx context.Context, path string, p domain.EmbedderProvider) (*Index, bool, error)
	// Stat reads the metadata of the index at path without restoring it.
	Stat(ctx context.Context, path string) (Meta, bool, error)
}

// NewStore returns the store for the named on-disk format.
func NewStore(format string) (Store, error) {
	switch format {
	case "", FormatGob:
		return GobStore{}, nil
	case FormatSQLite:
		return SQLiteStore{}, nil
	default:
		return nil, fmt.Errorf("unknown index format %q", format)
	}
}

// Remove deletes the index at path along with any temporary files left next
// to it. A missing index is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, tmp := range tempFiles(path) {
		_ = os.Remove(tmp)
	}
	return nil
}

func tempPath(path string) string {
	return path + ".tmp-" + uuid.NewString()
}

func tempFiles(path string) []string {
	matches, _ := filepath.Glob(path + ".tmp-*")
	return matches
}

// writeAtomic lets write fill a fresh temporary file next to path, syncs it
// and renames it over path. The temporary file is removed on any failure,
// including cancellation of ctx before the rename.
func writeAtomic(ctx context.Context, path string, write func(tmp string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := tempPath(path)
	defer func() {
		if err != nil {
			removeWithSidecars(tmp)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := syncFile(tmp); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	syncDir(dir)
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func removeWithSidecars(path string) {
	_ = os.Remove(path)
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}

// restore turns persisted metadata and segments into a searchable index.
// Structural problems are reported as corruption; an incompatible embedder
// is reported as a model mismatch.
func restore(path string, meta Meta, segments []domain.Segment, p domain.EmbedderProvider) (*Index, error) {
	e, err := p.Restore(meta.Model, meta.Dimension, meta.ModelState)
	if err != nil {
		if errors.Is(err, domain.ErrModelMismatch) {
			return nil, err
		}
		return nil, &domain.IndexCorruptError{Path: path, Err: err}
	}
	idx, err := assemble(meta, segments, e)
	if err != nil {
		return nil, &domain.IndexCorruptError{Path: path, Err: err}
	}
	return idx, nil
}
