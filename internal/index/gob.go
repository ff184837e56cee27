package index

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"docchat/internal/domain"
)

const gobVersion = 1

type gobFile struct {
	Version  int
	Meta     Meta
	Segments []gobSegment
}

type gobSegment struct {
	ID     int
	Text   string
	Vector []float32
}

// GobStore keeps the whole index in a single gob-encoded file.
type GobStore struct{}

func (GobStore) Persist(ctx context.Context, idx *Index, path string) error {
	file := gobFile{Version: gobVersion, Meta: idx.meta, Segments: make([]gobSegment, len(idx.segments))}
	for i, s := range idx.segments {
		file.Segments[i] = gobSegment{ID: s.ID, Text: s.Text, Vector: s.Vector}
	}
	return writeAtomic(ctx, path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("create index file: %w", err)
		}
		w := bufio.NewWriter(f)
		if err := gob.NewEncoder(w).Encode(&file); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode index: %w", err)
		}
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return fmt.Errorf("write index: %w", err)
		}
		return f.Close()
	})
}

func (s GobStore) Load(ctx context.Context, path string, p domain.EmbedderProvider) (*Index, bool, error) {
	file, ok, err := s.read(ctx, path)
	if err != nil || !ok {
		return nil, ok, err
	}
	segments := make([]domain.Segment, len(file.Segments))
	for i, gs := range file.Segments {
		segments[i] = domain.Segment{ID: gs.ID, Text: gs.Text, Vector: gs.Vector}
	}
	idx, err := restore(path, file.Meta, segments, p)
	if err != nil {
		return nil, true, err
	}
	return idx, true, nil
}

func (s GobStore) Stat(ctx context.Context, path string) (Meta, bool, error) {
	file, ok, err := s.read(ctx, path)
	if err != nil || !ok {
		return Meta{}, ok, err
	}
	return file.Meta, true, nil
}

func (GobStore) read(ctx context.Context, path string) (*gobFile, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var file gobFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&file); err != nil {
		return nil, true, &domain.IndexCorruptError{Path: path, Err: err}
	}
	if file.Version != gobVersion {
		return nil, true, &domain.IndexCorruptError{Path: path, Err: fmt.Errorf("unsupported version %d", file.Version)}
	}
	return &file, true, nil
}
