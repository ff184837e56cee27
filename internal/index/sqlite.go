package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"docchat/internal/domain"
)

const sqliteSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE segments (
	id        INTEGER PRIMARY KEY,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);`

// SQLiteStore keeps the index in a SQLite database with one row per segment.
// Embeddings are stored as little-endian float32 blobs.
type SQLiteStore struct{}

func (SQLiteStore) Persist(ctx context.Context, idx *Index, path string) error {
	return writeAtomic(ctx, path, func(tmp string) error {
		db, err := sql.Open("sqlite", tmp)
		if err != nil {
			return fmt.Errorf("open index db: %w", err)
		}
		if err := writeSQLite(ctx, db, idx); err != nil {
			_ = db.Close()
			return err
		}
		return db.Close()
	})
}

func writeSQLite(ctx context.Context, db *sql.DB, idx *Index) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create index schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	m := idx.meta
	meta := map[string][]byte{
		"version":       []byte("1"),
		"built_at":      []byte(m.BuiltAt.Format(time.RFC3339Nano)),
		"segment_count": []byte(strconv.Itoa(m.SegmentCount)),
		"model":         []byte(m.Model),
		"dimension":     []byte(strconv.Itoa(m.Dimension)),
		"model_state":   m.ModelState,
		"truncated":     []byte(strconv.FormatBool(m.Truncated)),
	}
	for k, v := range meta {
		if v == nil {
			v = []byte{}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write index meta: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments(id, text, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range idx.segments {
		if _, err := stmt.ExecContext(ctx, s.ID, s.Text, encodeVector(s.Vector)); err != nil {
			return fmt.Errorf("write segment %d: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

func (s SQLiteStore) Load(ctx context.Context, path string, p domain.EmbedderProvider) (*Index, bool, error) {
	db, ok, err := openExisting(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer db.Close()

	meta, err := readSQLiteMeta(ctx, db)
	if err != nil {
		return nil, true, corruptOrCtx(ctx, path, err)
	}
	rows, err := db.QueryContext(ctx, `SELECT id, text, embedding FROM segments ORDER BY id`)
	if err != nil {
		return nil, true, corruptOrCtx(ctx, path, err)
	}
	defer rows.Close()

	segments := make([]domain.Segment, 0, meta.SegmentCount)
	for rows.Next() {
		var (
			seg  domain.Segment
			blob []byte
		)
		if err := rows.Scan(&seg.ID, &seg.Text, &blob); err != nil {
			return nil, true, corruptOrCtx(ctx, path, err)
		}
		if seg.Vector, err = decodeVector(blob); err != nil {
			return nil, true, &domain.IndexCorruptError{Path: path, Err: err}
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, true, corruptOrCtx(ctx, path, err)
	}

	idx, err := restore(path, meta, segments, p)
	if err != nil {
		return nil, true, err
	}
	return idx, true, nil
}

func (SQLiteStore) Stat(ctx context.Context, path string) (Meta, bool, error) {
	db, ok, err := openExisting(path)
	if err != nil || !ok {
		return Meta{}, ok, err
	}
	defer db.Close()
	meta, err := readSQLiteMeta(ctx, db)
	if err != nil {
		return Meta{}, true, corruptOrCtx(ctx, path, err)
	}
	return meta, true, nil
}

// openExisting opens the database at path without creating it.
func openExisting(path string) (*sql.DB, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat index: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, true, &domain.IndexCorruptError{Path: path, Err: err}
	}
	return db, true, nil
}

func readSQLiteMeta(ctx context.Context, db *sql.DB) (Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, err
	}
	defer rows.Close()
	kv := make(map[string][]byte)
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, err
	}
	if string(kv["version"]) != "1" {
		return Meta{}, fmt.Errorf("unsupported version %q", kv["version"])
	}

	var m Meta
	if m.BuiltAt, err = time.Parse(time.RFC3339Nano, string(kv["built_at"])); err != nil {
		return Meta{}, fmt.Errorf("built_at: %w", err)
	}
	if m.SegmentCount, err = strconv.Atoi(string(kv["segment_count"])); err != nil {
		return Meta{}, fmt.Errorf("segment_count: %w", err)
	}
	if m.Dimension, err = strconv.Atoi(string(kv["dimension"])); err != nil {
		return Meta{}, fmt.Errorf("dimension: %w", err)
	}
	if m.Truncated, err = strconv.ParseBool(string(kv["truncated"])); err != nil {
		return Meta{}, fmt.Errorf("truncated: %w", err)
	}
	m.Model = string(kv["model"])
	if len(kv["model_state"]) > 0 {
		m.ModelState = kv["model_state"]
	}
	return m, nil
}

func corruptOrCtx(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &domain.IndexCorruptError{Path: path, Err: err}
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
