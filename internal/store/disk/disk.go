// Package disk implements store.TransferStore with payload blobs on the
// filesystem and artifact metadata in a sqlite index.
package disk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatline/chatline-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT NOT NULL,
	kind          TEXT NOT NULL,
	original_name TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	uploader      TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
);
`

// Store keeps blobs under two directories (files, voice clips) and
// indexes completed uploads in sqlite.
type Store struct {
	db        *sql.DB
	filesDir  string
	voicesDir string
}

// New opens (or creates) the index at indexPath and ensures both blob
// directories exist. Pass ":memory:" as indexPath for tests.
func New(indexPath, filesDir, voicesDir string) (*Store, error) {
	for _, dir := range []string{filesDir, voicesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", indexPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, filesDir: filesDir, voicesDir: voicesDir}, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFile streams exactly size bytes from r into the file area and indexes
// the artifact. The stored id is "<unixMillis>_<name>" so the original name
// survives inside the id.
func (s *Store) SaveFile(ctx context.Context, originalName, uploader string, size int64, r io.Reader) (*store.Artifact, error) {
	name := filepath.Base(originalName) // strip any path components
	now := time.Now()
	art := &store.Artifact{
		ID:           fmt.Sprintf("%d_%s", now.UnixMilli(), name),
		Kind:         store.KindFile,
		OriginalName: name,
		Size:         size,
		Uploader:     uploader,
		CreatedAt:    now,
	}
	return s.save(ctx, art, filepath.Join(s.filesDir, art.ID), r)
}

// SaveVoice streams exactly size bytes from r into the voice area and indexes
// the clip. The id is "<uploader>_<unixMillis>"; two clips from one user in
// the same millisecond collide and the later one wins.
func (s *Store) SaveVoice(ctx context.Context, uploader string, durationMs, size int64, r io.Reader) (*store.Artifact, error) {
	now := time.Now()
	art := &store.Artifact{
		ID:         fmt.Sprintf("%s_%d", uploader, now.UnixMilli()),
		Kind:       store.KindVoice,
		Size:       size,
		DurationMs: durationMs,
		Uploader:   uploader,
		CreatedAt:  now,
	}
	return s.save(ctx, art, filepath.Join(s.voicesDir, art.ID+".wav"), r)
}

func (s *Store) save(ctx context.Context, art *store.Artifact, path string, r io.Reader) (*store.Artifact, error) {
	if err := writeBlob(path, art.Size, r); err != nil {
		return nil, err
	}

	query := `
		INSERT OR REPLACE INTO artifacts (id, kind, original_name, size, duration_ms, uploader, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		art.ID, string(art.Kind), art.OriginalName, art.Size, art.DurationMs, art.Uploader, art.CreatedAt.UnixMilli())
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("index artifact: %w", err)
	}
	return art, nil
}

// writeBlob copies exactly size bytes into a temp file and renames it into
// place, so a partial upload never becomes visible under the final path.
func writeBlob(path string, size int64, r io.Reader) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.CopyN(tmp, r, size)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		if errors.Is(err, io.EOF) && n < size {
			return fmt.Errorf("got %d of %d bytes: %w", n, size, store.ErrTruncated)
		}
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

// Open looks up an artifact by kind and id and opens its payload for reading.
func (s *Store) Open(ctx context.Context, kind store.Kind, id string) (io.ReadCloser, *store.Artifact, error) {
	art, err := s.lookup(ctx, kind, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.blobPath(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, art, nil
}

// List returns all artifacts of the given kind, oldest first.
func (s *Store) List(ctx context.Context, kind store.Kind) ([]store.Artifact, error) {
	query := `
		SELECT id, kind, original_name, size, duration_ms, uploader, created_at
		FROM artifacts
		WHERE kind = ?
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	arts := []store.Artifact{}
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		arts = append(arts, *art)
	}
	return arts, rows.Err()
}

func (s *Store) lookup(ctx context.Context, kind store.Kind, id string) (*store.Artifact, error) {
	query := `
		SELECT id, kind, original_name, size, duration_ms, uploader, created_at
		FROM artifacts
		WHERE kind = ? AND id = ?
	`
	art, err := scanArtifact(s.db.QueryRowContext(ctx, query, string(kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return art, err
}

func (s *Store) blobPath(kind store.Kind, id string) string {
	if kind == store.KindVoice {
		return filepath.Join(s.voicesDir, id+".wav")
	}
	return filepath.Join(s.filesDir, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*store.Artifact, error) {
	var art store.Artifact
	var kind string
	var createdAt int64
	if err := row.Scan(&art.ID, &kind, &art.OriginalName, &art.Size, &art.DurationMs, &art.Uploader, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	art.Kind = store.Kind(kind)
	art.CreatedAt = time.UnixMilli(createdAt)
	return &art, nil
}
