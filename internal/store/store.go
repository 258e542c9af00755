package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// Kind distinguishes the two artifact families sharing the store.
type Kind string

const (
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
)

// Artifact is a completed upload: a shared file or a voice clip.
// Files keep the uploader-supplied name inside their id; voice clips
// are identified solely by a generated id and carry a duration instead.
type Artifact struct {
	ID           string
	Kind         Kind
	OriginalName string
	Size         int64
	DurationMs   int64
	Uploader     string
	CreatedAt    time.Time
}

var (
	// ErrNotFound is returned when no artifact matches the given kind and id.
	ErrNotFound = errors.New("artifact not found")
	// ErrTruncated is returned when an upload stream ends before the
	// announced byte count is reached. No artifact is recorded.
	ErrTruncated = errors.New("truncated upload")
)

// TransferStore persists upload payloads and enumerates them for download.
// An artifact becomes visible only after its payload has been fully written.
type TransferStore interface {
	SaveFile(ctx context.Context, originalName, uploader string, size int64, r io.Reader) (*Artifact, error)
	SaveVoice(ctx context.Context, uploader string, durationMs, size int64, r io.Reader) (*Artifact, error)
	Open(ctx context.Context, kind Kind, id string) (io.ReadCloser, *Artifact, error)
	List(ctx context.Context, kind Kind) ([]Artifact, error)
	Close() error
}
