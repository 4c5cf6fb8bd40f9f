// Package storage persists Sphere's documents on a WebDAV volume:
// long-term memory markdown, daily session snapshots, and archive
// records. A small TTL cache sits in front of the remote so chat-path
// reads do not pay a round trip per request.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that a document does not exist at the given path.
var ErrNotFound = errors.New("storage: not found")

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// OpError wraps a backend failure with the operation and path it hit.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Store is the document access surface the rest of the system uses.
// Paths are absolute on the backing volume.
type Store interface {
	// List returns the file names (not full paths) directly under dir.
	List(ctx context.Context, dir string) ([]string, error)
	// Read returns the content of the file at path, or ErrNotFound.
	Read(ctx context.Context, path string) (string, error)
	// Write creates or replaces the file at path.
	Write(ctx context.Context, path string, content string) error
	// Delete removes the file at path. Deleting a missing file is not
	// an error.
	Delete(ctx context.Context, path string) error
}

// Scopes are the three directories Sphere works in.
type Scopes struct {
	// Memory holds long-term memory documents (M3).
	Memory string
	// Sessions holds finished daily archives.
	Sessions string
	// Current holds the live session snapshot.
	Current string
}
