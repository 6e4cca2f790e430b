// Package store persists annotated documents for the index builder.
//
// Two backends implement DocStore: SQLite for a single file with queryable
// columns, and Badger for a key-value store of serialized documents.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/abelbrown/storyline/internal/model"
)

// ErrNotFound is returned when a document is not in the store.
var ErrNotFound = errors.New("document not found")

// ErrStopScan may be returned by a Scan callback to end the scan early
// without an error.
var ErrStopScan = errors.New("stop scan")

// DocStore holds documents keyed by filename. Implementations are safe for
// concurrent use.
type DocStore interface {
	// Put inserts or replaces doc and reports whether it was new.
	Put(ctx context.Context, doc *model.Document) (created bool, err error)
	Get(ctx context.Context, filename string) (*model.Document, error)
	// Delete removes a document and reports whether it existed.
	Delete(ctx context.Context, filename string) (existed bool, err error)
	// Scan calls fn for every document in filename order.
	Scan(ctx context.Context, fn func(*model.Document) error) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config selects and locates a backend.
type Config struct {
	Backend string `toml:"backend"`
	// Path is the SQLite database file, or ":memory:".
	Path string `toml:"path"`
	// Dir is the Badger directory. Empty runs Badger in memory.
	Dir string `toml:"dir"`
}

// Open returns the backend named by cfg.Backend.
func Open(cfg Config) (DocStore, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return OpenSQLite(path)
	case BackendBadger:
		return OpenBadger(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func validName(doc *model.Document) error {
	if doc == nil || doc.Filename == "" {
		return errors.New("document has no filename")
	}
	return nil
}
