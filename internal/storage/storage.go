// Package storage persists the validation history as two logical documents:
// the active record set and the append-only archive.
//
// Backends are plain key/value style stores. Rotation, ordering and
// retention live in the history package; a backend only has to round-trip the
// record fields faithfully.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// Document names one of the two persisted record sets.
type Document string

const (
	DocumentActive  Document = "active"
	DocumentArchive Document = "archive"
)

// ErrMalformed reports persisted content that could not be decoded. Callers
// treat it as empty history.
var ErrMalformed = errors.New("malformed history document")

// Backend reads and writes whole documents.
type Backend interface {
	// Load returns the stored records, or nil when the document does not exist.
	Load(ctx context.Context, doc Document) ([]models.ValidationRecord, error)
	// Save replaces the document with records.
	Save(ctx context.Context, doc Document, records []models.ValidationRecord) error
	// Clear removes the document. Clearing a missing document is not an error.
	Clear(ctx context.Context, doc Document) error
	Close() error
}

// Config selects and parameterises a backend.
type Config struct {
	// Driver is one of "", "none", "file", "sqlite" or "badger".
	Driver string
	// Path is the JSON file (file), database file (sqlite) or directory (badger).
	Path string
	// InMemory opens badger without touching disk. Ignored by other drivers.
	InMemory bool
	Logger   *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Open constructs the configured backend. It returns a nil Backend and nil
// error when persistence is disabled. A sqlite file or badger directory that
// cannot be read as a database is moved aside with a warning and replaced by
// an empty one.
func Open(cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "file", "json":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file storage requires a path")
		}
		return NewFileBackend(cfg.Path), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		b, err := OpenSQLite(cfg.Path)
		if err != nil && isCorruptSQLite(err) {
			if err = quarantine(cfg.logger(), cfg.Path, err, cfg.Path+"-wal", cfg.Path+"-shm"); err == nil {
				b, err = OpenSQLite(cfg.Path)
			}
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	case "badger":
		if cfg.Path == "" && !cfg.InMemory {
			return nil, fmt.Errorf("badger storage requires a path")
		}
		b, err := OpenBadger(cfg.Path, cfg.InMemory)
		if err != nil && !cfg.InMemory && isCorruptBadger(err) {
			if err = quarantine(cfg.logger(), cfg.Path, err); err == nil {
				b, err = OpenBadger(cfg.Path, false)
			}
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
