package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// FileBackend stores each document as an indented JSON array. The active
// document lives at path and the archive next to it as <stem>_archive<ext>.
type FileBackend struct {
	mu          sync.Mutex
	activePath  string
	archivePath string
}

// NewFileBackend returns a backend rooted at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{activePath: path, archivePath: ArchivePath(path)}
}

// ArchivePath derives the archive file location for an active history path.
func ArchivePath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(filepath.Dir(path), stem+"_archive"+ext)
}

func (b *FileBackend) pathFor(doc Document) string {
	if doc == DocumentArchive {
		return b.archivePath
	}
	return b.activePath
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, doc Document) ([]models.ValidationRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.pathFor(doc))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.NewAppError("storage.file.load", string(doc), err)
	}
	return unmarshalRecords(data)
}

// Save implements Backend. Writes go through a temp file and rename so a crash
// never leaves a half-written document behind.
func (b *FileBackend) Save(_ context.Context, doc Document, records []models.ValidationRecord) error {
	data, err := marshalRecords(records, true)
	if err != nil {
		return utils.NewAppError("storage.file.save", string(doc), err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.pathFor(doc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return utils.NewAppError("storage.file.save", "create directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return utils.NewAppError("storage.file.save", "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return utils.NewAppError("storage.file.save", "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError("storage.file.save", "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return utils.NewAppError("storage.file.save", "rename temp file", err)
	}
	return nil
}

// Clear implements Backend.
func (b *FileBackend) Clear(_ context.Context, doc Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.pathFor(doc)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return utils.NewAppError("storage.file.clear", string(doc), err)
	}
	return nil
}

// Close is a no-op for files.
func (b *FileBackend) Close() error { return nil }
