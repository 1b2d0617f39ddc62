package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isCorruptSQLite reports whether err says the file is not a usable database.
func isCorruptSQLite(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}

// isCorruptBadger reports whether a badger open failure stems from the
// directory contents rather than from locking or permissions.
func isCorruptBadger(err error) bool {
	switch {
	case errors.Is(err, syscall.EWOULDBLOCK), errors.Is(err, syscall.EAGAIN):
		return false
	case errors.Is(err, fs.ErrPermission):
		return false
	}
	return true
}

// quarantine renames path, and any companion files that exist, to
// <name>.corrupt-<unix seconds>.
func quarantine(logger *slog.Logger, path string, cause error, companions ...string) error {
	suffix := fmt.Sprintf(".corrupt-%d", time.Now().Unix())
	for _, p := range append([]string{path}, companions...) {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.Rename(p, p+suffix); err != nil {
			return fmt.Errorf("quarantine %s: %w (open failed: %v)", p, err, cause)
		}
	}
	logger.Warn("discarding unreadable validation history store",
		slog.String("path", path),
		slog.String("moved_to", path+suffix),
		slog.Any("error", cause),
	)
	return nil
}
