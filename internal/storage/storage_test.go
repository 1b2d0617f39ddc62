package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

func sampleRecords() []models.ValidationRecord {
	base := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return []models.ValidationRecord{
		{IsValid: true, Issues: []string{}, ConfidenceScore: 0.91, Timestamp: base},
		{IsValid: false, Issues: []string{"missing examples", "technical level too advanced"}, ConfidenceScore: 0.42, Timestamp: base.Add(time.Hour)},
	}
}

func assertRecordsEqual(t *testing.T, got, want []models.ValidationRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.IsValid != w.IsValid || g.ConfidenceScore != w.ConfidenceScore || !g.Timestamp.Equal(w.Timestamp) {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, g, w)
		}
		if len(g.Issues) != len(w.Issues) {
			t.Fatalf("record %d issues mismatch: got %v want %v", i, g.Issues, w.Issues)
		}
		for j := range w.Issues {
			if g.Issues[j] != w.Issues[j] {
				t.Fatalf("record %d issue %d mismatch: got %q want %q", i, j, g.Issues[j], w.Issues[j])
			}
		}
	}
}

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	got, err := b.Load(ctx, DocumentActive)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty document, got %d records", len(got))
	}

	records := sampleRecords()
	if err := b.Save(ctx, DocumentActive, records); err != nil {
		t.Fatalf("save active: %v", err)
	}
	if err := b.Save(ctx, DocumentArchive, records[:1]); err != nil {
		t.Fatalf("save archive: %v", err)
	}

	active, err := b.Load(ctx, DocumentActive)
	if err != nil {
		t.Fatalf("load active: %v", err)
	}
	assertRecordsEqual(t, active, records)

	archive, err := b.Load(ctx, DocumentArchive)
	if err != nil {
		t.Fatalf("load archive: %v", err)
	}
	assertRecordsEqual(t, archive, records[:1])

	if err := b.Save(ctx, DocumentActive, records[1:]); err != nil {
		t.Fatalf("overwrite active: %v", err)
	}
	active, err = b.Load(ctx, DocumentActive)
	if err != nil {
		t.Fatalf("reload active: %v", err)
	}
	assertRecordsEqual(t, active, records[1:])

	if err := b.Clear(ctx, DocumentActive); err != nil {
		t.Fatalf("clear active: %v", err)
	}
	if err := b.Clear(ctx, DocumentActive); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	active, err = b.Load(ctx, DocumentActive)
	if err != nil {
		t.Fatalf("load cleared: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected cleared document, got %d records", len(active))
	}
	archive, err = b.Load(ctx, DocumentArchive)
	if err != nil {
		t.Fatalf("load archive after clear: %v", err)
	}
	assertRecordsEqual(t, archive, records[:1])
}

func TestFileBackendRoundTrip(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "validation_history.json"))
	defer b.Close()
	exerciseBackend(t, b)
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer b.Close()
	exerciseBackend(t, b)
}

func TestSQLiteBackendReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	b, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := b.Save(context.Background(), DocumentActive, sampleRecords()); err != nil {
		t.Fatalf("save: %v", err)
	}
	b.Close()

	b, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer b.Close()
	got, err := b.Load(context.Background(), DocumentActive)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertRecordsEqual(t, got, sampleRecords())
}

func TestBadgerBackendRoundTrip(t *testing.T) {
	b, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	defer b.Close()
	exerciseBackend(t, b)
}

func TestArchivePath(t *testing.T) {
	got := ArchivePath(filepath.Join("data", "validation_history.json"))
	want := filepath.Join("data", "validation_history_archive.json")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFileBackendMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"not json":      "{{{",
		"wrong shape":   `{"is_valid": true}`,
		"missing field": `[{"issues": [], "confidence_score": 0.5, "timestamp": "2024-01-01T00:00:00Z"}]`,
		"bad timestamp": `[{"is_valid": true, "issues": [], "confidence_score": 0.5, "timestamp": "yesterday"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history.json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			_, err := NewFileBackend(path).Load(context.Background(), DocumentActive)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestFileBackendNullIssuesDecodeAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	body := `[{"is_valid": false, "issues": null, "confidence_score": 0.3, "timestamp": "2024-01-01T00:00:00Z"}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	got, err := NewFileBackend(path).Load(context.Background(), DocumentActive)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Issues == nil || len(got[0].Issues) != 0 {
		t.Fatalf("expected one record with empty issues, got %+v", got)
	}
}

func TestOpenDrivers(t *testing.T) {
	b, err := Open(Config{Driver: "none"})
	if err != nil || b != nil {
		t.Fatalf("expected disabled storage, got %v, %v", b, err)
	}
	if _, err := Open(Config{Driver: "file"}); err == nil {
		t.Fatalf("expected error for file driver without path")
	}
	if _, err := Open(Config{Driver: "cassandra", Path: "x"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	b, err = Open(Config{Driver: "badger", InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*BadgerBackend); !ok {
		t.Fatalf("expected *BadgerBackend, got %T", b)
	}
}

func quarantined(t *testing.T, path string) []string {
	t.Helper()
	matches, err := filepath.Glob(path + ".corrupt-*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestOpenSQLiteQuarantinesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("not a database "), 512), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b, err := Open(Config{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("open over corrupt file: %v", err)
	}
	defer b.Close()

	got, err := b.Load(context.Background(), DocumentActive)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty history, got %d records (%v)", len(got), err)
	}
	if moved := quarantined(t, path); len(moved) != 1 {
		t.Fatalf("expected corrupt file moved aside, got %v", moved)
	}
	exerciseBackend(t, b)
}

func TestOpenBadgerQuarantinesCorruptDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "MANIFEST"), bytes.Repeat([]byte{0xde, 0xad}, 64), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b, err := Open(Config{Driver: "badger", Path: dir})
	if err != nil {
		t.Fatalf("open over corrupt directory: %v", err)
	}
	defer b.Close()

	if moved := quarantined(t, dir); len(moved) != 1 {
		t.Fatalf("expected corrupt directory moved aside, got %v", moved)
	}
	exerciseBackend(t, b)
}

func TestIsCorruptBadgerIgnoresLockErrors(t *testing.T) {
	if isCorruptBadger(fmt.Errorf("acquire directory lock: %w", syscall.EWOULDBLOCK)) {
		t.Fatalf("lock contention must not be treated as corruption")
	}
	if isCorruptBadger(fmt.Errorf("open: %w", fs.ErrPermission)) {
		t.Fatalf("permission errors must not be treated as corruption")
	}
	if !isCorruptBadger(errors.New("manifest has bad magic")) {
		t.Fatalf("expected manifest errors to count as corruption")
	}
}
