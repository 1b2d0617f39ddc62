package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

// SQLiteBackend keeps both documents in one table, ordered by position.
type SQLiteBackend struct {
	db *sql.DB
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS validation_records (
		document TEXT NOT NULL,
		position INTEGER NOT NULL,
		is_valid INTEGER NOT NULL,
		issues TEXT NOT NULL,
		confidence_score REAL NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (document, position)
	)`,
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := current; i < len(sqliteMigrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(sqliteMigrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, doc Document) ([]models.ValidationRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT is_valid, issues, confidence_score, recorded_at
		   FROM validation_records WHERE document = ? ORDER BY position`, string(doc))
	if err != nil {
		return nil, utils.NewAppError("storage.sqlite.load", string(doc), err)
	}
	defer rows.Close()

	var records []models.ValidationRecord
	for rows.Next() {
		var (
			valid  int
			issues string
			score  float64
			ts     string
		)
		if err := rows.Scan(&valid, &issues, &score, &ts); err != nil {
			return nil, utils.NewAppError("storage.sqlite.load", "scan row", err)
		}
		rec := models.ValidationRecord{IsValid: valid != 0, ConfidenceScore: score}
		if err := json.Unmarshal([]byte(issues), &rec.Issues); err != nil {
			return nil, fmt.Errorf("%w: issues column: %v", ErrMalformed, err)
		}
		if rec.Issues == nil {
			rec.Issues = []string{}
		}
		if rec.Timestamp, err = utils.ParseRFC3339(ts); err != nil {
			return nil, fmt.Errorf("%w: recorded_at column: %v", ErrMalformed, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("storage.sqlite.load", "iterate rows", err)
	}
	return records, nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, doc Document, records []models.ValidationRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError("storage.sqlite.save", "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM validation_records WHERE document = ?`, string(doc)); err != nil {
		return utils.NewAppError("storage.sqlite.save", "truncate", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO validation_records (document, position, is_valid, issues, confidence_score, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return utils.NewAppError("storage.sqlite.save", "prepare", err)
	}
	defer stmt.Close()

	for i, r := range records {
		issues := r.Issues
		if issues == nil {
			issues = []string{}
		}
		encoded, err := json.Marshal(issues)
		if err != nil {
			return utils.NewAppError("storage.sqlite.save", "encode issues", err)
		}
		valid := 0
		if r.IsValid {
			valid = 1
		}
		if _, err := stmt.ExecContext(ctx, string(doc), i, valid, string(encoded),
			r.ConfidenceScore, r.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return utils.NewAppError("storage.sqlite.save", "insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError("storage.sqlite.save", "commit", err)
	}
	return nil
}

// Clear implements Backend.
func (b *SQLiteBackend) Clear(ctx context.Context, doc Document) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM validation_records WHERE document = ?`, string(doc)); err != nil {
		return utils.NewAppError("storage.sqlite.clear", string(doc), err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
