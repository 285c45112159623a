package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a Ledger backed by a local SQLite database.
//
// The database is configured with WAL mode for concurrent reads, NORMAL
// synchronous mode, a 5-second busy timeout, and a single-connection pool
// (SQLite supports one writer at a time; a pool of one avoids SQLITE_BUSY).
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path and applies the schema.
// Idempotent - safe to call against an existing database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// ReadRecords returns every ledger row as a raw Record. The stored field
// map is merged with the ledger-owned columns; "id", "status", "last_error"
// and "revision" always win over any same-named source field.
func (s *SQLite) ReadRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields, status, last_error, revision
		FROM records
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, fieldsJSON, status, lastError string
		var revision int64
		if err := rows.Scan(&id, &fieldsJSON, &status, &lastError, &revision); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		rec := Record{}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec); err != nil {
			return nil, fmt.Errorf("decode fields for record %s: %w", id, err)
		}
		rec["id"] = id
		rec["status"] = status
		rec["last_error"] = lastError
		rec["revision"] = strconv.FormatInt(revision, 10)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return out, nil
}

// WriteStatusBatch applies one cycle's status updates in a single
// transaction. Either the whole batch lands or none of it does, which is
// what lets a failed flush be retried verbatim on the next cycle.
//
// The write is idempotent: status and last_error are set absolutely, so
// replaying the same batch leaves the stored state unchanged.
func (s *SQLite) WriteStatusBatch(ctx context.Context, batch StatusBatch) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write status batch: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE records
		SET status = ?, last_error = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("write status batch: prepare: %w", err)
	}
	defer stmt.Close()

	for id, update := range batch {
		if _, err := stmt.ExecContext(ctx, update.Status, update.Error, id); err != nil {
			return fmt.Errorf("write status for record %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write status batch: commit: %w", err)
	}
	return nil
}

// SentFingerprints returns the persisted delivered-content set.
func (s *SQLite) SentFingerprints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint FROM sent_fingerprints ORDER BY fingerprint
	`)
	if err != nil {
		return nil, fmt.Errorf("read sent fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sent fingerprints: %w", err)
	}
	return fps, nil
}

// AddFingerprints persists newly delivered fingerprints.
// ON CONFLICT DO NOTHING makes replays after a crash harmless.
func (s *SQLite) AddFingerprints(ctx context.Context, fps []string) error {
	if len(fps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add fingerprints: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sent_fingerprints (fingerprint) VALUES (?)
		ON CONFLICT(fingerprint) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("add fingerprints: prepare: %w", err)
	}
	defer stmt.Close()

	for _, fp := range fps {
		if _, err := stmt.ExecContext(ctx, fp); err != nil {
			return fmt.Errorf("add fingerprint %s: %w", fp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add fingerprints: commit: %w", err)
	}
	return nil
}

// UpsertRecords stores raw source rows, keyed by their "id" field. Rows
// without an id are skipped and counted in the returned number of dropped
// rows. A row whose field content changed gets a bumped revision and its
// status reset to pending; an unchanged row is left untouched, preserving
// its delivery status across reloads.
func (s *SQLite) UpsertRecords(ctx context.Context, records []Record) (stored, dropped int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert records: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		id := rec["id"]
		if id == "" {
			dropped++
			continue
		}

		fields := make(Record, len(rec))
		for k, v := range rec {
			switch k {
			case "id", "status", "last_error", "revision":
				// Ledger-owned columns never round-trip through fields.
			default:
				fields[k] = v
			}
		}
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return stored, dropped, fmt.Errorf("encode fields for record %s: %w", id, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (id, fields) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET
				fields = excluded.fields,
				revision = revision + 1,
				status = 'pending',
				last_error = '',
				updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			WHERE records.fields != excluded.fields
		`, id, string(fieldsJSON))
		if err != nil {
			return stored, dropped, fmt.Errorf("upsert record %s: %w", id, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return stored, dropped, fmt.Errorf("upsert records: commit: %w", err)
	}
	return stored, dropped, nil
}
