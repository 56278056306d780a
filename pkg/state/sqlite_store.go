package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS datastore_records (
	id          TEXT PRIMARY KEY,
	domain      TEXT NOT NULL,
	name        TEXT NOT NULL,
	record      TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	etag        TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	extra       TEXT
);
CREATE INDEX IF NOT EXISTS idx_datastore_records_domain ON datastore_records(domain);
`

// SQLiteStore persists container records as JSON documents in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
	now   func() time.Time
}

// NewSQLiteStore opens the database at path and creates the records table.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	store := &SQLiteStore{db: db, owned: true, now: time.Now}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. Call Migrate before use.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Migrate creates the records table when missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("state: migrate: %w", err)
	}
	return nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, ref Ref) (map[string]any, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, Meta{}, false, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT record, snapshot_id, etag, updated_at, extra
		FROM datastore_records
		WHERE id = ?
	`, key)

	var (
		rawRecord string
		updatedAt string
		extra     sql.NullString
		meta      Meta
	)
	err = row.Scan(&rawRecord, &meta.SnapshotID, &meta.ETag, &updatedAt, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Meta{}, false, nil
	}
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: load %s: %w", key, err)
	}

	record, err := decodeRecord(rawRecord)
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	if meta.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: decode %s updated_at: %w", key, err)
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &meta.Extra); err != nil {
			return nil, Meta{}, false, fmt.Errorf("state: decode %s extra: %w", key, err)
		}
	}
	return record, meta, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, ref Ref, record map[string]any, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	if record == nil {
		record = map[string]any{}
	}
	rawRecord, err := json.Marshal(record)
	if err != nil {
		return Meta{}, fmt.Errorf("state: encode %s: %w", key, err)
	}

	stamped := stampMeta(meta, s.now())
	var extra sql.NullString
	if len(stamped.Extra) > 0 {
		raw, err := json.Marshal(stamped.Extra)
		if err != nil {
			return Meta{}, fmt.Errorf("state: encode %s extra: %w", key, err)
		}
		extra = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datastore_records (id, domain, name, record, snapshot_id, etag, updated_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			snapshot_id = excluded.snapshot_id,
			etag = excluded.etag,
			updated_at = excluded.updated_at,
			extra = excluded.extra
	`, key, ref.Domain, ref.Name, string(rawRecord), stamped.SnapshotID, stamped.ETag,
		stamped.UpdatedAt.Format(time.RFC3339Nano), extra)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %s: %w", key, err)
	}
	return stamped, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM datastore_records WHERE id = ?`, key)
	return err
}

// Names lists the record names stored for domain.
func (s *SQLiteStore) Names(ctx context.Context, domain string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM datastore_records WHERE domain = ? ORDER BY name
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("state: list %s: %w", domain, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// decodeRecord keeps integer fidelity by decoding numbers as json.Number.
func decodeRecord(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}
