package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contract-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection also serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	storage_path    TEXT NOT NULL DEFAULT '',
	size_bytes      INTEGER NOT NULL DEFAULT 0,
	mime_type       TEXT NOT NULL DEFAULT '',
	extracted_terms TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contract_columns (
	owner_id    TEXT NOT NULL,
	id          TEXT NOT NULL,
	label       TEXT NOT NULL,
	description TEXT,
	visible     INTEGER NOT NULL DEFAULT 1,
	sort_order  INTEGER NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (owner_id, id)
);

CREATE INDEX IF NOT EXISTS idx_contracts_owner ON contracts(owner_id, created_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec model.DurableRecord) error {
	termsJSON, err := marshalTerms(rec.ExtractedTerms)
	if err != nil {
		return eris.Wrap(err, "sqlite: save record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contracts (id, owner_id, display_name, storage_path, size_bytes, mime_type, extracted_terms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			storage_path = excluded.storage_path,
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type,
			extracted_terms = excluded.extracted_terms,
			updated_at = excluded.updated_at
		 WHERE contracts.owner_id = excluded.owner_id`,
		rec.ID, rec.OwnerID, rec.DisplayName, rec.StoragePath, rec.SizeBytes, rec.MimeType,
		string(termsJSON), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save record %s", rec.ID)
}

func (s *SQLiteStore) UpdateExtractedTerms(ctx context.Context, ownerID, id string, terms model.Terms) error {
	termsJSON, err := marshalTerms(terms)
	if err != nil {
		return eris.Wrap(err, "sqlite: update terms")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET extracted_terms = ?, updated_at = ? WHERE owner_id = ? AND id = ?`,
		string(termsJSON), time.Now().UTC(), ownerID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update terms %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, ownerID string) ([]model.DurableRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, display_name, storage_path, size_bytes, mime_type, extracted_terms, created_at, updated_at
		 FROM contracts WHERE owner_id = ? ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DurableRecord
	for rows.Next() {
		var r model.DurableRecord
		var termsJSON string
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.DisplayName, &r.StoragePath, &r.SizeBytes, &r.MimeType,
			&termsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if r.ExtractedTerms, err = unmarshalTerms([]byte(termsJSON)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: record %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) CountRecordsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contracts WHERE created_at >= ?`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

func (s *SQLiteStore) SaveColumn(ctx context.Context, ownerID string, col model.Column) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contract_columns (owner_id, id, label, description, visible, sort_order, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, id) DO UPDATE SET
			label = excluded.label,
			description = excluded.description,
			visible = excluded.visible,
			sort_order = excluded.sort_order,
			updated_at = excluded.updated_at`,
		ownerID, col.ID, col.Label, nullString(col.Description), col.Visible, col.Order, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save column %s", col.ID)
}

func (s *SQLiteStore) ListColumns(ctx context.Context, ownerID string) ([]model.Column, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, description, visible, sort_order FROM contract_columns
		 WHERE owner_id = ? ORDER BY sort_order, id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list columns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Column
	for rows.Next() {
		var c model.Column
		var desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Label, &desc, &c.Visible, &c.Order); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column")
		}
		if desc.Valid {
			c.Description = model.StringPtr(desc.String)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate columns")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func marshalTerms(terms model.Terms) ([]byte, error) {
	if terms == nil {
		terms = model.Terms{}
	}
	b, err := json.Marshal(terms)
	return b, eris.Wrap(err, "marshal terms")
}

func unmarshalTerms(b []byte) (model.Terms, error) {
	terms := model.Terms{}
	if len(b) == 0 {
		return terms, nil
	}
	if err := json.Unmarshal(b, &terms); err != nil {
		return nil, eris.Wrap(err, "unmarshal terms")
	}
	return terms, nil
}
