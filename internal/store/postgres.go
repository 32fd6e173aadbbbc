package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	storage_path    TEXT NOT NULL DEFAULT '',
	size_bytes      BIGINT NOT NULL DEFAULT 0,
	mime_type       TEXT NOT NULL DEFAULT '',
	extracted_terms JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contract_columns (
	owner_id    TEXT NOT NULL,
	id          TEXT NOT NULL,
	label       TEXT NOT NULL,
	description TEXT,
	visible     BOOLEAN NOT NULL DEFAULT true,
	sort_order  INTEGER NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, id)
);

CREATE INDEX IF NOT EXISTS idx_contracts_owner ON contracts(owner_id, created_at);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec model.DurableRecord) error {
	termsJSON, err := marshalTerms(rec.ExtractedTerms)
	if err != nil {
		return eris.Wrap(err, "postgres: save record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO contracts (id, owner_id, display_name, storage_path, size_bytes, mime_type, extracted_terms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			storage_path = EXCLUDED.storage_path,
			size_bytes = EXCLUDED.size_bytes,
			mime_type = EXCLUDED.mime_type,
			extracted_terms = EXCLUDED.extracted_terms,
			updated_at = EXCLUDED.updated_at
		 WHERE contracts.owner_id = EXCLUDED.owner_id`,
		rec.ID, rec.OwnerID, rec.DisplayName, rec.StoragePath, rec.SizeBytes, rec.MimeType,
		termsJSON, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save record %s", rec.ID)
}

func (s *PostgresStore) UpdateExtractedTerms(ctx context.Context, ownerID, id string, terms model.Terms) error {
	termsJSON, err := marshalTerms(terms)
	if err != nil {
		return eris.Wrap(err, "postgres: update terms")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts SET extracted_terms = $1, updated_at = now() WHERE owner_id = $2 AND id = $3`,
		termsJSON, ownerID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update terms %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, ownerID string) ([]model.DurableRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, display_name, storage_path, size_bytes, mime_type, extracted_terms, created_at, updated_at
		 FROM contracts WHERE owner_id = $1 ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.DurableRecord
	for rows.Next() {
		var r model.DurableRecord
		var termsJSON []byte
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.DisplayName, &r.StoragePath, &r.SizeBytes, &r.MimeType,
			&termsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if r.ExtractedTerms, err = unmarshalTerms(termsJSON); err != nil {
			return nil, eris.Wrapf(err, "postgres: record %s", r.ID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) CountRecordsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contracts WHERE created_at >= $1`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count records")
}

func (s *PostgresStore) SaveColumn(ctx context.Context, ownerID string, col model.Column) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contract_columns (owner_id, id, label, description, visible, sort_order, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (owner_id, id) DO UPDATE SET
			label = EXCLUDED.label,
			description = EXCLUDED.description,
			visible = EXCLUDED.visible,
			sort_order = EXCLUDED.sort_order,
			updated_at = now()`,
		ownerID, col.ID, col.Label, col.Description, col.Visible, col.Order,
	)
	return eris.Wrapf(err, "postgres: save column %s", col.ID)
}

func (s *PostgresStore) ListColumns(ctx context.Context, ownerID string) ([]model.Column, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, label, description, visible, sort_order FROM contract_columns
		 WHERE owner_id = $1 ORDER BY sort_order, id`,
		ownerID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list columns")
	}
	defer rows.Close()

	var out []model.Column
	for rows.Next() {
		var c model.Column
		if err := rows.Scan(&c.ID, &c.Label, &c.Description, &c.Visible, &c.Order); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate columns")
}
