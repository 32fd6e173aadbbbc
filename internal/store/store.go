// Package store persists contract records and accepted columns.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/config"
	"github.com/sells-group/contract-cli/internal/model"
)

// ErrNotFound is returned when an update targets a missing record.
var ErrNotFound = eris.New("store: not found")

// Store is the durable persistence boundary. Records and columns are scoped
// by owner.
type Store interface {
	// Records
	SaveRecord(ctx context.Context, rec model.DurableRecord) error
	UpdateExtractedTerms(ctx context.Context, ownerID, id string, terms model.Terms) error
	ListRecords(ctx context.Context, ownerID string) ([]model.DurableRecord, error)
	// CountRecordsSince counts records of every owner created at or after since.
	CountRecordsSince(ctx context.Context, since time.Time) (int, error)

	// Columns
	SaveColumn(ctx context.Context, ownerID string, col model.Column) error
	ListColumns(ctx context.Context, ownerID string) ([]model.Column, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// Owner binds a Store to one owner.
type Owner struct {
	Store   Store
	OwnerID string
	nowFunc func() time.Time
}

// ForOwner scopes s to ownerID.
func ForOwner(s Store, ownerID string) *Owner {
	return &Owner{Store: s, OwnerID: ownerID, nowFunc: time.Now}
}

// SaveRecord stores rec under the bound owner.
func (o *Owner) SaveRecord(ctx context.Context, rec model.DurableRecord) error {
	rec.OwnerID = o.OwnerID
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = o.nowFunc().UTC()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	return o.Store.SaveRecord(ctx, rec)
}

// UpdateExtractedTerms replaces the stored terms of one record.
func (o *Owner) UpdateExtractedTerms(ctx context.Context, id string, terms model.Terms) error {
	return o.Store.UpdateExtractedTerms(ctx, o.OwnerID, id, terms)
}

// ListRecords lists the owner's records, oldest first.
func (o *Owner) ListRecords(ctx context.Context) ([]model.DurableRecord, error) {
	return o.Store.ListRecords(ctx, o.OwnerID)
}

// SaveColumn upserts a column definition.
func (o *Owner) SaveColumn(ctx context.Context, col model.Column) error {
	return o.Store.SaveColumn(ctx, o.OwnerID, col)
}

// ListColumns lists the owner's persisted columns by order.
func (o *Owner) ListColumns(ctx context.Context) ([]model.Column, error) {
	return o.Store.ListColumns(ctx, o.OwnerID)
}
