package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS contracts`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO contracts .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("r1", "owner-1", "A.pdf", "owner-1/x.pdf", int64(10), "application/pdf",
			pgxmock.AnyArg(), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveRecord(context.Background(), model.DurableRecord{
		ID: "r1", OwnerID: "owner-1", DisplayName: "A.pdf", StoragePath: "owner-1/x.pdf",
		SizeBytes: 10, MimeType: "application/pdf",
		ExtractedTerms: model.Terms{"salary": {Value: model.StringPtr("$90k")}},
		CreatedAt:      now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExtractedTerms(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contracts SET extracted_terms = \$1`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE contracts SET extracted_terms = \$1`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	terms := model.Terms{"bonus": {Value: model.StringPtr("$1")}}
	require.NoError(t, s.UpdateExtractedTerms(context.Background(), "owner-1", "r1", terms))
	err := s.UpdateExtractedTerms(context.Background(), "owner-1", "missing", terms)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "owner_id", "display_name", "storage_path", "size_bytes", "mime_type", "extracted_terms", "created_at", "updated_at"}).
		AddRow("r1", "owner-1", "A.pdf", "owner-1/x.pdf", int64(10), "application/pdf",
			[]byte(`{"salary":{"value":"$90k","excerpt":"$90,000"},"nonCompete":{"value":null}}`), created, created).
		AddRow("r2", "owner-1", "B.txt", "", int64(3), "text/plain", []byte(`{}`), created, created)
	mock.ExpectQuery(`SELECT id, owner_id, display_name .* FROM contracts WHERE owner_id = \$1`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	recs, err := s.ListRecords(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "$90k", recs[0].ExtractedTerms["salary"].ValueString())
	assert.Contains(t, recs[0].ExtractedTerms, "nonCompete")
	assert.Nil(t, recs[0].ExtractedTerms["nonCompete"].Value)
	assert.Empty(t, recs[1].ExtractedTerms)
	assert.Equal(t, created, recs[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecords_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT id, owner_id`).WithArgs("owner-1").WillReturnError(errors.New("connection reset"))

	_, err := s.ListRecords(context.Background(), "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountRecordsSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contracts WHERE created_at >= \$1`).
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountRecordsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Columns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	desc := model.StringPtr("One-time payment")

	mock.ExpectExec(`INSERT INTO contract_columns .* ON CONFLICT \(owner_id, id\)`).
		WithArgs("owner-1", "signingBonus", "Signing Bonus", desc, true, 17).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveColumn(context.Background(), "owner-1", model.Column{
		ID: "signingBonus", Label: "Signing Bonus", Description: desc, Visible: true, Order: 17,
	}))

	var noDesc *string
	rows := pgxmock.NewRows([]string{"id", "label", "description", "visible", "sort_order"}).
		AddRow("signingBonus", "Signing Bonus", desc, true, 17).
		AddRow("equity", "Equity", noDesc, false, 18)
	mock.ExpectQuery(`SELECT id, label, description, visible, sort_order FROM contract_columns`).
		WithArgs("owner-1").
		WillReturnRows(rows)

	cols, err := s.ListColumns(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "One-time payment", cols[0].DescriptionText())
	assert.Nil(t, cols[1].Description)
	assert.False(t, cols[1].Visible)
	assert.Equal(t, 18, cols[1].Order)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	closed := false
	s := &PostgresStore{closeFn: func() { closed = true }}
	require.NoError(t, s.Close())
	assert.True(t, closed)
}
