package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/globaltender/internal/tender"
)

func newMockStore(t *testing.T, policy tender.UpsertPolicy) (*TenderStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewTenderStoreWithPool(mock, "tenders", policy, nil)
	require.NoError(t, err)
	return store, mock
}

func sampleRecord(id string) tender.Record {
	r := tender.Record{
		TenderID: id,
		Country:  "IN",
		Details:  tender.Details{Title: "Road Construction", Currency: tender.StringPtr("INR")},
	}
	r.Normalize()
	return r
}

func TestUpsertInsertAndUpdate(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	rec := sampleRecord("2025_ABC_1")
	doc, err := json.Marshal(rec)
	require.NoError(t, err)

	upsert := regexp.QuoteMeta("INSERT INTO tenders (tender_id, doc, embedding)") + ".*DO UPDATE SET doc = EXCLUDED.doc"
	mock.ExpectQuery(upsert).
		WithArgs("2025_ABC_1", doc, nil).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(upsert).
		WithArgs("2025_ABC_1", doc, nil).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	res, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, tender.Inserted, res)

	res, err = store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, tender.Updated, res)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFirstWriteWinsKeepsExisting(t *testing.T) {
	store, mock := newMockStore(t, tender.FirstWriteWins)
	defer mock.Close()

	mock.ExpectQuery("DO NOTHING").
		WithArgs("dup", pgxmock.AnyArg(), nil).
		WillReturnError(pgx.ErrNoRows)

	res, err := store.Upsert(context.Background(), sampleRecord("dup"))
	require.NoError(t, err)
	assert.Equal(t, tender.Unchanged, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWithEmbedding(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	rec := sampleRecord("vec")
	rec.VectorEmbedding = []float32{0.1, 0.2}
	mock.ExpectQuery("INSERT INTO tenders").
		WithArgs("vec", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	res, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, tender.Inserted, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertError(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("INSERT INTO tenders").WillReturnError(boom)

	_, err := store.Upsert(context.Background(), sampleRecord("x"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `upsert tender "x"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAndFind(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	f := tender.Filter{
		Countries:       []string{" in "},
		IncludeKeywords: []string{"tender", "road"},
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tenders WHERE lower(doc->>'country') = ANY($1) AND")).
		WithArgs([]string{"in"}, "tender|road").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	first, _ := json.Marshal(sampleRecord("a"))
	second, _ := json.Marshal(sampleRecord("b"))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY seq OFFSET $3 LIMIT $4")).
		WithArgs([]string{"in"}, "tender|road", 0, 10).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(first).AddRow(second))

	n, err := store.Count(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := store.Find(context.Background(), f, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].TenderID)
	assert.Equal(t, "Road Construction", recs[1].Details.Title)
	assert.NotNil(t, recs[1].EligibilityRequirements, "decoded records are normalized")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindWithoutFilter(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc FROM tenders ORDER BY seq OFFSET $1 LIMIT $2")).
		WithArgs(20, 10).
		WillReturnRows(pgxmock.NewRows([]string{"doc"}))

	recs, err := store.Find(context.Background(), tender.Filter{}, 20, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildWhere(t *testing.T) {
	t.Parallel()

	minV, maxV := 100.0, 500.0
	where, args := buildWhere(tender.Filter{
		States:          []string{"Kerala"},
		TenderID:        " T-1 ",
		Currency:        "inr",
		MinValue:        &minV,
		MaxValue:        &maxV,
		ExcludeKeywords: []string{"c++", " "},
	})
	assert.Equal(t, " WHERE lower(doc->>'state') = ANY($1)"+
		" AND tender_id = $2"+
		" AND lower(doc->'details'->>'currency') = $3"+
		" AND (doc->'details'->>'tenderValue')::double precision >= $4"+
		" AND (doc->'details'->>'tenderValue')::double precision <= $5"+
		" AND NOT ("+titleExpr+" ~* $6 OR "+summaryExpr+" ~* $6)", where)
	assert.Equal(t, []any{[]string{"kerala"}, "T-1", "inr", 100.0, 500.0, `c\+\+`}, args)

	where, args = buildWhere(tender.Filter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestNewTenderStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTenderStoreWithPool(nil, "tenders", "", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewTenderStoreWithPool(mock, "tenders; DROP TABLE x", "", nil)
	require.Error(t, err)

	store, err := NewTenderStoreWithPool(mock, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "tenders", store.table)
	assert.Equal(t, tender.LastWriteWins, store.policy)
}

func TestNewTenderStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewTenderStore(context.Background(), TenderStoreConfig{}, nil)
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("tenders/001_create_tenders.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tenders (")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("tenders/001_create_tenders.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateSkipsApplied(t *testing.T) {
	store, mock := newMockStore(t, tender.LastWriteWins)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("tenders/001_create_tenders.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenderMigration(t *testing.T) {
	t.Parallel()

	sql, err := renderMigration("001_create_tenders.sql", "cppp_tenders")
	require.NoError(t, err)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS cppp_tenders (")
	assert.Contains(t, sql, "cppp_tenders_tender_id_key")
	assert.NotContains(t, sql, "{{")
}
