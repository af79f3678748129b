package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

func strPtr(s string) *string {
	return &s
}

func TestStoreExtractionInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExtractionStoreWithPool(mock, "")
	require.NoError(t, err)

	fetchedAt := time.Date(2025, 3, 1, 12, 34, 56, 0, time.UTC)
	rec := scraper.ExtractionRecord{
		ID:          "0190c8a0-0000-7000-8000-000000000001",
		URL:         "https://shop.example/product/42",
		FinalURL:    "https://shop.example/product/42?ref=x",
		StatusCode:  200,
		ContentHash: "abc123",
		BlobURI:     "gs://bucket/pages/shop.example/abc123.html",
		Metadata: scraper.ProductMetadata{
			Title: "Red Mug",
			Price: "12.00",
		},
		FetchedAt:    fetchedAt,
		DurationMs:   150,
		UsedHeadless: true,
	}

	mock.ExpectExec("INSERT INTO extractions").
		WithArgs(
			rec.ID,
			time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			fetchedAt,
			rec.URL,
			rec.FinalURL,
			rec.StatusCode,
			rec.ContentHash,
			strPtr(rec.BlobURI),
			strPtr("Red Mug"),
			(*string)(nil),
			(*string)(nil),
			strPtr("12.00"),
			int64(150),
			true,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreExtraction(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreExtractionErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExtractionStoreWithPool(mock, "page_metadata")
	require.NoError(t, err)

	err = store.StoreExtraction(context.Background(), scraper.ExtractionRecord{})
	require.ErrorContains(t, err, "record id")

	mock.ExpectExec("INSERT INTO page_metadata").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = store.StoreExtraction(context.Background(), scraper.ExtractionRecord{ID: "id", FetchedAt: time.Now()})
	require.ErrorContains(t, err, "insert extraction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExtractionStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS extractions").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectPing()

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewExtractionStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExtractionStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewExtractionStoreWithPool(mock, "drop table;")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewExtractionStore(context.Background(), ExtractionStoreConfig{})
	require.ErrorContains(t, err, "db.dsn")

	_, err = NewExtractionStore(context.Background(), ExtractionStoreConfig{DSN: "postgres://x", Table: "bad-name"})
	require.ErrorContains(t, err, "invalid table name")
}
