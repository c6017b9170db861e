package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrapekit/scrapekit/internal/engine"
)

func TestAcceptInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "results")
	require.NoError(t, err)

	fetchedAt := time.Unix(1700000000, 0).UTC()
	res := engine.Result{
		JobID:      "job-1",
		URL:        "https://shop.example.com/p/espresso",
		Backend:    engine.BackendStatic,
		Attempts:   2,
		StatusCode: 200,
		FetchedAt:  fetchedAt,
		DurationMs: 42,
		BlobURI:    "gs://bucket/pages/job-1/abc.html",
		Record:     map[string]string{"title": "Espresso Machine"},
	}

	mock.ExpectExec("INSERT INTO results").
		WithArgs(
			res.JobID,
			res.URL,
			"static",
			res.Attempts,
			res.StatusCode,
			res.FetchedAt,
			res.DurationMs,
			res.BlobURI,
			[]byte(`{"title":"Espresso Machine"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = sink.Accept(context.Background(), res)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptRequiresJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewWithPool(mock, "results")
	require.NoError(t, err)

	err = sink.Accept(context.Background(), engine.Result{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "results; DROP TABLE results")
	require.Error(t, err)

	sink, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "results", sink.table)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
