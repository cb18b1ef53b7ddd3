package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/polywatch/marketd/internal/model"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time {
	return c.t
}

func ptr[T any](v T) *T {
	return &v
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithPool(mock, "markets", fixedClock{t: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "markets; DROP TABLE markets", fixedClock{})
	require.Error(t, err)

	_, err = NewWithPool(nil, "markets", fixedClock{})
	require.Error(t, err)
}

func TestUpsertInsertsNewMarket(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	m := model.Market{
		ID:           "market-1",
		Title:        "Will it rain tomorrow?",
		Description:  ptr("A weather market"),
		CurrentPrice: ptr(0.65),
		Volume:       ptr(1000.0),
		EndDate:      ptr("2026-12-31T23:59:59Z"),
	}

	mock.ExpectQuery("INSERT INTO markets").
		WithArgs(m.ID, m.Title, m.Description, m.CurrentPrice, m.Volume, m.EndDate, now, now).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(true))

	isNew, err := store.Upsert(context.Background(), m)
	require.NoError(t, err)
	require.True(t, isNew)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUpdatesExistingMarket(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	m := model.Market{ID: "market-1", Title: "Updated title"}

	mock.ExpectQuery("INSERT INTO markets").
		WithArgs(m.ID, m.Title, m.Description, m.CurrentPrice, m.Volume, m.EndDate, now, now).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(false))

	isNew, err := store.Upsert(context.Background(), m)
	require.NoError(t, err)
	require.False(t, isNew)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	t.Parallel()

	store, _, _ := newMockStore(t)

	_, err := store.Upsert(context.Background(), model.Market{Title: "No identity"})
	require.Error(t, err)
}

func TestGetByIDReturnsMarket(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	cols := []string{
		"id", "title", "description", "current_price",
		"volume", "end_date", "discovered_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM markets").
		WithArgs("market-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"market-1", "Title", ptr("desc"), ptr(0.5), ptr(42.0), ptr("2026-01-01"), now, now,
		))

	m, err := store.GetByID(context.Background(), "market-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "market-1", m.ID)
	require.Equal(t, "Title", m.Title)
	require.NotNil(t, m.DiscoveredAt)
	require.Equal(t, now, *m.DiscoveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDMissReturnsNil(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM markets").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	m, err := store.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReturnsPageAndTotal(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	cols := []string{
		"id", "title", "description", "current_price",
		"volume", "end_date", "discovered_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM markets").
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("m-2", "Second", nil, nil, nil, nil, now, now).
			AddRow("m-1", "First", nil, nil, nil, nil, now.Add(-time.Hour), now))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	markets, total, err := store.List(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	require.Equal(t, int64(2), total)
	require.Equal(t, "m-2", markets[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSinceFiltersByDiscovery(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)

	since := now.Add(-24 * time.Hour)
	cols := []string{
		"id", "title", "description", "current_price",
		"volume", "end_date", "discovered_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM markets").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("m-3", "Recent", nil, nil, nil, nil, now, now))

	markets, err := store.ListSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Equal(t, "m-3", markets[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTableAndIndex(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS markets").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_markets_discovered_at").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
