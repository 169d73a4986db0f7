package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListByCinemaDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	from := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE h.cinema_id = ? AND s.status = 'SCHEDULED'")).
		WithArgs(3, from, from.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cinema_id", "name", "title", "starts_at", "ends_at", "status"}).
			AddRow(11, 3, "Hall 1", "Dune", start, start.Add(2*time.Hour), "SCHEDULED"))

	items, err := NewShowtimeRepo(db).ListByCinemaDate(context.Background(), 3, day)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "11", items[0].ID)
	assert.Equal(t, "3", items[0].CinemaID)
	assert.Equal(t, "Hall 1", items[0].HallName)
	assert.Equal(t, start, items[0].StartsAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByCinemaDateEmptyAndError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewShowtimeRepo(db)

	mock.ExpectQuery("FROM shows s").WillReturnRows(
		sqlmock.NewRows([]string{"id", "cinema_id", "name", "title", "starts_at", "ends_at", "status"}))
	items, err := repo.ListByCinemaDate(context.Background(), 3, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	mock.ExpectQuery("FROM shows s").WillReturnError(errors.New("connection reset"))
	_, err = repo.ListByCinemaDate(context.Background(), 3, time.Now())
	assert.Error(t, err)
}
