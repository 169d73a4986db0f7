package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var operatorRowCols = []string{"id", "email", "full_name", "password_hash", "role", "cinema_id", "is_active", "created_at", "updated_at"}

func TestOperatorGetByEmailNormalizes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM users u WHERE u.email=").WithArgs("staff@cinema.test").
		WillReturnRows(sqlmock.NewRows(operatorRowCols).
			AddRow(7, "staff@cinema.test", "Ali R", "$2a$hash", "STAFF", 3, true, now, now))

	op, err := NewOperatorRepo(db).GetByEmail(context.Background(), "  Staff@Cinema.TEST ")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), op.ID)
	assert.Equal(t, uint64(3), op.CinemaID)
	assert.Equal(t, "STAFF", op.Role)
	assert.True(t, op.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperatorGetByIDMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM users u WHERE u.id=").WithArgs(8).WillReturnRows(sqlmock.NewRows(operatorRowCols))
	_, err = NewOperatorRepo(db).GetByID(context.Background(), 8)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestOperatorUpdatePasswordHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE users SET password_hash").WithArgs("$2a$new", 7).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, NewOperatorRepo(db).UpdatePasswordHash(context.Background(), 7, "$2a$new"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
