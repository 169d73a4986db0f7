package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

type OperatorRepo struct{ DB *sql.DB }

func NewOperatorRepo(db *sql.DB) *OperatorRepo { return &OperatorRepo{DB: db} }

// Staff rows carry their cinema; an owner falls back to the first cinema
// they own.
const operatorCols = `u.id, u.email, COALESCE(u.full_name, ''), u.password_hash, u.role,
	COALESCE(u.cinema_id, (SELECT MIN(c.id) FROM cinemas c WHERE c.owner_id = u.id), 0),
	u.is_active, u.created_at, u.updated_at`

// GetByEmail fetches an operator (STAFF or OWNER) by normalized email.
// Customers are reported as sql.ErrNoRows.
func (r *OperatorRepo) GetByEmail(ctx context.Context, email string) (model.Operator, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+operatorCols+" FROM users u WHERE u.email=? AND u.role IN ('STAFF','OWNER') LIMIT 1",
		email))
}

// GetByID fetches an operator by id.
func (r *OperatorRepo) GetByID(ctx context.Context, id uint64) (model.Operator, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+operatorCols+" FROM users u WHERE u.id=? AND u.role IN ('STAFF','OWNER') LIMIT 1",
		id))
}

func (r *OperatorRepo) scanOne(row *sql.Row) (model.Operator, error) {
	var op model.Operator
	err := row.Scan(&op.ID, &op.Email, &op.FullName, &op.PasswordHash, &op.Role,
		&op.CinemaID, &op.IsActive, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

// UpdatePasswordHash replaces an operator's bcrypt hash.
func (r *OperatorRepo) UpdatePasswordHash(ctx context.Context, id uint64, hash string) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET password_hash=? WHERE id=?", hash, id)
	return err
}
