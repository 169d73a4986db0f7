// Showtime listing for scanner operators. A showtime is a row of the shows
// table; its cinema is the cinema of the hall it runs in.
package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

// ShowtimeRepo reads shows for the scanner.
type ShowtimeRepo struct {
	db *sql.DB
}

// NewShowtimeRepo constructs a ShowtimeRepo with the given DB handle.
func NewShowtimeRepo(db *sql.DB) *ShowtimeRepo {
	return &ShowtimeRepo{db: db}
}

// ListByCinemaDate returns the SCHEDULED shows of a cinema that start on the
// UTC calendar day of `day`, ordered by start time. An empty (non-nil)
// slice is returned when there are none.
func (r *ShowtimeRepo) ListByCinemaDate(ctx context.Context, cinemaID uint64, day time.Time) ([]model.Showtime, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	const q = `SELECT s.id, h.cinema_id, h.name, s.title, s.starts_at, s.ends_at, s.status
               FROM shows s
               JOIN halls h ON h.id = s.hall_id
               WHERE h.cinema_id = ? AND s.status = 'SCHEDULED'
                 AND s.starts_at >= ? AND s.starts_at < ?
               ORDER BY s.starts_at, s.id`
	rows, err := r.db.QueryContext(ctx, q, cinemaID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Showtime{}
	for rows.Next() {
		var (
			id, cid uint64
			st      model.Showtime
		)
		if err := rows.Scan(&id, &cid, &st.HallName, &st.MovieTitle, &st.StartsAt, &st.EndsAt, &st.Status); err != nil {
			return nil, err
		}
		st.ID = strconv.FormatUint(id, 10)
		st.CinemaID = strconv.FormatUint(cid, 10)
		st.StartsAt = st.StartsAt.UTC()
		st.EndsAt = st.EndsAt.UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}
