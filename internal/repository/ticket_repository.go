package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

// TicketRepo redeems bookings at the door. A booking is a row of the
// reservations table addressed by its booking_code; checked_in_at and
// checked_in_by record the redemption.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// Redemption names who redeems which booking for which show.
type Redemption struct {
	BookingCode string
	ShowID      uint64
	CinemaID    uint64 // cinema the operator is signed in for
	OperatorID  uint64
}

// Redeem checks a booking and marks it checked in, atomically. The booking
// row is locked for the duration of the transaction so two scanners cannot
// admit the same ticket. Checks run in this order:
//
//	missing booking         -> ErrTicketNotFound
//	booked for another show -> ErrWrongShowtime
//	show of another cinema  -> ErrWrongCinema
//	not CONFIRMED           -> ErrTicketNotPayable
//	already checked in      -> ErrAlreadyRedeemed
//
// On rejection the returned summary carries whatever was loaded, so the
// caller can report the booking without a second query.
func (r *TicketRepo) Redeem(ctx context.Context, in Redemption) (model.TicketSummary, error) {
	sum := model.TicketSummary{BookingID: in.BookingCode}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sum, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `SELECT r.id, r.show_id, r.status, r.checked_in_at,
                      s.title, s.starts_at, h.name, h.cinema_id,
                      COALESCE(NULLIF(u.full_name, ''), u.email)
               FROM reservations r
               JOIN shows s ON s.id = r.show_id
               JOIN halls h ON h.id = s.hall_id
               JOIN users u ON u.id = r.user_id
               WHERE r.booking_code = ?
               LIMIT 1
               FOR UPDATE`
	var (
		resID, showID, cinemaID uint64
		status                  string
		checkedIn               sql.NullTime
	)
	err = tx.QueryRowContext(ctx, q, in.BookingCode).Scan(
		&resID, &showID, &status, &checkedIn,
		&sum.MovieTitle, &sum.ShowtimeStart, &sum.HallName, &cinemaID,
		&sum.HolderName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, ErrTicketNotFound
	}
	if err != nil {
		return sum, err
	}
	sum.ShowtimeID = strconv.FormatUint(showID, 10)
	sum.ShowtimeStart = sum.ShowtimeStart.UTC()

	switch {
	case showID != in.ShowID:
		return sum, ErrWrongShowtime
	case cinemaID != in.CinemaID:
		return sum, ErrWrongCinema
	case status != "CONFIRMED":
		return sum, ErrTicketNotPayable
	case checkedIn.Valid:
		sum.CheckedInAt = checkedIn.Time.UTC()
		return sum, ErrAlreadyRedeemed
	}

	seats, err := r.seatLabelsTx(ctx, tx, resID)
	if err != nil {
		return sum, err
	}
	sum.SeatLabels = seats

	now := time.Now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET checked_in_at = ?, checked_in_by = ? WHERE id = ? AND checked_in_at IS NULL`,
		now, in.OperatorID, resID)
	if err != nil {
		return sum, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sum, ErrAlreadyRedeemed
	}
	if err := tx.Commit(); err != nil {
		return sum, err
	}
	committed = true
	sum.CheckedInAt = now
	return sum, nil
}

// seatLabelsTx lists the seats of a reservation as row label + number,
// e.g. "A1".
func (r *TicketRepo) seatLabelsTx(ctx context.Context, tx *sql.Tx, reservationID uint64) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT se.row_label, se.seat_number
         FROM reservation_seats rs
         JOIN seats se ON se.id = rs.seat_id
         WHERE rs.reservation_id = ?
         ORDER BY se.row_label, se.seat_number`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	labels := []string{}
	for rows.Next() {
		var (
			row string
			num uint32
		)
		if err := rows.Scan(&row, &num); err != nil {
			return nil, err
		}
		labels = append(labels, row+strconv.FormatUint(uint64(num), 10))
	}
	return labels, rows.Err()
}
