// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// TicketVerifiedEvent is published after every verification decision, for
// accepted and rejected scans alike. It carries enough for the check-in log
// and door analytics without querying the primary database.
type TicketVerifiedEvent struct {
	BookingID  string   `json:"booking_id"`
	ShowtimeID string   `json:"showtime_id"`
	CinemaID   uint64   `json:"cinema_id"`
	OperatorID uint64   `json:"operator_id"`
	Accepted   bool     `json:"accepted"`
	Reason     string   `json:"reason,omitempty"` // rejection message, empty when accepted
	MovieTitle string   `json:"movie_title,omitempty"`
	HallName   string   `json:"hall_name,omitempty"`
	SeatLabels []string `json:"seats,omitempty"`
	VerifiedAt string   `json:"verified_at"` // RFC3339, UTC
}
