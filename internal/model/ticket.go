package model

import "time"

// VerifyTicketRequest is the body of POST /v1/bookings/verify-ticket.  The
// scanner sends the decoded booking code together with the showtime the
// operator is admitting for and the operator's theater, so the backend can
// reject cross-venue and wrong-showtime scans.
//
// Fields:
//  BookingID  – booking code decoded from the ticket QR.
//  ShowtimeID – showtime currently selected on the scanner.
//  TheaterID  – cinema the operator is assigned to.
type VerifyTicketRequest struct {
	BookingID  string `json:"bookingId"`
	ShowtimeID string `json:"showtimeId"`
	TheaterID  string `json:"theaterId"`
}

// TicketSummary is the read-only projection of a redeemed booking that
// the scanner displays after a successful verification.
//
// Fields:
//  BookingID     – booking code.
//  MovieTitle    – title of the show.
//  ShowtimeID    – show the ticket admits to.
//  ShowtimeStart – when the show starts (UTC).
//  HallName      – hall of the show.
//  SeatLabels    – seats in the booking, e.g. ["A1","A2"].
//  HolderName    – name (or email) of the customer.
//  CheckedInAt   – when the ticket was redeemed.
type TicketSummary struct {
	BookingID     string    `json:"bookingId"`
	MovieTitle    string    `json:"movieTitle"`
	ShowtimeID    string    `json:"showtimeId"`
	ShowtimeStart time.Time `json:"showtimeStart"`
	HallName      string    `json:"hallName"`
	SeatLabels    []string  `json:"seatLabels"`
	HolderName    string    `json:"holderName"`
	CheckedInAt   time.Time `json:"checkedInAt"`
}

// VerifyTicketResponse wraps an accepted ticket.
type VerifyTicketResponse struct {
	Ticket  TicketSummary `json:"ticket"`
	Message string        `json:"message"`
}

// ErrorResponse is the error body every endpoint returns.
type ErrorResponse struct {
	Error string `json:"error"`
}
