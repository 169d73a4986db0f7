// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrWrongCinema indicates that a scanned ticket belongs to a show
// of another cinema, while ErrAlreadyRedeemed signals that a
// ticket has been checked in before.
package repository

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource that belongs to another cinema.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state, such as redeeming a ticket twice. Handlers
// should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// Ticket redemption outcomes, checked in this order.
var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrWrongShowtime    = errors.New("ticket is for a different showtime")
	ErrWrongCinema      = fmt.Errorf("%w: ticket is for a different cinema", ErrForbidden)
	ErrTicketNotPayable = errors.New("ticket is not confirmed")
	ErrAlreadyRedeemed  = fmt.Errorf("%w: ticket already used", ErrConflict)
)
