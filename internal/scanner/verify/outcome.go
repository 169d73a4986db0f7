// Package verify issues the one-shot ticket verification call and classifies
// its result into an Outcome.
package verify

import "github.com/iliyamo/cinema-ticket-scanner/internal/model"

// Kind tags an Outcome.
type Kind int

const (
	KindAccepted Kind = iota
	KindRejected
	KindTransportError
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindAccepted:
		return "accepted"
	case KindRejected:
		return "rejected"
	case KindTransportError:
		return "transport_error"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Outcome is the result of one verification attempt. Ticket is set only for
// KindAccepted; Message carries the rejection reason or failure text.
type Outcome struct {
	Kind    Kind
	Ticket  model.TicketSummary
	Message string
}

// Accepted builds an accepted outcome.
func Accepted(t model.TicketSummary) Outcome { return Outcome{Kind: KindAccepted, Ticket: t} }

// Rejected builds a business-rule rejection.
func Rejected(reason string) Outcome { return Outcome{Kind: KindRejected, Message: reason} }

// TransportError builds an outcome for calls that did not complete.
func TransportError(msg string) Outcome { return Outcome{Kind: KindTransportError, Message: msg} }

// Unauthorized builds an outcome for a missing or invalid operator session.
func Unauthorized(msg string) Outcome { return Outcome{Kind: KindUnauthorized, Message: msg} }

// OK reports whether the ticket was accepted.
func (o Outcome) OK() bool { return o.Kind == KindAccepted }
