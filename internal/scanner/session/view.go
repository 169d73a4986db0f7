package session

import (
	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
)

// View kinds. Exactly one is shown at a time.
const (
	ViewIdle      = "idle"
	ViewReady     = "ready"
	ViewVerifying = "verifying"
	ViewAccepted  = "accepted"
	ViewRejected  = "rejected"
)

// View is the display state of the scanner.
type View struct {
	Kind     string               `json:"kind"`
	State    string               `json:"state"`
	Message  string               `json:"message"`
	Showtime *showtime.Target     `json:"showtime,omitempty"`
	Ticket   *model.TicketSummary `json:"ticket,omitempty"`
	// ScanNext is true when the operator action is offered.
	ScanNext  bool `json:"scan_next"`
	SignedOut bool `json:"signed_out"`
}

// Present maps a machine to what the operator sees.
func Present(m Machine) View {
	v := View{State: m.State.String(), SignedOut: m.SignedOut}
	if m.HasTarget {
		t := m.Target
		v.Showtime = &t
	}
	switch m.State {
	case Scanning:
		v.Kind, v.Message = ViewReady, "Ready to scan"
	case Verifying:
		v.Kind, v.Message = ViewVerifying, "Verifying ticket..."
	case Resulted:
		if m.Outcome != nil && m.Outcome.OK() {
			t := m.Outcome.Ticket
			v.Kind, v.Message, v.Ticket = ViewAccepted, "Ticket accepted", &t
		} else {
			v.Kind = ViewRejected
			if m.Outcome != nil {
				v.Message = m.Outcome.Message
			}
			if v.Message == "" {
				v.Message = "Ticket rejected"
			}
		}
		v.ScanNext = true
	default:
		v.Kind, v.Message = ViewIdle, idleMessage(m)
	}
	return v
}

func idleMessage(m Machine) string {
	switch {
	case m.Closed:
		return "Scanner closed"
	case m.SignedOut:
		return "Operator session expired, please sign in again"
	case m.Notice != "":
		return m.Notice
	case !m.HasTarget:
		return "Select a showtime to start scanning"
	case !m.CameraReady:
		return "Waiting for camera"
	}
	return "Scanner idle"
}
