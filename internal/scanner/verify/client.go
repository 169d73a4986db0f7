package verify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/backend"
)

// Gateway is the verification endpoint.
type Gateway interface {
	VerifyTicket(ctx context.Context, req model.VerifyTicketRequest) (model.VerifyTicketResponse, error)
}

// DefaultTimeout bounds a single verification call.
const DefaultTimeout = 15 * time.Second

// Client verifies decoded payloads. It never retries, caches or
// de-duplicates: a re-scanned code is submitted again and the server decides.
type Client struct {
	gw      Gateway
	timeout time.Duration
	log     *zap.Logger
}

// NewClient builds a client. A non-positive timeout uses DefaultTimeout.
func NewClient(gw Gateway, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{gw: gw, timeout: timeout, log: log.Named("scanner.verify")}
}

// Verify submits one verification request for rawPayload against showtimeID
// in venueID and classifies the result.
func (c *Client) Verify(ctx context.Context, rawPayload, showtimeID, venueID string) Outcome {
	bookingID := BookingIDFromPayload(rawPayload)
	if bookingID == "" {
		return Rejected("Unreadable ticket code")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.gw.VerifyTicket(ctx, model.VerifyTicketRequest{
		BookingID:  bookingID,
		ShowtimeID: showtimeID,
		TheaterID:  venueID,
	})
	if err == nil {
		return Accepted(resp.Ticket)
	}
	out := classify(err)
	c.log.Debug("verification failed",
		zap.String("booking_id", bookingID),
		zap.String("showtime_id", showtimeID),
		zap.Stringer("kind", out.Kind),
		zap.Error(err))
	return out
}

func classify(err error) Outcome {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			return Unauthorized(orDefault(apiErr.Message, "Operator session expired, please sign in again"))
		case apiErr.Status >= http.StatusInternalServerError:
			return TransportError("Ticket server error, please try again")
		case apiErr.Status == http.StatusTooManyRequests:
			return TransportError("Too many scans, please wait a moment")
		default:
			return Rejected(orDefault(apiErr.Message, "Ticket rejected"))
		}
	case errors.Is(err, context.DeadlineExceeded):
		return TransportError("Verification timed out")
	case errors.Is(err, context.Canceled):
		return TransportError("Verification cancelled")
	default:
		return TransportError("Could not reach the ticket server")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
