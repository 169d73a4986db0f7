package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/middleware"
	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/queue"
	"github.com/iliyamo/cinema-ticket-scanner/internal/repository"
)

// TicketRedeemer checks a booking and marks it checked in.
type TicketRedeemer interface {
	Redeem(ctx context.Context, in repository.Redemption) (model.TicketSummary, error)
}

// EventPublisher sends verification decisions to the broker.
type EventPublisher interface {
	PublishTicketVerified(ctx context.Context, ev queue.TicketVerifiedEvent) error
}

// TicketHandler serves POST /v1/bookings/verify-ticket.
type TicketHandler struct {
	Tickets TicketRedeemer
	Events  EventPublisher // optional
	Timeout time.Duration
	Log     *zap.Logger
}

func NewTicketHandler(t TicketRedeemer, ev EventPublisher, timeout time.Duration, log *zap.Logger) *TicketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketHandler{Tickets: t, Events: ev, Timeout: timeout, Log: log.Named("verify")}
}

// rejection maps a redemption error to its status and message.
func rejection(err error) (int, string, bool) {
	switch {
	case errors.Is(err, repository.ErrTicketNotFound):
		return http.StatusNotFound, "Ticket not found", true
	case errors.Is(err, repository.ErrWrongShowtime):
		return http.StatusUnprocessableEntity, "Ticket is for a different showtime", true
	case errors.Is(err, repository.ErrWrongCinema):
		// not 403: the kiosk signs the operator out on 403
		return http.StatusUnprocessableEntity, "Ticket is for a different theater", true
	case errors.Is(err, repository.ErrTicketNotPayable):
		return http.StatusUnprocessableEntity, "Ticket is not confirmed", true
	case errors.Is(err, repository.ErrAlreadyRedeemed):
		return http.StatusConflict, "Already used", true
	}
	return 0, "", false
}

// Verify redeems the scanned booking for the selected showtime. Every
// decision, accepted or not, is published as a ticket.verified event.
func (h *TicketHandler) Verify(c echo.Context) error {
	var req model.VerifyTicketRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" || strings.TrimSpace(req.ShowtimeID) == "" || strings.TrimSpace(req.TheaterID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "bookingId, showtimeId and theaterId required"})
	}
	showID, err := strconv.ParseUint(strings.TrimSpace(req.ShowtimeID), 10, 64)
	if err != nil || showID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtimeId"})
	}
	operatorID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	cinemaID, _ := middleware.CinemaID(c)

	ev := queue.TicketVerifiedEvent{
		BookingID:  req.BookingID,
		ShowtimeID: strconv.FormatUint(showID, 10),
		CinemaID:   cinemaID,
		OperatorID: operatorID,
	}

	if theater, err := strconv.ParseUint(strings.TrimSpace(req.TheaterID), 10, 64); err != nil || theater == 0 || theater != cinemaID {
		ev.Reason = "Operator is not assigned to this theater"
		h.publish(ev)
		return c.JSON(http.StatusForbidden, echo.Map{"error": ev.Reason})
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	sum, err := h.Tickets.Redeem(ctx, repository.Redemption{
		BookingCode: req.BookingID,
		ShowID:      showID,
		CinemaID:    cinemaID,
		OperatorID:  operatorID,
	})
	ev.MovieTitle, ev.HallName = sum.MovieTitle, sum.HallName
	if err != nil {
		status, msg, ok := rejection(err)
		if !ok {
			h.Log.Error("redeem failed", zap.String("booking_id", req.BookingID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification failed"})
		}
		ev.Reason = msg
		h.Log.Info("ticket rejected", zap.String("booking_id", req.BookingID), zap.Uint64("show_id", showID), zap.String("reason", msg))
		h.publish(ev)
		return c.JSON(status, echo.Map{"error": msg})
	}

	ev.Accepted = true
	ev.SeatLabels = sum.SeatLabels
	h.Log.Info("ticket accepted", zap.String("booking_id", req.BookingID), zap.Uint64("show_id", showID), zap.Uint64("operator_id", operatorID))
	h.publish(ev)
	return c.JSON(http.StatusOK, model.VerifyTicketResponse{Ticket: sum, Message: "Ticket verified"})
}

// publish sends the event in the background; the response never waits for
// the broker and failures are only logged (by the publisher).
func (h *TicketHandler) publish(ev queue.TicketVerifiedEvent) {
	if h.Events == nil {
		return
	}
	ev.VerifiedAt = time.Now().UTC().Format(time.RFC3339)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Events.PublishTicketVerified(ctx, ev)
	}()
}
