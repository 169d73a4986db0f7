package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

const dateLayout = "2006-01-02"

// ShowtimeLister lists a cinema's scheduled shows for one day.
type ShowtimeLister interface {
	ListByCinemaDate(ctx context.Context, cinemaID uint64, day time.Time) ([]model.Showtime, error)
}

// ShowtimeHandler serves the scanner's showtime picker.
type ShowtimeHandler struct {
	Showtimes ShowtimeLister
	Timeout   time.Duration
	Log       *zap.Logger
	now       func() time.Time
}

func NewShowtimeHandler(s ShowtimeLister, timeout time.Duration, log *zap.Logger) *ShowtimeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShowtimeHandler{Showtimes: s, Timeout: timeout, Log: log.Named("showtimes"), now: time.Now}
}

// List handles GET /v1/cinemas/:id/showtimes?date=YYYY-MM-DD. The date
// defaults to today (UTC). Ownership of :id is enforced by
// middleware.RequireCinemaParam.
func (h *ShowtimeHandler) List(c echo.Context) error {
	cinemaID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || cinemaID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid cinema id"})
	}
	day := h.now().UTC()
	if raw := strings.TrimSpace(c.QueryParam("date")); raw != "" {
		day, err = time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
		}
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	items, err := h.Showtimes.ListByCinemaDate(ctx, cinemaID, day)
	if err != nil {
		h.Log.Error("list showtimes failed", zap.Uint64("cinema_id", cinemaID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load showtimes"})
	}
	return c.JSON(http.StatusOK, model.ShowtimeList{Items: items, Count: len(items), Date: day.Format(dateLayout)})
}
