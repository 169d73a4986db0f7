// Package view serves the scanner kiosk over local HTTP: the operator picks a
// showtime, watches the scan state and confirms accepted tickets.
package view

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/backend"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/identity"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/session"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
)

// Gate is the showtime selection the view drives.
type Gate interface {
	Refresh(ctx context.Context) ([]model.Showtime, error)
	Current() (showtime.Target, bool)
	Select(showtimeID string) (showtime.Target, error)
	Clear()
}

// Session is the scan session the view observes.
type Session interface {
	View() session.View
	Post(ctx context.Context, ev session.Event) error
}

// Signer re-authenticates the operator.
type Signer interface {
	Login(ctx context.Context, email, password string) (identity.Operator, error)
}

// Handler bundles the kiosk endpoints.
type Handler struct {
	Gate    Gate
	Session Session
	Signer  Signer
	Log     *zap.Logger
}

// NewHandler builds the kiosk handler.
func NewHandler(g Gate, s Session, signer Signer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Gate: g, Session: s, Signer: signer, Log: log.Named("scanner.view")}
}

type selectReq struct {
	ShowtimeID string `json:"showtime_id"`
}

type showtimesResp struct {
	Items    []model.Showtime `json:"items"`
	Count    int              `json:"count"`
	Selected *showtime.Target `json:"selected,omitempty"`
}

type operatorResp struct {
	UserID   string `json:"user_id"`
	CinemaID string `json:"cinema_id"`
	Role     string `json:"role"`
}

// Health answers load balancer probes.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// State returns what the scanner currently shows.
func (h *Handler) State(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Session.View())
}

// Showtimes refreshes and lists the upcoming showtimes of the operator's
// cinema.
func (h *Handler) Showtimes(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	items, err := h.Gate.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, showtime.ErrNoIdentity), errors.Is(err, backend.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "sign in required"})
	default:
		h.Log.Warn("showtime refresh failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "showtime listing unavailable"})
	}
	resp := showtimesResp{Items: items, Count: len(items)}
	if cur, ok := h.Gate.Current(); ok {
		resp.Selected = &cur
	}
	return c.JSON(http.StatusOK, resp)
}

// SelectShowtime makes a listed showtime the scan target.
func (h *Handler) SelectShowtime(c echo.Context) error {
	var req selectReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.ShowtimeID) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "showtime_id required"})
	}
	t, err := h.Gate.Select(strings.TrimSpace(req.ShowtimeID))
	if errors.Is(err, showtime.ErrNotSelectable) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "showtime is not selectable"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "select failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"showtime": t})
}

// ClearShowtime stops scanning.
func (h *Handler) ClearShowtime(c echo.Context) error {
	h.Gate.Clear()
	return c.NoContent(http.StatusNoContent)
}

// ScanNext resumes scanning after a displayed outcome.
func (h *Handler) ScanNext(c echo.Context) error {
	if err := h.Session.Post(c.Request().Context(), session.ScanNext{}); err != nil {
		return h.sessionErr(c, err)
	}
	return c.JSON(http.StatusAccepted, h.Session.View())
}

// Login signs the operator in again after the session expired.
func (h *Handler) Login(c echo.Context) error {
	var req model.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	op, err := h.Signer.Login(ctx, req.Email, req.Password)
	if err != nil {
		var apiErr *backend.APIError
		rejected := errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError
		if rejected || errors.Is(err, identity.ErrNoCinema) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.Log.Warn("operator login failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "login unavailable"})
	}
	if err := h.Session.Post(ctx, session.SessionRestored{}); err != nil {
		return h.sessionErr(c, err)
	}
	h.Log.Info("operator signed in", zap.String("user_id", op.UserID), zap.String("cinema_id", op.CinemaID))
	return c.JSON(http.StatusOK, operatorResp{UserID: op.UserID, CinemaID: op.CinemaID, Role: op.Role})
}

func (h *Handler) sessionErr(c echo.Context, err error) error {
	if errors.Is(err, session.ErrClosed) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "scanner closed"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "scanner busy"})
}

// Register mounts the kiosk routes.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/healthz", Health)

	g := e.Group("/scanner")
	g.GET("", h.State)
	g.GET("/showtimes", h.Showtimes)
	g.PUT("/showtime", h.SelectShowtime)
	g.DELETE("/showtime", h.ClearShowtime)
	g.POST("/next", h.ScanNext)
	g.POST("/login", h.Login)
}
