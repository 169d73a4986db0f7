package middleware

// identity.go holds the context keys JWTAuth fills and the helpers that read
// them back in handlers and other middleware.

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID   = "user_id"
	ctxCinemaID = "cinema_id"
	ctxRole     = "role"
)

// UserID returns the authenticated operator's id, or false when the request
// carries no identity.
func UserID(c echo.Context) (uint64, bool) {
	v, ok := c.Get(ctxUserID).(uint64)
	return v, ok && v != 0
}

// CinemaID returns the cinema the operator signed in for. Zero means no
// cinema is assigned.
func CinemaID(c echo.Context) (uint64, bool) {
	v, ok := c.Get(ctxCinemaID).(uint64)
	return v, ok && v != 0
}

// Role returns the operator's role claim.
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// currentUserID formats the operator id for log fields and rate limit keys.
func currentUserID(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}

// RequireCinemaParam rejects requests whose path parameter does not name the
// operator's own cinema. It must run before any response cache so a cached
// body is never served across cinemas.
func RequireCinemaParam(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			want, err := strconv.ParseUint(c.Param(param), 10, 64)
			if err != nil || want == 0 {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid cinema id"})
			}
			own, ok := CinemaID(c)
			if !ok || own != want {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
