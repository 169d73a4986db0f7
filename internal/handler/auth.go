package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/config"
	"github.com/iliyamo/cinema-ticket-scanner/internal/middleware"
	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/utils"
)

// OperatorStore loads scanner operators.
type OperatorStore interface {
	GetByEmail(ctx context.Context, email string) (model.Operator, error)
	GetByID(ctx context.Context, id uint64) (model.Operator, error)
	UpdatePasswordHash(ctx context.Context, id uint64, hash string) error
}

// TokenStore persists refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	Rotate(ctx context.Context, oldHash, newHash string, newExp time.Time) (uint64, error)
}

// AuthHandler bundles dependencies for operator auth endpoints.
type AuthHandler struct {
	Cfg       config.Config
	Operators OperatorStore
	Tokens    TokenStore
	Log       *zap.Logger
}

func NewAuthHandler(cfg config.Config, ops OperatorStore, t TokenStore, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Cfg: cfg, Operators: ops, Tokens: t, Log: log.Named("auth")}
}

// Login: verify credentials and return a new token pair. Only active STAFF
// and OWNER accounts with a cinema can sign in to a scanner.
func (h *AuthHandler) Login(c echo.Context) error {
	var req model.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout())
	defer cancel()

	op, err := h.Operators.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.Log.Error("load operator failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(op.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if !op.IsActive {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	}
	if op.CinemaID == 0 {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "no cinema assigned"})
	}
	h.rehash(ctx, op, req.Password)
	return h.issue(ctx, c, op, nil)
}

// Refresh: rotate the refresh token and issue a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req model.RefreshRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout())
	defer cancel()

	next, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	userID, err := h.Tokens.Rotate(ctx, utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken)), utils.HashRefreshRaw(next.Raw), next.Exp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		h.Log.Error("rotate refresh failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}

	op, err := h.Operators.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load user failed"})
	}
	if !op.IsActive || op.CinemaID == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}
	return h.issue(ctx, c, op, &next)
}

// rehash upgrades a hash made with a lower cost than BCRYPT_COST. Failures
// only log; the login itself already succeeded.
func (h *AuthHandler) rehash(ctx context.Context, op model.Operator, password string) {
	if !utils.NeedsRehash(op.PasswordHash, h.Cfg.BcryptCost) {
		return
	}
	hash, err := utils.HashPassword(password, h.Cfg.BcryptCost)
	if err == nil {
		err = h.Operators.UpdatePasswordHash(ctx, op.ID, hash)
	}
	if err != nil {
		h.Log.Warn("password rehash failed", zap.Uint64("user_id", op.ID), zap.Error(err))
	}
}

// issue signs an access token and, unless one was already stored by
// rotation, a new refresh token.
func (h *AuthHandler) issue(ctx context.Context, c echo.Context, op model.Operator, refresh *utils.RefreshToken) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, op.ID, op.CinemaID, op.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	if refresh == nil {
		rt, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
		}
		if err := h.Tokens.StoreRefresh(ctx, op.ID, utils.HashRefreshRaw(rt.Raw), rt.Exp); err != nil {
			h.Log.Error("store refresh failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
		}
		refresh = &rt
	}
	h.Log.Info("operator signed in", zap.Uint64("user_id", op.ID), zap.Uint64("cinema_id", op.CinemaID), zap.String("role", op.Role))
	return c.JSON(http.StatusOK, model.AuthResponse{
		User: model.OperatorPart{
			ID: op.ID, Email: op.Email, FullName: op.FullName, Role: op.Role, CinemaID: op.CinemaID,
		},
		Access:  model.TokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: model.TokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	})
}

// Me returns the caller's operator claims.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, _ := middleware.UserID(c)
	cid, _ := middleware.CinemaID(c)
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":   uid,
		"cinema_id": cid,
		"role":      middleware.Role(c),
	})
}

func (h *AuthHandler) timeout() time.Duration {
	if h.Cfg.RequestTimeout > 0 {
		return h.Cfg.RequestTimeout
	}
	return 5 * time.Second
}
