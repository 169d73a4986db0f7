// Package identity holds the signed-in operator of a scanner kiosk. The
// operator's cinema scopes both showtime listing and ticket verification.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

var (
	// ErrSignedOut is returned when no operator is signed in.
	ErrSignedOut = errors.New("operator signed out")
	// ErrNoCinema is returned for tokens without a cinema assignment.
	ErrNoCinema = errors.New("operator has no cinema assignment")
)

// Operator is the identity carried by an access token.
type Operator struct {
	UserID    string
	CinemaID  string
	Role      string
	ExpiresAt time.Time
}

// ParseOperator reads the operator claims from an access token. The
// signature is not checked here; the API verifies every request.
func ParseOperator(raw string) (Operator, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Operator{}, fmt.Errorf("parse access token: %w", err)
	}
	op := Operator{
		UserID:   claimString(claims["sub"]),
		CinemaID: claimString(claims["cinema_id"]),
		Role:     claimString(claims["role"]),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		op.ExpiresAt = exp.Time
	}
	if op.CinemaID == "" || op.CinemaID == "0" {
		return op, ErrNoCinema
	}
	return op, nil
}

// claimString renders a numeric or string claim as a string.
func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatUint(uint64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	}
	return ""
}

// Authenticator exchanges credentials or refresh tokens for a token pair.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (model.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (model.AuthResponse, error)
}

// Store keeps the current credentials. It implements backend.TokenSource.
type Store struct {
	mu      sync.RWMutex
	access  string
	refresh string
	op      Operator
	ok      bool
}

// NewStore returns an empty, signed-out store.
func NewStore() *Store { return &Store{} }

// Set installs a token pair after validating the access token claims.
func (s *Store) Set(access, refresh string) (Operator, error) {
	op, err := ParseOperator(access)
	if err != nil {
		return Operator{}, err
	}
	s.mu.Lock()
	s.access, s.refresh, s.op, s.ok = access, refresh, op, true
	s.mu.Unlock()
	return op, nil
}

// Token returns the current access token.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Operator returns the signed-in operator.
func (s *Store) Operator() (Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return Operator{}, ErrSignedOut
	}
	return s.op, nil
}

// Clear signs the operator out.
func (s *Store) Clear() {
	s.mu.Lock()
	s.access, s.refresh, s.op, s.ok = "", "", Operator{}, false
	s.mu.Unlock()
}

// Login signs in with credentials.
func (s *Store) Login(ctx context.Context, a Authenticator, email, password string) (Operator, error) {
	resp, err := a.Login(ctx, email, password)
	if err != nil {
		return Operator{}, err
	}
	return s.Set(resp.Access.Token, resp.Refresh.Token)
}

// Renew rotates the stored refresh token.
func (s *Store) Renew(ctx context.Context, a Authenticator) (Operator, error) {
	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()
	if refresh == "" {
		return Operator{}, ErrSignedOut
	}
	resp, err := a.Refresh(ctx, refresh)
	if err != nil {
		return Operator{}, err
	}
	return s.Set(resp.Access.Token, resp.Refresh.Token)
}

// Signer binds a Store to the Authenticator it signs in with.
type Signer struct {
	Store *Store
	Auth  Authenticator
}

// Login signs in with credentials and returns the new operator.
func (s Signer) Login(ctx context.Context, email, password string) (Operator, error) {
	return s.Store.Login(ctx, s.Auth, email, password)
}

// Renew exchanges the stored refresh token for a new pair.
func (s Signer) Renew(ctx context.Context) (Operator, error) {
	return s.Store.Renew(ctx, s.Auth)
}

// SignOut forgets the stored credentials.
func (s Signer) SignOut() {
	s.Store.Clear()
}
