// Package backend is the scanner's HTTP client for the cinema REST API:
// operator login/refresh, showtime listing and ticket verification.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
)

// ErrUnauthorized marks responses rejected because the operator session is
// missing, expired or lacks the required role.
var ErrUnauthorized = errors.New("operator session not authorized")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Unwrap lets callers match authorization failures with errors.Is.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// TokenSource supplies the current bearer token ("" when signed out).
type TokenSource interface {
	Token() string
}

// Client performs JSON requests against the API.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

// New builds a client for baseURL. tokens may be nil for unauthenticated use.
func New(baseURL string, hc *http.Client, tokens TokenSource) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc, tokens: tokens}
}

// Login exchanges operator credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/login", model.LoginRequest{Email: email, Password: password}, &out)
	return out, err
}

// Refresh rotates a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.AuthResponse, error) {
	var out model.AuthResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", model.RefreshRequest{RefreshToken: refreshToken}, &out)
	return out, err
}

// ListShowtimes returns the showtimes of cinemaID on the UTC day of date.
func (c *Client) ListShowtimes(ctx context.Context, cinemaID string, date time.Time) ([]model.Showtime, error) {
	path := fmt.Sprintf("/v1/cinemas/%s/showtimes?date=%s", url.PathEscape(cinemaID), date.UTC().Format("2006-01-02"))
	var out model.ShowtimeList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// VerifyTicket issues exactly one verification request.
func (c *Client) VerifyTicket(ctx context.Context, req model.VerifyTicketRequest) (model.VerifyTicketResponse, error) {
	var out model.VerifyTicketResponse
	err := c.do(ctx, http.MethodPost, "/v1/bookings/verify-ticket", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er model.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: er.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
