package view

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/backend"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/identity"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/session"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
)

type mockGate struct{ mock.Mock }

func (m *mockGate) Refresh(ctx context.Context) ([]model.Showtime, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Showtime), args.Error(1)
}

func (m *mockGate) Current() (showtime.Target, bool) {
	args := m.Called()
	return args.Get(0).(showtime.Target), args.Bool(1)
}

func (m *mockGate) Select(id string) (showtime.Target, error) {
	args := m.Called(id)
	return args.Get(0).(showtime.Target), args.Error(1)
}

func (m *mockGate) Clear() { m.Called() }

type fakeSession struct {
	view   session.View
	posted []session.Event
	err    error
}

func (f *fakeSession) View() session.View { return f.view }

func (f *fakeSession) Post(_ context.Context, ev session.Event) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, ev)
	return nil
}

type mockSigner struct{ mock.Mock }

func (m *mockSigner) Login(ctx context.Context, email, password string) (identity.Operator, error) {
	args := m.Called(email, password)
	return args.Get(0).(identity.Operator), args.Error(1)
}

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	Register(e, h)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(NewHandler(nil, nil, nil, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStateReturnsView(t *testing.T) {
	s := &fakeSession{view: session.View{Kind: session.ViewReady, State: "scanning", Message: "Ready to scan"}}
	rec := serve(NewHandler(nil, s, nil, nil), http.MethodGet, "/scanner", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var v session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, session.ViewReady, v.Kind)
}

func TestShowtimesListsUpcoming(t *testing.T) {
	g := &mockGate{}
	start := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	g.On("Refresh").Return([]model.Showtime{{ID: "S1", MovieTitle: "Dune", StartsAt: start}}, nil)
	g.On("Current").Return(showtime.Target{ShowtimeID: "S1"}, true)

	rec := serve(NewHandler(g, nil, nil, nil), http.MethodGet, "/scanner/showtimes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp showtimesResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.NotNil(t, resp.Selected)
	assert.Equal(t, "S1", resp.Selected.ShowtimeID)
}

func TestShowtimesRequiresIdentity(t *testing.T) {
	g := &mockGate{}
	g.On("Refresh").Return(nil, showtime.ErrNoIdentity)

	rec := serve(NewHandler(g, nil, nil, nil), http.MethodGet, "/scanner/showtimes", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestShowtimesUpstreamFailure(t *testing.T) {
	g := &mockGate{}
	g.On("Refresh").Return(nil, errors.New("dial tcp: refused"))

	rec := serve(NewHandler(g, nil, nil, nil), http.MethodGet, "/scanner/showtimes", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSelectShowtime(t *testing.T) {
	g := &mockGate{}
	g.On("Select", "S1").Return(showtime.Target{ShowtimeID: "S1", MovieTitle: "Dune"}, nil)
	g.On("Select", "S0").Return(showtime.Target{}, showtime.ErrNotSelectable)
	h := NewHandler(g, nil, nil, nil)

	rec := serve(h, http.MethodPut, "/scanner/showtime", `{"showtime_id":"S1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"showtime_id":"S1"`)

	rec = serve(h, http.MethodPut, "/scanner/showtime", `{"showtime_id":"S0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(h, http.MethodPut, "/scanner/showtime", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	g.AssertExpectations(t)
}

func TestClearShowtime(t *testing.T) {
	g := &mockGate{}
	g.On("Clear").Return()

	rec := serve(NewHandler(g, nil, nil, nil), http.MethodDelete, "/scanner/showtime", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	g.AssertCalled(t, "Clear")
}

func TestScanNextPostsEvent(t *testing.T) {
	s := &fakeSession{view: session.View{Kind: session.ViewReady}}
	rec := serve(NewHandler(nil, s, nil, nil), http.MethodPost, "/scanner/next", "")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []session.Event{session.ScanNext{}}, s.posted)
}

func TestScanNextAfterClose(t *testing.T) {
	s := &fakeSession{err: session.ErrClosed}
	rec := serve(NewHandler(nil, s, nil, nil), http.MethodPost, "/scanner/next", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginRestoresSession(t *testing.T) {
	signer := &mockSigner{}
	signer.On("Login", "staff@cinema.test", "pw").Return(identity.Operator{UserID: "7", CinemaID: "T1", Role: "STAFF"}, nil)
	s := &fakeSession{}

	rec := serve(NewHandler(nil, s, signer, nil), http.MethodPost, "/scanner/login", `{"email":" Staff@Cinema.test ","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []session.Event{session.SessionRestored{}}, s.posted)
	var op operatorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "T1", op.CinemaID)
}

func TestLoginRejected(t *testing.T) {
	signer := &mockSigner{}
	signer.On("Login", "a@b.c", "bad").Return(identity.Operator{}, &backend.APIError{Status: http.StatusUnauthorized, Message: "invalid credentials"})
	s := &fakeSession{}

	rec := serve(NewHandler(nil, s, signer, nil), http.MethodPost, "/scanner/login", `{"email":"a@b.c","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.posted)

	rec = serve(NewHandler(nil, s, signer, nil), http.MethodPost, "/scanner/login", `{"email":"a@b.c"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
