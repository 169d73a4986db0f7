// Package showtime holds the showtime the scanner is admitting for. A target
// must be selected before any scanning is allowed.
package showtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/identity"
)

var (
	// ErrNotSelectable is returned for ids missing from the upcoming list.
	ErrNotSelectable = errors.New("showtime is not selectable")
	// ErrNoIdentity is returned when no operator is signed in.
	ErrNoIdentity = errors.New("no operator identity")
)

// Horizon is how far ahead of now showtimes are offered for selection.
const Horizon = 24 * time.Hour

// Target is the showtime currently being admitted.
type Target struct {
	ShowtimeID string    `json:"showtime_id"`
	MovieTitle string    `json:"movie_title"`
	StartTime  time.Time `json:"start_time"`
}

// Lister fetches a day's showtimes for a cinema.
type Lister interface {
	ListShowtimes(ctx context.Context, cinemaID string, date time.Time) ([]model.Showtime, error)
}

// Identity supplies the operator whose cinema scopes the listing.
type Identity interface {
	Operator() (identity.Operator, error)
}

// Listener is told about target changes.
type Listener interface {
	SelectShowtime(t Target)
	ClearShowtime()
}

// Gate filters the operator's showtimes down to upcoming ones and holds the
// selected target.
type Gate struct {
	lister   Lister
	ident    Identity
	listener Listener
	now      func() time.Time
	log      *zap.Logger

	// sel orders Select and Clear together with their notifications so the
	// listener sees target changes in the order they were made
	sel sync.Mutex

	mu      sync.Mutex
	options []model.Showtime
	current *Target
}

// NewGate builds a gate. listener may be installed later with SetListener.
func NewGate(lister Lister, ident Identity, listener Listener, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{lister: lister, ident: ident, listener: listener, now: time.Now, log: log.Named("scanner.showtime")}
}

// SetListener installs the listener notified by Select and Clear.
func (g *Gate) SetListener(l Listener) {
	g.mu.Lock()
	g.listener = l
	g.mu.Unlock()
}

// Refresh fetches the operator's showtimes starting within Horizon of now and
// keeps the ones that have not started yet, ordered by start time. The
// listing is per UTC day, so the days of now and of now+Horizon are both
// fetched. Upcoming is judged once, against the clock at fetch time.
func (g *Gate) Refresh(ctx context.Context) ([]model.Showtime, error) {
	op, err := g.ident.Operator()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	now := g.now().UTC()
	until := now.Add(Horizon)

	var all []model.Showtime
	for _, day := range []time.Time{now, until} {
		items, err := g.lister.ListShowtimes(ctx, op.CinemaID, day)
		if err != nil {
			return nil, fmt.Errorf("list showtimes for %s: %w", day.Format("2006-01-02"), err)
		}
		all = append(all, items...)
	}

	seen := make(map[string]bool, len(all))
	upcoming := make([]model.Showtime, 0, len(all))
	for _, s := range all {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if s.CinemaID != "" && s.CinemaID != op.CinemaID {
			continue
		}
		if s.Status != "" && s.Status != "SCHEDULED" {
			continue
		}
		if !s.StartsAt.After(now) || s.StartsAt.After(until) {
			continue
		}
		upcoming = append(upcoming, s)
	}
	sort.SliceStable(upcoming, func(i, j int) bool { return upcoming[i].StartsAt.Before(upcoming[j].StartsAt) })

	g.mu.Lock()
	g.options = upcoming
	g.mu.Unlock()
	g.log.Debug("showtimes refreshed", zap.Int("listed", len(all)), zap.Int("upcoming", len(upcoming)))
	return append([]model.Showtime(nil), upcoming...), nil
}

// Options returns the last refreshed upcoming showtimes.
func (g *Gate) Options() []model.Showtime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Showtime(nil), g.options...)
}

// Current returns the selected target.
func (g *Gate) Current() (Target, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Target{}, false
	}
	return *g.current, true
}

// Select makes showtimeID the target and notifies the listener. Selecting
// the current target again re-notifies so scanning restarts for it.
func (g *Gate) Select(showtimeID string) (Target, error) {
	g.sel.Lock()
	defer g.sel.Unlock()

	g.mu.Lock()
	var found *model.Showtime
	for i := range g.options {
		if g.options[i].ID == showtimeID {
			found = &g.options[i]
			break
		}
	}
	if found == nil {
		g.mu.Unlock()
		return Target{}, ErrNotSelectable
	}
	t := Target{ShowtimeID: found.ID, MovieTitle: found.MovieTitle, StartTime: found.StartsAt}
	g.current = &t
	l := g.listener
	g.mu.Unlock()

	g.log.Info("showtime selected", zap.String("showtime_id", t.ShowtimeID), zap.String("movie", t.MovieTitle))
	if l != nil {
		l.SelectShowtime(t)
	}
	return t, nil
}

// Clear drops the target and stops scanning. No-op when nothing is selected.
func (g *Gate) Clear() {
	g.sel.Lock()
	defer g.sel.Unlock()

	g.mu.Lock()
	if g.current == nil {
		g.mu.Unlock()
		return
	}
	g.current = nil
	l := g.listener
	g.mu.Unlock()

	g.log.Info("showtime cleared")
	if l != nil {
		l.ClearShowtime()
	}
}
