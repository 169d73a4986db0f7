package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/decode"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/device"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/identity"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/verify"
)

// ErrClosed is returned by Post after the controller was closed.
var ErrClosed = errors.New("scan session closed")

var (
	_ decode.Handler    = (*Controller)(nil)
	_ showtime.Listener = (*Controller)(nil)
)

// DecoderEngine is the decode loop owner. *decode.Engine implements it.
type DecoderEngine interface {
	Start(ctx context.Context, cameraID string, run uint64) error
	Stop()
	Release()
}

// Verifier performs one verification call. *verify.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, rawPayload, showtimeID, venueID string) verify.Outcome
}

// Identity supplies the venue of the signed-in operator.
type Identity interface {
	Operator() (identity.Operator, error)
}

// Renewer refreshes an expired operator session. identity.Signer implements
// it.
type Renewer interface {
	Renew(ctx context.Context) (identity.Operator, error)
	SignOut()
}

// renewWindow is how close to expiry an access token must be for an
// unauthorized outcome to trigger a renewal.
const renewWindow = time.Minute

// Config tunes the controller. Without a Renewer every unauthorized outcome
// signs the operator out.
type Config struct {
	ResumeDelay time.Duration
	Mailbox     int
	Renewer     Renewer
}

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return Config{ResumeDelay: DefaultResumeDelay, Mailbox: 32}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = d.ResumeDelay
	}
	if c.Mailbox <= 0 {
		c.Mailbox = d.Mailbox
	}
	return c
}

// Controller owns one Machine and runs every transition on its own
// goroutine. Everything else talks to it through Post.
type Controller struct {
	eng   DecoderEngine
	ver   Verifier
	ident Identity
	renew Renewer
	log   *zap.Logger

	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu   sync.RWMutex
	snap Machine

	// loop goroutine only
	m          Machine
	inflightID uuid.UUID
	abort      context.CancelFunc
	timer      *time.Timer
}

// NewController starts the event loop. Close must be called to stop it.
func NewController(eng DecoderEngine, ver Verifier, ident Identity, cfg Config, log *zap.Logger) *Controller {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		eng:    eng,
		ver:    ver,
		ident:  ident,
		renew:  cfg.Renewer,
		log:    log.Named("scanner.session"),
		events: make(chan Event, cfg.Mailbox),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		m:      NewMachine(cfg.ResumeDelay),
	}
	c.snap = c.m
	go c.loop()
	return c
}

// Post enqueues ev. It blocks until the mailbox accepts it, ctx ends or the
// controller closes.
func (c *Controller) Post(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Snapshot returns the machine as of the last processed event.
func (c *Controller) Snapshot() Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// View returns the current display state.
func (c *Controller) View() View { return Present(c.Snapshot()) }

// Done is closed once the event loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Close tears the session down: the decode loop stops, the camera is
// released, the resume timer and any in-flight call are cancelled. It waits
// for all of it and is safe to call more than once.
func (c *Controller) Close() error {
	c.once.Do(func() {
		_ = c.Post(context.Background(), Teardown{})
		<-c.done
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// SelectShowtime implements showtime.Listener.
func (c *Controller) SelectShowtime(t showtime.Target) {
	c.post(ShowtimeSelected{Target: t})
}

// ClearShowtime implements showtime.Listener.
func (c *Controller) ClearShowtime() { c.post(ShowtimeCleared{}) }

// HandleDecoded implements decode.Handler.
func (c *Controller) HandleDecoded(ctx context.Context, d decode.Decoded) {
	_ = c.Post(ctx, Decoded{Run: d.Run, AttemptID: uuid.New(), Payload: d.Payload, CapturedAt: d.CapturedAt})
}

// HandleNoise implements decode.Handler. Frames without a code are normal.
func (c *Controller) HandleNoise(_ context.Context, err error) {
	c.log.Debug("decode noise", zap.Error(err))
}

// HandleFault implements decode.Handler.
func (c *Controller) HandleFault(ctx context.Context, run uint64, err error) {
	c.log.Warn("camera fault", zap.Uint64("run", run), zap.Error(err))
	_ = c.Post(ctx, CameraRevoked{Run: run, Reason: DeviceNotice(err)})
}

func (c *Controller) post(ev Event) {
	if err := c.Post(context.Background(), ev); err != nil {
		c.log.Debug("event dropped", zap.Error(err))
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for ev := range c.events {
		c.apply(ev)
		if c.m.Closed {
			c.stopTimer()
			if c.abort != nil {
				c.abort()
				c.abort = nil
			}
			return
		}
	}
}

// apply runs ev and any events its effects feed back, in order.
func (c *Controller) apply(ev Event) {
	pending := []Event{ev}
	for len(pending) > 0 {
		ev, pending = pending[0], pending[1:]
		if fin, ok := ev.(VerificationFinished); ok {
			c.logOutcome(fin)
		}
		prev := c.m.State
		next, fx := Transition(c.m, ev)
		c.m = next
		if prev != next.State {
			c.log.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", next.State))
		}
		for _, f := range fx {
			if back := c.run(f); back != nil {
				pending = append(pending, back)
			}
		}
		c.publish()
	}
}

// run performs one effect. A returned event is applied next.
func (c *Controller) run(f Effect) Event {
	switch e := f.(type) {
	case StartDecoder:
		if err := c.eng.Start(c.ctx, e.CameraID, e.Run); err != nil {
			c.log.Warn("decoder start failed", zap.String("camera_id", e.CameraID), zap.Error(err))
			return CameraRevoked{Run: e.Run, Reason: DeviceNotice(err)}
		}
	case StopDecoder:
		c.eng.Stop()
	case ReleaseCamera:
		c.eng.Release()
	case BeginVerification:
		return c.begin(e)
	case AbortVerification:
		if c.abort != nil && c.inflightID == e.AttemptID {
			c.abort()
			c.abort = nil
			c.log.Info("verification aborted", zap.Stringer("attempt_id", e.AttemptID))
		}
	case ScheduleResume:
		c.stopTimer()
		id := e.AttemptID
		c.timer = time.AfterFunc(e.After, func() { c.post(ResumeDue{AttemptID: id}) })
	case CancelResume:
		c.stopTimer()
	}
	return nil
}

func (c *Controller) begin(e BeginVerification) Event {
	op, err := c.ident.Operator()
	if err != nil {
		return VerificationFinished{AttemptID: e.Attempt.ID, Outcome: verify.Unauthorized("Operator session expired, please sign in again")}
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.inflightID, c.abort = e.Attempt.ID, cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		out := c.ver.Verify(ctx, e.Attempt.Payload, e.Target.ShowtimeID, op.CinemaID)
		if out.Kind == verify.KindUnauthorized {
			out = c.renewSession(ctx, op, out)
		}
		c.post(VerificationFinished{AttemptID: e.Attempt.ID, Outcome: out})
	}()
	c.log.Debug("verification started",
		zap.Stringer("attempt_id", e.Attempt.ID),
		zap.String("showtime_id", e.Target.ShowtimeID))
	return nil
}

// renewSession tries the refresh token once when an expired access token was
// rejected. A renewed session turns the outcome into a retryable one; a
// failed renewal signs the operator out.
func (c *Controller) renewSession(ctx context.Context, op identity.Operator, out verify.Outcome) verify.Outcome {
	if c.renew == nil {
		return out
	}
	if op.ExpiresAt.IsZero() || time.Until(op.ExpiresAt) > renewWindow {
		c.renew.SignOut()
		return out
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	renewed, err := c.renew.Renew(ctx)
	if err == nil {
		c.log.Info("operator session renewed", zap.String("user_id", renewed.UserID))
		return verify.TransportError("Session renewed, please scan the ticket again")
	}
	if ctx.Err() != nil {
		// aborted attempt; its result is discarded anyway
		return out
	}
	c.log.Warn("operator session renewal failed", zap.Error(err))
	c.renew.SignOut()
	return out
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.snap = c.m
	c.mu.Unlock()
}

// logOutcome logs a result that belongs to the attempt in flight. Stale
// results are logged at Debug.
func (c *Controller) logOutcome(fin VerificationFinished) {
	if c.m.State != Verifying || c.m.Attempt == nil || c.m.Attempt.ID != fin.AttemptID {
		c.log.Debug("stale verification result discarded", zap.Stringer("attempt_id", fin.AttemptID))
		return
	}
	fields := []zap.Field{
		zap.Stringer("attempt_id", fin.AttemptID),
		zap.String("showtime_id", c.m.Target.ShowtimeID),
		zap.String("booking_id", verify.BookingIDFromPayload(c.m.Attempt.Payload)),
		zap.Stringer("outcome", fin.Outcome.Kind),
	}
	if fin.Outcome.OK() {
		c.log.Info("ticket accepted", fields...)
		return
	}
	c.log.Warn("ticket not accepted", append(fields, zap.String("reason", fin.Outcome.Message))...)
}

// DeviceNotice turns a camera error into operator-facing text.
func DeviceNotice(err error) string {
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return "Camera permission denied. Grant access and reload the scanner"
	case errors.Is(err, device.ErrNoCamera), errors.Is(err, device.ErrCameraNotFound):
		return "No camera found"
	case errors.Is(err, device.ErrCameraBusy):
		return "Camera is in use by another application"
	case errors.Is(err, device.ErrStreamClosed):
		return "Camera stream closed"
	case errors.Is(err, device.ErrCameraLost):
		return "Camera disconnected. Check the camera and reload the scanner"
	default:
		return "Camera unavailable"
	}
}
