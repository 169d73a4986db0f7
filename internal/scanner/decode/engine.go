// Package decode runs the continuous frame decode loop over a camera stream.
// The engine carries no business rules: it reports every decoded payload and
// leaves the decision of whether it matters to the session controller.
package decode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/device"
)

// Decoded is one successfully decoded frame. Run identifies the loop that
// produced it so late deliveries from a stopped loop can be told apart.
type Decoded struct {
	Run        uint64
	Payload    string
	CapturedAt time.Time
}

// Handler receives loop events. The context passed in is cancelled once the
// producing loop is stopped, so a handler blocked on delivery must give up
// when it is done.
type Handler interface {
	HandleDecoded(ctx context.Context, d Decoded)
	HandleNoise(ctx context.Context, err error)
	HandleFault(ctx context.Context, run uint64, err error)
}

// Config tunes the loop cadence. MaxFrameFailures is the number of
// consecutive frame read errors after which the camera is reported lost.
type Config struct {
	FrameInterval    time.Duration
	MaxFrameFailures int
}

// DefaultConfig returns the default loop cadence (5 frames per second, camera
// lost after two seconds without a frame).
func DefaultConfig() Config {
	return Config{FrameInterval: 200 * time.Millisecond, MaxFrameFailures: 10}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FrameInterval <= 0 {
		c.FrameInterval = def.FrameInterval
	}
	if c.MaxFrameFailures <= 0 {
		c.MaxFrameFailures = def.MaxFrameFailures
	}
	return c
}

// Engine owns the single camera stream of a scanner view and at most one
// decode loop over it.
type Engine struct {
	src device.Source
	dec Decoder
	h   Handler
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	stream   device.Stream
	cameraID string
	run      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEngine builds an engine. SetHandler must be called before Start when h is
// nil.
func NewEngine(src device.Source, dec Decoder, h Handler, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{src: src, dec: dec, h: h, cfg: cfg.withDefaults(), log: log.Named("scanner.decode")}
}

// SetHandler installs the event handler. It must not be called while running.
func (e *Engine) SetHandler(h Handler) {
	e.mu.Lock()
	e.h = h
	e.mu.Unlock()
}

// Start begins decoding cameraID as loop run. A stream held for another camera
// is closed before the new one is opened. Starting the same run again is a
// no-op; a different run restarts the loop on the held stream.
func (e *Engine) Start(ctx context.Context, cameraID string, run uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil && e.cameraID != cameraID {
		e.releaseLocked()
	}
	if e.stream == nil {
		st, err := e.src.Open(ctx, cameraID)
		if err != nil {
			return err
		}
		e.stream = st
		e.cameraID = cameraID
		e.log.Info("camera stream opened", zap.String("camera_id", cameraID))
	}
	if e.cancel != nil {
		if e.run == run {
			return nil
		}
		e.stopLocked()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.run = run
	go e.loop(loopCtx, e.stream, run, e.done)
	e.log.Debug("decode loop started", zap.Uint64("run", run))
	return nil
}

// Stop halts decoding and waits for the loop to exit. The stream stays open.
// Calling Stop when nothing runs is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Release stops decoding and closes the stream. Idempotent.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

// Running reports whether a decode loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// OpenStreams returns the number of camera streams held, 0 or 1.
func (e *Engine) OpenStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream == nil {
		return 0
	}
	return 1
}

func (e *Engine) stopLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
	e.log.Debug("decode loop stopped", zap.Uint64("run", e.run))
}

func (e *Engine) releaseLocked() {
	e.stopLocked()
	if e.stream == nil {
		return
	}
	if err := e.stream.Close(); err != nil {
		e.log.Warn("closing camera stream failed", zap.String("camera_id", e.cameraID), zap.Error(err))
	}
	e.log.Info("camera stream released", zap.String("camera_id", e.cameraID))
	e.stream = nil
	e.cameraID = ""
}

func (e *Engine) loop(ctx context.Context, st device.Stream, run uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.FrameInterval)
	defer ticker.Stop()

	failures := 0
	for {
		img, err := st.Frame(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
		} else {
			failures = 0
		}
		switch {
		case err != nil && device.IsFatal(err):
			e.h.HandleFault(ctx, run, err)
			return
		case failures >= e.cfg.MaxFrameFailures:
			e.log.Warn("camera stopped delivering frames", zap.Int("failures", failures), zap.Error(err))
			e.h.HandleFault(ctx, run, fmt.Errorf("%w: %w", device.ErrCameraLost, err))
			return
		case err != nil:
			e.log.Debug("frame read failed", zap.Int("failures", failures), zap.Error(err))
			e.h.HandleNoise(ctx, err)
		default:
			payload, derr := e.dec.Decode(img)
			if derr != nil {
				e.h.HandleNoise(ctx, derr)
			} else {
				e.h.HandleDecoded(ctx, Decoded{Run: run, Payload: payload, CapturedAt: time.Now().UTC()})
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
