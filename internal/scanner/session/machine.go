// Package session coordinates a scanner view: it decides when the decode loop
// may run, turns the first decoded code into exactly one verification call,
// shows the outcome and resumes scanning afterwards.
//
// The rules live in Transition, a pure function from (machine, event) to
// (machine, effects). The Controller runs it on a single goroutine and carries
// out the effects.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/verify"
)

// State is the scanner lifecycle phase.
type State int

const (
	// Idle: no target, no camera, or signed out. Decoding is off.
	Idle State = iota
	// Scanning: the decode loop runs and the next code is awaited.
	Scanning
	// Verifying: one attempt is in flight and the decode loop is stopped.
	Verifying
	// Resulted: an outcome is displayed and the decode loop is stopped.
	Resulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Verifying:
		return "verifying"
	case Resulted:
		return "resulted"
	default:
		return "unknown"
	}
}

// DefaultResumeDelay is how long a failed outcome stays on screen.
const DefaultResumeDelay = 3 * time.Second

// Attempt is one decoded code on its way to the server.
type Attempt struct {
	ID         uuid.UUID
	Payload    string
	CapturedAt time.Time
}

// Machine is the whole controller state. It is a value; Transition returns a
// new one and never mutates through the pointers it holds.
type Machine struct {
	State       State
	Target      showtime.Target
	HasTarget   bool
	CameraID    string
	CameraReady bool
	Attempt     *Attempt
	Outcome     *verify.Outcome
	// Run numbers decode loops. Only codes from the current run count.
	Run uint64
	// Notice is a persistent device error shown while Idle.
	Notice    string
	SignedOut bool
	Closed    bool

	ResumeDelay time.Duration
}

// NewMachine returns an idle machine. A non-positive delay uses
// DefaultResumeDelay.
func NewMachine(resumeDelay time.Duration) Machine {
	if resumeDelay <= 0 {
		resumeDelay = DefaultResumeDelay
	}
	return Machine{State: Idle, ResumeDelay: resumeDelay}
}

// Event is an input to Transition.
type Event interface{ isEvent() }

// ShowtimeSelected sets or replaces the target.
type ShowtimeSelected struct{ Target showtime.Target }

// ShowtimeCleared drops the target.
type ShowtimeCleared struct{}

// CameraReady reports a granted, selected camera.
type CameraReady struct{ CameraID string }

// CameraRevoked reports that the camera is gone. A non-zero Run limits the
// event to faults of that decode loop.
type CameraRevoked struct {
	Run    uint64
	Reason string
}

// Decoded is a code read by decode loop Run. AttemptID names the attempt it
// would start.
type Decoded struct {
	Run        uint64
	AttemptID  uuid.UUID
	Payload    string
	CapturedAt time.Time
}

// VerificationFinished carries the outcome of an attempt.
type VerificationFinished struct {
	AttemptID uuid.UUID
	Outcome   verify.Outcome
}

// ResumeDue fires when a failed outcome has been shown long enough.
type ResumeDue struct{ AttemptID uuid.UUID }

// ScanNext is the operator's "scan next ticket" action.
type ScanNext struct{}

// SessionExpired reports that the operator must sign in again.
type SessionExpired struct{}

// SessionRestored reports a successful sign-in.
type SessionRestored struct{}

// Teardown ends the session for good.
type Teardown struct{}

func (ShowtimeSelected) isEvent()     {}
func (ShowtimeCleared) isEvent()      {}
func (CameraReady) isEvent()          {}
func (CameraRevoked) isEvent()        {}
func (Decoded) isEvent()              {}
func (VerificationFinished) isEvent() {}
func (ResumeDue) isEvent()            {}
func (ScanNext) isEvent()             {}
func (SessionExpired) isEvent()       {}
func (SessionRestored) isEvent()      {}
func (Teardown) isEvent()             {}

// Effect is work Transition asks the runtime to perform, in order.
type Effect interface{ isEffect() }

// StartDecoder starts (or restarts) decode loop Run on CameraID.
type StartDecoder struct {
	CameraID string
	Run      uint64
}

// StopDecoder halts decoding synchronously. The stream stays open.
type StopDecoder struct{}

// ReleaseCamera stops decoding and closes the stream.
type ReleaseCamera struct{}

// BeginVerification issues the one call for Attempt.
type BeginVerification struct {
	Attempt Attempt
	Target  showtime.Target
}

// AbortVerification cancels the call of AttemptID. Its result is ignored.
type AbortVerification struct{ AttemptID uuid.UUID }

// ScheduleResume arms the resume timer for AttemptID.
type ScheduleResume struct {
	AttemptID uuid.UUID
	After     time.Duration
}

// CancelResume disarms the resume timer.
type CancelResume struct{}

func (StartDecoder) isEffect()      {}
func (StopDecoder) isEffect()       {}
func (ReleaseCamera) isEffect()     {}
func (BeginVerification) isEffect() {}
func (AbortVerification) isEffect() {}
func (ScheduleResume) isEffect()    {}
func (CancelResume) isEffect()      {}

// Transition applies ev to m. Events that do not apply in the current state
// return m unchanged with no effects. A closed machine ignores everything.
func Transition(m Machine, ev Event) (Machine, []Effect) {
	if m.Closed {
		return m, nil
	}
	switch e := ev.(type) {
	case ShowtimeSelected:
		fx := m.halt()
		m.Target, m.HasTarget = e.Target, true
		return m.resume(fx)

	case ShowtimeCleared:
		if !m.HasTarget && m.State == Idle {
			return m, nil
		}
		fx := m.halt()
		m.Target, m.HasTarget = showtime.Target{}, false
		return m.idle(), fx

	case CameraReady:
		changed := !m.CameraReady || m.CameraID != e.CameraID
		m.CameraReady, m.CameraID = true, e.CameraID
		m.Notice = ""
		switch m.State {
		case Idle:
			return m.resume(nil)
		case Scanning:
			if !changed {
				return m, nil
			}
			return m.resume(m.halt())
		}
		// Verifying and Resulted pick the camera up on resume.
		return m, nil

	case CameraRevoked:
		if e.Run != 0 && (m.State != Scanning || e.Run != m.Run) {
			return m, nil
		}
		fx := append(m.halt(), ReleaseCamera{})
		m.CameraReady, m.CameraID = false, ""
		m.Notice = e.Reason
		if m.Notice == "" {
			m.Notice = "Camera unavailable"
		}
		return m.idle(), fx

	case Decoded:
		if m.State != Scanning || e.Run != m.Run {
			return m, nil
		}
		a := Attempt{ID: e.AttemptID, Payload: e.Payload, CapturedAt: e.CapturedAt}
		m.State = Verifying
		m.Attempt = &a
		m.Outcome = nil
		return m, []Effect{StopDecoder{}, BeginVerification{Attempt: a, Target: m.Target}}

	case VerificationFinished:
		if m.State != Verifying || m.Attempt == nil || m.Attempt.ID != e.AttemptID {
			return m, nil
		}
		if e.Outcome.Kind == verify.KindUnauthorized {
			m.SignedOut = true
			return m.idle(), []Effect{ReleaseCamera{}}
		}
		out := e.Outcome
		m.State = Resulted
		m.Outcome = &out
		if out.OK() {
			return m, nil
		}
		return m, []Effect{ScheduleResume{AttemptID: e.AttemptID, After: m.ResumeDelay}}

	case ResumeDue:
		if m.State != Resulted || m.Attempt == nil || m.Attempt.ID != e.AttemptID || m.Outcome.OK() {
			return m, nil
		}
		return m.resume(nil)

	case ScanNext:
		if m.State != Resulted {
			return m, nil
		}
		return m.resume(m.halt())

	case SessionExpired:
		fx := append(m.halt(), ReleaseCamera{})
		m.SignedOut = true
		return m.idle(), fx

	case SessionRestored:
		m.SignedOut = false
		if m.State == Idle {
			return m.resume(nil)
		}
		return m, nil

	case Teardown:
		fx := append(m.halt(), ReleaseCamera{})
		m = m.idle()
		m.Closed = true
		return m, fx
	}
	return m, nil
}

// halt lists the effects that end the activity of the current state.
func (m Machine) halt() []Effect {
	switch m.State {
	case Scanning:
		return []Effect{StopDecoder{}}
	case Verifying:
		if m.Attempt != nil {
			return []Effect{AbortVerification{AttemptID: m.Attempt.ID}}
		}
	case Resulted:
		return []Effect{CancelResume{}}
	}
	return nil
}

func (m Machine) idle() Machine {
	m.State = Idle
	m.Attempt = nil
	m.Outcome = nil
	return m
}

func (m Machine) canScan() bool {
	return m.HasTarget && m.CameraReady && !m.SignedOut
}

// resume enters Scanning with a fresh decode run when scanning is allowed,
// Idle otherwise. fx are effects that must run first.
func (m Machine) resume(fx []Effect) (Machine, []Effect) {
	if !m.canScan() {
		return m.idle(), fx
	}
	m = m.idle()
	m.Run++
	m.State = Scanning
	return m, append(fx, StartDecoder{CameraID: m.CameraID, Run: m.Run})
}
