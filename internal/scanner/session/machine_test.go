package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-ticket-scanner/internal/model"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/showtime"
	"github.com/iliyamo/cinema-ticket-scanner/internal/scanner/verify"
)

var (
	s1 = showtime.Target{ShowtimeID: "S1", MovieTitle: "Dune", StartTime: time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)}
	s2 = showtime.Target{ShowtimeID: "S2", MovieTitle: "Arrival", StartTime: time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)}
)

func step(t *testing.T, m Machine, ev Event) (Machine, []Effect) {
	t.Helper()
	return Transition(m, ev)
}

func scanning(t *testing.T) Machine {
	t.Helper()
	m := NewMachine(3 * time.Second)
	m, _ = step(t, m, CameraReady{CameraID: "cam-back"})
	m, fx := step(t, m, ShowtimeSelected{Target: s1})
	require.Equal(t, Scanning, m.State)
	require.Equal(t, []Effect{StartDecoder{CameraID: "cam-back", Run: 1}}, fx)
	return m
}

func verifying(t *testing.T, payload string) (Machine, uuid.UUID) {
	t.Helper()
	m := scanning(t)
	id := uuid.New()
	m, _ = step(t, m, Decoded{Run: m.Run, AttemptID: id, Payload: payload})
	require.Equal(t, Verifying, m.State)
	return m, id
}

func countBegins(fx []Effect) int {
	n := 0
	for _, f := range fx {
		if _, ok := f.(BeginVerification); ok {
			n++
		}
	}
	return n
}

func TestHappyPath(t *testing.T) {
	m := scanning(t)
	id := uuid.New()

	m, fx := step(t, m, Decoded{Run: 1, AttemptID: id, Payload: "BK123"})
	assert.Equal(t, Verifying, m.State)
	require.Len(t, fx, 2)
	assert.Equal(t, StopDecoder{}, fx[0], "decoder stops before the call is issued")
	begin, ok := fx[1].(BeginVerification)
	require.True(t, ok)
	assert.Equal(t, "BK123", begin.Attempt.Payload)
	assert.Equal(t, "S1", begin.Target.ShowtimeID)

	ticket := model.TicketSummary{BookingID: "BK123", MovieTitle: "Dune", SeatLabels: []string{"F7"}, HolderName: "Ada"}
	m, fx = step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Accepted(ticket)})
	assert.Equal(t, Resulted, m.State)
	assert.Empty(t, fx, "accepted tickets wait for the operator")
	v := Present(m)
	assert.Equal(t, ViewAccepted, v.Kind)
	require.NotNil(t, v.Ticket)
	assert.Equal(t, ticket, *v.Ticket)
	assert.True(t, v.ScanNext)

	m, fx = step(t, m, ResumeDue{AttemptID: id})
	assert.Equal(t, Resulted, m.State, "no auto-resume after success")
	assert.Empty(t, fx)

	m, fx = step(t, m, ScanNext{})
	assert.Equal(t, Scanning, m.State)
	assert.Equal(t, []Effect{CancelResume{}, StartDecoder{CameraID: "cam-back", Run: 2}}, fx)
	assert.Nil(t, m.Attempt)
}

func TestRejectionAutoResume(t *testing.T) {
	m, id := verifying(t, "BK999")

	m, fx := step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Rejected("Already used")})
	assert.Equal(t, Resulted, m.State)
	assert.Equal(t, []Effect{ScheduleResume{AttemptID: id, After: 3 * time.Second}}, fx)
	v := Present(m)
	assert.Equal(t, ViewRejected, v.Kind)
	assert.Equal(t, "Already used", v.Message)

	m, fx = step(t, m, ResumeDue{AttemptID: id})
	assert.Equal(t, Scanning, m.State)
	assert.Equal(t, []Effect{StartDecoder{CameraID: "cam-back", Run: 2}}, fx)

	next := uuid.New()
	m, fx = step(t, m, Decoded{Run: 2, AttemptID: next, Payload: "BK124"})
	assert.Equal(t, 1, countBegins(fx))
	m, _ = step(t, m, VerificationFinished{AttemptID: next, Outcome: verify.Accepted(model.TicketSummary{BookingID: "BK124"})})
	assert.Equal(t, ViewAccepted, Present(m).Kind)
}

func TestTransportErrorFollowsRejectionPath(t *testing.T) {
	m, id := verifying(t, "BK1")

	m, fx := step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.TransportError("Verification timed out")})
	assert.Equal(t, Resulted, m.State)
	assert.Equal(t, []Effect{ScheduleResume{AttemptID: id, After: 3 * time.Second}}, fx)
	assert.Equal(t, "Verification timed out", Present(m).Message)

	m, fx = step(t, m, ScanNext{})
	assert.Equal(t, Scanning, m.State)
	assert.Equal(t, CancelResume{}, fx[0])
}

func TestSingleFlightIgnoresDecodesWhileVerifying(t *testing.T) {
	m, id := verifying(t, "BK1")

	for i := 0; i < 50; i++ {
		var fx []Effect
		m, fx = step(t, m, Decoded{Run: m.Run, AttemptID: uuid.New(), Payload: "BK1"})
		assert.Empty(t, fx)
	}
	assert.Equal(t, Verifying, m.State)
	assert.Equal(t, id, m.Attempt.ID)
}

func TestStaleRunDecodeIsDiscarded(t *testing.T) {
	m := scanning(t)
	m, _ = step(t, m, ShowtimeSelected{Target: s2})
	require.Equal(t, uint64(2), m.Run)

	m2, fx := step(t, m, Decoded{Run: 1, AttemptID: uuid.New(), Payload: "late"})
	assert.Equal(t, m, m2)
	assert.Empty(t, fx)
}

func TestShowtimeSwitchMidVerify(t *testing.T) {
	m, id := verifying(t, "BK1")

	m, fx := step(t, m, ShowtimeSelected{Target: s2})
	assert.Equal(t, Scanning, m.State)
	assert.Equal(t, "S2", m.Target.ShowtimeID)
	assert.Equal(t, []Effect{AbortVerification{AttemptID: id}, StartDecoder{CameraID: "cam-back", Run: 2}}, fx)

	after, fx := step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Accepted(model.TicketSummary{BookingID: "BK1"})})
	assert.Equal(t, m, after, "late result for the old showtime is dropped")
	assert.Empty(t, fx)
}

func TestShowtimeSwitchWhileScanningRestartsLoop(t *testing.T) {
	m := scanning(t)

	m, fx := step(t, m, ShowtimeSelected{Target: s2})
	assert.Equal(t, []Effect{StopDecoder{}, StartDecoder{CameraID: "cam-back", Run: 2}}, fx)
	assert.Equal(t, Scanning, m.State)
}

func TestClearedAndRevokedFromEveryState(t *testing.T) {
	builders := map[State]func(t *testing.T) Machine{
		Idle:     func(t *testing.T) Machine { return NewMachine(0) },
		Scanning: scanning,
		Verifying: func(t *testing.T) Machine {
			m, _ := verifying(t, "BK1")
			return m
		},
		Resulted: func(t *testing.T) Machine {
			m, id := verifying(t, "BK1")
			m, _ = step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Rejected("no")})
			return m
		},
	}
	for state, build := range builders {
		t.Run(state.String(), func(t *testing.T) {
			m, _ := step(t, build(t), ShowtimeCleared{})
			assert.Equal(t, Idle, m.State)
			assert.False(t, m.HasTarget)
			assert.Equal(t, ViewIdle, Present(m).Kind)

			m, fx := step(t, build(t), CameraRevoked{Reason: "Camera permission denied"})
			assert.Equal(t, Idle, m.State)
			assert.Contains(t, fx, ReleaseCamera{})
			assert.Equal(t, "Camera permission denied", Present(m).Message)
			assert.Zero(t, countBegins(fx))
		})
	}
}

func TestClearedHaltsCurrentActivity(t *testing.T) {
	m := scanning(t)
	_, fx := step(t, m, ShowtimeCleared{})
	assert.Equal(t, []Effect{StopDecoder{}}, fx)

	m, id := verifying(t, "BK1")
	_, fx = step(t, m, ShowtimeCleared{})
	assert.Equal(t, []Effect{AbortVerification{AttemptID: id}}, fx)

	m, id = verifying(t, "BK1")
	m, _ = step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Rejected("no")})
	m, fx = step(t, m, ShowtimeCleared{})
	assert.Equal(t, []Effect{CancelResume{}}, fx, "pending resume timer is cancelled")

	_, fx = step(t, m, ResumeDue{AttemptID: id})
	assert.Empty(t, fx)
}

func TestFaultFromOldRunIgnored(t *testing.T) {
	m := scanning(t)
	m, _ = step(t, m, ShowtimeSelected{Target: s2})

	after, fx := step(t, m, CameraRevoked{Run: 1, Reason: "busy"})
	assert.Equal(t, m, after)
	assert.Empty(t, fx)

	after, _ = step(t, m, CameraRevoked{Run: 2, Reason: "busy"})
	assert.Equal(t, Idle, after.State)
}

func TestUnauthorizedRequiresSignIn(t *testing.T) {
	m, id := verifying(t, "BK1")

	m, fx := step(t, m, VerificationFinished{AttemptID: id, Outcome: verify.Unauthorized("invalid token")})
	assert.Equal(t, Idle, m.State)
	assert.True(t, m.SignedOut)
	assert.Equal(t, []Effect{ReleaseCamera{}}, fx)
	v := Present(m)
	assert.Equal(t, ViewIdle, v.Kind)
	assert.True(t, v.SignedOut)

	m, fx = step(t, m, ShowtimeSelected{Target: s2})
	assert.Equal(t, Idle, m.State, "no scanning while signed out")
	assert.Empty(t, fx)

	m, fx = step(t, m, SessionRestored{})
	assert.Equal(t, Scanning, m.State)
	assert.Equal(t, "S2", m.Target.ShowtimeID)
	require.Len(t, fx, 1)
	assert.IsType(t, StartDecoder{}, fx[0])
}

func TestTeardownReleasesAndCloses(t *testing.T) {
	m, id := verifying(t, "BK1")

	m, fx := step(t, m, Teardown{})
	assert.True(t, m.Closed)
	assert.Equal(t, []Effect{AbortVerification{AttemptID: id}, ReleaseCamera{}}, fx)

	for _, ev := range []Event{ShowtimeSelected{Target: s1}, CameraReady{CameraID: "x"}, ScanNext{}, Teardown{}} {
		after, fx := step(t, m, ev)
		assert.Equal(t, m, after)
		assert.Empty(t, fx)
	}
}

func TestCameraChangeWhileScanning(t *testing.T) {
	m := scanning(t)

	same, fx := step(t, m, CameraReady{CameraID: "cam-back"})
	assert.Equal(t, m, same)
	assert.Empty(t, fx)

	m, fx = step(t, m, CameraReady{CameraID: "cam-usb"})
	assert.Equal(t, []Effect{StopDecoder{}, StartDecoder{CameraID: "cam-usb", Run: 2}}, fx)
}

func TestScanNextOnlyFromResulted(t *testing.T) {
	for _, m := range []Machine{NewMachine(0), scanning(t)} {
		after, fx := step(t, m, ScanNext{})
		assert.Equal(t, m, after)
		assert.Empty(t, fx)
	}
}

// Random event sequences keep the machine consistent: at most one attempt
// begun per Verifying entry, and decoding never requested while an attempt
// is in flight.
func TestRandomSequencesKeepSingleFlight(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		m := NewMachine(time.Second)
		var lastAttempt uuid.UUID
		for i := 0; i < 40; i++ {
			var ev Event
			switch rng.Intn(9) {
			case 0:
				ev = ShowtimeSelected{Target: []showtime.Target{s1, s2}[rng.Intn(2)]}
			case 1:
				ev = ShowtimeCleared{}
			case 2:
				ev = CameraReady{CameraID: "cam"}
			case 3:
				ev = CameraRevoked{}
			case 4, 5:
				ev = Decoded{Run: m.Run - uint64(rng.Intn(2)), AttemptID: uuid.New(), Payload: "BK"}
			case 6:
				out := []verify.Outcome{verify.Accepted(model.TicketSummary{}), verify.Rejected("x"), verify.TransportError("y")}[rng.Intn(3)]
				ev = VerificationFinished{AttemptID: lastAttempt, Outcome: out}
			case 7:
				ev = ResumeDue{AttemptID: lastAttempt}
			default:
				ev = ScanNext{}
			}
			prev := m
			var fx []Effect
			m, fx = Transition(m, ev)

			begins := countBegins(fx)
			assert.LessOrEqual(t, begins, 1)
			if begins == 1 {
				assert.Equal(t, Scanning, prev.State)
				assert.Equal(t, Verifying, m.State)
				lastAttempt = m.Attempt.ID
			}
			if m.State == Verifying {
				for _, f := range fx {
					_, starts := f.(StartDecoder)
					assert.False(t, starts)
				}
			}
			if m.State == Scanning {
				assert.True(t, m.HasTarget && m.CameraReady)
			}
		}
	}
}
