package callkit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Phase is the single authority on where a call attempt stands. Every
// transition is an explicit edge; there are no auxiliary state flags.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCalling
	PhaseIncoming
	PhaseNegotiating
	PhaseConnected
	PhaseEnded
	PhaseRejected
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCalling:
		return "calling"
	case PhaseIncoming:
		return "incoming"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	case PhaseRejected:
		return "rejected"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether the phase ends the session. A new call may
// be started once the current session is terminal.
func (p Phase) Terminal() bool {
	return p == PhaseEnded || p == PhaseRejected || p == PhaseFailed
}

// Active reports whether a session in this phase blocks new attempts.
func (p Phase) Active() bool {
	return !p.Terminal()
}

// Label is the user-facing status string for the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseCalling:
		return "Calling…"
	case PhaseIncoming:
		return "Incoming call"
	case PhaseNegotiating:
		return "Connecting…"
	case PhaseConnected:
		return "Connected"
	case PhaseEnded:
		return "Call Ended"
	case PhaseRejected:
		return "Call Rejected"
	case PhaseFailed:
		return "Connection Failed"
	}
	return ""
}

// Direction of a call attempt.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// DeriveSessionID builds the shared call identifier from the two
// participant ids. Both sides sort the pair, so they agree on the id
// without a round-trip.
func DeriveSessionID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "call_" + strings.Join(pair, "_")
}

// Session is one call attempt. All fields are guarded by the
// controller mutex; nothing outside the controller holds a reference
// past session end.
type Session struct {
	id        string
	direction Direction
	mediaKind MediaKind
	phase     Phase

	localID  string
	remoteID string

	localStream  LocalStream
	remoteTracks []*webrtc.TrackRemote

	// pendingOffer is the stored remote offer of an incoming call.
	// Media and peer creation are deferred until accept, so no
	// camera/mic permission is requested for calls the user rejects.
	pendingOffer *webrtc.SessionDescription

	pending candidateQueue
	link    PeerLink

	muted        bool
	cameraOff    bool
	disconnected bool
	reason       string

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time

	// epoch stamps the session so results of async operations started
	// against an older (since ended) session are discarded.
	epoch uint64
}

func newSession(dir Direction, kind MediaKind, localID, remoteID string, epoch uint64) *Session {
	return &Session{
		id:        DeriveSessionID(localID, remoteID),
		direction: dir,
		mediaKind: kind,
		phase:     PhaseIdle,
		localID:   localID,
		remoteID:  remoteID,
		startedAt: time.Now(),
		epoch:     epoch,
	}
}

// canTransition encodes the legal state-machine edges.
func (s *Session) canTransition(to Phase) bool {
	switch to {
	case PhaseCalling:
		return s.phase == PhaseIdle && s.direction == Outgoing
	case PhaseIncoming:
		return s.phase == PhaseIdle && s.direction == Incoming
	case PhaseNegotiating:
		return s.phase == PhaseCalling || s.phase == PhaseIncoming
	case PhaseConnected:
		return s.phase == PhaseNegotiating
	case PhaseEnded, PhaseRejected, PhaseFailed:
		return !s.phase.Terminal()
	}
	return false
}

// transition moves the session to a new phase, recording timestamps.
// Returns false when the edge is not legal.
func (s *Session) transition(to Phase) bool {
	if !s.canTransition(to) {
		return false
	}
	s.phase = to
	now := time.Now()
	switch {
	case to == PhaseConnected && s.connectedAt.IsZero():
		s.connectedAt = now
	case to.Terminal() && s.endedAt.IsZero():
		s.endedAt = now
	}
	return true
}

// duration is the elapsed connected time, zero before Connected.
func (s *Session) duration() time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.connectedAt)
	}
	return time.Since(s.connectedAt)
}
