package callkit

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Channel is the signaling transport the core consumes. The concrete
// implementation (a websocket client in package signaling) connects and
// reconnects on its own; the core only sends events and registers
// inbound handlers. Every On registration returns an off func that the
// core calls on session teardown, so handlers of an ended session can
// never fire into a new one.
type Channel interface {
	Send(event EventType, payload Payload) error
	On(event EventType, handler func(data []byte)) (off func())
}

// LocalStream is an acquired camera/microphone stream. It is
// exclusively owned by the session and closed on every exit path.
type LocalStream interface {
	// Tracks returns the local tracks to attach to a peer connection.
	// Attachment must happen before SDP generation.
	Tracks() []webrtc.TrackLocal
	// SetAudioEnabled flips the microphone track without renegotiating.
	SetAudioEnabled(enabled bool)
	// SetVideoEnabled flips the camera track without renegotiating.
	SetVideoEnabled(enabled bool)
	Close()
}

// MediaAcquirer obtains hardware streams scoped to audio-only or
// audio+video. Failures are *shared.MediaError values and are never
// retried automatically.
type MediaAcquirer interface {
	Acquire(ctx context.Context, kind MediaKind) (LocalStream, error)
}

// PeerEvents are the callbacks a peer link reports upward. They fire on
// Pion goroutines; the controller re-validates session phase and epoch
// before applying any of them.
type PeerEvents struct {
	LocalCandidate func(cand webrtc.ICECandidateInit)
	RemoteTrack    func(track *webrtc.TrackRemote)
	StateChange    func(state webrtc.PeerConnectionState)
}

// PeerLink is one underlying peer-to-peer media connection. Exactly one
// live link exists per session.
type PeerLink interface {
	// AddTracks attaches local media tracks. Must be called before
	// CreateOffer or CreateAnswer, or no media line is negotiated.
	AddTracks(stream LocalStream) error
	// CreateOffer generates an offer and sets it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer generates an answer and sets it as local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	// ApplyRemoteDescription sets the remote offer/answer. It refuses a
	// second apply for the same negotiation round, so duplicate answer
	// delivery cannot re-trigger connection setup.
	ApplyRemoteDescription(desc webrtc.SessionDescription) error
	// RemoteApplied reports whether a remote description has been set.
	RemoteApplied() bool
	// AddCandidate applies one remote ICE candidate. Only valid after
	// the remote description is applied.
	AddCandidate(cand webrtc.ICECandidateInit) error
	// Close detaches callbacks and closes the connection. Idempotent.
	Close() error
}

// PeerFactory builds a PeerLink. The default factory wraps NewPeerLink;
// package media supplies one bound to its codec-aware WebRTC API.
type PeerFactory func(cfg webrtc.Configuration, events PeerEvents) (PeerLink, error)
