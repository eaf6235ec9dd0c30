package callkit

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/heartwire/callkit/shared"
	"github.com/pion/webrtc/v4"
)

// peerLink wraps one Pion PeerConnection. The controller creates at
// most one live link per session and closes it before any replacement
// is made, so an orphaned connection can never emit stale events into
// a new session.
type peerLink struct {
	logger shared.LoggerAdapter
	events PeerEvents

	// closed is checked inside Pion callbacks without taking mu, since
	// pc.Close may fire state callbacks synchronously.
	closed atomic.Bool

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	remoteApplied bool
}

var _ PeerLink = (*peerLink)(nil)

// NewPeerLink creates a PeerLink over a Pion PeerConnection. api may be
// nil to use the default WebRTC API; package media supplies one with
// its codec selector populated.
func NewPeerLink(logger shared.LoggerAdapter, api *webrtc.API, cfg webrtc.Configuration, events PeerEvents) (PeerLink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	p := &peerLink{logger: logger, events: events, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if p.closed.Load() {
			return
		}
		if c == nil {
			p.logger.Debug("ice gathering complete")
			return
		}
		init := c.ToJSON()
		if isLoopbackCandidate(init.Candidate) {
			p.logger.Debug("filtering loopback ice candidate")
			return
		}
		if p.events.LocalCandidate != nil {
			p.events.LocalCandidate(init)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if p.closed.Load() {
			return
		}
		p.logger.Debug("remote track arrived",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		if p.events.RemoteTrack != nil {
			p.events.RemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if p.closed.Load() {
			return
		}
		p.logger.Debug("peer connection state changed", zap.String("state", state.String()))
		if p.events.StateChange != nil {
			p.events.StateChange(state)
		}
	})

	return p, nil
}

func (p *peerLink) AddTracks(stream LocalStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return shared.ErrPeerClosed
	}
	for _, track := range stream.Tracks() {
		if _, err := p.pc.AddTrack(track); err != nil {
			return fmt.Errorf("adding local track: %w", err)
		}
	}
	return nil
}

func (p *peerLink) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return webrtc.SessionDescription{}, shared.ErrPeerClosed
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local description: %w", err)
	}
	return offer, nil
}

func (p *peerLink) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return webrtc.SessionDescription{}, shared.ErrPeerClosed
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local description: %w", err)
	}
	return answer, nil
}

func (p *peerLink) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return shared.ErrPeerClosed
	}
	if p.remoteApplied {
		return shared.ErrRemoteDescApplied
	}
	// A late duplicate answer after negotiation settled must not be
	// re-applied either.
	if desc.Type == webrtc.SDPTypeAnswer && p.pc.SignalingState() == webrtc.SignalingStateStable {
		return shared.ErrRemoteDescApplied
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	p.remoteApplied = true
	return nil
}

func (p *peerLink) RemoteApplied() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteApplied
}

func (p *peerLink) AddCandidate(cand webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return shared.ErrPeerClosed
	}
	if err := p.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("adding ice candidate: %w", err)
	}
	return nil
}

// Close detaches all callbacks before closing the connection, so a
// closing connection cannot report events as if it were still live.
func (p *peerLink) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func isLoopbackCandidate(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
