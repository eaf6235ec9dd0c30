package callkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heartwire/callkit/shared"
	"github.com/pion/webrtc/v4"
)

const (
	// DefaultRingTimeout auto-terminates an unanswered outgoing call.
	DefaultRingTimeout = 30 * time.Second
	// DefaultDisconnectGrace is how long a transient "disconnected"
	// connection state may last before the session gives up. ICE gets
	// this window to restore the path on its own.
	DefaultDisconnectGrace = 5 * time.Second
)

// Status is the observable state of the current call attempt. The UI
// polls Snapshot or subscribes; expected call-flow outcomes (rejection,
// timeout, offline peer) surface here as phase transitions, never as
// errors.
type Status struct {
	Phase     Phase
	Label     string
	SessionID string
	RemoteID  string
	MediaKind MediaKind
	Direction Direction
	Muted     bool
	CameraOff bool
	Duration  time.Duration
	Reason    string
}

// ControllerConfig tunes a Controller. Zero values get defaults.
type ControllerConfig struct {
	// LocalID is this participant's opaque user identifier. Required.
	LocalID string
	// RTC carries the ICE server list and other transport settings.
	RTC webrtc.Configuration
	// PeerFactory builds peer links; nil uses NewPeerLink with the
	// default WebRTC API.
	PeerFactory PeerFactory
	// RingTimeout bounds how long an outgoing call rings.
	RingTimeout time.Duration
	// DisconnectGrace bounds how long a disconnected state may last.
	DisconnectGrace time.Duration
}

// Controller is the public facade of the call core. One Controller per
// signed-in user; at most one non-terminal session at a time.
type Controller struct {
	logger  shared.LoggerAdapter
	adapter *signalAdapter
	media   MediaAcquirer
	newPeer PeerFactory
	rtc     webrtc.Configuration
	localID string
	ring    time.Duration
	grace   time.Duration

	mu         sync.Mutex
	sess       *Session
	epoch      uint64
	offs       []func()
	ringTimer  *time.Timer
	graceTimer *time.Timer
	subs       map[uint64]func(Status)
	nextSub    uint64
	offInvite  func()
	closed     bool
}

// NewController wires the call core to a signaling channel and a media
// acquirer and starts listening for inbound invites.
func NewController(logger shared.LoggerAdapter, ch Channel, media MediaAcquirer, cfg ControllerConfig) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if ch == nil {
		return nil, shared.ErrNoChannel
	}
	if media == nil {
		return nil, shared.ErrNoMediaAcquirer
	}
	if cfg.LocalID == "" {
		return nil, shared.ErrNoLocalID
	}
	c := &Controller{
		logger:  logger.With(zap.String("component", "call-controller")),
		adapter: newSignalAdapter(ch, logger),
		media:   media,
		rtc:     cfg.RTC,
		localID: cfg.LocalID,
		ring:    cfg.RingTimeout,
		grace:   cfg.DisconnectGrace,
		subs:    make(map[uint64]func(Status)),
	}
	if c.ring <= 0 {
		c.ring = DefaultRingTimeout
	}
	if c.grace <= 0 {
		c.grace = DefaultDisconnectGrace
	}
	c.newPeer = cfg.PeerFactory
	if c.newPeer == nil {
		c.newPeer = func(rtcCfg webrtc.Configuration, events PeerEvents) (PeerLink, error) {
			return NewPeerLink(logger, nil, rtcCfg, events)
		}
	}
	c.offInvite = c.adapter.bind(EventCallInvite, c.onInvite)
	return c, nil
}

// Close tears down any active session and stops listening for invites.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardownLocked(PhaseEnded, EventCallEnded, "")
	if c.offInvite != nil {
		c.offInvite()
		c.offInvite = nil
	}
	return nil
}

// StartCall dials remoteID. It acquires local media first; the session
// enters Calling only once media is available and the invite is sent.
func (c *Controller) StartCall(ctx context.Context, remoteID string, kind MediaKind) error {
	if remoteID == "" {
		return fmt.Errorf("remote participant id is required")
	}
	if !kind.Valid() {
		return fmt.Errorf("invalid media kind %q", kind)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return shared.ErrChannelClosed
	}
	if c.sess != nil && c.sess.phase.Active() {
		c.mu.Unlock()
		return shared.ErrAlreadyInCall
	}
	c.epoch++
	sess := newSession(Outgoing, kind, c.localID, remoteID, c.epoch)
	c.sess = sess
	epoch := sess.epoch
	c.mu.Unlock()

	// Suspension point: hardware access may block on a permission
	// prompt. Inbound signaling keeps flowing meanwhile.
	stream, err := c.media.Acquire(ctx, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		if stream != nil {
			stream.Close()
		}
		return shared.ErrCallSuperseded
	}
	if err != nil {
		c.sess = nil // never rang, release the slot entirely
		return fmt.Errorf("acquiring local media: %w", err)
	}
	sess.localStream = stream
	if err := c.setupPeerLocked(sess); err != nil {
		c.teardownLocked(PhaseFailed, "", "peer setup failed")
		return err
	}
	offer, err := sess.link.CreateOffer()
	if err != nil {
		c.teardownLocked(PhaseFailed, "", "offer generation failed")
		return err
	}
	c.bindSessionLocked(sess)
	if err := c.adapter.invite(remoteID, c.localID, offer, kind); err != nil {
		c.teardownLocked(PhaseFailed, "", "signaling delivery failed")
		return err
	}
	sess.transition(PhaseCalling)
	c.armRingTimerLocked(epoch)
	c.logger.Info("call started",
		zap.String("session", sess.id),
		zap.String("remote", remoteID),
		zap.String("kind", string(kind)),
	)
	c.notifyLocked()
	return nil
}

// AcceptCall answers the ringing incoming call: acquires media, creates
// the connection, applies the stored offer, drains queued candidates
// and sends the answer.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil || c.sess.phase != PhaseIncoming {
		c.mu.Unlock()
		return shared.ErrNoIncomingCall
	}
	sess := c.sess
	epoch := sess.epoch
	kind := sess.mediaKind
	c.mu.Unlock()

	stream, err := c.media.Acquire(ctx, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) || c.sess.phase != PhaseIncoming {
		if stream != nil {
			stream.Close()
		}
		return shared.ErrCallSuperseded
	}
	if err != nil {
		// The caller is still ringing; stop them waiting.
		c.teardownLocked(PhaseFailed, EventCallEnded, "media acquisition failed")
		return fmt.Errorf("acquiring local media: %w", err)
	}
	sess.localStream = stream
	if err := c.setupPeerLocked(sess); err != nil {
		c.teardownLocked(PhaseFailed, EventCallEnded, "peer setup failed")
		return err
	}
	if err := sess.link.ApplyRemoteDescription(*sess.pendingOffer); err != nil {
		c.teardownLocked(PhaseFailed, EventCallEnded, "remote offer rejected")
		return fmt.Errorf("applying remote offer: %w", err)
	}
	sess.pendingOffer = nil
	sess.pending.drain(sess.link, c.logger)
	answer, err := sess.link.CreateAnswer()
	if err != nil {
		c.teardownLocked(PhaseFailed, EventCallEnded, "answer generation failed")
		return err
	}
	if err := c.adapter.accept(sess.remoteID, answer); err != nil {
		c.teardownLocked(PhaseFailed, "", "signaling delivery failed")
		return err
	}
	sess.transition(PhaseNegotiating)
	c.logger.Info("call accepted", zap.String("session", sess.id))
	c.notifyLocked()
	return nil
}

// RejectCall declines the ringing incoming call. No media was acquired,
// so there is nothing to release beyond the handlers.
func (c *Controller) RejectCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.phase != PhaseIncoming {
		return shared.ErrNoIncomingCall
	}
	c.teardownLocked(PhaseRejected, EventCallRejected, "")
	return nil
}

// EndCall hangs up unconditionally. Safe to call at any time and
// idempotent: resources are released exactly once.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.phase.Terminal() {
		return nil
	}
	c.teardownLocked(PhaseEnded, EventCallEnded, "")
	return nil
}

// ToggleMute flips the microphone track. Returns the new muted state.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.phase.Terminal() {
		return false, shared.ErrNoActiveCall
	}
	if c.sess.localStream == nil {
		return false, shared.ErrNoLocalStream
	}
	c.sess.muted = !c.sess.muted
	c.sess.localStream.SetAudioEnabled(!c.sess.muted)
	c.notifyLocked()
	return c.sess.muted, nil
}

// ToggleCamera flips the camera track. Returns the new camera-off
// state. Only valid on video calls.
func (c *Controller) ToggleCamera() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.phase.Terminal() {
		return false, shared.ErrNoActiveCall
	}
	if c.sess.localStream == nil {
		return false, shared.ErrNoLocalStream
	}
	if c.sess.mediaKind != MediaVideo {
		return false, shared.ErrNoVideoTrack
	}
	c.sess.cameraOff = !c.sess.cameraOff
	c.sess.localStream.SetVideoEnabled(!c.sess.cameraOff)
	c.notifyLocked()
	return c.sess.cameraOff, nil
}

// Snapshot returns the current observable call state.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Subscribe registers fn for status updates. Callbacks run on their own
// goroutine; cancel deregisters.
func (c *Controller) Subscribe(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// LocalStream returns the session's local stream handle, nil when no
// media is held.
func (c *Controller) LocalStream() LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.localStream
}

// RemoteTracks returns the remote media tracks received so far.
func (c *Controller) RemoteTracks() []*webrtc.TrackRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	tracks := make([]*webrtc.TrackRemote, len(c.sess.remoteTracks))
	copy(tracks, c.sess.remoteTracks)
	return tracks
}

// CallDuration is the elapsed connected time of the current session.
func (c *Controller) CallDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.duration()
}

// ── internal ────────────────────────────────────────────────────────

// currentLocked reports whether epoch still names the live session.
// Async results for any other epoch must be discarded, not applied to
// a dead session.
func (c *Controller) currentLocked(epoch uint64) bool {
	return c.sess != nil && c.sess.epoch == epoch && c.sess.phase.Active()
}

func (c *Controller) setupPeerLocked(sess *Session) error {
	link, err := c.newPeer(c.rtc, c.peerEvents(sess.epoch, sess.remoteID))
	if err != nil {
		return fmt.Errorf("creating peer link: %w", err)
	}
	sess.link = link
	// Tracks go on before SDP generation, or the session description
	// carries no media line.
	if err := link.AddTracks(sess.localStream); err != nil {
		return fmt.Errorf("attaching local tracks: %w", err)
	}
	return nil
}

func (c *Controller) bindSessionLocked(sess *Session) {
	epoch := sess.epoch
	c.offs = append(c.offs,
		c.adapter.bind(EventCallAccepted, func(data []byte) { c.onAccepted(epoch, data) }),
		c.adapter.bind(EventICECandidate, func(data []byte) { c.onCandidate(epoch, data) }),
		c.adapter.bind(EventCallRejected, func(data []byte) { c.onRemoteTerminate(epoch, PhaseRejected) }),
		c.adapter.bind(EventCallEnded, func(data []byte) { c.onRemoteTerminate(epoch, PhaseEnded) }),
		c.adapter.bind(EventCallFailed, func(data []byte) { c.onFailed(epoch, data) }),
	)
}

func (c *Controller) peerEvents(epoch uint64, remoteID string) PeerEvents {
	return PeerEvents{
		LocalCandidate: func(cand webrtc.ICECandidateInit) {
			c.mu.Lock()
			ok := c.currentLocked(epoch)
			c.mu.Unlock()
			if !ok {
				return
			}
			if err := c.adapter.candidate(remoteID, cand); err != nil {
				c.logger.Warn("sending local candidate", zap.Error(err))
			}
		},
		RemoteTrack: func(track *webrtc.TrackRemote) { c.onRemoteTrack(epoch, track) },
		StateChange: func(state webrtc.PeerConnectionState) { c.onPeerState(epoch, state) },
	}
}

// onInvite handles an inbound call-invite. Registered for the lifetime
// of the controller, not of one session.
func (c *Controller) onInvite(data []byte) {
	var p InvitePayload
	if err := p.UnmarshalJSON(data); err != nil {
		c.logger.Warn("malformed call-invite", zap.Error(err))
		return
	}
	if p.From == "" {
		c.logger.Warn("call-invite without sender")
		return
	}
	if p.To != "" && p.To != c.localID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.sess != nil && c.sess.phase.Active() {
		// Busy. Stop the caller's ringing.
		if err := c.adapter.end(p.From); err != nil {
			c.logger.Warn("sending busy reply", zap.Error(err))
		}
		return
	}
	kind := p.MediaKind
	if !kind.Valid() {
		kind = MediaVideo
	}
	c.epoch++
	sess := newSession(Incoming, kind, c.localID, p.From, c.epoch)
	offer := p.Offer
	sess.pendingOffer = &offer
	sess.transition(PhaseIncoming)
	c.sess = sess
	c.bindSessionLocked(sess)
	c.logger.Info("incoming call",
		zap.String("session", sess.id),
		zap.String("from", p.From),
		zap.String("kind", string(kind)),
	)
	c.notifyLocked()
}

func (c *Controller) onAccepted(epoch uint64, data []byte) {
	var p AcceptPayload
	if err := p.UnmarshalJSON(data); err != nil {
		c.logger.Warn("malformed call-accepted", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	sess := c.sess
	// An answer is only valid while we are the ringing caller.
	// Duplicate or late delivery is ignored, logged, not an error.
	if sess.direction != Outgoing || sess.phase != PhaseCalling {
		c.logger.Warn("ignoring unexpected call-accepted",
			zap.String("phase", sess.phase.String()),
		)
		return
	}
	if err := sess.link.ApplyRemoteDescription(p.Answer); err != nil {
		c.logger.Warn("dropping remote answer", zap.Error(err))
		return
	}
	c.stopRingTimerLocked()
	sess.pending.drain(sess.link, c.logger)
	sess.transition(PhaseNegotiating)
	c.notifyLocked()
}

func (c *Controller) onCandidate(epoch uint64, data []byte) {
	var p CandidatePayload
	if err := p.UnmarshalJSON(data); err != nil {
		c.logger.Warn("malformed ice-candidate", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	sess := c.sess
	if sess.link != nil && sess.link.RemoteApplied() {
		if err := sess.link.AddCandidate(p.Candidate); err != nil {
			c.logger.Warn("remote candidate failed", zap.Error(err))
		}
		return
	}
	// Candidates outrun the answer/offer on the wire; hold them until
	// the remote description lands.
	sess.pending.enqueue(p.Candidate)
	c.logger.Debug("queued remote candidate", zap.Int("pending", sess.pending.len()))
}

func (c *Controller) onRemoteTerminate(epoch uint64, to Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	// Remote already knows; no termination event goes back out.
	c.teardownLocked(to, "", "")
}

func (c *Controller) onFailed(epoch uint64, data []byte) {
	var p FailedPayload
	if err := p.UnmarshalJSON(data); err != nil {
		c.logger.Warn("malformed call-failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	c.teardownLocked(PhaseFailed, "", p.Reason)
}

func (c *Controller) onRemoteTrack(epoch uint64, track *webrtc.TrackRemote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	sess := c.sess
	sess.remoteTracks = append(sess.remoteTracks, track)
	if sess.phase == PhaseNegotiating {
		sess.transition(PhaseConnected)
	}
	c.notifyLocked()
}

func (c *Controller) onPeerState(epoch uint64, state webrtc.PeerConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	sess := c.sess
	switch state {
	case webrtc.PeerConnectionStateConnected:
		sess.disconnected = false
		c.stopGraceTimerLocked()
		if sess.phase == PhaseNegotiating {
			sess.transition(PhaseConnected)
			c.notifyLocked()
		}
	case webrtc.PeerConnectionStateDisconnected:
		// Transient: ICE gets a grace window to restore the path.
		sess.disconnected = true
		c.armGraceTimerLocked(epoch)
	case webrtc.PeerConnectionStateFailed:
		c.teardownLocked(PhaseFailed, EventCallEnded, "connection failed")
	case webrtc.PeerConnectionStateClosed:
		// Links are only closed by teardown; an external close means
		// the connection is gone for good.
		c.teardownLocked(PhaseEnded, "", "connection closed")
	}
}

func (c *Controller) onRingTimeout(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(epoch) {
		return
	}
	if c.sess.phase != PhaseCalling {
		return
	}
	c.logger.Info("outgoing call timed out", zap.String("session", c.sess.id))
	c.teardownLocked(PhaseEnded, EventCallEnded, "no answer")
}

func (c *Controller) onDisconnectGrace(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graceTimer = nil
	if !c.currentLocked(epoch) {
		return
	}
	if !c.sess.disconnected {
		return
	}
	c.teardownLocked(PhaseFailed, EventCallEnded, "connection lost")
}

// teardownLocked releases every session resource exactly once and
// moves the session to its terminal phase. notify, when non-empty, is
// the termination event sent to the peer; it stays empty when the
// termination was itself signaled by the remote.
func (c *Controller) teardownLocked(to Phase, notify EventType, reason string) {
	sess := c.sess
	if sess == nil || sess.phase.Terminal() {
		return
	}
	c.stopRingTimerLocked()
	c.stopGraceTimerLocked()
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	if sess.link != nil {
		if err := sess.link.Close(); err != nil {
			c.logger.Error("closing peer link", err)
		}
		sess.link = nil
	}
	if sess.localStream != nil {
		sess.localStream.Close()
		sess.localStream = nil
	}
	sess.remoteTracks = nil
	sess.pending.clear()
	sess.pendingOffer = nil
	if reason != "" {
		sess.reason = reason
	}
	sess.transition(to)
	c.epoch++
	switch notify {
	case EventCallRejected:
		if err := c.adapter.reject(sess.remoteID); err != nil {
			c.logger.Warn("sending call-rejected", zap.Error(err))
		}
	case EventCallEnded:
		if err := c.adapter.end(sess.remoteID); err != nil {
			c.logger.Warn("sending call-ended", zap.Error(err))
		}
	}
	c.logger.Info("call torn down",
		zap.String("session", sess.id),
		zap.String("phase", to.String()),
		zap.Duration("duration", sess.duration()),
	)
	c.notifyLocked()
}

func (c *Controller) armRingTimerLocked(epoch uint64) {
	c.ringTimer = time.AfterFunc(c.ring, func() { c.onRingTimeout(epoch) })
}

func (c *Controller) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *Controller) armGraceTimerLocked(epoch uint64) {
	if c.graceTimer != nil {
		return
	}
	c.graceTimer = time.AfterFunc(c.grace, func() { c.onDisconnectGrace(epoch) })
}

func (c *Controller) stopGraceTimerLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Controller) statusLocked() Status {
	if c.sess == nil {
		return Status{Phase: PhaseIdle}
	}
	s := c.sess
	return Status{
		Phase:     s.phase,
		Label:     s.phase.Label(),
		SessionID: s.id,
		RemoteID:  s.remoteID,
		MediaKind: s.mediaKind,
		Direction: s.direction,
		Muted:     s.muted,
		CameraOff: s.cameraOff,
		Duration:  s.duration(),
		Reason:    s.reason,
	}
}

func (c *Controller) notifyLocked() {
	st := c.statusLocked()
	for _, fn := range c.subs {
		go fn(st)
	}
}
