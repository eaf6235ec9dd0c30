package callkit

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/heartwire/callkit/shared"
)

// fakeChannel is an in-memory Channel recording outbound events and
// dispatching inbound ones synchronously.
type fakeChannel struct {
	mu       sync.Mutex
	sent     []sentEvent
	handlers map[EventType]map[uint64]func(data []byte)
	nextID   uint64
	sendErr  error
}

type sentEvent struct {
	event EventType
	data  []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[EventType]map[uint64]func(data []byte))}
}

func (f *fakeChannel) Send(event EventType, payload Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	data, err := payload.MarshalJSON()
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeChannel) On(event EventType, handler func(data []byte)) (off func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	m, ok := f.handlers[event]
	if !ok {
		m = make(map[uint64]func(data []byte))
		f.handlers[event] = m
	}
	m[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

// emit delivers an inbound event to all registered handlers.
func (f *fakeChannel) emit(event EventType, payload Payload) {
	data, err := payload.MarshalJSON()
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	registered := f.handlers[event]
	handlers := make([]func(data []byte), 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeChannel) sentEvents(event EventType) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, s := range f.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type fakeStream struct {
	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	closed       int
}

func newFakeStream() *fakeStream {
	return &fakeStream{audioEnabled: true, videoEnabled: true}
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }

func (s *fakeStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
}

func (s *fakeStream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeAcquirer struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (a *fakeAcquirer) Acquire(ctx context.Context, kind MediaKind) (LocalStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	stream := newFakeStream()
	a.streams = append(a.streams, stream)
	return stream, nil
}

type fakeLink struct {
	mu            sync.Mutex
	remoteApplied bool
	applied       []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	closed        int
	candidateErr  error
}

func (l *fakeLink) AddTracks(stream LocalStream) error { return nil }

func (l *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (l *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (l *fakeLink) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remoteApplied {
		return shared.ErrRemoteDescApplied
	}
	l.remoteApplied = true
	l.applied = append(l.applied, desc)
	return nil
}

func (l *fakeLink) RemoteApplied() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteApplied
}

func (l *fakeLink) AddCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.candidateErr != nil {
		return l.candidateErr
	}
	l.candidates = append(l.candidates, cand)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *fakeLink) appliedCandidates() []webrtc.ICECandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(l.candidates))
	copy(out, l.candidates)
	return out
}

func (l *fakeLink) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// fakePeerFactory captures the PeerEvents of each created link so tests
// can drive connection state and remote tracks.
type fakePeerFactory struct {
	mu     sync.Mutex
	links  []*fakeLink
	events []PeerEvents
	err    error
}

func (f *fakePeerFactory) factory() PeerFactory {
	return func(cfg webrtc.Configuration, events PeerEvents) (PeerLink, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		link := &fakeLink{}
		f.links = append(f.links, link)
		f.events = append(f.events, events)
		return link, nil
	}
}

func (f *fakePeerFactory) last() (*fakeLink, PeerEvents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil, PeerEvents{}
	}
	return f.links[len(f.links)-1], f.events[len(f.events)-1]
}

var errAcquireFailed = errors.New("camera is busy")
