package callkit

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/heartwire/callkit/shared"
	"github.com/pion/webrtc/v4"
)

// signalAdapter translates controller actions into outbound signaling
// events and hands inbound registrations back as off funcs. It is the
// only place that touches the Channel.
type signalAdapter struct {
	ch     Channel
	logger shared.LoggerAdapter
}

func newSignalAdapter(ch Channel, logger shared.LoggerAdapter) *signalAdapter {
	return &signalAdapter{ch: ch, logger: logger}
}

func (a *signalAdapter) send(p Payload) error {
	if err := a.ch.Send(p.EventType(), p); err != nil {
		return fmt.Errorf("sending %s: %w", p.EventType(), err)
	}
	a.logger.Debug("signaling event sent", zap.String("event", string(p.EventType())))
	return nil
}

func (a *signalAdapter) invite(to, from string, offer webrtc.SessionDescription, kind MediaKind) error {
	return a.send(&InvitePayload{To: to, From: from, Offer: offer, MediaKind: kind})
}

func (a *signalAdapter) accept(to string, answer webrtc.SessionDescription) error {
	return a.send(&AcceptPayload{To: to, Answer: answer})
}

func (a *signalAdapter) candidate(to string, cand webrtc.ICECandidateInit) error {
	return a.send(&CandidatePayload{To: to, Candidate: cand})
}

func (a *signalAdapter) reject(to string) error {
	return a.send(NewRejectPayload(to))
}

func (a *signalAdapter) end(to string) error {
	return a.send(NewEndPayload(to))
}

func (a *signalAdapter) bind(event EventType, handler func(data []byte)) func() {
	return a.ch.On(event, handler)
}
