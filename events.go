package callkit

import (
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pion/webrtc/v4"
)

type EventType string

// Signaling channel events. Routing is by recipient id, not by room:
// the backend can deliver point-to-point before both parties joined
// any shared context.
const (
	EventCallInvite   EventType = "call-invite"
	EventCallAccepted EventType = "call-accepted"
	EventCallRejected EventType = "call-rejected"
	EventICECandidate EventType = "ice-candidate"
	EventCallEnded    EventType = "call-ended"
	EventCallFailed   EventType = "call-failed"
)

// MediaKind selects the hardware scope of a call. Fixed for the
// lifetime of a session.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Payload is one signaling event body.
type Payload interface {
	EventType() EventType
	MarshalJSON() ([]byte, error)
}

type InvitePayload struct {
	To        string                    `json:"to"`
	From      string                    `json:"from"`
	Offer     webrtc.SessionDescription `json:"offer"`
	MediaKind MediaKind                 `json:"mediaKind"`
}

func (p *InvitePayload) EventType() EventType { return EventCallInvite }

func (p *InvitePayload) MarshalJSON() ([]byte, error) { return sonic.Marshal(*p) }

func (p *InvitePayload) UnmarshalJSON(data []byte) error {
	type plain InvitePayload
	return sonic.Unmarshal(data, (*plain)(p))
}

type AcceptPayload struct {
	To     string                    `json:"to"`
	Answer webrtc.SessionDescription `json:"answer"`
}

func (p *AcceptPayload) EventType() EventType { return EventCallAccepted }

func (p *AcceptPayload) MarshalJSON() ([]byte, error) { return sonic.Marshal(*p) }

func (p *AcceptPayload) UnmarshalJSON(data []byte) error {
	type plain AcceptPayload
	return sonic.Unmarshal(data, (*plain)(p))
}

type CandidatePayload struct {
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (p *CandidatePayload) EventType() EventType { return EventICECandidate }

func (p *CandidatePayload) MarshalJSON() ([]byte, error) { return sonic.Marshal(*p) }

func (p *CandidatePayload) UnmarshalJSON(data []byte) error {
	type plain CandidatePayload
	return sonic.Unmarshal(data, (*plain)(p))
}

// TerminatePayload is shared by call-rejected and call-ended.
type TerminatePayload struct {
	To string `json:"to"`

	event EventType
}

func NewRejectPayload(to string) *TerminatePayload {
	return &TerminatePayload{To: to, event: EventCallRejected}
}

func NewEndPayload(to string) *TerminatePayload {
	return &TerminatePayload{To: to, event: EventCallEnded}
}

func (p *TerminatePayload) EventType() EventType { return p.event }

func (p *TerminatePayload) MarshalJSON() ([]byte, error) { return sonic.Marshal(*p) }

func (p *TerminatePayload) UnmarshalJSON(data []byte) error {
	type plain TerminatePayload
	return sonic.Unmarshal(data, (*plain)(p))
}

// FailedPayload is sent by the backend when delivery is impossible,
// e.g. the peer is offline.
type FailedPayload struct {
	Reason string `json:"reason"`
}

func (p *FailedPayload) EventType() EventType { return EventCallFailed }

func (p *FailedPayload) MarshalJSON() ([]byte, error) { return sonic.Marshal(*p) }

func (p *FailedPayload) UnmarshalJSON(data []byte) error {
	type plain FailedPayload
	return sonic.Unmarshal(data, (*plain)(p))
}

// DumpYAML renders a payload as YAML for logs and diagnostics.
func DumpYAML(p Payload) (string, error) {
	jsonBytes, err := p.MarshalJSON()
	if err != nil {
		return "", err
	}
	var v any
	if err := sonic.Unmarshal(jsonBytes, &v); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
