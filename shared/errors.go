package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger          = errors.New("no logger provided")
	ErrNoChannel         = errors.New("no signaling channel provided")
	ErrNoMediaAcquirer   = errors.New("no media acquirer provided")
	ErrNoLocalID         = errors.New("no local participant id provided")
	ErrAlreadyInCall     = errors.New("already in a call")
	ErrNoIncomingCall    = errors.New("no incoming call")
	ErrNoActiveCall      = errors.New("no active call")
	ErrNoLocalStream     = errors.New("no local stream")
	ErrNoVideoTrack      = errors.New("call has no video track")
	ErrCallSuperseded    = errors.New("call ended while operation was in flight")
	ErrPeerClosed        = errors.New("peer connection closed")
	ErrRemoteDescApplied = errors.New("remote description already applied")
	ErrChannelClosed     = errors.New("signaling channel closed")
)

// MediaReason classifies hardware acquisition failures.
type MediaReason string

const (
	MediaPermissionDenied  MediaReason = "permission-denied"
	MediaDeviceUnavailable MediaReason = "device-unavailable"
)

// MediaError is a terminal, user-correctable failure to obtain
// camera/microphone access. It is never retried automatically.
type MediaError struct {
	Reason MediaReason
	Err    error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media error: %s", e.Reason)
	}
	return fmt.Sprintf("media error: %s: %v", e.Reason, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// AsMediaError unwraps err into a *MediaError if one is in its chain.
func AsMediaError(err error) (*MediaError, bool) {
	var me *MediaError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
