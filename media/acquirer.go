// Package media implements hardware capture for call sessions on top
// of pion/mediadevices. It owns the codec-aware WebRTC API so encoded
// camera and microphone tracks negotiate cleanly with the peer.
package media

import (
	"context"
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	callkit "github.com/heartwire/callkit"
	"github.com/heartwire/callkit/shared"
)

// ICE keepalive tuning. Disconnected is declared after 30s of silence
// and failed after 120s, so the session layer's grace handling, not
// the ICE agent, decides when a call is lost.
const (
	iceDisconnectedTimeout = 30 * time.Second
	iceFailedTimeout       = 120 * time.Second
	iceKeepAliveInterval   = 2 * time.Second
)

// HardwareAcquirer captures microphone and camera streams encoded with
// opus and VP8. One acquirer serves any number of consecutive calls.
type HardwareAcquirer struct {
	logger   shared.LoggerAdapter
	selector *mediadevices.CodecSelector
	api      *webrtc.API
}

var _ callkit.MediaAcquirer = (*HardwareAcquirer)(nil)

func NewHardwareAcquirer(logger shared.LoggerAdapter) (*HardwareAcquirer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	logger = logger.With(zap.String("component", "media"))

	opusParams, err := opus.NewParams()
	if err != nil {
		logger.Error("creating opus params", err)
		return nil, err
	}
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		logger.Error("creating vp8 params", err)
		return nil, err
	}
	vp8Params.BitRate = 500_000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
		mediadevices.WithVideoEncoders(&vp8Params),
	)

	mediaEngine := webrtc.MediaEngine{}
	selector.Populate(&mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(&mediaEngine, registry); err != nil {
		logger.Error("registering default interceptors", err)
		return nil, err
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(&mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)
	return &HardwareAcquirer{logger: logger, selector: selector, api: api}, nil
}

// PeerFactory returns a factory building peer links on this acquirer's
// codec-aware API, so tracks captured here are negotiable on the link.
func (h *HardwareAcquirer) PeerFactory() callkit.PeerFactory {
	return func(cfg webrtc.Configuration, events callkit.PeerEvents) (callkit.PeerLink, error) {
		return callkit.NewPeerLink(h.logger, h.api, cfg, events)
	}
}

// Acquire opens the microphone, and for video calls the camera too.
// The returned stream is owned by the caller and must be closed on
// every exit path. Failures are *shared.MediaError values.
func (h *HardwareAcquirer) Acquire(ctx context.Context, kind callkit.MediaKind) (callkit.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: h.selector,
	}
	if kind == callkit.MediaVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		h.logger.Error("acquiring user media", err, zap.String("kind", string(kind)))
		return nil, classify(err)
	}
	if err := ctx.Err(); err != nil {
		closeStream(stream)
		return nil, err
	}
	if kind == callkit.MediaVideo && len(stream.GetVideoTracks()) == 0 {
		closeStream(stream)
		return nil, &shared.MediaError{Reason: shared.MediaDeviceUnavailable, Err: shared.ErrNoVideoTrack}
	}

	h.logger.Info("media acquired",
		zap.String("kind", string(kind)),
		zap.Int("audio_tracks", len(stream.GetAudioTracks())),
		zap.Int("video_tracks", len(stream.GetVideoTracks())),
	)
	return &hardwareStream{logger: h.logger, stream: stream}, nil
}

// classify maps driver errors to the two user-meaningful reasons. The
// drivers report permission problems in their message text only.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed") {
		return &shared.MediaError{Reason: shared.MediaPermissionDenied, Err: err}
	}
	return &shared.MediaError{Reason: shared.MediaDeviceUnavailable, Err: err}
}

func closeStream(stream mediadevices.MediaStream) {
	for _, track := range stream.GetTracks() {
		_ = track.Close()
	}
}

// hardwareStream adapts a mediadevices stream to the session's
// LocalStream contract. Encoders keep running while a track is
// disabled; the flags gate what the UI reports, not the capture
// pipeline, matching how mediadevices tracks behave.
type hardwareStream struct {
	logger shared.LoggerAdapter
	stream mediadevices.MediaStream

	audioEnabled bool
	videoEnabled bool
}

var _ callkit.LocalStream = (*hardwareStream)(nil)

func (s *hardwareStream) Tracks() []webrtc.TrackLocal {
	tracks := s.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, track := range tracks {
		out = append(out, track)
	}
	return out
}

func (s *hardwareStream) SetAudioEnabled(enabled bool) {
	s.audioEnabled = enabled
	s.logger.Debug("audio track toggled", zap.Bool("enabled", enabled))
}

func (s *hardwareStream) SetVideoEnabled(enabled bool) {
	s.videoEnabled = enabled
	s.logger.Debug("video track toggled", zap.Bool("enabled", enabled))
}

func (s *hardwareStream) Close() {
	for _, track := range s.stream.GetTracks() {
		if err := track.Close(); err != nil {
			s.logger.Warn("closing media track", zap.Error(err))
		}
	}
}
