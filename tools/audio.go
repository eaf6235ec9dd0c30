package tools

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/heartwire/callkit/shared"
)

// AudioBuffer is a bounded PCM byte buffer between the RTP decode
// goroutine and the playback device callback. Writes past capacity
// drop the oldest data; reads never block, the device fills the
// shortfall with silence.
type AudioBuffer struct {
	mu     sync.Mutex
	buffer []byte
	cap    int
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	return &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
}

func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if len(ab.buffer)+len(data) > ab.cap {
		dropped = len(ab.buffer) + len(data) - ab.cap
		ab.buffer = ab.buffer[dropped:]
	}
	ab.buffer = append(ab.buffer, data...)
	return dropped
}

func (ab *AudioBuffer) Read(p []byte) (n int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	return n
}

// PlayRemoteAudio decodes the remote opus track and plays it on the
// default output device until the context ends or the track closes.
// Blocking; callers run it on its own goroutine per track.
func PlayRemoteAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, ringBufferSeconds int) {
	var (
		codec      = track.Codec()
		sampleRate = int(codec.ClockRate)
		channels   = int(codec.Channels)
	)
	logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		logger.Error("creating opus decoder", err)
		return
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Error("initializing audio context", err)
		return
	}
	defer func() {
		_ = audioCtx.Uninit()
		audioCtx.Free()
	}()

	audioBuffer := NewAudioBuffer(ringBufferSeconds * sampleRate * channels * 2)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := audioBuffer.Read(out)
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	}
	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, callbacks)
	if err != nil {
		logger.Error("initializing playback device", err)
		return
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		logger.Error("starting playback device", err)
		return
	}

	pcm := make([]int16, FrameSamples(FrameDuration, sampleRate, channels)*4)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rtp, _, err := track.ReadRTP()
		if err != nil {
			if err != io.EOF {
				logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(rtp.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(rtp.Payload, pcm)
		if err != nil {
			logger.Error("decoding opus frame", err)
			continue
		}
		pcmSlice := pcm[:n*channels]
		pcmBytes := make([]byte, len(pcmSlice)*2)
		for i := range pcmSlice {
			binary.LittleEndian.PutUint16(pcmBytes[i*2:], uint16(pcmSlice[i]))
		}
		if dropped := audioBuffer.Write(pcmBytes); dropped > 0 {
			logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
