// Package agents hosts interactive frontends driving the call core.
package agents

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	pkg "github.com/heartwire/callkit"
	"github.com/heartwire/callkit/shared"
	"github.com/heartwire/callkit/tools"
)

const playbackBufferSeconds = 2

// CLIAgent drives a call controller from stdin commands and renders
// status updates through a printer. Remote audio plays on the default
// output device once the call connects.
type CLIAgent struct {
	logger     shared.LoggerAdapter
	printer    *shared.Printer
	controller *pkg.Controller

	mu      sync.Mutex
	playing map[*webrtc.TrackRemote]bool
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
	once    sync.Once
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	controller *pkg.Controller,
	printer *shared.Printer,
	input io.Reader,
) (<-chan struct{}, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if controller == nil {
		return nil, errors.New("no controller provided")
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.controller = controller
	a.playing = make(map[*webrtc.TrackRemote]bool)
	a.done = make(chan struct{})

	ctx, a.cancel = context.WithCancel(ctx)
	a.logger.Info("spawning CLI agent")
	if err := a.printer.Writeln("📞 Call client ready. Type `help` for commands.\n", 0); err != nil {
		a.logger.Error("printing ready message", err)
	}

	a.unsub = a.controller.Subscribe(func(st pkg.Status) { a.onStatus(ctx, st) })
	go a.commandLoop(ctx, input)
	return a.done, nil
}

// Close stops the agent. The command loop exits on its next read.
func (a *CLIAgent) Close() error {
	if err := a.controller.EndCall(); err != nil {
		a.logger.Error("ending call on shutdown", err)
	}
	a.shutdown()
	return nil
}

func (a *CLIAgent) Done() <-chan struct{} {
	return a.done
}

func (a *CLIAgent) shutdown() {
	a.once.Do(func() {
		if a.unsub != nil {
			a.unsub()
		}
		if a.cancel != nil {
			a.cancel()
		}
		close(a.done)
	})
}

func (a *CLIAgent) commandLoop(ctx context.Context, input io.Reader) {
	defer a.shutdown()
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := strings.ToLower(fields[0]), fields[1:]
		if cmd == "quit" || cmd == "exit" {
			if err := a.controller.EndCall(); err != nil {
				a.logger.Error("ending call", err)
			}
			return
		}
		a.handle(ctx, cmd, args)
	}
	if err := scanner.Err(); err != nil {
		a.logger.Error("reading commands", err)
	}
}

func (a *CLIAgent) handle(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "help":
		a.println(`commands:
  call <user> [audio|video]  start a call
  accept                     answer the ringing call
  reject                     decline the ringing call
  end                        hang up
  mute                       toggle microphone
  cam                        toggle camera
  status                     show current call state
  quit                       exit`)
	case "call":
		if len(args) == 0 {
			a.println("usage: call <user> [audio|video]")
			return
		}
		kind := pkg.MediaVideo
		if len(args) > 1 {
			kind = pkg.MediaKind(args[1])
			if !kind.Valid() {
				a.println("media kind must be audio or video")
				return
			}
		}
		if err := a.controller.StartCall(ctx, args[0], kind); err != nil {
			a.report("starting call", err)
		}
	case "accept":
		if err := a.controller.AcceptCall(ctx); err != nil {
			a.report("accepting call", err)
		}
	case "reject":
		if err := a.controller.RejectCall(); err != nil {
			a.report("rejecting call", err)
		}
	case "end":
		if err := a.controller.EndCall(); err != nil {
			a.report("ending call", err)
		}
	case "mute":
		muted, err := a.controller.ToggleMute()
		if err != nil {
			a.report("toggling mute", err)
			return
		}
		if muted {
			a.println("🔇 Microphone muted")
		} else {
			a.println("🎤 Microphone live")
		}
	case "cam":
		off, err := a.controller.ToggleCamera()
		if err != nil {
			a.report("toggling camera", err)
			return
		}
		if off {
			a.println("📷 Camera off")
		} else {
			a.println("🎥 Camera on")
		}
	case "status":
		st := a.controller.Snapshot()
		if st.Phase == pkg.PhaseIdle {
			a.println("idle")
			return
		}
		a.println(st.Label + " · " + st.RemoteID + " · " + tools.FormatDuration(st.Duration))
	default:
		a.println("unknown command, type `help`")
	}
}

func (a *CLIAgent) onStatus(ctx context.Context, st pkg.Status) {
	switch st.Phase {
	case pkg.PhaseIncoming:
		a.println("🔔 Incoming " + string(st.MediaKind) + " call from " + st.RemoteID + " (accept/reject)")
	case pkg.PhaseCalling:
		a.println("📤 " + st.Label + " " + st.RemoteID)
	case pkg.PhaseNegotiating:
		a.println("🔗 " + st.Label)
	case pkg.PhaseConnected:
		a.println("✅ Connected to " + st.RemoteID)
		a.playRemoteAudio(ctx)
	case pkg.PhaseEnded, pkg.PhaseRejected, pkg.PhaseFailed:
		msg := "📴 " + st.Label
		if st.Duration > 0 {
			msg += " · " + tools.FormatDuration(st.Duration)
		}
		if st.Reason != "" {
			msg += " · " + st.Reason
		}
		a.println(msg)
	}
}

// playRemoteAudio starts playback for every remote audio track not
// already playing. Called again on each Connected notification, so
// tracks arriving late still get a player.
func (a *CLIAgent) playRemoteAudio(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, track := range a.controller.RemoteTracks() {
		if track.Kind() != webrtc.RTPCodecTypeAudio || a.playing[track] {
			continue
		}
		a.playing[track] = true
		a.logger.Info("starting remote audio playback",
			zap.String("codec", track.Codec().MimeType),
		)
		go tools.PlayRemoteAudio(ctx, a.logger, track, playbackBufferSeconds)
	}
}

func (a *CLIAgent) println(s string) {
	if err := a.printer.Writeln(s, 0); err != nil {
		a.logger.Error("printing message", err)
	}
}

func (a *CLIAgent) report(action string, err error) {
	a.logger.Error(action, err)
	a.println("❌ " + action + ": " + err.Error())
}
