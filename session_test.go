package callkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionID(t *testing.T) {
	assert.Equal(t, "call_alice_bob", DeriveSessionID("alice", "bob"))
	// Both sides derive the same id regardless of who dials.
	assert.Equal(t, DeriveSessionID("alice", "bob"), DeriveSessionID("bob", "alice"))
	assert.Equal(t, "call_u1_u2", DeriveSessionID("u2", "u1"))
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseIdle, PhaseCalling, PhaseIncoming, PhaseNegotiating, PhaseConnected} {
		assert.False(t, p.Terminal(), p.String())
		assert.True(t, p.Active(), p.String())
	}
	for _, p := range []Phase{PhaseEnded, PhaseRejected, PhaseFailed} {
		assert.True(t, p.Terminal(), p.String())
		assert.False(t, p.Active(), p.String())
	}
}

func TestSessionTransitions(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		path      []Phase
		allowed   bool
	}{
		{
			name:      "Outgoing happy path",
			direction: Outgoing,
			path:      []Phase{PhaseCalling, PhaseNegotiating, PhaseConnected, PhaseEnded},
			allowed:   true,
		},
		{
			name:      "Incoming happy path",
			direction: Incoming,
			path:      []Phase{PhaseIncoming, PhaseNegotiating, PhaseConnected, PhaseEnded},
			allowed:   true,
		},
		{
			name:      "Incoming rejected while ringing",
			direction: Incoming,
			path:      []Phase{PhaseIncoming, PhaseRejected},
			allowed:   true,
		},
		{
			name:      "Outgoing failed during negotiation",
			direction: Outgoing,
			path:      []Phase{PhaseCalling, PhaseNegotiating, PhaseFailed},
			allowed:   true,
		},
		{
			name:      "Outgoing cannot ring as incoming",
			direction: Outgoing,
			path:      []Phase{PhaseIncoming},
			allowed:   false,
		},
		{
			name:      "Connected requires negotiation first",
			direction: Outgoing,
			path:      []Phase{PhaseCalling, PhaseConnected},
			allowed:   false,
		},
		{
			name:      "No resurrection after terminal",
			direction: Outgoing,
			path:      []Phase{PhaseCalling, PhaseEnded, PhaseNegotiating},
			allowed:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(tt.direction, MediaAudio, "alice", "bob", 1)
			ok := true
			for _, to := range tt.path {
				ok = s.transition(to)
				if !ok {
					break
				}
			}
			assert.Equal(t, tt.allowed, ok)
		})
	}
}

func TestSessionTerminalIsSticky(t *testing.T) {
	s := newSession(Outgoing, MediaAudio, "alice", "bob", 1)
	require.True(t, s.transition(PhaseCalling))
	require.True(t, s.transition(PhaseEnded))

	endedAt := s.endedAt
	assert.False(t, s.transition(PhaseFailed))
	assert.Equal(t, PhaseEnded, s.phase)
	assert.Equal(t, endedAt, s.endedAt)
}

func TestSessionDuration(t *testing.T) {
	s := newSession(Outgoing, MediaAudio, "alice", "bob", 1)
	require.True(t, s.transition(PhaseCalling))
	assert.Zero(t, s.duration(), "no duration before connect")

	require.True(t, s.transition(PhaseNegotiating))
	require.True(t, s.transition(PhaseConnected))
	s.connectedAt = time.Now().Add(-90 * time.Second)

	assert.InDelta(t, 90, s.duration().Seconds(), 1)

	require.True(t, s.transition(PhaseEnded))
	frozen := s.duration()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, frozen, s.duration(), "duration freezes at hangup")
}
