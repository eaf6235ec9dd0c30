package callkit

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartwire/callkit/shared"
)

func TestCandidateQueueDrainOrder(t *testing.T) {
	var q candidateQueue
	link := &fakeLink{remoteApplied: true}

	q.enqueue(webrtc.ICECandidateInit{Candidate: "a"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "b"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "c"})
	require.Equal(t, 3, q.len())

	q.drain(link, shared.NewNopLogger())

	applied := link.appliedCandidates()
	require.Len(t, applied, 3)
	assert.Equal(t, "a", applied[0].Candidate)
	assert.Equal(t, "b", applied[1].Candidate)
	assert.Equal(t, "c", applied[2].Candidate)
	assert.Zero(t, q.len(), "drain empties the queue")
}

func TestCandidateQueueDrainSkipsFailures(t *testing.T) {
	var q candidateQueue
	link := &fakeLink{candidateErr: errors.New("bad candidate")}

	q.enqueue(webrtc.ICECandidateInit{Candidate: "a"})
	q.enqueue(webrtc.ICECandidateInit{Candidate: "b"})

	// Failures are logged and skipped; the queue still clears.
	q.drain(link, shared.NewNopLogger())
	assert.Zero(t, q.len())
}

func TestCandidateQueueClear(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "a"})
	q.clear()
	assert.Zero(t, q.len())

	link := &fakeLink{}
	q.drain(link, shared.NewNopLogger())
	assert.Empty(t, link.appliedCandidates())
}
