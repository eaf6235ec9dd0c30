package callkit

import (
	"go.uber.org/zap"

	"github.com/heartwire/callkit/shared"
	"github.com/pion/webrtc/v4"
)

// candidateQueue buffers remote ICE candidates that arrive before the
// remote description is applied. Candidates race ahead of offers and
// answers on the signaling channel and must never be dropped; they are
// drained in arrival order exactly once per negotiation round.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *candidateQueue) enqueue(cand webrtc.ICECandidateInit) {
	q.items = append(q.items, cand)
}

func (q *candidateQueue) len() int { return len(q.items) }

// drain applies all queued candidates to the link in FIFO order and
// clears the queue. A single failed candidate is logged and skipped,
// never fatal to the call.
func (q *candidateQueue) drain(link PeerLink, logger shared.LoggerAdapter) {
	if len(q.items) == 0 {
		return
	}
	logger.Debug("flushing queued ice candidates", zap.Int("count", len(q.items)))
	for _, cand := range q.items {
		if err := link.AddCandidate(cand); err != nil {
			logger.Warn("queued ice candidate failed", zap.Error(err))
		}
	}
	q.items = nil
}

func (q *candidateQueue) clear() { q.items = nil }
