package wireclient

import (
	"github.com/hut8/soar-ingest/internal/envelope"
	"github.com/hut8/soar-ingest/internal/queue"
)

// QueueSink adapts a *queue.Queue (which deals in raw bytes) to the Sink
// interface wire clients offer envelopes to.
type QueueSink struct {
	Q *queue.Queue
}

// Offer implements Sink.
func (s QueueSink) Offer(env envelope.Envelope) error {
	return s.Q.Send(envelope.Encode(env))
}
