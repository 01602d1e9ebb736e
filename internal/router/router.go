// Package router implements the single-task envelope router (spec.md
// §4.3): it drains the persistent queue and fans envelopes out to
// per-source bounded channels feeding the decoder worker pools.
package router

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/hut8/soar-ingest/internal/envelope"
	"github.com/hut8/soar-ingest/internal/queue"
)

// Metrics is the minimal set of counters/histograms the router reports.
// Implemented by internal/telemetry; kept as an interface here so router
// has no direct Prometheus dependency.
type Metrics interface {
	ObserveLag(source envelope.Source, lag time.Duration)
	IncDecodeDispatchBlocked(source envelope.Source)
	IncMalformedEnvelope()
}

type noopMetrics struct{}

func (noopMetrics) ObserveLag(envelope.Source, time.Duration)   {}
func (noopMetrics) IncDecodeDispatchBlocked(envelope.Source)    {}
func (noopMetrics) IncMalformedEnvelope()                       {}

// Router reads framed envelopes from the persistent queue and dispatches
// them to one of three bounded channels by source tag. It holds no state
// beyond metric counters (§4.3).
type Router struct {
	q        *queue.Queue
	channels map[envelope.Source]chan envelope.Envelope
	metrics  Metrics
	idleWait time.Duration
}

// New constructs a Router. channels must contain an entry for each source
// this deployment ingests (§4.8 "no_aprs"/"no_adsb" means not every source
// need be present).
func New(q *queue.Queue, channels map[envelope.Source]chan envelope.Envelope, metrics Metrics) *Router {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Router{q: q, channels: channels, metrics: metrics, idleWait: 50 * time.Millisecond}
}

// Run drains the queue until ctx is cancelled. It is the single task
// described in §4.3 — do not run more than one Router over the same
// queue, or FIFO-per-source ordering (§5) is not guaranteed.
func (r *Router) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, tok, err := r.q.Recv()
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.idleWait):
			}
			continue
		}
		if err != nil {
			log.Printf("router: recv error: %v", err)
			continue
		}

		env, decErr := envelope.Decode(payload)
		if decErr != nil {
			r.metrics.IncMalformedEnvelope()
			log.Printf("router: malformed envelope: %v", decErr)
			// Still commit: a permanently-malformed record must not be
			// retried forever.
			_ = r.q.Commit(tok)
			continue
		}

		r.metrics.ObserveLag(env.Source, env.Lag(time.Now()))

		ch, ok := r.channels[env.Source]
		if !ok {
			// Source not enabled in this deployment; drop and commit.
			_ = r.q.Commit(tok)
			continue
		}

		select {
		case ch <- env:
		default:
			r.metrics.IncDecodeDispatchBlocked(env.Source)
			// Non-blocking attempt failed: record the counter but still
			// perform the send, which now blocks and propagates
			// backpressure to the queue drain rate (§4.3).
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}

		if err := r.q.Commit(tok); err != nil {
			log.Printf("router: commit error: %v", err)
		}
	}
}
