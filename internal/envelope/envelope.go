// Package envelope defines the tagged record that carries a single framed
// message from a wire client through the persistent queue to the router.
package envelope

import (
	"fmt"
	"time"
)

// Source identifies which upstream feed an Envelope's payload came from.
type Source uint8

const (
	// SourceUnknown is the zero value and never appears on the wire.
	SourceUnknown Source = iota
	SourceOGN
	SourceBeast
	SourceSBS
)

func (s Source) String() string {
	switch s {
	case SourceOGN:
		return "OGN"
	case SourceBeast:
		return "BEAST"
	case SourceSBS:
		return "SBS"
	default:
		return "UNKNOWN"
	}
}

// ParseSource maps a source tag string back to a Source, the inverse of
// Source.String; unrecognized tags map to SourceUnknown.
func ParseSource(s string) Source {
	switch s {
	case "OGN":
		return SourceOGN
	case "BEAST":
		return SourceBeast
	case "SBS":
		return SourceSBS
	default:
		return SourceUnknown
	}
}

// Envelope is created by a wire client at the moment bytes leave the
// socket, consumed exactly once by the router, and otherwise moved through
// the pipeline with a single owner at a time (spec.md §3).
type Envelope struct {
	Source      Source
	ReceiveTime time.Time
	Payload     []byte
}

// Lag reports how long this envelope has been sitting in the pipeline
// relative to now, used by the router to record queueing delay (§4.3).
func (e Envelope) Lag(now time.Time) time.Duration {
	return now.Sub(e.ReceiveTime)
}

// Encode serializes the envelope for storage in the persistent queue: one
// tag byte, an 8-byte little-endian microsecond timestamp, then the raw
// payload (§6 "Envelope wire encoding" describes an equivalent varint/length
// framing for the separate socket-server variant; this module only needs
// the in-process disk encoding, kept intentionally simpler).
func Encode(e Envelope) []byte {
	out := make([]byte, 9+len(e.Payload))
	out[0] = byte(e.Source)
	micros := e.ReceiveTime.UnixMicro()
	for i := 0; i < 8; i++ {
		out[1+i] = byte(micros >> (8 * i))
	}
	copy(out[9:], e.Payload)
	return out
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Envelope, error) {
	if len(b) < 9 {
		return Envelope{}, errShortEnvelope
	}
	var micros int64
	for i := 0; i < 8; i++ {
		micros |= int64(b[1+i]) << (8 * i)
	}
	payload := make([]byte, len(b)-9)
	copy(payload, b[9:])
	return Envelope{
		Source:      Source(b[0]),
		ReceiveTime: time.UnixMicro(micros),
		Payload:     payload,
	}, nil
}

var errShortEnvelope = fmt.Errorf("envelope: encoded record too short")
