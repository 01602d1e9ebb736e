// Package wireclient implements the shared reconnect/framing harness used
// by the OGN, Beast, and SBS wire clients (spec.md §4.1). Each concrete
// client supplies only a Framer; dialing, backoff, and envelope
// construction are common.
package wireclient

import "bytes"

// Framer turns a stream of newly-read bytes into zero or more complete
// messages. Implementations must retain partial state across calls so
// that a message split across two reads is framed correctly (§4.1's Beast
// 0x1A boundary requirement generalizes to all three framers).
type Framer interface {
	Feed(data []byte) [][]byte
}

// LineFramer implements the OGN/APRS and SBS framing contract: messages
// are newline-terminated, trimmed, and empty lines are skipped (§4.1).
type LineFramer struct {
	buf []byte
}

// Feed implements Framer.
func (f *LineFramer) Feed(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(f.buf[:idx], "\r")
		line = bytes.TrimSpace(line)
		f.buf = f.buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
	}

	// Compact the backing array once the discarded prefix dominates it, so
	// a long-lived connection with many short lines doesn't grow buf's
	// underlying array without bound.
	if cap(f.buf) > 4096 && len(f.buf) < cap(f.buf)/4 {
		compacted := make([]byte, len(f.buf))
		copy(compacted, f.buf)
		f.buf = compacted
	}
	return lines
}

// BeastEscape is the Beast binary frame introducer/escape byte (§4.1,
// §6): 0x1A both begins a frame and, doubled, escapes a literal 0x1A data
// byte within one.
const BeastEscape = 0x1A

// BeastFramer implements the Beast 0x1A-escaped framing contract. It is
// the pure, allocation-light state machine referenced by spec.md §8's
// "Beast framing" property test: applying it to any byte sequence, split
// across any number of reads, must yield the same frames as applying it to
// the whole sequence at once.
//
// Ported from original_source/src/beast/client.rs's escape-aware buffer
// processing (process_buffer_with_escapes and its pending_escape state).
type BeastFramer struct {
	frameBuf      []byte
	pendingEscape bool
	started       bool
}

// Feed implements Framer. The returned frames never include the leading
// 0x1A introducer; each begins with the Beast type byte (0x31-0x34).
func (f *BeastFramer) Feed(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if f.pendingEscape {
			f.pendingEscape = false
			if b == BeastEscape {
				// An escaped literal 0x1A data byte.
				if f.started {
					f.frameBuf = append(f.frameBuf, BeastEscape)
				}
				continue
			}
			// Unescaped 0x1A terminated the previous frame; b is the
			// type byte of the next one.
			if f.started && len(f.frameBuf) > 0 {
				frame := make([]byte, len(f.frameBuf))
				copy(frame, f.frameBuf)
				frames = append(frames, frame)
			}
			f.frameBuf = f.frameBuf[:0]
			f.frameBuf = append(f.frameBuf, b)
			f.started = true
			continue
		}

		if b == BeastEscape {
			f.pendingEscape = true
			continue
		}
		if f.started {
			f.frameBuf = append(f.frameBuf, b)
		}
		// Bytes arriving before the first 0x1A marker belong to no frame
		// and are discarded.
	}
	return frames
}

// PendingEscape reports whether the framer ended its last Feed call mid
// escape-sequence (the last byte fed was an unresolved 0x1A). Exercised
// directly by tests mirroring the buffer-boundary property.
func (f *BeastFramer) PendingEscape() bool { return f.pendingEscape }
