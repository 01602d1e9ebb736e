package beastdecode

import (
	"time"

	"github.com/hut8/soar-ingest/internal/cpr"
	"github.com/hut8/soar-ingest/internal/fixes"
)

// Decoder turns Beast-framed Mode-S/ADS-B bytes into fixes.Fix records,
// folding every frame into the shared Accumulator (spec.md §4.5 step 5-6)
// before deciding whether enough state exists to emit a Fix. Mirrors the
// shape of ogn.Decoder and sbs.Decode: a small stateful wrapper around the
// package's pure decode functions.
type Decoder struct {
	Accumulator *Accumulator
}

// NewDecoder constructs a Decoder over a fresh Accumulator with the given
// idle-expiry (§4.5 "Accumulator entries expire after 5 minutes of
// inactivity").
func NewDecoder(idleExpiry time.Duration) *Decoder {
	return &Decoder{Accumulator: NewAccumulator(idleExpiry)}
}

// Decode parses one de-escaped Beast frame, merges any position/velocity/
// identity it carries into the Accumulator, and returns a Fix built from
// the ICAO's combined state, but only when the merge resulted in (or the
// accumulator already held) a resolved position — velocity-only or
// callsign-only frames update state silently (§4.5 step 6).
func (d *Decoder) Decode(frame []byte, receiveTime time.Time) (*fixes.Fix, error) {
	raw, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	if raw.Type != FrameModeSShort && raw.Type != FrameModeSLong {
		return nil, nil
	}

	df := DF(raw.ModeS)
	if df != 17 && df != 18 {
		return nil, nil
	}
	icao := ICAO(raw.ModeS)
	me := ME(raw.ModeS)
	tc := TypeCode(me)

	gotPosition := false
	switch {
	case tc >= 1 && tc <= 4:
		d.Accumulator.UpdateCallsign(icao, DecodeCallsign(me), receiveTime)
	case tc == 19:
		v := DecodeVelocity(me)
		if v.Valid {
			d.Accumulator.UpdateVelocity(icao, v, receiveTime)
		}
	default:
		if posME, ok := DecodePosition(tc, me); ok {
			frame := cpr.Frame{LatCPR: posME.LatCPR, LonCPR: posME.LonCPR}
			if _, _, ok := d.Accumulator.UpdatePosition(icao, frame, posME.Odd, posME.Surface, &posME.Altitude, receiveTime); ok {
				gotPosition = true
			}
		}
	}

	snap := d.Accumulator.Snapshot(icao)
	if !snap.HasPosition {
		return nil, nil
	}
	// §4.5 step 6 reads "joined with a position" as the last known one, not
	// only a position resolved by this frame: a velocity- or callsign-only
	// frame for an ICAO with an already-resolved position still emits a Fix
	// carrying that position. gotPosition distinguishes the two cases only
	// for callers that care whether this frame itself advanced the CPR pair;
	// the snapshot is authoritative either way.
	_ = gotPosition

	f := &fixes.Fix{
		ID:         fixes.NewID(),
		Aircraft:   fixes.AircraftKey{Address: icao, Type: fixes.AddressICAO},
		Timestamp:  receiveTime,
		Lat:        snap.Lat,
		Lon:        snap.Lon,
		Source:     "ADSB",
		ReceivedAt: receiveTime,
	}
	if snap.HasAltitude {
		alt := float64(snap.AltitudeFt)
		f.AltitudeMSLFeet = &alt
	}
	if snap.HasVelocity {
		speed := snap.Velocity.GroundSpeedKt
		track := snap.Velocity.TrackDeg
		climb := snap.Velocity.VerticalFPM
		f.GroundSpeedKt = &speed
		f.TrackDeg = &track
		f.ClimbFPM = &climb
	}
	if snap.HasCallsign && snap.Callsign != "" {
		cs := snap.Callsign
		f.Callsign = &cs
	}
	return f, nil
}
