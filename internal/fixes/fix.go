// Package fixes defines the normalized Fix entity and the Fix processor,
// the single convergence point for all three decoders (spec.md §3, §4.7).
package fixes

import (
	"time"

	"github.com/google/uuid"
)

// AddressType identifies the namespace an aircraft address belongs to.
type AddressType uint8

const (
	AddressUnknown AddressType = iota
	AddressICAO
	AddressOGNFlarm
	AddressOGNTracker
	AddressADSBAnon
)

func (t AddressType) String() string {
	switch t {
	case AddressICAO:
		return "ICAO"
	case AddressOGNFlarm:
		return "OGN_FLARM"
	case AddressOGNTracker:
		return "OGN_TRACKER"
	case AddressADSBAnon:
		return "ADSB_ANON"
	default:
		return "UNKNOWN"
	}
}

// AircraftKey is the unique (address, address_type) key from spec.md §3
// "Aircraft".
type AircraftKey struct {
	Address uint32
	Type    AddressType
}

// Fix is the normalized surveillance record produced by every decoder
// (spec.md §3). Optional numeric fields use pointers so "absent" is
// distinguishable from zero.
type Fix struct {
	ID              uuid.UUID
	Aircraft        AircraftKey
	ReceiverID      uuid.UUID
	Timestamp       time.Time
	Lat             float64
	Lon             float64
	AltitudeMSLFeet *float64
	AltitudeAGLFeet *float64
	GroundSpeedKt   *float64
	TrackDeg        *float64
	ClimbFPM        *float64
	TurnRate        *float64
	Callsign        *string
	Squawk          *string
	SourceMetadata  map[string]string
	FlightID        *uuid.UUID
	ReceivedAt      time.Time
	RawMessageID    *uuid.UUID
	Source          string // "OGN" | "ADSB" (shared by Beast and SBS, §4.5/§4.6)
}

// Valid checks the coordinate/timestamp invariants from spec.md §3: lat in
// [-90,90], lon in [-180,180], timestamp not impossibly far in the future
// of ReceivedAt (clock skew tolerance).
func (f Fix) Valid(skew time.Duration) bool {
	if f.Lat < -90 || f.Lat > 90 {
		return false
	}
	if f.Lon < -180 || f.Lon > 180 {
		return false
	}
	if f.Lat != f.Lat || f.Lon != f.Lon { // NaN check
		return false
	}
	if f.Timestamp.After(f.ReceivedAt.Add(skew)) {
		return false
	}
	return true
}

// HasUsefulData reports whether this Fix carries at least one of
// position, altitude, velocity, or identification — decoders drop
// anything else rather than constructing an empty Fix (mirrors
// original_source/src/sbs/sbs_to_fix.rs's gate, generalized to all
// sources per SPEC_FULL.md §4.7A).
func (f Fix) HasUsefulData() bool {
	hasPosition := f.Lat != 0 || f.Lon != 0
	hasAltitude := f.AltitudeMSLFeet != nil
	hasVelocity := f.GroundSpeedKt != nil || f.TrackDeg != nil || f.ClimbFPM != nil
	hasIdent := f.Callsign != nil || f.Squawk != nil
	return hasPosition || hasAltitude || hasVelocity || hasIdent
}

// NewID returns a fresh time-ordered Fix/Flight/Aircraft/RawMessage id.
// Falls back to a random v4 id if v7 generation fails (exhausted entropy
// source), matching uuid.Must's panic-avoidance idiom used elsewhere in
// the pack.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
