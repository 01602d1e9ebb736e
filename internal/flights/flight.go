// Package flights defines the Flight entity produced by the flight
// tracker (spec.md §3 "Flight", §4.8).
package flights

import (
	"time"

	"github.com/google/uuid"

	"github.com/hut8/soar-ingest/internal/fixes"
)

// Flight is a coherent takeoff-to-landing (or takeoff-to-timeout)
// interval for one aircraft (spec.md §3).
type Flight struct {
	ID                 uuid.UUID
	AircraftKey        fixes.AircraftKey
	TakeoffTime        *time.Time
	TakeoffLocation     *LatLon
	TakeoffAltitudeMSL *float64
	LandingTime        *time.Time
	LandingLocation     *LatLon
	LandingAltitudeMSL *float64
	FirstFixAt         time.Time
	LastFixAt          time.Time
	TimedOutAt         *time.Time
	TowedByFlightID    *uuid.UUID
	TotalDistanceM     float64
	MaxAltitudeMSL     *float64
}

// LatLon is a point used by takeoff/landing locations.
type LatLon struct {
	Lat, Lon float64
}

// New starts a flight at takeoff, per spec.md §4.8 "create a new Flight
// with takeoff_time = fix.timestamp, takeoff_location = (lat, lon)".
func New(key fixes.AircraftKey, id uuid.UUID, takeoffTime time.Time, loc LatLon, altitudeMSL *float64) *Flight {
	return &Flight{
		ID:                 id,
		AircraftKey:        key,
		TakeoffTime:        &takeoffTime,
		TakeoffLocation:    &loc,
		TakeoffAltitudeMSL: altitudeMSL,
		FirstFixAt:         takeoffTime,
		LastFixAt:          takeoffTime,
		MaxAltitudeMSL:     altitudeMSL,
	}
}

// ApplyFix folds a new fix's position/altitude/time into the flight's
// running state (distance accumulation, max altitude, last_fix_at).
func (f *Flight) ApplyFix(fix *fixes.Fix, distanceDeltaM float64) {
	f.LastFixAt = fix.Timestamp
	f.TotalDistanceM += distanceDeltaM
	if fix.AltitudeMSLFeet != nil {
		if f.MaxAltitudeMSL == nil || *fix.AltitudeMSLFeet > *f.MaxAltitudeMSL {
			alt := *fix.AltitudeMSLFeet
			f.MaxAltitudeMSL = &alt
		}
	}
}

// Land seals the flight with a landing time/location (§4.8
// "Landing → Ground").
func (f *Flight) Land(t time.Time, loc LatLon, altitudeMSL *float64) {
	f.LandingTime = &t
	f.LandingLocation = &loc
	f.LandingAltitudeMSL = altitudeMSL
	f.LastFixAt = t
}

// TimeOut seals the flight via inactivity timeout (§4.8 "if > T since last
// fix, seal the flight by setting timed_out_at = last_fix_at").
func (f *Flight) TimeOut() {
	t := f.LastFixAt
	f.TimedOutAt = &t
}

// Sealed reports whether the flight has reached a terminal state.
func (f *Flight) Sealed() bool {
	return f.LandingTime != nil || f.TimedOutAt != nil
}

// Monotonic checks the spec.md §8 "Flight monotonicity" invariant:
// first_fix_at <= last_fix_at, and takeoff_time <= landing_time when both
// are set.
func (f *Flight) Monotonic() bool {
	if f.FirstFixAt.After(f.LastFixAt) {
		return false
	}
	if f.TakeoffTime != nil && f.LandingTime != nil && f.TakeoffTime.After(*f.LandingTime) {
		return false
	}
	if f.TimedOutAt != nil && f.LandingTime != nil {
		return false // mutually exclusive
	}
	return true
}
