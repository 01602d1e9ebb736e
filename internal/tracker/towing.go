package tracker

import (
	"sync"
	"time"

	"github.com/hut8/soar-ingest/internal/aircraft"
	"github.com/hut8/soar-ingest/internal/flights"
)

// towWindow and towMaxDistanceM are spec.md §4.8's "Towing association"
// thresholds: takeoff times within 60s and takeoff locations within 500m.
const (
	towWindow       = 60 * time.Second
	towMaxDistanceM = 500.0
)

// towCandidate is a recently-opened flight still eligible to be matched
// against an opposite-role takeoff.
type towCandidate struct {
	key      aircraft.Record
	flight   *flights.Flight
	openedAt time.Time
}

// towAssociator pairs glider takeoffs with the powered aircraft that towed
// them (spec.md §4.8 "Towing association"). It is global rather than
// per-shard: the two aircraft in a tow pair almost never hash to the same
// shard, so this state lives outside the sharded tracker and is guarded by
// its own mutex.
type towAssociator struct {
	mu      sync.Mutex
	pending []towCandidate
}

func newTowAssociator() *towAssociator {
	return &towAssociator{}
}

func isGliderCategory(cat string) bool {
	return cat == "glider" || cat == "paraglider"
}

func isTowCategory(cat string) bool {
	return cat == "tow_plane" || cat == "powered"
}

// consider records a newly-opened flight and looks for an opposite-role
// takeoff within the window/distance thresholds, wiring towed_by_flight_id
// on the glider side when found.
func (a *towAssociator) consider(rec aircraft.Record, fl *flights.Flight) {
	if fl.TakeoffTime == nil || fl.TakeoffLocation == nil {
		return
	}
	glider := isGliderCategory(rec.Category)
	tow := isTowCategory(rec.Category)
	if !glider && !tow {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.prune(*fl.TakeoffTime)

	for _, c := range a.pending {
		if c.key.Key == rec.Key {
			continue // never associate an aircraft with itself
		}
		otherGlider := isGliderCategory(c.key.Category)
		otherTow := isTowCategory(c.key.Category)
		if glider == otherGlider || tow == otherTow {
			continue // need exactly one glider and one tow aircraft
		}
		if !withinTowThresholds(fl, c.flight) {
			continue
		}
		var gliderFlight *flights.Flight
		var towFlight *flights.Flight
		if glider {
			gliderFlight, towFlight = fl, c.flight
		} else {
			gliderFlight, towFlight = c.flight, fl
		}
		gliderFlight.TowedByFlightID = &towFlight.ID
		break
	}

	a.pending = append(a.pending, towCandidate{key: rec, flight: fl, openedAt: *fl.TakeoffTime})
}

func withinTowThresholds(a, b *flights.Flight) bool {
	if a.TakeoffTime == nil || b.TakeoffTime == nil || a.TakeoffLocation == nil || b.TakeoffLocation == nil {
		return false
	}
	dt := a.TakeoffTime.Sub(*b.TakeoffTime)
	if dt < 0 {
		dt = -dt
	}
	if dt > towWindow {
		return false
	}
	distKm := haversineKm(a.TakeoffLocation.Lat, a.TakeoffLocation.Lon, b.TakeoffLocation.Lat, b.TakeoffLocation.Lon)
	return distKm*1000 <= towMaxDistanceM
}

// prune drops candidates whose takeoff is older than towWindow relative to
// now — a tow association can only ever be made shortly after both
// aircraft leave the ground.
func (a *towAssociator) prune(now time.Time) {
	kept := a.pending[:0]
	for _, c := range a.pending {
		if now.Sub(c.openedAt) <= towWindow {
			kept = append(kept, c)
		}
	}
	a.pending = kept
}
