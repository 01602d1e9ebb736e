package beastdecode

import (
	"sync"
	"time"

	"github.com/hut8/soar-ingest/internal/cpr"
)

// Accumulator holds the per-ICAO CPR/position/velocity/identity state
// described by spec.md §3 "CPR accumulator entry" and merges new frames
// per §4.5 step 5-6. Only the Beast decoder feeds it: SBS fixes are built
// directly by internal/sbs and do not pass through it, so callsign and
// altitude are not merged across the two sources for the same ICAO.
//
// Sharded by ICAO address into a fixed number of buckets, each guarded by
// its own mutex, per spec.md §5 "The CPR accumulator is sharded by ICAO to
// eliminate cross-thread contention."
type Accumulator struct {
	shards     [numShards]shard
	idleExpiry time.Duration
}

const numShards = 16

type shard struct {
	mu      sync.Mutex
	entries map[uint32]*entry
}

type cprRecord struct {
	frame   cpr.Frame
	t       time.Time
	surface bool
}

type entry struct {
	lastEven     *cprRecord
	lastOdd      *cprRecord
	lastLat      float64
	lastLon      float64
	havePos      bool
	lastPosAt    time.Time
	callsign     string
	haveCallsign bool
	velocity     VelocityME
	haveVel      bool
	altitudeFeet int
	haveAlt      bool
	lastUpdate   time.Time
}

// NewAccumulator constructs an Accumulator whose entries expire after
// idleExpiry of inactivity (§4.5 "Accumulator entries expire after 5
// minutes of inactivity").
func NewAccumulator(idleExpiry time.Duration) *Accumulator {
	a := &Accumulator{idleExpiry: idleExpiry}
	for i := range a.shards {
		a.shards[i].entries = make(map[uint32]*entry)
	}
	return a
}

func (a *Accumulator) shardFor(icao uint32) *shard {
	return &a.shards[icao%numShards]
}

func (a *Accumulator) getOrCreate(s *shard, icao uint32, now time.Time) *entry {
	e, ok := s.entries[icao]
	if !ok {
		e = &entry{}
		s.entries[icao] = e
	}
	e.lastUpdate = now
	return e
}

// pairWindow bounds how stale the opposite-parity frame may be for a
// global decode attempt (§4.5 step 5: "within 10 s").
const pairWindow = 10 * time.Second

// localDecodeRadiusKm / surfaceLocalDecodeRadiusKm bound how far a
// reference position may be for local-decode disambiguation (§4.5 step 5:
// "~180 NM" airborne, "~45 NM" surface).
const (
	localDecodeRadiusKm        = 180 * 1.852
	surfaceLocalDecodeRadiusKm = 45 * 1.852
	reasonablenessRadiusKm     = 600
)

// UpdatePosition merges a new CPR position frame into the ICAO's
// accumulator state and returns the resolved lat/lon if one could be
// determined (spec.md §4.5 step 5).
func (a *Accumulator) UpdatePosition(icao uint32, frame cpr.Frame, odd, surface bool, altitude *AltitudeResult, now time.Time) (lat, lon float64, ok bool) {
	s := a.shardFor(icao)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := a.getOrCreate(s, icao, now)

	rec := &cprRecord{frame: frame, t: now, surface: surface}
	var opposite *cprRecord
	if odd {
		e.lastOdd = rec
		opposite = e.lastEven
	} else {
		e.lastEven = rec
		opposite = e.lastOdd
	}

	zoneSpan := 360.0
	radius := localDecodeRadiusKm
	if surface {
		zoneSpan = 90.0
		radius = surfaceLocalDecodeRadiusKm
	}

	var decodedLat, decodedLon float64
	var decoded bool

	if opposite != nil && now.Sub(opposite.t) <= pairWindow && opposite.surface == surface {
		var even, oddFrame cpr.Frame
		if odd {
			even, oddFrame = opposite.frame, frame
		} else {
			even, oddFrame = frame, opposite.frame
		}
		if gLat, gLon, gOK := cpr.DecodeGlobal(even, oddFrame, zoneSpan, odd); gOK {
			decodedLat, decodedLon, decoded = gLat, gLon, true
		}
	}

	if !decoded && e.havePos && now.Sub(e.lastPosAt) < 3*time.Minute {
		lLat, lLon := cpr.DecodeLocal(frame, odd, e.lastLat, e.lastLon, zoneSpan)
		if cpr.HaversineKm(e.lastLat, e.lastLon, lLat, lLon) <= radius {
			decodedLat, decodedLon, decoded = lLat, lLon, true
		}
	}

	if decoded && e.havePos {
		if cpr.HaversineKm(e.lastLat, e.lastLon, decodedLat, decodedLon) > reasonablenessRadiusKm {
			// Reasonableness check failed (§4.5 step 5): discard.
			decoded = false
		}
	}

	if altitude != nil && altitude.Decoded {
		e.altitudeFeet = altitude.Feet
		e.haveAlt = true
	}

	if decoded {
		e.lastLat, e.lastLon = decodedLat, decodedLon
		e.havePos = true
		e.lastPosAt = now
		return decodedLat, decodedLon, true
	}
	return 0, 0, false
}

// UpdateVelocity merges a TC19 velocity message into the accumulator.
func (a *Accumulator) UpdateVelocity(icao uint32, v VelocityME, now time.Time) {
	s := a.shardFor(icao)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := a.getOrCreate(s, icao, now)
	e.velocity = v
	e.haveVel = true
}

// UpdateCallsign merges a TC1-4 identification message into the
// accumulator.
func (a *Accumulator) UpdateCallsign(icao uint32, callsign string, now time.Time) {
	s := a.shardFor(icao)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := a.getOrCreate(s, icao, now)
	e.callsign = callsign
	e.haveCallsign = true
}

// SetAltitude records a directly-known altitude, one that arrives without
// CPR framing.
func (a *Accumulator) SetAltitude(icao uint32, feet int, now time.Time) {
	s := a.shardFor(icao)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := a.getOrCreate(s, icao, now)
	e.altitudeFeet = feet
	e.haveAlt = true
}

// Snapshot is the combined {position, velocity, callsign, altitude} view
// for one ICAO used to build a Fix (spec.md §4.5 step 6).
type Snapshot struct {
	HasPosition bool
	Lat, Lon    float64
	HasVelocity bool
	Velocity    VelocityME
	HasCallsign bool
	Callsign    string
	HasAltitude bool
	AltitudeFt  int
}

// Snapshot returns the newest available combined state for icao. Callers
// forward a Fix only when HasPosition is true (§4.5 step 6: "Velocity-only
// or callsign-only arrivals update the accumulator but only produce a Fix
// when joined with a position").
func (a *Accumulator) Snapshot(icao uint32) Snapshot {
	s := a.shardFor(icao)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[icao]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		HasPosition: e.havePos,
		Lat:         e.lastLat,
		Lon:         e.lastLon,
		HasVelocity: e.haveVel,
		Velocity:    e.velocity,
		HasCallsign: e.haveCallsign,
		Callsign:    e.callsign,
		HasAltitude: e.haveAlt,
		AltitudeFt:  e.altitudeFeet,
	}
}

// EvictIdle removes accumulator entries whose last update is older than
// the configured idle expiry (§4.5 "Accumulator entries expire after 5
// minutes of inactivity"). Intended to run on a periodic background
// ticker, one sweep per shard to bound lock hold time.
func (a *Accumulator) EvictIdle(now time.Time) int {
	evicted := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		for icao, e := range s.entries {
			if now.Sub(e.lastUpdate) > a.idleExpiry {
				delete(s.entries, icao)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len returns the total number of tracked ICAO entries, for metrics.
func (a *Accumulator) Len() int {
	n := 0
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
