// Package tracker implements the per-aircraft flight state machine
// (spec.md §4.8): Ground/Airborne/Landing transitions, flight
// creation/sealing, timeout sweeps, and out-of-range gap coalescing.
//
// Grounded on original_source/src/flight_detection_processor.rs's
// threshold values, ring buffer, and transition predicates — but its
// concurrency model is replaced outright. The original spawns a detached
// tokio::spawn task per fix that clones the whole processor (including its
// aircraft_trackers map) off a shared &self reference, which races any two
// fixes for the same aircraft arriving close together. Here every aircraft
// is pinned to exactly one of a fixed set of shards, each owned by a
// single goroutine draining its own channel, so a given aircraft's fixes
// are always processed by the same goroutine in arrival order with no
// locking needed (spec.md §9).
package tracker

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hut8/soar-ingest/internal/aircraft"
	"github.com/hut8/soar-ingest/internal/fixes"
	"github.com/hut8/soar-ingest/internal/flights"
)

// FlightState is the 3-state model spec.md §3/§4.8 specifies (the
// original's extra TakingOff state is folded into the Ground→Airborne
// transition's sustained-climb check, see SPEC_FULL.md §4.8A).
type FlightState string

const (
	StateGround   FlightState = "ground"
	StateAirborne FlightState = "airborne"
	StateLanding  FlightState = "landing"
)

// Config holds the tunable thresholds from spec.md §4.8, all with the
// spec's stated defaults.
type Config struct {
	TakeoffSpeedKt         float64
	TakeoffAltGainFt       float64
	LandingSpeedKt         float64
	GroundAltVarianceFt    float64
	MinFixesForStateChange int
	GroundConfirmFixes     int
	HistorySize            int
	TimeoutDuration        time.Duration
	SweepInterval          time.Duration
	StateRetention         time.Duration // §4.8A: 18h, not the original's 6h
	GapDescentRateFpm      float64
	GapMinDuration         time.Duration
	GapClimbRateFpm        float64
	GapMaxDistanceKm       float64
	NumShards              int
	QueueDepth             int
}

// DefaultConfig returns spec.md §4.8's stated default thresholds.
func DefaultConfig() Config {
	return Config{
		TakeoffSpeedKt:         35,
		TakeoffAltGainFt:       200,
		LandingSpeedKt:         15,
		GroundAltVarianceFt:    50,
		MinFixesForStateChange: 3,
		GroundConfirmFixes:     5,
		HistorySize:            10,
		TimeoutDuration:        time.Hour,
		SweepInterval:          time.Minute,
		StateRetention:         18 * time.Hour,
		GapDescentRateFpm:      -500,
		GapMinDuration:         10 * time.Hour,
		GapClimbRateFpm:        500,
		GapMaxDistanceKm:       100,
		NumShards:              16,
		QueueDepth:             256,
	}
}

// Sink receives flight lifecycle events for persistence/forwarding
// (spec.md §4.8 "emit flight records").
type Sink interface {
	FlightOpened(f *flights.Flight)
	FlightUpdated(f *flights.Flight)
	FlightSealed(f *flights.Flight)
}

type aircraftState struct {
	flightState   FlightState
	history       []*fixes.Fix // bounded ring, oldest first
	currentFlight *flights.Flight
	lastUpdate    time.Time
}

func (s *aircraftState) pushHistory(f *fixes.Fix, maxSize int) {
	s.history = append(s.history, f)
	if len(s.history) > maxSize {
		s.history = s.history[len(s.history)-maxSize:]
	}
}

type shard struct {
	in     chan *fixes.Fix
	states map[fixes.AircraftKey]*aircraftState
}

// Tracker is the flight state machine, sharded per aircraft.
type Tracker struct {
	cfg           Config
	sink          Sink
	shards        []*shard
	idGen         func() uuid.UUID
	wg            sync.WaitGroup
	aircraftStore *aircraft.Store
	towing        *towAssociator
}

// New constructs a Tracker with cfg shards, each driven by its own
// goroutine. Call Start to begin processing and Stop to drain and halt.
func New(cfg Config, sink Sink) *Tracker {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 16
	}
	t := &Tracker{
		cfg:    cfg,
		sink:   sink,
		towing: newTowAssociator(),
	}
	t.idGen = func() uuid.UUID {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.New()
		}
		return id
	}
	t.shards = make([]*shard, cfg.NumShards)
	for i := range t.shards {
		t.shards[i] = &shard{
			in:     make(chan *fixes.Fix, cfg.QueueDepth),
			states: make(map[fixes.AircraftKey]*aircraftState),
		}
	}
	return t
}

// SetAircraftStore wires the aircraft identity cache used to classify
// categories for towing association (spec.md §4.8). Towing association is
// skipped entirely while this is unset.
func (t *Tracker) SetAircraftStore(s *aircraft.Store) {
	t.aircraftStore = s
}

// Restore seeds each aircraft's recent-fix ring from persisted history
// (spec.md §4.8 step 1's cold-start restoration). byAircraft's fixes must
// already be in ascending time order per aircraft, as
// internal/storage.Store.RecentFixesByAircraft returns them. Call before
// Start; aircraft are left in StateGround since the persisted fixes alone
// don't reveal which flight, if any, was still open at shutdown.
func (t *Tracker) Restore(byAircraft map[fixes.AircraftKey][]*fixes.Fix) {
	for key, fs := range byAircraft {
		if len(fs) == 0 {
			continue
		}
		st := &aircraftState{flightState: StateGround}
		for _, f := range fs {
			st.pushHistory(f, t.cfg.HistorySize)
			st.lastUpdate = f.ReceivedAt
		}
		t.shardFor(key).states[key] = st
	}
}

// Start launches the per-shard worker goroutines.
func (t *Tracker) Start() {
	for _, s := range t.shards {
		t.wg.Add(1)
		go t.runShard(s)
	}
}

// Stop closes every shard's input channel and waits for workers to drain.
func (t *Tracker) Stop() {
	for _, s := range t.shards {
		close(s.in)
	}
	t.wg.Wait()
}

// Submit routes a fix to the shard owning its aircraft. Blocks if that
// shard's queue is full, applying natural backpressure up through the Fix
// processor.
func (t *Tracker) Submit(f *fixes.Fix) {
	t.shardFor(f.Aircraft).in <- f
}

func (t *Tracker) shardFor(key fixes.AircraftKey) *shard {
	h := fnv.New32a()
	var b [4]byte
	b[0] = byte(key.Address >> 24)
	b[1] = byte(key.Address >> 16)
	b[2] = byte(key.Address >> 8)
	b[3] = byte(key.Address)
	h.Write(b[:])
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

func (t *Tracker) runShard(s *shard) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case f, ok := <-s.in:
			if !ok {
				return
			}
			t.processFix(s, f)
		case now := <-ticker.C:
			t.sweep(s, now)
		}
	}
}

func (t *Tracker) processFix(s *shard, f *fixes.Fix) {
	st, ok := s.states[f.Aircraft]
	if !ok {
		st = &aircraftState{flightState: StateGround}
		s.states[f.Aircraft] = st
	}

	t.maybeCoalesceGap(st, f)

	st.pushHistory(f, t.cfg.HistorySize)
	st.lastUpdate = f.ReceivedAt

	if st.currentFlight != nil {
		st.currentFlight.ApplyFix(f, 0)
	}

	t.transition(f.Aircraft, st, f)
}

// maybeCoalesceGap implements spec.md §4.8 "Coalescing and out-of-range
// gap resolution": a long gap following sustained descent, resumed by
// sustained climb nearby, retroactively seals the prior flight and starts
// a fresh one instead of bridging an overnight ground period as one
// flight.
func (t *Tracker) maybeCoalesceGap(st *aircraftState, f *fixes.Fix) bool {
	if st.flightState != StateAirborne || len(st.history) == 0 || st.currentFlight == nil {
		return false
	}
	last := st.history[len(st.history)-1]
	gap := f.Timestamp.Sub(last.Timestamp)
	if gap < t.cfg.GapMinDuration {
		return false
	}

	preGapRate := averageClimbFpm(st.history)
	if preGapRate > t.cfg.GapDescentRateFpm {
		return false // not clearly descending before the gap
	}
	postGapRate := float64(0)
	if f.ClimbFPM != nil {
		postGapRate = *f.ClimbFPM
	}
	if postGapRate < t.cfg.GapClimbRateFpm {
		return false
	}
	if haversineKm(last.Lat, last.Lon, f.Lat, f.Lon) >= t.cfg.GapMaxDistanceKm {
		return false
	}

	// Retroactively seal the prior flight at the last pre-gap fix.
	st.currentFlight.Land(last.Timestamp, flights.LatLon{Lat: last.Lat, Lon: last.Lon}, last.AltitudeMSLFeet)
	t.sink.FlightSealed(st.currentFlight)
	st.currentFlight = nil
	st.flightState = StateGround
	st.history = nil
	return true
}

func (t *Tracker) transition(key fixes.AircraftKey, st *aircraftState, f *fixes.Fix) {
	switch st.flightState {
	case StateGround:
		if t.shouldTakeoff(st.history) {
			id := t.idGen()
			fl := flights.New(key, id, f.Timestamp, flights.LatLon{Lat: f.Lat, Lon: f.Lon}, f.AltitudeMSLFeet)
			st.currentFlight = fl
			st.flightState = StateAirborne
			f.FlightID = &id
			if t.aircraftStore != nil {
				rec := t.aircraftStore.GetOrCreate(key)
				t.towing.consider(*rec, fl)
			}
			t.sink.FlightOpened(fl)
		}
	case StateAirborne:
		if t.shouldLand(st.history) {
			st.flightState = StateLanding
		}
		if st.currentFlight != nil {
			id := st.currentFlight.ID
			f.FlightID = &id
		}
	case StateLanding:
		if st.currentFlight != nil {
			id := st.currentFlight.ID
			f.FlightID = &id
		}
		if t.isOnGround(st.history) {
			if st.currentFlight != nil {
				st.currentFlight.Land(f.Timestamp, flights.LatLon{Lat: f.Lat, Lon: f.Lon}, f.AltitudeMSLFeet)
				t.sink.FlightSealed(st.currentFlight)
				st.currentFlight = nil
			}
			st.flightState = StateGround
		}
	}
}

// shouldTakeoff implements §4.8 "Ground → Airborne": the last
// MinFixesForStateChange fixes show monotonically-increasing speed
// crossing the takeoff threshold, and altitude gain over that window
// meets TakeoffAltGainFt.
func (t *Tracker) shouldTakeoff(history []*fixes.Fix) bool {
	n := t.cfg.MinFixesForStateChange
	if len(history) < n {
		return false
	}
	window := history[len(history)-n:]
	for i := 1; i < len(window); i++ {
		if speedOrZero(window[i]) <= speedOrZero(window[i-1]) {
			return false
		}
	}
	if speedOrZero(window[len(window)-1]) < t.cfg.TakeoffSpeedKt {
		return false
	}
	firstAlt, firstOK := altitudeOf(window[0])
	lastAlt, lastOK := altitudeOf(window[len(window)-1])
	if firstOK && lastOK {
		return (lastAlt - firstAlt) >= t.cfg.TakeoffAltGainFt
	}
	return true
}

// shouldLand implements §4.8 "Airborne → Landing": the last
// MinFixesForStateChange fixes show monotonically-non-increasing speed
// with cumulative descent of at least 100 ft.
func (t *Tracker) shouldLand(history []*fixes.Fix) bool {
	n := t.cfg.MinFixesForStateChange
	if len(history) < n {
		return false
	}
	window := history[len(history)-n:]
	for i := 1; i < len(window); i++ {
		if speedOrZero(window[i]) > speedOrZero(window[i-1]) {
			return false
		}
	}
	firstAlt, firstOK := altitudeOf(window[0])
	lastAlt, lastOK := altitudeOf(window[len(window)-1])
	if firstOK && lastOK {
		return (firstAlt - lastAlt) >= 100
	}
	return false
}

// isOnGround implements §4.8 "Landing → Ground": the last 3 fixes are at
// or below LandingSpeedKt, and the altitudes among the last
// GroundConfirmFixes fixes vary by at most GroundAltVarianceFt.
func (t *Tracker) isOnGround(history []*fixes.Fix) bool {
	if len(history) < 2 {
		return true
	}
	speedWindow := lastN(history, 3)
	for _, f := range speedWindow {
		if speedOrZero(f) > t.cfg.LandingSpeedKt {
			return false
		}
	}
	altWindow := lastN(history, t.cfg.GroundConfirmFixes)
	var alts []float64
	for _, f := range altWindow {
		if a, ok := altitudeOf(f); ok {
			alts = append(alts, a)
		}
	}
	if len(alts) < 2 {
		return true
	}
	min, max := alts[0], alts[0]
	for _, a := range alts {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	return (max - min) <= t.cfg.GroundAltVarianceFt
}

// sweep applies the timeout rule (§4.8 "Any state: if > T since last fix,
// seal the flight... and reset to Ground") and evicts trackers idle
// beyond StateRetention (§4.8A: 18h).
func (t *Tracker) sweep(s *shard, now time.Time) {
	for key, st := range s.states {
		if st.currentFlight != nil && now.Sub(st.lastUpdate) > t.cfg.TimeoutDuration {
			st.currentFlight.TimeOut()
			t.sink.FlightSealed(st.currentFlight)
			st.currentFlight = nil
			st.flightState = StateGround
		}
		if now.Sub(st.lastUpdate) > t.cfg.StateRetention {
			delete(s.states, key)
		}
	}
}

func speedOrZero(f *fixes.Fix) float64 {
	if f.GroundSpeedKt == nil {
		return 0
	}
	return *f.GroundSpeedKt
}

func altitudeOf(f *fixes.Fix) (float64, bool) {
	if f.AltitudeMSLFeet == nil {
		return 0, false
	}
	return *f.AltitudeMSLFeet, true
}

func lastN(history []*fixes.Fix, n int) []*fixes.Fix {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func averageClimbFpm(history []*fixes.Fix) float64 {
	window := lastN(history, 3)
	var sum float64
	var count int
	for _, f := range window {
		if f.ClimbFPM != nil {
			sum += *f.ClimbFPM
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
