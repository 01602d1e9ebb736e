package beastdecode

import (
	"testing"
	"time"

	"github.com/hut8/soar-ingest/internal/cpr"
)

func TestAccumulatorGlobalPairResolvesPosition(t *testing.T) {
	a := NewAccumulator(5 * time.Minute)
	const icao = 0xABCDEF
	lat, lon := 51.5, -0.1
	even := cpr.Encode(lat, lon, false, 360)
	odd := cpr.Encode(lat, lon, true, 360)

	now := time.Unix(1000, 0)
	if _, _, ok := a.UpdatePosition(icao, even, false, false, nil, now); ok {
		t.Fatal("single frame should not resolve a position")
	}
	gotLat, gotLon, ok := a.UpdatePosition(icao, odd, true, false, nil, now.Add(2*time.Second))
	if !ok {
		t.Fatal("expected global decode to succeed once both parities are present")
	}
	if diff := math_abs(gotLat - lat); diff > 0.01 {
		t.Fatalf("lat off by %f", diff)
	}
	if diff := math_abs(gotLon - lon); diff > 0.01 {
		t.Fatalf("lon off by %f", diff)
	}

	snap := a.Snapshot(icao)
	if !snap.HasPosition {
		t.Fatal("expected snapshot to carry position")
	}
}

func TestAccumulatorStalePairDoesNotDecode(t *testing.T) {
	a := NewAccumulator(5 * time.Minute)
	const icao = 0x123456
	even := cpr.Encode(10, 10, false, 360)
	odd := cpr.Encode(10, 10, true, 360)

	now := time.Unix(2000, 0)
	a.UpdatePosition(icao, even, false, false, nil, now)
	_, _, ok := a.UpdatePosition(icao, odd, true, false, nil, now.Add(20*time.Second))
	if ok {
		t.Fatal("expected stale opposite-parity frame (>10s) to be rejected for global decode")
	}
}

func TestAccumulatorCallsignAndVelocityDoNotImplyPosition(t *testing.T) {
	a := NewAccumulator(5 * time.Minute)
	const icao = 0x999999
	now := time.Unix(3000, 0)
	a.UpdateCallsign(icao, "N12345", now)
	a.UpdateVelocity(icao, VelocityME{GroundSpeedKt: 90, Valid: true}, now)

	snap := a.Snapshot(icao)
	if snap.HasPosition {
		t.Fatal("expected no position from callsign/velocity alone")
	}
	if !snap.HasCallsign || snap.Callsign != "N12345" {
		t.Fatalf("expected callsign to be recorded, got %+v", snap)
	}
	if !snap.HasVelocity {
		t.Fatal("expected velocity to be recorded")
	}
}

func TestAccumulatorEvictIdle(t *testing.T) {
	a := NewAccumulator(1 * time.Minute)
	const icao = 0x1
	now := time.Unix(4000, 0)
	a.UpdateCallsign(icao, "TEST", now)
	if a.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", a.Len())
	}
	evicted := a.EvictIdle(now.Add(2 * time.Minute))
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if a.Len() != 0 {
		t.Fatalf("expected 0 entries after eviction, got %d", a.Len())
	}
}

func math_abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
