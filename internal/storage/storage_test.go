package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hut8/soar-ingest/internal/aircraft"
	"github.com/hut8/soar-ingest/internal/fixes"
	"github.com/hut8/soar-ingest/internal/flights"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.buntdb"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAircraftRoundTrip(t *testing.T) {
	s := openTestStore(t)
	key := fixes.AircraftKey{Address: 0x3ADDA5, Type: fixes.AddressOGNFlarm}
	rec := &aircraft.Record{ID: uuid.New(), Key: key, Registration: "F-CXYZ", Category: "glider"}

	if err := s.PutAircraft(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.GetAircraft(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected aircraft to be found")
	}
	if got.Registration != "F-CXYZ" || got.Category != "glider" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetAircraftMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetAircraft(fixes.AircraftKey{Address: 1, Type: fixes.AddressICAO})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestPreloadAircraftReturnsAllRecords(t *testing.T) {
	s := openTestStore(t)
	keys := []fixes.AircraftKey{
		{Address: 1, Type: fixes.AddressICAO},
		{Address: 2, Type: fixes.AddressOGNFlarm},
	}
	for _, k := range keys {
		if err := s.PutAircraft(&aircraft.Record{ID: uuid.New(), Key: k}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	all, err := s.PreloadAircraft()
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}

func TestFixRoundTripOrderedAscending(t *testing.T) {
	s := openTestStore(t)
	key := fixes.AircraftKey{Address: 5, Type: fixes.AddressICAO}
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		f := &fixes.Fix{
			ID:        fixes.NewID(),
			Aircraft:  key,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Lat:       48.0,
			Lon:       5.0,
		}
		if err := s.PutFix(f); err != nil {
			t.Fatalf("put fix %d: %v", i, err)
		}
	}
	got, err := s.FixesForAircraft(key, 0)
	if err != nil {
		t.Fatalf("fixes for aircraft: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 fixes, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatal("expected ascending time order")
		}
	}
}

func TestFlightRoundTrip(t *testing.T) {
	s := openTestStore(t)
	key := fixes.AircraftKey{Address: 9, Type: fixes.AddressICAO}
	fl := flights.New(key, uuid.New(), time.Now(), flights.LatLon{Lat: 1, Lon: 2}, nil)

	if err := s.PutFlight(fl); err != nil {
		t.Fatalf("put flight: %v", err)
	}
	got, err := s.FlightsForAircraft(key)
	if err != nil {
		t.Fatalf("flights for aircraft: %v", err)
	}
	if len(got) != 1 || got[0].ID != fl.ID {
		t.Fatalf("unexpected flights: %+v", got)
	}
}

func TestRecordRawMessageDedup(t *testing.T) {
	s := openTestStore(t)
	hash := "deadbeef"
	now := time.Now()

	firstID := uuid.New()
	id1, isNew1, err := s.RecordRawMessage(hash, firstID, now)
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if !isNew1 || id1 != firstID {
		t.Fatalf("expected first record to be new with id %v, got isNew=%v id=%v", firstID, isNew1, id1)
	}

	secondID := uuid.New()
	id2, isNew2, err := s.RecordRawMessage(hash, secondID, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if isNew2 {
		t.Fatal("expected replay to resolve to the existing row, not create a new one")
	}
	if id2 != firstID {
		t.Fatalf("expected replay to return the original id %v, got %v", firstID, id2)
	}
}

func TestRecentFixesByAircraftKeepsOnlyActiveTail(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	recent := fixes.AircraftKey{Address: 1, Type: fixes.AddressICAO}
	stale := fixes.AircraftKey{Address: 2, Type: fixes.AddressICAO}

	for i := 0; i < 15; i++ {
		f := &fixes.Fix{ID: fixes.NewID(), Aircraft: recent, Timestamp: now.Add(time.Duration(i) * time.Minute), Lat: 48, Lon: 5}
		if err := s.PutFix(f); err != nil {
			t.Fatalf("put recent fix %d: %v", i, err)
		}
	}
	staleFix := &fixes.Fix{ID: fixes.NewID(), Aircraft: stale, Timestamp: now.Add(-48 * time.Hour), Lat: 48, Lon: 5}
	if err := s.PutFix(staleFix); err != nil {
		t.Fatalf("put stale fix: %v", err)
	}

	got, err := s.RecentFixesByAircraft(now.Add(-18*time.Hour), 10)
	if err != nil {
		t.Fatalf("recent fixes: %v", err)
	}
	if _, ok := got[stale]; ok {
		t.Fatal("expected stale aircraft to be dropped")
	}
	ring, ok := got[recent]
	if !ok {
		t.Fatal("expected recent aircraft to be present")
	}
	if len(ring) != 10 {
		t.Fatalf("expected ring trimmed to 10, got %d", len(ring))
	}
	for i := 1; i < len(ring); i++ {
		if ring[i].Timestamp.Before(ring[i-1].Timestamp) {
			t.Fatal("expected ascending time order")
		}
	}
	if !ring[len(ring)-1].Timestamp.Equal(now.Add(14 * time.Minute)) {
		t.Fatalf("expected ring to keep the latest fixes, last=%v", ring[len(ring)-1].Timestamp)
	}
}

func TestFlightSinkPersistsOnEveryTransition(t *testing.T) {
	s := openTestStore(t)
	key := fixes.AircraftKey{Address: 7, Type: fixes.AddressICAO}
	fl := flights.New(key, uuid.New(), time.Now(), flights.LatLon{Lat: 1, Lon: 2}, nil)

	s.FlightOpened(fl)
	s.FlightSealed(fl)

	got, err := s.FlightsForAircraft(key)
	if err != nil {
		t.Fatalf("flights for aircraft: %v", err)
	}
	if len(got) != 1 || got[0].ID != fl.ID {
		t.Fatalf("unexpected flights: %+v", got)
	}
}

func TestGetOrCreateReceiverUpdatesLastSeen(t *testing.T) {
	s := openTestStore(t)
	t0 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	rec1, err := s.GetOrCreateReceiver("LFNM", t0)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !rec1.FirstSeen.Equal(t0) {
		t.Fatalf("first seen: got %v", rec1.FirstSeen)
	}

	rec2, err := s.GetOrCreateReceiver("LFNM", t1)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !rec2.FirstSeen.Equal(t0) {
		t.Fatalf("expected first_seen to persist across updates, got %v", rec2.FirstSeen)
	}
	if !rec2.LastSeen.Equal(t1) {
		t.Fatalf("expected last_seen to be bumped, got %v", rec2.LastSeen)
	}
}
