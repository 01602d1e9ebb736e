// Package aircraft implements the shared, read-mostly aircraft identity
// cache (spec.md §3 "Aircraft"). It is preloaded at startup and updated
// (rarely) when a previously-unknown address is first observed.
package aircraft

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hut8/soar-ingest/internal/fixes"
)

// Record is one aircraft identity, keyed by (address, address_type).
type Record struct {
	ID           uuid.UUID
	Key          fixes.AircraftKey
	Registration string
	Model        string
	Category     string // normalized OGN/ADS-B category, see internal/ogn
	Country      string
	Tracking     bool
}

// Store is the concurrent, read-mostly aircraft cache. A plain
// sync.Map matches spec.md §5's "copy-on-write or concurrent map"
// guidance without introducing a third-party concurrent-map dependency
// nothing in the pack supplies one for this exact shape.
type Store struct {
	byKey sync.Map // fixes.AircraftKey -> *Record
}

// New returns an empty Store, ready for Preload.
func New() *Store {
	return &Store{}
}

// Get returns the cached record for key, if any.
func (s *Store) Get(key fixes.AircraftKey) (*Record, bool) {
	v, ok := s.byKey.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

// Put inserts or replaces a record. Called at preload time and whenever a
// previously-unknown address is resolved.
func (s *Store) Put(r *Record) {
	s.byKey.Store(r.Key, r)
}

// GetOrCreate returns the cached record for key, creating and storing a
// minimal one (address_type as given, no registration/model) if absent —
// spec.md §4.5 "If unknown, a minimal aircraft record is created".
func (s *Store) GetOrCreate(key fixes.AircraftKey) *Record {
	if r, ok := s.Get(key); ok {
		return r
	}
	r := &Record{ID: fixes.NewID(), Key: key}
	actual, loaded := s.byKey.LoadOrStore(key, r)
	if loaded {
		return actual.(*Record)
	}
	return r
}

// Len reports the number of cached records.
func (s *Store) Len() int {
	n := 0
	s.byKey.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Preload stores every given record (internal/app passes the result of
// storage.Store.PreloadAircraft). Grounded on
// original_source/src/commands/run/mod.rs's "AircraftCache.preload()"
// startup step.
func (s *Store) Preload(records []*Record) {
	for _, r := range records {
		s.Put(r)
	}
}
