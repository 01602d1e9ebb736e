// Package storage is the buntdb-backed persistence layer for aircraft,
// fixes, flights, receivers, and the raw-message dedup index (SPEC_FULL.md
// §3A). Grounded on the teacher's storage/storage.go key-space design
// (pos:{icao}:{ts}, now:{icao}, map:cs:{callsign}), generalized to this
// domain's entities and key prefixes.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"github.com/hut8/soar-ingest/internal/aircraft"
	"github.com/hut8/soar-ingest/internal/fixes"
	"github.com/hut8/soar-ingest/internal/flights"
	"github.com/hut8/soar-ingest/internal/telemetry"
)

// Receiver is a resolved OGN/APRS ground-station identity (§4.4 step 3).
type Receiver struct {
	ID        uuid.UUID `json:"id"`
	Callsign  string    `json:"callsign"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// receiverIDNamespace seeds deterministic receiver ids from callsign, so a
// ground station resolves to the same id across restarts without a
// separate id sequence.
var receiverIDNamespace = uuid.MustParse("3b4ea1d2-4a7c-4c1e-9b8e-6a6e9f9d9a1b")

func receiverID(callsign string) uuid.UUID {
	return uuid.NewSHA1(receiverIDNamespace, []byte(callsign))
}

// rawMessageRecord is the dedup index value stored at rawmsg:{sha256_hex}
// (SUPPLEMENTED FEATURES: "Raw message content-hash dedup").
type rawMessageRecord struct {
	ID        uuid.UUID `json:"id"`
	FirstSeen time.Time `json:"first_seen"`
}

// Store is the embedded KV persistence layer. Every method is safe for
// concurrent use — buntdb serializes writers internally.
type Store struct {
	db        *buntdb.DB
	retention time.Duration
}

// Open opens (creating if absent) a buntdb file at path. retention bounds
// how long fix rows are kept; a non-positive value disables expiry and
// keeps them indefinitely. Only fix rows expire: aircraft, flight,
// receiver and raw-message records are stored without a TTL.
func Open(path string, retention time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying buntdb file handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func aircraftKeyStr(k fixes.AircraftKey) string {
	return fmt.Sprintf("%d:%08X", k.Type, k.Address)
}

// PutAircraft upserts an aircraft identity record (aircraft:{address_type}:{address}).
func (s *Store) PutAircraft(r *aircraft.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := "aircraft:" + aircraftKeyStr(r.Key)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	})
}

// GetAircraft loads the aircraft identity record for key, if any.
func (s *Store) GetAircraft(key fixes.AircraftKey) (*aircraft.Record, bool, error) {
	var r aircraft.Record
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get("aircraft:" + aircraftKeyStr(key))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if jsonErr := json.Unmarshal([]byte(v), &r); jsonErr != nil {
			return jsonErr
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &r, true, nil
}

// PreloadAircraft loads every stored aircraft record, for the startup
// preload step (original_source/src/commands/run/mod.rs's
// AircraftCache.preload()).
func (s *Store) PreloadAircraft() ([]*aircraft.Record, error) {
	var out []*aircraft.Record
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("aircraft:*", func(_, val string) bool {
			var r aircraft.Record
			if json.Unmarshal([]byte(val), &r) == nil {
				out = append(out, &r)
			}
			return true
		})
	})
	return out, err
}

// PutFix persists a Fix at fix:{aircraft_key}:{ts_micros}:{fix_id}, the
// zero-padded timestamp keeping keys lexicographically time-ordered within
// an aircraft's range.
func (s *Store) PutFix(f *fixes.Fix) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("fix:%s:%020d:%s", aircraftKeyStr(f.Aircraft), f.Timestamp.UnixMicro(), f.ID)
	opts := (*buntdb.SetOptions)(nil)
	if s.retention > 0 {
		opts = &buntdb.SetOptions{Expires: true, TTL: s.retention}
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), opts)
		return err
	})
}

// FixesForAircraft returns up to limit fixes for key in ascending time
// order (limit<=0 means unbounded).
func (s *Store) FixesForAircraft(key fixes.AircraftKey, limit int) ([]*fixes.Fix, error) {
	var out []*fixes.Fix
	prefix := "fix:" + aircraftKeyStr(key) + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, val string) bool {
			var f fixes.Fix
			if json.Unmarshal([]byte(val), &f) == nil {
				out = append(out, &f)
			}
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}

// RecentFixesByAircraft implements spec.md §4.8 step 1's cold-start
// restoration: a single ascending pass over every stored fix, keeping the
// last perAircraft fixes seen per aircraft, then dropping any aircraft
// whose most recent fix is older than cutoff. fix:{aircraft}:{ts}:{id}
// keys group and time-order each aircraft's range together, so one
// AscendKeys pass suffices.
func (s *Store) RecentFixesByAircraft(cutoff time.Time, perAircraft int) (map[fixes.AircraftKey][]*fixes.Fix, error) {
	rings := make(map[fixes.AircraftKey][]*fixes.Fix)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("fix:*", func(_, val string) bool {
			var f fixes.Fix
			if json.Unmarshal([]byte(val), &f) != nil {
				return true
			}
			ring := append(rings[f.Aircraft], &f)
			if perAircraft > 0 && len(ring) > perAircraft {
				ring = ring[len(ring)-perAircraft:]
			}
			rings[f.Aircraft] = ring
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	for key, ring := range rings {
		if len(ring) == 0 || ring[len(ring)-1].Timestamp.Before(cutoff) {
			delete(rings, key)
		}
	}
	return rings, nil
}

// PutFlight upserts a Flight at flight:{aircraft_key}:{flight_id}.
func (s *Store) PutFlight(fl *flights.Flight) error {
	b, err := json.Marshal(fl)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("flight:%s:%s", aircraftKeyStr(fl.AircraftKey), fl.ID)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), nil)
		return err
	})
}

// FlightsForAircraft returns every stored flight for key.
func (s *Store) FlightsForAircraft(key fixes.AircraftKey) ([]*flights.Flight, error) {
	var out []*flights.Flight
	prefix := "flight:" + aircraftKeyStr(key) + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, val string) bool {
			var fl flights.Flight
			if json.Unmarshal([]byte(val), &fl) == nil {
				out = append(out, &fl)
			}
			return true
		})
	})
	return out, err
}

// FlightOpened, FlightUpdated, and FlightSealed implement
// internal/tracker.Sink, persisting every flight lifecycle transition
// (spec.md §4.8 "emit flight records"). internal/app composes Store with
// internal/eventstream.Broadcaster so both storage and WebSocket clients
// observe every transition.
func (s *Store) FlightOpened(f *flights.Flight) { s.putFlightSink(f) }
func (s *Store) FlightUpdated(f *flights.Flight) { s.putFlightSink(f) }
func (s *Store) FlightSealed(f *flights.Flight) { s.putFlightSink(f) }

func (s *Store) putFlightSink(f *flights.Flight) {
	if err := s.PutFlight(f); err != nil {
		telemetry.CountError("persist_error", "flight_sink")
	}
}

// RecordRawMessage implements the SPEC_FULL.md §4.7A idempotency boundary:
// a raw message is identified by its content hash; replaying an
// already-seen hash (e.g. after a crash between queue recv() and commit())
// returns the existing id and isNew=false rather than creating a duplicate
// row, so the caller can still commit() the queue entry.
func (s *Store) RecordRawMessage(hash string, newID uuid.UUID, now time.Time) (id uuid.UUID, isNew bool, err error) {
	key := "rawmsg:" + hash
	err = s.db.Update(func(tx *buntdb.Tx) error {
		existing, getErr := tx.Get(key)
		if getErr == nil {
			var rec rawMessageRecord
			if jsonErr := json.Unmarshal([]byte(existing), &rec); jsonErr == nil {
				id = rec.ID
				isNew = false
				return nil
			}
		}
		rec := rawMessageRecord{ID: newID, FirstSeen: now}
		b, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			return marshalErr
		}
		if _, _, setErr := tx.Set(key, string(b), nil); setErr != nil {
			return setErr
		}
		id = newID
		isNew = true
		return nil
	})
	return id, isNew, err
}

// GetOrCreateReceiver resolves a receiver callsign to its record, creating
// one on first sight (§4.4 step 3) and bumping last_seen otherwise.
func (s *Store) GetOrCreateReceiver(callsign string, seenAt time.Time) (*Receiver, error) {
	key := "receiver:" + callsign
	var rec Receiver
	err := s.db.Update(func(tx *buntdb.Tx) error {
		existing, getErr := tx.Get(key)
		if getErr == nil {
			if jsonErr := json.Unmarshal([]byte(existing), &rec); jsonErr == nil {
				rec.LastSeen = seenAt
			} else {
				rec = Receiver{ID: receiverID(callsign), Callsign: callsign, FirstSeen: seenAt, LastSeen: seenAt}
			}
		} else {
			rec = Receiver{ID: receiverID(callsign), Callsign: callsign, FirstSeen: seenAt, LastSeen: seenAt}
		}
		b, marshalErr := json.Marshal(rec)
		if marshalErr != nil {
			return marshalErr
		}
		_, _, setErr := tx.Set(key, string(b), nil)
		return setErr
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
