package ogn

import (
	"sync"
	"time"

	"github.com/hut8/soar-ingest/internal/fixes"
)

// Metrics receives suppression/drop counters (spec.md §4.4 "Suppression
// filters").
type Metrics interface {
	IncSuppressed(kind string)
	IncDropped(reason string)
}

type noopMetrics struct{}

func (noopMetrics) IncSuppressed(string) {}
func (noopMetrics) IncDropped(string)    {}

// Decoder turns OGN/APRS envelopes into fixes.Fix records, applying the
// per-packet-type and per-category suppression filters from spec.md §4.4.
// The suppression lists are guarded by mu so /admin/suppress can replace
// them at runtime while worker goroutines are decoding concurrently.
type Decoder struct {
	mu                   sync.RWMutex
	SuppressedTypes      map[PacketType]bool
	SuppressedCategories map[Category]bool
	Metrics              Metrics
}

// NewDecoder builds a Decoder from the configured suppression lists
// (§4.4 "the worker accepts two configuration lists").
func NewDecoder(suppressedTypes []string, suppressedCategories []string) *Decoder {
	d := &Decoder{
		SuppressedTypes:      make(map[PacketType]bool),
		SuppressedCategories: make(map[Category]bool),
		Metrics:              noopMetrics{},
	}
	for _, t := range suppressedTypes {
		d.SuppressedTypes[PacketType(t)] = true
	}
	for _, c := range suppressedCategories {
		d.SuppressedCategories[Category(c)] = true
	}
	return d
}

// SuppressionConfig returns the currently configured suppression lists, for
// the admin API's GET /admin/suppress.
func (d *Decoder) SuppressionConfig() (types []string, categories []string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for t := range d.SuppressedTypes {
		types = append(types, string(t))
	}
	for c := range d.SuppressedCategories {
		categories = append(categories, string(c))
	}
	return types, categories
}

// SetSuppressionConfig replaces the suppression lists wholesale, for the
// admin API's POST /admin/suppress (spec.md §6's "suppress_aprs_types" /
// "skip_ogn_aircraft_types" reconfigurable at runtime).
func (d *Decoder) SetSuppressionConfig(types []string, categories []string) {
	newTypes := make(map[PacketType]bool, len(types))
	for _, t := range types {
		newTypes[PacketType(t)] = true
	}
	newCategories := make(map[Category]bool, len(categories))
	for _, c := range categories {
		newCategories[Category(c)] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SuppressedTypes = newTypes
	d.SuppressedCategories = newCategories
}

// Decode parses one raw APRS line and, if it is a valid, non-suppressed
// position report, returns the Fix it describes. A nil Fix with nil error
// means the line was recognized but intentionally dropped (suppressed
// type/category, or a non-position frame).
func (d *Decoder) Decode(line string, receiveTime time.Time) (*fixes.Fix, error) {
	msg, err := ParseLine(line)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	suppressedType := d.SuppressedTypes[msg.Type]
	d.mu.RUnlock()
	if suppressedType {
		d.Metrics.IncSuppressed("packet_type")
		return nil, nil
	}
	if msg.Type != PacketPosition {
		return nil, nil
	}
	if !msg.HasPos {
		d.Metrics.IncDropped("no_position")
		return nil, nil
	}

	category := ClassifySymbol(msg.SymbolTable, msg.SymbolCode)
	d.mu.RLock()
	suppressedCategory := d.SuppressedCategories[category]
	d.mu.RUnlock()
	if suppressedCategory {
		d.Metrics.IncSuppressed("category")
		return nil, nil
	}

	var addrType fixes.AddressType
	switch msg.AddressType {
	case "ICAO":
		addrType = fixes.AddressICAO
	case "OGN_FLARM":
		addrType = fixes.AddressOGNFlarm
	case "OGN_TRACKER":
		addrType = fixes.AddressOGNTracker
	default:
		addrType = fixes.AddressUnknown
	}

	f := &fixes.Fix{
		ID:         fixes.NewID(),
		Aircraft:   fixes.AircraftKey{Address: msg.Address, Type: addrType},
		Timestamp:  receiveTime,
		Lat:        msg.Lat,
		Lon:        msg.Lon,
		Source:     "OGN",
		ReceivedAt: receiveTime,
		SourceMetadata: map[string]string{
			"receiver_callsign": msg.ReceiverCallsign,
			"category":          string(category),
			"gps_fix_quality":   msg.GPSFixQuality,
		},
	}

	if msg.AltitudeFt != 0 {
		alt := float64(msg.AltitudeFt)
		f.AltitudeMSLFeet = &alt
	}
	if msg.SpeedKt != 0 {
		speed := msg.SpeedKt
		f.GroundSpeedKt = &speed
	}
	if msg.TrackDeg != 0 {
		track := msg.TrackDeg
		f.TrackDeg = &track
	}
	if msg.ClimbFpm != 0 {
		climb := msg.ClimbFpm
		f.ClimbFPM = &climb
	}
	if msg.TurnRot != 0 {
		turn := msg.TurnRot
		f.TurnRate = &turn
	}

	return f, nil
}
