package sbs

import (
	"strconv"
	"time"

	"github.com/hut8/soar-ingest/internal/fixes"
)

// Decode converts a parsed Message into a Fix, applying the "no useful
// fields" gate from original_source/src/sbs/sbs_to_fix.rs: a message with
// no position, altitude, velocity, or identification data produces no Fix.
func Decode(m Message, receiveTime time.Time) (*fixes.Fix, error) {
	hasPosition := m.HasPosition()
	hasAltitude := m.AltitudeFt != nil
	hasVelocity := m.GroundSpeedKt != nil || m.TrackDeg != nil || m.VerticalRateFPM != nil
	hasIdentification := m.Callsign != nil || m.Squawk != nil

	if !hasPosition && !hasAltitude && !hasVelocity && !hasIdentification {
		return nil, nil
	}

	icao, err := m.ICAOAddress()
	if err != nil {
		return nil, err
	}

	f := &fixes.Fix{
		ID:         fixes.NewID(),
		Aircraft:   fixes.AircraftKey{Address: icao, Type: fixes.AddressICAO},
		Timestamp:  receiveTime,
		Source:     "ADSB",
		ReceivedAt: receiveTime,
		SourceMetadata: map[string]string{
			"sbs_message_type": sbsTypeName(m.Type),
			"active":           strconv.FormatBool(isActive(m)),
		},
	}

	if m.Lat != nil {
		f.Lat = *m.Lat
	}
	if m.Lon != nil {
		f.Lon = *m.Lon
	}
	if m.AltitudeFt != nil {
		alt := float64(*m.AltitudeFt)
		f.AltitudeMSLFeet = &alt
	}
	f.GroundSpeedKt = m.GroundSpeedKt
	f.TrackDeg = m.TrackDeg
	if m.VerticalRateFPM != nil {
		climb := float64(*m.VerticalRateFPM)
		f.ClimbFPM = &climb
	}
	f.Callsign = m.Callsign
	f.Squawk = m.Squawk

	return f, nil
}

// isActive implements §4.6's "Active" flag: ground-speed at or above 20 kt
// or altitude above 1000 ft.
func isActive(m Message) bool {
	if m.GroundSpeedKt != nil && *m.GroundSpeedKt >= 20 {
		return true
	}
	if m.AltitudeFt != nil && *m.AltitudeFt > 1000 {
		return true
	}
	return false
}

func sbsTypeName(t MessageType) string {
	switch t {
	case TypeIdentification:
		return "Identification"
	case TypeSurfacePosition:
		return "SurfacePosition"
	case TypeAirbornePosition:
		return "AirbornePosition"
	case TypeAirborneVelocity:
		return "AirborneVelocity"
	case TypeSurveillanceAlt:
		return "SurveillanceAlt"
	case TypeSurveillanceID:
		return "SurveillanceId"
	case TypeAirToAir:
		return "AirToAir"
	case TypeAllCall:
		return "AllCall"
	default:
		return "Unknown"
	}
}
