// Package sbs decodes the BaseStation CSV feed (spec.md §4.6), a 22-field
// "MSG,*" line format. Ported field-for-field from
// original_source/src/sbs/parser.rs's parse_sbs_message, which documents
// the exact field layout this package preserves.
package sbs

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType is the SBS MSG,<type> discriminator (1-8).
type MessageType int

const (
	TypeIdentification   MessageType = 1
	TypeSurfacePosition  MessageType = 2
	TypeAirbornePosition MessageType = 3
	TypeAirborneVelocity MessageType = 4
	TypeSurveillanceAlt  MessageType = 5
	TypeSurveillanceID   MessageType = 6
	TypeAirToAir         MessageType = 7
	TypeAllCall          MessageType = 8
)

// Message is one parsed BaseStation CSV line (§4.6). Optional fields use
// pointers so "absent" is distinguishable from the zero value.
type Message struct {
	Type           MessageType
	AircraftHex    string // hex ICAO address, e.g. "4BB268"
	Callsign       *string
	AltitudeFt     *int
	GroundSpeedKt  *float64
	TrackDeg       *float64
	Lat            *float64
	Lon            *float64
	VerticalRateFPM *int
	Squawk         *string
	OnGround       *bool
	RawLine        string
}

// ICAOAddress parses AircraftHex as a 24-bit hex integer.
func (m Message) ICAOAddress() (uint32, error) {
	v, err := strconv.ParseUint(m.AircraftHex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("sbs: invalid ICAO hex %q: %w", m.AircraftHex, err)
	}
	return uint32(v), nil
}

// HasPosition reports whether both latitude and longitude are present.
func (m Message) HasPosition() bool {
	return m.Lat != nil && m.Lon != nil
}

// ParseLine parses one "MSG,..." CSV line into a Message.
//
// Layout (0-indexed): 0=MSG, 1=type, 2=transmission_type, 3=session_id,
// 4=aircraft_id, 5=is_military, 6-9=date/time (ignored, envelope carries
// receive time), 10=callsign, 11=altitude, 12=ground_speed, 13=track,
// 14=latitude, 15=longitude, 16=vertical_rate, 17=squawk, 18=alert,
// 19=emergency, 20=spi, 21=on_ground.
func ParseLine(line string) (Message, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 5 {
		return Message{}, fmt.Errorf("sbs: message too short: %d fields", len(fields))
	}
	if fields[0] != "MSG" {
		return Message{}, fmt.Errorf("sbs: expected MSG prefix, got %q", fields[0])
	}

	typeNum, err := strconv.Atoi(fields[1])
	if err != nil {
		return Message{}, fmt.Errorf("sbs: invalid message type %q: %w", fields[1], err)
	}
	msgType := MessageType(typeNum)
	if msgType < TypeIdentification || msgType > TypeAllCall {
		return Message{}, fmt.Errorf("sbs: unknown message type %d", typeNum)
	}

	aircraftID := field(fields, 4)
	if aircraftID == "" {
		return Message{}, fmt.Errorf("sbs: aircraft id is required")
	}

	m := Message{Type: msgType, AircraftHex: aircraftID, RawLine: line}
	m.Callsign = optString(field(fields, 10))
	m.AltitudeFt = optInt(field(fields, 11))
	m.GroundSpeedKt = optFloat(field(fields, 12))
	m.TrackDeg = optFloat(field(fields, 13))
	m.Lat = optFloat(field(fields, 14))
	m.Lon = optFloat(field(fields, 15))
	m.VerticalRateFPM = optInt(field(fields, 16))
	m.Squawk = optString(field(fields, 17))
	m.OnGround = optBool(field(fields, 21))

	return m, nil
}

func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func optFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func optBool(s string) *bool {
	switch s {
	case "0", "-1":
		v := false
		return &v
	case "1":
		v := true
		return &v
	default:
		return nil
	}
}
