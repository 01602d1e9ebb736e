// Package beastdecode decodes Beast-framed Mode-S/ADS-B binary messages
// (spec.md §4.5) and accumulates per-ICAO position/velocity/identity state
// across DF17/18 downlinks, including CPR position resolution.
//
// Ported from OJPARKINSON-goviz1090/internal/adsb/decode.go's downlink
// dispatch, 6-bit callsign charset, Q-bit altitude decode, and velocity
// subtype decode, rewritten around this module's Fix-oriented accumulator
// instead of a renderer's per-aircraft trail.
package beastdecode

import (
	"fmt"
	"math"
)

// FrameType is the Beast type byte introducing each frame (§4.5, §6).
type FrameType byte

const (
	FrameModeAC     FrameType = 0x31
	FrameModeSShort FrameType = 0x32
	FrameModeSLong  FrameType = 0x33
	FrameSignalOnly FrameType = 0x34
)

// RawFrame is a de-escaped Beast frame split into its fixed fields
// (§4.5 step 1-2; §6 "Frame layout after 0x1A introducer").
type RawFrame struct {
	Type           FrameType
	TimestampTicks uint64 // 12 MHz receiver counter, 6 bytes
	SignalLevel    byte
	ModeS          []byte // raw Mode-S payload, 7 or 14 bytes depending on Type
}

// ParseFrame splits a de-escaped Beast frame (as produced by
// wireclient.BeastFramer) into its fields.
func ParseFrame(frame []byte) (RawFrame, error) {
	if len(frame) < 1+6+1 {
		return RawFrame{}, fmt.Errorf("beastdecode: frame too short (%d bytes)", len(frame))
	}
	var ts uint64
	for i := 0; i < 6; i++ {
		ts = (ts << 8) | uint64(frame[1+i])
	}
	return RawFrame{
		Type:           FrameType(frame[0]),
		TimestampTicks: ts,
		SignalLevel:    frame[7],
		ModeS:          frame[8:],
	}, nil
}

// DF returns the 5-bit downlink format from the first Mode-S byte.
func DF(modeS []byte) int {
	if len(modeS) == 0 {
		return -1
	}
	return int(modeS[0] >> 3)
}

// ICAO extracts the 24-bit ICAO address from a DF17/18 Mode-S payload
// (§4.5 step 3).
func ICAO(modeS []byte) uint32 {
	if len(modeS) < 4 {
		return 0
	}
	return uint32(modeS[1])<<16 | uint32(modeS[2])<<8 | uint32(modeS[3])
}

// ME returns the 7-byte message extension field (type code + payload)
// following the DF/CA byte and ICAO address.
func ME(modeS []byte) []byte {
	if len(modeS) < 11 {
		return nil
	}
	return modeS[4:11]
}

// TypeCode returns the 5-bit ADS-B type code from the first ME byte.
func TypeCode(me []byte) int {
	if len(me) == 0 {
		return -1
	}
	return int(me[0] >> 3)
}

const callsignCharset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"

// DecodeCallsign decodes an 8-character identification callsign from a
// TC 1-4 ME field (§4.5 step 4 "Identification").
func DecodeCallsign(me []byte) string {
	if len(me) < 7 {
		return ""
	}
	bits := make([]byte, 0, 8)
	// 6 bytes (me[1:7]) hold 8 six-bit characters = 48 bits.
	var acc uint64
	for _, b := range me[1:7] {
		acc = acc<<8 | uint64(b)
	}
	for i := 7; i >= 0; i-- {
		idx := (acc >> (uint(i) * 6)) & 0x3F
		bits = append(bits, callsignCharset[idx])
	}
	s := string(bits)
	return trimTrailingSpaces(s)
}

func trimTrailingSpaces(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '?') {
		end--
	}
	return s[:end]
}

// AltitudeResult is the decoded altitude and its vertical reference.
type AltitudeResult struct {
	Feet    int
	IsGNSS  bool // surface/airborne position TCs distinguish baro vs GNSS height
	Decoded bool
}

// DecodeAltitude decodes the 12-bit Q-bit-encoded altitude field carried
// by surface/airborne position ME fields (§4.5 step 4). Gillham-coded
// (non-Q-bit) altitudes are rare in modern ADS-B and are reported as not
// decoded rather than approximated.
func DecodeAltitude(me []byte) AltitudeResult {
	if len(me) < 3 {
		return AltitudeResult{}
	}
	qBit := me[1] & 0x01
	if qBit == 0 {
		return AltitudeResult{}
	}
	n := (int(me[1]>>1) << 4) | int((me[2]&0xF0)>>4)
	feet := n*25 - 1000
	return AltitudeResult{Feet: feet, Decoded: true}
}

// PositionME is a decoded (still CPR-encoded) surface/airborne position
// message (§4.5 step 4).
type PositionME struct {
	Odd      bool
	Surface  bool
	LatCPR   uint32
	LonCPR   uint32
	Altitude AltitudeResult
}

// DecodePosition extracts the CPR-encoded lat/lon and odd/even flag from a
// TC 5-8 (surface) or TC 9-18/20-22 (airborne) ME field.
func DecodePosition(tc int, me []byte) (PositionME, bool) {
	if len(me) < 7 {
		return PositionME{}, false
	}
	surface := tc >= 5 && tc <= 8
	airborne := (tc >= 9 && tc <= 18) || (tc >= 20 && tc <= 22)
	if !surface && !airborne {
		return PositionME{}, false
	}
	odd := me[2]&0x04 != 0
	latCPR := (uint32(me[2]&0x03) << 15) | (uint32(me[3]) << 7) | (uint32(me[4]) >> 1)
	lonCPR := (uint32(me[4]&0x01) << 16) | (uint32(me[5]) << 8) | uint32(me[6])

	alt := AltitudeResult{}
	if airborne {
		alt = DecodeAltitude(me)
	}
	return PositionME{Odd: odd, Surface: surface, LatCPR: latCPR, LonCPR: lonCPR, Altitude: alt}, true
}

// VelocityME is a decoded TC19 airborne velocity message (§4.5 step 4).
type VelocityME struct {
	GroundSpeedKt float64
	TrackDeg      float64
	VerticalFPM   float64
	Valid         bool
}

// DecodeVelocity decodes ground-referenced velocity subtypes 1 and 2
// (subsonic/supersonic), yielding ground speed, track, and vertical rate.
// Subtypes 3/4 (airspeed + heading) are not carried by this decoder: the
// fix model only wants ground-referenced velocity (§4.5 step 4).
func DecodeVelocity(me []byte) VelocityME {
	if len(me) < 7 {
		return VelocityME{}
	}
	subtype := me[0] & 0x07
	if subtype != 1 && subtype != 2 {
		return VelocityME{}
	}

	ewSign := 1.0
	if me[1]&0x04 != 0 {
		ewSign = -1.0
	}
	ewRaw := (int(me[1]&0x03) << 8) | int(me[2])
	ewVel := float64(ewRaw - 1)

	nsSign := 1.0
	if me[3]&0x80 != 0 {
		nsSign = -1.0
	}
	nsRaw := (int(me[3]&0x7F) << 3) | int(me[4]>>5)
	nsVel := float64(nsRaw - 1)

	if subtype == 2 {
		ewVel *= 4
		nsVel *= 4
	}

	ewVel *= ewSign
	nsVel *= nsSign

	speed := math.Hypot(ewVel, nsVel)
	track := math.Atan2(ewVel, nsVel) * 180 / math.Pi
	if track < 0 {
		track += 360
	}

	vertSign := 1.0
	if me[4]&0x08 != 0 {
		vertSign = -1.0
	}
	vertRaw := (int(me[4]&0x07) << 6) | int(me[5]>>2)
	vertical := float64(vertRaw-1) * 64 * vertSign

	return VelocityME{GroundSpeedKt: speed, TrackDeg: track, VerticalFPM: vertical, Valid: true}
}
