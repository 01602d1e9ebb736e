package beastdecode

import (
	"testing"
	"time"

	"github.com/hut8/soar-ingest/internal/cpr"
)

// encodePositionME packs a TC 9-18 airborne position ME field from CPR
// lat/lon and a Q-bit altitude, inverting DecodePosition/DecodeAltitude's
// bit layout for test fixtures.
func encodePositionME(tc int, f cpr.Frame, odd bool, altFeet int) []byte {
	me := make([]byte, 7)
	me[0] = byte(tc << 3)

	n := (altFeet + 1000) / 25
	me[1] = byte((n>>4)<<1) | 0x01 // Q-bit set

	oddBit := byte(0)
	if odd {
		oddBit = 0x04
	}
	me[2] = byte((n&0xF)<<4) | oddBit | byte((f.LatCPR>>15)&0x03)
	me[3] = byte((f.LatCPR >> 7) & 0xFF)
	me[4] = byte((f.LatCPR&0x7F)<<1) | byte((f.LonCPR>>16)&0x01)
	me[5] = byte((f.LonCPR >> 8) & 0xFF)
	me[6] = byte(f.LonCPR & 0xFF)
	return me
}

// encodeBeastFrame builds a DF17 Mode-S-long Beast frame around the given
// ME field for a fixed test ICAO.
func encodeBeastFrame(icao uint32, me []byte) []byte {
	modeS := make([]byte, 11)
	modeS[0] = 17 << 3 // DF17, CA=0
	modeS[1] = byte(icao >> 16)
	modeS[2] = byte(icao >> 8)
	modeS[3] = byte(icao)
	copy(modeS[4:11], me)

	frame := make([]byte, 1+6+1+11)
	frame[0] = byte(FrameModeSLong)
	frame[7] = 0x7F
	copy(frame[8:], modeS)
	return frame
}

func TestDecodeBeastPositionPairYieldsFix(t *testing.T) {
	d := NewDecoder(5 * time.Minute)

	lat, lon := 45.5, 9.1
	now := time.Unix(1_700_000_000, 0)

	evenFrame := cpr.Encode(lat, lon, false, 360)
	oddFrame := cpr.Encode(lat, lon, true, 360)

	f1, err := d.Decode(encodeBeastFrame(0xABCDEF, encodePositionME(11, evenFrame, false, 5500)), now)
	if err != nil {
		t.Fatalf("decode even frame: %v", err)
	}
	if f1 != nil {
		t.Fatalf("expected no fix from a single unpaired frame, got %+v", f1)
	}

	f2, err := d.Decode(encodeBeastFrame(0xABCDEF, encodePositionME(11, oddFrame, true, 5500)), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("decode odd frame: %v", err)
	}
	if f2 == nil {
		t.Fatal("expected a resolved fix once the pair completes")
	}
	if f2.Aircraft.Address != 0xABCDEF || f2.Aircraft.Type != 1 {
		t.Fatalf("aircraft key: got %+v", f2.Aircraft)
	}
	if d := cpr.HaversineKm(lat, lon, f2.Lat, f2.Lon); d > 1 {
		t.Fatalf("decoded position too far from input: %f km (got %f,%f)", d, f2.Lat, f2.Lon)
	}
	if f2.AltitudeMSLFeet == nil || *f2.AltitudeMSLFeet != 5500 {
		t.Fatalf("altitude: got %v", f2.AltitudeMSLFeet)
	}
}

func TestDecodeVelocityOnlyYieldsNoFixWithoutPriorPosition(t *testing.T) {
	d := NewDecoder(5 * time.Minute)
	me := make([]byte, 7)
	me[0] = byte(19 << 3) // TC19
	me[0] |= 0x01         // subtype 1
	frame := encodeBeastFrame(0x112233, me)

	f, err := d.Decode(frame, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil fix for velocity-only arrival with no known position, got %+v", f)
	}
}

func TestDecodeNonDF17FrameIgnored(t *testing.T) {
	d := NewDecoder(5 * time.Minute)
	modeS := make([]byte, 11)
	modeS[0] = 4 << 3 // DF4, not an extended squitter
	frame := make([]byte, 1+6+1+11)
	frame[0] = byte(FrameModeSLong)
	copy(frame[8:], modeS)

	f, err := d.Decode(frame, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil fix for non-DF17/18 frame, got %+v", f)
	}
}

func TestDecodeModeACFrameIgnored(t *testing.T) {
	d := NewDecoder(5 * time.Minute)
	frame := make([]byte, 1+6+1+2)
	frame[0] = byte(FrameModeAC)

	f, err := d.Decode(frame, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil fix for Mode A/C frame, got %+v", f)
	}
}
