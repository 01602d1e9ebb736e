package ogn

import (
	"testing"
	"time"
)

const samplePositionLine = "FLRDDA5BA>APRS,qAS,LFNM:/120000h4821.86N/00531.07E'086/007/A=000607 id3ADDA5BA -039fpm +0.0rot 19.5dB 0e -6.6kHz gps1x1"

func TestDecoderBuildsFix(t *testing.T) {
	d := NewDecoder(nil, nil)
	f, err := d.Decode(samplePositionLine, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil {
		t.Fatal("expected a fix")
	}
	if f.Source != "OGN" {
		t.Fatalf("source: got %q", f.Source)
	}
	if f.AltitudeMSLFeet == nil || *f.AltitudeMSLFeet != 607 {
		t.Fatalf("altitude: got %v", f.AltitudeMSLFeet)
	}
}

func TestDecoderSuppressesByCategory(t *testing.T) {
	d := NewDecoder(nil, []string{string(CategoryPowered)})
	// Symbol code "'" classifies as CategoryPowered on the primary table.
	f, err := d.Decode(samplePositionLine, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected suppressed fix to be nil, got %+v", f)
	}
}

func TestDecoderSuppressesByPacketType(t *testing.T) {
	d := NewDecoder([]string{string(PacketPosition)}, nil)
	f, err := d.Decode(samplePositionLine, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected suppressed fix to be nil, got %+v", f)
	}
}

func TestDecoderNonPositionReturnsNilFixNoError(t *testing.T) {
	d := NewDecoder(nil, nil)
	f, err := d.Decode("# aprsc 2.1.19-g730c5c3", time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil fix for heartbeat, got %+v", f)
	}
}

func TestSetSuppressionConfigTakesEffectImmediately(t *testing.T) {
	d := NewDecoder(nil, nil)
	f, err := d.Decode(samplePositionLine, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil {
		t.Fatal("expected a fix before suppression is configured")
	}

	d.SetSuppressionConfig([]string{string(PacketPosition)}, nil)

	f2, err := d.Decode(samplePositionLine, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f2 != nil {
		t.Fatalf("expected fix to be suppressed after reconfiguration, got %+v", f2)
	}

	types, _ := d.SuppressionConfig()
	if len(types) != 1 || types[0] != string(PacketPosition) {
		t.Fatalf("SuppressionConfig: got %v", types)
	}
}
