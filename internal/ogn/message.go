package ogn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PacketType distinguishes the APRS frame kinds spec.md §4.4 step 1
// recognizes.
type PacketType string

const (
	PacketPosition       PacketType = "position"
	PacketStatus         PacketType = "status"
	PacketServerHeartbeat PacketType = "server_heartbeat"
	PacketReceiverBeacon PacketType = "receiver_beacon"
	PacketReceiverStatus PacketType = "receiver_status"
	PacketUnknown        PacketType = "unknown"
)

// Message is one parsed APRS line (spec.md §4.4).
type Message struct {
	RawHash        string // sha256 hex of the trimmed raw line, for dedup (§"Raw message content-hash dedup")
	SourceCallsign string
	ReceiverCallsign string // resolved from the q-construct tail (§4.4 step 3)
	Type           PacketType

	// Position fields, populated when Type == PacketPosition.
	Lat, Lon  float64
	HasPos    bool
	TrackDeg  float64
	SpeedKt   float64
	AltitudeFt int
	SymbolTable byte
	SymbolCode  byte

	// OGN comment-extension fields (§4.4 step 2).
	Address     uint32
	AddressType string
	ClimbFpm    float64
	TurnRot     float64
	SignalDB    float64
	FreqOffsetKHz float64
	GPSFixQuality string
	HasIDField  bool
}

var qConstructRe = regexp.MustCompile(`,q[A-Za-z]{2},([^,:]+)`)

// ParseLine parses one trimmed APRS line into a Message. Non-position
// frames (status, heartbeat, receiver status) are returned with Type set
// and position fields left zero; callers that only want positions should
// check Type == PacketPosition. No line is classified as
// PacketReceiverBeacon: a receiver's position beacon parses as
// PacketPosition.
func ParseLine(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, fmt.Errorf("ogn: empty line")
	}
	sum := sha256.Sum256([]byte(line))
	msg := Message{RawHash: hex.EncodeToString(sum[:])}

	if strings.HasPrefix(line, "#") {
		msg.Type = PacketServerHeartbeat
		return msg, nil
	}

	sepIdx := strings.Index(line, ">")
	colonIdx := strings.Index(line, ":")
	if sepIdx < 0 || colonIdx < 0 || colonIdx < sepIdx {
		return Message{}, fmt.Errorf("ogn: malformed APRS frame (missing '>' or ':')")
	}
	msg.SourceCallsign = line[:sepIdx]
	path := line[sepIdx+1 : colonIdx]
	payload := line[colonIdx+1:]

	if m := qConstructRe.FindStringSubmatch("," + path); len(m) == 2 {
		msg.ReceiverCallsign = m[1]
	}

	if payload == "" {
		msg.Type = PacketUnknown
		return msg, nil
	}

	switch payload[0] {
	case '/', '=', '!', '@':
		parsePosition(&msg, payload)
	case '>':
		msg.Type = PacketStatus
	default:
		if strings.Contains(path, "TCPIP") && strings.HasSuffix(msg.SourceCallsign, "-1") {
			// Receiver status frames identify themselves with a
			// "-1" SSID through a direct TCPIP path rather than a
			// digipeated q-construct.
			msg.Type = PacketReceiverStatus
		} else {
			msg.Type = PacketUnknown
		}
	}

	return msg, nil
}

// positionRe matches the fixed-width compressed-free position syntax
// spec.md §4.4's example line uses:
// <time>h<lat>N/S<table><lon>E/W<code>[<course>/<speed>][/A=<altitude>]
var positionRe = regexp.MustCompile(
	`^.(\d{6})h(\d{2})(\d{2}\.\d+)([NS])(.)(\d{3})(\d{2}\.\d+)([EW])(.)(?:(\d{3})/(\d{3}))?(?:/A=(-?\d+))?`,
)

func parsePosition(msg *Message, payload string) {
	m := positionRe.FindStringSubmatch(payload)
	if m == nil {
		msg.Type = PacketUnknown
		return
	}
	msg.Type = PacketPosition

	latDeg, _ := strconv.Atoi(m[2])
	latMin, _ := strconv.ParseFloat(m[3], 64)
	lat := float64(latDeg) + latMin/60
	if m[4] == "S" {
		lat = -lat
	}

	lonDeg, _ := strconv.Atoi(m[6])
	lonMin, _ := strconv.ParseFloat(m[7], 64)
	lon := float64(lonDeg) + lonMin/60
	if m[8] == "W" {
		lon = -lon
	}

	msg.Lat, msg.Lon, msg.HasPos = lat, lon, true
	msg.SymbolTable = m[5][0]
	msg.SymbolCode = m[9][0]

	if m[10] != "" && m[11] != "" {
		course, _ := strconv.Atoi(m[10])
		speed, _ := strconv.Atoi(m[11])
		msg.TrackDeg = float64(course)
		msg.SpeedKt = float64(speed)
	}
	if m[12] != "" {
		alt, _ := strconv.Atoi(m[12])
		msg.AltitudeFt = alt
	}

	parseComment(msg, payload[len(m[0]):])
}

var (
	idFieldRe    = regexp.MustCompile(`\bid([0-9A-Fa-f]{2})([0-9A-Fa-f]{6})\b`)
	climbRe      = regexp.MustCompile(`([+-]\d+)fpm`)
	turnRe       = regexp.MustCompile(`([+-]\d+(?:\.\d+)?)rot`)
	signalRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)dB`)
	freqOffsetRe = regexp.MustCompile(`([+-]\d+(?:\.\d+)?)kHz`)
	gpsFixRe     = regexp.MustCompile(`gps(\d+x\d+)`)
)

// parseComment extracts the OGN-specific comment fields from the tail of
// an APRS position report (spec.md §4.4 step 2): "id3ADDA5BA -039fpm
// +0.0rot 19.5dB 0e -6.6kHz gps1x1".
func parseComment(msg *Message, comment string) {
	if m := idFieldRe.FindStringSubmatch(comment); len(m) == 3 {
		flags, _ := strconv.ParseUint(m[1], 16, 8)
		addr, _ := strconv.ParseUint(m[2], 16, 32)
		msg.Address = uint32(addr)
		msg.AddressType = addressTypeFromFlags(byte(flags))
		msg.HasIDField = true
	}
	if m := climbRe.FindStringSubmatch(comment); len(m) == 2 {
		v, _ := strconv.Atoi(m[1])
		msg.ClimbFpm = float64(v)
	}
	if m := turnRe.FindStringSubmatch(comment); len(m) == 2 {
		v, _ := strconv.ParseFloat(m[1], 64)
		msg.TurnRot = v
	}
	if m := signalRe.FindStringSubmatch(comment); len(m) == 2 {
		v, _ := strconv.ParseFloat(m[1], 64)
		msg.SignalDB = v
	}
	if m := freqOffsetRe.FindStringSubmatch(comment); len(m) == 2 {
		v, _ := strconv.ParseFloat(m[1], 64)
		msg.FreqOffsetKHz = v
	}
	if m := gpsFixRe.FindStringSubmatch(comment); len(m) == 2 {
		msg.GPSFixQuality = m[1]
	}
}

// ReceiveTimeFromZulu combines an APRS "HHMMSSh" timestamp with the
// envelope's receive date, handling the UTC-midnight rollover spec.md is
// silent on: if the parsed time-of-day is more than 12h ahead of the
// receive time, the message is assumed to describe "yesterday" in UTC.
func ReceiveTimeFromZulu(hhmmss string, receiveTime time.Time) (time.Time, error) {
	if len(hhmmss) != 6 {
		return time.Time{}, fmt.Errorf("ogn: bad time-of-day %q", hhmmss)
	}
	h, err1 := strconv.Atoi(hhmmss[0:2])
	mi, err2 := strconv.Atoi(hhmmss[2:4])
	s, err3 := strconv.Atoi(hhmmss[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("ogn: bad time-of-day %q", hhmmss)
	}
	utc := receiveTime.UTC()
	candidate := time.Date(utc.Year(), utc.Month(), utc.Day(), h, mi, s, 0, time.UTC)
	if candidate.Sub(utc) > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, -1)
	} else if utc.Sub(candidate) > 12*time.Hour {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}
