// Package cpr implements Compact Position Reporting decode/encode for
// Mode-S/ADS-B position frames (spec.md §4.5, Glossary "CPR").
//
// Ported from the NL-function/global-decode math in
// OJPARKINSON-goviz1090/internal/adsb/decode.go, generalized from that
// renderer's lookup-table NL function to the equivalent closed-form
// expression (both compute the same latitude-zone-count function; the
// closed form avoids transcribing a 59-row table by hand).
package cpr

import "math"

// CprMax is 2^17, the resolution of one CPR-encoded coordinate.
const CprMax = 131072.0

// nzones is the number of latitude zones between equator and pole used by
// the ADS-B CPR scheme (a fixed protocol constant, not configurable).
const nzones = 15

func cprMod(a, b float64) float64 {
	res := math.Mod(a, b)
	if res < 0 {
		res += b
	}
	return res
}

// nlFunction computes NL(lat): the number of longitude zones at the given
// latitude. This is the closed-form equivalent of the NL lookup table.
func nlFunction(lat float64) int {
	if lat == 0 {
		return 59
	}
	if lat >= 87 || lat <= -87 {
		return 1
	}
	cosLat := math.Cos(math.Abs(lat) * math.Pi / 180)
	if cosLat == 0 {
		return 1
	}
	arg := 1 - (1-math.Cos(math.Pi/(2*nzones)))/(cosLat*cosLat)
	if arg < -1 {
		return 1
	}
	if arg > 1 {
		return 59
	}
	nl := int(math.Floor(2 * math.Pi / math.Acos(arg)))
	if nl < 1 {
		nl = 1
	}
	return nl
}

func nFunction(lat float64, odd bool) int {
	n := nlFunction(lat)
	if odd {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Frame is one CPR-encoded position report.
type Frame struct {
	LatCPR uint32 // 17-bit
	LonCPR uint32 // 17-bit
}

// DecodeGlobal decodes an even/odd CPR frame pair into an unambiguous
// lat/lon (spec.md §4.5 step 5, "Global decode"). zoneSpan is 360 for
// airborne position and 90 for surface position (§4.5 "Surface CPR uses a
// 90° latitude zone instead of 360°"). newestOdd selects which frame's
// latitude is reported as the decoded position, matching the convention
// that the newer frame of the pair determines the result.
func DecodeGlobal(even, odd Frame, zoneSpan float64, newestOdd bool) (lat, lon float64, ok bool) {
	dlat0 := zoneSpan / 60.0
	dlat1 := zoneSpan / 59.0

	latE := float64(even.LatCPR) / CprMax
	latO := float64(odd.LatCPR) / CprMax
	lonE := float64(even.LonCPR) / CprMax
	lonO := float64(odd.LonCPR) / CprMax

	j := math.Floor(59*latE - 60*latO + 0.5)

	rlat0 := dlat0 * (cprMod(j, 60) + latE)
	rlat1 := dlat1 * (cprMod(j, 59) + latO)
	if rlat0 >= 270 {
		rlat0 -= 360
	}
	if rlat1 >= 270 {
		rlat1 -= 360
	}

	if nlFunction(rlat0) != nlFunction(rlat1) {
		// Frames straddle a latitude zone boundary: ambiguous, try again
		// once a fresh pair arrives (§4.5 step 5).
		return 0, 0, false
	}

	var decodedLat, lonVal float64
	if newestOdd {
		nl := nlFunction(rlat1)
		ni := nl - 1
		if ni < 1 {
			ni = 1
		}
		m := math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5)
		lonVal = (zoneSpan / float64(ni)) * (cprMod(m, float64(ni)) + lonO)
		decodedLat = rlat1
	} else {
		nl := nlFunction(rlat0)
		ni := nl
		if ni < 1 {
			ni = 1
		}
		m := math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5)
		lonVal = (zoneSpan / float64(ni)) * (cprMod(m, float64(ni)) + lonE)
		decodedLat = rlat0
	}
	if lonVal > 180 {
		lonVal -= 360
	}
	return decodedLat, lonVal, true
}

// DecodeLocal disambiguates a single CPR frame using a nearby reference
// position (§4.5 step 5, "Local decode fallback"). zoneSpan is 360 for
// airborne, 90 for surface.
func DecodeLocal(f Frame, odd bool, refLat, refLon, zoneSpan float64) (lat, lon float64) {
	dlat := zoneSpan / float64(60-boolToInt(odd))
	latFrac := float64(f.LatCPR) / CprMax

	j := math.Floor(refLat/dlat) + math.Floor(0.5+cprMod(refLat, dlat)/dlat-latFrac)
	lat = dlat * (j + latFrac)

	ni := nFunction(lat, odd)
	dlon := zoneSpan / float64(ni)
	lonFrac := float64(f.LonCPR) / CprMax

	m := math.Floor(refLon/dlon) + math.Floor(0.5+cprMod(refLon, dlon)/dlon-lonFrac)
	lon = dlon * (m + lonFrac)

	return lat, lon
}

// Encode produces the 17-bit CPR representation of (lat, lon) for the
// given parity, the inverse of DecodeGlobal/DecodeLocal. Used by tests
// (the "CPR round-trip" property, spec.md §8) and available to any future
// encoder-side tooling.
func Encode(lat, lon float64, odd bool, zoneSpan float64) Frame {
	dlat := zoneSpan / float64(60-boolToInt(odd))
	ylat := math.Floor(CprMax*(cprMod(lat, dlat)/dlat) + 0.5)
	latCPR := uint32(int64(ylat)) & 0x1FFFF

	ni := nFunction(lat, odd)
	dlon := zoneSpan / float64(ni)
	xlon := math.Floor(CprMax*(cprMod(lon, dlon)/dlon) + 0.5)
	lonCPR := uint32(int64(xlon)) & 0x1FFFF

	return Frame{LatCPR: latCPR, LonCPR: lonCPR}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// HaversineKm returns great-circle distance in kilometers, used for the
// reasonableness check (§4.5 step 5: "decoded position must be within 600
// km of last known or discarded") and the local-decode reference-distance
// bounds (180 NM airborne, 45 NM surface).
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
