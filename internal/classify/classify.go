// Package classify maps assessment values onto display bands.
//
// Every function is total: input that cannot be classified yields ok=false
// rather than an error, so the caller simply renders no badge.
package classify

import (
	"math"
	"strconv"
	"strings"
)

// Band is the severity band of a safety score.
type Band int

const (
	BandLow Band = iota + 1
	BandMedium
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandHigh:
		return "high"
	case BandMedium:
		return "medium"
	case BandLow:
		return "low"
	}
	return "unknown"
}

// Color is the colour the map view uses for the band.
func (b Band) Color() string {
	switch b {
	case BandHigh:
		return "green"
	case BandMedium:
		return "amber"
	case BandLow:
		return "red"
	}
	return ""
}

// Score bands a safety score: >=80 high, >=50 medium, otherwise low.
func Score(score float64) (Band, bool) {
	switch {
	case math.IsNaN(score):
		return 0, false
	case score >= 80:
		return BandHigh, true
	case score >= 50:
		return BandMedium, true
	default:
		return BandLow, true
	}
}

// ParseScore is Score for textual input.
func ParseScore(s string) (Band, bool) {
	v, ok := parseNumber(s)
	if !ok {
		return 0, false
	}
	return Score(v)
}

// Advisory is the recommended action for a magnitude survivability value.
type Advisory int

const (
	AdvisoryEvacuate Advisory = iota + 1
	AdvisoryCaution
	AdvisorySafe
)

func (a Advisory) String() string {
	switch a {
	case AdvisoryEvacuate:
		return "evacuate"
	case AdvisoryCaution:
		return "caution"
	case AdvisorySafe:
		return "safe"
	}
	return "unknown"
}

// Color is the colour the map view uses for the advisory.
func (a Advisory) Color() string {
	switch a {
	case AdvisoryEvacuate:
		return "red"
	case AdvisoryCaution:
		return "amber"
	case AdvisorySafe:
		return "green"
	}
	return ""
}

// Magnitude maps a survivability magnitude to an advisory: below 6.0
// evacuate, below 7.0 caution, otherwise safe.
func Magnitude(m float64) (Advisory, bool) {
	switch {
	case math.IsNaN(m):
		return 0, false
	case m >= 7.0:
		return AdvisorySafe, true
	case m >= 6.0:
		return AdvisoryCaution, true
	default:
		return AdvisoryEvacuate, true
	}
}

// ParseAdvisory is Magnitude for the textual survivability label stored with
// an assessment ("6.5", "unknown", "").
func ParseAdvisory(label string) (Advisory, bool) {
	v, ok := parseNumber(label)
	if !ok {
		return 0, false
	}
	return Magnitude(v)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
