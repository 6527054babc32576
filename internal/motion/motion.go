// Package motion decides whether the rig has moved since the last baseline
// fix. The capture policy skips its tick entirely while the rig is judged
// stationary.
package motion

import (
	"math"
	"sync"

	"github.com/fieldscan/fieldscan/internal/gps"
)

// DefaultThresholdDegrees is the per-axis displacement, in decimal degrees,
// above which the rig counts as moving. Roughly 11 m of latitude.
const DefaultThresholdDegrees = 0.0001

// Filter is a stateful motion gate. It compares the current fix against a
// stored baseline in degree space per axis. The comparison is anisotropic:
// a longitude degree shrinks toward the poles, so the gate is looser in
// longitude at high latitudes. Threshold is configurable to compensate.
// Distance triggering proper uses HaversineMeters, not this gate.
type Filter struct {
	mu        sync.Mutex
	threshold float64
	baseline  *gps.Fix
}

// NewFilter builds a gate with the given threshold in degrees.
// Non-positive thresholds fall back to the default.
func NewFilter(thresholdDegrees float64) *Filter {
	if thresholdDegrees <= 0 {
		thresholdDegrees = DefaultThresholdDegrees
	}
	return &Filter{threshold: thresholdDegrees}
}

// Moving reports whether the rig has moved relative to the baseline and,
// only when it has, replaces the baseline with cur. A missing baseline or
// a missing current fix fails open: no position data never stalls capture.
// A stationary rig keeps its original baseline, so creep below the
// threshold still accumulates into motion eventually.
func (f *Filter) Moving(cur *gps.Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.baseline == nil || cur == nil {
		f.baseline = cur
		return true
	}
	moving := math.Abs(cur.Latitude-f.baseline.Latitude) > f.threshold ||
		math.Abs(cur.Longitude-f.baseline.Longitude) > f.threshold
	if moving {
		f.baseline = cur
	}
	return moving
}

// Reset clears the baseline. Called when the location source is toggled.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baseline = nil
}

// SetThreshold changes the per-axis threshold. Non-positive values fall
// back to the default, matching NewFilter.
func (f *Filter) SetThreshold(thresholdDegrees float64) {
	if thresholdDegrees <= 0 {
		thresholdDegrees = DefaultThresholdDegrees
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = thresholdDegrees
}

// Baseline returns the current baseline fix, nil when unset.
func (f *Filter) Baseline() *gps.Fix {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseline
}

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1R := lat1 * math.Pi / 180
	lat2R := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1R)*math.Cos(lat2R)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// FixDistanceMeters is HaversineMeters over two fixes.
func FixDistanceMeters(a, b *gps.Fix) float64 {
	return HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
