package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldscan/fieldscan/internal/gps"
)

func fix(lat, lon float64) *gps.Fix {
	return &gps.Fix{Latitude: lat, Longitude: lon}
}

func TestMovingFailsOpenWithoutBaseline(t *testing.T) {
	f := NewFilter(0.0001)

	assert.True(t, f.Moving(fix(48.1, 11.5)))
	require.NotNil(t, f.Baseline())
}

func TestMovingFailsOpenWithoutCurrentFix(t *testing.T) {
	f := NewFilter(0.0001)
	f.Moving(fix(48.1, 11.5))

	assert.True(t, f.Moving(nil))
}

func TestMovingPerAxis(t *testing.T) {
	cases := []struct {
		name   string
		dLat   float64
		dLon   float64
		moving bool
	}{
		{"still", 0, 0, false},
		{"latitude above threshold", 0.0002, 0, true},
		{"longitude above threshold", 0, 0.0002, true},
		{"both below threshold", 0.00005, 0.00005, false},
		{"negative displacement", -0.0002, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFilter(0.0001)
			f.Moving(fix(48.1, 11.5))

			got := f.Moving(fix(48.1+tc.dLat, 11.5+tc.dLon))

			assert.Equal(t, tc.moving, got)
		})
	}
}

func TestMovingThresholdIsExclusive(t *testing.T) {
	// 0.5 is exactly representable, so the boundary compare is exact
	f := NewFilter(0.5)
	f.Moving(fix(10, 10))

	assert.False(t, f.Moving(fix(10.5, 10)))
	assert.True(t, f.Moving(fix(10.6, 10)))
}

func TestBaselineUpdatesOnlyOnMotion(t *testing.T) {
	f := NewFilter(0.0001)
	f.Moving(fix(48.1, 11.5))

	// below threshold: baseline must not follow the drift
	f.Moving(fix(48.10005, 11.5))
	assert.InDelta(t, 48.1, f.Baseline().Latitude, 1e-9)

	// creep accumulates against the original baseline until it crosses
	assert.True(t, f.Moving(fix(48.10015, 11.5)))
	assert.InDelta(t, 48.10015, f.Baseline().Latitude, 1e-9)
}

func TestReset(t *testing.T) {
	f := NewFilter(0.0001)
	f.Moving(fix(48.1, 11.5))
	require.NotNil(t, f.Baseline())

	f.Reset()

	assert.Nil(t, f.Baseline())
}

func TestSetThreshold(t *testing.T) {
	f := NewFilter(0.0001)
	f.Moving(fix(48.1, 11.5))

	f.SetThreshold(0.01)
	assert.False(t, f.Moving(fix(48.105, 11.5)), "displacement below the widened threshold")

	f.SetThreshold(0.0001)
	assert.True(t, f.Moving(fix(48.105, 11.5)))

	// Non-positive falls back to the default.
	f.SetThreshold(-1)
	assert.False(t, f.Moving(fix(48.10505, 11.5)))
}

func TestHaversineZeroForIdenticalPoints(t *testing.T) {
	assert.Equal(t, 0.0, HaversineMeters(48.1, 11.5, 48.1, 11.5))
}

func TestHaversineSymmetry(t *testing.T) {
	d1 := HaversineMeters(48.1, 11.5, 52.5, 13.4)
	d2 := HaversineMeters(52.5, 13.4, 48.1, 11.5)

	assert.InDelta(t, d1, d2, 1e-6)
}

func TestHaversineOneDegreeLongitudeAtEquator(t *testing.T) {
	d := HaversineMeters(0, 0, 0, 1)

	// one degree of longitude at the equator, within 1%
	assert.InDelta(t, 111320, d, 111320*0.01)
}

func TestFixDistanceMeters(t *testing.T) {
	a := fix(0, 0)
	b := fix(0, 1)

	assert.InDelta(t, HaversineMeters(0, 0, 0, 1), FixDistanceMeters(a, b), 1e-9)
}
