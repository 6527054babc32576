package gps

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaSentence     = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaGNSentence   = "$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*59"
	rmcSentence     = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoidSentence = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	vtgSentence     = "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48"
)

func newTestReader() (*Reader, *Holder) {
	holder := &Holder{}
	return NewReader(Config{Port: "/dev/fake0"}, holder), holder
}

func TestHandleLineGGA(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine(ggaSentence)

	fix := holder.Get()
	require.NotNil(t, fix)
	assert.InDelta(t, 48.1173, fix.Latitude, 0.0001)
	assert.InDelta(t, 11.5167, fix.Longitude, 0.0001)
	assert.InDelta(t, 545.4, fix.Altitude, 0.01)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 1, fix.Quality)
	assert.Equal(t, "N", fix.LatDir())
	assert.Equal(t, "E", fix.LonDir())
	assert.False(t, fix.ReceivedAt.IsZero())

	accepted, failures := r.Stats()
	assert.Equal(t, uint64(1), accepted)
	assert.Equal(t, uint64(0), failures)
}

func TestHandleLineAcceptsAnyTalker(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine(ggaGNSentence)

	require.NotNil(t, holder.Get())
}

func TestHandleLineRMCMergesSpeedAndDate(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine(ggaSentence)
	r.handleLine(rmcSentence)

	fix := holder.Get()
	require.NotNil(t, fix)
	assert.InDelta(t, 22.4, fix.Speed, 0.01)
	assert.InDelta(t, 545.4, fix.Altitude, 0.01)
	assert.Equal(t, time.Date(1994, time.March, 23, 12, 35, 19, 0, time.UTC), fix.Time)
}

func TestHandleLineVoidRMCIgnored(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine(rmcVoidSentence)

	assert.Nil(t, holder.Get())
	accepted, _ := r.Stats()
	assert.Equal(t, uint64(0), accepted)
}

func TestHandleLineVTGAloneDoesNotPublish(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine(vtgSentence)
	require.Nil(t, holder.Get())

	r.handleLine(ggaSentence)
	fix := holder.Get()
	require.NotNil(t, fix)
	assert.InDelta(t, 5.5, fix.Speed, 0.01)
}

func TestHandleLineGarbageCountedAndSkipped(t *testing.T) {
	r, holder := newTestReader()

	r.handleLine("not nmea at all")
	r.handleLine("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00")

	assert.Nil(t, holder.Get())
	accepted, failures := r.Stats()
	assert.Equal(t, uint64(0), accepted)
	assert.Equal(t, uint64(2), failures)
}

// scriptPort feeds predefined chunks, then idles like a quiet serial line,
// or starts erroring when failWhenDrained is set.
type scriptPort struct {
	mu              sync.Mutex
	chunks          [][]byte
	i               int
	failWhenDrained bool
	closed          bool
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.i >= len(p.chunks) {
		fail := p.failWhenDrained
		p.mu.Unlock()
		if fail {
			return 0, io.ErrUnexpectedEOF
		}
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.chunks[p.i])
	p.i++
	p.mu.Unlock()
	return n, nil
}

func (p *scriptPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *scriptPort) wasClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *scriptPort) failNow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWhenDrained = true
}

func TestReaderLoopAssemblesSplitLines(t *testing.T) {
	holder := &Holder{}
	r := NewReader(Config{Port: "/dev/fake0"}, holder)
	port := &scriptPort{
		chunks: [][]byte{
			[]byte("$GPGGA,123519,4807.038,N,011"),
			[]byte("31.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n$GPVTG,054.7,T,"),
			[]byte("034.4,M,005.5,N,010.2,K*48\r\n"),
		},
	}
	r.openPort = func(name string, baud int, timeout time.Duration) (serialPort, error) {
		return port, nil
	}

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		fix := holder.Get()
		return fix != nil && fix.Speed > 5
	}, time.Second, 2*time.Millisecond)

	r.Stop()
	assert.Nil(t, holder.Get())
	assert.True(t, port.wasClosed())
}

func TestReaderClearsFixWhenPortDies(t *testing.T) {
	holder := &Holder{}
	r := NewReader(Config{Port: "/dev/fake0"}, holder)
	port := &scriptPort{
		chunks: [][]byte{[]byte(ggaSentence + "\r\n")},
	}
	var opens atomic.Int32
	r.openPort = func(name string, baud int, timeout time.Duration) (serialPort, error) {
		if opens.Add(1) == 1 {
			return port, nil
		}
		return nil, errors.New("still gone")
	}

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return holder.Get() != nil }, time.Second, 2*time.Millisecond)

	port.failNow()
	require.Eventually(t, func() bool { return holder.Get() == nil }, time.Second, 2*time.Millisecond)

	r.Stop()
}

func TestStartOpenFailure(t *testing.T) {
	r := NewReader(Config{Port: "/dev/fieldscan-does-not-exist"}, &Holder{})

	err := r.Start()

	require.Error(t, err)
	var locErr *LocationError
	assert.ErrorAs(t, err, &locErr)
	assert.Equal(t, "open", locErr.Op)
}

func TestFixHemispheres(t *testing.T) {
	south := &Fix{Latitude: -33.9, Longitude: 18.4}
	assert.Equal(t, "S", south.LatDir())
	assert.Equal(t, "E", south.LonDir())

	west := &Fix{Latitude: 40.7, Longitude: -74.0}
	assert.Equal(t, "N", west.LatDir())
	assert.Equal(t, "W", west.LonDir())
}
