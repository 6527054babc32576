// Package gps owns the serial NMEA receiver: port discovery, the reader
// loop, and the latest-fix holder the rest of the process snapshots from.
package gps

import (
	"sync/atomic"
	"time"
)

// Fix is the merged view of the receiver's most recent sentences. Fields
// accumulate across sentence types; a Fix pointer published to the Holder
// is immutable. Absence of a fix is a nil pointer, never a zero Fix.
type Fix struct {
	// Time is the receiver's UTC timestamp. The date part comes from RMC;
	// until one is seen, the current UTC date is assumed.
	Time       time.Time `json:"time"`
	Latitude   float64   `json:"latitude"`  // signed decimal degrees, north positive
	Longitude  float64   `json:"longitude"` // signed decimal degrees, east positive
	Altitude   float64   `json:"altitude"`  // meters above mean sea level
	Speed      float64   `json:"speed"`     // knots over ground
	Satellites int       `json:"satellites"`
	Quality    int       `json:"quality"` // GGA fix quality, 0 = no fix
	// ReceivedAt is the local wall clock when the sentence arrived.
	ReceivedAt time.Time `json:"received_at"`
}

// LatDir returns the latitude hemisphere letter.
func (f *Fix) LatDir() string {
	if f.Latitude < 0 {
		return "S"
	}
	return "N"
}

// LonDir returns the longitude hemisphere letter.
func (f *Fix) LonDir() string {
	if f.Longitude < 0 {
		return "W"
	}
	return "E"
}

func (f *Fix) clone() *Fix {
	c := *f
	return &c
}

// Holder publishes the latest fix atomically. The reader loop is the sole
// writer; any goroutine may snapshot.
type Holder struct {
	p atomic.Pointer[Fix]
}

// Set publishes f as the current fix.
func (h *Holder) Set(f *Fix) {
	h.p.Store(f)
}

// Get returns the current fix, nil when none has been published.
func (h *Holder) Get() *Fix {
	return h.p.Load()
}

// Clear drops the published fix. Done when the port is lost or the
// location source is switched off.
func (h *Holder) Clear() {
	h.p.Store(nil)
}
