// Package camera defines the acquisition seam: drivers enumerate devices
// and open sessions, sessions hand out frames without blocking. The vendor
// SDK stays behind a driver; nothing above this package knows which one.
package camera

import (
	"errors"
	"fmt"

	"github.com/fieldscan/fieldscan/internal/frame"
)

// ErrNoDevices means enumeration found nothing to open.
var ErrNoDevices = errors.New("no camera devices found")

// DeviceError wraps enumeration and open failures.
type DeviceError struct {
	Op     string
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("camera %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// DeviceInfo identifies one openable device.
type DeviceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

// SessionOptions is the geometry and the initial device controls applied
// once when a session opens.
type SessionOptions struct {
	FPS    int
	Width  int
	Height int

	ContinuousAutofocus bool
	AutoExposure        bool
	AutoWhiteBalance    bool
}

// DefaultSessionOptions matches the rig's usual preview setup.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		FPS:                 15,
		Width:               640,
		Height:              480,
		ContinuousAutofocus: true,
		AutoExposure:        true,
		AutoWhiteBalance:    true,
	}
}

// Session is an open device delivering frames. TryNext never blocks: it
// returns the next undelivered frame for the stream, or false when nothing
// new has arrived. Close is idempotent.
//
// Sessions deliver source streams only. The colorized depth view is derived
// from StreamDepthRaw downstream.
type Session interface {
	TryNext(stream frame.Stream) (*frame.Frame, bool)
	Streams() []frame.Stream
	Device() DeviceInfo
	Close() error
}

// Driver is one way of producing camera sessions.
type Driver interface {
	Name() string
	Available() bool
	Devices() ([]DeviceInfo, error)
	Open(deviceID string, opts SessionOptions) (Session, error)
}
