package gps

import (
	"path/filepath"
	"sort"

	"go.bug.st/serial"
)

// Receiver port patterns, in preference order. u-blox receivers enumerate
// as CDC ACM devices, so those come first.
var portGlobs = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/tty.usbserial*",
}

const (
	// DefaultBaud is the u-blox default line rate.
	DefaultBaud = 9600
	// LegacyBaud covers older NMEA 0183 receivers.
	LegacyBaud = 4800
)

// DiscoverPorts returns candidate receiver ports, best match first.
func DiscoverPorts() []string {
	var out []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

// SystemPorts lists every serial port the OS knows about, for diagnostics.
// Discovery uses the receiver globs; this is the wider net.
func SystemPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &LocationError{Op: "enumerate", Err: err}
	}
	sort.Strings(ports)
	return ports, nil
}
