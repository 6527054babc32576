package gps

import (
	"errors"
	"fmt"
)

// ErrNoPorts means discovery found no candidate serial ports.
var ErrNoPorts = errors.New("no gps serial ports found")

// LocationError wraps port discovery and open failures. NMEA parse
// failures never become LocationErrors; they are counted and skipped.
type LocationError struct {
	Op   string
	Port string
	Err  error
}

func (e *LocationError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("gps %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gps %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *LocationError) Unwrap() error {
	return e.Err
}
