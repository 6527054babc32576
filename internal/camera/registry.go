package camera

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fieldscan/fieldscan/internal/logger"
)

// Registry resolves drivers by name and opens sessions with fallback.
// Driver order is preference order.
type Registry struct {
	drivers []Driver
	log     *zerolog.Logger
}

// NewRegistry builds a registry over the given drivers.
func NewRegistry(drivers ...Driver) *Registry {
	return &Registry{
		drivers: drivers,
		log:     logger.WithComponent("camera"),
	}
}

// Driver returns the named driver if it is available.
func (r *Registry) Driver(name string) (Driver, error) {
	for _, drv := range r.drivers {
		if drv.Name() != name {
			continue
		}
		if !drv.Available() {
			return nil, &DeviceError{Op: "resolve", Device: name, Err: errors.New("driver not available")}
		}
		return drv, nil
	}
	return nil, &DeviceError{Op: "resolve", Device: name, Err: errors.New("unknown driver")}
}

// Devices enumerates devices across all available drivers. Per-driver
// enumeration failures are logged and skipped; refresh is re-running this.
func (r *Registry) Devices() []DeviceInfo {
	var out []DeviceInfo
	for _, drv := range r.drivers {
		if !drv.Available() {
			continue
		}
		devices, err := drv.Devices()
		if err != nil {
			r.log.Warn().Err(err).Str("driver", drv.Name()).Msg("device enumeration failed")
			continue
		}
		out = append(out, devices...)
	}
	return out
}

// Open opens a session on the named driver, or on the first available
// driver with devices when driverName is empty. An empty deviceID picks
// the driver's first device.
func (r *Registry) Open(driverName, deviceID string, opts SessionOptions) (Session, error) {
	if driverName != "" {
		drv, err := r.Driver(driverName)
		if err != nil {
			return nil, err
		}
		return r.openOn(drv, deviceID, opts)
	}

	for _, drv := range r.drivers {
		if !drv.Available() {
			continue
		}
		sess, err := r.openOn(drv, deviceID, opts)
		if err != nil {
			if errors.Is(err, ErrNoDevices) {
				r.log.Debug().Str("driver", drv.Name()).Msg("no devices, trying next driver")
				continue
			}
			return nil, err
		}
		return sess, nil
	}
	return nil, &DeviceError{Op: "open", Err: ErrNoDevices}
}

func (r *Registry) openOn(drv Driver, deviceID string, opts SessionOptions) (Session, error) {
	if deviceID == "" {
		devices, err := drv.Devices()
		if err != nil {
			return nil, &DeviceError{Op: "enumerate", Device: drv.Name(), Err: err}
		}
		if len(devices) == 0 {
			return nil, &DeviceError{Op: "enumerate", Device: drv.Name(), Err: ErrNoDevices}
		}
		deviceID = devices[0].ID
	}
	sess, err := drv.Open(deviceID, opts)
	if err != nil {
		return nil, fmt.Errorf("driver %s: %w", drv.Name(), err)
	}
	r.log.Info().
		Str("driver", drv.Name()).
		Str("device", sess.Device().ID).
		Int("fps", opts.FPS).
		Msg("camera session opened")
	return sess, nil
}
