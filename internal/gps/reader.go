package gps

import (
	"bytes"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/fieldscan/fieldscan/internal/logger"
	"github.com/fieldscan/fieldscan/internal/metrics"
)

// Config controls the reader's port selection and line rate.
type Config struct {
	// Port is the serial device path. Empty means discover.
	Port string
	// Baud defaults to DefaultBaud.
	Baud int
	// ReadTimeout bounds each serial read so the loop can observe Stop.
	ReadTimeout time.Duration
}

// serialPort is the slice of go.bug.st/serial.Port the reader needs.
type serialPort interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// Reader owns the serial port and publishes merged fixes to its Holder.
// One goroutine per Reader; it is the holder's sole writer.
type Reader struct {
	cfg    Config
	holder *Holder
	log    *zerolog.Logger

	openPort func(name string, baud int, timeout time.Duration) (serialPort, error)

	stop chan struct{}
	done chan struct{}

	pending  Fix
	haveDate bool
	havePos  bool

	accepted    atomic.Uint64
	parseErrors atomic.Uint64
}

// NewReader builds a reader publishing into holder.
func NewReader(cfg Config, holder *Holder) *Reader {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	return &Reader{
		cfg:      cfg,
		holder:   holder,
		log:      logger.WithComponent("gps"),
		openPort: openSerial,
	}
}

func openSerial(name string, baud int, timeout time.Duration) (serialPort, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// Start resolves and opens the port, then launches the reader loop.
// Open failures surface as *LocationError and leave nothing running.
// Must not be called while the reader is running.
func (r *Reader) Start() error {
	name := r.cfg.Port
	if name == "" {
		ports := DiscoverPorts()
		if len(ports) == 0 {
			return &LocationError{Op: "discover", Err: ErrNoPorts}
		}
		name = ports[0]
	}
	port, err := r.openPort(name, r.cfg.Baud, r.cfg.ReadTimeout)
	if err != nil {
		return &LocationError{Op: "open", Port: name, Err: err}
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.log.Info().Str("port", name).Int("baud", r.cfg.Baud).Msg("gps reader started")
	go r.run(port, name)
	return nil
}

// Stop terminates the loop, waits for it, and clears the published fix.
func (r *Reader) Stop() {
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
	r.holder.Clear()
	r.log.Info().Msg("gps reader stopped")
}

// Stats returns accepted sentence and parse failure counts.
func (r *Reader) Stats() (accepted, parseFailures uint64) {
	return r.accepted.Load(), r.parseErrors.Load()
}

func (r *Reader) run(port serialPort, name string) {
	defer close(r.done)
	for {
		err := r.readLoop(port)
		port.Close()
		if err == nil {
			return
		}
		// A dead port invalidates the fix until data flows again.
		r.holder.Clear()
		r.log.Warn().Err(err).Str("port", name).Msg("gps port lost, rediscovering")
		port, name = r.reopen()
		if port == nil {
			return
		}
	}
}

func (r *Reader) readLoop(port serialPort) error {
	buf := make([]byte, 256)
	var acc []byte
	for {
		select {
		case <-r.stop:
			return nil
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			// read timeout, loop back to the stop check
			continue
		}
		acc = append(acc, buf[:n]...)
		for {
			i := bytes.IndexByte(acc, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(acc[:i]))
			acc = acc[i+1:]
			if line != "" {
				r.handleLine(line)
			}
		}
		if len(acc) > 4096 {
			// no newline in sight, the port is spewing garbage
			acc = acc[:0]
		}
	}
}

func (r *Reader) reopen() (serialPort, string) {
	backoff := time.Second
	for {
		select {
		case <-r.stop:
			return nil, ""
		case <-time.After(backoff):
		}
		name := r.cfg.Port
		if name == "" {
			if ports := DiscoverPorts(); len(ports) > 0 {
				name = ports[0]
			}
		}
		if name != "" {
			if port, err := r.openPort(name, r.cfg.Baud, r.cfg.ReadTimeout); err == nil {
				r.log.Info().Str("port", name).Msg("gps port reopened")
				return port, name
			}
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

// handleLine parses one NMEA line and merges it into the pending fix.
// GGA, RMC and VTG are accepted regardless of talker; everything else is
// skipped. Malformed lines are counted and skipped, never fatal.
func (r *Reader) handleLine(line string) {
	s, err := nmea.Parse(line)
	if err != nil {
		r.parseErrors.Add(1)
		metrics.GPSParseErrors.Inc()
		r.log.Debug().Str("line", line).Err(err).Msg("unparseable nmea line")
		return
	}

	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality != nmea.Invalid {
			r.pending.Latitude = m.Latitude
			r.pending.Longitude = m.Longitude
			r.havePos = true
		}
		r.pending.Altitude = m.Altitude
		r.pending.Satellites = int(m.NumSatellites)
		if q, err := strconv.Atoi(m.FixQuality); err == nil {
			r.pending.Quality = q
		}
		r.setClock(m.Time)
	case nmea.RMC:
		if m.Validity != "A" {
			r.log.Debug().Msg("rmc void, ignoring")
			return
		}
		r.pending.Latitude = m.Latitude
		r.pending.Longitude = m.Longitude
		r.pending.Speed = m.Speed
		r.havePos = true
		r.setDate(m.Date, m.Time)
	case nmea.VTG:
		r.pending.Speed = m.GroundSpeedKnots
	default:
		r.log.Debug().Str("type", s.DataType()).Msg("ignoring sentence")
		return
	}

	r.accepted.Add(1)
	metrics.GPSSentences.Inc()
	if !r.havePos {
		// speed or clock only so far, hold publication until a position lands
		return
	}
	r.pending.ReceivedAt = time.Now()
	r.holder.Set(r.pending.clone())
}

func (r *Reader) setDate(d nmea.Date, t nmea.Time) {
	if !d.Valid || !t.Valid {
		return
	}
	// two-digit year pivot, same as strptime %y
	year := 2000 + d.YY
	if d.YY >= 69 {
		year = 1900 + d.YY
	}
	r.pending.Time = time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*1e6, time.UTC)
	r.haveDate = true
}

// setClock applies a time-of-day from a dateless sentence. Until RMC has
// supplied a date, the current UTC date is assumed.
func (r *Reader) setClock(t nmea.Time) {
	if !t.Valid {
		return
	}
	base := r.pending.Time
	if !r.haveDate {
		base = time.Now().UTC()
	}
	r.pending.Time = time.Date(base.Year(), base.Month(), base.Day(),
		t.Hour, t.Minute, t.Second, t.Millisecond*1e6, time.UTC)
}
