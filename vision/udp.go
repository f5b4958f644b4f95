package vision

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/imhunterand/iDA-projectile/logging"
)

// UDPSource reads one measurement per datagram, as CSV "id,t,x,y,z" or "id,x,y,z". Datagrams
// without a timestamp are stamped on arrival.
type UDPSource struct {
	addr    string
	now     Clock
	restamp bool
	logger  logging.Logger

	ready chan net.Addr
	warn  rate.Sometimes
}

// NewUDPSource returns a source listening on addr.
func NewUDPSource(addr string, now Clock, restamp bool, logger logging.Logger) *UDPSource {
	return &UDPSource{
		addr:    addr,
		now:     now,
		restamp: restamp,
		logger:  logger,
		ready:   make(chan net.Addr, 1),
		warn:    rate.Sometimes{First: 1, Interval: warnInterval},
	}
}

// Ready yields the bound address once listening. Only the first bind of a restarted source is
// reported unless the previous one was received.
func (s *UDPSource) Ready() <-chan net.Addr {
	return s.ready
}

// Run implements Source.
func (s *UDPSource) Run(ctx context.Context, emit func(Measurement)) error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", s.addr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.addr)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debugw("closing udp listener", "error", err)
		}
	}()
	select {
	case s.ready <- conn.LocalAddr():
	default:
	}
	s.logger.Infow("listening for measurements", "addr", conn.LocalAddr().String())

	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			s.warn.Do(func() { s.logger.Warnw("udp read failed", "error", err) })
			continue
		}
		m, stamped, err := ParseCSV(string(buf[:n]))
		if err != nil {
			s.warn.Do(func() { s.logger.Warnw("ignoring malformed datagram", "error", err) })
			continue
		}
		if !stamped || s.restamp {
			m.T = s.now()
		}
		emit(m)
	}
}

// ParseCSV parses "id,t,x,y,z" or "id,x,y,z". The second result reports whether the line
// carried a timestamp.
func ParseCSV(line string) (Measurement, bool, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 && len(parts) != 5 {
		return Measurement{}, false, errors.Errorf("expected 4 or 5 fields, got %d", len(parts))
	}
	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Measurement{}, false, errors.Wrap(err, "parsing id")
	}
	values := make([]float64, 0, 4)
	for _, part := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Measurement{}, false, errors.Wrapf(err, "parsing %q", part)
		}
		values = append(values, v)
	}
	m := Measurement{ID: id}
	stamped := len(values) == 4
	if stamped {
		m.T, values = values[0], values[1:]
	}
	m.P = r3.Vector{X: values[0], Y: values[1], Z: values[2]}
	return m, stamped, nil
}
