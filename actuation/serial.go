package actuation

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/utils"
)

// ErrNotConnected is returned while the serial link is down and the reconnect backoff has not
// elapsed.
var ErrNotConnected = errors.New("serial actuator not connected")

// ErrNoData is returned by Read when no complete joint line has arrived.
var ErrNoData = errors.New("no joint state received")

// SerialConfig describes the serial link to the robot controller.
type SerialConfig struct {
	// Port is a device path, or "auto" to use the first port matching VID and PID.
	Port               string `json:"port"`
	VID                string `json:"vid,omitempty"`
	PID                string `json:"pid,omitempty"`
	BaudRate           int    `json:"baud_rate"`
	DataBits           int    `json:"data_bits"`
	StopBits           int    `json:"stop_bits"`
	Parity             string `json:"parity"`
	ReadTimeoutMs      int    `json:"read_timeout_ms"`
	ReconnectBackoffMs int    `json:"reconnect_backoff_ms"`
}

// Normalize validates the options and applies defaults for any unset values.
func (cfg SerialConfig) Normalize() (SerialConfig, error) {
	out := cfg
	if strings.TrimSpace(out.Port) == "" {
		return out, errors.New("serial actuator needs a port")
	}
	if err := validUSBID(out.VID); err != nil {
		return out, err
	}
	if err := validUSBID(out.PID); err != nil {
		return out, err
	}
	if out.BaudRate <= 0 {
		out.BaudRate = 115200
	}
	if out.DataBits == 0 {
		out.DataBits = 8
	}
	if out.DataBits < 5 || out.DataBits > 8 {
		return out, errors.Errorf("invalid data bits %d: must be between 5 and 8", out.DataBits)
	}
	if out.StopBits == 0 {
		out.StopBits = 1
	}
	if out.StopBits != 1 && out.StopBits != 2 {
		return out, errors.Errorf("invalid stop bits %d: supported values are 1 or 2", out.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(out.Parity)) {
	case "", "N", "NONE":
		out.Parity = "N"
	case "E", "EVEN":
		out.Parity = "E"
	case "O", "ODD":
		out.Parity = "O"
	default:
		return out, errors.Errorf("unsupported parity %q: expected N, E, or O", cfg.Parity)
	}
	if out.ReadTimeoutMs <= 0 {
		out.ReadTimeoutMs = 2
	}
	if out.ReconnectBackoffMs <= 0 {
		out.ReconnectBackoffMs = 500
	}
	return out, nil
}

// Mode converts the options into the structure go.bug.st/serial needs to open a port.
func (cfg SerialConfig) Mode() (*serial.Mode, error) {
	opts, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits, StopBits: serial.OneStopBit}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// Opener opens the link to the robot.
type Opener func() (io.ReadWriteCloser, error)

// PortOpener returns an Opener for a real serial port.
func PortOpener(cfg SerialConfig) (Opener, error) {
	opts, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadWriteCloser, error) {
		path := opts.Port
		if path == AutoPort {
			found, err := findPort(SearchFilter{VID: opts.VID, PID: opts.PID})
			if err != nil {
				return nil, err
			}
			path = found
		}
		port, err := serial.Open(path, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", path)
		}
		if err := port.SetReadTimeout(time.Duration(opts.ReadTimeoutMs) * time.Millisecond); err != nil {
			return nil, multiClose(err, port)
		}
		return port, nil
	}, nil
}

func multiClose(err error, c io.Closer) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Wrapf(err, "also failed to close: %v", cerr)
	}
	return err
}

// SerialActuator speaks a line protocol over a serial link:
//
//	T,<tau_1>,...,<tau_n>\n   torque command
//	P,<q_1>,...,<q_n>\n       position command
//	Q,<q_1>,...,<q_n>[,<dq_1>,...,<dq_n>]\n   sensed joints, from the robot
//
// A failed write or read drops the link; the next call after the backoff reopens it.
type SerialActuator struct {
	dof     int
	open    Opener
	backoff time.Duration
	clock   clock.Clock
	logger  logging.Logger

	mu          sync.Mutex
	port        io.ReadWriteCloser
	lastAttempt time.Time
	attempted   bool
	pending     []byte
	closed      bool
}

// NewSerialActuator returns an actuator for dof joints that connects lazily through open.
func NewSerialActuator(dof int, open Opener, backoff time.Duration, clk clock.Clock, logger logging.Logger) *SerialActuator {
	return &SerialActuator{
		dof:     dof,
		open:    open,
		backoff: backoff,
		clock:   clk,
		logger:  logger,
	}
}

func (s *SerialActuator) connect() error {
	if s.closed {
		return ErrClosed
	}
	if s.port != nil {
		return nil
	}
	now := s.clock.Now()
	if s.attempted && now.Sub(s.lastAttempt) < s.backoff {
		return ErrNotConnected
	}
	s.attempted = true
	s.lastAttempt = now
	port, err := s.open()
	if err != nil {
		return errors.Wrap(err, "connecting serial actuator")
	}
	s.logger.Infow("serial actuator connected")
	s.port = port
	s.pending = s.pending[:0]
	return nil
}

func (s *SerialActuator) disconnect(cause error) {
	if s.port == nil {
		return
	}
	s.logger.Warnw("serial actuator disconnected", "error", cause)
	if err := s.port.Close(); err != nil {
		s.logger.Debugw("closing serial port", "error", err)
	}
	s.port = nil
}

// Send implements Actuator.
func (s *SerialActuator) Send(ctx context.Context, cmd Command) error {
	line, err := EncodeCommand(cmd, s.dof)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return err
	}
	if _, err := s.port.Write(line); err != nil {
		s.disconnect(err)
		return errors.Wrap(err, "writing command")
	}
	return nil
}

// Read implements Actuator. It consumes everything available and returns the newest joint line.
func (s *SerialActuator) Read(ctx context.Context) (Sensed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return Sensed{}, err
	}

	buf := make([]byte, 512)
	n, err := s.port.Read(buf)
	if err != nil {
		s.disconnect(err)
		return Sensed{}, errors.Wrap(err, "reading joints")
	}
	s.pending = append(s.pending, buf[:n]...)

	var (
		latest Sensed
		found  bool
	)
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(s.pending[:idx])
		s.pending = s.pending[idx+1:]
		sensed, perr := DecodeSensed(line, s.dof)
		if perr != nil {
			s.logger.Debugw("ignoring malformed joint line", "line", line, "error", perr)
			continue
		}
		latest, found = sensed, true
	}
	if !found {
		return Sensed{}, ErrNoData
	}
	return latest, nil
}

// Close implements Actuator.
func (s *SerialActuator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// EncodeCommand renders cmd as one protocol line.
func EncodeCommand(cmd Command, dof int) ([]byte, error) {
	prefix, values := "T", cmd.Torque
	if values == nil {
		prefix, values = "P", cmd.Positions
	}
	if err := utils.CheckLen("command", values, dof); err != nil {
		return nil, err
	}
	line := []byte(prefix)
	for _, v := range values {
		line = append(line, ',')
		line = strconv.AppendFloat(line, v, 'f', 6, 64)
	}
	return append(line, '\n'), nil
}

// DecodeSensed parses a "Q,..." line carrying dof positions and optionally dof velocities.
func DecodeSensed(line string, dof int) (Sensed, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) == 0 || fields[0] != "Q" {
		return Sensed{}, errors.Errorf("not a joint line: %q", line)
	}
	values := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sensed{}, errors.Wrapf(err, "parsing %q", f)
		}
		values = append(values, v)
	}
	switch len(values) {
	case dof:
		return Sensed{Q: values, DQ: make([]float64, dof)}, nil
	case 2 * dof:
		return Sensed{Q: values[:dof], DQ: values[dof:]}, nil
	}
	return Sensed{}, utils.NewDimensionMismatchError("sensed joints", dof, len(values))
}
