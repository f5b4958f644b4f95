package actuation

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/utils"
)

// ErrClosed is returned by a closed actuator.
var ErrClosed = errors.New("actuator closed")

// SimActuator is the loopback actuator used in simulation, where the control loop integrates the
// dynamics itself. It records every command and reports the joint state last given to SetSensed,
// or the commanded positions of a position command.
type SimActuator struct {
	dof int

	mu      sync.Mutex
	last    Command
	sent    int
	sensed  Sensed
	closed  bool
	failing error
}

// NewSimActuator returns a SimActuator for dof joints, resting at zero.
func NewSimActuator(dof int) *SimActuator {
	return &SimActuator{
		dof:    dof,
		sensed: Sensed{Q: make([]float64, dof), DQ: make([]float64, dof)},
	}
}

// Send implements Actuator.
func (s *SimActuator) Send(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.failing != nil {
		return s.failing
	}
	values := cmd.Torque
	if values == nil {
		values = cmd.Positions
	}
	if err := utils.CheckLen("command", values, s.dof); err != nil {
		return err
	}
	s.last = cmd.Copy()
	s.sent++
	if cmd.Positions != nil {
		s.sensed.Q = utils.CopyFloats(cmd.Positions)
		s.sensed.DQ = make([]float64, s.dof)
	}
	return nil
}

// Read implements Actuator.
func (s *SimActuator) Read(ctx context.Context) (Sensed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Sensed{}, ErrClosed
	}
	if s.failing != nil {
		return Sensed{}, s.failing
	}
	return Sensed{Q: utils.CopyFloats(s.sensed.Q), DQ: utils.CopyFloats(s.sensed.DQ), Time: s.sensed.Time}, nil
}

// Close implements Actuator.
func (s *SimActuator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetSensed sets the joint state reported by Read.
func (s *SimActuator) SetSensed(q, dq []float64, t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensed = Sensed{Q: utils.CopyFloats(q), DQ: utils.CopyFloats(dq), Time: t}
}

// SetFailure makes every call fail with err until it is called with nil.
func (s *SimActuator) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

// Last returns the last accepted command and how many commands have been accepted.
func (s *SimActuator) Last() (Command, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Copy(), s.sent
}
