// Package actuation sends joint commands to a robot and reads back its sensed joint state. The
// simulated and serial implementations are interchangeable behind Actuator.
package actuation

import (
	"context"

	"github.com/imhunterand/iDA-projectile/utils"
)

// Command is one robot I/O cycle's output. Exactly one of Torque and Positions is set.
type Command struct {
	Torque    []float64 `json:"torque,omitempty"`
	Positions []float64 `json:"positions,omitempty"`
	// Hold marks a command repeated in place of a newer one, for example after a failure or on
	// shutdown.
	Hold bool `json:"hold,omitempty"`
}

// ZeroTorque returns the fail-safe command for dof joints.
func ZeroTorque(dof int) Command {
	return Command{Torque: make([]float64, dof), Hold: true}
}

// Copy returns a deep copy.
func (c Command) Copy() Command {
	c.Torque = utils.CopyFloats(c.Torque)
	c.Positions = utils.CopyFloats(c.Positions)
	return c
}

// IsZero reports whether the command carries no values.
func (c Command) IsZero() bool {
	return len(c.Torque) == 0 && len(c.Positions) == 0
}

// Sensed is the joint state reported by the robot.
type Sensed struct {
	Q  []float64
	DQ []float64
	// Time is seconds since the controller started.
	Time float64
}

// Actuator is the robot I/O collaborator. Implementations must be safe for use by one goroutine
// at a time; the robot loop is their only caller.
type Actuator interface {
	Send(ctx context.Context, cmd Command) error
	Read(ctx context.Context) (Sensed, error)
	Close() error
}
