// Package arena holds the state shared by the interceptor's loops. Every loop copies what it
// needs in, computes without the lock, and copies its results out.
package arena

import (
	"sync"

	"github.com/imhunterand/iDA-projectile/actuation"
	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/interception"
	"github.com/imhunterand/iDA-projectile/projectile"
	"github.com/imhunterand/iDA-projectile/utils"
)

// Counters are monotonically increasing event counts.
type Counters struct {
	Ingested            uint64 `json:"ingested"`
	Rejected            uint64 `json:"rejected"`
	Dropped             uint64 `json:"dropped"`
	ActuatorFailures    uint64 `json:"actuator_failures"`
	ControlErrors       uint64 `json:"control_errors"`
	Overruns            uint64 `json:"overruns"`
	CompletedIntercepts uint64 `json:"completed_intercepts"`
}

// Block is the shared state. It must only be touched inside View or Update.
type Block struct {
	// Time is seconds since the controller started.
	Time float64 `json:"time"`

	Robot *dynamics.RobotState `json:"robot"`
	// RobotValid is false until the robot state reflects the real robot.
	RobotValid bool `json:"robot_valid"`
	// Setpoint is what the control law tracked in the last cycle.
	Setpoint *control.Setpoint `json:"setpoint"`
	// Override, when set, replaces the state machine's setpoint.
	Override *control.Setpoint `json:"override,omitempty"`
	// Projectiles is replaced whole by the vision loop; it is never modified in place.
	Projectiles  *projectile.Snapshot `json:"-"`
	Interception interception.State   `json:"interception"`

	Gains *control.Gains `json:"gains"`
	// Strategy, when set, overrides the strategy of every setpoint.
	Strategy control.Strategy `json:"strategy,omitempty"`
	// Pending is the control loop's latest output, not yet sent.
	Pending actuation.Command `json:"-"`
	// Command is the last command accepted by the robot.
	Command actuation.Command `json:"command"`

	Paused         bool `json:"paused"`
	ResetRequested bool `json:"reset_requested,omitempty"`
	Finished       bool `json:"finished"`

	Counters Counters                       `json:"counters"`
	Timing   map[string]utils.WindowSummary `json:"timing,omitempty"`
}

// Copy returns a deep copy of b.
func (b *Block) Copy() Block {
	out := *b
	out.Robot = b.Robot.Copy()
	out.Setpoint = b.Setpoint.Copy()
	out.Override = b.Override.Copy()
	out.Interception = b.Interception.Copy()
	if b.Gains != nil {
		out.Gains = b.Gains.Copy()
	}
	out.Pending = b.Pending.Copy()
	out.Command = b.Command.Copy()
	if b.Timing != nil {
		out.Timing = make(map[string]utils.WindowSummary, len(b.Timing))
		for k, v := range b.Timing {
			out.Timing[k] = v
		}
	}
	return out
}

// ActiveSetpoint is the setpoint the control law should track given the machine's setpoint:
// the override if any, with the strategy override applied.
func (b *Block) ActiveSetpoint(fromMachine *control.Setpoint) *control.Setpoint {
	sp := fromMachine
	if b.Override != nil {
		sp = b.Override
	}
	sp = sp.Copy()
	if sp != nil && b.Strategy != "" {
		sp.Strategy = b.Strategy
	}
	return sp
}

// Arena guards one Block with one mutex.
type Arena struct {
	mu    sync.Mutex
	block Block
}

// New returns an Arena holding initial.
func New(initial Block) *Arena {
	return &Arena{block: initial}
}

// View runs f with the lock held. f must not retain b or block.
func (a *Arena) View(f func(b *Block)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f(&a.block)
}

// Update runs f with the lock held. f may modify b but must not block.
func (a *Arena) Update(f func(b *Block)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f(&a.block)
}

// Snapshot returns a consistent deep copy of the block.
func (a *Arena) Snapshot() Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.block.Copy()
}

// Finish sets the process wide finished flag.
func (a *Arena) Finish() {
	a.Update(func(b *Block) { b.Finished = true })
}

// Finished reports whether Finish has been called.
func (a *Arena) Finished() bool {
	var done bool
	a.View(func(b *Block) { done = b.Finished })
	return done
}
