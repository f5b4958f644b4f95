// Package targeting chooses which tracked projectile the robot should intercept, and when.
package targeting

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/projectile"
)

// Workspace is the region the end effector can reach: a sphere around the base cut by a floor.
type Workspace struct {
	Center r3.Vector `json:"center"`
	Radius float64   `json:"radius"`
	// Floor is the lowest reachable height.
	Floor float64 `json:"floor"`
}

// Contains reports whether p is inside the workspace.
func (w Workspace) Contains(p r3.Vector) bool {
	return p.Sub(w.Center).Norm() <= w.Radius && p.Z >= w.Floor
}

// Config configures a Selector.
type Config struct {
	Workspace Workspace `json:"workspace"`
	// HorizonSec is how far ahead intercepts are searched for.
	HorizonSec float64 `json:"horizon_sec"`
	// StepSec is the coarsest scan resolution; the entry time is then refined by bisection. The
	// step is shortened for fast projectiles so that a chord through the sphere longer than half
	// its radius is always sampled; shorter grazing chords can still be missed.
	StepSec float64 `json:"step_sec"`
	// MaxSpeed, when positive, also requires that the end effector can travel from its current
	// position to the intercept point at this speed (m/s) in time.
	MaxSpeed float64 `json:"max_speed"`
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	var err error
	if cfg.Workspace.Radius <= 0 {
		err = multierr.Append(err, errors.Errorf("workspace radius must be positive, got %v", cfg.Workspace.Radius))
	}
	if cfg.HorizonSec <= 0 || cfg.StepSec <= 0 || cfg.StepSec > cfg.HorizonSec {
		err = multierr.Append(err, errors.Errorf("need 0 < step (%v) <= horizon (%v)", cfg.StepSec, cfg.HorizonSec))
	}
	if cfg.MaxSpeed < 0 {
		err = multierr.Append(err, errors.New("max speed must not be negative"))
	}
	return err
}

// Decision is the outcome of one selection. Target is nil when nothing is reachable.
type Decision struct {
	Target            *projectile.Projectile
	InterceptTime     float64
	InterceptPoint    r3.Vector
	InterceptVelocity r3.Vector
}

// Found reports whether a target was selected.
func (d Decision) Found() bool {
	return d.Target != nil
}

// tieTolerance treats intercept times closer than this as equal.
const tieTolerance = 1e-9

// bisectTolerance is the precision of the refined entry time, in seconds.
const bisectTolerance = 1e-5

// Selector picks the projectile with the earliest reachable intercept.
type Selector struct {
	cfg Config
}

// NewSelector returns a Selector.
func NewSelector(cfg Config) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid selector config")
	}
	return &Selector{cfg: cfg}, nil
}

func (s *Selector) feasible(p projectile.Projectile, ee *r3.Vector, now, t float64) bool {
	pos := p.PositionAt(t)
	if !s.cfg.Workspace.Contains(pos) {
		return false
	}
	if s.cfg.MaxSpeed > 0 && ee != nil {
		return pos.Sub(*ee).Norm() <= s.cfg.MaxSpeed*(t-now)
	}
	return true
}

// EarliestIntercept returns the earliest time after now, within the horizon, at which p's
// predicted position is reachable. A projectile already inside the workspace is met at the first
// scan step.
func (s *Selector) EarliestIntercept(p projectile.Projectile, robot *dynamics.RobotState, now float64) (float64, bool) {
	var ee *r3.Vector
	if robot != nil {
		pos := robot.EEPosition
		ee = &pos
	}
	step := s.scanStep(p, now)
	prev, prevFeasible := now, s.feasible(p, ee, now, now)
	steps := int(math.Ceil(s.cfg.HorizonSec / step))
	for i := 1; i <= steps; i++ {
		t := math.Min(now+float64(i)*step, now+s.cfg.HorizonSec)
		if !s.feasible(p, ee, now, t) {
			prev, prevFeasible = t, false
			continue
		}
		if prevFeasible {
			return t, true
		}
		lo, hi := prev, t
		for hi-lo > bisectTolerance {
			mid := (lo + hi) / 2
			if s.feasible(p, ee, now, mid) {
				hi = mid
			} else {
				lo = mid
			}
		}
		return hi, true
	}
	return 0, false
}

// scanStep shortens StepSec so that p cannot travel more than a quarter of the workspace radius
// between two samples, bounding its speed over the horizon by |v(now)| + |a|·horizon.
func (s *Selector) scanStep(p projectile.Projectile, now float64) float64 {
	speed := p.VelocityAt(now).Norm() + p.A0.Norm()*s.cfg.HorizonSec
	if speed <= 0 {
		return s.cfg.StepSec
	}
	return math.Min(s.cfg.StepSec, s.cfg.Workspace.Radius/(4*speed))
}

// Select chooses among the confirmed projectiles of snap the one with the earliest reachable
// intercept, breaking ties by lowest id. If locked is not nil the robot is committed to it: it is
// kept while it is still tracked and reachable, whatever else appears. Projectiles whose ids are
// in excluded are never chosen.
func (s *Selector) Select(
	snap *projectile.Snapshot, robot *dynamics.RobotState, locked *projectile.Projectile, now float64,
	excluded map[int]struct{},
) Decision {
	if locked != nil {
		if p, ok := snap.Get(locked.ID); ok && p.Confirmed && !p.Expired {
			if t, ok := s.EarliestIntercept(p, nil, now); ok {
				return s.decision(p, t)
			}
		}
	}

	var best Decision
	for _, p := range snap.Confirmed() {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		t, ok := s.EarliestIntercept(p, robot, now)
		if !ok {
			continue
		}
		if !best.Found() || t < best.InterceptTime-tieTolerance {
			best = s.decision(p, t)
		}
	}
	return best
}

func (s *Selector) decision(p projectile.Projectile, t float64) Decision {
	return Decision{
		Target:            &p,
		InterceptTime:     t,
		InterceptPoint:    p.PositionAt(t),
		InterceptVelocity: p.VelocityAt(t),
	}
}
