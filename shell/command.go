// Package shell implements the operator command language. Commands are parsed from text lines
// and applied to the shared block inside one short critical section; they take effect on the
// next control cycle.
package shell

import (
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/imhunterand/iDA-projectile/arena"
	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/spatialmath"
	"github.com/imhunterand/iDA-projectile/utils"
)

// ErrQuit is returned by Run after a quit command.
var ErrQuit = errors.New("quit requested")

// Verb names a command.
type Verb string

// The command verbs. Angles are in radians.
const (
	VerbGains     Verb = "gains"     // gains kp_p kv_p kp_r kv_r
	VerbJGains    Verb = "jgains"    // jgains kp kv
	VerbFriction  Verb = "friction"  // friction kv
	VerbPos       Verb = "pos"       // pos x y z
	VerbOri       Verb = "ori"       // ori roll pitch yaw
	VerbQuat      Verb = "quat"      // quat w x y z
	VerbTranslate Verb = "translate" // translate dx dy dz
	VerbRotate    Verb = "rotate"    // rotate roll pitch yaw
	VerbJoints    Verb = "joints"    // joints q1 ... qn
	VerbStrategy  Verb = "strategy"  // strategy name|auto
	VerbRelease   Verb = "release"   // drop the pose override
	VerbPause     Verb = "pause"
	VerbResume    Verb = "resume"
	VerbReset     Verb = "reset"
	VerbState     Verb = "state"
	VerbLogLevel  Verb = "loglevel" // loglevel pattern level
	VerbQuit      Verb = "quit"
	VerbHelp      Verb = "help"
	// VerbSetGains replaces the whole gain set; it is produced by gain reloads, not parsed.
	VerbSetGains Verb = "setgains"
)

var arity = map[Verb]int{
	VerbGains:     4,
	VerbJGains:    2,
	VerbFriction:  1,
	VerbPos:       3,
	VerbOri:       3,
	VerbQuat:      4,
	VerbTranslate: 3,
	VerbRotate:    3,
	VerbRelease:   0,
	VerbPause:     0,
	VerbResume:    0,
	VerbReset:     0,
	VerbState:     0,
	VerbQuit:      0,
	VerbHelp:      0,
}

// Help is the usage text printed by the help command.
const Help = `commands (angles in radians):
  gains kp_p kv_p kp_r kv_r   task space gains
  jgains kp kv                joint space gains, all joints
  friction kv                 joint friction damping
  pos x y z                   desired end effector position
  ori roll pitch yaw          desired end effector orientation
  quat w x y z                desired end effector orientation
  translate dx dy dz          move the desired position
  rotate roll pitch yaw       rotate the desired orientation
  joints q1 ... qn            desired joint configuration
  strategy name|auto          force a control strategy
  release                     return control to the state machine
  pause | resume | reset      state machine control
  state                       print the controller state
  loglevel pattern level      e.g. loglevel *.vision debug
  quit                        shut down`

// Command is one parsed operator command.
type Command struct {
	Verb Verb
	Args []float64
	// Word is the argument of the strategy command, or the logger pattern of loglevel.
	Word     string
	LogLevel logging.Level
	Gains    *control.Gains
}

// SetGains returns the command installing g.
func SetGains(g control.Gains) Command {
	return Command{Verb: VerbSetGains, Gains: &g}
}

// Parse parses one command line. Empty lines and lines starting with # parse to a zero Command.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return Command{}, nil
	}
	cmd := Command{Verb: Verb(strings.ToLower(fields[0]))}
	rest := fields[1:]

	if cmd.Verb == VerbStrategy {
		if len(rest) != 1 {
			return Command{}, errors.New("usage: strategy name|auto")
		}
		cmd.Word = strings.ToLower(rest[0])
		if cmd.Word != "auto" {
			s, err := control.ParseStrategy(cmd.Word)
			if err != nil {
				return Command{}, err
			}
			cmd.Word = string(s)
		}
		return cmd, nil
	}

	if cmd.Verb == VerbLogLevel {
		if len(rest) != 2 {
			return Command{}, errors.New("usage: loglevel pattern level")
		}
		level, err := logging.LevelFromString(rest[1])
		if err != nil {
			return Command{}, err
		}
		cmd.Word = rest[0]
		cmd.LogLevel = level
		return cmd, nil
	}

	want, known := arity[cmd.Verb]
	if !known && cmd.Verb != VerbJoints {
		return Command{}, errors.Errorf("unknown command %q, try help", fields[0])
	}
	for _, f := range rest {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Command{}, errors.Wrapf(err, "%s: bad number %q", cmd.Verb, f)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Command{}, errors.Errorf("%s: %q is not a finite number", cmd.Verb, f)
		}
		cmd.Args = append(cmd.Args, v)
	}
	if known && len(cmd.Args) != want {
		return Command{}, errors.Errorf("%s takes %d arguments, got %d", cmd.Verb, want, len(cmd.Args))
	}
	if cmd.Verb == VerbJoints && len(cmd.Args) == 0 {
		return Command{}, errors.New("joints needs one value per joint")
	}
	return cmd, nil
}

// IsZero reports whether c is the empty command.
func (c Command) IsZero() bool {
	return c.Verb == ""
}

// Apply performs the command on b. It must be called with the arena lock held. On error b is
// unchanged.
func (c Command) Apply(b *arena.Block) error {
	switch c.Verb {
	case "", VerbState, VerbHelp, VerbLogLevel:
		return nil
	case VerbGains, VerbJGains, VerbFriction, VerbSetGains:
		return c.applyGains(b)
	case VerbPos, VerbOri, VerbQuat, VerbTranslate, VerbRotate, VerbJoints:
		return c.applyPose(b)
	case VerbStrategy:
		if c.Word == "auto" {
			b.Strategy = ""
		} else {
			b.Strategy = control.Strategy(c.Word)
		}
	case VerbRelease:
		b.Override = nil
	case VerbPause:
		b.Paused = true
	case VerbResume:
		b.Paused = false
	case VerbReset:
		b.Override = nil
		b.ResetRequested = true
	case VerbQuit:
		b.Finished = true
	default:
		return errors.Errorf("unknown command %q", c.Verb)
	}
	return nil
}

func (c Command) applyGains(b *arena.Block) error {
	if b.Gains == nil || b.Robot == nil {
		return errors.New("controller not initialized")
	}
	next := b.Gains.Copy()
	switch c.Verb {
	case VerbGains:
		next.KpPosition, next.KvPosition, next.KpRotation, next.KvRotation = c.Args[0], c.Args[1], c.Args[2], c.Args[3]
	case VerbJGains:
		for i := range next.KpJoint {
			next.KpJoint[i] = c.Args[0]
		}
		for i := range next.KvJoint {
			next.KvJoint[i] = c.Args[1]
		}
	case VerbFriction:
		next.KvFriction = c.Args[0]
	case VerbSetGains:
		if c.Gains == nil {
			return errors.New("no gains given")
		}
		next = c.Gains.Copy()
	}
	if err := next.Validate(b.Robot.DoF()); err != nil {
		return errors.Wrap(err, "rejected gains")
	}
	b.Gains = next
	return nil
}

// poseBase is the setpoint a pose command modifies: the current override, else the setpoint
// being tracked, else the current end effector pose.
func poseBase(b *arena.Block) *control.Setpoint {
	switch {
	case b.Override != nil:
		return b.Override.Copy()
	case b.Setpoint != nil:
		return b.Setpoint.Copy()
	}
	return &control.Setpoint{
		Position: b.Robot.EEPosition,
		Rotation: b.Robot.EERotation,
		Joints:   utils.CopyFloats(b.Robot.Q),
		Strategy: control.FullTaskSpace,
	}
}

func (c Command) applyPose(b *arena.Block) error {
	if b.Robot == nil {
		return errors.New("controller not initialized")
	}
	sp := poseBase(b)
	if sp.Rotation == nil {
		sp.Rotation = b.Robot.EERotation
	}
	if sp.Joints == nil {
		sp.Joints = utils.CopyFloats(b.Robot.Q)
	}
	taskSpace := true
	vec := func() r3.Vector { return r3.Vector{X: c.Args[0], Y: c.Args[1], Z: c.Args[2]} }

	switch c.Verb {
	case VerbPos:
		sp.Position = vec()
	case VerbTranslate:
		sp.Position = sp.Position.Add(vec())
	case VerbOri:
		sp.Rotation = (&spatialmath.EulerAngles{Roll: c.Args[0], Pitch: c.Args[1], Yaw: c.Args[2]}).RotationMatrix()
	case VerbQuat:
		q := quat.Number{Real: c.Args[0], Imag: c.Args[1], Jmag: c.Args[2], Kmag: c.Args[3]}
		if quat.Abs(q) == 0 {
			return errors.New("quat: zero quaternion")
		}
		sp.Rotation = spatialmath.QuatToRotationMatrix(quat.Scale(1/quat.Abs(q), q))
	case VerbRotate:
		delta := (&spatialmath.EulerAngles{Roll: c.Args[0], Pitch: c.Args[1], Yaw: c.Args[2]}).RotationMatrix()
		sp.Rotation = delta.Mul(sp.Rotation).Orthonormalize()
	case VerbJoints:
		if err := utils.CheckLen("joints", c.Args, b.Robot.DoF()); err != nil {
			return err
		}
		sp.Joints = utils.CopyFloats(c.Args)
		taskSpace = false
	}

	switch {
	case !taskSpace:
		sp.Strategy = control.JointSpace
	case sp.Strategy == control.JointSpace || sp.Strategy == "":
		sp.Strategy = control.FullTaskSpace
	}
	b.Override = sp
	return nil
}
