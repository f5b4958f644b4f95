package actuation

import (
	"context"

	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/utils"
)

// FailsafeConfig tunes the failure handling in front of an Actuator.
type FailsafeConfig struct {
	// MaxFailures is the number of consecutive failed cycles after which only zero torque is
	// sent until the link has recovered.
	MaxFailures int `json:"max_failures"`
	// ZeroOnShutdown sends zero torque instead of repeating the last command on shutdown.
	ZeroOnShutdown bool `json:"zero_on_shutdown"`
}

// Failsafe wraps an Actuator so the robot never receives a command computed from stale or failed
// I/O. A failed cycle leaves the robot holding the last command it accepted. After MaxFailures
// consecutive failures, the next command delivered is zero torque, and normal commands resume
// only on the cycle after that succeeds.
type Failsafe struct {
	act    Actuator
	dof    int
	cfg    FailsafeConfig
	logger logging.Logger

	lastGood     Command
	sendFailures int
	readFailures int
	tripped      bool
}

// NewFailsafe wraps act.
func NewFailsafe(act Actuator, dof int, cfg FailsafeConfig, logger logging.Logger) *Failsafe {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Failsafe{act: act, dof: dof, cfg: cfg, logger: logger, lastGood: ZeroTorque(dof)}
}

// Read reads the sensed state. Consecutive read failures count toward tripping.
func (f *Failsafe) Read(ctx context.Context) (Sensed, error) {
	sensed, err := f.act.Read(ctx)
	if err != nil {
		f.readFailures++
		if f.readFailures == f.cfg.MaxFailures {
			f.logger.Errorw("joint feedback lost", "failures", f.readFailures, "error", err)
			f.tripped = true
		}
		return Sensed{}, err
	}
	if err := utils.CheckLen("sensed joints", sensed.Q, f.dof); err != nil {
		return Sensed{}, err
	}
	f.readFailures = 0
	return sensed, nil
}

// Send delivers cmd, or zero torque while tripped. It returns the command the robot is now
// executing: the delivered one on success, the last accepted one on failure.
func (f *Failsafe) Send(ctx context.Context, cmd Command) (Command, error) {
	toSend := cmd
	if f.tripped || f.readFailures >= f.cfg.MaxFailures {
		toSend = ZeroTorque(f.dof)
	}
	if err := f.act.Send(ctx, toSend); err != nil {
		f.sendFailures++
		if f.sendFailures == 1 {
			f.logger.Warnw("command not delivered, robot holds last command", "error", err)
		}
		if f.sendFailures == f.cfg.MaxFailures {
			f.logger.Errorw("actuator failing, switching to zero torque", "failures", f.sendFailures)
			f.tripped = true
		}
		held := f.lastGood.Copy()
		held.Hold = true
		return held, err
	}

	if f.sendFailures > 0 {
		f.logger.Infow("actuator recovered", "failures", f.sendFailures)
	}
	f.sendFailures = 0
	if f.tripped && f.readFailures < f.cfg.MaxFailures {
		f.tripped = false
	}
	f.lastGood = toSend.Copy()
	return toSend, nil
}

// Failures is the number of consecutive failed sends or reads, whichever is larger.
func (f *Failsafe) Failures() int {
	if f.sendFailures > f.readFailures {
		return f.sendFailures
	}
	return f.readFailures
}

// Tripped reports whether commands are currently being replaced by zero torque.
func (f *Failsafe) Tripped() bool {
	return f.tripped
}

// Shutdown sends the final command: the last accepted command repeated as a hold, or zero
// torque when so configured.
func (f *Failsafe) Shutdown(ctx context.Context) (Command, error) {
	final := f.lastGood.Copy()
	if f.cfg.ZeroOnShutdown {
		final = ZeroTorque(f.dof)
	}
	final.Hold = true
	if err := f.act.Send(ctx, final); err != nil {
		return final, err
	}
	return final, nil
}

// Close closes the underlying actuator.
func (f *Failsafe) Close() error {
	return f.act.Close()
}
