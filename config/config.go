// Package config defines the interceptor's configuration file. A file only needs the values it
// changes: Read overlays it on Default and validates the result.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/imhunterand/iDA-projectile/actuation"
	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/interception"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
	"github.com/imhunterand/iDA-projectile/targeting"
	"github.com/imhunterand/iDA-projectile/utils"
	"github.com/imhunterand/iDA-projectile/vision"
)

// ActuatorConfig selects and configures the robot I/O.
type ActuatorConfig struct {
	// Kind is "sim" or "serial".
	Kind   string                 `json:"kind"`
	Serial actuation.SerialConfig `json:"serial"`
	// PositionControl sends the integrated joint positions instead of torques.
	PositionControl bool                     `json:"position_control"`
	Failsafe        actuation.FailsafeConfig `json:"failsafe"`
}

// RenderConfig selects the rendering service.
type RenderConfig struct {
	// Kind is "none", "log" or "websocket".
	Kind string `json:"kind"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  logging.Level                 `json:"level"`
	File   *logging.FileConfig           `json:"file,omitempty"`
	// Levels overrides Level for loggers whose names match, e.g. {"pattern": "*.vision", "level": "debug"}.
	Levels []logging.LoggerPatternConfig `json:"levels,omitempty"`
}

// Config is the full interceptor configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	DoF        int  `json:"dof"`
	Simulation bool `json:"simulation"`

	ControlHz  float64 `json:"control_hz"`
	RobotHz    float64 `json:"robot_hz"`
	GraphicsHz float64 `json:"graphics_hz"`

	// Strategy, when set, forces one control strategy for every setpoint.
	Strategy control.Strategy `json:"strategy,omitempty"`
	// Gains defaults to control.DefaultGains for the robot's joint limits.
	Gains *control.Gains `json:"gains,omitempty"`

	Targeting    targeting.Config           `json:"targeting"`
	Interception interception.Config        `json:"interception"`
	Estimator    projectile.EstimatorConfig `json:"estimator"`
	Generator    projectile.GeneratorConfig `json:"generator"`
	Robot        dynamics.ChainConfig       `json:"robot"`
	Vision       vision.Config              `json:"vision"`
	Actuator     ActuatorConfig             `json:"actuator"`
	Render       RenderConfig               `json:"render"`
	Log          LogConfig                  `json:"log"`

	// HTTPAddr serves /metrics and, with the websocket renderer, /ws. Empty disables it.
	HTTPAddr string `json:"http_addr"`
	// Shell reads operator commands from stdin.
	Shell bool `json:"shell"`
}

// Default returns a runnable simulated setup of the default 4 joint arm.
func Default() *Config {
	robot := dynamics.DefaultChainConfig()
	generator := projectile.DefaultGeneratorConfig()
	generator.ElevationMean = 0.65
	cfg := &Config{
		Simulation: true,
		ControlHz:  1000,
		RobotHz:    1000,
		GraphicsHz: 30,
		Targeting: targeting.Config{
			Workspace:  targeting.Workspace{Center: r3.Vector{Z: robot.BaseHeight}, Radius: 1.4, Floor: 0.2},
			HorizonSec: 3,
			StepSec:    0.01,
		},
		Interception: interception.Config{
			InterceptThresholdSec: 0.4,
			RecoverTolerance:      0.05,
			TrackingStrategy:      control.FullTaskSpace,
			InterceptStrategy:     control.IncrementalTaskSpace,
			ReadyJoints:           []float64{0, 0.6, -1.2, 0.6},
		},
		Estimator: projectile.DefaultEstimatorConfig(),
		Generator: generator,
		Robot:     robot,
		Vision:    vision.Config{Kind: vision.KindSim, RateHz: 100, QueueSize: 256},
		Actuator: ActuatorConfig{
			Kind:     "sim",
			Failsafe: actuation.FailsafeConfig{MaxFailures: 50, ZeroOnShutdown: true},
		},
		Render:   RenderConfig{Kind: "log"},
		Log:      LogConfig{Level: logging.INFO},
		HTTPAddr: "localhost:8080",
		Shell:    true,
	}
	cfg.Complete()
	return cfg
}

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", filePath)
	}
	cfg, err := FromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", filePath)
	}
	cfg.ConfigFilePath = filePath
	return cfg, nil
}

// FromReader decodes a config over Default, fills derived defaults and validates it.
func FromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	// derived unless the file sets them
	cfg.DoF, cfg.Gains = 0, nil
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json")
	}
	cfg.Complete()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Complete fills values derived from other sections.
func (cfg *Config) Complete() {
	if cfg.DoF == 0 {
		cfg.DoF = cfg.Robot.DoF()
	}
	if cfg.Gains == nil {
		gains := control.DefaultGains(cfg.Robot.Limits)
		cfg.Gains = &gains
	}
	for _, s := range []*control.Strategy{&cfg.Strategy, &cfg.Interception.TrackingStrategy, &cfg.Interception.InterceptStrategy} {
		if *s == "" {
			continue
		}
		// unparsable names are left for Validate to report
		if parsed, err := control.ParseStrategy(string(*s)); err == nil {
			*s = parsed
		}
	}
	cfg.Actuator.Kind = strings.ToLower(cfg.Actuator.Kind)
	cfg.Render.Kind = strings.ToLower(cfg.Render.Kind)
	cfg.Vision.Kind = vision.Kind(strings.ToLower(string(cfg.Vision.Kind)))
}

// Validate ensures all parts of the config are valid. Every problem found is reported.
func (cfg *Config) Validate() error {
	var err error
	if rerr := cfg.Robot.Validate(); rerr != nil {
		err = multierr.Append(err, errors.Wrap(rerr, "robot"))
	}
	if cfg.DoF != cfg.Robot.DoF() {
		err = multierr.Append(err, utils.NewDimensionMismatchError("robot joints", cfg.DoF, cfg.Robot.DoF()))
	}
	for _, rate := range []struct {
		what string
		hz   float64
	}{
		{"control_hz", cfg.ControlHz},
		{"robot_hz", cfg.RobotHz},
		{"graphics_hz", cfg.GraphicsHz},
	} {
		if rate.hz <= 0 {
			err = multierr.Append(err, errors.Errorf("%s must be positive, got %v", rate.what, rate.hz))
		}
	}
	if cfg.Strategy != "" {
		if _, serr := control.ParseStrategy(string(cfg.Strategy)); serr != nil {
			err = multierr.Append(err, serr)
		}
	}
	if cfg.Gains == nil {
		err = multierr.Append(err, errors.New("gains missing"))
	} else if gerr := cfg.Gains.Validate(cfg.DoF); gerr != nil {
		err = multierr.Append(err, errors.Wrap(gerr, "gains"))
	}
	if terr := cfg.Targeting.Validate(); terr != nil {
		err = multierr.Append(err, errors.Wrap(terr, "targeting"))
	}
	if ierr := cfg.Interception.Validate(cfg.DoF); ierr != nil {
		err = multierr.Append(err, errors.Wrap(ierr, "interception"))
	}
	if eerr := cfg.Estimator.Validate(); eerr != nil {
		err = multierr.Append(err, errors.Wrap(eerr, "estimator"))
	}
	if verr := cfg.Vision.Validate(); verr != nil {
		err = multierr.Append(err, errors.Wrap(verr, "vision"))
	}
	if cfg.Vision.Kind == vision.KindSim {
		if gerr := cfg.Generator.Validate(); gerr != nil {
			err = multierr.Append(err, errors.Wrap(gerr, "generator"))
		}
	}

	switch cfg.Actuator.Kind {
	case "sim":
		if !cfg.Simulation {
			err = multierr.Append(err, errors.New("the sim actuator requires simulation mode"))
		}
	case "serial":
		if cfg.Simulation {
			err = multierr.Append(err, errors.New("the serial actuator cannot be used in simulation mode"))
		}
		if _, serr := cfg.Actuator.Serial.Normalize(); serr != nil {
			err = multierr.Append(err, errors.Wrap(serr, "actuator"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown actuator kind %q", cfg.Actuator.Kind))
	}
	for _, lpc := range cfg.Log.Levels {
		if lerr := lpc.Validate(); lerr != nil {
			err = multierr.Append(err, errors.Wrap(lerr, "log levels"))
		}
	}
	if cfg.Actuator.Failsafe.MaxFailures < 1 {
		err = multierr.Append(err, errors.New("actuator failsafe max_failures must be at least 1"))
	}

	switch cfg.Render.Kind {
	case "none", "log":
	case "websocket":
		if cfg.HTTPAddr == "" {
			err = multierr.Append(err, errors.New("the websocket renderer needs http_addr"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown render kind %q", cfg.Render.Kind))
	}
	return err
}
