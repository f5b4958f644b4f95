package orchestrator

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/actuation"
	"github.com/imhunterand/iDA-projectile/config"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
	"github.com/imhunterand/iDA-projectile/render"
	"github.com/imhunterand/iDA-projectile/vision"
)

// NewSource builds the vision source selected by cfg. now stamps measurements that arrive without
// a usable timestamp.
func NewSource(cfg *config.Config, clk clock.Clock, now vision.Clock, logger logging.Logger) (vision.Source, error) {
	switch cfg.Vision.Kind {
	case vision.KindSim:
		gen, err := projectile.NewGenerator(cfg.Generator, clk)
		if err != nil {
			return nil, err
		}
		src, err := vision.NewSimSource(gen, cfg.Vision.RateHz, clk, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case vision.KindUDP:
		return vision.NewUDPSource(cfg.Vision.Address, now, cfg.Vision.Restamp, logger), nil
	case vision.KindNATS:
		return vision.NewNATSSource(cfg.Vision.Address, cfg.Vision.Subject, now, cfg.Vision.Restamp, logger), nil
	}
	return nil, errors.Errorf("unknown vision source kind %q", cfg.Vision.Kind)
}

// NewActuator builds the robot I/O selected by cfg.
func NewActuator(cfg *config.Config, clk clock.Clock, logger logging.Logger) (actuation.Actuator, error) {
	switch cfg.Actuator.Kind {
	case "sim":
		return actuation.NewSimActuator(cfg.DoF), nil
	case "serial":
		opts, err := cfg.Actuator.Serial.Normalize()
		if err != nil {
			return nil, err
		}
		open, err := actuation.PortOpener(opts)
		if err != nil {
			return nil, err
		}
		backoff := time.Duration(opts.ReconnectBackoffMs) * time.Millisecond
		return actuation.NewSerialActuator(cfg.DoF, open, backoff, clk, logger), nil
	}
	return nil, errors.Errorf("unknown actuator kind %q", cfg.Actuator.Kind)
}

// NewRenderer builds the rendering service selected by cfg. The handler is non-nil when the
// renderer must be served over HTTP. A nil Renderer means rendering is off.
func NewRenderer(cfg *config.Config, logger logging.Logger) (render.Renderer, http.Handler, error) {
	switch cfg.Render.Kind {
	case "none":
		return nil, nil, nil
	case "log":
		return render.NewLogRenderer(logger), nil, nil
	case "websocket":
		ws := render.NewWebsocketRenderer(logger)
		return render.Multi{render.NewLogRenderer(logger), ws}, ws, nil
	}
	return nil, nil, errors.Errorf("unknown render kind %q", cfg.Render.Kind)
}
