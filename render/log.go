package render

import (
	"context"

	"github.com/imhunterand/iDA-projectile/logging"
)

// LogRenderer writes a one line summary of every frame at debug level, and every mode change at
// info level.
type LogRenderer struct {
	logger   logging.Logger
	lastMode string
}

// NewLogRenderer returns a LogRenderer.
func NewLogRenderer(logger logging.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

// Render implements Renderer.
func (r *LogRenderer) Render(ctx context.Context, frame Frame) error {
	if frame.Mode != r.lastMode {
		r.logger.Infow("mode", "mode", frame.Mode, "target", frame.TargetID, "engagement", frame.EngagementID)
		r.lastMode = frame.Mode
	}
	r.logger.Debugw("frame",
		"t", frame.Time,
		"mode", frame.Mode,
		"projectiles", len(frame.Projectiles),
		"ee", frame.EndEffector,
		"torque", frame.Torque,
	)
	return nil
}
