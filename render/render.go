// Package render publishes read-only views of the interceptor state. Renderers receive copies
// taken by the graphics loop and never touch the shared arena.
package render

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/imhunterand/iDA-projectile/arena"
)

// Renderer displays one frame. Render must not block for long; slow consumers drop frames.
type Renderer interface {
	Render(ctx context.Context, frame Frame) error
}

// ProjectileView is one tracked projectile in a frame.
type ProjectileView struct {
	ID        int       `json:"id"`
	Position  r3.Vector `json:"position"`
	Velocity  r3.Vector `json:"velocity"`
	Confirmed bool      `json:"confirmed"`
	Quality   float64   `json:"quality"`
}

// Frame is what a renderer shows.
type Frame struct {
	Time         float64          `json:"time"`
	Mode         string           `json:"mode"`
	Paused       bool             `json:"paused"`
	EngagementID string           `json:"engagement_id,omitempty"`
	TargetID     int              `json:"target_id"`
	Intercept    *r3.Vector       `json:"intercept,omitempty"`
	Joints       []float64        `json:"joints"`
	EndEffector  r3.Vector        `json:"end_effector"`
	Desired      *r3.Vector       `json:"desired,omitempty"`
	Torque       []float64        `json:"torque"`
	Projectiles  []ProjectileView `json:"projectiles"`
}

// NewFrame builds a frame from a copy of the shared block.
func NewFrame(b arena.Block) Frame {
	f := Frame{
		Time:         b.Time,
		Mode:         b.Interception.Mode.String(),
		Paused:       b.Paused,
		EngagementID: b.Interception.EngagementID,
		TargetID:     -1,
		Torque:       b.Command.Torque,
		Projectiles:  []ProjectileView{},
	}
	if b.Interception.Target != nil {
		f.TargetID = b.Interception.Target.ID
		point := b.Interception.InterceptPoint
		f.Intercept = &point
	}
	if b.Robot != nil {
		f.Joints = b.Robot.Q
		f.EndEffector = b.Robot.EEPosition
	}
	if b.Setpoint != nil {
		desired := b.Setpoint.Position
		f.Desired = &desired
	}
	for _, p := range b.Projectiles.Sorted() {
		f.Projectiles = append(f.Projectiles, ProjectileView{
			ID:        p.ID,
			Position:  p.P,
			Velocity:  p.VelocityAt(p.LastSeen),
			Confirmed: p.Confirmed,
			Quality:   p.Quality,
		})
	}
	return f
}

// Multi renders to every renderer, returning the first error after trying all of them.
type Multi []Renderer

// Render implements Renderer.
func (m Multi) Render(ctx context.Context, frame Frame) error {
	var first error
	for _, r := range m {
		if err := r.Render(ctx, frame); err != nil && first == nil {
			first = err
		}
	}
	return first
}
