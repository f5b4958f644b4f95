package vision

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
)

// SimSource observes the projectiles of a Generator at a fixed rate.
type SimSource struct {
	gen    *projectile.Generator
	period time.Duration
	clock  clock.Clock
	logger logging.Logger
}

// NewSimSource returns a SimSource emitting rateHz observations of every airborne projectile.
func NewSimSource(gen *projectile.Generator, rateHz float64, clk clock.Clock, logger logging.Logger) (*SimSource, error) {
	if rateHz <= 0 {
		return nil, errors.Errorf("simulated vision rate must be positive, got %v", rateHz)
	}
	return &SimSource{
		gen:    gen,
		period: time.Duration(float64(time.Second) / rateHz),
		clock:  clk,
		logger: logger,
	}, nil
}

// Run implements Source.
func (s *SimSource) Run(ctx context.Context, emit func(Measurement)) error {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		s.Observe(emit)
	}
}

// Observe advances the generator and emits one observation per airborne projectile.
func (s *SimSource) Observe(emit func(Measurement)) {
	for _, p := range s.gen.Update() {
		s.logger.Debugw("launch", "id", p.ID, "t0", p.T0, "v0", p.V0)
	}
	now := s.gen.Now()
	for _, p := range s.gen.Projectiles() {
		emit(Measurement{ID: p.ID, T: now, P: s.gen.ObservePosition(p)})
	}
}
