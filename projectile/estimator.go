package projectile

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/imhunterand/iDA-projectile/logging"
)

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	Gravity r3.Vector `json:"gravity"`
	// TimeoutSec expires a projectile that has not been measured for this long.
	TimeoutSec float64 `json:"timeout_sec"`
}

// DefaultEstimatorConfig returns earth gravity and a one second timeout.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{Gravity: r3.Vector{Z: -9.81}, TimeoutSec: 1}
}

// Validate ensures all parts of the config are valid.
func (cfg EstimatorConfig) Validate() error {
	if cfg.TimeoutSec <= 0 {
		return errors.Errorf("estimator timeout must be positive, got %v", cfg.TimeoutSec)
	}
	return nil
}

type sample struct {
	t float64
	p r3.Vector
}

type track struct {
	proj    Projectile
	history []sample
	times   map[float64]struct{}
}

// Estimator fits a ballistic trajectory to every projectile id it has been given samples for.
// The full measurement history of each id is refit on every new sample.
type Estimator struct {
	cfg    EstimatorConfig
	logger logging.Logger

	mu      sync.Mutex
	tracks  map[int]*track
	version uint64
}

// NewEstimator returns an empty Estimator.
func NewEstimator(cfg EstimatorConfig, logger logging.Logger) *Estimator {
	return &Estimator{
		cfg:    cfg,
		logger: logger,
		tracks: map[int]*track{},
	}
}

// Ingest adds a measurement of projectile id at time t and refits its trajectory.
// Fewer than two distinct timestamps leave the projectile unconfirmed, which is not an error.
func (e *Estimator) Ingest(id int, t float64, p r3.Vector) (Projectile, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) || !isFinite(p) {
		return Projectile{}, errors.Errorf("projectile %d: non-finite measurement t=%v p=%v", id, t, p)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.tracks[id]
	if !ok {
		tr = &track{
			proj: Projectile{
				ID: id,
				T0: t,
				P0: p,
				A0: e.cfg.Gravity,
			},
			times: map[float64]struct{}{},
		}
		e.tracks[id] = tr
		e.logger.Debugw("tracking new projectile", "id", id, "t", t)
	}
	tr.history = append(tr.history, sample{t: t, p: p})
	tr.times[t] = struct{}{}

	proj := &tr.proj
	proj.Samples = len(tr.history)
	proj.Quality = 1 - 1/float64(proj.Samples)
	if t >= proj.LastSeen || proj.Samples == 1 {
		proj.P = p
		proj.LastSeen = t
	}

	if len(tr.times) >= 2 {
		p0, v0, rms, err := fit(tr.history, proj.T0, proj.A0)
		if err != nil {
			// keep the previous estimate; more samples will resolve it
			e.logger.Warnw("trajectory fit failed", "id", id, "error", err)
		} else {
			if !proj.Confirmed {
				e.logger.Debugw("projectile confirmed", "id", id, "v0", v0)
			}
			proj.P0, proj.V0, proj.Residual = p0, v0, rms
			proj.Confirmed = true
		}
	}
	e.version++
	return *proj, nil
}

// Tick removes projectiles that have landed or timed out by now and returns them marked expired.
func (e *Estimator) Tick(now float64) []Projectile {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []Projectile
	for id, tr := range e.tracks {
		if !e.isExpired(tr.proj, now) {
			continue
		}
		proj := tr.proj
		proj.Expired = true
		expired = append(expired, proj)
		delete(e.tracks, id)
		e.logger.Debugw("projectile expired", "id", id, "now", now, "samples", proj.Samples)
	}
	if len(expired) > 0 {
		e.version++
	}
	return expired
}

func (e *Estimator) isExpired(p Projectile, now float64) bool {
	if now-p.LastSeen > e.cfg.TimeoutSec {
		return true
	}
	if p.Confirmed {
		return p.PositionAt(now).Z <= 0
	}
	return p.P.Z <= 0
}

// Snapshot returns a copy of every live projectile.
func (e *Estimator) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := &Snapshot{
		Version:     e.version,
		Projectiles: make(map[int]Projectile, len(e.tracks)),
	}
	for id, tr := range e.tracks {
		snap.Projectiles[id] = tr.proj
	}
	return snap
}

// Len returns the number of tracked projectiles.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracks)
}

// Reset forgets every projectile.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracks = map[int]*track{}
	e.version++
}

// fit solves, per axis, the least squares problem
// p_i − ½·a·τ_i² = p0 + v0·τ_i with τ_i = t_i − t0.
func fit(history []sample, t0 float64, accel r3.Vector) (p0, v0 r3.Vector, rms float64, err error) {
	n := len(history)
	design := mat.NewDense(n, 2, nil)
	obs := mat.NewDense(n, 3, nil)
	for i, s := range history {
		tau := s.t - t0
		design.Set(i, 0, 1)
		design.Set(i, 1, tau)
		free := s.p.Sub(accel.Mul(0.5 * tau * tau))
		obs.Set(i, 0, free.X)
		obs.Set(i, 1, free.Y)
		obs.Set(i, 2, free.Z)
	}

	var qr mat.QR
	qr.Factorize(design)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, obs); err != nil {
		return r3.Vector{}, r3.Vector{}, 0, errors.Wrap(err, "least squares solve")
	}
	p0 = r3.Vector{X: sol.At(0, 0), Y: sol.At(0, 1), Z: sol.At(0, 2)}
	v0 = r3.Vector{X: sol.At(1, 0), Y: sol.At(1, 1), Z: sol.At(1, 2)}

	var sum float64
	for _, s := range history {
		tau := s.t - t0
		pred := p0.Add(v0.Mul(tau)).Add(accel.Mul(0.5 * tau * tau))
		sum += pred.Sub(s.p).Norm2()
	}
	return p0, v0, math.Sqrt(sum / float64(n)), nil
}

func isFinite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
