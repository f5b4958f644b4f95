// Package projectile estimates ballistic trajectories from noisy position samples and, for
// simulation, generates projectile launches.
package projectile

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// Projectile is a ballistic trajectory estimate
// p(t) = P0 + V0·(t−T0) + ½·A0·(t−T0)².
type Projectile struct {
	ID int     `json:"id"`
	T0 float64 `json:"t0"`

	P0 r3.Vector `json:"p0"`
	V0 r3.Vector `json:"v0"`
	A0 r3.Vector `json:"a0"`

	// P is the most recently measured position, observed at LastSeen.
	P        r3.Vector `json:"p"`
	LastSeen float64   `json:"last_seen"`

	Samples int `json:"samples"`
	// Quality grows monotonically with the number of samples, from 0 towards 1.
	Quality float64 `json:"quality"`
	// Residual is the RMS fit error in meters.
	Residual float64 `json:"residual"`

	// Confirmed is set once two samples with distinct timestamps have been fit.
	Confirmed bool `json:"confirmed"`
	Expired   bool `json:"expired"`
}

// PositionAt returns the predicted position at time t.
func (p Projectile) PositionAt(t float64) r3.Vector {
	dt := t - p.T0
	return p.P0.Add(p.V0.Mul(dt)).Add(p.A0.Mul(0.5 * dt * dt))
}

// VelocityAt returns the predicted velocity at time t.
func (p Projectile) VelocityAt(t float64) r3.Vector {
	return p.V0.Add(p.A0.Mul(t - p.T0))
}

// GroundTime returns the later time at which the predicted height is zero. The boolean is false
// when the trajectory never reaches the ground.
func (p Projectile) GroundTime() (float64, bool) {
	a, v, z := 0.5*p.A0.Z, p.V0.Z, p.P0.Z
	if a == 0 {
		if v >= 0 {
			return 0, false
		}
		return p.T0 - z/v, true
	}
	disc := v*v - 4*a*z
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	r1, r2 := (-v+sq)/(2*a), (-v-sq)/(2*a)
	return p.T0 + math.Max(r1, r2), true
}

// Snapshot is an immutable view of the tracked projectiles. Expired projectiles are never present.
type Snapshot struct {
	// Version increases every time the estimator changes.
	Version     uint64
	Projectiles map[int]Projectile
}

// Len returns the number of projectiles.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Projectiles)
}

// Get returns the projectile with the given id.
func (s *Snapshot) Get(id int) (Projectile, bool) {
	if s == nil {
		return Projectile{}, false
	}
	p, ok := s.Projectiles[id]
	return p, ok
}

// Sorted returns the projectiles ordered by id.
func (s *Snapshot) Sorted() []Projectile {
	if s == nil {
		return nil
	}
	out := make([]Projectile, 0, len(s.Projectiles))
	for _, p := range s.Projectiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Confirmed returns the confirmed projectiles ordered by id.
func (s *Snapshot) Confirmed() []Projectile {
	all := s.Sorted()
	out := all[:0]
	for _, p := range all {
		if p.Confirmed && !p.Expired {
			out = append(out, p)
		}
	}
	return out
}
