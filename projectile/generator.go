package projectile

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/stat/distuv"
)

// GeneratorConfig configures simulated launches.
type GeneratorConfig struct {
	// MeanIntervalSec is the mean time between launches of the Poisson process.
	MeanIntervalSec float64 `json:"mean_interval_sec"`
	SpeedMean       float64 `json:"speed_mean"`
	SpeedStdDev     float64 `json:"speed_std_dev"`
	// Elevation angles are in radians above the horizontal.
	ElevationMean   float64 `json:"elevation_mean"`
	ElevationStdDev float64 `json:"elevation_std_dev"`
	// NoiseStdDev is the standard deviation of each observed coordinate, in meters.
	NoiseStdDev float64 `json:"noise_std_dev"`
	// Launches start at x = SpawnDistance, with y uniform in ±SpawnSpread, at SpawnHeight.
	SpawnDistance float64   `json:"spawn_distance"`
	SpawnSpread   float64   `json:"spawn_spread"`
	SpawnHeight   float64   `json:"spawn_height"`
	Target        r3.Vector `json:"target"`
	Gravity       r3.Vector `json:"gravity"`
	Seed          uint64    `json:"seed"`
}

// DefaultGeneratorConfig returns launches every two seconds from ten meters out.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MeanIntervalSec: 2,
		SpeedMean:       9,
		SpeedStdDev:     0.5,
		ElevationMean:   0.6,
		ElevationStdDev: 0.05,
		NoiseStdDev:     0.01,
		SpawnDistance:   10,
		SpawnSpread:     1,
		SpawnHeight:     1,
		Target:          r3.Vector{Z: 1},
		Gravity:         r3.Vector{Z: -9.81},
		Seed:            1,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg GeneratorConfig) Validate() error {
	var err error
	if cfg.MeanIntervalSec <= 0 {
		err = multierr.Append(err, errors.Errorf("mean launch interval must be positive, got %v", cfg.MeanIntervalSec))
	}
	if cfg.SpeedMean <= 0 {
		err = multierr.Append(err, errors.Errorf("mean speed must be positive, got %v", cfg.SpeedMean))
	}
	if cfg.SpeedStdDev < 0 || cfg.ElevationStdDev < 0 || cfg.NoiseStdDev < 0 {
		err = multierr.Append(err, errors.New("standard deviations must not be negative"))
	}
	if cfg.SpawnSpread < 0 {
		err = multierr.Append(err, errors.New("spawn spread must not be negative"))
	}
	return err
}

// Generator synthesizes projectile launches and noisy observations of them. Time is measured in
// seconds since the generator was created, on the given clock.
type Generator struct {
	cfg   GeneratorConfig
	clock clock.Clock
	start time.Time

	mu       sync.Mutex
	nextID   int
	pending  Projectile
	active   map[int]Projectile
	interval distuv.Exponential
	speed    distuv.Normal
	angle    distuv.Normal
	lateral  distuv.Uniform
	noise    distuv.Normal
}

// NewGenerator returns a Generator with its first launch scheduled.
func NewGenerator(cfg GeneratorConfig, clk clock.Clock) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid generator config")
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	g := &Generator{
		cfg:      cfg,
		clock:    clk,
		start:    clk.Now(),
		active:   map[int]Projectile{},
		interval: distuv.Exponential{Rate: 1 / cfg.MeanIntervalSec, Src: src},
		speed:    distuv.Normal{Mu: cfg.SpeedMean, Sigma: cfg.SpeedStdDev, Src: src},
		angle:    distuv.Normal{Mu: cfg.ElevationMean, Sigma: cfg.ElevationStdDev, Src: src},
		lateral:  distuv.Uniform{Min: -cfg.SpawnSpread, Max: cfg.SpawnSpread, Src: src},
		noise:    distuv.Normal{Mu: 0, Sigma: cfg.NoiseStdDev, Src: src},
	}
	g.pending = g.schedule(g.interval.Rand())
	return g, nil
}

// Now returns the simulated time in seconds.
func (g *Generator) Now() float64 {
	return g.clock.Since(g.start).Seconds()
}

// schedule draws a launch at time t. Callers hold mu or own g exclusively.
func (g *Generator) schedule(t float64) Projectile {
	g.nextID++
	origin := r3.Vector{X: g.cfg.SpawnDistance, Y: g.lateral.Rand(), Z: g.cfg.SpawnHeight}
	heading := g.cfg.Target.Sub(origin)
	heading.Z = 0
	if heading.Norm() == 0 {
		heading = r3.Vector{X: -1}
	}
	heading = heading.Normalize()

	speed := math.Abs(g.speed.Rand())
	elevation := g.angle.Rand()
	v0 := heading.Mul(speed * math.Cos(elevation)).Add(r3.Vector{Z: speed * math.Sin(elevation)})

	return Projectile{
		ID:        g.nextID,
		T0:        t,
		P0:        origin,
		V0:        v0,
		A0:        g.cfg.Gravity,
		P:         origin,
		LastSeen:  t,
		Quality:   1,
		Confirmed: true,
	}
}

// NextProjectile returns the launch that is scheduled but has not happened yet.
func (g *Generator) NextProjectile() Projectile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Update advances to the current time: every pending launch whose time has passed becomes active
// and the following launch is scheduled. Active projectiles that have landed are dropped.
// The newly launched projectiles are returned.
func (g *Generator) Update() []Projectile {
	now := g.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	var launched []Projectile
	for g.pending.T0 <= now {
		launched = append(launched, g.pending)
		g.active[g.pending.ID] = g.pending
		g.pending = g.schedule(g.pending.T0 + g.interval.Rand())
	}
	for id, p := range g.active {
		if p.PositionAt(now).Z < 0 {
			delete(g.active, id)
		}
	}
	return launched
}

// Projectiles returns the active projectiles ordered by id.
func (g *Generator) Projectiles() []Projectile {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := &Snapshot{Projectiles: g.active}
	return snap.Sorted()
}

// ObservePosition returns p's true position at the current time plus independent Gaussian noise
// on each axis.
func (g *Generator) ObservePosition(p Projectile) r3.Vector {
	now := g.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	truth := p.PositionAt(now)
	if g.cfg.NoiseStdDev == 0 {
		return truth
	}
	return truth.Add(r3.Vector{X: g.noise.Rand(), Y: g.noise.Rand(), Z: g.noise.Rand()})
}
