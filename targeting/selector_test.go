package targeting

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/imhunterand/iDA-projectile/dynamics"
	"github.com/imhunterand/iDA-projectile/projectile"
)

var testConfig = Config{
	Workspace:  Workspace{Center: r3.Vector{Z: 0.5}, Radius: 1.6, Floor: 0},
	HorizonSec: 5,
	StepSec:    0.05,
}

// incoming flies along -x at 5 m/s, at the height of the workspace center, with no gravity.
func incoming(id int, x0 float64) projectile.Projectile {
	return projectile.Projectile{
		ID:        id,
		P0:        r3.Vector{X: x0, Z: 0.5},
		V0:        r3.Vector{X: -5},
		Confirmed: true,
		Samples:   5,
	}
}

func snapshotOf(ps ...projectile.Projectile) *projectile.Snapshot {
	snap := &projectile.Snapshot{Projectiles: map[int]projectile.Projectile{}}
	for _, p := range ps {
		snap.Projectiles[p.ID] = p
	}
	return snap
}

func newTestSelector(t *testing.T, cfg Config) *Selector {
	t.Helper()
	sel, err := NewSelector(cfg)
	test.That(t, err, test.ShouldBeNil)
	return sel
}

func TestWorkspaceContains(t *testing.T) {
	w := testConfig.Workspace
	test.That(t, w.Contains(r3.Vector{X: 1, Z: 0.5}), test.ShouldBeTrue)
	test.That(t, w.Contains(r3.Vector{X: 2, Z: 0.5}), test.ShouldBeFalse)
	test.That(t, w.Contains(r3.Vector{X: 0.5, Z: -0.1}), test.ShouldBeFalse)
}

func TestEarliestIntercept(t *testing.T) {
	sel := newTestSelector(t, testConfig)
	tInt, ok := sel.EarliestIntercept(incoming(1, 10), nil, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tInt, test.ShouldAlmostEqual, (10-1.6)/5, 1e-4)
	test.That(t, tInt, test.ShouldBeGreaterThanOrEqualTo, (10-1.6)/5)

	// already inside: met at the first step, never at now
	tInt, ok = sel.EarliestIntercept(incoming(1, 1), nil, 0.25)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tInt, test.ShouldBeGreaterThan, 0.25)
	test.That(t, tInt, test.ShouldAlmostEqual, 0.3, 1e-9)

	// flying away
	away := incoming(1, 3)
	away.V0 = r3.Vector{X: 5}
	_, ok = sel.EarliestIntercept(away, nil, 0)
	test.That(t, ok, test.ShouldBeFalse)

	// beyond the horizon
	_, ok = sel.EarliestIntercept(incoming(1, 100), nil, 0)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestEarliestInterceptFastGrazingProjectile(t *testing.T) {
	cfg := testConfig
	cfg.StepSec = 1
	sel := newTestSelector(t, cfg)

	// crosses the sphere on a 1.92m chord in under 10ms, far less than one coarse step
	fast := projectile.Projectile{
		ID:        1,
		P0:        r3.Vector{X: 50, Y: 1.28, Z: 0.5},
		V0:        r3.Vector{X: -200},
		Confirmed: true,
	}
	tInt, ok := sel.EarliestIntercept(fast, nil, 0)
	test.That(t, ok, test.ShouldBeTrue)
	entry := (50 - 0.96) / 200
	test.That(t, tInt, test.ShouldAlmostEqual, entry, 1e-4)
}

func TestEarliestInterceptRespectsTravelSpeed(t *testing.T) {
	cfg := testConfig
	cfg.MaxSpeed = 1
	sel := newTestSelector(t, cfg)
	robot := &dynamics.RobotState{EEPosition: r3.Vector{X: -1.5, Z: 0.5}}

	unconstrained, ok := newTestSelector(t, testConfig).EarliestIntercept(incoming(1, 10), robot, 0)
	test.That(t, ok, test.ShouldBeTrue)
	constrained, ok := sel.EarliestIntercept(incoming(1, 10), robot, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, constrained, test.ShouldBeGreaterThan, unconstrained)
	// the end effector meets the projectile at the instant their distance equals the travel budget
	meet := incoming(1, 10).PositionAt(constrained)
	test.That(t, meet.Sub(robot.EEPosition).Norm(), test.ShouldAlmostEqual, constrained, 1e-3)
}

func TestSelectEarliestAndTies(t *testing.T) {
	sel := newTestSelector(t, testConfig)

	d := sel.Select(snapshotOf(), nil, nil, 0, nil)
	test.That(t, d.Found(), test.ShouldBeFalse)

	// identical intercept times go to the lower id, regardless of map order
	for i := 0; i < 20; i++ {
		d = sel.Select(snapshotOf(incoming(9, 10), incoming(4, 10), incoming(6, 12)), nil, nil, 0, nil)
		test.That(t, d.Found(), test.ShouldBeTrue)
		test.That(t, d.Target.ID, test.ShouldEqual, 4)
	}
	test.That(t, d.InterceptPoint.X, test.ShouldAlmostEqual, 1.6, 1e-3)
	test.That(t, d.InterceptVelocity, test.ShouldResemble, r3.Vector{X: -5})

	// a sooner projectile wins over a lower id
	d = sel.Select(snapshotOf(incoming(1, 12), incoming(2, 8)), nil, nil, 0, nil)
	test.That(t, d.Target.ID, test.ShouldEqual, 2)

	// unconfirmed projectiles are ineligible
	unconfirmed := incoming(1, 5)
	unconfirmed.Confirmed = false
	d = sel.Select(snapshotOf(unconfirmed), nil, nil, 0, nil)
	test.That(t, d.Found(), test.ShouldBeFalse)
}

func TestSelectSkipsExcluded(t *testing.T) {
	sel := newTestSelector(t, testConfig)
	snap := snapshotOf(incoming(1, 8), incoming(2, 12))

	d := sel.Select(snap, nil, nil, 0, map[int]struct{}{1: {}})
	test.That(t, d.Found(), test.ShouldBeTrue)
	test.That(t, d.Target.ID, test.ShouldEqual, 2)

	d = sel.Select(snap, nil, nil, 0, map[int]struct{}{1: {}, 2: {}})
	test.That(t, d.Found(), test.ShouldBeFalse)
}

func TestSelectKeepsLockedTarget(t *testing.T) {
	sel := newTestSelector(t, testConfig)
	locked := incoming(3, 12)
	snap := snapshotOf(locked, incoming(1, 8))

	d := sel.Select(snap, nil, &locked, 0, nil)
	test.That(t, d.Target.ID, test.ShouldEqual, 3)

	// once the locked target is gone the best remaining one is chosen
	d = sel.Select(snapshotOf(incoming(1, 8)), nil, &locked, 0, nil)
	test.That(t, d.Target.ID, test.ShouldEqual, 1)

	// and when it can no longer be reached
	fleeing := locked
	fleeing.V0 = r3.Vector{X: 5}
	d = sel.Select(snapshotOf(fleeing, incoming(1, 8)), nil, &locked, 0, nil)
	test.That(t, d.Target.ID, test.ShouldEqual, 1)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, testConfig.Validate(), test.ShouldBeNil)
	bad := testConfig
	bad.Workspace.Radius = 0
	bad.StepSec = 10
	err := bad.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "radius")
	test.That(t, err.Error(), test.ShouldContainSubstring, "horizon")
	_, err = NewSelector(bad)
	test.That(t, err, test.ShouldNotBeNil)
}
