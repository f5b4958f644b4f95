package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/utils"
	"github.com/imhunterand/iDA-projectile/vision"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.DoF, test.ShouldEqual, 4)
	test.That(t, cfg.Gains.TorqueLimits, test.ShouldHaveLength, 4)
}

func TestFromReaderOverlaysDefaults(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{
		"control_hz": 500,
		"strategy": "rmrc",
		"vision": {"kind": "UDP", "address": ":9000", "queue_size": 32},
		"log": {"level": "debug"}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ControlHz, test.ShouldEqual, 500.0)
	test.That(t, cfg.RobotHz, test.ShouldEqual, 1000.0)
	test.That(t, cfg.Vision.Kind, test.ShouldEqual, vision.KindUDP)
	test.That(t, cfg.Log.Level, test.ShouldEqual, logging.DEBUG)
	test.That(t, cfg.Gains, test.ShouldNotBeNil)
	test.That(t, cfg.Strategy, test.ShouldEqual, control.ResolvedMotionRate)
}

func TestFromReaderDerivesDoF(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{
		"robot": {
			"base_height": 0.4,
			"link_lengths": [0.5, 0.5],
			"link_masses": [1, 1],
			"armature": 0.1,
			"damping": 0.1,
			"joint_limits": [{"min": -3, "max": 3}, {"min": -1.5, "max": 1.5}, {"min": -2, "max": 2}],
			"gravity": {"X": 0, "Y": 0, "Z": -9.81}
		},
		"interception": {
			"intercept_threshold_sec": 0.3,
			"recover_tolerance": 0.1,
			"tracking_strategy": "full_task_space",
			"intercept_strategy": "full_task_space",
			"ready_joints": [0, 0.5, -0.5]
		}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.DoF, test.ShouldEqual, 3)
	test.That(t, cfg.Gains.KpJoint, test.ShouldHaveLength, 3)
}

func TestFromReaderErrors(t *testing.T) {
	_, err := FromReader(strings.NewReader(`{"not_a_field": 1}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader(strings.NewReader(`{"dof": 6, "control_hz": -1, "actuator": {"kind": "serial"}, "render": {"kind": "vr"}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err, test.ShouldWrap, utils.ErrDimensionMismatch)
	// every problem is reported, not only the first
	test.That(t, len(multierr.Errors(err)), test.ShouldBeGreaterThanOrEqualTo, 5)
	test.That(t, err.Error(), test.ShouldContainSubstring, "control_hz")
	test.That(t, err.Error(), test.ShouldContainSubstring, "vr")
}

func TestLogLevelPatterns(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`{"log": {"levels": [{"pattern": "*.vision", "level": "debug"}]}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Log.Levels, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "*.vision", Level: "debug"}})

	_, err = FromReader(strings.NewReader(`{"log": {"levels": [{"pattern": "a..b", "level": "loud"}]}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "log levels")
}

func TestReadExpandsEnvironment(t *testing.T) {
	t.Setenv("INTERCEPTOR_TEST_PORT", "9123")
	path := filepath.Join(t.TempDir(), "interceptor.json")
	test.That(t, os.WriteFile(path, []byte(`{"http_addr": "localhost:${INTERCEPTOR_TEST_PORT}"}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.HTTPAddr, test.ShouldEqual, "localhost:9123")
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWatchGains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interceptor.json")
	test.That(t, os.WriteFile(path, []byte(`{}`), 0o600), test.ShouldBeNil)

	var (
		mu  sync.Mutex
		got []control.Gains
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchGains(ctx, path, logging.NewTestLogger(t), func(g control.Gains) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, g)
			return nil
		})
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		err := os.WriteFile(path, []byte(`{"gains": {"kp_p": 123}}`), 0o600)
		test.That(tb, err, test.ShouldBeNil)
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, len(got), test.ShouldBeGreaterThan, 0)
	})
	cancel()
	test.That(t, <-done, test.ShouldEqual, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	test.That(t, got[0].KpPosition, test.ShouldEqual, 123.0)

	gains, err := ReadGains(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gains.KpPosition, test.ShouldEqual, 123.0)
}
