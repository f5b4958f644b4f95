package render

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/imhunterand/iDA-projectile/actuation"
	"github.com/imhunterand/iDA-projectile/arena"
	"github.com/imhunterand/iDA-projectile/control"
	"github.com/imhunterand/iDA-projectile/interception"
	"github.com/imhunterand/iDA-projectile/logging"
	"github.com/imhunterand/iDA-projectile/projectile"
)

func testBlock() arena.Block {
	target := projectile.Projectile{ID: 4, P: r3.Vector{X: 1, Z: 2}, Confirmed: true}
	return arena.Block{
		Time:     1.5,
		Setpoint: &control.Setpoint{Position: r3.Vector{X: 0.5, Z: 1}},
		Projectiles: &projectile.Snapshot{Projectiles: map[int]projectile.Projectile{
			4: target,
			2: {ID: 2, P: r3.Vector{X: 5}},
		}},
		Interception: interception.State{
			Mode:           interception.Tracking,
			Target:         &target,
			InterceptPoint: r3.Vector{X: 0.7, Z: 1.1},
			EngagementID:   "abc",
		},
		Command: actuation.Command{Torque: []float64{1, 2}},
	}
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(testBlock())
	test.That(t, f.Mode, test.ShouldEqual, "TRACKING")
	test.That(t, f.TargetID, test.ShouldEqual, 4)
	test.That(t, *f.Intercept, test.ShouldResemble, r3.Vector{X: 0.7, Z: 1.1})
	test.That(t, *f.Desired, test.ShouldResemble, r3.Vector{X: 0.5, Z: 1})
	test.That(t, f.Projectiles, test.ShouldHaveLength, 2)
	test.That(t, f.Projectiles[0].ID, test.ShouldEqual, 2)
	test.That(t, f.Torque, test.ShouldResemble, []float64{1, 2})
	test.That(t, f.Joints, test.ShouldBeNil)

	empty := NewFrame(arena.Block{})
	test.That(t, empty.TargetID, test.ShouldEqual, -1)
	test.That(t, empty.Intercept, test.ShouldBeNil)
	test.That(t, empty.Projectiles, test.ShouldBeEmpty)
	test.That(t, empty.Mode, test.ShouldEqual, "READY")
}

func TestLogRenderer(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	r := NewLogRenderer(logger)
	frame := NewFrame(testBlock())
	test.That(t, r.Render(context.Background(), frame), test.ShouldBeNil)
	test.That(t, r.Render(context.Background(), frame), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("mode").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("frame").Len(), test.ShouldEqual, 2)
}

func TestWebsocketRenderer(t *testing.T) {
	ws := NewWebsocketRenderer(logging.NewTestLogger(t))
	srv := httptest.NewServer(ws)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer conn.Close()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, ws.Clients(), test.ShouldEqual, 1)
	})

	frame := NewFrame(testBlock())
	test.That(t, Multi{ws, NewLogRenderer(logging.NewTestLogger(t))}.Render(context.Background(), frame), test.ShouldBeNil)

	_, data, err := conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	var got Frame
	test.That(t, json.Unmarshal(data, &got), test.ShouldBeNil)
	test.That(t, got.Mode, test.ShouldEqual, "TRACKING")
	test.That(t, got.EngagementID, test.ShouldEqual, "abc")

	test.That(t, ws.Close(), test.ShouldBeNil)
	test.That(t, ws.Clients(), test.ShouldEqual, 0)
}
