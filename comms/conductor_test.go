package comms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type call struct {
	method string
	name   string
	value  float64
	speed  float64
	dur    time.Duration
	pose   map[string]float64
}

type mockDevice struct {
	calls chan call
}

func newMockDevice() *mockDevice {
	return &mockDevice{calls: make(chan call, 16)}
}

func (d *mockDevice) Names() []string { return []string{"pan", "tilt"} }

func (d *mockDevice) Move(name string, deg float64) error {
	d.calls <- call{method: "Move", name: name, value: deg}
	return nil
}

func (d *mockDevice) MoveWithin(name string, deg float64, dur time.Duration) error {
	d.calls <- call{method: "MoveWithin", name: name, value: deg, dur: dur}
	return nil
}

func (d *mockDevice) MoveAtSpeed(name string, deg, dps float64) error {
	d.calls <- call{method: "MoveAtSpeed", name: name, value: deg, speed: dps}
	return nil
}

func (d *mockDevice) MovePulse(name string, pulse int, dur time.Duration) error {
	d.calls <- call{method: "MovePulse", name: name, value: float64(pulse), dur: dur}
	return nil
}

func (d *mockDevice) Centre(name string) error {
	d.calls <- call{method: "Centre", name: name}
	return nil
}

func (d *mockDevice) ApplyPose(targets map[string]float64, dur time.Duration) error {
	d.calls <- call{method: "ApplyPose", pose: targets, dur: dur}
	return nil
}

func (d *mockDevice) GetState() onboard.DeviceState {
	return onboard.DeviceState{
		"pan":  servo.State{Channel: 0, Pulse: 307, Min: -90, Max: 90},
		"tilt": servo.State{Channel: 1, Degrees: 45, Target: -45, Min: -45, Max: 45},
	}
}

type mockPoses map[string]pose.Pose

func (p mockPoses) Get(name string) (pose.Pose, error) {
	if found, ok := p[name]; ok {
		return found, nil
	}
	return pose.Pose{}, pose.ErrNotFound
}

func TestProcessCommand(t *testing.T) {
	Convey("given a conductor", t, func() {
		device := newMockDevice()
		poses := mockPoses{"rest": {Name: "rest", Targets: map[string]float64{"pan": 10}, DurationMS: 500}}
		c := NewConductor(device, poses, golog.NewTestLogger(t))

		Convey("move picks the scheduling mode from the fields set", func() {
			So(c.ProcessCommand(Cmd{Cmd: "move", Name: "pan", Value: 45}), ShouldBeNil)
			So(<-device.calls, ShouldResemble, call{method: "Move", name: "pan", value: 45})

			So(c.ProcessCommand(Cmd{Cmd: "move", Name: "pan", Value: 45, DurationMS: 250}), ShouldBeNil)
			So(<-device.calls, ShouldResemble, call{method: "MoveWithin", name: "pan", value: 45, dur: 250 * time.Millisecond})

			So(c.ProcessCommand(Cmd{Cmd: "move", Name: "pan", Value: 45, Speed: 30}), ShouldBeNil)
			So(<-device.calls, ShouldResemble, call{method: "MoveAtSpeed", name: "pan", value: 45, speed: 30})
		})

		Convey("explicit commands", func() {
			So(c.ProcessCommand(Cmd{Cmd: "move_within", Name: "pan", Value: -10, DurationMS: 1000}), ShouldBeNil)
			So((<-device.calls).dur, ShouldEqual, time.Second)

			So(c.ProcessCommand(Cmd{Cmd: "move_speed", Name: "pan", Value: -10, Speed: 5}), ShouldBeNil)
			So((<-device.calls).speed, ShouldEqual, 5)

			So(c.ProcessCommand(Cmd{Cmd: "move_pulse", Name: "pan", Value: 400}), ShouldBeNil)
			So(<-device.calls, ShouldResemble, call{method: "MovePulse", name: "pan", value: 400})

			So(c.ProcessCommand(Cmd{Cmd: "centre", Name: "pan"}), ShouldBeNil)
			So((<-device.calls).method, ShouldEqual, "Centre")
		})

		Convey("stored poses are applied", func() {
			So(c.ProcessCommand(Cmd{Cmd: "pose", Name: "rest"}), ShouldBeNil)
			got := <-device.calls
			So(got.pose, ShouldResemble, map[string]float64{"pan": 10})
			So(got.dur, ShouldEqual, 500*time.Millisecond)

			So(c.ProcessCommand(Cmd{Cmd: "pose", Name: "ghost"}), ShouldEqual, pose.ErrNotFound)
		})

		Convey("poses need a store", func() {
			c.Poses = nil
			So(c.ProcessCommand(Cmd{Cmd: "pose", Name: "rest"}), ShouldEqual, ErrNoPoses)
		})

		Convey("unknown commands are rejected", func() {
			err := c.ProcessCommand(Cmd{Cmd: "set_height"})
			So(errors.Cause(err), ShouldEqual, ErrUnknownCommand)
			So(err.Error(), ShouldContainSubstring, "set_height")
		})

		Convey("state carries every servo", func() {
			So(c.State().Servos["pan"].Pulse, ShouldEqual, 307)
		})
	})
}

func TestServe(t *testing.T) {
	Convey("given a websocket client", t, func() {
		device := newMockDevice()
		c := NewConductor(device, nil, golog.NewTestLogger(t))

		upgrader := websocket.Upgrader{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			c.Serve(conn)
		}))
		defer server.Close()

		ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		So(err, ShouldBeNil)
		defer ws.Close()
		ws.SetReadDeadline(time.Now().Add(time.Second))

		Convey("commands reach the device", func() {
			So(ws.WriteJSON(Cmd{Cmd: "move", Name: "pan", Value: 12}), ShouldBeNil)
			So((<-device.calls).value, ShouldEqual, 12)

			Convey("and state is pushed back", func() {
				c.broadcast()
				var state StatePayload
				So(ws.ReadJSON(&state), ShouldBeNil)
				So(state.Servos["pan"].Pulse, ShouldEqual, 307)
			})
		})

		Convey("an empty frame is answered and the connection survives", func() {
			So(ws.WriteMessage(websocket.TextMessage, []byte("")), ShouldBeNil)
			var reply ErrorPayload
			So(ws.ReadJSON(&reply), ShouldBeNil)
			So(reply.Error, ShouldContainSubstring, "invalid command")

			So(ws.WriteJSON(Cmd{Cmd: "move", Name: "pan", Value: 30}), ShouldBeNil)
			So((<-device.calls).value, ShouldEqual, 30)
		})

		Convey("remote frames move the servos and switch the client to position frames", func() {
			So(ws.WriteMessage(websocket.TextMessage, []byte("@50,-100,t:1000")), ShouldBeNil)
			got := <-device.calls
			So(got.method, ShouldEqual, "ApplyPose")
			So(got.pose, ShouldResemble, map[string]float64{"pan": 45, "tilt": -45})

			_, msg, err := ws.ReadMessage()
			So(err, ShouldBeNil)
			So(string(msg), ShouldEqual, "@0,-100")

			c.broadcast()
			_, msg, err = ws.ReadMessage()
			So(err, ShouldBeNil)
			So(string(msg), ShouldEqual, "#0,100")
		})

		Convey("broken remote frames are answered", func() {
			So(ws.WriteMessage(websocket.TextMessage, []byte("@1,x")), ShouldBeNil)
			var reply ErrorPayload
			So(ws.ReadJSON(&reply), ShouldBeNil)
			So(reply.Error, ShouldContainSubstring, "malformed remote frame")
		})

		Convey("failures are reported to the client", func() {
			So(ws.WriteJSON(Cmd{Cmd: "bogus"}), ShouldBeNil)
			var reply ErrorPayload
			So(ws.ReadJSON(&reply), ShouldBeNil)
			So(reply.Error, ShouldContainSubstring, "unknown command")
		})
	})
}
