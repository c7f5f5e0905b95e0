package onboard

import (
	"context"
	"testing"
	"time"

	"github.com/CodedInternet/slowservo/onboard/errors"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/edaniels/golog"
	. "github.com/smartystreets/goconvey/convey"
)

type testClock struct {
	now uint32
}

func (c *testClock) Millis() uint32 {
	return c.now
}

func createTestDevice(t *testing.T) (*PWMServoDevice, *SimulatedDriver, *testClock) {
	config, err := ParseConfig([]byte(testYaml))
	if err != nil {
		t.Fatal(err)
	}

	drv := NewSimulatedDriver()
	clock := &testClock{}
	d, err := NewPWMServoDevice(config, drv, golog.NewTestLogger(t), servo.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	return d, drv, clock
}

func TestPWMServoDevice(t *testing.T) {
	Convey("device is created from config", t, func() {
		d, drv, clock := createTestDevice(t)
		So(d.Names(), ShouldResemble, []string{"pan", "tilt"})
		So(drv.Inits(), ShouldEqual, 1)
		So(drv.Frequency(), ShouldEqual, 50)

		Convey("first tick parks every servo", func() {
			So(d.Tick(), ShouldBeNil)
			pulse, ok := drv.Output(0)
			So(ok, ShouldBeTrue)
			So(pulse, ShouldEqual, 307)
			So(drv.Writes(), ShouldEqual, 2)
		})

		Convey("moving a known servo works as expected", func() {
			So(d.MoveWithin("pan", 90, time.Second), ShouldBeNil)
			clock.now = 1000
			So(d.Tick(), ShouldBeNil)

			pulse, _ := drv.Output(0)
			So(pulse, ShouldEqual, 471)
			So(d.GetState()["pan"].Degrees, ShouldEqual, 90)
		})

		Convey("speed and pulse moves reach the device", func() {
			So(d.MoveAtSpeed("pan", -90, 90), ShouldBeNil)
			So(d.GetState()["pan"].Moving, ShouldBeTrue)
			clock.now = 1000
			So(d.Tick(), ShouldBeNil)
			pulse, _ := drv.Output(0)
			So(pulse, ShouldEqual, 143)

			So(d.MovePulse("pan", 200, 0), ShouldBeNil)
			So(d.Tick(), ShouldBeNil)
			pulse, _ = drv.Output(0)
			So(pulse, ShouldEqual, 200)

			Convey("centre returns to zero", func() {
				So(d.CentreAll(), ShouldBeNil)
				clock.now = 5000
				So(d.Tick(), ShouldBeNil)
				So(d.GetState()["pan"].Pulse, ShouldEqual, 307)
			})
		})

		Convey("configured limits are applied", func() {
			So(d.Move("tilt", 90), ShouldBeNil)
			clock.now = 10000
			So(d.Tick(), ShouldBeNil)
			So(d.GetState()["tilt"].Degrees, ShouldAlmostEqual, 30, 1)
			So(d.GetState()["tilt"].Max, ShouldAlmostEqual, 30, 1)
		})

		Convey("unknown servo returns appropriate error", func() {
			err := d.Move("whoami", 12)
			So(err, ShouldHaveSameTypeAs, errors.ServoNameError{})
			So(err.Error(), ShouldContainSubstring, "whoami")
		})

		Convey("a pose with an unknown name moves nothing", func() {
			err := d.ApplyPose(map[string]float64{"pan": 45, "nope": 1}, 0)
			So(err, ShouldNotBeNil)
			So(d.GetState()["pan"].TargetPulse, ShouldEqual, 307)
		})

		Convey("a pose moves every named servo together", func() {
			err := d.ApplyPose(map[string]float64{"pan": 45, "tilt": -10}, 2*time.Second)
			So(err, ShouldBeNil)
			clock.now = 1000
			So(d.Tick(), ShouldBeNil)
			state := d.GetState()
			So(state["pan"].Moving, ShouldBeTrue)
			So(state["tilt"].Moving, ShouldBeTrue)

			clock.now = 2000
			So(d.Tick(), ShouldBeNil)
			So(d.GetState()["pan"].Degrees, ShouldEqual, 45)
		})
	})

	Convey("bad configs fail to build", t, func() {
		config := DeviceConfig{Version: "1.0.0", Servos: map[string]ServoConfig{"x": {Channel: 16}}}
		_, err := NewPWMServoDevice(config, NewSimulatedDriver(), golog.NewTestLogger(t))
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "servo x")

		zero := 0.0
		config = DeviceConfig{Version: "1.0.0", Servos: map[string]ServoConfig{"y": {Channel: 2, Min: &zero, Max: &zero}}}
		_, err = NewPWMServoDevice(config, NewSimulatedDriver(), golog.NewTestLogger(t))
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "servo y has an empty range")
	})
}

func TestRun(t *testing.T) {
	Convey("the tick loop drives the device until cancelled", t, func() {
		config, _ := ParseConfig([]byte(testYaml))
		drv := NewSimulatedDriver()
		d, err := NewPWMServoDevice(config, drv, golog.NewTestLogger(t))
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- d.Run(ctx, time.Millisecond) }()

		So(d.MoveWithin("pan", -90, 20*time.Millisecond), ShouldBeNil)
		time.Sleep(100 * time.Millisecond)
		cancel()

		So(<-done, ShouldEqual, context.Canceled)
		pulse, _ := drv.Output(0)
		So(pulse, ShouldEqual, 143)
	})
}
