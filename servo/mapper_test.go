package servo

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRange(t *testing.T) {
	Convey("standard range maps the documented points", t, func() {
		r := StandardRange
		So(r.DegToPulse(-90), ShouldEqual, 143)
		So(r.DegToPulse(0), ShouldEqual, 307)
		So(r.DegToPulse(45), ShouldEqual, 389)
		So(r.DegToPulse(90), ShouldEqual, 471)
		So(r.Centre(), ShouldEqual, r.DegToPulse(0))

		So(r.PulseToDeg(143), ShouldEqual, -90)
		So(r.PulseToDeg(307), ShouldEqual, 0)
		So(r.PulseToDeg(471), ShouldEqual, 90)
	})

	Convey("inputs outside the domain are clamped", t, func() {
		r := StandardRange
		So(r.DegToPulse(-400), ShouldEqual, r.MinPulse)
		So(r.DegToPulse(400), ShouldEqual, r.MaxPulse)
		So(r.PulseToDeg(0), ShouldEqual, r.MinDeg)
		So(r.PulseToDeg(4095), ShouldEqual, r.MaxDeg)
	})

	Convey("pulse -> degree -> pulse round trips within one unit", t, func() {
		for _, r := range []Range{StandardRange, ExtendedRange} {
			for p := r.MinPulse; p <= r.MaxPulse; p++ {
				So(r.DegToPulse(r.PulseToDeg(p)), ShouldAlmostEqual, p, 1)
			}
		}
	})

	Convey("extended range uses its own bounds in both directions", t, func() {
		r := ExtendedRange
		So(r.DegToPulse(-120), ShouldEqual, 122)
		So(r.DegToPulse(120), ShouldEqual, 491)
		So(r.PulseToDeg(491), ShouldEqual, 120)
		So(r.PulseToDeg(r.Centre()), ShouldAlmostEqual, 0, 1)
	})

	Convey("validity", t, func() {
		So(StandardRange.valid(), ShouldBeTrue)
		So(ExtendedRange.valid(), ShouldBeTrue)
		So(Range{MinDeg: 10, MaxDeg: -10, MinPulse: 100, MaxPulse: 200}.valid(), ShouldBeFalse)
		So(Range{MinDeg: -10, MaxDeg: 10, MinPulse: 100, MaxPulse: 5000}.valid(), ShouldBeFalse)
	})
}
