package servo

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Range maps a symmetric degree domain onto a pulse-count domain of the PWM
// controller. Pulse counts are in ticks of a 4096-tick period.
type Range struct {
	MinDeg, MaxDeg     float64
	MinPulse, MaxPulse int
}

var (
	// StandardRange covers -90..90 degrees with 700us..2300us pulses at 50Hz.
	StandardRange = Range{MinDeg: -90, MaxDeg: 90, MinPulse: 143, MaxPulse: 471}

	// ExtendedRange covers -120..120 degrees with 600us..2400us pulses at 50Hz.
	ExtendedRange = Range{MinDeg: -120, MaxDeg: 120, MinPulse: 122, MaxPulse: 491}
)

// Generic functions
func translateValue(val, leftMin, leftMax, rightMin, rightMax float64) float64 {
	leftSpan := leftMax - leftMin
	if leftSpan == 0 {
		return rightMin
	}

	valueScaled := (val - leftMin) / leftSpan
	return rightMin + valueScaled*(rightMax-rightMin)
}

// DegToPulse converts an angle to the nearest pulse count. Angles outside the
// range are clamped first.
func (r Range) DegToPulse(deg float64) int {
	deg = r.ClampDeg(deg)
	p := translateValue(deg, r.MinDeg, r.MaxDeg, float64(r.MinPulse), float64(r.MaxPulse))
	return int(math.Round(p))
}

// PulseToDeg converts a pulse count back to degrees using the same bounds as
// DegToPulse.
func (r Range) PulseToDeg(pulse int) float64 {
	pulse = r.ClampPulse(pulse)
	return translateValue(float64(pulse), float64(r.MinPulse), float64(r.MaxPulse), r.MinDeg, r.MaxDeg)
}

func (r Range) ClampDeg(deg float64) float64 {
	return mgl64.Clamp(deg, r.MinDeg, r.MaxDeg)
}

func (r Range) ClampPulse(pulse int) int {
	return clampInt(pulse, r.MinPulse, r.MaxPulse)
}

// Centre is the pulse count every servo starts at.
func (r Range) Centre() int {
	return (r.MinPulse + r.MaxPulse) / 2
}

func (r Range) valid() bool {
	return r.MaxDeg > r.MinDeg && r.MaxPulse > r.MinPulse && r.MinPulse >= 0 && r.MaxPulse <= maxPulseValue
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	} else if v > high {
		return high
	}
	return v
}
