// Package servo generates smooth, time-bounded motion for hobby servos that
// sit behind a shared multi-channel PWM controller.
//
// A Servo never runs on its own: every call to Tick samples the active motion
// segment against the clock and, when the output changed, writes the new pulse
// to the device. The caller decides how often that happens.
package servo

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
)

const (
	DefaultMaxSpeed = 600 // degrees per second
	DefaultMinAngle = -90
	DefaultMaxAngle = 90

	MaxMoveDuration = time.Minute
	minSpeed        = 1

	maxPulseValue = 0x0fff
	maxSegmentMs  = math.MaxInt32
)

// ChannelWriter sets the pulse window of a single output channel, in device
// ticks.
type ChannelWriter interface {
	SetChannelDutyCycle(channel int, on, off uint16) error
}

// Config describes a servo at construction time. Zero values fall back to the
// defaults: 600 deg/s, limits of -90..90 and StandardRange.
type Config struct {
	Channel  int
	MaxSpeed float64
	MinAngle float64
	MaxAngle float64
	Inverted bool
	Range    Range
}

func DefaultConfig(channel int) Config {
	return Config{
		Channel:  channel,
		MaxSpeed: DefaultMaxSpeed,
		MinAngle: DefaultMinAngle,
		MaxAngle: DefaultMaxAngle,
		Range:    StandardRange,
	}
}

func (c Config) withDefaults() Config {
	if c.Range == (Range{}) {
		c.Range = StandardRange
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = DefaultMaxSpeed
	}
	c.MaxSpeed = math.Max(c.MaxSpeed, minSpeed)
	if c.MinAngle == 0 && c.MaxAngle == 0 {
		c.MinAngle, c.MaxAngle = DefaultMinAngle, DefaultMaxAngle
	}
	if c.MinAngle > c.MaxAngle {
		c.MinAngle, c.MaxAngle = c.MaxAngle, c.MinAngle
	}
	return c
}

// segment is a straight line in (time, pulse) space.
type segment struct {
	start, end     int
	startMs, endMs uint32
}

// at interpolates the segment at now. Integer arithmetic truncates towards the
// start pulse.
func (seg segment) at(now uint32) int {
	total := int64(since(seg.endMs, seg.startMs))
	if total <= 0 {
		return seg.end
	}
	elapsed := int64(since(now, seg.startMs))
	if elapsed <= 0 {
		return seg.start
	} else if elapsed >= total {
		return seg.end
	}

	return seg.start + int(int64(seg.end-seg.start)*elapsed/total)
}

// Servo is one actuator on one channel of the PWM device. It is not safe for
// concurrent use; Controller.Do serialises access when the servo is shared.
type Servo struct {
	channel  int
	rng      Range
	maxSpeed float64
	inverted bool
	softMin  int
	softMax  int

	current    int
	emitted    int
	hasEmitted bool
	seg        segment

	clock Clock
	out   ChannelWriter
}

func newServo(cfg Config, clock Clock, out ChannelWriter) *Servo {
	cfg = cfg.withDefaults()

	s := &Servo{
		channel:  cfg.Channel,
		rng:      cfg.Range,
		maxSpeed: cfg.MaxSpeed,
		inverted: cfg.Inverted,
		clock:    clock,
		out:      out,
	}

	lo, hi := s.degToPulse(cfg.MinAngle), s.degToPulse(cfg.MaxAngle)
	if lo > hi {
		lo, hi = hi, lo
	}
	s.softMin, s.softMax = lo, hi

	// start centred and parked, so the first Tick emits the rest position
	s.current = clampInt(s.rng.Centre(), s.softMin, s.softMax)
	now := clock.Millis()
	s.seg = segment{start: s.current, end: s.current, startMs: now, endMs: now}

	return s
}

func (s *Servo) degToPulse(deg float64) int {
	if s.inverted {
		deg = -deg
	}
	return s.rng.DegToPulse(deg)
}

func (s *Servo) pulseToDeg(pulse int) float64 {
	deg := s.rng.PulseToDeg(pulse)
	if s.inverted {
		return -deg
	}
	return deg
}

// MoveTo heads for deg at the servo's maximum speed.
func (s *Servo) MoveTo(deg float64) {
	s.MoveToAtSpeed(deg, s.maxSpeed)
}

// MoveToWithin heads for deg so that it arrives after d. The duration is
// clamped to 0..MaxMoveDuration; zero snaps on the next Tick.
func (s *Servo) MoveToWithin(deg float64, d time.Duration) {
	if d < 0 {
		d = 0
	} else if d > MaxMoveDuration {
		d = MaxMoveDuration
	}
	s.MoveToPulse(s.degToPulse(deg), d)
}

// MoveToAtSpeed heads for deg at dps degrees per second, measured from the
// currently commanded angle. dps is clamped to 1..max speed.
func (s *Servo) MoveToAtSpeed(deg, dps float64) {
	s.MoveToPulse(s.degToPulse(s.rng.ClampDeg(deg)), s.durationFor(deg, dps))
}

func (s *Servo) durationFor(deg, dps float64) time.Duration {
	deg = s.rng.ClampDeg(deg)
	dps = mgl64.Clamp(dps, minSpeed, s.maxSpeed)

	ms := math.Abs(deg-s.Read()) * 1000 / dps
	return time.Duration(int64(ms)) * time.Millisecond
}

// MoveToPulse replaces the active segment with a straight line from the
// current pulse to pulse, ending d from now.
func (s *Servo) MoveToPulse(pulse int, d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	} else if ms > maxSegmentMs {
		ms = maxSegmentMs
	}

	now := s.clock.Millis()
	s.seg = segment{
		start:   s.current,
		end:     s.rng.ClampPulse(pulse),
		startMs: now,
		endMs:   now + uint32(ms),
	}
}

// Tick samples the active segment, enforces the soft limits and writes the
// result to the device if it differs from the last write.
func (s *Servo) Tick() error {
	now := s.clock.Millis()

	if since(now, s.seg.endMs) >= 0 {
		s.current = s.seg.end
		// keep endMs just behind now so this branch stays taken
		s.seg.endMs = now - 1
	} else {
		s.current = s.seg.at(now)
	}
	s.current = clampInt(s.current, s.softMin, s.softMax)

	return s.emit()
}

// emit is the output gate.
func (s *Servo) emit() error {
	if s.hasEmitted && s.current == s.emitted {
		return nil
	}

	off := uint16(s.current) & maxPulseValue
	if err := s.out.SetChannelDutyCycle(s.channel, 0, off); err != nil {
		return errors.Wrapf(err, "unable to write channel %d", s.channel)
	}

	s.emitted = s.current
	s.hasEmitted = true
	return nil
}

// Moving is true until the clock passes the end of the active segment.
func (s *Servo) Moving() bool {
	return since(s.clock.Millis(), s.seg.endMs) < 0
}

func (s *Servo) Channel() int {
	return s.channel
}

// Read returns the last commanded angle. There is no position feedback.
func (s *Servo) Read() float64 {
	return s.pulseToDeg(s.current)
}

func (s *Servo) ReadPulse() int {
	return s.current
}

func (s *Servo) MinAngle() float64 {
	return math.Min(s.pulseToDeg(s.softMin), s.pulseToDeg(s.softMax))
}

func (s *Servo) MaxAngle() float64 {
	return math.Max(s.pulseToDeg(s.softMin), s.pulseToDeg(s.softMax))
}

// State is a snapshot of a servo for reporting.
type State struct {
	Channel     int     `json:"channel"`
	Degrees     float64 `json:"degrees"`
	Pulse       int     `json:"pulse"`
	Target      float64 `json:"target"`
	TargetPulse int     `json:"target_pulse"`
	Moving      bool    `json:"moving"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

func (s *Servo) State() State {
	return State{
		Channel:     s.channel,
		Degrees:     s.Read(),
		Pulse:       s.current,
		Target:      s.pulseToDeg(clampInt(s.seg.end, s.softMin, s.softMax)),
		TargetPulse: s.seg.end,
		Moving:      s.Moving(),
		Min:         s.MinAngle(),
		Max:         s.MaxAngle(),
	}
}
