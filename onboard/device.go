package onboard

import (
	"context"
	"sort"
	"time"

	"github.com/CodedInternet/slowservo/onboard/errors"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/edaniels/golog"
	pkgerrors "github.com/pkg/errors"
)

const (
	FRAMERATE     = 20
	TICK_INTERVAL = 10 * time.Millisecond
)

// ServoDevice is what the shell, API and websocket layers drive.
type ServoDevice interface {
	Names() []string
	Move(name string, deg float64) error
	MoveWithin(name string, deg float64, d time.Duration) error
	MoveAtSpeed(name string, deg, dps float64) error
	MovePulse(name string, pulse int, d time.Duration) error
	Centre(name string) error
	ApplyPose(targets map[string]float64, d time.Duration) error
	GetState() DeviceState
}

type DeviceState map[string]servo.State

// PWMServoDevice is a set of named servos sharing one PWM controller.
type PWMServoDevice struct {
	config     DeviceConfig
	controller *servo.Controller
	channels   map[string]int
	logger     golog.Logger
}

func NewPWMServoDevice(config DeviceConfig, driver servo.Driver, logger golog.Logger, opts ...servo.Option) (d *PWMServoDevice, err error) {
	r, err := config.PulseRange()
	if err != nil {
		return nil, err
	}

	frequency := config.Frequency
	if frequency <= 0 {
		frequency = servo.DefaultFrequency
	}

	opts = append([]servo.Option{servo.WithLogger(logger), servo.WithFrequency(frequency)}, opts...)

	d = &PWMServoDevice{
		config:     config,
		controller: servo.NewController(driver, opts...),
		channels:   make(map[string]int, len(config.Servos)),
		logger:     logger,
	}

	for _, name := range config.Names() {
		sc := config.Servos[name]
		cfg := sc.servoConfig(r)
		if err = checkServo(name, cfg); err != nil {
			return nil, err
		}
		if _, err = d.controller.Add(cfg); err != nil {
			return nil, pkgerrors.Wrapf(err, "unable to add servo %s", name)
		}
		d.channels[name] = sc.Channel
	}

	logger.Infow("servo device ready", "servos", len(d.channels), "frequency", frequency)
	return d, nil
}

func (d *PWMServoDevice) Names() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *PWMServoDevice) do(name string, fn func(*servo.Servo)) error {
	ch, ok := d.channels[name]
	if !ok {
		return errors.ServoNameError{Name: name}
	}
	return d.controller.Do(ch, fn)
}

func (d *PWMServoDevice) Move(name string, deg float64) error {
	return d.do(name, func(s *servo.Servo) { s.MoveTo(deg) })
}

func (d *PWMServoDevice) MoveWithin(name string, deg float64, dur time.Duration) error {
	return d.do(name, func(s *servo.Servo) { s.MoveToWithin(deg, dur) })
}

func (d *PWMServoDevice) MoveAtSpeed(name string, deg, dps float64) error {
	return d.do(name, func(s *servo.Servo) { s.MoveToAtSpeed(deg, dps) })
}

func (d *PWMServoDevice) MovePulse(name string, pulse int, dur time.Duration) error {
	return d.do(name, func(s *servo.Servo) { s.MoveToPulse(pulse, dur) })
}

// Centre returns the servo to 0 degrees at its maximum speed.
func (d *PWMServoDevice) Centre(name string) error {
	return d.Move(name, 0)
}

func (d *PWMServoDevice) CentreAll() (err error) {
	for _, name := range d.Names() {
		if err = d.Centre(name); err != nil {
			return
		}
	}
	return
}

// ApplyPose moves several servos at once. All names are checked before any
// servo is moved. A zero duration moves each servo at its maximum speed.
func (d *PWMServoDevice) ApplyPose(targets map[string]float64, dur time.Duration) error {
	for name := range targets {
		if _, ok := d.channels[name]; !ok {
			return errors.ServoNameError{Name: name}
		}
	}

	for name, deg := range targets {
		var err error
		if dur > 0 {
			err = d.MoveWithin(name, deg, dur)
		} else {
			err = d.Move(name, deg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *PWMServoDevice) GetState() DeviceState {
	byChannel := d.controller.States()

	state := make(DeviceState, len(d.channels))
	for name, ch := range d.channels {
		state[name] = byChannel[ch]
	}
	return state
}

// Tick advances every servo once.
func (d *PWMServoDevice) Tick() error {
	return d.controller.Tick()
}

// Run ticks the servos every interval until ctx is done. Tick errors are
// logged and do not stop the loop.
func (d *PWMServoDevice) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = TICK_INTERVAL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Debugw("tick loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(); err != nil {
				d.logger.Errorw("tick failed", "error", err)
			}
		}
	}
}
