// Package pca9685 drives a PCA9685 16-channel PWM expander over a Linux I2C
// bus. It is the hardware side of servo.Driver.
package pca9685

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

const (
	DefaultAddress = 0x40
	Channels       = 16
)

// dev is the part of the periph device we rely on.
type dev interface {
	SetPwmFreq(freq physic.Frequency) error
	SetPwm(channel int, on, off gpio.Duty) error
}

// Device opens the bus lazily in Init so that constructing it never touches
// hardware.
type Device struct {
	Bus     string // i2creg name, "" for the first bus found
	Address uint16

	lock sync.Mutex
	bus  i2c.BusCloser
	pwm  dev

	// overridable in tests
	open func(bus string, addr uint16) (i2c.BusCloser, dev, error)
}

func New(bus string, addr uint16) *Device {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Device{
		Bus:     bus,
		Address: addr,
		open:    openPeriph,
	}
}

func openPeriph(name string, addr uint16) (i2c.BusCloser, dev, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, errors.Wrap(err, "unable to initialise periph host drivers")
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to open i2c bus %q", name)
	}

	d, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		return nil, nil, multierr.Append(errors.Wrapf(err, "no pca9685 at 0x%02x", addr), bus.Close())
	}

	return bus, d, nil
}

func (d *Device) Init() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.pwm != nil {
		return nil
	}

	bus, pwm, err := d.open(d.Bus, d.Address)
	if err != nil {
		return err
	}

	d.bus, d.pwm = bus, pwm
	return nil
}

func (d *Device) SetFrequency(hz float64) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.pwm == nil {
		return errors.New("pca9685 not initialised")
	}

	freq := physic.Frequency(hz * float64(physic.Hertz))
	return errors.Wrapf(d.pwm.SetPwmFreq(freq), "unable to set frequency %s", freq)
}

// SetChannelDutyCycle writes the on/off tick pair of one channel. Values are
// 12 bit.
func (d *Device) SetChannelDutyCycle(channel int, on, off uint16) error {
	if channel < 0 || channel >= Channels {
		return errors.Errorf("channel %d out of range", channel)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.pwm == nil {
		return errors.New("pca9685 not initialised")
	}

	return d.pwm.SetPwm(channel, gpio.Duty(on&0x0fff), gpio.Duty(off&0x0fff))
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.bus == nil {
		return nil
	}

	err := d.bus.Close()
	d.bus, d.pwm = nil, nil
	return err
}
