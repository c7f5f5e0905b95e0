package servo

import (
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultFrequency = 50 // Hz
	DefaultChannels  = 16
)

var (
	ErrChannelInUse   = errors.New("channel already has a servo")
	ErrChannelRange   = errors.New("channel out of range")
	ErrUnknownChannel = errors.New("no servo on channel")
	ErrInvalidRange   = errors.New("invalid angle/pulse range")
)

// Driver is the PWM device shared by every servo of a Controller.
type Driver interface {
	ChannelWriter

	// Init brings the device up. It is called once, before the first write.
	Init() error

	// SetFrequency sets the carrier frequency for all channels.
	SetFrequency(hz float64) error
}

// Controller owns the PWM device and the servos attached to it. The device is
// initialised when the first servo is added.
type Controller struct {
	driver    Driver
	clock     Clock
	logger    golog.Logger
	frequency float64
	channels  int

	lock    sync.Mutex
	started bool
	servos  map[int]*Servo
}

type Option func(*Controller)

func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithLogger(logger golog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithFrequency(hz float64) Option {
	return func(c *Controller) { c.frequency = hz }
}

// WithChannels sets how many outputs the device has.
func WithChannels(n int) Option {
	return func(c *Controller) { c.channels = n }
}

func NewController(driver Driver, opts ...Option) *Controller {
	c := &Controller{
		driver:    driver,
		frequency: DefaultFrequency,
		channels:  DefaultChannels,
		servos:    make(map[int]*Servo),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = NewSystemClock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}

	return c
}

func (c *Controller) start() error {
	if c.started {
		return nil
	}

	if err := c.driver.Init(); err != nil {
		return errors.Wrap(err, "unable to initialise pwm device")
	}
	if err := c.driver.SetFrequency(c.frequency); err != nil {
		return errors.Wrapf(err, "unable to set pwm frequency to %vHz", c.frequency)
	}

	c.started = true
	c.logger.Debugw("pwm device initialised", "frequency", c.frequency)
	return nil
}

// Add creates a servo on cfg.Channel. The returned servo must only be touched
// through Do once the controller is being ticked from another goroutine.
func (c *Controller) Add(cfg Config) (*Servo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if cfg.Channel < 0 || cfg.Channel >= c.channels {
		return nil, errors.Wrapf(ErrChannelRange, "channel %d (device has %d)", cfg.Channel, c.channels)
	}
	if _, ok := c.servos[cfg.Channel]; ok {
		return nil, errors.Wrapf(ErrChannelInUse, "channel %d", cfg.Channel)
	}
	if cfg.Range != (Range{}) && !cfg.Range.valid() {
		return nil, errors.Wrapf(ErrInvalidRange, "%+v", cfg.Range)
	}

	if err := c.start(); err != nil {
		return nil, err
	}

	s := newServo(cfg, c.clock, c.driver)
	c.servos[cfg.Channel] = s
	c.logger.Debugw("servo added", "channel", cfg.Channel, "min", s.MinAngle(), "max", s.MaxAngle(), "inverted", s.inverted)

	return s, nil
}

// Do runs fn against the servo on channel while holding the controller lock.
func (c *Controller) Do(channel int, fn func(*Servo)) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	s, ok := c.servos[channel]
	if !ok {
		return errors.Wrapf(ErrUnknownChannel, "channel %d", channel)
	}

	fn(s)
	return nil
}

// Channels lists the occupied channels in ascending order.
func (c *Controller) Channels() []int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.sortedChannels()
}

func (c *Controller) sortedChannels() []int {
	channels := make([]int, 0, len(c.servos))
	for ch := range c.servos {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	return channels
}

// Tick advances every servo once. A failing channel does not stop the others.
func (c *Controller) Tick() (err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.started {
		return nil
	}

	for _, ch := range c.sortedChannels() {
		err = multierr.Append(err, c.servos[ch].Tick())
	}
	return err
}

// States snapshots every servo, keyed by channel.
func (c *Controller) States() map[int]State {
	c.lock.Lock()
	defer c.lock.Unlock()

	states := make(map[int]State, len(c.servos))
	for ch, s := range c.servos {
		states[ch] = s.State()
	}
	return states
}
