package onboard

import (
	"sync"
)

// SimulatedDriver stands in for the PWM expander when running without
// hardware. It remembers the last window written to each channel.
type SimulatedDriver struct {
	lock      sync.Mutex
	inits     int
	frequency float64
	writes    int
	outputs   map[int]uint16
}

func NewSimulatedDriver() *SimulatedDriver {
	return &SimulatedDriver{
		outputs: make(map[int]uint16),
	}
}

func (s *SimulatedDriver) Init() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.inits++
	return nil
}

func (s *SimulatedDriver) SetFrequency(hz float64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.frequency = hz
	return nil
}

func (s *SimulatedDriver) SetChannelDutyCycle(channel int, on, off uint16) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.writes++
	s.outputs[channel] = off - on
	return nil
}

// Output returns the pulse width last written to channel.
func (s *SimulatedDriver) Output(channel int) (pulse uint16, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pulse, ok = s.outputs[channel]
	return
}

func (s *SimulatedDriver) Writes() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.writes
}

func (s *SimulatedDriver) Frequency() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.frequency
}

func (s *SimulatedDriver) Inits() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.inits
}
