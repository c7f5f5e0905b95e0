package onboard

import (
	"io/ioutil"
	"sort"

	"github.com/CodedInternet/slowservo/onboard/errors"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/Masterminds/semver"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	CONFIG_VERSION = "~1.0"

	RANGE_STANDARD = "standard"
	RANGE_EXTENDED = "extended"
)

type DeviceConfig struct {
	Version   string
	Bus       string
	Address   uint16
	Frequency float64
	Range     string
	Pulse     *Bounds `yaml:",omitempty"`
	Degrees   *Bounds `yaml:",omitempty"`
	Servos    map[string]ServoConfig
}

type Bounds struct {
	Min float64
	Max float64
}

type ServoConfig struct {
	Channel  int
	MaxSpeed float64  `yaml:"max_speed,omitempty"`
	Min      *float64 `yaml:",omitempty"`
	Max      *float64 `yaml:",omitempty"`
	Inverted bool     `yaml:",omitempty"`
}

func LoadConfig(filename string) (config DeviceConfig, err error) {
	yamlFile, err := ioutil.ReadFile(filename)
	if err != nil {
		return config, pkgerrors.Wrapf(err, "unable to read %s", filename)
	}

	return ParseConfig(yamlFile)
}

func ParseConfig(data []byte) (config DeviceConfig, err error) {
	if err = yaml.Unmarshal(data, &config); err != nil {
		return config, pkgerrors.Wrap(err, "unable to unmarshal yaml")
	}

	err = config.Validate()
	return
}

// Validate checks the version against CONFIG_VERSION and that every servo can
// be built.
func (c DeviceConfig) Validate() error {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return errors.ConfigVersionError{Version: c.Version, Constraint: CONFIG_VERSION}
	}

	constraint, err := semver.NewConstraint(CONFIG_VERSION)
	if err != nil {
		return err
	}

	if !constraint.Check(version) {
		return errors.ConfigVersionError{Version: c.Version, Constraint: CONFIG_VERSION}
	}

	r, err := c.PulseRange()
	if err != nil {
		return err
	}

	seen := make(map[int]string, len(c.Servos))
	for _, name := range c.Names() {
		sc := c.Servos[name]
		if other, ok := seen[sc.Channel]; ok {
			return pkgerrors.Errorf("servos %s and %s share channel %d", other, name, sc.Channel)
		}
		seen[sc.Channel] = name

		if err := checkServo(name, sc.servoConfig(r)); err != nil {
			return err
		}
	}

	return nil
}

// PulseRange resolves the named range, with explicit bounds taking priority.
func (c DeviceConfig) PulseRange() (r servo.Range, err error) {
	switch c.Range {
	case "", RANGE_STANDARD:
		r = servo.StandardRange
	case RANGE_EXTENDED:
		r = servo.ExtendedRange
	default:
		if c.Pulse == nil || c.Degrees == nil {
			return r, errors.RangeNameError{Name: c.Range}
		}
	}

	if c.Pulse != nil {
		r.MinPulse, r.MaxPulse = int(c.Pulse.Min), int(c.Pulse.Max)
	}
	if c.Degrees != nil {
		r.MinDeg, r.MaxDeg = c.Degrees.Min, c.Degrees.Max
	}

	if r.MinDeg >= r.MaxDeg || r.MinPulse >= r.MaxPulse {
		return r, pkgerrors.Errorf("invalid range %+v", r)
	}

	return
}

// Names returns the configured servo names in a stable order.
func (c DeviceConfig) Names() []string {
	names := make([]string, 0, len(c.Servos))
	for name := range c.Servos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkServo rejects soft limits that leave no room to move. The servo
// package would otherwise read 0..0 as unset and fall back to its defaults.
func checkServo(name string, cfg servo.Config) error {
	if cfg.MinAngle == cfg.MaxAngle {
		return pkgerrors.Errorf("servo %s has an empty range of motion (min = max = %g)", name, cfg.MinAngle)
	}
	return nil
}

func (sc ServoConfig) servoConfig(r servo.Range) servo.Config {
	cfg := servo.DefaultConfig(sc.Channel)
	cfg.Range = r
	cfg.Inverted = sc.Inverted
	if sc.MaxSpeed > 0 {
		cfg.MaxSpeed = sc.MaxSpeed
	}
	if sc.Min != nil {
		cfg.MinAngle = *sc.Min
	}
	if sc.Max != nil {
		cfg.MaxAngle = *sc.Max
	}
	return cfg
}
