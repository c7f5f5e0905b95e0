package errors

import "fmt"

type ServoNameError struct {
	Name string
}

func (err ServoNameError) Error() string {
	return fmt.Sprintf("no such servo %s", err.Name)
}

type ConfigVersionError struct {
	Version    string
	Constraint string
}

func (err ConfigVersionError) Error() string {
	if len(err.Version) == 0 {
		err.Version = "UNKNOWN"
	}

	return fmt.Sprintf("incompatible config; version %s does not satisfy %s", err.Version, err.Constraint)
}

type RangeNameError struct {
	Name string
}

func (err RangeNameError) Error() string {
	return fmt.Sprintf("unknown range %q; expected standard, extended or custom bounds", err.Name)
}
