package main

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/abiosoft/ishell"
	"github.com/pkg/errors"
)

func usage(args []string, min int, help string) error {
	if len(args) < min {
		return errors.Errorf("usage: %s", help)
	}
	return nil
}

func parseFloat(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}

// parseMillis reads an optional duration in milliseconds from args[i].
func parseMillis(args []string, i int) (time.Duration, error) {
	if len(args) <= i {
		return 0, nil
	}
	ms, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || ms < 0 {
		return 0, errors.Errorf("invalid duration %q", args[i])
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// poseFromState records where every servo currently is.
func poseFromState(name string, state onboard.DeviceState, d time.Duration) *pose.Pose {
	targets := make(map[string]float64, len(state))
	for servo, s := range state {
		targets[servo] = math.Round(s.Degrees*10) / 10
	}
	return &pose.Pose{Name: name, Targets: targets, DurationMS: d.Milliseconds()}
}

func formatState(name string, s onboard.DeviceState) string {
	st := s[name]
	moving := ""
	if st.Moving {
		moving = fmt.Sprintf(" -> %.1f", st.Target)
	}
	return fmt.Sprintf("%-10s ch%-2d %7.1f° (%d)%s [%.1f, %.1f]", name, st.Channel, st.Degrees, st.Pulse, moving, st.Min, st.Max)
}

func newShell(device *onboard.PWMServoDevice, poses *pose.Store) *ishell.Shell {
	servoNames := func([]string) []string {
		return device.Names()
	}

	// run reports errors from a command back to the shell
	run := func(fn func(c *ishell.Context) error) func(c *ishell.Context) {
		return func(c *ishell.Context) {
			if err := fn(c); err != nil {
				c.Err(err)
			}
		}
	}

	shell := ishell.New()
	shell.Println("Slowservo development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "createsuperuser",
		Help: "createsuperuser <email> <password>",
		Func: run(func(c *ishell.Context) error {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			user := &User{
				Email: email,
				Name:  email,
				Admin: true,
			}
			if err := user.SetPassword([]byte(password)); err != nil {
				return err
			}
			if err := ENV.DB.Save(user); err != nil {
				return err
			}

			c.Println("Superuser created")
			return nil
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "move",
		Completer: servoNames,
		Help:      "move <name> <degrees>",
		Func: run(func(c *ishell.Context) error {
			if err := usage(c.Args, 2, "move <name> <degrees>"); err != nil {
				return err
			}
			deg, err := parseFloat(c.Args[1], "angle")
			if err != nil {
				return err
			}
			c.Printf("Moving %s to %.1f°\n", c.Args[0], deg)
			return device.Move(c.Args[0], deg)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "within",
		Completer: servoNames,
		Help:      "within <name> <degrees> <ms>",
		Func: run(func(c *ishell.Context) error {
			if err := usage(c.Args, 3, "within <name> <degrees> <ms>"); err != nil {
				return err
			}
			deg, err := parseFloat(c.Args[1], "angle")
			if err != nil {
				return err
			}
			d, err := parseMillis(c.Args, 2)
			if err != nil {
				return err
			}
			c.Printf("Moving %s to %.1f° over %v\n", c.Args[0], deg, d)
			return device.MoveWithin(c.Args[0], deg, d)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "speed",
		Completer: servoNames,
		Help:      "speed <name> <degrees> <deg/s>",
		Func: run(func(c *ishell.Context) error {
			if err := usage(c.Args, 3, "speed <name> <degrees> <deg/s>"); err != nil {
				return err
			}
			deg, err := parseFloat(c.Args[1], "angle")
			if err != nil {
				return err
			}
			dps, err := parseFloat(c.Args[2], "speed")
			if err != nil {
				return err
			}
			return device.MoveAtSpeed(c.Args[0], deg, dps)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "pulse",
		Completer: servoNames,
		Help:      "pulse <name> <pulse> [ms]",
		Func: run(func(c *ishell.Context) error {
			if err := usage(c.Args, 2, "pulse <name> <pulse> [ms]"); err != nil {
				return err
			}
			pulse, err := strconv.Atoi(c.Args[1])
			if err != nil {
				return errors.Errorf("invalid pulse %q", c.Args[1])
			}
			d, err := parseMillis(c.Args, 2)
			if err != nil {
				return err
			}
			return device.MovePulse(c.Args[0], pulse, d)
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "centre",
		Completer: servoNames,
		Help:      "centre [name]",
		Func: run(func(c *ishell.Context) error {
			if len(c.Args) == 0 {
				return device.CentreAll()
			}
			return device.Centre(c.Args[0])
		}),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "Reads the current state of the servos",
		Func: func(c *ishell.Context) {
			state := device.GetState()
			for _, name := range device.Names() {
				c.Println(formatState(name, state))
			}
		},
	})

	{
		poseCmd := &ishell.Cmd{
			Name: "pose",
			Help: "manage stored poses",
		}

		poseNames := func([]string) []string {
			list, _ := poses.List()
			names := make([]string, 0, len(list))
			for _, p := range list {
				names = append(names, p.Name)
			}
			return names
		}

		poseCmd.AddCmd(&ishell.Cmd{
			Name: "save",
			Help: "save <name> [ms] stores the current position of every servo",
			Func: run(func(c *ishell.Context) error {
				if err := usage(c.Args, 1, "pose save <name> [ms]"); err != nil {
					return err
				}
				d, err := parseMillis(c.Args, 1)
				if err != nil {
					return err
				}
				return poses.Save(poseFromState(c.Args[0], device.GetState(), d))
			}),
		})

		poseCmd.AddCmd(&ishell.Cmd{
			Name:      "apply",
			Help:      "apply <name>",
			Completer: poseNames,
			Func: run(func(c *ishell.Context) error {
				if err := usage(c.Args, 1, "pose apply <name>"); err != nil {
					return err
				}
				p, err := poses.Get(c.Args[0])
				if err != nil {
					return err
				}
				return device.ApplyPose(p.Targets, p.Duration())
			}),
		})

		poseCmd.AddCmd(&ishell.Cmd{
			Name: "list",
			Help: "list stored poses",
			Func: run(func(c *ishell.Context) error {
				list, err := poses.List()
				if err != nil {
					return err
				}
				for _, p := range list {
					c.Printf("%-12s %v %v\n", p.Name, p.Duration(), p.Targets)
				}
				return nil
			}),
		})

		poseCmd.AddCmd(&ishell.Cmd{
			Name:      "delete",
			Help:      "delete <name>",
			Completer: poseNames,
			Func: run(func(c *ishell.Context) error {
				if err := usage(c.Args, 1, "pose delete <name>"); err != nil {
					return err
				}
				return poses.Delete(c.Args[0])
			}),
		})

		shell.AddCmd(poseCmd)
	}

	return shell
}
