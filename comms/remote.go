package comms

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
)

// The joystick remote speaks plain text frames instead of JSON:
//
//	@v0,v1,...,t:<ms>   set points sent by the remote
//	@v0,v1,...          set points echoed back after they are applied
//	#v0,v1,...          current positions pushed at FRAMERATE
//
// Each value is a position normalised to -1..1 over the servo's soft limits,
// multiplied by 100. Index i is the servo on the i-th lowest channel.
const (
	RemoteSetPrefix      = '@'
	RemotePositionPrefix = '#'

	remoteScale = 100
)

var ErrRemoteFrame = errors.New("malformed remote frame")

type RemoteFrame struct {
	Positions []float64
	T         int64 // client timestamp in ms, -1 when absent
}

func isRemoteFrame(msg []byte) bool {
	return len(msg) > 0 && (msg[0] == RemoteSetPrefix || msg[0] == RemotePositionPrefix)
}

func ParseRemoteFrame(msg string) (frame RemoteFrame, err error) {
	if !isRemoteFrame([]byte(msg)) {
		return frame, errors.Wrapf(ErrRemoteFrame, "%q", msg)
	}

	frame.T = -1
	for _, field := range strings.Split(msg[1:], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		if strings.HasPrefix(field, "t:") {
			if frame.T, err = strconv.ParseInt(field[2:], 10, 64); err != nil {
				return frame, errors.Wrapf(ErrRemoteFrame, "timestamp %q", field)
			}
			continue
		}

		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return frame, errors.Wrapf(ErrRemoteFrame, "position %q", field)
		}
		frame.Positions = append(frame.Positions, mgl64.Clamp(v/remoteScale, -1, 1))
	}
	return frame, nil
}

func FormatRemoteFrame(prefix byte, positions []float64) string {
	var b strings.Builder
	b.WriteByte(prefix)
	for i, p := range positions {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(math.Round(p * remoteScale))))
	}
	return b.String()
}

// remoteOrder lists the servos by channel, which is the remote's index order.
func remoteOrder(state onboard.DeviceState) []string {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return state[names[i]].Channel < state[names[j]].Channel
	})
	return names
}

func normalise(s servo.State, deg float64) float64 {
	span := s.Max - s.Min
	if span <= 0 {
		return 0
	}
	return mgl64.Clamp(2*(deg-s.Min)/span-1, -1, 1)
}

func denormalise(s servo.State, v float64) float64 {
	return s.Min + (mgl64.Clamp(v, -1, 1)+1)/2*(s.Max-s.Min)
}

// remotePositions normalises pick(state) for every servo in remote order.
func remotePositions(state onboard.DeviceState, pick func(servo.State) float64) []float64 {
	order := remoteOrder(state)
	positions := make([]float64, len(order))
	for i, name := range order {
		positions[i] = normalise(state[name], pick(state[name]))
	}
	return positions
}

func currentDegrees(s servo.State) float64 { return s.Degrees }
func targetDegrees(s servo.State) float64  { return s.Target }

// ApplyRemoteFrame moves each indexed servo to its set point at full speed.
// Indices beyond the configured servos are ignored.
func (c *Conductor) ApplyRemoteFrame(frame RemoteFrame) error {
	state := c.Device.GetState()
	order := remoteOrder(state)

	targets := make(map[string]float64, len(frame.Positions))
	for i, v := range frame.Positions {
		if i >= len(order) {
			break
		}
		targets[order[i]] = denormalise(state[order[i]], v)
	}
	if len(targets) == 0 {
		return nil
	}
	return c.Device.ApplyPose(targets, 0)
}

// RemoteEcho formats the device state for the remote. RemoteSetPrefix
// reports targets, anything else reports current positions.
func (c *Conductor) RemoteEcho(prefix byte) string {
	pick := currentDegrees
	if prefix == RemoteSetPrefix {
		pick = targetDegrees
	}
	return FormatRemoteFrame(prefix, remotePositions(c.Device.GetState(), pick))
}
