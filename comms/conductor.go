package comms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoPoses        = errors.New("no pose store configured")
)

// Cmd is a single instruction from a client. Value is in degrees, or a raw
// pulse count for move_pulse.
type Cmd struct {
	Cmd        string  `json:"cmd"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
}

func (cmd Cmd) duration() time.Duration {
	return time.Duration(cmd.DurationMS) * time.Millisecond
}

type PoseSource interface {
	Get(name string) (pose.Pose, error)
}

type Conductor struct {
	Device onboard.ServoDevice
	Poses  PoseSource
	Logger golog.Logger

	lock    sync.Mutex
	clients map[*client]struct{}
}

func NewConductor(device onboard.ServoDevice, poses PoseSource, logger golog.Logger) *Conductor {
	return &Conductor{
		Device:  device,
		Poses:   poses,
		Logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) error {
	switch cmd.Cmd {
	case "move":
		switch {
		case cmd.DurationMS > 0:
			return c.Device.MoveWithin(cmd.Name, cmd.Value, cmd.duration())
		case cmd.Speed > 0:
			return c.Device.MoveAtSpeed(cmd.Name, cmd.Value, cmd.Speed)
		}
		return c.Device.Move(cmd.Name, cmd.Value)

	case "move_within":
		return c.Device.MoveWithin(cmd.Name, cmd.Value, cmd.duration())

	case "move_speed":
		return c.Device.MoveAtSpeed(cmd.Name, cmd.Value, cmd.Speed)

	case "move_pulse":
		return c.Device.MovePulse(cmd.Name, int(cmd.Value), cmd.duration())

	case "centre":
		return c.Device.Centre(cmd.Name)

	case "pose":
		if c.Poses == nil {
			return ErrNoPoses
		}
		p, err := c.Poses.Get(cmd.Name)
		if err != nil {
			return err
		}
		return c.Device.ApplyPose(p.Targets, p.Duration())
	}

	return errors.Wrap(ErrUnknownCommand, cmd.Cmd)
}

func (c *Conductor) State() StatePayload {
	return StatePayload{
		Servos: c.Device.GetState(),
		Time:   time.Now().UTC(),
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	// remote clients are sent text position frames instead of JSON
	remote bool
}

func (cl *client) writeLoop() {
	for msg := range cl.send {
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// queue drops the message if the client is not keeping up.
func (cl *client) queue(msg []byte) {
	select {
	case cl.send <- msg:
	default:
	}
}

// Serve reads commands from conn until it closes. State updates are pushed
// to it by UpdateClients for as long as Serve is running.
func (c *Conductor) Serve(conn *websocket.Conn) error {
	cl := &client{conn: conn, send: make(chan []byte, 8)}

	c.lock.Lock()
	if c.clients == nil {
		c.clients = make(map[*client]struct{})
	}
	c.clients[cl] = struct{}{}
	c.lock.Unlock()

	go cl.writeLoop()
	defer func() {
		c.lock.Lock()
		delete(c.clients, cl)
		c.lock.Unlock()
		close(cl.send)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		if isRemoteFrame(msg) {
			if err := c.processRemote(cl, string(msg)); err != nil {
				c.logger().Warnw("remote frame failed", "frame", string(msg), "error", err)
				cl.queue(reply(err))
			}
			continue
		}

		var cmd Cmd
		if err := json.Unmarshal(msg, &cmd); err != nil {
			cl.queue(reply(errors.Wrap(err, "invalid command")))
			continue
		}

		if err := c.ProcessCommand(cmd); err != nil {
			c.logger().Warnw("command failed", "cmd", cmd.Cmd, "name", cmd.Name, "error", err)
			cl.queue(reply(err))
		}
	}
}

// processRemote applies a remote frame and answers with the new set points.
// From then on the client receives position frames.
func (c *Conductor) processRemote(cl *client, msg string) error {
	frame, err := ParseRemoteFrame(msg)
	if err != nil {
		return err
	}
	if err := c.ApplyRemoteFrame(frame); err != nil {
		return err
	}

	c.lock.Lock()
	cl.remote = true
	c.lock.Unlock()

	cl.queue([]byte(c.RemoteEcho(RemoteSetPrefix)))
	return nil
}

// UpdateClients pushes the device state to every connected client at
// onboard.FRAMERATE until ctx is done.
func (c *Conductor) UpdateClients(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / onboard.FRAMERATE)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.broadcast()
		}
	}
}

func (c *Conductor) broadcast() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.clients) == 0 {
		return
	}

	state := c.State()
	msg, err := json.Marshal(state)
	if err != nil {
		c.logger().Errorw("unable to encode state", "error", err)
		return
	}
	echo := []byte(FormatRemoteFrame(RemotePositionPrefix, remotePositions(state.Servos, currentDegrees)))

	for cl := range c.clients {
		if cl.remote {
			cl.queue(echo)
		} else {
			cl.queue(msg)
		}
	}
}

func (c *Conductor) logger() golog.Logger {
	if c.Logger == nil {
		return golog.Global()
	}
	return c.Logger
}

func reply(err error) []byte {
	msg, _ := json.Marshal(ErrorPayload{Error: err.Error()})
	return msg
}
