package comms

import (
	"time"

	"github.com/CodedInternet/slowservo/onboard"
)

type StatePayload struct {
	Servos onboard.DeviceState `json:"servos"`
	Time   time.Time           `json:"time"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
