package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/CodedInternet/slowservo/comms"
	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/edaniels/golog"
)

const testConfig = `
version: 1.0.0
range: standard
servos:
  pan:
    channel: 0
  tilt:
    channel: 1
    min: -45
    max: 45
`

// setupEnv points ENV at a fresh database and a simulated device.
func setupEnv(t *testing.T) *onboard.SimulatedDriver {
	db, err := openDb(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ENV.DB = db
	ENV.Logger = golog.NewTestLogger(t)
	if ENV.Poses, err = pose.NewStore(db); err != nil {
		t.Fatal(err)
	}

	config, err := onboard.ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatal(err)
	}

	drv := onboard.NewSimulatedDriver()
	device, err := onboard.NewPWMServoDevice(config, drv, ENV.Logger)
	if err != nil {
		t.Fatal(err)
	}
	ENV.Device = device
	ENV.Conductor = comms.NewConductor(device, ENV.Poses, ENV.Logger)
	return drv
}

func authToken(t *testing.T) string {
	token, err := newJWT("test@slowservo")
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func doRequest(handler http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Add("Content-Type", "application/json")
	if token != "" {
		req.Header.Add("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
