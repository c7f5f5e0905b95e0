package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StateStreamHandler upgrades to a websocket that receives the servo state at
// the device frame rate and accepts commands in the other direction.
func StateStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ENV.Logger.Warnw("upgrade failed", "error", err)
		return
	}

	ENV.Logger.Debugw("state stream opened", "remote", r.RemoteAddr)
	if err := ENV.Conductor.Serve(conn); err != nil {
		ENV.Logger.Debugw("state stream closed", "remote", r.RemoteAddr, "error", err)
	}
}
