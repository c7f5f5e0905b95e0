package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CodedInternet/slowservo/comms"
	"github.com/CodedInternet/slowservo/onboard"
	"github.com/CodedInternet/slowservo/pca9685"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/CodedInternet/slowservo/servo"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

type EnvConfig struct {
	CONFIG        string        `env:"SLOWSERVO_CONFIG" envDefault:"./servos.yaml"`
	DB_PATH       string        `env:"SLOWSERVO_DB" envDefault:"./tmp/dev.db"`
	DEBUG         bool          `env:"DEBUG" envDefault:"false"`
	JWT_SECRET    string        `env:"JWT_SECRET" envDefault:"xWumOlRfhu+LBi2F2e1yF4FiaopQ5mr8klL4fpILnlI="`
	JWT_ISSUER    string        `env:"JWT_ISSUER" envDefault:"DEV"`
	TICK_INTERVAL time.Duration `env:"TICK_INTERVAL" envDefault:"10ms"`
	HTMLDIR       string        `env:"HTMLDIR" envDefault:"./static/"`
	DB            *storm.DB
	Device        onboard.ServoDevice
	Poses         *pose.Store
	Conductor     *comms.Conductor
	Logger        golog.Logger
	Simulated     bool
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		panic(err)
	}
}

func main() {
	simulated := flag.Bool("sim", false, "Run the device in simulator mode")
	port := flag.String("port", "0.0.0.0:80", "Specify the ip:port to listen on")
	interactive := flag.Bool("shell", false, "Start the development shell")
	flag.Parse()

	logger := newLogger(ENV.DEBUG)
	ENV.Logger = logger
	ENV.Simulated = *simulated

	if err := run(*port, *interactive); err != nil {
		logger.Fatalw("slowservo stopped", "error", err)
	}
}

func newLogger(debug bool) golog.Logger {
	if debug {
		return golog.NewDevelopmentLogger("slowservo")
	}
	return golog.NewLogger("slowservo")
}

func run(addr string, interactive bool) error {
	logger := ENV.Logger

	db, err := openDb(ENV.DB_PATH)
	if err != nil {
		return err
	}
	defer db.Close() // close database when finished
	ENV.DB = db

	if ENV.Poses, err = pose.NewStore(db); err != nil {
		return err
	}

	config, err := onboard.LoadConfig(ENV.CONFIG)
	if err != nil {
		return err
	}

	var driver servo.Driver
	if ENV.Simulated {
		logger.Info("running with the simulated driver")
		driver = onboard.NewSimulatedDriver()
	} else {
		hw := pca9685.New(config.Bus, config.Address)
		defer hw.Close()
		driver = hw
	}

	device, err := onboard.NewPWMServoDevice(config, driver, logger)
	if err != nil {
		return err
	}
	ENV.Device = device
	ENV.Conductor = comms.NewConductor(device, ENV.Poses, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go device.Run(ctx, ENV.TICK_INTERVAL)
	go ENV.Conductor.UpdateClients(ctx)

	if interactive {
		shell := newShell(device, ENV.Poses)
		shell.Start()
	}

	srv := &http.Server{Addr: addr, Handler: NewRouter()}
	go func() {
		<-ctx.Done()
		shutdown, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdown)
	}()

	logger.Infow("listening", "addr", addr, "servos", device.Names())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func openDb(dbFile string) (db *storm.DB, err error) {
	if err = os.MkdirAll(filepath.Dir(dbFile), 0755); err != nil {
		return nil, errors.Wrap(err, "unable to create database directory")
	}

	db, err = storm.Open(dbFile)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", dbFile)
	}

	// call inits for each type
	if err := db.Init(&User{}); err != nil {
		db.Close()
		return nil, err
	}

	return
}
