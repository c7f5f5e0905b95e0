package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	deviceerrors "github.com/CodedInternet/slowservo/onboard/errors"
	"github.com/CodedInternet/slowservo/pose"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
)

func NewRouter() chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/login", Login)

		r.Group(func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)

			r.Route("/servos", func(r chi.Router) {
				r.Get("/", ListServos)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", GetServo)
					r.Post("/move", MoveServo)
					r.Post("/centre", CentreServo)
				})
			})

			r.Route("/poses", func(r chi.Router) {
				r.Get("/", ListPoses)
				r.Post("/", SavePose)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", GetPose)
					r.Delete("/", DeletePose)
					r.Post("/apply", ApplyPose)
				})
			})
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(ValidateJWT)
		} else if ENV.Logger != nil {
			ENV.Logger.Warn("running in debug mode, websocket authentication disabled")
		}

		r.Get("/state", StateStreamHandler)
	})

	// add static base routes
	if info, err := os.Stat(ENV.HTMLDIR); err == nil && info.IsDir() {
		FileServer(r, "/", http.Dir(ENV.HTMLDIR))
	} else if ENV.Logger != nil {
		ENV.Logger.Warnw("no static directory, remote UI not served", "dir", ENV.HTMLDIR)
	}

	return r
}

//---
// Payloads
//---

// MovePayload moves a servo by angle or by raw pulse. DurationMS takes
// precedence over Speed, and an explicit zero snaps to the target; with
// neither the servo moves at its maximum speed.
type MovePayload struct {
	Degrees    *float64 `json:"degrees"`
	Pulse      *int     `json:"pulse"`
	DurationMS *int64   `json:"duration_ms"`
	Speed      float64  `json:"speed"`
}

func (m *MovePayload) Bind(r *http.Request) error {
	switch {
	case m.Degrees == nil && m.Pulse == nil:
		return errors.New("one of degrees or pulse is required")
	case m.Degrees != nil && m.Pulse != nil:
		return errors.New("degrees and pulse are mutually exclusive")
	case m.DurationMS != nil && *m.DurationMS < 0:
		return errors.New("duration_ms must not be negative")
	case m.Speed < 0:
		return errors.New("speed must not be negative")
	}
	return nil
}

func (m *MovePayload) duration() time.Duration {
	if m.DurationMS == nil {
		return 0
	}
	return time.Duration(*m.DurationMS) * time.Millisecond
}

type PosePayload struct {
	*pose.Pose
}

func (p *PosePayload) Bind(r *http.Request) error {
	if p.Pose == nil {
		return errors.New("missing pose")
	}
	if p.Name == "" {
		return pose.ErrEmptyName
	}
	if len(p.Targets) == 0 {
		return pose.ErrNoTargets
	}

	state := ENV.Device.GetState()
	for name := range p.Targets {
		if _, ok := state[name]; !ok {
			return deviceerrors.ServoNameError{Name: name}
		}
	}
	return nil
}

//---
// Servo views
//---

func ListServos(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Device.GetState())
}

func GetServo(w http.ResponseWriter, r *http.Request) {
	state, ok := ENV.Device.GetState()[chi.URLParam(r, "name")]
	if !ok {
		render.Render(w, r, ErrNotFound)
		return
	}
	render.JSON(w, r, state)
}

func MoveServo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data := &MovePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var err error
	switch {
	case data.Pulse != nil:
		err = ENV.Device.MovePulse(name, *data.Pulse, data.duration())
	case data.DurationMS != nil:
		err = ENV.Device.MoveWithin(name, *data.Degrees, data.duration())
	case data.Speed > 0:
		err = ENV.Device.MoveAtSpeed(name, *data.Degrees, data.Speed)
	default:
		err = ENV.Device.Move(name, *data.Degrees)
	}
	if err != nil {
		render.Render(w, r, deviceError(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ENV.Device.GetState()[name])
}

func CentreServo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := ENV.Device.Centre(name); err != nil {
		render.Render(w, r, deviceError(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ENV.Device.GetState()[name])
}

//---
// Pose views
//---

func ListPoses(w http.ResponseWriter, r *http.Request) {
	poses, err := ENV.Poses.List()
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	if poses == nil {
		poses = []pose.Pose{}
	}
	render.JSON(w, r, poses)
}

func GetPose(w http.ResponseWriter, r *http.Request) {
	p, err := ENV.Poses.Get(chi.URLParam(r, "name"))
	if err != nil {
		render.Render(w, r, poseError(err))
		return
	}
	render.JSON(w, r, p)
}

func SavePose(w http.ResponseWriter, r *http.Request) {
	data := &PosePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := ENV.Poses.Save(data.Pose); err != nil {
		render.Render(w, r, poseError(err))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, data.Pose)
}

func ApplyPose(w http.ResponseWriter, r *http.Request) {
	p, err := ENV.Poses.Get(chi.URLParam(r, "name"))
	if err != nil {
		render.Render(w, r, poseError(err))
		return
	}

	if err := ENV.Device.ApplyPose(p.Targets, p.Duration()); err != nil {
		render.Render(w, r, deviceError(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ENV.Device.GetState())
}

func DeletePose(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Poses.Delete(chi.URLParam(r, "name")); err != nil {
		render.Render(w, r, poseError(err))
		return
	}
	render.NoContent(w, r)
}

func deviceError(err error) render.Renderer {
	if nameErr, ok := errors.Cause(err).(deviceerrors.ServoNameError); ok {
		return errResponse(nameErr, http.StatusNotFound, "Resource not found.")
	}
	return ErrUnprocessable(err)
}

func poseError(err error) render.Renderer {
	switch errors.Cause(err) {
	case pose.ErrNotFound:
		return errResponse(err, http.StatusNotFound, "Resource not found.")
	case pose.ErrEmptyName, pose.ErrNoTargets:
		return ErrInvalidRequest(err)
	}
	return ErrRender(err)
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	})
}
