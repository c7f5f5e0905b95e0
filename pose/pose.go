// Package pose keeps named sets of servo targets in a storm database so they
// can be recalled from the shell or the API.
package pose

import (
	"time"

	"github.com/asdine/storm/v3"
	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("pose not found")
	ErrEmptyName = errors.New("pose name is required")
	ErrNoTargets = errors.New("pose has no targets")
)

// Pose is a set of servo angles reached together within Duration. A zero
// duration means every servo moves at its maximum speed.
type Pose struct {
	ID         int                `storm:"increment" json:"-"`
	Name       string             `storm:"unique" json:"name"`
	Targets    map[string]float64 `json:"targets"`
	DurationMS int64              `json:"duration_ms"`
	Updated    time.Time          `json:"updated"`
}

func (p Pose) Duration() time.Duration {
	return time.Duration(p.DurationMS) * time.Millisecond
}

type Store struct {
	db *storm.DB
}

// Open opens (or creates) a database used only for poses.
func Open(path string) (*Store, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	return NewStore(db)
}

// NewStore uses an already open database, e.g. one shared with users.
func NewStore(db *storm.DB) (*Store, error) {
	if err := db.Init(&Pose{}); err != nil {
		return nil, errors.Wrap(err, "unable to init pose bucket")
	}
	return &Store{db: db}, nil
}

// Save creates the pose, or replaces the one with the same name.
func (s *Store) Save(p *Pose) error {
	if p.Name == "" {
		return ErrEmptyName
	}
	if len(p.Targets) == 0 {
		return ErrNoTargets
	}
	if p.DurationMS < 0 {
		p.DurationMS = 0
	}

	var existing Pose
	err := s.db.One("Name", p.Name, &existing)
	switch err {
	case nil:
		p.ID = existing.ID
	case storm.ErrNotFound:
		p.ID = 0
	default:
		return errors.Wrapf(err, "unable to look up pose %s", p.Name)
	}

	p.Updated = time.Now().UTC()
	return errors.Wrapf(s.db.Save(p), "unable to save pose %s", p.Name)
}

func (s *Store) Get(name string) (p Pose, err error) {
	err = s.db.One("Name", name, &p)
	if err == storm.ErrNotFound {
		return p, errors.Wrap(ErrNotFound, name)
	}
	return p, err
}

func (s *Store) List() (poses []Pose, err error) {
	err = s.db.All(&poses)
	return
}

func (s *Store) Delete(name string) error {
	p, err := s.Get(name)
	if err != nil {
		return err
	}
	return s.db.DeleteStruct(&p)
}

func (s *Store) Close() error {
	return s.db.Close()
}
