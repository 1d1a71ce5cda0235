// Package scene is an in-memory engine host. It backs the CLI when no
// engine is attached and serves as the host double in tests.
package scene

import (
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

var (
	ErrDuplicateObject = errors.New("scene: duplicate object")
	ErrEmptyName       = errors.New("scene: empty object name")
)

type joint struct {
	rotationDegrees float64
	translation     float64
}

type object struct {
	kind        registry.Kind
	position    codec.Vec3
	orientation codec.Quat
	bones       []string
	joints      map[string]*joint
	rgb         []byte
	depth       []uint16
	frame       uint64
}

// Scene implements codec.Host. It is safe for concurrent use.
type Scene struct {
	mu      sync.RWMutex
	objects map[string]*object
	custom  *CustomStore
}

var _ codec.Host = (*Scene)(nil)

func New() *Scene {
	return &Scene{
		objects: make(map[string]*object),
		custom:  NewCustomStore(),
	}
}

// CustomStore exposes the store backing custom attributes.
func (s *Scene) CustomStore() *CustomStore {
	return s.custom
}

// Add inserts an object at the origin with identity orientation. Bones are
// only kept for articulated objects.
func (s *Scene) Add(name string, kind registry.Kind, bones ...string) error {
	if name == "" {
		return ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; ok {
		return ErrDuplicateObject
	}
	o := &object{kind: kind, orientation: codec.Quat{W: 1}}
	if kind == registry.KindArticulated {
		o.bones = append([]string(nil), bones...)
		o.joints = make(map[string]*joint, len(bones))
		for _, b := range bones {
			o.joints[b] = &joint{}
		}
	}
	s.objects[name] = o
	return nil
}

func (s *Scene) Remove(name string) {
	s.mu.Lock()
	delete(s.objects, name)
	s.mu.Unlock()
	s.custom.Drop(name)
}

// Names returns every object name, sorted.
func (s *Scene) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for name := range s.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Scene) EntityExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[name]
	return ok
}

func (s *Scene) Bones(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	if !ok {
		return nil
	}
	return slices.Clone(o.bones)
}

func (s *Scene) Position(name string) (codec.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	if !ok {
		return codec.Vec3{}, false
	}
	return o.position, true
}

func (s *Scene) SetPosition(name string, v codec.Vec3) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok {
		return false
	}
	o.position = v
	return true
}

func (s *Scene) Orientation(name string) (codec.Quat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	if !ok {
		return codec.Quat{}, false
	}
	return o.orientation, true
}

func (s *Scene) SetOrientation(name string, q codec.Quat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok {
		return false
	}
	o.orientation = q
	return true
}

func (s *Scene) jointLocked(ref codec.JointRef) (*joint, bool) {
	o, ok := s.objects[ref.Object]
	if !ok || o.joints == nil {
		return nil, false
	}
	j, ok := o.joints[ref.Bone]
	return j, ok
}

func (s *Scene) JointRotationDegrees(ref codec.JointRef) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jointLocked(ref)
	if !ok {
		return 0, false
	}
	return j.rotationDegrees, true
}

func (s *Scene) SetJointRotationDegrees(ref codec.JointRef, deg float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jointLocked(ref)
	if !ok {
		return false
	}
	j.rotationDegrees = deg
	return true
}

func (s *Scene) JointTranslation(ref codec.JointRef) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jointLocked(ref)
	if !ok {
		return 0, false
	}
	return j.translation, true
}

func (s *Scene) SetJointTranslation(ref codec.JointRef, cm float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jointLocked(ref)
	if !ok {
		return false
	}
	j.translation = cm
	return true
}

func (s *Scene) Custom(name string, a attribute.Attribute) ([]float64, bool) {
	if !s.EntityExists(name) {
		return nil, false
	}
	return s.custom.Get(name, a)
}

func (s *Scene) SetCustom(name string, a attribute.Attribute, v []float64) bool {
	if !s.EntityExists(name) {
		return false
	}
	s.custom.Set(name, a, v)
	return true
}
