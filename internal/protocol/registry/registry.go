// Package registry owns the per-direction entity sets and the binding tables
// derived from them.
//
// Ownership boundary:
// - entity registration and merge rules
// - dangling entity pruning
// - deterministic (entity, attribute) layout order
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
)

var (
	ErrEmptyEntityName = errors.New("registry: empty entity name")
	ErrUnknownKind     = errors.New("registry: unknown entity kind")
)

// Direction is the flow of an entity's data relative to this client.
type Direction uint8

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "receive"
	}
	return "send"
}

// Kind tags which host capability set backs an entity.
type Kind uint8

const (
	KindRigidBody Kind = iota
	KindArticulated
	KindCamera
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindRigidBody:
		return "rigid_body"
	case KindArticulated:
		return "articulated"
	case KindCamera:
		return "camera"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves a manifest kind name.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "rigid_body", "rigidbody", "body":
		return KindRigidBody, nil
	case "articulated", "skeletal":
		return KindArticulated, nil
	case "camera":
		return KindCamera, nil
	case "custom":
		return KindCustom, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Entity is one registered participant. Name identifies the host object;
// Prefix and Suffix decorate the name used on the wire.
type Entity struct {
	Name       string
	Prefix     string
	Suffix     string
	Kind       Kind
	Attributes []attribute.Attribute
	Bones      []string
}

// WireName is the entity name the server sees.
func (e Entity) WireName() string {
	return e.Prefix + e.Name + e.Suffix
}

// Has reports whether a is among e's declared attributes.
func (e Entity) Has(a attribute.Attribute) bool {
	for _, have := range e.Attributes {
		if have == a {
			return true
		}
	}
	return false
}

func (e Entity) clone() Entity {
	e.Attributes = append([]attribute.Attribute(nil), e.Attributes...)
	e.Bones = append([]string(nil), e.Bones...)
	return e
}

// Registry holds the send and receive entity sets. It is safe for concurrent
// use, but the protocol engine only reads it outside of host configuration.
type Registry struct {
	mu      sync.RWMutex
	send    map[string]Entity
	receive map[string]Entity
}

func New() *Registry {
	return &Registry{
		send:    make(map[string]Entity),
		receive: make(map[string]Entity),
	}
}

func (r *Registry) RegisterSend(e Entity) error {
	return r.Register(Send, e)
}

func (r *Registry) RegisterReceive(e Entity) error {
	return r.Register(Receive, e)
}

// Register merges e into the direction's set. A repeated name unions the
// attribute sets; the remaining fields of the later registration win.
func (r *Registry) Register(dir Direction, e Entity) error {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return ErrEmptyEntityName
	}
	e = e.clone()
	e.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.set(dir)
	if prev, ok := set[name]; ok {
		e.Attributes = append(append([]attribute.Attribute(nil), prev.Attributes...), e.Attributes...)
		if len(e.Bones) == 0 {
			e.Bones = prev.Bones
		}
	}
	e.Attributes = dedupeAttributes(e.Attributes)
	e.Bones = dedupeStrings(e.Bones)
	set[name] = e
	return nil
}

// Entities returns a copy of the direction's entities ordered by name.
func (r *Registry) Entities(dir Direction) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.set(dir)
	out := make([]Entity, 0, len(set))
	for _, e := range set {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of entities registered for dir.
func (r *Registry) Len(dir Direction) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.set(dir))
}

// PruneInvalid removes entities whose host object no longer exists. Custom
// entities are not backed by the host and are never pruned. The returned
// count is for logging.
func (r *Registry) PruneInvalid(exists func(object string) bool) int {
	if exists == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, set := range []map[string]Entity{r.send, r.receive} {
		for name, e := range set {
			if e.Kind == KindCustom {
				continue
			}
			if !exists(name) {
				delete(set, name)
				removed++
			}
		}
	}
	return removed
}

// IsNonEmpty reports whether any send or receive entity remains.
func (r *Registry) IsNonEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.send) > 0 || len(r.receive) > 0
}

func (r *Registry) set(dir Direction) map[string]Entity {
	if dir == Receive {
		return r.receive
	}
	return r.send
}

func dedupeAttributes(in []attribute.Attribute) []attribute.Attribute {
	seen := make(map[attribute.Attribute]struct{}, len(in))
	out := make([]attribute.Attribute, 0, len(in))
	for _, a := range in {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
