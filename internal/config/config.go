// Package config loads the scene manifest: the host objects a bridge run
// creates and the attributes each one sends or receives.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/scene"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("config: unsupported manifest format")

type Manifest struct {
	Objects []ObjectConfig `toml:"objects" yaml:"objects"`
}

type ObjectConfig struct {
	Name   string `toml:"name" yaml:"name"`
	Kind   string `toml:"kind" yaml:"kind"`
	Prefix string `toml:"prefix" yaml:"prefix"`
	Suffix string `toml:"suffix" yaml:"suffix"`
	// Bones of an articulated object, named with their joint suffix.
	Bones       []string  `toml:"bones" yaml:"bones"`
	Position    []float64 `toml:"position" yaml:"position"`
	Orientation []float64 `toml:"orientation" yaml:"orientation"`
	Send        []string  `toml:"send" yaml:"send"`
	Receive     []string  `toml:"receive" yaml:"receive"`
}

// LoadManifest reads a .toml, .yaml or .yml manifest and validates it.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&m)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&m)
	default:
		return Manifest{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateManifest(m); err != nil {
		return Manifest{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return m, nil
}

func ValidateManifest(m Manifest) error {
	seen := make(map[string]struct{}, len(m.Objects))
	for i, obj := range m.Objects {
		if err := ValidateObject(obj); err != nil {
			return fmt.Errorf("objects[%d] invalid: %w", i, err)
		}
		if _, dup := seen[obj.Name]; dup {
			return fmt.Errorf("objects[%d] invalid: duplicate name %q", i, obj.Name)
		}
		seen[obj.Name] = struct{}{}
	}
	return nil
}

func ValidateObject(obj ObjectConfig) error {
	if strings.TrimSpace(obj.Name) == "" {
		return fmt.Errorf("name is required")
	}
	kind, err := registry.ParseKind(obj.Kind)
	if err != nil {
		return err
	}
	if len(obj.Bones) > 0 && kind != registry.KindArticulated {
		return fmt.Errorf("bones require kind articulated")
	}
	for _, bone := range obj.Bones {
		if _, _, ok := registry.JointOfBone(bone); !ok {
			return fmt.Errorf("bone %q has no joint suffix", bone)
		}
	}
	if n := len(obj.Position); n != 0 && n != 3 {
		return fmt.Errorf("position needs 3 values, got %d", n)
	}
	if n := len(obj.Orientation); n != 0 && n != 4 {
		return fmt.Errorf("orientation needs 4 values (w, x, y, z), got %d", n)
	}
	return nil
}

// parseAttributes resolves names for one side of obj. Unknown names, and
// image kinds on the receive side, are skipped with a warning.
func parseAttributes(obj string, dir registry.Direction, names []string, catalog *attribute.Catalog) []attribute.Attribute {
	out := make([]attribute.Attribute, 0, len(names))
	for _, name := range names {
		a, ok := catalog.FromCanonicalName(strings.TrimSpace(name))
		if !ok {
			log.Warn().
				Str("object", obj).
				Str("direction", dir.String()).
				Str("attribute", name).
				Msg("config.Manifest unknown attribute skipped")
			continue
		}
		if dir == registry.Receive && !catalog.Writable(a) {
			log.Warn().
				Str("object", obj).
				Str("attribute", name).
				Msg("config.Manifest send-only attribute skipped on receive")
			continue
		}
		out = append(out, a)
	}
	return out
}

// Apply creates every object in s and registers its send/receive
// attributes in reg. The manifest must already be valid. Attribute names
// that cannot be bound are dropped, so an object may end up registered on
// one side only, or on neither.
func (m Manifest) Apply(s *scene.Scene, reg *registry.Registry, catalog *attribute.Catalog) error {
	for _, obj := range m.Objects {
		kind, err := registry.ParseKind(obj.Kind)
		if err != nil {
			return err
		}
		if err := s.Add(obj.Name, kind, obj.Bones...); err != nil {
			return fmt.Errorf("object %q: %w", obj.Name, err)
		}
		if len(obj.Position) == 3 {
			s.SetPosition(obj.Name, codec.Vec3{X: obj.Position[0], Y: obj.Position[1], Z: obj.Position[2]})
		}
		if len(obj.Orientation) == 4 {
			s.SetOrientation(obj.Name, codec.Quat{W: obj.Orientation[0], X: obj.Orientation[1], Y: obj.Orientation[2], Z: obj.Orientation[3]})
		}

		for _, side := range []struct {
			dir   registry.Direction
			names []string
		}{{registry.Send, obj.Send}, {registry.Receive, obj.Receive}} {
			attrs := parseAttributes(obj.Name, side.dir, side.names, catalog)
			if len(attrs) == 0 {
				continue
			}
			if err := reg.Register(side.dir, registry.Entity{
				Name:       obj.Name,
				Prefix:     obj.Prefix,
				Suffix:     obj.Suffix,
				Kind:       kind,
				Attributes: attrs,
				Bones:      obj.Bones,
			}); err != nil {
				return fmt.Errorf("object %q: %w", obj.Name, err)
			}
		}
	}
	return nil
}
