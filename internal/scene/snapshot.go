package scene

import (
	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
)

// JointSnapshot is the state of one bone.
type JointSnapshot struct {
	Bone            string  `json:"bone"`
	RotationDegrees float64 `json:"rotation_deg"`
	Translation     float64 `json:"translation_cm"`
}

// ObjectSnapshot is the JSON view of one object served by the admin API.
type ObjectSnapshot struct {
	Name        string               `json:"name"`
	Kind        string               `json:"kind"`
	Position    codec.Vec3           `json:"position"`
	Orientation codec.Quat           `json:"orientation"`
	Joints      []JointSnapshot      `json:"joints,omitempty"`
	Custom      map[string][]float64 `json:"custom,omitempty"`
}

// Snapshot copies every object in name order.
func (s *Scene) Snapshot(catalog *attribute.Catalog) []ObjectSnapshot {
	custom := s.custom.Snapshot(catalog)
	names := s.Names()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObjectSnapshot, 0, len(names))
	for _, name := range names {
		o, ok := s.objects[name]
		if !ok {
			continue
		}
		snap := ObjectSnapshot{
			Name:        name,
			Kind:        o.kind.String(),
			Position:    o.position,
			Orientation: o.orientation,
			Custom:      custom[name],
		}
		for _, b := range o.bones {
			j := o.joints[b]
			snap.Joints = append(snap.Joints, JointSnapshot{
				Bone:            b,
				RotationDegrees: j.rotationDegrees,
				Translation:     j.translation,
			})
		}
		out = append(out, snap)
	}
	return out
}
