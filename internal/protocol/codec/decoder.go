package codec

import (
	"fmt"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Decoder applies receive buffers to the host.
type Decoder struct {
	catalog *attribute.Catalog
}

func NewDecoder(catalog *attribute.Catalog) *Decoder {
	return &Decoder{catalog: catalog}
}

// Decode walks table in order and writes each value into host. Image kinds
// and dangling objects are skipped with their cursor advanced.
func (d *Decoder) Decode(table registry.Table, buf *Buffers, host Host) error {
	if buf == nil {
		return ErrUnknownSizes
	}
	r := NewReader(buf)
	for i, b := range table {
		desc, ok := d.catalog.Describe(b.Attribute)
		if !ok {
			return fmt.Errorf("codec: binding[%d] %s: %w", i, b.Entity, ErrUnknownSizes)
		}
		switch desc.Payload {
		case attribute.PayloadByte:
			if _, err := r.Bytes(desc.Elements); err != nil {
				return fmt.Errorf("codec: binding[%d] %s.%s: %w", i, b.Entity, desc.Name, err)
			}
			continue
		case attribute.PayloadUInt16:
			if _, err := r.UInt16s(desc.Elements); err != nil {
				return fmt.Errorf("codec: binding[%d] %s.%s: %w", i, b.Entity, desc.Name, err)
			}
			continue
		}
		v, err := r.Doubles(desc.Elements)
		if err != nil {
			return fmt.Errorf("codec: binding[%d] %s.%s: %w", i, b.Entity, desc.Name, err)
		}
		if !host.EntityExists(objectOf(b)) {
			skipped(dirDecode, "missing_entity", b, desc)
			continue
		}
		if !writeHost(host, b, desc, v) {
			skipped(dirDecode, "rejected", b, desc)
		}
	}
	return nil
}

// ApplyState writes continuation values echoed by the server. Pairs without
// values are left alone; arrays whose length differs from the element count
// are skipped. It returns the number of pairs applied.
func (d *Decoder) ApplyState(table registry.Table, state schema.EntityState, host Host) int {
	applied := 0
	for _, b := range table {
		desc, ok := d.catalog.Describe(b.Attribute)
		if !ok || !d.catalog.Writable(b.Attribute) {
			continue
		}
		v, ok := state.Values(b.Entity, desc.Name)
		if !ok {
			continue
		}
		if len(v) != desc.Elements {
			log.Warn().
				Str("entity", b.Entity).
				Str("attribute", desc.Name).
				Int("want", desc.Elements).
				Int("got", len(v)).
				Msg("codec.Decoder continuation length mismatch")
			skipped(dirDecode, "continuation_length", b, desc)
			continue
		}
		if !host.EntityExists(objectOf(b)) {
			skipped(dirDecode, "missing_entity", b, desc)
			continue
		}
		if writeHost(host, b, desc, v) {
			applied++
		}
	}
	return applied
}

func writeHost(host Host, b registry.Binding, d attribute.Descriptor, v []float64) bool {
	object := objectOf(b)
	switch d.Attribute {
	case attribute.Position:
		return host.SetPosition(object, Vec3{X: v[0], Y: v[1], Z: v[2]})
	case attribute.Quaternion:
		return host.SetOrientation(object, Quat{W: v[0], X: v[1], Y: v[2], Z: v[3]})
	case attribute.JointRvalue:
		if b.Source.Bone != "" {
			return host.SetJointRotationDegrees(jointRef(b), v[0])
		}
	case attribute.JointTvalue:
		if b.Source.Bone != "" {
			return host.SetJointTranslation(jointRef(b), v[0])
		}
	}
	return host.SetCustom(object, d.Attribute, append([]float64(nil), v...))
}
