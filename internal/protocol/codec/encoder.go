package codec

import (
	"fmt"

	"github.com/danmuck/simbridge/internal/observability"
	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/rs/zerolog/log"
)

const (
	dirEncode = "encode"
	dirDecode = "decode"
)

// Encoder packs host state into send buffers.
type Encoder struct {
	catalog *attribute.Catalog
}

func NewEncoder(catalog *attribute.Catalog) *Encoder {
	return &Encoder{catalog: catalog}
}

// Encode stamps clock and writes one value per binding in table order.
// Missing objects, unreadable values and mis-sized captures leave their
// slots untouched. The
// only error is a table that does not fit buf.
func (e *Encoder) Encode(table registry.Table, host Host, buf *Buffers, clock float64) error {
	if buf == nil {
		return ErrUnknownSizes
	}
	buf.SetClock(clock)
	w := NewWriter(buf)
	for i, b := range table {
		d, ok := e.catalog.Describe(b.Attribute)
		if !ok {
			return fmt.Errorf("codec: binding[%d] %s: %w", i, b.Entity, ErrUnknownSizes)
		}
		if err := e.encodeOne(w, b, d, host); err != nil {
			return fmt.Errorf("codec: binding[%d] %s.%s: %w", i, b.Entity, d.Name, err)
		}
	}
	return nil
}

// Seed writes the neutral value of every double binding into buf, so slots
// the host never fills go out as defaults rather than zeros.
func (e *Encoder) Seed(table registry.Table, buf *Buffers) error {
	if buf == nil {
		return ErrUnknownSizes
	}
	w := NewWriter(buf)
	for i, b := range table {
		d, ok := e.catalog.Describe(b.Attribute)
		if !ok {
			return fmt.Errorf("codec: binding[%d] %s: %w", i, b.Entity, ErrUnknownSizes)
		}
		var err error
		if d.Payload == attribute.PayloadDouble && len(d.Default) == d.Elements {
			err = w.PutDoubles(d.Default)
		} else {
			err = skip(w, d)
		}
		if err != nil {
			return fmt.Errorf("codec: binding[%d] %s.%s: %w", i, b.Entity, d.Name, err)
		}
	}
	return nil
}

func (e *Encoder) encodeOne(w *Writer, b registry.Binding, d attribute.Descriptor, host Host) error {
	object := objectOf(b)
	if !host.EntityExists(object) {
		skipped(dirEncode, "missing_entity", b, d)
		return skip(w, d)
	}
	switch d.Payload {
	case attribute.PayloadByte:
		pixels, ok := host.CaptureRGB(object, d.Resolution)
		if !ok || len(pixels) != d.Elements {
			log.Warn().
				Str("entity", b.Entity).
				Str("attribute", d.Name).
				Int("want", d.Elements).
				Int("got", len(pixels)).
				Msg("codec.Encoder image size mismatch")
			observability.RecordSkippedField(dirEncode, "image_size")
			return w.SkipBytes(d.Elements)
		}
		return w.PutBytes(pixels)
	case attribute.PayloadUInt16:
		depth, ok := host.CaptureDepth(object, d.Resolution)
		if !ok || len(depth) != d.Elements {
			log.Warn().
				Str("entity", b.Entity).
				Str("attribute", d.Name).
				Int("want", d.Elements).
				Int("got", len(depth)).
				Msg("codec.Encoder depth size mismatch")
			observability.RecordSkippedField(dirEncode, "image_size")
			return w.SkipUInt16s(d.Elements)
		}
		return w.PutUInt16s(depth)
	}

	v, ok := readHost(host, b, d)
	if !ok {
		skipped(dirEncode, "unreadable", b, d)
		return w.SkipDoubles(d.Elements)
	}
	if len(v) != d.Elements {
		skipped(dirEncode, "length", b, d)
		return w.SkipDoubles(d.Elements)
	}
	return w.PutDoubles(v)
}

func readHost(host Host, b registry.Binding, d attribute.Descriptor) ([]float64, bool) {
	object := objectOf(b)
	switch d.Attribute {
	case attribute.Position:
		p, ok := host.Position(object)
		return []float64{p.X, p.Y, p.Z}, ok
	case attribute.Quaternion:
		q, ok := host.Orientation(object)
		return []float64{q.W, q.X, q.Y, q.Z}, ok
	case attribute.JointRvalue:
		if b.Source.Bone != "" {
			deg, ok := host.JointRotationDegrees(jointRef(b))
			return []float64{deg}, ok
		}
	case attribute.JointTvalue:
		if b.Source.Bone != "" {
			cm, ok := host.JointTranslation(jointRef(b))
			return []float64{cm}, ok
		}
	}
	return host.Custom(object, d.Attribute)
}

func objectOf(b registry.Binding) string {
	if b.Source.Object != "" {
		return b.Source.Object
	}
	return b.Entity
}

func jointRef(b registry.Binding) JointRef {
	return JointRef{Object: objectOf(b), Bone: b.Source.Bone}
}

func skip(w *Writer, d attribute.Descriptor) error {
	switch d.Payload {
	case attribute.PayloadByte:
		return w.SkipBytes(d.Elements)
	case attribute.PayloadUInt16:
		return w.SkipUInt16s(d.Elements)
	default:
		return w.SkipDoubles(d.Elements)
	}
}

func skipped(direction, reason string, b registry.Binding, d attribute.Descriptor) {
	log.Warn().
		Str("direction", direction).
		Str("reason", reason).
		Str("entity", b.Entity).
		Str("attribute", d.Name).
		Msg("codec field skipped")
	observability.RecordSkippedField(direction, reason)
}
