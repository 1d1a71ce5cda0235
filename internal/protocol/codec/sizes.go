// Package codec packs host state into the typed buffer regions exchanged
// with the simulator and applies received regions back to the host.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

// Unknown marks a size that could not be computed.
const Unknown = -1

var ErrUnknownSizes = errors.New("codec: buffer sizes unknown")

// Sizes holds the element count of each buffer region. Double excludes the
// leading clock slot.
type Sizes struct {
	Double int
	Byte   int
	UInt16 int
}

var UnknownSizes = Sizes{Double: Unknown, Byte: Unknown, UInt16: Unknown}

func (s Sizes) Known() bool {
	return s.Double >= 0 && s.Byte >= 0 && s.UInt16 >= 0
}

func (s Sizes) String() string {
	return fmt.Sprintf("double=%d byte=%d uint16=%d", s.Double, s.Byte, s.UInt16)
}

// SizeMismatchError reports two layouts that disagree.
type SizeMismatchError struct {
	Direction string
	Want      Sizes
	Got       Sizes
}

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("codec: %s size mismatch: want %s got %s", e.Direction, e.Want, e.Got)
}

// ComputeSizes sums element counts per payload kind over table. Any empty
// entity name or attribute outside the catalog makes every size Unknown.
func ComputeSizes(table registry.Table, catalog *attribute.Catalog) Sizes {
	var s Sizes
	for _, b := range table {
		if strings.TrimSpace(b.Entity) == "" {
			return UnknownSizes
		}
		d, ok := catalog.Describe(b.Attribute)
		if !ok {
			return UnknownSizes
		}
		switch d.Payload {
		case attribute.PayloadByte:
			s.Byte += d.Elements
		case attribute.PayloadUInt16:
			s.UInt16 += d.Elements
		default:
			s.Double += d.Elements
		}
	}
	return s
}
