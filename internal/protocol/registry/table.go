package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
)

// Bone name suffixes that mark a jointed bone of an articulated entity.
const (
	RevoluteBoneSuffix   = "_revolute_bone"
	ContinuousBoneSuffix = "_continuous_bone"
	PrismaticBoneSuffix  = "_prismatic_bone"
)

// Source points a binding back at the host object (and bone) that holds its
// value.
type Source struct {
	Object string
	Bone   string
	Kind   Kind
}

// Binding is one (entity, attribute) pair of a buffer layout.
type Binding struct {
	Entity    string
	Attribute attribute.Attribute
	Source    Source
}

// Table is the ordered binding list that fixes buffer offsets.
type Table []Binding

// BoneLookup returns the current bone names of an articulated host object.
type BoneLookup func(object string) []string

// TableError reports bindings that cannot be laid out.
type TableError struct {
	Index  int
	Entity string
	Reason string
}

func (e TableError) Error() string {
	return fmt.Sprintf("registry: binding[%d] entity=%q: %s", e.Index, e.Entity, e.Reason)
}

// Bindings derives the binding table for dir. Articulated entities are
// expanded into one synthetic entity per jointed bone. bones may be nil, in
// which case registered Entity.Bones are used.
func (r *Registry) Bindings(dir Direction, bones BoneLookup) Table {
	entities := r.Entities(dir)
	out := make(Table, 0, len(entities)*2)
	for _, e := range entities {
		src := Source{Object: e.Name, Kind: e.Kind}
		for _, a := range e.Attributes {
			if e.Kind == KindArticulated && isBoneJoint(a) {
				continue
			}
			out = append(out, Binding{Entity: e.WireName(), Attribute: a, Source: src})
		}
		if e.Kind != KindArticulated {
			continue
		}
		boneNames := e.Bones
		if bones != nil {
			if live := bones(e.Name); len(live) > 0 {
				boneNames = live
			}
		}
		out = append(out, expandBones(e, boneNames)...)
	}
	return SortTable(out)
}

func isBoneJoint(a attribute.Attribute) bool {
	return a == attribute.JointRvalue || a == attribute.JointTvalue
}

func expandBones(e Entity, bones []string) Table {
	out := make(Table, 0, len(bones))
	for _, bone := range bones {
		stripped, a, ok := JointOfBone(bone)
		if !ok || !e.Has(a) {
			continue
		}
		out = append(out, Binding{
			Entity:    e.Prefix + stripped + e.Suffix,
			Attribute: a,
			Source:    Source{Object: e.Name, Bone: bone, Kind: KindArticulated},
		})
	}
	return out
}

// JointOfBone classifies a bone by its naming suffix and returns the bone
// name without the suffix plus the joint attribute it carries.
func JointOfBone(bone string) (string, attribute.Attribute, bool) {
	switch {
	case strings.HasSuffix(bone, RevoluteBoneSuffix):
		return strings.TrimSuffix(bone, RevoluteBoneSuffix), attribute.JointRvalue, true
	case strings.HasSuffix(bone, ContinuousBoneSuffix):
		return strings.TrimSuffix(bone, ContinuousBoneSuffix), attribute.JointRvalue, true
	case strings.HasSuffix(bone, PrismaticBoneSuffix):
		return strings.TrimSuffix(bone, PrismaticBoneSuffix), attribute.JointTvalue, true
	default:
		return "", 0, false
	}
}

// SortTable orders bindings by entity name descending, then attribute
// ascending, and collapses duplicate pairs. The input is not modified.
func SortTable(in Table) Table {
	out := append(Table(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity > out[j].Entity
		}
		return out[i].Attribute < out[j].Attribute
	})
	if len(out) < 2 {
		return out
	}
	dedup := out[:1]
	for _, b := range out[1:] {
		last := dedup[len(dedup)-1]
		if b.Entity == last.Entity && b.Attribute == last.Attribute {
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// Validate reports the first binding with an empty entity name or an
// attribute unknown to catalog.
func (t Table) Validate(catalog *attribute.Catalog) error {
	for i, b := range t {
		if strings.TrimSpace(b.Entity) == "" {
			return TableError{Index: i, Entity: b.Entity, Reason: "empty entity name"}
		}
		if _, ok := catalog.Describe(b.Attribute); !ok {
			return TableError{Index: i, Entity: b.Entity, Reason: "unknown attribute"}
		}
	}
	return nil
}

// Grouped returns entity -> attribute names, preserving table order within
// each entity.
func (t Table) Grouped(catalog *attribute.Catalog) map[string][]string {
	out := make(map[string][]string)
	for _, b := range t {
		out[b.Entity] = append(out[b.Entity], catalog.CanonicalName(b.Attribute))
	}
	return out
}

// Entities returns the distinct entity names in table order.
func (t Table) Entities() []string {
	out := make([]string, 0, len(t))
	for i, b := range t {
		if i > 0 && t[i-1].Entity == b.Entity {
			continue
		}
		out = append(out, b.Entity)
	}
	return out
}
