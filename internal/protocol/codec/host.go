package codec

import "github.com/danmuck/simbridge/internal/protocol/attribute"

// Vec3 is a location in centimeters, left-handed.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is a rotation in [w, x, y, z] order.
type Quat struct {
	W, X, Y, Z float64
}

// JointRef names one bone of an articulated object.
type JointRef struct {
	Object string
	Bone   string
}

// Host is the engine-side accessor surface. Getters return false when the
// object (or bone) is gone; setters return false when nothing was written.
type Host interface {
	EntityExists(object string) bool
	Bones(object string) []string

	Position(object string) (Vec3, bool)
	SetPosition(object string, v Vec3) bool
	Orientation(object string) (Quat, bool)
	SetOrientation(object string, q Quat) bool

	JointRotationDegrees(ref JointRef) (float64, bool)
	SetJointRotationDegrees(ref JointRef, deg float64) bool
	JointTranslation(ref JointRef) (float64, bool)
	SetJointTranslation(ref JointRef, cm float64) bool

	// CaptureRGB returns W*H*3 bytes; CaptureDepth returns W*H samples.
	CaptureRGB(object string, res attribute.Resolution) ([]byte, bool)
	CaptureDepth(object string, res attribute.Resolution) ([]uint16, bool)

	// Custom covers attributes without a dedicated accessor.
	Custom(object string, a attribute.Attribute) ([]float64, bool)
	SetCustom(object string, a attribute.Attribute, v []float64) bool
}
