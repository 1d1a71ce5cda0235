// Package attribute owns the closed set of exchangeable attribute kinds.
//
// Ownership boundary:
// - canonical wire names
// - element counts and payload kinds
// - neutral default values
package attribute

import "fmt"

// Attribute is one enumerated attribute kind. Declaration order is the
// ascending order used when laying out buffers.
type Attribute uint8

const (
	CmdJointTorque Attribute = iota
	CmdJointForce
	CmdJointAngularAcceleration
	CmdJointLinearAcceleration
	CmdJointAngularVelocity
	CmdJointLinearVelocity
	CmdJointRvalue
	CmdJointTvalue
	Depth_1280_1024
	Depth_128_128
	Depth_3840_2160
	Depth_640_480
	JointAngularAcceleration
	JointLinearAcceleration
	JointAngularVelocity
	JointLinearVelocity
	JointPosition
	JointQuaternion
	JointRvalue
	JointTvalue
	Position
	Quaternion
	RGB_1280_1024
	RGB_128_128
	RGB_3840_2160
	RGB_640_480

	attributeCount
)

// Invalid marks a name that did not resolve against the catalog.
const Invalid Attribute = 0xFF

// PayloadKind selects the flat buffer region an attribute is packed into.
type PayloadKind uint8

const (
	PayloadDouble PayloadKind = iota
	PayloadByte
	PayloadUInt16
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadDouble:
		return "double"
	case PayloadByte:
		return "byte"
	case PayloadUInt16:
		return "uint16"
	default:
		return fmt.Sprintf("payload(%d)", uint8(k))
	}
}

// All returns every attribute in ascending order.
func All() []Attribute {
	out := make([]Attribute, 0, attributeCount)
	for a := Attribute(0); a < attributeCount; a++ {
		out = append(out, a)
	}
	return out
}

// Valid reports whether a is a member of the enumeration.
func (a Attribute) Valid() bool {
	return a < attributeCount
}

func (a Attribute) String() string {
	if !a.Valid() {
		return fmt.Sprintf("attribute(%d)", uint8(a))
	}
	return canonicalNames[a]
}

var canonicalNames = [attributeCount]string{
	CmdJointTorque:              "cmd_joint_torque",
	CmdJointForce:               "cmd_joint_force",
	CmdJointAngularAcceleration: "cmd_joint_angular_acceleration",
	CmdJointLinearAcceleration:  "cmd_joint_linear_acceleration",
	CmdJointAngularVelocity:     "cmd_joint_angular_velocity",
	CmdJointLinearVelocity:      "cmd_joint_linear_velocity",
	CmdJointRvalue:              "cmd_joint_rvalue",
	CmdJointTvalue:              "cmd_joint_tvalue",
	Depth_1280_1024:             "depth_1280_1024",
	Depth_128_128:               "depth_128_128",
	Depth_3840_2160:             "depth_3840_2160",
	Depth_640_480:               "depth_640_480",
	JointAngularAcceleration:    "joint_angular_acceleration",
	JointLinearAcceleration:     "joint_linear_acceleration",
	JointAngularVelocity:        "joint_angular_velocity",
	JointLinearVelocity:         "joint_linear_velocity",
	JointPosition:               "joint_position",
	JointQuaternion:             "joint_quaternion",
	JointRvalue:                 "joint_rvalue",
	JointTvalue:                 "joint_tvalue",
	Position:                    "position",
	Quaternion:                  "quaternion",
	RGB_1280_1024:               "rgb_1280_1024",
	RGB_128_128:                 "rgb_128_128",
	RGB_3840_2160:               "rgb_3840_2160",
	RGB_640_480:                 "rgb_640_480",
}
