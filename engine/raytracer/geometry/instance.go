package geometry

import (
	"github.com/go-gl/mathgl/mgl32"
)

// InstanceFlags are per-instance culling and opacity controls mirroring the
// device's geometry-instance flag bits.
type InstanceFlags uint8

const (
	// InstanceTriangleFacingCullDisable disables backface culling for this instance.
	InstanceTriangleFacingCullDisable InstanceFlags = 0x1

	// InstanceTriangleFlipFacing inverts the winding-order facing determination.
	InstanceTriangleFlipFacing InstanceFlags = 0x2

	// InstanceForceOpaque treats all geometry in the instance as opaque,
	// skipping any-hit shaders.
	InstanceForceOpaque InstanceFlags = 0x4

	// InstanceForceNoOpaque treats all geometry in the instance as non-opaque.
	InstanceForceNoOpaque InstanceFlags = 0x8
)

// DefaultInstanceMask is the visibility mask applied to instances that do not
// set one explicitly: visible to every ray mask.
const DefaultInstanceMask uint8 = 0xFF

// Instance places one bottom-level structure into the scene's top-level
// structure. The instance identifier is the value shaders read to look up
// per-instance shading data; the hit group selects which shader hit group
// (triangle or procedural) services intersections against this instance.
//
// Instance arrays are rebuilt whenever the scene's instance list changes and
// consumed once per top-level build.
type Instance struct {
	Transform  mgl32.Mat4
	InstanceID uint32
	BlasIndex  int
	HitGroup   uint32
	Mask       uint8
	Flags      InstanceFlags
}
