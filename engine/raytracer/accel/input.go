// package accel builds and owns the bottom and top level acceleration
// structures. Descriptor conversion is kept free of device calls so the
// geometry encoding can be exercised without a GPU; the builder wraps the
// Vulkan build commands around it.
package accel

import (
	"fmt"

	"github.com/caldera-engine/caldera/engine/raytracer/geometry"
	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// Input is one geometry record of an acceleration structure build: the typed
// geometry description plus its matching build range.
type Input struct {
	// Geometry is the typed geometry description fed to the build.
	Geometry rtvk.Geometry
	// Range tells the build how many primitives to read from the geometry.
	Range rtvk.BuildRange
}

// FromDescriptor converts a geometry descriptor into a build input. Geometry
// is flagged so any-hit shaders run at most once per primitive; opacity stays
// an instance-level decision via instance flags.
//
// Parameters:
//   - d: the geometry descriptor to convert
//
// Returns:
//   - Input: the build input for the descriptor
func FromDescriptor(d geometry.Descriptor) Input {
	switch d.Kind() {
	case geometry.KindTriangles:
		t := d.Triangles()
		return Input{
			Geometry: rtvk.Geometry{
				Flags: rtvk.GeometryNoDuplicateAnyHitInvocationBit,
				Triangles: &rtvk.Triangles{
					VertexFormat:  t.VertexFormat,
					VertexAddress: t.VertexAddress,
					VertexStride:  t.VertexStride,
					MaxVertex:     t.VertexCount - 1,
					IndexType:     t.IndexType,
					IndexAddress:  t.IndexAddress,
				},
			},
			Range: rtvk.BuildRange{
				PrimitiveCount: t.TriangleCount,
			},
		}
	case geometry.KindAABBs:
		a := d.AABBs()
		return Input{
			Geometry: rtvk.Geometry{
				Flags: rtvk.GeometryNoDuplicateAnyHitInvocationBit,
				Aabbs: &rtvk.Aabbs{
					DataAddress: a.AabbAddress,
					Stride:      a.Stride,
				},
			},
			Range: rtvk.BuildRange{
				PrimitiveCount: a.PrimitiveCount,
			},
		}
	default:
		panic(fmt.Sprintf("accel: unknown geometry kind %d", int(d.Kind())))
	}
}

// ValidateInstances checks that every instance references an existing bottom
// level structure. The build fails up front on the first bad reference so no
// partially filled instance buffer ever reaches the device.
//
// Parameters:
//   - instances: the instances of the pending top level build
//   - blasCount: the number of bottom level structures built so far
//
// Returns:
//   - error: an error naming the first instance with an out-of-range index
func ValidateInstances(instances []geometry.Instance, blasCount int) error {
	if len(instances) == 0 {
		return fmt.Errorf("accel: cannot build a top level structure with no instances")
	}
	for i, inst := range instances {
		if inst.BlasIndex < 0 || inst.BlasIndex >= blasCount {
			return fmt.Errorf("accel: instance %d references bottom level structure %d, have %d",
				i, inst.BlasIndex, blasCount)
		}
	}
	return nil
}
