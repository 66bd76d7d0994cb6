package geometry

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
)

// Kind identifies which variant of a geometry Descriptor is active.
type Kind int

const (
	// KindTriangles is an indexed triangle mesh built from vertex and index buffers.
	KindTriangles Kind = iota

	// KindAABBs is a set of procedural primitives defined by axis-aligned
	// bounding boxes; intersections are computed by an intersection shader.
	KindAABBs
)

// TriangleMeshData holds the device-side layout of an indexed triangle mesh
// consumed by the bottom-level acceleration structure build.
type TriangleMeshData struct {
	VertexAddress vk.DeviceAddress
	VertexFormat  vk.Format
	VertexStride  vk.DeviceSize
	VertexCount   uint32
	IndexAddress  vk.DeviceAddress
	IndexType     vk.IndexType
	TriangleCount uint32
}

// ProceduralData holds the device-side layout of an aggregated procedural
// primitive set. Each primitive is one GPUAabb record in the buffer at
// AabbAddress, Stride bytes apart.
type ProceduralData struct {
	AabbAddress    vk.DeviceAddress
	Stride         vk.DeviceSize
	PrimitiveCount uint32
}

// Descriptor is a tagged variant describing one geometry consumable by the
// acceleration-structure builder: either an indexed triangle mesh or a
// procedural primitive set. Exactly one variant is active. Descriptors carry
// no transform data; transforms are supplied per instance at the top level.
type Descriptor struct {
	kind      Kind
	triangles *TriangleMeshData
	aabbs     *ProceduralData
}

// Kind returns which variant of the descriptor is active.
//
// Returns:
//   - Kind: KindTriangles or KindAABBs
func (d Descriptor) Kind() Kind {
	return d.kind
}

// Triangles returns the triangle mesh variant, or nil if this descriptor is
// not a triangle mesh.
//
// Returns:
//   - *TriangleMeshData: the triangle mesh layout, or nil
func (d Descriptor) Triangles() *TriangleMeshData {
	return d.triangles
}

// AABBs returns the procedural primitive variant, or nil if this descriptor is
// not a procedural set.
//
// Returns:
//   - *ProceduralData: the procedural primitive layout, or nil
func (d Descriptor) AABBs() *ProceduralData {
	return d.aabbs
}

// PrimitiveCount returns the number of primitives this descriptor contributes
// to an acceleration structure build: triangles for a mesh, bounding boxes for
// a procedural set.
//
// Returns:
//   - uint32: the primitive count
func (d Descriptor) PrimitiveCount() uint32 {
	switch d.kind {
	case KindTriangles:
		return d.triangles.TriangleCount
	case KindAABBs:
		return d.aabbs.PrimitiveCount
	default:
		panic(fmt.Sprintf("geometry: unknown descriptor kind %d", d.kind))
	}
}

// MeshObject is a renderable indexed triangle mesh owned by the scene. The
// vertex and index buffers are device-local buffers created with the
// shader-device-address and acceleration-structure-build-input usages.
type MeshObject struct {
	VertexBuffer vk.Buffer
	IndexBuffer  vk.Buffer
	VertexCount  uint32
	IndexCount   uint32
	VertexStride vk.DeviceSize
}

// ProceduralPrimitive is one implicit primitive defined by its world-space
// axis-aligned bounding box. The intersection shader decides the actual
// surface inside the box.
type ProceduralPrimitive struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// ProceduralGroup aggregates every procedural primitive in the scene into a
// single bottom-level structure. Buffer holds one GPUAabb record per
// primitive. BlasIndex is assigned by the acceleration-structure manager when
// the aggregated BLAS is built; it doubles as the sentinel instance identifier
// that selects procedural shading data in the hit shaders.
type ProceduralGroup struct {
	Primitives []ProceduralPrimitive
	Buffer     vk.Buffer
	Stride     vk.DeviceSize
	Transform  mgl32.Mat4
	BlasIndex  int
}

// Empty reports whether the group holds no primitives. Empty groups build no
// aggregated BLAS and add no sentinel instance to the top-level structure.
//
// Returns:
//   - bool: true if there are no primitives
func (g *ProceduralGroup) Empty() bool {
	return g == nil || len(g.Primitives) == 0
}

// NewTriangleMeshDescriptor converts a mesh object and its resolved buffer
// device addresses into a triangle geometry descriptor. The triangle count is
// derived as index count / 3.
//
// A zero-length buffer or an index count not divisible by 3 fails here rather
// than surfacing as a driver validation error far from the source.
//
// Parameters:
//   - mesh: the mesh object to convert
//   - vertexAddress: device address of the mesh's vertex buffer
//   - indexAddress: device address of the mesh's index buffer
//
// Returns:
//   - Descriptor: the triangle mesh descriptor
//   - error: an error if the mesh layout is invalid
func NewTriangleMeshDescriptor(mesh MeshObject, vertexAddress, indexAddress vk.DeviceAddress) (Descriptor, error) {
	if vertexAddress == 0 || mesh.VertexCount == 0 {
		return Descriptor{}, fmt.Errorf("geometry: mesh has an empty vertex buffer (count %d)", mesh.VertexCount)
	}
	if indexAddress == 0 || mesh.IndexCount == 0 {
		return Descriptor{}, fmt.Errorf("geometry: mesh has an empty index buffer (count %d)", mesh.IndexCount)
	}
	if mesh.IndexCount%3 != 0 {
		return Descriptor{}, fmt.Errorf("geometry: index count %d is not divisible by 3", mesh.IndexCount)
	}
	if mesh.VertexStride == 0 {
		return Descriptor{}, fmt.Errorf("geometry: mesh has zero vertex stride")
	}
	return Descriptor{
		kind: KindTriangles,
		triangles: &TriangleMeshData{
			VertexAddress: vertexAddress,
			VertexFormat:  vk.FormatR32g32b32Sfloat,
			VertexStride:  mesh.VertexStride,
			VertexCount:   mesh.VertexCount,
			IndexAddress:  indexAddress,
			IndexType:     vk.IndexTypeUint32,
			TriangleCount: mesh.IndexCount / 3,
		},
	}, nil
}

// NewProceduralDescriptor converts a procedural group and the resolved device
// address of its AABB buffer into a procedural geometry descriptor. The
// primitive count is the size of the group's primitive collection.
//
// Parameters:
//   - group: the procedural group to convert
//   - dataAddress: device address of the group's AABB buffer
//
// Returns:
//   - Descriptor: the procedural primitive descriptor
//   - error: an error if the group is empty or its buffer is unbound
func NewProceduralDescriptor(group *ProceduralGroup, dataAddress vk.DeviceAddress) (Descriptor, error) {
	if group.Empty() {
		return Descriptor{}, fmt.Errorf("geometry: procedural group has no primitives")
	}
	if dataAddress == 0 {
		return Descriptor{}, fmt.Errorf("geometry: procedural group AABB buffer is unbound")
	}
	stride := group.Stride
	if stride == 0 {
		stride = GPUAabbSize
	}
	return Descriptor{
		kind: KindAABBs,
		aabbs: &ProceduralData{
			AabbAddress:    dataAddress,
			Stride:         stride,
			PrimitiveCount: uint32(len(group.Primitives)),
		},
	}, nil
}
