package accel

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-engine/caldera/engine/raytracer/geometry"
	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

func triangleDescriptor(t *testing.T, indexCount uint32) geometry.Descriptor {
	t.Helper()
	mesh := geometry.MeshObject{
		VertexCount:  64,
		IndexCount:   indexCount,
		VertexStride: 32,
	}
	d, err := geometry.NewTriangleMeshDescriptor(mesh, 0x1000, 0x2000)
	require.NoError(t, err)
	return d
}

func TestFromDescriptorTriangles(t *testing.T) {
	in := FromDescriptor(triangleDescriptor(t, 300))

	require.NotNil(t, in.Geometry.Triangles)
	assert.Nil(t, in.Geometry.Aabbs)
	assert.Equal(t, rtvk.GeometryNoDuplicateAnyHitInvocationBit, in.Geometry.Flags,
		"any-hit shaders must stay enabled but run once per primitive")

	tri := in.Geometry.Triangles
	assert.Equal(t, vk.FormatR32g32b32Sfloat, tri.VertexFormat)
	assert.Equal(t, vk.DeviceAddress(0x1000), tri.VertexAddress)
	assert.Equal(t, vk.DeviceSize(32), tri.VertexStride)
	assert.Equal(t, uint32(63), tri.MaxVertex)
	assert.Equal(t, vk.IndexTypeUint32, tri.IndexType)
	assert.Equal(t, vk.DeviceAddress(0x2000), tri.IndexAddress)

	assert.Equal(t, uint32(100), in.Range.PrimitiveCount, "300 indices is 100 triangles")
}

func TestFromDescriptorAABBs(t *testing.T) {
	group := &geometry.ProceduralGroup{
		Primitives: make([]geometry.ProceduralPrimitive, 5),
	}
	d, err := geometry.NewProceduralDescriptor(group, 0x3000)
	require.NoError(t, err)

	in := FromDescriptor(d)
	require.NotNil(t, in.Geometry.Aabbs)
	assert.Nil(t, in.Geometry.Triangles)
	assert.Equal(t, rtvk.GeometryNoDuplicateAnyHitInvocationBit, in.Geometry.Flags)

	aabbs := in.Geometry.Aabbs
	assert.Equal(t, vk.DeviceAddress(0x3000), aabbs.DataAddress)
	assert.Equal(t, vk.DeviceSize(geometry.GPUAabbSize), aabbs.Stride)
	assert.Equal(t, uint32(5), in.Range.PrimitiveCount)
}

func TestValidateInstances(t *testing.T) {
	instances := []geometry.Instance{
		{BlasIndex: 0},
		{BlasIndex: 2},
		{BlasIndex: 1},
	}
	assert.NoError(t, ValidateInstances(instances, 3))

	err := ValidateInstances(instances, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance 1")

	assert.Error(t, ValidateInstances([]geometry.Instance{{BlasIndex: -1}}, 3))
	assert.Error(t, ValidateInstances(nil, 3))
}
