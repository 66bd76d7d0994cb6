package geometry

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMesh() MeshObject {
	return MeshObject{
		VertexCount:  8,
		IndexCount:   36,
		VertexStride: 32,
	}
}

func TestNewTriangleMeshDescriptor(t *testing.T) {
	d, err := NewTriangleMeshDescriptor(validMesh(), 0x1000, 0x2000)
	require.NoError(t, err)

	assert.Equal(t, KindTriangles, d.Kind())
	require.NotNil(t, d.Triangles())
	assert.Nil(t, d.AABBs())

	tri := d.Triangles()
	assert.Equal(t, uint32(12), tri.TriangleCount, "triangle count must be index count / 3")
	assert.Equal(t, uint32(12), d.PrimitiveCount())
	assert.Equal(t, vk.DeviceAddress(0x1000), tri.VertexAddress)
	assert.Equal(t, vk.DeviceAddress(0x2000), tri.IndexAddress)
	assert.Equal(t, vk.FormatR32g32b32Sfloat, tri.VertexFormat)
	assert.Equal(t, vk.IndexTypeUint32, tri.IndexType)
	assert.Equal(t, uint32(8), tri.VertexCount)
}

func TestNewTriangleMeshDescriptorIndexCountNotDivisibleBy3(t *testing.T) {
	mesh := validMesh()
	mesh.IndexCount = 35
	_, err := NewTriangleMeshDescriptor(mesh, 0x1000, 0x2000)
	require.Error(t, err, "index counts not divisible by 3 must fail, never truncate")
	assert.Contains(t, err.Error(), "not divisible by 3")
}

func TestNewTriangleMeshDescriptorEmptyBuffers(t *testing.T) {
	mesh := validMesh()
	_, err := NewTriangleMeshDescriptor(mesh, 0, 0x2000)
	assert.Error(t, err, "unbound vertex buffer must fail fast")

	_, err = NewTriangleMeshDescriptor(mesh, 0x1000, 0)
	assert.Error(t, err, "unbound index buffer must fail fast")

	mesh = validMesh()
	mesh.VertexCount = 0
	_, err = NewTriangleMeshDescriptor(mesh, 0x1000, 0x2000)
	assert.Error(t, err)

	mesh = validMesh()
	mesh.IndexCount = 0
	_, err = NewTriangleMeshDescriptor(mesh, 0x1000, 0x2000)
	assert.Error(t, err)

	mesh = validMesh()
	mesh.VertexStride = 0
	_, err = NewTriangleMeshDescriptor(mesh, 0x1000, 0x2000)
	assert.Error(t, err)
}

func TestNewProceduralDescriptor(t *testing.T) {
	group := &ProceduralGroup{
		Primitives: make([]ProceduralPrimitive, 5),
		Stride:     48,
		Transform:  mgl32.Ident4(),
	}
	d, err := NewProceduralDescriptor(group, 0x3000)
	require.NoError(t, err)

	assert.Equal(t, KindAABBs, d.Kind())
	require.NotNil(t, d.AABBs())
	assert.Nil(t, d.Triangles())
	assert.Equal(t, uint32(5), d.PrimitiveCount())
	assert.Equal(t, vk.DeviceSize(48), d.AABBs().Stride)
}

func TestNewProceduralDescriptorDefaultStride(t *testing.T) {
	group := &ProceduralGroup{Primitives: make([]ProceduralPrimitive, 1)}
	d, err := NewProceduralDescriptor(group, 0x3000)
	require.NoError(t, err)
	assert.Equal(t, vk.DeviceSize(GPUAabbSize), d.AABBs().Stride)
}

func TestNewProceduralDescriptorEmptyGroup(t *testing.T) {
	_, err := NewProceduralDescriptor(&ProceduralGroup{}, 0x3000)
	assert.Error(t, err)

	group := &ProceduralGroup{Primitives: make([]ProceduralPrimitive, 2)}
	_, err = NewProceduralDescriptor(group, 0)
	assert.Error(t, err, "unbound AABB buffer must fail fast")
}

func TestProceduralGroupEmpty(t *testing.T) {
	var nilGroup *ProceduralGroup
	assert.True(t, nilGroup.Empty())
	assert.True(t, (&ProceduralGroup{}).Empty())
	assert.False(t, (&ProceduralGroup{Primitives: make([]ProceduralPrimitive, 1)}).Empty())
}
