package raytracer

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-engine/caldera/engine/light"
	"github.com/caldera-engine/caldera/engine/raytracer/alloc"
	"github.com/caldera-engine/caldera/engine/raytracer/geometry"
	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
	"github.com/caldera-engine/caldera/engine/raytracer/shader"
	"github.com/caldera-engine/caldera/engine/raytracer/sbt"
)

const fakeHandleSize uint32 = 32

// fakeBackend records backend calls so the facade's ordering and derived
// values can be asserted without a device.
type fakeBackend struct {
	stageKeys       []string
	groups          []rtvk.RayTracingShaderGroupCreateInfo
	recursionDepth  uint32
	createSetCalls  int
	updateSetCalls  int
	traceCalls      int
	lastRegions     [4]rtvk.StridedDeviceAddressRegion
	lastPush        []byte
	lastExtent      [2]uint32
	handleDataError error
}

var _ RaytracerBackend = &fakeBackend{}

func (f *fakeBackend) Setup(vk.Device, vk.PhysicalDevice) error { return nil }
func (f *fakeBackend) HandleSize() uint32                       { return fakeHandleSize }

func (f *fakeBackend) CreateDescriptorSet(vk.AccelerationStructure, vk.ImageView) error {
	f.createSetCalls++
	return nil
}

func (f *fakeBackend) UpdateOutputImage(vk.ImageView) error {
	f.updateSetCalls++
	return nil
}

func (f *fakeBackend) CreatePipeline(stages []shader.Shader, groups []rtvk.RayTracingShaderGroupCreateInfo, _ vk.DescriptorSetLayout, maxRecursionDepth uint32) error {
	for _, s := range stages {
		f.stageKeys = append(f.stageKeys, s.Key())
	}
	f.groups = groups
	f.recursionDepth = maxRecursionDepth
	return nil
}

func (f *fakeBackend) GroupHandles(groupCount int) ([]byte, error) {
	if f.handleDataError != nil {
		return nil, f.handleDataError
	}
	data := make([]byte, groupCount*int(fakeHandleSize))
	for i := range data {
		data[i] = byte(i)
	}
	return data, nil
}

func (f *fakeBackend) Trace(_ vk.CommandBuffer, rayGen, miss, hit, callable rtvk.StridedDeviceAddressRegion, push []byte, _ vk.DescriptorSet, width, height uint32) {
	f.traceCalls++
	f.lastRegions = [4]rtvk.StridedDeviceAddressRegion{rayGen, miss, hit, callable}
	f.lastPush = push
	f.lastExtent = [2]uint32{width, height}
}

func (f *fakeBackend) Destroy() {}

// fakeAccelBuilder records build inputs in place of real device builds.
type fakeAccelBuilder struct {
	descriptors []geometry.Descriptor
	instances   []geometry.Instance
	tlasBuilds  int
}

func (f *fakeAccelBuilder) BuildBLAS(descriptors []geometry.Descriptor) error {
	f.descriptors = descriptors
	return nil
}

func (f *fakeAccelBuilder) BuildTLAS(instances []geometry.Instance) error {
	f.instances = instances
	f.tlasBuilds++
	return nil
}

func (f *fakeAccelBuilder) Tlas() vk.AccelerationStructure { var zero vk.AccelerationStructure; return zero }
func (f *fakeAccelBuilder) BlasCount() int                 { return len(f.descriptors) }

func (f *fakeAccelBuilder) BlasAddress(index int) (vk.DeviceAddress, error) {
	if index < 0 || index >= len(f.descriptors) {
		return 0, fmt.Errorf("out of range")
	}
	return vk.DeviceAddress(0x1000 * (index + 1)), nil
}

func (f *fakeAccelBuilder) Destroy() {}

// fakeAllocator hands out buffers with fabricated device addresses and
// records upload sizes.
type fakeAllocator struct {
	uploads     []int
	nextAddress vk.DeviceAddress
}

var _ alloc.Allocator = &fakeAllocator{}

func (f *fakeAllocator) CreateBuffer(size vk.DeviceSize, _ vk.BufferUsageFlags, _ vk.MemoryPropertyFlags) (alloc.Buffer, error) {
	f.nextAddress += 0x10000
	return alloc.Buffer{Size: size, DeviceAddress: f.nextAddress}, nil
}

func (f *fakeAllocator) Upload(data []byte, _ vk.BufferUsageFlags) (alloc.Buffer, error) {
	f.uploads = append(f.uploads, len(data))
	f.nextAddress += 0x10000
	return alloc.Buffer{Size: vk.DeviceSize(len(data)), DeviceAddress: f.nextAddress}, nil
}

func (f *fakeAllocator) OneShot(func(cmd vk.CommandBuffer)) error { return nil }
func (f *fakeAllocator) DestroyBuffer(alloc.Buffer)               {}
func (f *fakeAllocator) Destroy()                                 {}

// writeStageFixtures writes a minimal valid SPIR-V binary for every stage key
// the pipeline assembly loads.
func writeStageFixtures(t *testing.T, dir string) {
	t.Helper()
	keys := []string{
		ShaderKeyRayGen, ShaderKeyMiss, ShaderKeyShadowMiss,
		ShaderKeyClosestHit, ShaderKeyAnyHit,
		ShaderKeyProceduralHit, ShaderKeyProceduralAnyHit, ShaderKeyIntersection,
	}
	for _, lt := range light.Types() {
		keys = append(keys, lt.CallableShaderKey())
	}
	for _, key := range keys {
		data := make([]byte, 8)
		binary.LittleEndian.PutUint32(data, 0x07230203)
		require.NoError(t, os.WriteFile(filepath.Join(dir, key+".spv"), data, 0o644))
	}
}

func newTestRaytracer(t *testing.T) (*raytracer, *fakeBackend, *fakeAccelBuilder, *fakeAllocator) {
	t.Helper()
	dir := t.TempDir()
	writeStageFixtures(t, dir)

	backend := &fakeBackend{}
	builder := &fakeAccelBuilder{}
	allocator := &fakeAllocator{}
	r := &raytracer{
		mu:                &sync.Mutex{},
		backend:           backend,
		builder:           builder,
		allocator:         allocator,
		searchPaths:       []string{dir},
		lightTypes:        light.Types(),
		maxRecursionDepth: 2,
	}
	return r, backend, builder, allocator
}

func testMesh(triangles uint32) MeshBLAS {
	return MeshBLAS{
		Mesh: geometry.MeshObject{
			VertexCount:  triangles * 3,
			IndexCount:   triangles * 3,
			VertexStride: 32,
		},
		VertexAddress: 0xAA00,
		IndexAddress:  0xBB00,
	}
}

func TestFullLifecycle(t *testing.T) {
	r, backend, builder, allocator := newTestRaytracer(t)

	procedural := &geometry.ProceduralGroup{
		Primitives: make([]geometry.ProceduralPrimitive, 5),
		Transform:  mgl32.Ident4(),
	}
	meshes := []MeshBLAS{testMesh(100), testMesh(200)}

	require.NoError(t, r.CreateBottomLevelAS(meshes, procedural))
	require.Len(t, builder.descriptors, 3, "two meshes plus one aggregate procedural structure")
	assert.Equal(t, geometry.KindTriangles, builder.descriptors[0].Kind())
	assert.Equal(t, geometry.KindTriangles, builder.descriptors[1].Kind())
	assert.Equal(t, geometry.KindAABBs, builder.descriptors[2].Kind())
	assert.Equal(t, 2, procedural.BlasIndex)
	require.Len(t, allocator.uploads, 1)
	assert.Equal(t, 5*geometry.GPUAabbSize, allocator.uploads[0], "five AABBs uploaded")

	instances := []geometry.Instance{
		{InstanceID: 0, BlasIndex: 0, HitGroup: 0},
		{InstanceID: 1, BlasIndex: 1, HitGroup: 0},
		{InstanceID: 2, BlasIndex: 0, HitGroup: 0},
	}
	require.NoError(t, r.CreateTopLevelAS(instances))
	require.Len(t, builder.instances, 4, "three renderables plus the procedural sentinel")
	sentinel := builder.instances[3]
	assert.Equal(t, uint32(1), sentinel.HitGroup)
	assert.Equal(t, uint32(2), sentinel.InstanceID, "sentinel is identified by its structure index")
	assert.Equal(t, 2, sentinel.BlasIndex)

	var view vk.ImageView
	require.NoError(t, r.CreateDescriptorSet(view))
	assert.Equal(t, 1, backend.createSetCalls)

	var sceneLayout vk.DescriptorSetLayout
	require.NoError(t, r.CreatePipeline(sceneLayout))
	assert.Equal(t, []string{
		ShaderKeyRayGen, ShaderKeyMiss, ShaderKeyShadowMiss,
		ShaderKeyClosestHit, ShaderKeyAnyHit,
		ShaderKeyProceduralHit, ShaderKeyProceduralAnyHit, ShaderKeyIntersection,
		"light_point", "light_spot", "light_inf",
	}, backend.stageKeys)
	require.Len(t, backend.groups, 8)
	assert.Equal(t, uint32(2), backend.recursionDepth)

	layout, ok := r.Layout()
	require.True(t, ok)
	assert.Equal(t, sbt.Layout{RayGenCount: 1, MissCount: 2, HitCount: 2, CallableCount: 3}, layout)

	require.NoError(t, r.CreateShaderBindingTable())
	require.Len(t, allocator.uploads, 2)
	assert.Equal(t, 8*int(fakeHandleSize), allocator.uploads[1])

	lt := light.NewLight(light.LightTypeSpot)
	var cmd vk.CommandBuffer
	var sceneSet vk.DescriptorSet
	err := r.Dispatch(cmd, mgl32.Vec4{0.1, 0.2, 0.3, 1}, sceneSet,
		vk.Extent2D{Width: 1280, Height: 720}, FrameParams{Light: lt, Frame: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.traceCalls)
	assert.Equal(t, [2]uint32{1280, 720}, backend.lastExtent)
	assert.Len(t, backend.lastPush, GPUPushConstantsSize)

	base := backend.lastRegions[0].DeviceAddress
	assert.Equal(t, base+vk.DeviceAddress(1*fakeHandleSize), backend.lastRegions[1].DeviceAddress)
	assert.Equal(t, base+vk.DeviceAddress(3*fakeHandleSize), backend.lastRegions[2].DeviceAddress)
	assert.Equal(t, base+vk.DeviceAddress(5*fakeHandleSize), backend.lastRegions[3].DeviceAddress)
}

func TestHitGroupsReferenceAnyHitStages(t *testing.T) {
	r, backend, _, _ := newTestRaytracer(t)

	require.NoError(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(10)}, nil))
	require.NoError(t, r.CreateTopLevelAS([]geometry.Instance{{BlasIndex: 0}}))
	var view vk.ImageView
	require.NoError(t, r.CreateDescriptorSet(view))
	var sceneLayout vk.DescriptorSetLayout
	require.NoError(t, r.CreatePipeline(sceneLayout))

	require.Len(t, backend.groups, 8)

	triangle := backend.groups[3]
	assert.Equal(t, rtvk.RayTracingShaderGroupTypeTrianglesHitGroup, triangle.Type)
	assert.Equal(t, uint32(3), triangle.ClosestHitShader)
	assert.Equal(t, uint32(4), triangle.AnyHitShader, "triangle hit group carries its any-hit stage")
	assert.Equal(t, uint32(rtvk.ShaderUnused), triangle.IntersectionShader)

	procedural := backend.groups[4]
	assert.Equal(t, rtvk.RayTracingShaderGroupTypeProceduralHitGroup, procedural.Type)
	assert.Equal(t, uint32(5), procedural.ClosestHitShader)
	assert.Equal(t, uint32(6), procedural.AnyHitShader, "procedural hit group carries its any-hit stage")
	assert.Equal(t, uint32(7), procedural.IntersectionShader)
}

func TestTopLevelInstanceIdentifiersAssignedSequentially(t *testing.T) {
	r, _, builder, _ := newTestRaytracer(t)

	procedural := &geometry.ProceduralGroup{
		Primitives: make([]geometry.ProceduralPrimitive, 2),
		Transform:  mgl32.Ident4(),
	}
	require.NoError(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(10), testMesh(20)}, procedural))

	// Caller-provided identifiers are ignored. The builder receives
	// renderables numbered by their position in the instance list.
	instances := []geometry.Instance{
		{InstanceID: 99, BlasIndex: 1},
		{InstanceID: 99, BlasIndex: 0},
		{InstanceID: 99, BlasIndex: 1},
	}
	require.NoError(t, r.CreateTopLevelAS(instances))

	require.Len(t, builder.instances, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint32(i), builder.instances[i].InstanceID)
	}
	assert.Equal(t, uint32(2), builder.instances[3].InstanceID,
		"sentinel keeps its structure index as identifier")
}

func TestEmptyProceduralGroupSkipsAggregate(t *testing.T) {
	r, _, builder, allocator := newTestRaytracer(t)

	require.NoError(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(10)}, &geometry.ProceduralGroup{}))
	assert.Len(t, builder.descriptors, 1, "empty group builds no aggregate structure")
	assert.Empty(t, allocator.uploads)

	require.NoError(t, r.CreateTopLevelAS([]geometry.Instance{{BlasIndex: 0}}))
	assert.Len(t, builder.instances, 1, "no sentinel instance without a procedural structure")
}

func TestResizeUpdatesOnlyOutputBinding(t *testing.T) {
	r, backend, _, _ := newTestRaytracer(t)

	require.NoError(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(10)}, nil))
	require.NoError(t, r.CreateTopLevelAS([]geometry.Instance{{BlasIndex: 0}}))

	var view vk.ImageView
	require.NoError(t, r.CreateDescriptorSet(view))
	require.NoError(t, r.UpdateDescriptorSet(view))
	require.NoError(t, r.UpdateDescriptorSet(view))

	assert.Equal(t, 1, backend.createSetCalls, "resize never recreates the set")
	assert.Equal(t, 2, backend.updateSetCalls)
}

func TestLifecycleOrderErrors(t *testing.T) {
	r, _, _, _ := newTestRaytracer(t)

	var view vk.ImageView
	var cmd vk.CommandBuffer
	var sceneSet vk.DescriptorSet
	var sceneLayout vk.DescriptorSetLayout

	assert.Error(t, r.CreateTopLevelAS([]geometry.Instance{{}}), "no bottom level structures yet")
	assert.Error(t, r.CreateDescriptorSet(view), "no top level structure yet")
	assert.Error(t, r.UpdateDescriptorSet(view), "no descriptor set yet")
	assert.Error(t, r.CreatePipeline(sceneLayout), "no descriptor set yet")
	assert.Error(t, r.CreateShaderBindingTable(), "no pipeline yet")
	assert.Error(t, r.Dispatch(cmd, mgl32.Vec4{}, sceneSet, vk.Extent2D{Width: 1, Height: 1}, FrameParams{}),
		"no shader binding table yet")

	_, ok := r.Layout()
	assert.False(t, ok)
}

func TestSetupRequiredBeforeBuilds(t *testing.T) {
	r := NewRaytracer(BackendTypeVulkan)
	assert.Error(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(1)}, nil))
}

func TestMissingShaderBinaryFailsPipeline(t *testing.T) {
	r, _, _, _ := newTestRaytracer(t)

	require.NoError(t, r.CreateBottomLevelAS([]MeshBLAS{testMesh(10)}, nil))
	require.NoError(t, r.CreateTopLevelAS([]geometry.Instance{{BlasIndex: 0}}))
	var view vk.ImageView
	require.NoError(t, r.CreateDescriptorSet(view))

	r.searchPaths = []string{t.TempDir()}
	var sceneLayout vk.DescriptorSetLayout
	assert.Error(t, r.CreatePipeline(sceneLayout))
}

func TestInvalidMeshFailsBottomLevelBuild(t *testing.T) {
	r, _, builder, _ := newTestRaytracer(t)

	bad := testMesh(10)
	bad.Mesh.IndexCount = 31
	err := r.CreateBottomLevelAS([]MeshBLAS{bad}, nil)
	require.Error(t, err)
	assert.Empty(t, builder.descriptors, "nothing is built when a descriptor is rejected")
}

func TestPushConstantsSnapshotLight(t *testing.T) {
	lt := light.NewLight(light.LightTypeSpot,
		light.WithPosition(1, 2, 3),
		light.WithIntensity(50))
	pc := pushConstants(mgl32.Vec4{1, 0, 0, 1}, FrameParams{Light: lt, Frame: 3})

	assert.Equal(t, [4]float32{1, 0, 0, 1}, pc.ClearColor)
	assert.Equal(t, [3]float32{1, 2, 3}, pc.LightPosition)
	assert.Equal(t, float32(50), pc.LightIntensity)
	assert.Equal(t, int32(light.LightTypeSpot), pc.LightType)
	assert.Equal(t, int32(3), pc.Frame)

	data := pc.Marshal()
	require.Len(t, data, GPUPushConstantsSize)
	// lightType at offset 52, frame at offset 56.
	assert.Equal(t, uint32(light.LightTypeSpot), binary.LittleEndian.Uint32(data[52:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[56:]))
}
