package raytracer

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/light"
	"github.com/caldera-engine/caldera/engine/raytracer/accel"
	"github.com/caldera-engine/caldera/engine/raytracer/alloc"
	"github.com/caldera-engine/caldera/engine/raytracer/geometry"
	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
	"github.com/caldera-engine/caldera/engine/raytracer/sbt"
	"github.com/caldera-engine/caldera/engine/raytracer/shader"
)

// Logical shader keys the pipeline is assembled from. Each key resolves to
// "<key>.spv" in the configured search paths.
const (
	ShaderKeyRayGen           = "raytrace_rgen"
	ShaderKeyMiss             = "raytrace_rmiss"
	ShaderKeyShadowMiss       = "raytrace_shadow_rmiss"
	ShaderKeyClosestHit       = "raytrace_rchit"
	ShaderKeyAnyHit           = "raytrace_rahit"
	ShaderKeyProceduralHit    = "raytrace2_rchit"
	ShaderKeyProceduralAnyHit = "raytrace2_rahit"
	ShaderKeyIntersection     = "raytrace_rint"
)

// MeshBLAS pairs a mesh object with the resolved device addresses of its
// vertex and index buffers, ready for a bottom level build.
type MeshBLAS struct {
	// Mesh describes the mesh buffers and counts.
	Mesh geometry.MeshObject
	// VertexAddress is the device address of the mesh's vertex buffer.
	VertexAddress vk.DeviceAddress
	// IndexAddress is the device address of the mesh's index buffer.
	IndexAddress vk.DeviceAddress
}

// raytracer is the implementation of the Raytracer interface.
type raytracer struct {
	mu *sync.Mutex

	backendType RaytracerBackendType
	backend     RaytracerBackend

	allocator alloc.Allocator
	builder   accel.Builder

	// Pre-creation config collected from builder options
	searchPaths       []string
	lightTypes        []light.LightType
	maxRecursionDepth uint32
	compaction        bool

	proceduralGroup *geometry.ProceduralGroup
	aabbBuffer      alloc.Buffer

	layout    sbt.Layout
	hasLayout bool
	sbtBuffer alloc.Buffer

	// Lifecycle progress, gating each operation on its prerequisites
	tlasBuilt  bool
	descriptor bool
	sbtReady   bool
}

// Raytracer defines the interface for the hardware ray tracing subsystem.
//
// This is a high-level API that owns the acceleration structure hierarchy, the
// ray tracing pipeline, its shader binding table and the per-frame trace
// dispatch. The Raytracer implements a backend which allows for multiple
// backend API implementations to exist.
//
// Operations follow a fixed lifecycle: Setup, CreateBottomLevelAS,
// CreateTopLevelAS, CreateDescriptorSet, CreatePipeline,
// CreateShaderBindingTable, then Dispatch once per frame. Calling an operation
// before its prerequisites returns an error rather than reaching the driver
// in a bad state.
type Raytracer interface {
	// Setup binds the raytracer to a device and queue. The internal allocator
	// and acceleration structure builder are created here, and the backend
	// queries the device's ray tracing pipeline properties.
	//
	// Parameters:
	//   - device: the logical device, created with the ray tracing extensions enabled
	//   - physicalDevice: the physical device
	//   - queue: the queue build and upload work is submitted to
	//   - queueFamilyIndex: the family index of the queue
	//
	// Returns:
	//   - error: an error if the allocator could not be created or the device lacks ray tracing support
	Setup(device vk.Device, physicalDevice vk.PhysicalDevice, queue vk.Queue, queueFamilyIndex uint32) error

	// CreateBottomLevelAS builds one bottom level structure per mesh, in
	// order, plus a single trailing structure aggregating all procedural
	// primitives when the group is non-empty. The group's AABB buffer is
	// uploaded here and its BlasIndex is set to the aggregate structure's
	// index.
	//
	// Parameters:
	//   - meshes: the triangle meshes, one structure each
	//   - procedural: the procedural primitive group, nil or empty for none
	//
	// Returns:
	//   - error: an error if any descriptor is invalid or a build failed
	CreateBottomLevelAS(meshes []MeshBLAS, procedural *geometry.ProceduralGroup) error

	// CreateTopLevelAS builds the top level structure over the given
	// instances. Each renderable instance is assigned its position in the
	// slice as its instance identifier. When a procedural structure was
	// built, one extra instance referencing it is appended automatically with
	// hit group 1 and an instance identifier equal to the structure's index.
	// Calling it again rebuilds the structure from scratch.
	//
	// Parameters:
	//   - instances: the renderable instances
	//
	// Returns:
	//   - error: an error if an instance references a missing structure or the build failed
	CreateTopLevelAS(instances []geometry.Instance) error

	// CreateDescriptorSet creates the ray tracing descriptor set: the top
	// level structure at binding 0 and the output storage image at binding 1.
	//
	// Parameters:
	//   - outputView: the storage image view traced frames are written to
	//
	// Returns:
	//   - error: an error if the top level structure is missing or creation failed
	CreateDescriptorSet(outputView vk.ImageView) error

	// UpdateDescriptorSet rewrites only the output image binding. Call this
	// after a resize recreated the output image; the acceleration structure
	// binding is left untouched.
	//
	// Parameters:
	//   - outputView: the new storage image view
	//
	// Returns:
	//   - error: an error if the descriptor set has not been created
	UpdateDescriptorSet(outputView vk.ImageView) error

	// CreatePipeline loads every stage binary, assembles the shader groups in
	// their fixed order and creates the ray tracing pipeline. The group order
	// is ray generation, miss, shadow miss, triangle hit, procedural hit, then
	// one callable per configured light type. Both hit groups carry a closest
	// hit and an any hit stage; the procedural group adds the intersection
	// stage.
	//
	// Parameters:
	//   - sceneLayout: the caller's scene descriptor set layout bound at set 1, or a null handle
	//
	// Returns:
	//   - error: an error if a binary is missing or pipeline creation failed
	CreatePipeline(sceneLayout vk.DescriptorSetLayout) error

	// CreateShaderBindingTable queries the pipeline's shader group handles,
	// packs them in group order and uploads the table to a device buffer.
	//
	// Returns:
	//   - error: an error if the pipeline is missing or the upload failed
	CreateShaderBindingTable() error

	// Dispatch records one trace of the full extent into the given command
	// buffer. The four table regions are recomputed from the layout on every
	// call, and the clear color, light state and frame index are pushed as
	// constants.
	//
	// Parameters:
	//   - cmd: the command buffer to record into, already in the recording state
	//   - clearColor: the background color for missed rays
	//   - sceneSet: the caller's scene descriptor set for set 1, or a null handle
	//   - extent: the output image extent, one ray per pixel
	//   - params: the per-frame light and accumulation parameters
	//
	// Returns:
	//   - error: an error if the shader binding table has not been created
	Dispatch(cmd vk.CommandBuffer, clearColor mgl32.Vec4, sceneSet vk.DescriptorSet, extent vk.Extent2D, params FrameParams) error

	// Layout returns the shader binding table layout computed at pipeline
	// assembly.
	//
	// Returns:
	//   - sbt.Layout: the group counts per category
	//   - bool: false if CreatePipeline has not run yet
	Layout() (sbt.Layout, bool)

	// Destroy releases every structure, buffer and pipeline object owned by
	// the raytracer.
	Destroy()
}

var _ Raytracer = &raytracer{}

// NewRaytracer creates a new Raytracer instance with the specified backend
// type and options applied. The raytracer is inert until Setup is called.
//
// Parameters:
//   - backendType: the type of ray tracing backend to use (e.g. Vulkan)
//   - options: variadic list of RaytracerBuilderOption functions to configure the Raytracer
//
// Returns:
//   - Raytracer: a new instance of Raytracer configured with the specified backend and options
func NewRaytracer(backendType RaytracerBackendType, options ...RaytracerBuilderOption) Raytracer {
	r := &raytracer{
		mu:                &sync.Mutex{},
		backendType:       backendType,
		searchPaths:       []string{"shaders"},
		lightTypes:        light.Types(),
		maxRecursionDepth: 2,
		compaction:        true,
	}
	for _, opt := range options {
		opt(r)
	}
	if len(r.lightTypes) == 0 {
		panic("raytracer: at least one light type is required")
	}

	switch backendType {
	case BackendTypeVulkan:
		fallthrough
	default:
		r.backend = newVulkanRaytracerBackend()
	}
	return r
}

func (r *raytracer) Setup(device vk.Device, physicalDevice vk.PhysicalDevice, queue vk.Queue, queueFamilyIndex uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	allocator, err := alloc.NewAllocator(device, physicalDevice, queue, queueFamilyIndex)
	if err != nil {
		return err
	}
	r.allocator = allocator
	r.builder = accel.NewBuilder(device, allocator, accel.WithCompaction(r.compaction))
	return r.backend.Setup(device, physicalDevice)
}

func (r *raytracer) CreateBottomLevelAS(meshes []MeshBLAS, procedural *geometry.ProceduralGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.builder == nil {
		return fmt.Errorf("raytracer: Setup must run before CreateBottomLevelAS")
	}

	descriptors := make([]geometry.Descriptor, 0, len(meshes)+1)
	for i, m := range meshes {
		d, err := geometry.NewTriangleMeshDescriptor(m.Mesh, m.VertexAddress, m.IndexAddress)
		if err != nil {
			return fmt.Errorf("raytracer: mesh %d: %w", i, err)
		}
		descriptors = append(descriptors, d)
	}

	if procedural != nil && !procedural.Empty() {
		aabbBuffer, err := r.allocator.Upload(geometry.MarshalAabbBuffer(procedural.Primitives),
			vk.BufferUsageFlags(rtvk.BufferUsageAccelerationStructureBuildInputReadOnlyBit|
				rtvk.BufferUsageShaderDeviceAddressBit))
		if err != nil {
			return fmt.Errorf("raytracer: failed to upload procedural AABBs: %w", err)
		}
		r.aabbBuffer = aabbBuffer
		procedural.Buffer = aabbBuffer.Handle
		procedural.BlasIndex = len(meshes)
		r.proceduralGroup = procedural

		d, err := geometry.NewProceduralDescriptor(procedural, aabbBuffer.DeviceAddress)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, d)
	}

	if len(descriptors) == 0 {
		return fmt.Errorf("raytracer: no geometry to build")
	}
	return r.builder.BuildBLAS(descriptors)
}

func (r *raytracer) CreateTopLevelAS(instances []geometry.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.builder == nil || r.builder.BlasCount() == 0 {
		return fmt.Errorf("raytracer: CreateBottomLevelAS must run before CreateTopLevelAS")
	}

	all := make([]geometry.Instance, len(instances), len(instances)+1)
	copy(all, instances)
	// Instance identifiers are assigned sequentially so shaders can index
	// per-instance data by gl_InstanceCustomIndex.
	for i := range all {
		all[i].InstanceID = uint32(i)
	}
	if r.proceduralGroup != nil {
		// The aggregate procedural structure rides along as one instance
		// routed to hit group 1, identified by its own structure index.
		all = append(all, geometry.Instance{
			Transform:  r.proceduralGroup.Transform,
			InstanceID: uint32(r.proceduralGroup.BlasIndex),
			BlasIndex:  r.proceduralGroup.BlasIndex,
			HitGroup:   1,
		})
	}
	if err := r.builder.BuildTLAS(all); err != nil {
		return err
	}
	r.tlasBuilt = true
	return nil
}

func (r *raytracer) CreateDescriptorSet(outputView vk.ImageView) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.tlasBuilt {
		return fmt.Errorf("raytracer: CreateTopLevelAS must run before CreateDescriptorSet")
	}
	if err := r.backend.CreateDescriptorSet(r.builder.Tlas(), outputView); err != nil {
		return err
	}
	r.descriptor = true
	return nil
}

func (r *raytracer) UpdateDescriptorSet(outputView vk.ImageView) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.descriptor {
		return fmt.Errorf("raytracer: CreateDescriptorSet must run before UpdateDescriptorSet")
	}
	return r.backend.UpdateOutputImage(outputView)
}

func (r *raytracer) CreatePipeline(sceneLayout vk.DescriptorSetLayout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.descriptor {
		return fmt.Errorf("raytracer: CreateDescriptorSet must run before CreatePipeline")
	}

	stages, table, err := r.assembleStages()
	if err != nil {
		return err
	}
	if err := r.backend.CreatePipeline(stages, table.CreateInfos(), sceneLayout, r.maxRecursionDepth); err != nil {
		return err
	}
	r.layout = table.Layout()
	r.hasLayout = true
	return nil
}

// assembleStages loads every stage binary and builds the group table in the
// fixed order the shader binding table layout depends on.
func (r *raytracer) assembleStages() ([]shader.Shader, *sbt.Table, error) {
	type stageSpec struct {
		key   string
		stage shader.Stage
	}
	specs := []stageSpec{
		{ShaderKeyRayGen, shader.StageRayGen},
		{ShaderKeyMiss, shader.StageMiss},
		{ShaderKeyShadowMiss, shader.StageMiss},
		{ShaderKeyClosestHit, shader.StageClosestHit},
		{ShaderKeyAnyHit, shader.StageAnyHit},
		{ShaderKeyProceduralHit, shader.StageClosestHit},
		{ShaderKeyProceduralAnyHit, shader.StageAnyHit},
		{ShaderKeyIntersection, shader.StageIntersection},
	}
	for _, lt := range r.lightTypes {
		specs = append(specs, stageSpec{lt.CallableShaderKey(), shader.StageCallable})
	}

	stages := make([]shader.Shader, len(specs))
	for i, spec := range specs {
		s, err := shader.Load(spec.key, spec.stage, r.searchPaths)
		if err != nil {
			return nil, nil, err
		}
		stages[i] = s
	}

	table := sbt.NewTable()
	table.Append(sbt.CategoryRayGen, sbt.NewGeneralGroup(0))
	table.Append(sbt.CategoryMiss, sbt.NewGeneralGroup(1))
	table.Append(sbt.CategoryMiss, sbt.NewGeneralGroup(2))
	table.Append(sbt.CategoryHit, sbt.NewTriangleHitGroup(3, 4))
	table.Append(sbt.CategoryHit, sbt.NewProceduralHitGroup(5, 6, 7))
	for i := range r.lightTypes {
		table.Append(sbt.CategoryCallable, sbt.NewGeneralGroup(int32(8+i)))
	}
	return stages, table, nil
}

func (r *raytracer) CreateShaderBindingTable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasLayout {
		return fmt.Errorf("raytracer: CreatePipeline must run before CreateShaderBindingTable")
	}

	handles, err := r.backend.GroupHandles(r.layout.GroupCount())
	if err != nil {
		return err
	}
	packed, err := sbt.Pack(handles, r.layout.GroupCount(), r.backend.HandleSize())
	if err != nil {
		return err
	}
	buffer, err := r.allocator.Upload(packed,
		vk.BufferUsageFlags(rtvk.BufferUsageShaderBindingTableBit|
			rtvk.BufferUsageShaderDeviceAddressBit))
	if err != nil {
		return fmt.Errorf("raytracer: failed to upload shader binding table: %w", err)
	}
	r.sbtBuffer = buffer
	r.sbtReady = true
	return nil
}

func (r *raytracer) Dispatch(cmd vk.CommandBuffer, clearColor mgl32.Vec4, sceneSet vk.DescriptorSet, extent vk.Extent2D, params FrameParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sbtReady {
		return fmt.Errorf("raytracer: CreateShaderBindingTable must run before Dispatch")
	}

	rayGen, miss, hit, callable := r.layout.Regions(r.sbtBuffer.DeviceAddress, r.backend.HandleSize())
	pc := pushConstants(clearColor, params)
	r.backend.Trace(cmd, rayGen, miss, hit, callable, pc.Marshal(), sceneSet, extent.Width, extent.Height)
	return nil
}

func (r *raytracer) Layout() (sbt.Layout, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layout, r.hasLayout
}

func (r *raytracer) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.builder != nil {
		r.builder.Destroy()
	}
	r.backend.Destroy()
	if r.allocator != nil {
		r.allocator.DestroyBuffer(r.aabbBuffer)
		r.allocator.DestroyBuffer(r.sbtBuffer)
		r.allocator.Destroy()
	}
	r.sbtBuffer = alloc.Buffer{}
	r.aabbBuffer = alloc.Buffer{}
	r.hasLayout = false
	r.tlasBuilt = false
	r.descriptor = false
	r.sbtReady = false
}
