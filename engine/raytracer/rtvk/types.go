// package rtvk binds the KHR acceleration structure and ray tracing pipeline
// commands that the generated Vulkan binding does not expose. Entry points are
// resolved at runtime through the Vulkan loader's vkGetDeviceProcAddr, so the
// package adds no link-time dependency beyond the loader itself. Types here
// are plain Go values; the cgo layer marshals them into the driver's structs.
package rtvk

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// ShaderUnused marks an unused shader slot in a shader group.
const ShaderUnused = ^uint32(0)

// Enum and flag values of the two ray tracing extensions, plus the core 1.2
// values the generated binding predates. Values that slot into existing
// binding calls are typed with the binding's flag types.
const (
	// DescriptorTypeAccelerationStructure is the descriptor type of a top
	// level structure binding.
	DescriptorTypeAccelerationStructure vk.DescriptorType = 1000150000

	// QueryTypeAccelerationStructureCompactedSize is the query type the
	// compaction pass reads the post-build size through.
	QueryTypeAccelerationStructureCompactedSize vk.QueryType = 1000150000

	// PipelineBindPointRayTracing binds a ray tracing pipeline.
	PipelineBindPointRayTracing vk.PipelineBindPoint = 1000165000

	// StructureTypeWriteDescriptorSetAccelerationStructure is the sType of
	// WriteDescriptorSetAccelerationStructure.
	StructureTypeWriteDescriptorSetAccelerationStructure vk.StructureType = 1000150007

	// StructureTypePhysicalDeviceBufferDeviceAddressFeatures is the sType of
	// PhysicalDeviceBufferDeviceAddressFeatures.
	StructureTypePhysicalDeviceBufferDeviceAddressFeatures vk.StructureType = 1000257000

	// StructureTypePhysicalDeviceAccelerationStructureFeatures is the sType of
	// PhysicalDeviceAccelerationStructureFeatures.
	StructureTypePhysicalDeviceAccelerationStructureFeatures vk.StructureType = 1000150013

	// StructureTypePhysicalDeviceRayTracingPipelineFeatures is the sType of
	// PhysicalDeviceRayTracingPipelineFeatures.
	StructureTypePhysicalDeviceRayTracingPipelineFeatures vk.StructureType = 1000347000
)

// Ray tracing shader stage bits.
const (
	ShaderStageRaygenBit       vk.ShaderStageFlagBits = 0x00000100
	ShaderStageAnyHitBit       vk.ShaderStageFlagBits = 0x00000200
	ShaderStageClosestHitBit   vk.ShaderStageFlagBits = 0x00000400
	ShaderStageMissBit         vk.ShaderStageFlagBits = 0x00000800
	ShaderStageIntersectionBit vk.ShaderStageFlagBits = 0x00001000
	ShaderStageCallableBit     vk.ShaderStageFlagBits = 0x00002000
)

// Buffer usage bits of the ray tracing extensions and of buffer device
// address.
const (
	BufferUsageShaderBindingTableBit                      vk.BufferUsageFlagBits = 0x00000400
	BufferUsageShaderDeviceAddressBit                     vk.BufferUsageFlagBits = 0x00020000
	BufferUsageAccelerationStructureBuildInputReadOnlyBit vk.BufferUsageFlagBits = 0x00080000
	BufferUsageAccelerationStructureStorageBit            vk.BufferUsageFlagBits = 0x00100000
)

// Pipeline stage bits for synchronizing builds and traces.
const (
	PipelineStageRayTracingShaderBit           vk.PipelineStageFlagBits = 0x00200000
	PipelineStageAccelerationStructureBuildBit vk.PipelineStageFlagBits = 0x02000000
)

// MemoryAllocateDeviceAddressBit opts an allocation into device addressing.
const MemoryAllocateDeviceAddressBit vk.MemoryAllocateFlagBits = 0x00000002

// AccelerationStructureType selects the level of a structure.
type AccelerationStructureType int32

const (
	AccelerationStructureTypeTopLevel    AccelerationStructureType = 0
	AccelerationStructureTypeBottomLevel AccelerationStructureType = 1
)

// BuildFlags tune an acceleration structure build.
type BuildFlags uint32

const (
	BuildAllowUpdateBit     BuildFlags = 0x01
	BuildAllowCompactionBit BuildFlags = 0x02
	BuildPreferFastTraceBit BuildFlags = 0x04
	BuildPreferFastBuildBit BuildFlags = 0x08
)

// GeometryFlags control opacity and any-hit invocation behavior per geometry.
type GeometryFlags uint32

const (
	// GeometryOpaqueBit skips any-hit shaders entirely for this geometry.
	GeometryOpaqueBit GeometryFlags = 0x01

	// GeometryNoDuplicateAnyHitInvocationBit guarantees the any-hit shader
	// runs at most once per primitive per ray.
	GeometryNoDuplicateAnyHitInvocationBit GeometryFlags = 0x02
)

// Triangles describes indexed triangle geometry by device address.
type Triangles struct {
	VertexFormat  vk.Format
	VertexAddress vk.DeviceAddress
	VertexStride  vk.DeviceSize
	MaxVertex     uint32
	IndexType     vk.IndexType
	IndexAddress  vk.DeviceAddress
}

// Aabbs describes procedural geometry as a strided run of bounding boxes.
type Aabbs struct {
	DataAddress vk.DeviceAddress
	Stride      vk.DeviceSize
}

// Instances describes a packed instance array for a top level build.
type Instances struct {
	DataAddress vk.DeviceAddress
}

// Geometry is one build geometry, a tagged variant over the three geometry
// kinds. Exactly one of Triangles, Aabbs and Instances is non-nil.
type Geometry struct {
	Flags     GeometryFlags
	Triangles *Triangles
	Aabbs     *Aabbs
	Instances *Instances
}

// BuildRange tells a build how many primitives to read and where to start.
type BuildRange struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

// BuildInfo describes one acceleration structure build. Dst and
// ScratchAddress may be left zero for a size query.
type BuildInfo struct {
	Type           AccelerationStructureType
	Flags          BuildFlags
	Dst            vk.AccelerationStructure
	ScratchAddress vk.DeviceAddress
	Geometries     []Geometry
}

// BuildSizes is the device's answer to a size query: how large the structure
// storage and the build scratch have to be.
type BuildSizes struct {
	AccelerationStructureSize vk.DeviceSize
	UpdateScratchSize         vk.DeviceSize
	BuildScratchSize          vk.DeviceSize
}

// RayTracingShaderGroupType selects the variant of a shader group.
type RayTracingShaderGroupType int32

const (
	RayTracingShaderGroupTypeGeneral            RayTracingShaderGroupType = 0
	RayTracingShaderGroupTypeTrianglesHitGroup  RayTracingShaderGroupType = 1
	RayTracingShaderGroupTypeProceduralHitGroup RayTracingShaderGroupType = 2
)

// RayTracingShaderGroupCreateInfo describes one shader group of a ray tracing
// pipeline. Shader fields are stage indices or ShaderUnused.
type RayTracingShaderGroupCreateInfo struct {
	Type               RayTracingShaderGroupType
	GeneralShader      uint32
	ClosestHitShader   uint32
	AnyHitShader       uint32
	IntersectionShader uint32
}

// ShaderStage pairs a created shader module with its pipeline stage for ray
// tracing pipeline creation.
type ShaderStage struct {
	Stage  vk.ShaderStageFlagBits
	Module vk.ShaderModule
	// EntryPoint is the shader entry point name, usually "main".
	EntryPoint string
}

// StridedDeviceAddressRegion is one shader binding table sub-region as the
// trace command consumes it.
type StridedDeviceAddressRegion struct {
	DeviceAddress vk.DeviceAddress
	Stride        vk.DeviceSize
	Size          vk.DeviceSize
}

// RayTracingPipelineProperties is the subset of the device's ray tracing
// pipeline properties the shader binding table layout depends on.
type RayTracingPipelineProperties struct {
	ShaderGroupHandleSize      uint32
	MaxRayRecursionDepth       uint32
	ShaderGroupBaseAlignment   uint32
	ShaderGroupHandleAlignment uint32
}

// WriteDescriptorSetAccelerationStructure extends a descriptor write with the
// structures to bind. The struct matches the driver's memory layout so it can
// be chained through an existing write's PNext.
type WriteDescriptorSetAccelerationStructure struct {
	SType                      vk.StructureType
	PNext                      unsafe.Pointer
	AccelerationStructureCount uint32
	PAccelerationStructures    *vk.AccelerationStructure
}

// PhysicalDeviceBufferDeviceAddressFeatures enables buffer device addressing
// at device creation, chained through DeviceCreateInfo.PNext. Matches the
// driver's memory layout.
type PhysicalDeviceBufferDeviceAddressFeatures struct {
	SType                            vk.StructureType
	PNext                            unsafe.Pointer
	BufferDeviceAddress              vk.Bool32
	BufferDeviceAddressCaptureReplay vk.Bool32
	BufferDeviceAddressMultiDevice   vk.Bool32
}

// PhysicalDeviceAccelerationStructureFeatures enables acceleration structures
// at device creation. Matches the driver's memory layout.
type PhysicalDeviceAccelerationStructureFeatures struct {
	SType                                                 vk.StructureType
	PNext                                                 unsafe.Pointer
	AccelerationStructure                                 vk.Bool32
	AccelerationStructureCaptureReplay                    vk.Bool32
	AccelerationStructureIndirectBuild                    vk.Bool32
	AccelerationStructureHostCommands                     vk.Bool32
	DescriptorBindingAccelerationStructureUpdateAfterBind vk.Bool32
}

// PhysicalDeviceRayTracingPipelineFeatures enables the ray tracing pipeline
// at device creation. Matches the driver's memory layout.
type PhysicalDeviceRayTracingPipelineFeatures struct {
	SType                                                 vk.StructureType
	PNext                                                 unsafe.Pointer
	RayTracingPipeline                                    vk.Bool32
	RayTracingPipelineShaderGroupHandleCaptureReplay      vk.Bool32
	RayTracingPipelineShaderGroupHandleCaptureReplayMixed vk.Bool32
	RayTracingPipelineTraceRaysIndirect                   vk.Bool32
	RayTraversalPrimitiveCulling                          vk.Bool32
}
