package raytracer

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
	"github.com/caldera-engine/caldera/engine/raytracer/shader"
)

// pushConstantStages is every stage the push constant block is visible to.
const pushConstantStages = rtvk.ShaderStageRaygenBit |
	rtvk.ShaderStageClosestHitBit |
	rtvk.ShaderStageMissBit |
	rtvk.ShaderStageCallableBit

type vulkanRaytracerBackendImpl struct {
	device         vk.Device
	physicalDevice vk.PhysicalDevice

	handleSize uint32

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	descriptorSet       vk.DescriptorSet

	pipelineLayout vk.PipelineLayout
	pipeline       vk.Pipeline
}

type vulkanRaytracerBackend interface {
	// Setup binds the backend to a device and queries the ray tracing
	// pipeline properties the shader binding table layout depends on.
	Setup(device vk.Device, physicalDevice vk.PhysicalDevice) error

	// HandleSize returns the device-reported shader group handle size in bytes.
	HandleSize() uint32

	// CreateDescriptorSet creates the subsystem's descriptor layout, pool and
	// set, then writes both bindings: the acceleration structure at binding 0
	// and the storage image at binding 1.
	CreateDescriptorSet(tlas vk.AccelerationStructure, outputView vk.ImageView) error

	// UpdateOutputImage rewrites only the storage image binding, leaving the
	// acceleration structure binding untouched. Called on resize.
	UpdateOutputImage(outputView vk.ImageView) error

	// CreatePipeline creates the ray tracing pipeline from the ordered stages
	// and groups. Shader modules are destroyed before returning.
	CreatePipeline(stages []shader.Shader, groups []rtvk.RayTracingShaderGroupCreateInfo, sceneLayout vk.DescriptorSetLayout, maxRecursionDepth uint32) error

	// GroupHandles queries the opaque shader group handles of the pipeline.
	GroupHandles(groupCount int) ([]byte, error)

	// Trace records the bind, push constant and trace commands for one
	// dispatch into the given command buffer.
	Trace(cmd vk.CommandBuffer, rayGen, miss, hit, callable rtvk.StridedDeviceAddressRegion, push []byte, sceneSet vk.DescriptorSet, width, height uint32)

	// Destroy releases every Vulkan object the backend owns.
	Destroy()
}

var _ vulkanRaytracerBackend = &vulkanRaytracerBackendImpl{}

func newVulkanRaytracerBackend() *vulkanRaytracerBackendImpl {
	return &vulkanRaytracerBackendImpl{}
}

func (b *vulkanRaytracerBackendImpl) Setup(device vk.Device, physicalDevice vk.PhysicalDevice) error {
	if device == nil || physicalDevice == nil {
		panic("raytracer: backend setup requires a valid device and physical device")
	}
	if err := rtvk.Load(device); err != nil {
		return fmt.Errorf("raytracer: %w", err)
	}
	b.device = device
	b.physicalDevice = physicalDevice

	properties, err := rtvk.RayTracingProperties(physicalDevice)
	if err != nil {
		return fmt.Errorf("raytracer: %w", err)
	}
	b.handleSize = properties.ShaderGroupHandleSize
	return nil
}

func (b *vulkanRaytracerBackendImpl) HandleSize() uint32 {
	return b.handleSize
}

func (b *vulkanRaytracerBackendImpl) CreateDescriptorSet(tlas vk.AccelerationStructure, outputView vk.ImageView) error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  rtvk.DescriptorTypeAccelerationStructure,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(rtvk.ShaderStageRaygenBit | rtvk.ShaderStageClosestHitBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(rtvk.ShaderStageRaygenBit),
		},
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(b.device, &layoutInfo, nil, &b.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("raytracer: failed to create descriptor set layout: %d", res)
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: rtvk.DescriptorTypeAccelerationStructure, DescriptorCount: 1},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 1},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(b.device, &poolInfo, nil, &b.descriptorPool); res != vk.Success {
		return fmt.Errorf("raytracer: failed to create descriptor pool: %d", res)
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     b.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{b.descriptorSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(b.device, &allocInfo, &sets[0]); res != vk.Success {
		return fmt.Errorf("raytracer: failed to allocate descriptor set: %d", res)
	}
	b.descriptorSet = sets[0]

	tlasWrite := rtvk.WriteDescriptorSetAccelerationStructure{
		SType:                      rtvk.StructureTypeWriteDescriptorSetAccelerationStructure,
		AccelerationStructureCount: 1,
		PAccelerationStructures:    &tlas,
	}
	writes := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			PNext:           unsafe.Pointer(&tlasWrite),
			DstSet:          b.descriptorSet,
			DstBinding:      0,
			DescriptorCount: 1,
			DescriptorType:  rtvk.DescriptorTypeAccelerationStructure,
		},
		b.outputImageWrite(outputView),
	}
	vk.UpdateDescriptorSets(b.device, uint32(len(writes)), writes, 0, nil)
	return nil
}

func (b *vulkanRaytracerBackendImpl) UpdateOutputImage(outputView vk.ImageView) error {
	if b.descriptorSet == vk.NullDescriptorSet {
		return fmt.Errorf("raytracer: descriptor set has not been created")
	}
	writes := []vk.WriteDescriptorSet{b.outputImageWrite(outputView)}
	vk.UpdateDescriptorSets(b.device, 1, writes, 0, nil)
	return nil
}

// outputImageWrite builds the storage image write for binding 1. The output
// image is written by the ray generation shader in general layout.
func (b *vulkanRaytracerBackendImpl) outputImageWrite(outputView vk.ImageView) vk.WriteDescriptorSet {
	imageInfo := []vk.DescriptorImageInfo{{
		ImageView:   outputView,
		ImageLayout: vk.ImageLayoutGeneral,
	}}
	return vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          b.descriptorSet,
		DstBinding:      1,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo:      imageInfo,
	}
}

func (b *vulkanRaytracerBackendImpl) CreatePipeline(stages []shader.Shader, groups []rtvk.RayTracingShaderGroupCreateInfo, sceneLayout vk.DescriptorSetLayout, maxRecursionDepth uint32) error {
	if b.descriptorSetLayout == vk.NullDescriptorSetLayout {
		return fmt.Errorf("raytracer: descriptor set must be created before the pipeline")
	}

	pushRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(pushConstantStages),
		Offset:     0,
		Size:       GPUPushConstantsSize,
	}
	setLayouts := []vk.DescriptorSetLayout{b.descriptorSetLayout}
	if sceneLayout != vk.NullDescriptorSetLayout {
		setLayouts = append(setLayouts, sceneLayout)
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushRange},
	}
	if res := vk.CreatePipelineLayout(b.device, &layoutInfo, nil, &b.pipelineLayout); res != vk.Success {
		return fmt.Errorf("raytracer: failed to create pipeline layout: %d", res)
	}

	modules := make([]vk.ShaderModule, len(stages))
	stageInfos := make([]rtvk.ShaderStage, len(stages))
	defer func() {
		for _, m := range modules {
			if m != vk.NullShaderModule {
				vk.DestroyShaderModule(b.device, m, nil)
			}
		}
	}()
	for i, s := range stages {
		moduleInfo := s.ModuleCreateInfo()
		if res := vk.CreateShaderModule(b.device, &moduleInfo, nil, &modules[i]); res != vk.Success {
			return fmt.Errorf("raytracer: failed to create shader module for %q: %d", s.Key(), res)
		}
		stageInfos[i] = rtvk.ShaderStage{
			Stage:      s.Stage().StageFlag(),
			Module:     modules[i],
			EntryPoint: "main",
		}
	}

	pipeline, err := rtvk.CreateRayTracingPipeline(b.device, stageInfos, groups, b.pipelineLayout, maxRecursionDepth)
	if err != nil {
		return fmt.Errorf("raytracer: failed to create ray tracing pipeline: %w", err)
	}
	b.pipeline = pipeline
	return nil
}

func (b *vulkanRaytracerBackendImpl) GroupHandles(groupCount int) ([]byte, error) {
	if b.pipeline == vk.NullPipeline {
		return nil, fmt.Errorf("raytracer: pipeline has not been created")
	}
	data, err := rtvk.GetRayTracingShaderGroupHandles(b.device, b.pipeline, uint32(groupCount), b.handleSize)
	if err != nil {
		return nil, fmt.Errorf("raytracer: failed to query shader group handles: %w", err)
	}
	return data, nil
}

func (b *vulkanRaytracerBackendImpl) Trace(cmd vk.CommandBuffer, rayGen, miss, hit, callable rtvk.StridedDeviceAddressRegion, push []byte, sceneSet vk.DescriptorSet, width, height uint32) {
	vk.CmdBindPipeline(cmd, rtvk.PipelineBindPointRayTracing, b.pipeline)

	sets := []vk.DescriptorSet{b.descriptorSet}
	if sceneSet != vk.NullDescriptorSet {
		sets = append(sets, sceneSet)
	}
	vk.CmdBindDescriptorSets(cmd, rtvk.PipelineBindPointRayTracing, b.pipelineLayout,
		0, uint32(len(sets)), sets, 0, nil)

	vk.CmdPushConstants(cmd, b.pipelineLayout, vk.ShaderStageFlags(pushConstantStages),
		0, uint32(len(push)), unsafe.Pointer(&push[0]))

	rtvk.CmdTraceRays(cmd, rayGen, miss, hit, callable, width, height, 1)
}

func (b *vulkanRaytracerBackendImpl) Destroy() {
	if b.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(b.device, b.pipeline, nil)
		b.pipeline = vk.NullPipeline
	}
	if b.pipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(b.device, b.pipelineLayout, nil)
		b.pipelineLayout = vk.NullPipelineLayout
	}
	if b.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(b.device, b.descriptorPool, nil)
		b.descriptorPool = vk.NullDescriptorPool
		b.descriptorSet = vk.NullDescriptorSet
	}
	if b.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(b.device, b.descriptorSetLayout, nil)
		b.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
}
