package accel

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/raytracer/alloc"
	"github.com/caldera-engine/caldera/engine/raytracer/geometry"
	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// nullAccelerationStructure is the zero (VK_NULL_HANDLE) acceleration
// structure handle.
var nullAccelerationStructure vk.AccelerationStructure

// blasEntry is one built bottom level structure and its backing storage.
type blasEntry struct {
	handle  vk.AccelerationStructure
	buffer  alloc.Buffer
	address vk.DeviceAddress
}

// builder is the implementation of the Builder interface.
type builder struct {
	device     vk.Device
	allocator  alloc.Allocator
	compaction bool

	blas []blasEntry

	tlas           vk.AccelerationStructure
	tlasBuffer     alloc.Buffer
	instanceBuffer alloc.Buffer
}

// Builder defines the interface for constructing the two level acceleration
// structure hierarchy. Bottom level structures are built once per geometry
// descriptor; the top level structure is rebuilt from scratch on every call
// so instance edits take effect wholesale.
type Builder interface {
	// BuildBLAS builds one bottom level structure per descriptor, in order.
	// The index of a descriptor in the slice is the index instances use to
	// reference its structure. Builds run sequentially: each structure is
	// fully built, optionally compacted, and its scratch released before the
	// next build starts, which keeps peak scratch memory at a single build's
	// worth.
	//
	// Parameters:
	//   - descriptors: the geometry descriptors, one structure each
	//
	// Returns:
	//   - error: an error if any build step failed
	BuildBLAS(descriptors []geometry.Descriptor) error

	// BuildTLAS builds the top level structure over the given instances. Any
	// previously built top level structure is destroyed first. Every instance
	// must reference a bottom level structure built by BuildBLAS.
	//
	// Parameters:
	//   - instances: the scene instances
	//
	// Returns:
	//   - error: an error if validation or any build step failed
	BuildTLAS(instances []geometry.Instance) error

	// Tlas returns the current top level structure handle.
	//
	// Returns:
	//   - vk.AccelerationStructure: the top level structure, or a null handle before BuildTLAS
	Tlas() vk.AccelerationStructure

	// BlasCount returns the number of bottom level structures built.
	//
	// Returns:
	//   - int: the structure count
	BlasCount() int

	// BlasAddress returns the device address of the bottom level structure at
	// the given index.
	//
	// Parameters:
	//   - index: the structure index as assigned by BuildBLAS
	//
	// Returns:
	//   - vk.DeviceAddress: the structure's device address
	//   - error: an error if the index is out of range
	BlasAddress(index int) (vk.DeviceAddress, error)

	// Destroy releases all structures and their buffers.
	Destroy()
}

var _ Builder = &builder{}

// NewBuilder creates a Builder that allocates through the given allocator.
//
// Parameters:
//   - device: the logical device
//   - allocator: the allocator structure storage and scratch come from
//   - opts: optional configuration
//
// Returns:
//   - Builder: the builder, with compaction enabled unless disabled via options
func NewBuilder(device vk.Device, allocator alloc.Allocator, opts ...BuilderOption) Builder {
	if device == nil || allocator == nil {
		panic("accel: NewBuilder requires a valid device and allocator")
	}
	b := &builder{
		device:     device,
		allocator:  allocator,
		compaction: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *builder) BuildBLAS(descriptors []geometry.Descriptor) error {
	if len(descriptors) == 0 {
		return fmt.Errorf("accel: no geometry descriptors to build")
	}
	if len(b.blas) != 0 {
		return fmt.Errorf("accel: bottom level structures are already built")
	}
	for i, d := range descriptors {
		entry, err := b.buildOneBLAS(FromDescriptor(d))
		if err != nil {
			b.Destroy()
			return fmt.Errorf("accel: bottom level structure %d: %w", i, err)
		}
		b.blas = append(b.blas, entry)
	}
	return nil
}

// buildOneBLAS runs the full build of a single bottom level structure:
// size query, storage and scratch allocation, the build itself, and the
// optional compaction pass.
func (b *builder) buildOneBLAS(input Input) (blasEntry, error) {
	flags := rtvk.BuildPreferFastTraceBit
	if b.compaction {
		flags |= rtvk.BuildAllowCompactionBit
	}

	buildInfo := rtvk.BuildInfo{
		Type:       rtvk.AccelerationStructureTypeBottomLevel,
		Flags:      flags,
		Geometries: []rtvk.Geometry{input.Geometry},
	}

	sizes, err := b.querySizes(&buildInfo, input.Range.PrimitiveCount)
	if err != nil {
		return blasEntry{}, err
	}

	entry, scratch, err := b.createStructure(rtvk.AccelerationStructureTypeBottomLevel, sizes)
	if err != nil {
		return blasEntry{}, err
	}
	defer b.allocator.DestroyBuffer(scratch)

	buildInfo.Dst = entry.handle
	buildInfo.ScratchAddress = scratch.DeviceAddress

	err = b.allocator.OneShot(func(cmd vk.CommandBuffer) {
		rtvk.CmdBuildAccelerationStructure(cmd, &buildInfo, []rtvk.BuildRange{input.Range})
	})
	if err != nil {
		b.destroyEntry(entry)
		return blasEntry{}, err
	}

	if b.compaction {
		compacted, err := b.compact(entry)
		if err != nil {
			b.destroyEntry(entry)
			return blasEntry{}, err
		}
		entry = compacted
	}
	return entry, nil
}

// compact replaces a freshly built structure with a compacted copy and
// destroys the original. The compacted size is read back through a query
// pool after the build submission has drained.
func (b *builder) compact(entry blasEntry) (blasEntry, error) {
	poolInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  rtvk.QueryTypeAccelerationStructureCompactedSize,
		QueryCount: 1,
	}
	var pool vk.QueryPool
	if res := vk.CreateQueryPool(b.device, &poolInfo, nil, &pool); res != vk.Success {
		return blasEntry{}, fmt.Errorf("failed to create compaction query pool: %d", res)
	}
	defer vk.DestroyQueryPool(b.device, pool, nil)

	err := b.allocator.OneShot(func(cmd vk.CommandBuffer) {
		vk.CmdResetQueryPool(cmd, pool, 0, 1)
		rtvk.CmdWriteCompactedSizeQuery(cmd, entry.handle, pool, 0)
	})
	if err != nil {
		return blasEntry{}, err
	}

	var compactedSize vk.DeviceSize
	res := vk.GetQueryPoolResults(b.device, pool, 0, 1,
		uint64(unsafe.Sizeof(compactedSize)), unsafe.Pointer(&compactedSize),
		vk.DeviceSize(unsafe.Sizeof(compactedSize)),
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if res != vk.Success {
		return blasEntry{}, fmt.Errorf("failed to read compacted size: %d", res)
	}

	compacted, err := b.createBareStructure(rtvk.AccelerationStructureTypeBottomLevel, compactedSize)
	if err != nil {
		return blasEntry{}, err
	}

	err = b.allocator.OneShot(func(cmd vk.CommandBuffer) {
		rtvk.CmdCopyAccelerationStructureCompact(cmd, entry.handle, compacted.handle)
	})
	if err != nil {
		b.destroyEntry(compacted)
		return blasEntry{}, err
	}
	b.destroyEntry(entry)
	return compacted, nil
}

func (b *builder) BuildTLAS(instances []geometry.Instance) error {
	if err := ValidateInstances(instances, len(b.blas)); err != nil {
		return err
	}

	gpuInstances := make([]geometry.GPUInstance, len(instances))
	for i, inst := range instances {
		gpuInstances[i] = geometry.ToGPUInstance(inst, b.blas[inst.BlasIndex].address)
	}

	// Replace the previous top level structure wholesale.
	if b.tlas != nullAccelerationStructure {
		rtvk.DestroyAccelerationStructure(b.device, b.tlas)
		b.allocator.DestroyBuffer(b.tlasBuffer)
		b.allocator.DestroyBuffer(b.instanceBuffer)
		b.tlas = nullAccelerationStructure
	}

	instanceData := geometry.MarshalInstanceBuffer(gpuInstances)
	instanceBuffer, err := b.allocator.Upload(instanceData,
		vk.BufferUsageFlags(rtvk.BufferUsageAccelerationStructureBuildInputReadOnlyBit|
			rtvk.BufferUsageShaderDeviceAddressBit))
	if err != nil {
		return fmt.Errorf("accel: failed to upload instance buffer: %w", err)
	}
	b.instanceBuffer = instanceBuffer

	buildInfo := rtvk.BuildInfo{
		Type:  rtvk.AccelerationStructureTypeTopLevel,
		Flags: rtvk.BuildPreferFastTraceBit,
		Geometries: []rtvk.Geometry{{
			Instances: &rtvk.Instances{DataAddress: instanceBuffer.DeviceAddress},
		}},
	}

	sizes, err := b.querySizes(&buildInfo, uint32(len(instances)))
	if err != nil {
		return err
	}

	entry, scratch, err := b.createStructure(rtvk.AccelerationStructureTypeTopLevel, sizes)
	if err != nil {
		return err
	}
	defer b.allocator.DestroyBuffer(scratch)

	buildInfo.Dst = entry.handle
	buildInfo.ScratchAddress = scratch.DeviceAddress
	buildRange := rtvk.BuildRange{PrimitiveCount: uint32(len(instances))}

	err = b.allocator.OneShot(func(cmd vk.CommandBuffer) {
		rtvk.CmdBuildAccelerationStructure(cmd, &buildInfo, []rtvk.BuildRange{buildRange})
	})
	if err != nil {
		b.destroyEntry(entry)
		return err
	}

	b.tlas = entry.handle
	b.tlasBuffer = entry.buffer
	return nil
}

func (b *builder) Tlas() vk.AccelerationStructure {
	return b.tlas
}

func (b *builder) BlasCount() int {
	return len(b.blas)
}

func (b *builder) BlasAddress(index int) (vk.DeviceAddress, error) {
	if index < 0 || index >= len(b.blas) {
		return 0, fmt.Errorf("accel: bottom level structure index %d out of range, have %d", index, len(b.blas))
	}
	return b.blas[index].address, nil
}

func (b *builder) Destroy() {
	for _, entry := range b.blas {
		b.destroyEntry(entry)
	}
	b.blas = nil
	if b.tlas != nullAccelerationStructure {
		rtvk.DestroyAccelerationStructure(b.device, b.tlas)
		b.allocator.DestroyBuffer(b.tlasBuffer)
		b.allocator.DestroyBuffer(b.instanceBuffer)
		b.tlas = nullAccelerationStructure
	}
}

// querySizes asks the device how much storage and scratch the build needs.
func (b *builder) querySizes(buildInfo *rtvk.BuildInfo, primitiveCount uint32) (rtvk.BuildSizes, error) {
	sizes := rtvk.GetBuildSizes(b.device, buildInfo, []uint32{primitiveCount})
	if sizes.AccelerationStructureSize == 0 {
		return sizes, fmt.Errorf("device reported a zero size structure")
	}
	return sizes, nil
}

// createStructure allocates structure storage plus build scratch and creates
// the structure handle.
func (b *builder) createStructure(asType rtvk.AccelerationStructureType, sizes rtvk.BuildSizes) (blasEntry, alloc.Buffer, error) {
	entry, err := b.createBareStructure(asType, sizes.AccelerationStructureSize)
	if err != nil {
		return blasEntry{}, alloc.Buffer{}, err
	}
	scratch, err := b.allocator.CreateBuffer(sizes.BuildScratchSize,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|rtvk.BufferUsageShaderDeviceAddressBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		b.destroyEntry(entry)
		return blasEntry{}, alloc.Buffer{}, fmt.Errorf("failed to allocate scratch: %w", err)
	}
	return entry, scratch, nil
}

// createBareStructure allocates structure storage of the given size and
// creates the structure handle, without scratch.
func (b *builder) createBareStructure(asType rtvk.AccelerationStructureType, size vk.DeviceSize) (blasEntry, error) {
	buffer, err := b.allocator.CreateBuffer(size,
		vk.BufferUsageFlags(rtvk.BufferUsageAccelerationStructureStorageBit|
			rtvk.BufferUsageShaderDeviceAddressBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return blasEntry{}, fmt.Errorf("failed to allocate structure storage: %w", err)
	}

	handle, err := rtvk.CreateAccelerationStructure(b.device, buffer.Handle, size, asType)
	if err != nil {
		b.allocator.DestroyBuffer(buffer)
		return blasEntry{}, fmt.Errorf("failed to create structure: %w", err)
	}

	address := rtvk.AccelerationStructureDeviceAddress(b.device, handle)
	return blasEntry{handle: handle, buffer: buffer, address: address}, nil
}

func (b *builder) destroyEntry(entry blasEntry) {
	if entry.handle != nullAccelerationStructure {
		rtvk.DestroyAccelerationStructure(b.device, entry.handle)
	}
	b.allocator.DestroyBuffer(entry.buffer)
}
