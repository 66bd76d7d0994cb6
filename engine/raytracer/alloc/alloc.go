// package alloc owns device memory for the ray tracing subsystem. It wraps
// buffer creation, staged uploads and one-shot command submission so the
// acceleration structure builder and the shader binding table never talk to
// raw Vulkan memory directly.
package alloc

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// Buffer is a device buffer together with its backing memory. Buffers created
// with a device-address usage carry the queried address so callers can feed it
// straight into acceleration structure build inputs.
type Buffer struct {
	// Handle is the Vulkan buffer handle.
	Handle vk.Buffer
	// Memory is the device memory bound to the buffer.
	Memory vk.DeviceMemory
	// Size is the buffer size in bytes as requested at creation.
	Size vk.DeviceSize
	// DeviceAddress is the buffer's device address, or zero when the buffer
	// was created without rtvk.BufferUsageShaderDeviceAddressBit.
	DeviceAddress vk.DeviceAddress
}

// Valid reports whether the buffer refers to a live allocation.
//
// Returns:
//   - bool: true if the buffer handle is bound
func (b Buffer) Valid() bool {
	return b.Handle != vk.NullBuffer
}

// allocator is the implementation of the Allocator interface.
type allocator struct {
	device         vk.Device
	physicalDevice vk.PhysicalDevice
	queue          vk.Queue
	commandPool    vk.CommandPool
}

// Allocator defines the interface for creating and destroying device buffers
// and for running short synchronous command sequences such as buffer copies
// and acceleration structure builds.
type Allocator interface {
	// CreateBuffer creates a buffer of the given size with no initial contents.
	//
	// Parameters:
	//   - size: the buffer size in bytes
	//   - usage: the buffer usage flags
	//   - properties: the required memory property flags
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if creation or allocation failed
	CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (Buffer, error)

	// Upload creates a device-local buffer and fills it with the given data
	// through a staging buffer. The staging buffer is destroyed before Upload
	// returns.
	//
	// Parameters:
	//   - data: the bytes to upload, must be non-empty
	//   - usage: the destination buffer usage flags, transfer-dst is added automatically
	//
	// Returns:
	//   - Buffer: the filled device-local buffer
	//   - error: an error if any allocation or the copy submission failed
	Upload(data []byte, usage vk.BufferUsageFlags) (Buffer, error)

	// OneShot allocates a primary command buffer, records it via the given
	// function, submits it and blocks until the queue drains. This is the
	// single synchronous seam of the subsystem.
	//
	// Parameters:
	//   - record: the function recording commands into the provided buffer
	//
	// Returns:
	//   - error: an error if recording or submission failed
	OneShot(record func(cmd vk.CommandBuffer)) error

	// DestroyBuffer releases the buffer and its memory. Destroying an unbound
	// buffer is a no-op.
	//
	// Parameters:
	//   - b: the buffer to destroy
	DestroyBuffer(b Buffer)

	// Destroy releases the allocator's command pool. Buffers created by the
	// allocator must be destroyed individually before calling Destroy.
	Destroy()
}

var _ Allocator = &allocator{}

// NewAllocator creates an Allocator bound to the given device and queue.
// The queue must support compute work, which every acceleration structure
// build and trace dispatch is submitted as.
//
// Parameters:
//   - device: the logical device
//   - physicalDevice: the physical device, used for memory type selection
//   - queue: the queue one-shot submissions go to
//   - queueFamilyIndex: the family index of the queue
//
// Returns:
//   - Allocator: the allocator
//   - error: an error if the internal command pool could not be created
func NewAllocator(device vk.Device, physicalDevice vk.PhysicalDevice, queue vk.Queue, queueFamilyIndex uint32) (Allocator, error) {
	if device == nil || physicalDevice == nil {
		panic("alloc: NewAllocator requires a valid device and physical device")
	}
	if err := rtvk.Load(device); err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: queueFamilyIndex,
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device, &poolInfo, nil, &pool); res != vk.Success {
		return nil, fmt.Errorf("alloc: failed to create command pool: %d", res)
	}
	return &allocator{
		device:         device,
		physicalDevice: physicalDevice,
		queue:          queue,
		commandPool:    pool,
	}, nil
}

func (a *allocator) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlags, properties vk.MemoryPropertyFlags) (Buffer, error) {
	if size == 0 {
		return Buffer{}, fmt.Errorf("alloc: cannot create a zero-size buffer")
	}
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(a.device, &bufferInfo, nil, &buffer); res != vk.Success {
		return Buffer{}, fmt.Errorf("alloc: failed to create buffer of %d bytes: %d", size, res)
	}

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.device, buffer, &memRequirements)
	memRequirements.Deref()
	memRequirements.Free()

	memoryTypeIndex, err := findMemoryType(a.physicalDevice, memRequirements.MemoryTypeBits, properties)
	if err != nil {
		vk.DestroyBuffer(a.device, buffer, nil)
		return Buffer{}, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	}
	// Buffers used as acceleration structure inputs or SBT storage are read
	// by device address, which the allocation has to opt into.
	needsAddress := usage&vk.BufferUsageFlags(rtvk.BufferUsageShaderDeviceAddressBit) != 0
	var flagsInfo vk.MemoryAllocateFlagsInfo
	if needsAddress {
		flagsInfo = vk.MemoryAllocateFlagsInfo{
			SType: vk.StructureTypeMemoryAllocateFlagsInfo,
			Flags: vk.MemoryAllocateFlags(rtvk.MemoryAllocateDeviceAddressBit),
		}
		allocInfo.PNext = unsafe.Pointer(&flagsInfo)
	}

	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(a.device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyBuffer(a.device, buffer, nil)
		return Buffer{}, fmt.Errorf("alloc: failed to allocate %d bytes: %d", memRequirements.Size, res)
	}
	vk.BindBufferMemory(a.device, buffer, memory, 0)

	b := Buffer{Handle: buffer, Memory: memory, Size: size}
	if needsAddress {
		b.DeviceAddress = rtvk.GetBufferDeviceAddress(a.device, buffer)
	}
	return b, nil
}

func (a *allocator) Upload(data []byte, usage vk.BufferUsageFlags) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, fmt.Errorf("alloc: cannot upload an empty payload")
	}
	size := vk.DeviceSize(len(data))

	staging, err := a.CreateBuffer(size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return Buffer{}, err
	}
	defer a.DestroyBuffer(staging)

	var mapped unsafe.Pointer
	if res := vk.MapMemory(a.device, staging.Memory, 0, size, 0, &mapped); res != vk.Success {
		return Buffer{}, fmt.Errorf("alloc: failed to map staging memory: %d", res)
	}
	vk.Memcopy(mapped, data)
	vk.UnmapMemory(a.device, staging.Memory)

	dst, err := a.CreateBuffer(size,
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return Buffer{}, err
	}

	err = a.OneShot(func(cmd vk.CommandBuffer) {
		region := vk.BufferCopy{Size: size}
		vk.CmdCopyBuffer(cmd, staging.Handle, dst.Handle, 1, []vk.BufferCopy{region})
	})
	if err != nil {
		a.DestroyBuffer(dst)
		return Buffer{}, err
	}
	return dst, nil
}

func (a *allocator) OneShot(record func(cmd vk.CommandBuffer)) error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        a.commandPool,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(a.device, &allocInfo, commandBuffers); res != vk.Success {
		return fmt.Errorf("alloc: failed to allocate command buffer: %d", res)
	}
	cmd := commandBuffers[0]
	defer vk.FreeCommandBuffers(a.device, a.commandPool, 1, commandBuffers)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("alloc: failed to begin command buffer: %d", res)
	}
	record(cmd)
	if res := vk.EndCommandBuffer(cmd); res != vk.Success {
		return fmt.Errorf("alloc: failed to end command buffer: %d", res)
	}

	submitInfos := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}}
	if res := vk.QueueSubmit(a.queue, 1, submitInfos, vk.NullFence); res != vk.Success {
		return fmt.Errorf("alloc: failed to submit one-shot commands: %d", res)
	}
	vk.QueueWaitIdle(a.queue)
	return nil
}

func (a *allocator) DestroyBuffer(b Buffer) {
	if !b.Valid() {
		return
	}
	vk.DestroyBuffer(a.device, b.Handle, nil)
	vk.FreeMemory(a.device, b.Memory, nil)
}

func (a *allocator) Destroy() {
	vk.DestroyCommandPool(a.device, a.commandPool, nil)
}

// findMemoryType selects a memory type matching the requirement bits and
// the requested property flags.
func findMemoryType(physicalDevice vk.PhysicalDevice, typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memProperties)
	memProperties.Deref()
	memProperties.Free()

	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)
		memoryType.Deref()
		memoryType.Free()
		if typeFilter&typeBit != 0 && memoryType.PropertyFlags&properties == properties {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("alloc: no memory type matches filter %#x with properties %#x", typeFilter, properties)
}
