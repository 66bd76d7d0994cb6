package rtvk

/*
#cgo linux LDFLAGS: -ldl
#cgo freebsd LDFLAGS: -ldl

#include <stdint.h>
#include <stdlib.h>
#include <string.h>

// The Vulkan loader is discovered at runtime, so no Vulkan headers or import
// libraries are needed to compile this package. The struct declarations below
// mirror the extension structs field for field; the compiler reproduces the
// driver ABI because every field has the same size and alignment as the
// header's.

#ifdef _WIN32
#include <windows.h>
static void* rtOpenLoader(void) {
	return (void*)LoadLibraryA("vulkan-1.dll");
}
static void* rtSym(void* lib, const char* name) {
	return (void*)GetProcAddress((HMODULE)lib, name);
}
#else
#include <dlfcn.h>
static void* rtOpenLoader(void) {
	static const char* names[] = {
		"libvulkan.so.1",
		"libvulkan.so",
		"libvulkan.1.dylib",
		"libMoltenVK.dylib",
	};
	int i;
	for (i = 0; i < 4; i++) {
		void* lib = dlopen(names[i], RTLD_NOW | RTLD_LOCAL);
		if (lib) {
			return lib;
		}
	}
	return NULL;
}
static void* rtSym(void* lib, const char* name) {
	return dlsym(lib, name);
}
#endif

typedef void*    RtDevice;
typedef void*    RtPhysicalDevice;
typedef void*    RtCommandBuffer;
typedef uint64_t RtBuffer;
typedef uint64_t RtAccelerationStructure;
typedef uint64_t RtQueryPool;
typedef uint64_t RtPipeline;
typedef uint64_t RtPipelineLayout;
typedef uint64_t RtShaderModule;
typedef uint64_t RtDeviceAddress;
typedef uint64_t RtDeviceSize;
typedef uint32_t RtBool32;

typedef union RtDeviceOrHostAddress {
	RtDeviceAddress deviceAddress;
	void*           hostAddress;
} RtDeviceOrHostAddress;

typedef union RtDeviceOrHostAddressConst {
	RtDeviceAddress deviceAddress;
	const void*     hostAddress;
} RtDeviceOrHostAddressConst;

typedef struct RtAccelerationStructureGeometryTrianglesData {
	uint32_t                   sType;
	const void*                pNext;
	int32_t                    vertexFormat;
	RtDeviceOrHostAddressConst vertexData;
	RtDeviceSize               vertexStride;
	uint32_t                   maxVertex;
	int32_t                    indexType;
	RtDeviceOrHostAddressConst indexData;
	RtDeviceOrHostAddressConst transformData;
} RtAccelerationStructureGeometryTrianglesData;

typedef struct RtAccelerationStructureGeometryAabbsData {
	uint32_t                   sType;
	const void*                pNext;
	RtDeviceOrHostAddressConst data;
	RtDeviceSize               stride;
} RtAccelerationStructureGeometryAabbsData;

typedef struct RtAccelerationStructureGeometryInstancesData {
	uint32_t                   sType;
	const void*                pNext;
	RtBool32                   arrayOfPointers;
	RtDeviceOrHostAddressConst data;
} RtAccelerationStructureGeometryInstancesData;

typedef union RtAccelerationStructureGeometryData {
	RtAccelerationStructureGeometryTrianglesData  triangles;
	RtAccelerationStructureGeometryAabbsData      aabbs;
	RtAccelerationStructureGeometryInstancesData  instances;
} RtAccelerationStructureGeometryData;

typedef struct RtAccelerationStructureGeometry {
	uint32_t                            sType;
	const void*                         pNext;
	int32_t                             geometryType;
	RtAccelerationStructureGeometryData geometry;
	uint32_t                            flags;
} RtAccelerationStructureGeometry;

typedef struct RtAccelerationStructureBuildGeometryInfo {
	uint32_t                               sType;
	const void*                            pNext;
	int32_t                                type;
	uint32_t                               flags;
	int32_t                                mode;
	RtAccelerationStructure                srcAccelerationStructure;
	RtAccelerationStructure                dstAccelerationStructure;
	uint32_t                               geometryCount;
	const RtAccelerationStructureGeometry* pGeometries;
	const RtAccelerationStructureGeometry* const* ppGeometries;
	RtDeviceOrHostAddress                  scratchData;
} RtAccelerationStructureBuildGeometryInfo;

typedef struct RtAccelerationStructureBuildRangeInfo {
	uint32_t primitiveCount;
	uint32_t primitiveOffset;
	uint32_t firstVertex;
	uint32_t transformOffset;
} RtAccelerationStructureBuildRangeInfo;

typedef struct RtAccelerationStructureBuildSizesInfo {
	uint32_t     sType;
	const void*  pNext;
	RtDeviceSize accelerationStructureSize;
	RtDeviceSize updateScratchSize;
	RtDeviceSize buildScratchSize;
} RtAccelerationStructureBuildSizesInfo;

typedef struct RtAccelerationStructureCreateInfo {
	uint32_t        sType;
	const void*     pNext;
	uint32_t        createFlags;
	RtBuffer        buffer;
	RtDeviceSize    offset;
	RtDeviceSize    size;
	int32_t         type;
	RtDeviceAddress deviceAddress;
} RtAccelerationStructureCreateInfo;

typedef struct RtAccelerationStructureDeviceAddressInfo {
	uint32_t                sType;
	const void*             pNext;
	RtAccelerationStructure accelerationStructure;
} RtAccelerationStructureDeviceAddressInfo;

typedef struct RtBufferDeviceAddressInfo {
	uint32_t    sType;
	const void* pNext;
	RtBuffer    buffer;
} RtBufferDeviceAddressInfo;

typedef struct RtCopyAccelerationStructureInfo {
	uint32_t                sType;
	const void*             pNext;
	RtAccelerationStructure src;
	RtAccelerationStructure dst;
	int32_t                 mode;
} RtCopyAccelerationStructureInfo;

typedef struct RtStridedDeviceAddressRegion {
	RtDeviceAddress deviceAddress;
	RtDeviceSize    stride;
	RtDeviceSize    size;
} RtStridedDeviceAddressRegion;

typedef struct RtPipelineShaderStageCreateInfo {
	uint32_t       sType;
	const void*    pNext;
	uint32_t       flags;
	int32_t        stage;
	RtShaderModule module;
	const char*    pName;
	const void*    pSpecializationInfo;
} RtPipelineShaderStageCreateInfo;

typedef struct RtRayTracingShaderGroupCreateInfo {
	uint32_t    sType;
	const void* pNext;
	int32_t     type;
	uint32_t    generalShader;
	uint32_t    closestHitShader;
	uint32_t    anyHitShader;
	uint32_t    intersectionShader;
	const void* pShaderGroupCaptureReplayHandle;
} RtRayTracingShaderGroupCreateInfo;

typedef struct RtRayTracingPipelineCreateInfo {
	uint32_t                                 sType;
	const void*                              pNext;
	uint32_t                                 flags;
	uint32_t                                 stageCount;
	const RtPipelineShaderStageCreateInfo*   pStages;
	uint32_t                                 groupCount;
	const RtRayTracingShaderGroupCreateInfo* pGroups;
	uint32_t                                 maxPipelineRayRecursionDepth;
	const void*                              pLibraryInfo;
	const void*                              pLibraryInterface;
	const void*                              pDynamicState;
	RtPipelineLayout                         layout;
	RtPipeline                               basePipelineHandle;
	int32_t                                  basePipelineIndex;
} RtRayTracingPipelineCreateInfo;

typedef struct RtPhysicalDeviceRayTracingPipelineProperties {
	uint32_t    sType;
	const void* pNext;
	uint32_t    shaderGroupHandleSize;
	uint32_t    maxRayRecursionDepth;
	uint32_t    maxShaderGroupStride;
	uint32_t    shaderGroupBaseAlignment;
	uint32_t    shaderGroupHandleCaptureReplaySize;
	uint32_t    maxRayDispatchInvocationCount;
	uint32_t    shaderGroupHandleAlignment;
	uint32_t    maxRayHitAttributeSize;
} RtPhysicalDeviceRayTracingPipelineProperties;

// VkPhysicalDeviceProperties is 824 bytes on 64 bit platforms; only the
// chained pNext payload is read, so the core block stays an opaque blob.
typedef struct RtPhysicalDeviceProperties2 {
	uint32_t    sType;
	void*       pNext;
	uint8_t     properties[824];
} RtPhysicalDeviceProperties2;

typedef void* (*PFN_rtVoidFunction)(void);
typedef PFN_rtVoidFunction (*PFN_rtGetDeviceProcAddr)(RtDevice, const char*);
typedef void (*PFN_rtGetPhysicalDeviceProperties2)(RtPhysicalDevice, RtPhysicalDeviceProperties2*);
typedef RtDeviceAddress (*PFN_rtGetBufferDeviceAddress)(RtDevice, const RtBufferDeviceAddressInfo*);
typedef int32_t (*PFN_rtCreateAccelerationStructure)(RtDevice, const RtAccelerationStructureCreateInfo*, const void*, RtAccelerationStructure*);
typedef void (*PFN_rtDestroyAccelerationStructure)(RtDevice, RtAccelerationStructure, const void*);
typedef RtDeviceAddress (*PFN_rtGetAccelerationStructureDeviceAddress)(RtDevice, const RtAccelerationStructureDeviceAddressInfo*);
typedef void (*PFN_rtGetAccelerationStructureBuildSizes)(RtDevice, int32_t, const RtAccelerationStructureBuildGeometryInfo*, const uint32_t*, RtAccelerationStructureBuildSizesInfo*);
typedef void (*PFN_rtCmdBuildAccelerationStructures)(RtCommandBuffer, uint32_t, const RtAccelerationStructureBuildGeometryInfo*, const RtAccelerationStructureBuildRangeInfo* const*);
typedef void (*PFN_rtCmdCopyAccelerationStructure)(RtCommandBuffer, const RtCopyAccelerationStructureInfo*);
typedef void (*PFN_rtCmdWriteAccelerationStructuresProperties)(RtCommandBuffer, uint32_t, const RtAccelerationStructure*, int32_t, RtQueryPool, uint32_t);
typedef int32_t (*PFN_rtCreateRayTracingPipelines)(RtDevice, uint64_t, uint64_t, uint32_t, const RtRayTracingPipelineCreateInfo*, const void*, RtPipeline*);
typedef int32_t (*PFN_rtGetRayTracingShaderGroupHandles)(RtDevice, RtPipeline, uint32_t, uint32_t, size_t, void*);
typedef void (*PFN_rtCmdTraceRays)(RtCommandBuffer, const RtStridedDeviceAddressRegion*, const RtStridedDeviceAddressRegion*, const RtStridedDeviceAddressRegion*, const RtStridedDeviceAddressRegion*, uint32_t, uint32_t, uint32_t);

static void* rtCallGetDeviceProcAddr(void* pfn, RtDevice dev, const char* name) {
	return (void*)((PFN_rtGetDeviceProcAddr)pfn)(dev, name);
}

static void rtQueryRayTracingProperties(void* pfn, RtPhysicalDevice pd, RtPhysicalDeviceRayTracingPipelineProperties* out) {
	RtPhysicalDeviceProperties2 props;
	memset(&props, 0, sizeof(props));
	memset(out, 0, sizeof(*out));
	props.sType = 1000059001;
	out->sType = 1000347001;
	props.pNext = out;
	((PFN_rtGetPhysicalDeviceProperties2)pfn)(pd, &props);
}

static RtDeviceAddress rtCallGetBufferDeviceAddress(void* pfn, RtDevice dev, const RtBufferDeviceAddressInfo* info) {
	return ((PFN_rtGetBufferDeviceAddress)pfn)(dev, info);
}

static int32_t rtCallCreateAccelerationStructure(void* pfn, RtDevice dev, const RtAccelerationStructureCreateInfo* info, RtAccelerationStructure* out) {
	return ((PFN_rtCreateAccelerationStructure)pfn)(dev, info, NULL, out);
}

static void rtCallDestroyAccelerationStructure(void* pfn, RtDevice dev, RtAccelerationStructure as) {
	((PFN_rtDestroyAccelerationStructure)pfn)(dev, as, NULL);
}

static RtDeviceAddress rtCallGetAccelerationStructureDeviceAddress(void* pfn, RtDevice dev, const RtAccelerationStructureDeviceAddressInfo* info) {
	return ((PFN_rtGetAccelerationStructureDeviceAddress)pfn)(dev, info);
}

static void rtCallGetBuildSizes(void* pfn, RtDevice dev, const RtAccelerationStructureBuildGeometryInfo* info, const uint32_t* counts, RtAccelerationStructureBuildSizesInfo* out) {
	// Build type 1 selects a device build.
	((PFN_rtGetAccelerationStructureBuildSizes)pfn)(dev, 1, info, counts, out);
}

static void rtCallCmdBuildAccelerationStructures(void* pfn, RtCommandBuffer cmd, const RtAccelerationStructureBuildGeometryInfo* info, const RtAccelerationStructureBuildRangeInfo* ranges) {
	const RtAccelerationStructureBuildRangeInfo* pp[1] = {ranges};
	((PFN_rtCmdBuildAccelerationStructures)pfn)(cmd, 1, info, pp);
}

static void rtCallCmdCopyAccelerationStructure(void* pfn, RtCommandBuffer cmd, const RtCopyAccelerationStructureInfo* info) {
	((PFN_rtCmdCopyAccelerationStructure)pfn)(cmd, info);
}

static void rtCallCmdWriteCompactedSize(void* pfn, RtCommandBuffer cmd, const RtAccelerationStructure* as, RtQueryPool pool, uint32_t firstQuery) {
	// Query type 1000150000 is the compacted size query.
	((PFN_rtCmdWriteAccelerationStructuresProperties)pfn)(cmd, 1, as, 1000150000, pool, firstQuery);
}

static int32_t rtCallCreateRayTracingPipelines(void* pfn, RtDevice dev, const RtRayTracingPipelineCreateInfo* info, RtPipeline* out) {
	return ((PFN_rtCreateRayTracingPipelines)pfn)(dev, 0, 0, 1, info, NULL, out);
}

static int32_t rtCallGetRayTracingShaderGroupHandles(void* pfn, RtDevice dev, RtPipeline pipeline, uint32_t groupCount, size_t dataSize, void* data) {
	return ((PFN_rtGetRayTracingShaderGroupHandles)pfn)(dev, pipeline, 0, groupCount, dataSize, data);
}

static void rtCallCmdTraceRays(void* pfn, RtCommandBuffer cmd, const RtStridedDeviceAddressRegion* rgen, const RtStridedDeviceAddressRegion* miss, const RtStridedDeviceAddressRegion* hit, const RtStridedDeviceAddressRegion* callable, uint32_t w, uint32_t h, uint32_t d) {
	((PFN_rtCmdTraceRays)pfn)(cmd, rgen, miss, hit, callable, w, h, d);
}

static RtAccelerationStructureGeometry rtMakeTrianglesGeometry(uint32_t flags, int32_t vertexFormat, RtDeviceAddress vertexAddr, RtDeviceSize vertexStride, uint32_t maxVertex, int32_t indexType, RtDeviceAddress indexAddr) {
	RtAccelerationStructureGeometry g;
	memset(&g, 0, sizeof(g));
	g.sType = 1000150006;
	g.geometryType = 0;
	g.flags = flags;
	g.geometry.triangles.sType = 1000150005;
	g.geometry.triangles.vertexFormat = vertexFormat;
	g.geometry.triangles.vertexData.deviceAddress = vertexAddr;
	g.geometry.triangles.vertexStride = vertexStride;
	g.geometry.triangles.maxVertex = maxVertex;
	g.geometry.triangles.indexType = indexType;
	g.geometry.triangles.indexData.deviceAddress = indexAddr;
	return g;
}

static RtAccelerationStructureGeometry rtMakeAabbsGeometry(uint32_t flags, RtDeviceAddress dataAddr, RtDeviceSize stride) {
	RtAccelerationStructureGeometry g;
	memset(&g, 0, sizeof(g));
	g.sType = 1000150006;
	g.geometryType = 1;
	g.flags = flags;
	g.geometry.aabbs.sType = 1000150003;
	g.geometry.aabbs.data.deviceAddress = dataAddr;
	g.geometry.aabbs.stride = stride;
	return g;
}

static RtAccelerationStructureGeometry rtMakeInstancesGeometry(uint32_t flags, RtDeviceAddress dataAddr) {
	RtAccelerationStructureGeometry g;
	memset(&g, 0, sizeof(g));
	g.sType = 1000150006;
	g.geometryType = 2;
	g.flags = flags;
	g.geometry.instances.sType = 1000150004;
	g.geometry.instances.arrayOfPointers = 0;
	g.geometry.instances.data.deviceAddress = dataAddr;
	return g;
}

static RtAccelerationStructureBuildGeometryInfo rtMakeBuildInfo(int32_t type, uint32_t flags, RtAccelerationStructure dst, uint32_t geometryCount, const RtAccelerationStructureGeometry* pGeometries, RtDeviceAddress scratch) {
	RtAccelerationStructureBuildGeometryInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = 1000150000;
	info.type = type;
	info.flags = flags;
	info.mode = 0;
	info.dstAccelerationStructure = dst;
	info.geometryCount = geometryCount;
	info.pGeometries = pGeometries;
	info.scratchData.deviceAddress = scratch;
	return info;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

type procTable struct {
	getBufferDeviceAddress       unsafe.Pointer
	createAccelerationStructure  unsafe.Pointer
	destroyAccelerationStructure unsafe.Pointer
	accelerationStructureAddress unsafe.Pointer
	getBuildSizes                unsafe.Pointer
	cmdBuildAS                   unsafe.Pointer
	cmdCopyAS                    unsafe.Pointer
	cmdWriteCompactedSize        unsafe.Pointer
	createRayTracingPipelines    unsafe.Pointer
	getShaderGroupHandles        unsafe.Pointer
	cmdTraceRays                 unsafe.Pointer
}

var (
	loadMu            sync.Mutex
	loaderLib         unsafe.Pointer
	getDeviceProcAddr unsafe.Pointer
	getPhysDevProps2  unsafe.Pointer
	loadedDevice      unsafe.Pointer
	procs             procTable
)

// raw64 reinterprets an 8 byte handle as its raw numeric value, independent
// of whether the binding represents it as a pointer or an integer.
func raw64[T any](h T) C.uint64_t {
	return *(*C.uint64_t)(unsafe.Pointer(&h))
}

// handleFrom64 is the inverse of raw64.
func handleFrom64[T any](v C.uint64_t) T {
	var h T
	*(*C.uint64_t)(unsafe.Pointer(&h)) = v
	return h
}

// dispatch extracts the loader pointer behind a dispatchable handle.
func dispatch[T any](h T) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&h))
}

func loaderSym(lib unsafe.Pointer, name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.rtSym(lib, cname)
}

func ensureLoaderLocked() error {
	if loaderLib != nil {
		return nil
	}
	lib := C.rtOpenLoader()
	if lib == nil {
		return errors.New("rtvk: vulkan loader library not found")
	}
	gdpa := loaderSym(lib, "vkGetDeviceProcAddr")
	if gdpa == nil {
		return errors.New("rtvk: loader does not export vkGetDeviceProcAddr")
	}
	props2 := loaderSym(lib, "vkGetPhysicalDeviceProperties2")
	if props2 == nil {
		props2 = loaderSym(lib, "vkGetPhysicalDeviceProperties2KHR")
	}
	if props2 == nil {
		return errors.New("rtvk: loader does not export vkGetPhysicalDeviceProperties2")
	}
	loaderLib = lib
	getDeviceProcAddr = gdpa
	getPhysDevProps2 = props2
	return nil
}

// Load resolves the acceleration structure and ray tracing pipeline entry
// points against device. It is idempotent for a given device and safe to call
// from any package that needs the bindings; the first caller pays the
// resolution cost.
func Load(device vk.Device) error {
	dev := dispatch(device)
	if dev == nil {
		return errors.New("rtvk: nil device")
	}

	loadMu.Lock()
	defer loadMu.Unlock()
	if err := ensureLoaderLocked(); err != nil {
		return err
	}
	if loadedDevice == dev {
		return nil
	}

	resolve := func(names ...string) unsafe.Pointer {
		for _, name := range names {
			cname := C.CString(name)
			pfn := C.rtCallGetDeviceProcAddr(getDeviceProcAddr, C.RtDevice(dev), cname)
			C.free(unsafe.Pointer(cname))
			if pfn != nil {
				return pfn
			}
		}
		return nil
	}

	var t procTable
	for _, e := range []struct {
		dst   *unsafe.Pointer
		names []string
	}{
		{&t.getBufferDeviceAddress, []string{"vkGetBufferDeviceAddress", "vkGetBufferDeviceAddressKHR", "vkGetBufferDeviceAddressEXT"}},
		{&t.createAccelerationStructure, []string{"vkCreateAccelerationStructureKHR"}},
		{&t.destroyAccelerationStructure, []string{"vkDestroyAccelerationStructureKHR"}},
		{&t.accelerationStructureAddress, []string{"vkGetAccelerationStructureDeviceAddressKHR"}},
		{&t.getBuildSizes, []string{"vkGetAccelerationStructureBuildSizesKHR"}},
		{&t.cmdBuildAS, []string{"vkCmdBuildAccelerationStructuresKHR"}},
		{&t.cmdCopyAS, []string{"vkCmdCopyAccelerationStructureKHR"}},
		{&t.cmdWriteCompactedSize, []string{"vkCmdWriteAccelerationStructuresPropertiesKHR"}},
		{&t.createRayTracingPipelines, []string{"vkCreateRayTracingPipelinesKHR"}},
		{&t.getShaderGroupHandles, []string{"vkGetRayTracingShaderGroupHandlesKHR"}},
		{&t.cmdTraceRays, []string{"vkCmdTraceRaysKHR"}},
	} {
		pfn := resolve(e.names...)
		if pfn == nil {
			return fmt.Errorf("rtvk: device does not expose %s, enable VK_KHR_acceleration_structure and VK_KHR_ray_tracing_pipeline", e.names[0])
		}
		*e.dst = pfn
	}

	procs = t
	loadedDevice = dev
	return nil
}

// RayTracingProperties queries the device's ray tracing pipeline limits. Only
// the Vulkan loader has to be reachable; Load does not have to have run yet.
func RayTracingProperties(physicalDevice vk.PhysicalDevice) (RayTracingPipelineProperties, error) {
	pd := dispatch(physicalDevice)
	if pd == nil {
		return RayTracingPipelineProperties{}, errors.New("rtvk: nil physical device")
	}
	loadMu.Lock()
	err := ensureLoaderLocked()
	pfn := getPhysDevProps2
	loadMu.Unlock()
	if err != nil {
		return RayTracingPipelineProperties{}, err
	}

	var out C.RtPhysicalDeviceRayTracingPipelineProperties
	C.rtQueryRayTracingProperties(pfn, C.RtPhysicalDevice(pd), &out)
	props := RayTracingPipelineProperties{
		ShaderGroupHandleSize:      uint32(out.shaderGroupHandleSize),
		MaxRayRecursionDepth:       uint32(out.maxRayRecursionDepth),
		ShaderGroupBaseAlignment:   uint32(out.shaderGroupBaseAlignment),
		ShaderGroupHandleAlignment: uint32(out.shaderGroupHandleAlignment),
	}
	if props.ShaderGroupHandleSize == 0 {
		return props, errors.New("rtvk: device reports no ray tracing pipeline properties")
	}
	return props, nil
}

// GetBufferDeviceAddress returns the device address of buffer. The buffer
// must have been created with the shader device address usage bit.
func GetBufferDeviceAddress(device vk.Device, buffer vk.Buffer) vk.DeviceAddress {
	info := C.RtBufferDeviceAddressInfo{
		sType:  1000244001,
		buffer: C.RtBuffer(raw64(buffer)),
	}
	addr := C.rtCallGetBufferDeviceAddress(procs.getBufferDeviceAddress, C.RtDevice(dispatch(device)), &info)
	return vk.DeviceAddress(addr)
}

// CreateAccelerationStructure creates a structure of the given type backed by
// the first size bytes of buffer.
func CreateAccelerationStructure(device vk.Device, buffer vk.Buffer, size vk.DeviceSize, asType AccelerationStructureType) (vk.AccelerationStructure, error) {
	info := C.RtAccelerationStructureCreateInfo{
		sType:  1000150017,
		buffer: C.RtBuffer(raw64(buffer)),
		size:   C.RtDeviceSize(size),
		_type:  C.int32_t(asType),
	}
	var out C.RtAccelerationStructure
	res := C.rtCallCreateAccelerationStructure(procs.createAccelerationStructure, C.RtDevice(dispatch(device)), &info, &out)
	if vk.Result(res) != vk.Success {
		return handleFrom64[vk.AccelerationStructure](0), fmt.Errorf("rtvk: vkCreateAccelerationStructureKHR failed with %d", int32(res))
	}
	return handleFrom64[vk.AccelerationStructure](C.uint64_t(out)), nil
}

// DestroyAccelerationStructure releases as. A null handle is a no-op.
func DestroyAccelerationStructure(device vk.Device, as vk.AccelerationStructure) {
	if raw64(as) == 0 {
		return
	}
	C.rtCallDestroyAccelerationStructure(procs.destroyAccelerationStructure, C.RtDevice(dispatch(device)), C.RtAccelerationStructure(raw64(as)))
}

// AccelerationStructureDeviceAddress returns the address instances and
// descriptors reference as by.
func AccelerationStructureDeviceAddress(device vk.Device, as vk.AccelerationStructure) vk.DeviceAddress {
	info := C.RtAccelerationStructureDeviceAddressInfo{
		sType:                 1000150002,
		accelerationStructure: C.RtAccelerationStructure(raw64(as)),
	}
	addr := C.rtCallGetAccelerationStructureDeviceAddress(procs.accelerationStructureAddress, C.RtDevice(dispatch(device)), &info)
	return vk.DeviceAddress(addr)
}

func marshalGeometries(geoms []Geometry) *C.RtAccelerationStructureGeometry {
	if len(geoms) == 0 {
		return nil
	}
	arr := (*C.RtAccelerationStructureGeometry)(C.malloc(C.size_t(len(geoms)) * C.sizeof_RtAccelerationStructureGeometry))
	out := unsafe.Slice(arr, len(geoms))
	for i, g := range geoms {
		switch {
		case g.Triangles != nil:
			t := g.Triangles
			out[i] = C.rtMakeTrianglesGeometry(
				C.uint32_t(g.Flags),
				C.int32_t(t.VertexFormat),
				C.RtDeviceAddress(t.VertexAddress),
				C.RtDeviceSize(t.VertexStride),
				C.uint32_t(t.MaxVertex),
				C.int32_t(t.IndexType),
				C.RtDeviceAddress(t.IndexAddress),
			)
		case g.Aabbs != nil:
			out[i] = C.rtMakeAabbsGeometry(C.uint32_t(g.Flags), C.RtDeviceAddress(g.Aabbs.DataAddress), C.RtDeviceSize(g.Aabbs.Stride))
		case g.Instances != nil:
			out[i] = C.rtMakeInstancesGeometry(C.uint32_t(g.Flags), C.RtDeviceAddress(g.Instances.DataAddress))
		}
	}
	return arr
}

func marshalBuildInfo(info *BuildInfo, geoms *C.RtAccelerationStructureGeometry) C.RtAccelerationStructureBuildGeometryInfo {
	return C.rtMakeBuildInfo(
		C.int32_t(info.Type),
		C.uint32_t(info.Flags),
		C.RtAccelerationStructure(raw64(info.Dst)),
		C.uint32_t(len(info.Geometries)),
		geoms,
		C.RtDeviceAddress(info.ScratchAddress),
	)
}

// GetBuildSizes asks the device how much structure and scratch memory a build
// described by info needs, given the per-geometry primitive counts.
func GetBuildSizes(device vk.Device, info *BuildInfo, primitiveCounts []uint32) BuildSizes {
	geoms := marshalGeometries(info.Geometries)
	defer C.free(unsafe.Pointer(geoms))
	cinfo := marshalBuildInfo(info, geoms)

	var counts *C.uint32_t
	if len(primitiveCounts) > 0 {
		counts = (*C.uint32_t)(unsafe.Pointer(&primitiveCounts[0]))
	}
	var sizes C.RtAccelerationStructureBuildSizesInfo
	sizes.sType = 1000150020
	C.rtCallGetBuildSizes(procs.getBuildSizes, C.RtDevice(dispatch(device)), &cinfo, counts, &sizes)
	return BuildSizes{
		AccelerationStructureSize: vk.DeviceSize(sizes.accelerationStructureSize),
		UpdateScratchSize:         vk.DeviceSize(sizes.updateScratchSize),
		BuildScratchSize:          vk.DeviceSize(sizes.buildScratchSize),
	}
}

// CmdBuildAccelerationStructure records one structure build. ranges must
// carry one entry per geometry in info.
func CmdBuildAccelerationStructure(cmd vk.CommandBuffer, info *BuildInfo, ranges []BuildRange) {
	geoms := marshalGeometries(info.Geometries)
	defer C.free(unsafe.Pointer(geoms))
	cinfo := marshalBuildInfo(info, geoms)

	var cranges *C.RtAccelerationStructureBuildRangeInfo
	if len(ranges) > 0 {
		cranges = (*C.RtAccelerationStructureBuildRangeInfo)(C.malloc(C.size_t(len(ranges)) * C.sizeof_RtAccelerationStructureBuildRangeInfo))
		defer C.free(unsafe.Pointer(cranges))
		out := unsafe.Slice(cranges, len(ranges))
		for i, r := range ranges {
			out[i] = C.RtAccelerationStructureBuildRangeInfo{
				primitiveCount:  C.uint32_t(r.PrimitiveCount),
				primitiveOffset: C.uint32_t(r.PrimitiveOffset),
				firstVertex:     C.uint32_t(r.FirstVertex),
				transformOffset: C.uint32_t(r.TransformOffset),
			}
		}
	}
	C.rtCallCmdBuildAccelerationStructures(procs.cmdBuildAS, C.RtCommandBuffer(dispatch(cmd)), &cinfo, cranges)
}

// CmdCopyAccelerationStructureCompact records a compacting copy of src into
// dst. dst must have been created with the compacted size.
func CmdCopyAccelerationStructureCompact(cmd vk.CommandBuffer, src, dst vk.AccelerationStructure) {
	info := C.RtCopyAccelerationStructureInfo{
		sType: 1000150010,
		src:   C.RtAccelerationStructure(raw64(src)),
		dst:   C.RtAccelerationStructure(raw64(dst)),
		mode:  1,
	}
	C.rtCallCmdCopyAccelerationStructure(procs.cmdCopyAS, C.RtCommandBuffer(dispatch(cmd)), &info)
}

// CmdWriteCompactedSizeQuery records a compacted-size query of as into pool
// at firstQuery.
func CmdWriteCompactedSizeQuery(cmd vk.CommandBuffer, as vk.AccelerationStructure, pool vk.QueryPool, firstQuery uint32) {
	h := C.RtAccelerationStructure(raw64(as))
	C.rtCallCmdWriteCompactedSize(procs.cmdWriteCompactedSize, C.RtCommandBuffer(dispatch(cmd)), &h, C.RtQueryPool(raw64(pool)), C.uint32_t(firstQuery))
}

// CreateRayTracingPipeline creates a ray tracing pipeline from the given
// stages and groups. Group shader fields index into stages.
func CreateRayTracingPipeline(device vk.Device, stages []ShaderStage, groups []RayTracingShaderGroupCreateInfo, layout vk.PipelineLayout, maxRecursionDepth uint32) (vk.Pipeline, error) {
	if len(stages) == 0 || len(groups) == 0 {
		return vk.NullPipeline, errors.New("rtvk: pipeline needs at least one stage and one group")
	}

	cstages := (*C.RtPipelineShaderStageCreateInfo)(C.malloc(C.size_t(len(stages)) * C.sizeof_RtPipelineShaderStageCreateInfo))
	defer C.free(unsafe.Pointer(cstages))
	names := make([]*C.char, 0, len(stages))
	defer func() {
		for _, n := range names {
			C.free(unsafe.Pointer(n))
		}
	}()
	ss := unsafe.Slice(cstages, len(stages))
	for i, s := range stages {
		name := C.CString(s.EntryPoint)
		names = append(names, name)
		ss[i] = C.RtPipelineShaderStageCreateInfo{
			sType:  18, // PIPELINE_SHADER_STAGE_CREATE_INFO
			stage:  C.int32_t(s.Stage),
			module: C.RtShaderModule(raw64(s.Module)),
			pName:  name,
		}
	}

	cgroups := (*C.RtRayTracingShaderGroupCreateInfo)(C.malloc(C.size_t(len(groups)) * C.sizeof_RtRayTracingShaderGroupCreateInfo))
	defer C.free(unsafe.Pointer(cgroups))
	gs := unsafe.Slice(cgroups, len(groups))
	for i, g := range groups {
		gs[i] = C.RtRayTracingShaderGroupCreateInfo{
			sType:              1000150016,
			_type:              C.int32_t(g.Type),
			generalShader:      C.uint32_t(g.GeneralShader),
			closestHitShader:   C.uint32_t(g.ClosestHitShader),
			anyHitShader:       C.uint32_t(g.AnyHitShader),
			intersectionShader: C.uint32_t(g.IntersectionShader),
		}
	}

	info := C.RtRayTracingPipelineCreateInfo{
		sType:                        1000150015,
		stageCount:                   C.uint32_t(len(stages)),
		pStages:                      cstages,
		groupCount:                   C.uint32_t(len(groups)),
		pGroups:                      cgroups,
		maxPipelineRayRecursionDepth: C.uint32_t(maxRecursionDepth),
		layout:                       C.RtPipelineLayout(raw64(layout)),
	}
	var out C.RtPipeline
	res := C.rtCallCreateRayTracingPipelines(procs.createRayTracingPipelines, C.RtDevice(dispatch(device)), &info, &out)
	if vk.Result(res) != vk.Success {
		return vk.NullPipeline, fmt.Errorf("rtvk: vkCreateRayTracingPipelinesKHR failed with %d", int32(res))
	}
	return handleFrom64[vk.Pipeline](C.uint64_t(out)), nil
}

// GetRayTracingShaderGroupHandles reads the opaque group handles of pipeline,
// groupCount handles of handleSize bytes each, tightly packed.
func GetRayTracingShaderGroupHandles(device vk.Device, pipeline vk.Pipeline, groupCount, handleSize uint32) ([]byte, error) {
	size := int(groupCount) * int(handleSize)
	if size == 0 {
		return nil, errors.New("rtvk: zero sized group handle request")
	}
	out := make([]byte, size)
	res := C.rtCallGetRayTracingShaderGroupHandles(procs.getShaderGroupHandles, C.RtDevice(dispatch(device)), C.RtPipeline(raw64(pipeline)), C.uint32_t(groupCount), C.size_t(size), unsafe.Pointer(&out[0]))
	if vk.Result(res) != vk.Success {
		return nil, fmt.Errorf("rtvk: vkGetRayTracingShaderGroupHandlesKHR failed with %d", int32(res))
	}
	return out, nil
}

func cRegion(r StridedDeviceAddressRegion) C.RtStridedDeviceAddressRegion {
	return C.RtStridedDeviceAddressRegion{
		deviceAddress: C.RtDeviceAddress(r.DeviceAddress),
		stride:        C.RtDeviceSize(r.Stride),
		size:          C.RtDeviceSize(r.Size),
	}
}

// CmdTraceRays records a trace dispatch over a width by height by depth grid
// using the four shader binding table regions.
func CmdTraceRays(cmd vk.CommandBuffer, rayGen, miss, hit, callable StridedDeviceAddressRegion, width, height, depth uint32) {
	rg := cRegion(rayGen)
	ms := cRegion(miss)
	ht := cRegion(hit)
	cb := cRegion(callable)
	C.rtCallCmdTraceRays(procs.cmdTraceRays, C.RtCommandBuffer(dispatch(cmd)), &rg, &ms, &ht, &cb, C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
}
