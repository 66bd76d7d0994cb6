package geometry

import (
	"encoding/binary"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// GPUInstanceSize is the size in bytes of one packed instance record.
const GPUInstanceSize = 64

// GPUAabbSize is the size in bytes of one packed AABB record.
const GPUAabbSize = 24

// GPUInstance is the GPU-aligned representation of one top-level instance
// record. Matches the device's 64-byte instance layout exactly; this is the
// bit-exact contract the top-level acceleration structure build consumes.
//
// Layout:
//
//	float[3][4] transform      (48 bytes, offset  0) row-major 3×4 affine matrix
//	u32         customIndex:24 ( 4 bytes, offset 48) low 24 bits; mask in high 8
//	u32         sbtOffset:24   ( 4 bytes, offset 52) low 24 bits; flags in high 8
//	u64         blasAddress    ( 8 bytes, offset 56) device address of the BLAS
type GPUInstance struct {
	Transform   [12]float32 // row-major 3×4: rows of the affine transform
	CustomIndex uint32      // 24-bit instance identifier read by shaders
	Mask        uint8       // 8-bit visibility mask
	SBTOffset   uint32      // 24-bit hit-group index (SBT record offset)
	Flags       uint8       // geometry-instance flag bits
	BlasAddress uint64      // device address of the referenced BLAS
}

// Size returns the size of the packed GPUInstance record in bytes.
//
// Returns:
//   - int: the record size in bytes (64)
func (g *GPUInstance) Size() int {
	return GPUInstanceSize
}

// Marshal serializes the GPUInstance into a byte buffer suitable for upload
// as top-level build input. CustomIndex and SBTOffset are truncated to their
// 24-bit fields.
//
// Returns:
//   - []byte: 64-byte record ready for GPU upload
func (g *GPUInstance) Marshal() []byte {
	buf := make([]byte, GPUInstanceSize)
	for i := range 12 {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(g.Transform[i]))
	}
	binary.LittleEndian.PutUint32(buf[48:52], g.CustomIndex&0x00FFFFFF|uint32(g.Mask)<<24)
	binary.LittleEndian.PutUint32(buf[52:56], g.SBTOffset&0x00FFFFFF|uint32(g.Flags)<<24)
	binary.LittleEndian.PutUint64(buf[56:64], g.BlasAddress)
	return buf
}

// ToGPUInstance converts an Instance and the device address of its resolved
// BLAS into the packed GPU record. The column-major 4×4 transform is
// transposed into the record's row-major 3×4 form (the fourth row of an
// affine matrix is implicit). A zero mask defaults to DefaultInstanceMask and
// zero flags default to InstanceTriangleFacingCullDisable, so hits register
// from both sides of a triangle unless the instance opts into culling.
//
// Parameters:
//   - inst: the instance to convert
//   - blasAddress: device address of the instance's bottom-level structure
//
// Returns:
//   - GPUInstance: the packed GPU representation
func ToGPUInstance(inst Instance, blasAddress vk.DeviceAddress) GPUInstance {
	mask := inst.Mask
	if mask == 0 {
		mask = DefaultInstanceMask
	}
	flags := inst.Flags
	if flags == 0 {
		flags = InstanceTriangleFacingCullDisable
	}
	g := GPUInstance{
		CustomIndex: inst.InstanceID,
		Mask:        mask,
		SBTOffset:   inst.HitGroup,
		Flags:       uint8(flags),
		BlasAddress: uint64(blasAddress),
	}
	// mgl32 matrices are column-major; element (row, col) lives at col*4+row.
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			g.Transform[row*4+col] = inst.Transform[col*4+row]
		}
	}
	return g
}

// MarshalInstanceBuffer concatenates packed instance records into one byte
// buffer suitable for upload as the top-level build input.
//
// Parameters:
//   - instances: packed instance records, in top-level order
//
// Returns:
//   - []byte: instances×64 bytes ready for GPU upload
func MarshalInstanceBuffer(instances []GPUInstance) []byte {
	buf := make([]byte, 0, len(instances)*GPUInstanceSize)
	for i := range instances {
		buf = append(buf, instances[i].Marshal()...)
	}
	return buf
}

// GPUAabb is the GPU-aligned representation of one procedural primitive's
// bounding box. Matches the device's AABB position layout exactly.
// Size: 24 bytes (six 32-bit floats: min xyz, max xyz).
type GPUAabb struct {
	Min [3]float32
	Max [3]float32
}

// Size returns the size of the packed GPUAabb record in bytes.
//
// Returns:
//   - int: the record size in bytes (24)
func (a *GPUAabb) Size() int {
	return int(unsafe.Sizeof(*a))
}

// Marshal serializes the GPUAabb into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 24-byte record ready for GPU upload
func (a *GPUAabb) Marshal() []byte {
	buf := make([]byte, GPUAabbSize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(a.Min[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(a.Min[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(a.Min[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(a.Max[0]))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(a.Max[1]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(a.Max[2]))
	return buf
}

// MarshalAabbBuffer marshals a procedural primitive collection into the AABB
// buffer layout consumed by the aggregated procedural BLAS build.
//
// Parameters:
//   - primitives: the procedural primitives to marshal
//
// Returns:
//   - []byte: primitives×24 bytes ready for GPU upload
func MarshalAabbBuffer(primitives []ProceduralPrimitive) []byte {
	buf := make([]byte, 0, len(primitives)*GPUAabbSize)
	for _, p := range primitives {
		aabb := GPUAabb{
			Min: [3]float32{p.Min.X(), p.Min.Y(), p.Min.Z()},
			Max: [3]float32{p.Max.X(), p.Max.Y(), p.Max.Z()},
		}
		buf = append(buf, aabb.Marshal()...)
	}
	return buf
}
