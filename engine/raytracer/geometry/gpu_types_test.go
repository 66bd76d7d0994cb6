package geometry

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUInstanceMarshalFieldPacking(t *testing.T) {
	g := GPUInstance{
		CustomIndex: 0x00ABCDEF,
		Mask:        0xF0,
		SBTOffset:   1,
		Flags:       uint8(InstanceTriangleFacingCullDisable),
		BlasAddress: 0x1122334455667788,
	}
	buf := g.Marshal()
	require.Len(t, buf, GPUInstanceSize)

	word12 := binary.LittleEndian.Uint32(buf[48:52])
	assert.Equal(t, uint32(0x00ABCDEF), word12&0x00FFFFFF, "custom index occupies the low 24 bits")
	assert.Equal(t, uint32(0xF0), word12>>24, "mask occupies the high 8 bits")

	word13 := binary.LittleEndian.Uint32(buf[52:56])
	assert.Equal(t, uint32(1), word13&0x00FFFFFF, "sbt offset occupies the low 24 bits")
	assert.Equal(t, uint32(0x01), word13>>24, "flags occupy the high 8 bits")

	assert.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(buf[56:64]))
}

func TestGPUInstanceMarshalTruncatesTo24Bits(t *testing.T) {
	g := GPUInstance{CustomIndex: 0xFFFFFFFF, Mask: 0xFF, SBTOffset: 0xFFFFFFFF, Flags: 0xFF}
	buf := g.Marshal()

	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(buf[48:52]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(buf[52:56]))
}

func TestToGPUInstanceTransformIsRowMajor3x4(t *testing.T) {
	// Translation by (7, 8, 9): in column-major mgl32 the translation lives in
	// column 3; in the packed record each row's fourth element carries it.
	inst := Instance{
		Transform:  mgl32.Translate3D(7, 8, 9),
		InstanceID: 3,
		HitGroup:   0,
	}
	g := ToGPUInstance(inst, 0xDEAD)

	assert.Equal(t, float32(1), g.Transform[0])
	assert.Equal(t, float32(7), g.Transform[3], "row 0 translation")
	assert.Equal(t, float32(1), g.Transform[5])
	assert.Equal(t, float32(8), g.Transform[7], "row 1 translation")
	assert.Equal(t, float32(1), g.Transform[10])
	assert.Equal(t, float32(9), g.Transform[11], "row 2 translation")
	assert.Equal(t, uint64(0xDEAD), g.BlasAddress)
}

func TestToGPUInstanceDefaultMask(t *testing.T) {
	g := ToGPUInstance(Instance{Transform: mgl32.Ident4()}, 1)
	assert.Equal(t, DefaultInstanceMask, g.Mask)

	g = ToGPUInstance(Instance{Transform: mgl32.Ident4(), Mask: 0x0F}, 1)
	assert.Equal(t, uint8(0x0F), g.Mask)
}

func TestToGPUInstanceDefaultFlags(t *testing.T) {
	g := ToGPUInstance(Instance{Transform: mgl32.Ident4()}, 1)
	assert.Equal(t, uint8(InstanceTriangleFacingCullDisable), g.Flags,
		"zero flags default to facing-cull disable")

	g = ToGPUInstance(Instance{Transform: mgl32.Ident4(), Flags: InstanceForceOpaque}, 1)
	assert.Equal(t, uint8(InstanceForceOpaque), g.Flags, "explicit flags pass through unchanged")
}

func TestMarshalInstanceBufferOrderAndLength(t *testing.T) {
	a := ToGPUInstance(Instance{Transform: mgl32.Ident4(), InstanceID: 0}, 0x10)
	b := ToGPUInstance(Instance{Transform: mgl32.Ident4(), InstanceID: 1}, 0x20)

	buf := MarshalInstanceBuffer([]GPUInstance{a, b})
	require.Len(t, buf, 2*GPUInstanceSize)
	assert.Equal(t, a.Marshal(), buf[:GPUInstanceSize])
	assert.Equal(t, b.Marshal(), buf[GPUInstanceSize:])
}

func TestGPUAabbMarshal(t *testing.T) {
	aabb := GPUAabb{Min: [3]float32{-1, -2, -3}, Max: [3]float32{1, 2, 3}}
	buf := aabb.Marshal()
	require.Len(t, buf, GPUAabbSize)
	assert.Equal(t, GPUAabbSize, aabb.Size())

	assert.Equal(t, float32(-1), math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])))
	assert.Equal(t, float32(3), math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24])))
}

func TestMarshalAabbBuffer(t *testing.T) {
	prims := []ProceduralPrimitive{
		{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{1, 1, 1}},
		{Min: mgl32.Vec3{2, 2, 2}, Max: mgl32.Vec3{3, 3, 3}},
	}
	buf := MarshalAabbBuffer(prims)
	require.Len(t, buf, 2*GPUAabbSize)
	assert.Equal(t, float32(2), math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28])))
}
