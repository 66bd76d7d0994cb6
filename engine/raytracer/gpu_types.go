package raytracer

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/caldera-engine/caldera/engine/light"
)

// GPUPushConstantsSize is the byte size of the push constant block shared by
// every ray tracing stage.
const GPUPushConstantsSize = 60

// GPUPushConstants is the per-dispatch parameter block pushed to the pipeline.
// Field order matches the shader-side declaration exactly.
//
// GPU memory layout (60 bytes):
//
//	offset 0:  clearColor (vec4, 16 bytes)
//	offset 16: lightPosition (vec3, 12 bytes)
//	offset 28: lightIntensity (f32, 4 bytes)
//	offset 32: lightDirection (vec3, 12 bytes)
//	offset 44: lightSpotCutoff (f32, 4 bytes)
//	offset 48: lightSpotOuterCutoff (f32, 4 bytes)
//	offset 52: lightType (i32, 4 bytes)
//	offset 56: frame (i32, 4 bytes)
type GPUPushConstants struct {
	ClearColor           [4]float32
	LightPosition        [3]float32
	LightIntensity       float32
	LightDirection       [3]float32
	LightSpotCutoff      float32
	LightSpotOuterCutoff float32
	LightType            int32
	Frame                int32
}

// Size returns the marshaled byte size of the push constant block.
//
// Returns:
//   - int: the size in bytes
func (p *GPUPushConstants) Size() int {
	return GPUPushConstantsSize
}

// Marshal converts the push constants to their little-endian GPU layout.
//
// Returns:
//   - []byte: the marshaled block, GPUPushConstantsSize bytes
func (p *GPUPushConstants) Marshal() []byte {
	buf := make([]byte, GPUPushConstantsSize)
	offset := 0
	putF32 := func(v float32) {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(v))
		offset += 4
	}
	for _, v := range p.ClearColor {
		putF32(v)
	}
	for _, v := range p.LightPosition {
		putF32(v)
	}
	putF32(p.LightIntensity)
	for _, v := range p.LightDirection {
		putF32(v)
	}
	putF32(p.LightSpotCutoff)
	putF32(p.LightSpotOuterCutoff)
	binary.LittleEndian.PutUint32(buf[offset:], uint32(p.LightType))
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], uint32(p.Frame))
	return buf
}

// FrameParams carries the per-frame trace parameters a caller hands to
// Dispatch. The light's state is snapshotted into the push constants at
// dispatch time.
type FrameParams struct {
	// Light is the scene light sampled by the hit and callable shaders.
	Light light.Light
	// Frame is the accumulation frame index, reset by the caller on camera moves.
	Frame int32
}

// pushConstants flattens the clear color and frame parameters into the GPU
// block.
func pushConstants(clearColor mgl32.Vec4, params FrameParams) GPUPushConstants {
	pc := GPUPushConstants{
		ClearColor: clearColor,
		Frame:      params.Frame,
	}
	if params.Light != nil {
		pc.LightPosition = params.Light.Position()
		pc.LightIntensity = params.Light.Intensity()
		pc.LightDirection = params.Light.Direction()
		pc.LightSpotCutoff = params.Light.SpotCutoff()
		pc.LightSpotOuterCutoff = params.Light.SpotOuterCutoff()
		pc.LightType = int32(params.Light.Type())
	}
	return pc
}
