package light

import "math"

// LightType identifies the kind of light source.
//
// The numeric order of these constants is load-bearing: it is both the value
// written into the ray-tracing push constants (read by the raygen shader to
// select a callable) and the order in which the per-type callable shader
// groups are appended to the ray-tracing pipeline. Reordering them changes
// the shader binding table layout.
type LightType int

const (
	// LightTypePoint represents a light that emits in all directions from a position.
	// Used for bare bulbs, lanterns, and candle flames.
	LightTypePoint LightType = iota

	// LightTypeSpot represents a light that emits in a cone from a position along a
	// direction, with inner and outer cone angles controlling the falloff.
	LightTypeSpot

	// LightTypeDirectional represents a light with no position, only direction.
	// Used for large distant sources like the sun or moon.
	LightTypeDirectional
)

// Types returns all supported light types in their fixed enumeration order.
// The ray-tracing pipeline creates one callable shader group per entry, in
// this exact order.
//
// Returns:
//   - []LightType: point, spot, directional
func Types() []LightType {
	return []LightType{LightTypePoint, LightTypeSpot, LightTypeDirectional}
}

// CallableShaderKey returns the logical shader name of the callable shader
// that evaluates this light type. The name is resolved to a precompiled
// SPIR-V binary (<key>.spv) by the shader search paths.
//
// Returns:
//   - string: the logical shader key for this light type
func (t LightType) CallableShaderKey() string {
	switch t {
	case LightTypePoint:
		return "light_point"
	case LightTypeSpot:
		return "light_spot"
	case LightTypeDirectional:
		return "light_inf"
	default:
		return ""
	}
}

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	lightType LightType
	position  [3]float32
	direction [3]float32
	intensity float32
	innerCone float32 // stored as cos(angle in radians)
	outerCone float32 // stored as cos(angle in radians)
}

// Light defines the interface for a light source feeding the ray tracer's
// per-frame parameters.
//
// A single light drives one trace dispatch: its type selects the callable
// shader invoked by the raygen stage, and its parameters are copied into the
// push constants each frame. Cone properties return their defaults when not
// applicable to the light type.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: point, spot, or directional
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - [3]float32: position as (x, y, z)
	Position() [3]float32

	// Direction returns the normalized direction of the light.
	// For directional lights this is the light direction. For spot lights this
	// is the cone axis. Meaningless for point lights.
	//
	// Returns:
	//   - [3]float32: normalized direction as (x, y, z)
	Direction() [3]float32

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// SpotCutoff returns the cosine of the inner cone half-angle for spot
	// lights. Fragments within this angle receive full intensity.
	//
	// Returns:
	//   - float32: cos(inner half-angle)
	SpotCutoff() float32

	// SpotOuterCutoff returns the cosine of the outer cone half-angle for spot
	// lights. Rays outside this angle receive no spot contribution.
	//
	// Returns:
	//   - float32: cos(outer half-angle)
	SpotOuterCutoff() float32

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - x, y, z: position components
	SetPosition(x, y, z float32)

	// SetDirection sets the direction of the light and normalizes it.
	//
	// Parameters:
	//   - x, y, z: direction components (will be normalized)
	SetDirection(x, y, z float32)

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetSpotCone sets the inner and outer cone half-angles for spot lights.
	// Angles are specified in degrees and stored internally as cosines.
	//
	// Parameters:
	//   - innerDeg: inner cone half-angle in degrees
	//   - outerDeg: outer cone half-angle in degrees
	SetSpotCone(innerDeg, outerDeg float32)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the specified type with sensible defaults and
// any provided options applied.
//
// Parameters:
//   - lightType: the kind of light to create (point, spot, or directional)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType: lightType,
		position:  [3]float32{10, 15, 8},
		direction: [3]float32{0, -1, 0},
		intensity: 100.0,
		innerCone: 0.9063, // cos(25°)
		outerCone: 0.8192, // cos(35°)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() [3]float32 {
	return l.position
}

func (l *lightImpl) Direction() [3]float32 {
	return l.direction
}

func (l *lightImpl) Intensity() float32 {
	return l.intensity
}

func (l *lightImpl) SpotCutoff() float32 {
	return l.innerCone
}

func (l *lightImpl) SpotOuterCutoff() float32 {
	return l.outerCone
}

func (l *lightImpl) SetPosition(x, y, z float32) {
	l.position = [3]float32{x, y, z}
}

func (l *lightImpl) SetDirection(x, y, z float32) {
	l.direction = normalize3(x, y, z)
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.intensity = intensity
}

func (l *lightImpl) SetSpotCone(innerDeg, outerDeg float32) {
	l.innerCone = cosDeg(innerDeg)
	l.outerCone = cosDeg(outerDeg)
}

// normalize3 normalizes a 3-component vector. Zero vectors are returned unchanged.
func normalize3(x, y, z float32) [3]float32 {
	len2 := x*x + y*y + z*z
	if len2 == 0 {
		return [3]float32{x, y, z}
	}
	inv := 1.0 / float32(math.Sqrt(float64(len2)))
	return [3]float32{x * inv, y * inv, z * inv}
}

// cosDeg returns the cosine of an angle given in degrees.
func cosDeg(deg float32) float32 {
	return float32(math.Cos(float64(deg) * math.Pi / 180.0))
}
