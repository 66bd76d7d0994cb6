package light

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesOrder(t *testing.T) {
	// The callable shader groups are appended in this exact order; the SBT
	// offsets depend on it.
	types := Types()
	require.Len(t, types, 3)
	assert.Equal(t, LightTypePoint, types[0])
	assert.Equal(t, LightTypeSpot, types[1])
	assert.Equal(t, LightTypeDirectional, types[2])

	// The enum values double as the push-constant lightType encoding.
	assert.Equal(t, 0, int(LightTypePoint))
	assert.Equal(t, 1, int(LightTypeSpot))
	assert.Equal(t, 2, int(LightTypeDirectional))
}

func TestCallableShaderKeys(t *testing.T) {
	assert.Equal(t, "light_point", LightTypePoint.CallableShaderKey())
	assert.Equal(t, "light_spot", LightTypeSpot.CallableShaderKey())
	assert.Equal(t, "light_inf", LightTypeDirectional.CallableShaderKey())
	assert.Equal(t, "", LightType(99).CallableShaderKey())
}

func TestNewLightDefaults(t *testing.T) {
	l := NewLight(LightTypePoint)
	assert.Equal(t, LightTypePoint, l.Type())
	assert.Equal(t, float32(100.0), l.Intensity())
	assert.InDelta(t, math.Cos(25.0*math.Pi/180.0), float64(l.SpotCutoff()), 1e-4)
	assert.InDelta(t, math.Cos(35.0*math.Pi/180.0), float64(l.SpotOuterCutoff()), 1e-4)
}

func TestNewLightOptions(t *testing.T) {
	l := NewLight(LightTypeSpot,
		WithPosition(1, 2, 3),
		WithDirection(0, -2, 0),
		WithIntensity(42),
		WithSpotCone(30, 45),
	)
	assert.Equal(t, [3]float32{1, 2, 3}, l.Position())
	assert.Equal(t, [3]float32{0, -1, 0}, l.Direction(), "direction must be normalized")
	assert.Equal(t, float32(42), l.Intensity())
	assert.InDelta(t, math.Cos(30*math.Pi/180), float64(l.SpotCutoff()), 1e-4)
	assert.InDelta(t, math.Cos(45*math.Pi/180), float64(l.SpotOuterCutoff()), 1e-4)
}

func TestSetDirectionZeroVector(t *testing.T) {
	l := NewLight(LightTypeDirectional)
	l.SetDirection(0, 0, 0)
	assert.Equal(t, [3]float32{0, 0, 0}, l.Direction())
}
