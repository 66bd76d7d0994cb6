package sbt

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// standardLayout is the group arrangement this renderer assembles: one
// ray-generation, primary + shadow miss, triangle + procedural hit, and one
// callable per light type.
func standardLayout(callables int) Layout {
	return Layout{RayGenCount: 1, MissCount: 2, HitCount: 2, CallableCount: callables}
}

func TestLayoutOffsets(t *testing.T) {
	// The 0/1/3/5 boundaries must hold for any handle size while the counts
	// stay {1, 2, 2, N}.
	for _, handleSize := range []uint32{16, 32, 64} {
		l := standardLayout(3)
		assert.Equal(t, vk.DeviceSize(0), l.RayGenOffset(handleSize))
		assert.Equal(t, vk.DeviceSize(1*handleSize), l.MissOffset(handleSize))
		assert.Equal(t, vk.DeviceSize(3*handleSize), l.HitOffset(handleSize))
		assert.Equal(t, vk.DeviceSize(5*handleSize), l.CallableOffset(handleSize))
		assert.Equal(t, vk.DeviceSize(8*handleSize), l.TableSize(handleSize))
	}
}

func TestLayoutGroupCount(t *testing.T) {
	assert.Equal(t, 8, standardLayout(3).GroupCount())
	assert.Equal(t, 6, standardLayout(1).GroupCount())
}

func TestLayoutRegions(t *testing.T) {
	const handleSize = 32
	base := vk.DeviceAddress(0x10000)
	l := standardLayout(3)

	rayGen, miss, hit, callable := l.Regions(base, handleSize)

	assert.Equal(t, base, rayGen.DeviceAddress)
	assert.Equal(t, base+1*handleSize, miss.DeviceAddress)
	assert.Equal(t, base+3*handleSize, hit.DeviceAddress)
	assert.Equal(t, base+5*handleSize, callable.DeviceAddress)

	for _, r := range []rtvk.StridedDeviceAddressRegion{rayGen, miss, hit, callable} {
		assert.Equal(t, vk.DeviceSize(handleSize), r.Stride)
		assert.Equal(t, l.TableSize(handleSize), r.Size)
	}
}

func TestTableAccumulatesLayout(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, 0, tbl.Append(CategoryRayGen, NewGeneralGroup(0)))
	assert.Equal(t, 1, tbl.Append(CategoryMiss, NewGeneralGroup(1)))
	assert.Equal(t, 2, tbl.Append(CategoryMiss, NewGeneralGroup(2)))
	assert.Equal(t, 3, tbl.Append(CategoryHit, NewTriangleHitGroup(3, 4)))
	assert.Equal(t, 4, tbl.Append(CategoryHit, NewProceduralHitGroup(5, 6, 7)))
	assert.Equal(t, 5, tbl.Append(CategoryCallable, NewGeneralGroup(8)))
	assert.Equal(t, 6, tbl.Append(CategoryCallable, NewGeneralGroup(9)))
	assert.Equal(t, 7, tbl.Append(CategoryCallable, NewGeneralGroup(10)))

	assert.Equal(t, standardLayout(3), tbl.Layout())
	assert.Equal(t, 8, tbl.GroupCount())
	require.Len(t, tbl.Groups(), 8)
	require.Len(t, tbl.CreateInfos(), 8)
}

func TestTableRejectsOutOfOrderCategories(t *testing.T) {
	tbl := NewTable()
	tbl.Append(CategoryRayGen, NewGeneralGroup(0))
	tbl.Append(CategoryHit, NewTriangleHitGroup(1, StageUnused))

	assert.Panics(t, func() {
		tbl.Append(CategoryMiss, NewGeneralGroup(2))
	}, "backtracking to an earlier category must panic")

	assert.Panics(t, func() {
		tbl.Append(Category(42), NewGeneralGroup(3))
	})
}

func TestGroupCreateInfoVariants(t *testing.T) {
	gen := NewGeneralGroup(2).CreateInfo()
	assert.Equal(t, rtvk.RayTracingShaderGroupTypeGeneral, gen.Type)
	assert.Equal(t, uint32(2), gen.GeneralShader)
	assert.Equal(t, rtvk.ShaderUnused, gen.ClosestHitShader)
	assert.Equal(t, rtvk.ShaderUnused, gen.AnyHitShader)
	assert.Equal(t, rtvk.ShaderUnused, gen.IntersectionShader)

	tri := NewTriangleHitGroup(3, 4).CreateInfo()
	assert.Equal(t, rtvk.RayTracingShaderGroupTypeTrianglesHitGroup, tri.Type)
	assert.Equal(t, uint32(3), tri.ClosestHitShader)
	assert.Equal(t, uint32(4), tri.AnyHitShader)
	assert.Equal(t, rtvk.ShaderUnused, tri.GeneralShader)

	triNoAnyHit := NewTriangleHitGroup(3, StageUnused).CreateInfo()
	assert.Equal(t, rtvk.ShaderUnused, triNoAnyHit.AnyHitShader)

	proc := NewProceduralHitGroup(5, 6, 7).CreateInfo()
	assert.Equal(t, rtvk.RayTracingShaderGroupTypeProceduralHitGroup, proc.Type)
	assert.Equal(t, uint32(5), proc.ClosestHitShader)
	assert.Equal(t, uint32(6), proc.AnyHitShader)
	assert.Equal(t, uint32(7), proc.IntersectionShader)
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "raygen", CategoryRayGen.String())
	assert.Equal(t, "miss", CategoryMiss.String())
	assert.Equal(t, "hit", CategoryHit.String())
	assert.Equal(t, "callable", CategoryCallable.String())
}
