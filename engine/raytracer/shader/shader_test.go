package shader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// writeSPIRV writes a minimal valid SPIR-V binary (magic plus the given extra
// words) to dir/<key>.spv and returns the expected code words.
func writeSPIRV(t *testing.T, dir, key string, extra ...uint32) []uint32 {
	t.Helper()
	words := append([]uint32{spirvMagic}, extra...)
	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".spv"), data, 0o644))
	return words
}

func TestLoadValidBinary(t *testing.T) {
	dir := t.TempDir()
	want := writeSPIRV(t, dir, "raytrace_rgen", 0x00010400, 0, 1, 0)

	s, err := Load("raytrace_rgen", StageRayGen, []string{dir})
	require.NoError(t, err)
	assert.Equal(t, "raytrace_rgen", s.Key())
	assert.Equal(t, StageRayGen, s.Stage())
	assert.Equal(t, want, s.Code())

	info := s.ModuleCreateInfo()
	assert.Equal(t, vk.StructureTypeShaderModuleCreateInfo, info.SType)
	assert.Equal(t, uint64(len(want)*4), info.CodeSize)
	assert.Equal(t, want, info.PCode)
}

func TestLoadSearchPathOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeSPIRV(t, first, "light_point", 111)
	writeSPIRV(t, second, "light_point", 222)

	s, err := Load("light_point", StageCallable, []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, uint32(111), s.Code()[1], "the first search path must win")
}

func TestLoadMissingBinary(t *testing.T) {
	_, err := Load("no_such_shader", StageMiss, []string{t.TempDir()})
	assert.Error(t, err)
}

func TestLoadRejectsCorruptBinaries(t *testing.T) {
	dir := t.TempDir()

	// Wrong magic.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, 0xDEADBEEF)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_magic.spv"), data, 0o644))
	_, err := Load("bad_magic", StageClosestHit, []string{dir})
	assert.Error(t, err)

	// Truncated word stream.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "truncated.spv"), []byte{0x03, 0x02, 0x23}, 0o644))
	_, err = Load("truncated", StageClosestHit, []string{dir})
	assert.Error(t, err)

	// Empty file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.spv"), nil, 0o644))
	_, err = Load("empty", StageClosestHit, []string{dir})
	assert.Error(t, err)
}

func TestStageFlags(t *testing.T) {
	assert.Equal(t, rtvk.ShaderStageRaygenBit, StageRayGen.StageFlag())
	assert.Equal(t, rtvk.ShaderStageMissBit, StageMiss.StageFlag())
	assert.Equal(t, rtvk.ShaderStageClosestHitBit, StageClosestHit.StageFlag())
	assert.Equal(t, rtvk.ShaderStageAnyHitBit, StageAnyHit.StageFlag())
	assert.Equal(t, rtvk.ShaderStageIntersectionBit, StageIntersection.StageFlag())
	assert.Equal(t, rtvk.ShaderStageCallableBit, StageCallable.StageFlag())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "raygen", StageRayGen.String())
	assert.Equal(t, "callable", StageCallable.String())
}
