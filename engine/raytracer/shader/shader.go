// package shader loads pre-compiled SPIR-V shader binaries for the ray tracing
// pipeline. Unlike rasterization stages, ray tracing stages are never created
// individually; the pipeline consumes the full ordered stage list, so this
// package focuses on loading, validating and describing stages rather than
// reflecting over their bindings.
package shader

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// spirvMagic is the first word of every valid SPIR-V binary.
const spirvMagic uint32 = 0x07230203

// Stage identifies which ray tracing pipeline stage a shader binary targets.
type Stage int

const (
	// StageRayGen is the ray generation stage, the entry point of every trace dispatch.
	StageRayGen Stage = iota

	// StageMiss is the miss stage, invoked when a ray leaves the scene without a hit.
	StageMiss

	// StageClosestHit is the closest hit stage, invoked for the nearest accepted intersection.
	StageClosestHit

	// StageAnyHit is the any hit stage, invoked for every candidate intersection.
	StageAnyHit

	// StageIntersection is the intersection stage, invoked to test rays against procedural primitives.
	StageIntersection

	// StageCallable is the callable stage, invoked explicitly from other ray tracing stages.
	StageCallable
)

// StageFlag returns the Vulkan shader stage flag bit for this stage.
//
// Returns:
//   - vk.ShaderStageFlagBits: the pipeline stage flag used in stage create infos
func (s Stage) StageFlag() vk.ShaderStageFlagBits {
	switch s {
	case StageRayGen:
		return rtvk.ShaderStageRaygenBit
	case StageMiss:
		return rtvk.ShaderStageMissBit
	case StageClosestHit:
		return rtvk.ShaderStageClosestHitBit
	case StageAnyHit:
		return rtvk.ShaderStageAnyHitBit
	case StageIntersection:
		return rtvk.ShaderStageIntersectionBit
	case StageCallable:
		return rtvk.ShaderStageCallableBit
	default:
		panic(fmt.Sprintf("shader: unknown stage %d", int(s)))
	}
}

// String returns a short human-readable name for the stage.
//
// Returns:
//   - string: the stage name as used in logs and error messages
func (s Stage) String() string {
	switch s {
	case StageRayGen:
		return "raygen"
	case StageMiss:
		return "miss"
	case StageClosestHit:
		return "closesthit"
	case StageAnyHit:
		return "anyhit"
	case StageIntersection:
		return "intersection"
	case StageCallable:
		return "callable"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// shader is the implementation of the Shader interface. It holds the validated
// SPIR-V words for one pipeline stage.
type shader struct {
	key   string
	stage Stage
	code  []uint32
}

// Shader defines the interface for a loaded SPIR-V shader binary. It exposes
// the shader's unique key, target stage and code words needed to create the
// Vulkan shader module and pipeline stage.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Stage returns the ray tracing pipeline stage this shader targets.
	//
	// Returns:
	//   - Stage: the target stage
	Stage() Stage

	// Code returns the validated SPIR-V code words.
	//
	// Returns:
	//   - []uint32: the SPIR-V binary as 32-bit words
	Code() []uint32

	// ModuleCreateInfo builds the Vulkan shader module create info for this shader.
	//
	// Returns:
	//   - vk.ShaderModuleCreateInfo: the create info referencing the SPIR-V code
	ModuleCreateInfo() vk.ShaderModuleCreateInfo
}

var _ Shader = &shader{}

// Load reads, validates and wraps the SPIR-V binary for the given shader key.
// The binary is resolved as "<key>.spv" against each search path in order and
// the first existing file wins.
//
// Parameters:
//   - key: the shader's unique key, also the binary's base file name
//   - stage: the ray tracing pipeline stage the binary targets
//   - searchPaths: directories to resolve the binary against, in priority order
//
// Returns:
//   - Shader: the loaded shader
//   - error: an error if no binary was found or the data is not valid SPIR-V
func Load(key string, stage Stage, searchPaths []string) (Shader, error) {
	if key == "" {
		panic("shader: cannot load a shader with an empty key")
	}
	path, err := resolve(key, searchPaths)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader: failed to read %q: %w", path, err)
	}
	code, err := parseSPIRV(data)
	if err != nil {
		return nil, fmt.Errorf("shader: %q: %w", path, err)
	}
	return &shader{key: key, stage: stage, code: code}, nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Stage() Stage {
	return s.stage
}

func (s *shader) Code() []uint32 {
	return s.code
}

func (s *shader) ModuleCreateInfo() vk.ShaderModuleCreateInfo {
	return vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(s.code)) * 4,
		PCode:    s.code,
	}
}

// resolve finds the binary for key under the search paths.
func resolve(key string, searchPaths []string) (string, error) {
	name := key + ".spv"
	for _, dir := range searchPaths {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("shader: %q not found in search paths %v", name, searchPaths)
}

// parseSPIRV validates the raw binary and repacks it into 32-bit words.
// SPIR-V is defined as a stream of little-endian words whose first word is the
// magic number.
func parseSPIRV(data []byte) ([]uint32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("binary is empty")
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("binary size %d is not a multiple of 4", len(data))
	}
	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if code[0] != spirvMagic {
		return nil, fmt.Errorf("binary has magic %#08x, want %#08x", code[0], spirvMagic)
	}
	return code, nil
}
