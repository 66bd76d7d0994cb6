package raytracer

import (
	"github.com/caldera-engine/caldera/engine/light"
)

// RaytracerBuilderOption is a functional option applied to a raytracer during construction via NewRaytracer.
type RaytracerBuilderOption func(*raytracer)

// WithSearchPaths sets the directories stage binaries are resolved against,
// in priority order. The default is a single "shaders" directory relative to
// the working directory.
//
// Parameters:
//   - paths: the directories to search for "<key>.spv" binaries
//
// Returns:
//   - RaytracerBuilderOption: a function that applies the search path option to a raytracer
func WithSearchPaths(paths ...string) RaytracerBuilderOption {
	return func(r *raytracer) {
		r.searchPaths = paths
	}
}

// WithLightTypes sets the light types the pipeline carries callable shaders
// for, in order. The order determines the callable group indices, so it must
// match the lightType encoding pushed at dispatch. The default is every type
// in light.Types() order.
//
// Parameters:
//   - types: the light types, one callable group each
//
// Returns:
//   - RaytracerBuilderOption: a function that applies the light type option to a raytracer
func WithLightTypes(types ...light.LightType) RaytracerBuilderOption {
	return func(r *raytracer) {
		r.lightTypes = types
	}
}

// WithMaxRecursionDepth sets the pipeline's maximum ray recursion depth.
// The default is 2: one camera ray plus one shadow ray. Reflective shaders
// that trace from a hit need a higher value.
//
// Parameters:
//   - depth: the maximum recursion depth
//
// Returns:
//   - RaytracerBuilderOption: a function that applies the recursion depth option to a raytracer
func WithMaxRecursionDepth(depth uint32) RaytracerBuilderOption {
	return func(r *raytracer) {
		r.maxRecursionDepth = depth
	}
}

// WithCompaction enables or disables bottom level structure compaction.
// Compaction is enabled by default.
//
// Parameters:
//   - enabled: whether to compact bottom level structures after building
//
// Returns:
//   - RaytracerBuilderOption: a function that applies the compaction option to a raytracer
func WithCompaction(enabled bool) RaytracerBuilderOption {
	return func(r *raytracer) {
		r.compaction = enabled
	}
}
