package sbt

import (
	"fmt"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// StageUnused marks a shader-stage slot a group does not use.
const StageUnused int32 = -1

// GroupKind identifies which variant of a shader Group is active.
type GroupKind int

const (
	// GroupGeneral is a group holding a single general-purpose stage:
	// ray-generation, miss, or callable.
	GroupGeneral GroupKind = iota

	// GroupTrianglesHit is a hit group for built-in triangle intersection,
	// holding a closest-hit stage and an optional any-hit stage.
	GroupTrianglesHit

	// GroupProceduralHit is a hit group for procedural primitives, holding a
	// closest-hit stage, an optional any-hit stage, and a required
	// intersection stage.
	GroupProceduralHit
)

// Group is a tagged variant describing one shader group in the ray-tracing
// pipeline. Stage fields are indices into the pipeline's stage array, or
// StageUnused. Group order is significant: a group's index times the device's
// handle size is its byte offset inside the shader binding table, so groups
// are only ever appended through a Table, never reordered.
type Group struct {
	Kind         GroupKind
	General      int32
	ClosestHit   int32
	AnyHit       int32
	Intersection int32
}

// NewGeneralGroup creates a general group (ray-generation, miss, or callable)
// referencing a single stage index.
//
// Parameters:
//   - stage: index of the general shader stage
//
// Returns:
//   - Group: the general group
func NewGeneralGroup(stage int32) Group {
	return Group{
		Kind:         GroupGeneral,
		General:      stage,
		ClosestHit:   StageUnused,
		AnyHit:       StageUnused,
		Intersection: StageUnused,
	}
}

// NewTriangleHitGroup creates a hit group serviced by the built-in triangle
// intersection.
//
// Parameters:
//   - closestHit: index of the closest-hit stage
//   - anyHit: index of the any-hit stage, or StageUnused
//
// Returns:
//   - Group: the triangle hit group
func NewTriangleHitGroup(closestHit, anyHit int32) Group {
	return Group{
		Kind:         GroupTrianglesHit,
		General:      StageUnused,
		ClosestHit:   closestHit,
		AnyHit:       anyHit,
		Intersection: StageUnused,
	}
}

// NewProceduralHitGroup creates a hit group for procedural primitives whose
// intersections are computed by an intersection stage.
//
// Parameters:
//   - closestHit: index of the closest-hit stage
//   - anyHit: index of the any-hit stage, or StageUnused
//   - intersection: index of the intersection stage
//
// Returns:
//   - Group: the procedural hit group
func NewProceduralHitGroup(closestHit, anyHit, intersection int32) Group {
	return Group{
		Kind:         GroupProceduralHit,
		General:      StageUnused,
		ClosestHit:   closestHit,
		AnyHit:       anyHit,
		Intersection: intersection,
	}
}

// CreateInfo converts the group into the device's shader-group creation
// descriptor.
//
// Returns:
//   - rtvk.RayTracingShaderGroupCreateInfo: the populated creation descriptor
func (g Group) CreateInfo() rtvk.RayTracingShaderGroupCreateInfo {
	info := rtvk.RayTracingShaderGroupCreateInfo{
		GeneralShader:      stageOrUnused(g.General),
		ClosestHitShader:   stageOrUnused(g.ClosestHit),
		AnyHitShader:       stageOrUnused(g.AnyHit),
		IntersectionShader: stageOrUnused(g.Intersection),
	}
	switch g.Kind {
	case GroupGeneral:
		info.Type = rtvk.RayTracingShaderGroupTypeGeneral
	case GroupTrianglesHit:
		info.Type = rtvk.RayTracingShaderGroupTypeTrianglesHitGroup
	case GroupProceduralHit:
		info.Type = rtvk.RayTracingShaderGroupTypeProceduralHitGroup
	default:
		panic(fmt.Sprintf("sbt: unknown group kind %d", g.Kind))
	}
	return info
}

func stageOrUnused(stage int32) uint32 {
	if stage < 0 {
		return rtvk.ShaderUnused
	}
	return uint32(stage)
}
