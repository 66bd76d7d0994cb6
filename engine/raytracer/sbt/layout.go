package sbt

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/caldera-engine/caldera/engine/raytracer/rtvk"
)

// Category is the ordered classification of shader groups inside the binding
// table. Groups must be appended category by category in this order; the
// per-category counts are the only inputs to the dispatch-time offset
// arithmetic.
type Category int

const (
	// CategoryRayGen is the ray-generation group. Always first.
	CategoryRayGen Category = iota

	// CategoryMiss holds the miss groups: primary miss, then shadow miss.
	CategoryMiss

	// CategoryHit holds the hit groups: triangle hit, then procedural hit.
	CategoryHit

	// CategoryCallable holds one callable group per supported light type.
	CategoryCallable

	categoryCount
)

// String returns the category name for diagnostics.
func (c Category) String() string {
	switch c {
	case CategoryRayGen:
		return "raygen"
	case CategoryMiss:
		return "miss"
	case CategoryHit:
		return "hit"
	case CategoryCallable:
		return "callable"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Layout records how many shader groups each category contributed, in append
// order. It is computed once during pipeline assembly and passed to the
// dispatcher, which derives the four binding-table sub-region offsets from it
// every frame. Nothing else may hard-code those offsets.
type Layout struct {
	RayGenCount   int
	MissCount     int
	HitCount      int
	CallableCount int
}

// GroupCount returns the total number of shader groups across all categories.
//
// Returns:
//   - int: the group count
func (l Layout) GroupCount() int {
	return l.RayGenCount + l.MissCount + l.HitCount + l.CallableCount
}

// TableSize returns the size in bytes of the packed binding table:
// group count × handle size.
//
// Parameters:
//   - handleSize: the device-reported shader group handle size
//
// Returns:
//   - vk.DeviceSize: the table size in bytes
func (l Layout) TableSize(handleSize uint32) vk.DeviceSize {
	return vk.DeviceSize(l.GroupCount()) * vk.DeviceSize(handleSize)
}

// RayGenOffset returns the byte offset of the ray-generation sub-region.
//
// Returns:
//   - vk.DeviceSize: always 0
func (l Layout) RayGenOffset(handleSize uint32) vk.DeviceSize {
	return 0
}

// MissOffset returns the byte offset of the miss sub-region: past the
// ray-generation groups.
//
// Parameters:
//   - handleSize: the device-reported shader group handle size
//
// Returns:
//   - vk.DeviceSize: the miss sub-region offset
func (l Layout) MissOffset(handleSize uint32) vk.DeviceSize {
	return vk.DeviceSize(l.RayGenCount) * vk.DeviceSize(handleSize)
}

// HitOffset returns the byte offset of the hit sub-region: past the
// ray-generation and miss groups.
//
// Parameters:
//   - handleSize: the device-reported shader group handle size
//
// Returns:
//   - vk.DeviceSize: the hit sub-region offset
func (l Layout) HitOffset(handleSize uint32) vk.DeviceSize {
	return vk.DeviceSize(l.RayGenCount+l.MissCount) * vk.DeviceSize(handleSize)
}

// CallableOffset returns the byte offset of the callable sub-region: past the
// ray-generation, miss, and hit groups.
//
// Parameters:
//   - handleSize: the device-reported shader group handle size
//
// Returns:
//   - vk.DeviceSize: the callable sub-region offset
func (l Layout) CallableOffset(handleSize uint32) vk.DeviceSize {
	return vk.DeviceSize(l.RayGenCount+l.MissCount+l.HitCount) * vk.DeviceSize(handleSize)
}

// Regions derives the four strided sub-region descriptors the trace command
// consumes, from the table's device address and the device handle size. Each
// region uses stride = handle size and size = full table size. This is pure
// arithmetic over the category counts; it is recomputed identically every
// dispatch rather than stored.
//
// Parameters:
//   - tableAddress: device address of the packed binding-table buffer
//   - handleSize: the device-reported shader group handle size
//
// Returns:
//   - rayGen, miss, hit, callable: the four sub-region descriptors
func (l Layout) Regions(tableAddress vk.DeviceAddress, handleSize uint32) (rayGen, miss, hit, callable rtvk.StridedDeviceAddressRegion) {
	stride := vk.DeviceSize(handleSize)
	size := l.TableSize(handleSize)

	rayGen = rtvk.StridedDeviceAddressRegion{
		DeviceAddress: tableAddress + vk.DeviceAddress(l.RayGenOffset(handleSize)),
		Stride:        stride,
		Size:          size,
	}
	miss = rtvk.StridedDeviceAddressRegion{
		DeviceAddress: tableAddress + vk.DeviceAddress(l.MissOffset(handleSize)),
		Stride:        stride,
		Size:          size,
	}
	hit = rtvk.StridedDeviceAddressRegion{
		DeviceAddress: tableAddress + vk.DeviceAddress(l.HitOffset(handleSize)),
		Stride:        stride,
		Size:          size,
	}
	callable = rtvk.StridedDeviceAddressRegion{
		DeviceAddress: tableAddress + vk.DeviceAddress(l.CallableOffset(handleSize)),
		Stride:        stride,
		Size:          size,
	}
	return rayGen, miss, hit, callable
}

// Table accumulates shader groups during pipeline assembly, enforcing the
// category append order that the binding-table offsets depend on. Appending a
// group for a category earlier than one already appended is a programming
// error and panics.
type Table struct {
	groups  []Group
	counts  [categoryCount]int
	current Category
}

// NewTable creates an empty group table.
//
// Returns:
//   - *Table: the empty table
func NewTable() *Table {
	return &Table{}
}

// Append adds a group under the given category and returns its group index.
// Categories must be appended in CategoryRayGen, CategoryMiss, CategoryHit,
// CategoryCallable order; interleaving or backtracking panics.
//
// Parameters:
//   - cat: the category this group belongs to
//   - g: the group to append
//
// Returns:
//   - int: the appended group's index (its position in creation order)
func (t *Table) Append(cat Category, g Group) int {
	if cat < 0 || cat >= categoryCount {
		panic(fmt.Sprintf("sbt: invalid category %d", int(cat)))
	}
	if cat < t.current {
		panic(fmt.Sprintf("sbt: group appended for %v after %v; category order is fixed", cat, t.current))
	}
	t.current = cat
	t.counts[cat]++
	t.groups = append(t.groups, g)
	return len(t.groups) - 1
}

// Groups returns all appended groups in creation order.
//
// Returns:
//   - []Group: the groups, index-aligned with their binding-table slots
func (t *Table) Groups() []Group {
	return t.groups
}

// GroupCount returns the number of appended groups.
//
// Returns:
//   - int: the group count
func (t *Table) GroupCount() int {
	return len(t.groups)
}

// Layout returns the per-category counts accumulated so far.
//
// Returns:
//   - Layout: the category counts in append order
func (t *Table) Layout() Layout {
	return Layout{
		RayGenCount:   t.counts[CategoryRayGen],
		MissCount:     t.counts[CategoryMiss],
		HitCount:      t.counts[CategoryHit],
		CallableCount: t.counts[CategoryCallable],
	}
}

// CreateInfos converts every appended group into its device creation
// descriptor, preserving creation order.
//
// Returns:
//   - []rtvk.RayTracingShaderGroupCreateInfo: one descriptor per group
func (t *Table) CreateInfos() []rtvk.RayTracingShaderGroupCreateInfo {
	infos := make([]rtvk.RayTracingShaderGroupCreateInfo, len(t.groups))
	for i, g := range t.groups {
		infos[i] = g.CreateInfo()
	}
	return infos
}
