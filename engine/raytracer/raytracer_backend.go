package raytracer

// RaytracerBackendType identifies the GPU backend implementation used by the Raytracer.
type RaytracerBackendType int

const (
	// BackendTypeVulkan selects the Vulkan KHR ray tracing backend.
	BackendTypeVulkan RaytracerBackendType = iota
)

// RaytracerBackend is the top-level backend interface for the Raytracer.
// It embeds the concrete backend interface for the selected GPU API.
type RaytracerBackend interface {
	vulkanRaytracerBackend
}
