package accel

// BuilderOption is a function that configures a Builder during construction.
type BuilderOption func(*builder)

// WithCompaction enables or disables the post-build compaction pass on bottom
// level structures. Compaction trades extra build-time copies for a smaller
// resident footprint and is enabled by default.
//
// Parameters:
//   - enabled: whether to compact bottom level structures after building
//
// Returns:
//   - BuilderOption: the option to pass to NewBuilder
func WithCompaction(enabled bool) BuilderOption {
	return func(b *builder) {
		b.compaction = enabled
	}
}
