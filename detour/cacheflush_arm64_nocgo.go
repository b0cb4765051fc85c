//go:build arm64 && !cgo

package detour

// Flushing the instruction cache on arm64 needs the C compiler builtin.
// Build with CGO_ENABLED=1.
func cacheflush(buf []byte) {
	detour_on_arm64_requires_cgo()
}
