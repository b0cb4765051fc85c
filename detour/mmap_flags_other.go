//go:build (amd64 || arm64) && !(linux && amd64)

package detour

// Without a way to ask for low addresses, far calls in a copy go through
// the stubs relocateFunc appends.
const mapFlags = 0
