//go:build !amd64 && !arm64

package detour

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/pboyd/splice/ir"
)

// Native is unavailable on this architecture. Every operation fails with
// ErrUnsupported.
type Native struct{}

// NewNative returns a detourer that refuses every method on this
// architecture.
func NewNative() *Native {
	return &Native{}
}

func (n *Native) Install(original *ir.Method, _ reflect.Value) error {
	return fmt.Errorf("%s on %s: %w", original, runtime.GOARCH, ErrUnsupported)
}

func (n *Native) Revert(original *ir.Method) error {
	return fmt.Errorf("%s: %w", original, ErrNotInstalled)
}

func (n *Native) Copy(original *ir.Method) (reflect.Value, error) {
	return reflect.Value{}, fmt.Errorf("%s on %s: %w", original, runtime.GOARCH, ErrUnsupported)
}

func (n *Native) Installed(*ir.Method) bool {
	return false
}

func Disassemble(m *ir.Method) (string, error) {
	return "", fmt.Errorf("%s on %s: %w", m, runtime.GOARCH, ErrUnsupported)
}
