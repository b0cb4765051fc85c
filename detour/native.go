//go:build amd64 || arm64

package detour

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/pboyd/splice/ir"
)

// Native redirects Go functions by writing a jump to the replacement over
// the start of the function's machine code.
//
// Note that if the function has been inlined into a caller, that caller
// keeps running the old code. If possible, add a noinline directive to the
// function:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
type Native struct {
	mu      sync.Mutex
	patched map[uintptr]*nativePatch
	clones  map[uintptr]*clonedFunc
}

type nativePatch struct {
	code  []byte
	saved []byte

	// The replacement must stay reachable while the jump refers to it.
	replacement any
}

// NewNative returns a detourer for compiled Go functions.
func NewNative() *Native {
	return &Native{
		patched: make(map[uintptr]*nativePatch),
		clones:  make(map[uintptr]*clonedFunc),
	}
}

func (n *Native) Install(original *ir.Method, replacement reflect.Value) error {
	if !original.IsGo() {
		return fmt.Errorf("%s: not a Go function: %w", original, ErrUnsupported)
	}
	if err := checkReplacement(original, replacement); err != nil {
		return err
	}

	entry := original.Func.Pointer()

	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.patched[entry]
	if !ok {
		code, err := funcSlice(entry)
		if err != nil {
			return err
		}
		if len(code) < closureJumpSize {
			return fmt.Errorf("%s: function is too small to patch (%d bytes)", original, len(code))
		}

		// Clone first, so a copy of the unmodified code exists.
		if _, err := n.clone(original); err != nil {
			return err
		}

		p = &nativePatch{
			code:  code,
			saved: bytes.Clone(code[:closureJumpSize]),
		}
	}

	fn := replacement.Interface()
	err := writeCode(p.code[:closureJumpSize], func(buf []byte) error {
		return insertClosureJump(buf, funcval(fn))
	})
	if err != nil {
		return err
	}

	p.replacement = fn
	n.patched[entry] = p
	return nil
}

func (n *Native) Revert(original *ir.Method) error {
	if !original.IsGo() {
		return fmt.Errorf("%s: not a Go function: %w", original, ErrUnsupported)
	}

	entry := original.Func.Pointer()

	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.patched[entry]
	if !ok {
		return fmt.Errorf("%s: %w", original, ErrNotInstalled)
	}

	err := writeCode(p.code[:len(p.saved)], func(buf []byte) error {
		copy(buf, p.saved)
		return nil
	})
	if err != nil {
		return err
	}

	delete(n.patched, entry)
	return nil
}

// Copy returns a relocated copy of the function's machine code, made
// before the function was first patched.
//
// Technically, relative addresses in the copy have been adjusted for its
// new location. This process may introduce problems, so keep the copied
// functions simple.
func (n *Native) Copy(original *ir.Method) (reflect.Value, error) {
	if !original.IsGo() {
		return reflect.Value{}, fmt.Errorf("%s: not a Go function: %w", original, ErrUnsupported)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	cf, err := n.clone(original)
	if err != nil {
		return reflect.Value{}, err
	}
	return cf.Func, nil
}

// clone must be called with n.mu held.
func (n *Native) clone(original *ir.Method) (*clonedFunc, error) {
	entry := original.Func.Pointer()
	if cf, ok := n.clones[entry]; ok {
		return cf, nil
	}
	if _, patched := n.patched[entry]; patched {
		return nil, fmt.Errorf("%s: already patched, no copy of the original", original)
	}

	cf, err := cloneFunc(original.Func)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", original, err)
	}
	n.clones[entry] = cf
	return cf, nil
}

// Installed reports whether a jump is currently written over m.
func (n *Native) Installed(m *ir.Method) bool {
	if !m.IsGo() {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.patched[m.Func.Pointer()]
	return ok
}

// Disassemble returns a listing of a Go function's machine code as it
// currently is in memory.
func Disassemble(m *ir.Method) (string, error) {
	if !m.IsGo() {
		return "", fmt.Errorf("%s: not a Go function: %w", m, ErrUnsupported)
	}
	code, err := funcSlice(m.Func.Pointer())
	if err != nil {
		return "", err
	}
	return disassemble(code)
}

func writeCode(code []byte, write func([]byte) error) error {
	err := mprotect(code, mprotectRWX)
	if err != nil {
		return err
	}
	defer mprotect(code, mprotectRX)

	if err := write(code); err != nil {
		return err
	}
	cacheflush(code)
	return nil
}

// funcval returns the closure pointer behind a func value.
func funcval(fn any) uintptr {
	type eface struct {
		typ, data unsafe.Pointer
	}
	return uintptr((*eface)(unsafe.Pointer(&fn)).data)
}

// funcSlice returns the machine code of the function starting at entry.
func funcSlice(entry uintptr) ([]byte, error) {
	info := findfunc(entry)
	if info._func == nil || info.datap == nil {
		return nil, fmt.Errorf("no function at %#x", entry)
	}

	// To find the length, look for the function that starts closest
	// after this one.
	funcOffset := uint32(entry - info.datap.text)
	length := uint32(info.datap.etext - entry)

	for _, ft := range info.datap.ftab {
		if ft.entryoff <= funcOffset {
			continue
		}
		if d := ft.entryoff - funcOffset; d < length {
			length = d
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(entry)), int(length)), nil
}
