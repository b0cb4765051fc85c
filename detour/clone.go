//go:build amd64 || arm64

package detour

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
)

// Room for the stubs relocateFunc appends for calls that are too far away.
const cloneSlack = 256

// cloneFunc makes a copy of a function that persists after the original
// function has been modified.
func cloneFunc(fn reflect.Value) (*clonedFunc, error) {
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", fn.Kind())
	}

	originalCode, err := funcSlice(fn.Pointer())
	if err != nil {
		return nil, err
	}

	if err := cloneAllocator.BeginMutate(); err != nil {
		return nil, err
	}
	defer cloneAllocator.EndMutate()

	buf, err := cloneAllocator.Allocate(len(originalCode) + cloneSlack)
	if err != nil {
		return nil, err
	}

	newCode, err := relocateFunc(originalCode, buf[:0])
	if err != nil {
		cloneAllocator.Free(buf)
		return nil, err
	}
	cacheflush(newCode)

	// A func value points to a word holding the code address. Point one
	// at the new code so the buffer can be called as fn's type.
	codeData := unsafe.SliceData(newCode)
	cf := &clonedFunc{
		buf: buf,
		ref: &codeData,
	}
	cf.Func = reflect.NewAt(fn.Type(), unsafe.Pointer(&cf.ref)).Elem()

	return cf, nil
}

type allocator struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	mutable  bool
}

func (a *allocator) init(startSize int) error {
	var err error
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(mprotectExec, mapFlags)
		if protBE, ok := be.(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			err = errors.New("unable to initialize arena")
			return
		}
		a.mutable = true
	})
	return err
}

func (a *allocator) BeginMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// BeginMutate can be called before the arena exists.
	if a.mprotect == nil || a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRWX)
	if err == nil {
		a.mutable = true
	}
	return err
}

func (a *allocator) EndMutate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mutable {
		return nil
	}

	err := a.mprotect(mprotectRX)
	if err == nil {
		a.mutable = false
	}
	return err
}

func (a *allocator) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.init(size); err != nil {
		return nil, fmt.Errorf("error initializing allocator: %w", err)
	}
	if !a.mutable {
		return nil, errors.New("allocate called while the arena is read-only")
	}

	return malloc.MallocSlice[byte](a.Arena, size)
}

func (a *allocator) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Arena == nil || !a.mutable {
		return
	}
	malloc.FreeSlice(a.Arena, buf)
}

var cloneAllocator = &allocator{}

// clonedFunc holds a copy of a function.
type clonedFunc struct {
	Func reflect.Value

	// buf is allocated in the arena managed by cloneAllocator. ref must
	// stay reachable while Func is in use.
	buf []byte
	ref **byte
}

// Free releases the memory of the copy. Func must not be called
// afterwards.
func (cf *clonedFunc) Free() {
	cloneAllocator.BeginMutate()
	defer cloneAllocator.EndMutate()

	cloneAllocator.Free(cf.buf)

	cf.buf = nil
	*cf.ref = nil
	cf.ref = nil
	cf.Func = reflect.Value{}
}
