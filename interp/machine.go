// Package interp executes IR method bodies. A Machine turns a method into a
// reflect.Value of the method's func type, so interpreted code and Go code
// call each other freely.
package interp

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/pboyd/splice/ir"
)

var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrNoHandler      = errors.New("rethrow outside of a catch handler")
	ErrBadEndFinally  = errors.New("endfinally outside of a finally handler")
	ErrNoImpl         = errors.New("method has neither a body nor a function")
)

// Resolver reports redirections installed for a method. When a call is
// redirected, the replacement runs instead of the method's own code.
type Resolver interface {
	Lookup(id ir.MethodID) (reflect.Value, bool)
}

// Machine compiles and runs IR methods.
type Machine struct {
	resolver Resolver

	mu      sync.Mutex
	entries sync.Map // *ir.Method → *entry
}

type entry struct {
	fn   reflect.Value
	prog *program
}

// New returns a Machine. Calls made by interpreted code consult r, which
// may be nil.
func New(r Resolver) *Machine {
	return &Machine{resolver: r}
}

// Compile materializes m's own body as a callable. The result never
// consults the resolver for m itself, which makes it suitable as a
// replacement installed for m.
func (vm *Machine) Compile(m *ir.Method) (reflect.Value, error) {
	prog, err := vm.compile(m)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.MakeFunc(m.Type, prog.call), nil
}

// Func returns the entry point for m. Each call checks the resolver first,
// then runs m's body or Go function.
func (vm *Machine) Func(m *ir.Method) (reflect.Value, error) {
	if e, ok := vm.entries.Load(m); ok {
		return e.(*entry).fn, nil
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if e, ok := vm.entries.Load(m); ok {
		return e.(*entry).fn, nil
	}

	e := &entry{}
	switch {
	case m.Body != nil:
		prog, err := vm.compile(m)
		if err != nil {
			return reflect.Value{}, err
		}
		e.prog = prog
	case m.Func.IsValid():
	default:
		return reflect.Value{}, fmt.Errorf("%s: %w", m.Name, ErrNoImpl)
	}

	id := m.ID()
	e.fn = reflect.MakeFunc(m.Type, func(args []reflect.Value) []reflect.Value {
		if vm.resolver != nil {
			if fn, ok := vm.resolver.Lookup(id); ok {
				return callFunc(fn, args)
			}
		}
		if e.prog != nil {
			return e.prog.call(args)
		}
		return callFunc(m.Func, args)
	})
	vm.entries.Store(m, e)

	return e.fn, nil
}

// callFunc calls fn with args as received by a reflect.MakeFunc
// implementation, where a variadic argument arrives as a slice.
func callFunc(fn reflect.Value, args []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(args)
	}
	return fn.Call(args)
}

// PanicError carries a panic value that was not an error while it is
// handled as an exception. Rethrowing it panics with the original value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// TypeError reports an operand of the wrong type at run time.
type TypeError struct {
	Op   ir.Op
	Type reflect.Type
	Want reflect.Type
}

func (e *TypeError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("%v: cannot use %v as %v", e.Op, e.Type, e.Want)
	}
	return fmt.Sprintf("%v: invalid operand type %v", e.Op, e.Type)
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &PanicError{Value: r}
}

// raise panics with the value an exception stands for.
func raise(err error) {
	if pe, ok := err.(*PanicError); ok {
		panic(pe.Value)
	}
	panic(err)
}
