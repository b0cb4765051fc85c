// Package detour redirects calls from a method to a replacement.
//
// Table redirects calls made through the interpreter. Native rewrites the
// machine code of a Go function so that every caller, compiled or
// interpreted, reaches the replacement. Mux sends each method to the right
// one.
package detour

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/pboyd/splice/ir"
)

var (
	// ErrNotInstalled is returned when reverting a method with no detour.
	ErrNotInstalled = errors.New("no detour installed")

	// ErrUnsupported is returned for methods a detourer can't redirect.
	ErrUnsupported = errors.New("detour not supported")
)

// Detourer installs and reverts redirections. Installing again for the
// same method replaces the previous replacement.
type Detourer interface {
	Install(original *ir.Method, replacement reflect.Value) error
	Revert(original *ir.Method) error
}

// Cloner returns a callable copy of a method that keeps the original
// behavior after the method has been redirected.
type Cloner interface {
	Copy(original *ir.Method) (reflect.Value, error)
}

func checkReplacement(original *ir.Method, replacement reflect.Value) error {
	if replacement.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", replacement.Kind())
	}
	if replacement.IsNil() {
		return errors.New("nil replacement")
	}
	return ir.CompareSignatures(original.Type, replacement.Type())
}

// Table records replacements by method identity. It is the resolver the
// interpreter consults on every call.
type Table struct {
	entries sync.Map // ir.MethodID → reflect.Value
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) Install(original *ir.Method, replacement reflect.Value) error {
	if err := checkReplacement(original, replacement); err != nil {
		return err
	}
	t.entries.Store(original.ID(), replacement)
	return nil
}

func (t *Table) Revert(original *ir.Method) error {
	if _, ok := t.entries.LoadAndDelete(original.ID()); !ok {
		return fmt.Errorf("%s: %w", original, ErrNotInstalled)
	}
	return nil
}

// Lookup returns the replacement installed for id.
func (t *Table) Lookup(id ir.MethodID) (reflect.Value, bool) {
	v, ok := t.entries.Load(id)
	if !ok {
		return reflect.Value{}, false
	}
	return v.(reflect.Value), true
}

// Copy returns a Go function itself. The table never modifies Go code, so
// the function still behaves as it was compiled.
func (t *Table) Copy(original *ir.Method) (reflect.Value, error) {
	if !original.IsGo() {
		return reflect.Value{}, fmt.Errorf("%s: not a Go function: %w", original, ErrUnsupported)
	}
	return original.Func, nil
}

// Mux installs Go functions with Native and everything else with Table.
// When Native is nil, Table handles all methods.
type Mux struct {
	Table  *Table
	Native Detourer
}

// NewMux returns a Mux over table and native. native may be nil.
func NewMux(table *Table, native Detourer) *Mux {
	return &Mux{Table: table, Native: native}
}

func (m *Mux) pick(original *ir.Method) Detourer {
	if original.IsGo() && m.Native != nil {
		return m.Native
	}
	return m.Table
}

func (m *Mux) Install(original *ir.Method, replacement reflect.Value) error {
	return m.pick(original).Install(original, replacement)
}

func (m *Mux) Revert(original *ir.Method) error {
	return m.pick(original).Revert(original)
}

func (m *Mux) Copy(original *ir.Method) (reflect.Value, error) {
	if c, ok := m.pick(original).(Cloner); ok {
		return c.Copy(original)
	}
	return m.Table.Copy(original)
}

func (m *Mux) Lookup(id ir.MethodID) (reflect.Value, bool) {
	return m.Table.Lookup(id)
}
