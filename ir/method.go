package ir

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync/atomic"
)

// MethodID identifies a method. Go functions are keyed by entry PC and
// runtime name. IR methods are keyed by name and a sequence number unique
// to each *Method, so two IR methods that share a name stay distinct.
type MethodID struct {
	Name  string
	Entry uintptr
	Seq   uint64
}

func (id MethodID) String() string {
	if id.Entry == 0 {
		return id.Name
	}
	return fmt.Sprintf("%s@%#x", id.Name, id.Entry)
}

// Method is an executable method. It either has a Body, which a backend
// executes, or a Go implementation in Func.
type Method struct {
	Name string

	// Type is the func type of the method. For methods with a receiver the
	// receiver is the first input.
	Type     reflect.Type
	Receiver bool

	Body *Body
	Func reflect.Value

	entry uintptr
	seq   atomic.Uint64
}

var lastSeq atomic.Uint64

// NewMethod returns an IR method.
func NewMethod(name string, typ reflect.Type, body *Body) *Method {
	return &Method{Name: name, Type: typ, Body: body}
}

// FromFunc wraps a Go function.
func FromFunc(fn any) (*Method, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	if fnv.IsNil() {
		return nil, fmt.Errorf("nil function")
	}

	entry := fnv.Pointer()
	name := fmt.Sprintf("func@%#x", entry)
	if f := runtime.FuncForPC(entry); f != nil {
		name = f.Name()
	}

	return &Method{
		Name:  name,
		Type:  fnv.Type(),
		Func:  fnv,
		entry: entry,
	}, nil
}

// FromMethod wraps a Go method expression, such as (*T).M.
func FromMethod(fn any) (*Method, error) {
	m, err := FromFunc(fn)
	if err != nil {
		return nil, err
	}
	if m.Type.NumIn() == 0 {
		return nil, fmt.Errorf("method expression %s has no receiver", m.Name)
	}
	m.Receiver = true
	return m, nil
}

// MustFunc is like FromFunc but panics on error.
func MustFunc(fn any) *Method {
	m, err := FromFunc(fn)
	if err != nil {
		panic(err)
	}
	return m
}

// GoMethod wraps a func value under the given name. It is meant for
// functions without a runtime name, such as relocated copies.
func GoMethod(name string, fn reflect.Value) *Method {
	return &Method{
		Name:  name,
		Type:  fn.Type(),
		Func:  fn,
		entry: fn.Pointer(),
	}
}

// ID returns m's identity. An IR method is numbered the first time it is
// asked, which covers methods built as struct literals.
func (m *Method) ID() MethodID {
	if m.entry != 0 {
		return MethodID{Name: m.Name, Entry: m.entry}
	}
	seq := m.seq.Load()
	if seq == 0 {
		m.seq.CompareAndSwap(0, lastSeq.Add(1))
		seq = m.seq.Load()
	}
	return MethodID{Name: m.Name, Seq: seq}
}

// IsGo reports whether m is implemented by a Go function rather than a
// body.
func (m *Method) IsGo() bool {
	return m.Body == nil && m.Func.IsValid()
}

// Ins returns the input types.
func (m *Method) Ins() []reflect.Type {
	ins := make([]reflect.Type, m.Type.NumIn())
	for i := range ins {
		ins[i] = m.Type.In(i)
	}
	return ins
}

// Outs returns the result types.
func (m *Method) Outs() []reflect.Type {
	outs := make([]reflect.Type, m.Type.NumOut())
	for i := range outs {
		outs[i] = m.Type.Out(i)
	}
	return outs
}

// Derive returns a new IR method with m's signature, named after m.
func (m *Method) Derive(suffix string, body *Body) *Method {
	return &Method{
		Name:     m.Name + "·" + suffix,
		Type:     m.Type,
		Receiver: m.Receiver,
		Body:     body,
	}
}

func (m *Method) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}

// Program is a set of IR methods that call each other by name.
type Program struct {
	methods map[string]*Method
}

func NewProgram() *Program {
	return &Program{methods: make(map[string]*Method)}
}

// Add registers a method. Names must be unique within the program.
func (p *Program) Add(m *Method) error {
	if _, ok := p.methods[m.Name]; ok {
		return fmt.Errorf("duplicate method %q", m.Name)
	}
	p.methods[m.Name] = m
	return nil
}

// Lookup finds a method by name.
func (p *Program) Lookup(name string) (*Method, bool) {
	m, ok := p.methods[name]
	return m, ok
}

// Methods returns the methods sorted by name.
func (p *Program) Methods() []*Method {
	ms := make([]*Method, 0, len(p.methods))
	for _, m := range p.methods {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
	return ms
}

// CompareSignatures returns nil if a and b are identical func types, or an
// error describing each difference.
func CompareSignatures(a, b reflect.Type) error {
	if a.Kind() != reflect.Func || b.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kinds: %v, %v", a.Kind(), b.Kind())
	}

	var errs []error
	diffList := func(what string, na, nb int, at, bt func(int) reflect.Type) {
		for i := 0; i < max(na, nb); i++ {
			var x, y reflect.Type
			if i < na {
				x = at(i)
			}
			if i < nb {
				y = bt(i)
			}
			if x != y {
				errs = append(errs, fmt.Errorf("%s %d: %v != %v", what, i, typeName(x), typeName(y)))
			}
		}
	}
	diffList("argument", a.NumIn(), b.NumIn(), a.In, b.In)
	diffList("output", a.NumOut(), b.NumOut(), a.Out, b.Out)
	if a.IsVariadic() != b.IsVariadic() {
		errs = append(errs, errors.New("variadic mismatch"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("function signatures do not match: %w", errors.Join(errs...))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "none"
	}
	return t.String()
}
