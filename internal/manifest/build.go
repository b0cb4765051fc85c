package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/pboyd/splice"
	"github.com/pboyd/splice/ir"
)

var errorType = reflect.TypeFor[error]()

// Options tell Build where to find the methods a manifest names.
type Options struct {
	// Program holds IR methods. It is searched first.
	Program *ir.Program

	// Funcs maps names to Go functions.
	Funcs map[string]any

	// Logger receives trace output. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) lookup(name string) (*ir.Method, error) {
	if o.Program != nil {
		if m, ok := o.Program.Lookup(name); ok {
			return m, nil
		}
	}
	if fn, ok := o.Funcs[name]; ok {
		return ir.FromFunc(fn)
	}
	return nil, fmt.Errorf("unknown method %q", name)
}

// Target is a method and the patches a manifest declares for it, in
// manifest order.
type Target struct {
	Method  *ir.Method
	Patches []*splice.Patch
}

// Build creates the patches of every entry, grouped by method in the order
// the methods first appear.
func (m *Manifest) Build(opts Options) ([]Target, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	targets := make([]Target, 0, len(m.Methods()))
	index := map[string]int{}

	for i, e := range m.Patches {
		pos, ok := index[e.Method]
		if !ok {
			method, err := opts.lookup(e.Method)
			if err != nil {
				return nil, fmt.Errorf("patch %d (%s): %w", i, e, err)
			}
			pos = len(targets)
			index[e.Method] = pos
			targets = append(targets, Target{Method: method})
		}

		p, err := BuildEntry(e, targets[pos].Method, opts)
		if err != nil {
			return nil, fmt.Errorf("patch %d (%s): %w", i, e, err)
		}
		targets[pos].Patches = append(targets[pos].Patches, p)
	}

	return targets, nil
}

var fragmentSeq atomic.Uint64

// BuildEntry creates the patch for one entry against target.
func BuildEntry(e Entry, target *ir.Method, opts Options) (*splice.Patch, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cond, err := compileCondition(e.When)
	if err != nil {
		return nil, err
	}

	owner := e.Owner
	if owner == "" {
		owner = splice.NewOwner()
	}
	patchOpts := []splice.Option{
		splice.Owner(owner),
		splice.Priority(e.Priority),
		splice.Before(e.Before...),
		splice.After(e.After...),
	}

	b := &fragmentBuilder{
		entry:  e,
		target: target,
		cond:   cond,
		logger: opts.Logger,
		name:   fmt.Sprintf("%s·%s·%d", target.Name, e.Kind, fragmentSeq.Add(1)),
	}

	switch e.Kind {
	case SetArg:
		return b.setArg(patchOpts)
	case Skip:
		return b.skip(patchOpts)
	case SetResult:
		return b.setResult(patchOpts)
	case Trace:
		return b.trace(patchOpts)
	case ReplaceException:
		return b.replaceException(patchOpts)
	case ReplaceConst:
		old, err := ir.ParseConst(e.From)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		repl, err := ir.ParseConst(e.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		return splice.NewPatch(splice.Transform, splice.ReplaceConst(old, repl), patchOpts...)
	case RedirectCall:
		from, err := opts.lookup(e.From)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		to, err := opts.lookup(e.To)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		return splice.NewPatch(splice.Transform, splice.RedirectCall(from, to), patchOpts...)
	case Recover:
		return b.recoverAs(patchOpts)
	}
	return nil, fmt.Errorf("unknown kind %q", e.Kind)
}

type fragmentBuilder struct {
	entry  Entry
	target *ir.Method
	cond   *condition
	logger *slog.Logger
	name   string
}

// fragment wraps fn in a Go method with the given signature.
func (b *fragmentBuilder) fragment(in, out []reflect.Type, fn func([]reflect.Value) []reflect.Value) *ir.Method {
	return ir.GoMethod(b.name, reflect.MakeFunc(reflect.FuncOf(in, out, false), fn))
}

// args returns the target's parameter types and Arg bindings for all of
// them.
func (b *fragmentBuilder) args() ([]reflect.Type, []splice.Binding) {
	ins := b.target.Ins()
	bindings := make([]splice.Binding, len(ins))
	for i := range ins {
		bindings[i] = splice.Arg(i)
	}
	return ins, bindings
}

func (b *fragmentBuilder) firstResult() (reflect.Type, error) {
	if b.target.Type.NumOut() == 0 {
		return nil, fmt.Errorf("%s returns nothing", b.target.Name)
	}
	return b.target.Type.Out(0), nil
}

func (b *fragmentBuilder) setArg(opts []splice.Option) (*splice.Patch, error) {
	ins, bindings := b.args()
	i := b.entry.Index
	if i >= len(ins) {
		return nil, fmt.Errorf("argument %d out of range, %s takes %d", i, b.target.Name, len(ins))
	}

	val, err := Convert(b.entry.Value, ins[i])
	if err != nil {
		return nil, err
	}

	in := append([]reflect.Type{reflect.PointerTo(ins[i])}, ins...)
	bindings = append([]splice.Binding{splice.ArgRef(i)}, bindings...)

	fn := b.fragment(in, nil, func(args []reflect.Value) []reflect.Value {
		if b.cond.match(Env{Args: values(args[1:])}) {
			args[0].Elem().Set(val)
		}
		return nil
	})
	return splice.NewPatch(splice.Pre, fn, append(opts, splice.Bind(bindings...))...)
}

func (b *fragmentBuilder) skip(opts []splice.Option) (*splice.Patch, error) {
	in, bindings := b.args()
	n := len(in)

	var result reflect.Value
	if b.entry.Value != nil {
		t, err := b.firstResult()
		if err != nil {
			return nil, err
		}
		if result, err = Convert(b.entry.Value, t); err != nil {
			return nil, err
		}
		in = append(in, reflect.PointerTo(t))
		bindings = append(bindings, splice.ResultRef(0))
	}

	fn := b.fragment(in, []reflect.Type{reflect.TypeFor[bool]()}, func(args []reflect.Value) []reflect.Value {
		if !b.cond.match(Env{Args: values(args[:n])}) {
			return []reflect.Value{reflect.ValueOf(true)}
		}
		if result.IsValid() {
			args[n].Elem().Set(result)
		}
		return []reflect.Value{reflect.ValueOf(false)}
	})
	return splice.NewPatch(splice.Pre, fn, append(opts, splice.Bind(bindings...))...)
}

func (b *fragmentBuilder) setResult(opts []splice.Option) (*splice.Patch, error) {
	t, err := b.firstResult()
	if err != nil {
		return nil, err
	}
	val, err := Convert(b.entry.Value, t)
	if err != nil {
		return nil, err
	}

	in, bindings := b.args()
	n := len(in)
	in = append(in, t)
	bindings = append(bindings, splice.Result(0))

	fn := b.fragment(in, []reflect.Type{t}, func(args []reflect.Value) []reflect.Value {
		if b.cond.match(Env{Args: values(args[:n]), Result: args[n].Interface()}) {
			return []reflect.Value{val}
		}
		return []reflect.Value{args[n]}
	})
	return splice.NewPatch(splice.Post, fn, append(opts, splice.Bind(bindings...))...)
}

func (b *fragmentBuilder) trace(opts []splice.Option) (*splice.Patch, error) {
	in, bindings := b.args()

	msg := b.entry.Message
	if msg == "" {
		msg = "call"
	}

	fn := b.fragment(in, nil, func(args []reflect.Value) []reflect.Value {
		vals := values(args)
		if b.cond.match(Env{Args: vals}) {
			b.logger.Info(msg, "method", b.target.Name, "args", vals)
		}
		return nil
	})
	return splice.NewPatch(splice.Pre, fn, append(opts, splice.Bind(bindings...))...)
}

func (b *fragmentBuilder) replaceException(opts []splice.Option) (*splice.Patch, error) {
	ins, argBindings := b.args()
	in := append([]reflect.Type{errorType}, ins...)
	bindings := append([]splice.Binding{splice.Exception()}, argBindings...)

	// An empty message swallows the exception.
	repl := reflect.New(errorType).Elem()
	if b.entry.Message != "" {
		repl.Set(reflect.ValueOf(errors.New(b.entry.Message)))
	}

	fn := b.fragment(in, []reflect.Type{errorType}, func(args []reflect.Value) []reflect.Value {
		exc := args[0]
		if exc.IsNil() {
			return []reflect.Value{exc}
		}
		env := Env{
			Args:      values(args[1:]),
			Exception: exc.Interface().(error).Error(),
		}
		if !b.cond.match(env) {
			return []reflect.Value{exc}
		}
		return []reflect.Value{repl}
	})
	return splice.NewPatch(splice.Finalize, fn, append(opts, splice.Bind(bindings...))...)
}

func (b *fragmentBuilder) recoverAs(opts []splice.Option) (*splice.Patch, error) {
	results := make([]any, b.target.Type.NumOut())
	if b.entry.Value != nil {
		t, err := b.firstResult()
		if err != nil {
			return nil, err
		}
		v, err := Convert(b.entry.Value, t)
		if err != nil {
			return nil, err
		}
		results[0] = v.Interface()
	}
	return splice.NewPatch(splice.Manipulate, splice.RecoverAs(results...), opts...)
}

func values(args []reflect.Value) []any {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Interface()
	}
	return vals
}

// Convert converts a decoded manifest value to t. YAML and TOML
// decode numbers as int, int64 or float64, so numeric kinds convert to
// each other.
func Convert(v any, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if v == nil {
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		out.Set(rv)
	case isNumeric(rv.Kind()) && isNumeric(t.Kind()):
		out.Set(rv.Convert(t))
	case rv.Kind() == reflect.String && t.Kind() == reflect.String:
		out.Set(rv.Convert(t))
	default:
		return reflect.Value{}, fmt.Errorf("value %v (%T) does not fit %v", v, v, t)
	}
	return out, nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
