package splice

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pboyd/splice/ir"
)

// ReverseMode selects which transforms a reverse patch sees.
type ReverseMode uint8

const (
	// ReverseSnapshot applies the transforms and manipulators registered
	// for the original at the time Reverse is called.
	ReverseSnapshot ReverseMode = iota

	// ReverseLive rebuilds the stand-in whenever the original's patch set
	// changes.
	ReverseLive

	// ReversePristine applies only the transforms given in the options.
	ReversePristine
)

func (m ReverseMode) String() string {
	switch m {
	case ReverseSnapshot:
		return "snapshot"
	case ReverseLive:
		return "live"
	case ReversePristine:
		return "pristine"
	}
	return fmt.Sprintf("ReverseMode(%d)", m)
}

// ReverseOptions configures Reverse.
type ReverseOptions struct {
	Mode ReverseMode

	// Transforms and Manipulators run after the registered ones, in
	// order.
	Transforms   []TransformFunc
	Manipulators []ManipulateFunc
}

const reverseOwner = "reverse"

// Reverse makes standin run the body of original, rewritten by the
// original's transforms and manipulators. Pre, Post and Finalize patches
// are not applied. The stand-in must have the original's signature.
//
// The result is installed on standin through the detourer and returned.
func (p *Patcher) Reverse(standin, original *ir.Method, opts ReverseOptions) (reflect.Value, error) {
	if err := ir.CompareSignatures(standin.Type, original.Type); err != nil {
		return reflect.Value{}, fmt.Errorf("%s to %s: %w: %w", original.ID(), standin.ID(), ErrSignatureMismatch, err)
	}

	var (
		fn  reflect.Value
		err error
	)
	if opts.Mode == ReverseLive {
		fn, err = p.liveReverse(standin, original, opts)
	} else {
		fn, err = p.compileReverse(standin, original, opts)
	}
	if err != nil {
		return reflect.Value{}, err
	}

	if err := p.detourer.Install(standin, fn); err != nil {
		return reflect.Value{}, &ActivationError{Method: standin.ID(), Err: err}
	}

	p.logger.Debug("reverse patched", "method", original.ID(), "standin", standin.ID(), "mode", opts.Mode)
	return fn, nil
}

func (p *Patcher) compileReverse(standin, original *ir.Method, opts ReverseOptions) (reflect.Value, error) {
	body, err := p.reverseBody(original, opts)
	if err != nil {
		return reflect.Value{}, err
	}

	fn, err := p.backend.Compile(standin.Derive("reverse", body))
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: compiling reverse patch: %w", standin.ID(), err)
	}
	return fn, nil
}

func (p *Patcher) reverseBody(original *ir.Method, opts ReverseOptions) (*ir.Body, error) {
	base, err := p.PrepareOriginal(original)
	if err != nil {
		return nil, err
	}

	var transforms, manipulators []*Patch
	if opts.Mode != ReversePristine {
		if set, ok := p.registry.Lookup(original.ID()); ok {
			plan := BuildPlan(original.ID(), set.Snapshot())
			transforms = plan.Patches(Transform)
			manipulators = plan.Patches(Manipulate)
		}
	}
	for _, t := range opts.Transforms {
		transforms = append(transforms, &Patch{role: Transform, owner: reverseOwner, transform: t})
	}
	for _, m := range opts.Manipulators {
		manipulators = append(manipulators, &Patch{role: Manipulate, owner: reverseOwner, manipulate: m})
	}

	body, err := transformBody(original, base, transforms, manipulators)
	if err != nil {
		return nil, err
	}

	terminate(body, original)
	return body, nil
}

// terminate makes a body that can fall off its end return zero values.
func terminate(body *ir.Body, m *ir.Method) {
	if n := len(body.Instrs); n > 0 && body.Instrs[n-1].Op.IsTerminal() {
		return
	}

	b := ir.NewBuilder(body)
	for _, t := range m.Outs() {
		b.Emit(ir.LdZero, t)
	}
	b.Emit(ir.Ret, nil)
}

type liveBuild struct {
	version uint64
	fn      reflect.Value
}

// liveReverse returns a dispatcher that rebuilds the reverse patch when
// the original's patch set changes. The first build happens now so errors
// surface from Reverse.
func (p *Patcher) liveReverse(standin, original *ir.Method, opts ReverseOptions) (reflect.Value, error) {
	set := p.registry.GetOrCreate(original)

	var (
		mu      sync.Mutex
		current atomic.Pointer[liveBuild]
	)
	build := func() (*liveBuild, error) {
		mu.Lock()
		defer mu.Unlock()

		version := set.Version()
		if cur := current.Load(); cur != nil && cur.version == version {
			return cur, nil
		}

		fn, err := p.compileReverse(standin, original, opts)
		if err != nil {
			return nil, err
		}
		lb := &liveBuild{version: version, fn: fn}
		current.Store(lb)
		return lb, nil
	}

	if _, err := build(); err != nil {
		return reflect.Value{}, err
	}

	return reflect.MakeFunc(standin.Type, func(args []reflect.Value) []reflect.Value {
		lb := current.Load()
		if lb.version != set.Version() {
			var err error
			lb, err = build()
			if err != nil {
				p.logger.Error("rebuilding reverse patch", "method", original.ID(), "standin", standin.ID(), "err", err)
				panic(err)
			}
		}
		return callValue(lb.fn, args)
	}), nil
}
