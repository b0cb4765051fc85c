package splice

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pboyd/splice/detour"
	"github.com/pboyd/splice/interp"
	"github.com/pboyd/splice/ir"
)

// Backend turns IR methods into callables.
type Backend interface {
	// Compile returns a callable running m's own body.
	Compile(m *ir.Method) (reflect.Value, error)

	// Func returns the entry point for m, honoring installed detours.
	Func(m *ir.Method) (reflect.Value, error)
}

// Options configures a Patcher. Zero fields get defaults.
type Options struct {
	// Registry holds the patch sets. Defaults to a new registry.
	Registry *Registry

	// Detourer installs replacements. Defaults to a detour.Mux that
	// patches Go functions natively and redirects IR methods in a table.
	Detourer detour.Detourer

	// Backend compiles synthesized bodies. Defaults to the interpreter,
	// resolving calls through the Detourer when it can.
	Backend Backend

	// Logger receives diagnostics. Defaults to discarding them.
	Logger *slog.Logger
}

// Patcher composes patches into replacement bodies and activates them.
type Patcher struct {
	registry *Registry
	detourer detour.Detourer
	backend  Backend
	logger   *slog.Logger

	mu       sync.Mutex
	active   map[ir.MethodID]*activeDetour
	pristine map[ir.MethodID]*ir.Method
}

// activeDetour is the redirection of one method. The dispatcher is
// installed once; updates swap current.
type activeDetour struct {
	mu        sync.Mutex
	method    *ir.Method
	dispatch  reflect.Value
	current   atomic.Pointer[reflect.Value]
	installed bool
	version   uint64
	body      *ir.Body
}

// New returns a Patcher. Zero fields of opts get their defaults.
func New(opts Options) *Patcher {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Detourer == nil {
		opts.Detourer = detour.NewMux(detour.NewTable(), detour.NewNative())
	}
	if opts.Backend == nil {
		resolver, _ := opts.Detourer.(interp.Resolver)
		opts.Backend = interp.New(resolver)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Patcher{
		registry: opts.Registry,
		detourer: opts.Detourer,
		backend:  opts.Backend,
		logger:   opts.Logger,
		active:   make(map[ir.MethodID]*activeDetour),
		pristine: make(map[ir.MethodID]*ir.Method),
	}
}

// Registry returns the patcher's registry.
func (p *Patcher) Registry() *Registry {
	return p.registry
}

func (p *Patcher) record(m *ir.Method) *activeDetour {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.active[m.ID()]
	if !ok {
		a = &activeDetour{method: m}
		a.dispatch = reflect.MakeFunc(m.Type, func(args []reflect.Value) []reflect.Value {
			return callValue(*a.current.Load(), args)
		})
		p.active[m.ID()] = a
	}
	return a
}

func (p *Patcher) lookupRecord(id ir.MethodID) (*activeDetour, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.active[id]
	return a, ok
}

// Patch registers patches for m and applies them. If applying fails the
// patches are unregistered again.
func (p *Patcher) Patch(m *ir.Method, patches ...*Patch) (reflect.Value, error) {
	set := p.registry.GetOrCreate(m)
	if err := set.Add(patches...); err != nil {
		return reflect.Value{}, err
	}

	fn, err := p.Apply(m)
	if err != nil {
		for _, patch := range patches {
			set.Remove(patch)
		}
		return reflect.Value{}, err
	}
	return fn, nil
}

// Apply builds m's replacement from its current patch set and activates
// it. Nothing is rebuilt when the set hasn't changed since the last Apply.
// The result calls the patched method.
//
// On error the previously active replacement, if any, stays in place.
func (p *Patcher) Apply(m *ir.Method) (reflect.Value, error) {
	set := p.registry.GetOrCreate(m)
	a := p.record(m)

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := set.Snapshot()
	if a.installed && a.version == snap.Version {
		return a.dispatch, nil
	}

	plan := BuildPlan(m.ID(), snap)
	for _, c := range plan.Cycles {
		p.logger.Warn("ordering cycle", "method", m.ID(), "role", c.Role, "owners", c.Owners)
	}

	base, err := p.PrepareOriginal(m)
	if err != nil {
		return reflect.Value{}, err
	}

	body, err := Synthesize(m, base, plan)
	if err != nil {
		return reflect.Value{}, err
	}

	fn, err := p.backend.Compile(m.Derive("patched", body))
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: compiling replacement: %w", m.ID(), err)
	}

	if a.installed {
		a.current.Store(&fn)
	} else {
		prev := a.current.Swap(&fn)
		if err := p.detourer.Install(m, a.dispatch); err != nil {
			a.current.Store(prev)
			return reflect.Value{}, &ActivationError{Method: m.ID(), Err: err}
		}
		a.installed = true
	}

	a.version = snap.Version
	a.body = body

	p.logger.Debug("activated", "method", m.ID(), "version", snap.Version, "patches", snap.Len())
	return a.dispatch, nil
}

// Update is Apply without the callable.
func (p *Patcher) Update(m *ir.Method) error {
	_, err := p.Apply(m)
	return err
}

// Remove unregisters patch from m and updates the replacement. When the
// last patch goes, the detour is reverted. It reports whether the patch
// was registered for m.
func (p *Patcher) Remove(m *ir.Method, patch *Patch) (bool, error) {
	set, ok := p.registry.Lookup(m.ID())
	if !ok || !set.Remove(patch) {
		return false, nil
	}
	return true, p.revertOrUpdate(m, set)
}

// Unpatch removes every patch from m and reverts its detour.
func (p *Patcher) Unpatch(m *ir.Method) error {
	set, ok := p.registry.Lookup(m.ID())
	if ok {
		set.Clear()
	}
	return p.revertOrUpdate(m, set)
}

// revertOrUpdate reverts m's detour if set is nil or empty, and updates
// the replacement otherwise. Emptiness is checked under the record's lock,
// so a concurrent Patch either lands first and is applied, or waits and
// reinstalls the detour.
func (p *Patcher) revertOrUpdate(m *ir.Method, set *PatchSet) error {
	reverted, err := p.revert(m, set)
	if err != nil || reverted {
		return err
	}
	if set == nil || set.Len() == 0 {
		return nil
	}
	return p.Update(m)
}

// revert reverts m's detour when set is nil or empty. It reports false
// when patches were registered in the meantime.
func (p *Patcher) revert(m *ir.Method, set *PatchSet) (bool, error) {
	a, ok := p.lookupRecord(m.ID())
	if !ok {
		return false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if set != nil && set.Len() > 0 {
		return false, nil
	}
	if !a.installed {
		return true, nil
	}

	// current is left alone so calls already in the dispatcher finish.
	if err := p.detourer.Revert(m); err != nil {
		return false, fmt.Errorf("%s: revert: %w", m.ID(), err)
	}
	a.installed = false
	a.body = nil

	p.logger.Debug("reverted", "method", m.ID())
	return true, nil
}

// Func returns the entry point of m as the backend sees it, including any
// active replacement.
func (p *Patcher) Func(m *ir.Method) (reflect.Value, error) {
	return p.backend.Func(m)
}

// PrepareOriginal returns the base body that replacements are built on.
// For IR methods it is a copy of the body. For Go functions it forwards
// the arguments to a pristine copy of the function.
func (p *Patcher) PrepareOriginal(m *ir.Method) (*ir.Body, error) {
	switch {
	case m.Body != nil:
		return m.Body.Clone(), nil
	case m.IsGo():
		pristine, err := p.pristineCopy(m)
		if err != nil {
			return nil, err
		}

		body := &ir.Body{}
		b := ir.NewBuilder(body)
		for i := range m.Type.NumIn() {
			b.Emit(ir.LdArg, i)
		}
		b.Emit(ir.Call, pristine)
		b.Emit(ir.Ret, nil)
		return b.Body(), nil
	}
	return nil, &UnsupportedBodyError{Method: m.ID()}
}

// CopyOriginal returns a standalone method that behaves like m did before
// it was patched.
func (p *Patcher) CopyOriginal(m *ir.Method) (*ir.Method, error) {
	switch {
	case m.Body != nil:
		return m.Derive("original", m.Body.Clone()), nil
	case m.IsGo():
		return p.pristineCopy(m)
	}
	return nil, &UnsupportedBodyError{Method: m.ID()}
}

func (p *Patcher) pristineCopy(m *ir.Method) (*ir.Method, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pristine, ok := p.pristine[m.ID()]; ok {
		return pristine, nil
	}

	cloner, ok := p.detourer.(detour.Cloner)
	if !ok {
		return nil, &UnsupportedBodyError{Method: m.ID(), Err: errors.New("detourer can't copy Go functions")}
	}
	fn, err := cloner.Copy(m)
	if err != nil {
		return nil, &UnsupportedBodyError{Method: m.ID(), Err: err}
	}

	pristine := ir.GoMethod(m.Name+"·original", fn)
	pristine.Receiver = m.Receiver
	p.pristine[m.ID()] = pristine
	return pristine, nil
}

// Preview synthesizes m's replacement from its current patch set without
// activating it.
func (p *Patcher) Preview(m *ir.Method) (*ir.Body, *Plan, error) {
	snap := p.registry.GetOrCreate(m).Snapshot()
	plan := BuildPlan(m.ID(), snap)

	base, err := p.PrepareOriginal(m)
	if err != nil {
		return nil, plan, err
	}
	body, err := Synthesize(m, base, plan)
	return body, plan, err
}

// PatchInfo describes one registered patch.
type PatchInfo struct {
	Role     Role
	Owner    string
	Priority int
	Before   []string
	After    []string
}

// MethodInfo describes the patches of a method, in execution order.
type MethodInfo struct {
	Method  ir.MethodID
	Active  bool
	Version uint64
	Patches []PatchInfo
	Cycles  []*SortCycleError
}

// Info reports the patches registered for m and whether a replacement is
// active.
func (p *Patcher) Info(m *ir.Method) MethodInfo {
	info := MethodInfo{Method: m.ID()}

	if set, ok := p.registry.Lookup(m.ID()); ok {
		plan := BuildPlan(m.ID(), set.Snapshot())
		for _, r := range Roles {
			for _, patch := range plan.Patches(r) {
				info.Patches = append(info.Patches, PatchInfo{
					Role:     patch.role,
					Owner:    patch.owner,
					Priority: patch.priority,
					Before:   patch.Before(),
					After:    patch.After(),
				})
			}
		}
		info.Cycles = plan.Cycles
	}

	if a, ok := p.lookupRecord(m.ID()); ok {
		a.mu.Lock()
		info.Active = a.installed
		info.Version = a.version
		a.mu.Unlock()
	}

	return info
}

// Body returns the active replacement body of m, or nil.
func (p *Patcher) Body(m *ir.Method) *ir.Body {
	a, ok := p.lookupRecord(m.ID())
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.body
}

// callValue calls fn with args as a reflect.MakeFunc implementation
// receives them.
func callValue(fn reflect.Value, args []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(args)
	}
	return fn.Call(args)
}
