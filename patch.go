package splice

import (
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pboyd/splice/ir"
)

// Role is the part a patch fragment plays in the composed method.
type Role uint8

const (
	// Pre fragments run before the original body. A Pre fragment that
	// returns false skips the rest of the Pre fragments and the body.
	Pre Role = iota

	// Post fragments run after the body, in reverse order, unless an
	// exception escaped.
	Post

	// Transform fragments rewrite the body's instruction stream.
	Transform

	// Finalize fragments always run, in reverse order, and see the
	// exception raised by the Pre fragments or the body.
	Finalize

	// Manipulate fragments edit the body structure after the transforms.
	Manipulate

	numRoles
)

var roleNames = [numRoles]string{"pre", "post", "transform", "finalize", "manipulate"}

// Roles lists every role in the order a plan keeps them.
var Roles = []Role{Pre, Post, Transform, Finalize, Manipulate}

func (r Role) String() string {
	if r < numRoles {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", r)
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// TransformFunc maps an instruction stream to a new one. New labels and
// locals come from gen.
type TransformFunc func(instrs []ir.Instruction, gen ir.Generator, original *ir.Method) ([]ir.Instruction, error)

// ManipulateFunc edits a body in place.
type ManipulateFunc func(body *ir.Body, original *ir.Method) error

// Patch describes one fragment. It is immutable once created and belongs
// to at most one PatchSet at a time.
type Patch struct {
	role     Role
	owner    string
	priority int
	before   []string
	after    []string
	bindings []Binding
	fragment any

	call       *ir.Method
	transform  TransformFunc
	manipulate ManipulateFunc

	set atomic.Pointer[PatchSet]
}

// Option configures a Patch.
type Option func(*Patch)

// Owner sets the identity that before/after constraints refer to.
func Owner(owner string) Option {
	return func(p *Patch) { p.owner = owner }
}

// Priority sets the priority. Higher runs earlier.
func Priority(priority int) Option {
	return func(p *Patch) { p.priority = priority }
}

// Before makes the patch run before patches of the given owners.
func Before(owners ...string) Option {
	return func(p *Patch) { p.before = append(p.before, owners...) }
}

// After makes the patch run after patches of the given owners.
func After(owners ...string) Option {
	return func(p *Patch) { p.after = append(p.after, owners...) }
}

// Bind sets the binding of each fragment parameter, in order.
func Bind(bindings ...Binding) Option {
	return func(p *Patch) { p.bindings = append(p.bindings, bindings...) }
}

// NewOwner returns a unique owner identity, used for patches created
// without one.
func NewOwner() string {
	return "anon-" + uuid.NewString()
}

// NewPatch creates a patch.
//
// Pre, Post and Finalize fragments are Go functions or IR methods. Each
// parameter needs a Binding; without Bind, parameter i binds to Arg(i).
// Transform fragments are TransformFuncs and Manipulate fragments are
// ManipulateFuncs.
func NewPatch(role Role, fragment any, opts ...Option) (*Patch, error) {
	p := &Patch{role: role, fragment: fragment}
	for _, opt := range opts {
		opt(p)
	}
	if p.owner == "" {
		p.owner = NewOwner()
	}

	switch role {
	case Transform:
		switch f := fragment.(type) {
		case TransformFunc:
			p.transform = f
		case func([]ir.Instruction, ir.Generator, *ir.Method) ([]ir.Instruction, error):
			p.transform = f
		default:
			return nil, fmt.Errorf("transform fragment must be a TransformFunc, got %T", fragment)
		}
		if p.transform == nil {
			return nil, fmt.Errorf("nil transform fragment")
		}
	case Manipulate:
		switch f := fragment.(type) {
		case ManipulateFunc:
			p.manipulate = f
		case func(*ir.Body, *ir.Method) error:
			p.manipulate = f
		default:
			return nil, fmt.Errorf("manipulate fragment must be a ManipulateFunc, got %T", fragment)
		}
		if p.manipulate == nil {
			return nil, fmt.Errorf("nil manipulate fragment")
		}
	case Pre, Post, Finalize:
		switch f := fragment.(type) {
		case *ir.Method:
			if f == nil {
				return nil, fmt.Errorf("nil fragment")
			}
			p.call = f
		default:
			m, err := ir.FromFunc(fragment)
			if err != nil {
				return nil, err
			}
			p.call = m
		}
		if p.bindings == nil {
			for i := range p.call.Type.NumIn() {
				p.bindings = append(p.bindings, Arg(i))
			}
		}
	default:
		return nil, fmt.Errorf("invalid role %v", role)
	}

	if len(p.bindings) > 0 && p.call == nil {
		return nil, fmt.Errorf("%v fragments take no bindings", role)
	}

	return p, nil
}

// MustPatch is like NewPatch but panics on error.
func MustPatch(role Role, fragment any, opts ...Option) *Patch {
	p, err := NewPatch(role, fragment, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Role returns the stage the fragment runs in.
func (p *Patch) Role() Role { return p.role }

// Owner returns the name Before and After constraints refer to.
func (p *Patch) Owner() string { return p.owner }

// Priority returns the patch's priority. Higher runs earlier.
func (p *Patch) Priority() int { return p.priority }

// Before returns the owners this patch must run before.
func (p *Patch) Before() []string { return slices.Clone(p.before) }

// After returns the owners this patch must run after.
func (p *Patch) After() []string { return slices.Clone(p.after) }

// Bindings returns one binding per fragment parameter.
func (p *Patch) Bindings() []Binding { return slices.Clone(p.bindings) }

// Fragment returns the callable the patch was created with.
func (p *Patch) Fragment() any { return p.fragment }

// Set returns the patch set the patch belongs to, or nil.
func (p *Patch) Set() *PatchSet {
	return p.set.Load()
}

func (p *Patch) String() string {
	return fmt.Sprintf("%v[%s prio=%d]", p.role, p.owner, p.priority)
}

// check validates the fragment against the original's signature.
func (p *Patch) check(original *ir.Method) error {
	if p.call == nil {
		return nil
	}

	fail := func(param int, format string, args ...any) error {
		return &FragmentSignatureError{
			Method: original.ID(),
			Role:   p.role,
			Owner:  p.owner,
			Param:  param,
			Err:    fmt.Errorf(format, args...),
		}
	}

	t := p.call.Type
	if t.IsVariadic() {
		return fail(-1, "variadic fragments are not supported")
	}
	if len(p.bindings) != t.NumIn() {
		return fail(-1, "%d bindings for %d parameters", len(p.bindings), t.NumIn())
	}

	for i, b := range p.bindings {
		if err := b.check(p.role, original, t.In(i)); err != nil {
			return fail(i, "%v: %w", b, err)
		}
	}

	switch p.role {
	case Pre:
		if t.NumOut() > 1 || (t.NumOut() == 1 && t.Out(0).Kind() != reflect.Bool) {
			return fail(-1, "pre fragments return nothing or bool")
		}
	case Post:
		switch {
		case t.NumOut() == 0:
		case t.NumOut() > 1:
			return fail(-1, "post fragments return at most one value")
		case original.Type.NumOut() == 0:
			return fail(-1, "original returns nothing, post fragment returns %v", t.Out(0))
		case !t.Out(0).AssignableTo(original.Type.Out(0)):
			return fail(-1, "%v is not assignable to result %v", t.Out(0), original.Type.Out(0))
		}
	case Finalize:
		if t.NumOut() > 1 || (t.NumOut() == 1 && t.Out(0) != errorType) {
			return fail(-1, "finalize fragments return nothing or error")
		}
	}

	return nil
}

// skips reports whether a Pre fragment can skip the original.
func (p *Patch) skips() bool {
	return p.role == Pre && p.call.Type.NumOut() == 1
}

// returns reports whether a Post or Finalize fragment returns a value.
func (p *Patch) returns() bool {
	return p.call != nil && p.call.Type.NumOut() == 1
}
