package splice

import (
	"fmt"
	"reflect"

	"github.com/pboyd/splice/ir"
)

// Synthesize builds the composed body of original from its base body and
// a plan.
//
// The layout is:
//
//	runOriginal = true
//	.try                        (only with finalizers)
//	    pre fragments           (a false return leaves to after)
//	    transformed body        (each ret stores the results and leaves)
//	.catch
//	    exception = caught
//	.end
//	after:
//	    finalizers, each in its own try/catch
//	    if exception != nil: throw exception
//	    post fragments
//	    return results
func Synthesize(original *ir.Method, base *ir.Body, plan *Plan) (*ir.Body, error) {
	if base == nil {
		return nil, &UnsupportedBodyError{Method: original.ID()}
	}

	for _, r := range []Role{Pre, Post, Finalize} {
		for _, p := range plan.Patches(r) {
			if err := p.check(original); err != nil {
				return nil, err
			}
		}
	}

	body, err := transformBody(original, base, plan.Patches(Transform), plan.Patches(Manipulate))
	if err != nil {
		return nil, err
	}

	s := newSynth(original, body)
	s.build(plan)
	return s.body, nil
}

// transformBody runs transforms and then manipulators over a copy of base.
func transformBody(original *ir.Method, base *ir.Body, transforms, manipulators []*Patch) (*ir.Body, error) {
	body := base.Clone()

	for _, p := range transforms {
		err := guard(original, p, func() error {
			instrs, err := p.transform(body.Instrs, body, original)
			if err != nil {
				return err
			}
			body.Instrs = instrs
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for _, p := range manipulators {
		err := guard(original, p, func() error {
			return p.manipulate(body, original)
		})
		if err != nil {
			return nil, err
		}
	}

	return body, nil
}

// guard runs a fragment at build time, turning errors and panics into a
// FragmentError.
func guard(original *ir.Method, p *Patch, fn func() error) (err error) {
	wrap := func(cause error) error {
		return &FragmentError{Method: original.ID(), Role: p.role, Owner: p.owner, Err: cause}
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = wrap(fmt.Errorf("panic: %w", e))
			} else {
				err = wrap(fmt.Errorf("panic: %v", r))
			}
		}
	}()

	if err := fn(); err != nil {
		return wrap(err)
	}
	return nil
}

type stateKey struct {
	owner string
	typ   reflect.Type
}

type synth struct {
	original *ir.Method
	body     *ir.Body
	inner    []ir.Instruction
	em       *ir.Builder

	results     []*ir.Local
	exception   *ir.Local
	runOriginal *ir.Local
	state       map[stateKey]*ir.Local
}

func newSynth(original *ir.Method, body *ir.Body) *synth {
	s := &synth{
		original: original,
		body:     body,
		inner:    body.Instrs,
		state:    make(map[stateKey]*ir.Local),
	}
	body.Instrs = nil
	s.em = ir.NewBuilder(body)

	for i, t := range original.Outs() {
		s.results = append(s.results, body.DeclareLocal(t, fmt.Sprintf("result%d", i)))
	}
	s.exception = body.DeclareLocal(errorType, "exception")
	s.runOriginal = body.DeclareLocal(boolType, "runOriginal")
	return s
}

func (s *synth) build(plan *Plan) {
	em := s.em
	finalizers := plan.Patches(Finalize)
	protected := len(finalizers) > 0
	after := em.DefineLabel()

	em.Emit(ir.LdConst, true)
	em.Emit(ir.StLoc, s.runOriginal)

	if protected {
		em.Block(ir.BeginTry)
	}

	for _, p := range plan.Patches(Pre) {
		s.call(p)
		if p.skips() {
			next := em.DefineLabel()
			em.Emit(ir.BrTrue, next)
			em.Emit(ir.LdConst, false)
			em.Emit(ir.StLoc, s.runOriginal)
			em.Emit(ir.Leave, after)
			em.Mark(next)
		}
	}

	for _, in := range s.inner {
		if in.Op != ir.Ret {
			em.Append(in)
			continue
		}

		// The results are on the stack, last on top.
		var exit []ir.Instruction
		for i := len(s.results) - 1; i >= 0; i-- {
			exit = append(exit, ir.Instr(ir.StLoc, s.results[i]))
		}
		exit = append(exit, ir.Instr(ir.Leave, after))
		exit[0].Labels = in.Labels
		exit[0].Blocks = in.Blocks
		em.Append(exit...)
	}
	em.Emit(ir.Leave, after)

	if protected {
		em.Block(ir.BeginCatch)
		em.Emit(ir.StLoc, s.exception)
		em.Emit(ir.Leave, after)
		em.Block(ir.EndBlock)
	}

	em.Mark(after)
	em.Emit(ir.Nop, nil)

	for _, p := range finalizers {
		done := em.DefineLabel()
		em.Block(ir.BeginTry)
		s.call(p)
		if p.returns() {
			em.Emit(ir.StLoc, s.exception)
		}
		em.Emit(ir.Leave, done)
		em.Block(ir.BeginCatch)
		em.Emit(ir.StLoc, s.exception)
		em.Emit(ir.Leave, done)
		em.Block(ir.EndBlock)
		em.Mark(done)
		em.Emit(ir.Nop, nil)
	}

	if protected {
		ok := em.DefineLabel()
		em.Emit(ir.LdLoc, s.exception)
		em.Emit(ir.BrFalse, ok)
		em.Emit(ir.LdLoc, s.exception)
		em.Emit(ir.Throw, nil)
		em.Mark(ok)
	}

	for _, p := range plan.Patches(Post) {
		s.call(p)
		if p.returns() {
			em.Emit(ir.StLoc, s.results[0])
		}
	}

	for _, r := range s.results {
		em.Emit(ir.LdLoc, r)
	}
	em.Emit(ir.Ret, nil)
}

// call loads the fragment's bindings and calls it.
func (s *synth) call(p *Patch) {
	em := s.em
	for i, b := range p.bindings {
		switch b.Kind {
		case BindArg, BindInstance:
			em.Emit(ir.LdArg, b.Index)
		case BindArgRef:
			em.Emit(ir.LdArgA, b.Index)
		case BindResult:
			em.Emit(ir.LdLoc, s.results[b.Index])
		case BindResultRef:
			em.Emit(ir.LdLocA, s.results[b.Index])
		case BindException:
			em.Emit(ir.LdLoc, s.exception)
		case BindExceptionRef:
			em.Emit(ir.LdLocA, s.exception)
		case BindOriginal:
			em.Emit(ir.LdConst, s.original)
		case BindRunOriginal:
			em.Emit(ir.LdLoc, s.runOriginal)
		case BindState:
			em.Emit(ir.LdLocA, s.stateLocal(p.owner, p.call.Type.In(i).Elem()))
		}
	}
	em.Emit(ir.Call, p.call)
}

func (s *synth) stateLocal(owner string, t reflect.Type) *ir.Local {
	key := stateKey{owner: owner, typ: t}
	if l, ok := s.state[key]; ok {
		return l
	}
	l := s.body.DeclareLocal(t, fmt.Sprintf("state%d", len(s.state)))
	s.state[key] = l
	return l
}
