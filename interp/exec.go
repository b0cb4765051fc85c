package interp

import (
	"errors"
	"reflect"

	"github.com/pboyd/splice/ir"
)

type instr struct {
	op     ir.Op
	index  int // argument, local or branch target
	value  reflect.Value
	typ    reflect.Type
	callee *ir.Method
}

type program struct {
	vm      *Machine
	name    string
	code    []instr
	regions []ir.Region
	locals  []reflect.Type
	ins     []reflect.Type
	outs    []reflect.Type
}

func (vm *Machine) compile(m *ir.Method) (*program, error) {
	if err := ir.Validate(m); err != nil {
		return nil, err
	}

	b := m.Body
	targets, err := b.Targets()
	if err != nil {
		return nil, err
	}
	regions, err := b.Regions()
	if err != nil {
		return nil, err
	}

	p := &program{
		vm:      vm,
		name:    m.Name,
		code:    make([]instr, len(b.Instrs)),
		regions: regions,
		locals:  make([]reflect.Type, len(b.Locals)),
		ins:     m.Ins(),
		outs:    m.Outs(),
	}

	localIndex := make(map[*ir.Local]int, len(b.Locals))
	for i, l := range b.Locals {
		localIndex[l] = i
		p.locals[i] = l.Type
	}

	for i, in := range b.Instrs {
		c := instr{op: in.Op}
		switch in.Op {
		case ir.LdArg, ir.LdArgA, ir.StArg:
			c.index = in.Arg.(int)
		case ir.LdLoc, ir.LdLocA, ir.StLoc:
			c.index = localIndex[in.Arg.(*ir.Local)]
		case ir.LdConst:
			c.value = reflect.ValueOf(in.Arg)
		case ir.LdZero:
			c.typ = in.Arg.(reflect.Type)
		case ir.Call:
			c.callee = in.Arg.(*ir.Method)
		case ir.Br, ir.BrTrue, ir.BrFalse, ir.Leave:
			c.index = targets[in.Arg.(ir.Label)]
		}
		p.code[i] = c
	}

	return p, nil
}

// escape carries an exception that no region in the frame handles. It
// unwinds nested handler executions and is turned back into the original
// panic when it leaves the frame.
type escape struct {
	err error
}

type frame struct {
	p        *program
	args     []reflect.Value
	locals   []reflect.Value
	stack    []reflect.Value
	handling []error // exception being handled, per catch region
}

func (p *program) call(args []reflect.Value) []reflect.Value {
	f := &frame{
		p:        p,
		args:     make([]reflect.Value, len(p.ins)),
		locals:   make([]reflect.Value, len(p.locals)),
		handling: make([]error, len(p.regions)),
	}
	for i, a := range args {
		f.args[i] = convert(ir.LdArg, p.ins[i], a)
	}
	for i, t := range p.locals {
		f.locals[i] = reflect.New(t).Elem()
	}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*escape); ok {
				raise(e.err)
			}
			panic(r)
		}
	}()

	results, returned := f.exec(0)
	if !returned {
		panic(ErrBadEndFinally)
	}
	return results
}

type eventKind int

const (
	evReturn eventKind = iota
	evEndFinally
	evThrow
)

type event struct {
	kind    eventKind
	pc      int
	results []reflect.Value
	err     error
}

// exec runs from pc until the method returns, which reports true, or until
// a finally handler ends, which reports false.
func (f *frame) exec(pc int) ([]reflect.Value, bool) {
	for {
		ev := f.run(pc)
		switch ev.kind {
		case evReturn:
			return ev.results, true
		case evEndFinally:
			return nil, false
		}

		next, results, returned, handled := f.unwind(ev.pc, ev.err)
		if returned {
			return results, true
		}
		if !handled {
			panic(&escape{err: ev.err})
		}
		pc = next
	}
}

// unwind looks for a handler for an exception raised at pc, running
// finally handlers on the way.
func (f *frame) unwind(pc int, err error) (next int, results []reflect.Value, returned, handled bool) {
	for i, r := range f.p.regions {
		if !inTry(r, pc) {
			continue
		}

		switch r.Kind {
		case ir.BeginCatch:
			f.handling[i] = err
			f.stack = append(f.stack[:0], reflect.ValueOf(&err).Elem())
			return r.HandlerStart, nil, false, true
		case ir.BeginFinally:
			f.stack = f.stack[:0]
			if results, returned := f.exec(r.HandlerStart); returned {
				return 0, results, true, true
			}
		}
	}
	return 0, nil, false, false
}

// leaveFinally runs the finally handlers of every region that contains from
// but not to, innermost first. to is -1 when the method returns.
func (f *frame) leaveFinally(from, to int) ([]reflect.Value, bool) {
	for _, r := range f.p.regions {
		if r.Kind != ir.BeginFinally || !inTry(r, from) || (to >= 0 && inTry(r, to)) {
			continue
		}
		if results, returned := f.exec(r.HandlerStart); returned {
			return results, true
		}
	}
	return nil, false
}

func inTry(r ir.Region, pc int) bool {
	return pc >= r.TryStart && pc < r.TryEnd
}

// run executes instructions until the method returns, a finally handler
// ends, or an exception is raised.
func (f *frame) run(pc int) (ev event) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*escape); ok {
				panic(e)
			}
			ev = event{kind: evThrow, pc: pc, err: toError(r)}
		}
	}()

	code := f.p.code
	for {
		in := &code[pc]

		switch in.op {
		case ir.Nop:
		case ir.LdArg:
			f.push(copyValue(f.args[in.index]))
		case ir.LdArgA:
			f.push(f.args[in.index].Addr())
		case ir.StArg:
			assign(in.op, f.args[in.index], f.pop())
		case ir.LdLoc:
			f.push(copyValue(f.locals[in.index]))
		case ir.LdLocA:
			f.push(f.locals[in.index].Addr())
		case ir.StLoc:
			assign(in.op, f.locals[in.index], f.pop())
		case ir.LdConst:
			f.push(in.value)
		case ir.LdZero:
			f.push(reflect.Zero(in.typ))
		case ir.Call:
			f.call(in.callee)
		case ir.Ret:
			results := f.popResults()
			if res, returned := f.leaveFinally(pc, -1); returned {
				return event{kind: evReturn, results: res}
			}
			return event{kind: evReturn, results: results}
		case ir.Br:
			pc = in.index
			continue
		case ir.BrTrue:
			if truthy(f.pop()) {
				pc = in.index
				continue
			}
		case ir.BrFalse:
			if !truthy(f.pop()) {
				pc = in.index
				continue
			}
		case ir.Leave:
			if res, returned := f.leaveFinally(pc, in.index); returned {
				return event{kind: evReturn, results: res}
			}
			f.stack = f.stack[:0]
			pc = in.index
			continue
		case ir.Throw:
			throw(f.pop())
		case ir.Rethrow:
			f.rethrow(pc)
		case ir.EndFinally:
			return event{kind: evEndFinally}
		case ir.Pop:
			f.pop()
		case ir.Dup:
			v := f.pop()
			f.push(v)
			f.push(v)
		case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.Rem:
			b := f.pop()
			a := f.pop()
			f.push(arith(in.op, a, b))
		case ir.Neg:
			f.push(negate(f.pop()))
		case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
			b := f.pop()
			a := f.pop()
			f.push(reflect.ValueOf(compare(in.op, a, b)))
		case ir.Not:
			f.push(reflect.ValueOf(!truthy(f.pop())))
		case ir.Deref:
			f.push(copyValue(f.pop().Elem()))
		case ir.StInd:
			v := f.pop()
			ptr := f.pop()
			assign(in.op, ptr.Elem(), v)
		default:
			panic(&TypeError{Op: in.op})
		}

		pc++
	}
}

func (f *frame) call(callee *ir.Method) {
	fn, err := f.p.vm.Func(callee)
	if err != nil {
		panic(err)
	}

	t := fn.Type()
	args := make([]reflect.Value, t.NumIn())
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = convert(ir.Call, t.In(i), f.pop())
	}

	f.stack = append(f.stack, callFunc(fn, args)...)
}

func (f *frame) popResults() []reflect.Value {
	results := make([]reflect.Value, len(f.p.outs))
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = convert(ir.Ret, f.p.outs[i], f.pop())
	}
	return results
}

func (f *frame) rethrow(pc int) {
	for i, r := range f.p.regions {
		if r.Kind == ir.BeginCatch && pc >= r.HandlerStart && pc < r.HandlerEnd && f.handling[i] != nil {
			raise(f.handling[i])
		}
	}
	panic(ErrNoHandler)
}

func (f *frame) push(v reflect.Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() reflect.Value {
	if len(f.stack) == 0 {
		panic(ErrStackUnderflow)
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func throw(v reflect.Value) {
	if nilish(v) {
		panic(errors.New("throw of a nil exception"))
	}
	if err, ok := v.Interface().(error); ok {
		raise(err)
	}
	panic(v.Interface())
}
