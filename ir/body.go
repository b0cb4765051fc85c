package ir

import (
	"fmt"
	"reflect"
	"slices"
)

// Label identifies a branch target within one Body.
type Label int

// Local is a local variable slot.
type Local struct {
	Index int
	Type  reflect.Type
	Name  string
}

func (l *Local) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("loc%d", l.Index)
}

// Instruction is one operation in an instruction stream. Labels and blocks
// travel with the instruction when a stream is rewritten, so a transform
// that moves or replaces an instruction should carry them over.
type Instruction struct {
	Op  Op
	Arg any

	// Labels that resolve to this instruction.
	Labels []Label

	// Exception block markers, applied in order before the instruction.
	Blocks []Block
}

// Instr returns an instruction without labels or blocks.
func Instr(op Op, arg any) Instruction {
	return Instruction{Op: op, Arg: arg}
}

// Is reports whether the instruction has the given opcode and operand.
// Methods compare by ID.
func (in Instruction) Is(op Op, arg any) bool {
	return in.Op == op && operandEqual(in.Arg, arg)
}

func operandEqual(a, b any) bool {
	if ma, ok := a.(*Method); ok {
		mb, ok := b.(*Method)
		return ok && ma.ID() == mb.ID()
	}
	return reflect.DeepEqual(a, b)
}

// Generator allocates labels and locals for code added to a body.
type Generator interface {
	DefineLabel() Label
	DeclareLocal(t reflect.Type, name string) *Local
}

// Body is a decoded method body: an instruction stream, its locals, and the
// exception regions encoded as block markers on the instructions.
type Body struct {
	Instrs []Instruction
	Locals []*Local

	nextLabel Label
}

// DefineLabel allocates a new label. It must be attached to exactly one
// instruction before the body is compiled.
func (b *Body) DefineLabel() Label {
	l := b.nextLabel
	b.nextLabel++
	return l
}

// DeclareLocal adds a local variable.
func (b *Body) DeclareLocal(t reflect.Type, name string) *Local {
	l := &Local{Index: len(b.Locals), Type: t, Name: name}
	b.Locals = append(b.Locals, l)
	return l
}

// Clone returns a deep copy of the body. Locals are copied and operands
// are remapped to the copies; methods and constants are shared.
func (b *Body) Clone() *Body {
	c := &Body{
		Instrs:    make([]Instruction, len(b.Instrs)),
		Locals:    make([]*Local, len(b.Locals)),
		nextLabel: b.nextLabel,
	}

	remap := make(map[*Local]*Local, len(b.Locals))
	for i, l := range b.Locals {
		cl := *l
		c.Locals[i] = &cl
		remap[l] = &cl
	}

	for i, in := range b.Instrs {
		in.Labels = slices.Clone(in.Labels)
		in.Blocks = slices.Clone(in.Blocks)
		if l, ok := in.Arg.(*Local); ok {
			if cl, ok := remap[l]; ok {
				in.Arg = cl
			}
		}
		c.Instrs[i] = in
	}

	return c
}

// Targets resolves every label to the index of the instruction carrying it.
func (b *Body) Targets() (map[Label]int, error) {
	targets := make(map[Label]int)
	for i, in := range b.Instrs {
		for _, l := range in.Labels {
			if prev, ok := targets[l]; ok {
				return nil, fmt.Errorf("label L%d attached to instructions %d and %d", l, prev, i)
			}
			targets[l] = i
		}
	}
	return targets, nil
}

// Region is a resolved exception region. Ranges are half-open instruction
// index ranges.
type Region struct {
	Kind         Block // BeginCatch or BeginFinally
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
}

// Regions resolves the block markers into regions. Inner regions come
// before the regions enclosing them.
func (b *Body) Regions() ([]Region, error) {
	type open struct {
		Region
		inHandler bool
	}

	var (
		stack   []open
		regions []Region
	)

	for i, in := range b.Instrs {
		for _, blk := range in.Blocks {
			switch blk {
			case BeginTry:
				stack = append(stack, open{Region: Region{TryStart: i}})
			case BeginCatch, BeginFinally:
				if len(stack) == 0 || stack[len(stack)-1].inHandler {
					return nil, fmt.Errorf("instruction %d: %v without an open try", i, blk)
				}
				top := &stack[len(stack)-1]
				if i == top.TryStart {
					return nil, fmt.Errorf("instruction %d: empty try block", i)
				}
				top.Kind = blk
				top.TryEnd = i
				top.HandlerStart = i
				top.inHandler = true
			case EndBlock:
				if len(stack) == 0 || !stack[len(stack)-1].inHandler {
					return nil, fmt.Errorf("instruction %d: %v without an open handler", i, blk)
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if i == top.HandlerStart {
					return nil, fmt.Errorf("instruction %d: empty handler", i)
				}
				top.HandlerEnd = i
				regions = append(regions, top.Region)
			default:
				return nil, fmt.Errorf("instruction %d: unknown block marker %v", i, blk)
			}
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%d exception block(s) not closed", len(stack))
	}

	return regions, nil
}

// Protect wraps instructions [start, end) in a try block followed by the
// given handler. kind is BeginCatch or BeginFinally. A leave to the
// instruction after the handler is inserted at the end of the try block,
// and the handler must end with its own terminal instruction. Protect
// returns the label of the instruction that follows the handler.
func (b *Body) Protect(start, end int, kind Block, handler []Instruction) (Label, error) {
	if start < 0 || end > len(b.Instrs) || start >= end {
		return 0, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	if kind != BeginCatch && kind != BeginFinally {
		return 0, fmt.Errorf("invalid handler kind %v", kind)
	}
	if len(handler) == 0 {
		return 0, fmt.Errorf("empty handler")
	}

	after := b.DefineLabel()

	handler = slices.Clone(handler)
	handler[0].Blocks = append([]Block{kind}, handler[0].Blocks...)

	exit := Instruction{Op: Nop, Labels: []Label{after}, Blocks: []Block{EndBlock}}

	inserted := make([]Instruction, 0, len(handler)+2)
	inserted = append(inserted, Instr(Leave, after))
	inserted = append(inserted, handler...)
	inserted = append(inserted, exit)

	b.Instrs[start].Blocks = append([]Block{BeginTry}, b.Instrs[start].Blocks...)
	b.Instrs = slices.Insert(b.Instrs, end, inserted...)

	return after, nil
}
