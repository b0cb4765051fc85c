package ir

import "fmt"

// Op is an instruction opcode.
type Op uint8

const (
	Nop Op = iota

	LdArg  // push argument (operand: int)
	LdArgA // push the address of an argument (operand: int)
	StArg  // pop into argument (operand: int)

	LdLoc  // push local (operand: *Local)
	LdLocA // push the address of a local (operand: *Local)
	StLoc  // pop into local (operand: *Local)

	LdConst // push a constant (operand: any, nil allowed)
	LdZero  // push the zero value of a type (operand: reflect.Type)

	Call // call a method (operand: *Method)
	Ret  // return; pops one value per result

	Br      // unconditional branch (operand: Label)
	BrTrue  // pop, branch if true or non-nil (operand: Label)
	BrFalse // pop, branch if false or nil (operand: Label)
	Leave   // exit a protected region, running finally handlers (operand: Label)

	Throw      // pop and raise
	Rethrow    // raise the exception being handled by the enclosing catch
	EndFinally // end of a finally handler

	Pop
	Dup

	Add
	Sub
	Mul
	Div
	Rem
	Neg

	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Not

	Deref // pop a pointer, push the value it points to
	StInd // pop a value and a pointer, store the value through the pointer

	numOps
)

var opNames = [...]string{
	Nop:        "nop",
	LdArg:      "ldarg",
	LdArgA:     "ldarga",
	StArg:      "starg",
	LdLoc:      "ldloc",
	LdLocA:     "ldloca",
	StLoc:      "stloc",
	LdConst:    "ldconst",
	LdZero:     "ldzero",
	Call:       "call",
	Ret:        "ret",
	Br:         "br",
	BrTrue:     "brtrue",
	BrFalse:    "brfalse",
	Leave:      "leave",
	Throw:      "throw",
	Rethrow:    "rethrow",
	EndFinally: "endfinally",
	Pop:        "pop",
	Dup:        "dup",
	Add:        "add",
	Sub:        "sub",
	Mul:        "mul",
	Div:        "div",
	Rem:        "rem",
	Neg:        "neg",
	Eq:         "eq",
	Ne:         "ne",
	Lt:         "lt",
	Le:         "le",
	Gt:         "gt",
	Ge:         "ge",
	Not:        "not",
	Deref:      "deref",
	StInd:      "stind",
}

func (op Op) String() string {
	if op < numOps {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// opByName maps mnemonics back to opcodes for the assembler.
var opByName = func() map[string]Op {
	m := make(map[string]Op, numOps)
	for op := Op(0); op < numOps; op++ {
		m[opNames[op]] = op
	}
	return m
}()

// IsBranch reports whether the operand of op is a Label.
func (op Op) IsBranch() bool {
	switch op {
	case Br, BrTrue, BrFalse, Leave:
		return true
	}
	return false
}

// IsTerminal reports whether control never falls through op.
func (op Op) IsTerminal() bool {
	switch op {
	case Ret, Br, Leave, Throw, Rethrow, EndFinally:
		return true
	}
	return false
}

// Block is an exception block marker attached to an instruction.
type Block uint8

const (
	// BeginTry opens a protected region starting at the instruction.
	BeginTry Block = iota + 1
	// BeginCatch ends the innermost open try and starts a catch handler at
	// the instruction. The handler starts with the exception (an error) on
	// the stack.
	BeginCatch
	// BeginFinally ends the innermost open try and starts a finally
	// handler at the instruction.
	BeginFinally
	// EndBlock closes the innermost handler. The handler ends just before
	// the instruction carrying the marker.
	EndBlock
)

func (b Block) String() string {
	switch b {
	case BeginTry:
		return ".try"
	case BeginCatch:
		return ".catch"
	case BeginFinally:
		return ".finally"
	case EndBlock:
		return ".end"
	}
	return fmt.Sprintf("block(%d)", uint8(b))
}
