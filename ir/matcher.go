package ir

import "slices"

// Match is a predicate over one instruction.
type Match func(Instruction) bool

// OpIs matches any instruction with the given opcode.
func OpIs(op Op) Match {
	return func(in Instruction) bool { return in.Op == op }
}

// Is matches an instruction by opcode and operand.
func Is(op Op, arg any) Match {
	return func(in Instruction) bool { return in.Is(op, arg) }
}

// CallsTo matches calls to m.
func CallsTo(m *Method) Match {
	return Is(Call, m)
}

// Matcher walks an instruction stream and edits it in place. It is meant
// for transforms, which receive a stream and return a rewritten one.
type Matcher struct {
	instrs []Instruction
	pos    int
}

func NewMatcher(instrs []Instruction) *Matcher {
	return &Matcher{instrs: slices.Clone(instrs)}
}

// Pos returns the current position.
func (m *Matcher) Pos() int {
	return m.pos
}

// Valid reports whether the position is inside the stream.
func (m *Matcher) Valid() bool {
	return m.pos >= 0 && m.pos < len(m.instrs)
}

// Instruction returns the instruction at the current position.
func (m *Matcher) Instruction() Instruction {
	return m.instrs[m.pos]
}

// Instructions returns the edited stream.
func (m *Matcher) Instructions() []Instruction {
	return m.instrs
}

// Find moves to the next position, starting at the current one, where the
// sequence of predicates matches consecutive instructions. It returns false
// and leaves the position past the end if there is no match.
func (m *Matcher) Find(seq ...Match) bool {
	for ; m.pos+len(seq) <= len(m.instrs); m.pos++ {
		if m.matchesAt(m.pos, seq) {
			return true
		}
	}
	m.pos = len(m.instrs)
	return false
}

func (m *Matcher) matchesAt(pos int, seq []Match) bool {
	for i, match := range seq {
		if !match(m.instrs[pos+i]) {
			return false
		}
	}
	return true
}

// Advance moves the position by n.
func (m *Matcher) Advance(n int) *Matcher {
	m.pos += n
	return m
}

// Reset moves back to the start.
func (m *Matcher) Reset() *Matcher {
	m.pos = 0
	return m
}

// Replace replaces n instructions at the current position. Labels and
// blocks of the removed instructions move to the first replacement, so
// branches into the replaced range land on the new code. The position
// moves past the replacement.
func (m *Matcher) Replace(n int, with ...Instruction) *Matcher {
	if len(with) == 0 {
		with = []Instruction{Instr(Nop, nil)}
	} else {
		with = slices.Clone(with)
	}

	var (
		labels []Label
		blocks []Block
	)
	for _, in := range m.instrs[m.pos : m.pos+n] {
		labels = append(labels, in.Labels...)
		blocks = append(blocks, in.Blocks...)
	}
	with[0].Labels = append(labels, with[0].Labels...)
	with[0].Blocks = append(blocks, with[0].Blocks...)

	m.instrs = slices.Replace(m.instrs, m.pos, m.pos+n, with...)
	m.pos += len(with)
	return m
}

// Set replaces the operand of the instruction at the current position.
func (m *Matcher) Set(op Op, arg any) *Matcher {
	m.instrs[m.pos].Op = op
	m.instrs[m.pos].Arg = arg
	return m
}

// Insert inserts instructions before the current position. Labels stay on
// the instruction they were attached to, so branches to it skip the
// inserted code. The position moves past the inserted instructions.
func (m *Matcher) Insert(instrs ...Instruction) *Matcher {
	m.instrs = slices.Insert(m.instrs, m.pos, instrs...)
	m.pos += len(instrs)
	return m
}

// InsertBranchTarget inserts instructions before the current position and
// moves the labels of the current instruction onto the first inserted one,
// so branches to it run the inserted code. Blocks stay where they are.
func (m *Matcher) InsertBranchTarget(instrs ...Instruction) *Matcher {
	if len(instrs) == 0 {
		return m
	}
	instrs = slices.Clone(instrs)
	if m.Valid() {
		instrs[0].Labels = slices.Concat(m.instrs[m.pos].Labels, instrs[0].Labels)
		m.instrs[m.pos].Labels = nil
	}
	return m.Insert(instrs...)
}
