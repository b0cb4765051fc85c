package ir

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegions(t *testing.T) {
	m, err := ParseMethod(`
func f() int
.try
    nop
.try
    nop
    leave inner
.finally
    endfinally
.end
inner:
    leave out
.catch
    pop
    leave out
.end
out:
    ldconst 1
    ret
end`, nil)
	require.NoError(t, err)

	regions, err := m.Body.Regions()
	require.NoError(t, err)
	assert.Equal(t, []Region{
		{Kind: BeginFinally, TryStart: 1, TryEnd: 3, HandlerStart: 3, HandlerEnd: 4},
		{Kind: BeginCatch, TryStart: 0, TryEnd: 5, HandlerStart: 5, HandlerEnd: 7},
	}, regions)
}

func TestRegions_Errors(t *testing.T) {
	instr := func(blocks ...Block) Instruction {
		return Instruction{Op: Nop, Blocks: blocks}
	}

	cases := map[string]struct {
		instrs []Instruction
		err    string
	}{
		"catch without try": {
			instrs: []Instruction{instr(BeginCatch), instr(EndBlock)},
			err:    "without an open try",
		},
		"empty try": {
			instrs: []Instruction{instr(BeginTry, BeginCatch), instr(EndBlock)},
			err:    "empty try block",
		},
		"end without handler": {
			instrs: []Instruction{instr(BeginTry), instr(EndBlock)},
			err:    "without an open handler",
		},
		"empty handler": {
			instrs: []Instruction{instr(BeginTry), instr(BeginCatch, EndBlock)},
			err:    "empty handler",
		},
		"unclosed": {
			instrs: []Instruction{instr(BeginTry), instr(BeginFinally)},
			err:    "not closed",
		},
		"unknown marker": {
			instrs: []Instruction{instr(Block(42))},
			err:    "unknown block marker",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&Body{Instrs: tc.instrs}).Regions()
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestTargets(t *testing.T) {
	b := &Body{}
	l := b.DefineLabel()
	NewBuilder(b).Emit(Nop, nil).Mark(l).Emit(Ret, nil)

	targets, err := b.Targets()
	require.NoError(t, err)
	assert.Equal(t, map[Label]int{l: 1}, targets)

	b.Instrs[0].Labels = []Label{l}
	_, err = b.Targets()
	assert.ErrorContains(t, err, "attached to instructions 0 and 1")
}

func TestClone(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)

	c := m.Body.Clone()
	assert.Equal(FormatBody(m.Body), FormatBody(c))

	require.Len(t, c.Locals, 1)
	assert.NotSame(m.Body.Locals[0], c.Locals[0])
	assert.Same(c.Locals[0], c.Instrs[0].Arg, "operands point at the copied locals")

	c.Instrs[0].Labels[0] = 99
	c.Instrs[1].Op = Nop
	assert.Equal(Label(0), m.Body.Instrs[0].Labels[0])
	assert.Equal(LdArg, m.Body.Instrs[1].Op)

	// Labels defined on the copy don't collide with existing ones.
	assert.Equal(m.Body.DefineLabel(), c.DefineLabel())
}

func TestBuilder(t *testing.T) {
	assert := assert.New(t)

	b := &Body{}
	l := b.DefineLabel()
	body := NewBuilder(b).
		Block(BeginTry).
		Emit(LdConst, 1).
		Emit(Leave, l).
		Block(BeginCatch).
		Emit(Pop, nil).
		Emit(Leave, l).
		Block(EndBlock).
		Mark(l).
		Body()

	require.Len(t, body.Instrs, 5)
	last := body.Instrs[4]
	assert.Equal(Nop, last.Op, "pending markers get a nop")
	assert.Equal([]Label{l}, last.Labels)
	assert.Equal([]Block{EndBlock}, last.Blocks)
	assert.Equal([]Block{BeginTry}, body.Instrs[0].Blocks)
}

func TestProtect(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMethod(`
func f(int) int
    ldarg 0
    ldconst 10
    div
    ret
end`, nil)
	require.NoError(t, err)

	handler := []Instruction{Instr(Pop, nil), Instr(LdConst, -1), Instr(Ret, nil)}
	after, err := m.Body.Protect(0, len(m.Body.Instrs), BeginCatch, handler)
	require.NoError(t, err)

	regions, err := m.Body.Regions()
	require.NoError(t, err)
	assert.Equal([]Region{{Kind: BeginCatch, TryStart: 0, TryEnd: 5, HandlerStart: 5, HandlerEnd: 8}}, regions)

	assert.True(m.Body.Instrs[4].Is(Leave, after))
	assert.Equal([]Label{after}, m.Body.Instrs[8].Labels)
	assert.Empty(handler[0].Blocks, "the caller's handler is not modified")

	m.Body.Instrs = append(m.Body.Instrs, Instr(LdZero, reflect.TypeFor[int]()), Instr(Ret, nil))
	assert.NoError(Validate(m))
}

func TestProtect_Errors(t *testing.T) {
	body := &Body{Instrs: []Instruction{Instr(Nop, nil), Instr(Ret, nil)}}
	handler := []Instruction{Instr(EndFinally, nil)}

	_, err := body.Protect(1, 1, BeginFinally, handler)
	assert.Error(t, err)
	_, err = body.Protect(0, 3, BeginFinally, handler)
	assert.Error(t, err)
	_, err = body.Protect(0, 1, BeginTry, handler)
	assert.Error(t, err)
	_, err = body.Protect(0, 1, BeginFinally, nil)
	assert.Error(t, err)
}
