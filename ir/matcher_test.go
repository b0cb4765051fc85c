package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Find(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)

	mt := NewMatcher(m.Body.Instrs)
	require.True(t, mt.Find(OpIs(LdLoc), Is(LdConst, 1)))
	assert.Equal(4, mt.Pos())

	assert.False(mt.Advance(2).Find(Is(LdConst, 1)))
	assert.False(mt.Valid())

	mt.Reset()
	count := 0
	for mt.Find(OpIs(LdLoc)) {
		count++
		mt.Advance(1)
	}
	assert.Equal(3, count)
}

func TestMatcher_Set(t *testing.T) {
	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)

	mt := NewMatcher(m.Body.Instrs)
	require.True(t, mt.Find(Is(LdConst, 1)))
	mt.Set(LdConst, 2)

	assert.True(t, mt.Instruction().Is(LdConst, 2))
	assert.True(t, m.Body.Instrs[5].Is(LdConst, 1), "the source stream is not modified")
}

func TestMatcher_Replace(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)
	loop := m.Body.Instrs[0].Labels

	mt := NewMatcher(m.Body.Instrs)
	mt.Replace(2, Instr(LdConst, 0))
	assert.Equal(1, mt.Pos())

	instrs := mt.Instructions()
	assert.Len(instrs, 10)
	assert.True(instrs[0].Is(LdConst, 0))
	assert.Equal(loop, instrs[0].Labels, "labels move to the replacement")

	// Replacing with nothing leaves a nop behind.
	mt.Replace(1)
	assert.Equal(Nop, mt.Instructions()[1].Op)
}

func TestMatcher_Insert(t *testing.T) {
	assert := assert.New(t)

	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)
	loop := m.Body.Instrs[0].Labels

	mt := NewMatcher(m.Body.Instrs)
	mt.Insert(Instr(Nop, nil))
	assert.Equal(1, mt.Pos())
	assert.Empty(mt.Instructions()[0].Labels)
	assert.Equal(loop, mt.Instructions()[1].Labels)

	mt = NewMatcher(m.Body.Instrs)
	mt.InsertBranchTarget(Instr(Dup, nil), Instr(Pop, nil))
	instrs := mt.Instructions()
	assert.Equal(2, mt.Pos())
	assert.Equal(Dup, instrs[0].Op)
	assert.Equal(loop, instrs[0].Labels)
	assert.Empty(instrs[2].Labels)
	assert.Len(instrs, 13)
	assert.Equal(loop, m.Body.Instrs[0].Labels)
}

func TestMatcher_Rewrite(t *testing.T) {
	m, err := ParseMethod(countSrc, nil)
	require.NoError(t, err)

	// Count by twos.
	mt := NewMatcher(m.Body.Instrs)
	for mt.Find(Is(LdConst, 1), OpIs(Add)) {
		mt.Replace(1, Instr(LdConst, 2)).Advance(1)
	}
	m.Body.Instrs = mt.Instructions()

	require.NoError(t, Validate(m))
	assert.Contains(t, FormatBody(m.Body), "ldconst 2\n    add")
}
