//go:build linux && amd64

package splice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/splice/ir"
)

//go:noinline
func nativeAdd(a, b int) int {
	return a + b
}

//go:noinline
func nativeLabel(n int) string {
	if n < 0 {
		return "negative"
	}
	return "positive"
}

func TestPatch_Native(t *testing.T) {
	assert := assert.New(t)

	p := New(Options{})
	m := ir.MustFunc(nativeAdd)

	clamp := func(a *int) {
		if *a < 0 {
			*a = 0
		}
	}
	_, err := p.Patch(m, MustPatch(Pre, clamp, Bind(ArgRef(0))))
	require.NoError(t, err)

	assert.Equal(3, nativeAdd(-5, 3), "compiled callers see the patch")
	assert.Equal(7, nativeAdd(4, 3))

	orig, err := p.CopyOriginal(m)
	require.NoError(t, err)
	assert.Equal(-2, orig.Func.Interface().(func(int, int) int)(-5, 3))

	require.NoError(t, p.Unpatch(m))
	assert.Equal(-2, nativeAdd(-5, 3))
}

func TestPatch_NativeUpdate(t *testing.T) {
	assert := assert.New(t)

	p := New(Options{})
	m := ir.MustFunc(nativeLabel)
	defer p.Unpatch(m)

	loud := MustPatch(Post, func(s string) string { return s + "!" }, Bind(Result(0)))
	_, err := p.Patch(m, loud)
	require.NoError(t, err)
	assert.Equal("negative!", nativeLabel(-1))

	flip := MustPatch(Pre, func(n *int) { *n = -*n }, Bind(ArgRef(0)))
	_, err = p.Patch(m, flip)
	require.NoError(t, err)
	assert.Equal("positive!", nativeLabel(-1))

	_, err = p.Remove(m, loud)
	require.NoError(t, err)
	assert.Equal("negative", nativeLabel(1))
}
