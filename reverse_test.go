package splice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/splice/ir"
)

const standinSrc = `
func standin() string
    ldconst "stub"
    ret
end`

func TestReverse(t *testing.T) {
	cases := map[string]struct {
		opts ReverseOptions
		want string
	}{
		"snapshot": {
			want: "hello",
		},
		"snapshot with extra transform": {
			opts: ReverseOptions{Transforms: []TransformFunc{ReplaceConst("hello", "howdy")}},
			want: "howdy",
		},
		"pristine": {
			opts: ReverseOptions{Mode: ReversePristine},
			want: "hi",
		},
		"pristine with extra transform": {
			opts: ReverseOptions{
				Mode:       ReversePristine,
				Transforms: []TransformFunc{ReplaceConst("hi", "hey")},
			},
			want: "hey",
		},
		"empty body returns zero values": {
			opts: ReverseOptions{
				Manipulators: []ManipulateFunc{func(b *ir.Body, _ *ir.Method) error {
					b.Instrs = nil
					return nil
				}},
			},
			want: "",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			p := New(Options{})
			greet := parse(t, greetSrc, nil)
			standin := parse(t, standinSrc, nil)

			_, err := p.Patch(greet,
				MustPatch(Transform, ReplaceConst("hi", "hello")),
				MustPatch(Post, func(s string) string { return s + "!" }, Bind(Result(0))),
			)
			require.NoError(t, err)

			fn, err := p.Reverse(standin, greet, tc.opts)
			require.NoError(t, err)

			assert.Equal(tc.want, fn.Interface().(func() string)())
			assert.Equal(tc.want, call[func() string](t, p, standin)(), "installed on the stand-in")
			assert.Equal("hello!", call[func() string](t, p, greet)(), "the original keeps its patches")
		})
	}
}

func TestReverse_SnapshotIgnoresLaterPatches(t *testing.T) {
	assert := assert.New(t)

	p := New(Options{})
	greet := parse(t, greetSrc, nil)
	standin := parse(t, standinSrc, nil)

	hello := MustPatch(Transform, ReplaceConst("hi", "hello"), Priority(10))
	_, err := p.Patch(greet, hello)
	require.NoError(t, err)

	fn, err := p.Reverse(standin, greet, ReverseOptions{})
	require.NoError(t, err)
	reversed := fn.Interface().(func() string)
	assert.Equal("hello", reversed())

	_, err = p.Patch(greet, MustPatch(Transform, ReplaceConst("hello", "HELLO")))
	require.NoError(t, err)
	assert.Equal("HELLO", call[func() string](t, p, greet)())
	assert.Equal("hello", reversed(), "added transforms don't reach the snapshot")

	removed, err := p.Remove(greet, hello)
	require.NoError(t, err)
	assert.True(removed)
	assert.Equal("hi", call[func() string](t, p, greet)())
	assert.Equal("hello", reversed(), "removed transforms stay in the snapshot")
	assert.Equal("hello", call[func() string](t, p, standin)())
}

func TestReverse_Live(t *testing.T) {
	assert := assert.New(t)

	p := New(Options{})
	greet := parse(t, greetSrc, nil)
	standin := parse(t, standinSrc, nil)

	fn, err := p.Reverse(standin, greet, ReverseOptions{Mode: ReverseLive})
	require.NoError(t, err)
	reversed := fn.Interface().(func() string)

	assert.Equal("hi", reversed())

	upper := MustPatch(Transform, ReplaceConst("hi", "HI"))
	_, err = p.Patch(greet, upper)
	require.NoError(t, err)
	assert.Equal("HI", reversed())

	_, err = p.Remove(greet, upper)
	require.NoError(t, err)
	assert.Equal("hi", reversed())
}

func TestReverse_SignatureMismatch(t *testing.T) {
	p := New(Options{})
	greet := parse(t, greetSrc, nil)
	add := parse(t, addSrc, nil)

	_, err := p.Reverse(add, greet, ReverseOptions{})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Contains(t, err.Error(), "function signatures do not match")
}

func TestReverse_FragmentFailure(t *testing.T) {
	p := New(Options{})
	greet := parse(t, greetSrc, nil)
	standin := parse(t, standinSrc, nil)

	_, err := p.Reverse(standin, greet, ReverseOptions{
		Manipulators: []ManipulateFunc{RecoverAs(1, 2)},
	})
	assert.ErrorIs(t, err, ErrFragmentFailed)

	var fragErr *FragmentError
	require.ErrorAs(t, err, &fragErr)
	assert.Equal(t, "reverse", fragErr.Owner)

	assert.Equal(t, "stub", call[func() string](t, p, standin)(), "nothing was installed")
}

func TestReverseMode_String(t *testing.T) {
	assert.Equal(t, "snapshot", ReverseSnapshot.String())
	assert.Equal(t, "live", ReverseLive.String())
	assert.Equal(t, "pristine", ReversePristine.String())
	assert.Equal(t, "ReverseMode(9)", ReverseMode(9).String())
}
