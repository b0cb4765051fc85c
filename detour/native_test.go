//go:build linux && amd64

package detour

import (
	"encoding/hex"
	"hash/fnv"
	"io"
	"reflect"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/splice/ir"
)

//go:noinline
func nativeGreeting() string {
	return "hello"
}

//go:noinline
func nativeScale(v, factor int) int {
	return v * factor
}

//go:noinline
func nativeCounter(v int) int {
	return v + 1
}

func TestNative_InstallRevert(t *testing.T) {
	assert := assert.New(t)

	n := NewNative()
	m := ir.MustFunc(nativeGreeting)

	assert.Equal("hello", nativeGreeting())

	require.NoError(t, n.Install(m, reflect.ValueOf(func() string { return "goodbye" })))
	assert.True(n.Installed(m))
	assert.Equal("goodbye", nativeGreeting())

	require.NoError(t, n.Revert(m))
	assert.False(n.Installed(m))
	assert.Equal("hello", nativeGreeting())

	assert.ErrorIs(n.Revert(m), ErrNotInstalled)
}

func TestNative_Closure(t *testing.T) {
	assert := assert.New(t)

	n := NewNative()
	m := ir.MustFunc(nativeScale)

	offset := 1000
	replacement := func(v, factor int) int {
		return v*factor + offset
	}

	require.NoError(t, n.Install(m, reflect.ValueOf(replacement)))
	t.Cleanup(func() { n.Revert(m) })

	assert.Equal(1006, nativeScale(2, 3))

	offset = 2000
	assert.Equal(2006, nativeScale(2, 3))
}

func TestNative_MakeFunc(t *testing.T) {
	assert := assert.New(t)

	n := NewNative()
	m := ir.MustFunc(nativeCounter)

	replacement := reflect.MakeFunc(m.Type, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(int(args[0].Int() * 100))}
	})

	require.NoError(t, n.Install(m, replacement))
	assert.Equal(500, nativeCounter(5))

	// Installing again replaces the replacement in place.
	require.NoError(t, n.Install(m, reflect.ValueOf(func(v int) int { return -v })))
	assert.Equal(-5, nativeCounter(5))

	require.NoError(t, n.Revert(m))
	assert.Equal(6, nativeCounter(5))
}

func TestNative_CopyKeepsOriginal(t *testing.T) {
	assert := assert.New(t)

	n := NewNative()
	m := ir.MustFunc(nativeCounter)

	require.NoError(t, n.Install(m, reflect.ValueOf(func(v int) int { return 0 })))
	t.Cleanup(func() { n.Revert(m) })

	fn, err := n.Copy(m)
	require.NoError(t, err)

	assert.Equal(0, nativeCounter(41))
	assert.Equal(42, fn.Interface().(func(int) int)(41))
}

func TestNative_SignatureMismatch(t *testing.T) {
	n := NewNative()
	err := n.Install(ir.MustFunc(nativeCounter), reflect.ValueOf(func(string) int { return 0 }))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "signatures do not match")
}

func TestNative_NotGo(t *testing.T) {
	m, err := ir.ParseMethod("func f()\n ret\nend", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, NewNative().Install(m, reflect.ValueOf(func() {})), ErrUnsupported)
}

func cloneWithCalls(v int) string {
	h := fnv.New32()
	io.WriteString(h, strconv.Itoa(v))
	return hex.EncodeToString(h.Sum(nil))
}

func cloneSimple(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}

func cloneStatic() string {
	return "something static"
}

func cloneLoop(n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += i
	}
	return sum
}

func cloneMultipleReturns(v int) (int, error) {
	if v < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return v * 2, nil
}

func TestCloneFunc(t *testing.T) {
	cases := map[string]struct {
		fn   any
		args []any
	}{
		"many calls":       {cloneWithCalls, []any{25}},
		"simple":           {cloneSimple, []any{uint8(0xf)}},
		"static data":      {cloneStatic, nil},
		"loop":             {cloneLoop, []any{10}},
		"multiple returns": {cloneMultipleReturns, []any{-1}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			fn := reflect.ValueOf(tc.fn)
			args := make([]reflect.Value, len(tc.args))
			for i, a := range tc.args {
				args[i] = reflect.ValueOf(a)
			}

			cf, err := cloneFunc(fn)
			require.NoError(t, err)
			t.Cleanup(cf.Free)

			want := fn.Call(args)
			got := cf.Func.Call(args)
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(want[i].Interface(), got[i].Interface())
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	listing, err := Disassemble(ir.MustFunc(cloneSimple))
	require.NoError(t, err)
	assert.Contains(t, listing, "RET")
}

func TestRelocateFunc_DestinationTooSmall(t *testing.T) {
	code, err := funcSlice(reflect.ValueOf(cloneLoop).Pointer())
	require.NoError(t, err)

	_, err = relocateFunc(code, make([]byte, 0, 1))
	assert.Error(t, err)
}
