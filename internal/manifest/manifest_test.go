package manifest

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/splice"
	"github.com/pboyd/splice/ir"
)

const progSrc = `
func add(int, int) int
    ldarg 0
    ldarg 1
    add
    ret
end

func scale(int) int
    ldarg 0
    ldconst 10
    mul
    ret
end

func twice(int) int
    ldarg 0
    ldconst 2
    mul
    ret
end

func thrice(int) int
    ldarg 0
    ldconst 3
    mul
    ret
end

func apply(int) int
    ldarg 0
    call twice
    ret
end

func div(int, int) int
    ldarg 0
    ldarg 1
    div
    ret
end

func greet(string) string
    ldconst "hello, "
    ldarg 0
    add
    ret
end`

const yamlSrc = `
patches:
  - method: add
    kind: set-arg
    owner: clamp
    index: 0
    value: 0
    when: args[0] < 0
  - method: add
    kind: trace
    message: adding
    priority: 5
  - method: greet
    kind: set-result
    value: go away
    when: args[0] == "bob"
`

const tomlSrc = `
[[patches]]
method = "add"
kind = "set-arg"
owner = "clamp"
index = 0
value = 0
when = "args[0] < 0"

[[patches]]
method = "add"
kind = "trace"
message = "adding"
priority = 5

[[patches]]
method = "greet"
kind = "set-result"
value = "go away"
when = 'args[0] == "bob"'
`

var (
	reflectInt    = reflect.TypeFor[int]()
	reflectString = reflect.TypeFor[string]()
	reflectFunc   = reflect.TypeFor[func()]()
)

func program(t *testing.T) *ir.Program {
	t.Helper()
	prog, err := ir.Parse(progSrc, nil)
	require.NoError(t, err)
	return prog
}

func TestParse(t *testing.T) {
	for format, src := range map[Format]string{YAML: yamlSrc, TOML: tomlSrc} {
		t.Run(string(format), func(t *testing.T) {
			assert := assert.New(t)

			m, err := Parse([]byte(src), format)
			require.NoError(t, err)
			require.Len(t, m.Patches, 3)

			setArg := m.Patches[0]
			assert.Equal("add", setArg.Method)
			assert.Equal(SetArg, setArg.Kind)
			assert.Equal("clamp", setArg.Owner)
			assert.Equal("args[0] < 0", setArg.When)
			assert.EqualValues(0, setArg.Value)

			assert.Equal(5, m.Patches[1].Priority)
			assert.Equal("adding", m.Patches[1].Message)
			assert.Equal("go away", m.Patches[2].Value)

			assert.Equal([]string{"add", "greet"}, m.Methods())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]struct {
		src    string
		format Format
		err    string
	}{
		"unknown field": {
			src:    "patches:\n  - method: add\n    kind: skip\n    bogus: 1\n",
			format: YAML,
			err:    "bogus",
		},
		"unknown toml field": {
			src:    "[[patches]]\nmethod = \"add\"\nkind = \"skip\"\nbogus = 1\n",
			format: TOML,
			err:    "unknown field",
		},
		"unknown kind": {
			src:    "patches:\n  - method: add\n    kind: explode\n",
			format: YAML,
			err:    `unknown kind "explode"`,
		},
		"missing method": {
			src:    "patches:\n  - kind: skip\n",
			format: YAML,
			err:    "method is required",
		},
		"missing from": {
			src:    "patches:\n  - method: add\n    kind: replace-const\n    to: \"1\"\n",
			format: YAML,
			err:    "from and to are required",
		},
		"condition on transform": {
			src:    "patches:\n  - method: add\n    kind: recover\n    when: \"true\"\n",
			format: YAML,
			err:    "take no condition",
		},
		"unknown format": {
			src:    "",
			format: Format("json"),
			err:    ErrUnknownFormat.Error(),
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.src), tc.format)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	for name, src := range map[string]string{"m.yaml": yamlSrc, "m.yml": yamlSrc, "m.toml": tomlSrc} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

		m, err := Load(path)
		require.NoError(t, err, name)
		assert.Len(t, m.Patches, 3, name)
	}

	_, err := Load(filepath.Join(dir, "m.json"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild(t *testing.T) {
	assert := assert.New(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	m, err := Parse([]byte(yamlSrc), YAML)
	require.NoError(t, err)

	prog := program(t)
	targets, err := m.Build(Options{Program: prog, Logger: logger})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal("add", targets[0].Method.Name)
	assert.Len(targets[0].Patches, 2)
	assert.Equal("clamp", targets[0].Patches[0].Owner())
	assert.Equal(5, targets[0].Patches[1].Priority())

	p := splice.New(splice.Options{})
	for _, target := range targets {
		_, err := p.Patch(target.Method, target.Patches...)
		require.NoError(t, err)
	}

	add := call[func(int, int) int](t, p, targets[0].Method)
	assert.Equal(3, add(-5, 3))
	assert.Equal(7, add(4, 3))
	assert.Contains(logs.String(), "msg=adding method=add")

	greet := call[func(string) string](t, p, targets[1].Method)
	assert.Equal("hello, alice", greet("alice"))
	assert.Equal("go away", greet("bob"))
}

func TestBuild_UnknownMethod(t *testing.T) {
	m := &Manifest{Patches: []Entry{{Method: "nope", Kind: Skip}}}
	_, err := m.Build(Options{Program: program(t)})
	assert.ErrorContains(t, err, `unknown method "nope"`)
}

func call[F any](t *testing.T, p *splice.Patcher, m *ir.Method) F {
	t.Helper()
	fn, err := p.Func(m)
	require.NoError(t, err)
	return fn.Interface().(F)
}

func build(t *testing.T, prog *ir.Program, method string, entries ...Entry) (*splice.Patcher, *ir.Method) {
	t.Helper()

	target, ok := prog.Lookup(method)
	require.True(t, ok, method)

	p := splice.New(splice.Options{})
	for _, e := range entries {
		e.Method = method
		patch, err := BuildEntry(e, target, Options{Program: prog})
		require.NoError(t, err)
		_, err = p.Patch(target, patch)
		require.NoError(t, err)
	}
	return p, target
}

func TestBuildEntry_Kinds(t *testing.T) {
	type binary = func(int, int) int

	cases := map[string]struct {
		method  string
		entries []Entry
		args    [2]int
		want    int
	}{
		"set-arg": {
			method:  "add",
			entries: []Entry{{Kind: SetArg, Index: 1, Value: 100}},
			args:    [2]int{1, 2},
			want:    101,
		},
		"set-arg when false": {
			method:  "add",
			entries: []Entry{{Kind: SetArg, Index: 1, Value: 100, When: "args[1] > 5"}},
			args:    [2]int{1, 2},
			want:    3,
		},
		"set-arg from toml int64": {
			method:  "add",
			entries: []Entry{{Kind: SetArg, Index: 0, Value: int64(10)}},
			args:    [2]int{1, 2},
			want:    12,
		},
		"skip with value": {
			method:  "add",
			entries: []Entry{{Kind: Skip, Value: 42}},
			args:    [2]int{1, 2},
			want:    42,
		},
		"skip without value": {
			method:  "add",
			entries: []Entry{{Kind: Skip}},
			args:    [2]int{1, 2},
			want:    0,
		},
		"skip when": {
			method:  "add",
			entries: []Entry{{Kind: Skip, Value: -1, When: "args[0] == args[1]"}},
			args:    [2]int{2, 3},
			want:    5,
		},
		"set-result": {
			method:  "add",
			entries: []Entry{{Kind: SetResult, Value: 9, When: "result > 4"}},
			args:    [2]int{2, 3},
			want:    9,
		},
		"recover": {
			method:  "div",
			entries: []Entry{{Kind: Recover, Value: -1}},
			args:    [2]int{1, 0},
			want:    -1,
		},
		"swallow exception": {
			method:  "div",
			entries: []Entry{{Kind: ReplaceException}},
			args:    [2]int{1, 0},
			want:    0,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, target := build(t, program(t), tc.method, tc.entries...)
			fn := call[binary](t, p, target)
			assert.Equal(t, tc.want, fn(tc.args[0], tc.args[1]))
		})
	}
}

func TestBuildEntry_ReplaceException(t *testing.T) {
	p, target := build(t, program(t), "div", Entry{
		Kind:    ReplaceException,
		Message: "division failed",
		When:    `exception contains "divide"`,
	})
	div := call[func(int, int) int](t, p, target)

	defer func() {
		err, ok := recover().(error)
		require.True(t, ok)
		assert.Equal(t, "division failed", err.Error())
	}()
	div(1, 0)
	t.Fatal("expected a panic")
}

func TestBuildEntry_Transforms(t *testing.T) {
	prog := program(t)

	p, scale := build(t, prog, "scale", Entry{Kind: ReplaceConst, From: "10", To: "100"})
	assert.Equal(t, 300, call[func(int) int](t, p, scale)(3))

	p, apply := build(t, prog, "apply", Entry{Kind: RedirectCall, From: "twice", To: "thrice"})
	assert.Equal(t, 9, call[func(int) int](t, p, apply)(3))
}

func TestBuildEntry_Errors(t *testing.T) {
	prog := program(t)
	add, _ := prog.Lookup("add")

	cases := map[string]Entry{
		"argument out of range": {Method: "add", Kind: SetArg, Index: 2},
		"value type":            {Method: "add", Kind: SetArg, Value: "x"},
		"bad condition":         {Method: "add", Kind: Skip, When: "args["},
		"non-bool condition":    {Method: "add", Kind: Skip, When: "1 + 2"},
		"bad constant":          {Method: "add", Kind: ReplaceConst, From: "abc", To: "1"},
		"unknown callee":        {Method: "add", Kind: RedirectCall, From: "twice", To: "nope"},
		"unknown kind":          {Method: "add", Kind: Kind("explode")},
	}

	for name, e := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildEntry(e, add, Options{Program: prog})
			assert.Error(t, err)
		})
	}
}

func TestBuildEntry_NoResult(t *testing.T) {
	target := ir.NewMethod("noop", reflectFunc, &ir.Body{Instrs: []ir.Instruction{ir.Instr(ir.Ret, nil)}})

	for _, kind := range []Kind{SetResult, Skip, Recover} {
		_, err := BuildEntry(Entry{Method: "noop", Kind: kind, Value: 1}, target, Options{})
		assert.ErrorContains(t, err, "returns nothing", kind)
	}
}

func TestCondition_RuntimeError(t *testing.T) {
	p, target := build(t, program(t), "add", Entry{Kind: Skip, When: "args[5] > 0"})
	add := call[func(int, int) int](t, p, target)

	assert.Panics(t, func() { add(1, 2) })
}

func TestConvert(t *testing.T) {
	assert := assert.New(t)

	v, err := Convert(int64(3), reflectInt)
	require.NoError(t, err)
	assert.Equal(3, v.Interface())

	v, err = Convert(2.0, reflectInt)
	require.NoError(t, err)
	assert.Equal(2, v.Interface())

	v, err = Convert(nil, errorType)
	require.NoError(t, err)
	assert.True(v.IsNil())

	v, err = Convert(errors.New("x"), errorType)
	require.NoError(t, err)
	assert.Equal(errorType, v.Type())

	_, err = Convert("x", reflectInt)
	assert.Error(err)
	_, err = Convert(1, reflectString)
	assert.Error(err)
}
