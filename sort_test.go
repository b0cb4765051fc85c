package splice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/splice/ir"
)

func owners(patches []*Patch) []string {
	names := make([]string, len(patches))
	for i, p := range patches {
		names[i] = p.Owner()
	}
	return names
}

func pre(owner string, opts ...Option) *Patch {
	return MustPatch(Pre, func() {}, append([]Option{Owner(owner)}, opts...)...)
}

func TestSort(t *testing.T) {
	cases := map[string]struct {
		patches []*Patch
		want    []string
	}{
		"empty": {},
		"registration order": {
			patches: []*Patch{pre("a"), pre("b"), pre("c")},
			want:    []string{"a", "b", "c"},
		},
		"priority": {
			patches: []*Patch{pre("low", Priority(-1)), pre("mid"), pre("high", Priority(10))},
			want:    []string{"high", "mid", "low"},
		},
		"equal priority keeps registration order": {
			patches: []*Patch{pre("a", Priority(5)), pre("b"), pre("c", Priority(5))},
			want:    []string{"a", "c", "b"},
		},
		"before overrides priority": {
			patches: []*Patch{pre("X", Priority(1), Before("Y")), pre("Y", Priority(100))},
			want:    []string{"X", "Y"},
		},
		"after overrides priority": {
			patches: []*Patch{pre("A", Priority(100), After("B")), pre("B")},
			want:    []string{"B", "A"},
		},
		"unknown owners are ignored": {
			patches: []*Patch{pre("a", After("nobody")), pre("b", Priority(1), Before("ghost"))},
			want:    []string{"b", "a"},
		},
		"chain": {
			patches: []*Patch{
				pre("c", After("b")),
				pre("b", After("a")),
				pre("a"),
				pre("z", Priority(-5)),
			},
			want: []string{"a", "b", "c", "z"},
		},
		"constraint applies to every patch of an owner": {
			patches: []*Patch{pre("o", Priority(9)), pre("x", Before("o")), pre("o", Priority(8))},
			want:    []string{"x", "o", "o"},
		},
		"priority among constrained patches": {
			patches: []*Patch{
				pre("root", Before("b", "a")),
				pre("a", Priority(1)),
				pre("b", Priority(2)),
			},
			want: []string{"root", "b", "a"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sorted, cycles := Sort(ir.MethodID{Name: "m"}, tc.patches)
			assert.Empty(t, cycles)
			if tc.want == nil {
				assert.Empty(t, sorted)
				return
			}
			assert.Equal(t, tc.want, owners(sorted))
		})
	}
}

func TestSort_Deterministic(t *testing.T) {
	patches := []*Patch{
		pre("a", Priority(3)),
		pre("b", Before("a")),
		pre("c", Priority(3)),
		pre("d", After("c"), Priority(50)),
		pre("e", Before("d"), After("a")),
	}

	first, _ := Sort(ir.MethodID{Name: "m"}, patches)
	for range 10 {
		again, _ := Sort(ir.MethodID{Name: "m"}, patches)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"c", "b", "a", "e", "d"}, owners(first))
}

func TestSort_Cycle(t *testing.T) {
	assert := assert.New(t)

	id := ir.MethodID{Name: "m"}
	patches := []*Patch{
		pre("A", Priority(1), Before("B")),
		pre("B", Priority(10), Before("A")),
		pre("C", Priority(5)),
	}

	sorted, cycles := Sort(id, patches)
	assert.Equal([]string{"B", "C", "A"}, owners(sorted), "the cycle falls back to priority")

	require.Len(t, cycles, 1)
	assert.ErrorIs(cycles[0], ErrSortCycle)
	assert.Equal(id, cycles[0].Method)
	assert.Equal(Pre, cycles[0].Role)
	assert.Equal([]string{"A", "B"}, cycles[0].Owners)
}

func TestSort_CycleKeepsOutsideConstraints(t *testing.T) {
	assert := assert.New(t)

	// A and B contradict each other, and A must still follow L.
	patches := []*Patch{
		pre("A", Before("B"), After("L")),
		pre("B", Before("A"), Priority(2)),
		pre("L", Priority(-10)),
	}

	sorted, cycles := Sort(ir.MethodID{Name: "m"}, patches)
	assert.Equal([]string{"B", "L", "A"}, owners(sorted))
	assert.Len(cycles, 1)
}

func TestSort_CycleKeepsPriority(t *testing.T) {
	patches := []*Patch{
		pre("A", Priority(1), Before("B")),
		pre("B", Priority(10), Before("A")),
		pre("Z", Priority(-100)),
	}

	sorted, cycles := Sort(ir.MethodID{Name: "m"}, patches)
	assert.Equal(t, []string{"B", "A", "Z"}, owners(sorted), "cycle members don't wait for unconstrained patches")
	assert.Len(t, cycles, 1)
}

func TestSort_TwoCycles(t *testing.T) {
	patches := []*Patch{
		pre("a", Before("b")),
		pre("b", Before("a")),
		pre("c", Before("d"), After("a")),
		pre("d", Before("c")),
	}

	sorted, cycles := Sort(ir.MethodID{Name: "m"}, patches)
	assert.Len(t, sorted, 4)
	require.Len(t, cycles, 2)
	assert.Equal(t, []string{"a", "b"}, cycles[0].Owners)
	assert.Equal(t, []string{"c", "d"}, cycles[1].Owners)
	assert.Equal(t, []string{"a", "b", "c", "d"}, owners(sorted))
}

func TestBuildPlan(t *testing.T) {
	assert := assert.New(t)

	set := NewRegistry().GetOrCreate(signatureOnly("m", func() {}))
	require.NoError(t, set.Add(
		pre("p1", Priority(1)),
		pre("p2", Priority(2)),
		MustPatch(Post, func() {}, Owner("q1"), Priority(1)),
		MustPatch(Post, func() {}, Owner("q2"), Priority(2)),
		MustPatch(Finalize, func() {}, Owner("f1")),
		MustPatch(Finalize, func() {}, Owner("f2"), Before("f1")),
		MustPatch(Finalize, func() {}, Owner("f3")),
	))

	snap := set.Snapshot()
	plan := BuildPlan(set.Method().ID(), snap)
	assert.Equal(snap.Version, plan.Version)
	assert.Equal([]string{"p2", "p1"}, owners(plan.Patches(Pre)))
	assert.Equal([]string{"q1", "q2"}, owners(plan.Patches(Post)), "post runs in reverse")
	assert.Equal([]string{"f3", "f1", "f2"}, owners(plan.Patches(Finalize)), "finalize runs in reverse")
	assert.Empty(plan.Patches(Transform))
	assert.Empty(plan.Cycles)
}

func TestBuildPlan_RemovalResorts(t *testing.T) {
	set := NewRegistry().GetOrCreate(signatureOnly("m", func() {}))

	mid := pre("mid", Before("last"), After("first"))
	require.NoError(t, set.Add(pre("last", Priority(10)), mid, pre("first")))
	assert.Equal(t, []string{"first", "mid", "last"}, owners(BuildPlan(set.Method().ID(), set.Snapshot()).Patches(Pre)))

	set.Remove(mid)
	assert.Equal(t, []string{"last", "first"}, owners(BuildPlan(set.Method().ID(), set.Snapshot()).Patches(Pre)))
}
