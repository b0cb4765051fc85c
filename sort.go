package splice

import (
	"slices"

	"github.com/pboyd/splice/ir"
)

// Sort orders the patches of one role.
//
// Before/After constraints are matched by owner; owners that aren't in the
// list are ignored. Patches the constraints leave unordered run by
// priority, higher first, then in registration order, which is their
// position in the list.
//
// Contradictory constraints don't stop the sort. The constraints between
// members of a cycle are dropped, so those patches fall back to priority
// order among everything else, and each cycle is returned.
func Sort(method ir.MethodID, patches []*Patch) ([]*Patch, []*SortCycleError) {
	n := len(patches)
	if n == 0 {
		return nil, nil
	}

	owners := make(map[string][]int)
	for i, p := range patches {
		owners[p.owner] = append(owners[p.owner], i)
	}

	// edge[a][b] means a runs before b.
	edge := make([][]bool, n)
	for i := range edge {
		edge[i] = make([]bool, n)
	}
	for i, p := range patches {
		for _, o := range p.before {
			for _, j := range owners[o] {
				if i != j {
					edge[i][j] = true
				}
			}
		}
		for _, o := range p.after {
			for _, j := range owners[o] {
				if i != j {
					edge[j][i] = true
				}
			}
		}
	}

	cycles := breakCycles(method, patches, edge)

	indeg := make([]int, n)
	for a := range n {
		for b := range n {
			if edge[a][b] {
				indeg[b]++
			}
		}
	}

	// less orders the ready set.
	less := func(a, b int) bool {
		pa, pb := patches[a].priority, patches[b].priority
		if pa != pb {
			return pa > pb
		}
		return a < b
	}

	done := make([]bool, n)
	sorted := make([]*Patch, 0, n)
	for len(sorted) < n {
		next := -1
		for i := range n {
			if !done[i] && indeg[i] == 0 && (next < 0 || less(i, next)) {
				next = i
			}
		}

		done[next] = true
		sorted = append(sorted, patches[next])
		for j := range n {
			if edge[next][j] {
				indeg[j]--
			}
		}
	}

	return sorted, cycles
}

// breakCycles removes the edges inside every strongly connected component
// with more than one member and reports each one. Cycles are reported in
// order of their lowest index, members in index order.
func breakCycles(method ir.MethodID, patches []*Patch, edge [][]bool) []*SortCycleError {
	n := len(edge)
	comp := tarjan(edge)

	members := make(map[int][]int)
	var order []int
	for i := range n {
		c := comp[i]
		if _, ok := members[c]; !ok {
			order = append(order, c)
		}
		members[c] = append(members[c], i)
	}

	var cycles []*SortCycleError
	for _, c := range order {
		group := members[c]
		if len(group) < 2 {
			continue
		}

		names := make([]string, len(group))
		for k, a := range group {
			names[k] = patches[a].owner
			for _, b := range group {
				edge[a][b] = false
			}
		}
		cycles = append(cycles, &SortCycleError{
			Method: method,
			Role:   patches[group[0]].role,
			Owners: names,
		})
	}
	return cycles
}

// tarjan labels each node with its strongly connected component.
func tarjan(edge [][]bool) []int {
	n := len(edge)
	var (
		index   = 0
		indices = make([]int, n)
		lowlink = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		comp    = make([]int, n)
		ncomp   = 0
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(v int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for w := range n {
			if !edge[v][w] {
				continue
			}
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp[w] = ncomp
				if w == v {
					break
				}
			}
			ncomp++
		}
	}

	for v := range n {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}
	return comp
}

// Plan is the sorted patches of every role for one method. Post and
// Finalize are in execution order, the reverse of their sort order.
type Plan struct {
	Method  ir.MethodID
	Version uint64
	Cycles  []*SortCycleError

	patches [numRoles][]*Patch
}

// Patches returns one role's patches in execution order.
func (p *Plan) Patches(r Role) []*Patch {
	return p.patches[r]
}

// BuildPlan sorts every role of a snapshot. Each call sorts from scratch,
// so removing a patch never leaves a stale order behind.
func BuildPlan(method ir.MethodID, snap Snapshot) *Plan {
	plan := &Plan{Method: method, Version: snap.Version}
	for _, r := range Roles {
		sorted, cycles := Sort(method, snap.Patches(r))
		if r == Post || r == Finalize {
			slices.Reverse(sorted)
		}
		plan.patches[r] = sorted
		plan.Cycles = append(plan.Cycles, cycles...)
	}
	return plan
}
