package detect

import (
	"sort"

	"github.com/opensource-finance/mulerift/internal/graph"
)

// stronglyConnected returns the strongly connected components of g using an
// iterative Tarjan traversal. Members are ascending and components are
// ordered by their smallest member.
func stronglyConnected(g *graph.Graph) [][]int {
	n := g.Len()
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	type frame struct {
		v    int
		next int
	}

	var (
		counter    int
		stack      []int
		components [][]int
	)

	visit := func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
	}

	for root := 0; root < n; root++ {
		if index[root] >= 0 {
			continue
		}
		visit(root)
		work := []frame{{v: root}}

		for len(work) > 0 {
			top := len(work) - 1
			v := work[top].v
			succ := g.Successors(v)

			if work[top].next < len(succ) {
				w := succ[work[top].next]
				work[top].next++
				if index[w] < 0 {
					visit(w)
					work = append(work, frame{v: w})
				} else if onStack[w] && index[w] < low[v] {
					low[v] = index[w]
				}
				continue
			}

			work = work[:top]
			if top > 0 {
				if p := work[top-1].v; low[v] < low[p] {
					low[p] = low[v]
				}
			}

			if low[v] == index[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				sort.Ints(comp)
				components = append(components, comp)
			}
		}
	}

	sort.Slice(components, func(i, j int) bool {
		return components[i][0] < components[j][0]
	})
	return components
}
