package detect

import (
	"context"
	"sort"
	"time"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/graph"
)

// ShellDetector flags low-activity pass-through accounts that forward
// funds shortly after receiving them.
type ShellDetector struct {
	maxTransactions int
	maxDelay        time.Duration
}

// NewShellDetector creates a shell-layering detector from cfg.
func NewShellDetector(cfg domain.DetectionConfig) *ShellDetector {
	return &ShellDetector{
		maxTransactions: cfg.ShellMaxTransactions,
		maxDelay:        cfg.ShellMaxDelay,
	}
}

// Name implements Detector.
func (d *ShellDetector) Name() string {
	return "shell"
}

// IsShell reports whether acc looks like a pass-through shell.
func (d *ShellDetector) IsShell(acc *domain.Account) bool {
	if acc.TransactionCount() >= d.maxTransactions {
		return false
	}
	if len(acc.Incoming) == 0 || len(acc.Outgoing) == 0 {
		return false
	}
	delay := acc.Outgoing[0].Timestamp.Sub(acc.Incoming[0].Timestamp)
	return delay >= 0 && delay <= d.maxDelay
}

// Detect implements Detector. Shell accounts joined by an edge form one
// group whose members are listed in chain order.
func (d *ShellDetector) Detect(ctx context.Context, g *graph.Graph) (*Findings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := newFindings(d.Name())
	shell := make([]bool, g.Len())
	for i := 0; i < g.Len(); i++ {
		if d.IsShell(g.Account(i)) {
			shell[i] = true
			f.set(g.ID(i)).Add(domain.PatternShellLayering, 1)
		}
	}

	uf := newUnionFind()
	for i := 0; i < g.Len(); i++ {
		if !shell[i] {
			continue
		}
		uf.add(g.ID(i))
		for _, j := range g.Successors(i) {
			if shell[j] {
				uf.union(g.ID(i), g.ID(j))
			}
		}
	}

	for _, members := range uf.groups() {
		f.Groups = append(f.Groups, Group{
			Type:    domain.RingShell,
			Members: chainOrder(g, members, shell),
		})
	}
	return f, nil
}

// chainOrder lists a shell component starting from its chain heads (members
// with no shell predecessor), walking successors depth first.
func chainOrder(g *graph.Graph, members []string, shell []bool) []string {
	if len(members) < 2 {
		return members
	}

	nodes := make([]int, 0, len(members))
	inGroup := make(map[int]bool, len(members))
	for _, id := range members {
		i, _ := g.Index(id)
		nodes = append(nodes, i)
		inGroup[i] = true
	}
	sort.Ints(nodes)

	var heads []int
	for _, v := range nodes {
		head := true
		for _, p := range g.Predecessors(v) {
			if inGroup[p] && shell[p] {
				head = false
				break
			}
		}
		if head {
			heads = append(heads, v)
		}
	}
	// A component that is itself a loop has no head.
	heads = append(heads, nodes...)

	visited := make(map[int]bool, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, h := range heads {
		if visited[h] {
			continue
		}
		stack := []int{h}
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[v] {
				continue
			}
			visited[v] = true
			out = append(out, g.ID(v))
			succ := g.Successors(v)
			for k := len(succ) - 1; k >= 0; k-- {
				if w := succ[k]; inGroup[w] && !visited[w] {
					stack = append(stack, w)
				}
			}
		}
	}
	return out
}
