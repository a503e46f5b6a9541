package txns

import (
	"slices"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

// waitForGraph has an edge A -> B iff transaction A is blocked by a request
// of transaction B. It is rebuilt from the lock table on every detection pass.
type waitForGraph struct {
	edges map[common.TxnID]map[common.TxnID]struct{}
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{
		edges: map[common.TxnID]map[common.TxnID]struct{}{},
	}
}

func (g *waitForGraph) AddEdge(waiter, blocker common.TxnID) {
	successors, ok := g.edges[waiter]
	if !ok {
		successors = map[common.TxnID]struct{}{}
		g.edges[waiter] = successors
	}
	successors[blocker] = struct{}{}
}

func (g *waitForGraph) successors(n common.TxnID) []common.TxnID {
	return utils.SortedKeys(g.edges[n])
}

// nodes returns every transaction of the graph, waiters and blockers alike,
// in ascending order.
func (g *waitForGraph) nodes() []common.TxnID {
	all := map[common.TxnID]struct{}{}
	for waiter, blockers := range g.edges {
		all[waiter] = struct{}{}
		for b := range blockers {
			all[b] = struct{}{}
		}
	}
	return utils.SortedKeys(all)
}

func (g *waitForGraph) hasEdge(from, to common.TxnID) bool {
	_, ok := g.edges[from][to]
	return ok
}

type dfsFrame struct {
	node       common.TxnID
	successors []common.TxnID
	next       int
	// a cycle through the search root was found below this node
	found bool
}

// FindCycles returns every elementary cycle of the graph. The graph is
// acyclic iff the result is empty. Each cycle starts at its smallest id.
// Cycles are ordered by that id, then by the ascending order in which
// successors are visited, so the result is stable.
//
// The search is Johnson's algorithm with explicit stacks: the root is the
// smallest id of the lowest cyclic strongly connected component among the
// ids not yet used as roots, and the walk from it stays inside that
// component.
func (g *waitForGraph) FindCycles() [][]common.TxnID {
	nodes := g.nodes()
	seen := map[string]struct{}{}

	var cycles [][]common.TxnID
	for len(nodes) > 0 {
		component, ok := g.lowestCyclicComponent(nodes)
		if !ok {
			break
		}

		root := slices.Min(component)
		for _, cycle := range g.circuitsFrom(root, component) {
			key := cycleKey(cycle)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			cycles = append(cycles, cycle)
		}

		idx, _ := slices.BinarySearch(nodes, root)
		nodes = nodes[idx+1:]
	}

	return cycles
}

// lowestCyclicComponent computes the strongly connected components of the
// subgraph induced by nodes (sorted ascending) with an iterative Tarjan
// search and returns the one holding a cycle whose smallest id is lowest.
func (g *waitForGraph) lowestCyclicComponent(nodes []common.TxnID) ([]common.TxnID, bool) {
	lower := nodes[0]
	scoped := func(n common.TxnID) []common.TxnID {
		succ := g.successors(n)
		return slices.DeleteFunc(succ, func(s common.TxnID) bool { return s < lower })
	}

	index := map[common.TxnID]int{}
	low := map[common.TxnID]int{}
	onStack := map[common.TxnID]bool{}
	var (
		stack   []common.TxnID
		call    []dfsFrame
		counter int
		best    []common.TxnID
	)

	visit := func(n common.TxnID) {
		index[n] = counter
		low[n] = counter
		counter++
		stack = append(stack, n)
		onStack[n] = true
		call = append(call, dfsFrame{node: n, successors: scoped(n)})
	}

	for _, root := range nodes {
		if _, ok := index[root]; ok {
			continue
		}
		visit(root)

		for len(call) > 0 {
			top := &call[len(call)-1]
			if top.next < len(top.successors) {
				w := top.successors[top.next]
				top.next++
				if _, ok := index[w]; !ok {
					visit(w)
				} else if onStack[w] {
					low[top.node] = min(low[top.node], index[w])
				}
				continue
			}

			n := top.node
			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].node
				low[parent] = min(low[parent], low[n])
			}
			if low[n] != index[n] {
				continue
			}

			var component []common.TxnID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == n {
					break
				}
			}

			cyclic := len(component) > 1 || g.hasEdge(n, n)
			if cyclic && (best == nil || slices.Min(component) < slices.Min(best)) {
				best = component
			}
		}
	}

	return best, best != nil
}

// circuitsFrom enumerates the elementary cycles through root that stay
// inside component. A node stays blocked while no cycle through root can
// be completed from it, and blockedBy records whom to unblock once one
// can.
func (g *waitForGraph) circuitsFrom(root common.TxnID, component []common.TxnID) [][]common.TxnID {
	inComponent := make(map[common.TxnID]struct{}, len(component))
	for _, n := range component {
		inComponent[n] = struct{}{}
	}
	scoped := func(n common.TxnID) []common.TxnID {
		succ := g.successors(n)
		return slices.DeleteFunc(succ, func(s common.TxnID) bool {
			_, ok := inComponent[s]
			return !ok
		})
	}

	blocked := map[common.TxnID]bool{}
	blockedBy := map[common.TxnID]map[common.TxnID]struct{}{}
	unblock := func(u common.TxnID) {
		blocked[u] = false
		work := []common.TxnID{u}
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			for w := range blockedBy[n] {
				delete(blockedBy[n], w)
				if blocked[w] {
					blocked[w] = false
					work = append(work, w)
				}
			}
		}
	}

	var cycles [][]common.TxnID
	path := []common.TxnID{root}
	blocked[root] = true
	stack := []dfsFrame{{node: root, successors: scoped(root)}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.successors) {
			w := top.successors[top.next]
			top.next++
			if w == root {
				cycles = append(cycles, slices.Clone(path))
				top.found = true
			} else if !blocked[w] {
				blocked[w] = true
				path = append(path, w)
				stack = append(stack, dfsFrame{node: w, successors: scoped(w)})
			}
			continue
		}

		if top.found {
			unblock(top.node)
		} else {
			for _, w := range top.successors {
				if blockedBy[w] == nil {
					blockedBy[w] = map[common.TxnID]struct{}{}
				}
				blockedBy[w][top.node] = struct{}{}
			}
		}

		found := top.found
		stack = stack[:len(stack)-1]
		path = path[:len(path)-1]
		if found && len(stack) > 0 {
			stack[len(stack)-1].found = true
		}
	}

	return cycles
}

func cycleKey(cycle []common.TxnID) string {
	b := make([]byte, 0, len(cycle)*4)
	for _, id := range cycle {
		b = append(b, id.String()...)
		b = append(b, ',')
	}
	return string(b)
}
