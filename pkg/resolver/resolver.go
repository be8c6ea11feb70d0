package resolver

import (
	"container/heap"
	"sort"

	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

// Resolve computes the plan for nodes (in insertion order) and their dependency edges.
//
// Strongly connected components are found with Tarjan's algorithm. Components
// are ordered with Kahn's algorithm where ties go to the component holding the
// earliest inserted node, so the same graph always yields the same plan.
func Resolve(nodes []string, edges []Edge) (*Plan, error) {
	t := newTopology(nodes)
	for _, e := range edges {
		if err := t.addEdge(e); err != nil {
			return nil, err
		}
	}
	t.sortSuccessors()

	comps := t.components()
	return t.plan(comps), nil
}

type topology struct {
	names []string
	index map[string]int
	succ  [][]int
	self  []bool
	seen  map[[2]int]bool
}

func newTopology(nodes []string) *topology {
	t := &topology{
		names: append([]string(nil), nodes...),
		index: make(map[string]int, len(nodes)),
		succ:  make([][]int, len(nodes)),
		self:  make([]bool, len(nodes)),
		seen:  make(map[[2]int]bool),
	}
	for i, n := range nodes {
		t.index[n] = i
	}
	return t
}

func (t *topology) addEdge(e Edge) error {
	from, ok := t.index[e.From]
	if !ok {
		return flowerrors.UnknownNode(e.From)
	}
	to, ok := t.index[e.To]
	if !ok {
		return flowerrors.UnknownNode(e.To)
	}
	key := [2]int{from, to}
	if t.seen[key] {
		return nil
	}
	t.seen[key] = true
	if from == to {
		t.self[from] = true
	}
	t.succ[from] = append(t.succ[from], to)
	return nil
}

// sortSuccessors orders every adjacency list by insertion index.
func (t *topology) sortSuccessors() {
	for _, s := range t.succ {
		sort.Ints(s)
	}
}

// components runs Tarjan's SCC algorithm. Each component is returned with its
// members sorted by insertion index.
func (t *topology) components() [][]int {
	n := len(t.names)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var (
		stack   []int
		counter int
		comps   [][]int
		call    []frame
	)

	visit := func(v int) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		call = append(call, frame{v: v})
	}

	for root := 0; root < n; root++ {
		if index[root] != -1 {
			continue
		}
		visit(root)
		for len(call) > 0 {
			f := &call[len(call)-1]
			v := f.v
			if f.next < len(t.succ[v]) {
				w := t.succ[v][f.next]
				f.next++
				if index[w] == -1 {
					visit(w)
				} else if onStack[w] {
					low[v] = min(low[v], index[w])
				}
				continue
			}

			call = call[:len(call)-1]
			if len(call) > 0 {
				parent := call[len(call)-1].v
				low[parent] = min(low[parent], low[v])
			}
			if low[v] != index[v] {
				continue
			}
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
			comps = append(comps, comp)
		}
	}
	return comps
}

// frame is one vertex of an explicit depth-first stack with the index of
// the next successor to visit.
type frame struct {
	v, next int
}

func (t *topology) plan(comps [][]int) *Plan {
	compOf := make([]int, len(t.names))
	for ci, comp := range comps {
		for _, v := range comp {
			compOf[v] = ci
		}
	}

	// condensation edges and in-degrees
	compSucc := make([][]int, len(comps))
	indeg := make([]int, len(comps))
	linked := make(map[[2]int]bool)
	for v, succ := range t.succ {
		for _, w := range succ {
			a, b := compOf[v], compOf[w]
			if a == b || linked[[2]int{a, b}] {
				continue
			}
			linked[[2]int{a, b}] = true
			compSucc[a] = append(compSucc[a], b)
			indeg[b]++
		}
	}

	// Kahn's algorithm keyed on each component's earliest inserted member
	ready := &componentHeap{}
	for ci, comp := range comps {
		if indeg[ci] == 0 {
			heap.Push(ready, componentKey{comp: ci, first: comp[0]})
		}
	}

	p := &Plan{
		regionOf: make(map[string]*Region),
		stepOf:   make(map[string]int, len(t.names)),
	}
	depth := make([]int, len(comps))
	for ready.Len() > 0 {
		k := heap.Pop(ready).(componentKey)
		comp := comps[k.comp]

		step := Step{Depth: depth[k.comp]}
		if len(comp) > 1 || t.self[comp[0]] {
			region := t.region(comp, compOf, k.comp)
			step.Kind = StepCycle
			step.Region = region
			p.Regions = append(p.Regions, region)
			for _, m := range region.Members {
				p.regionOf[m] = region
			}
		} else {
			step.Kind = StepNode
			step.NodeID = t.names[comp[0]]
		}

		stepIndex := len(p.Steps)
		p.Steps = append(p.Steps, step)
		for _, v := range comp {
			p.stepOf[t.names[v]] = stepIndex
		}
		for len(p.Waves) <= step.Depth {
			p.Waves = append(p.Waves, nil)
		}
		p.Waves[step.Depth] = append(p.Waves[step.Depth], stepIndex)

		for _, next := range compSucc[k.comp] {
			depth[next] = max(depth[next], step.Depth+1)
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, componentKey{comp: next, first: comps[next][0]})
			}
		}
	}
	return p
}

// region orders the members of a cyclic component. The entry is the earliest
// inserted member with a predecessor outside the component (or the earliest
// member); members follow the reverse post-order of a DFS from the entry.
func (t *topology) region(comp []int, compOf []int, ci int) *Region {
	entry := comp[0]
	external := make(map[int]bool)
	for v, succ := range t.succ {
		if compOf[v] == ci {
			continue
		}
		for _, w := range succ {
			if compOf[w] == ci {
				external[w] = true
			}
		}
	}
	for _, v := range comp {
		if external[v] {
			entry = v
			break
		}
	}

	visited := make(map[int]bool, len(comp))
	onStack := make(map[int]bool, len(comp))
	var (
		post []int
		back []Edge
	)
	var call []frame
	enter := func(v int) {
		visited[v] = true
		onStack[v] = true
		call = append(call, frame{v: v})
	}
	enter(entry)
	for len(call) > 0 {
		f := &call[len(call)-1]
		v := f.v
		if f.next < len(t.succ[v]) {
			w := t.succ[v][f.next]
			f.next++
			switch {
			case compOf[w] != ci:
			case onStack[w]:
				back = append(back, Edge{From: t.names[v], To: t.names[w]})
			case !visited[w]:
				enter(w)
			}
			continue
		}
		call = call[:len(call)-1]
		onStack[v] = false
		post = append(post, v)
	}

	r := &Region{
		ID:        "cycle:" + t.names[entry],
		Entry:     t.names[entry],
		BackEdges: back,
		members:   make(map[string]int, len(comp)),
	}
	for i := len(post) - 1; i >= 0; i-- {
		name := t.names[post[i]]
		r.members[name] = len(r.Members)
		r.Members = append(r.Members, name)
	}
	return r
}

type componentKey struct {
	comp  int
	first int
}

// componentHeap is a min-heap of ready components ordered by earliest member.
type componentHeap []componentKey

func (h componentHeap) Len() int           { return len(h) }
func (h componentHeap) Less(i, j int) bool { return h[i].first < h[j].first }
func (h componentHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *componentHeap) Push(x any) { *h = append(*h, x.(componentKey)) }

func (h *componentHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
