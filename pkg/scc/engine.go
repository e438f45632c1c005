// Package scc computes strongly connected components of arbitrary directed
// graphs, incrementally and on demand.
//
// The algorithm is Tarjan's, with one deliberate extension: a node that forms
// a component on its own but has an edge to itself is reported as being in a
// loop. Call graphs are full of direct recursion, so self-loops matter here.
package scc

import (
	"fmt"
	"slices"
)

// Graph is the view of a graph the engine walks. Nodes are dense integers in
// [0, Size()).
type Graph interface {
	Size() int
	Neighbours(n int) []int
}

type nodeState struct {
	id       int // 0 until visited
	lowlink  int
	onStack  bool
	finished bool
	loop     bool
}

type frame struct {
	node  int
	succs []int
	next  int
}

// Engine holds the SCC state of one graph. Analysis results are never
// recomputed: once a node has an id it is not visited again, so repeated
// calls to Analyze extend the computation.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	g      Graph
	nodes  []nodeState
	byID   []int // node for each id; byID[0] is unused
	stack  []int
	comps  map[int][]int // members of each non-trivial component by representative id
	order  []int         // representative ids of non-trivial components in discovery order
	frames []frame
}

// New returns an engine over g. Node state is sized from g.Size().
func New(g Graph) *Engine {
	return &Engine{
		g:     g,
		nodes: make([]nodeState, g.Size()),
		byID:  []int{-1},
		comps: make(map[int][]int),
	}
}

// Analyze visits every node reachable from start that has not been visited
// by a previous call.
func (e *Engine) Analyze(start ...int) {
	for _, n := range start {
		if e.nodes[n].id == 0 {
			e.visit(n)
		}
	}
}

// AnalyzeAll visits every node of the graph.
func (e *Engine) AnalyzeAll() {
	for n := range e.nodes {
		if e.nodes[n].id == 0 {
			e.visit(n)
		}
	}
}

func (e *Engine) push(n int) {
	id := len(e.byID)
	e.byID = append(e.byID, n)
	e.nodes[n] = nodeState{id: id, lowlink: id, onStack: true}
	e.stack = append(e.stack, n)
	e.frames = append(e.frames, frame{node: n, succs: e.g.Neighbours(n)})
}

func (e *Engine) visit(root int) {
	e.push(root)
	for len(e.frames) > 0 {
		top := len(e.frames) - 1
		f := &e.frames[top]
		if f.next < len(f.succs) {
			w := f.succs[f.next]
			f.next++
			ws := &e.nodes[w]
			switch {
			case ws.id == 0:
				// f is invalidated by push.
				e.push(w)
			case ws.onStack:
				if v := &e.nodes[f.node]; ws.id < v.lowlink {
					v.lowlink = ws.id
				}
			}
			continue
		}

		n, succs := f.node, f.succs
		e.frames = e.frames[:top]
		if v := &e.nodes[n]; v.lowlink == v.id {
			e.pop(n, succs)
		}
		if top > 0 {
			parent := &e.nodes[e.frames[top-1].node]
			if low := e.nodes[n].lowlink; low < parent.lowlink {
				parent.lowlink = low
			}
		}
	}
}

// pop removes the component rooted at root from the stack.
func (e *Engine) pop(root int, rootSuccs []int) {
	rootID := e.nodes[root].id
	var members []int
	for {
		k := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		s := &e.nodes[k]
		s.onStack = false
		s.finished = true
		s.lowlink = rootID
		members = append(members, k)
		if k == root {
			break
		}
	}

	if len(members) == 1 && !slices.Contains(rootSuccs, root) {
		return
	}
	for _, k := range members {
		e.nodes[k].loop = true
	}
	e.comps[rootID] = members
	e.order = append(e.order, rootID)
}

func (e *Engine) state(n int) *nodeState {
	s := &e.nodes[n]
	if !s.finished {
		panic(fmt.Sprintf("scc: node %d queried before analysis", n))
	}
	return s
}

// Visited reports whether n has been analyzed.
func (e *Engine) Visited(n int) bool {
	return e.nodes[n].finished
}

// IsInLoop reports whether n lies on a cycle, including a self-loop.
func (e *Engine) IsInLoop(n int) bool {
	return e.state(n).loop
}

// Component returns the id of the representative of n's component.
func (e *Engine) Component(n int) int {
	return e.state(n).lowlink
}

// Identifier returns the id assigned to n.
func (e *Engine) Identifier(n int) int {
	return e.state(n).id
}

// Node returns the node that was assigned id.
func (e *Engine) Node(id int) int {
	return e.byID[id]
}

// Members returns the nodes of n's component when it is a loop, nil
// otherwise.
func (e *Engine) Members(n int) []int {
	s := e.state(n)
	if !s.loop {
		return nil
	}
	return slices.Clone(e.comps[s.lowlink])
}

// Loops returns the members of every non-trivial component found so far, in
// discovery order.
func (e *Engine) Loops() [][]int {
	out := make([][]int, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, slices.Clone(e.comps[id]))
	}
	return out
}
