// Package recursion flags potentially recursive methods on the call graph
// augmented with resolved callback activations.
package recursion

import (
	"cmp"
	"slices"
	"sync"

	"github.com/715d/looptrace/pkg/callback"
	"github.com/715d/looptrace/pkg/program"
	"github.com/715d/looptrace/pkg/scc"
)

// Analysis answers recursion queries. Results are computed on demand and
// shared: analyzing a method also settles every method reachable from it.
//
// Analysis is safe for concurrent use.
type Analysis struct {
	cg       program.CallGraph
	resolver *callback.Resolver

	mu     sync.Mutex
	engine *scc.Engine
}

// New returns an analysis over cg augmented by resolver.
func New(cg program.CallGraph, resolver *callback.Resolver) *Analysis {
	a := &Analysis{cg: cg, resolver: resolver}
	a.engine = scc.New(graph{a})
	return a
}

// graph adapts the augmented call graph to the SCC engine.
type graph struct{ a *Analysis }

func (g graph) Size() int { return g.a.cg.NumMethods() }

func (g graph) Neighbours(n int) []int {
	var out []int
	for _, m := range g.a.neighbours(g.a.cg.Method(n)) {
		out = append(out, m.ID)
	}
	return out
}

func (a *Analysis) neighbours(m *program.Method) []*program.Method {
	var out []*program.Method
	for _, e := range a.cg.EdgesOutOf(m) {
		switch {
		case e.Static:
			// Static initializers run once; they never close a cycle.
		case a.resolver.IsActive(e):
			out = append(out, sortedMethods(a.resolver.Resolve(e))...)
		default:
			out = append(out, e.Callee)
		}
	}
	return out
}

// Neighbours returns the successors of m in the augmented graph.
func (a *Analysis) Neighbours(m *program.Method) []*program.Method {
	return a.neighbours(m)
}

// Analyze settles m and everything reachable from it.
func (a *Analysis) Analyze(m *program.Method) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Analyze(m.ID)
}

// AnalyzeAll settles the whole program and returns every recursive method,
// ordered by ID.
func (a *Analysis) AnalyzeAll() []*program.Method {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.AnalyzeAll()

	var out []*program.Method
	for id := range a.cg.NumMethods() {
		if a.engine.IsInLoop(id) {
			out = append(out, a.cg.Method(id))
		}
	}
	return out
}

// IsRec reports whether m may be recursive, analyzing it first if needed.
func (a *Analysis) IsRec(m *program.Method) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Analyze(m.ID)
	return a.engine.IsInLoop(m.ID)
}

// Component returns the representative id of m's component.
func (a *Analysis) Component(m *program.Method) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Analyze(m.ID)
	return a.engine.Component(m.ID)
}

// Members returns the methods sharing m's component, m included, ordered by
// ID. It is empty when m is not recursive.
func (a *Analysis) Members(m *program.Method) []*program.Method {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine.Analyze(m.ID)
	return a.methods(a.engine.Members(m.ID))
}

// Groups returns every recursive component found so far.
func (a *Analysis) Groups() [][]*program.Method {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [][]*program.Method
	for _, ids := range a.engine.Loops() {
		out = append(out, a.methods(ids))
	}
	return out
}

func (a *Analysis) methods(ids []int) []*program.Method {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*program.Method, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.cg.Method(id))
	}
	slices.SortFunc(out, byID)
	return out
}

func sortedMethods(m map[*program.Method]string) []*program.Method {
	out := make([]*program.Method, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.SortFunc(out, byID)
	return out
}

func byID(a, b *program.Method) int { return cmp.Compare(a.ID, b.ID) }
