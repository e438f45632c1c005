// Package explore walks the augmented call graph from entry points and
// reports every critical method it reaches, annotated with the loops and
// recursion on the way.
package explore

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/715d/looptrace/pkg/callback"
	"github.com/715d/looptrace/pkg/loops"
	"github.com/715d/looptrace/pkg/program"
	"github.com/715d/looptrace/pkg/recursion"
)

// Entry is an entry point. An entry naming an interface class is dispatched
// to every implementer; a concrete class is dispatched directly; Func is used
// as is.
type Entry struct {
	Name        string
	Class       *program.Class
	Method      string
	Func        *program.Method
	Explanation string
}

// Config wires an Explorer to its collaborators.
type Config struct {
	Program   program.Program
	Resolver  *callback.Resolver
	Recursion *recursion.Analysis
	Loops     *loops.Tagger

	// Criticals maps each critical method to its explanation.
	Criticals map[*program.Method]string
}

// Explorer explores entry points. The recursion analysis and the loop
// tagger are shared by every exploration; visited steps are not, so Explore
// may run concurrently for different entries.
type Explorer struct {
	cfg Config
}

// New creates an explorer.
func New(cfg Config) *Explorer {
	return &Explorer{cfg: cfg}
}

// Step is one method occurrence on an explored path. Two steps are the same
// when they share the incoming edge, the method and the loop flag.
type Step struct {
	Method *program.Method
	InLoop bool
	Prev   *Step
	Edge   *program.Edge

	// Explanation is the text of the callback rule that produced Edge's
	// activation, if any.
	Explanation string

	// Recursive reports whether Method may be recursive.
	Recursive bool

	// LocalLoop reports whether Edge starts inside a loop of its caller.
	LocalLoop bool
}

type stepKey struct {
	edge   *program.Edge
	method int
	loop   bool
}

func (s *Step) key() stepKey {
	return stepKey{edge: s.Edge, method: s.Method.ID, loop: s.InLoop}
}

// walk is the state of one entry point exploration.
type walk struct {
	x       *Explorer
	visited map[stepKey]*Step
	order   []*Step
}

// Implementers returns the methods an entry point dispatches to, ordered by
// ID.
func (x *Explorer) Implementers(entry Entry) []*program.Method {
	p := x.cfg.Program
	var out []*program.Method
	switch {
	case entry.Func != nil:
		out = []*program.Method{entry.Func}
	case entry.Class == nil:
	case entry.Class.Interface:
		out = p.ResolveAbstractDispatch(p.Implementers(entry.Class), entry.Method)
	default:
		m, err := p.Dispatch(entry.Class, entry.Method)
		if err != nil {
			slog.Warn("entry point not implemented", "entry", entry.Name, "error", err)
			return nil
		}
		out = []*program.Method{m}
	}
	out = slices.Clone(out)
	slices.SortFunc(out, func(a, b *program.Method) int { return cmp.Compare(a.ID, b.ID) })
	return slices.Compact(out)
}

// Explore walks every implementer of entry and emits one trace per reached
// critical method occurrence to sink. It returns the number of distinct
// steps visited.
func (x *Explorer) Explore(entry Entry, sink Sink) int {
	w := &walk{x: x, visited: make(map[stepKey]*Step)}
	impls := x.Implementers(entry)
	slog.Debug("exploring entry point", "entry", entry.Name, "implementers", len(impls))

	for _, m := range impls {
		x.cfg.Recursion.Analyze(m)
		w.visit(m, false, nil, nil, "")
	}

	for _, s := range w.order {
		expl, ok := x.cfg.Criticals[s.Method]
		if !ok {
			continue
		}
		sink.Emit(newTrace(entry, s, expl))
	}
	return len(w.order)
}

func (w *walk) visit(m *program.Method, inLoop bool, prev *Step, edge *program.Edge, expl string) {
	cfg := &w.x.cfg
	cfg.Loops.Tag(m)
	rec := cfg.Recursion.IsRec(m)

	s := &Step{
		Method:      m,
		InLoop:      inLoop || rec,
		Prev:        prev,
		Edge:        edge,
		Explanation: expl,
		Recursive:   rec,
		LocalLoop:   cfg.Loops.IsLoop(edge),
	}
	k := s.key()
	if _, ok := w.visited[k]; ok {
		return
	}
	w.visited[k] = s
	w.order = append(w.order, s)

	// Library and platform code is a leaf.
	if !m.Application {
		return
	}

	for _, e := range cfg.Program.EdgesOutOf(m) {
		next := s.InLoop || cfg.Loops.IsLoop(e)
		if !e.Static && cfg.Resolver.IsActive(e) {
			targets := cfg.Resolver.Resolve(e)
			for _, t := range sortedTargets(targets) {
				w.visit(t, next, s, e, targets[t])
			}
			continue
		}
		w.visit(e.Callee, next, s, e, "")
	}
}

func sortedTargets(targets map[*program.Method]string) []*program.Method {
	out := make([]*program.Method, 0, len(targets))
	for m := range targets {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *program.Method) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
