// Package loops finds call sites that sit inside source-level loops of their
// enclosing method.
package loops

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/looptrace/pkg/program"
	"github.com/715d/looptrace/pkg/scc"
)

// Tagger marks, per method, the call statements lying on a cycle of the
// method's control-flow graph. Each body is processed at most once.
//
// Tagger is safe for concurrent use.
type Tagger struct {
	cg     program.CallGraph
	bodies program.Bodies
	tags   *xsync.Map[int, map[int]bool]
}

// New returns a tagger over the bodies of cg's methods.
func New(cg program.CallGraph, bodies program.Bodies) *Tagger {
	return &Tagger{
		cg:     cg,
		bodies: bodies,
		tags:   xsync.NewMap[int, map[int]bool](),
	}
}

type bodyGraph struct{ b *program.Body }

func (g bodyGraph) Size() int              { return g.b.Len() }
func (g bodyGraph) Neighbours(n int) []int { return g.b.Succs(n) }

// Tag processes m's body unless it already was. It returns the looping call
// statements of m.
func (t *Tagger) Tag(m *program.Method) map[int]bool {
	if tags, ok := t.tags.Load(m.ID); ok {
		return tags
	}

	tags := make(map[int]bool)
	if body := t.bodies.Body(m); body != nil && body.Len() > 0 {
		engine := scc.New(bodyGraph{body})
		engine.AnalyzeAll()
		for _, e := range t.cg.EdgesOutOf(m) {
			if e.Site < 0 || e.Site >= body.Len() {
				continue
			}
			if engine.IsInLoop(e.Site) {
				tags[e.Site] = true
			}
		}
	}

	actual, _ := t.tags.LoadOrStore(m.ID, tags)
	return actual
}

// Tagged reports whether m's body has been processed.
func (t *Tagger) Tagged(m *program.Method) bool {
	_, ok := t.tags.Load(m.ID)
	return ok
}

// IsLoop reports whether e originates from a call statement inside a loop of
// its caller.
func (t *Tagger) IsLoop(e *program.Edge) bool {
	if e == nil {
		return false
	}
	return t.Tag(e.Caller)[e.Site]
}
