// Package callback resolves callback activations: calls whose real effect is
// to later invoke some other method, such as registering an HTTP handler or
// passing a function to sync.Once.Do.
//
// Resolution is rule driven. A rule names the activating method, the argument
// that carries the callback and the signature that will eventually be invoked
// on it. The points-to oracle supplies the runtime types of the argument,
// which are then devirtualized against the signature.
package callback

import (
	"fmt"
	"log/slog"

	"github.com/715d/looptrace/pkg/program"
)

// Link forwards a value between two arguments of calls to Method, for example
// from the handler argument of a registration method to the result of the
// getter that later returns it.
type Link struct {
	Method *program.Method
	From   int
	To     int
}

// Rule is a translation rule: a call to Caller activates Target on the
// objects passed as argument Arg, after pushing them through Links.
type Rule struct {
	Caller      *program.Method
	Arg         int
	Target      string
	Links       []Link
	Explanation string
}

func (r Rule) String() string {
	return fmt.Sprintf("%s[%d] -> %q", r.Caller, r.Arg, r.Target)
}

// Resolver holds the registered rules. Rules are registered before analysis
// starts; afterwards a Resolver is safe for concurrent use as long as the
// underlying program is.
type Resolver struct {
	cg     program.CallGraph
	h      program.Hierarchy
	oracle program.Oracle
	rules  map[int][]Rule
}

// NewResolver creates a resolver without rules.
func NewResolver(cg program.CallGraph, h program.Hierarchy, oracle program.Oracle) *Resolver {
	return &Resolver{
		cg:     cg,
		h:      h,
		oracle: oracle,
		rules:  make(map[int][]Rule),
	}
}

// Register appends r to the rules of its caller. Registration order is the
// order in which Resolve applies the rules.
func (r *Resolver) Register(rule Rule) {
	id := rule.Caller.ID
	r.rules[id] = append(r.rules[id], rule)
}

// Rules returns the rules registered for m.
func (r *Resolver) Rules(m *program.Method) []Rule {
	return r.rules[m.ID]
}

// IsActive reports whether e activates callbacks. Static-initializer edges
// are never active.
func (r *Resolver) IsActive(e *program.Edge) bool {
	if e.Static {
		return false
	}
	return len(r.rules[e.Callee.ID]) > 0
}

// Resolve returns the methods activated by e together with the explanation
// of the rule that produced them, or nil if no rule applies to e's callee.
// When several rules resolve the same method the last one wins.
func (r *Resolver) Resolve(e *program.Edge) map[*program.Method]string {
	rules := r.rules[e.Callee.ID]
	if rules == nil {
		return nil
	}

	out := make(map[*program.Method]string)
	for _, rule := range rules {
		objs := r.oracle.ReachingObjects(e, rule.Arg)
		for _, l := range rule.Links {
			objs = r.LinkThrough(objs, l)
		}
		for _, c := range objs.PossibleTypes() {
			m, err := r.h.Dispatch(c, rule.Target)
			if err != nil {
				slog.Debug("callback target not found", "rule", rule, "class", c.Name, "error", err)
				continue
			}
			out[m] = rule.Explanation
		}
	}
	return out
}

// LinkThrough follows objs through the link method: for every call into
// l.Method whose From argument may hold one of objs, the objects of its To
// argument are collected.
func (r *Resolver) LinkThrough(objs program.ObjectSet, l Link) program.ObjectSet {
	out := program.ObjectSet{}
	for _, e := range r.cg.EdgesInto(l.Method) {
		if !r.oracle.ReachingObjects(e, l.From).Intersects(objs) {
			continue
		}
		out = out.Union(r.oracle.ReachingObjects(e, l.To))
	}
	return out
}
