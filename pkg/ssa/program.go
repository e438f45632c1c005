// Package ssa builds the program model of a Go program from its SSA form.
//
// Methods are SSA functions, statements are basic blocks and call-graph edges
// come from a VTA call graph refined over CHA. Classes are the concrete types
// values may have at run time plus one class per function value, and the
// points-to oracle is a flow-insensitive type-flow analysis over SSA values.
package ssa

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/callgraph/vta"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/715d/looptrace/internal/analysis"
	"github.com/715d/looptrace/pkg/program"
)

// Program is the program model of an SSA program. It is immutable once
// built, apart from internal caches, and safe for concurrent use.
type Program struct {
	prog  *ssa.Program
	names *analysis.NameCache

	methods []*program.Method
	funcs   []*ssa.Function
	ids     map[*ssa.Function]int
	byName  map[string]*program.Method
	mains   []*program.Method

	out    [][]*program.Edge
	in     [][]*program.Edge
	calls  map[*program.Edge]ssa.CallInstruction
	bodies []*program.Body

	classes *classTable
	flow    *typeFlow
}

var _ program.Program = (*Program)(nil)

// Build builds the SSA form of pkgs and their dependencies and returns its
// program model. Application code is the main module's packages.
func Build(pkgs []*packages.Package) (*Program, error) {
	validPkgs := make([]*packages.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg == nil {
			continue
		}
		validPkgs = append(validPkgs, pkg)
	}
	if len(validPkgs) == 0 {
		return nil, errors.New("no valid packages provided")
	}

	prog, _ := ssautil.AllPackages(validPkgs, ssa.InstantiateGenerics)
	if prog == nil {
		return nil, errors.New("SSA program construction failed")
	}
	prog.Build()

	paths := applicationPaths(validPkgs)
	return FromSSA(prog, func(p *ssa.Package) bool {
		return paths[p.Pkg.Path()]
	})
}

// FromSSA returns the program model of a built SSA program. application
// reports whether a package holds application code.
func FromSSA(prog *ssa.Program, application func(*ssa.Package) bool) (*Program, error) {
	if prog == nil {
		return nil, errors.New("nil SSA program")
	}
	funcs := ssautil.AllFunctions(prog)
	cg := vta.CallGraph(funcs, cha.CallGraph(prog))
	for fn := range cg.Nodes {
		if fn != nil {
			funcs[fn] = true
		}
	}

	p := &Program{
		prog:   prog,
		names:  analysis.NewNameCache(),
		ids:    make(map[*ssa.Function]int, len(funcs)),
		byName: make(map[string]*program.Method, len(funcs)),
		calls:  make(map[*program.Edge]ssa.CallInstruction),
	}
	p.addMethods(funcs, application)
	calls := p.addEdges(cg)
	p.addBodies()
	typs := indexTypes(p.funcs)
	p.classes = newClassTable(p)
	p.classes.seed(p, typs, application)
	p.flow = newTypeFlow(calls, typs)

	slog.Debug("built program model",
		"methods", len(p.methods),
		"classes", p.classes.len(),
		"mains", len(p.mains))
	return p, nil
}

func (p *Program) addMethods(funcs map[*ssa.Function]bool, application func(*ssa.Package) bool) {
	p.funcs = make([]*ssa.Function, 0, len(funcs))
	for fn := range funcs {
		p.funcs = append(p.funcs, fn)
	}
	slices.SortFunc(p.funcs, func(a, b *ssa.Function) int {
		return cmp.Or(
			strings.Compare(p.names.FuncName(a), p.names.FuncName(b)),
			cmp.Compare(a.Pos(), b.Pos()),
			strings.Compare(a.Synthetic, b.Synthetic),
		)
	})

	p.methods = make([]*program.Method, len(p.funcs))
	for id, fn := range p.funcs {
		m := &program.Method{
			ID:    id,
			Name:  p.names.FuncName(fn),
			Short: fn.Name(),
		}
		if pkg := p.packageOf(fn); pkg != nil {
			m.Application = application(pkg)
			if m.Application && pkg.Pkg.Name() == "main" && fn.Name() == "main" && fn.Parent() == nil {
				p.mains = append(p.mains, m)
			}
		}
		if pos := fn.Pos(); pos.IsValid() {
			m.Position = p.prog.Fset.Position(pos).String()
		}
		p.methods[id] = m
		p.ids[fn] = id
		if _, dup := p.byName[m.Name]; !dup {
			p.byName[m.Name] = m
		}
	}
}

// packageOf returns the package a function's code belongs to. Wrappers and
// generic instances have no package of their own and belong to the package
// of the function they wrap or instantiate.
func (p *Program) packageOf(fn *ssa.Function) *ssa.Package {
	for fn != nil {
		if fn.Pkg != nil {
			return fn.Pkg
		}
		if obj := fn.Object(); obj != nil && obj.Pkg() != nil {
			return p.prog.Package(obj.Pkg())
		}
		if parent := fn.Parent(); parent != nil {
			fn = parent
			continue
		}
		fn = fn.Origin()
	}
	return nil
}

// callIndex indexes the call graph by call site.
type callIndex struct {
	callees map[ssa.CallInstruction][]*ssa.Function
	callers map[*ssa.Function][]ssa.CallInstruction
}

func (p *Program) addEdges(cg *callgraph.Graph) *callIndex {
	idx := &callIndex{
		callees: make(map[ssa.CallInstruction][]*ssa.Function),
		callers: make(map[*ssa.Function][]ssa.CallInstruction),
	}
	p.out = make([][]*program.Edge, len(p.methods))
	p.in = make([][]*program.Edge, len(p.methods))

	type edgeKey struct {
		site   ssa.CallInstruction
		callee *ssa.Function
	}
	for id, fn := range p.funcs {
		node := cg.Nodes[fn]
		if node == nil {
			continue
		}
		order := instructionOrder(fn)
		seen := make(map[edgeKey]bool, len(node.Out))
		var out []*program.Edge
		for _, ce := range node.Out {
			if ce.Site == nil || ce.Callee == nil || ce.Callee.Func == nil {
				continue
			}
			k := edgeKey{ce.Site, ce.Callee.Func}
			if seen[k] {
				continue
			}
			seen[k] = true
			calleeID, ok := p.ids[ce.Callee.Func]
			if !ok {
				continue
			}
			e := &program.Edge{
				Caller: p.methods[id],
				Site:   ce.Site.Block().Index,
				Callee: p.methods[calleeID],
				Static: isInitializer(ce.Callee.Func),
			}
			p.calls[e] = ce.Site
			out = append(out, e)
			idx.callees[ce.Site] = append(idx.callees[ce.Site], ce.Callee.Func)
			idx.callers[ce.Callee.Func] = append(idx.callers[ce.Callee.Func], ce.Site)
		}
		slices.SortFunc(out, func(a, b *program.Edge) int {
			return cmp.Or(
				cmp.Compare(a.Site, b.Site),
				cmp.Compare(order[p.calls[a]], order[p.calls[b]]),
				cmp.Compare(a.Callee.ID, b.Callee.ID),
			)
		})
		p.out[id] = out
		for _, e := range out {
			p.in[e.Callee.ID] = append(p.in[e.Callee.ID], e)
		}
	}
	return idx
}

func instructionOrder(fn *ssa.Function) map[ssa.CallInstruction]int {
	order := make(map[ssa.CallInstruction]int)
	for _, b := range fn.Blocks {
		for i, instr := range b.Instrs {
			if call, ok := instr.(ssa.CallInstruction); ok {
				order[call] = i
			}
		}
	}
	return order
}

// isInitializer reports whether fn is a package initializer: the synthetic
// init function of a package or one of its declared init functions.
func isInitializer(fn *ssa.Function) bool {
	if fn.Parent() != nil || fn.Signature.Recv() != nil {
		return false
	}
	name := fn.Name()
	return (name == "init" && fn.Synthetic != "") || strings.HasPrefix(name, "init#")
}

func (p *Program) addBodies() {
	p.bodies = make([]*program.Body, len(p.funcs))
	for id, fn := range p.funcs {
		if len(fn.Blocks) == 0 {
			continue
		}
		succs := make([][]int, len(fn.Blocks))
		for i, b := range fn.Blocks {
			for _, s := range b.Succs {
				succs[i] = append(succs[i], s.Index)
			}
		}
		p.bodies[id] = program.NewBody(succs)
	}
}

// SSA returns the underlying SSA program.
func (p *Program) SSA() *ssa.Program { return p.prog }

// Func returns the SSA function of m.
func (p *Program) Func(m *program.Method) *ssa.Function { return p.funcs[m.ID] }

// MethodOf returns the method of an SSA function.
func (p *Program) MethodOf(fn *ssa.Function) (*program.Method, bool) {
	id, ok := p.ids[fn]
	if !ok {
		return nil, false
	}
	return p.methods[id], true
}

// Mains returns the main functions of the application's main packages.
func (p *Program) Mains() []*program.Method { return p.mains }

func (p *Program) NumMethods() int { return len(p.methods) }

func (p *Program) Method(id int) *program.Method { return p.methods[id] }

func (p *Program) EdgesOutOf(m *program.Method) []*program.Edge { return p.out[m.ID] }

func (p *Program) EdgesInto(m *program.Method) []*program.Edge { return p.in[m.ID] }

func (p *Program) Body(m *program.Method) *program.Body { return p.bodies[m.ID] }

// LookupMethod finds a method by canonical name.
func (p *Program) LookupMethod(name string) (*program.Method, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// CallSite returns the call instruction of an edge.
func (p *Program) CallSite(e *program.Edge) (ssa.CallInstruction, error) {
	call, ok := p.calls[e]
	if !ok {
		return nil, fmt.Errorf("edge %s does not belong to this program", e)
	}
	return call, nil
}
