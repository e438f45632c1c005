package ssa

import (
	"cmp"
	"go/types"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/715d/looptrace/pkg/program"
)

// typeIndex records where runtime types and function values come from.
type typeIndex struct {
	// concrete holds the concrete types converted to interfaces, in name
	// order.
	concrete []types.Type

	// taken holds the functions used as values, in name order.
	taken []*ssa.Function

	closures map[*ssa.Function][]*ssa.MakeClosure
}

func indexTypes(funcs []*ssa.Function) *typeIndex {
	idx := &typeIndex{closures: make(map[*ssa.Function][]*ssa.MakeClosure)}
	var concrete typeutil.Map
	taken := make(map[*ssa.Function]bool)

	for _, fn := range funcs {
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				switch instr := instr.(type) {
				case *ssa.MakeInterface:
					if t := instr.X.Type(); !types.IsInterface(t) {
						concrete.Set(t, true)
					}
				case *ssa.MakeClosure:
					if f, ok := instr.Fn.(*ssa.Function); ok {
						idx.closures[f] = append(idx.closures[f], instr)
					}
				}
				markTaken(instr, taken)
			}
		}
	}

	concrete.Iterate(func(t types.Type, _ any) {
		idx.concrete = append(idx.concrete, t)
	})
	slices.SortFunc(idx.concrete, func(a, b types.Type) int {
		return strings.Compare(a.String(), b.String())
	})
	for fn := range taken {
		idx.taken = append(idx.taken, fn)
	}
	slices.SortFunc(idx.taken, func(a, b *ssa.Function) int {
		return cmp.Or(strings.Compare(a.String(), b.String()), cmp.Compare(a.Pos(), b.Pos()))
	})
	return idx
}

// markTaken records the functions instr uses as values rather than calls
// directly.
func markTaken(instr ssa.Instruction, taken map[*ssa.Function]bool) {
	var callee *ssa.Value
	if call, ok := instr.(ssa.CallInstruction); ok && !call.Common().IsInvoke() {
		callee = &call.Common().Value
	}
	for _, op := range instr.Operands(nil) {
		if op == callee || op == nil {
			continue
		}
		if fn, ok := (*op).(*ssa.Function); ok {
			taken[fn] = true
		}
	}
}

// absObj is an abstract object: a value of a concrete type, or a function
// value.
type absObj struct {
	typ types.Type
	fn  *ssa.Function
}

// typeFlow approximates the runtime types an SSA value may hold. It follows
// values through interface conversions, phis, calls, returns and closure
// bindings. Where values go through memory it falls back to the static type:
// every known concrete type implementing an interface type, every function
// value of a signature.
type typeFlow struct {
	calls   *callIndex
	typs    *typeIndex
	returns *xsync.Map[*ssa.Function, []*ssa.Return]
	memo    *xsync.Map[ssa.Value, []absObj]
}

func newTypeFlow(calls *callIndex, typs *typeIndex) *typeFlow {
	return &typeFlow{
		calls:   calls,
		typs:    typs,
		returns: xsync.NewMap[*ssa.Function, []*ssa.Return](),
		memo:    xsync.NewMap[ssa.Value, []absObj](),
	}
}

func (f *typeFlow) objects(v ssa.Value) []absObj {
	if objs, ok := f.memo.Load(v); ok {
		return objs
	}
	q := &flowQuery{f: f, seen: make(map[ssa.Value]bool), found: make(map[absObj]bool)}
	q.visit(v)
	actual, _ := f.memo.LoadOrStore(v, q.out)
	return actual
}

func (f *typeFlow) returnsOf(fn *ssa.Function) []*ssa.Return {
	if rets, ok := f.returns.Load(fn); ok {
		return rets
	}
	var rets []*ssa.Return
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		if ret, ok := b.Instrs[len(b.Instrs)-1].(*ssa.Return); ok {
			rets = append(rets, ret)
		}
	}
	actual, _ := f.returns.LoadOrStore(fn, rets)
	return actual
}

type flowQuery struct {
	f     *typeFlow
	seen  map[ssa.Value]bool
	found map[absObj]bool
	out   []absObj
}

func (q *flowQuery) add(o absObj) {
	if q.found[o] {
		return
	}
	q.found[o] = true
	q.out = append(q.out, o)
}

func (q *flowQuery) visit(v ssa.Value) {
	if v == nil || q.seen[v] {
		return
	}
	q.seen[v] = true

	switch v := v.(type) {
	case *ssa.MakeInterface:
		if _, ok := v.X.Type().(*types.Signature); ok {
			q.visit(v.X)
		} else {
			q.add(absObj{typ: v.X.Type()})
		}
	case *ssa.ChangeInterface:
		q.visit(v.X)
	case *ssa.ChangeType:
		q.visit(v.X)
	case *ssa.TypeAssert:
		if types.IsInterface(v.AssertedType) {
			q.visit(v.X)
		} else {
			q.add(absObj{typ: v.AssertedType})
		}
	case *ssa.Phi:
		for _, e := range v.Edges {
			q.visit(e)
		}
	case *ssa.Function:
		q.add(absObj{fn: v})
	case *ssa.MakeClosure:
		if fn, ok := v.Fn.(*ssa.Function); ok {
			q.add(absObj{fn: fn})
		}
	case *ssa.Alloc:
		q.add(absObj{typ: v.Type()})
	case *ssa.Const:
		if !v.IsNil() {
			q.addStatic(v.Type())
		}
	case *ssa.Parameter:
		q.visitParameter(v)
	case *ssa.FreeVar:
		q.visitFreeVar(v)
	case *ssa.Call:
		if v.Common().Signature().Results().Len() == 1 {
			q.visitResults(v, 0)
		}
	case *ssa.Extract:
		if call, ok := v.Tuple.(*ssa.Call); ok {
			q.visitResults(call, v.Index)
		} else {
			q.addStatic(v.Type())
		}
	default:
		q.addStatic(v.Type())
	}
}

// visitParameter follows the arguments of every known call to the
// parameter's function. Parameters of functions only called from code
// without a body fall back to their static type.
func (q *flowQuery) visitParameter(p *ssa.Parameter) {
	fn := p.Parent()
	i := slices.Index(fn.Params, p)
	sites := q.f.calls.callers[fn]
	if len(sites) == 0 || i < 0 {
		q.addStatic(p.Type())
		return
	}
	for _, site := range sites {
		if args := callArgs(site.Common()); i < len(args) {
			q.visit(args[i])
		}
	}
}

func (q *flowQuery) visitFreeVar(fv *ssa.FreeVar) {
	fn := fv.Parent()
	i := slices.Index(fn.FreeVars, fv)
	closures := q.f.typs.closures[fn]
	if len(closures) == 0 || i < 0 {
		q.addStatic(fv.Type())
		return
	}
	for _, mc := range closures {
		if i < len(mc.Bindings) {
			q.visit(mc.Bindings[i])
		}
	}
}

// visitResults follows result index of every callee of call.
func (q *flowQuery) visitResults(call *ssa.Call, index int) {
	results := call.Common().Signature().Results()
	callees := q.f.calls.callees[call]
	if len(callees) == 0 {
		q.addStatic(results.At(index).Type())
		return
	}
	for _, fn := range callees {
		if len(fn.Blocks) == 0 {
			q.addStatic(results.At(index).Type())
			continue
		}
		for _, ret := range q.f.returnsOf(fn) {
			if index < len(ret.Results) {
				q.visit(ret.Results[index])
			}
		}
	}
}

func (q *flowQuery) addStatic(t types.Type) {
	switch u := t.Underlying().(type) {
	case *types.Interface:
		for _, ct := range q.f.typs.concrete {
			if types.Implements(ct, u) {
				q.add(absObj{typ: ct})
			}
		}
	case *types.Signature:
		if _, named := types.Unalias(t).(*types.Named); named {
			q.add(absObj{typ: t})
			return
		}
		for _, fn := range q.f.typs.taken {
			if types.Identical(fn.Signature, u) {
				q.add(absObj{fn: fn})
			}
		}
	case *types.Basic:
	default:
		q.add(absObj{typ: t})
	}
}

// callArgs returns the arguments of a call with the receiver of an interface
// method call in front, so that index 0 is always the receiver of a method.
func callArgs(common *ssa.CallCommon) []ssa.Value {
	if common.IsInvoke() {
		return append([]ssa.Value{common.Value}, common.Args...)
	}
	return common.Args
}

// ReachingObjects returns the objects that may be passed as argument arg at
// the call site of e. Objects are identified by their runtime type.
func (p *Program) ReachingObjects(e *program.Edge, arg int) program.ObjectSet {
	out := program.ObjectSet{}
	call, ok := p.calls[e]
	if !ok {
		return out
	}

	var v ssa.Value
	if arg == program.ArgResult {
		if c := call.Value(); c != nil {
			v = c
		}
	} else if args := callArgs(call.Common()); arg >= 0 && arg < len(args) {
		v = args[arg]
	}
	if v == nil {
		return out
	}

	for _, o := range p.flow.objects(v) {
		var c *program.Class
		if o.fn != nil {
			c = p.funcClass(o.fn)
		} else {
			c = p.classFor(o.typ)
		}
		if c != nil {
			out.Add(program.Object{Site: c.Name, Class: c})
		}
	}
	return out
}
