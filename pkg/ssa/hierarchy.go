package ssa

import (
	"cmp"
	"fmt"
	"go/types"
	"slices"
	"sync"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/715d/looptrace/internal/analysis"
	"github.com/715d/looptrace/pkg/program"
)

// classTable interns classes. A class is live once some value may have it at
// run time; only live classes implement interfaces.
type classTable struct {
	names *analysis.NameCache

	mu      sync.Mutex
	classes []*program.Class
	types   []types.Type // by class ID, nil for function classes
	live    []bool
	byType  typeutil.Map
	byName  map[string]*program.Class
	byFunc  map[*ssa.Function]*program.Class
}

func newClassTable(p *Program) *classTable {
	return &classTable{
		names:  p.names,
		byName: make(map[string]*program.Class),
		byFunc: make(map[*ssa.Function]*program.Class),
	}
}

// seed interns the classes known up front: every concrete type converted to
// an interface, every named type of the application and its pointer, and the
// class of every function used as a value. Interning them in name order keeps
// class IDs stable from run to run.
func (t *classTable) seed(p *Program, idx *typeIndex, application func(*ssa.Package) bool) {
	for _, typ := range idx.concrete {
		t.intern(typ, true)
	}
	for _, pkg := range p.prog.AllPackages() {
		if !application(pkg) {
			continue
		}
		for _, member := range sortedMembers(pkg) {
			typ, ok := member.(*ssa.Type)
			if !ok {
				continue
			}
			named, ok := typ.Type().(*types.Named)
			if !ok || named.TypeParams().Len() > 0 {
				continue
			}
			t.intern(named, true)
			if !types.IsInterface(named) {
				t.intern(types.NewPointer(named), true)
			}
		}
	}
	for _, fn := range idx.taken {
		p.funcClass(fn)
	}
	for id, fn := range p.funcs {
		if recv := fn.Signature.Recv(); recv != nil {
			p.methods[id].Class = t.intern(recv.Type(), false)
		}
	}
}

func sortedMembers(pkg *ssa.Package) []ssa.Member {
	out := make([]ssa.Member, 0, len(pkg.Members))
	for _, m := range pkg.Members {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b ssa.Member) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

func (t *classTable) intern(typ types.Type, live bool) *program.Class {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byType.At(typ).(*program.Class); ok {
		t.live[c.ID] = t.live[c.ID] || live
		return c
	}
	c := &program.Class{
		ID:        len(t.classes),
		Name:      t.names.TypeName(typ),
		Interface: types.IsInterface(typ),
	}
	t.add(c, typ, live)
	t.byType.Set(typ, c)
	return c
}

func (t *classTable) add(c *program.Class, typ types.Type, live bool) {
	t.classes = append(t.classes, c)
	t.types = append(t.types, typ)
	t.live = append(t.live, live)
	if _, dup := t.byName[c.Name]; !dup {
		t.byName[c.Name] = c
	}
}

func (t *classTable) typeOf(c *program.Class) types.Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c.ID >= len(t.types) || t.classes[c.ID] != c {
		return nil
	}
	return t.types[c.ID]
}

func (t *classTable) lookup(name string) (*program.Class, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byName[name]
	return c, ok
}

// snapshot returns the live concrete classes and their types.
func (t *classTable) snapshot() ([]*program.Class, []types.Type) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var classes []*program.Class
	var typs []types.Type
	for i, c := range t.classes {
		if !t.live[i] || c.Interface || t.types[i] == nil {
			continue
		}
		classes = append(classes, c)
		typs = append(typs, t.types[i])
	}
	return classes, typs
}

func (t *classTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.classes)
}

// classFor returns the class of a runtime type. Liveness is fixed when the
// program is built, so oracle queries never change Implementers.
func (p *Program) classFor(typ types.Type) *program.Class {
	return p.classes.intern(typ, false)
}

// funcClass returns the class of a function value whose behavior is calling
// fn, or nil if fn is not part of the program.
func (p *Program) funcClass(fn *ssa.Function) *program.Class {
	m, ok := p.MethodOf(fn)
	if !ok {
		return nil
	}
	t := p.classes
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.byFunc[fn]; ok {
		return c
	}
	c := &program.Class{ID: len(t.classes), Name: "func " + m.Name, Func: m}
	t.add(c, nil, true)
	t.byFunc[fn] = c
	return c
}

// LookupClass finds a class by canonical type name, e.g. "net/http.Handler"
// or "*example.com/app.Worker". Named types of any package in the program
// can be looked up, whether or not a value of that type was seen.
func (p *Program) LookupClass(name string) (*program.Class, bool) {
	if c, ok := p.classes.lookup(name); ok {
		return c, true
	}
	pkgPath, typeName, pointer := analysis.SplitTypeName(name)
	pkg := p.prog.ImportedPackage(pkgPath)
	if pkg == nil {
		return nil, false
	}
	obj, ok := pkg.Pkg.Scope().Lookup(typeName).(*types.TypeName)
	if !ok {
		return nil, false
	}
	typ := obj.Type()
	if pointer {
		typ = types.NewPointer(typ)
	}
	return p.classes.intern(typ, false), true
}

// Implementers returns the live concrete classes implementing iface.
func (p *Program) Implementers(iface *program.Class) []*program.Class {
	typ := p.classes.typeOf(iface)
	if typ == nil {
		return nil
	}
	it, ok := typ.Underlying().(*types.Interface)
	if !ok {
		return nil
	}
	classes, typs := p.classes.snapshot()
	var out []*program.Class
	for i, c := range classes {
		if types.Implements(typs[i], it) {
			out = append(out, c)
		}
	}
	return out
}

func (p *Program) ResolveAbstractDispatch(classes []*program.Class, name string) []*program.Method {
	var out []*program.Method
	for _, c := range classes {
		if m, err := p.Dispatch(c, name); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Dispatch returns the method called name in the method set of the concrete
// class c. The empty name dispatches a function class to its function.
func (p *Program) Dispatch(c *program.Class, name string) (*program.Method, error) {
	if c.Func != nil {
		if name == "" {
			return c.Func, nil
		}
		return nil, &program.DispatchError{Class: c, Signature: name}
	}
	typ := p.classes.typeOf(c)
	if typ == nil || c.Interface || isGeneric(typ) {
		return nil, &program.DispatchError{Class: c, Signature: name}
	}
	mset := p.prog.MethodSets.MethodSet(typ)
	for i := range mset.Len() {
		sel := mset.At(i)
		if sel.Obj().Name() != name {
			continue
		}
		fn := p.prog.MethodValue(sel)
		if fn.Synthetic != "" {
			if m, ok := p.declared(sel); ok {
				return m, nil
			}
		}
		if m, ok := p.MethodOf(fn); ok {
			return m, nil
		}
		return nil, fmt.Errorf("method %s of %s: %w", name, c, &program.DispatchError{Class: c, Signature: name})
	}
	return nil, &program.DispatchError{Class: c, Signature: name}
}

// declared returns the declared method a selection resolves to. The method
// set of *T holds synthetic wrappers for the methods declared on T and for
// promoted methods; dispatch reports the method whose body runs.
func (p *Program) declared(sel *types.Selection) (*program.Method, bool) {
	return p.LookupMethod(p.names.ObjectName(sel.Obj()))
}

func isGeneric(typ types.Type) bool {
	if ptr, ok := typ.(*types.Pointer); ok {
		typ = ptr.Elem()
	}
	named, ok := typ.(*types.Named)
	return ok && named.TypeParams().Len() > 0 && named.TypeArgs().Len() == 0
}
