// Package program defines the program model consumed by the analysis engine:
// methods, classes, call-graph edges, method bodies and the points-to oracle.
//
// The engine never attaches state to these values. Everything it memoizes is
// kept in arenas indexed by Method.ID or by statement index, so a single
// Program can be shared by concurrent analyses.
package program

import "fmt"

// ArgResult is the argument index that denotes the value produced by a call
// rather than one of its operands.
const ArgResult = -1

// Method is a function or method of the analyzed program.
type Method struct {
	// ID is dense and stable in [0, NumMethods).
	ID int

	// Name is the canonical name, e.g. "(*net/http.ServeMux).Handle".
	Name string

	// Short is the bare method or function name used for dispatch.
	Short string

	// Class is the declaring class, or nil for package-level functions.
	Class *Class

	// Application reports whether the method belongs to the analyzed
	// application rather than to a library or the platform.
	Application bool

	// Position is a human readable source position, possibly empty.
	Position string
}

func (m *Method) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}

// Class is a runtime type that values may have.
type Class struct {
	ID        int
	Name      string
	Interface bool

	// Func is set for the synthetic class of a function value. Dispatching
	// the empty signature on such a class yields Func itself.
	Func *Method
}

func (c *Class) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.Name
}

// Edge is a call-graph edge from a call site in Caller to Callee.
type Edge struct {
	Caller *Method

	// Site is the statement index of the call in Caller's body, or -1.
	Site int

	Callee *Method

	// Static marks edges into static (package) initializers. Such edges never
	// close a cycle.
	Static bool
}

func (e *Edge) String() string {
	if e == nil {
		return "<root>"
	}
	return fmt.Sprintf("%s -> %s", e.Caller, e.Callee)
}

// Body is the local control-flow graph of a method. Statements are numbered
// densely from zero.
type Body struct {
	succs [][]int
}

// NewBody creates a body whose statement i flows to succs[i].
func NewBody(succs [][]int) *Body {
	return &Body{succs: succs}
}

// Len returns the number of statements.
func (b *Body) Len() int { return len(b.succs) }

// Succs returns the control-flow successors of statement i.
func (b *Body) Succs(i int) []int { return b.succs[i] }

// CallGraph is the supplied call graph.
type CallGraph interface {
	NumMethods() int
	Method(id int) *Method
	EdgesOutOf(m *Method) []*Edge
	EdgesInto(m *Method) []*Edge
}

// Hierarchy answers class hierarchy and dispatch queries.
type Hierarchy interface {
	LookupClass(name string) (*Class, bool)
	LookupMethod(name string) (*Method, bool)

	// Implementers returns the concrete classes implementing iface.
	Implementers(iface *Class) []*Class

	// ResolveAbstractDispatch returns the implementations of the method
	// called name for each class that has one.
	ResolveAbstractDispatch(classes []*Class, name string) []*Method

	// Dispatch returns the implementation of name on the concrete class c.
	Dispatch(c *Class, name string) (*Method, error)
}

// Bodies gives access to method bodies.
type Bodies interface {
	// Body returns nil for methods without a body.
	Body(m *Method) *Body
}

// Oracle approximates the objects flowing into call arguments.
type Oracle interface {
	// ReachingObjects returns the objects that may be passed as argument arg
	// at the call site of e. Receivers are argument 0; ArgResult denotes the
	// call's result.
	ReachingObjects(e *Edge, arg int) ObjectSet
}

// Program bundles everything the engine consumes.
type Program interface {
	CallGraph
	Hierarchy
	Bodies
	Oracle
}

// DispatchError is returned by Hierarchy.Dispatch when a class does not
// implement the requested signature.
type DispatchError struct {
	Class     *Class
	Signature string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("class %s does not declare %q", e.Class, e.Signature)
}
